// Package sql implements dialect.Driver on top of database/sql.
//
// Connections are opened per dialect through the matching registered
// database/sql driver:
//
//	dialect.Postgres  jackc/pgx/v5/stdlib ("pgx")
//	dialect.MySQL     go-sql-driver/mysql ("mysql")
//	dialect.SQLite    modernc.org/sqlite ("sqlite")
//
// Programs import the driver package they need, then open the database:
//
//	import _ "modernc.org/sqlite"
//
//	drv, err := sql.Open(dialect.SQLite, "file:entities.db?_pragma=busy_timeout(5000)")
//
// Statements are written with '?' placeholders and passed through Rebind,
// identifiers through Quote:
//
//	q := sql.Rebind(drv.Dialect(), "SELECT version FROM "+sql.Quote(drv.Dialect(), "t")+" WHERE id = ?")
//
// # Statistics
//
// StatsDriver counts statements, errors and finished transactions, and logs
// statements slower than a threshold:
//
//	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(200*time.Millisecond))
//	snapshot := stats.QueryStats().Snapshot()
package sql
