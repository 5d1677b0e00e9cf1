// Package dialect defines the driver abstraction used by the SQL entity
// store.
//
// A Driver executes statements and opens transactions; the dialect name it
// reports selects identifier quoting, placeholders and DDL:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Usage:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//	s, err := sqlstore.New(drv)
//
// The sub-package dialect/sql implements Driver on database/sql and
// dialect/sql/sqlgraph classifies driver errors.
package dialect
