package dialect

import (
	"context"
	"fmt"
	"log/slog"
)

// Dialect names for external usage.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in
	// SQL, INSERT or UPDATE. It scans the result into the pointer v. For
	// SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is
	// *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for the
// entity store.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// Valid reports whether name is a supported dialect.
func Valid(name string) bool {
	switch name {
	case MySQL, SQLite, Postgres:
		return true
	}
	return false
}

// LogDriver is a driver that logs all driver operations.
type LogDriver struct {
	Driver
	log *slog.Logger
}

// Log returns a driver that logs every statement at debug level.
func Log(d Driver, l *slog.Logger) Driver {
	if l == nil {
		l = slog.Default()
	}
	return &LogDriver{d, l}
}

// Exec logs its params and calls the underlying driver Exec method.
func (d *LogDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "driver.Exec", "query", query, "args", fmt.Sprint(args))
	return d.Driver.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying driver Query method.
func (d *LogDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "driver.Query", "query", query, "args", fmt.Sprint(args))
	return d.Driver.Query(ctx, query, args, v)
}

// Tx adds a log-id for the transaction and calls the underlying driver Tx command.
func (d *LogDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	d.log.DebugContext(ctx, "driver.Tx: started")
	return &LogTx{tx, d.log, ctx}, nil
}

// LogTx is a transaction implementation that logs all transaction operations.
type LogTx struct {
	Tx
	log *slog.Logger
	ctx context.Context
}

// Exec logs its params and calls the underlying transaction Exec method.
func (d *LogTx) Exec(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "tx.Exec", "query", query, "args", fmt.Sprint(args))
	return d.Tx.Exec(ctx, query, args, v)
}

// Query logs its params and calls the underlying transaction Query method.
func (d *LogTx) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "tx.Query", "query", query, "args", fmt.Sprint(args))
	return d.Tx.Query(ctx, query, args, v)
}

// Commit logs this step and calls the underlying transaction Commit method.
func (d *LogTx) Commit() error {
	d.log.DebugContext(d.ctx, "tx.Commit")
	return d.Tx.Commit()
}

// Rollback logs this step and calls the underlying transaction Rollback method.
func (d *LogTx) Rollback() error {
	d.log.DebugContext(d.ctx, "tx.Rollback")
	return d.Tx.Rollback()
}
