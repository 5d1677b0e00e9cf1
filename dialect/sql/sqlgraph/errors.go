// Package sqlgraph classifies the errors returned by SQL drivers.
package sqlgraph

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ConstraintError wraps a driver error caused by a database constraint.
type ConstraintError struct {
	msg  string
	wrap error
}

// NewConstraintError returns a ConstraintError wrapping err.
func NewConstraintError(msg string, err error) *ConstraintError {
	return &ConstraintError{msg: msg, wrap: err}
}

// Error implements the error interface.
func (e *ConstraintError) Error() string { return "sqlgraph: " + e.msg }

// Unwrap implements the errors.Wrapper interface.
func (e *ConstraintError) Unwrap() error { return e.wrap }

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// sqlStateError is implemented by pgx (*pgconn.PgError).
type sqlStateError interface {
	SQLState() string
}

// errorNumberer is implemented by MySQL compatible drivers exposing their
// error number.
type errorNumberer interface {
	Number() uint16
}

// violation describes how each driver reports one kind of constraint
// violation: a Postgres SQLSTATE, MySQL error numbers and, for drivers
// without structured errors (modernc.org/sqlite), message fragments.
type violation struct {
	sqlState string
	mysql    []uint16
	messages []string
}

var (
	unique = violation{
		sqlState: "23505",
		mysql:    []uint16{1062},
		messages: []string{"Error 1062", "violates unique constraint", "UNIQUE constraint failed"},
	}
	foreignKey = violation{
		sqlState: "23503",
		mysql:    []uint16{1451, 1452},
		messages: []string{"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"},
	}
	check = violation{
		sqlState: "23514",
		mysql:    []uint16{3819},
		messages: []string{"Error 3819", "violates check constraint", "CHECK constraint failed"},
	}
)

func (v violation) match(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == v.sqlState {
		return true
	}
	if e, ok := asError[*pq.Error](err); ok && string(e.Code) == v.sqlState {
		return true
	}
	if e, ok := asError[*mysql.MySQLError](err); ok && v.mysqlNumber(e.Number) {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok && v.mysqlNumber(e.Number()) {
		return true
	}
	msg := err.Error()
	for _, m := range v.messages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (v violation) mysqlNumber(n uint16) bool {
	for _, m := range v.mysql {
		if m == n {
			return true
		}
	}
	return false
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool { return unique.match(err) }

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool { return foreignKey.match(err) }

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool { return check.match(err) }

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}
