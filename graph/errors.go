package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSchema indicates a schema definition error.
var ErrInvalidSchema = errors.New("tessera/graph: invalid schema")

// SchemaError represents a schema definition error.
type SchemaError struct {
	Type     string // Entity type name
	Accessor string // Field or association name (if applicable)
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("tessera/graph: schema error")
	if e.Type != "" {
		b.WriteString(" on type ")
		b.WriteString(e.Type)
	}
	if e.Accessor != "" {
		b.WriteString(" accessor ")
		b.WriteString(e.Accessor)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches the sentinel error for SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(typeName, accessor, message string, cause error) *SchemaError {
	return &SchemaError{
		Type:     typeName,
		Accessor: accessor,
		Message:  message,
		Cause:    cause,
	}
}

// AssemblyError collects every schema error found while binding a graph.
// It is fatal: a graph that fails to assemble cannot be used.
type AssemblyError struct {
	Errors []*SchemaError
}

// Error implements the error interface.
func (e *AssemblyError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "tessera/graph: %d schema errors:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the schema errors.
func (e *AssemblyError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

func newAssemblyError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	ae := &AssemblyError{}
	for _, err := range errs {
		var se *SchemaError
		if !errors.As(err, &se) {
			se = NewSchemaError("", "", "", err)
		}
		ae.Errors = append(ae.Errors, se)
	}
	return ae
}
