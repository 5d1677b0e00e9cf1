package unitofwork

import (
	"context"
	"fmt"
)

// Op is the kind of change an entity undergoes on completion.
type Op uint8

// Change operations.
const (
	OpCreate Op = iota + 1
	OpUpdate
	OpRemove
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("Op(%d)", op)
	}
}

// Change is one entity change submitted by a completion.
type Change struct {
	Op     Op
	Entity *Entity
}

// Value returns the submitted value of a property. It reads removed
// entities too, which Entity.Value refuses.
func (c Change) Value(name string) (any, bool) {
	v, ok := c.Entity.state.Properties[name]
	return v, ok && v != nil
}

// Policy authorizes changes before they are submitted to the store. A
// non-nil error rejects the change and fails the completion; the session
// stays open.
type Policy interface {
	EvalChange(ctx context.Context, c Change) error
}

// PolicyFunc adapts a function to a Policy.
type PolicyFunc func(context.Context, Change) error

// EvalChange implements Policy.
func (f PolicyFunc) EvalChange(ctx context.Context, c Change) error { return f(ctx, c) }
