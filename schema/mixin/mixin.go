package mixin

import (
	"context"
	"fmt"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/schema/field"
)

// Schema is the default implementation for the tessera.Mixin interface.
// It should be embedded in all custom mixin definitions.
//
// Example:
//
//	type MyMixin struct {
//	    mixin.Schema
//	}
//
//	func (MyMixin) Fields() []tessera.Field {
//	    return []tessera.Field{
//	        field.String("custom_field"),
//	    }
//	}
type Schema struct{}

// Fields returns the fields of the mixin.
// Override this method to add custom fields.
func (Schema) Fields() []tessera.Field { return nil }

// Edges returns the edges of the mixin.
// Override this method to add custom associations.
func (Schema) Edges() []tessera.Edge { return nil }

// Hooks returns the hooks of the mixin.
// Override this method to add lifecycle hooks.
func (Schema) Hooks() []tessera.Hook { return nil }

// schema mixin must implement `Mixin` interface.
var _ tessera.Mixin = (*Schema)(nil)

// CreateTime adds an immutable created_at field, set to the current time of
// the unit of work that creates the entity. Sessions opened at a historical
// time therefore stamp entities with that time.
type CreateTime struct {
	Schema
}

// Fields returns the created_at field.
func (CreateTime) Fields() []tessera.Field {
	return []tessera.Field{
		field.Time("created_at").
			Immutable().
			Comment("Time the entity was created"),
	}
}

// Hooks returns the hook stamping created_at.
func (CreateTime) Hooks() []tessera.Hook {
	return []tessera.Hook{
		tessera.OnCreate("create_time", func(_ context.Context, e tessera.Entity) error {
			return e.SetValue("created_at", e.CurrentTime())
		}),
	}
}

// ImmutableFields wraps a mixin and marks all its fields immutable.
//
// Example:
//
//	mixin.ImmutableFields(AddressMixin{})
func ImmutableFields(m tessera.Mixin) tessera.Mixin {
	return immutableFields{Mixin: m}
}

type immutableFields struct {
	tessera.Mixin
}

func (m immutableFields) Fields() []tessera.Field {
	fields := m.Mixin.Fields()
	for i := range fields {
		fields[i].Descriptor().Immutable = true
	}
	return fields
}

// WithHooks wraps a mixin and appends hooks after its own.
func WithHooks(m tessera.Mixin, hooks ...tessera.Hook) tessera.Mixin {
	return withHooks{Mixin: m, hooks: hooks}
}

type withHooks struct {
	tessera.Mixin
	hooks []tessera.Hook
}

func (m withHooks) Hooks() []tessera.Hook {
	return append(m.Mixin.Hooks(), m.hooks...)
}

// Name returns a printable name for the mixin, used in assembly errors.
func Name(m tessera.Mixin) string {
	switch m := m.(type) {
	case immutableFields:
		return "ImmutableFields(" + Name(m.Mixin) + ")"
	case withHooks:
		return "WithHooks(" + Name(m.Mixin) + ")"
	}
	return fmt.Sprintf("%T", m)
}
