// Package tessera is a unit-of-work engine for domain entities.
//
// Entity types are declared as Go schemas, bound once into an entity model
// (package graph) and then manipulated inside short-lived sessions (package
// unitofwork). A session keeps an identity map of the entities it touched,
// runs lifecycle hooks on creation and removal, checks constraints and hands
// every pending change to a pluggable entity store (package store) which
// applies the batch atomically under optimistic concurrency control.
//
// Declaring a type:
//
//	type Order struct{ tessera.Schema }
//
//	func (Order) Fields() []tessera.Field {
//	    return []tessera.Field{
//	        field.String("number").NotEmpty().Immutable(),
//	        field.Float("total").NonNegative(),
//	    }
//	}
//
//	func (Order) Edges() []tessera.Edge {
//	    return []tessera.Edge{
//	        edge.To("customer", Customer.Type).Unique().Required(),
//	        edge.To("lines", OrderLine.Type).Aggregated(),
//	    }
//	}
package tessera

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/tessera/schema/edge"
	"github.com/syssam/tessera/schema/field"
)

type (
	// Interface is the interface implemented by every entity schema.
	// Schemas embed Schema and override the methods they need.
	Interface interface {
		// Type is a dummy method used as a method expression when
		// declaring associations: edge.To("owner", User.Type).
		Type()
		// Fields returns the properties of the type.
		Fields() []Field
		// Edges returns the associations of the type.
		Edges() []Edge
		// Mixin returns the reusable units mixed into the type.
		Mixin() []Mixin
		// Hooks returns the lifecycle hooks of the type.
		Hooks() []Hook
		// Config returns optional type configuration.
		Config() Config
	}

	// A Field is a property builder, such as field.String("name").
	Field interface {
		Descriptor() *field.Descriptor
	}

	// An Edge is an association builder, such as edge.To("lines", Line.Type).
	Edge interface {
		Descriptor() *edge.Descriptor
	}

	// Mixin is a reusable unit of fields, edges and hooks that can be
	// mixed into several schemas.
	Mixin interface {
		Fields() []Field
		Edges() []Edge
		Hooks() []Hook
	}

	// Config holds type level configuration.
	Config struct {
		// Name overrides the type name derived from the Go struct name.
		Name string
	}
)

// Schema is the default implementation of Interface.
type Schema struct {
	Interface
}

// Type is used as a method expression for association targets.
func (Schema) Type() {}

// Fields of the schema.
func (Schema) Fields() []Field { return nil }

// Edges of the schema.
func (Schema) Edges() []Edge { return nil }

// Mixin of the schema.
func (Schema) Mixin() []Mixin { return nil }

// Hooks of the schema.
func (Schema) Hooks() []Hook { return nil }

// Config of the schema.
func (Schema) Config() Config { return Config{} }

// Entity is the view of an entity handed to lifecycle hooks.
type Entity interface {
	// Reference returns the identity of the entity.
	Reference() Reference
	// Value returns the current value of a property.
	Value(name string) (any, error)
	// SetValue sets a property. Immutable properties can only be set
	// while the entity is new.
	SetValue(name string, v any) error
	// CurrentTime is the logical time of the owning unit of work.
	CurrentTime() time.Time
	// Usecase of the owning unit of work.
	Usecase() Usecase
}

// HookFunc is a lifecycle function invoked on creation or removal.
type HookFunc func(context.Context, Entity) error

// Hook is a named lifecycle behavior. A nil function means the hook
// does not react to that transition.
type Hook struct {
	Name     string
	OnCreate HookFunc
	OnRemove HookFunc
}

// OnCreate returns a hook reacting only to entity creation.
func OnCreate(name string, fn HookFunc) Hook {
	return Hook{Name: name, OnCreate: fn}
}

// OnRemove returns a hook reacting only to entity removal.
func OnRemove(name string, fn HookFunc) Hook {
	return Hook{Name: name, OnRemove: fn}
}

// Usecase describes what a unit of work is for. Stores may use it for
// auditing or to pick a consistency level.
type Usecase struct {
	Name     string
	Metadata map[string]string
}

// DefaultUsecase is used when a unit of work is created without one.
var DefaultUsecase = Usecase{Name: "default"}

// String returns the usecase name.
func (u Usecase) String() string { return u.Name }

// IdentityGenerator produces identities for entities created without one.
type IdentityGenerator interface {
	Generate(typeName string) string
}

// IdentityGeneratorFunc adapts an ordinary function to IdentityGenerator.
type IdentityGeneratorFunc func(typeName string) string

// Generate returns f(typeName).
func (f IdentityGeneratorFunc) Generate(typeName string) string { return f(typeName) }

// UUIDGenerator generates random (version 4) UUIDs.
type UUIDGenerator struct{}

// Generate returns a new random UUID string.
func (UUIDGenerator) Generate(string) string { return uuid.NewString() }

var _ IdentityGenerator = UUIDGenerator{}
