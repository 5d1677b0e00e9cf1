// Package mixin provides the base mixin implementation for tessera schemas.
//
// A mixin is a reusable set of fields, associations and lifecycle hooks
// that can be mixed into several schema definitions. Hooks declared by
// mixins run before the hooks of the schema itself, in mixin order.
//
// To create a custom mixin, embed Schema and override the methods you need:
//
//	type Audit struct {
//	    mixin.Schema
//	}
//
//	func (Audit) Fields() []tessera.Field {
//	    return []tessera.Field{
//	        field.String("created_by").Immutable(),
//	    }
//	}
//
//	func (Audit) Hooks() []tessera.Hook {
//	    return []tessera.Hook{
//	        tessera.OnCreate("audit", func(ctx context.Context, e tessera.Entity) error {
//	            return e.SetValue("created_by", e.Usecase().Name)
//	        }),
//	    }
//	}
//
// Using mixins:
//
//	func (Order) Mixin() []tessera.Mixin {
//	    return []tessera.Mixin{
//	        mixin.CreateTime{},
//	        Audit{},
//	    }
//	}
//
// Ready-to-use mixins for auditing, tenancy and removal guards live in the
// contrib/mixin package.
package mixin
