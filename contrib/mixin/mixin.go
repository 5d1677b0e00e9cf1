// Package mixin provides common mixin implementations for tessera schemas.
//
// These mixins are OPTIONAL and provided as convenient starting points.
// Users are encouraged to create their own mixins tailored to their needs.
//
// Available mixins:
//   - Audit: Adds created_by, stamped from the unit of work's usecase
//   - TenantID: Adds an immutable tenant_id field for multi-tenancy
//   - Lock: Adds a locked flag that refuses removal while set
//
// Usage:
//
//	import "github.com/syssam/tessera/contrib/mixin"
//
//	func (Order) Mixin() []tessera.Mixin {
//	    return []tessera.Mixin{
//	        mixin.Audit{},
//	        mixin.TenantID{},
//	    }
//	}
package mixin

import (
	"context"
	"errors"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/schema/mixin"
)

// ActorKey is the usecase metadata key holding the acting principal.
const ActorKey = "actor"

// Audit adds an immutable created_by field. It is set on creation from the
// "actor" metadata of the unit of work's usecase, falling back to the
// usecase name.
type Audit struct{ mixin.Schema }

// Fields of the audit mixin.
func (Audit) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("created_by").
			Immutable().
			NotEmpty(),
	}
}

// Hooks of the audit mixin.
func (Audit) Hooks() []tessera.Hook {
	return []tessera.Hook{
		tessera.OnCreate("audit", func(_ context.Context, e tessera.Entity) error {
			u := e.Usecase()
			actor := u.Metadata[ActorKey]
			if actor == "" {
				actor = u.Name
			}
			return e.SetValue("created_by", actor)
		}),
	}
}

// audit mixin must implement `Mixin` interface.
var _ tessera.Mixin = (*Audit)(nil)

// TenantID adds a tenant_id field for multi-tenancy support.
// Combined with privacy.TenantRule, this enables tenant isolation of
// completed changes.
//
// The field is immutable to prevent moving entities between tenants.
type TenantID struct{ mixin.Schema }

// Fields of the TenantID mixin.
func (TenantID) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("tenant_id").
			Immutable().
			NotEmpty(),
	}
}

// tenant id mixin must implement `Mixin` interface.
var _ tessera.Mixin = (*TenantID)(nil)

// ErrLocked is returned by the Lock mixin when removing a locked entity.
var ErrLocked = errors.New("entity is locked")

// Lock adds a locked flag. Removing an entity whose flag is set fails with
// a lifecycle error wrapping ErrLocked, which also aborts the removal of
// any aggregate owning it.
type Lock struct{ mixin.Schema }

// Fields of the Lock mixin.
func (Lock) Fields() []tessera.Field {
	return []tessera.Field{
		field.Bool("locked").Default(false),
	}
}

// Hooks of the Lock mixin.
func (Lock) Hooks() []tessera.Hook {
	return []tessera.Hook{
		tessera.OnRemove("lock", func(_ context.Context, e tessera.Entity) error {
			v, err := e.Value("locked")
			if err != nil {
				return err
			}
			if locked, _ := v.(bool); locked {
				return ErrLocked
			}
			return nil
		}),
	}
}

// lock mixin must implement `Mixin` interface.
var _ tessera.Mixin = (*Lock)(nil)
