package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/tessera/unitofwork"
)

// Viewer represents the authenticated user completing a unit of work.
// This interface should be implemented by application-specific user types.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier, or the empty
	// string outside of multi-tenant applications.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule that denies every change if no viewer is
// present in the context. It is typically the first rule of a policy.
func DenyIfNoViewer() ChangeRule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("tessera/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows the change if the viewer has the
// specified role, and skips otherwise.
func HasRole(role string) ChangeRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows the change if the viewer has any
// of the specified roles, and skips otherwise.
func HasAnyRole(roles ...string) ChangeRule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a rule that allows the change if the given property of
// the entity holds the viewer's ID.
//
//	privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.IsOwner("owner"),
//	    privacy.AlwaysDenyRule(),
//	}
func IsOwner(property string) ChangeRule {
	return ChangeRuleFunc(func(ctx context.Context, c unitofwork.Change) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		value, ok := c.Value(property)
		if !ok {
			return Skip
		}
		if stringify(value) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule returns a rule isolating tenants: a change to an entity whose
// property holds another tenant than the viewer's is denied. It skips
// when the viewer or the entity carries no tenant.
func TenantRule(property string) ChangeRule {
	return ChangeRuleFunc(func(ctx context.Context, c unitofwork.Change) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		value, ok := c.Value(property)
		if !ok {
			return Skip
		}
		if stringify(value) != viewer.GetTenantID() {
			return Denyf("tessera/privacy: tenant mismatch")
		}
		return Skip
	})
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
