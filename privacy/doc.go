// Package privacy provides rules authorizing the changes submitted by a
// unit of work, and their evaluation at completion.
//
// A Policy is an ordered list of rules. Each rule returns one of three
// decisions:
//
//   - Allow: authorizes the change and stops evaluation
//   - Deny: rejects the change and stops evaluation
//   - Skip: abstains, evaluation continues with the next rule
//
// A change every rule skips is authorized; end a policy with
// AlwaysDenyRule to deny by default.
//
//	f, err := unitofwork.NewFactory(g, s, unitofwork.WithPolicy(privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.OnTypes(privacy.TenantRule("tenant_id"), "Invoice"),
//	    privacy.AllowOpRule(unitofwork.OpCreate),
//	    privacy.AlwaysDenyRule(),
//	}))
//
// The acting user is carried by the context:
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID:   "user-123",
//	    Roles:    []string{"user"},
//	    TenantID: "acme",
//	})
//	err = uow.Complete(ctx)
//
// A denied change fails the completion with a *DenyError naming the
// entity and the operation; the unit of work stays open.
package privacy
