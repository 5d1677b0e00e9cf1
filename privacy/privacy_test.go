package privacy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/privacy"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/store/memory"
	"github.com/syssam/tessera/unitofwork"
)

type Document struct{ tessera.Schema }

func (Document) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("title").Optional(),
		field.String("owner").NotEmpty(),
		field.String("tenant_id").Optional(),
	}
}

var docs = graph.MustNew(Document{})

// changes returns one change per operation, captured from a real
// completion: d1 updated, d2 created, d3 removed.
func changes(t *testing.T) map[unitofwork.Op]unitofwork.Change {
	t.Helper()
	ctx := context.Background()
	got := make(map[unitofwork.Op]unitofwork.Change)
	f, err := unitofwork.NewFactory(docs, memory.New(), unitofwork.WithPolicy(unitofwork.PolicyFunc(
		func(_ context.Context, c unitofwork.Change) error {
			got[c.Op] = c
			return nil
		},
	)))
	require.NoError(t, err)

	create := func(u *unitofwork.UnitOfWork, id, owner, tenant string) {
		e, err := u.NewEntity(ctx, "Document", id)
		require.NoError(t, err)
		require.NoError(t, e.SetValue("owner", owner))
		require.NoError(t, e.SetValue("tenant_id", tenant))
	}
	u, err := f.NewUnitOfWork(ctx)
	require.NoError(t, err)
	create(u, "d1", "u1", "acme")
	create(u, "d3", "u2", "globex")
	require.NoError(t, u.Complete(ctx))
	clear(got)

	u, err = f.NewUnitOfWork(ctx)
	require.NoError(t, err)
	d1, err := u.GetReference(ctx, tessera.NewReference("Document", "d1"))
	require.NoError(t, err)
	require.NoError(t, d1.SetValue("title", "draft"))
	create(u, "d2", "u1", "acme")
	d3, err := u.GetReference(ctx, tessera.NewReference("Document", "d3"))
	require.NoError(t, err)
	require.NoError(t, u.Remove(ctx, d3))
	require.NoError(t, u.Complete(ctx))
	require.Len(t, got, 3)
	return got
}

func TestDecisionErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want error
		msg  string
	}{
		{privacy.Allowf("admin %s", "u1"), privacy.Allow, "admin u1: tessera/privacy: allow rule"},
		{privacy.Denyf("tenant %d", 7), privacy.Deny, "tenant 7: tessera/privacy: deny rule"},
		{privacy.Skipf("no opinion"), privacy.Skip, "no opinion: tessera/privacy: skip rule"},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.want)
		assert.EqualError(t, tt.err, tt.msg)
	}
}

func TestRules(t *testing.T) {
	t.Parallel()
	cs := changes(t)
	owner := &privacy.SimpleViewer{UserID: "u1", Roles: []string{"user"}, TenantID: "acme"}
	other := &privacy.SimpleViewer{UserID: "u2", Roles: []string{"admin"}, TenantID: "globex"}
	tests := []struct {
		name   string
		rule   privacy.ChangeRule
		viewer privacy.Viewer
		op     unitofwork.Op
		want   error
	}{
		{"AlwaysAllow", privacy.AlwaysAllowRule(), nil, unitofwork.OpCreate, privacy.Allow},
		{"AlwaysDeny", privacy.AlwaysDenyRule(), nil, unitofwork.OpCreate, privacy.Deny},
		{"DenyIfNoViewer", privacy.DenyIfNoViewer(), nil, unitofwork.OpUpdate, privacy.Deny},
		{"DenyIfNoViewerWithViewer", privacy.DenyIfNoViewer(), owner, unitofwork.OpUpdate, privacy.Skip},
		{"HasRole", privacy.HasRole("admin"), other, unitofwork.OpUpdate, privacy.Allow},
		{"HasRoleMissing", privacy.HasRole("admin"), owner, unitofwork.OpUpdate, privacy.Skip},
		{"HasRoleNoViewer", privacy.HasRole("admin"), nil, unitofwork.OpUpdate, privacy.Skip},
		{"HasAnyRole", privacy.HasAnyRole("moderator", "user"), owner, unitofwork.OpUpdate, privacy.Allow},
		{"IsOwner", privacy.IsOwner("owner"), owner, unitofwork.OpUpdate, privacy.Allow},
		{"IsOwnerOther", privacy.IsOwner("owner"), other, unitofwork.OpUpdate, privacy.Skip},
		{"IsOwnerRemoved", privacy.IsOwner("owner"), other, unitofwork.OpRemove, privacy.Allow},
		{"IsOwnerUnset", privacy.IsOwner("title"), owner, unitofwork.OpCreate, privacy.Skip},
		{"TenantSame", privacy.TenantRule("tenant_id"), owner, unitofwork.OpCreate, privacy.Skip},
		{"TenantMismatch", privacy.TenantRule("tenant_id"), other, unitofwork.OpCreate, privacy.Deny},
		{"TenantMismatchRemoved", privacy.TenantRule("tenant_id"), owner, unitofwork.OpRemove, privacy.Deny},
		{"TenantNoViewer", privacy.TenantRule("tenant_id"), nil, unitofwork.OpCreate, privacy.Skip},
		{"OnOps", privacy.OnOps(privacy.AlwaysDenyRule(), unitofwork.OpRemove), nil, unitofwork.OpRemove, privacy.Deny},
		{"OnOpsOther", privacy.OnOps(privacy.AlwaysDenyRule(), unitofwork.OpRemove), nil, unitofwork.OpCreate, privacy.Skip},
		{"OnTypes", privacy.OnTypes(privacy.AlwaysDenyRule(), "Document"), nil, unitofwork.OpCreate, privacy.Deny},
		{"OnTypesOther", privacy.OnTypes(privacy.AlwaysDenyRule(), "Invoice"), nil, unitofwork.OpCreate, privacy.Skip},
		{"DenyOp", privacy.DenyOpRule(unitofwork.OpUpdate), nil, unitofwork.OpUpdate, privacy.Deny},
		{"AllowOp", privacy.AllowOpRule(unitofwork.OpCreate), nil, unitofwork.OpCreate, privacy.Allow},
		{"AllowOpOther", privacy.AllowOpRule(unitofwork.OpCreate), nil, unitofwork.OpRemove, privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			err := tt.rule.EvalChange(ctx, cs[tt.op])
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPolicy(t *testing.T) {
	t.Parallel()
	cs := changes(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		policy privacy.Policy
		denied bool
	}{
		{"Empty", nil, false},
		{"AllSkip", privacy.Policy{privacy.HasRole("admin")}, false},
		{"AllowFirst", privacy.Policy{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}, false},
		{"DenyFirst", privacy.Policy{privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}, true},
		{"NilIsSkip", privacy.Policy{privacy.ContextRule(func(context.Context) error { return nil }), privacy.AlwaysDenyRule()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.policy.EvalChange(ctx, cs[unitofwork.OpUpdate])
			if !tt.denied {
				assert.NoError(t, err)
				return
			}
			var de *privacy.DenyError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tessera.NewReference("Document", "d1"), de.Ref)
			assert.Equal(t, unitofwork.OpUpdate, de.Op)
			assert.ErrorIs(t, err, privacy.Deny)
			assert.EqualError(t, err, "tessera/privacy: update of Document/d1 denied: tessera/privacy: deny rule")
		})
	}

	failed := errors.New("lookup failed")
	err := privacy.Policy{privacy.ContextRule(func(context.Context) error { return failed })}.
		EvalChange(ctx, cs[unitofwork.OpCreate])
	assert.ErrorIs(t, err, failed)
}

func TestPolicies(t *testing.T) {
	t.Parallel()
	cs := changes(t)
	ctx := context.Background()

	allow := privacy.Policy{privacy.AlwaysAllowRule()}
	deny := privacy.Policy{privacy.AlwaysDenyRule()}
	assert.ErrorIs(t, privacy.Policies{allow, deny}.EvalChange(ctx, cs[unitofwork.OpCreate]), privacy.Deny)
	assert.NoError(t, privacy.Policies{privacy.Policy{}, allow}.EvalChange(ctx, cs[unitofwork.OpCreate]))
	assert.ErrorIs(t, privacy.Policies{deny, allow}.EvalChange(ctx, cs[unitofwork.OpCreate]), privacy.Deny)
	assert.NoError(t, privacy.Policies{unitofwork.PolicyFunc(func(context.Context, unitofwork.Change) error {
		return privacy.Allow
	}), deny}.EvalChange(ctx, cs[unitofwork.OpCreate]))
}

func TestDecisionContext(t *testing.T) {
	t.Parallel()
	cs := changes(t)
	ctx := context.Background()

	_, ok := privacy.DecisionFromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, ctx, privacy.DecisionContext(ctx, privacy.Skip))
	assert.Equal(t, ctx, privacy.DecisionContext(ctx, nil))

	allowed := privacy.DecisionContext(ctx, privacy.Allow)
	decision, ok := privacy.DecisionFromContext(allowed)
	assert.True(t, ok)
	assert.NoError(t, decision)
	assert.NoError(t, privacy.Policy{privacy.AlwaysDenyRule()}.EvalChange(allowed, cs[unitofwork.OpRemove]))

	denied := privacy.DecisionContext(ctx, privacy.Denyf("maintenance"))
	err := privacy.Policy{privacy.AlwaysAllowRule()}.EvalChange(denied, cs[unitofwork.OpRemove])
	assert.ErrorIs(t, err, privacy.Deny)
	err = privacy.Policies{privacy.Policy{privacy.AlwaysAllowRule()}}.EvalChange(denied, cs[unitofwork.OpRemove])
	assert.ErrorIs(t, err, privacy.Deny)
}

func TestViewerContext(t *testing.T) {
	t.Parallel()
	assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	v := &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin"}, TenantID: "acme"}
	got := privacy.ViewerFromContext(privacy.WithViewer(context.Background(), v))
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.GetID())
	assert.Equal(t, []string{"admin"}, got.GetRoles())
	assert.Equal(t, "acme", got.GetTenantID())
}

func TestCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, err := unitofwork.NewFactory(docs, memory.New(), unitofwork.WithPolicy(privacy.Policy{
		privacy.DenyIfNoViewer(),
		privacy.TenantRule("tenant_id"),
		privacy.HasRole("admin"),
		privacy.IsOwner("owner"),
		privacy.AlwaysDenyRule(),
	}))
	require.NoError(t, err)

	u, err := f.NewUnitOfWork(ctx)
	require.NoError(t, err)
	t.Cleanup(u.Discard)
	d, err := u.NewEntity(ctx, "Document", "d1")
	require.NoError(t, err)
	require.NoError(t, d.SetValue("owner", "u1"))
	require.NoError(t, d.SetValue("tenant_id", "acme"))

	err = u.Complete(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsCompletionError(err))
	assert.ErrorIs(t, err, privacy.Deny)
	var de *privacy.DenyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, unitofwork.OpCreate, de.Op)
	assert.True(t, u.IsOpen())

	stranger := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "u9", TenantID: "acme"})
	assert.ErrorIs(t, u.Complete(stranger), privacy.Deny)

	foreignAdmin := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "u9", Roles: []string{"admin"}, TenantID: "globex"})
	assert.ErrorIs(t, u.Complete(foreignAdmin), privacy.Deny)

	owner := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "u1", TenantID: "acme"})
	require.NoError(t, u.Complete(owner))
	assert.False(t, u.IsOpen())
}
