package mixin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/contrib/mixin"
)

type fakeEntity struct {
	values  map[string]any
	usecase tessera.Usecase
}

func (e *fakeEntity) Reference() tessera.Reference { return tessera.NewReference("Doc", "1") }
func (e *fakeEntity) Value(name string) (any, error) {
	return e.values[name], nil
}
func (e *fakeEntity) SetValue(name string, v any) error {
	e.values[name] = v
	return nil
}
func (e *fakeEntity) CurrentTime() time.Time   { return time.Time{} }
func (e *fakeEntity) Usecase() tessera.Usecase { return e.usecase }

func TestAuditMixin(t *testing.T) {
	m := mixin.Audit{}
	fields := m.Fields()
	require.Len(t, fields, 1)
	desc := fields[0].Descriptor()
	assert.Equal(t, "created_by", desc.Name)
	assert.True(t, desc.Immutable)

	hooks := m.Hooks()
	require.Len(t, hooks, 1)

	t.Run("actor_metadata", func(t *testing.T) {
		e := &fakeEntity{values: map[string]any{}, usecase: tessera.Usecase{
			Name:     "import",
			Metadata: map[string]string{mixin.ActorKey: "alice"},
		}}
		require.NoError(t, hooks[0].OnCreate(context.Background(), e))
		assert.Equal(t, "alice", e.values["created_by"])
	})

	t.Run("usecase_name", func(t *testing.T) {
		e := &fakeEntity{values: map[string]any{}, usecase: tessera.Usecase{Name: "import"}}
		require.NoError(t, hooks[0].OnCreate(context.Background(), e))
		assert.Equal(t, "import", e.values["created_by"])
	})
}

func TestTenantIDMixin(t *testing.T) {
	fields := mixin.TenantID{}.Fields()
	require.Len(t, fields, 1)
	desc := fields[0].Descriptor()
	assert.Equal(t, "tenant_id", desc.Name)
	assert.True(t, desc.Immutable)
	assert.NotEmpty(t, desc.Validate(""))
	assert.Nil(t, mixin.TenantID{}.Hooks())
}

func TestLockMixin(t *testing.T) {
	m := mixin.Lock{}
	desc := m.Fields()[0].Descriptor()
	assert.Equal(t, "locked", desc.Name)
	v, ok := desc.DefaultValue()
	assert.True(t, ok)
	assert.Equal(t, false, v)

	hook := m.Hooks()[0]
	assert.Nil(t, hook.OnCreate)

	e := &fakeEntity{values: map[string]any{"locked": false}}
	assert.NoError(t, hook.OnRemove(context.Background(), e))

	e.values["locked"] = true
	assert.ErrorIs(t, hook.OnRemove(context.Background(), e), mixin.ErrLocked)
}
