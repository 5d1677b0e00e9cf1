package unitofwork_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/unitofwork"
)

func TestEntityBuilder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	customer := seedCustomer(t, f, "c1", "ACME")

	u := open(t, f)
	b, err := u.NewEntityBuilder("Order", "o1")
	require.NoError(t, err)
	ref := tessera.NewReference("Order", "o1")
	assert.Equal(t, ref, b.Reference())
	assert.Equal(t, store.StatusNew, b.Prototype().Status())
	_, err = u.Get(ctx, "Order", "o1")
	assert.True(t, tessera.IsNotFound(err), "the prototype is not part of the session")

	// Constraints are checked when the entity is created.
	_, err = b.Instance(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsConstraintViolation(err))
	assert.Empty(t, u.Entities())

	require.NoError(t, b.Set("number", "N-1"))
	assoc, err := b.Prototype().Association("customer")
	require.NoError(t, err)
	require.NoError(t, assoc.SetReference(customer))
	o, err := b.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNew, o.Status())
	got, err := u.Get(ctx, "Order", "o1")
	require.NoError(t, err)
	assert.Same(t, o, got)
	number, err := o.Value("number")
	require.NoError(t, err)
	assert.Equal(t, "N-1", number)

	// The entity does not share the prototype state.
	require.NoError(t, b.Prototype().SetValue("note", "later"))
	note, err := o.Value("note")
	require.NoError(t, err)
	assert.Nil(t, note)

	assert.ErrorIs(t, b.Set("number", "N-2"), unitofwork.ErrBuilderUsed)
	_, err = b.Instance(ctx)
	assert.ErrorIs(t, err, unitofwork.ErrBuilderUsed)
	_, err = u.NewEntity(ctx, "Order", "o1")
	assert.True(t, tessera.IsAlreadyExists(err))

	require.NoError(t, u.Complete(ctx))
	stored, err := open(t, f).GetReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.Version())
}

func TestEntityBuilderImmutable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)

	u := open(t, f)
	b, err := u.NewEntityBuilder("OrderLine", "l1")
	require.NoError(t, err)
	require.NoError(t, b.Set("sku", "SKU-1"))
	require.NoError(t, b.Set("qty", 3))
	_, err = b.Instance(ctx)
	require.NoError(t, err)
	require.NoError(t, u.Complete(ctx))

	u2 := open(t, f)
	line, err := u2.Get(ctx, "OrderLine", "l1")
	require.NoError(t, err)
	sku, err := line.Value("sku")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", sku)
	assert.True(t, tessera.IsConstraintViolation(line.SetValue("sku", "SKU-2")))
}

func TestEntityBuilderWithState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	customer := seedCustomer(t, f, "c1", "ACME")

	proto := store.NewEntityState(tessera.NewReference("Order", "template"), store.StatusLoaded)
	proto.Version = "9"
	proto.Properties["number"] = "N-7"
	proto.Properties["total"] = 3
	proto.Associations["customer"] = customer

	u := open(t, f)
	b, err := u.NewEntityBuilderWithState("Order", "o7", proto)
	require.NoError(t, err)
	o, err := b.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, tessera.NewReference("Order", "o7"), o.Reference())
	assert.Equal(t, store.StatusNew, o.Status())
	assert.Empty(t, o.Version())
	total, err := o.Value("total")
	require.NoError(t, err)
	assert.Equal(t, 3.0, total)
	locked, err := o.Value("locked")
	require.NoError(t, err)
	assert.Equal(t, false, locked)
	assert.Equal(t, "9", proto.Version, "the source state is copied")
	require.NoError(t, u.Complete(ctx))
}

func TestEntityBuilderErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	seedCustomer(t, f, "c1", "ACME")
	u := open(t, f)

	_, err := u.NewEntityBuilder("Unknown", "x")
	assert.ErrorIs(t, err, unitofwork.ErrUnknownType)

	b, err := u.NewEntityBuilder("Customer", "c1")
	require.NoError(t, err)
	require.NoError(t, b.Set("name", "Globex"))
	_, err = b.Instance(ctx)
	assert.True(t, tessera.IsAlreadyExists(err))

	// Create hooks run when the entity is created, not on the prototype.
	b, err = u.NewEntityBuilder("Ticket", "t1")
	require.NoError(t, err)
	trail, err := b.Prototype().Value("trail")
	require.NoError(t, err)
	assert.Empty(t, trail)
	tk, err := b.Instance(ctx)
	require.NoError(t, err)
	trail, err = tk.Value("trail")
	require.NoError(t, err)
	assert.Equal(t, []string{"mixin", "own"}, trail)

	b, err = u.NewEntityBuilder("Ticket", "reject")
	require.NoError(t, err)
	_, err = b.Instance(ctx)
	assert.ErrorIs(t, err, errRejected)
	assert.ErrorIs(t, err, tessera.ErrLifecycle)
	_, err = u.Get(ctx, "Ticket", "reject")
	assert.True(t, tessera.IsNotFound(err))

	require.NoError(t, u.Complete(ctx))
	_, err = b.Instance(ctx)
	assert.True(t, tessera.IsSessionClosed(err))
	_, err = u.NewEntityBuilder("Ticket", "t2")
	assert.True(t, tessera.IsSessionClosed(err))
}
