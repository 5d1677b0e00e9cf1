package unitofwork_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	contrib "github.com/syssam/tessera/contrib/mixin"
	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/memory"
	"github.com/syssam/tessera/unitofwork"
)

func TestNewFactory(t *testing.T) {
	t.Parallel()
	_, err := unitofwork.NewFactory(nil, nil)
	assert.Error(t, err)
	_, err = unitofwork.NewFactory(testGraph, nil)
	assert.Error(t, err)
}

func TestIdentityMap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedCustomer(t, f, "c1", "ACME")

	u := open(t, f)
	a, err := u.Get(ctx, "Customer", "c1")
	require.NoError(t, err)
	b, err := u.GetReference(ctx, ref)
	require.NoError(t, err)
	assert.Same(t, a, b)
	all, err := u.GetAll(ctx, []tessera.Reference{ref, ref})
	require.NoError(t, err)
	assert.Same(t, a, all[0])
	assert.Same(t, a, all[1])
	assert.Len(t, u.Entities(), 1)

	// Entities of different sessions are different instances but equal.
	other, err := open(t, f).GetReference(ctx, ref)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.True(t, a.Equal(other))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	seedCustomer(t, f, "c1", "ACME")

	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	u := open(t, f, unitofwork.At(created))
	assert.Equal(t, created, u.CurrentTime())
	o, err := u.NewEntity(ctx, "Order", "o1")
	require.NoError(t, err)
	require.NoError(t, o.SetValue("number", "N-1"))
	require.NoError(t, o.SetValue("total", 12))
	customer, err := u.Get(ctx, "Customer", "c1")
	require.NoError(t, err)
	assoc, err := o.Association("customer")
	require.NoError(t, err)
	require.NoError(t, assoc.Set(customer))
	line, err := u.NewEntity(ctx, "OrderLine", "l1")
	require.NoError(t, err)
	require.NoError(t, line.SetValue("sku", "SKU-1"))
	lines, err := o.ManyAssociation("lines")
	require.NoError(t, err)
	added, err := lines.Append(line)
	require.NoError(t, err)
	assert.True(t, added)
	att, err := u.NewEntity(ctx, "Attachment", "a1")
	require.NoError(t, err)
	atts, err := o.NamedAssociation("attachments")
	require.NoError(t, err)
	require.NoError(t, atts.Put("contract", att))
	fresh, err := u.NewEntity(ctx, "Customer", "c2")
	require.NoError(t, err)
	require.NoError(t, fresh.SetValue("name", "Initech"))
	require.NoError(t, u.Complete(ctx))
	assert.False(t, u.IsOpen())

	u2 := open(t, f)
	got, err := u2.Get(ctx, "Order", "o1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusLoaded, got.Status())
	assert.Equal(t, "1", got.Version())
	assert.Equal(t, created, got.LastModified())
	number, err := got.Value("number")
	require.NoError(t, err)
	assert.Equal(t, "N-1", number)
	total, err := got.Value("total")
	require.NoError(t, err)
	assert.Equal(t, 12.0, total)
	qty, err := u2.Get(ctx, "OrderLine", "l1")
	require.NoError(t, err)
	v, err := qty.Value("qty")
	require.NoError(t, err)
	assert.Equal(t, 1, v, "default applied on creation")

	assoc, err = got.Association("customer")
	require.NoError(t, err)
	c, err := assoc.Get(ctx)
	require.NoError(t, err)
	name, err := c.Value("name")
	require.NoError(t, err)
	assert.Equal(t, "ACME", name)

	lines, err = got.ManyAssociation("lines")
	require.NoError(t, err)
	l, err := lines.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "OrderLine/l1", l.String())
	_, err = lines.Get(ctx, 1)
	assert.Error(t, err)

	atts, err = got.NamedAssociation("attachments")
	require.NoError(t, err)
	a, err := atts.Get(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.Reference().ID)
	missing, err := atts.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	c2, err := u2.Get(ctx, "Customer", "c2")
	require.NoError(t, err)
	stamp, err := c2.Value("created_at")
	require.NoError(t, err)
	assert.Equal(t, created, stamp)
}

func TestDirtyBuffering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedCustomer(t, f, "c1", "ACME")

	u1, u2 := open(t, f), open(t, f)
	c1, err := u1.GetReference(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, c1.SetValue("name", "Changed"))
	assert.Equal(t, store.StatusUpdated, c1.Status())

	c2, err := u2.GetReference(ctx, ref)
	require.NoError(t, err)
	name, err := c2.Value("name")
	require.NoError(t, err)
	assert.Equal(t, "ACME", name)

	require.NoError(t, u1.Complete(ctx))
	c3, err := open(t, f).GetReference(ctx, ref)
	require.NoError(t, err)
	name, err = c3.Value("name")
	require.NoError(t, err)
	assert.Equal(t, "Changed", name)
}

// buildAggregate stores order a with invoice b, lines c and d, where line
// c also aggregates invoice b, and attachment e.
func buildAggregate(t *testing.T, f *unitofwork.Factory) {
	t.Helper()
	ctx := context.Background()
	seedOrder(t, f, "a")
	u := open(t, f)
	a, err := u.Get(ctx, "Order", "a")
	require.NoError(t, err)
	b, err := u.NewEntity(ctx, "Invoice", "b")
	require.NoError(t, err)
	c, err := u.NewEntity(ctx, "OrderLine", "c")
	require.NoError(t, err)
	require.NoError(t, c.SetValue("sku", "C"))
	d, err := u.NewEntity(ctx, "OrderLine", "d")
	require.NoError(t, err)
	require.NoError(t, d.SetValue("sku", "D"))
	e, err := u.NewEntity(ctx, "Attachment", "e")
	require.NoError(t, err)

	inv, err := a.Association("invoice")
	require.NoError(t, err)
	require.NoError(t, inv.Set(b))
	lineInv, err := c.Association("invoice")
	require.NoError(t, err)
	require.NoError(t, lineInv.Set(b))
	lines, err := a.ManyAssociation("lines")
	require.NoError(t, err)
	_, err = lines.Append(c)
	require.NoError(t, err)
	_, err = lines.Append(d)
	require.NoError(t, err)
	atts, err := a.NamedAssociation("attachments")
	require.NoError(t, err)
	require.NoError(t, atts.Put("spec", e))
	require.NoError(t, u.Complete(ctx))
}

func TestCascadeRemoval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, s := newFactory(t)
	buildAggregate(t, f)
	require.Equal(t, 6, s.Len())

	u := open(t, f)
	a, err := u.Get(ctx, "Order", "a")
	require.NoError(t, err)
	require.NoError(t, u.Remove(ctx, a))
	assert.Equal(t, store.StatusRemoved, a.Status())
	for _, ref := range []string{"Invoice/b", "OrderLine/c", "OrderLine/d", "Attachment/e", "Order/a"} {
		r, err := tessera.ParseReference(ref)
		require.NoError(t, err)
		_, err = u.GetReference(ctx, r)
		assert.True(t, tessera.IsNotFound(err), "%s: %v", ref, err)
	}
	require.NoError(t, u.Complete(ctx))

	check := open(t, f)
	for _, ref := range []string{"Order/a", "Invoice/b", "OrderLine/c", "OrderLine/d", "Attachment/e"} {
		r, err := tessera.ParseReference(ref)
		require.NoError(t, err)
		_, err = check.GetReference(ctx, r)
		assert.True(t, tessera.IsNotFound(err), "%s: %v", ref, err)
	}
	// The customer is associated, not aggregated.
	_, err = check.Get(ctx, "Customer", "c-a")
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestRemoveHookAbortsCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	buildAggregate(t, f)

	u := open(t, f)
	b, err := u.Get(ctx, "Invoice", "b")
	require.NoError(t, err)
	require.NoError(t, b.SetValue("locked", true))
	a, err := u.Get(ctx, "Order", "a")
	require.NoError(t, err)

	err = u.Remove(ctx, a)
	require.Error(t, err)
	assert.True(t, tessera.IsLifecycleError(err))
	assert.ErrorIs(t, err, contrib.ErrLocked)
	var le *tessera.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, tessera.NewReference("Invoice", "b"), le.Ref)
	assert.Equal(t, "lock", le.Hook)
	assert.Equal(t, tessera.OpRemove, le.Op)

	assert.Equal(t, store.StatusLoaded, a.Status())
	assert.Equal(t, store.StatusUpdated, b.Status())
	for _, id := range []string{"c", "d"} {
		line, err := u.Get(ctx, "OrderLine", id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusLoaded, line.Status())
	}
}

func TestConcurrentModification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedOrder(t, f, "o1")

	u1, u2 := open(t, f), open(t, f)
	e1, err := u1.GetReference(ctx, ref)
	require.NoError(t, err)
	e2, err := u2.GetReference(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, e1.SetValue("note", "first"))
	require.NoError(t, u1.Complete(ctx))

	require.NoError(t, e2.SetValue("total", 99.5))
	err = u2.Complete(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsConcurrentModification(err))
	assert.True(t, tessera.IsRetryable(err))
	var cm *tessera.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, []tessera.Reference{ref}, cm.Refs)
	assert.True(t, u2.IsOpen())
	assert.Equal(t, "1", e2.Version(), "failed completion keeps version tokens")

	stored, err := open(t, f).GetReference(ctx, ref)
	require.NoError(t, err)
	note, _ := stored.Value("note")
	total, _ := stored.Value("total")
	assert.Equal(t, "first", note)
	assert.Equal(t, 0.0, total)

	// Retrying requires a refresh.
	require.NoError(t, u2.Refresh(ctx, e2))
	assert.Equal(t, "2", e2.Version())
	note, _ = e2.Value("note")
	assert.Equal(t, "first", note)
	require.NoError(t, e2.SetValue("total", 99.5))
	require.NoError(t, u2.Complete(ctx))
}

var errStoreDown = errors.New("store down")

// flaky fails the next armed number of batches before reaching the store.
type flaky struct {
	store.EntityStore
	failures atomic.Int32
}

func (f *flaky) NewUnitOfWork(ctx context.Context, usecase tessera.Usecase, now time.Time) (store.UnitOfWork, error) {
	uow, err := f.EntityStore.NewUnitOfWork(ctx, usecase, now)
	if err != nil {
		return nil, err
	}
	return &flakyUOW{UnitOfWork: uow, f: f}, nil
}

type flakyUOW struct {
	store.UnitOfWork
	f *flaky
}

func (u *flakyUOW) ApplyChanges(ctx context.Context, states []*store.EntityState) (*store.Commit, error) {
	if u.f.failures.Add(-1) >= 0 {
		return nil, errStoreDown
	}
	return u.UnitOfWork.ApplyChanges(ctx, states)
}

func TestStoreFailureKeepsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := &flaky{EntityStore: memory.New()}
	f, err := unitofwork.NewFactory(testGraph, fs, unitofwork.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	ref := seedOrder(t, f, "o1")

	u := open(t, f)
	o, err := u.GetReference(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, o.SetValue("note", "retried"))
	c, err := u.NewEntity(ctx, "Customer", "c2")
	require.NoError(t, err)
	require.NoError(t, c.SetValue("name", "Globex"))

	fs.failures.Store(1)
	err = u.Complete(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsCompletionError(err))
	assert.True(t, tessera.IsRetryable(err))
	assert.ErrorIs(t, err, errStoreDown)
	assert.True(t, u.IsOpen())
	assert.Equal(t, "1", o.Version())
	assert.Equal(t, store.StatusUpdated, o.Status())
	assert.Empty(t, c.Version())
	assert.Equal(t, store.StatusNew, c.Status())
	note, err := o.Value("note")
	require.NoError(t, err)
	assert.Equal(t, "retried", note)

	_, err = open(t, f).Get(ctx, "Customer", "c2")
	assert.True(t, tessera.IsNotFound(err), "failed batch wrote nothing")

	require.NoError(t, u.Complete(ctx))
	assert.False(t, u.IsOpen())
	assert.Equal(t, "2", o.Version())
	assert.Equal(t, "1", c.Version())

	stored, err := open(t, f).GetReference(ctx, ref)
	require.NoError(t, err)
	note, err = stored.Value("note")
	require.NoError(t, err)
	assert.Equal(t, "retried", note)
}

func TestConstraintAggregation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	u := open(t, f)

	o, err := u.NewEntity(ctx, "Order", "o1")
	require.NoError(t, err)
	require.NoError(t, o.SetValue("number", ""))
	require.NoError(t, o.SetValue("total", -1))

	err = u.Complete(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsConstraintViolation(err))
	var cv *tessera.ConstraintViolationError
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, o.Reference(), cv.Ref)
	rules := make(map[string]string)
	for _, v := range cv.Violations {
		rules[v.Accessor] = v.Rule
	}
	assert.Equal(t, map[string]string{"number": "not_empty", "total": "min", "customer": "required"}, rules)
	assert.True(t, u.IsOpen())

	// Violations of several entities are aggregated.
	c, err := u.NewEntity(ctx, "Customer", "c1")
	require.NoError(t, err)
	err = u.Complete(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsCompletionError(err))
	assert.True(t, tessera.IsRetryable(err))
	assert.Len(t, tessera.Violations(err), 4)

	// Fix everything and retry.
	require.NoError(t, c.SetValue("name", "ACME"))
	require.NoError(t, o.SetValue("number", "N-1"))
	require.NoError(t, o.SetValue("total", 1))
	customer, err := o.Association("customer")
	require.NoError(t, err)
	require.NoError(t, customer.Set(c))
	require.NoError(t, u.Complete(ctx))
}

func TestDiscardIsSilent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, s := newFactory(t)
	u := open(t, f)
	c, err := u.NewEntity(ctx, "Customer", "c1")
	require.NoError(t, err)
	require.NoError(t, c.SetValue("name", "ACME"))
	u.Discard()
	u.Discard()
	assert.False(t, u.IsOpen())
	assert.Equal(t, unitofwork.OutcomeDiscarded, u.Outcome())

	_, err = open(t, f).Get(ctx, "Customer", "c1")
	assert.True(t, tessera.IsNotFound(err))
	assert.Equal(t, 0, s.Len())
}

func TestLazyCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	u := open(t, f)
	a, err := u.NewEntity(ctx, "Node", "a")
	require.NoError(t, err)
	b, err := u.NewEntity(ctx, "Node", "b")
	require.NoError(t, err)
	pa, err := a.Association("peer")
	require.NoError(t, err)
	require.NoError(t, pa.Set(b))
	pb, err := b.Association("peer")
	require.NoError(t, err)
	require.NoError(t, pb.Set(a))
	require.NoError(t, u.Complete(ctx))

	u2 := open(t, f)
	start, err := u2.Get(ctx, "Node", "a")
	require.NoError(t, err)
	cur := start
	for range 4 {
		peer, err := cur.Association("peer")
		require.NoError(t, err)
		cur, err = peer.Get(ctx)
		require.NoError(t, err)
	}
	assert.Same(t, start, cur)
	assert.Len(t, u2.Entities(), 2)
}

func TestNewEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t, unitofwork.WithIdentityGenerator(
		tessera.IdentityGeneratorFunc(func(typ string) string { return typ + "-generated" }),
	))
	seedCustomer(t, f, "c1", "ACME")

	u := open(t, f)
	e, err := u.NewEntity(ctx, "Invoice", "")
	require.NoError(t, err)
	assert.Equal(t, tessera.NewReference("Invoice", "Invoice-generated"), e.Reference())
	assert.Equal(t, store.StatusNew, e.Status())
	assert.Empty(t, e.Version())
	locked, err := e.Value("locked")
	require.NoError(t, err)
	assert.Equal(t, false, locked)

	_, err = u.NewEntity(ctx, "Invoice", "Invoice-generated")
	assert.True(t, tessera.IsAlreadyExists(err))
	_, err = u.NewEntity(ctx, "Customer", "c1")
	assert.True(t, tessera.IsAlreadyExists(err))
	_, err = u.NewEntity(ctx, "Unknown", "x")
	assert.ErrorIs(t, err, unitofwork.ErrUnknownType)
	_, err = u.Get(ctx, "Unknown", "x")
	assert.ErrorIs(t, err, unitofwork.ErrUnknownType)

	// A new entity removed in the session was never stored.
	require.NoError(t, u.Remove(ctx, e))
	again, err := u.NewEntity(ctx, "Invoice", "Invoice-generated")
	require.NoError(t, err)
	assert.NotSame(t, e, again)
	require.NoError(t, u.Complete(ctx))
}

func TestLifecycleHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	u := open(t, f)

	tk, err := u.NewEntity(ctx, "Ticket", "t1")
	require.NoError(t, err)
	trail, err := tk.Value("trail")
	require.NoError(t, err)
	assert.Equal(t, []string{"mixin", "own"}, trail)

	_, err = u.NewEntity(ctx, "Ticket", "reject")
	require.Error(t, err)
	assert.ErrorIs(t, err, errRejected)
	assert.ErrorIs(t, err, tessera.ErrLifecycle)
	assert.False(t, tessera.IsRetryable(err))
	var le *tessera.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "reject", le.Hook)
	assert.Equal(t, tessera.OpCreate, le.Op)
	_, err = u.Get(ctx, "Ticket", "reject")
	assert.True(t, tessera.IsNotFound(err), "failed creation is not cached")
	require.NoError(t, u.Complete(ctx))

	u2 := open(t, f)
	tk, err = u2.Get(ctx, "Ticket", "t1")
	require.NoError(t, err)
	trail, err = tk.Value("trail")
	require.NoError(t, err)
	assert.Equal(t, []string{"mixin", "own"}, trail, "create hooks do not run on load")
	require.NoError(t, u2.Remove(ctx, tk))
	assert.Equal(t, store.StatusRemoved, tk.Status())
	assert.True(t, tessera.IsNotFound(u2.Remove(ctx, tk)))
	_, err = tk.Value("trail")
	assert.True(t, tessera.IsNotFound(err))
	assert.True(t, tessera.IsNotFound(tk.SetValue("trail", []string{})))
	require.NoError(t, u2.Complete(ctx))
}

func TestSessionStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedCustomer(t, f, "c1", "ACME")
	u := open(t, f)

	_, ok := unitofwork.FromContext(ctx)
	assert.False(t, ok)
	uctx := unitofwork.NewContext(ctx, u)
	got, ok := unitofwork.FromContext(uctx)
	require.True(t, ok)
	assert.Same(t, u, got)

	require.NoError(t, u.Pause())
	assert.True(t, u.IsPaused())
	assert.True(t, u.IsOpen())
	assert.ErrorIs(t, u.Pause(), unitofwork.ErrNotActive)
	_, ok = unitofwork.FromContext(uctx)
	assert.False(t, ok)
	require.NoError(t, u.Resume())
	assert.ErrorIs(t, u.Resume(), unitofwork.ErrNotPaused)
	_, ok = unitofwork.FromContext(uctx)
	assert.True(t, ok)

	c, err := u.GetReference(ctx, ref)
	require.NoError(t, err)
	prop, err := c.Property("name")
	require.NoError(t, err)
	require.NoError(t, u.Complete(ctx))
	assert.False(t, u.IsOpen())
	assert.Equal(t, unitofwork.OutcomeCompleted, u.Outcome())
	_, ok = unitofwork.FromContext(uctx)
	assert.False(t, ok)

	closed := []error{
		u.Complete(ctx),
		u.Apply(ctx),
		u.Pause(),
		u.Resume(),
		u.Refresh(ctx),
		u.Remove(ctx, c),
	}
	_, err = u.GetReference(ctx, ref)
	closed = append(closed, err)
	_, err = u.NewEntity(ctx, "Customer", "c2")
	closed = append(closed, err)
	_, err = u.GetAll(ctx, []tessera.Reference{ref})
	closed = append(closed, err)
	_, err = c.Value("name")
	closed = append(closed, err)
	_, err = prop.Get()
	closed = append(closed, err)
	for i, err := range closed {
		assert.True(t, tessera.IsSessionClosed(err), "%d: %v", i, err)
	}
	var sc *tessera.SessionClosedError
	require.ErrorAs(t, closed[0], &sc)
	assert.Equal(t, u.ID(), sc.Session)
	assert.Equal(t, "completed", sc.Reason)
	u.Discard()
	assert.Equal(t, unitofwork.OutcomeCompleted, u.Outcome())
}

func TestDereferenceAfterClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedOrder(t, f, "o1")
	u := open(t, f)
	o, err := u.GetReference(ctx, ref)
	require.NoError(t, err)
	customer, err := o.Association("customer")
	require.NoError(t, err)
	u.Discard()
	_, err = customer.Get(ctx)
	assert.True(t, tessera.IsSessionClosed(err))
	assert.Equal(t, "tessera: unit of work "+u.ID()+" is closed (discarded)", err.Error())
}

func TestCallbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	u := open(t, f)

	var events []string
	veto := errors.New("not yet")
	allow := false
	cb := &unitofwork.CallbackFuncs{
		Before: func(context.Context, *unitofwork.UnitOfWork) error {
			events = append(events, "before")
			if !allow {
				return veto
			}
			return nil
		},
		After: func(_ context.Context, _ *unitofwork.UnitOfWork, o unitofwork.Outcome) {
			events = append(events, "after:"+o.String())
		},
	}
	removed := &unitofwork.CallbackFuncs{
		After: func(context.Context, *unitofwork.UnitOfWork, unitofwork.Outcome) {
			t.Error("removed callback called")
		},
	}
	u.AddCompletionCallback(cb)
	u.AddCompletionCallback(removed)
	assert.True(t, u.RemoveCompletionCallback(removed))
	assert.False(t, u.RemoveCompletionCallback(removed))

	_, err := u.NewEntity(ctx, "Invoice", "i1")
	require.NoError(t, err)
	err = u.Complete(ctx)
	require.Error(t, err)
	assert.True(t, tessera.IsCompletionError(err))
	assert.ErrorIs(t, err, veto)
	assert.True(t, u.IsOpen())

	allow = true
	require.NoError(t, u.Apply(ctx))
	require.NoError(t, u.Complete(ctx))
	u.Discard()
	assert.Equal(t, []string{"before", "before", "after:completed", "before", "after:completed"}, events)

	d := open(t, f)
	var outcome unitofwork.Outcome
	d.AddCompletionCallback(&unitofwork.CallbackFuncs{
		After: func(_ context.Context, _ *unitofwork.UnitOfWork, o unitofwork.Outcome) { outcome = o },
	})
	d.Discard()
	assert.Equal(t, unitofwork.OutcomeDiscarded, outcome)
}

func TestApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	u := open(t, f)

	c, err := u.NewEntity(ctx, "Customer", "c1")
	require.NoError(t, err)
	require.NoError(t, c.SetValue("name", "ACME"))
	require.NoError(t, u.Apply(ctx))
	assert.True(t, u.IsOpen())
	assert.Equal(t, store.StatusLoaded, c.Status())
	assert.Equal(t, "1", c.Version())

	require.NoError(t, c.SetValue("name", "ACME Corp"))
	require.NoError(t, u.Apply(ctx))
	assert.Equal(t, "2", c.Version())

	// Immutable properties of stored entities are read-only.
	err = c.SetValue("created_at", testNow)
	assert.True(t, tessera.IsConstraintViolation(err))

	require.NoError(t, u.Remove(ctx, c))
	require.NoError(t, u.Apply(ctx))
	_, err = u.Get(ctx, "Customer", "c1")
	assert.True(t, tessera.IsNotFound(err))
	assert.Empty(t, u.Entities())
	require.NoError(t, u.Complete(ctx))
}

func TestGetAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t, unitofwork.WithBatchSize(1))
	r1 := seedCustomer(t, f, "c1", "one")
	r2 := seedCustomer(t, f, "c2", "two")
	r3 := seedCustomer(t, f, "c3", "three")

	u := open(t, f)
	c1, err := u.GetReference(ctx, r1)
	require.NoError(t, err)
	all, err := u.GetAll(ctx, []tessera.Reference{r3, r1, r2, r3})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, r3, all[0].Reference())
	assert.Same(t, c1, all[1])
	assert.Equal(t, r2, all[2].Reference())
	assert.Same(t, all[0], all[3])
	c2, err := u.GetReference(ctx, r2)
	require.NoError(t, err)
	assert.Same(t, all[2], c2)

	_, err = u.GetAll(ctx, []tessera.Reference{r1, tessera.NewReference("Customer", "nope")})
	assert.True(t, tessera.IsNotFound(err))
	_, err = u.GetAll(ctx, []tessera.Reference{tessera.NewReference("Unknown", "x")})
	assert.ErrorIs(t, err, unitofwork.ErrUnknownType)
}

func TestViews(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedOrder(t, f, "o1")
	u := open(t, f)
	o, err := u.GetReference(ctx, ref)
	require.NoError(t, err)

	p1, err := o.Property("number")
	require.NoError(t, err)
	p2, err := o.Property("number")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, "number", p1.Name())

	_, err = o.Property("missing")
	assert.True(t, tessera.IsUnknownAccessor(err))
	_, err = o.Association("lines")
	assert.True(t, tessera.IsUnknownAccessor(err), "lines is a many-association")
	_, err = o.ManyAssociation("customer")
	assert.True(t, tessera.IsUnknownAccessor(err))
	_, err = o.NamedAssociation("lines")
	assert.True(t, tessera.IsUnknownAccessor(err))

	err = o.SetValue("total", "a lot")
	assert.True(t, tessera.IsConstraintViolation(err))
	assert.Equal(t, store.StatusLoaded, o.Status(), "rejected writes do not dirty the entity")

	customer, err := o.Association("customer")
	require.NoError(t, err)
	err = customer.SetReference(tessera.NewReference("Invoice", "i1"))
	assert.True(t, tessera.IsConstraintViolation(err))

	related, err := o.ManyAssociation("related")
	require.NoError(t, err)
	other, err := u.NewEntity(ctx, "Order", "o2")
	require.NoError(t, err)
	added, err := related.Add(0, other)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = related.Append(other)
	require.NoError(t, err)
	assert.False(t, added)
	ok, err := related.Contains(other)
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := related.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusUpdated, o.Status())
	entities, err := related.Entities(ctx)
	require.NoError(t, err)
	assert.Same(t, other, entities[0])
	removed, err := related.Remove(other)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = related.Append(nil)
	assert.True(t, tessera.IsConstraintViolation(err))

	atts, err := o.NamedAssociation("attachments")
	require.NoError(t, err)
	for _, name := range []string{"b", "a", "c"} {
		att, err := u.NewEntity(ctx, "Attachment", name)
		require.NoError(t, err)
		require.NoError(t, atts.Put(name, att))
	}
	names, err := atts.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, names)
	ok, err = atts.Remove("a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = atts.Remove("a")
	require.NoError(t, err)
	assert.False(t, ok)
	entries, err := atts.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[1].Name)
	resolved, err := atts.Entities(ctx)
	require.NoError(t, err)
	assert.Len(t, resolved, 2)
	assert.Error(t, atts.Put("", other))
}

func TestPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	denied := errors.New("removals are not allowed")
	f, _ := newFactory(t, unitofwork.WithPolicy(unitofwork.PolicyFunc(
		func(_ context.Context, c unitofwork.Change) error {
			if c.Op == unitofwork.OpRemove {
				return denied
			}
			return nil
		},
	)))
	ref := seedCustomer(t, f, "c1", "ACME")
	u := open(t, f)
	c, err := u.GetReference(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, u.Remove(ctx, c))
	err = u.Complete(ctx)
	assert.True(t, tessera.IsCompletionError(err))
	assert.ErrorIs(t, err, denied)
	assert.True(t, u.IsOpen())
}

func TestObserver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var reports []unitofwork.Report
	f, _ := newFactory(t, unitofwork.WithObserver(unitofwork.ObserverFunc(
		func(_ context.Context, r unitofwork.Report) { reports = append(reports, r) },
	)))
	u := open(t, f, unitofwork.WithUsecase(tessera.Usecase{Name: "signup"}))
	c, err := u.NewEntity(ctx, "Customer", "c1")
	require.NoError(t, err)
	require.Error(t, u.Complete(ctx))
	require.NoError(t, c.SetValue("name", "ACME"))
	require.NoError(t, u.Complete(ctx))
	open(t, f).Discard()

	require.Len(t, reports, 3)
	assert.Equal(t, unitofwork.OutcomeFailed, reports[0].Outcome)
	assert.True(t, tessera.IsConstraintViolation(reports[0].Err))
	assert.Equal(t, unitofwork.OutcomeCompleted, reports[1].Outcome)
	assert.Equal(t, 1, reports[1].Created)
	assert.Equal(t, "signup", reports[1].Usecase.Name)
	assert.Equal(t, u.ID(), reports[1].ID)
	assert.Equal(t, unitofwork.OutcomeDiscarded, reports[2].Outcome)
}

func TestRefreshRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFactory(t)
	ref := seedCustomer(t, f, "c1", "ACME")
	u := open(t, f)
	c, err := u.GetReference(ctx, ref)
	require.NoError(t, err)

	other := open(t, f)
	oc, err := other.GetReference(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, other.Remove(ctx, oc))
	require.NoError(t, other.Complete(ctx))

	err = u.Refresh(ctx)
	assert.True(t, tessera.IsNotFound(err))
	assert.Empty(t, u.Entities())
	_, err = u.GetReference(ctx, ref)
	assert.True(t, tessera.IsNotFound(err))
	assert.Equal(t, store.StatusLoaded, c.Status())
}
