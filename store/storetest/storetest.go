// Package storetest provides the conformance suite for store.EntityStore
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/store"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) store.EntityStore

// Run runs the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, store.EntityStore)
	}{
		{"LoadMissing", testLoadMissing},
		{"RoundTrip", testRoundTrip},
		{"NewStateExisting", testNewStateExisting},
		{"VersionsAdvance", testVersionsAdvance},
		{"ConflictAborts", testConflictAborts},
		{"ConcurrentInsert", testConcurrentInsert},
		{"Remove", testRemove},
		{"IgnoresUnmodified", testIgnoresUnmodified},
		{"DuplicateInBatch", testDuplicateInBatch},
		{"Discard", testDiscard},
		{"ParallelUnrelated", testParallelUnrelated},
		{"IterateImport", testIterateImport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func open(t *testing.T, s store.EntityStore) store.UnitOfWork {
	t.Helper()
	uow, err := s.NewUnitOfWork(context.Background(), tessera.DefaultUsecase, now)
	require.NoError(t, err)
	t.Cleanup(uow.Discard)
	return uow
}

func ref(id string) tessera.Reference { return tessera.NewReference("Doc", id) }

// create stores a new Doc with a title and returns its version.
func create(t *testing.T, s store.EntityStore, id, title string) string {
	t.Helper()
	ctx := context.Background()
	uow := open(t, s)
	st, err := uow.NewState(ctx, ref(id), nil)
	require.NoError(t, err)
	require.NoError(t, st.SetProperty("title", title))
	commit, err := uow.ApplyChanges(ctx, []*store.EntityState{st})
	require.NoError(t, err)
	return commit.Versions[ref(id)]
}

func load(t *testing.T, s store.EntityStore, id string) *store.EntityState {
	t.Helper()
	st, err := open(t, s).LoadState(context.Background(), ref(id))
	require.NoError(t, err)
	return st
}

func testLoadMissing(t *testing.T, s store.EntityStore) {
	_, err := open(t, s).LoadState(context.Background(), ref("missing"))
	assert.True(t, tessera.IsNotFound(err), "got %v", err)
}

func testRoundTrip(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	uow := open(t, s)
	st, err := uow.NewState(ctx, ref("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNew, st.Status)
	assert.Empty(t, st.Version)

	require.NoError(t, st.SetProperty("title", "hello"))
	require.NoError(t, st.SetProperty("pages", int64(3)))
	require.NoError(t, st.SetAssociation("author", tessera.NewReference("User", "u1")))
	_, err = st.AddManyAssociation("tags", -1, tessera.NewReference("Tag", "t1"))
	require.NoError(t, err)
	_, err = st.AddManyAssociation("tags", -1, tessera.NewReference("Tag", "t2"))
	require.NoError(t, err)
	require.NoError(t, st.PutNamedAssociation("links", "next", ref("b")))
	require.NoError(t, st.PutNamedAssociation("links", "prev", ref("c")))

	commit, err := uow.ApplyChanges(ctx, []*store.EntityState{st})
	require.NoError(t, err)
	require.NotNil(t, commit)
	assert.NotEmpty(t, commit.ID)
	version := commit.Versions[ref("a")]
	assert.NotEmpty(t, version)

	got := load(t, s, "a")
	assert.Equal(t, store.StatusLoaded, got.Status)
	assert.Equal(t, version, got.Version)
	assert.True(t, got.LastModified.Equal(now), "last modified %v", got.LastModified)
	assert.Equal(t, "hello", got.Properties["title"])
	assert.EqualValues(t, 3, got.Properties["pages"])
	assert.Equal(t, tessera.NewReference("User", "u1"), got.Associations["author"])
	assert.Equal(t, []tessera.Reference{tessera.NewReference("Tag", "t1"), tessera.NewReference("Tag", "t2")}, got.ManyAssociations["tags"])
	assert.Equal(t, []string{"next", "prev"}, got.NamedAssociations["links"].Names())
	next, ok := got.NamedAssociations["links"].Get("next")
	assert.True(t, ok)
	assert.Equal(t, ref("b"), next)

	// Loaded states are private copies.
	require.NoError(t, got.SetProperty("title", "changed"))
	assert.Equal(t, "hello", load(t, s, "a").Properties["title"])
}

func testNewStateExisting(t *testing.T, s store.EntityStore) {
	create(t, s, "a", "x")
	_, err := open(t, s).NewState(context.Background(), ref("a"), nil)
	assert.True(t, tessera.IsAlreadyExists(err), "got %v", err)
}

func testVersionsAdvance(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	v1 := create(t, s, "a", "one")
	seen := map[string]bool{v1: true}
	for i := range 3 {
		uow := open(t, s)
		st, err := uow.LoadState(ctx, ref("a"))
		require.NoError(t, err)
		require.NoError(t, st.SetProperty("title", fmt.Sprint(i)))
		assert.Equal(t, store.StatusUpdated, st.Status)
		commit, err := uow.ApplyChanges(ctx, []*store.EntityState{st})
		require.NoError(t, err)
		v := commit.Versions[ref("a")]
		assert.False(t, seen[v], "version %s reused", v)
		seen[v] = true
		assert.Equal(t, v, load(t, s, "a").Version)
	}
}

func testConflictAborts(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	create(t, s, "a", "a0")
	create(t, s, "b", "b0")
	create(t, s, "c", "c0")

	u1, u2 := open(t, s), open(t, s)
	a1, err := u1.LoadState(ctx, ref("a"))
	require.NoError(t, err)
	b1, err := u1.LoadState(ctx, ref("b"))
	require.NoError(t, err)
	a2, err := u2.LoadState(ctx, ref("a"))
	require.NoError(t, err)
	b2, err := u2.LoadState(ctx, ref("b"))
	require.NoError(t, err)
	c2, err := u2.LoadState(ctx, ref("c"))
	require.NoError(t, err)

	require.NoError(t, a1.SetProperty("title", "a1"))
	require.NoError(t, b1.SetProperty("title", "b1"))
	_, err = u1.ApplyChanges(ctx, []*store.EntityState{a1, b1})
	require.NoError(t, err)

	require.NoError(t, a2.SetProperty("title", "a2"))
	require.NoError(t, b2.MarkRemoved())
	require.NoError(t, c2.SetProperty("title", "c2"))
	_, err = u2.ApplyChanges(ctx, []*store.EntityState{c2, a2, b2})
	require.Error(t, err)
	require.True(t, store.IsVersionConflict(err), "got %v", err)
	var vc *store.VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, []tessera.Reference{ref("a"), ref("b")}, vc.Refs)

	// Nothing of the failed batch was written.
	assert.Equal(t, "a1", load(t, s, "a").Properties["title"])
	assert.Equal(t, "b1", load(t, s, "b").Properties["title"])
	assert.Equal(t, "c0", load(t, s, "c").Properties["title"])
}

func testConcurrentInsert(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	u1, u2 := open(t, s), open(t, s)
	s1, err := u1.NewState(ctx, ref("a"), nil)
	require.NoError(t, err)
	s2, err := u2.NewState(ctx, ref("a"), nil)
	require.NoError(t, err)
	require.NoError(t, s1.SetProperty("title", "first"))
	require.NoError(t, s2.SetProperty("title", "second"))

	_, err = u1.ApplyChanges(ctx, []*store.EntityState{s1})
	require.NoError(t, err)
	_, err = u2.ApplyChanges(ctx, []*store.EntityState{s2})
	assert.True(t, store.IsVersionConflict(err), "got %v", err)
	assert.Equal(t, "first", load(t, s, "a").Properties["title"])
}

func testRemove(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	create(t, s, "a", "x")
	uow := open(t, s)
	st, err := uow.LoadState(ctx, ref("a"))
	require.NoError(t, err)
	require.NoError(t, st.MarkRemoved())
	commit, err := uow.ApplyChanges(ctx, []*store.EntityState{st})
	require.NoError(t, err)
	assert.NotContains(t, commit.Versions, ref("a"))

	_, err = open(t, s).LoadState(ctx, ref("a"))
	assert.True(t, tessera.IsNotFound(err))
	// The identity is free again.
	create(t, s, "a", "again")
}

func testIgnoresUnmodified(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	v := create(t, s, "a", "x")
	uow := open(t, s)
	st, err := uow.LoadState(ctx, ref("a"))
	require.NoError(t, err)
	fresh := store.NewEntityState(ref("ghost"), store.StatusRemoved)
	commit, err := uow.ApplyChanges(ctx, []*store.EntityState{st, fresh})
	require.NoError(t, err)
	assert.Empty(t, commit.Versions)
	assert.Equal(t, v, load(t, s, "a").Version)
}

func testDuplicateInBatch(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	uow := open(t, s)
	st, err := uow.NewState(ctx, ref("a"), nil)
	require.NoError(t, err)
	_, err = uow.ApplyChanges(ctx, []*store.EntityState{st, st.Clone()})
	assert.Error(t, err)
	_, err = open(t, s).LoadState(ctx, ref("a"))
	assert.True(t, tessera.IsNotFound(err))
}

func testDiscard(t *testing.T, s store.EntityStore) {
	ctx := context.Background()
	uow := open(t, s)
	st, err := uow.NewState(ctx, ref("a"), nil)
	require.NoError(t, err)
	uow.Discard()
	uow.Discard()
	_, err = uow.ApplyChanges(ctx, []*store.EntityState{st})
	assert.True(t, tessera.IsSessionClosed(err), "got %v", err)
	_, err = uow.LoadState(ctx, ref("a"))
	assert.True(t, tessera.IsSessionClosed(err), "got %v", err)
}

func testParallelUnrelated(t *testing.T, s store.EntityStore) {
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			uow, err := s.NewUnitOfWork(ctx, tessera.DefaultUsecase, now)
			if err != nil {
				errs[i] = err
				return
			}
			defer uow.Discard()
			st, err := uow.NewState(ctx, ref(fmt.Sprintf("p%d", i)), nil)
			if err != nil {
				errs[i] = err
				return
			}
			if err := st.SetProperty("title", fmt.Sprint(i)); err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = uow.ApplyChanges(ctx, []*store.EntityState{st})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
		assert.Equal(t, fmt.Sprint(i), load(t, s, fmt.Sprintf("p%d", i)).Properties["title"])
	}
}

func testIterateImport(t *testing.T, s store.EntityStore) {
	it, ok := s.(store.Iterator)
	if !ok {
		t.Skip("store does not implement store.Iterator")
	}
	im, ok := s.(store.Importer)
	if !ok {
		t.Skip("store does not implement store.Importer")
	}
	ctx := context.Background()
	create(t, s, "b", "bee")
	create(t, s, "a", "ay")

	var got []*store.EntityState
	require.NoError(t, it.EntityStates(ctx, func(st *store.EntityState) error {
		got = append(got, st)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, ref("a"), got[0].Reference)
	assert.Equal(t, ref("b"), got[1].Reference)

	restored := store.NewEntityState(ref("z"), store.StatusLoaded)
	restored.Version = "7"
	restored.LastModified = now
	restored.Properties["title"] = "zed"
	require.NoError(t, im.ImportStates(ctx, []*store.EntityState{restored}))
	st := load(t, s, "z")
	assert.Equal(t, "7", st.Version)
	assert.Equal(t, "zed", st.Properties["title"])

	// Imported versions keep advancing.
	uow := open(t, s)
	st, err := uow.LoadState(ctx, ref("z"))
	require.NoError(t, err)
	require.NoError(t, st.SetProperty("title", "zed2"))
	commit, err := uow.ApplyChanges(ctx, []*store.EntityState{st})
	require.NoError(t, err)
	assert.Equal(t, "8", commit.Versions[ref("z")])
}
