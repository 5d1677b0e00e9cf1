// Package memory provides an in-process entity store.
//
// Records are kept in a map and guarded by striped per-entity locks:
// applying a batch locks only the stripes of the entities it touches, in
// ascending order, so batches over unrelated entities commit without
// contending with each other. Versions are decimal counters starting at 1.
package memory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

const stripeCount = 64

// Store is an in-memory store.EntityStore.
type Store struct {
	// mu guards the records map itself. Per-entity serialization of
	// batches is done by stripes.
	mu      sync.RWMutex
	records map[tessera.Reference]*record
	stripes [stripeCount]sync.Mutex
	log     *slog.Logger
}

type record struct {
	state   *store.EntityState
	version uint64
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New returns an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[tessera.Reference]*record),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// NewUnitOfWork implements store.EntityStore.
func (s *Store) NewUnitOfWork(ctx context.Context, usecase tessera.Usecase, now time.Time) (store.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unitOfWork{
		store:   s,
		id:      uuid.NewString(),
		usecase: usecase,
		now:     now,
	}, nil
}

func (s *Store) lookup(ref tessera.Reference) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[ref]
	return r, ok
}

// lockStripes locks the stripes of refs in ascending order and returns the
// matching unlock function.
func (s *Store) lockStripes(refs []tessera.Reference) func() {
	idx := make([]int, 0, len(refs))
	for _, ref := range refs {
		h := fnv.New32a()
		h.Write([]byte(ref.Type))
		h.Write([]byte{0})
		h.Write([]byte(ref.ID))
		idx = append(idx, int(h.Sum32()%stripeCount))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		s.stripes[i].Lock()
	}
	return func() {
		for _, i := range slices.Backward(idx) {
			s.stripes[i].Unlock()
		}
	}
}

func (s *Store) apply(ctx context.Context, id string, now time.Time, states []*store.EntityState) (*store.Commit, error) {
	batch, err := store.NewBatch(states)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.lockStripes(batch.Refs())
	defer unlock()

	var conflicts []tessera.Reference
	s.mu.RLock()
	for _, st := range batch.Inserts {
		if _, ok := s.records[st.Reference]; ok {
			conflicts = append(conflicts, st.Reference)
		}
	}
	for _, st := range slices.Concat(batch.Updates, batch.Removes) {
		r, ok := s.records[st.Reference]
		if !ok || strconv.FormatUint(r.version, 10) != st.Version {
			conflicts = append(conflicts, st.Reference)
		}
	}
	s.mu.RUnlock()
	if len(conflicts) > 0 {
		err := store.NewVersionConflictError(conflicts...)
		s.log.Warn("memory: rejected batch", "uow", id, "conflicts", len(err.Refs))
		return nil, err
	}

	commit := &store.Commit{
		ID:       uuid.NewString(),
		At:       now,
		Versions: make(map[tessera.Reference]string, len(batch.Inserts)+len(batch.Updates)),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range slices.Concat(batch.Inserts, batch.Updates) {
		var version uint64 = 1
		if r, ok := s.records[st.Reference]; ok {
			version = r.version + 1
		}
		c := st.Clone()
		c.MarkCommitted(strconv.FormatUint(version, 10), now)
		s.records[st.Reference] = &record{state: c, version: version}
		commit.Versions[st.Reference] = c.Version
	}
	for _, st := range batch.Removes {
		delete(s.records, st.Reference)
	}
	s.log.Debug("memory: applied batch", "uow", id, "commit", commit.ID,
		"inserts", len(batch.Inserts), "updates", len(batch.Updates), "removes", len(batch.Removes))
	return commit, nil
}

// EntityStates implements store.Iterator.
func (s *Store) EntityStates(ctx context.Context, fn func(*store.EntityState) error) error {
	s.mu.RLock()
	states := make([]*store.EntityState, 0, len(s.records))
	for _, ref := range slices.SortedFunc(maps.Keys(s.records), tessera.CompareReferences) {
		states = append(states, s.records[ref].state.Clone())
	}
	s.mu.RUnlock()
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
	}
	return nil
}

// ImportStates implements store.Importer. States without a numeric
// version are stored at version 1.
func (s *Store) ImportStates(ctx context.Context, states []*store.EntityState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	refs := make([]tessera.Reference, len(states))
	for i, st := range states {
		refs[i] = st.Reference
	}
	unlock := s.lockStripes(refs)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		version, err := strconv.ParseUint(st.Version, 10, 64)
		if err != nil || version == 0 {
			version = 1
		}
		c := st.Clone()
		c.MarkCommitted(strconv.FormatUint(version, 10), st.LastModified)
		s.records[st.Reference] = &record{state: c, version: version}
	}
	return nil
}

type unitOfWork struct {
	store     *Store
	id        string
	usecase   tessera.Usecase
	now       time.Time
	discarded bool
}

func (u *unitOfWork) ID() string               { return u.id }
func (u *unitOfWork) Usecase() tessera.Usecase { return u.usecase }
func (u *unitOfWork) CurrentTime() time.Time   { return u.now }
func (u *unitOfWork) Discard()                 { u.discarded = true }
func (u *unitOfWork) closed() error {
	if u.discarded {
		return tessera.NewSessionClosedError(u.id, "discarded")
	}
	return nil
}

func (u *unitOfWork) LoadState(ctx context.Context, ref tessera.Reference) (*store.EntityState, error) {
	if err := u.closed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := u.store.lookup(ref)
	if !ok {
		return nil, tessera.NewNotFoundError(ref)
	}
	return r.state.Clone(), nil
}

func (u *unitOfWork) LoadStates(ctx context.Context, refs []tessera.Reference) ([]*store.EntityState, error) {
	if err := u.closed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	states := make([]*store.EntityState, 0, len(refs))
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, ref := range refs {
		if r, ok := u.store.records[ref]; ok {
			states = append(states, r.state.Clone())
		}
	}
	return states, nil
}

func (u *unitOfWork) NewState(ctx context.Context, ref tessera.Reference, _ *graph.Type) (*store.EntityState, error) {
	if err := u.closed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := u.store.lookup(ref); ok {
		return nil, tessera.NewAlreadyExistsError(ref)
	}
	return store.NewEntityState(ref, store.StatusNew), nil
}

func (u *unitOfWork) ApplyChanges(ctx context.Context, states []*store.EntityState) (*store.Commit, error) {
	if err := u.closed(); err != nil {
		return nil, err
	}
	return u.store.apply(ctx, u.id, u.now, states)
}

var (
	_ store.EntityStore = (*Store)(nil)
	_ store.Iterator    = (*Store)(nil)
	_ store.Importer    = (*Store)(nil)
	_ store.BatchLoader = (*unitOfWork)(nil)
)
