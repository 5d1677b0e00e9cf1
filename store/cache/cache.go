// Package cache decorates an entity store with a read-through cache of
// encoded entity states.
//
// Loads are served from a tessera.Cache when possible; concurrent misses
// for one entity collapse into a single load of the underlying store.
// Successful commits refresh the entries of written entities and evict
// removed ones; a version conflict evicts every entity of the rejected
// batch so that the next load observes the stored version. A load or a
// commit racing with a later commit of the same entity leaves the cache
// entry to the later one.
//
//	s := cache.New(sqlStore, cache.NewLRU(10_000, 5*time.Minute))
//	f, err := unitofwork.NewFactory(g, s)
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/codec"
)

// Stats counts cache lookups.
type Stats struct {
	Hits   int64
	Misses int64
}

// Store is a store.EntityStore serving loads from a cache.
type Store struct {
	store.EntityStore
	cache     tessera.Cache
	codec     codec.Codec
	namespace string
	ttl       time.Duration
	log       *slog.Logger
	group     singleflight.Group
	guard     guard
	counters  counters
}

// Option configures the Store.
type Option func(*Store)

// WithNamespace prefixes every cache key, to share one cache between
// several stores.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		s.namespace = ns
	}
}

// WithTTL sets the lifetime of cached entries. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithCodec sets the codec of cached entries. The default is msgpack.
// Numbers read back through the JSON codec are json.Number values until
// the unit of work coerces them.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New returns a cached view of s.
func New(s store.EntityStore, c tessera.Cache, opts ...Option) *Store {
	cs := &Store{
		EntityStore: s,
		cache:       c,
		codec:       codec.MsgPack{},
		namespace:   "tessera",
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// Namespace returns the prefix of the cache keys.
func (s *Store) Namespace() string {
	return s.namespace
}

// Stats returns the lookup counters.
func (s *Store) Stats() Stats {
	return s.counters.snapshot()
}

func (s *Store) key(ref tessera.Reference) string {
	return tessera.CacheKey{Namespace: s.namespace, Ref: ref}.String()
}

// NewUnitOfWork implements store.EntityStore.
func (s *Store) NewUnitOfWork(ctx context.Context, usecase tessera.Usecase, now time.Time) (store.UnitOfWork, error) {
	uow, err := s.EntityStore.NewUnitOfWork(ctx, usecase, now)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{UnitOfWork: uow, store: s}, nil
}

// lookup returns the cached state of ref. Cache failures are logged and
// treated as misses.
func (s *Store) lookup(ctx context.Context, ref tessera.Reference) (*store.EntityState, bool) {
	b, err := s.cache.Get(ctx, s.key(ref))
	if err != nil {
		s.log.Warn("cache: get failed", "ref", ref, "error", err)
	}
	if err != nil || b == nil {
		s.counters.misses.Add(1)
		return nil, false
	}
	st, err := s.codec.Unmarshal(b)
	if err != nil {
		s.log.Warn("cache: dropping undecodable entry", "ref", ref, "error", err)
		s.evict(ctx, ref)
		s.counters.misses.Add(1)
		return nil, false
	}
	s.counters.hits.Add(1)
	return st, true
}

func (s *Store) put(ctx context.Context, st *store.EntityState) {
	b, err := s.codec.Marshal(st)
	if err == nil {
		err = s.cache.Set(ctx, s.key(st.Reference), b, s.ttl)
	}
	if err != nil {
		s.log.Warn("cache: set failed", "ref", st.Reference, "error", err)
	}
}

func (s *Store) evict(ctx context.Context, refs ...tessera.Reference) {
	for _, ref := range refs {
		if err := s.cache.Delete(ctx, s.key(ref)); err != nil {
			s.log.Warn("cache: delete failed", "ref", ref, "error", err)
		}
	}
}

// EntityStates implements store.Iterator when the underlying store does.
func (s *Store) EntityStates(ctx context.Context, fn func(*store.EntityState) error) error {
	it, ok := s.EntityStore.(store.Iterator)
	if !ok {
		return errors.New("cache: underlying store does not implement store.Iterator")
	}
	return it.EntityStates(ctx, fn)
}

// ImportStates implements store.Importer when the underlying store does.
// The cache of the namespace is dropped.
func (s *Store) ImportStates(ctx context.Context, states []*store.EntityState) error {
	im, ok := s.EntityStore.(store.Importer)
	if !ok {
		return errors.New("cache: underlying store does not implement store.Importer")
	}
	if err := im.ImportStates(ctx, states); err != nil {
		return err
	}
	return s.cache.DeletePrefix(ctx, s.namespace+":")
}

type unitOfWork struct {
	store.UnitOfWork
	store     *Store
	discarded atomic.Bool
}

// Discard implements store.UnitOfWork.
func (u *unitOfWork) Discard() {
	u.discarded.Store(true)
	u.UnitOfWork.Discard()
}

func (u *unitOfWork) check(ctx context.Context) error {
	if u.discarded.Load() {
		return tessera.NewSessionClosedError(u.ID(), "discarded")
	}
	return ctx.Err()
}

// LoadState returns the cached state of ref, loading it on a miss.
func (u *unitOfWork) LoadState(ctx context.Context, ref tessera.Reference) (*store.EntityState, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	s := u.store
	if st, ok := s.lookup(ctx, ref); ok {
		return st, nil
	}
	key := s.key(ref)
	v, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.guard.begin(key)
		st, err := u.UnitOfWork.LoadState(ctx, ref)
		s.guard.finish(key, gen, false, func(current bool) {
			if err == nil && current {
				s.put(ctx, st)
			}
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	// The loaded state is shared by every waiter.
	return v.(*store.EntityState).Clone(), nil
}

// LoadStates implements store.BatchLoader.
func (u *unitOfWork) LoadStates(ctx context.Context, refs []tessera.Reference) ([]*store.EntityState, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	s := u.store
	var (
		states []*store.EntityState
		misses []tessera.Reference
	)
	for _, ref := range refs {
		if st, ok := s.lookup(ctx, ref); ok {
			states = append(states, st)
		} else {
			misses = append(misses, ref)
		}
	}
	if len(misses) == 0 {
		return states, nil
	}
	if bl, ok := u.UnitOfWork.(store.BatchLoader); ok {
		gens := make(map[string]uint64, len(misses))
		for _, ref := range misses {
			key := s.key(ref)
			if _, ok := gens[key]; !ok {
				gens[key] = s.guard.begin(key)
			}
		}
		loaded, err := bl.LoadStates(ctx, misses)
		found := make(map[string]*store.EntityState, len(loaded))
		for _, st := range loaded {
			found[s.key(st.Reference)] = st
		}
		for key, gen := range gens {
			s.guard.finish(key, gen, false, func(current bool) {
				if st := found[key]; err == nil && current && st != nil {
					s.put(ctx, st)
				}
			})
		}
		if err != nil {
			return nil, err
		}
		return append(states, loaded...), nil
	}
	for _, ref := range misses {
		st, err := u.LoadState(ctx, ref)
		switch {
		case tessera.IsNotFound(err):
		case err != nil:
			return nil, err
		default:
			states = append(states, st)
		}
	}
	return states, nil
}

// ApplyChanges applies the batch and refreshes the cache.
func (u *unitOfWork) ApplyChanges(ctx context.Context, states []*store.EntityState) (*store.Commit, error) {
	s := u.store
	gens := make([]uint64, len(states))
	for i, st := range states {
		if st != nil {
			gens[i] = s.guard.begin(s.key(st.Reference))
		}
	}
	commit, err := u.UnitOfWork.ApplyChanges(ctx, states)
	conflict := store.IsVersionConflict(err)
	for i, st := range states {
		if st == nil {
			continue
		}
		// Failures other than conflicts leave the stored state untouched.
		written := err == nil || conflict
		s.guard.finish(s.key(st.Reference), gens[i], written, func(current bool) {
			switch {
			case err != nil:
				if conflict {
					s.evict(ctx, st.Reference)
				}
			case !current:
				s.evict(ctx, st.Reference)
			default:
				if version, ok := commit.Versions[st.Reference]; ok {
					c := st.Clone()
					c.MarkCommitted(version, commit.At)
					s.put(ctx, c)
				} else if st.Status == store.StatusRemoved {
					s.evict(ctx, st.Reference)
				}
			}
		})
	}
	if err != nil {
		return nil, err
	}
	return commit, nil
}

var (
	_ store.EntityStore = (*Store)(nil)
	_ store.Iterator    = (*Store)(nil)
	_ store.Importer    = (*Store)(nil)
	_ store.BatchLoader = (*unitOfWork)(nil)
)
