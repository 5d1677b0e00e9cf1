package cache

import "sync"

// guard orders the cache writes of loads and commits touching one key.
//
// A participant calls begin before reading or writing the underlying
// store and finish once done. Each finished commit advances the key's
// generation, so a participant whose snapshot is older knows a newer
// state may have been stored and must not write its own. Keys are only
// tracked while participants hold them.
type guard struct {
	mu   sync.Mutex
	keys map[string]*slot
}

type slot struct {
	refs int
	gen  uint64
}

// begin registers a participant for key and returns its snapshot.
func (g *guard) begin(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = make(map[string]*slot)
	}
	s, ok := g.keys[key]
	if !ok {
		s = &slot{}
		g.keys[key] = s
	}
	s.refs++
	return s.gen
}

// finish ends a participation begun at gen. fn runs under the lock and
// reports whether no commit finished since begin. A commit advances the
// generation once fn returns.
func (g *guard) finish(key string, gen uint64, commit bool, fn func(current bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.keys[key]
	fn(s.gen == gen)
	if commit {
		s.gen++
	}
	if s.refs--; s.refs == 0 {
		delete(g.keys, key)
	}
}
