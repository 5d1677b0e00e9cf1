package cache

import "sync/atomic"

type counters struct {
	hits, misses atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
