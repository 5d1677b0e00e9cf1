package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/syssam/tessera"
)

type entry struct {
	value   []byte
	expires time.Time
}

// LRU is an in-process tessera.Cache bounded in size. Entries expire after
// the cache TTL, or earlier when set with a shorter one.
type LRU struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

// NewLRU returns an LRU holding at most size entries, each for at most
// ttl. A zero ttl disables cache wide expiration.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		now: time.Now,
	}
}

// Get implements tessera.Cache.
func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

// Set implements tessera.Cache.
func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

// Delete implements tessera.Cache.
func (c *LRU) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// DeletePrefix implements tessera.Cache.
func (c *LRU) DeletePrefix(_ context.Context, prefix string) error {
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

// Clear implements tessera.Cache.
func (c *LRU) Clear(context.Context) error {
	c.lru.Purge()
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *LRU) Len() int { return c.lru.Len() }

var _ tessera.Cache = (*LRU)(nil)
