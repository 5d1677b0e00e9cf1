// Package dataloader provides generic helpers for loading entities in
// batches.
//
// A BatchFunc loads the values of a batch of keys; it may omit keys whose
// value does not exist. Load splits a key set into batches, runs the
// batches concurrently and returns the values in key order:
//
//	states, errs, err := dataloader.Load(ctx, refs,
//	    func(ctx context.Context, refs []tessera.Reference) ([]*store.EntityState, error) {
//	        return loader.LoadStates(ctx, refs)
//	    },
//	    func(s *store.EntityState) tessera.Reference { return s.Reference },
//	    dataloader.WithBatchSize(50),
//	)
//
// errs[i] is ErrNotFound for every key the batch functions did not return.
package dataloader

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is reported for keys missing from a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc loads the values of a batch of keys. Missing keys are omitted
// from the result; the order of the result is irrelevant.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// OrderByKeys reorders values to match the order of keys. Missing values
// are represented as zero values with an ErrNotFound error.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// GroupByKey groups values by key, keeping their relative order.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// Option configures Load.
type Option func(*options)

type options struct {
	batchSize   int
	concurrency int
}

// WithBatchSize sets the maximum number of keys per batch. The default is
// 100.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithConcurrency sets the maximum number of batches loaded at once. The
// default is 4.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Load deduplicates keys, loads them in batches with fn and returns the
// values ordered like keys. The first error returned by fn cancels the
// remaining batches and is returned as err.
func Load[K comparable, V any](ctx context.Context, keys []K, fn BatchFunc[K, V], keyFn KeyFunc[K, V], opts ...Option) ([]V, []error, error) {
	o := options{batchSize: 100, concurrency: 4}
	for _, opt := range opts {
		opt(&o)
	}
	unique := make([]K, 0, len(keys))
	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			unique = append(unique, k)
		}
	}
	var batches [][]K
	for len(unique) > 0 {
		n := min(o.batchSize, len(unique))
		batches = append(batches, unique[:n:n])
		unique = unique[n:]
	}
	results := make([][]V, len(batches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			values, err := fn(ctx, batch)
			if err != nil {
				return err
			}
			results[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var values []V
	for _, r := range results {
		values = append(values, r...)
	}
	ordered, errs := OrderByKeys(keys, values, keyFn)
	return ordered, errs, nil
}
