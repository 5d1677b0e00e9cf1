// Package store defines the storage boundary of tessera.
//
// An EntityStore opens one store-level UnitOfWork per domain unit of work.
// The store unit of work loads states, creates blank states for new
// entities and applies the batch of modified states atomically, under
// optimistic concurrency control: every non-new state carries the version
// it was loaded at and the whole batch is rejected with a
// *VersionConflictError if any of those versions is stale.
//
// Backends live in the sub-packages memory and sqlstore; cache decorates
// any backend with a read-through cache and storetest holds the
// conformance suite every backend must pass.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
)

type (
	// EntityStore is implemented by storage backends.
	EntityStore interface {
		// NewUnitOfWork opens a store unit of work for the given usecase,
		// evaluated at time now.
		NewUnitOfWork(ctx context.Context, usecase tessera.Usecase, now time.Time) (UnitOfWork, error)
	}

	// UnitOfWork is the store side of one domain unit of work.
	UnitOfWork interface {
		// ID returns the identity of the unit of work.
		ID() string
		// Usecase returns the usecase the unit of work was opened for.
		Usecase() tessera.Usecase
		// CurrentTime returns the time the unit of work was opened at.
		CurrentTime() time.Time
		// LoadState returns a private copy of the stored state of ref with
		// status StatusLoaded, or a *tessera.NotFoundError. It may be
		// called concurrently.
		LoadState(ctx context.Context, ref tessera.Reference) (*EntityState, error)
		// NewState returns a blank state with status StatusNew for an
		// entity of type t, or a *tessera.AlreadyExistsError if ref is
		// already stored.
		NewState(ctx context.Context, ref tessera.Reference, t *graph.Type) (*EntityState, error)
		// ApplyChanges writes the batch atomically. Every stale version
		// is reported in one *VersionConflictError and nothing is written.
		ApplyChanges(ctx context.Context, states []*EntityState) (*Commit, error)
		// Discard releases the unit of work. It is idempotent.
		Discard()
	}

	// BatchLoader is implemented by store units of work able to load
	// several states at once.
	BatchLoader interface {
		// LoadStates returns private copies of the stored states of refs,
		// in any order. Missing references are omitted.
		LoadStates(ctx context.Context, refs []tessera.Reference) ([]*EntityState, error)
	}

	// Iterator is implemented by stores able to enumerate their states.
	Iterator interface {
		// EntityStates calls fn for every stored state, in reference
		// order, until fn returns an error.
		EntityStates(ctx context.Context, fn func(*EntityState) error) error
	}

	// Importer is implemented by stores able to restore states verbatim,
	// versions included.
	Importer interface {
		// ImportStates inserts or overwrites the given states.
		ImportStates(ctx context.Context, states []*EntityState) error
	}
)

// Commit describes a successfully applied batch.
type Commit struct {
	ID string
	At time.Time
	// Versions holds the new version of every written entity. Removed
	// entities are not listed.
	Versions map[tessera.Reference]string
}

// ErrVersionConflict is matched by every *VersionConflictError.
var ErrVersionConflict = errors.New("tessera/store: version conflict")

// VersionConflictError lists every entity of a batch whose stored version
// differs from the version it was loaded at, or that was created
// concurrently.
type VersionConflictError struct {
	Refs []tessera.Reference
}

// Error returns the error string.
func (e *VersionConflictError) Error() string {
	refs := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		refs[i] = r.String()
	}
	return fmt.Sprintf("tessera/store: version conflict on %s", strings.Join(refs, ", "))
}

// Is reports whether err is ErrVersionConflict.
func (e *VersionConflictError) Is(err error) bool {
	return err == ErrVersionConflict
}

// NewVersionConflictError returns a conflict error listing refs in
// reference order.
func NewVersionConflictError(refs ...tessera.Reference) *VersionConflictError {
	refs = slices.Clone(refs)
	slices.SortFunc(refs, tessera.CompareReferences)
	return &VersionConflictError{Refs: slices.Compact(refs)}
}

// IsVersionConflict reports whether err is a version conflict.
func IsVersionConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *VersionConflictError
	return errors.As(err, &e) || errors.Is(err, ErrVersionConflict)
}

// Batch is a validated batch of changes, split by operation.
type Batch struct {
	Inserts []*EntityState
	Updates []*EntityState
	Removes []*EntityState
}

// Len returns the number of states to write.
func (b Batch) Len() int {
	return len(b.Inserts) + len(b.Updates) + len(b.Removes)
}

// Refs returns the references of every state in the batch.
func (b Batch) Refs() []tessera.Reference {
	refs := make([]tessera.Reference, 0, b.Len())
	for _, s := range slices.Concat(b.Inserts, b.Updates, b.Removes) {
		refs = append(refs, s.Reference)
	}
	return refs
}

// NewBatch splits states by operation. Unmodified states are ignored, as
// are removed states that were never stored (empty version). A reference
// appearing twice is an error.
func NewBatch(states []*EntityState) (Batch, error) {
	var b Batch
	seen := make(map[tessera.Reference]struct{}, len(states))
	for _, s := range states {
		if s == nil {
			return Batch{}, errors.New("tessera/store: nil state in batch")
		}
		if _, ok := seen[s.Reference]; ok {
			return Batch{}, fmt.Errorf("tessera/store: %s appears twice in batch", s.Reference)
		}
		seen[s.Reference] = struct{}{}
		switch s.Status {
		case StatusNew:
			b.Inserts = append(b.Inserts, s)
		case StatusUpdated:
			b.Updates = append(b.Updates, s)
		case StatusRemoved:
			if s.Version != "" {
				b.Removes = append(b.Removes, s)
			}
		}
	}
	return b, nil
}
