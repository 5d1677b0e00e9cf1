package unitofwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/contrib/dataloader"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

// Session errors.
var (
	// ErrUnknownType is returned for references to types the graph does
	// not declare.
	ErrUnknownType = errors.New("unitofwork: unknown entity type")

	// ErrNotActive is returned when pausing a session that is not open.
	ErrNotActive = errors.New("unitofwork: unit of work is not active")

	// ErrNotPaused is returned when resuming a session that is not paused.
	ErrNotPaused = errors.New("unitofwork: unit of work is not paused")

	// ErrForeignEntity is returned when passing an entity to a session
	// other than the one it belongs to.
	ErrForeignEntity = errors.New("unitofwork: entity belongs to another unit of work")

	// ErrBuilderUsed is returned by an EntityBuilder that already created
	// its entity.
	ErrBuilderUsed = errors.New("unitofwork: entity builder already used")
)

type sessionState uint8

const (
	sessionOpen sessionState = iota
	sessionPaused
	sessionClosed
)

// UnitOfWork is a session over the entities of a store: an identity map
// that buffers changes until completion.
type UnitOfWork struct {
	factory *Factory
	store   store.UnitOfWork
	usecase tessera.Usecase
	now     time.Time
	started time.Time
	log     *slog.Logger

	state   sessionState
	outcome Outcome

	entities  map[tessera.Reference]*Entity
	order     []*Entity
	callbacks []Callback
	loaded    int
}

// ID returns the identity of the unit of work.
func (u *UnitOfWork) ID() string { return u.store.ID() }

// Usecase returns the usecase the unit of work was opened for.
func (u *UnitOfWork) Usecase() tessera.Usecase { return u.usecase }

// CurrentTime returns the current time of the unit of work.
func (u *UnitOfWork) CurrentTime() time.Time { return u.now }

// Graph returns the entity graph of the unit of work.
func (u *UnitOfWork) Graph() *graph.Graph { return u.factory.graph }

// IsOpen reports whether the unit of work was neither completed nor
// discarded. A paused unit of work is open.
func (u *UnitOfWork) IsOpen() bool { return u.state != sessionClosed }

// IsPaused reports whether the unit of work is paused.
func (u *UnitOfWork) IsPaused() bool { return u.state == sessionPaused }

// Outcome returns how the unit of work was closed, or zero while open.
func (u *UnitOfWork) Outcome() Outcome { return u.outcome }

// Pause detaches the unit of work from the contexts carrying it, without
// closing it. Using a paused unit of work is a caller error.
func (u *UnitOfWork) Pause() error {
	switch u.state {
	case sessionClosed:
		return u.closedErr()
	case sessionPaused:
		return ErrNotActive
	}
	u.state = sessionPaused
	return nil
}

// Resume reattaches a paused unit of work.
func (u *UnitOfWork) Resume() error {
	switch u.state {
	case sessionClosed:
		return u.closedErr()
	case sessionOpen:
		return ErrNotPaused
	}
	u.state = sessionOpen
	return nil
}

func (u *UnitOfWork) closedErr() error {
	if u.state != sessionClosed {
		return nil
	}
	return tessera.NewSessionClosedError(u.ID(), u.outcome.String())
}

// Entities returns the entities of the identity map, in the order they
// entered the session.
func (u *UnitOfWork) Entities() []*Entity {
	return slices.Clone(u.order)
}

func (u *UnitOfWork) typeOf(ref tessera.Reference) (*graph.Type, error) {
	t, ok := u.factory.graph.Type(ref.Type)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, ref.Type)
	}
	return t, nil
}

// cached returns the entity of ref held by the identity map. Removed
// entities are reported as not found.
func (u *UnitOfWork) cached(ref tessera.Reference) (*Entity, bool, error) {
	e, ok := u.entities[ref]
	if !ok {
		return nil, false, nil
	}
	if e.state.Status == store.StatusRemoved {
		return nil, true, tessera.NewNotFoundError(ref)
	}
	return e, true, nil
}

func (u *UnitOfWork) track(t *graph.Type, st *store.EntityState) *Entity {
	e := &Entity{uow: u, typ: t, state: st}
	u.entities[st.Reference] = e
	u.order = append(u.order, e)
	return e
}

func (u *UnitOfWork) untrack(ref tessera.Reference) {
	delete(u.entities, ref)
	u.order = slices.DeleteFunc(u.order, func(e *Entity) bool {
		return e.state.Reference == ref
	})
}

// Get returns the entity of the given type and identity.
func (u *UnitOfWork) Get(ctx context.Context, typ, id string) (*Entity, error) {
	return u.GetReference(ctx, tessera.NewReference(typ, id))
}

// GetReference returns the entity of ref. Repeated calls with one
// reference return the same *Entity. Entities removed in this session
// are reported with a *tessera.NotFoundError.
func (u *UnitOfWork) GetReference(ctx context.Context, ref tessera.Reference) (*Entity, error) {
	if err := u.closedErr(); err != nil {
		return nil, err
	}
	if e, ok, err := u.cached(ref); ok {
		return e, err
	}
	t, err := u.typeOf(ref)
	if err != nil {
		return nil, err
	}
	st, err := u.store.LoadState(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := t.Coerce(st.Properties); err != nil {
		return nil, fmt.Errorf("unitofwork: load %s: %w", ref, err)
	}
	u.loaded++
	u.log.Debug("unitofwork: loaded entity", "ref", ref, "version", st.Version)
	return u.track(t, st), nil
}

// GetAll returns the entities of refs, in order. Entities missing from
// the identity map are loaded in batches; every missing entity is reported
// by one *tessera.NotFoundError joined into the returned error.
func (u *UnitOfWork) GetAll(ctx context.Context, refs []tessera.Reference) ([]*Entity, error) {
	if err := u.closedErr(); err != nil {
		return nil, err
	}
	result := make([]*Entity, len(refs))
	var (
		errs   []error
		misses []tessera.Reference
	)
	for i, ref := range refs {
		if _, err := u.typeOf(ref); err != nil {
			return nil, err
		}
		e, ok, err := u.cached(ref)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			result[i] = e
		default:
			misses = append(misses, ref)
		}
	}
	if len(misses) > 0 {
		states, serrs, err := dataloader.Load(ctx, misses, u.loadStates,
			func(s *store.EntityState) tessera.Reference { return s.Reference },
			dataloader.WithBatchSize(u.factory.batchSize),
		)
		if err != nil {
			return nil, err
		}
		for i, st := range states {
			ref := misses[i]
			if serrs[i] != nil {
				errs = append(errs, tessera.NewNotFoundError(ref))
				continue
			}
			if _, ok := u.entities[ref]; ok {
				continue
			}
			t, _ := u.typeOf(ref)
			if err := t.Coerce(st.Properties); err != nil {
				return nil, fmt.Errorf("unitofwork: load %s: %w", ref, err)
			}
			u.loaded++
			u.track(t, st)
		}
		u.log.Debug("unitofwork: loaded entities", "count", len(misses))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	for i, ref := range refs {
		if result[i] == nil {
			result[i] = u.entities[ref]
		}
	}
	return result, nil
}

// loadStates loads a batch of states, through the store's BatchLoader
// when it has one. Missing states are omitted.
func (u *UnitOfWork) loadStates(ctx context.Context, refs []tessera.Reference) ([]*store.EntityState, error) {
	if bl, ok := u.store.(store.BatchLoader); ok {
		return bl.LoadStates(ctx, refs)
	}
	states := make([]*store.EntityState, 0, len(refs))
	for _, ref := range refs {
		st, err := u.store.LoadState(ctx, ref)
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

// NewEntity creates an entity of the given type. An empty id is replaced
// by a generated identity. Every property is initialized to its default,
// then the create hooks of the type run in declaration order; a failing
// hook aborts the creation with a *tessera.LifecycleError.
func (u *UnitOfWork) NewEntity(ctx context.Context, typ, id string) (*Entity, error) {
	t, ref, err := u.newReference(typ, id)
	if err != nil {
		return nil, err
	}
	st, err := u.newState(ctx, t, ref)
	if err != nil {
		return nil, err
	}
	for _, f := range t.Fields {
		st.Properties[f.Name] = f.DefaultValue()
	}
	e := &Entity{uow: u, typ: t, state: st}
	if err := e.created(ctx); err != nil {
		return nil, err
	}
	u.register(e)
	return e, nil
}

// newReference resolves typ and the identity of a new entity, generating
// one when id is empty.
func (u *UnitOfWork) newReference(typ, id string) (*graph.Type, tessera.Reference, error) {
	if err := u.closedErr(); err != nil {
		return nil, tessera.Reference{}, err
	}
	t, ok := u.factory.graph.Type(typ)
	if !ok {
		return nil, tessera.Reference{}, fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	if id == "" {
		id = u.factory.ids.Generate(typ)
	}
	return t, t.Reference(id), nil
}

// newState asks the store for the blank state of a new entity ref.
func (u *UnitOfWork) newState(ctx context.Context, t *graph.Type, ref tessera.Reference) (*store.EntityState, error) {
	if e, ok := u.entities[ref]; ok {
		// An entity created and removed in this session was never stored
		// and may be created again.
		if e.state.Status != store.StatusRemoved || e.state.Version != "" {
			return nil, tessera.NewAlreadyExistsError(ref)
		}
		u.untrack(ref)
	}
	return u.store.NewState(ctx, ref, t)
}

// created runs the create hooks of e.
func (e *Entity) created(ctx context.Context) error {
	for _, h := range e.typ.Hooks {
		if h.OnCreate == nil {
			continue
		}
		if err := h.OnCreate(ctx, e); err != nil {
			return tessera.NewLifecycleError(e.Reference(), h.Name, tessera.OpCreate, err)
		}
	}
	return nil
}

// register adds a created entity to the identity map.
func (u *UnitOfWork) register(e *Entity) {
	u.entities[e.Reference()] = e
	u.order = append(u.order, e)
	u.log.Debug("unitofwork: created entity", "ref", e.Reference())
}

// Remove removes e and, recursively, the targets of its aggregated
// associations. Each entity is removed once, whatever the number of paths
// leading to it. The remove hooks of an entity run before its aggregated
// associations are followed; a failing hook aborts the removal with a
// *tessera.LifecycleError and no entity is marked removed.
func (u *UnitOfWork) Remove(ctx context.Context, e *Entity) error {
	if err := u.closedErr(); err != nil {
		return err
	}
	if e.uow != u {
		return ErrForeignEntity
	}
	if e.state.Status == store.StatusRemoved {
		return tessera.NewNotFoundError(e.Reference())
	}
	var (
		queue   = []*Entity{e}
		removed []*Entity
		seen    = map[tessera.Reference]bool{e.Reference(): true}
	)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, h := range next.typ.Hooks {
			if h.OnRemove == nil {
				continue
			}
			if err := h.OnRemove(ctx, next); err != nil {
				return tessera.NewLifecycleError(next.Reference(), h.Name, tessera.OpRemove, err)
			}
		}
		removed = append(removed, next)
		for _, ref := range next.aggregatedReferences() {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			target, err := u.GetReference(ctx, ref)
			switch {
			case tessera.IsNotFound(err):
				u.log.Debug("unitofwork: skipped missing aggregated entity", "owner", next.Reference(), "ref", ref)
			case err != nil:
				return err
			default:
				queue = append(queue, target)
			}
		}
	}
	for _, r := range removed {
		if err := r.state.MarkRemoved(); err != nil {
			return err
		}
	}
	u.log.Debug("unitofwork: removed entity", "ref", e.Reference(), "cascade", len(removed)-1)
	return nil
}

// Refresh reloads the given entities from the store, dropping their
// buffered changes. Without arguments, it reloads every stored entity of
// the session. New entities are left untouched. An entity removed from the
// store since it was loaded leaves the identity map and is reported with a
// *tessera.NotFoundError.
func (u *UnitOfWork) Refresh(ctx context.Context, entities ...*Entity) error {
	if err := u.closedErr(); err != nil {
		return err
	}
	if len(entities) == 0 {
		entities = u.Entities()
	}
	var errs []error
	for _, e := range entities {
		if e.uow != u {
			return ErrForeignEntity
		}
		if e.state.Status == store.StatusNew || e.state.Version == "" {
			continue
		}
		st, err := u.store.LoadState(ctx, e.Reference())
		if tessera.IsNotFound(err) {
			u.untrack(e.Reference())
			errs = append(errs, err)
			continue
		}
		if err != nil {
			return err
		}
		if err := e.typ.Coerce(st.Properties); err != nil {
			return fmt.Errorf("unitofwork: refresh %s: %w", e.Reference(), err)
		}
		e.state = st
		if _, ok := u.entities[st.Reference]; !ok {
			u.entities[st.Reference] = e
			u.order = append(u.order, e)
		}
	}
	return errors.Join(errs...)
}

// AddCompletionCallback registers cb. Callbacks run in registration order.
func (u *UnitOfWork) AddCompletionCallback(cb Callback) {
	u.callbacks = append(u.callbacks, cb)
}

// RemoveCompletionCallback unregisters cb. It reports false if cb was not
// registered. cb must be comparable.
func (u *UnitOfWork) RemoveCompletionCallback(cb Callback) bool {
	i := slices.Index(u.callbacks, cb)
	if i < 0 {
		return false
	}
	u.callbacks = slices.Delete(u.callbacks, i, i+1)
	return true
}

// Discard closes the unit of work without contacting the store. Buffered
// changes are dropped. Discarding a closed unit of work does nothing.
func (u *UnitOfWork) Discard() {
	if u.state == sessionClosed {
		return
	}
	u.close(OutcomeDiscarded)
	ctx := context.Background()
	u.notifyAfter(ctx, slices.Clone(u.callbacks), OutcomeDiscarded)
	u.log.Debug("unitofwork: discarded")
	u.observe(ctx, Report{Outcome: OutcomeDiscarded})
}

func (u *UnitOfWork) close(outcome Outcome) {
	u.state = sessionClosed
	u.outcome = outcome
	u.store.Discard()
	clear(u.entities)
	u.order = nil
}

func (u *UnitOfWork) notifyAfter(ctx context.Context, callbacks []Callback, outcome Outcome) {
	for _, cb := range callbacks {
		cb.AfterCompletion(ctx, u, outcome)
	}
}

func (u *UnitOfWork) observe(ctx context.Context, r Report) {
	r.ID = u.ID()
	r.Usecase = u.usecase
	r.Duration = u.factory.clock().Sub(u.started)
	r.Loaded = u.loaded
	for _, o := range u.factory.observers {
		o.ObserveUnitOfWork(ctx, r)
	}
}
