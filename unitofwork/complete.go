package unitofwork

import (
	"context"
	"errors"
	"slices"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/store"
)

// Complete submits the changes of the unit of work and closes it.
//
// Registered callbacks are asked first; then every created or updated
// entity is validated and the changes are authorized by the factory
// policy. Violations found on several entities are aggregated into one
// *tessera.CompletionError. The store applies the batch atomically; stale
// versions fail the completion with a *tessera.ConcurrentModificationError
// naming every conflicting entity. On any failure the session stays open
// with its changes buffered and version tokens untouched, so the caller
// may fix the problem, refresh conflicting entities and complete again.
//
// Completing a closed unit of work fails with a *tessera.SessionClosedError.
func (u *UnitOfWork) Complete(ctx context.Context) error {
	return u.complete(ctx, false)
}

// Apply submits the changes of the unit of work like Complete, but keeps
// it open: written entities become loaded entities at their new version
// and removed entities leave the identity map.
func (u *UnitOfWork) Apply(ctx context.Context) error {
	return u.complete(ctx, true)
}

type changeSet struct {
	changes []Change
	states  []*store.EntityState
	report  Report
}

func (u *UnitOfWork) changeSet() changeSet {
	var cs changeSet
	for _, e := range u.order {
		var op Op
		switch e.state.Status {
		case store.StatusNew:
			op = OpCreate
			cs.report.Created++
		case store.StatusUpdated:
			op = OpUpdate
			cs.report.Updated++
		case store.StatusRemoved:
			if e.state.Version == "" {
				continue
			}
			op = OpRemove
			cs.report.Removed++
		default:
			continue
		}
		cs.changes = append(cs.changes, Change{Op: op, Entity: e})
		cs.states = append(cs.states, e.state)
	}
	return cs
}

func (u *UnitOfWork) complete(ctx context.Context, continued bool) error {
	if err := u.closedErr(); err != nil {
		return err
	}
	callbacks := slices.Clone(u.callbacks)
	cs := u.changeSet()
	fail := func(err error) error {
		r := cs.report
		r.Outcome, r.Err = OutcomeFailed, err
		if cm, ok := err.(*tessera.ConcurrentModificationError); ok {
			r.Conflicts = len(cm.Refs)
			u.log.Warn("unitofwork: concurrent modification", "conflicts", cm.Refs)
		} else {
			u.log.Info("unitofwork: completion failed", "error", err)
		}
		u.observe(ctx, r)
		return err
	}

	var errs []error
	for _, cb := range callbacks {
		errs = append(errs, cb.BeforeCompletion(ctx, u))
	}
	if err := tessera.NewCompletionError(errs...); err != nil {
		return fail(err)
	}
	// Callbacks may have changed entities.
	cs = u.changeSet()

	errs = errs[:0]
	for _, c := range cs.changes {
		if c.Op == OpRemove {
			continue
		}
		if err := c.Entity.CheckConstraints(); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
	case 1:
		return fail(errs[0])
	default:
		return fail(tessera.NewCompletionError(errs...))
	}

	if p := u.factory.policy; p != nil {
		for _, c := range cs.changes {
			errs = append(errs, p.EvalChange(ctx, c))
		}
		if err := tessera.NewCompletionError(errs...); err != nil {
			return fail(err)
		}
	}

	commit, err := u.store.ApplyChanges(ctx, cs.states)
	switch {
	case store.IsVersionConflict(err):
		var vc *store.VersionConflictError
		if !errors.As(err, &vc) {
			vc = store.NewVersionConflictError(store.Batch{Updates: cs.states}.Refs()...)
		}
		return fail(tessera.NewConcurrentModificationError(vc.Refs...))
	case err != nil:
		return fail(tessera.NewCompletionError(err))
	}

	for _, c := range cs.changes {
		st := c.Entity.state
		if c.Op == OpRemove {
			st.Version = ""
			u.untrack(st.Reference)
			continue
		}
		st.MarkCommitted(commit.Versions[st.Reference], commit.At)
	}
	outcome := OutcomeCompleted
	if continued {
		outcome = OutcomeApplied
	}
	u.log.Info("unitofwork: "+outcome.String(), "commit", commit.ID,
		"created", cs.report.Created, "updated", cs.report.Updated, "removed", cs.report.Removed)

	u.notifyAfter(ctx, callbacks, OutcomeCompleted)
	if !continued {
		u.close(OutcomeCompleted)
	}
	r := cs.report
	r.Outcome = outcome
	u.observe(ctx, r)
	return nil
}
