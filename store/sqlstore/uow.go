package sqlstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/dialect/sql/sqlgraph"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

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

func (u *unitOfWork) check(ctx context.Context) error {
	if u.discarded {
		return tessera.NewSessionClosedError(u.id, "discarded")
	}
	return ctx.Err()
}

func (u *unitOfWork) LoadState(ctx context.Context, ref tessera.Reference) (*store.EntityState, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	s := u.store
	rows := &sql.Rows{}
	q := s.query("SELECT entity_type, entity_id, version, modified_at, payload FROM {table} WHERE entity_type = ? AND entity_id = ?")
	if err := s.drv.Query(ctx, q, []any{ref.Type, ref.ID}, rows); err != nil {
		return nil, fmt.Errorf("sqlstore: load %s: %w", ref, err)
	}
	found, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load %s: %w", ref, err)
	}
	if len(found) == 0 {
		return nil, tessera.NewNotFoundError(ref)
	}
	return s.decode(found[0])
}

// LoadStates loads refs with one query per entity type.
func (u *unitOfWork) LoadStates(ctx context.Context, refs []tessera.Reference) ([]*store.EntityState, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	s := u.store
	byType := make(map[string][]any)
	for _, ref := range refs {
		byType[ref.Type] = append(byType[ref.Type], ref.ID)
	}
	states := make([]*store.EntityState, 0, len(refs))
	for _, typ := range slices.Sorted(maps.Keys(byType)) {
		ids := byType[typ]
		q := s.query("SELECT entity_type, entity_id, version, modified_at, payload FROM {table} WHERE entity_type = ? AND entity_id IN (" + sql.Placeholders(len(ids)) + ")")
		rows := &sql.Rows{}
		if err := s.drv.Query(ctx, q, append([]any{typ}, ids...), rows); err != nil {
			return nil, fmt.Errorf("sqlstore: load %s: %w", typ, err)
		}
		found, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: load %s: %w", typ, err)
		}
		for _, r := range found {
			st, err := s.decode(r)
			if err != nil {
				return nil, err
			}
			states = append(states, st)
		}
	}
	return states, nil
}

func (u *unitOfWork) NewState(ctx context.Context, ref tessera.Reference, _ *graph.Type) (*store.EntityState, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	_, ok, err := u.version(ctx, u.store.drv, ref, false)
	switch {
	case err != nil:
		return nil, err
	case ok:
		return nil, tessera.NewAlreadyExistsError(ref)
	}
	return store.NewEntityState(ref, store.StatusNew), nil
}

// version returns the stored version of ref, locking its row when lock is
// set and the dialect supports it.
func (u *unitOfWork) version(ctx context.Context, ex dialect.ExecQuerier, ref tessera.Reference, lock bool) (int64, bool, error) {
	s := u.store
	q := "SELECT version FROM {table} WHERE entity_type = ? AND entity_id = ?"
	if lock {
		q += s.lockClause()
	}
	rows := &sql.Rows{}
	if err := ex.Query(ctx, s.query(q), []any{ref.Type, ref.ID}, rows); err != nil {
		return 0, false, fmt.Errorf("sqlstore: version of %s: %w", ref, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var v int64
	if err := rows.Scan(&v); err != nil {
		return 0, false, fmt.Errorf("sqlstore: version of %s: %w", ref, err)
	}
	return v, true, rows.Err()
}

func (u *unitOfWork) ApplyChanges(ctx context.Context, states []*store.EntityState) (*store.Commit, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	batch, err := store.NewBatch(states)
	if err != nil {
		return nil, err
	}
	commit := &store.Commit{
		ID:       uuid.NewString(),
		At:       u.now,
		Versions: make(map[tessera.Reference]string, len(batch.Inserts)+len(batch.Updates)),
	}
	if batch.Len() == 0 {
		return commit, nil
	}
	tx, err := u.store.drv.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: apply: %w", err)
	}
	if err := u.apply(ctx, tx, batch, commit); err != nil {
		return nil, sql.Rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlstore: apply: commit: %w", err)
	}
	u.store.log.Debug("sqlstore: applied batch", "uow", u.id, "commit", commit.ID,
		"inserts", len(batch.Inserts), "updates", len(batch.Updates), "removes", len(batch.Removes))
	return commit, nil
}

func (u *unitOfWork) apply(ctx context.Context, tx dialect.Tx, batch store.Batch, commit *store.Commit) error {
	s := u.store
	current := make(map[tessera.Reference]int64, batch.Len())
	for _, ref := range batch.Refs() {
		v, ok, err := u.version(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if ok {
			current[ref] = v
		}
	}
	var conflicts []tessera.Reference
	for _, st := range batch.Inserts {
		if _, ok := current[st.Reference]; ok {
			conflicts = append(conflicts, st.Reference)
		}
	}
	for _, st := range slices.Concat(batch.Updates, batch.Removes) {
		v, ok := current[st.Reference]
		if !ok || strconv.FormatInt(v, 10) != st.Version {
			conflicts = append(conflicts, st.Reference)
		}
	}
	if len(conflicts) > 0 {
		return u.conflict(conflicts...)
	}

	modified := u.now.UnixNano()
	insert := s.query("INSERT INTO {table} (entity_type, entity_id, version, modified_at, payload) VALUES (?, ?, ?, ?, ?)")
	for _, st := range batch.Inserts {
		ref := st.Reference
		payload, err := s.encode(st, 1, u.now)
		if err != nil {
			return err
		}
		if err := tx.Exec(ctx, insert, []any{ref.Type, ref.ID, int64(1), modified, payload}, nil); err != nil {
			if sqlgraph.IsUniqueConstraintError(err) {
				return u.conflict(ref)
			}
			return fmt.Errorf("sqlstore: insert %s: %w", ref, err)
		}
		commit.Versions[ref] = "1"
	}
	update := s.query("UPDATE {table} SET version = ?, modified_at = ?, payload = ? WHERE entity_type = ? AND entity_id = ? AND version = ?")
	for _, st := range batch.Updates {
		ref := st.Reference
		next := current[ref] + 1
		payload, err := s.encode(st, next, u.now)
		if err != nil {
			return err
		}
		var res sql.Result
		if err := tx.Exec(ctx, update, []any{next, modified, payload, ref.Type, ref.ID, current[ref]}, &res); err != nil {
			return fmt.Errorf("sqlstore: update %s: %w", ref, err)
		}
		if err := u.affected(res, ref); err != nil {
			return err
		}
		commit.Versions[ref] = strconv.FormatInt(next, 10)
	}
	remove := s.query("DELETE FROM {table} WHERE entity_type = ? AND entity_id = ? AND version = ?")
	for _, st := range batch.Removes {
		ref := st.Reference
		var res sql.Result
		if err := tx.Exec(ctx, remove, []any{ref.Type, ref.ID, current[ref]}, &res); err != nil {
			return fmt.Errorf("sqlstore: delete %s: %w", ref, err)
		}
		if err := u.affected(res, ref); err != nil {
			return err
		}
	}
	return nil
}

// affected reports a conflict when a guarded write matched no row.
func (u *unitOfWork) affected(res sql.Result, ref tessera.Reference) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return u.conflict(ref)
	}
	return nil
}

func (u *unitOfWork) conflict(refs ...tessera.Reference) error {
	err := store.NewVersionConflictError(refs...)
	u.store.log.Warn("sqlstore: rejected batch", "uow", u.id, "conflicts", len(err.Refs))
	return err
}

var _ store.BatchLoader = (*unitOfWork)(nil)
