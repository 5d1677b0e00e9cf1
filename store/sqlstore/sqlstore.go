// Package sqlstore provides an entity store on SQL databases.
//
// Every entity is one row of a single table keyed by type and identity,
// holding an integer version, the modification time and the state encoded
// with a store/codec codec:
//
//	entity_type | entity_id | version | modified_at | payload
//
// ApplyChanges runs in one transaction. It reads the current version of
// every entity of the batch (locking the rows where the dialect supports
// SELECT ... FOR UPDATE), collects every conflict and rolls back on any;
// otherwise it writes each change guarded by its expected version. Rows
// created concurrently surface as unique violations and are reported as
// conflicts too.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/codec"
)

// DefaultTable is the default name of the entity table.
const DefaultTable = "tessera_entities"

// Store is a store.EntityStore on a SQL database.
type Store struct {
	drv      dialect.Driver
	dialect  string
	table    string
	codec    codec.Codec
	graph    *graph.Graph
	log      *slog.Logger
	pageSize int
}

// Option configures the Store.
type Option func(*Store)

// WithTable sets the name of the entity table. It may be schema
// qualified.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithCodec sets the codec of the payload column. The default is msgpack.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithGraph makes loaded states carry the Go types declared by the graph,
// whatever the codec.
func WithGraph(g *graph.Graph) Option {
	return func(s *Store) {
		s.graph = g
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithPageSize sets the number of rows read per query when iterating the
// store.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New returns a store on drv. The table must exist; see Migrate.
func New(drv dialect.Driver, opts ...Option) (*Store, error) {
	if drv == nil {
		return nil, errors.New("sqlstore: nil driver")
	}
	s := &Store{
		drv:      drv,
		dialect:  drv.Dialect(),
		table:    DefaultTable,
		codec:    codec.MsgPack{},
		log:      slog.Default(),
		pageSize: 500,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !dialect.Valid(s.dialect) {
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", s.dialect)
	}
	if !sql.ValidIdentifier(s.table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", s.table)
	}
	if s.codec == nil {
		return nil, errors.New("sqlstore: nil codec")
	}
	return s, nil
}

// Migrate creates the entity table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.drv.Exec(ctx, s.createTable(), []any{}, nil); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) createTable() string {
	t := sql.Quote(s.dialect, s.table)
	switch s.dialect {
	case dialect.Postgres:
		return "CREATE TABLE IF NOT EXISTS " + t + ` (
	entity_type VARCHAR(255) NOT NULL,
	entity_id VARCHAR(255) NOT NULL,
	version BIGINT NOT NULL,
	modified_at BIGINT NOT NULL,
	payload BYTEA NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
)`
	case dialect.MySQL:
		return "CREATE TABLE IF NOT EXISTS " + t + ` (
	entity_type VARCHAR(191) NOT NULL,
	entity_id VARCHAR(191) NOT NULL,
	version BIGINT NOT NULL,
	modified_at BIGINT NOT NULL,
	payload LONGBLOB NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
) ENGINE=InnoDB`
	default:
		return "CREATE TABLE IF NOT EXISTS " + t + ` (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
)`
	}
}

// query returns the statement q, written with '?' placeholders and the
// {table} marker, for the dialect of the store.
func (s *Store) query(q string) string {
	return sql.Rebind(s.dialect, strings.ReplaceAll(q, "{table}", sql.Quote(s.dialect, s.table)))
}

// lockClause returns the row locking suffix of version reads.
func (s *Store) lockClause() string {
	if s.dialect == dialect.SQLite {
		return ""
	}
	return " FOR UPDATE"
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
		now:     now.UTC(),
	}, nil
}

// row is one row of the entity table.
type row struct {
	typ, id  string
	version  int64
	modified int64
	payload  []byte
}

// decode turns a row into a loaded state. The version and modification
// time of the row take precedence over the payload.
func (s *Store) decode(r row) (*store.EntityState, error) {
	st, err := s.codec.Unmarshal(r.payload)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode %s/%s: %w", r.typ, r.id, err)
	}
	st.Reference = tessera.NewReference(r.typ, r.id)
	st.Status = store.StatusLoaded
	st.Version = strconv.FormatInt(r.version, 10)
	st.LastModified = time.Unix(0, r.modified).UTC()
	if s.graph != nil {
		if t, ok := s.graph.Type(r.typ); ok {
			if err := codec.Normalize(st, t); err != nil {
				return nil, fmt.Errorf("sqlstore: %w", err)
			}
		}
	}
	return st, nil
}

// encode returns the payload of st as written at version.
func (s *Store) encode(st *store.EntityState, version int64, at time.Time) ([]byte, error) {
	c := st.Clone()
	c.MarkCommitted(strconv.FormatInt(version, 10), at)
	return s.codec.Marshal(c)
}

func scanRows(rows *sql.Rows) ([]row, error) {
	defer rows.Close()
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.typ, &r.id, &r.version, &r.modified, &r.payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EntityStates implements store.Iterator. Rows are read page by page, and
// no connection is held while fn runs.
func (s *Store) EntityStates(ctx context.Context, fn func(*store.EntityState) error) error {
	var (
		first = s.query("SELECT entity_type, entity_id, version, modified_at, payload FROM {table} ORDER BY entity_type, entity_id LIMIT ?")
		next  = s.query("SELECT entity_type, entity_id, version, modified_at, payload FROM {table} WHERE entity_type > ? OR (entity_type = ? AND entity_id > ?) ORDER BY entity_type, entity_id LIMIT ?")
		last  *row
	)
	for {
		q, args := first, []any{s.pageSize}
		if last != nil {
			q, args = next, []any{last.typ, last.typ, last.id, s.pageSize}
		}
		rows := &sql.Rows{}
		if err := s.drv.Query(ctx, q, args, rows); err != nil {
			return fmt.Errorf("sqlstore: iterate: %w", err)
		}
		page, err := scanRows(rows)
		if err != nil {
			return fmt.Errorf("sqlstore: iterate: %w", err)
		}
		for _, r := range page {
			st, err := s.decode(r)
			if err != nil {
				return err
			}
			if err := fn(st); err != nil {
				return err
			}
		}
		if len(page) < s.pageSize {
			return nil
		}
		last = &page[len(page)-1]
	}
}

// ImportStates implements store.Importer. States without a numeric
// version are stored at version 1.
func (s *Store) ImportStates(ctx context.Context, states []*store.EntityState) (rerr error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: import: %w", err)
	}
	defer func() {
		if rerr != nil {
			rerr = sql.Rollback(tx, rerr)
		}
	}()
	del := s.query("DELETE FROM {table} WHERE entity_type = ? AND entity_id = ?")
	ins := s.query("INSERT INTO {table} (entity_type, entity_id, version, modified_at, payload) VALUES (?, ?, ?, ?, ?)")
	for _, st := range states {
		version, err := strconv.ParseInt(st.Version, 10, 64)
		if err != nil || version <= 0 {
			version = 1
		}
		payload, err := s.encode(st, version, st.LastModified)
		if err != nil {
			return fmt.Errorf("sqlstore: import: %w", err)
		}
		ref := st.Reference
		if err := tx.Exec(ctx, del, []any{ref.Type, ref.ID}, nil); err != nil {
			return fmt.Errorf("sqlstore: import %s: %w", ref, err)
		}
		if err := tx.Exec(ctx, ins, []any{ref.Type, ref.ID, version, st.LastModified.UnixNano(), payload}, nil); err != nil {
			return fmt.Errorf("sqlstore: import %s: %w", ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: import: commit: %w", err)
	}
	s.log.Info("sqlstore: imported states", "count", len(states))
	return nil
}

var (
	_ store.EntityStore = (*Store)(nil)
	_ store.Iterator    = (*Store)(nil)
	_ store.Importer    = (*Store)(nil)
)
