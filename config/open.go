package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver

	"github.com/syssam/tessera/backup"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/cache"
	"github.com/syssam/tessera/store/codec"
	"github.com/syssam/tessera/store/memory"
	"github.com/syssam/tessera/store/sqlstore"
)

// Stack is an assembled store stack.
type Stack struct {
	// Store is the outermost store: the cache when enabled, else the
	// backend.
	Store store.EntityStore
	// Stats is the statement statistics driver of SQL backends.
	Stats *sql.StatsDriver
	// Cache is the cached store, when enabled.
	Cache *cache.Store

	driver *sql.Driver
}

// Iterator returns the store as a store.Iterator, for backups.
func (s *Stack) Iterator() (store.Iterator, error) {
	it, ok := s.Store.(store.Iterator)
	if !ok {
		return nil, errors.New("config: store does not support iteration")
	}
	return it, nil
}

// Importer returns the store as a store.Importer, for restores.
func (s *Stack) Importer() (store.Importer, error) {
	im, ok := s.Store.(store.Importer)
	if !ok {
		return nil, errors.New("config: store does not support import")
	}
	return im, nil
}

// Close closes the database connection, if any.
func (s *Stack) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close()
}

// Open assembles the store stack described by cfg. The graph, when not
// nil, normalizes the property values read by SQL backends.
func Open(ctx context.Context, cfg *Config, g *graph.Graph, log *slog.Logger) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	c := codec.Codec(codec.MsgPack{})
	if cfg.Store.Codec != "" {
		var err error
		if c, err = codec.ByName(cfg.Store.Codec); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	stack := &Stack{}
	switch cfg.Store.Driver {
	case DriverMemory:
		stack.Store = memory.New(memory.WithLogger(log))
	default:
		dsn, err := normalizeDSN(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		drv, err := sql.Open(cfg.Store.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("config: open store: %w", err)
		}
		if n := cfg.Store.MaxOpenConns; n > 0 && cfg.Store.Driver != dialect.SQLite {
			drv.DB().SetMaxOpenConns(n)
		}
		stack.driver = drv
		opts := []sql.StatsOption{sql.WithStatsLogger(log)}
		if cfg.Store.SlowThreshold > 0 {
			opts = append(opts, sql.WithSlowThreshold(cfg.Store.SlowThreshold))
		}
		stack.Stats = sql.NewStatsDriver(drv, opts...)
		sopts := []sqlstore.Option{sqlstore.WithCodec(c), sqlstore.WithLogger(log), sqlstore.WithGraph(g)}
		if cfg.Store.Table != "" {
			sopts = append(sopts, sqlstore.WithTable(cfg.Store.Table))
		}
		if cfg.Store.PageSize > 0 {
			sopts = append(sopts, sqlstore.WithPageSize(cfg.Store.PageSize))
		}
		s, err := sqlstore.New(stack.Stats, sopts...)
		if err != nil {
			drv.Close()
			return nil, fmt.Errorf("config: %w", err)
		}
		if cfg.Store.Migrate {
			if err := s.Migrate(ctx); err != nil {
				drv.Close()
				return nil, fmt.Errorf("config: migrate: %w", err)
			}
		}
		stack.Store = s
	}
	if cfg.Cache.Size > 0 {
		copts := []cache.Option{
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithLogger(log),
		}
		if cfg.Cache.Namespace != "" {
			copts = append(copts, cache.WithNamespace(cfg.Cache.Namespace))
		}
		stack.Cache = cache.New(stack.Store, cache.NewLRU(cfg.Cache.Size, cfg.Cache.TTL), copts...)
		stack.Store = stack.Cache
	}
	log.Debug("config: opened store", "driver", cfg.Store.Driver, "codec", c.Name(), "cache", cfg.Cache.Size > 0)
	return stack, nil
}

// normalizeDSN checks the data source name of the SQL drivers that can
// parse one.
func normalizeDSN(driver, dsn string) (string, error) {
	switch driver {
	case dialect.MySQL:
		c, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("config: mysql dsn: %w", err)
		}
		return c.FormatDSN(), nil
	case dialect.Postgres:
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return "", fmt.Errorf("config: postgres dsn: %w", err)
		}
	}
	return dsn, nil
}

// Sink returns the configured backup sink.
func (c *Config) Sink(ctx context.Context) (backup.Sink, error) {
	if c.Backup.S3.Bucket != "" {
		return backup.NewS3(ctx, c.Backup.S3)
	}
	dir := c.Backup.Dir
	if dir == "" {
		dir = "backups"
	}
	return backup.NewFileSink(dir)
}
