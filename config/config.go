// Package config loads the configuration of a tessera deployment and
// assembles the configured store stack.
//
// A configuration file looks like:
//
//	store:
//	  driver: postgres
//	  dsn: postgres://app@localhost/app
//	  codec: msgpack
//	  migrate: true
//	  slow_threshold: 200ms
//	cache:
//	  size: 10000
//	  ttl: 5m
//	backup:
//	  dir: /var/backups/tessera
//	log:
//	  level: info
//	  format: json
//
// Every value may be overridden by a TESSERA_* environment variable, e.g.
// TESSERA_STORE_DSN or TESSERA_CACHE_TTL.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/tessera/backup"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/store/codec"
)

// Config is the configuration of a tessera deployment.
type Config struct {
	Store  Store  `yaml:"store"`
	Cache  Cache  `yaml:"cache"`
	Backup Backup `yaml:"backup"`
	Log    Log    `yaml:"log"`
}

// Store configures the entity store.
type Store struct {
	// Driver is one of "memory", "sqlite", "postgres" and "mysql".
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	Table         string        `yaml:"table,omitempty"`
	Codec         string        `yaml:"codec,omitempty"`
	Migrate       bool          `yaml:"migrate,omitempty"`
	PageSize      int           `yaml:"page_size,omitempty"`
	MaxOpenConns  int           `yaml:"max_open_conns,omitempty"`
	SlowThreshold time.Duration `yaml:"slow_threshold,omitempty"`
}

// Cache configures the read-through entity cache. A zero size disables it.
type Cache struct {
	Size      int           `yaml:"size,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	Namespace string        `yaml:"namespace,omitempty"`
}

// Backup configures the archive sink. S3 is used when a bucket is set.
type Backup struct {
	Dir string          `yaml:"dir,omitempty"`
	S3  backup.S3Config `yaml:"s3,omitempty"`
}

// Log configures the default logger.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
}

// Drivers accepted in Store.Driver besides the SQL dialects.
const DriverMemory = "memory"

// Default returns the configuration used when no file is given: an
// in-memory store.
func Default() *Config {
	return &Config{
		Store: Store{Driver: DriverMemory, Codec: codec.NameMsgPack},
		Cache: Cache{Namespace: "tessera"},
		Log:   Log{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path over the defaults, applies
// the environment overrides and validates the result. An empty path loads
// the defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := Parse(b, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

// env binds environment variables to configuration values.
func (c *Config) env() map[string]any {
	return map[string]any{
		"TESSERA_STORE_DRIVER":         &c.Store.Driver,
		"TESSERA_STORE_DSN":            &c.Store.DSN,
		"TESSERA_STORE_TABLE":          &c.Store.Table,
		"TESSERA_STORE_CODEC":          &c.Store.Codec,
		"TESSERA_STORE_MIGRATE":        &c.Store.Migrate,
		"TESSERA_STORE_PAGE_SIZE":      &c.Store.PageSize,
		"TESSERA_STORE_MAX_OPEN_CONNS": &c.Store.MaxOpenConns,
		"TESSERA_STORE_SLOW_THRESHOLD": &c.Store.SlowThreshold,
		"TESSERA_CACHE_SIZE":           &c.Cache.Size,
		"TESSERA_CACHE_TTL":            &c.Cache.TTL,
		"TESSERA_CACHE_NAMESPACE":      &c.Cache.Namespace,
		"TESSERA_BACKUP_DIR":           &c.Backup.Dir,
		"TESSERA_BACKUP_S3_BUCKET":     &c.Backup.S3.Bucket,
		"TESSERA_BACKUP_S3_PREFIX":     &c.Backup.S3.Prefix,
		"TESSERA_BACKUP_S3_REGION":     &c.Backup.S3.Region,
		"TESSERA_BACKUP_S3_ENDPOINT":   &c.Backup.S3.Endpoint,
		"TESSERA_BACKUP_S3_PATH_STYLE": &c.Backup.S3.PathStyle,
		"TESSERA_LOG_LEVEL":            &c.Log.Level,
		"TESSERA_LOG_FORMAT":           &c.Log.Format,
	}
}

// ApplyEnv overrides configuration values from the environment, read
// through lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for name, ptr := range c.env() {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		var err error
		switch p := ptr.(type) {
		case *string:
			*p = v
		case *bool:
			*p, err = strconv.ParseBool(v)
		case *int:
			*p, err = strconv.Atoi(v)
		case *time.Duration:
			*p, err = time.ParseDuration(v)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Driver != DriverMemory && !dialect.Valid(c.Store.Driver) {
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		errs = append(errs, errors.New("config: store dsn required"))
	}
	if c.Store.Codec != "" {
		if _, err := codec.ByName(c.Store.Codec); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("config: cache size must be positive"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}

// Logger returns a logger writing to stderr as configured.
func (c *Config) Logger() *slog.Logger {
	return c.LoggerTo(os.Stderr)
}

// LoggerTo returns a logger writing to w as configured.
func (c *Config) LoggerTo(w io.Writer) *slog.Logger {
	lvl, _ := c.Log.level()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
