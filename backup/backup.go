// Package backup exports the entity states of a store to archives and
// restores them, versions included.
//
// Archives are written to a Sink: a local directory (FileSink) or an S3
// compatible bucket (S3Sink).
//
//	sink, err := backup.NewFileSink("/var/backups/tessera")
//	sum, err := backup.Export(ctx, s, sink, backup.Name(time.Now(), codec.MsgPack{}))
//	...
//	sum, err = backup.Import(ctx, s, sink, name)
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/codec"
)

// NamePrefix starts the names of archives built by Name.
const NamePrefix = "tessera-"

// Name returns the archive name for a backup taken at t.
func Name(t time.Time, c codec.Codec) string {
	ext := "mpk"
	if c.Name() == codec.NameJSON {
		ext = "jsonl"
	}
	return NamePrefix + t.UTC().Format("20060102T150405Z") + "." + ext
}

// Latest returns the name of the most recent archive built by Name.
func Latest(ctx context.Context, sink Sink) (string, error) {
	names, err := sink.List(ctx, NamePrefix)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", errors.New("backup: no archive found")
	}
	return names[len(names)-1], nil
}

// Summary describes an exported or imported archive.
type Summary struct {
	Name     string         `json:"name"`
	Codec    string         `json:"codec"`
	Entities int            `json:"entities"`
	Types    map[string]int `json:"types"`
}

func (s *Summary) add(st *store.EntityState) {
	s.Entities++
	s.Types[st.Reference.Type]++
}

type options struct {
	codec     codec.Codec
	batchSize int
	log       *slog.Logger
	now       func() time.Time
}

// Option configures Export and Import.
type Option func(*options)

// WithCodec sets the codec of exported archives. The default is msgpack.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithBatchSize sets the number of states imported at once.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithClock sets the clock stamping archive headers.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) *options {
	o := &options{codec: codec.MsgPack{}, batchSize: 500, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Export writes every state of it to the archive name of sink.
func Export(ctx context.Context, it store.Iterator, sink Sink, name string, opts ...Option) (*Summary, error) {
	o := newOptions(opts)
	wc, err := sink.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	sum, err := export(ctx, it, wc, o)
	if err != nil {
		wc.Close()
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	sum.Name = name
	o.log.Info("backup: exported", "archive", name, "entities", sum.Entities)
	return sum, nil
}

func export(ctx context.Context, it store.Iterator, w io.Writer, o *options) (*Summary, error) {
	aw, err := NewWriter(w, o.codec, o.now())
	if err != nil {
		return nil, err
	}
	sum := &Summary{Codec: o.codec.Name(), Types: make(map[string]int)}
	err = it.EntityStates(ctx, func(st *store.EntityState) error {
		if err := aw.Write(st); err != nil {
			return err
		}
		sum.add(st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backup: export: %w", err)
	}
	if err := aw.Flush(); err != nil {
		return nil, err
	}
	return sum, nil
}

// Import restores the archive name of sink into im. States are imported
// in batches; an error leaves the batches already imported in place.
func Import(ctx context.Context, im store.Importer, sink Sink, name string, opts ...Option) (*Summary, error) {
	o := newOptions(opts)
	rc, err := sink.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	ar, err := NewReader(rc)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Name: name, Codec: ar.Header().Codec, Types: make(map[string]int)}
	batch := make([]*store.EntityState, 0, o.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.ImportStates(ctx, batch); err != nil {
			return fmt.Errorf("backup: import: %w", err)
		}
		o.log.Debug("backup: imported batch", "archive", name, "states", len(batch))
		batch = batch[:0]
		return nil
	}
	for {
		st, err := ar.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, st)
		sum.add(st)
		if len(batch) == o.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	o.log.Info("backup: imported", "archive", name, "entities", sum.Entities)
	return sum, nil
}

// Inspect reads the archive name of sink without importing it.
func Inspect(ctx context.Context, sink Sink, name string) (*Summary, *Header, error) {
	rc, err := sink.Open(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	ar, err := NewReader(rc)
	if err != nil {
		return nil, nil, err
	}
	h := ar.Header()
	sum := &Summary{Name: name, Codec: h.Codec, Types: make(map[string]int)}
	for {
		st, err := ar.Read()
		if err == io.EOF {
			return sum, &h, nil
		}
		if err != nil {
			return nil, nil, err
		}
		sum.add(st)
	}
}
