package gen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dave/jennifer/jen"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/imports"
)

// fileTask is one file to render.
type fileTask struct {
	name string // file name, relative to the target directory
	file *jen.File
}

// writer renders, formats and writes files in parallel.
type writer struct {
	dir     string
	workers int
}

func newWriter(cfg Config) *writer {
	return &writer{dir: cfg.Target, workers: cfg.Workers}
}

func (w *writer) write(ctx context.Context, files []fileTask) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("gen: create target directory: %w", err)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.workers)
	for _, f := range files {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return w.writeFile(f)
			}
		})
	}
	return eg.Wait()
}

func (w *writer) writeFile(f fileTask) error {
	var buf bytes.Buffer
	if err := f.file.Render(&buf); err != nil {
		return fmt.Errorf("gen: render %s: %w", f.name, err)
	}
	path := filepath.Join(w.dir, f.name)
	formatted, err := imports.Process(path, buf.Bytes(), nil)
	if err != nil {
		// Keep the unformatted output around for debugging.
		debug := path + ".error"
		_ = os.WriteFile(debug, buf.Bytes(), 0o644)
		return fmt.Errorf("gen: format %s: %w (unformatted written to %s)", f.name, err, debug)
	}
	if err := os.WriteFile(path, formatted, 0o644); err != nil {
		return fmt.Errorf("gen: write %s: %w", f.name, err)
	}
	return nil
}
