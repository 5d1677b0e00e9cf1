package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Sink stores archives by name.
type Sink interface {
	// Create returns a writer for a new archive. The archive becomes
	// visible when the writer is closed without error.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Open returns a reader of the archive. Missing archives are reported
	// with an error matching fs.ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns the names of archives starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FileSink stores archives as files under a root directory.
type FileSink struct {
	root string
}

// NewFileSink returns a FileSink rooted at root, creating it if needed.
func NewFileSink(root string) (*FileSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return &FileSink{root: root}, nil
}

// cleanName rejects names escaping the sink root.
func cleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("backup: empty archive name")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return "", fmt.Errorf("backup: invalid archive name %q", name)
	}
	return filepath.ToSlash(filepath.Clean(name)), nil
}

func (s *FileSink) path(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

// Create implements Sink. Data is written to a temporary file renamed on
// Close.
func (s *FileSink) Create(_ context.Context, name string) (io.WriteCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(p), ".tmp-"+filepath.Base(p)+"-*")
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return &fileWriter{File: f, path: p}, nil
}

type fileWriter struct {
	*os.File
	path string
}

func (w *fileWriter) Close() error {
	tmp := w.Name()
	if err := w.File.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("backup: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

// Open implements Sink.
func (s *FileSink) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return f, nil
}

// List implements Sink.
func (s *FileSink) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

var _ Sink = (*FileSink)(nil)
