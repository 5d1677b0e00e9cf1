package backup

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/codec"
)

// Format identifies tessera archives in their header line.
const Format = "tessera-archive"

// Header is the first line of an archive.
type Header struct {
	Format    string    `json:"format"`
	Version   int       `json:"version"`
	Codec     string    `json:"codec"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer writes entity states to an archive. JSON archives hold one state
// per line; other codecs prefix each state with its uvarint length.
type Writer struct {
	w     *bufio.Writer
	codec codec.Codec
	lines bool
	n     int
}

// NewWriter writes the archive header to w and returns a Writer.
func NewWriter(w io.Writer, c codec.Codec, now time.Time) (*Writer, error) {
	bw := bufio.NewWriter(w)
	h, err := json.Marshal(Header{Format: Format, Version: 1, Codec: c.Name(), CreatedAt: now.UTC()})
	if err != nil {
		return nil, err
	}
	if _, err := bw.Write(append(h, '\n')); err != nil {
		return nil, fmt.Errorf("backup: write header: %w", err)
	}
	return &Writer{w: bw, codec: c, lines: c.Name() == codec.NameJSON}, nil
}

// Write appends a state to the archive.
func (w *Writer) Write(s *store.EntityState) error {
	b, err := w.codec.Marshal(s)
	if err != nil {
		return err
	}
	if w.lines {
		b = append(b, '\n')
	} else {
		var prefix [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(prefix[:], uint64(len(b)))
		if _, err := w.w.Write(prefix[:n]); err != nil {
			return fmt.Errorf("backup: write: %w", err)
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("backup: write: %w", err)
	}
	w.n++
	return nil
}

// Len returns the number of states written.
func (w *Writer) Len() int { return w.n }

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("backup: flush: %w", err)
	}
	return nil
}

// maxFrame bounds the size of one encoded state.
const maxFrame = 64 << 20

// Reader reads entity states from an archive.
type Reader struct {
	r      *bufio.Reader
	codec  codec.Codec
	lines  bool
	header Header
}

// NewReader reads the archive header from r and returns a Reader.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("backup: read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil || h.Format != Format {
		return nil, errors.New("backup: not a tessera archive")
	}
	if h.Version != 1 {
		return nil, fmt.Errorf("backup: unsupported archive version %d", h.Version)
	}
	c, err := codec.ByName(h.Codec)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return &Reader{r: br, codec: c, lines: c.Name() == codec.NameJSON, header: h}, nil
}

// Header returns the archive header.
func (r *Reader) Header() Header { return r.header }

// Read returns the next state of the archive, or io.EOF.
func (r *Reader) Read() (*store.EntityState, error) {
	var b []byte
	if r.lines {
		line, err := r.r.ReadBytes('\n')
		if err == io.EOF && len(line) > 0 {
			return nil, fmt.Errorf("backup: truncated archive: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, err
		}
		if b = bytes.TrimSpace(line); len(b) == 0 {
			return r.Read()
		}
	} else {
		n, err := binary.ReadUvarint(r.r)
		if err != nil {
			return nil, err
		}
		if n > maxFrame {
			return nil, fmt.Errorf("backup: frame of %d bytes exceeds limit", n)
		}
		b = make([]byte, n)
		if _, err := io.ReadFull(r.r, b); err != nil {
			return nil, fmt.Errorf("backup: truncated archive: %w", err)
		}
	}
	return r.codec.Unmarshal(b)
}
