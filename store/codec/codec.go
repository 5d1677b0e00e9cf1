// Package codec encodes entity states for stores that persist them as
// opaque payloads.
//
// Both codecs write the same document shape: references are written in
// their "Type/ID" text form and named associations as ordered lists, so a
// payload written by one codec carries the same information as the other.
// Decoded property values have the codec's generic types (for example
// float64 for JSON numbers); use Normalize with the entity's graph.Type to
// restore the declared Go types.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

// Codec marshals entity states.
type Codec interface {
	// Name returns the codec name, as used in configuration.
	Name() string
	// Marshal encodes the persistent content of s. Status is not encoded.
	Marshal(s *store.EntityState) ([]byte, error)
	// Unmarshal decodes a payload into a state with status StatusLoaded.
	Unmarshal(data []byte) (*store.EntityState, error)
}

// Codec names.
const (
	NameJSON    = "json"
	NameMsgPack = "msgpack"
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameMsgPack:
		return MsgPack{}, nil
	default:
		return nil, fmt.Errorf("tessera/codec: unknown codec %q", name)
	}
}

// document is the encoded form of an entity state.
type document struct {
	Ref          string                     `json:"ref" msgpack:"ref"`
	Version      string                     `json:"version,omitempty" msgpack:"version,omitempty"`
	LastModified time.Time                  `json:"modified" msgpack:"modified"`
	Properties   map[string]any             `json:"props,omitempty" msgpack:"props,omitempty"`
	Single       map[string]string          `json:"single,omitempty" msgpack:"single,omitempty"`
	Many         map[string][]string        `json:"many,omitempty" msgpack:"many,omitempty"`
	Named        map[string][]namedDocument `json:"named,omitempty" msgpack:"named,omitempty"`
}

type namedDocument struct {
	Name string `json:"name" msgpack:"name"`
	Ref  string `json:"ref" msgpack:"ref"`
}

func toDocument(s *store.EntityState) *document {
	d := &document{
		Ref:          s.Reference.String(),
		Version:      s.Version,
		LastModified: s.LastModified.UTC(),
		Properties:   s.Properties,
	}
	if len(s.Associations) > 0 {
		d.Single = make(map[string]string, len(s.Associations))
		for name, ref := range s.Associations {
			d.Single[name] = ref.String()
		}
	}
	if len(s.ManyAssociations) > 0 {
		d.Many = make(map[string][]string, len(s.ManyAssociations))
		for name, refs := range s.ManyAssociations {
			out := make([]string, len(refs))
			for i, ref := range refs {
				out[i] = ref.String()
			}
			d.Many[name] = out
		}
	}
	for name, nr := range s.NamedAssociations {
		if nr.Len() == 0 {
			continue
		}
		if d.Named == nil {
			d.Named = make(map[string][]namedDocument)
		}
		entries := make([]namedDocument, 0, nr.Len())
		for key, ref := range nr.All() {
			entries = append(entries, namedDocument{Name: key, Ref: ref.String()})
		}
		d.Named[name] = entries
	}
	return d
}

func (d *document) state() (*store.EntityState, error) {
	ref, err := tessera.ParseReference(d.Ref)
	if err != nil {
		return nil, err
	}
	s := store.NewEntityState(ref, store.StatusLoaded)
	s.Version = d.Version
	s.LastModified = d.LastModified
	for name, v := range d.Properties {
		s.Properties[name] = v
	}
	for name, text := range d.Single {
		if s.Associations[name], err = tessera.ParseReference(text); err != nil {
			return nil, fmt.Errorf("association %q: %w", name, err)
		}
	}
	for name, texts := range d.Many {
		refs := make([]tessera.Reference, len(texts))
		for i, text := range texts {
			if refs[i], err = tessera.ParseReference(text); err != nil {
				return nil, fmt.Errorf("association %q: %w", name, err)
			}
		}
		s.ManyAssociations[name] = refs
	}
	for name, entries := range d.Named {
		nr := store.NewNamedReferences()
		for _, e := range entries {
			ref, err := tessera.ParseReference(e.Ref)
			if err != nil {
				return nil, fmt.Errorf("association %q: %w", name, err)
			}
			nr.Put(e.Name, ref)
		}
		s.NamedAssociations[name] = nr
	}
	return s, nil
}

// JSON is the encoding/json codec. Numbers decode as json.Number.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return NameJSON }

// Marshal implements Codec.
func (JSON) Marshal(s *store.EntityState) ([]byte, error) {
	b, err := json.Marshal(toDocument(s))
	if err != nil {
		return nil, fmt.Errorf("tessera/codec: marshal %s: %w", s.Reference, err)
	}
	return b, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte) (*store.EntityState, error) {
	var d document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("tessera/codec: unmarshal json: %w", err)
	}
	s, err := d.state()
	if err != nil {
		return nil, fmt.Errorf("tessera/codec: unmarshal json: %w", err)
	}
	return s, nil
}

// MsgPack is the vmihailenco/msgpack codec.
type MsgPack struct{}

// Name implements Codec.
func (MsgPack) Name() string { return NameMsgPack }

// Marshal implements Codec.
func (MsgPack) Marshal(s *store.EntityState) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(toDocument(s)); err != nil {
		return nil, fmt.Errorf("tessera/codec: marshal %s: %w", s.Reference, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec.
func (MsgPack) Unmarshal(data []byte) (*store.EntityState, error) {
	var d document
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("tessera/codec: unmarshal msgpack: %w", err)
	}
	s, err := d.state()
	if err != nil {
		return nil, fmt.Errorf("tessera/codec: unmarshal msgpack: %w", err)
	}
	return s, nil
}

// Normalize coerces the properties of s declared by t to their Go types.
// Undeclared properties are left untouched.
func Normalize(s *store.EntityState, t *graph.Type) error {
	if t == nil {
		return nil
	}
	if err := t.Coerce(s.Properties); err != nil {
		return fmt.Errorf("tessera/codec: %s: %w", s.Reference, err)
	}
	return nil
}

var (
	_ Codec = JSON{}
	_ Codec = MsgPack{}
)
