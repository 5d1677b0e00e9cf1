package store

import (
	"iter"
	"slices"

	"github.com/syssam/tessera"
)

// NamedReference is one entry of a named association.
type NamedReference struct {
	Name string            `json:"name" msgpack:"name"`
	Ref  tessera.Reference `json:"ref" msgpack:"ref"`
}

// NamedReferences is an insertion ordered mapping from names to references.
// The zero value is an empty mapping ready to use.
type NamedReferences struct {
	entries []NamedReference
	index   map[string]int
}

// NewNamedReferences returns a mapping holding the given entries. Later
// entries replace earlier ones with the same name.
func NewNamedReferences(entries ...NamedReference) *NamedReferences {
	nr := &NamedReferences{}
	for _, e := range entries {
		nr.Put(e.Name, e.Ref)
	}
	return nr
}

// Len returns the number of entries.
func (nr *NamedReferences) Len() int {
	if nr == nil {
		return 0
	}
	return len(nr.entries)
}

// Get returns the reference stored under name.
func (nr *NamedReferences) Get(name string) (tessera.Reference, bool) {
	if nr == nil || nr.index == nil {
		return tessera.Reference{}, false
	}
	i, ok := nr.index[name]
	if !ok {
		return tessera.Reference{}, false
	}
	return nr.entries[i].Ref, true
}

// Put stores ref under name. A new name is appended; an existing name
// keeps its position.
func (nr *NamedReferences) Put(name string, ref tessera.Reference) {
	if nr.index == nil {
		nr.index = make(map[string]int)
	}
	if i, ok := nr.index[name]; ok {
		nr.entries[i].Ref = ref
		return
	}
	nr.index[name] = len(nr.entries)
	nr.entries = append(nr.entries, NamedReference{Name: name, Ref: ref})
}

// Remove deletes the entry stored under name.
func (nr *NamedReferences) Remove(name string) {
	if nr == nil || nr.index == nil {
		return
	}
	i, ok := nr.index[name]
	if !ok {
		return
	}
	nr.entries = slices.Delete(nr.entries, i, i+1)
	delete(nr.index, name)
	for j := i; j < len(nr.entries); j++ {
		nr.index[nr.entries[j].Name] = j
	}
}

// Names returns the names in insertion order.
func (nr *NamedReferences) Names() []string {
	if nr == nil {
		return nil
	}
	names := make([]string, len(nr.entries))
	for i, e := range nr.entries {
		names[i] = e.Name
	}
	return names
}

// Refs returns the references in insertion order.
func (nr *NamedReferences) Refs() []tessera.Reference {
	if nr == nil {
		return nil
	}
	refs := make([]tessera.Reference, len(nr.entries))
	for i, e := range nr.entries {
		refs[i] = e.Ref
	}
	return refs
}

// Entries returns a copy of the entries in insertion order.
func (nr *NamedReferences) Entries() []NamedReference {
	if nr == nil {
		return nil
	}
	return slices.Clone(nr.entries)
}

// All iterates over the entries in insertion order.
func (nr *NamedReferences) All() iter.Seq2[string, tessera.Reference] {
	return func(yield func(string, tessera.Reference) bool) {
		if nr == nil {
			return
		}
		for _, e := range nr.entries {
			if !yield(e.Name, e.Ref) {
				return
			}
		}
	}
}

// Clone returns a copy of the mapping.
func (nr *NamedReferences) Clone() *NamedReferences {
	if nr == nil {
		return nil
	}
	return NewNamedReferences(nr.entries...)
}
