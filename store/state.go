package store

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/syssam/tessera"
)

// Status is the lifecycle status of an entity state.
type Status uint8

// Entity state statuses.
const (
	// StatusNew is a state created in the current unit of work.
	StatusNew Status = iota + 1
	// StatusLoaded is a state read from the store and not modified.
	StatusLoaded
	// StatusUpdated is a loaded state modified in the current unit of work.
	StatusUpdated
	// StatusRemoved is a state removed in the current unit of work.
	StatusRemoved
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusLoaded:
		return "LOADED"
	case StatusUpdated:
		return "UPDATED"
	case StatusRemoved:
		return "REMOVED"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// EntityState is the raw record of one entity as exchanged with a store.
// A state is owned by exactly one unit of work at a time and is not safe
// for concurrent use.
type EntityState struct {
	Reference    tessera.Reference
	Status       Status
	Version      string // opaque token, empty for new states
	LastModified time.Time

	Properties        map[string]any
	Associations      map[string]tessera.Reference
	ManyAssociations  map[string][]tessera.Reference
	NamedAssociations map[string]*NamedReferences
}

// NewEntityState returns an empty state for ref.
func NewEntityState(ref tessera.Reference, status Status) *EntityState {
	return &EntityState{
		Reference:         ref,
		Status:            status,
		Properties:        make(map[string]any),
		Associations:      make(map[string]tessera.Reference),
		ManyAssociations:  make(map[string][]tessera.Reference),
		NamedAssociations: make(map[string]*NamedReferences),
	}
}

// Modified reports whether the state must be written on completion.
func (s *EntityState) Modified() bool {
	return s.Status == StatusNew || s.Status == StatusUpdated || s.Status == StatusRemoved
}

// writable fails once the state was removed and flips loaded states to
// updated.
func (s *EntityState) writable() error {
	if s.Status == StatusRemoved {
		return tessera.NewNotFoundError(s.Reference)
	}
	if s.Status == StatusLoaded {
		s.Status = StatusUpdated
	}
	return nil
}

// readable fails once the state was removed.
func (s *EntityState) readable() error {
	if s.Status == StatusRemoved {
		return tessera.NewNotFoundError(s.Reference)
	}
	return nil
}

// Property returns the value of a property.
func (s *EntityState) Property(name string) (any, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	return s.Properties[name], nil
}

// SetProperty sets the value of a property.
func (s *EntityState) SetProperty(name string, v any) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.Properties[name] = v
	return nil
}

// Association returns the reference held by a single association. The
// zero reference means the association is not set.
func (s *EntityState) Association(name string) (tessera.Reference, error) {
	if err := s.readable(); err != nil {
		return tessera.Reference{}, err
	}
	return s.Associations[name], nil
}

// SetAssociation sets a single association. The zero reference clears it.
func (s *EntityState) SetAssociation(name string, ref tessera.Reference) error {
	if err := s.writable(); err != nil {
		return err
	}
	if ref.IsZero() {
		delete(s.Associations, name)
		return nil
	}
	s.Associations[name] = ref
	return nil
}

// ManyAssociation returns the references of a many-association, in order.
// The returned slice must not be modified.
func (s *EntityState) ManyAssociation(name string) ([]tessera.Reference, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	return s.ManyAssociations[name], nil
}

// AddManyAssociation inserts ref at index i of a many-association. An index
// out of range appends. It reports false if ref was already present.
func (s *EntityState) AddManyAssociation(name string, i int, ref tessera.Reference) (bool, error) {
	if err := s.readable(); err != nil {
		return false, err
	}
	refs := s.ManyAssociations[name]
	if slices.Contains(refs, ref) {
		return false, nil
	}
	if err := s.writable(); err != nil {
		return false, err
	}
	if i < 0 || i > len(refs) {
		i = len(refs)
	}
	s.ManyAssociations[name] = slices.Insert(slices.Clone(refs), i, ref)
	return true, nil
}

// RemoveManyAssociation removes ref from a many-association. It reports
// false if ref was not present.
func (s *EntityState) RemoveManyAssociation(name string, ref tessera.Reference) (bool, error) {
	if err := s.readable(); err != nil {
		return false, err
	}
	refs := s.ManyAssociations[name]
	i := slices.Index(refs, ref)
	if i < 0 {
		return false, nil
	}
	if err := s.writable(); err != nil {
		return false, err
	}
	s.ManyAssociations[name] = slices.Delete(slices.Clone(refs), i, i+1)
	return true, nil
}

// NamedAssociation returns the entries of a named association. The result
// is nil if the association holds no entry; it must not be modified.
func (s *EntityState) NamedAssociation(name string) (*NamedReferences, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	return s.NamedAssociations[name], nil
}

// PutNamedAssociation sets the entry key of a named association. Existing
// keys keep their position.
func (s *EntityState) PutNamedAssociation(name, key string, ref tessera.Reference) error {
	if err := s.writable(); err != nil {
		return err
	}
	nr := s.NamedAssociations[name]
	if nr == nil {
		nr = &NamedReferences{}
		s.NamedAssociations[name] = nr
	}
	nr.Put(key, ref)
	return nil
}

// RemoveNamedAssociation removes the entry key of a named association. It
// reports false if there was no such entry.
func (s *EntityState) RemoveNamedAssociation(name, key string) (bool, error) {
	if err := s.readable(); err != nil {
		return false, err
	}
	nr := s.NamedAssociations[name]
	if _, ok := nr.Get(key); !ok {
		return false, nil
	}
	if err := s.writable(); err != nil {
		return false, err
	}
	nr.Remove(key)
	return true, nil
}

// MarkRemoved marks the state as removed. Removing a removed state fails
// with a NotFoundError.
func (s *EntityState) MarkRemoved() error {
	if err := s.readable(); err != nil {
		return err
	}
	s.Status = StatusRemoved
	return nil
}

// MarkCommitted records a successful write of the state: it becomes a
// loaded state at the given version.
func (s *EntityState) MarkCommitted(version string, at time.Time) {
	s.Status = StatusLoaded
	s.Version = version
	s.LastModified = at
}

// References returns every reference held by the state's associations.
func (s *EntityState) References() []tessera.Reference {
	var refs []tessera.Reference
	for _, name := range slices.Sorted(maps.Keys(s.Associations)) {
		refs = append(refs, s.Associations[name])
	}
	for _, name := range slices.Sorted(maps.Keys(s.ManyAssociations)) {
		refs = append(refs, s.ManyAssociations[name]...)
	}
	for _, name := range slices.Sorted(maps.Keys(s.NamedAssociations)) {
		refs = append(refs, s.NamedAssociations[name].Refs()...)
	}
	return refs
}

// Clone returns a deep copy of the state. Property values are copied
// shallowly, except for []byte, []string and JSON containers.
func (s *EntityState) Clone() *EntityState {
	c := &EntityState{
		Reference:         s.Reference,
		Status:            s.Status,
		Version:           s.Version,
		LastModified:      s.LastModified,
		Properties:        make(map[string]any, len(s.Properties)),
		Associations:      maps.Clone(s.Associations),
		ManyAssociations:  make(map[string][]tessera.Reference, len(s.ManyAssociations)),
		NamedAssociations: make(map[string]*NamedReferences, len(s.NamedAssociations)),
	}
	if c.Associations == nil {
		c.Associations = make(map[string]tessera.Reference)
	}
	for k, v := range s.Properties {
		c.Properties[k] = cloneValue(v)
	}
	for k, v := range s.ManyAssociations {
		c.ManyAssociations[k] = slices.Clone(v)
	}
	for k, v := range s.NamedAssociations {
		c.NamedAssociations[k] = v.Clone()
	}
	return c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return slices.Clone(v)
	case []string:
		return slices.Clone(v)
	case []any:
		c := make([]any, len(v))
		for i, e := range v {
			c[i] = cloneValue(e)
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(v))
		for k, e := range v {
			c[k] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
