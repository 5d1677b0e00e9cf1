package tessera

import (
	"fmt"
	"strings"
)

// Reference identifies an entity by type name and identity. References
// are comparable and used as map keys throughout the engine.
type Reference struct {
	Type string
	ID   string
}

// NewReference returns the reference of the entity typ/id.
func NewReference(typ, id string) Reference {
	return Reference{Type: typ, ID: id}
}

// ParseReference parses the "Type/ID" form produced by String.
// The identity may itself contain slashes.
func ParseReference(s string) (Reference, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" {
		return Reference{}, fmt.Errorf("tessera: invalid reference %q", s)
	}
	return Reference{Type: typ, ID: id}, nil
}

// String returns the "Type/ID" form of the reference.
func (r Reference) String() string {
	return r.Type + "/" + r.ID
}

// IsZero reports whether r is the zero reference.
func (r Reference) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// MarshalText implements encoding.TextMarshaler.
func (r Reference) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reference) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = Reference{}
		return nil
	}
	ref, err := ParseReference(string(b))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// CompareReferences orders references by type and then identity.
// It is suitable for slices.SortFunc.
func CompareReferences(a, b Reference) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
