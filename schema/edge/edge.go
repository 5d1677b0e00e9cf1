package edge

import (
	"errors"
	"fmt"
	"reflect"
)

// Kind is the cardinality of an association.
type Kind uint8

// Association kinds.
const (
	// Many is an ordered list of references. It is the default kind.
	Many Kind = iota
	// Single holds at most one reference.
	Single
	// Named is an ordered mapping from names to references.
	Named
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Named:
		return "named"
	default:
		return "many"
	}
}

// A Descriptor for edge configuration.
type Descriptor struct {
	Name       string // edge name.
	Type       string // target type name.
	Kind       Kind   // association kind.
	Aggregated bool   // targets are owned and removed with the source.
	Required   bool   // a single association must be set.
	Immutable  bool   // cannot be changed once the entity was completed.
	Comment    string // edge comment.
	Err        error  // builder misuse.
}

// To defines an association from the declaring type to the type t, given
// as a method expression of its schema:
//
//	edge.To("lines", OrderLine.Type)
func To(name string, t any) *assocBuilder {
	b := &assocBuilder{desc: &Descriptor{Name: name}}
	b.desc.Type, b.desc.Err = typeName(t)
	return b
}

// typeName extracts the schema name from a method expression such as
// User.Type, whose first parameter is the schema struct.
func typeName(t any) (string, error) {
	rt := reflect.TypeOf(t)
	if rt == nil {
		return "", errors.New("edge: nil edge type")
	}
	if rt.Kind() == reflect.Func {
		if rt.NumIn() == 0 {
			return "", fmt.Errorf("edge: unexpected function type %s", rt)
		}
		rt = rt.In(0)
	}
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Name() == "" {
		return "", fmt.Errorf("edge: cannot derive a type name from %T", t)
	}
	return rt.Name(), nil
}

// assocBuilder is the builder for associations.
type assocBuilder struct {
	desc *Descriptor
}

// Unique makes the association hold a single reference.
func (b *assocBuilder) Unique() *assocBuilder {
	b.setKind(Single)
	return b
}

// Named makes the association an ordered name to reference mapping.
func (b *assocBuilder) Named() *assocBuilder {
	b.setKind(Named)
	return b
}

func (b *assocBuilder) setKind(k Kind) {
	if b.desc.Kind != Many && b.desc.Kind != k {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("edge %q: cannot be both %s and %s", b.desc.Name, b.desc.Kind, k))
		return
	}
	b.desc.Kind = k
}

// Aggregated marks the targets as owned by the source entity. Removing the
// source removes every aggregated target too.
func (b *assocBuilder) Aggregated() *assocBuilder {
	b.desc.Aggregated = true
	return b
}

// Required indicates that a single association must reference an entity
// when the owning entity is completed.
func (b *assocBuilder) Required() *assocBuilder {
	b.desc.Required = true
	return b
}

// Immutable indicates that the association cannot be changed once set.
func (b *assocBuilder) Immutable() *assocBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the edge.
func (b *assocBuilder) Comment(c string) *assocBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Edge interface by returning its descriptor.
func (b *assocBuilder) Descriptor() *Descriptor {
	if b.desc.Required && b.desc.Kind != Single {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("edge %q: only single associations can be required", b.desc.Name))
	}
	return b.desc
}
