package unitofwork

import (
	"time"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/schema/edge"
	"github.com/syssam/tessera/store"
)

// Entity is the handle of one entity within one unit of work. It binds the
// entity's type to the session's copy of its state. Two entities are equal
// if they have the same reference, whatever their session.
type Entity struct {
	uow   *UnitOfWork
	typ   *graph.Type
	state *store.EntityState
	views map[string]any
}

// Reference returns the reference of the entity.
func (e *Entity) Reference() tessera.Reference { return e.state.Reference }

// String returns the reference of the entity in "Type/ID" form.
func (e *Entity) String() string { return e.state.Reference.String() }

// Type returns the entity type.
func (e *Entity) Type() *graph.Type { return e.typ }

// Status returns the status of the entity state.
func (e *Entity) Status() store.Status { return e.state.Status }

// Version returns the version the entity was loaded or last written at.
// It is empty for entities never stored.
func (e *Entity) Version() string { return e.state.Version }

// LastModified returns the time the entity was last written.
func (e *Entity) LastModified() time.Time { return e.state.LastModified }

// UnitOfWork returns the session owning the entity.
func (e *Entity) UnitOfWork() *UnitOfWork { return e.uow }

// CurrentTime returns the current time of the owning session.
func (e *Entity) CurrentTime() time.Time { return e.uow.now }

// Usecase returns the usecase of the owning session.
func (e *Entity) Usecase() tessera.Usecase { return e.uow.usecase }

// Equal reports whether e and o denote the same entity.
func (e *Entity) Equal(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.state.Reference == o.state.Reference
}

// Value returns the value of a property.
func (e *Entity) Value(name string) (any, error) {
	p, err := e.Property(name)
	if err != nil {
		return nil, err
	}
	return p.Get()
}

// SetValue sets the value of a property.
func (e *Entity) SetValue(name string, v any) error {
	p, err := e.Property(name)
	if err != nil {
		return err
	}
	return p.Set(v)
}

// Property returns the view of a declared property.
func (e *Entity) Property(name string) (*Property, error) {
	if v, ok := e.views[name].(*Property); ok {
		return v, nil
	}
	f, ok := e.typ.Field(name)
	if !ok {
		return nil, tessera.NewUnknownAccessorError(e.typ.Name, "property", name)
	}
	p := &Property{entity: e, field: f}
	e.memoize(name, p)
	return p, nil
}

// Association returns the view of a declared single association.
func (e *Entity) Association(name string) (*Association, error) {
	if v, ok := e.views[name].(*Association); ok {
		return v, nil
	}
	ed, err := e.edge(name, edge.Single)
	if err != nil {
		return nil, err
	}
	a := &Association{entity: e, edge: ed}
	e.memoize(name, a)
	return a, nil
}

// ManyAssociation returns the view of a declared many-association.
func (e *Entity) ManyAssociation(name string) (*ManyAssociation, error) {
	if v, ok := e.views[name].(*ManyAssociation); ok {
		return v, nil
	}
	ed, err := e.edge(name, edge.Many)
	if err != nil {
		return nil, err
	}
	a := &ManyAssociation{entity: e, edge: ed}
	e.memoize(name, a)
	return a, nil
}

// NamedAssociation returns the view of a declared named association.
func (e *Entity) NamedAssociation(name string) (*NamedAssociation, error) {
	if v, ok := e.views[name].(*NamedAssociation); ok {
		return v, nil
	}
	ed, err := e.edge(name, edge.Named)
	if err != nil {
		return nil, err
	}
	a := &NamedAssociation{entity: e, edge: ed}
	e.memoize(name, a)
	return a, nil
}

func (e *Entity) edge(name string, kind edge.Kind) (*graph.Edge, error) {
	ed, ok := e.typ.Edge(name)
	if !ok || ed.Kind != kind {
		return nil, tessera.NewUnknownAccessorError(e.typ.Name, kind.String()+" association", name)
	}
	return ed, nil
}

func (e *Entity) memoize(name string, view any) {
	if e.views == nil {
		e.views = make(map[string]any)
	}
	e.views[name] = view
}

// CheckConstraints evaluates the rules of every property and single
// association against the current state. All violations found are
// reported in one *tessera.ConstraintViolationError.
func (e *Entity) CheckConstraints() error {
	var violations []tessera.Violation
	for _, f := range e.typ.Fields {
		violations = append(violations, f.Violations(e.state.Properties[f.Name])...)
	}
	for _, ed := range e.typ.Associations() {
		if v, ok := ed.Violation(e.state.Associations[ed.Name]); ok {
			violations = append(violations, v)
		}
	}
	return tessera.NewConstraintViolationError(e.state.Reference, violations)
}

// aggregatedReferences returns the targets of the aggregated associations
// of the entity, in declaration order.
func (e *Entity) aggregatedReferences() []tessera.Reference {
	var refs []tessera.Reference
	for _, ed := range e.typ.Aggregated() {
		switch ed.Kind {
		case edge.Single:
			if ref := e.state.Associations[ed.Name]; !ref.IsZero() {
				refs = append(refs, ref)
			}
		case edge.Many:
			refs = append(refs, e.state.ManyAssociations[ed.Name]...)
		case edge.Named:
			refs = append(refs, e.state.NamedAssociations[ed.Name].Refs()...)
		}
	}
	return refs
}

// access fails once the owning session is closed.
func (e *Entity) access() error {
	return e.uow.closedErr()
}

var _ tessera.Entity = (*Entity)(nil)
