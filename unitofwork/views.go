package unitofwork

import (
	"context"
	"fmt"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

// Property is the view of one property of an entity.
type Property struct {
	entity *Entity
	field  *graph.Field
}

// Name returns the property name.
func (p *Property) Name() string { return p.field.Name }

// Field returns the declaration of the property.
func (p *Property) Field() *graph.Field { return p.field }

// Get returns the value of the property.
func (p *Property) Get() (any, error) {
	if err := p.entity.access(); err != nil {
		return nil, err
	}
	return p.entity.state.Property(p.field.Name)
}

// Set sets the value of the property. v is converted to the Go type of the
// field; values of another type and writes to immutable properties of
// stored entities fail with a *tessera.ConstraintViolationError.
func (p *Property) Set(v any) error {
	e := p.entity
	if err := e.access(); err != nil {
		return err
	}
	if err := mutable(e, p.field.Name, p.field.Immutable); err != nil {
		return err
	}
	c, err := p.field.Coerce(v)
	if err != nil {
		return tessera.NewConstraintViolationError(e.Reference(), []tessera.Violation{
			{Accessor: p.field.Name, Rule: "type", Value: v, Err: err},
		})
	}
	return e.state.SetProperty(p.field.Name, c)
}

// mutable fails for removed entities and for immutable accessors of
// stored entities.
func mutable(e *Entity, name string, immutable bool) error {
	switch {
	case e.state.Status == store.StatusRemoved:
		return tessera.NewNotFoundError(e.Reference())
	case immutable && e.state.Status != store.StatusNew:
		return tessera.NewConstraintViolationError(e.Reference(), []tessera.Violation{
			{Accessor: name, Rule: "immutable"},
		})
	}
	return nil
}

// checkTarget fails if ref does not denote an entity of the edge target.
func checkTarget(e *Entity, ed *graph.Edge, ref tessera.Reference) error {
	if ref.Type == ed.Target.Name && ref.ID != "" {
		return nil
	}
	return tessera.NewConstraintViolationError(e.Reference(), []tessera.Violation{{
		Accessor: ed.Name,
		Rule:     "type",
		Value:    ref,
		Err:      fmt.Errorf("%s is not a %s", ref, ed.Target.Name),
	}})
}

func referenceOf(target *Entity) tessera.Reference {
	if target == nil {
		return tessera.Reference{}
	}
	return target.Reference()
}

// Association is the view of a single association of an entity.
type Association struct {
	entity *Entity
	edge   *graph.Edge
}

// Name returns the association name.
func (a *Association) Name() string { return a.edge.Name }

// Edge returns the declaration of the association.
func (a *Association) Edge() *graph.Edge { return a.edge }

// Reference returns the reference held by the association, or the zero
// reference if it is not set.
func (a *Association) Reference() (tessera.Reference, error) {
	if err := a.entity.access(); err != nil {
		return tessera.Reference{}, err
	}
	return a.entity.state.Association(a.edge.Name)
}

// Get resolves the association through the owning session. It returns nil
// if the association is not set.
func (a *Association) Get(ctx context.Context) (*Entity, error) {
	ref, err := a.Reference()
	if err != nil || ref.IsZero() {
		return nil, err
	}
	return a.entity.uow.GetReference(ctx, ref)
}

// Set points the association to target. A nil target clears it.
func (a *Association) Set(target *Entity) error {
	return a.SetReference(referenceOf(target))
}

// SetReference points the association to ref. The zero reference clears
// it.
func (a *Association) SetReference(ref tessera.Reference) error {
	e := a.entity
	if err := e.access(); err != nil {
		return err
	}
	if err := mutable(e, a.edge.Name, a.edge.Immutable); err != nil {
		return err
	}
	if !ref.IsZero() {
		if err := checkTarget(e, a.edge, ref); err != nil {
			return err
		}
	}
	return e.state.SetAssociation(a.edge.Name, ref)
}

// ManyAssociation is the view of an ordered many-association of an entity.
// A reference appears at most once.
type ManyAssociation struct {
	entity *Entity
	edge   *graph.Edge
}

// Name returns the association name.
func (m *ManyAssociation) Name() string { return m.edge.Name }

// Edge returns the declaration of the association.
func (m *ManyAssociation) Edge() *graph.Edge { return m.edge }

// References returns a copy of the references held by the association,
// in order.
func (m *ManyAssociation) References() ([]tessera.Reference, error) {
	if err := m.entity.access(); err != nil {
		return nil, err
	}
	refs, err := m.entity.state.ManyAssociation(m.edge.Name)
	if err != nil {
		return nil, err
	}
	return append([]tessera.Reference(nil), refs...), nil
}

// Len returns the number of references held by the association.
func (m *ManyAssociation) Len() (int, error) {
	refs, err := m.References()
	return len(refs), err
}

// Contains reports whether the association holds target.
func (m *ManyAssociation) Contains(target *Entity) (bool, error) {
	refs, err := m.References()
	if err != nil {
		return false, err
	}
	ref := referenceOf(target)
	for _, r := range refs {
		if r == ref {
			return true, nil
		}
	}
	return false, nil
}

// Get resolves the i-th reference of the association through the owning
// session.
func (m *ManyAssociation) Get(ctx context.Context, i int) (*Entity, error) {
	refs, err := m.References()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(refs) {
		return nil, fmt.Errorf("unitofwork: index %d out of range of %s.%s (%d)", i, m.entity, m.edge.Name, len(refs))
	}
	return m.entity.uow.GetReference(ctx, refs[i])
}

// Entities resolves every reference of the association, in order.
func (m *ManyAssociation) Entities(ctx context.Context) ([]*Entity, error) {
	refs, err := m.References()
	if err != nil {
		return nil, err
	}
	return m.entity.uow.GetAll(ctx, refs)
}

// Add inserts target at index i; an index out of range appends. It
// reports false if target is already held.
func (m *ManyAssociation) Add(i int, target *Entity) (bool, error) {
	e := m.entity
	if err := e.access(); err != nil {
		return false, err
	}
	if err := mutable(e, m.edge.Name, m.edge.Immutable); err != nil {
		return false, err
	}
	ref := referenceOf(target)
	if err := checkTarget(e, m.edge, ref); err != nil {
		return false, err
	}
	return e.state.AddManyAssociation(m.edge.Name, i, ref)
}

// Append adds target at the end of the association.
func (m *ManyAssociation) Append(target *Entity) (bool, error) {
	return m.Add(-1, target)
}

// Remove removes target from the association. It reports false if target
// was not held.
func (m *ManyAssociation) Remove(target *Entity) (bool, error) {
	e := m.entity
	if err := e.access(); err != nil {
		return false, err
	}
	if err := mutable(e, m.edge.Name, m.edge.Immutable); err != nil {
		return false, err
	}
	return e.state.RemoveManyAssociation(m.edge.Name, referenceOf(target))
}

// NamedAssociation is the view of a named association of an entity: an
// insertion ordered mapping from names to entities.
type NamedAssociation struct {
	entity *Entity
	edge   *graph.Edge
}

// Name returns the association name.
func (n *NamedAssociation) Name() string { return n.edge.Name }

// Edge returns the declaration of the association.
func (n *NamedAssociation) Edge() *graph.Edge { return n.edge }

func (n *NamedAssociation) entries() (*store.NamedReferences, error) {
	if err := n.entity.access(); err != nil {
		return nil, err
	}
	return n.entity.state.NamedAssociation(n.edge.Name)
}

// Len returns the number of entries.
func (n *NamedAssociation) Len() (int, error) {
	nr, err := n.entries()
	return nr.Len(), err
}

// Names returns the entry names in insertion order.
func (n *NamedAssociation) Names() ([]string, error) {
	nr, err := n.entries()
	return nr.Names(), err
}

// Entries returns a copy of the entries in insertion order.
func (n *NamedAssociation) Entries() ([]store.NamedReference, error) {
	nr, err := n.entries()
	return nr.Entries(), err
}

// Reference returns the reference stored under name.
func (n *NamedAssociation) Reference(name string) (tessera.Reference, bool, error) {
	nr, err := n.entries()
	if err != nil {
		return tessera.Reference{}, false, err
	}
	ref, ok := nr.Get(name)
	return ref, ok, nil
}

// Get resolves the entry name through the owning session. It returns nil
// if there is no such entry.
func (n *NamedAssociation) Get(ctx context.Context, name string) (*Entity, error) {
	ref, ok, err := n.Reference(name)
	if err != nil || !ok {
		return nil, err
	}
	return n.entity.uow.GetReference(ctx, ref)
}

// Entities resolves every entry, in insertion order.
func (n *NamedAssociation) Entities(ctx context.Context) ([]*Entity, error) {
	nr, err := n.entries()
	if err != nil {
		return nil, err
	}
	return n.entity.uow.GetAll(ctx, nr.Refs())
}

// Put stores target under name. An existing name keeps its position.
func (n *NamedAssociation) Put(name string, target *Entity) error {
	e := n.entity
	if err := e.access(); err != nil {
		return err
	}
	if err := mutable(e, n.edge.Name, n.edge.Immutable); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("unitofwork: empty entry name for %s.%s", e, n.edge.Name)
	}
	ref := referenceOf(target)
	if err := checkTarget(e, n.edge, ref); err != nil {
		return err
	}
	return e.state.PutNamedAssociation(n.edge.Name, name, ref)
}

// Remove deletes the entry name. It reports false if there was none.
func (n *NamedAssociation) Remove(name string) (bool, error) {
	e := n.entity
	if err := e.access(); err != nil {
		return false, err
	}
	if err := mutable(e, n.edge.Name, n.edge.Immutable); err != nil {
		return false, err
	}
	return e.state.RemoveNamedAssociation(n.edge.Name, name)
}
