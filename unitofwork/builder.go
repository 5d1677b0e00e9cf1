package unitofwork

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

// EntityBuilder prepares the state of a new entity before creating it.
//
// The prototype is an entity outside the identity map: its properties,
// immutable ones included, and its associations may be set freely. Instance
// creates the entity from the prototype, runs the create hooks and checks
// the constraints of the result; the entity joins the session only if both
// succeed.
//
//	b, err := uow.NewEntityBuilder("Order", "")
//	if err != nil {
//		return err
//	}
//	if err := b.Set("number", "N-1"); err != nil {
//		return err
//	}
//	order, err := b.Instance(ctx)
type EntityBuilder struct {
	uow       *UnitOfWork
	typ       *graph.Type
	prototype *Entity
	built     bool
}

// NewEntityBuilder returns a builder of an entity of the given type. An
// empty id is replaced by a generated identity. The prototype starts with
// the default value of every property.
func (u *UnitOfWork) NewEntityBuilder(typ, id string) (*EntityBuilder, error) {
	t, ref, err := u.newReference(typ, id)
	if err != nil {
		return nil, err
	}
	st := store.NewEntityState(ref, store.StatusNew)
	for _, f := range t.Fields {
		st.Properties[f.Name] = f.DefaultValue()
	}
	return u.newBuilder(t, st), nil
}

// NewEntityBuilderWithState returns a builder whose prototype is a copy of
// the properties and associations of state. Properties missing from state
// take their default value; stored values are converted to the declared
// property types.
func (u *UnitOfWork) NewEntityBuilderWithState(typ, id string, state *store.EntityState) (*EntityBuilder, error) {
	t, ref, err := u.newReference(typ, id)
	if err != nil {
		return nil, err
	}
	st := state.Clone()
	st.Reference = ref
	st.Status = store.StatusNew
	st.Version = ""
	st.LastModified = time.Time{}
	for _, f := range t.Fields {
		if _, ok := st.Properties[f.Name]; !ok {
			st.Properties[f.Name] = f.DefaultValue()
		}
	}
	if err := t.Coerce(st.Properties); err != nil {
		return nil, fmt.Errorf("unitofwork: builder state of %s: %w", ref, err)
	}
	return u.newBuilder(t, st), nil
}

func (u *UnitOfWork) newBuilder(t *graph.Type, st *store.EntityState) *EntityBuilder {
	return &EntityBuilder{
		uow:       u,
		typ:       t,
		prototype: &Entity{uow: u, typ: t, state: st},
	}
}

// Reference returns the reference of the entity to create.
func (b *EntityBuilder) Reference() tessera.Reference {
	return b.prototype.Reference()
}

// Prototype returns the entity holding the state being built. It is not
// part of the session: lookups of its reference do not find it.
func (b *EntityBuilder) Prototype() *Entity {
	return b.prototype
}

// Set sets a property of the prototype.
func (b *EntityBuilder) Set(name string, v any) error {
	if b.built {
		return ErrBuilderUsed
	}
	return b.prototype.SetValue(name, v)
}

// Instance creates the entity. The create hooks run on a copy of the
// prototype, then its constraints are checked; a failure of either leaves
// the session unchanged and the builder usable. Instance succeeds once.
func (b *EntityBuilder) Instance(ctx context.Context) (*Entity, error) {
	u := b.uow
	if err := u.closedErr(); err != nil {
		return nil, err
	}
	if b.built {
		return nil, ErrBuilderUsed
	}
	st, err := u.newState(ctx, b.typ, b.Reference())
	if err != nil {
		return nil, err
	}
	proto := b.prototype.state.Clone()
	st.Properties = proto.Properties
	st.Associations = proto.Associations
	st.ManyAssociations = proto.ManyAssociations
	st.NamedAssociations = proto.NamedAssociations
	e := &Entity{uow: u, typ: b.typ, state: st}
	if err := e.created(ctx); err != nil {
		return nil, err
	}
	if err := e.CheckConstraints(); err != nil {
		return nil, err
	}
	u.register(e)
	b.built = true
	return e, nil
}
