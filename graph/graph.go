package graph

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/schema/edge"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/schema/mixin"
)

type (
	// Graph holds the bound entity model of all declared types.
	Graph struct {
		// Types in declaration order.
		Types []*Type
		types map[string]*Type
	}

	// Type is the bound model of one entity type.
	Type struct {
		// Name holds the type name, used in references.
		Name string
		// Fields holds the properties: mixin fields first, then the
		// schema's own, in declaration order.
		Fields []*Field
		// Edges holds the associations, ordered like Fields.
		Edges []*Edge
		// Hooks holds the lifecycle hooks: mixin hooks first, then
		// the schema's own, in declaration order.
		Hooks []tessera.Hook

		schema     tessera.Interface
		fields     map[string]*Field
		edges      map[string]*Edge
		single     []*Edge
		many       []*Edge
		named      []*Edge
		aggregated []*Edge
	}

	// Field is a bound property.
	Field struct {
		*field.Descriptor
		// Owner is the type declaring the field.
		Owner *Type
		// Position of the field in Owner.Fields.
		Position int
	}

	// Edge is a bound association.
	Edge struct {
		*edge.Descriptor
		// Owner is the type declaring the association.
		Owner *Type
		// Target is the type referenced by the association.
		Target *Type
	}
)

// New binds the given schemas into a Graph. Every problem found while
// binding is reported in a single *AssemblyError.
func New(schemas ...tessera.Interface) (*Graph, error) {
	g := &Graph{types: make(map[string]*Type, len(schemas))}
	// Association targets are declared with Go types, which may differ
	// from configured type names.
	goNames := make(map[string]*Type, len(schemas))
	var errs []error
	for _, s := range schemas {
		t, err := newType(s)
		errs = append(errs, err...)
		if t == nil {
			continue
		}
		if _, ok := g.types[t.Name]; ok {
			errs = append(errs, NewSchemaError(t.Name, "", "duplicate type", nil))
			continue
		}
		g.types[t.Name] = t
		g.Types = append(g.Types, t)
		goNames[goTypeName(s)] = t
	}
	for _, t := range g.Types {
		for _, e := range t.Edges {
			target, ok := g.types[e.Descriptor.Type]
			if !ok {
				target, ok = goNames[e.Descriptor.Type]
			}
			if !ok {
				errs = append(errs, NewSchemaError(t.Name, e.Name, fmt.Sprintf("unknown association target %q", e.Descriptor.Type), nil))
				continue
			}
			e.Target = target
		}
	}
	if err := newAssemblyError(errs); err != nil {
		return nil, err
	}
	return g, nil
}

// MustNew is like New but panics on assembly errors.
func MustNew(schemas ...tessera.Interface) *Graph {
	g, err := New(schemas...)
	if err != nil {
		panic(err)
	}
	return g
}

// Type returns the type with the given name.
func (g *Graph) Type(name string) (*Type, bool) {
	t, ok := g.types[name]
	return t, ok
}

// MustType returns the type with the given name or panics.
func (g *Graph) MustType(name string) *Type {
	t, ok := g.types[name]
	if !ok {
		panic(fmt.Sprintf("graph: unknown type %q", name))
	}
	return t
}

// TypeOf returns the bound type of the given schema.
func (g *Graph) TypeOf(s tessera.Interface) (*Type, bool) {
	return g.Type(typeName(s))
}

// typeName returns the configured name of the schema, or its Go type name.
func typeName(s tessera.Interface) string {
	if name := s.Config().Name; name != "" {
		return name
	}
	return goTypeName(s)
}

func goTypeName(s tessera.Interface) string {
	rt := reflect.TypeOf(s)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Name()
}

func newType(s tessera.Interface) (*Type, []error) {
	if s == nil {
		return nil, []error{NewSchemaError("", "", "nil schema", nil)}
	}
	t := &Type{
		Name:   typeName(s),
		schema: s,
		fields: make(map[string]*Field),
		edges:  make(map[string]*Edge),
	}
	if t.Name == "" {
		return nil, []error{NewSchemaError("", "", fmt.Sprintf("cannot derive a type name from %T", s), nil)}
	}
	var (
		errs   []error
		fields []tessera.Field
		edges  []tessera.Edge
	)
	for _, m := range s.Mixin() {
		if m == nil {
			errs = append(errs, NewSchemaError(t.Name, "", "nil mixin", nil))
			continue
		}
		fields = append(fields, m.Fields()...)
		edges = append(edges, m.Edges()...)
		for _, h := range m.Hooks() {
			if err := checkHook(t.Name, mixin.Name(m), h); err != nil {
				errs = append(errs, err)
				continue
			}
			t.Hooks = append(t.Hooks, h)
		}
	}
	fields = append(fields, s.Fields()...)
	edges = append(edges, s.Edges()...)
	for _, h := range s.Hooks() {
		if err := checkHook(t.Name, t.Name, h); err != nil {
			errs = append(errs, err)
			continue
		}
		t.Hooks = append(t.Hooks, h)
	}
	seen := make(map[string]struct{}, len(fields)+len(edges))
	declare := func(name string) error {
		if name == "" {
			return NewSchemaError(t.Name, "", "missing accessor name", nil)
		}
		if _, ok := seen[name]; ok {
			return NewSchemaError(t.Name, name, "duplicate accessor", nil)
		}
		seen[name] = struct{}{}
		return nil
	}
	for _, f := range fields {
		d := f.Descriptor()
		if err := declare(d.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		if d.Err != nil {
			errs = append(errs, NewSchemaError(t.Name, d.Name, "invalid field", d.Err))
			continue
		}
		bf := &Field{Descriptor: d, Owner: t, Position: len(t.Fields)}
		t.Fields = append(t.Fields, bf)
		t.fields[d.Name] = bf
	}
	for _, e := range edges {
		d := e.Descriptor()
		if err := declare(d.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		if d.Err != nil {
			errs = append(errs, NewSchemaError(t.Name, d.Name, "invalid association", d.Err))
			continue
		}
		be := &Edge{Descriptor: d, Owner: t}
		t.Edges = append(t.Edges, be)
		t.edges[d.Name] = be
		switch d.Kind {
		case edge.Single:
			t.single = append(t.single, be)
		case edge.Named:
			t.named = append(t.named, be)
		default:
			t.many = append(t.many, be)
		}
		if d.Aggregated {
			t.aggregated = append(t.aggregated, be)
		}
	}
	return t, errs
}

func checkHook(typ, owner string, h tessera.Hook) error {
	switch {
	case h.Name == "":
		return NewSchemaError(typ, "", fmt.Sprintf("unnamed hook in %s", owner), nil)
	case h.OnCreate == nil && h.OnRemove == nil:
		return NewSchemaError(typ, "", fmt.Sprintf("hook %q of %s reacts to nothing", h.Name, owner), nil)
	}
	return nil
}

// Field returns the property with the given name.
func (t *Type) Field(name string) (*Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Edge returns the association with the given name.
func (t *Type) Edge(name string) (*Edge, bool) {
	e, ok := t.edges[name]
	return e, ok
}

// Associations returns the single associations.
func (t *Type) Associations() []*Edge { return t.single }

// ManyAssociations returns the many-associations.
func (t *Type) ManyAssociations() []*Edge { return t.many }

// NamedAssociations returns the named associations.
func (t *Type) NamedAssociations() []*Edge { return t.named }

// Aggregated returns the associations owning their targets.
func (t *Type) Aggregated() []*Edge { return t.aggregated }

// Schema returns the schema the type was bound from.
func (t *Type) Schema() tessera.Interface { return t.schema }

// Reference returns the reference of the entity of this type with the given id.
func (t *Type) Reference(id string) tessera.Reference {
	return tessera.NewReference(t.Name, id)
}

// Coerce converts in place every value of props declared by a field of
// the type to the field's Go type. Undeclared names are left untouched.
func (t *Type) Coerce(props map[string]any) error {
	for name, v := range props {
		f, ok := t.fields[name]
		if !ok {
			continue
		}
		c, err := f.Coerce(v)
		if err != nil {
			return err
		}
		props[name] = c
	}
	return nil
}

// HasHooks reports whether the type declares hooks reacting to op
// (tessera.OpCreate or tessera.OpRemove).
func (t *Type) HasHooks(op string) bool {
	return slices.ContainsFunc(t.Hooks, func(h tessera.Hook) bool {
		return hookFunc(h, op) != nil
	})
}

// hookFunc returns the function of h reacting to op.
func hookFunc(h tessera.Hook, op string) tessera.HookFunc {
	switch op {
	case tessera.OpCreate:
		return h.OnCreate
	case tessera.OpRemove:
		return h.OnRemove
	}
	return nil
}

// DefaultValue returns the default value of the field coerced to its Go
// type, or nil if the field has no default.
func (f *Field) DefaultValue() any {
	v, ok := f.Descriptor.DefaultValue()
	if !ok {
		return nil
	}
	if c, err := field.Coerce(f.Info.Type, v); err == nil {
		return c
	}
	return v
}

// Coerce converts v to the Go type of the field.
func (f *Field) Coerce(v any) (any, error) {
	c, err := field.Coerce(f.Info.Type, v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", f.Owner.Name, f.Name, err)
	}
	return c, nil
}

// Violations evaluates every rule of the field against v.
func (f *Field) Violations(v any) []tessera.Violation {
	errs := f.Validate(v)
	if len(errs) == 0 {
		return nil
	}
	out := make([]tessera.Violation, 0, len(errs))
	for _, err := range errs {
		vl := tessera.Violation{Accessor: f.Name, Value: v, Err: err}
		if re, ok := err.(*field.RuleError); ok {
			vl.Rule = re.Rule
		}
		out = append(out, vl)
	}
	return out
}

// Violation returns the violation of a required single association that
// is not set, if any.
func (e *Edge) Violation(ref tessera.Reference) (tessera.Violation, bool) {
	if e.Kind == edge.Single && e.Required && ref.IsZero() {
		return tessera.Violation{Accessor: e.Name, Rule: "required"}, true
	}
	return tessera.Violation{}, false
}
