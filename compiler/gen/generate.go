package gen

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/schema/edge"
	"github.com/syssam/tessera/schema/field"
)

const (
	uowPkg = "github.com/syssam/tessera/unitofwork"

	// DefaultHeader marks generated files.
	DefaultHeader = "Code generated by tessera. DO NOT EDIT."

	graphFile = "tessera.go"
)

// ErrNameConflict is returned when two generated declarations would share
// a Go identifier.
var ErrNameConflict = errors.New("gen: name conflict")

// Config configures Generate.
type Config struct {
	// Target is the output directory. It is created if missing.
	Target string
	// Package is the name of the generated package. Defaults to the base
	// name of Target.
	Package string
	// Header is the comment written on top of every file.
	Header string
	// Workers bounds the number of files formatted and written in
	// parallel. Defaults to GOMAXPROCS.
	Workers int
}

func (c *Config) defaults() error {
	if c.Target == "" {
		return errors.New("gen: missing target directory")
	}
	if c.Package == "" {
		abs, err := filepath.Abs(c.Target)
		if err != nil {
			return fmt.Errorf("gen: resolve target: %w", err)
		}
		c.Package = strings.ToLower(strings.NewReplacer("-", "", "_", "", ".", "").Replace(filepath.Base(abs)))
	}
	if !token.IsIdentifier(c.Package) || token.IsKeyword(c.Package) {
		return fmt.Errorf("gen: invalid package name %q", c.Package)
	}
	if c.Header == "" {
		c.Header = DefaultHeader
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}

// Generate writes the typed accessors of every entity type of g to
// cfg.Target.
func Generate(ctx context.Context, g *graph.Graph, cfg Config) error {
	if g == nil {
		return errors.New("gen: nil graph")
	}
	if err := cfg.defaults(); err != nil {
		return err
	}
	files, err := plan(g, cfg)
	if err != nil {
		return err
	}
	return newWriter(cfg).write(ctx, files)
}

// plan builds the files of g after checking that generated names are
// unique.
func plan(g *graph.Graph, cfg Config) ([]fileTask, error) {
	if err := checkNames(g); err != nil {
		return nil, err
	}
	files := make([]fileTask, 0, len(g.Types)+1)
	for _, t := range g.Types {
		files = append(files, fileTask{
			name: snake(goName(t)) + ".go",
			file: genType(cfg, t),
		})
	}
	files = append(files, fileTask{name: graphFile, file: genGraph(cfg, g)})
	return files, nil
}

func goName(t *graph.Type) string { return pascal(t.Name) }

// checkNames reports package-level and method-level identifier clashes.
func checkNames(g *graph.Graph) error {
	var errs []error
	pkg := map[string]string{"TypeNames": "graph", "Wrap": "graph", "value": "graph"}
	declare := func(scope map[string]string, name, owner string) {
		if prev, ok := scope[name]; ok {
			errs = append(errs, fmt.Errorf("%w: %s of %s and %s", ErrNameConflict, name, owner, prev))
			return
		}
		scope[name] = owner
	}
	files := map[string]string{graphFile: "graph"}
	for _, t := range g.Types {
		n := goName(t)
		if !token.IsIdentifier(n) {
			errs = append(errs, fmt.Errorf("gen: type %q has no valid Go name", t.Name))
			continue
		}
		for _, id := range []string{n, "Type" + n, "New" + n, "Get" + n, "As" + n} {
			declare(pkg, id, t.Name)
		}
		declare(files, snake(n)+".go", t.Name)
		methods := map[string]string{"Entity": "embedded entity"}
		for _, f := range t.Fields {
			declare(methods, pascal(f.Name), t.Name+"."+f.Name)
			declare(methods, "Set"+pascal(f.Name), t.Name+"."+f.Name)
		}
		for _, e := range t.Edges {
			for _, m := range edgeMethods(e) {
				declare(methods, m, t.Name+"."+e.Name)
			}
		}
	}
	return errors.Join(errs...)
}

// edgeMethods returns the names of the methods generated for e.
func edgeMethods(e *graph.Edge) []string {
	n, one := pascal(e.Name), pascal(singular(e.Name))
	switch e.Kind {
	case edge.Single:
		return []string{n, "Set" + n}
	case edge.Named:
		return []string{n, "Get" + one, "Put" + one, "Remove" + one}
	default:
		return []string{n, "Add" + one, "Remove" + one}
	}
}

func newFile(cfg Config) *jen.File {
	f := jen.NewFile(cfg.Package)
	f.HeaderComment(cfg.Header)
	return f
}

// goType returns the Go type of the values held by f.
func goType(f *graph.Field) jen.Code {
	switch f.Info.Type {
	case field.TypeBool:
		return jen.Bool()
	case field.TypeTime:
		return jen.Qual("time", "Time")
	case field.TypeJSON:
		return jen.Id("any")
	case field.TypeBytes:
		return jen.Index().Byte()
	case field.TypeInt:
		return jen.Int()
	case field.TypeInt64:
		return jen.Int64()
	case field.TypeFloat64:
		return jen.Float64()
	case field.TypeStrings:
		return jen.Index().String()
	default:
		return jen.String()
	}
}

// genType generates the wrapper of t.
func genType(cfg Config, t *graph.Type) *jen.File {
	f := newFile(cfg)
	n := goName(t)
	r := receiver(n)
	entity := jen.Op("*").Qual(uowPkg, "Entity")

	f.Commentf("Type%s is the type name of %s entities.", n, t.Name)
	f.Const().Id("Type" + n).Op("=").Lit(t.Name)

	f.Commentf("%s is a typed view of a %s entity.", n, t.Name)
	f.Type().Id(n).Struct(entity)

	for _, ctor := range []struct{ name, call, doc string }{
		{"New" + n, "NewEntity", "New%s creates a new %s entity identified by id in u."},
		{"Get" + n, "Get", "Get%s returns the %s entity identified by id, loading it if needed."},
	} {
		f.Commentf(ctor.doc, n, t.Name)
		f.Func().Id(ctor.name).Params(
			jen.Id("ctx").Qual("context", "Context"),
			jen.Id("u").Op("*").Qual(uowPkg, "UnitOfWork"),
			jen.Id("id").String(),
		).Params(jen.Id(n), jen.Error()).Block(
			jen.List(jen.Id("e"), jen.Err()).Op(":=").Id("u").Dot(ctor.call).Call(jen.Id("ctx"), jen.Id("Type"+n), jen.Id("id")),
			jen.If(jen.Err().Op("!=").Nil()).Block(
				jen.Return(jen.Id(n).Values(), jen.Err()),
			),
			jen.Return(jen.Id(n).Values(jen.Id("e")), jen.Nil()),
		)
	}

	f.Commentf("As%s returns the typed view of e, which must be a %s entity.", n, t.Name)
	f.Func().Id("As"+n).Params(jen.Id("e").Add(entity)).Params(jen.Id(n), jen.Error()).Block(
		jen.If(jen.Id("e").Op("==").Nil()).Block(
			jen.Return(jen.Id(n).Values(), jen.Qual("errors", "New").Call(jen.Lit(cfg.Package+": nil entity"))),
		),
		jen.If(jen.Id("e").Dot("Type").Call().Dot("Name").Op("!=").Id("Type"+n)).Block(
			jen.Return(jen.Id(n).Values(), jen.Qual("fmt", "Errorf").Call(
				jen.Lit(cfg.Package+": entity %s is not of type %s"), jen.Id("e"), jen.Id("Type"+n),
			)),
		),
		jen.Return(jen.Id(n).Values(jen.Id("e")), jen.Nil()),
	)

	for _, fd := range t.Fields {
		genProperty(f, n, r, fd)
	}
	for _, e := range t.Edges {
		switch e.Kind {
		case edge.Single:
			genAssociation(f, n, r, e)
		case edge.Named:
			genNamedAssociation(f, n, r, e)
		default:
			genManyAssociation(f, n, r, e)
		}
	}
	return f
}

func comment(f *jen.File, doc string, extra ...string) {
	f.Comment(doc)
	for _, c := range extra {
		if c != "" {
			f.Comment(c)
		}
	}
}

func genProperty(f *jen.File, n, r string, fd *graph.Field) {
	m := pascal(fd.Name)
	comment(f, fmt.Sprintf("%s returns the %s property.", m, fd.Name), fd.Comment)
	f.Func().Params(jen.Id(r).Id(n)).Id(m).Params().Params(goType(fd), jen.Error()).Block(
		jen.Return(jen.Id("value").Types(goType(fd)).Call(jen.Id(r).Dot("Entity"), jen.Lit(fd.Name))),
	)
	var note string
	if fd.Immutable {
		note = "It can only be set while the entity is new."
	}
	comment(f, fmt.Sprintf("Set%s sets the %s property.", m, fd.Name), note)
	f.Func().Params(jen.Id(r).Id(n)).Id("Set" + m).Params(jen.Id("v").Add(goType(fd))).Error().Block(
		jen.Return(jen.Id(r).Dot("Entity").Dot("SetValue").Call(jen.Lit(fd.Name), jen.Id("v"))),
	)
}

// view opens the association view kind of e into local a, returning
// zero results on failure.
func view(r, kind string, e *graph.Edge, zero ...jen.Code) []jen.Code {
	return []jen.Code{
		jen.List(jen.Id("a"), jen.Err()).Op(":=").Id(r).Dot("Entity").Dot(kind).Call(jen.Lit(e.Name)),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(append(zero, jen.Err())...)),
	}
}

func genAssociation(f *jen.File, n, r string, e *graph.Edge) {
	m, target := pascal(e.Name), goName(e.Target)
	comment(f, fmt.Sprintf("%s returns the target of the %s association, or a zero %s if it is not set.", m, e.Name, target), e.Comment)
	body := view(r, "Association", e, jen.Id(target).Values())
	body = append(body,
		jen.List(jen.Id("t"), jen.Err()).Op(":=").Id("a").Dot("Get").Call(jen.Id("ctx")),
		jen.If(jen.Err().Op("!=").Nil().Op("||").Id("t").Op("==").Nil()).Block(
			jen.Return(jen.Id(target).Values(), jen.Err()),
		),
		jen.Return(jen.Id(target).Values(jen.Id("t")), jen.Nil()),
	)
	f.Func().Params(jen.Id(r).Id(n)).Id(m).Params(jen.Id("ctx").Qual("context", "Context")).Params(jen.Id(target), jen.Error()).Block(body...)

	comment(f, fmt.Sprintf("Set%s points the %s association to v. A zero %s clears it.", m, e.Name, target))
	body = view(r, "Association", e)
	body = append(body, jen.Return(jen.Id("a").Dot("Set").Call(jen.Id("v").Dot("Entity"))))
	f.Func().Params(jen.Id(r).Id(n)).Id("Set" + m).Params(jen.Id("v").Id(target)).Error().Block(body...)
}

// wrapAll converts the entities in local es to a slice of target.
func wrapAll(target string) []jen.Code {
	return []jen.Code{
		jen.Id("out").Op(":=").Make(jen.Index().Id(target), jen.Len(jen.Id("es"))),
		jen.For(jen.List(jen.Id("i"), jen.Id("t")).Op(":=").Range().Id("es")).Block(
			jen.Id("out").Index(jen.Id("i")).Op("=").Id(target).Values(jen.Id("t")),
		),
		jen.Return(jen.Id("out"), jen.Nil()),
	}
}

func genManyAssociation(f *jen.File, n, r string, e *graph.Edge) {
	m, one, target := pascal(e.Name), pascal(singular(e.Name)), goName(e.Target)
	comment(f, fmt.Sprintf("%s returns the targets of the %s association, in order.", m, e.Name), e.Comment)
	body := view(r, "ManyAssociation", e, jen.Nil())
	body = append(body,
		jen.List(jen.Id("es"), jen.Err()).Op(":=").Id("a").Dot("Entities").Call(jen.Id("ctx")),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
	)
	body = append(body, wrapAll(target)...)
	f.Func().Params(jen.Id(r).Id(n)).Id(m).Params(jen.Id("ctx").Qual("context", "Context")).Params(jen.Index().Id(target), jen.Error()).Block(body...)

	for _, op := range []struct{ name, call, doc string }{
		{"Add" + one, "Append", "%s appends v to the %s association. It reports false if v was already there."},
		{"Remove" + one, "Remove", "%s removes v from the %s association. It reports false if v was not there."},
	} {
		comment(f, fmt.Sprintf(op.doc, op.name, e.Name))
		body = view(r, "ManyAssociation", e, jen.False())
		body = append(body, jen.Return(jen.Id("a").Dot(op.call).Call(jen.Id("v").Dot("Entity"))))
		f.Func().Params(jen.Id(r).Id(n)).Id(op.name).Params(jen.Id("v").Id(target)).Params(jen.Bool(), jen.Error()).Block(body...)
	}
}

func genNamedAssociation(f *jen.File, n, r string, e *graph.Edge) {
	m, one, target := pascal(e.Name), pascal(singular(e.Name)), goName(e.Target)
	comment(f, fmt.Sprintf("%s returns the targets of the %s association, in insertion order.", m, e.Name), e.Comment)
	body := view(r, "NamedAssociation", e, jen.Nil())
	body = append(body,
		jen.List(jen.Id("es"), jen.Err()).Op(":=").Id("a").Dot("Entities").Call(jen.Id("ctx")),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
	)
	body = append(body, wrapAll(target)...)
	f.Func().Params(jen.Id(r).Id(n)).Id(m).Params(jen.Id("ctx").Qual("context", "Context")).Params(jen.Index().Id(target), jen.Error()).Block(body...)

	comment(f, fmt.Sprintf("Get%s returns the %s entry name, or a zero %s if there is none.", one, e.Name, target))
	body = view(r, "NamedAssociation", e, jen.Id(target).Values())
	body = append(body,
		jen.List(jen.Id("t"), jen.Err()).Op(":=").Id("a").Dot("Get").Call(jen.Id("ctx"), jen.Id("name")),
		jen.If(jen.Err().Op("!=").Nil().Op("||").Id("t").Op("==").Nil()).Block(
			jen.Return(jen.Id(target).Values(), jen.Err()),
		),
		jen.Return(jen.Id(target).Values(jen.Id("t")), jen.Nil()),
	)
	f.Func().Params(jen.Id(r).Id(n)).Id("Get"+one).Params(
		jen.Id("ctx").Qual("context", "Context"), jen.Id("name").String(),
	).Params(jen.Id(target), jen.Error()).Block(body...)

	comment(f, fmt.Sprintf("Put%s stores v under name in the %s association.", one, e.Name))
	body = view(r, "NamedAssociation", e)
	body = append(body, jen.Return(jen.Id("a").Dot("Put").Call(jen.Id("name"), jen.Id("v").Dot("Entity"))))
	f.Func().Params(jen.Id(r).Id(n)).Id("Put"+one).Params(jen.Id("name").String(), jen.Id("v").Id(target)).Error().Block(body...)

	comment(f, fmt.Sprintf("Remove%s deletes the entry name of the %s association. It reports false if there was none.", one, e.Name))
	body = view(r, "NamedAssociation", e, jen.False())
	body = append(body, jen.Return(jen.Id("a").Dot("Remove").Call(jen.Id("name"))))
	f.Func().Params(jen.Id(r).Id(n)).Id("Remove"+one).Params(jen.Id("name").String()).Params(jen.Bool(), jen.Error()).Block(body...)
}

// genGraph generates the graph-level declarations.
func genGraph(cfg Config, g *graph.Graph) *jen.File {
	f := newFile(cfg)
	entity := jen.Op("*").Qual(uowPkg, "Entity")

	f.Comment("TypeNames lists the entity types of the graph, in declaration order.")
	f.Var().Id("TypeNames").Op("=").Index().String().ValuesFunc(func(grp *jen.Group) {
		for _, t := range g.Types {
			grp.Id("Type" + goName(t))
		}
	})

	f.Comment("Wrap returns the typed view of e.")
	f.Func().Id("Wrap").Params(jen.Id("e").Add(entity)).Params(jen.Id("any"), jen.Error()).Block(
		jen.If(jen.Id("e").Op("==").Nil()).Block(
			jen.Return(jen.Nil(), jen.Qual("errors", "New").Call(jen.Lit(cfg.Package+": nil entity"))),
		),
		jen.Switch(jen.Id("e").Dot("Type").Call().Dot("Name")).BlockFunc(func(grp *jen.Group) {
			for _, t := range g.Types {
				grp.Case(jen.Id("Type" + goName(t))).Block(
					jen.Return(jen.Id(goName(t)).Values(jen.Id("e")), jen.Nil()),
				)
			}
		}),
		jen.Return(jen.Nil(), jen.Qual("fmt", "Errorf").Call(
			jen.Lit(cfg.Package+": unknown entity type %s"), jen.Id("e").Dot("Type").Call().Dot("Name"),
		)),
	)

	f.Comment("value reads the property name of e as a T. Unset properties read as the zero T.")
	f.Func().Id("value").Types(jen.Id("T").Id("any")).Params(
		jen.Id("e").Add(entity), jen.Id("name").String(),
	).Params(jen.Id("T"), jen.Error()).Block(
		jen.Var().Id("zero").Id("T"),
		jen.List(jen.Id("v"), jen.Err()).Op(":=").Id("e").Dot("Value").Call(jen.Id("name")),
		jen.If(jen.Err().Op("!=").Nil().Op("||").Id("v").Op("==").Nil()).Block(
			jen.Return(jen.Id("zero"), jen.Err()),
		),
		jen.List(jen.Id("t"), jen.Id("ok")).Op(":=").Id("v").Assert(jen.Id("T")),
		jen.If(jen.Op("!").Id("ok")).Block(
			jen.Return(jen.Id("zero"), jen.Qual("fmt", "Errorf").Call(
				jen.Lit(cfg.Package+": property %s of %s holds %T"), jen.Id("name"), jen.Id("e"), jen.Id("v"),
			)),
		),
		jen.Return(jen.Id("t"), jen.Nil()),
	)
	return f
}
