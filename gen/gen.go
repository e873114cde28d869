// Package gen renders lowered iterators as Go source code.
//
// Each storey becomes a struct with MoveNext, Current, Dispose, Reset and,
// for enumerables, GetEnumerator methods; each stub becomes a function
// with the signature of the original method. The generated code depends on
// the runtime helpers of package github.com/stealthrocket/iterc.
//
// Expressions are rebuilt from the stack code. Control flow is expressed
// with goto statements, so the output reads like the listing it was
// generated from rather than like hand-written Go.
package gen

import (
	"bytes"
	"fmt"
	"go/build/constraint"
	"go/format"
	"go/parser"
	"go/token"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/stealthrocket/iterc/compiler"
	"github.com/stealthrocket/iterc/emit"
)

// RuntimePath is the import path of the package generated code calls
// into.
const RuntimePath = "github.com/stealthrocket/iterc"

const header = "// Code generated by iterc. DO NOT EDIT.\n\n"

// Option configures the generator.
type Option func(*generator)

// WithPackageName sets the package clause of the generated file. The
// default is main.
func WithPackageName(name string) Option {
	return func(g *generator) { g.pkg = name }
}

// WithConstraint sets the build constraint of the source file, which the
// generated file inherits.
func WithConstraint(expr constraint.Expr) Option {
	return func(g *generator) { g.constraint = expr }
}

// WithBuildTag restricts the generated file to builds with the given tag.
func WithBuildTag(tag string) Option {
	return func(g *generator) {
		if tag != "" {
			g.buildTag = &constraint.TagExpr{Tag: tag}
		}
	}
}

type generator struct {
	pkg        string
	constraint constraint.Expr
	buildTag   *constraint.TagExpr

	storeys map[string]bool
}

// Generate renders iterators as a formatted Go file. Nil iterators are
// skipped.
func Generate(iterators []*compiler.Iterator, options ...Option) ([]byte, error) {
	g := &generator{pkg: "main", storeys: map[string]bool{}}
	for _, option := range options {
		option(g)
	}
	for _, it := range iterators {
		if it != nil {
			g.storeys[it.Storey.Name] = true
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "package %s\n\n", g.pkg)
	for _, it := range iterators {
		if it == nil {
			continue
		}
		if err := g.iterator(&b, it); err != nil {
			return nil, fmt.Errorf("%s: %w", it.Method.Name, err)
		}
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", b.Bytes(), parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("generated code does not parse: %w", err)
	}
	if len(g.storeys) > 0 {
		astutil.AddNamedImport(fset, f, "iterc", RuntimePath)
		astutil.AddImport(fset, f, "sync/atomic")
	}

	var out bytes.Buffer
	out.WriteString(header)
	if expr := g.buildConstraint(); expr != nil {
		out.WriteString("//go:build " + expr.String() + "\n\n")
	}
	if err := format.Node(&out, fset, f); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (g *generator) iterator(b *bytes.Buffer, it *compiler.Iterator) error {
	st := it.Storey
	fmt.Fprintf(b, "type %s struct {\n", st.Name)
	for i, f := range st.Fields {
		if i == emit.FieldPC {
			b.WriteString("\tpc atomic.Int64\n")
			continue
		}
		fmt.Fprintf(b, "\t%s %s", f.Name, g.goType(f.Type))
		if f.Source != "" && f.Source != f.Name {
			fmt.Fprintf(b, " // %s", f.Source)
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")

	if err := g.stub(b, it); err != nil {
		return err
	}
	for _, fn := range st.Methods {
		var sig string
		switch fn.Name {
		case emit.MoveNext:
			sig = "MoveNext() bool"
		case emit.Current:
			sig = "Current() " + g.goType(st.Elem)
		case emit.Dispose:
			sig = "Dispose()"
		case emit.Reset:
			sig = "Reset()"
		case emit.GetEnumerator:
			sig = "GetEnumerator() iterc.Enumerator[" + g.goType(st.Elem) + "]"
		default:
			return fmt.Errorf("unexpected method %s", fn.Name)
		}
		fmt.Fprintf(b, "func (it *%s) %s ", st.Name, sig)
		w := g.newWriter(st, fn, "it", st.Name, nil)
		if err := w.function(b); err != nil {
			return fmt.Errorf("%s.%s: %w", st.Name, fn.Name, err)
		}
	}
	return nil
}

func (g *generator) stub(b *bytes.Buffer, it *compiler.Iterator) error {
	m := it.Method
	b.WriteString("func ")
	if m.Receiver != "" {
		fmt.Fprintf(b, "(_recv %s) ", m.Receiver)
	}
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		name := m.Vars[p.Var].Name
		if name == "_" || name == "" {
			name = fmt.Sprintf("_p%d", i)
		}
		params[i] = name
		if i > 0 {
			b.WriteString(", ")
		} else {
			fmt.Fprintf(b, "%s(", m.Name)
		}
		fmt.Fprintf(b, "%s %s", name, g.goType(m.Vars[p.Var].Type))
	}
	if len(m.Params) == 0 {
		fmt.Fprintf(b, "%s(", m.Name)
	}
	fmt.Fprintf(b, ") %s ", g.goType(m.Result))

	w := g.newWriter(it.Storey, it.Stub, "_recv", m.Receiver, params)
	if err := w.function(b); err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}
	return nil
}

// goType maps a type of the lowered program to Go syntax.
func (g *generator) goType(typ string) string {
	switch {
	case typ == "" || typ == compiler.EnumeratorType:
		return "any"
	case g.storeys[typ]:
		return "*" + typ
	}
	if shape, ok := compiler.ShapeOf(typ); ok {
		kind := "Enumerator"
		if shape.Enumerable {
			kind = "Enumerable"
		}
		return "iterc." + kind + "[" + g.goType(shape.Elem) + "]"
	}
	return typ
}

// runtimeFuncs maps the builtin host functions to the runtime functions
// generated code calls instead, with their Go result types.
var runtimeFuncs = map[string]struct{ name, result string }{
	compiler.GetEnumeratorFunc: {"iterc.GetEnumerator", "any"},
	compiler.MoveNextFunc:      {"iterc.MoveNext", "bool"},
	compiler.CurrentFunc:       {"iterc.Current", "any"},
	compiler.DisposeFunc:       {"iterc.Dispose", ""},
	compiler.MonitorEnterFunc:  {"iterc.MonitorEnter", ""},
	compiler.MonitorExitFunc:   {"iterc.MonitorExit", ""},
}

func indent(s string) string {
	return "\t" + strings.ReplaceAll(strings.TrimSuffix(s, "\n"), "\n", "\n\t") + "\n"
}
