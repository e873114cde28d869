package compiler

import (
	"go/token"
	"strings"
)

// ParamMod is the passing mode of a parameter.
type ParamMod uint8

const (
	ByValue ParamMod = iota
	Ref
	Out
	Variadic
)

func (m ParamMod) String() string {
	switch m {
	case Ref:
		return "ref"
	case Out:
		return "out"
	case Variadic:
		return "variadic"
	default:
		return "value"
	}
}

// Variable is an entry of a method's variable table. Parameters are
// variables too.
type Variable struct {
	Name string
	Type string
}

// Param is a method parameter.
type Param struct {
	Var VarID
	Mod ParamMod
}

// Method is a resolved method handed to the lowering pass.
type Method struct {
	Name string
	// Receiver is the type of the implicit receiver, or empty for
	// functions without one.
	Receiver string
	Params   []Param
	// Result is the declared return type; see ShapeOf.
	Result string
	Vars   []Variable
	Tree   *Tree
	Body   NodeID
	Pos    token.Position

	// Reported is set by the front end when diagnostics were already
	// reported for this method.
	Reported bool
}

// NewVar appends a variable to the method's variable table.
func (m *Method) NewVar(name, typ string) VarID {
	m.Vars = append(m.Vars, Variable{Name: name, Type: typ})
	return VarID(len(m.Vars) - 1)
}

// IsParam reports whether v is one of the method's parameters.
func (m *Method) IsParam(v VarID) bool {
	for _, p := range m.Params {
		if p.Var == v {
			return true
		}
	}
	return false
}

// clone returns a copy of m whose tree and variable table can be
// rewritten.
func (m *Method) clone() *Method {
	c := *m
	c.Params = append([]Param(nil), m.Params...)
	c.Vars = append([]Variable(nil), m.Vars...)
	c.Tree = m.Tree.Clone()
	return &c
}

// Shape describes an iterator return type.
type Shape struct {
	Enumerable bool
	Elem       string
}

// ShapeOf recognizes the four iterator return types:
//
//	Enumerator
//	Enumerable
//	Enumerator[T]
//	Enumerable[T]
//
// optionally qualified by a package name. The non-generic forms have
// element type any.
func ShapeOf(typ string) (Shape, bool) {
	name, elem := typ, "any"
	if i := strings.IndexByte(typ, '['); i >= 0 {
		if !strings.HasSuffix(typ, "]") || i+1 == len(typ)-1 {
			return Shape{}, false
		}
		name, elem = typ[:i], strings.TrimSpace(typ[i+1:len(typ)-1])
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "Enumerator":
		return Shape{Elem: elem}, true
	case "Enumerable":
		return Shape{Enumerable: true, Elem: elem}, true
	}
	return Shape{}, false
}

// IsPointer reports whether typ names a pointer type.
func IsPointer(typ string) bool {
	return strings.HasPrefix(typ, "*") || typ == "unsafe.Pointer" || typ == "uintptr"
}
