package compiler

import (
	"strconv"

	"github.com/stealthrocket/iterc/emit"
)

// storey is the field layout of a synthesized state container.
//
// Every variable of the method is hoisted: any of them may be live across
// a yield, and computing liveness is not worth the complexity. Hoisted
// variables are renamed X<n>, frozen parameter copies P<n>.
type storey struct {
	typ    *emit.Type
	vars   []int // VarID -> field index
	frozen []int // parameter index -> field index, enumerables only
	this   int   // field index of the receiver, -1 when not captured
}

func newStorey(name string, m *Method, shape Shape) *storey {
	s := &storey{
		typ: &emit.Type{
			Name:       name,
			Elem:       shape.Elem,
			Enumerable: shape.Enumerable,
			Fields: []emit.Field{
				emit.FieldPC:      {Name: "pc", Type: "int"},
				emit.FieldCurrent: {Name: "current", Type: shape.Elem},
			},
		},
		this: -1,
	}
	if m.Receiver != "" && usesThis(m) {
		s.this = s.add(emit.Field{Name: "this", Type: m.Receiver})
	}
	s.vars = make([]int, len(m.Vars))
	for i, v := range m.Vars {
		s.vars[i] = s.add(emit.Field{Name: "X" + strconv.Itoa(i), Type: v.Type, Source: v.Name})
	}
	if shape.Enumerable {
		s.frozen = make([]int, len(m.Params))
		for i, p := range m.Params {
			v := m.Vars[p.Var]
			s.frozen[i] = s.add(emit.Field{Name: "P" + strconv.Itoa(i), Type: v.Type, Source: v.Name})
		}
	}
	return s
}

func (s *storey) add(f emit.Field) int {
	s.typ.Fields = append(s.typ.Fields, f)
	return len(s.typ.Fields) - 1
}

func (s *storey) field(v VarID) int { return s.vars[v] }

// usesThis reports whether the method body references its receiver.
func usesThis(m *Method) (found bool) {
	m.Tree.Walk(m.Body, func(id NodeID) bool {
		for _, e := range stmtExprs(m.Tree.Stmt(id)) {
			found = found || exprUsesThis(e)
		}
		return !found
	})
	return found
}

// stmtExprs returns the expressions held directly by a statement.
func stmtExprs(s Stmt) []Expr {
	switch s := s.(type) {
	case ExprStmt:
		return []Expr{s.X}
	case Assign:
		return []Expr{s.Value}
	case If:
		return []Expr{s.Cond}
	case Loop:
		if s.Cond != nil {
			return []Expr{s.Cond}
		}
	case Yield:
		return []Expr{s.Value}
	case Using:
		return []Expr{s.Resource}
	case Lock:
		return []Expr{s.Object}
	case Foreach:
		return []Expr{s.Collection}
	case Block, Break, Continue, YieldBreak, Try, Unsafe:
	}
	return nil
}

func exprUsesThis(e Expr) bool {
	switch e := e.(type) {
	case This:
		return true
	case Unary:
		return exprUsesThis(e.X)
	case Binary:
		return exprUsesThis(e.X) || exprUsesThis(e.Y)
	case Call:
		for _, arg := range e.Args {
			if exprUsesThis(arg) {
				return true
			}
		}
	case Const, Var:
	}
	return false
}
