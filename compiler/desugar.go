package compiler

import (
	"go/token"
	"strconv"

	"github.com/stealthrocket/iterc/emit"
)

// Names of the host functions called by desugared statements.
const (
	GetEnumeratorFunc = "GetEnumerator"
	MoveNextFunc      = "MoveNext"
	CurrentFunc       = "Current"
	DisposeFunc       = "Dispose"
	MonitorEnterFunc  = "Monitor.Enter"
	MonitorExitFunc   = "Monitor.Exit"
)

// EnumeratorType is the type of the temporaries holding the enumerator of
// a foreach statement.
const EnumeratorType = "Enumerator"

// desugar recursively replaces the sugared protected statements (using,
// lock and foreach) with the Try statement they stand for:
//
//	using v = r { body }     { v = r; try { body } finally { if v != nil { Dispose(v) } } }
//	lock t = o { body }      { t = o; Monitor.Enter(t); try { body } finally { Monitor.Exit(t) } }
//	foreach v in c { body }  { e = GetEnumerator(c); try { for MoveNext(e) { v = Current(e); body } } finally { Dispose(e) } }
//
// The statements before the try become its prologue. Temporaries are
// appended to the method's variable table so they are hoisted like any
// other local.
func desugar(ctx *LoweringContext, m *Method) {
	d := desugarer{ctx: ctx, m: m, t: m.Tree}
	d.desugar(m.Body)
}

type desugarer struct {
	ctx *LoweringContext
	m   *Method
	t   *Tree
}

func (d *desugarer) desugar(id NodeID) {
	for _, child := range d.t.Children(id) {
		d.desugar(child)
	}

	switch s := d.t.Stmt(id).(type) {
	case Using:
		v := Var{ID: s.Var}
		d.t.Replace(id, Try{
			Kind:     emit.RegionUsing,
			Prologue: d.block(Assign{Var: s.Var, Value: s.Resource}),
			Body:     s.Body,
			Finally: d.block(If{
				Cond: Binary{Op: token.NEQ, X: v, Y: Const{}},
				Then: d.block(ExprStmt{X: Call{Func: DisposeFunc, Args: []Expr{v}}}),
				Else: NoNode,
			}),
		})

	case Lock:
		temp := s.Temp
		if temp == NoVar {
			temp = d.newVar("any")
		}
		v := Var{ID: temp}
		d.t.Replace(id, Try{
			Kind: emit.RegionLock,
			Prologue: d.block(
				Assign{Var: temp, Value: s.Object},
				ExprStmt{X: Call{Func: MonitorEnterFunc, Args: []Expr{v}}},
			),
			Body:    s.Body,
			Finally: d.block(ExprStmt{X: Call{Func: MonitorExitFunc, Args: []Expr{v}}}),
		})

	case Foreach:
		enum := s.Enum
		if enum == NoVar {
			enum = d.newVar(EnumeratorType)
		}
		e := Var{ID: enum}
		current := d.t.Add(Assign{
			Var:   s.Var,
			Value: Call{Func: CurrentFunc, Args: []Expr{e}, Type: d.m.Vars[s.Var].Type},
		})
		loop := d.t.Add(Loop{
			Cond: Call{Func: MoveNextFunc, Args: []Expr{e}, Type: "bool"},
			Body: d.t.Add(Block{List: []NodeID{current, s.Body}}),
			Post: NoNode,
		})
		d.t.Replace(id, Try{
			Kind: emit.RegionForeach,
			Prologue: d.block(Assign{
				Var:   enum,
				Value: Call{Func: GetEnumeratorFunc, Args: []Expr{s.Collection}, Type: EnumeratorType},
			}),
			Body:    d.t.Add(Block{List: []NodeID{loop}}),
			Finally: d.block(ExprStmt{X: Call{Func: DisposeFunc, Args: []Expr{e}}}),
		})
	}
}

// block adds a block holding the given statements.
func (d *desugarer) block(stmts ...Stmt) NodeID {
	list := make([]NodeID, len(stmts))
	for i, s := range stmts {
		list[i] = d.t.Add(s)
	}
	return d.t.Add(Block{List: list})
}

func (d *desugarer) newVar(typ string) VarID {
	name := "_v" + strconv.Itoa(d.ctx.vars)
	d.ctx.vars++
	return d.m.NewVar(name, typ)
}
