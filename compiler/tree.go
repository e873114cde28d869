package compiler

import (
	"go/token"

	"github.com/stealthrocket/iterc/emit"
)

// NodeID is the index of a statement in a Tree.
type NodeID int32

// NoNode marks an absent optional statement.
const NoNode NodeID = -1

// VarID is the index of a variable in a Method's variable table.
type VarID int32

// NoVar marks an absent optional variable.
const NoVar VarID = -1

// Stmt is a statement of the resolved tree. The set of statements is
// closed; every pass switches over it exhaustively.
type Stmt interface{ stmt() }

type (
	Block struct{ List []NodeID }

	ExprStmt struct{ X Expr }

	Assign struct {
		Var   VarID
		Value Expr
	}

	If struct {
		Cond Expr
		Then NodeID
		Else NodeID
	}

	// Loop repeats Body while Cond holds (forever when Cond is nil),
	// running Post after each iteration and on continue.
	Loop struct {
		Cond Expr
		Body NodeID
		Post NodeID
	}

	Break    struct{}
	Continue struct{}

	Yield      struct{ Value Expr }
	YieldBreak struct{}

	// Try is the exception statement every protected construct reduces
	// to. Prologue runs before the protected region is entered and is not
	// replayed when execution resumes inside the region.
	Try struct {
		Kind     emit.RegionKind
		Prologue NodeID
		Body     NodeID
		Finally  NodeID
	}

	Using struct {
		Var      VarID
		Resource Expr
		Body     NodeID
	}

	// Lock holds Object in Temp for the duration of Body. Temp may be
	// NoVar, in which case desugaring allocates one.
	Lock struct {
		Temp   VarID
		Object Expr
		Body   NodeID
	}

	// Foreach iterates over Collection through an enumerator held in
	// Enum; Enum may be NoVar, in which case desugaring allocates one.
	Foreach struct {
		Var        VarID
		Enum       VarID
		Collection Expr
		Body       NodeID
	}

	Unsafe struct{ Body NodeID }
)

func (Block) stmt()      {}
func (ExprStmt) stmt()   {}
func (Assign) stmt()     {}
func (If) stmt()         {}
func (Loop) stmt()       {}
func (Break) stmt()      {}
func (Continue) stmt()   {}
func (Yield) stmt()      {}
func (YieldBreak) stmt() {}
func (Try) stmt()        {}
func (Using) stmt()      {}
func (Lock) stmt()       {}
func (Foreach) stmt()    {}
func (Unsafe) stmt()     {}

// Expr is an expression of the resolved tree.
type Expr interface{ expr() }

type (
	// Const holds an int64, float64, string, bool or nil value.
	Const struct{ Value any }

	Var struct{ ID VarID }

	This struct{}

	Unary struct {
		Op token.Token
		X  Expr
	}

	Binary struct {
		Op   token.Token
		X, Y Expr
	}

	// Call invokes a host function by name. Type is the result type, or
	// empty when the function returns nothing.
	Call struct {
		Func string
		Args []Expr
		Type string
	}
)

func (Const) expr()  {}
func (Var) expr()    {}
func (This) expr()   {}
func (Unary) expr()  {}
func (Binary) expr() {}
func (Call) expr()   {}

// Tree is an arena of statements. Children are referenced by index and
// every node records the index of its parent, so upward queries walk the
// parent chain instead of following pointers.
type Tree struct {
	stmts   []Stmt
	parents []NodeID
	pos     []token.Position
}

// Add appends s to the tree and adopts its children.
func (t *Tree) Add(s Stmt) NodeID {
	return t.AddAt(s, token.Position{})
}

// AddAt is like Add and records the source position of s.
func (t *Tree) AddAt(s Stmt, pos token.Position) NodeID {
	id := NodeID(len(t.stmts))
	t.stmts = append(t.stmts, s)
	t.parents = append(t.parents, NoNode)
	t.pos = append(t.pos, pos)
	t.adopt(id)
	return id
}

// Replace substitutes the statement at id, keeping its parent and
// position.
func (t *Tree) Replace(id NodeID, s Stmt) {
	t.stmts[id] = s
	t.adopt(id)
}

func (t *Tree) adopt(id NodeID) {
	for _, child := range t.Children(id) {
		t.parents[child] = id
	}
}

func (t *Tree) Len() int { return len(t.stmts) }

func (t *Tree) Stmt(id NodeID) Stmt { return t.stmts[id] }

func (t *Tree) Parent(id NodeID) NodeID { return t.parents[id] }

func (t *Tree) Pos(id NodeID) token.Position { return t.pos[id] }

// Children returns the direct children of a statement in evaluation
// order.
func (t *Tree) Children(id NodeID) []NodeID {
	var children []NodeID
	add := func(ids ...NodeID) {
		for _, c := range ids {
			if c != NoNode {
				children = append(children, c)
			}
		}
	}
	switch s := t.stmts[id].(type) {
	case Block:
		add(s.List...)
	case If:
		add(s.Then, s.Else)
	case Loop:
		add(s.Body, s.Post)
	case Try:
		add(s.Prologue, s.Body, s.Finally)
	case Using:
		add(s.Body)
	case Lock:
		add(s.Body)
	case Foreach:
		add(s.Body)
	case Unsafe:
		add(s.Body)
	case ExprStmt, Assign, Break, Continue, Yield, YieldBreak:
	}
	return children
}

// Walk calls fn for id and its descendants in evaluation order, skipping
// the descendants of nodes for which fn returns false.
func (t *Tree) Walk(id NodeID, fn func(NodeID) bool) {
	if !fn(id) {
		return
	}
	for _, c := range t.Children(id) {
		t.Walk(c, fn)
	}
}

// InFinally reports whether id lies in the finally body of a Try.
func (t *Tree) InFinally(id NodeID) bool {
	return t.enclosing(id, func(parent, child NodeID) bool {
		s, ok := t.stmts[parent].(Try)
		return ok && s.Finally == child
	}) != NoNode
}

// InUnsafe reports whether id lies in an unsafe block.
func (t *Tree) InUnsafe(id NodeID) bool {
	return t.enclosing(id, func(parent, _ NodeID) bool {
		_, ok := t.stmts[parent].(Unsafe)
		return ok
	}) != NoNode
}

// EnclosingLoop returns the innermost loop whose body contains id, or
// NoNode.
func (t *Tree) EnclosingLoop(id NodeID) NodeID {
	return t.enclosing(id, func(parent, child NodeID) bool {
		switch s := t.stmts[parent].(type) {
		case Loop:
			return s.Body == child
		case Foreach:
			return true
		}
		return false
	})
}

// LeavesFinally reports whether a branch at id targeting the statement
// target crosses the boundary of a finally body.
func (t *Tree) LeavesFinally(id, target NodeID) bool {
	return t.enclosing(id, func(parent, child NodeID) bool {
		if parent == target {
			return true
		}
		s, ok := t.stmts[parent].(Try)
		return ok && s.Finally == child
	}) != target
}

// enclosing walks up from id and returns the first ancestor for which
// match returns true, given the ancestor and the child it was reached
// from.
func (t *Tree) enclosing(id NodeID, match func(parent, child NodeID) bool) NodeID {
	for child, parent := id, t.parents[id]; parent != NoNode; child, parent = parent, t.parents[parent] {
		if match(parent, child) {
			return parent
		}
	}
	return NoNode
}

// Clone returns a copy of the tree that can be rewritten without
// affecting t.
func (t *Tree) Clone() *Tree {
	return &Tree{
		stmts:   append([]Stmt(nil), t.stmts...),
		parents: append([]NodeID(nil), t.parents...),
		pos:     append([]token.Position(nil), t.pos...),
	}
}
