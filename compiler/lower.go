package compiler

import (
	"go/token"
	"strconv"

	"github.com/stealthrocket/iterc/emit"
)

// effects summarizes how control can leave a lowered statement.
type effects uint8

const (
	effNormal effects = 1 << iota
	effBreak
	effContinue
	effReturn
	effSuspend
)

func (e effects) normal() bool { return e&effNormal != 0 }

// jumpTarget is a label together with the number of regions open where it
// is defined. Jumps from deeper regions are routed through the finally
// blocks in between.
type jumpTarget struct {
	label emit.Label
	depth int
}

// activeRegion is a region whose protected body is being lowered.
type activeRegion struct {
	r       *region
	fin     emit.Label
	pending int // local holding the exit code, -1 until the first exit
	exits   []jumpTarget
}

// exitCode returns the code selecting target in the dispatch that follows
// the region's finally block. Code 0 is normal completion.
func (a *activeRegion) exitCode(target jumpTarget) int {
	for i, t := range a.exits {
		if t == target {
			return i + 1
		}
	}
	a.exits = append(a.exits, target)
	return len(a.exits)
}

type loopTarget struct {
	brk, cont jumpTarget
}

// lowerer emits one function of a storey from the statement tree. A fresh
// lowerer is used for each function since labels and locals are local to
// the function being built.
type lowerer struct {
	t   *Tree
	reg *registry
	st  *storey
	b   *emit.Builder

	// resumable is false when lowering finally blocks into Dispose.
	resumable bool
	outside   int // pc held outside of any region
	snap      int
	skip      int // -1 when no resume point is nested in a region

	exhausted, produced emit.Label
	pcLabels            []emit.Label // pc -> resume label, 0 is the start of the body
	regionLabels        map[*region]emit.Label

	active []*activeRegion
	loops  []loopTarget
}

func (it *lowering) newLowerer(name string, params []string, result string) *lowerer {
	return &lowerer{
		t:            it.m.Tree,
		reg:          it.reg,
		st:           it.st,
		b:            emit.NewBuilder(name, params, result),
		outside:      emit.After,
		snap:         -1,
		skip:         -1,
		regionLabels: map[*region]emit.Label{},
	}
}

// moveNext lowers the method body into the MoveNext method of the storey.
func (it *lowering) moveNext() *emit.Func {
	l := it.newLowerer(emit.MoveNext, nil, "bool")
	b := l.b
	l.resumable = true
	l.outside = emit.Running
	l.snap = b.NewLocal("snap", "int")
	if l.reg.nested() {
		l.skip = b.NewLocal("skip", "bool")
	}
	l.exhausted, l.produced = b.NewLabel(), b.NewLabel()
	l.pcLabels = make([]emit.Label, len(l.reg.points)+1)
	for i := range l.pcLabels {
		l.pcLabels[i] = b.NewLabel()
	}

	b.LoadThisField(emit.FieldPC)
	b.Stloc(l.snap)
	b.SetPC(emit.Running)
	if l.skip >= 0 {
		b.Bool(false)
		b.Stloc(l.skip)
	}
	l.emitDispatch()
	l.lowerStmt(it.m.Body)

	b.Mark(l.exhausted)
	b.SetPC(emit.After)
	b.Bool(false)
	b.Ret()

	b.Mark(l.produced)
	b.Bool(true)
	b.Ret()
	return b.Func()
}

// jump transfers control to target. Leaving a region stores the exit code
// and branches to the region's finally block; the dispatch following the
// finally block continues the jump one level up.
func (l *lowerer) jump(target jumpTarget) {
	n := len(l.active)
	if n == target.depth {
		l.b.Br(target.label)
		return
	}
	if n < target.depth {
		internalErrorf("jump into a protected region")
	}
	a := l.active[n-1]
	code := a.exitCode(target)
	if a.pending < 0 {
		a.pending = l.b.NewLocal("exit"+strconv.Itoa(n-1), "int")
	}
	l.b.Int(code)
	l.b.Stloc(a.pending)
	l.b.Br(a.fin)
}

func (l *lowerer) lowerStmt(id NodeID) effects {
	b := l.b
	switch s := l.t.Stmt(id).(type) {
	case Block:
		out := effNormal
		for _, c := range s.List {
			e := l.lowerStmt(c)
			out = (out & e & effNormal) | (out &^ effNormal) | (e &^ effNormal)
		}
		return out

	case ExprStmt:
		if l.expr(s.X) {
			b.Pop()
		}
		return effNormal

	case Assign:
		b.This()
		l.expr(s.Value)
		b.Stfld(l.st.field(s.Var))
		return effNormal

	case If:
		els, end := b.NewLabel(), b.NewLabel()
		l.expr(s.Cond)
		b.BrFalse(els)
		out := l.lowerStmt(s.Then)
		b.Br(end)
		b.Mark(els)
		if s.Else != NoNode {
			out |= l.lowerStmt(s.Else)
		} else {
			out |= effNormal
		}
		b.Mark(end)
		return out

	case Loop:
		return l.lowerLoop(s)

	case Break, Continue:
		if len(l.loops) == 0 {
			internalErrorf("break or continue outside of a loop")
		}
		loop := l.loops[len(l.loops)-1]
		if _, ok := s.(Break); ok {
			l.jump(loop.brk)
			return effBreak
		}
		l.jump(loop.cont)
		return effContinue

	case Yield:
		return l.lowerYield(id, s)

	case YieldBreak:
		if !l.resumable {
			internalErrorf("yield break in the body of a finally clause")
		}
		l.jump(jumpTarget{label: l.exhausted})
		return effReturn

	case Try:
		return l.lowerTry(id, s)

	case Using, Lock, Foreach:
		internalErrorf("%T statement was not desugared", s)

	case Unsafe:
		internalErrorf("unsafe code was not rejected")
	}
	panic("unreachable")
}

func (l *lowerer) lowerLoop(s Loop) effects {
	b := l.b
	top, cont, brk := b.NewLabel(), b.NewLabel(), b.NewLabel()
	depth := len(l.active)

	b.Mark(top)
	if s.Cond != nil {
		l.expr(s.Cond)
		b.BrFalse(brk)
	}
	l.loops = append(l.loops, loopTarget{
		brk:  jumpTarget{label: brk, depth: depth},
		cont: jumpTarget{label: cont, depth: depth},
	})
	e := l.lowerStmt(s.Body)
	l.loops = l.loops[:len(l.loops)-1]

	b.Mark(cont)
	if s.Post != NoNode {
		l.lowerStmt(s.Post)
	}
	b.Br(top)
	b.Mark(brk)

	out := e &^ (effNormal | effBreak | effContinue)
	if s.Cond != nil || e&effBreak != 0 {
		out |= effNormal
	}
	return out
}

// lowerYield stores the value and the resume point, then suspends through
// the enclosing finally blocks with the skip flag set so that none of
// them run. Execution resumes at the label that follows.
func (l *lowerer) lowerYield(id NodeID, s Yield) effects {
	if !l.resumable {
		internalErrorf("yield in the body of a finally clause")
	}
	b := l.b
	pc, ok := l.reg.yields[id]
	if !ok {
		internalErrorf("yield statement %d has no resume point", id)
	}
	b.StoreThisField(emit.FieldCurrent, func() { l.expr(s.Value) })
	b.SetPC(pc)
	if len(l.active) > 0 {
		b.Bool(true)
		b.Stloc(l.skip)
	}
	l.jump(jumpTarget{label: l.produced})

	b.Mark(l.pcLabels[pc])
	if l.reg.nested() {
		// Regions entered later in this call must not dispatch again.
		b.Int(emit.Running)
		b.Stloc(l.snap)
	}
	return effNormal | effSuspend
}

// lowerTry emits an exception statement:
//
//	prologue
//	resume:
//	try
//	    pc = region state
//	    nested dispatch
//	    body
//	    exit = 0
//	endtry
//	fin:
//	    if skip { goto done }
//	    pc = enclosing state
//	    finally
//	done:
//	    switch exit { 0: after, n: continue jump n }
//	after:
func (l *lowerer) lowerTry(id NodeID, s Try) effects {
	b := l.b
	r, ok := l.reg.regions[id]
	if !ok {
		internalErrorf("try statement %d was not registered", id)
	}
	if s.Prologue != NoNode {
		l.lowerStmt(s.Prologue)
	}
	if l.resumable {
		b.Mark(l.resumeLabel(r))
	}

	a := &activeRegion{r: r, fin: b.NewLabel(), pending: -1}
	b.BeginTry(s.Kind)
	b.SetPC(r.state())
	l.active = append(l.active, a)
	if l.resumable {
		l.emitNestedDispatch(r)
	}
	out := l.lowerStmt(s.Body)
	if out.normal() && a.pending >= 0 {
		b.Int(0)
		b.Stloc(a.pending)
	}
	l.active = l.active[:len(l.active)-1]
	b.EndTry()

	b.Mark(a.fin)
	done := b.NewLabel()
	if l.resumable && len(r.points) > 0 {
		b.Ldloc(l.skip)
		b.BrTrue(done)
	}
	b.SetPC(l.enclosingState(r))
	if !l.lowerStmt(s.Finally).normal() {
		out &^= effNormal
	}
	b.Mark(done)

	after := b.NewLabel()
	if len(a.exits) > 0 {
		table := make([]emit.Label, len(a.exits)+1)
		table[0] = after
		for i := range a.exits {
			table[i+1] = b.NewLabel()
		}
		b.Ldloc(a.pending)
		b.Switch(table)
		b.Br(after)
		for i, exit := range a.exits {
			b.Mark(table[i+1])
			l.jump(exit)
		}
	}
	b.Mark(after)
	return out
}

// expr emits e and reports whether it left a value on the stack.
func (l *lowerer) expr(e Expr) bool {
	b := l.b
	switch e := e.(type) {
	case Const:
		b.Const(e.Value)

	case Var:
		b.LoadThisField(l.st.field(e.ID))

	case This:
		if l.st.this < 0 {
			internalErrorf("receiver referenced but not captured")
		}
		b.LoadThisField(l.st.this)

	case Unary:
		l.expr(e.X)
		b.Unary(e.Op)

	case Binary:
		switch e.Op {
		case token.LAND, token.LOR:
			short, end := b.NewLabel(), b.NewLabel()
			l.expr(e.X)
			if e.Op == token.LAND {
				b.BrFalse(short)
			} else {
				b.BrTrue(short)
			}
			l.expr(e.Y)
			b.Br(end)
			b.Mark(short)
			b.Bool(e.Op == token.LOR)
			b.Mark(end)
		default:
			l.expr(e.X)
			l.expr(e.Y)
			b.Binary(e.Op)
		}

	case Call:
		for _, arg := range e.Args {
			l.expr(arg)
		}
		b.Call(e.Func, len(e.Args), e.Type)
		return e.Type != ""

	default:
		internalErrorf("unsupported expression %T", e)
	}
	return true
}
