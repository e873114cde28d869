package compiler

import (
	"go/token"

	"github.com/stealthrocket/iterc/emit"
)

// resumePoint is a place where MoveNext can restart: the statement
// following a yield.
type resumePoint struct {
	pc    int
	yield NodeID
	owner *region // innermost enclosing region, nil at the method root
}

// region is the resolution record of a Try statement. It owns the resume
// points lexically inside its protected body, including those of nested
// regions; their pcs are contiguous from first.
type region struct {
	node     NodeID
	index    int // registration order, depth-first
	parent   *region
	first    int
	points   []int
	children []*region
}

// state returns the pc held while the protected body of r runs.
func (r *region) state() int { return emit.RegionState(r.index) }

// top returns the outermost region enclosing r.
func (r *region) top() *region {
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// contains reports whether pc is owned by r.
func (r *region) contains(pc int) bool {
	return pc >= r.first && pc < r.first+len(r.points)
}

// child returns the nested region owning pc, or nil when pc belongs to a
// yield directly inside r.
func (r *region) child(pc int) *region {
	for _, c := range r.children {
		if c.contains(pc) {
			return c
		}
	}
	return nil
}

// registry holds the resume points of a method body.
type registry struct {
	points  []resumePoint // indexed by pc-1
	yields  map[NodeID]int
	regions map[NodeID]*region
	all     []*region // indexed by region.index
	top     []*region // regions not nested in another region
}

// trackResumePoints assigns a monotonically increasing pc to each yield
// statement of the tree, depth-first and left to right, starting at 1 (0
// is the start of the body), and records the regions owning each of them.
func trackResumePoints(t *Tree, body NodeID) *registry {
	reg := &registry{
		yields:  map[NodeID]int{},
		regions: map[NodeID]*region{},
	}
	reg.track(t, body, nil, false)
	return reg
}

func (reg *registry) track(t *Tree, id NodeID, owner *region, inFinally bool) {
	switch s := t.Stmt(id).(type) {
	case Yield:
		if inFinally {
			internalErrorf("yield in the body of a finally clause")
		}
		reg.allocate(id, owner)

	case YieldBreak:
		if inFinally {
			internalErrorf("yield break in the body of a finally clause")
		}

	case Try:
		if s.Prologue != NoNode {
			reg.track(t, s.Prologue, owner, inFinally)
		}
		r := &region{node: id, index: len(reg.all), parent: owner, first: len(reg.points) + 1}
		reg.regions[id] = r
		reg.all = append(reg.all, r)
		if owner != nil {
			owner.children = append(owner.children, r)
		} else {
			reg.top = append(reg.top, r)
		}
		reg.track(t, s.Body, r, inFinally)
		reg.track(t, s.Finally, owner, true)

	default:
		for _, c := range t.Children(id) {
			reg.track(t, c, owner, inFinally)
		}
	}
}

func (reg *registry) allocate(yield NodeID, owner *region) {
	pc := len(reg.points) + 1
	for r := owner; r != nil; r = r.parent {
		if r.first+len(r.points) != pc {
			internalErrorf("resume point %d is not contiguous with the %d points of the region starting at %d", pc, len(r.points), r.first)
		}
		r.points = append(r.points, pc)
	}
	reg.points = append(reg.points, resumePoint{pc: pc, yield: yield, owner: owner})
	reg.yields[yield] = pc
}

// nested reports whether any resume point lies inside a region.
func (reg *registry) nested() bool {
	for _, r := range reg.top {
		if len(r.points) > 0 {
			return true
		}
	}
	return false
}

// enclosingState returns the pc to hold once the protected body of r is
// left: the state of the parent region, or the value held outside of any
// region by the function being lowered.
func (l *lowerer) enclosingState(r *region) int {
	if r.parent != nil {
		return r.parent.state()
	}
	return l.outside
}

// resumeLabel returns the label MoveNext branches to when re-entering r,
// placed after the prologue and before the region is entered.
func (l *lowerer) resumeLabel(r *region) emit.Label {
	lbl, ok := l.regionLabels[r]
	if !ok {
		lbl = l.b.NewLabel()
		l.regionLabels[r] = lbl
	}
	return lbl
}

// emitDispatch emits the jump table at the entry of MoveNext. Entry 0 runs
// the body from the top; a pc owned by a region targets the resume label
// of its outermost region, whose nested table continues the descent. Any
// other pc, including the reserved negative values, falls through to the
// exhausted path.
func (l *lowerer) emitDispatch() {
	b := l.b
	if len(l.reg.points) == 0 {
		b.Ldloc(l.snap)
		b.Int(emit.Start)
		b.Binary(token.EQL)
		b.BrFalse(l.exhausted)
		return
	}
	table := make([]emit.Label, len(l.reg.points)+1)
	table[0] = l.pcLabels[0]
	for _, p := range l.reg.points {
		if p.owner != nil {
			table[p.pc] = l.resumeLabel(p.owner.top())
		} else {
			table[p.pc] = l.pcLabels[p.pc]
		}
	}
	b.Ldloc(l.snap)
	b.Switch(table)
	b.Br(l.exhausted)
	b.Mark(l.pcLabels[0])
}

// emitNestedDispatch emits the jump table placed right after a region is
// entered. It is indexed by snapshot - first and defaults to falling
// through to the start of the protected body.
func (l *lowerer) emitNestedDispatch(r *region) {
	if len(r.points) == 0 {
		return
	}
	table := make([]emit.Label, len(r.points))
	for i, pc := range r.points {
		if c := r.child(pc); c != nil {
			table[i] = l.resumeLabel(c)
		} else {
			table[i] = l.pcLabels[pc]
		}
	}
	b := l.b
	b.Ldloc(l.snap)
	b.Int(r.first)
	b.Binary(token.SUB)
	b.Switch(table)
}
