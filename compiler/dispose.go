package compiler

import (
	"go/token"

	"github.com/stealthrocket/iterc/emit"
)

// dispose synthesizes the Dispose method. It snapshots pc, marks the
// storey exhausted, then dispatches on the snapshot into the chain of
// regions owning it. Each region first disposes the nested region owning
// the snapshot, then runs its own finally block, so finally blocks run
// innermost first. Regions without resume points contribute nothing to
// this dispatch.
//
// A pc holding a region state was left by a MoveNext that failed inside
// that region. It selects the chain running the region's finally block,
// then those of its enclosing regions.
//
// Before each finally block runs, pc is set to the state of the enclosing
// region, so after a finally block fails, calling Dispose again runs the
// remaining ones. A second call observes pc == After and does nothing.
func (it *lowering) dispose() *emit.Func {
	l := it.newLowerer(emit.Dispose, nil, "")
	b := l.b
	l.snap = b.NewLocal("snap", "int")

	b.LoadThisField(emit.FieldPC)
	b.Stloc(l.snap)
	b.SetPC(emit.After)

	end := b.NewLabel()
	chains := make([]emit.Label, len(l.reg.all))
	if len(chains) > 0 {
		for i := range chains {
			chains[i] = b.NewLabel()
		}
		b.Int(emit.FirstRegionState)
		b.Ldloc(l.snap)
		b.Binary(token.SUB)
		b.Switch(chains)
	}

	var tops []*region
	for _, r := range l.reg.top {
		if len(r.points) > 0 {
			tops = append(tops, r)
		}
	}
	if len(tops) > 0 {
		table := make([]emit.Label, len(l.reg.points)+1)
		for i := range table {
			table[i] = end
		}
		labels := make([]emit.Label, len(tops))
		for i, r := range tops {
			labels[i] = b.NewLabel()
			for _, pc := range r.points {
				table[pc] = labels[i]
			}
		}
		b.Ldloc(l.snap)
		b.Switch(table)
		b.Br(end)
		for i, r := range tops {
			b.Mark(labels[i])
			l.disposeRegion(r)
			b.Br(end)
		}
	} else if len(chains) > 0 {
		b.Br(end)
	}

	for i, r := range l.reg.all {
		b.Mark(chains[i])
		b.SetPC(l.enclosingState(r))
		l.lowerStmt(l.t.Stmt(r.node).(Try).Finally)
		if r.parent != nil {
			b.Br(chains[r.parent.index])
		} else {
			b.Br(end)
		}
	}
	b.Mark(end)
	b.RetVoid()
	return b.Func()
}

func (l *lowerer) disposeRegion(r *region) {
	b := l.b
	s := l.t.Stmt(r.node).(Try)

	b.BeginTry(s.Kind)
	inner := b.NewLabel()
	var children []*region
	for _, c := range r.children {
		if len(c.points) > 0 {
			children = append(children, c)
		}
	}
	if len(children) > 0 {
		table := make([]emit.Label, len(r.points))
		for i := range table {
			table[i] = inner
		}
		labels := make([]emit.Label, len(children))
		for i, c := range children {
			labels[i] = b.NewLabel()
			for _, pc := range c.points {
				table[pc-r.first] = labels[i]
			}
		}
		b.Ldloc(l.snap)
		b.Int(r.first)
		b.Binary(token.SUB)
		b.Switch(table)
		b.Br(inner)
		for i, c := range children {
			b.Mark(labels[i])
			l.disposeRegion(c)
			b.Br(inner)
		}
	}
	b.Mark(inner)
	b.EndTry()
	b.SetPC(l.enclosingState(r))
	l.lowerStmt(s.Finally)
}
