package compiler

import "go/token"

// Validate checks an iterator method for constructs that cannot be
// lowered. It returns nil for methods that contain no yield statement.
//
// Front ends report the diagnostics and set Method.Reported; the lowering
// pass then aborts without reporting them a second time.
func Validate(m *Method) (diags []Diagnostic) {
	if !hasYield(m) {
		return nil
	}
	report := func(pos token.Position, msg string) {
		diags = append(diags, Diagnostic{Pos: pos, Msg: msg})
	}

	shape, ok := ShapeOf(m.Result)
	switch {
	case !ok:
		report(m.Pos, "the body of "+m.Name+" cannot be an iterator block because "+m.Result+" is not an iterator interface type")
	case IsPointer(shape.Elem):
		report(m.Pos, "iterators cannot have pointer element type "+shape.Elem)
	}

	for _, p := range m.Params {
		v := m.Vars[p.Var]
		switch {
		case p.Mod == Ref || p.Mod == Out:
			report(m.Pos, "iterators cannot have ref or out parameters: "+v.Name)
		case p.Mod == Variadic:
			report(m.Pos, "iterators cannot have variadic parameters: "+v.Name)
		case IsPointer(v.Type):
			report(m.Pos, "iterators cannot have pointer-typed parameters: "+v.Name)
		}
	}
	for i, v := range m.Vars {
		if !m.IsParam(VarID(i)) && IsPointer(v.Type) {
			report(m.Pos, "iterators cannot have pointer-typed locals: "+v.Name)
		}
	}

	t := m.Tree
	t.Walk(m.Body, func(id NodeID) bool {
		pos := t.Pos(id)
		switch t.Stmt(id).(type) {
		case Yield, YieldBreak:
			if t.InFinally(id) {
				report(pos, "cannot yield in the body of a finally clause")
			}
			if t.InUnsafe(id) {
				report(pos, "cannot yield in unsafe code")
			}
		case Unsafe:
			report(pos, "unsafe code may not appear in iterators")
		case Break, Continue:
			loop := t.EnclosingLoop(id)
			switch {
			case loop == NoNode:
				report(pos, "break or continue is not in a loop")
			case t.LeavesFinally(id, loop):
				report(pos, "control cannot leave the body of a finally clause")
			}
		}
		return true
	})
	return diags
}

// hasYield reports whether the method body contains a yield or yield
// break statement.
func hasYield(m *Method) (found bool) {
	m.Tree.Walk(m.Body, func(id NodeID) bool {
		switch m.Tree.Stmt(id).(type) {
		case Yield, YieldBreak:
			found = true
		}
		return !found
	})
	return found
}
