package compiler

import "github.com/stealthrocket/iterc/emit"

// stub synthesizes the function replacing the original method body: it
// allocates the storey, captures the receiver and arguments, and returns
// the storey. Enumerables keep the arguments in the frozen copies only
// and start Uninitialized; GetEnumerator seeds the working copies.
func (it *lowering) stub() *emit.Func {
	m, st := it.m, it.st
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = m.Vars[p.Var].Type
	}
	b := emit.NewBuilder(m.Name, params, m.Result)
	s := b.NewLocal("s", st.typ.Name)

	b.New(st.typ.Name)
	b.Stloc(s)
	if st.this >= 0 {
		b.Ldloc(s)
		b.This()
		b.Stfld(st.this)
	}
	for i, p := range m.Params {
		b.Ldloc(s)
		b.Arg(i)
		if st.typ.Enumerable {
			b.Stfld(st.frozen[i])
		} else {
			b.Stfld(st.field(p.Var))
		}
	}
	b.Ldloc(s)
	if st.typ.Enumerable {
		b.Int(emit.Uninitialized)
	} else {
		b.Int(emit.Start)
	}
	b.Stfld(emit.FieldPC)
	b.Ldloc(s)
	b.Ret()
	return b.Func()
}

func (it *lowering) current() *emit.Func {
	b := emit.NewBuilder(emit.Current, nil, it.st.typ.Elem)
	b.LoadThisField(emit.FieldCurrent)
	b.Ret()
	return b.Func()
}

func (it *lowering) reset() *emit.Func {
	b := emit.NewBuilder(emit.Reset, nil, "")
	b.Throw("Reset is not supported")
	return b.Func()
}

// getEnumerator synthesizes GetEnumerator for enumerable storeys. The
// first caller claims the storey in place by swapping pc from
// Uninitialized to Start; every other caller gets a fresh storey seeded
// from the frozen parameter copies.
func (it *lowering) getEnumerator() *emit.Func {
	m, st := it.m, it.st
	b := emit.NewBuilder(emit.GetEnumerator, nil, st.typ.Name)
	fresh := b.NewLabel()

	b.This()
	b.Int(emit.Uninitialized)
	b.Int(emit.Start)
	b.Cas(emit.FieldPC)
	b.BrFalse(fresh)
	for i, p := range m.Params {
		i := i
		b.StoreThisField(st.field(p.Var), func() { b.LoadThisField(st.frozen[i]) })
	}
	b.This()
	b.Ret()

	b.Mark(fresh)
	e := b.NewLocal("e", st.typ.Name)
	b.New(st.typ.Name)
	b.Stloc(e)
	if st.this >= 0 {
		b.Ldloc(e)
		b.LoadThisField(st.this)
		b.Stfld(st.this)
	}
	for i, p := range m.Params {
		for _, field := range []int{st.frozen[i], st.field(p.Var)} {
			b.Ldloc(e)
			b.LoadThisField(st.frozen[i])
			b.Stfld(field)
		}
	}
	b.Ldloc(e)
	b.Int(emit.Start)
	b.Stfld(emit.FieldPC)
	b.Ldloc(e)
	b.Ret()
	return b.Func()
}
