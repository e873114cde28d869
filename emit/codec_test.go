package emit

import (
	"go/token"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestModuleMarshalUnmarshal(t *testing.T) {
	b := NewBuilder(MoveNext, nil, "bool")
	snap := b.NewLocal("snap", "int")
	l0, l1 := b.NewLabel(), b.NewLabel()
	b.LoadThisField(FieldPC)
	b.Stloc(snap)
	b.Ldloc(snap)
	b.Switch([]Label{l0, l1})
	b.Mark(l0)
	b.BeginTry(RegionForeach)
	b.StoreThisField(FieldCurrent, func() { b.Const(2.5) })
	b.StoreThisField(2, func() { b.Const("") })
	b.Const(nil)
	b.Pop()
	b.Bool(false)
	b.Unary(token.NOT)
	b.Pop()
	b.Call("Monitor.Exit", 1, "")
	b.EndTry()
	b.Mark(l1)
	b.This()
	b.Int(Uninitialized)
	b.Int(Start)
	b.Cas(FieldPC)
	b.Pop()
	b.New("T")
	b.Call("GetEnumerator", 1, "any")
	b.Pop()
	b.SetPC(After)
	b.Throw("boom")

	typ := &Type{
		Name:       "F__Iterator0",
		Elem:       "int",
		Enumerable: true,
		Fields: []Field{
			{Name: "pc", Type: "int"},
			{Name: "current", Type: "int"},
			{Name: "X0", Type: "string", Source: "s"},
		},
		Methods: []*Func{b.Func()},
	}
	stub := NewBuilder("F", []string{"int", "string"}, "F__Iterator0")
	stub.Arg(1)
	stub.Ret()

	m := &Module{Types: []*Type{typ}, Funcs: []*Func{stub.Func()}}
	data := m.MarshalAppend(nil)

	var got Module
	if err := got.Unmarshal(data); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, &got); diff != "" {
		t.Fatalf("module mismatch (-want +got):\n%s", diff)
	}
}

func TestModuleUnmarshalTruncated(t *testing.T) {
	m := &Module{Funcs: []*Func{counter()}}
	data := m.MarshalAppend(nil)
	var got Module
	if err := got.Unmarshal(data[:len(data)-3]); err == nil {
		t.Fatal("expected error decoding a truncated module")
	}
}
