package emit

import (
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// counter builds a small function returning the sum of 0..n-1 with a
// protected region around the loop body.
func counter() *Func {
	b := NewBuilder("sum", []string{"int"}, "int")
	i := b.NewLocal("i", "int")
	s := b.NewLocal("s", "int")
	loop, done := b.NewLabel(), b.NewLabel()

	b.Int(0)
	b.Stloc(i)
	b.Int(0)
	b.Stloc(s)
	b.Mark(loop)
	b.Ldloc(i)
	b.Arg(0)
	b.Binary(token.LSS)
	b.BrFalse(done)
	b.BeginTry(RegionTryFinally)
	b.Ldloc(s)
	b.Ldloc(i)
	b.Binary(token.ADD)
	b.Stloc(s)
	b.EndTry()
	b.Ldloc(i)
	b.Int(1)
	b.Binary(token.ADD)
	b.Stloc(i)
	b.Br(loop)
	b.Mark(done)
	b.Ldloc(s)
	b.Ret()
	return b.Func()
}

func TestBuilderRegions(t *testing.T) {
	b := NewBuilder("f", nil, "")
	r0 := b.BeginTry(RegionUsing)
	r1 := b.BeginTry(RegionLock)
	b.EndTry()
	r2 := b.BeginTry(RegionForeach)
	b.EndTry()
	b.EndTry()
	b.RetVoid()

	want := []Region{
		{Kind: RegionUsing, Parent: -1},
		{Kind: RegionLock, Parent: r0},
		{Kind: RegionForeach, Parent: r0},
	}
	if diff := cmp.Diff(want, b.Func().Regions); diff != "" {
		t.Fatalf("regions mismatch (-want +got):\n%s", diff)
	}
	if r1 != 1 || r2 != 2 {
		t.Errorf("unexpected region indexes %d %d", r1, r2)
	}
	if err := Verify(b.Func()); err != nil {
		t.Fatal(err)
	}
}

func TestEndTryWithoutBeginTryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewBuilder("f", nil, "").EndTry()
}

func TestDisassemble(t *testing.T) {
	got := Disassemble(counter())
	for _, want := range []string{
		"func sum(int) int\n",
		"\t.local 0 i int\n",
		"L0:\n",
		"\ttry 0\n",
		"\t\tbinary +\n",
		"\tendtry 0\n",
		"\tbrfalse L1\n",
		"\tret\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("listing does not contain %q:\n%s", want, got)
		}
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		in   Instruction
		want string
	}{
		{Instruction{Op: OpPop}, "pop"},
		{Instruction{Op: OpConst, Imm: ConstImm{Value: "x"}}, `const "x"`},
		{Instruction{Op: OpConst, Imm: ConstImm{}}, "const nil"},
		{Instruction{Op: OpConst, Imm: ConstImm{Value: int64(-3)}}, "const -3"},
		{Instruction{Op: OpSwitch, Imm: SwitchImm{Labels: []Label{1, 4}}}, "switch [L1 L4]"},
		{Instruction{Op: OpCall, Imm: CallImm{Func: "f", Argc: 2, Result: "int"}}, "call f/2 int"},
		{Instruction{Op: OpCall, Imm: CallImm{Func: "g"}}, "call g/0"},
		{Instruction{Op: OpNew, Imm: TypeImm{Name: "T"}}, "new T"},
		{Instruction{Op: Opcode(200)}, "op(200)"},
	}
	for _, test := range tests {
		if got := test.in.String(); got != test.want {
			t.Errorf("got %q, want %q", got, test.want)
		}
	}
}

func TestTypeLookup(t *testing.T) {
	typ := &Type{
		Name:    "T",
		Fields:  []Field{{Name: "pc"}, {Name: "current"}, {Name: "X0", Source: "i"}},
		Methods: []*Func{{Name: MoveNext}, {Name: Dispose}},
	}
	if i := typ.FieldIndex("X0"); i != 2 {
		t.Errorf("FieldIndex(X0) = %d", i)
	}
	if i := typ.FieldIndex("nope"); i != -1 {
		t.Errorf("FieldIndex(nope) = %d", i)
	}
	if m := typ.Method(Dispose); m == nil || m.Name != Dispose {
		t.Errorf("Method(Dispose) = %v", m)
	}
	if typ.Method(Reset) != nil {
		t.Error("Method(Reset) should be nil")
	}
	m := &Module{Types: []*Type{typ}, Funcs: []*Func{{Name: "F"}}}
	if m.Type("T") != typ || m.Type("U") != nil {
		t.Error("Module.Type lookup failed")
	}
	if m.Func("F") == nil || m.Func("G") != nil {
		t.Error("Module.Func lookup failed")
	}
}
