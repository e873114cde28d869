package compiler_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stealthrocket/iterc"
	"github.com/stealthrocket/iterc/compiler"
	"github.com/stealthrocket/iterc/emit"
	"github.com/stealthrocket/iterc/source"
)

func parse(t *testing.T, src string) *source.File {
	t.Helper()
	f, err := source.Parse("iter.go", "package p\n"+src)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestTryLowerIterator(t *testing.T) {
	f := parse(t, `
func Plain(x int) {
	log(x)
}

func Reported(p *int) Enumerator[int] {
	yield(1)
}

func Two(a, b string) Enumerable[string] {
	yield(a)
	yield(b)
}`)

	t.Run("not an iterator", func(t *testing.T) {
		m := &compiler.Method{Name: "Plain", Tree: new(compiler.Tree)}
		m.Body = m.Tree.Add(compiler.Block{})
		it, err := compiler.TryLowerIterator(m)
		if it != nil || err != nil {
			t.Errorf("got %v, %v", it, err)
		}
	})

	t.Run("reported", func(t *testing.T) {
		if len(f.Diagnostics) != 1 {
			t.Fatalf("expected one diagnostic, got %v", f.Diagnostics)
		}
		_, err := compiler.TryLowerIterator(f.Methods[0])
		if !errors.Is(err, compiler.ErrAborted) {
			t.Errorf("got %v, want %v", err, compiler.ErrAborted)
		}
	})

	t.Run("unreported", func(t *testing.T) {
		m := *f.Methods[0]
		m.Reported = false
		_, err := compiler.TryLowerIterator(&m)
		var ie *compiler.InternalError
		if !errors.As(err, &ie) {
			t.Fatalf("got %v, want an internal error", err)
		}
		if ie.Method != "Reported" || !strings.Contains(ie.Msg, "unreported diagnostic") {
			t.Errorf("unexpected error %v", ie)
		}
	})

	t.Run("enumerable", func(t *testing.T) {
		m := f.Methods[1]
		before := m.Tree.Len()
		it, err := compiler.TryLowerIterator(m)
		if err != nil {
			t.Fatal(err)
		}
		if m.Tree.Len() != before {
			t.Error("lowering modified the method")
		}
		if it.Storey.Name != "Two__Iterator0" || !it.Enumerable || it.Elem != "string" || it.ResumePoints != 2 {
			t.Errorf("unexpected iterator %+v", it)
		}

		var fields []string
		for _, f := range it.Storey.Fields {
			fields = append(fields, f.Name+" "+f.Type)
		}
		want := []string{"pc int", "current string", "X0 string", "X1 string", "P0 string", "P1 string"}
		if diff := cmp.Diff(want, fields); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}

		var methods []string
		for _, fn := range it.Storey.Methods {
			methods = append(methods, fn.Name)
		}
		want = []string{emit.MoveNext, emit.Dispose, emit.Current, emit.Reset, emit.GetEnumerator}
		if diff := cmp.Diff(want, methods); diff != "" {
			t.Errorf("methods mismatch (-want +got):\n%s", diff)
		}
		if it.Stub.Name != "Two" || it.Stub.Result != "Enumerable[string]" {
			t.Errorf("unexpected stub %s %s", it.Stub.Name, it.Stub.Result)
		}
	})
}

func TestLoweringContextNumbering(t *testing.T) {
	f := parse(t, `
func A() Enumerator[int] { yield(1) }
func B() Enumerator[int] { lock: { obj(); yield(1) } }
func C() Enumerator[int] { lock: { obj(); yield(1) } }`)

	ctx := compiler.NewLoweringContext()
	var names []string
	for _, m := range f.Methods {
		it, err := ctx.TryLowerIterator(m)
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, it.Storey.Name)
		for _, field := range it.Storey.Fields {
			if strings.HasPrefix(field.Source, "_v") {
				names = append(names, field.Source)
			}
		}
	}
	want := []string{"A__Iterator0", "B__Iterator1", "_v0", "C__Iterator2", "_v1"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile(t *testing.T) {
	var src strings.Builder
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, name := range names {
		src.WriteString("func " + name + "(n int) Enumerator[int] {\n")
		src.WriteString("\tfor i := 0; i < n; i++ {\n\t\ttry: {\n\t\t\tyield(i)\n\t\t}\n\t\tfinally: {\n\t\t}\n\t}\n}\n")
		src.WriteString("func helper" + name + "() {}\n")
	}
	f := parse(t, src.String())

	core, logs := observer.New(zap.DebugLevel)
	iterators, err := compiler.Compile(context.Background(), f.Methods,
		compiler.WithConcurrency(3),
		compiler.WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	if len(iterators) != len(names) {
		t.Fatalf("got %d iterators, want %d", len(iterators), len(names))
	}
	for i, it := range iterators {
		if want := names[i] + "__Iterator" + string(rune('0'+i)); it.Storey.Name != want {
			t.Errorf("iterator %d is named %s, want %s", i, it.Storey.Name, want)
		}
	}
	if n := logs.FilterMessage("lowered iterator").Len(); n != len(names) {
		t.Errorf("logged %d lowered iterators, want %d", n, len(names))
	}

	prog, err := iterc.NewProgram(compiler.Module(iterators...))
	if err != nil {
		t.Fatal(err)
	}
	it, err := prog.Call("E", 4)
	if err != nil {
		t.Fatal(err)
	}
	values, err := iterc.Collect(it)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 4 {
		t.Errorf("got %v", values)
	}
}

func TestCompileError(t *testing.T) {
	f := parse(t, `
func Good() Enumerator[int] { yield(1) }
func Bad() Enumerator[*int] { yield(nil) }`)

	_, err := compiler.Compile(context.Background(), f.Methods)
	if !errors.Is(err, compiler.ErrAborted) {
		t.Fatalf("got %v, want %v", err, compiler.ErrAborted)
	}
	if !strings.HasPrefix(err.Error(), "Bad: ") {
		t.Errorf("error %q does not name the method", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := compiler.Compile(ctx, f.Methods[:1]); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}

func TestLoweredModuleRoundTrip(t *testing.T) {
	f := parse(t, nested+`
func Range(lo, hi int) Enumerable[int] {
	for lo < hi {
		yield(lo)
		lo++
	}
}`)
	iterators, err := compiler.Compile(context.Background(), f.Methods)
	if err != nil {
		t.Fatal(err)
	}
	module := compiler.Module(iterators...)

	var decoded emit.Module
	if err := decoded.Unmarshal(module.MarshalAppend(nil)); err != nil {
		t.Fatal(err)
	}
	for _, typ := range module.Types {
		if diff := cmp.Diff(emit.DisassembleType(typ), emit.DisassembleType(decoded.Type(typ.Name))); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", typ.Name, diff)
		}
	}

	rec := new(recorder)
	prog, err := iterc.NewProgram(&decoded, rec.host())
	if err != nil {
		t.Fatal(err)
	}
	it, _ := prog.Call("Range", 2, 5)
	values, err := iterc.Collect(it)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{int64(2), int64(3), int64(4)}, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestMoveNextShape(t *testing.T) {
	f := parse(t, `func Two() Enumerator[int] { yield(1); yield(2) }`)
	it, err := compiler.TryLowerIterator(f.Methods[0])
	if err != nil {
		t.Fatal(err)
	}
	fn := it.Storey.Method(emit.MoveNext)
	if err := emit.Verify(fn); err != nil {
		t.Fatal(err)
	}
	if len(fn.Regions) != 0 {
		t.Errorf("MoveNext has %d regions", len(fn.Regions))
	}
	for _, l := range fn.Locals {
		if l.Name == "skip" {
			t.Error("skip local allocated without protected resume points")
		}
	}

	// The entry dispatch has one entry per resume point plus the start.
	var table []emit.Label
	for _, in := range fn.Code {
		if in.Op == emit.OpSwitch {
			table = in.Imm.(emit.SwitchImm).Labels
			break
		}
	}
	if len(table) != 3 {
		t.Errorf("dispatch table has %d entries, want 3\n%s", len(table), emit.Disassemble(fn))
	}
}
