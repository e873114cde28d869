package iterc_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/stealthrocket/iterc"
	"github.com/stealthrocket/iterc/compiler"
	"github.com/stealthrocket/iterc/emit"
	"github.com/stealthrocket/iterc/source"
)

func load(t *testing.T, src string, options ...iterc.Option) *iterc.Program {
	t.Helper()
	f, err := source.Parse("iter.go", "package p\n"+src)
	if err != nil {
		t.Fatal(err)
	}
	iterators, err := compiler.Compile(context.Background(), f.Methods)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := iterc.NewProgram(compiler.Module(iterators...), options...)
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

const rangeSrc = `
func Range(lo, hi int) Enumerable[int] {
	for lo < hi {
		yield(lo)
		lo++
	}
}`

func TestConcurrentGetEnumerator(t *testing.T) {
	prog := load(t, rangeSrc)
	e, err := prog.Call("Range", 0, 5)
	if err != nil {
		t.Fatal(err)
	}

	var claimed atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			it, err := e.GetEnumerator()
			if err != nil {
				return err
			}
			if it == e {
				claimed.Add(1)
			}
			values, err := iterc.Collect(it)
			if err != nil {
				return err
			}
			if len(values) != 5 {
				return errors.New("enumerator produced the wrong number of values")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := claimed.Load(); n != 1 {
		t.Errorf("enumerable was claimed in place %d times, want 1", n)
	}
}

func TestMoveNextBeforeGetEnumerator(t *testing.T) {
	prog := load(t, rangeSrc)
	e, _ := prog.Call("Range", 0, 5)
	ok, err := e.MoveNext()
	if err != nil || ok {
		t.Fatalf("MoveNext on an unclaimed enumerable returned %t, %v", ok, err)
	}
	if pc := e.PC(); pc != emit.After {
		t.Errorf("pc is %d, want %d", pc, emit.After)
	}

	// The enumerable can no longer be claimed in place.
	it, err := e.GetEnumerator()
	if err != nil {
		t.Fatal(err)
	}
	if it == e {
		t.Error("GetEnumerator claimed an exhausted enumerable")
	}
	values, err := iterc.Collect(it)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{int64(0), int64(1), int64(2), int64(3), int64(4)}, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDisposesOnError(t *testing.T) {
	var events []string
	prog := load(t, `
func Items() Enumerator[int] {
	try: {
		yield(1)
		yield(2)
	}
	finally: {
		log("disposed")
	}
}`, iterc.WithHost("log", func(args ...any) (any, error) {
		events = append(events, args[0].(string))
		return nil, nil
	}))

	stop := errors.New("stop")
	it, _ := prog.Call("Items")
	err := iterc.Run(it, func(v any) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("Run returned %v", err)
	}
	if diff := cmp.Diff([]string{"disposed"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if pc := it.PC(); pc != emit.After {
		t.Errorf("pc is %d, want %d", pc, emit.After)
	}
}

func TestStepLimit(t *testing.T) {
	prog := load(t, `
func Forever() Enumerator[int] {
	for {
	}
	yield(1)
}`, iterc.WithStepLimit(1000))
	it, _ := prog.Call("Forever")
	if _, err := it.MoveNext(); !errors.Is(err, iterc.ErrStepLimit) {
		t.Fatalf("MoveNext returned %v, want %v", err, iterc.ErrStepLimit)
	}
}

func TestProgramErrors(t *testing.T) {
	prog := load(t, `func One() Enumerator[int] { yield(1) }`)

	if _, err := prog.Call("Two"); err == nil || !strings.Contains(err.Error(), "no function named Two") {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := prog.Call("One", 1); err == nil || !strings.Contains(err.Error(), "expected 0 arguments") {
		t.Errorf("unexpected error %v", err)
	}

	it, _ := prog.Call("One")
	if _, err := it.GetEnumerator(); err != nil {
		t.Error(err)
	}

	m := prog.Module()
	if _, err := iterc.NewProgram(&emit.Module{Types: append(m.Types, m.Types...)}); err == nil {
		t.Error("duplicate types were accepted")
	}
}

func TestUndefinedHostFunction(t *testing.T) {
	prog := load(t, `func Call() Enumerator[int] { yield(missing()) }`)
	it, _ := prog.Call("Call")
	if _, err := it.MoveNext(); err == nil || !strings.Contains(err.Error(), "undefined function missing") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMonitorExitNotHeld(t *testing.T) {
	prog := load(t, `func Exit() Enumerator[int] { Monitor.Exit("k"); yield(1) }`)
	it, _ := prog.Call("Exit")
	if _, err := it.MoveNext(); err == nil || !strings.Contains(err.Error(), "is not held") {
		t.Fatalf("unexpected error %v", err)
	}
}
