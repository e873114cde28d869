package iterc_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stealthrocket/iterc"
)

// countdown is written the way generated storeys are.
type countdown struct {
	n        int
	disposed bool
}

func (c *countdown) MoveNext() bool {
	if c.n == 0 {
		return false
	}
	c.n--
	return true
}

func (c *countdown) Current() int { return c.n }
func (c *countdown) Dispose()     { c.disposed = true }
func (c *countdown) Reset()       { panic("Reset is not supported") }

type countdowns int

func (n countdowns) GetEnumerator() iterc.Enumerator[int] {
	return &countdown{n: int(n)}
}

func TestEach(t *testing.T) {
	c := &countdown{n: 5}
	var values []int
	iterc.Each[int](c, func(v int) bool {
		values = append(values, v)
		return v > 2
	})
	if diff := cmp.Diff([]int{4, 3, 2}, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if !c.disposed {
		t.Error("enumerator was not disposed")
	}

	c = &countdown{n: 5}
	if r := recovered(func() {
		iterc.Each[int](c, func(int) bool { panic("stop") })
	}); r != "stop" {
		t.Errorf("recovered %v", r)
	}
	if !c.disposed {
		t.Error("enumerator was not disposed after a panic")
	}
}

func TestValues(t *testing.T) {
	if diff := cmp.Diff([]int{2, 1, 0}, iterc.Values[int](countdowns(3))); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

// enumerate drives e with the runtime functions called by generated code.
func enumerate(e any) (values []any) {
	for iterc.MoveNext(e) {
		values = append(values, iterc.Current(e))
	}
	iterc.Dispose(e)
	return values
}

func TestRuntimeEnumeration(t *testing.T) {
	for _, test := range []struct {
		name   string
		c      any
		values []any
	}{
		{
			name:   "slice",
			c:      []int{1, 2},
			values: []any{1, 2},
		},
		{
			name:   "array",
			c:      [2]string{"a", "b"},
			values: []any{"a", "b"},
		},
		{
			name:   "enumerable",
			c:      countdowns(2),
			values: []any{1, 0},
		},
		{
			name:   "enumerator",
			c:      &countdown{n: 1},
			values: []any{0},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			values := enumerate(iterc.GetEnumerator(test.c))
			if diff := cmp.Diff(test.values, values); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if r := recovered(func() { iterc.GetEnumerator(42) }); r == nil {
		t.Error("enumerating an int did not panic")
	}
	if r := recovered(func() { iterc.MoveNext("x") }); r == nil {
		t.Error("advancing a string did not panic")
	}
}

type disposer struct{ err error }

func (d *disposer) Dispose() error { return d.err }

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestRuntimeDispose(t *testing.T) {
	c := &countdown{}
	iterc.Dispose(c)
	if !c.disposed {
		t.Error("Dispose was not called")
	}

	cl := &closer{}
	iterc.Dispose(cl)
	if !cl.closed {
		t.Error("Close was not called")
	}

	iterc.Dispose(nil)
	iterc.Dispose(&disposer{})

	failed := errors.New("failed")
	if r := recovered(func() { iterc.Dispose(&disposer{err: failed}) }); r != failed {
		t.Errorf("recovered %v", r)
	}
	if r := recovered(func() { iterc.Dispose(42) }); r == nil {
		t.Error("disposing an int did not panic")
	}
}

func TestRuntimeMonitors(t *testing.T) {
	iterc.MonitorEnter("key")
	iterc.MonitorExit("key")

	r := recovered(func() { iterc.MonitorExit("key") })
	if r == nil || !strings.Contains(fmt.Sprint(r), "is not held") {
		t.Errorf("recovered %v", r)
	}
}

func recovered(f func()) (r any) {
	defer func() { r = recover() }()
	f()
	return nil
}
