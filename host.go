package iterc

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
)

// Names of the builtin host functions. They match the calls emitted when
// foreach, using and lock statements are desugared.
const (
	GetEnumeratorFunc = "GetEnumerator"
	MoveNextFunc      = "MoveNext"
	CurrentFunc       = "Current"
	DisposeFunc       = "Dispose"
	MonitorEnterFunc  = "Monitor.Enter"
	MonitorExitFunc   = "Monitor.Exit"
)

// Disposer is implemented by host values that release resources in
// using statements.
type Disposer interface {
	Dispose() error
}

func (p *Program) registerBuiltins() {
	p.host[GetEnumeratorFunc] = unaryHost(getEnumerator)
	p.host[MoveNextFunc] = unaryHost(moveNext)
	p.host[CurrentFunc] = unaryHost(current)
	p.host[DisposeFunc] = unaryHost(func(v any) (any, error) { return nil, dispose(v) })
	p.host[MonitorEnterFunc] = unaryHost(func(v any) (any, error) { return nil, p.monitors.enter(v) })
	p.host[MonitorExitFunc] = unaryHost(func(v any) (any, error) { return nil, p.monitors.exit(v) })
}

func unaryHost(fn func(any) (any, error)) HostFunc {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(args[0])
	}
}

// sliceEnumerator enumerates the elements of a Go slice.
type sliceEnumerator struct {
	items []any
	index int // position of the current item, -1 before the first call to MoveNext
}

func newSliceEnumerator(v any) (*sliceEnumerator, error) {
	r := reflect.ValueOf(v)
	if r.Kind() != reflect.Slice && r.Kind() != reflect.Array {
		return nil, fmt.Errorf("cannot enumerate %T", v)
	}
	items := make([]any, r.Len())
	for i := range items {
		items[i] = normalize(r.Index(i).Interface())
	}
	return &sliceEnumerator{items: items, index: -1}, nil
}

func (e *sliceEnumerator) next() bool {
	if e.index < len(e.items) {
		e.index++
	}
	return e.index < len(e.items)
}

func (e *sliceEnumerator) current() (any, error) {
	if e.index < 0 || e.index >= len(e.items) {
		return nil, errors.New("enumeration has not started or has already finished")
	}
	return e.items[e.index], nil
}

func getEnumerator(v any) (any, error) {
	switch c := v.(type) {
	case *Instance:
		return c.GetEnumerator()
	case *sliceEnumerator:
		return c, nil
	default:
		return newSliceEnumerator(v)
	}
}

func moveNext(v any) (any, error) {
	switch e := v.(type) {
	case *Instance:
		return e.MoveNext()
	case *sliceEnumerator:
		return e.next(), nil
	default:
		return nil, fmt.Errorf("%T is not an enumerator", v)
	}
}

func current(v any) (any, error) {
	switch e := v.(type) {
	case *Instance:
		return e.Current()
	case *sliceEnumerator:
		return e.current()
	default:
		return nil, fmt.Errorf("%T is not an enumerator", v)
	}
}

func dispose(v any) error {
	switch d := v.(type) {
	case nil, *sliceEnumerator:
		return nil
	case *Instance:
		return d.Dispose()
	case Disposer:
		return d.Dispose()
	case io.Closer:
		return d.Close()
	default:
		return fmt.Errorf("%T is not disposable", v)
	}
}

// monitors implements Monitor.Enter and Monitor.Exit with one mutex per
// locked object.
type monitors struct {
	mu    sync.Mutex
	locks map[any]*sync.Mutex
}

func newMonitors() *monitors {
	return &monitors{locks: map[any]*sync.Mutex{}}
}

func (m *monitors) lock(v any) (*sync.Mutex, error) {
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return nil, fmt.Errorf("cannot lock a value of type %T", v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[v]
	if !ok {
		l = new(sync.Mutex)
		m.locks[v] = l
	}
	return l, nil
}

func (m *monitors) enter(v any) error {
	l, err := m.lock(v)
	if err != nil {
		return err
	}
	l.Lock()
	return nil
}

func (m *monitors) exit(v any) error {
	l, err := m.lock(v)
	if err != nil {
		return err
	}
	if l.TryLock() {
		l.Unlock()
		return fmt.Errorf("monitor for %v is not held", v)
	}
	l.Unlock()
	return nil
}

// Held reports whether the monitor of v is currently held.
func (p *Program) Held(v any) bool {
	l, err := p.monitors.lock(normalize(v))
	if err != nil {
		return false
	}
	if l.TryLock() {
		l.Unlock()
		return false
	}
	return true
}
