package iterc

import (
	"fmt"
	"io"
	"reflect"
)

// Enumerator is implemented by the storeys of iterators compiled to Go
// source. MoveNext must not be called concurrently.
type Enumerator[T any] interface {
	MoveNext() bool
	Current() T
	Dispose()
	Reset()
}

// Enumerable is implemented by the storeys of compiled iterators declared
// to return an enumerable. GetEnumerator is safe for concurrent use.
type Enumerable[T any] interface {
	GetEnumerator() Enumerator[T]
}

// Each drives a compiled enumerator to completion, calling f for each value
// it produces. Iteration stops early when f returns false. The enumerator
// is disposed when Each returns, including when f panics.
func Each[T any](e Enumerator[T], f func(T) bool) {
	defer e.Dispose()
	for e.MoveNext() {
		if !f(e.Current()) {
			return
		}
	}
}

// Values returns the values produced by a compiled enumerable.
func Values[T any](e Enumerable[T]) (values []T) {
	Each(e.GetEnumerator(), func(v T) bool {
		values = append(values, v)
		return true
	})
	return values
}

// The functions below are called by generated code in place of the
// builtin host functions of the interpreter. They operate on values of
// unknown element type, and panic on misuse the way a type assertion
// would.

// GetEnumerator returns an enumerator over c, which may be a compiled
// enumerable or enumerator, a slice or an array.
func GetEnumerator(c any) any {
	if e, ok := c.(*sliceEnumerator); ok {
		return e
	}
	if m := method(c, "GetEnumerator"); m.IsValid() {
		return m.Call(nil)[0].Interface()
	}
	if m := method(c, "MoveNext"); m.IsValid() {
		return c
	}
	// Elements keep their Go types; generated code asserts them back.
	r := reflect.ValueOf(c)
	if r.Kind() != reflect.Slice && r.Kind() != reflect.Array {
		panic(fmt.Sprintf("cannot enumerate %T", c))
	}
	items := make([]any, r.Len())
	for i := range items {
		items[i] = r.Index(i).Interface()
	}
	return &sliceEnumerator{items: items, index: -1}
}

// MoveNext advances an enumerator returned by GetEnumerator.
func MoveNext(e any) bool {
	switch x := e.(type) {
	case *sliceEnumerator:
		return x.next()
	case interface{ MoveNext() bool }:
		return x.MoveNext()
	}
	panic(fmt.Sprintf("%T is not an enumerator", e))
}

// Current returns the current value of an enumerator returned by
// GetEnumerator.
func Current(e any) any {
	if x, ok := e.(*sliceEnumerator); ok {
		v, err := x.current()
		if err != nil {
			panic(err)
		}
		return v
	}
	if m := method(e, "Current"); m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() == 1 {
		return m.Call(nil)[0].Interface()
	}
	panic(fmt.Sprintf("%T is not an enumerator", e))
}

// Dispose releases v. Nil values are ignored.
func Dispose(v any) {
	switch x := v.(type) {
	case nil, *sliceEnumerator:
	case interface{ Dispose() }:
		x.Dispose()
	case interface{ Dispose() error }:
		if err := x.Dispose(); err != nil {
			panic(err)
		}
	case io.Closer:
		if err := x.Close(); err != nil {
			panic(err)
		}
	default:
		panic(fmt.Sprintf("%T is not disposable", v))
	}
}

var globalMonitors = newMonitors()

// MonitorEnter acquires the monitor of v.
func MonitorEnter(v any) {
	if err := globalMonitors.enter(v); err != nil {
		panic(err)
	}
}

// MonitorExit releases the monitor of v.
func MonitorExit(v any) {
	if err := globalMonitors.exit(v); err != nil {
		panic(err)
	}
}

func method(v any, name string) reflect.Value {
	if v == nil {
		return reflect.Value{}
	}
	return reflect.ValueOf(v).MethodByName(name)
}
