package iterc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stealthrocket/iterc/emit"
)

// Instance is a storey: the state of one lowered iterator.
//
// MoveNext, Current, Dispose and Reset must not be called concurrently on
// the same instance. GetEnumerator may be called concurrently on an
// enumerable; exactly one caller claims the instance in place.
type Instance struct {
	prog   *Program
	typ    *emit.Type
	mu     sync.Mutex
	fields []any
}

func (p *Program) newInstance(typeName string) (*Instance, error) {
	t, ok := p.types[typeName]
	if !ok {
		return nil, fmt.Errorf("no type named %s", typeName)
	}
	fields := make([]any, len(t.Fields))
	for i, f := range t.Fields {
		fields[i] = zero(f.Type)
	}
	return &Instance{prog: p, typ: t, fields: fields}, nil
}

// Type returns the storey type of the instance.
func (i *Instance) Type() *emit.Type { return i.typ }

// PC returns the state register of the instance.
func (i *Instance) PC() int {
	pc, _ := i.load(emit.FieldPC).(int64)
	return int(pc)
}

// Field returns the value of the named field, or nil when there is no
// such field.
func (i *Instance) Field(name string) any {
	f := i.typ.FieldIndex(name)
	if f < 0 {
		return nil
	}
	return i.load(f)
}

// Hoisted returns the value of the field a source variable was hoisted
// to.
func (i *Instance) Hoisted(source string) (any, bool) {
	for f, field := range i.typ.Fields {
		if field.Source == source && field.Name[0] == 'X' {
			return i.load(f), true
		}
	}
	return nil, false
}

// MoveNext advances the iterator. It returns false once the iterator is
// exhausted, and forever after.
//
// When MoveNext fails, the finally blocks of the regions the failure left
// open run before it returns, and the iterator is exhausted.
func (i *Instance) MoveNext() (bool, error) {
	v, err := i.call(emit.MoveNext)
	if err != nil {
		if derr := i.Dispose(); derr != nil {
			err = errors.Join(err, derr)
		}
		return false, err
	}
	ok, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("%s.MoveNext returned %T", i.typ.Name, v)
	}
	return ok, nil
}

// Current returns the last value produced by MoveNext.
func (i *Instance) Current() (any, error) {
	return i.call(emit.Current)
}

// Dispose runs the finally blocks still open at the point where the
// iterator is parked. It is idempotent.
//
// A failing finally block does not prevent those of the enclosing regions
// from running; all errors are returned.
func (i *Instance) Dispose() error {
	var errs []error
	for {
		before := i.PC()
		_, err := i.call(emit.Dispose)
		if err == nil {
			break
		}
		errs = append(errs, err)
		if pc := i.PC(); pc > emit.FirstRegionState || pc == before {
			break
		}
	}
	return errors.Join(errs...)
}

// Reset always fails for lowered iterators.
func (i *Instance) Reset() error {
	_, err := i.call(emit.Reset)
	return err
}

// GetEnumerator returns an enumerator for an enumerable. Enumerators are
// their own enumerator.
func (i *Instance) GetEnumerator() (*Instance, error) {
	if !i.typ.Enumerable {
		return i, nil
	}
	v, err := i.call(emit.GetEnumerator)
	if err != nil {
		return nil, err
	}
	e, ok := v.(*Instance)
	if !ok {
		return nil, fmt.Errorf("%s.GetEnumerator returned %T", i.typ.Name, v)
	}
	return e, nil
}

func (i *Instance) call(method string) (any, error) {
	fn := i.typ.Method(method)
	if fn == nil {
		return nil, fmt.Errorf("%s has no method %s", i.typ.Name, method)
	}
	return i.prog.exec(fn, i.typ.Name+"."+method, i, nil)
}

func (i *Instance) load(f int) any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fields[f]
}

func (i *Instance) store(f int, v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fields[f] = v
}

func (i *Instance) cas(f int, old, val any) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !equal(i.fields[f], old) {
		return false
	}
	i.fields[f] = val
	return true
}

func (i *Instance) checkField(f int) error {
	if f < 0 || f >= len(i.fields) {
		return fmt.Errorf("%s has no field %d", i.typ.Name, f)
	}
	return nil
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s{pc:%d}", i.typ.Name, i.PC())
}
