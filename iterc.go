// Package iterc executes lowered iterators.
//
// A Program interprets the storey types and stub functions of an
// emit.Module. It is the reference against which lowering is verified:
// calling a stub returns an Instance that is driven with MoveNext,
// Current and Dispose like any enumerator.
package iterc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stealthrocket/iterc/emit"
)

// ErrStepLimit is returned when a call executes more instructions than
// allowed by WithStepLimit.
var ErrStepLimit = errors.New("step limit exceeded")

// Exception is the error raised by a throw instruction.
type Exception struct {
	Func string
	Msg  string
}

func (e *Exception) Error() string { return e.Func + ": " + e.Msg }

// HostFunc is a function callable from interpreted code.
type HostFunc func(args ...any) (any, error)

// RegionHook observes protected regions being entered. fn is the name of
// the function, qualified with the storey type for methods.
type RegionHook func(fn string, region int, kind emit.RegionKind)

// Option configures a Program.
type Option func(*Program)

// WithHost registers a host function, replacing any builtin with the same
// name.
func WithHost(name string, fn HostFunc) Option {
	return func(p *Program) { p.host[name] = fn }
}

// WithRegionHook installs a hook called each time a region is entered.
func WithRegionHook(hook RegionHook) Option {
	return func(p *Program) { p.hook = hook }
}

// WithStepLimit bounds the number of instructions a single call may
// execute. Zero means no limit.
func WithStepLimit(n int) Option {
	return func(p *Program) { p.stepLimit = n }
}

// WithLogger sets the logger used instead of the package logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Program) { p.log = log }
}

// Program is an executable module.
type Program struct {
	module    *emit.Module
	types     map[string]*emit.Type
	funcs     map[string]*emit.Func
	labels    map[*emit.Func][]int
	host      map[string]HostFunc
	monitors  *monitors
	hook      RegionHook
	stepLimit int
	log       *zap.Logger
}

// NewProgram verifies every function of the module and prepares it for
// execution.
func NewProgram(m *emit.Module, options ...Option) (*Program, error) {
	p := &Program{
		module:   m,
		types:    make(map[string]*emit.Type, len(m.Types)),
		funcs:    make(map[string]*emit.Func, len(m.Funcs)),
		labels:   map[*emit.Func][]int{},
		host:     map[string]HostFunc{},
		monitors: newMonitors(),
		log:      Logger(),
	}
	p.registerBuiltins()
	for _, option := range options {
		option(p)
	}

	prepare := func(fn *emit.Func) error {
		if err := emit.Verify(fn); err != nil {
			return err
		}
		labels := make([]int, fn.Labels)
		for pc, in := range fn.Code {
			if in.Op == emit.OpLabel {
				labels[in.Imm.(emit.LabelImm).Label] = pc
			}
		}
		p.labels[fn] = labels
		return nil
	}
	for _, t := range m.Types {
		if _, dup := p.types[t.Name]; dup {
			return nil, fmt.Errorf("duplicate type %s", t.Name)
		}
		p.types[t.Name] = t
		for _, fn := range t.Methods {
			if err := prepare(fn); err != nil {
				return nil, fmt.Errorf("%s: %w", t.Name, err)
			}
		}
	}
	for _, fn := range m.Funcs {
		if _, dup := p.funcs[fn.Name]; dup {
			return nil, fmt.Errorf("duplicate function %s", fn.Name)
		}
		p.funcs[fn.Name] = fn
		if err := prepare(fn); err != nil {
			return nil, err
		}
	}
	p.log.Debug("program loaded",
		zap.Int("types", len(m.Types)),
		zap.Int("funcs", len(m.Funcs)))
	return p, nil
}

// Module returns the module the program was created from.
func (p *Program) Module() *emit.Module { return p.module }

// Call calls a stub function without receiver and returns the storey it
// creates.
func (p *Program) Call(name string, args ...any) (*Instance, error) {
	return p.Invoke(nil, name, args...)
}

// Invoke calls a stub function with the given receiver.
func (p *Program) Invoke(recv any, name string, args ...any) (*Instance, error) {
	fn, ok := p.funcs[name]
	if !ok {
		return nil, fmt.Errorf("no function named %s", name)
	}
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", name, len(fn.Params), len(args))
	}
	normalized := make([]any, len(args))
	for i, arg := range args {
		normalized[i] = normalize(arg)
	}
	v, err := p.exec(fn, name, recv, normalized)
	if err != nil {
		return nil, err
	}
	it, ok := v.(*Instance)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, not an iterator", name, v)
	}
	return it, nil
}

// Run drives an enumerator to completion, calling f with each value it
// produces. If f returns an error, or iteration fails, the enumerator is
// disposed before Run returns.
func Run(it *Instance, f func(any) error) (err error) {
	defer func() {
		if err != nil {
			if derr := it.Dispose(); derr != nil {
				err = errors.Join(err, derr)
			}
		}
	}()
	for {
		ok, err := it.MoveNext()
		if err != nil || !ok {
			return err
		}
		v, err := it.Current()
		if err != nil {
			return err
		}
		if err := f(v); err != nil {
			return err
		}
	}
}

// Collect returns the values produced by an enumerable or enumerator.
func Collect(it *Instance) ([]any, error) {
	e, err := it.GetEnumerator()
	if err != nil {
		return nil, err
	}
	var values []any
	err = Run(e, func(v any) error {
		values = append(values, v)
		return nil
	})
	return values, err
}
