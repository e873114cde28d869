package compiler

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stealthrocket/iterc/emit"
)

// Iterator describes a lowered iterator method.
type Iterator struct {
	// Method is the method as it was handed to the pass.
	Method     *Method
	Elem       string
	Enumerable bool
	// Storey is the synthesized state container and its methods.
	Storey *emit.Type
	// Stub replaces the original method body.
	Stub *emit.Func
	// ResumePoints is the number of pcs allocated, excluding Start.
	ResumePoints int
}

// Module groups lowered iterators for a backend.
func Module(iterators ...*Iterator) *emit.Module {
	m := new(emit.Module)
	for _, it := range iterators {
		if it == nil {
			continue
		}
		m.Types = append(m.Types, it.Storey)
		m.Funcs = append(m.Funcs, it.Stub)
	}
	return m
}

// LoweringContext carries the counters used to name synthesized
// artifacts. A context must not be shared by goroutines; concurrent
// lowering uses one context per method.
type LoweringContext struct {
	log     *zap.Logger
	storeys int // next storey number
	vars    int // next temporary number
}

// NewLoweringContext returns a context whose storey numbering starts at
// zero.
func NewLoweringContext(options ...Option) *LoweringContext {
	c := newCompiler(options)
	return &LoweringContext{log: c.log}
}

// TryLowerIterator lowers m with a new LoweringContext.
func TryLowerIterator(m *Method, options ...Option) (*Iterator, error) {
	return NewLoweringContext(options...).TryLowerIterator(m)
}

// TryLowerIterator rewrites the body of m into a state machine.
//
// It returns nil, nil when the body contains no yield statement. When the
// front end reported diagnostics for m it returns ErrAborted. Constructs
// that should have been rejected but were not, and any broken invariant
// of the pass, are reported as an *InternalError.
//
// The method is not modified.
func (c *LoweringContext) TryLowerIterator(m *Method) (it *Iterator, err error) {
	if !hasYield(m) {
		return nil, nil
	}
	if m.Reported {
		return nil, ErrAborted
	}
	if diags := Validate(m); len(diags) > 0 {
		return nil, &InternalError{Method: m.Name, Msg: "unreported diagnostic: " + diags[0].Error()}
	}
	shape, _ := ShapeOf(m.Result)

	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InternalError)
			if !ok {
				panic(r)
			}
			ie.Method = m.Name
			it, err = nil, ie
		}
	}()

	work := m.clone()
	desugar(c, work)

	name := m.Name + "__Iterator" + strconv.Itoa(c.storeys)
	c.storeys++
	l := &lowering{
		m:   work,
		reg: trackResumePoints(work.Tree, work.Body),
	}
	l.st = newStorey(name, work, shape)

	typ := l.st.typ
	typ.Methods = []*emit.Func{l.moveNext(), l.dispose(), l.current(), l.reset()}
	if shape.Enumerable {
		typ.Methods = append(typ.Methods, l.getEnumerator())
	}
	stub := l.stub()
	for _, fn := range append(typ.Methods, stub) {
		if err := emit.Verify(fn); err != nil {
			internalErrorf("%s.%v", typ.Name, err)
		}
	}

	c.log.Debug("lowered iterator",
		zap.String("method", m.Name),
		zap.String("storey", typ.Name),
		zap.Bool("enumerable", shape.Enumerable),
		zap.Int("resume_points", len(l.reg.points)),
		zap.Int("regions", len(l.reg.regions)),
		zap.Int("fields", len(typ.Fields)),
	)
	return &Iterator{
		Method:       m,
		Elem:         shape.Elem,
		Enumerable:   shape.Enumerable,
		Storey:       typ,
		Stub:         stub,
		ResumePoints: len(l.reg.points),
	}, nil
}

// lowering holds the state shared by the functions synthesized for one
// method.
type lowering struct {
	m   *Method
	reg *registry
	st  *storey
}

// Compile lowers methods concurrently. Storeys are numbered after the
// position of their method in the input, so names are stable regardless
// of scheduling. Results are returned in input order, with nil entries
// for methods that are not iterators.
func Compile(ctx context.Context, methods []*Method, options ...Option) ([]*Iterator, error) {
	c := newCompiler(options)
	iterators := make([]*Iterator, len(methods))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, m := range methods {
		i, m := i, m
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lc := &LoweringContext{log: c.log, storeys: i}
			it, err := lc.TryLowerIterator(m)
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			iterators[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.Info("lowered iterators", zap.Int("methods", len(methods)))
	return iterators, nil
}
