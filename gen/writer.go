package gen

import (
	"bytes"
	"fmt"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/stealthrocket/iterc/emit"
)

// value is an entry of the symbolic evaluation stack: a Go expression
// and its type in the lowered program.
type value struct {
	expr string
	typ  string
}

// writer translates the stack code of one function into a Go function
// body. Values are kept on a symbolic stack as expressions and only
// materialized when a statement consumes them. Entries still on the stack
// at a branch are spilled to temporaries, one per stack position, so that
// every path into a label agrees on where the values live.
type writer struct {
	g        *generator
	st       *emit.Type
	fn       *emit.Func
	recv     string
	thisType string
	params   []string

	body    bytes.Buffer
	stack   []value
	locals  []string
	temps   []string // types of the spill temporaries, by stack position
	targets map[emit.Label]bool
	depths  map[emit.Label]int

	reachable []bool
	live      bool
}

type writeError struct{ msg string }

func (e *writeError) Error() string { return e.msg }

func failf(format string, args ...any) {
	panic(&writeError{msg: fmt.Sprintf(format, args...)})
}

func (g *generator) newWriter(st *emit.Type, fn *emit.Func, recv, thisType string, params []string) *writer {
	w := &writer{
		g:        g,
		st:       st,
		fn:       fn,
		recv:     recv,
		thisType: thisType,
		params:   params,
		targets:  map[emit.Label]bool{},
		depths:   map[emit.Label]int{},
	}
	used := map[string]bool{recv: true}
	for _, p := range params {
		used[p] = true
	}
	w.locals = make([]string, len(fn.Locals))
	for i, l := range fn.Locals {
		name := "_" + l.Name
		for n := 1; used[name]; n++ {
			name = "_" + l.Name + strconv.Itoa(n)
		}
		used[name] = true
		w.locals[i] = name
	}
	w.markReachable()
	return w
}

// markReachable finds the instructions reachable from the entry of the
// function and the labels targeted by reachable branches. Unreachable
// code is not written, and neither are labels only it jumps to.
func (w *writer) markReachable() {
	code := w.fn.Code
	labels := map[emit.Label]int{}
	for pc, in := range code {
		if in.Op == emit.OpLabel {
			labels[in.Imm.(emit.LabelImm).Label] = pc
		}
	}
	w.reachable = make([]bool, len(code))
	work := []int{0}
	jump := func(l emit.Label) {
		w.targets[l] = true
		if pc, ok := labels[l]; ok {
			work = append(work, pc)
		}
	}
	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		if pc >= len(code) || w.reachable[pc] {
			continue
		}
		w.reachable[pc] = true
		switch in := code[pc]; in.Op {
		case emit.OpBr:
			jump(in.Imm.(emit.LabelImm).Label)
		case emit.OpBrTrue, emit.OpBrFalse:
			jump(in.Imm.(emit.LabelImm).Label)
			work = append(work, pc+1)
		case emit.OpSwitch:
			for _, l := range in.Imm.(emit.SwitchImm).Labels {
				jump(l)
			}
			work = append(work, pc+1)
		case emit.OpRet, emit.OpRetVoid, emit.OpThrow:
		default:
			work = append(work, pc+1)
		}
	}
}

// function writes the body of the function, braces included, to b.
func (w *writer) function(b *bytes.Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*writeError)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()

	w.live = true
	for pc, in := range w.fn.Code {
		if !w.reachable[pc] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					if e, ok := r.(*writeError); ok {
						e.msg = fmt.Sprintf("%d: %s: %s", pc, in.Op, e.msg)
					}
					panic(r)
				}
			}()
			w.instruction(in)
		}()
	}

	b.WriteString("{\n")
	for i, l := range w.fn.Locals {
		fmt.Fprintf(b, "\tvar %s %s\n\t_ = %[1]s\n", w.locals[i], w.g.goType(l.Type))
	}
	for i, typ := range w.temps {
		fmt.Fprintf(b, "\tvar %s %s\n\t_ = %[1]s\n", temp(i), w.g.goType(typ))
	}
	if w.body.Len() > 0 {
		b.WriteString(indent(w.body.String()))
	}
	b.WriteString("}\n\n")
	return nil
}

func (w *writer) instruction(in emit.Instruction) {
	switch in.Op {
	case emit.OpNop:

	case emit.OpLabel:
		l := in.Imm.(emit.LabelImm).Label
		if !w.targets[l] {
			return
		}
		if w.live {
			w.spill()
			w.reach(l)
		} else {
			w.restore(l)
		}
		w.printf("L%d:\n", l)
		w.live = true

	case emit.OpBr:
		l := in.Imm.(emit.LabelImm).Label
		w.spill()
		w.reach(l)
		w.printf("goto L%d\n", l)
		w.dead()

	case emit.OpBrTrue, emit.OpBrFalse:
		l := in.Imm.(emit.LabelImm).Label
		cond := w.pop()
		w.spill()
		w.reach(l)
		if in.Op == emit.OpBrTrue {
			w.printf("if %s {\n\tgoto L%d\n}\n", cond.expr, l)
		} else {
			w.printf("if !%s {\n\tgoto L%d\n}\n", cond.expr, l)
		}

	case emit.OpSwitch:
		labels := in.Imm.(emit.SwitchImm).Labels
		v := w.pop()
		w.spill()
		cases := map[emit.Label][]string{}
		var order []emit.Label
		for i, l := range labels {
			if _, ok := cases[l]; !ok {
				order = append(order, l)
				w.reach(l)
			}
			cases[l] = append(cases[l], strconv.Itoa(i))
		}
		w.printf("switch %s {\n", v.expr)
		for _, l := range order {
			w.printf("case %s:\n\tgoto L%d\n", strings.Join(cases[l], ", "), l)
		}
		w.printf("}\n")

	case emit.OpRet:
		v := w.pop()
		w.printf("return %s\n", w.convert(v, w.fn.Result))
		w.dead()

	case emit.OpRetVoid:
		w.printf("return\n")
		w.dead()

	case emit.OpThrow:
		w.printf("panic(%s)\n", strconv.Quote(fmt.Sprint(in.Imm.(emit.ConstImm).Value)))
		w.dead()

	case emit.OpConst:
		w.push(constant(in.Imm.(emit.ConstImm).Value))

	case emit.OpThis:
		w.push(value{expr: w.recv, typ: w.thisType})

	case emit.OpArg:
		i := in.Imm.(emit.IndexImm).Index
		if i < 0 || i >= len(w.params) {
			failf("argument %d out of range", i)
		}
		w.push(value{expr: w.params[i], typ: w.fn.Params[i]})

	case emit.OpLdfld:
		f := w.field(in)
		obj := w.pop()
		if f == emit.FieldPC {
			w.push(value{expr: "int(" + obj.expr + ".pc.Load())", typ: "int"})
		} else {
			w.push(value{expr: obj.expr + "." + w.st.Fields[f].Name, typ: w.st.Fields[f].Type})
		}

	case emit.OpStfld:
		f := w.field(in)
		v := w.pop()
		obj := w.pop()
		w.flush()
		if f == emit.FieldPC {
			w.printf("%s.pc.Store(int64(%s))\n", obj.expr, v.expr)
		} else {
			w.printf("%s.%s = %s\n", obj.expr, w.st.Fields[f].Name, w.convert(v, w.st.Fields[f].Type))
		}

	case emit.OpLdloc:
		i := w.local(in)
		w.push(value{expr: w.locals[i], typ: w.fn.Locals[i].Type})

	case emit.OpStloc:
		i := w.local(in)
		v := w.pop()
		w.flush()
		w.printf("%s = %s\n", w.locals[i], w.convert(v, w.fn.Locals[i].Type))

	case emit.OpNew:
		typ := in.Imm.(emit.TypeImm).Name
		w.push(value{expr: "&" + typ + "{}", typ: typ})

	case emit.OpCas:
		if f := w.field(in); f != emit.FieldPC {
			failf("compare and swap of field %s", w.st.Fields[f].Name)
		}
		nv, old, obj := w.pop(), w.pop(), w.pop()
		w.push(value{
			expr: fmt.Sprintf("%s.pc.CompareAndSwap(int64(%s), int64(%s))", obj.expr, old.expr, nv.expr),
			typ:  "bool",
		})

	case emit.OpCall:
		w.call(in.Imm.(emit.CallImm))

	case emit.OpUnary:
		op := in.Imm.(emit.TokenImm).Op
		x := w.pop()
		typ := x.typ
		if op == token.NOT {
			typ = "bool"
		}
		w.push(value{expr: "(" + op.String() + x.expr + ")", typ: typ})

	case emit.OpBinary:
		op := in.Imm.(emit.TokenImm).Op
		y, x := w.pop(), w.pop()
		w.push(value{expr: "(" + x.expr + " " + op.String() + " " + y.expr + ")", typ: binaryType(op, x, y)})

	case emit.OpPop:
		v := w.pop()
		w.flush()
		w.printf("_ = %s\n", v.expr)

	case emit.OpTry:
		i := in.Imm.(emit.IndexImm).Index
		w.printf("// try %d (%s)\n", i, w.fn.Regions[i].Kind)

	case emit.OpEndTry:
		w.printf("// end try %d\n", in.Imm.(emit.IndexImm).Index)

	default:
		failf("unsupported instruction")
	}
}

func (w *writer) call(c emit.CallImm) {
	if len(w.stack) < c.Argc {
		failf("stack underflow")
	}
	args := make([]string, c.Argc)
	for i, v := range w.stack[len(w.stack)-c.Argc:] {
		args[i] = v.expr
	}
	w.stack = w.stack[:len(w.stack)-c.Argc]

	name := c.Func
	rf, builtin := runtimeFuncs[c.Func]
	if builtin {
		name = rf.name
	}
	expr := name + "(" + strings.Join(args, ", ") + ")"
	if c.Void() {
		w.flush()
		w.printf("%s\n", expr)
		return
	}
	typ := c.Result
	switch {
	case !builtin:
		// Host functions have Go signatures of their own.
		typ = ""
	case rf.result == "any":
		if to := w.g.goType(c.Result); to != "any" {
			expr += ".(" + to + ")"
		}
	}
	w.push(value{expr: expr, typ: typ})
}

// convert returns the expression of v as a value of type typ.
func (w *writer) convert(v value, typ string) string {
	to := w.g.goType(typ)
	if to == "any" || v.typ == "" || v.expr == "nil" || w.g.goType(v.typ) != "any" {
		return v.expr
	}
	return v.expr + ".(" + to + ")"
}

func (w *writer) field(in emit.Instruction) int {
	f := in.Imm.(emit.IndexImm).Index
	if f < 0 || f >= len(w.st.Fields) {
		failf("field %d out of range", f)
	}
	return f
}

func (w *writer) local(in emit.Instruction) int {
	i := in.Imm.(emit.IndexImm).Index
	if i < 0 || i >= len(w.locals) {
		failf("local %d out of range", i)
	}
	return i
}

func (w *writer) push(v value) { w.stack = append(w.stack, v) }

func (w *writer) pop() value {
	n := len(w.stack)
	if n == 0 {
		failf("stack underflow")
	}
	v := w.stack[n-1]
	w.stack = w.stack[:n-1]
	return v
}

// spill assigns every stack entry to the temporary of its position.
// Entries are assigned bottom up; an entry only refers to temporaries at
// or above its own position, which are not yet overwritten.
func (w *writer) spill() {
	for i, v := range w.stack {
		name := temp(i)
		if i == len(w.temps) {
			w.temps = append(w.temps, v.typ)
		} else if w.temps[i] != v.typ {
			w.temps[i] = "any"
		}
		if v.expr != name {
			w.printf("%s = %s\n", name, v.expr)
		}
		w.stack[i] = value{expr: name, typ: w.temps[i]}
	}
}

// flush spills the entries left on the stack before a statement is
// written, so the statement cannot change values they read. The receiver
// is never assigned and stays in place.
func (w *writer) flush() {
	for _, v := range w.stack {
		if v.expr != w.recv {
			w.spill()
			return
		}
	}
}

func (w *writer) reach(l emit.Label) {
	if d, ok := w.depths[l]; ok && d != len(w.stack) {
		failf("stack depth mismatch at L%d: %d != %d", l, d, len(w.stack))
	}
	w.depths[l] = len(w.stack)
}

func (w *writer) restore(l emit.Label) {
	d := w.depths[l]
	w.depths[l] = d
	w.stack = w.stack[:0]
	for i := 0; i < d; i++ {
		w.stack = append(w.stack, value{expr: temp(i), typ: w.temps[i]})
	}
}

func (w *writer) dead() {
	w.stack = w.stack[:0]
	w.live = false
}

func (w *writer) printf(format string, args ...any) {
	fmt.Fprintf(&w.body, format, args...)
}

func temp(i int) string { return "_t" + strconv.Itoa(i) }

func constant(v any) value {
	switch x := v.(type) {
	case nil:
		return value{expr: "nil", typ: "any"}
	case int64:
		return value{expr: signed(strconv.FormatInt(x, 10)), typ: "int"}
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			failf("cannot render constant %v", x)
		}
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return value{expr: signed(s), typ: "float64"}
	case string:
		return value{expr: strconv.Quote(x), typ: "string"}
	case bool:
		return value{expr: strconv.FormatBool(x), typ: "bool"}
	}
	failf("cannot render constant of type %T", v)
	return value{}
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") {
		return "(" + s + ")"
	}
	return s
}

var comparisons = map[token.Token]bool{
	token.EQL: true, token.NEQ: true,
	token.LSS: true, token.LEQ: true,
	token.GTR: true, token.GEQ: true,
	token.LAND: true, token.LOR: true,
}

func binaryType(op token.Token, x, y value) string {
	switch {
	case comparisons[op]:
		return "bool"
	case x.typ == "float64" || y.typ == "float64":
		return "float64"
	case x.typ == "" || x.typ == "any":
		return y.typ
	}
	return x.typ
}
