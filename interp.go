package iterc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stealthrocket/iterc/emit"
)

type frame struct {
	fn     *emit.Func
	name   string
	this   any
	args   []any
	locals []any
	stack  []any
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() any {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []any {
	vs := append([]any(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vs
}

func (f *frame) errorf(pc int, format string, args ...any) error {
	return fmt.Errorf("%s: instruction %d: %s", f.name, pc, fmt.Sprintf(format, args...))
}

// exec runs a verified function. Stack depths and label targets were
// checked by emit.Verify, so only the dynamic types of values are checked
// here.
func (p *Program) exec(fn *emit.Func, name string, this any, args []any) (any, error) {
	f := &frame{fn: fn, name: name, this: this, args: args, locals: make([]any, len(fn.Locals))}
	for i, l := range fn.Locals {
		f.locals[i] = zero(l.Type)
	}
	labels := p.labels[fn]
	if labels == nil && fn.Labels > 0 {
		return nil, fmt.Errorf("%s: function does not belong to the program", name)
	}

	steps := 0
	for pc := 0; pc < len(fn.Code); pc++ {
		if p.stepLimit > 0 {
			if steps++; steps > p.stepLimit {
				return nil, fmt.Errorf("%s: %w", name, ErrStepLimit)
			}
		}
		in := fn.Code[pc]
		switch in.Op {
		case emit.OpNop, emit.OpLabel, emit.OpEndTry:

		case emit.OpTry:
			if p.hook != nil {
				r := in.Imm.(emit.IndexImm).Index
				p.hook(name, r, fn.Regions[r].Kind)
			}

		case emit.OpBr:
			pc = labels[in.Imm.(emit.LabelImm).Label]

		case emit.OpBrTrue, emit.OpBrFalse:
			cond, ok := f.pop().(bool)
			if !ok {
				return nil, f.errorf(pc, "%s on a non-boolean value", in.Op)
			}
			if cond == (in.Op == emit.OpBrTrue) {
				pc = labels[in.Imm.(emit.LabelImm).Label]
			}

		case emit.OpSwitch:
			v := f.pop()
			i, ok := v.(int64)
			if !ok {
				return nil, f.errorf(pc, "switch on %T", v)
			}
			table := in.Imm.(emit.SwitchImm).Labels
			if i >= 0 && i < int64(len(table)) {
				pc = labels[table[i]]
			}

		case emit.OpRet:
			return f.pop(), nil

		case emit.OpRetVoid:
			return nil, nil

		case emit.OpThrow:
			msg, _ := in.Imm.(emit.ConstImm).Value.(string)
			return nil, &Exception{Func: name, Msg: msg}

		case emit.OpConst:
			f.push(in.Imm.(emit.ConstImm).Value)

		case emit.OpThis:
			f.push(f.this)

		case emit.OpArg:
			f.push(f.args[in.Imm.(emit.IndexImm).Index])

		case emit.OpLdfld, emit.OpStfld, emit.OpCas:
			field := in.Imm.(emit.IndexImm).Index
			var operands []any
			switch in.Op {
			case emit.OpLdfld:
				operands = f.popN(1)
			case emit.OpStfld:
				operands = f.popN(2)
			default:
				operands = f.popN(3)
			}
			obj, ok := operands[0].(*Instance)
			if !ok {
				return nil, f.errorf(pc, "%s on %T", in.Op, operands[0])
			}
			if err := obj.checkField(field); err != nil {
				return nil, f.errorf(pc, "%v", err)
			}
			switch in.Op {
			case emit.OpLdfld:
				f.push(obj.load(field))
			case emit.OpStfld:
				obj.store(field, operands[1])
			default:
				f.push(obj.cas(field, operands[1], operands[2]))
			}

		case emit.OpLdloc:
			f.push(f.locals[in.Imm.(emit.IndexImm).Index])

		case emit.OpStloc:
			f.locals[in.Imm.(emit.IndexImm).Index] = f.pop()

		case emit.OpNew:
			obj, err := p.newInstance(in.Imm.(emit.TypeImm).Name)
			if err != nil {
				return nil, f.errorf(pc, "%v", err)
			}
			f.push(obj)

		case emit.OpCall:
			imm := in.Imm.(emit.CallImm)
			host, ok := p.host[imm.Func]
			if !ok {
				return nil, f.errorf(pc, "call to undefined function %s", imm.Func)
			}
			v, err := host(f.popN(imm.Argc)...)
			if err != nil {
				p.log.Debug("host call failed",
					zap.String("func", name),
					zap.String("callee", imm.Func),
					zap.Error(err))
				return nil, fmt.Errorf("%s: call %s: %w", name, imm.Func, err)
			}
			if !imm.Void() {
				f.push(normalize(v))
			}

		case emit.OpUnary:
			v, err := unary(in.Imm.(emit.TokenImm).Op, f.pop())
			if err != nil {
				return nil, f.errorf(pc, "%v", err)
			}
			f.push(v)

		case emit.OpBinary:
			y := f.pop()
			x := f.pop()
			v, err := binary(in.Imm.(emit.TokenImm).Op, x, y)
			if err != nil {
				return nil, f.errorf(pc, "%v", err)
			}
			f.push(v)

		case emit.OpPop:
			f.pop()

		default:
			return nil, f.errorf(pc, "unknown opcode %s", in.Op)
		}
	}
	return nil, fmt.Errorf("%s: control fell off the end of the function", name)
}
