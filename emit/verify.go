package emit

import "fmt"

// Verify checks the structural well-formedness of a function:
//
//   - every referenced label is defined exactly once,
//   - try/endtry markers are balanced and match the region table,
//   - no branch enters a protected region other than by falling into its
//     try marker (the rule imposed by backends with structured exception
//     tables),
//   - immediates, argument and local indexes are valid,
//   - the evaluation stack has a consistent depth at every instruction and
//     control never falls off the end of the function.
func Verify(fn *Func) error {
	v := verifier{fn: fn}
	return v.verify()
}

type verifier struct {
	fn     *Func
	labels []int // label -> instruction index, -1 when undefined
	region []int // instruction index -> innermost region, -1 for none
}

func (v *verifier) errorf(pc int, format string, args ...any) error {
	return fmt.Errorf("%s: instruction %d: %s", v.fn.Name, pc, fmt.Sprintf(format, args...))
}

func (v *verifier) verify() error {
	fn := v.fn
	v.labels = make([]int, fn.Labels)
	for i := range v.labels {
		v.labels[i] = -1
	}
	v.region = make([]int, len(fn.Code))

	var open []int
	seen := make([]bool, len(fn.Regions))
	for pc, in := range fn.Code {
		if err := v.checkImm(pc, in); err != nil {
			return err
		}
		switch in.Op {
		case OpLabel:
			l := in.Imm.(LabelImm).Label
			if v.labels[l] >= 0 {
				return v.errorf(pc, "label L%d defined twice", l)
			}
			v.labels[l] = pc
		case OpTry:
			r := in.Imm.(IndexImm).Index
			if seen[r] {
				return v.errorf(pc, "region %d entered at two places", r)
			}
			seen[r] = true
			parent := -1
			if len(open) > 0 {
				parent = open[len(open)-1]
			}
			if fn.Regions[r].Parent != parent {
				return v.errorf(pc, "region %d nested in %d, declared parent is %d", r, parent, fn.Regions[r].Parent)
			}
			open = append(open, r)
		case OpEndTry:
			r := in.Imm.(IndexImm).Index
			if len(open) == 0 || open[len(open)-1] != r {
				return v.errorf(pc, "endtry %d does not close the innermost region", r)
			}
			open = open[:len(open)-1]
		}
		v.region[pc] = -1
		if len(open) > 0 {
			v.region[pc] = open[len(open)-1]
		}
	}
	if len(open) != 0 {
		return v.errorf(len(fn.Code), "region %d is never closed", open[len(open)-1])
	}
	for r, ok := range seen {
		if !ok {
			return v.errorf(0, "region %d is never entered", r)
		}
	}

	for pc, in := range fn.Code {
		for _, l := range branchTargets(in) {
			target := v.labels[l]
			if target < 0 {
				return v.errorf(pc, "branch to undefined label L%d", l)
			}
			if !v.encloses(v.region[target], v.region[pc]) {
				return v.errorf(pc, "branch to L%d enters region %d", l, v.region[target])
			}
		}
	}
	return v.checkStack()
}

// encloses reports whether region outer is r or one of its ancestors.
func (v *verifier) encloses(outer, r int) bool {
	for ; r >= 0; r = v.fn.Regions[r].Parent {
		if r == outer {
			return true
		}
	}
	return outer < 0
}

func (v *verifier) checkImm(pc int, in Instruction) error {
	fn := v.fn
	ok := true
	switch in.Op {
	case OpLabel, OpBr, OpBrTrue, OpBrFalse:
		imm, isLabel := in.Imm.(LabelImm)
		ok = isLabel && imm.Label >= 0 && int(imm.Label) < fn.Labels
	case OpSwitch:
		imm, isSwitch := in.Imm.(SwitchImm)
		ok = isSwitch
		for _, l := range imm.Labels {
			ok = ok && l >= 0 && int(l) < fn.Labels
		}
	case OpConst, OpThrow:
		_, ok = in.Imm.(ConstImm)
	case OpArg:
		imm, isIndex := in.Imm.(IndexImm)
		ok = isIndex && imm.Index >= 0 && imm.Index < len(fn.Params)
	case OpLdloc, OpStloc:
		imm, isIndex := in.Imm.(IndexImm)
		ok = isIndex && imm.Index >= 0 && imm.Index < len(fn.Locals)
	case OpTry, OpEndTry:
		imm, isIndex := in.Imm.(IndexImm)
		ok = isIndex && imm.Index >= 0 && imm.Index < len(fn.Regions)
	case OpLdfld, OpStfld, OpCas:
		imm, isIndex := in.Imm.(IndexImm)
		ok = isIndex && imm.Index >= 0
	case OpNew:
		_, ok = in.Imm.(TypeImm)
	case OpCall:
		imm, isCall := in.Imm.(CallImm)
		ok = isCall && imm.Argc >= 0
	case OpUnary, OpBinary:
		_, ok = in.Imm.(TokenImm)
	case OpNop, OpRet, OpRetVoid, OpThis, OpPop:
		ok = in.Imm == nil
	default:
		ok = false
	}
	if !ok {
		return v.errorf(pc, "malformed %s", in)
	}
	return nil
}

func branchTargets(in Instruction) []Label {
	switch in.Op {
	case OpBr, OpBrTrue, OpBrFalse:
		return []Label{in.Imm.(LabelImm).Label}
	case OpSwitch:
		return in.Imm.(SwitchImm).Labels
	}
	return nil
}

// stackEffect returns the number of values an instruction pops and pushes.
func stackEffect(in Instruction) (pop, push int) {
	switch in.Op {
	case OpBrTrue, OpBrFalse, OpSwitch, OpRet, OpStloc, OpPop:
		return 1, 0
	case OpConst, OpThis, OpArg, OpLdloc, OpNew:
		return 0, 1
	case OpLdfld, OpUnary:
		return 1, 1
	case OpStfld:
		return 2, 0
	case OpBinary:
		return 2, 1
	case OpCas:
		return 3, 1
	case OpCall:
		imm := in.Imm.(CallImm)
		if imm.Void() {
			return imm.Argc, 0
		}
		return imm.Argc, 1
	}
	return 0, 0
}

func (v *verifier) checkStack() error {
	code := v.fn.Code
	depth := make([]int, len(code)+1)
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	flow := func(from, to, d int) error {
		if to == len(code) {
			return v.errorf(from, "control falls off the end of the function")
		}
		if depth[to] < 0 {
			depth[to] = d
			work = append(work, to)
		} else if depth[to] != d {
			return v.errorf(to, "inconsistent stack depth %d and %d", depth[to], d)
		}
		return nil
	}
	if len(code) == 0 {
		return v.errorf(0, "empty function")
	}
	depth[0] = 0
	work = append(work, 0)
	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		in := code[pc]
		pop, push := stackEffect(in)
		if depth[pc] < pop {
			return v.errorf(pc, "%s pops %d values from a stack of depth %d", in, pop, depth[pc])
		}
		d := depth[pc] - pop + push
		for _, l := range branchTargets(in) {
			if err := flow(pc, v.labels[l], d); err != nil {
				return err
			}
		}
		switch in.Op {
		case OpRet, OpRetVoid, OpThrow, OpBr:
			if in.Op == OpRet && d != 0 {
				return v.errorf(pc, "ret leaves %d values on the stack", d)
			}
		default:
			if err := flow(pc, pc+1, d); err != nil {
				return err
			}
		}
	}
	return nil
}
