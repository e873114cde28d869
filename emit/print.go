package emit

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a textual listing of a function.
//
// The listing is meant for humans and golden tests; it is not parsed back.
func Disassemble(fn *Func) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(%s)", fn.Name, strings.Join(fn.Params, ", "))
	if fn.Result != "" {
		b.WriteString(" " + fn.Result)
	}
	b.WriteByte('\n')
	for i, l := range fn.Locals {
		fmt.Fprintf(&b, "\t.local %d %s %s\n", i, l.Name, l.Type)
	}
	depth := 1
	for _, in := range fn.Code {
		if in.Op == OpEndTry {
			depth--
		}
		if in.Op == OpLabel {
			fmt.Fprintf(&b, "%sL%d:\n", strings.Repeat("\t", depth-1), in.Imm.(LabelImm).Label)
			continue
		}
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString(in.String())
		b.WriteByte('\n')
		if in.Op == OpTry {
			depth++
		}
	}
	return b.String()
}

// DisassembleType returns the listing of a storey type and its methods.
func DisassembleType(t *Type) string {
	var b strings.Builder
	kind := "enumerator"
	if t.Enumerable {
		kind = "enumerable"
	}
	fmt.Fprintf(&b, "type %s %s[%s]\n", t.Name, kind, t.Elem)
	for i, f := range t.Fields {
		fmt.Fprintf(&b, "\t.field %d %s %s", i, f.Name, f.Type)
		if f.Source != "" {
			fmt.Fprintf(&b, " ; %s", f.Source)
		}
		b.WriteByte('\n')
	}
	for _, m := range t.Methods {
		b.WriteByte('\n')
		b.WriteString(Disassemble(m))
	}
	return b.String()
}

func (in Instruction) String() string {
	switch imm := in.Imm.(type) {
	case nil:
		return in.Op.String()
	case LabelImm:
		return fmt.Sprintf("%s L%d", in.Op, imm.Label)
	case SwitchImm:
		labels := make([]string, len(imm.Labels))
		for i, l := range imm.Labels {
			labels[i] = "L" + strconv.Itoa(int(l))
		}
		return fmt.Sprintf("%s [%s]", in.Op, strings.Join(labels, " "))
	case IndexImm:
		return fmt.Sprintf("%s %d", in.Op, imm.Index)
	case ConstImm:
		return fmt.Sprintf("%s %s", in.Op, formatConst(imm.Value))
	case TypeImm:
		return fmt.Sprintf("%s %s", in.Op, imm.Name)
	case TokenImm:
		return fmt.Sprintf("%s %s", in.Op, imm.Op)
	case CallImm:
		s := fmt.Sprintf("%s %s/%d", in.Op, imm.Func, imm.Argc)
		if !imm.Void() {
			s += " " + imm.Result
		}
		return s
	default:
		return fmt.Sprintf("%s %v", in.Op, imm)
	}
}

func formatConst(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprint(x)
	}
}
