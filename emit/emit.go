// Package emit defines the abstract code-emission contract between the
// iterator lowering pass and a code generation backend.
//
// Lowered iterators are described by a storey Type (a field list plus the
// synthesized methods) and by Funcs, each an ordered list of stack-machine
// Instructions. The pass never talks to a concrete instruction encoder;
// backends translate Instructions into their own representation.
package emit

import (
	"fmt"
	"go/token"
)

// Opcode identifies an Instruction.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Control flow.
	OpLabel   // define Imm.(LabelImm)
	OpBr      // branch to Imm.(LabelImm)
	OpBrTrue  // pop a bool, branch if true
	OpBrFalse // pop a bool, branch if false
	OpSwitch  // pop an int, branch to Imm.(SwitchImm).Labels[i], fall through when out of range
	OpRet     // pop a value and return it
	OpRetVoid // return without a value
	OpThrow   // abort the function with Imm.(ConstImm).Value as message

	// Values.
	OpConst  // push Imm.(ConstImm).Value
	OpThis   // push the receiver
	OpArg    // push argument Imm.(IndexImm).Index
	OpLdfld  // pop an object, push field Imm.(IndexImm).Index
	OpStfld  // pop a value, pop an object, store field Imm.(IndexImm).Index
	OpLdloc  // push local Imm.(IndexImm).Index
	OpStloc  // pop a value into local Imm.(IndexImm).Index
	OpNew    // push a new instance of type Imm.(TypeImm).Name
	OpCas    // pop new, pop old, pop object; swap field Imm.(IndexImm).Index if equal to old; push bool
	OpCall   // call Imm.(CallImm)
	OpUnary  // pop x, push Imm.(TokenImm).Op x
	OpBinary // pop y, pop x, push x Imm.(TokenImm).Op y
	OpPop    // discard the top of the stack

	// Exception regions.
	OpTry    // enter protected region Imm.(IndexImm).Index
	OpEndTry // leave protected region Imm.(IndexImm).Index

	opcodeCount
)

var opcodeNames = [...]string{
	OpNop:     "nop",
	OpLabel:   "label",
	OpBr:      "br",
	OpBrTrue:  "brtrue",
	OpBrFalse: "brfalse",
	OpSwitch:  "switch",
	OpRet:     "ret",
	OpRetVoid: "retvoid",
	OpThrow:   "throw",
	OpConst:   "const",
	OpThis:    "this",
	OpArg:     "arg",
	OpLdfld:   "ldfld",
	OpStfld:   "stfld",
	OpLdloc:   "ldloc",
	OpStloc:   "stloc",
	OpNew:     "new",
	OpCas:     "cas",
	OpCall:    "call",
	OpUnary:   "unary",
	OpBinary:  "binary",
	OpPop:     "pop",
	OpTry:     "try",
	OpEndTry:  "endtry",
}

func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Label identifies a position in a Func. Labels are local to the Func that
// allocated them.
type Label int

// Instruction is a single emission operation.
type Instruction struct {
	Imm Imm
	Op  Opcode
}

// Imm is the immediate operand of an Instruction.
type Imm interface{ imm() }

type LabelImm struct{ Label Label }

type SwitchImm struct{ Labels []Label }

type IndexImm struct{ Index int }

// ConstImm holds an int64, float64, string, bool or nil value.
type ConstImm struct{ Value any }

type TypeImm struct{ Name string }

type TokenImm struct{ Op token.Token }

type CallImm struct {
	Func   string
	Result string // empty when the callee returns nothing
	Argc   int
}

func (LabelImm) imm()  {}
func (SwitchImm) imm() {}
func (IndexImm) imm()  {}
func (ConstImm) imm()  {}
func (TypeImm) imm()   {}
func (TokenImm) imm()  {}
func (CallImm) imm()   {}

// Void reports whether the call pushes no result.
func (c CallImm) Void() bool { return c.Result == "" }

// Local is a typed local slot of a Func.
type Local struct {
	Name string
	Type string
}

// RegionKind names the construct an exception region was lowered from.
type RegionKind uint8

const (
	RegionTryFinally RegionKind = iota
	RegionUsing
	RegionLock
	RegionForeach
)

func (k RegionKind) String() string {
	switch k {
	case RegionTryFinally:
		return "try"
	case RegionUsing:
		return "using"
	case RegionLock:
		return "lock"
	case RegionForeach:
		return "foreach"
	default:
		return fmt.Sprintf("region(%d)", uint8(k))
	}
}

// Region describes a protected region of a Func. Parent is -1 for regions
// that are not nested in another region of the same Func.
type Region struct {
	Kind   RegionKind
	Parent int
}

// Func is a synthesized function: an ordered instruction sequence with its
// signature and local slots.
type Func struct {
	Name    string
	Params  []string
	Result  string // empty for functions returning nothing
	Locals  []Local
	Regions []Region
	Code    []Instruction
	Labels  int // number of labels allocated
}

// Field is a field of a storey type. Source is the name of the variable
// the field was hoisted from, if any.
type Field struct {
	Name   string
	Type   string
	Source string
}

// Type is a synthesized storey type together with its methods.
type Type struct {
	Name    string
	Elem    string
	Fields  []Field
	Methods []*Func

	Enumerable bool
}

// Method returns the method with the given name, or nil.
func (t *Type) Method(name string) *Func {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FieldIndex returns the index of the named field, or -1.
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Module groups lowered storey types with the stub functions that replace
// the bodies of the original methods.
type Module struct {
	Types []*Type
	Funcs []*Func
}

// Type returns the named type, or nil.
func (m *Module) Type(name string) *Type {
	for _, t := range m.Types {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Func returns the named stub function, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}
