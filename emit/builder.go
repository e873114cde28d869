package emit

import "go/token"

// Reserved values of a storey's pc field.
const (
	Running       = -3
	Uninitialized = -2
	After         = -1
	Start         = 0
)

// FirstRegionState is the pc held while the protected body of the first
// region of a method runs. Region i holds FirstRegionState - i, so Dispose
// can run the finally blocks a failure left open.
const FirstRegionState = -4

// RegionState returns the pc held while the protected body of region i
// runs.
func RegionState(i int) int { return FirstRegionState - i }

// Every storey starts with these two fields.
const (
	FieldPC      = 0
	FieldCurrent = 1
)

// Names of the methods synthesized on every storey type.
const (
	MoveNext      = "MoveNext"
	Dispose       = "Dispose"
	Current       = "Current"
	Reset         = "Reset"
	GetEnumerator = "GetEnumerator"
)

// Builder appends instructions to a Func.
type Builder struct {
	fn      *Func
	regions []int // stack of open regions
}

// NewBuilder returns a Builder for a new function.
func NewBuilder(name string, params []string, result string) *Builder {
	return &Builder{fn: &Func{Name: name, Params: params, Result: result}}
}

// Func returns the function being built.
func (b *Builder) Func() *Func { return b.fn }

// NewLabel allocates a label; it must later be placed with Mark.
func (b *Builder) NewLabel() Label {
	l := Label(b.fn.Labels)
	b.fn.Labels++
	return l
}

// NewLocal allocates a local slot and returns its index.
func (b *Builder) NewLocal(name, typ string) int {
	b.fn.Locals = append(b.fn.Locals, Local{Name: name, Type: typ})
	return len(b.fn.Locals) - 1
}

func (b *Builder) emit(op Opcode, imm Imm) {
	b.fn.Code = append(b.fn.Code, Instruction{Op: op, Imm: imm})
}

func (b *Builder) Mark(l Label)    { b.emit(OpLabel, LabelImm{Label: l}) }
func (b *Builder) Br(l Label)      { b.emit(OpBr, LabelImm{Label: l}) }
func (b *Builder) BrTrue(l Label)  { b.emit(OpBrTrue, LabelImm{Label: l}) }
func (b *Builder) BrFalse(l Label) { b.emit(OpBrFalse, LabelImm{Label: l}) }

func (b *Builder) Switch(labels []Label) {
	b.emit(OpSwitch, SwitchImm{Labels: labels})
}

func (b *Builder) Ret()     { b.emit(OpRet, nil) }
func (b *Builder) RetVoid() { b.emit(OpRetVoid, nil) }

func (b *Builder) Throw(msg string) { b.emit(OpThrow, ConstImm{Value: msg}) }

func (b *Builder) Const(v any) { b.emit(OpConst, ConstImm{Value: v}) }
func (b *Builder) Int(v int)   { b.Const(int64(v)) }
func (b *Builder) Bool(v bool) { b.Const(v) }

func (b *Builder) This()                { b.emit(OpThis, nil) }
func (b *Builder) Arg(i int)            { b.emit(OpArg, IndexImm{Index: i}) }
func (b *Builder) Ldfld(field int)      { b.emit(OpLdfld, IndexImm{Index: field}) }
func (b *Builder) Stfld(field int)      { b.emit(OpStfld, IndexImm{Index: field}) }
func (b *Builder) Ldloc(slot int)       { b.emit(OpLdloc, IndexImm{Index: slot}) }
func (b *Builder) Stloc(slot int)       { b.emit(OpStloc, IndexImm{Index: slot}) }
func (b *Builder) New(typ string)       { b.emit(OpNew, TypeImm{Name: typ}) }
func (b *Builder) Cas(field int)        { b.emit(OpCas, IndexImm{Index: field}) }
func (b *Builder) Unary(op token.Token) { b.emit(OpUnary, TokenImm{Op: op}) }
func (b *Builder) Binary(op token.Token) {
	b.emit(OpBinary, TokenImm{Op: op})
}
func (b *Builder) Pop() { b.emit(OpPop, nil) }

func (b *Builder) Call(fn string, argc int, result string) {
	b.emit(OpCall, CallImm{Func: fn, Argc: argc, Result: result})
}

// LoadThisField pushes this.field.
func (b *Builder) LoadThisField(field int) {
	b.This()
	b.Ldfld(field)
}

// StoreThisField stores the value produced by value into this.field.
func (b *Builder) StoreThisField(field int, value func()) {
	b.This()
	value()
	b.Stfld(field)
}

// SetPC stores a constant into this.pc.
func (b *Builder) SetPC(pc int) {
	b.StoreThisField(FieldPC, func() { b.Int(pc) })
}

// BeginTry opens a protected region nested in the innermost open region
// and returns its index.
func (b *Builder) BeginTry(kind RegionKind) int {
	parent := -1
	if n := len(b.regions); n > 0 {
		parent = b.regions[n-1]
	}
	b.fn.Regions = append(b.fn.Regions, Region{Kind: kind, Parent: parent})
	r := len(b.fn.Regions) - 1
	b.regions = append(b.regions, r)
	b.emit(OpTry, IndexImm{Index: r})
	return r
}

// EndTry closes the innermost open region.
func (b *Builder) EndTry() {
	n := len(b.regions)
	if n == 0 {
		panic("emit: EndTry without matching BeginTry")
	}
	r := b.regions[n-1]
	b.regions = b.regions[:n-1]
	b.emit(OpEndTry, IndexImm{Index: r})
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int { return len(b.fn.Code) }
