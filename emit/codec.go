package emit

import (
	"fmt"
	"go/token"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Modules are encoded with the protobuf wire format so that lowered
// iterators can be handed to an out-of-process backend. The schema is
// implicit; field numbers are listed next to each encoder.

// MarshalAppend appends the encoded module to b.
func (m *Module) MarshalAppend(b []byte) []byte {
	for _, t := range m.Types {
		b = appendMessage(b, 1, t.marshalAppend)
	}
	for _, f := range m.Funcs {
		b = appendMessage(b, 2, f.marshalAppend)
	}
	return b
}

// Unmarshal decodes a module from b, which must contain exactly one
// encoded module.
func (m *Module) Unmarshal(b []byte) error {
	*m = Module{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeMessage(typ, b, func(b []byte) error {
				t := new(Type)
				m.Types = append(m.Types, t)
				return t.unmarshal(b)
			})
		case 2:
			return consumeMessage(typ, b, func(b []byte) error {
				f := new(Func)
				m.Funcs = append(m.Funcs, f)
				return f.unmarshal(b)
			})
		}
		return -1, nil
	})
}

func (t *Type) marshalAppend(b []byte) []byte {
	b = appendString(b, 1, t.Name)
	b = appendString(b, 2, t.Elem)
	if t.Enumerable {
		b = appendVarint(b, 3, 1)
	}
	for _, f := range t.Fields {
		f := f
		b = appendMessage(b, 4, func(b []byte) []byte {
			b = appendString(b, 1, f.Name)
			b = appendString(b, 2, f.Type)
			return appendString(b, 3, f.Source)
		})
	}
	for _, fn := range t.Methods {
		b = appendMessage(b, 5, fn.marshalAppend)
	}
	return b
}

func (t *Type) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &t.Name)
		case 2:
			return consumeString(typ, b, &t.Elem)
		case 3:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			t.Enumerable = v != 0
			return n, err
		case 4:
			return consumeMessage(typ, b, func(b []byte) error {
				var f Field
				err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &f.Name)
					case 2:
						return consumeString(typ, b, &f.Type)
					case 3:
						return consumeString(typ, b, &f.Source)
					}
					return -1, nil
				})
				t.Fields = append(t.Fields, f)
				return err
			})
		case 5:
			return consumeMessage(typ, b, func(b []byte) error {
				fn := new(Func)
				t.Methods = append(t.Methods, fn)
				return fn.unmarshal(b)
			})
		}
		return -1, nil
	})
}

func (fn *Func) marshalAppend(b []byte) []byte {
	b = appendString(b, 1, fn.Name)
	for _, p := range fn.Params {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	b = appendString(b, 3, fn.Result)
	for _, l := range fn.Locals {
		l := l
		b = appendMessage(b, 4, func(b []byte) []byte {
			b = appendString(b, 1, l.Name)
			return appendString(b, 2, l.Type)
		})
	}
	for _, r := range fn.Regions {
		r := r
		b = appendMessage(b, 5, func(b []byte) []byte {
			b = appendVarint(b, 1, uint64(r.Kind))
			return appendVarint(b, 2, protowire.EncodeZigZag(int64(r.Parent)))
		})
	}
	b = appendVarint(b, 6, uint64(fn.Labels))
	for _, in := range fn.Code {
		in := in
		b = appendMessage(b, 7, in.marshalAppend)
	}
	return b
}

func (fn *Func) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &fn.Name)
		case 2:
			var p string
			n, err := consumeString(typ, b, &p)
			fn.Params = append(fn.Params, p)
			return n, err
		case 3:
			return consumeString(typ, b, &fn.Result)
		case 4:
			return consumeMessage(typ, b, func(b []byte) error {
				var l Local
				err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &l.Name)
					case 2:
						return consumeString(typ, b, &l.Type)
					}
					return -1, nil
				})
				fn.Locals = append(fn.Locals, l)
				return err
			})
		case 5:
			return consumeMessage(typ, b, func(b []byte) error {
				var kind, parent uint64
				err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeVarint(typ, b, &kind)
					case 2:
						return consumeVarint(typ, b, &parent)
					}
					return -1, nil
				})
				fn.Regions = append(fn.Regions, Region{
					Kind:   RegionKind(kind),
					Parent: int(protowire.DecodeZigZag(parent)),
				})
				return err
			})
		case 6:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			fn.Labels = int(v)
			return n, err
		case 7:
			return consumeMessage(typ, b, func(b []byte) error {
				var in Instruction
				err := in.unmarshal(b)
				fn.Code = append(fn.Code, in)
				return err
			})
		}
		return -1, nil
	})
}

// Constant kinds of field 5 of an encoded instruction.
const (
	constNil = iota
	constInt
	constFloat
	constString
	constBool
)

func (in *Instruction) marshalAppend(b []byte) []byte {
	b = appendVarint(b, 1, uint64(in.Op))
	switch imm := in.Imm.(type) {
	case LabelImm:
		b = appendVarint(b, 2, uint64(imm.Label))
	case SwitchImm:
		var packed []byte
		for _, l := range imm.Labels {
			packed = protowire.AppendVarint(packed, uint64(l))
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	case IndexImm:
		b = appendVarint(b, 4, protowire.EncodeZigZag(int64(imm.Index)))
	case ConstImm:
		switch v := imm.Value.(type) {
		case nil:
			b = appendVarint(b, 5, constNil)
		case int64:
			b = appendVarint(b, 5, constInt)
			b = appendVarint(b, 6, protowire.EncodeZigZag(v))
		case float64:
			b = appendVarint(b, 5, constFloat)
			b = protowire.AppendTag(b, 7, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(v))
		case string:
			b = appendVarint(b, 5, constString)
			b = protowire.AppendTag(b, 8, protowire.BytesType)
			b = protowire.AppendString(b, v)
		case bool:
			b = appendVarint(b, 5, constBool)
			b = appendVarint(b, 6, protowire.EncodeBool(v))
		default:
			panic(fmt.Sprintf("emit: cannot encode constant of type %T", v))
		}
	case TypeImm:
		b = appendString(b, 9, imm.Name)
	case TokenImm:
		b = appendVarint(b, 10, uint64(imm.Op))
	case CallImm:
		b = appendString(b, 11, imm.Func)
		b = appendString(b, 12, imm.Result)
		b = appendVarint(b, 13, uint64(imm.Argc))
	}
	return b
}

func (in *Instruction) unmarshal(b []byte) error {
	var (
		op, label, index, kind, bits, tok, argc uint64
		labels                                  []Label
		str, name, fn, result                   string
		hasIndex                                bool
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarint(typ, b, &op)
		case 2:
			return consumeVarint(typ, b, &label)
		case 3:
			var packed []byte
			n, err := consumeBytes(typ, b, &packed)
			for len(packed) > 0 && err == nil {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				labels = append(labels, Label(v))
				packed = packed[m:]
			}
			return n, err
		case 4:
			hasIndex = true
			return consumeVarint(typ, b, &index)
		case 5:
			return consumeVarint(typ, b, &kind)
		case 6:
			return consumeVarint(typ, b, &bits)
		case 7:
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("field 7: unexpected wire type %d", typ)
			}
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			bits = v
			return n, nil
		case 8:
			return consumeString(typ, b, &str)
		case 9:
			return consumeString(typ, b, &name)
		case 10:
			return consumeVarint(typ, b, &tok)
		case 11:
			return consumeString(typ, b, &fn)
		case 12:
			return consumeString(typ, b, &result)
		case 13:
			return consumeVarint(typ, b, &argc)
		}
		return -1, nil
	})
	if err != nil {
		return err
	}
	in.Op = Opcode(op)
	switch in.Op {
	case OpLabel, OpBr, OpBrTrue, OpBrFalse:
		in.Imm = LabelImm{Label: Label(label)}
	case OpSwitch:
		in.Imm = SwitchImm{Labels: labels}
	case OpArg, OpLdfld, OpStfld, OpLdloc, OpStloc, OpCas, OpTry, OpEndTry:
		if !hasIndex {
			return fmt.Errorf("%s: missing index", in.Op)
		}
		in.Imm = IndexImm{Index: int(protowire.DecodeZigZag(index))}
	case OpConst, OpThrow:
		var v any
		switch kind {
		case constNil:
		case constInt:
			v = protowire.DecodeZigZag(bits)
		case constFloat:
			v = math.Float64frombits(bits)
		case constString:
			v = str
		case constBool:
			v = protowire.DecodeBool(bits)
		default:
			return fmt.Errorf("%s: unknown constant kind %d", in.Op, kind)
		}
		in.Imm = ConstImm{Value: v}
	case OpNew:
		in.Imm = TypeImm{Name: name}
	case OpUnary, OpBinary:
		in.Imm = TokenImm{Op: token.Token(tok)}
	case OpCall:
		in.Imm = CallImm{Func: fn, Result: result, Argc: int(argc)}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, marshal func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, marshal(nil))
}

// consumeFields iterates over the fields of an encoded message. The field
// callback returns the number of bytes consumed, or -1 to skip an unknown
// field.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, v *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = x
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, v *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	x, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = x
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, s *string) (int, error) {
	var v []byte
	n, err := consumeBytes(typ, b, &v)
	*s = string(v)
	return n, err
}

func consumeMessage(typ protowire.Type, b []byte, unmarshal func([]byte) error) (int, error) {
	var v []byte
	n, err := consumeBytes(typ, b, &v)
	if err != nil {
		return n, err
	}
	return n, unmarshal(v)
}
