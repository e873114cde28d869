package iterc

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// A snapshot is the protobuf encoding of the graph of storeys reachable
// from an instance:
//
//	snapshot { repeated object objects = 1; }   // objects[0] is the root
//	object   { string type = 1; repeated value fields = 2; }
//	value    { oneof { bool nil = 1; sint64 int = 2; fixed64 float = 3;
//	           string string = 4; bool bool = 5; uint64 ref = 6;
//	           slice slice = 7; list list = 8; } }
//	slice    { repeated value items = 1; sint64 index = 2; }
//	list     { repeated value items = 1; }
//
// A parked iterator can be resumed in another process from the snapshot,
// as long as the program was built from the same module.

const (
	valueNil = iota + 1
	valueInt
	valueFloat
	valueString
	valueBool
	valueRef
	valueSlice
	valueList
)

// MarshalAppend appends a snapshot of the instance to b. It must not be
// called while the iterator is running.
func (i *Instance) MarshalAppend(b []byte) ([]byte, error) {
	enc := encoder{ids: map[*Instance]int{}}
	enc.ref(i)
	for n := 0; n < len(enc.objects); n++ {
		obj, err := enc.object(enc.objects[n])
		if err != nil {
			return b, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, obj)
	}
	return b, nil
}

type encoder struct {
	ids     map[*Instance]int
	objects []*Instance
}

func (e *encoder) ref(i *Instance) int {
	id, ok := e.ids[i]
	if !ok {
		id = len(e.objects)
		e.ids[i] = id
		e.objects = append(e.objects, i)
	}
	return id
}

func (e *encoder) object(i *Instance) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, i.typ.Name)
	i.mu.Lock()
	fields := append([]any(nil), i.fields...)
	i.mu.Unlock()
	for n, v := range fields {
		value, err := e.value(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", i.typ.Name, i.typ.Fields[n].Name, err)
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, value)
	}
	return b, nil
}

func (e *encoder) value(v any) ([]byte, error) {
	var b []byte
	switch x := v.(type) {
	case nil:
		b = protowire.AppendTag(b, valueNil, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	case int64:
		b = protowire.AppendTag(b, valueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(x))
	case float64:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(x))
	case string:
		b = protowire.AppendTag(b, valueString, protowire.BytesType)
		b = protowire.AppendString(b, x)
	case bool:
		b = protowire.AppendTag(b, valueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(x))
	case *Instance:
		b = protowire.AppendTag(b, valueRef, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.ref(x)))
	case []any:
		s, err := e.items(x)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, valueList, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	case *sliceEnumerator:
		s, err := e.items(x.items)
		if err != nil {
			return nil, err
		}
		s = protowire.AppendTag(s, 2, protowire.VarintType)
		s = protowire.AppendVarint(s, protowire.EncodeZigZag(int64(x.index)))
		b = protowire.AppendTag(b, valueSlice, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	default:
		return nil, fmt.Errorf("cannot serialize value of type %T", v)
	}
	return b, nil
}

func (e *encoder) items(items []any) ([]byte, error) {
	var b []byte
	for _, item := range items {
		value, err := e.value(item)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, value)
	}
	return b, nil
}

// Unmarshal restores an instance from a snapshot produced by
// Instance.MarshalAppend.
func (p *Program) Unmarshal(b []byte) (*Instance, error) {
	var raw [][]byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			return nil, fmt.Errorf("unexpected snapshot field %d", num)
		}
		obj, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		raw = append(raw, obj)
		b = b[n:]
	}
	if len(raw) == 0 {
		return nil, errors.New("empty snapshot")
	}

	// Allocate every object first so references can be resolved in any
	// order.
	objects := make([]*Instance, len(raw))
	fields := make([][][]byte, len(raw))
	for n, obj := range raw {
		var typeName string
		for len(obj) > 0 {
			num, typ, m := protowire.ConsumeTag(obj)
			if m < 0 || typ != protowire.BytesType {
				return nil, fmt.Errorf("object %d: malformed field", n)
			}
			obj = obj[m:]
			v, m := protowire.ConsumeBytes(obj)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			obj = obj[m:]
			switch num {
			case 1:
				typeName = string(v)
			case 2:
				fields[n] = append(fields[n], v)
			}
		}
		i, err := p.newInstance(typeName)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", n, err)
		}
		if len(fields[n]) != len(i.fields) {
			return nil, fmt.Errorf("object %d: %s has %d fields, snapshot has %d", n, typeName, len(i.fields), len(fields[n]))
		}
		objects[n] = i
	}
	for n, i := range objects {
		for f, raw := range fields[n] {
			v, err := decodeValue(raw, objects)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", i.typ.Name, i.typ.Fields[f].Name, err)
			}
			i.fields[f] = v
		}
	}
	return objects[0], nil
}

func decodeValue(b []byte, objects []*Instance) (any, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	b = b[n:]
	switch {
	case typ == protowire.VarintType:
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		switch num {
		case valueNil:
			return nil, nil
		case valueInt:
			return protowire.DecodeZigZag(x), nil
		case valueBool:
			return protowire.DecodeBool(x), nil
		case valueRef:
			if x >= uint64(len(objects)) {
				return nil, fmt.Errorf("reference to unknown object %d", x)
			}
			return objects[x], nil
		}
	case typ == protowire.Fixed64Type && num == valueFloat:
		x, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		return math.Float64frombits(x), nil
	case typ == protowire.BytesType:
		x, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		switch num {
		case valueString:
			return string(x), nil
		case valueSlice:
			return decodeSlice(x, objects)
		case valueList:
			s, err := decodeSlice(x, objects)
			if err != nil {
				return nil, err
			}
			if s.items == nil {
				s.items = []any{}
			}
			return s.items, nil
		}
	}
	return nil, fmt.Errorf("unexpected value field %d", num)
}

func decodeSlice(b []byte, objects []*Instance) (*sliceEnumerator, error) {
	s := &sliceEnumerator{index: -1}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			item, err := decodeValue(raw, objects)
			if err != nil {
				return nil, err
			}
			s.items = append(s.items, item)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			s.index = int(protowire.DecodeZigZag(x))
			b = b[n:]
		default:
			return nil, fmt.Errorf("unexpected slice field %d", num)
		}
	}
	return s, nil
}
