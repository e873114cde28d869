package iterc

import (
	"fmt"
	"go/token"
	"reflect"
)

// Interpreted code manipulates int64, float64, string, bool, nil, []any,
// *Instance and opaque host values.

func zero(typ string) any {
	switch typ {
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "byte", "rune":
		return int64(0)
	case "float32", "float64":
		return float64(0)
	case "string":
		return ""
	case "bool":
		return false
	default:
		return nil
	}
}

// normalize converts Go values received from host code to the
// representation used by the interpreter.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, string, bool, *Instance:
		return v
	case int:
		return int64(x)
	}
	r := reflect.ValueOf(v)
	switch r.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return r.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(r.Uint())
	case reflect.Float32, reflect.Float64:
		return r.Float()
	case reflect.String:
		return r.String()
	case reflect.Bool:
		return r.Bool()
	case reflect.Slice, reflect.Array:
		items := make([]any, r.Len())
		for i := range items {
			items[i] = normalize(r.Index(i).Interface())
		}
		return items
	}
	return v
}

func equal(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	if xf, yf, ok := floats(x, y); ok {
		return xf == yf
	}
	if !reflect.TypeOf(x).Comparable() || !reflect.TypeOf(y).Comparable() {
		return false
	}
	return x == y
}

// floats converts a mixed int64/float64 pair to float64.
func floats(x, y any) (float64, float64, bool) {
	switch x := x.(type) {
	case float64:
		switch y := y.(type) {
		case float64:
			return x, y, true
		case int64:
			return x, float64(y), true
		}
	case int64:
		if y, ok := y.(float64); ok {
			return float64(x), y, true
		}
	}
	return 0, 0, false
}

func unary(op token.Token, x any) (any, error) {
	switch v := x.(type) {
	case int64:
		switch op {
		case token.ADD:
			return v, nil
		case token.SUB:
			return -v, nil
		case token.XOR:
			return ^v, nil
		}
	case float64:
		switch op {
		case token.ADD:
			return v, nil
		case token.SUB:
			return -v, nil
		}
	case bool:
		if op == token.NOT {
			return !v, nil
		}
	}
	return nil, fmt.Errorf("invalid operation: %s%T", op, x)
}

func binary(op token.Token, x, y any) (any, error) {
	switch op {
	case token.EQL:
		return equal(x, y), nil
	case token.NEQ:
		return !equal(x, y), nil
	}

	switch x := x.(type) {
	case int64:
		if y, ok := y.(int64); ok {
			return intOp(op, x, y)
		}
	case string:
		if y, ok := y.(string); ok {
			switch op {
			case token.ADD:
				return x + y, nil
			case token.LSS:
				return x < y, nil
			case token.LEQ:
				return x <= y, nil
			case token.GTR:
				return x > y, nil
			case token.GEQ:
				return x >= y, nil
			}
		}
	case bool:
		if y, ok := y.(bool); ok {
			switch op {
			case token.LAND:
				return x && y, nil
			case token.LOR:
				return x || y, nil
			}
		}
	}
	if xf, yf, ok := floats(x, y); ok {
		switch op {
		case token.ADD:
			return xf + yf, nil
		case token.SUB:
			return xf - yf, nil
		case token.MUL:
			return xf * yf, nil
		case token.QUO:
			return xf / yf, nil
		case token.LSS:
			return xf < yf, nil
		case token.LEQ:
			return xf <= yf, nil
		case token.GTR:
			return xf > yf, nil
		case token.GEQ:
			return xf >= yf, nil
		}
	}
	return nil, fmt.Errorf("invalid operation: %T %s %T", x, op, y)
}

func intOp(op token.Token, x, y int64) (any, error) {
	switch op {
	case token.ADD:
		return x + y, nil
	case token.SUB:
		return x - y, nil
	case token.MUL:
		return x * y, nil
	case token.QUO, token.REM:
		if y == 0 {
			return nil, fmt.Errorf("integer divide by zero")
		}
		if op == token.QUO {
			return x / y, nil
		}
		return x % y, nil
	case token.AND:
		return x & y, nil
	case token.OR:
		return x | y, nil
	case token.XOR:
		return x ^ y, nil
	case token.AND_NOT:
		return x &^ y, nil
	case token.SHL:
		if y < 0 {
			return nil, fmt.Errorf("negative shift count")
		}
		return x << uint64(y), nil
	case token.SHR:
		if y < 0 {
			return nil, fmt.Errorf("negative shift count")
		}
		return x >> uint64(y), nil
	case token.LSS:
		return x < y, nil
	case token.LEQ:
		return x <= y, nil
	case token.GTR:
		return x > y, nil
	case token.GEQ:
		return x >= y, nil
	}
	return nil, fmt.Errorf("invalid operation: int64 %s int64", op)
}
