package rebel

import (
	"math"
	"strconv"
	"strings"
)

// Kind tags the interpretation of a Value's data word.
type Kind Word

const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBlock
	KindPath
	KindWord
	KindSetWord
	KindGetWord
	KindNativeFunc
	KindFunc

	kindMax
)

var kindNames = [...]string{
	"none",
	"int",
	"float",
	"bool",
	"string",
	"block",
	"path",
	"word",
	"set-word",
	"get-word",
	"native",
	"func",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Value is the 8-byte tagged cell everything in the runtime trades in. For
// scalar kinds the data word is the payload itself; for series kinds it is
// the address of a block.
type Value struct {
	Kind Kind
	Data Word
}

const valueSize = 8

// None returns the no-value Value.
func None() Value { return Value{KindNone, 0} }

// Int wraps a signed 32-bit integer.
func Int(v int32) Value { return Value{KindInt, Word(v)} }

// Float wraps a 32-bit float as its IEEE-754 bit pattern.
func Float(v float32) Value { return Value{KindFloat, math.Float32bits(v)} }

// Bool wraps a boolean as 0 or 1.
func Bool(v bool) Value {
	if v {
		return Value{KindBool, 1}
	}
	return Value{KindBool, 0}
}

// String wraps the address of a byte series.
func String(s Series[byte]) Value { return Value{KindString, s.Addr()} }

// BlockValue wraps the address of a value series parsed from brackets.
func BlockValue(s Series[Value]) Value { return Value{KindBlock, s.Addr()} }

// PathValue wraps the address of a value series parsed from a/b notation.
func PathValue(s Series[Value]) Value { return Value{KindPath, s.Addr()} }

// AnyWord builds a word value of the given kind around an interned symbol.
func AnyWord(kind WordKind, sym Series[byte]) Value {
	switch kind {
	case WordSet:
		return Value{KindSetWord, sym.Addr()}
	case WordGet:
		return Value{KindGetWord, sym.Addr()}
	default:
		return Value{KindWord, sym.Addr()}
	}
}

// IsNone reports the no-value kind.
func (v Value) IsNone() bool { return v.Kind == KindNone }

// IsTruthy maps a value onto branch conditions: NONE and false are falsy,
// an INT is truthy when nonzero, everything else is truthy.
func (v Value) IsTruthy() bool {
	switch v.Kind {
	case KindNone:
		return false
	case KindBool, KindInt:
		return v.Data != 0
	default:
		return true
	}
}

// AsInt returns the signed integer payload.
func (v Value) AsInt() (int32, error) {
	if v.Kind != KindInt {
		return 0, ErrTypeMismatch
	}
	return int32(v.Data), nil
}

// AsFloat returns the float payload.
func (v Value) AsFloat() (float32, error) {
	if v.Kind != KindFloat {
		return 0, ErrTypeMismatch
	}
	return math.Float32frombits(v.Data), nil
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, ErrTypeMismatch
	}
	return v.Data != 0, nil
}

// AsString returns the byte series handle of a string value.
func (v Value) AsString() (Series[byte], error) {
	if v.Kind != KindString {
		return Series[byte]{}, ErrTypeMismatch
	}
	return Series[byte]{v.Data}, nil
}

// AsBlock returns the value series handle of a block value.
func (v Value) AsBlock() (Series[Value], error) {
	if v.Kind != KindBlock {
		return Series[Value]{}, ErrTypeMismatch
	}
	return Series[Value]{v.Data}, nil
}

// AsPath returns the value series handle of a path value.
func (v Value) AsPath() (Series[Value], error) {
	if v.Kind != KindPath {
		return Series[Value]{}, ErrTypeMismatch
	}
	return Series[Value]{v.Data}, nil
}

// Symbol returns the interned symbol handle of any word kind.
func (v Value) Symbol() (Series[byte], error) {
	switch v.Kind {
	case KindWord, KindSetWord, KindGetWord:
		return Series[byte]{v.Data}, nil
	}
	return Series[byte]{}, ErrTypeMismatch
}

// Form renders a value as user-facing text: strings without quotes, blocks
// space-joined without brackets, paths slash-joined.
func (m *Memory) Form(v Value) (string, error) {
	var sb strings.Builder
	if err := m.formInto(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (m *Memory) formInto(sb *strings.Builder, v Value) error {
	switch v.Kind {
	case KindNone:
		sb.WriteString("none")
	case KindInt:
		sb.WriteString(strconv.FormatInt(int64(int32(v.Data)), 10))
	case KindFloat:
		f, _ := v.AsFloat()
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	case KindBool:
		if v.Data != 0 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindString:
		s, err := v.AsString()
		if err != nil {
			return err
		}
		text, err := m.StringAt(s)
		if err != nil {
			return err
		}
		sb.WriteString(text)
	case KindWord, KindSetWord, KindGetWord:
		sym, err := v.Symbol()
		if err != nil {
			return err
		}
		name, err := m.StringAt(sym)
		if err != nil {
			return err
		}
		if v.Kind == KindGetWord {
			sb.WriteByte(':')
		}
		sb.WriteString(name)
		if v.Kind == KindSetWord {
			sb.WriteByte(':')
		}
	case KindBlock, KindPath:
		s := Series[Value]{v.Data}
		length, err := Len(m, s)
		if err != nil {
			return err
		}
		sep := byte(' ')
		if v.Kind == KindPath {
			sep = '/'
		}
		for i := Word(0); i < length; i++ {
			if i > 0 {
				sb.WriteByte(sep)
			}
			elem, err := Get(m, s, i)
			if err != nil {
				return err
			}
			if err := m.formInto(sb, elem); err != nil {
				return err
			}
		}
	case KindNativeFunc:
		nf, err := getAt[NativeFunc](m, v.Data)
		if err != nil {
			return err
		}
		desc, err := m.StringAt(Series[byte]{nf.Description})
		if err != nil {
			return err
		}
		sb.WriteString("native (")
		sb.WriteString(desc)
		sb.WriteByte(')')
	case KindFunc:
		fn, err := getAt[Func](m, v.Data)
		if err != nil {
			return err
		}
		sb.WriteString("func ")
		if err := m.formInto(sb, Value{KindBlock, fn.Params}); err != nil {
			return err
		}
	default:
		return ErrInvalidTag
	}
	return nil
}
