package gguf

import (
	"fmt"
	"math"
)

// fieldType is the wire tag of a GGUF metadata value.
type fieldType uint32

const (
	ftUint8   fieldType = 0
	ftInt8    fieldType = 1
	ftUint16  fieldType = 2
	ftInt16   fieldType = 3
	ftUint32  fieldType = 4
	ftInt32   fieldType = 5
	ftFloat32 fieldType = 6
	ftBool    fieldType = 7
	ftString  fieldType = 8
	ftArray   fieldType = 9
	ftUint64  fieldType = 10
	ftInt64   fieldType = 11
	ftFloat64 fieldType = 12
)

// metaKind is the normalized shape of a stored metadata value. The
// tokenizer keys only come in a handful of shapes, so values are folded
// into them while parsing instead of carrying the wire type zoo around:
// every integer width becomes one scalar, token_type arrays become []int32
// and score arrays become []float32 no matter how the converter wrote them.
type metaKind uint8

const (
	kindNone metaKind = iota
	kindInt
	kindFloat
	kindBool
	kindString
	kindStrings
	kindInts
	kindFloats
)

type metaValue struct {
	kind metaKind
	num  uint64
	f    float64
	b    bool
	str  string
	strs []string
	i32s []int32
	f32s []float32
}

// readMeta consumes one metadata value of the given wire type. Shapes no
// tokenizer key uses (e.g. bool arrays) are consumed and dropped so the
// scan can continue past them.
func readMeta(c *cursor, t fieldType) (metaValue, error) {
	switch t {
	case ftUint8, ftInt8, ftUint16, ftInt16, ftUint32, ftInt32, ftUint64, ftInt64:
		n, err := c.scalarInt(t)
		return metaValue{kind: kindInt, num: n}, err
	case ftFloat32:
		v, err := c.u32()
		return metaValue{kind: kindFloat, f: float64(math.Float32frombits(v))}, err
	case ftFloat64:
		v, err := c.u64()
		return metaValue{kind: kindFloat, f: math.Float64frombits(v)}, err
	case ftBool:
		b, err := c.take(1)
		if err != nil {
			return metaValue{}, err
		}
		return metaValue{kind: kindBool, b: b[0] != 0}, nil
	case ftString:
		s, err := c.str()
		return metaValue{kind: kindString, str: s}, err
	case ftArray:
		return readMetaArray(c)
	default:
		return metaValue{}, fmt.Errorf("unknown metadata value type %d", t)
	}
}

func readMetaArray(c *cursor) (metaValue, error) {
	elemTag, err := c.u32()
	if err != nil {
		return metaValue{}, err
	}
	count, err := c.u64()
	if err != nil {
		return metaValue{}, err
	}
	if count > uint64(len(c.data)-c.off) {
		return metaValue{}, fmt.Errorf("array of %d elements overruns the file", count)
	}

	elem := fieldType(elemTag)
	switch elem {
	case ftString:
		vals := make([]string, count)
		for i := range vals {
			if vals[i], err = c.str(); err != nil {
				return metaValue{}, fmt.Errorf("string array element %d: %w", i, err)
			}
		}
		return metaValue{kind: kindStrings, strs: vals}, nil
	case ftUint8, ftInt8, ftUint16, ftInt16, ftUint32, ftInt32, ftUint64, ftInt64:
		vals := make([]int32, count)
		for i := range vals {
			n, err := c.scalarInt(elem)
			if err != nil {
				return metaValue{}, fmt.Errorf("integer array element %d: %w", i, err)
			}
			vals[i] = int32(n)
		}
		return metaValue{kind: kindInts, i32s: vals}, nil
	case ftFloat32:
		vals := make([]float32, count)
		for i := range vals {
			v, err := c.u32()
			if err != nil {
				return metaValue{}, fmt.Errorf("float array element %d: %w", i, err)
			}
			vals[i] = math.Float32frombits(v)
		}
		return metaValue{kind: kindFloats, f32s: vals}, nil
	case ftFloat64:
		vals := make([]float32, count)
		for i := range vals {
			v, err := c.u64()
			if err != nil {
				return metaValue{}, fmt.Errorf("float array element %d: %w", i, err)
			}
			vals[i] = float32(math.Float64frombits(v))
		}
		return metaValue{kind: kindFloats, f32s: vals}, nil
	case ftBool:
		if _, err := c.take(int(count)); err != nil {
			return metaValue{}, err
		}
		return metaValue{kind: kindNone}, nil
	default:
		return metaValue{}, fmt.Errorf("unsupported array element type %d", elemTag)
	}
}

// String returns the value of a string-typed key.
func (f *File) String(key string) (string, bool) {
	v, ok := f.kv[key]
	if !ok || v.kind != kindString {
		return "", false
	}
	return v.str, true
}

// Strings returns the value of a string-array key, such as
// "tokenizer.ggml.tokens" or "tokenizer.ggml.merges".
func (f *File) Strings(key string) ([]string, bool) {
	v, ok := f.kv[key]
	if !ok || v.kind != kindStrings {
		return nil, false
	}
	return v.strs, true
}

// Uint returns the value of an integer-typed key, such as the
// "tokenizer.ggml.*_token_id" family, whatever integer width it was
// written with.
func (f *File) Uint(key string) (uint64, bool) {
	v, ok := f.kv[key]
	if !ok || v.kind != kindInt {
		return 0, false
	}
	return v.num, true
}

// Bool returns the value of a bool-typed key, such as
// "tokenizer.ggml.add_bos_token".
func (f *File) Bool(key string) (bool, bool) {
	v, ok := f.kv[key]
	if !ok || v.kind != kindBool {
		return false, false
	}
	return v.b, true
}

// Int32s returns the value of an integer-array key, such as
// "tokenizer.ggml.token_type".
func (f *File) Int32s(key string) ([]int32, bool) {
	v, ok := f.kv[key]
	if !ok || v.kind != kindInts {
		return nil, false
	}
	return v.i32s, true
}

// Float32s returns the value of a float-array key, such as
// "tokenizer.ggml.scores".
func (f *File) Float32s(key string) ([]float32, bool) {
	v, ok := f.kv[key]
	if !ok || v.kind != kindFloats {
		return nil, false
	}
	return v.f32s, true
}
