// Package schema defines the KSBin field schema: an ordered, named list of
// primitive fields with a (type, width, scale) codec, matching the on-disk
// field-entry layout in spec §6 (10-byte name, u8 width, u8 type code, u32
// scale).
package schema

import (
	"encoding/binary"
	"math"

	"github.com/geeksville/ksbin/ksbinerr"
)

// Type is a stable numeric primitive-kind code (spec §4.1).
type Type uint8

const (
	TypeChar    Type = 0 // signed char / ASCII byte, width 1
	TypeInt8    Type = 1
	TypeUint8   Type = 2
	TypeInt16   Type = 3
	TypeUint16  Type = 4
	TypeInt32   Type = 5
	TypeUint32  Type = 6
	TypeCharV   Type = 7 // fixed-length ASCII array, not null-terminated
	TypeStr     Type = 8 // variable ASCII string, null-terminated + padded
	TypeInt64   Type = 9
	TypeUint64  Type = 10
	TypeFloat32 Type = 11
	TypeFloat64 Type = 12
	TypeOpaque  Type = 128 // round-tripped verbatim
)

// MaxNameLen is the on-disk width of a field name (spec §3).
const MaxNameLen = 10

// FieldEntrySize is the on-disk width of one field descriptor in the
// preamble (10-byte name, u8 width, u8 type, u32 scale; spec §6).
const FieldEntrySize = MaxNameLen + 1 + 1 + 4

// Field is one immutable-after-freeze schema entry.
type Field struct {
	Name  string
	Width int
	Type  Type
	Scale uint32 // 0 means unscaled
}

// byteWidth returns the natural width for fixed-width numeric types; it is
// only informative, the on-disk Width always governs packing.
func (t Type) byteWidth() int {
	switch t {
	case TypeChar, TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	default:
		return 0 // variable-width or caller-specified
	}
}

// validate checks that a field is well-formed: name length, width against
// type, and scale applicability.
func (f Field) validate() error {
	if len(f.Name) == 0 || len(f.Name) > MaxNameLen {
		return &ksbinerr.SchemaError{Field: f.Name, Reason: "name must be 1-10 bytes"}
	}
	switch f.Type {
	case TypeChar, TypeInt8, TypeUint8, TypeInt16, TypeUint16,
		TypeInt32, TypeUint32, TypeInt64, TypeUint64, TypeFloat32, TypeFloat64:
		if w := f.Type.byteWidth(); f.Width != w {
			return &ksbinerr.SchemaError{Field: f.Name, Reason: "width does not match fixed-width type"}
		}
	case TypeCharV, TypeStr, TypeOpaque:
		if f.Width <= 0 {
			return &ksbinerr.SchemaError{Field: f.Name, Reason: "variable-width field must declare a positive width"}
		}
	default:
		return &ksbinerr.SchemaError{Field: f.Name, Reason: "unknown type code"}
	}
	isIntegral := f.Type != TypeFloat32 && f.Type != TypeFloat64 &&
		f.Type != TypeCharV && f.Type != TypeStr && f.Type != TypeOpaque && f.Type != TypeChar
	if f.Scale != 0 && !isIntegral {
		return &ksbinerr.SchemaError{Field: f.Name, Reason: "scale is only valid on integral types"}
	}
	return nil
}

// Encode writes the value for this field into buf (must have length
// f.Width), using the given byte order and applying the scale rule.
func (f Field) Encode(buf []byte, value any, order binary.ByteOrder) error {
	if len(buf) != f.Width {
		return &ksbinerr.SchemaError{Field: f.Name, Reason: "destination buffer does not match field width"}
	}
	switch f.Type {
	case TypeChar, TypeCharV:
		s, _ := value.(string)
		return encodeFixedASCII(buf, s, f.Name)
	case TypeStr:
		s, _ := value.(string)
		return encodeFixedASCII(buf, s, f.Name)
	case TypeOpaque:
		b, _ := value.([]byte)
		if len(b) != f.Width {
			return &ksbinerr.EncodingOverflow{Field: f.Name, Value: value}
		}
		copy(buf, b)
		return nil
	case TypeFloat32:
		v, err := toFloat64(value)
		if err != nil {
			return &ksbinerr.EncodingOverflow{Field: f.Name, Value: value}
		}
		order.PutUint32(buf, math.Float32bits(float32(v)))
		return nil
	case TypeFloat64:
		v, err := toFloat64(value)
		if err != nil {
			return &ksbinerr.EncodingOverflow{Field: f.Name, Value: value}
		}
		order.PutUint64(buf, math.Float64bits(v))
		return nil
	default:
		return f.encodeInteger(buf, value, order)
	}
}

func (f Field) encodeInteger(buf []byte, value any, order binary.ByteOrder) error {
	raw, err := toFloat64(value)
	if err != nil {
		return &ksbinerr.EncodingOverflow{Field: f.Name, Value: value}
	}
	stored := raw
	if f.Scale != 0 {
		stored = math.Round(raw * float64(f.Scale))
	}
	signed := f.Type == TypeInt8 || f.Type == TypeInt16 || f.Type == TypeInt32 || f.Type == TypeInt64
	if !fitsWidth(stored, f.Width, signed) {
		return &ksbinerr.EncodingOverflow{Field: f.Name, Value: value}
	}
	putIntWidth(buf, int64(stored), f.Width, order)
	return nil
}

// Decode reads the value for this field from buf (must have length
// f.Width) without applying the scale rule ("raw decoded" access).
func (f Field) Decode(buf []byte, order binary.ByteOrder) (any, error) {
	if len(buf) != f.Width {
		return nil, &ksbinerr.SchemaError{Field: f.Name, Reason: "source buffer does not match field width"}
	}
	switch f.Type {
	case TypeChar, TypeCharV:
		return decodeFixedASCII(buf, false), nil
	case TypeStr:
		return decodeFixedASCII(buf, true), nil
	case TypeOpaque:
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	case TypeFloat32:
		return float64(math.Float32frombits(order.Uint32(buf))), nil
	case TypeFloat64:
		return math.Float64frombits(order.Uint64(buf)), nil
	default:
		signed := f.Type == TypeInt8 || f.Type == TypeInt16 || f.Type == TypeInt32 || f.Type == TypeInt64
		return getIntWidth(buf, f.Width, order, signed), nil
	}
}

// Scaled applies the field's scale rule to a raw decoded integral value,
// returning a real number ("stored / scale").
func (f Field) Scaled(raw any) float64 {
	if f.Scale == 0 {
		if v, ok := raw.(int64); ok {
			return float64(v)
		}
		if v, ok := raw.(float64); ok {
			return v
		}
		return 0
	}
	v, _ := raw.(int64)
	return float64(v) / float64(f.Scale)
}
