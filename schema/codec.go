package schema

import (
	"encoding/binary"
	"math"

	"github.com/geeksville/ksbin/ksbinerr"
)

// toFloat64 normalizes the caller-supplied value (int, int64, float64, ...)
// to a float64 for uniform scale arithmetic.
func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, errUnsupportedValue
	}
}

var errUnsupportedValue = &ksbinerr.EncodingOverflow{Field: "<value>", Value: "unsupported type"}

// fitsWidth reports whether stored fits into width bytes, signed or
// unsigned, after rounding.
func fitsWidth(stored float64, width int, signed bool) bool {
	bits := width * 8
	if signed {
		var max, min float64
		if bits >= 64 {
			max, min = math.MaxInt64, math.MinInt64
		} else {
			max = float64(int64(1)<<(bits-1) - 1)
			min = -float64(int64(1) << (bits - 1))
		}
		return stored >= min && stored <= max
	}
	var max float64
	if bits >= 64 {
		max = math.MaxUint64
	} else {
		max = float64(uint64(1)<<bits - 1)
	}
	return stored >= 0 && stored <= max
}

// putIntWidth writes a (possibly negative, two's-complement) integer into
// the low `width` bytes of buf using order.
func putIntWidth(buf []byte, v int64, width int, order binary.ByteOrder) {
	var full [8]byte
	order.PutUint64(full[:], uint64(v))
	if order == binary.LittleEndian {
		copy(buf, full[:width])
	} else {
		copy(buf, full[8-width:])
	}
}

// getIntWidth reads a `width`-byte integer from buf, sign-extending if
// signed is set.
func getIntWidth(buf []byte, width int, order binary.ByteOrder, signed bool) int64 {
	var full [8]byte
	if order == binary.LittleEndian {
		copy(full[:width], buf)
	} else {
		copy(full[8-width:], buf)
	}
	u := order.Uint64(full[:])
	if !signed || width == 8 {
		return int64(u)
	}
	// Sign-extend from the width'th byte.
	shift := uint(64 - width*8)
	return int64(u<<shift) >> shift
}

func encodeFixedASCII(buf []byte, s string, field string) error {
	if len(s) > len(buf) {
		return &ksbinerr.EncodingOverflow{Field: field, Value: s}
	}
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func decodeFixedASCII(buf []byte, nullTerminated bool) string {
	if !nullTerminated {
		return string(buf)
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
