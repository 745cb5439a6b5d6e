package schema

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaAddAndDuplicate(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Field{Name: "ra", Width: 4, Type: TypeInt32, Scale: 1000000}))
	require.NoError(t, s.Add(Field{Name: "dec", Width: 4, Type: TypeInt32, Scale: 1000000}))

	err := s.Add(Field{Name: "ra", Width: 1, Type: TypeUint8})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")

	require.Equal(t, 8, s.RecordSize())
}

func TestSchemaFreezeRejectsAdd(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Field{Name: "mag", Width: 2, Type: TypeInt16, Scale: 100}))
	s.Freeze()
	require.True(t, s.Frozen())

	err := s.Add(Field{Name: "flag", Width: 1, Type: TypeUint8})
	require.Error(t, err)
	require.Contains(t, err.Error(), "frozen")
}

func TestSchemaOffsetAndField(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Field{Name: "ra", Width: 4, Type: TypeInt32}))
	require.NoError(t, s.Add(Field{Name: "dec", Width: 4, Type: TypeInt32}))
	require.NoError(t, s.Add(Field{Name: "mag", Width: 2, Type: TypeInt16, Scale: 100}))

	off, ok := s.Offset("mag")
	require.True(t, ok)
	require.Equal(t, 8, off)

	f, ok := s.Field("dec")
	require.True(t, ok)
	require.Equal(t, TypeInt32, f.Type)

	_, ok = s.Offset("nope")
	require.False(t, ok)
}

func TestSchemaRoundTripThroughWire(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Field{Name: "name", Width: 8, Type: TypeStr}))
	require.NoError(t, s.Add(Field{Name: "ra", Width: 4, Type: TypeInt32, Scale: 1000000}))
	require.NoError(t, s.Add(Field{Name: "flags", Width: 1, Type: TypeUint8}))

	buf := make([]byte, len(s.Fields())*FieldEntrySize)
	require.NoError(t, s.WriteTo(buf, binary.LittleEndian))

	s2, err := ReadSchema(buf, len(s.Fields()), binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, s.RecordSize(), s2.RecordSize())

	for _, want := range s.Fields() {
		got, ok := s2.Field(want.Name)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestFieldEncodeDecodeScaledInteger(t *testing.T) {
	f := Field{Name: "ra", Width: 4, Type: TypeInt32, Scale: 1000000}
	buf := make([]byte, f.Width)
	require.NoError(t, f.Encode(buf, 123.456789, binary.LittleEndian))

	raw, err := f.Decode(buf, binary.LittleEndian)
	require.NoError(t, err)
	require.InDelta(t, 123.456789, f.Scaled(raw), 1e-6)
}

func TestFieldEncodeOverflow(t *testing.T) {
	f := Field{Name: "flag", Width: 1, Type: TypeUint8}
	buf := make([]byte, f.Width)
	err := f.Encode(buf, 999, binary.LittleEndian)
	require.Error(t, err)
}

func TestFieldEncodeFixedString(t *testing.T) {
	f := Field{Name: "name", Width: 8, Type: TypeStr}
	buf := make([]byte, f.Width)
	require.NoError(t, f.Encode(buf, "abc", binary.LittleEndian))

	got, err := f.Decode(buf, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, "abc", got)
}

func TestFieldEncodeOpaqueLengthMismatch(t *testing.T) {
	f := Field{Name: "blob", Width: 4, Type: TypeOpaque}
	buf := make([]byte, f.Width)
	err := f.Encode(buf, []byte{1, 2, 3}, binary.LittleEndian)
	require.Error(t, err)
}

func TestInvalidFieldRejected(t *testing.T) {
	s := New()
	err := s.Add(Field{Name: "toolongname", Width: 1, Type: TypeUint8})
	require.Error(t, err)

	err = s.Add(Field{Name: "bad", Width: 3, Type: TypeInt32})
	require.Error(t, err)

	err = s.Add(Field{Name: "scaled", Width: 8, Type: TypeStr, Scale: 10})
	require.Error(t, err)
}
