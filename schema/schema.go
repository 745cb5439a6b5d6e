package schema

import (
	"encoding/binary"

	"github.com/geeksville/ksbin/ksbinerr"
)

// Schema is an ordered, duplicate-free sequence of fields. It is mutable
// until Freeze is called (spec §3 lifecycle: "fields are added until the
// first record-writer callable is constructed").
type Schema struct {
	fields []Field
	index  map[string]int
	size   int
	frozen bool
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{index: make(map[string]int)}
}

// Add appends a field. It fails if the schema is frozen, the name is
// invalid, or the name is already present.
func (s *Schema) Add(f Field) error {
	if s.frozen {
		return &ksbinerr.SchemaError{Field: f.Name, Reason: "schema is frozen; cannot add fields after a record writer was constructed"}
	}
	if err := f.validate(); err != nil {
		return err
	}
	if _, dup := s.index[f.Name]; dup {
		return &ksbinerr.SchemaError{Field: f.Name, Reason: "duplicate field name"}
	}
	s.index[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
	s.size += f.Width
	return nil
}

// Freeze prevents further field additions. Idempotent.
func (s *Schema) Freeze() {
	s.frozen = true
}

// Frozen reports whether Freeze has been called.
func (s *Schema) Frozen() bool {
	return s.frozen
}

// Fields returns the ordered field list. The returned slice must not be
// mutated by callers.
func (s *Schema) Fields() []Field {
	return s.fields
}

// Field returns the field with the given name and whether it exists.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Offset returns the byte offset of a named field within a packed record.
func (s *Schema) Offset(name string) (int, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	off := 0
	for j := 0; j < i; j++ {
		off += s.fields[j].Width
	}
	return off, true
}

// RecordSize is the fixed size in bytes of a packed record under this
// schema.
func (s *Schema) RecordSize() int {
	return s.size
}

// WriteTo serializes the field-entry block (spec §6: F field entries of
// 16 bytes each) using order.
func (s *Schema) WriteTo(buf []byte, order binary.ByteOrder) error {
	need := len(s.fields) * FieldEntrySize
	if len(buf) < need {
		return &ksbinerr.SchemaError{Field: "<schema>", Reason: "destination buffer too small for field table"}
	}
	off := 0
	for _, f := range s.fields {
		nameBuf := buf[off : off+MaxNameLen]
		for i := range nameBuf {
			nameBuf[i] = 0
		}
		copy(nameBuf, f.Name)
		buf[off+MaxNameLen] = byte(f.Width)
		buf[off+MaxNameLen+1] = byte(f.Type)
		order.PutUint32(buf[off+MaxNameLen+2:off+MaxNameLen+6], f.Scale)
		off += FieldEntrySize
	}
	return nil
}

// ReadSchema parses numFields field entries from buf using order.
func ReadSchema(buf []byte, numFields int, order binary.ByteOrder) (*Schema, error) {
	need := numFields * FieldEntrySize
	if len(buf) < need {
		return nil, &ksbinerr.FormatError{Reason: "truncated field table"}
	}
	s := New()
	off := 0
	for i := 0; i < numFields; i++ {
		name := decodeFixedASCII(buf[off:off+MaxNameLen], true)
		width := int(buf[off+MaxNameLen])
		typ := Type(buf[off+MaxNameLen+1])
		scale := order.Uint32(buf[off+MaxNameLen+2 : off+MaxNameLen+6])
		if err := s.Add(Field{Name: name, Width: width, Type: typ, Scale: scale}); err != nil {
			return nil, &ksbinerr.FormatError{Reason: "invalid field #" + itoa(i) + ": " + err.Error()}
		}
		off += FieldEntrySize
	}
	return s, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	pos := len(b)
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}
