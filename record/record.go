// Package record packs and unpacks fixed-size KSBin records against a
// schema (spec §4.2). A View never allocates a name→value map eagerly: it
// decodes a single field on demand, locating it through the schema's
// name → field-position index.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/geeksville/ksbin/ksbinerr"
	"github.com/geeksville/ksbin/schema"
	"github.com/valyala/bytebufferpool"
)

// Pack encodes values into a single packed record of s.RecordSize() bytes.
// Missing fields fail; extra keys in values are ignored (spec §4.2: "extra
// fields are ignored with a warning" — callers that care about the warning
// should check len(values) against len(s.Fields()) themselves).
func Pack(s *schema.Schema, values map[string]any, order binary.ByteOrder) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Reset()
	buf.B = append(buf.B, make([]byte, s.RecordSize())...)

	off := 0
	for _, f := range s.Fields() {
		v, ok := values[f.Name]
		if !ok {
			return nil, &ksbinerr.SchemaError{Field: f.Name, Reason: "missing value for field"}
		}
		if err := f.Encode(buf.B[off:off+f.Width], v, order); err != nil {
			return nil, err
		}
		off += f.Width
	}

	// Copy out of the pooled buffer before it is returned to the pool: the
	// caller's slice must outlive this call (compactindexsized/query.go's
	// Bucket.Lookup follows the same pool-scratch-then-copy-out shape).
	out := make([]byte, s.RecordSize())
	copy(out, buf.B)
	return out, nil
}

// View is a read-only, schema-indexed window over one packed record's
// bytes. It carries the record's absolute byte offset within its
// container for stable back-reference (spec §3: "Records carry their byte
// offset within the container").
type View struct {
	schema *schema.Schema
	data   []byte
	order  binary.ByteOrder
	offset int64
}

// NewView wraps data (exactly s.RecordSize() bytes) as a record view.
func NewView(s *schema.Schema, data []byte, order binary.ByteOrder, offset int64) (*View, error) {
	if len(data) != s.RecordSize() {
		return nil, &ksbinerr.CorruptRead{Offset: offset, Expected: s.RecordSize(), Got: len(data)}
	}
	return &View{schema: s, data: data, order: order, offset: offset}, nil
}

// Offset returns the record's absolute byte offset within its container.
func (v *View) Offset() int64 { return v.offset }

// fieldSlice returns the byte window for a named field.
func (v *View) fieldSlice(name string) ([]byte, schema.Field, error) {
	off, ok := v.schema.Offset(name)
	if !ok {
		return nil, schema.Field{}, fmt.Errorf("record: unknown field %q", name)
	}
	f, _ := v.schema.Field(name)
	return v.data[off : off+f.Width], f, nil
}

// Get decodes the named field and applies the scale rule, yielding the
// real value.
func (v *View) Get(name string) (any, error) {
	raw, err := v.RawDecoded(name)
	if err != nil {
		return nil, err
	}
	_, f, _ := v.fieldSlice(name)
	if f.Scale == 0 {
		return raw, nil
	}
	return f.Scaled(raw), nil
}

// RawDecoded decodes the named field's bytes via its codec but skips the
// scale step (spec §4.2: "raw_decoded(name)").
func (v *View) RawDecoded(name string) (any, error) {
	buf, f, err := v.fieldSlice(name)
	if err != nil {
		return nil, err
	}
	return f.Decode(buf, v.order)
}

// Raw returns the undecoded bytes backing the named field.
func (v *View) Raw(name string) ([]byte, error) {
	buf, _, err := v.fieldSlice(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// Bytes returns the full packed record.
func (v *View) Bytes() []byte {
	return v.data
}
