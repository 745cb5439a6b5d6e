// Package trixeltable implements the KSBin per-trixel index table (spec
// §4.3): a contiguous array of fixed 12-byte descriptors (id, offset,
// count), one per trixel declared by a container.
package trixeltable

import (
	"encoding/binary"
	"sort"

	"github.com/geeksville/ksbin/ksbinerr"
)

// EntrySize is the on-disk width of one descriptor: three u32 fields.
const EntrySize = 12

// Descriptor is one trixel's position within the container.
type Descriptor struct {
	ID     uint32
	Offset uint32 // absolute byte offset of the trixel payload; 0 until backfilled
	Count  uint32 // number of records in the trixel
}

// Table is the ordered sequence of descriptors that will be emitted for a
// container. Order is emission order: callers sort before writing if
// sort_trixels is set.
type Table struct {
	entries []Descriptor
}

// New builds a table from the given descriptors, preserving order.
func New(entries []Descriptor) *Table {
	t := &Table{entries: make([]Descriptor, len(entries))}
	copy(t.entries, entries)
	return t
}

// SortByID reorders the table ascending by trixel id (spec §6 sort_trixels).
func (t *Table) SortByID() {
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].ID < t.entries[j].ID })
}

// Len returns the number of descriptors.
func (t *Table) Len() int { return len(t.entries) }

// At returns the descriptor at table index i (not necessarily equal to
// trixel id).
func (t *Table) At(i int) Descriptor { return t.entries[i] }

// SetOffset backfills the true byte offset for the descriptor at table
// index i, used once C5 has placed the trixel's payload.
func (t *Table) SetOffset(i int, offset uint32) { t.entries[i].Offset = offset }

// Entries exposes the underlying slice; callers must not mutate it.
func (t *Table) Entries() []Descriptor { return t.entries }

// WriteTo serializes the whole table into buf (must be Len()*EntrySize
// bytes) using order.
func (t *Table) WriteTo(buf []byte, order binary.ByteOrder) error {
	need := len(t.entries) * EntrySize
	if len(buf) < need {
		return &ksbinerr.FormatError{Reason: "destination buffer too small for trixel index table"}
	}
	off := 0
	for _, d := range t.entries {
		order.PutUint32(buf[off:off+4], d.ID)
		order.PutUint32(buf[off+4:off+8], d.Offset)
		order.PutUint32(buf[off+8:off+12], d.Count)
		off += EntrySize
	}
	return nil
}

// WriteEntryAt serializes a single descriptor at buf[i*EntrySize:], used
// for the seek-and-backfill step in C5 without re-encoding the whole
// table.
func WriteEntryAt(buf []byte, i int, d Descriptor, order binary.ByteOrder) error {
	off := i * EntrySize
	if off+EntrySize > len(buf) {
		return &ksbinerr.FormatError{Reason: "trixel index entry out of range"}
	}
	order.PutUint32(buf[off:off+4], d.ID)
	order.PutUint32(buf[off+4:off+8], d.Offset)
	order.PutUint32(buf[off+8:off+12], d.Count)
	return nil
}

// ReadTable parses numEntries descriptors from buf using order.
func ReadTable(buf []byte, numEntries int, order binary.ByteOrder) (*Table, error) {
	need := numEntries * EntrySize
	if len(buf) < need {
		return nil, &ksbinerr.FormatError{Reason: "truncated trixel index table"}
	}
	entries := make([]Descriptor, numEntries)
	off := 0
	for i := range entries {
		entries[i] = Descriptor{
			ID:     order.Uint32(buf[off : off+4]),
			Offset: order.Uint32(buf[off+4 : off+8]),
			Count:  order.Uint32(buf[off+8 : off+12]),
		}
		off += EntrySize
	}
	return &Table{entries: entries}, nil
}
