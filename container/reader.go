package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/geeksville/ksbin/ksbinerr"
	"github.com/geeksville/ksbin/record"
	"github.com/geeksville/ksbin/schema"
	"github.com/geeksville/ksbin/trixeltable"
	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"
)

// Reader gives random access to a KSBin container by trixel and, within a
// trixel, by record index (spec §4.4).
type Reader struct {
	source      io.ReaderAt
	closer      io.Closer
	description string
	order       binary.ByteOrder
	schema      *schema.Schema
	table       *trixeltable.Table
	payloadBase int64
}

// Open parses the preamble and field schema via ordinary file I/O. Fails
// with FormatError on an unknown format version, unknown byte-order
// marker, or an unknown field type code.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}
	return newReader(f, f)
}

// OpenMMAP behaves like Open but backs random access with a memory-mapped
// file, grounded on the pack's mmap-backed reader idiom.
func OpenMMAP(path string) (*Reader, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: mmap open %s: %w", path, err)
	}
	return newReader(f, f)
}

type fileDescriptor interface {
	Fd() uintptr
}

func newReader(src io.ReaderAt, closer io.Closer) (*Reader, error) {
	if fd, ok := src.(fileDescriptor); ok {
		if err := unix.Fadvise(int(fd.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
			slog.Warn("container: fadvise(RANDOM) failed", "error", err)
		}
	}

	var head [descriptionSize + 2 + 1 + 2]byte
	if _, err := src.ReadAt(head[:], 0); err != nil {
		closer.Close()
		return nil, fmt.Errorf("container: read preamble: %w", err)
	}
	description := readDescription(head[:descriptionSize])

	var marker [2]byte
	copy(marker[:], head[descriptionSize:descriptionSize+2])
	order, err := byteOrderFor(marker)
	if err != nil {
		closer.Close()
		return nil, err
	}

	version := head[descriptionSize+2]
	if version != formatVersion {
		closer.Close()
		return nil, &ksbinerr.FormatError{Reason: fmt.Sprintf("unsupported format version %d", version)}
	}

	numFields := order.Uint16(head[descriptionSize+3 : descriptionSize+5])
	off := int64(len(head))

	fieldBuf := make([]byte, int(numFields)*schema.FieldEntrySize)
	if _, err := src.ReadAt(fieldBuf, off); err != nil {
		closer.Close()
		return nil, fmt.Errorf("container: read field table: %w", err)
	}
	s, err := schema.ReadSchema(fieldBuf, int(numFields), order)
	if err != nil {
		closer.Close()
		return nil, err
	}
	s.Freeze()
	off += int64(len(fieldBuf))

	var numTrixelsBuf [4]byte
	if _, err := src.ReadAt(numTrixelsBuf[:], off); err != nil {
		closer.Close()
		return nil, fmt.Errorf("container: read trixel count: %w", err)
	}
	numTrixels := order.Uint32(numTrixelsBuf[:])
	off += 4

	indexBuf := make([]byte, int(numTrixels)*trixeltable.EntrySize)
	if _, err := src.ReadAt(indexBuf, off); err != nil {
		closer.Close()
		return nil, fmt.Errorf("container: read index table: %w", err)
	}
	table, err := trixeltable.ReadTable(indexBuf, int(numTrixels), order)
	if err != nil {
		closer.Close()
		return nil, err
	}
	off += int64(len(indexBuf))

	return &Reader{
		source:      src,
		closer:      closer,
		description: description,
		order:       order,
		schema:      s,
		table:       table,
		payloadBase: off,
	}, nil
}

// ReadExpansion reads len(buf) expansion bytes starting right after the
// index table, for callers that know the expansion format ahead of time
// (e.g. catalogs/starcatalog).
func (r *Reader) ReadExpansion(buf []byte) error {
	_, err := r.source.ReadAt(buf, r.payloadBase)
	return err
}

// Description returns the human-readable container description.
func (r *Reader) Description() string { return r.description }

// ByteOrder returns the container's byte order.
func (r *Reader) ByteOrder() binary.ByteOrder { return r.order }

// Schema returns the container's frozen field schema.
func (r *Reader) Schema() *schema.Schema { return r.schema }

// TrixelCount returns the number of descriptors in the index table.
func (r *Reader) TrixelCount() int { return r.table.Len() }

// Close releases the underlying file or mapping.
func (r *Reader) Close() error { return r.closer.Close() }

// Trixel returns a random-access view over the i-th table entry (i is a
// table index, not necessarily a trixel id).
func (r *Reader) Trixel(i int) (*Trixel, error) {
	if i < 0 || i >= r.table.Len() {
		return nil, fmt.Errorf("container: trixel index %d out of range", i)
	}
	d := r.table.At(i)
	return &Trixel{reader: r, desc: d}, nil
}

// Trixel is a random-access view over one trixel's records.
type Trixel struct {
	reader *Reader
	desc   trixeltable.Descriptor
}

// ID returns the trixel's id.
func (t *Trixel) ID() uint32 { return t.desc.ID }

// Len returns the number of records in this trixel.
func (t *Trixel) Len() int { return int(t.desc.Count) }

// Record reads and decodes the i-th record (0 ≤ i < Len()) within this
// trixel. A short read relative to the schema's record size is reported
// as CorruptRead.
func (t *Trixel) Record(i int) (*record.View, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("container: record index %d out of range", i)
	}
	recSize := t.reader.schema.RecordSize()
	absOffset := int64(t.desc.Offset) + int64(i*recSize)
	buf := make([]byte, recSize)
	n, err := t.reader.source.ReadAt(buf, absOffset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("container: read record %d of trixel %d: %w", i, t.desc.ID, err)
	}
	if n != recSize {
		return nil, &ksbinerr.CorruptRead{Offset: absOffset, Expected: recSize, Got: n}
	}
	return record.NewView(t.reader.schema, buf, t.reader.order, absOffset)
}
