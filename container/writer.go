package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/geeksville/ksbin/continuity"
	"github.com/geeksville/ksbin/ksbinerr"
	"github.com/geeksville/ksbin/schema"
	"github.com/geeksville/ksbin/trixeltable"
)

// WriterOptions configures container assembly (spec §4.5, §6).
type WriterOptions struct {
	Description      string
	ByteOrder        binary.ByteOrder // defaults to little-endian
	NumTrixels       uint32
	SortTrixels      bool
	AutoDeleteChunks bool
	Expansion        Expansion
}

// Writer assembles a KSBin container file from a schema and a set of
// sealed trixel chunks (spec §4.5).
type Writer struct {
	opts   WriterOptions
	schema *schema.Schema
	chunks *ChunkTable
}

// NewWriter returns a writer for the given (frozen) schema and chunk
// registry. The schema is frozen as a side effect, matching spec §3's
// "fields are added until the first record-writer callable is
// constructed".
func NewWriter(s *schema.Schema, chunks *ChunkTable, opts WriterOptions) *Writer {
	s.Freeze()
	if opts.ByteOrder == nil {
		opts.ByteOrder = binary.LittleEndian
	}
	return &Writer{opts: opts, schema: s, chunks: chunks}
}

// Assemble writes the complete container to path: preamble, schema, index
// table, expansion fields, then the concatenated trixel payloads with
// backfilled offsets (spec §4.5). On any error, the partial output file
// is removed and the chunk files are preserved for inspection.
func (w *Writer) Assemble(path string) (err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("container: create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	if err = writeDescription(f, w.opts.Description); err != nil {
		return fmt.Errorf("container: write description: %w", err)
	}
	marker := markerFor(w.opts.ByteOrder)
	if _, err = f.Write(marker[:]); err != nil {
		return fmt.Errorf("container: write byte-order marker: %w", err)
	}
	if _, err = f.Write([]byte{formatVersion}); err != nil {
		return fmt.Errorf("container: write format version: %w", err)
	}

	fields := w.schema.Fields()
	var numFieldsBuf [2]byte
	w.opts.ByteOrder.PutUint16(numFieldsBuf[:], uint16(len(fields)))
	if _, err = f.Write(numFieldsBuf[:]); err != nil {
		return fmt.Errorf("container: write field count: %w", err)
	}
	fieldBuf := make([]byte, len(fields)*schema.FieldEntrySize)
	if err = w.schema.WriteTo(fieldBuf, w.opts.ByteOrder); err != nil {
		return err
	}
	if _, err = f.Write(fieldBuf); err != nil {
		return fmt.Errorf("container: write field table: %w", err)
	}

	var numTrixelsBuf [4]byte
	w.opts.ByteOrder.PutUint32(numTrixelsBuf[:], w.opts.NumTrixels)
	if _, err = f.Write(numTrixelsBuf[:]); err != nil {
		return fmt.Errorf("container: write trixel count: %w", err)
	}

	table, err := w.buildTable()
	if err != nil {
		return err
	}
	indexTableOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("container: tell after trixel count: %w", err)
	}
	indexBuf := make([]byte, table.Len()*trixeltable.EntrySize)
	if err = table.WriteTo(indexBuf, w.opts.ByteOrder); err != nil {
		return err
	}
	if _, err = f.Write(indexBuf); err != nil {
		return fmt.Errorf("container: write index table: %w", err)
	}

	if w.opts.Expansion != nil {
		if err = w.opts.Expansion.WriteExpansion(f, w.opts.ByteOrder); err != nil {
			return fmt.Errorf("container: write expansion fields: %w", err)
		}
	}

	for i := 0; i < table.Len(); i++ {
		d := table.At(i)
		offset, werr := f.Seek(0, io.SeekCurrent)
		if werr != nil {
			err = fmt.Errorf("container: tell before trixel %d: %w", d.ID, werr)
			return err
		}
		d.Offset = uint32(offset)
		table.SetOffset(i, d.Offset)

		if err = w.streamPayload(f, d.ID); err != nil {
			return err
		}

		if werr := w.backfillOffset(f, indexTableOffset, i, d); werr != nil {
			err = werr
			return err
		}
	}

	return continuity.New().
		Then("sync", f.Sync).
		Then("close", f.Close).
		Err()
}

// buildTable materializes one descriptor per declared trixel id,
// preferring registered chunks and filling the rest with empty entries
// (spec §4.5's CountMismatch tolerance policy).
func (w *Writer) buildTable() (*trixeltable.Table, error) {
	registered := w.chunks.IDs()
	sort.Slice(registered, func(i, j int) bool { return registered[i] < registered[j] })
	seen := make(map[uint32]bool, len(registered))

	var entries []trixeltable.Descriptor
	for _, id := range registered {
		d, _, _ := w.chunks.Get(id)
		entries = append(entries, d)
		seen[id] = true
	}
	if uint32(len(registered)) != w.opts.NumTrixels {
		slog.Warn("container: registered chunk count does not match declared trixel count",
			"registered", len(registered), "declared", w.opts.NumTrixels)
		for id := uint32(0); id < w.opts.NumTrixels; id++ {
			if !seen[id] {
				entries = append(entries, trixeltable.Descriptor{ID: id})
			}
		}
	}
	if uint32(len(entries)) != w.opts.NumTrixels {
		return nil, &ksbinerr.CountMismatch{Declared: w.opts.NumTrixels, Registered: len(entries)}
	}

	table := trixeltable.New(entries)
	if w.opts.SortTrixels {
		table.SortByID()
	}
	return table, nil
}

// streamPayload copies a trixel's chunk bytes verbatim into the container
// at the file's current position. A trixel with no registered chunk (the
// CountMismatch-tolerance case) contributes zero bytes.
func (w *Writer) streamPayload(dst io.Writer, id uint32) error {
	_, path, ok := w.chunks.Get(id)
	if !ok {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("container: open chunk %s for assembly: %w", path, err)
	}
	defer src.Close()
	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("container: stream chunk %s: %w", path, err)
	}
	slog.Debug("container: streamed trixel payload", "trixel", id, "bytes", humanize.Bytes(uint64(n)))
	return nil
}

// backfillOffset seeks back to the index table entry for table index i,
// rewrites it with the now-known offset, and seeks forward again to
// continue streaming payloads.
func (w *Writer) backfillOffset(f *os.File, indexTableOffset int64, i int, d trixeltable.Descriptor) error {
	cur, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("container: tell before backfill: %w", err)
	}
	entryOffset := indexTableOffset + int64(i*trixeltable.EntrySize)
	var entryBuf [trixeltable.EntrySize]byte
	if err := trixeltable.WriteEntryAt(entryBuf[:], 0, d, w.opts.ByteOrder); err != nil {
		return err
	}
	if _, err := f.WriteAt(entryBuf[:], entryOffset); err != nil {
		return fmt.Errorf("container: backfill index entry %d: %w", i, err)
	}
	if _, err := f.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("container: seek back after backfill: %w", err)
	}
	return nil
}
