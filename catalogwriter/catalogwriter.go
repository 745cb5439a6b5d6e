// Package catalogwriter implements the buffered trixel-sharded catalog
// writer (C7, spec §4.7): it routes sky-coordinate points to trixels via
// an htm.DuplicationPolicy, buffers records in memory, spills the largest
// buckets when over budget, and orchestrates the underlying container
// writer and chunk writers.
package catalogwriter

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/geeksville/ksbin/container"
	"github.com/geeksville/ksbin/htm"
	"github.com/geeksville/ksbin/record"
	"github.com/geeksville/ksbin/schema"
	"github.com/geeksville/ksbin/trixeltable"
)

var chunkNameRE = regexp.MustCompile(`^trixel(\d{12})\.dat$`)

// Options configures a buffered catalog writer (spec §4.7, §6).
type Options struct {
	ScratchDir       string
	HTMLevel         int
	NumTrixels       uint32
	BufferLimit      int // 0 means the spec default of 25*NumTrixels
	Append           bool
	AutoDeleteChunks bool
	SortTrixels      bool
	ByteOrder        binary.ByteOrder
	Policy           htm.DuplicationPolicy
	Description      string
	Expansion        container.Expansion
}

// Writer buffers points keyed by trixel id and spills them to per-trixel
// chunk files on demand, finally assembling the container on Close.
type Writer struct {
	opts    Options
	schema  *schema.Schema
	order   binary.ByteOrder
	chunks  *container.ChunkTable
	buffers map[uint32][]map[string]any
	memory  int
}

// Open constructs a writer over s (which is frozen as a side effect) and
// reclaims any pre-existing chunk files in opts.ScratchDir (spec §4.7
// "Pre-existing chunks"): matching files are registered with counts
// inferred from file size, enabling resumable ingest. When any such file
// is found, AutoDeleteChunks is forced off regardless of the caller's
// setting.
func Open(s *schema.Schema, opts Options) (*Writer, error) {
	if opts.BufferLimit <= 0 {
		opts.BufferLimit = 25 * int(opts.NumTrixels)
	}
	if opts.ByteOrder == nil {
		opts.ByteOrder = binary.LittleEndian
	}
	s.Freeze()

	w := &Writer{
		opts:    opts,
		schema:  s,
		order:   opts.ByteOrder,
		chunks:  container.NewChunkTable(),
		buffers: make(map[uint32][]map[string]any),
	}

	entries, err := os.ReadDir(opts.ScratchDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("catalogwriter: scan scratch dir: %w", err)
	}
	found := false
	for _, e := range entries {
		m := chunkNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		found = true
		id64, _ := strconv.ParseUint(m[1], 10, 32)
		path := filepath.Join(opts.ScratchDir, e.Name())
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("catalogwriter: stat pre-existing chunk %s: %w", path, err)
		}
		recSize := s.RecordSize()
		if info.Size()%int64(recSize) != 0 {
			return nil, fmt.Errorf("catalogwriter: record size %d does not divide chunk size %d for %s", recSize, info.Size(), path)
		}
		count := uint32(info.Size() / int64(recSize))
		w.chunks.Publish(trixeltable.Descriptor{ID: uint32(id64), Count: count}, path)
		slog.Debug("catalogwriter: registered pre-existing trixel chunk", "trixel", id64, "count", count, "path", path)
	}
	if found {
		w.opts.AutoDeleteChunks = false
	}
	return w, nil
}

// AddResult reports how add_point handled one point.
type AddResult struct {
	// Duplicates is the number of trixels the point was written into.
	Duplicates int
	// HomeTrixel is the trixel of the point's advertised (undisplaced)
	// position, useful for PM-duplicate diagnostics (supplemented from
	// original_source per SPEC_FULL.md §9).
	HomeTrixel uint32
}

// AddPoint rejects values naming fields the schema does not have, computes
// the target trixel set via the configured duplication policy, appends a
// copy of values into each target trixel's in-memory buffer (records are
// packed when a buffer is spilled), and spills if the buffer limit is
// exceeded (spec §4.7).
func (w *Writer) AddPoint(pos htm.Point, pm htm.ProperMotion, values map[string]any) (AddResult, error) {
	for name := range values {
		if _, ok := w.schema.Field(name); !ok {
			return AddResult{}, fmt.Errorf("catalogwriter: unknown field %q", name)
		}
	}

	home := w.opts.Policy.Engine.TrixelID(pos, w.opts.HTMLevel)
	trixels := w.opts.Policy.Trixels(pos, pm)

	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	for _, t := range trixels {
		w.buffers[t] = append(w.buffers[t], cp)
		w.memory++
	}

	if w.memory > w.opts.BufferLimit {
		if err := w.spill(w.opts.BufferLimit / 4); err != nil {
			return AddResult{}, err
		}
	}

	return AddResult{Duplicates: len(trixels), HomeTrixel: home}, nil
}

// spill writes out the largest in-memory trixel buckets, largest first,
// until the buffered total is at or below limit (spec §4.7 "Spill
// policy"). limit=0 performs a full spill.
func (w *Writer) spill(limit int) error {
	slog.Info("catalogwriter: spilling buffered records",
		"buffered", humanize.Comma(int64(w.memory)), "target", humanize.Comma(int64(limit)))

	ids := make([]uint32, 0, len(w.buffers))
	for id := range w.buffers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return len(w.buffers[ids[i]]) < len(w.buffers[ids[j]]) })

	for w.memory > limit && len(ids) > 0 {
		id := ids[len(ids)-1]
		ids = ids[:len(ids)-1]
		rows := w.buffers[id]
		delete(w.buffers, id)

		if err := w.writeTrixel(id, rows); err != nil {
			return err
		}
		w.memory -= len(rows)
	}
	return nil
}

func (w *Writer) writeTrixel(id uint32, rows []map[string]any) error {
	cw, err := container.OpenChunkWriter(w.chunks, w.opts.ScratchDir, id, w.schema.RecordSize(), true, w.opts.AutoDeleteChunks)
	if err != nil {
		return err
	}
	for _, row := range rows {
		packed, err := record.Pack(w.schema, row, w.order)
		if err != nil {
			cw.Close()
			return err
		}
		if err := cw.Append(packed); err != nil {
			cw.Close()
			return err
		}
	}
	return cw.Close()
}

// Close performs a final full spill of every buffered record, then
// assembles the container at path (spec §4.7 "Close semantics").
func (w *Writer) Close(path string) error {
	if err := w.spill(0); err != nil {
		return err
	}
	writer := container.NewWriter(w.schema, w.chunks, container.WriterOptions{
		Description:      w.opts.Description,
		ByteOrder:        w.order,
		NumTrixels:       w.opts.NumTrixels,
		SortTrixels:      w.opts.SortTrixels,
		AutoDeleteChunks: w.opts.AutoDeleteChunks,
		Expansion:        w.opts.Expansion,
	})
	if err := writer.Assemble(path); err != nil {
		return err
	}
	if w.opts.AutoDeleteChunks {
		for _, id := range w.chunks.IDs() {
			_, p, ok := w.chunks.Get(id)
			if ok {
				os.Remove(p)
			}
		}
	}
	return nil
}
