package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/geeksville/ksbin/continuity"
	"github.com/geeksville/ksbin/ksbinerr"
	"github.com/geeksville/ksbin/trixeltable"
	"golang.org/x/sys/unix"
)

// ChunkPath returns the deterministic scratch-file path for a trixel id
// (spec §6: "trixelNNNNNNNNNNNN.dat").
func ChunkPath(dir string, trixelID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("trixel%012d.dat", trixelID))
}

// ChunkTable is the in-process registry of sealed trixel descriptors a
// container writer assembles from; guarded by a mutex since concurrent C6
// sessions publish into it (spec §5).
type ChunkTable struct {
	mu      sync.Mutex
	entries map[uint32]trixeltable.Descriptor
	paths   map[uint32]string
}

// NewChunkTable returns an empty registry.
func NewChunkTable() *ChunkTable {
	return &ChunkTable{
		entries: make(map[uint32]trixeltable.Descriptor),
		paths:   make(map[uint32]string),
	}
}

// Publish records a sealed trixel's descriptor and chunk path.
func (t *ChunkTable) Publish(d trixeltable.Descriptor, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[d.ID] = d
	t.paths[d.ID] = path
}

// Get returns the descriptor and path registered for a trixel id.
func (t *ChunkTable) Get(id uint32) (trixeltable.Descriptor, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[id]
	return d, t.paths[id], ok
}

// IDs returns the registered trixel ids in no particular order.
func (t *ChunkTable) IDs() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

// ChunkWriter appends fixed-size records to one trixel's scratch file
// under an exclusive advisory lock (spec §4.6). The lock is acquired on
// entry and held for the session's lifetime; the record count is read
// only after the lock is held, so concurrent sessions never miscount.
type ChunkWriter struct {
	id         uint32
	path       string
	recordSize int
	file       *os.File
	table      *ChunkTable
	autoDelete bool
	startCount int
	written    int
	failed     bool
}

// OpenChunkWriter opens or creates the chunk file for trixelID under dir,
// acquires an exclusive lock, and reads the current record count. If
// append is false, the file is created new; if it already exists, it
// returns ResourceBusy (spec §4.6: "append=false requires the file not
// exist").
func OpenChunkWriter(table *ChunkTable, dir string, trixelID uint32, recordSize int, append bool, autoDelete bool) (*ChunkWriter, error) {
	path := ChunkPath(dir, trixelID)
	flags := os.O_RDWR | os.O_CREATE
	if !append {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if !append && os.IsExist(err) {
			return nil, &ksbinerr.ResourceBusy{Path: path}
		}
		return nil, fmt.Errorf("container: open chunk %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("container: lock chunk %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("container: stat chunk %s: %w", path, err)
	}
	if stat.Size()%int64(recordSize) != 0 {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, &ksbinerr.ChunkInvariant{TrixelID: trixelID, Path: path, DeclaredSize: stat.Size(), RecordSize: recordSize}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("container: seek chunk %s: %w", path, err)
	}
	return &ChunkWriter{
		id:         trixelID,
		path:       path,
		recordSize: recordSize,
		file:       f,
		table:      table,
		autoDelete: autoDelete,
		startCount: int(stat.Size() / int64(recordSize)),
	}, nil
}

// Append writes one packed record (must be recordSize bytes) to the chunk.
func (w *ChunkWriter) Append(record []byte) error {
	if len(record) != w.recordSize {
		w.failed = true
		return &ksbinerr.SchemaError{Field: fmt.Sprintf("trixel-%d", w.id), Reason: "record size does not match chunk's declared record size"}
	}
	if _, err := w.file.Write(record); err != nil {
		w.failed = true
		return fmt.Errorf("container: append to chunk %s: %w", w.path, err)
	}
	w.written++
	return nil
}

// Count returns the number of records currently in the chunk, including
// any present before this session began.
func (w *ChunkWriter) Count() int { return w.startCount + w.written }

// Close flushes and fsyncs the file, publishes the sealed descriptor into
// the chunk table, and releases the lock — in that order, so publication
// always happens before the lock is released (spec §4.6). On failure it
// deletes the chunk file and does not publish.
func (w *ChunkWriter) Close() error {
	if w.failed {
		w.file.Close()
		unix.Flock(int(w.file.Fd()), unix.LOCK_UN)
		os.Remove(w.path)
		return fmt.Errorf("container: chunk %s closed after a failed append", w.path)
	}
	err := continuity.New().
		Then("sync", w.file.Sync).
		Then("publish", func() error {
			w.table.Publish(trixeltable.Descriptor{ID: w.id, Count: uint32(w.Count())}, w.path)
			return nil
		}).
		Then("unlock", func() error { return unix.Flock(int(w.file.Fd()), unix.LOCK_UN) }).
		Then("close", w.file.Close).
		Err()
	if err != nil {
		os.Remove(w.path)
		return fmt.Errorf("container: close chunk %s: %w", w.path, err)
	}
	return nil
}
