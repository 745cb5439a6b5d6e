package catalogwriter

import (
	"path/filepath"
	"testing"

	"github.com/geeksville/ksbin/container"
	"github.com/geeksville/ksbin/htm"
	"github.com/geeksville/ksbin/schema"
	"github.com/stretchr/testify/require"
)

// flatEngine is a minimal coordinate engine stand-in: it buckets points
// into 8 trixels by RA octant and treats "propagation" as a pure linear
// RA shift, enough to exercise the writer's control flow without real
// spherical geometry.
type flatEngine struct{}

func (flatEngine) AngularDistance(a, b htm.Point) float64 {
	return (a.RA - b.RA) * (a.RA - b.RA)
}

func (flatEngine) Propagate(pos htm.Point, pm htm.ProperMotion, epochFrom, epochTo float64) htm.Point {
	dt := epochTo - epochFrom
	return htm.Point{RA: pos.RA + pm.MuRA*dt/3_600_000.0, Dec: pos.Dec}
}

func (flatEngine) TrixelID(p htm.Point, level int) uint32 {
	ra := p.RA
	for ra < 0 {
		ra += 360
	}
	for ra >= 360 {
		ra -= 360
	}
	return uint32(ra / 45.0)
}

func (e flatEngine) SegmentTrixels(a, b htm.Point, level int) []uint32 {
	ids := map[uint32]bool{e.TrixelID(a, level): true, e.TrixelID(b, level): true}
	out := make([]uint32, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

func (flatEngine) ConeTrixels(p htm.Point, radiusDeg float64, level int) []uint32 { return nil }

func starSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	require.NoError(t, s.Add(schema.Field{Name: "ra", Width: 4, Type: schema.TypeInt32, Scale: 1000000}))
	require.NoError(t, s.Add(schema.Field{Name: "dec", Width: 4, Type: schema.TypeInt32, Scale: 100000}))
	return s
}

func TestAddPointAndClose(t *testing.T) {
	dir := t.TempDir()
	s := starSchema(t)

	w, err := Open(s, Options{
		ScratchDir:  dir,
		HTMLevel:    0,
		NumTrixels:  8,
		SortTrixels: true,
		Policy: htm.DuplicationPolicy{
			Engine:          flatEngine{},
			Level:           0,
			DeltaYears:      10000,
			ThresholdArcsec: 0.1,
		},
	})
	require.NoError(t, err)

	res, err := w.AddPoint(htm.Point{RA: 30.0, Dec: -13.2}, htm.ProperMotion{}, map[string]any{
		"ra": 30.0, "dec": -13.2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Duplicates)

	outPath := filepath.Join(dir, "out.ksbin")
	require.NoError(t, w.Close(outPath))

	r, err := container.Open(outPath)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 8, r.TrixelCount())
}

func TestAddPointRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	s := starSchema(t)
	w, err := Open(s, Options{
		ScratchDir: dir,
		HTMLevel:   0,
		NumTrixels: 8,
		Policy:     htm.DuplicationPolicy{Engine: flatEngine{}, Level: 0, DeltaYears: 10000, ThresholdArcsec: 0.1},
	})
	require.NoError(t, err)

	_, err = w.AddPoint(htm.Point{RA: 1, Dec: 1}, htm.ProperMotion{}, map[string]any{"nope": 1.0})
	require.Error(t, err)
}

func TestSpillTriggersOnBufferLimit(t *testing.T) {
	dir := t.TempDir()
	s := starSchema(t)
	w, err := Open(s, Options{
		ScratchDir:  dir,
		HTMLevel:    0,
		NumTrixels:  8,
		BufferLimit: 2,
		SortTrixels: true,
		Policy:      htm.DuplicationPolicy{Engine: flatEngine{}, Level: 0, DeltaYears: 10000, ThresholdArcsec: 0.1},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := w.AddPoint(htm.Point{RA: float64(i) * 50, Dec: 0}, htm.ProperMotion{}, map[string]any{
			"ra": float64(i) * 50, "dec": 0.0,
		})
		require.NoError(t, err)
	}
	require.LessOrEqual(t, w.memory, 2)

	outPath := filepath.Join(dir, "out.ksbin")
	require.NoError(t, w.Close(outPath))
}
