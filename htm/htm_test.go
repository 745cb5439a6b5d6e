package htm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEngine is a trivial flat-projection stand-in for the real HTM
// coordinate engine, sufficient to exercise DuplicationPolicy's control
// flow without implementing spherical geometry.
type fakeEngine struct{}

func (fakeEngine) AngularDistance(a, b Point) float64 {
	dra := a.RA - b.RA
	ddec := a.Dec - b.Dec
	return dra*dra + ddec*ddec
}

func (fakeEngine) Propagate(pos Point, pm ProperMotion, epochFrom, epochTo float64) Point {
	dt := epochTo - epochFrom
	return Point{
		RA:  pos.RA + pm.MuRA*dt/3_600_000.0,
		Dec: pos.Dec + pm.MuDec*dt/3_600_000.0,
	}
}

func (fakeEngine) TrixelID(p Point, level int) uint32 {
	// Deterministic bucket: one trixel per tenth of a degree of RA.
	return uint32(int(p.RA*10) + 1800)
}

func (e fakeEngine) SegmentTrixels(a, b Point, level int) []uint32 {
	ids := map[uint32]bool{}
	ids[e.TrixelID(a, level)] = true
	ids[e.TrixelID(b, level)] = true
	return keys(ids)
}

func (fakeEngine) ConeTrixels(p Point, radiusDeg float64, level int) []uint32 {
	return nil
}

func keys(m map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestZeroProperMotionYieldsSingleTrixel(t *testing.T) {
	policy := DuplicationPolicy{Engine: fakeEngine{}, Level: 6, DeltaYears: 10000, ThresholdArcsec: 0.1}
	ids := policy.Trixels(Point{RA: 180, Dec: 0}, ProperMotion{})
	require.Len(t, ids, 1)
}

// scenario 4, spec §8: ra=180, dec=0, mu_ra=10000 mas/yr, mu_dec=0,
// proper_motion_duplicates=10000, htm_level=6 yields more than one trixel.
func TestLargeProperMotionYieldsMultipleTrixels(t *testing.T) {
	policy := DuplicationPolicy{Engine: fakeEngine{}, Level: 6, DeltaYears: 10000, ThresholdArcsec: 0.1}
	ids := policy.Trixels(Point{RA: 180, Dec: 0}, ProperMotion{MuRA: 10000})
	require.Greater(t, len(ids), 1)
}

func TestDisabledDuplicationAlwaysSingleTrixel(t *testing.T) {
	policy := DuplicationPolicy{Engine: fakeEngine{}, Level: 6, DeltaYears: 0, ThresholdArcsec: 0.1}
	ids := policy.Trixels(Point{RA: 180, Dec: 0}, ProperMotion{MuRA: 50000, MuDec: 50000})
	require.Len(t, ids, 1)
}
