// Package htm defines the HTM (Hierarchical Triangular Mesh) contract this
// module depends on as an external collaborator (spec §1), and implements
// the proper-motion duplication policy (C8, spec §4.8) on top of it. The
// mesh geometry itself — subdividing the sphere into trixels — is out of
// scope here; only the operations the core needs are declared.
package htm

import "math"

// Point is a sky position in the ICRS frame, in degrees.
type Point struct {
	RA, Dec float64
}

// ProperMotion is apparent angular velocity in milliarcseconds per year,
// split into the two equatorial axes (µ_α·cosδ, µ_δ).
type ProperMotion struct {
	MuRA, MuDec float64
}

// CoordinateEngine is the collaborator contract spec §1 names: angular
// distance, proper-motion propagation, and trixel assignment for a point,
// cone, or great-circle segment, all at a given HTM level.
type CoordinateEngine interface {
	// AngularDistance returns the angular separation between a and b, in
	// degrees.
	AngularDistance(a, b Point) float64

	// Propagate returns the position of a star observed at (pos, pm,
	// epochFrom) once moved forward to epochTo (years).
	Propagate(pos Point, pm ProperMotion, epochFrom, epochTo float64) Point

	// TrixelID returns the HTM trixel id containing p at the given level.
	TrixelID(p Point, level int) uint32

	// ConeTrixels returns every trixel id intersecting the cone of the
	// given radius (degrees) centered at p, at the given level.
	ConeTrixels(p Point, radiusDeg float64, level int) []uint32

	// SegmentTrixels returns every trixel id intersecting the great-circle
	// segment between a and b, at the given level.
	SegmentTrixels(a, b Point, level int) []uint32
}

// ReferenceEpoch is the epoch at which catalog positions are conventionally
// measured (spec §4.8).
const ReferenceEpoch = 2000.0

// DuplicationPolicy decides whether a moving star must be discoverable
// from more than one trixel, and enumerates the covering trixels (C8,
// spec §4.8).
type DuplicationPolicy struct {
	Engine CoordinateEngine
	Level  int

	// DeltaYears is proper_motion_duplicates: the half-window, in years,
	// used to propagate a star's position to either side of the reference
	// epoch.
	DeltaYears float64

	// ThresholdArcsec is proper_motion_threshold: the minimum motion, in
	// arcsec over 2·DeltaYears, required to trigger duplication.
	ThresholdArcsec float64
}

// thresholdSquaredMasPerYear converts the configured arcsec-over-2Δt
// threshold into a squared mas/yr bound comparable against µ_α²+µ_δ²
// (spec §4.8 step 1): pm_sqr_thresh = (threshold / (2·Δt/1000))².
func (p DuplicationPolicy) thresholdSquaredMasPerYear() float64 {
	if p.DeltaYears <= 0 {
		return math.Inf(1) // no duplication possible; everything is "stationary"
	}
	muMasPerYear := p.ThresholdArcsec / (2 * p.DeltaYears / 1000.0)
	return muMasPerYear * muMasPerYear
}

// Trixels returns the set of trixel ids a star at (pos, pm) must be
// discoverable from. A stationary star (motion at or below threshold)
// yields exactly one trixel — the one containing its advertised position.
// A moving star yields the union of trixels along the great-circle
// segment between its −Δt and +Δt projected positions (spec §4.8).
func (p DuplicationPolicy) Trixels(pos Point, pm ProperMotion) []uint32 {
	muSq := pm.MuRA*pm.MuRA + pm.MuDec*pm.MuDec
	if muSq <= p.thresholdSquaredMasPerYear() {
		return []uint32{p.Engine.TrixelID(pos, p.Level)}
	}

	early := p.Engine.Propagate(pos, pm, ReferenceEpoch, ReferenceEpoch-p.DeltaYears)
	late := p.Engine.Propagate(pos, pm, ReferenceEpoch, ReferenceEpoch+p.DeltaYears)
	return p.Engine.SegmentTrixels(early, late, p.Level)
}
