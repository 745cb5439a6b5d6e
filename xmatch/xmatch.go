// Package xmatch implements the cross-identification engine (C9, spec
// §4.9): for each trixel, gather candidates from the other catalog via a
// cone cover, build a distance matrix, and pick nearest neighbors with a
// layered tie-break (distance → magnitude → secondary coordinates). The
// engine is pure: it never mutates its inputs.
package xmatch

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/geeksville/ksbin/htm"
	"github.com/geeksville/ksbin/stagingstore"
	"golang.org/x/sync/errgroup"
)

// Options configures a cross-match run (spec §6).
type Options struct {
	Engine            htm.CoordinateEngine
	Level             int
	SearchRadiusArcsec float64 // default 100
	TieToleranceDeg    float64 // default 1e-5
}

// Unmatched records a row of A that had no candidate at all, or whose
// nearest candidates tied at a distance above the tie tolerance, together
// with the closest candidate seen (empty when there was none), for
// diagnostics (supplemented
// from original_source's ksbin_unmatched table per SPEC_FULL.md §9).
type Unmatched struct {
	AID             string
	ClosestBID      string
	DistanceArcsec  float64
}

// Result is the outcome of a full cross-match run.
type Result struct {
	Matches   []stagingstore.Match
	Unmatched []Unmatched
}

// Run cross-matches every record of catalog A against catalog B, trixel
// by trixel, using store for trixel-indexed lookups, and persists every
// confirmed match to matchTable via store.PutMatch (spec §4.9, spec §2
// "writes match tables to the staging store").
func Run(ctx context.Context, store stagingstore.Store, catalogA, catalogB, matchTable string, numTrixels uint32, opts Options) (Result, error) {
	radiusDeg := opts.SearchRadiusArcsec / 3600.0
	if radiusDeg == 0 {
		radiusDeg = 100.0 / 3600.0
	}
	tolerance := opts.TieToleranceDeg
	if tolerance == 0 {
		tolerance = 1e-5
	}

	var g errgroup.Group
	results := make([]Result, numTrixels)
	for t := uint32(0); t < numTrixels; t++ {
		t := t
		g.Go(func() error {
			r, err := matchTrixel(ctx, store, catalogA, catalogB, matchTable, t, radiusDeg, tolerance, opts)
			if err != nil {
				return err
			}
			results[t] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var out Result
	for _, r := range results {
		out.Matches = append(out.Matches, r.Matches...)
		out.Unmatched = append(out.Unmatched, r.Unmatched...)
	}
	return out, nil
}

func matchTrixel(ctx context.Context, store stagingstore.Store, catalogA, catalogB, matchTable string, trixel uint32, radiusDeg, tolerance float64, opts Options) (Result, error) {
	aRows, err := store.ByTrixel(ctx, catalogA, []uint32{trixel})
	if err != nil || len(aRows) == 0 {
		return Result{}, err
	}

	candidateSet := map[uint32]bool{}
	for _, a := range aRows {
		for _, c := range opts.Engine.ConeTrixels(htm.Point{RA: a.RA, Dec: a.Dec}, radiusDeg, opts.Level) {
			candidateSet[c] = true
		}
	}
	candidates := make([]uint32, 0, len(candidateSet))
	for c := range candidateSet {
		candidates = append(candidates, c)
	}

	bRows, err := store.ByTrixel(ctx, catalogB, candidates)
	if err != nil {
		return Result{}, err
	}
	if len(bRows) == 0 {
		var res Result
		for _, a := range aRows {
			res.Unmatched = append(res.Unmatched, Unmatched{AID: a.ID})
		}
		return res, nil
	}

	var res Result
	bCounts := map[string]int{}
	for _, a := range aRows {
		winner, dist, ok := bestCandidate(opts.Engine, a, bRows, tolerance)
		if !ok {
			closest, closestDist := nearestByDistance(opts.Engine, a, bRows)
			res.Unmatched = append(res.Unmatched, Unmatched{
				AID:            a.ID,
				ClosestBID:     closest,
				DistanceArcsec: closestDist * 3600.0,
			})
			continue
		}
		m := stagingstore.Match{AID: a.ID, BID: winner.ID, Distance: dist}
		if err := store.PutMatch(ctx, matchTable, m); err != nil {
			return Result{}, err
		}
		res.Matches = append(res.Matches, m)
		bCounts[winner.ID]++
		if bCounts[winner.ID] > 1 && dist <= tolerance {
			slog.Warn("xmatch: multiple A rows matched the same B row within tolerance",
				"b_id", winner.ID, "count", bCounts[winner.ID])
		}
	}
	return res, nil
}

// nearestByDistance returns the plain-nearest candidate (ignoring
// tie-break rules), used only for Unmatched diagnostics.
func nearestByDistance(engine htm.CoordinateEngine, a stagingstore.CatalogRecord, candidates []stagingstore.CatalogRecord) (string, float64) {
	best := ""
	bestDist := math.Inf(1)
	aPos := htm.Point{RA: a.RA, Dec: a.Dec}
	for _, b := range candidates {
		d := engine.AngularDistance(aPos, htm.Point{RA: b.RA, Dec: b.Dec})
		if d < bestDist {
			bestDist = d
			best = b.ID
		}
	}
	return best, bestDist
}

// bestCandidate implements spec §4.9 step 4–5: argmin over the distance
// matrix, with a layered tie-break (distance tolerance → magnitude
// difference → secondary coordinates) returning either a definite winner
// or a deferred (not-ok) decision.
func bestCandidate(engine htm.CoordinateEngine, a stagingstore.CatalogRecord, candidates []stagingstore.CatalogRecord, tolerance float64) (stagingstore.CatalogRecord, float64, bool) {
	aPos := htm.Point{RA: a.RA, Dec: a.Dec}

	dists := make([]float64, len(candidates))
	minDist := math.Inf(1)
	for i, b := range candidates {
		d := engine.AngularDistance(aPos, htm.Point{RA: b.RA, Dec: b.Dec})
		dists[i] = d
		if d < minDist {
			minDist = d
		}
	}

	var tied []stagingstore.CatalogRecord
	var distances []float64
	for i, b := range candidates {
		if dists[i]-minDist <= tolerance {
			tied = append(tied, b)
			distances = append(distances, dists[i])
		}
	}
	if len(tied) == 0 {
		return stagingstore.CatalogRecord{}, 0, false
	}
	if len(tied) == 1 {
		return tied[0], distances[0], true
	}

	if minDist > tolerance {
		// The shared min distance itself exceeds the tolerance: this row
		// isn't a true match (spec §4.9 step 5).
		return stagingstore.CatalogRecord{}, 0, false
	}

	return resolveMagnitudeTie(a, tied, distances)
}

type magScored struct {
	rec    stagingstore.CatalogRecord
	dist   float64
	magGap float64
}

// resolveMagnitudeTie breaks a distance tie by magnitude, falling back to
// the secondary (epoch) coordinate set (spec §4.9 step 5).
func resolveMagnitudeTie(a stagingstore.CatalogRecord, tied []stagingstore.CatalogRecord, distances []float64) (stagingstore.CatalogRecord, float64, bool) {
	scores := make([]magScored, len(tied))
	for i, b := range tied {
		scores[i] = magScored{rec: b, dist: distances[i], magGap: math.Abs(a.Magnitude - b.Magnitude)}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].magGap < scores[j].magGap })

	best := scores[0]
	if len(scores) == 1 || math.Abs(scores[1].magGap-best.magGap) > 0.5 {
		return best.rec, best.dist, true
	}

	// The two closest magnitude gaps are within 0.5 of each other: break
	// by the secondary (epoch-specific) coordinate set instead.
	second := scores[1]
	aSecondary := htm.Point{RA: a.EpochRA, Dec: a.EpochDec}
	bestSecDist := secondaryDistSq(aSecondary, best.rec)
	secondSecDist := secondaryDistSq(aSecondary, second.rec)
	if secondSecDist < bestSecDist {
		return second.rec, second.dist, true
	}
	return best.rec, best.dist, true
}

func secondaryDistSq(a htm.Point, b stagingstore.CatalogRecord) float64 {
	dra := a.RA - b.EpochRA
	ddec := a.Dec - b.EpochDec
	return dra*dra + ddec*ddec
}
