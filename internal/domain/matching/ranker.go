package matching

import (
	"bytes"
	"sort"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
)

// Rank returns a new slice ordered by match score (descending), then distance
// (ascending), then hospital id. Promotion is already part of the score, so
// a promoted hospital never outranks one with a strictly higher score.
func Rank(hospitals []ScoredHospital) []ScoredHospital {
	out := make([]ScoredHospital, len(hospitals))
	copy(out, hospitals)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return out
}

// Candidate is a hospital paired with its distance from the origin.
type Candidate struct {
	Hospital   HospitalRecord
	DistanceKm float64
}

// FilterByRadius drops candidates farther than radiusKm. It runs before
// scoring so an out-of-range hospital can never appear in a ranking.
func FilterByRadius(candidates []Candidate, radiusKm float64) (kept []Candidate, excluded int) {
	kept = make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.DistanceKm > radiusKm {
			excluded++
			continue
		}
		kept = append(kept, c)
	}
	return kept, excluded
}

// Matcher runs the full distance -> radius filter -> score -> rank pipeline.
type Matcher struct {
	Scorer Scorer
}

func NewMatcher(s Scorer) Matcher {
	return Matcher{Scorer: s}
}

// Rank orders hospitals for req as seen from origin. It fails with
// apperr.ErrInvalidCoordinate if origin or any hospital coordinate is invalid.
func (m Matcher) Rank(origin geo.Coordinate, hospitals []HospitalRecord, req MatchRequest) ([]ScoredHospital, int, error) {
	if err := origin.Validate(); err != nil {
		return nil, 0, err
	}

	candidates := make([]Candidate, 0, len(hospitals))
	for _, h := range hospitals {
		d, err := geo.Distance(origin, h.Coordinate)
		if err != nil {
			return nil, 0, err
		}
		candidates = append(candidates, Candidate{Hospital: h, DistanceKm: d})
	}

	radius := m.Scorer.RadiusKm
	if radius <= 0 {
		radius = DefaultRadiusKm
	}
	kept, excluded := FilterByRadius(candidates, radius)

	scored := make([]ScoredHospital, 0, len(kept))
	for _, c := range kept {
		scored = append(scored, m.Scorer.Score(c.Hospital, req, c.DistanceKm))
	}
	return Rank(scored), excluded, nil
}
