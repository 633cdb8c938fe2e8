package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
)

// Score component caps. The sum of the caps plus the promotion bonus exceeds
// 100 and the final score is clamped.
const (
	MaxProximityPoints = 40.0
	MaxCapacityPoints  = 20.0
	MaxSpecialtyPoints = 40.0
	PromotionBonus     = 10.0

	DefaultRadiusKm = 50.0

	bedSaturation   = 20
	icuSaturation   = 5
	traumaReadiness = 5.0
)

// Scorer computes a bounded suitability score for a hospital. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	RadiusKm  float64
	Estimator geo.Estimator
}

// NewScorer returns a Scorer with the given search radius and ETA estimator.
func NewScorer(radiusKm float64, est geo.Estimator) Scorer {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	return Scorer{RadiusKm: radiusKm, Estimator: est}
}

// Score is a pure function of (hospital, request, distance).
func (s Scorer) Score(h HospitalRecord, req MatchRequest, distanceKm float64) ScoredHospital {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	radius := s.RadiusKm
	if radius <= 0 {
		radius = DefaultRadiusKm
	}

	proximity := clip(MaxProximityPoints*(1-distanceKm/radius), 0, MaxProximityPoints)
	capacity := capacityPoints(h, req.IsCritical)

	matched, required := matchSpecialties(req.RequiredSpecialties, h.Specialties)
	specialty := 0.0
	if len(matched) > 0 {
		specialty = clip(MaxSpecialtyPoints*float64(len(matched))/float64(max(1, required)), 0, MaxSpecialtyPoints)
	}

	promoted := len(matched) > 0 && req.IsCritical
	total := proximity + capacity + specialty
	if promoted {
		total += PromotionBonus
	}

	return ScoredHospital{
		HospitalRecord:     h,
		DistanceKm:         distanceKm,
		ETAMinutes:         s.Estimator.ETA(distanceKm),
		MatchScore:         int(clip(math.Round(total), 0, 100)),
		MatchedSpecialties: matched,
		Promoted:           promoted,
		MatchReason:        matchReason(matched, promoted, h.TraumaCenter && req.IsCritical, distanceKm),
	}
}

func capacityPoints(h HospitalRecord, critical bool) float64 {
	beds := float64(min(max(h.AvailableBeds, 0), bedSaturation)) / bedSaturation
	if !critical {
		return clip(MaxCapacityPoints*beds, 0, MaxCapacityPoints)
	}
	icu := float64(min(max(h.ICUBeds, 0), icuSaturation)) / icuSaturation
	points := MaxCapacityPoints/2*beds + MaxCapacityPoints/2*icu
	if h.TraumaCenter {
		points += traumaReadiness
	}
	return clip(points, 0, MaxCapacityPoints)
}

// matchSpecialties intersects the requested tags with the hospital's,
// ignoring case and surrounding space. Matched tags keep the hospital's
// spelling and are sorted. The second result is the number of distinct
// non-empty requested tags.
func matchSpecialties(required, offered []string) ([]string, int) {
	want := make(map[string]struct{}, len(required))
	for _, r := range required {
		if k := normalizeTag(r); k != "" {
			want[k] = struct{}{}
		}
	}

	matched := []string{}
	seen := make(map[string]struct{}, len(offered))
	for _, o := range offered {
		k := normalizeTag(o)
		if _, ok := want[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		matched = append(matched, strings.TrimSpace(o))
	}
	sort.Strings(matched)
	return matched, len(want)
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func matchReason(matched []string, promoted, traumaReady bool, distanceKm float64) string {
	var b strings.Builder
	switch n := len(matched); n {
	case 0:
		b.WriteString("No specialty match")
	case 1:
		b.WriteString("Matched 1 specialty")
	default:
		fmt.Fprintf(&b, "Matched %d specialties", n)
	}
	fmt.Fprintf(&b, ", %.1fkm away", distanceKm)
	if promoted {
		b.WriteString(", critical care match")
	}
	if traumaReady {
		b.WriteString(", trauma centre")
	}
	return b.String()
}

func clip(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
