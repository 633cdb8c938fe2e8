package matching

import (
	"math"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
)

// kmPerDegreeLat is the meridian arc length of one degree on the 6371 km sphere.
const kmPerDegreeLat = geo.EarthRadiusKm * math.Pi / 180

var testOrigin = geo.Coordinate{Latitude: 12.30, Longitude: 76.64}

func north(km float64) geo.Coordinate {
	return geo.Coordinate{Latitude: testOrigin.Latitude + km/kmPerDegreeLat, Longitude: testOrigin.Longitude}
}

func testScorer() Scorer {
	return NewScorer(50, geo.NewEstimator(40, 2))
}

func TestScore_ScenarioCardiologyCritical(t *testing.T) {
	s := testScorer()
	req := MatchRequest{RequiredSpecialties: []string{"Cardiology"}, IsCritical: true}

	h1 := s.Score(HospitalRecord{ID: uuid.New(), Specialties: []string{"Cardiology"}, AvailableBeds: 5}, req, 1)
	h2 := s.Score(HospitalRecord{ID: uuid.New(), Specialties: []string{}, AvailableBeds: 50}, req, 0.5)

	if h1.MatchScore != 92 {
		t.Errorf("expected H1 score 92, got %d", h1.MatchScore)
	}
	if h2.MatchScore != 50 {
		t.Errorf("expected H2 score 50, got %d", h2.MatchScore)
	}
	if !reflect.DeepEqual(h1.MatchedSpecialties, []string{"Cardiology"}) {
		t.Errorf("expected H1 matched [Cardiology], got %v", h1.MatchedSpecialties)
	}
	if len(h2.MatchedSpecialties) != 0 {
		t.Errorf("expected H2 matched nothing, got %v", h2.MatchedSpecialties)
	}
	if !h1.Promoted || h2.Promoted {
		t.Errorf("expected only H1 promoted, got h1=%v h2=%v", h1.Promoted, h2.Promoted)
	}
}

func TestScore_Bounds(t *testing.T) {
	s := testScorer()
	best := HospitalRecord{
		Specialties:   []string{"Trauma", "Neurology"},
		AvailableBeds: 500,
		ICUBeds:       50,
		TraumaCenter:  true,
	}
	req := MatchRequest{RequiredSpecialties: []string{"trauma", "neurology"}, IsCritical: true}

	if got := s.Score(best, req, 0).MatchScore; got != 100 {
		t.Errorf("expected clamp to 100, got %d", got)
	}

	worst := HospitalRecord{AvailableBeds: -3, ICUBeds: -1}
	if got := s.Score(worst, MatchRequest{}, 80).MatchScore; got != 0 {
		t.Errorf("expected 0 for far empty hospital, got %d", got)
	}
}

func TestScore_ComponentsNonCritical(t *testing.T) {
	s := testScorer()
	h := HospitalRecord{Specialties: []string{"Orthopedics"}, AvailableBeds: 10, ICUBeds: 5}
	req := MatchRequest{RequiredSpecialties: []string{"orthopedics", "Burns"}}

	got := s.Score(h, req, 25)
	// proximity 20 + capacity 10 + specialty 20, no promotion.
	if got.MatchScore != 50 {
		t.Errorf("expected 50, got %d", got.MatchScore)
	}
	if got.Promoted {
		t.Error("non-critical request must not promote")
	}
	if got.ETAMinutes != 40 {
		t.Errorf("expected ETA 40 (38 + 2 overhead), got %d", got.ETAMinutes)
	}
}

func TestScore_CriticalCapacity(t *testing.T) {
	s := testScorer()
	req := MatchRequest{IsCritical: true}

	tests := []struct {
		name string
		h    HospitalRecord
		want int
	}{
		{"beds only", HospitalRecord{AvailableBeds: 20}, 50},
		{"beds and icu", HospitalRecord{AvailableBeds: 20, ICUBeds: 5}, 60},
		{"trauma centre capped", HospitalRecord{AvailableBeds: 20, ICUBeds: 5, TraumaCenter: true}, 60},
		{"trauma centre bonus", HospitalRecord{AvailableBeds: 4, TraumaCenter: true}, 47},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.h, req, 0).MatchScore; got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestScore_SpecialtyMatching(t *testing.T) {
	s := testScorer()
	h := HospitalRecord{Specialties: []string{"Neurology", " Cardiology", "cardiology"}}

	got := s.Score(h, MatchRequest{RequiredSpecialties: []string{"CARDIOLOGY ", "neurology", ""}}, 0)
	if !reflect.DeepEqual(got.MatchedSpecialties, []string{"Cardiology", "Neurology"}) {
		t.Errorf("unexpected matched set %v", got.MatchedSpecialties)
	}

	none := s.Score(HospitalRecord{Specialties: nil}, MatchRequest{RequiredSpecialties: nil}, 0)
	if none.MatchedSpecialties == nil || len(none.MatchedSpecialties) != 0 {
		t.Errorf("expected empty non-nil matched set, got %#v", none.MatchedSpecialties)
	}
}

func TestScore_Pure(t *testing.T) {
	s := testScorer()
	h := HospitalRecord{ID: uuid.New(), Specialties: []string{"Cardiology"}, AvailableBeds: 7, ICUBeds: 2}
	req := MatchRequest{RequiredSpecialties: []string{"Cardiology"}, IsCritical: true}

	a := s.Score(h, req, 3.3)
	b := s.Score(h, req, 3.3)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Score is not deterministic: %+v vs %+v", a, b)
	}
	if len(req.RequiredSpecialties) != 1 || req.RequiredSpecialties[0] != "Cardiology" {
		t.Error("Score mutated the request")
	}
}

func TestMatchReason(t *testing.T) {
	tests := []struct {
		matched  []string
		promoted bool
		trauma   bool
		want     string
	}{
		{nil, false, false, "No specialty match, 2.0km away"},
		{[]string{"Cardiology"}, true, false, "Matched 1 specialty, 1.0km away, critical care match"},
		{[]string{"A", "B"}, true, true, "Matched 2 specialties, 1.0km away, critical care match, trauma centre"},
	}
	for _, tt := range tests {
		d := 1.0
		if tt.matched == nil {
			d = 2.0
		}
		if got := matchReason(tt.matched, tt.promoted, tt.trauma, d); got != tt.want {
			t.Errorf("matchReason = %q, want %q", got, tt.want)
		}
	}
}
