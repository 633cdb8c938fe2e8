package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
)

// HospitalType classifies a hospital's ownership.
type HospitalType string

const (
	HospitalGovernment HospitalType = "Government"
	HospitalPrivate    HospitalType = "Private"
	HospitalTrust      HospitalType = "Trust"
)

// ParseHospitalType accepts any casing of the known types.
func ParseHospitalType(s string) (HospitalType, error) {
	for _, t := range []HospitalType{HospitalGovernment, HospitalPrivate, HospitalTrust} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown hospital type %q", s)
}

// HospitalRecord maps to the hospital table.
type HospitalRecord struct {
	ID                  uuid.UUID      `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	Coordinate          geo.Coordinate `json:"coordinate"`
	Type                HospitalType   `db:"type" json:"type"`
	Specialties         []string       `db:"specialties" json:"specialties"`
	AvailableBeds       int            `db:"available_beds" json:"available_beds"`
	ICUBeds             int            `db:"icu_beds" json:"icu_beds"`
	BaseWaitTimeMinutes int            `db:"base_wait_time_minutes" json:"base_wait_time_minutes"`
	EmergencyServices   bool           `db:"emergency_services" json:"emergency_services"`
	TraumaCenter        bool           `db:"trauma_center" json:"trauma_center"`
	CapacityUpdatedAt   *time.Time     `db:"capacity_updated_at" json:"capacity_updated_at,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// MatchRequest is the clinical profile a ranking is computed for.
type MatchRequest struct {
	Origin                  *geo.Coordinate `json:"origin,omitempty"`
	RequiredSpecialties     []string        `json:"required_specialties"`
	IsCritical              bool            `json:"is_critical"`
	ClinicalProbabilityText *string         `json:"clinical_probability_text,omitempty"`
}

// ScoredHospital is a hospital annotated with its suitability for one request.
// It is recomputed on every ranking and never mutated after creation.
type ScoredHospital struct {
	HospitalRecord
	DistanceKm         float64  `json:"distance_km"`
	ETAMinutes         int      `json:"eta_minutes"`
	MatchScore         int      `json:"match_score"`
	MatchedSpecialties []string `json:"matched_specialties"`
	Promoted           bool     `json:"promoted"`
	MatchReason        string   `json:"match_reason"`
}

// OriginSource records where the ranking origin came from.
type OriginSource string

const (
	OriginRequest     OriginSource = "request"
	OriginGeolocation OriginSource = "geolocation"
	OriginDefault     OriginSource = "default"
)

// MatchResult is the ranked list returned to a paramedic. Degraded is set
// whenever a collaborator failed and the list may be incomplete.
type MatchResult struct {
	Origin                  geo.Coordinate   `json:"origin"`
	OriginSource            OriginSource     `json:"origin_source"`
	Hospitals               []ScoredHospital `json:"hospitals"`
	Excluded                int              `json:"excluded_beyond_radius"`
	RadiusKm                float64          `json:"radius_km"`
	Degraded                bool             `json:"degraded"`
	Warnings                []string         `json:"warnings,omitempty"`
	ClinicalProbabilityText *string          `json:"clinical_probability_text,omitempty"`
}
