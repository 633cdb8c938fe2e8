package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
	"github.com/rapidcare/rapidcare/internal/platform/apperr"
)

// Locator resolves a paramedic's current coordinate.
type Locator interface {
	Locate(ctx context.Context, paramedicID string) (geo.Coordinate, error)
}

// Config holds the tunables of a match service.
type Config struct {
	RadiusKm        float64
	DefaultOrigin   geo.Coordinate
	Estimator       geo.Estimator
	UpstreamTimeout time.Duration
}

const defaultUpstreamTimeout = 3 * time.Second

type Service struct {
	hospitals HospitalRepository
	locator   Locator
	matcher   Matcher
	cfg       Config
	logger    zerolog.Logger
}

// NewService wires a match service. locator may be nil, in which case rankings
// without an explicit origin use the default coordinate.
func NewService(hospitals HospitalRepository, locator Locator, cfg Config, logger zerolog.Logger) *Service {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaultUpstreamTimeout
	}
	scorer := NewScorer(cfg.RadiusKm, cfg.Estimator)
	cfg.RadiusKm = scorer.RadiusKm
	return &Service{
		hospitals: hospitals,
		locator:   locator,
		matcher:   NewMatcher(scorer),
		cfg:       cfg,
		logger:    logger.With().Str("component", "matching").Logger(),
	}
}

// Match ranks the hospital catalog for req. Collaborator failures never fail
// the call: the result is flagged Degraded and carries a warning instead.
// Only an invalid explicit origin is rejected.
func (s *Service) Match(ctx context.Context, req MatchRequest, paramedicID string) (*MatchResult, error) {
	result := &MatchResult{
		RadiusKm:                s.cfg.RadiusKm,
		ClinicalProbabilityText: req.ClinicalProbabilityText,
	}

	if req.Origin != nil {
		if err := req.Origin.Validate(); err != nil {
			return nil, err
		}
		result.Origin = *req.Origin
		result.OriginSource = OriginRequest
	}

	var (
		located    geo.Coordinate
		locateErr  error
		hospitals  []HospitalRecord
		catalogErr error
	)
	needLocate := req.Origin == nil && s.locator != nil && paramedicID != ""

	// Both lookups are best effort; their errors degrade the result below.
	var wg sync.WaitGroup
	if needLocate {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
			defer cancel()
			located, locateErr = s.locator.Locate(lctx, paramedicID)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
		defer cancel()
		hospitals, catalogErr = s.hospitals.List(cctx)
	}()
	wg.Wait()

	if req.Origin == nil {
		s.resolveOrigin(result, needLocate, located, locateErr, paramedicID)
	}

	if catalogErr != nil {
		s.logger.Warn().Err(catalogErr).Msg("hospital catalog unavailable")
		result.Degraded = true
		result.Warnings = append(result.Warnings, "hospital catalog unavailable: "+describe(catalogErr))
		result.Hospitals = []ScoredHospital{}
		return result, nil
	}

	usable := make([]HospitalRecord, 0, len(hospitals))
	for _, h := range hospitals {
		if err := h.Coordinate.Validate(); err != nil {
			result.Degraded = true
			result.Warnings = append(result.Warnings, fmt.Sprintf("hospital %s skipped: %v", h.ID, err))
			continue
		}
		usable = append(usable, h)
	}

	ranked, excluded, err := s.matcher.Rank(result.Origin, usable, req)
	if err != nil {
		return nil, err
	}
	result.Hospitals = ranked
	result.Excluded = excluded

	s.logger.Debug().
		Str("origin_source", string(result.OriginSource)).
		Int("candidates", len(usable)).
		Int("ranked", len(ranked)).
		Int("excluded", excluded).
		Bool("degraded", result.Degraded).
		Msg("match ranked")
	return result, nil
}

// resolveOrigin applies the geolocation then default fallback. Any fallback
// to the default coordinate marks the result degraded, since distances are
// then measured from a place the patient probably is not.
func (s *Service) resolveOrigin(result *MatchResult, attempted bool, located geo.Coordinate, err error, paramedicID string) {
	if attempted && err == nil {
		result.Origin = located
		result.OriginSource = OriginGeolocation
		return
	}

	result.Origin = s.cfg.DefaultOrigin
	result.OriginSource = OriginDefault
	result.Degraded = true

	switch {
	case !attempted:
		result.Warnings = append(result.Warnings, "no origin supplied; using default coordinate")
	case errors.Is(err, apperr.ErrNotFound):
		result.Warnings = append(result.Warnings, "no recent position reported; using default coordinate")
	default:
		s.logger.Warn().Err(err).Str("paramedic_id", paramedicID).Msg("geolocation unavailable")
		result.Warnings = append(result.Warnings, "geolocation unavailable: "+describe(err)+"; using default coordinate")
	}
}

func describe(err error) string {
	if apperr.IsTimeout(err) {
		return "timed out"
	}
	return apperr.Code(err)
}

func (s *Service) ListHospitals(ctx context.Context) ([]HospitalRecord, error) {
	return s.hospitals.List(ctx)
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*HospitalRecord, error) {
	return s.hospitals.GetByID(ctx, id)
}

// UpdateCapacity records a bed count refresh from a hospital.
func (s *Service) UpdateCapacity(ctx context.Context, id uuid.UUID, availableBeds, icuBeds int) (*HospitalRecord, error) {
	if availableBeds < 0 {
		return nil, apperr.Validation("available_beds must not be negative")
	}
	if icuBeds < 0 {
		return nil, apperr.Validation("icu_beds must not be negative")
	}
	h, err := s.hospitals.UpdateCapacity(ctx, id, availableBeds, icuBeds)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("hospital_id", id.String()).
		Int("available_beds", availableBeds).
		Int("icu_beds", icuBeds).
		Msg("capacity updated")
	return h, nil
}
