package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/domain/matching"
	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/realtime"
)

const (
	EventCaseCreated       = "case.created"
	EventCaseStatusChanged = "case.status_changed"
)

// Topics lists every topic a change to c is published on.
func Topics(c *Case) []string {
	return []string{
		realtime.TopicCases,
		realtime.CaseTopic(c.ID),
		realtime.HospitalTopic(c.HospitalID),
		realtime.ParamedicTopic(c.ParamedicID),
	}
}

// HospitalLookup resolves the destination hospital of a new case.
type HospitalLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*matching.HospitalRecord, error)
}

type Service struct {
	cases     CaseRepository
	hospitals HospitalLookup
	publisher realtime.Publisher
	logger    zerolog.Logger
}

func NewService(cases CaseRepository, hospitals HospitalLookup, publisher realtime.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		cases:     cases,
		hospitals: hospitals,
		publisher: publisher,
		logger:    logger.With().Str("component", "cases").Logger(),
	}
}

// Create opens a case in pending_approval on behalf of a paramedic. Admins
// may name the paramedic explicitly.
func (s *Service) Create(ctx context.Context, in CreateInput, actor auth.Actor) (*Case, error) {
	severity, err := ParseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}
	if in.HospitalID == uuid.Nil {
		return nil, apperr.Validation("hospital_id is required")
	}
	if in.ETAMinutes < 0 {
		return nil, apperr.Validation("eta_minutes must not be negative")
	}

	paramedicID := actor.ID
	if actor.IsAdmin() && strings.TrimSpace(in.ParamedicID) != "" {
		paramedicID = strings.TrimSpace(in.ParamedicID)
	} else if !actor.Has(auth.RoleParamedic) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only paramedics open cases", apperr.ErrForbidden)
	}
	if paramedicID == "" {
		return nil, apperr.Validation("paramedic_id is required")
	}

	if s.hospitals != nil {
		h, err := s.hospitals.GetByID(ctx, in.HospitalID)
		if err != nil {
			return nil, err
		}
		if !h.EmergencyServices {
			return nil, apperr.Validation("hospital %s does not accept emergency cases", h.Name)
		}
	}

	c := &Case{
		PatientID:   in.PatientID,
		ParamedicID: paramedicID,
		HospitalID:  in.HospitalID,
		Severity:    severity,
		ETAMinutes:  in.ETAMinutes,
		Notes:       strings.TrimSpace(in.Notes),
		Status:      StatusPendingApproval,
	}
	if c.PatientID == uuid.Nil {
		c.PatientID = uuid.New()
	}
	if err := s.cases.Create(ctx, c, actor); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_id", c.ID.String()).
		Str("hospital_id", c.HospitalID.String()).
		Str("paramedic_id", c.ParamedicID).
		Str("severity", string(c.Severity)).
		Msg("case created")
	s.publish(ctx, EventCaseCreated, c)
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.CanView(actor) {
		return nil, fmt.Errorf("%w: not a participant in case %s", apperr.ErrForbidden, id)
	}
	return c, nil
}

// List returns the cases visible to actor. Non-admin callers are scoped to
// their own hospital or their own cases whatever the filter says.
func (s *Service) List(ctx context.Context, f ListFilter, actor auth.Actor) ([]Case, int, error) {
	switch {
	case actor.IsAdmin():
	case actor.Has(auth.RoleHospital):
		if actor.HospitalID == uuid.Nil {
			return nil, 0, fmt.Errorf("%w: token is not bound to a hospital", apperr.ErrForbidden)
		}
		f.HospitalID = actor.HospitalID
	case actor.Has(auth.RoleParamedic):
		f.ParamedicID = actor.ID
	default:
		return nil, 0, apperr.ErrForbidden
	}
	return s.cases.List(ctx, f)
}

// Transition moves a case to the given state. When expectedVersion is set
// and the stored version differs, the call fails with a concurrent
// modification error without writing. The write itself is conditional on
// the status and version that were read, so of two racing callers only one
// succeeds. Failures are never retried here.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, expectedVersion *int, actor auth.Actor) (*Case, error) {
	cur, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.CanView(actor) {
		return nil, fmt.Errorf("%w: not a participant in case %s", apperr.ErrForbidden, id)
	}
	if expectedVersion != nil && *expectedVersion != cur.Version {
		return nil, fmt.Errorf("case %s is at version %d, not %d: %w", id, cur.Version, *expectedVersion, apperr.ErrConcurrentModification)
	}
	if err := CheckTransition(cur, to, actor); err != nil {
		return nil, err
	}

	updated, err := s.cases.UpdateStatus(ctx, id, cur.Status, cur.Version, to, actor)
	if err != nil {
		if errors.Is(err, apperr.ErrConcurrentModification) {
			s.logger.Info().Str("case_id", id.String()).Str("to", string(to)).Msg("transition lost race")
		}
		return nil, err
	}

	s.logger.Info().
		Str("case_id", id.String()).
		Str("from", string(cur.Status)).
		Str("to", string(to)).
		Int("version", updated.Version).
		Str("actor", actor.ID).
		Msg("case transitioned")
	s.publish(ctx, EventCaseStatusChanged, updated)
	return updated, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]HistoryEntry, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.cases.History(ctx, id)
}

// publish runs after the write has committed. A failed publish is logged;
// observers catch up from the REST API.
func (s *Service) publish(ctx context.Context, typ string, c *Case) {
	if s.publisher == nil {
		return
	}
	ev, err := realtime.NewEvent(typ, Topics(c), c)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", typ).Str("case_id", c.ID.String()).Int("version", c.Version).Msg("publish failed")
	}
}
