package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/realtime"
)

const (
	EventPatientAdmitted      = "triage.patient_admitted"
	EventPatientStatusChanged = "triage.status_changed"
)

type Service struct {
	patients  PatientRepository
	publisher realtime.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(patients PatientRepository, publisher realtime.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		patients:  patients,
		publisher: publisher,
		logger:    logger.With().Str("component", "triage").Logger(),
		now:       time.Now,
	}
}

func (s *Service) Admit(ctx context.Context, p *Patient, actor auth.Actor) error {
	if err := p.validate(); err != nil {
		return err
	}
	if !p.CanAdmit(actor) {
		return fmt.Errorf("cannot admit into hospital %s: %w", *p.HospitalID, apperr.ErrForbidden)
	}
	if p.ArrivedAt.IsZero() {
		p.ArrivedAt = s.now().UTC()
	}
	p.Status = StatusWaiting
	if err := s.patients.Create(ctx, p); err != nil {
		return err
	}
	s.publish(ctx, EventPatientAdmitted, p)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// Queue returns the patients matching f ordered by key.
func (s *Service) Queue(ctx context.Context, f ListFilter, key SortKey) ([]Patient, error) {
	items, err := s.patients.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return Rank(items, key), nil
}

func (s *Service) Summary(ctx context.Context, f ListFilter) (Summary, error) {
	items, err := s.patients.List(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(items), nil
}

// UpdateStatus moves one patient along the status graph. The write is
// conditional on the status that was read. Patients of another hospital are
// refused before the transition is looked at.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor auth.Actor) (*Patient, error) {
	cur, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.CanModify(actor) {
		return nil, fmt.Errorf("triage patient %s belongs to another hospital: %w", id, apperr.ErrForbidden)
	}
	if err := CheckTransition(cur.Status, to); err != nil {
		return nil, err
	}
	updated, err := s.patients.UpdateStatus(ctx, id, cur.Status, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("patient_id", id.String()).
		Str("from", string(cur.Status)).
		Str("to", string(to)).
		Msg("triage status changed")
	s.publish(ctx, EventPatientStatusChanged, updated)
	return updated, nil
}

// BulkUpdateStatus applies to to every selected patient, in the order the
// queue displays them under key. Each id succeeds or fails on its own.
func (s *Service) BulkUpdateStatus(ctx context.Context, sel *Selection, to Status, key SortKey, actor auth.Actor) ([]BulkResult, error) {
	if sel.Len() == 0 {
		return nil, apperr.Validation("ids must not be empty")
	}
	all, err := s.patients.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	selected, missing := sel.Apply(Rank(all, key))

	results := make([]BulkResult, 0, sel.Len())
	for _, p := range selected {
		res := BulkResult{ID: p.ID}
		updated, err := s.UpdateStatus(ctx, p.ID, to, actor)
		if err != nil {
			res.Code, res.Message = apperr.Code(err), err.Error()
			res.Status = p.Status
		} else {
			res.OK, res.Status = true, updated.Status
		}
		results = append(results, res)
	}
	for _, id := range missing {
		results = append(results, BulkResult{ID: id, Code: apperr.Code(apperr.ErrNotFound), Message: "triage patient not found"})
	}
	return results, nil
}

func (s *Service) publish(ctx context.Context, typ string, p *Patient) {
	if s.publisher == nil {
		return
	}
	topics := []string{realtime.TopicTriage}
	if p.HospitalID != nil {
		topics = append(topics, realtime.TriageHospitalTopic(*p.HospitalID))
	}
	ev, err := realtime.NewEvent(typ, topics, p)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("event", typ).Str("patient_id", p.ID.String()).Msg("publish failed")
	}
}
