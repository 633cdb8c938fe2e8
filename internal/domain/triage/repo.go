package triage

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a queue. A nil HospitalID lists every patient, which is
// the mass-casualty view.
type ListFilter struct {
	HospitalID *uuid.UUID
	ActiveOnly bool
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, f ListFilter) ([]Patient, error)
	// UpdateStatus writes to only if the stored status is still from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Patient, error)
}
