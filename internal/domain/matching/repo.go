package matching

import (
	"context"

	"github.com/google/uuid"
)

// HospitalProvider supplies the candidate hospital set for a ranking.
type HospitalProvider interface {
	List(ctx context.Context) ([]HospitalRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*HospitalRecord, error)
}

// HospitalRepository is the persistent hospital catalog.
type HospitalRepository interface {
	HospitalProvider
	// Upsert inserts h or updates the stored hospital with the same id. An
	// existing hospital keeps its live bed counts unless resetCapacity is
	// set; h is updated to the counts that were stored.
	Upsert(ctx context.Context, h *HospitalRecord, resetCapacity bool) error
	UpdateCapacity(ctx context.Context, id uuid.UUID, availableBeds, icuBeds int) (*HospitalRecord, error)
}
