package cases

import (
	"context"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

type CaseRepository interface {
	// Create stores c with version 1 and its creation history row.
	Create(ctx context.Context, c *Case, actor auth.Actor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	List(ctx context.Context, f ListFilter) ([]Case, int, error)
	// UpdateStatus moves the case to the given state only if it is still at
	// from and version, bumping the version and appending a history row.
	UpdateStatus(ctx context.Context, id uuid.UUID, from Status, version int, to Status, actor auth.Actor) (*Case, error)
	History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error)
}
