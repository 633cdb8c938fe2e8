package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/cache"
)

// DefaultPositionTTL bounds how long a reported position is trusted.
const DefaultPositionTTL = 10 * time.Minute

// Position is the last coordinate reported by a paramedic device.
type Position struct {
	ParamedicID string     `json:"paramedic_id"`
	Coordinate  Coordinate `json:"coordinate"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// KeyValue is the subset of cache.Cache the position store needs.
type KeyValue interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PositionStore keeps the last known coordinate of each paramedic.
type PositionStore struct {
	kv  KeyValue
	ttl time.Duration
	now func() time.Time
}

func NewPositionStore(kv KeyValue, ttl time.Duration) *PositionStore {
	if ttl <= 0 {
		ttl = DefaultPositionTTL
	}
	return &PositionStore{kv: kv, ttl: ttl, now: time.Now}
}

func positionKey(paramedicID string) string {
	return "position:" + paramedicID
}

// Save records a validated coordinate for the paramedic.
func (s *PositionStore) Save(ctx context.Context, paramedicID string, c Coordinate) (*Position, error) {
	if paramedicID == "" {
		return nil, apperr.Validation("paramedic_id is required")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p := &Position{ParamedicID: paramedicID, Coordinate: c, RecordedAt: s.now().UTC()}
	if err := s.kv.Set(ctx, positionKey(paramedicID), p, s.ttl); err != nil {
		return nil, apperr.Upstream("save position", err)
	}
	return p, nil
}

// Clear forgets the paramedic's position, so matches fall back to the
// default origin until the device reports again.
func (s *PositionStore) Clear(ctx context.Context, paramedicID string) error {
	if paramedicID == "" {
		return apperr.Validation("paramedic_id is required")
	}
	if err := s.kv.Delete(ctx, positionKey(paramedicID)); err != nil {
		return apperr.Upstream("clear position", err)
	}
	return nil
}

// Locate returns the paramedic's last known coordinate.
func (s *PositionStore) Locate(ctx context.Context, paramedicID string) (Coordinate, error) {
	var p Position
	err := s.kv.Get(ctx, positionKey(paramedicID), &p)
	switch {
	case err == nil:
	case cache.IsMiss(err):
		return Coordinate{}, fmt.Errorf("position for paramedic %s: %w", paramedicID, apperr.ErrNotFound)
	default:
		return Coordinate{}, apperr.Upstream("locate paramedic", err)
	}
	if err := p.Coordinate.Validate(); err != nil {
		return Coordinate{}, err
	}
	return p.Coordinate, nil
}
