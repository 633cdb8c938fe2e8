package geo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/cache"
)

type mockKV struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
	delErr error
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *mockKV) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	b, ok := m.data[key]
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(b, dest)
}

func (m *mockKV) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = b
	m.ttls[key] = ttl
	return nil
}

func (m *mockKV) Delete(_ context.Context, keys ...string) error {
	if m.delErr != nil {
		return m.delErr
	}
	for _, k := range keys {
		delete(m.data, k)
		delete(m.ttls, k)
	}
	return nil
}

func TestPositionStore_Clear(t *testing.T) {
	kv := newMockKV()
	s := NewPositionStore(kv, 0)
	if _, err := s.Save(context.Background(), "medic-1", Coordinate{12.30, 76.64}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(context.Background(), "medic-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Locate(context.Background(), "medic-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
	if err := s.Clear(context.Background(), "medic-1"); err != nil {
		t.Errorf("clearing twice should succeed, got %v", err)
	}

	kv.delErr = errors.New("connection refused")
	if err := s.Clear(context.Background(), "medic-1"); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if err := s.Clear(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for empty id, got %v", err)
	}
}

func TestPositionStore_SaveAndLocate(t *testing.T) {
	kv := newMockKV()
	s := NewPositionStore(kv, 0)

	p, err := s.Save(context.Background(), "medic-1", Coordinate{12.30, 76.64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RecordedAt.IsZero() {
		t.Error("expected RecordedAt to be set")
	}
	if kv.ttls["position:medic-1"] != DefaultPositionTTL {
		t.Errorf("expected default ttl, got %v", kv.ttls["position:medic-1"])
	}

	c, err := s.Locate(context.Background(), "medic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != (Coordinate{12.30, 76.64}) {
		t.Errorf("unexpected coordinate %v", c)
	}
}

func TestPositionStore_SaveRejectsInvalid(t *testing.T) {
	s := NewPositionStore(newMockKV(), time.Minute)
	if _, err := s.Save(context.Background(), "medic-1", Coordinate{100, 0}); !errors.Is(err, apperr.ErrInvalidCoordinate) {
		t.Errorf("expected ErrInvalidCoordinate, got %v", err)
	}
	if _, err := s.Save(context.Background(), "", Coordinate{1, 1}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestPositionStore_LocateMissing(t *testing.T) {
	s := NewPositionStore(newMockKV(), time.Minute)
	_, err := s.Locate(context.Background(), "nobody")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionStore_UpstreamFailures(t *testing.T) {
	kv := newMockKV()
	kv.getErr = cache.ErrDisabled
	kv.setErr = errors.New("connection reset")
	s := NewPositionStore(kv, time.Minute)

	if _, err := s.Locate(context.Background(), "medic-1"); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if _, err := s.Save(context.Background(), "medic-1", Coordinate{1, 1}); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
