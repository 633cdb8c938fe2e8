package cases

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/platform/realtime"
)

// Board is an observer's view of cases built from change events. Delivery is
// at least once, so an event carrying a version the board already holds, or
// an older one, is ignored.
type Board struct {
	mu    sync.RWMutex
	cases map[uuid.UUID]Case
}

func NewBoard() *Board {
	return &Board{cases: make(map[uuid.UUID]Case)}
}

// Apply stores c if it is newer than the held copy and reports whether the
// board changed.
func (b *Board) Apply(c Case) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if held, ok := b.cases[c.ID]; ok && held.Version >= c.Version {
		return false
	}
	b.cases[c.ID] = c
	return true
}

// ApplyEvent decodes a case event and applies it. Events of other types are
// ignored.
func (b *Board) ApplyEvent(ev realtime.Event) (bool, error) {
	if ev.Type != EventCaseCreated && ev.Type != EventCaseStatusChanged {
		return false, nil
	}
	var c Case
	if err := json.Unmarshal(ev.Data, &c); err != nil {
		return false, fmt.Errorf("decode %s event %s: %w", ev.Type, ev.ID, err)
	}
	return b.Apply(c), nil
}

func (b *Board) Get(id uuid.UUID) (Case, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cases[id]
	return c, ok
}

// Cases returns the held cases, most recently updated first.
func (b *Board) Cases() []Case {
	b.mu.RLock()
	out := make([]Case, 0, len(b.cases))
	for _, c := range b.cases {
		out = append(out, c)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
