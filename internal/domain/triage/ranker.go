package triage

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Rank returns a new slice ordered by key. The sort is stable, so patients
// equal on the key keep their input order. The input is not modified.
func Rank(patients []Patient, key SortKey) []Patient {
	out := make([]Patient, len(patients))
	copy(out, patients)

	var less func(a, b *Patient) bool
	switch key {
	case SortArrival:
		less = func(a, b *Patient) bool { return a.ArrivedAt.Before(b.ArrivedAt) }
	case SortWait:
		less = func(a, b *Patient) bool { return a.EstimatedWaitMinutes < b.EstimatedWaitMinutes }
	case SortName:
		less = func(a, b *Patient) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	default:
		less = func(a, b *Patient) bool { return a.SeverityLevel < b.SeverityLevel }
	}

	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

// Selection is the set of patients checked for a batch action. It is kept
// apart from any ranking so it survives a re-sort.
type Selection struct {
	ids map[uuid.UUID]struct{}
}

func NewSelection(ids ...uuid.UUID) *Selection {
	s := &Selection{ids: make(map[uuid.UUID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Selection) Has(id uuid.UUID) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Len() int { return len(s.ids) }

// Apply returns the selected patients in the order they appear in ranked,
// and the selected ids that ranked does not contain.
func (s *Selection) Apply(ranked []Patient) (selected []Patient, missing []uuid.UUID) {
	found := make(map[uuid.UUID]struct{}, len(s.ids))
	for _, p := range ranked {
		if s.Has(p.ID) {
			selected = append(selected, p)
			found[p.ID] = struct{}{}
		}
	}
	for id := range s.ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].String() < missing[j].String() })
	return selected, missing
}
