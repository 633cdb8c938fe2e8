package triage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func patient(name string, level, waitMin int, arrivedMin int) Patient {
	return Patient{
		ID:                   uuid.New(),
		Name:                 name,
		SeverityLevel:        level,
		EstimatedWaitMinutes: waitMin,
		ArrivedAt:            t0.Add(time.Duration(arrivedMin) * time.Minute),
		Status:               StatusWaiting,
	}
}

func names(ps []Patient) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRank_SeverityStable(t *testing.T) {
	// levels [3,1,5,2,2]; the two level-2 patients keep their input order
	in := []Patient{
		patient("A", 3, 10, 0),
		patient("B", 1, 20, 1),
		patient("C", 5, 5, 2),
		patient("D", 2, 15, 3),
		patient("E", 2, 30, 4),
	}
	got := Rank(in, SortSeverity)

	levels := make([]int, len(got))
	for i, p := range got {
		levels[i] = p.SeverityLevel
	}
	want := []int{1, 2, 2, 3, 5}
	for i := range want {
		if levels[i] != want[i] {
			t.Fatalf("expected levels %v, got %v", want, levels)
		}
	}
	if got[1].Name != "D" || got[2].Name != "E" {
		t.Errorf("expected D before E, got %v", names(got))
	}
	if in[0].Name != "A" || in[1].Name != "B" {
		t.Error("input slice must not be reordered")
	}
}

func TestRank_Keys(t *testing.T) {
	in := []Patient{
		patient("carol", 2, 30, 5),
		patient("Alice", 4, 10, 10),
		patient("bob", 1, 20, 0),
	}
	tests := []struct {
		key  SortKey
		want []string
	}{
		{SortSeverity, []string{"bob", "carol", "Alice"}},
		{SortArrival, []string{"bob", "carol", "Alice"}},
		{SortWait, []string{"Alice", "bob", "carol"}},
		{SortName, []string{"Alice", "bob", "carol"}},
		{"", []string{"bob", "carol", "Alice"}},
	}
	for _, tt := range tests {
		if got := names(Rank(in, tt.key)); !equal(got, tt.want) {
			t.Errorf("Rank(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	if got := Rank(nil, SortWait); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestSelection_SurvivesResort(t *testing.T) {
	in := []Patient{
		patient("A", 3, 5, 0),
		patient("B", 1, 50, 1),
		patient("C", 2, 20, 2),
	}
	sel := NewSelection(in[0].ID, in[1].ID)

	bySeverity, _ := sel.Apply(Rank(in, SortSeverity))
	if got := names(bySeverity); !equal(got, []string{"B", "A"}) {
		t.Errorf("severity order: got %v", got)
	}

	byWait, _ := sel.Apply(Rank(in, SortWait))
	if got := names(byWait); !equal(got, []string{"A", "B"}) {
		t.Errorf("wait order: got %v", got)
	}
	if sel.Len() != 2 {
		t.Errorf("re-sorting must not change the selection, len %d", sel.Len())
	}
}

func TestSelection_DeduplicatesIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	sel := NewSelection(a, b, a)

	if sel.Len() != 2 {
		t.Fatalf("expected 2 selected, got %d", sel.Len())
	}
	if !sel.Has(a) || !sel.Has(b) || sel.Has(uuid.New()) {
		t.Error("unexpected membership")
	}
}

func TestSelection_ApplyReportsMissing(t *testing.T) {
	in := []Patient{patient("A", 1, 0, 0)}
	gone := uuid.New()
	sel := NewSelection(in[0].ID, gone)

	selected, missing := sel.Apply(in)
	if len(selected) != 1 || selected[0].ID != in[0].ID {
		t.Errorf("unexpected selected %v", names(selected))
	}
	if len(missing) != 1 || missing[0] != gone {
		t.Errorf("expected %s missing, got %v", gone, missing)
	}
}
