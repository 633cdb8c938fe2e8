package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/realtime"
)

// -- Mock Repository --

type mockPatientRepo struct {
	mu      sync.Mutex
	store   map[uuid.UUID]*Patient
	order   []uuid.UUID
	listErr error
	// hospitals, when set, is the set of hospital ids Create accepts.
	hospitals map[uuid.UUID]bool
	// beforeUpdate runs between the service's read and its conditional write.
	beforeUpdate func(id uuid.UUID)
}

func newMockPatientRepo(patients ...Patient) *mockPatientRepo {
	m := &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
	for i := range patients {
		p := patients[i]
		m.store[p.ID] = &p
		m.order = append(m.order, p.ID)
	}
	return m
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hospitals != nil && p.HospitalID != nil && !m.hospitals[*p.HospitalID] {
		return fmt.Errorf("hospital %s: %w", *p.HospitalID, apperr.ErrNotFound)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.store[p.ID] = &cp
	m.order = append(m.order, p.ID)
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("triage patient %s: %w", id, apperr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) List(_ context.Context, f ListFilter) ([]Patient, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Patient
	for _, id := range m.order {
		p := m.store[id]
		if f.HospitalID != nil && (p.HospitalID == nil || *p.HospitalID != *f.HospitalID) {
			continue
		}
		if f.ActiveOnly && !p.Status.Active() {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockPatientRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Patient, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("triage patient %s: %w", id, apperr.ErrNotFound)
	}
	if p.Status != from {
		return nil, fmt.Errorf("triage patient %s: %w", id, apperr.ErrConcurrentModification)
	}
	p.Status = to
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) setStatus(id uuid.UUID, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[id].Status = s
}

// -- Mock Publisher --

type mockPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, ev realtime.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}

func newTestService(repo *mockPatientRepo) (*Service, *mockPublisher) {
	pub := &mockPublisher{}
	svc := NewService(repo, pub, zerolog.Nop())
	svc.now = func() time.Time { return t0 }
	return svc, pub
}

var (
	hospitalA = uuid.MustParse("7a1c3e9b-2f4d-4c61-9a0e-5b8d2f6c1a01")
	hospitalB = uuid.MustParse("7a1c3e9b-2f4d-4c61-9a0e-5b8d2f6c1a02")

	medic  = auth.Actor{ID: "medic-1", Roles: []string{auth.RoleParamedic}}
	staffA = auth.Actor{ID: "desk-a", Roles: []string{auth.RoleHospital}, HospitalID: hospitalA}
	staffB = auth.Actor{ID: "desk-b", Roles: []string{auth.RoleHospital}, HospitalID: hospitalB}
	admin  = auth.Actor{ID: "ops", Roles: []string{auth.RoleAdmin}}
)

func atHospital(p Patient, id uuid.UUID) Patient {
	p.HospitalID = &id
	return p
}

// -- Tests --

func TestService_Admit(t *testing.T) {
	repo := newMockPatientRepo()
	svc, pub := newTestService(repo)
	hospital := uuid.New()

	p := &Patient{Name: "Ravi", SeverityLevel: 2, HospitalID: &hospital, Status: StatusDischarged}
	if err := svc.Admit(context.Background(), p, medic); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if p.Status != StatusWaiting {
		t.Errorf("new patients always start waiting, got %s", p.Status)
	}
	if !p.ArrivedAt.Equal(t0) {
		t.Errorf("expected arrival defaulted to now, got %v", p.ArrivedAt)
	}

	if len(pub.events) != 1 || pub.events[0].Type != EventPatientAdmitted {
		t.Fatalf("expected one admitted event, got %v", pub.types())
	}
	topics := pub.events[0].Topics
	if len(topics) != 2 || topics[0] != realtime.TopicTriage || topics[1] != realtime.TriageHospitalTopic(hospital) {
		t.Errorf("unexpected topics %v", topics)
	}
}

func TestService_Admit_Invalid(t *testing.T) {
	svc, pub := newTestService(newMockPatientRepo())
	err := svc.Admit(context.Background(), &Patient{Name: "X", SeverityLevel: 9}, medic)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Error("nothing should be published for a rejected admission")
	}
}

func TestService_Queue(t *testing.T) {
	a, b, c := patient("A", 3, 0, 0), patient("B", 1, 0, 1), patient("C", 2, 0, 2)
	c.Status = StatusDischarged
	svc, _ := newTestService(newMockPatientRepo(a, b, c))

	got, err := svc.Queue(context.Background(), ListFilter{}, SortSeverity)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if n := names(got); !equal(n, []string{"B", "C", "A"}) {
		t.Errorf("unexpected order %v", n)
	}

	active, _ := svc.Queue(context.Background(), ListFilter{ActiveOnly: true}, SortSeverity)
	if n := names(active); !equal(n, []string{"B", "A"}) {
		t.Errorf("unexpected active order %v", n)
	}
}

func TestService_UpdateStatus(t *testing.T) {
	p := patient("A", 1, 0, 0)
	svc, pub := newTestService(newMockPatientRepo(p))

	got, err := svc.UpdateStatus(context.Background(), p.ID, StatusInTreatment, medic)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != StatusInTreatment {
		t.Errorf("expected in_treatment, got %s", got.Status)
	}
	if ts := pub.types(); len(ts) != 1 || ts[0] != EventPatientStatusChanged {
		t.Errorf("expected status changed event, got %v", ts)
	}

	_, err = svc.UpdateStatus(context.Background(), p.ID, StatusWaiting, medic)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition going back to waiting, got %v", err)
	}
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	svc, _ := newTestService(newMockPatientRepo())
	_, err := svc.UpdateStatus(context.Background(), uuid.New(), StatusDischarged, medic)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_UpdateStatus_ConcurrentModification(t *testing.T) {
	p := patient("A", 1, 0, 0)
	repo := newMockPatientRepo(p)
	repo.beforeUpdate = func(id uuid.UUID) { repo.setStatus(id, StatusDischarged) }
	svc, pub := newTestService(repo)

	_, err := svc.UpdateStatus(context.Background(), p.ID, StatusInTreatment, medic)
	if !errors.Is(err, apperr.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Error("a lost race must not publish")
	}
}

func TestService_PublishFailureDoesNotFailUpdate(t *testing.T) {
	p := patient("A", 1, 0, 0)
	repo := newMockPatientRepo(p)
	svc, pub := newTestService(repo)
	pub.err = errors.New("redis down")

	if _, err := svc.UpdateStatus(context.Background(), p.ID, StatusDischarged, medic); err != nil {
		t.Fatalf("publish failures must not fail the update: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), p.ID)
	if stored.Status != StatusDischarged {
		t.Errorf("expected stored status discharged, got %s", stored.Status)
	}
}

func TestService_BulkUpdateStatus(t *testing.T) {
	a := patient("A", 3, 0, 0)
	b := patient("B", 1, 0, 1)
	done := patient("C", 2, 0, 2)
	done.Status = StatusTransferred
	svc, _ := newTestService(newMockPatientRepo(a, b, done))
	gone := uuid.New()

	results, err := svc.BulkUpdateStatus(context.Background(), NewSelection(a.ID, b.ID, done.ID, gone), StatusInTreatment, SortSeverity, medic)
	if err != nil {
		t.Fatalf("BulkUpdateStatus: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	// display order by severity is B, C, A; unknown ids come last
	want := []struct {
		id   uuid.UUID
		ok   bool
		code string
	}{
		{b.ID, true, ""},
		{done.ID, false, "invalid_transition"},
		{a.ID, true, ""},
		{gone, false, "not_found"},
	}
	for i, w := range want {
		r := results[i]
		if r.ID != w.id || r.OK != w.ok || r.Code != w.code {
			t.Errorf("result[%d] = %+v, want id=%s ok=%v code=%q", i, r, w.id, w.ok, w.code)
		}
	}
	if results[1].Status != StatusTransferred {
		t.Errorf("failed result should report current status, got %s", results[1].Status)
	}
}

func TestService_BulkUpdateStatus_EmptySelection(t *testing.T) {
	svc, _ := newTestService(newMockPatientRepo())
	_, err := svc.BulkUpdateStatus(context.Background(), NewSelection(), StatusDischarged, SortSeverity, medic)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_Summary(t *testing.T) {
	a := patient("A", 1, 0, 0)
	a.NeedsVentilator = true
	svc, _ := newTestService(newMockPatientRepo(a, patient("B", 4, 0, 1)))

	s, err := svc.Summary(context.Background(), ListFilter{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Total != 2 || s.VentilatorsNeeded != 1 || s.BySeverity[4] != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestService_Summary_UpstreamError(t *testing.T) {
	repo := newMockPatientRepo()
	repo.listErr = apperr.Upstream("list triage patients", errors.New("connection refused"))
	svc, _ := newTestService(repo)

	if _, err := svc.Summary(context.Background(), ListFilter{}); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestService_UpdateStatus_HospitalScope(t *testing.T) {
	tests := []struct {
		name  string
		actor auth.Actor
		ok    bool
	}{
		{"own hospital", staffA, true},
		{"admin", admin, true},
		{"other hospital", staffB, false},
		{"paramedic", medic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := atHospital(patient("A", 2, 0, 0), hospitalA)
			repo := newMockPatientRepo(p)
			svc, pub := newTestService(repo)

			_, err := svc.UpdateStatus(context.Background(), p.ID, StatusDischarged, tt.actor)
			stored, _ := repo.GetByID(context.Background(), p.ID)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, apperr.ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
			if stored.Status != StatusWaiting {
				t.Errorf("refused update must not write, got %s", stored.Status)
			}
			if len(pub.events) != 0 {
				t.Error("refused update must not publish")
			}
		})
	}
}

func TestService_UpdateStatus_SharedBoardOpen(t *testing.T) {
	p := patient("A", 2, 0, 0)
	svc, _ := newTestService(newMockPatientRepo(p))
	if _, err := svc.UpdateStatus(context.Background(), p.ID, StatusInTreatment, staffB); err != nil {
		t.Fatalf("unassigned patients are open to any responder: %v", err)
	}
}

func TestService_BulkUpdateStatus_ForeignPatientsRefused(t *testing.T) {
	own := atHospital(patient("A", 1, 0, 0), hospitalA)
	foreign := atHospital(patient("B", 2, 0, 1), hospitalB)
	svc, _ := newTestService(newMockPatientRepo(own, foreign))

	results, err := svc.BulkUpdateStatus(context.Background(), NewSelection(own.ID, foreign.ID), StatusDischarged, SortSeverity, staffA)
	if err != nil {
		t.Fatalf("BulkUpdateStatus: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].OK {
		t.Errorf("own patient should be discharged, got %+v", results[0])
	}
	if results[1].OK || results[1].Code != apperr.Code(apperr.ErrForbidden) {
		t.Errorf("foreign patient should be forbidden, got %+v", results[1])
	}
}

func TestService_Admit_HospitalScope(t *testing.T) {
	svc, _ := newTestService(newMockPatientRepo())

	p := &Patient{Name: "Lena", SeverityLevel: 3, HospitalID: &hospitalA}
	if err := svc.Admit(context.Background(), p, staffB); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden admitting into another hospital, got %v", err)
	}
	if err := svc.Admit(context.Background(), p, staffA); err != nil {
		t.Fatalf("own hospital admit: %v", err)
	}
	q := &Patient{Name: "Omar", SeverityLevel: 2, HospitalID: &hospitalB}
	if err := svc.Admit(context.Background(), q, medic); err != nil {
		t.Fatalf("paramedic admit: %v", err)
	}
}
