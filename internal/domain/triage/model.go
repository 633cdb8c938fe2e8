package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/fsm"
)

// Status is the position of a patient in the treatment flow.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusInTreatment Status = "in_treatment"
	StatusTransferred Status = "transferred"
	StatusDischarged  Status = "discharged"
)

// ParseStatus accepts the canonical names plus the hyphenated
// "in-treatment" spelling used by older clients.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "waiting":
		return StatusWaiting, nil
	case "in_treatment", "in-treatment":
		return StatusInTreatment, nil
	case "transferred":
		return StatusTransferred, nil
	case "discharged":
		return StatusDischarged, nil
	}
	return "", apperr.Validation("unknown triage status %q", s)
}

// Active reports whether the patient still occupies the queue.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusInTreatment
}

// statusGraph allows only forward movement; nothing returns to waiting.
var statusGraph = fsm.New("triage patient", []fsm.Edge[Status]{
	{From: StatusWaiting, To: StatusInTreatment},
	{From: StatusInTreatment, To: StatusTransferred},
	{From: StatusWaiting, To: StatusDischarged},
	{From: StatusInTreatment, To: StatusDischarged},
}, StatusTransferred, StatusDischarged)

// CheckTransition returns an error matching apperr.ErrInvalidTransition when
// from -> to is not allowed.
func CheckTransition(from, to Status) error {
	return statusGraph.Check(from, to)
}

const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Patient is an entry in a triage queue. Severity level 1 is the most urgent.
type Patient struct {
	ID                   uuid.UUID  `json:"id"`
	HospitalID           *uuid.UUID `json:"hospital_id,omitempty"`
	Name                 string     `json:"name"`
	SeverityLevel        int        `json:"severity_level"`
	ArrivedAt            time.Time  `json:"arrived_at"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
	NeedsVentilator      bool       `json:"needs_ventilator"`
	ChiefComplaint       string     `json:"chief_complaint,omitempty"`
	Status               Status     `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CanModify reports whether a may change p. A patient assigned to a hospital
// belongs to that hospital's staff; unassigned patients sit on the shared
// field board and any responder may move them.
func (p *Patient) CanModify(a auth.Actor) bool {
	if a.IsAdmin() || p.HospitalID == nil {
		return true
	}
	return a.Has(auth.RoleHospital) && a.HospitalID == *p.HospitalID
}

// CanAdmit reports whether a may place p in a queue. Paramedics bring patients
// to any hospital; hospital staff only admit into their own queue.
func (p *Patient) CanAdmit(a auth.Actor) bool {
	if p.CanModify(a) {
		return true
	}
	return a.Has(auth.RoleParamedic) && !a.Has(auth.RoleHospital)
}

func (p *Patient) validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.SeverityLevel < MinSeverity || p.SeverityLevel > MaxSeverity {
		return apperr.Validation("severity_level must be between %d and %d", MinSeverity, MaxSeverity)
	}
	if p.EstimatedWaitMinutes < 0 {
		return apperr.Validation("estimated_wait_minutes must not be negative")
	}
	return nil
}

// SortKey selects the primary ordering of a queue.
type SortKey string

const (
	SortSeverity SortKey = "severity"
	SortArrival  SortKey = "arrival"
	SortWait     SortKey = "wait"
	SortName     SortKey = "name"
)

// ParseSortKey maps an empty string to SortSeverity.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortSeverity, nil
	case SortSeverity, SortArrival, SortWait, SortName:
		return k, nil
	}
	return "", apperr.Validation("unknown sort key %q", s)
}

// Summary is a count of a queue by level and status.
type Summary struct {
	Total             int            `json:"total"`
	Active            int            `json:"active"`
	BySeverity        map[int]int    `json:"by_severity"`
	ByStatus          map[Status]int `json:"by_status"`
	VentilatorsNeeded int            `json:"ventilators_needed"`
}

// Summarize counts patients. Ventilator demand only includes active patients.
func Summarize(patients []Patient) Summary {
	s := Summary{
		BySeverity: make(map[int]int, MaxSeverity),
		ByStatus:   make(map[Status]int, 4),
	}
	for lvl := MinSeverity; lvl <= MaxSeverity; lvl++ {
		s.BySeverity[lvl] = 0
	}
	for _, st := range []Status{StatusWaiting, StatusInTreatment, StatusTransferred, StatusDischarged} {
		s.ByStatus[st] = 0
	}
	for _, p := range patients {
		s.Total++
		s.BySeverity[p.SeverityLevel]++
		s.ByStatus[p.Status]++
		if p.Status.Active() {
			s.Active++
			if p.NeedsVentilator {
				s.VentilatorsNeeded++
			}
		}
	}
	return s
}

// BulkResult reports the outcome of one id in a bulk status update.
type BulkResult struct {
	ID      uuid.UUID `json:"id"`
	Status  Status    `json:"status,omitempty"`
	OK      bool      `json:"ok"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (r BulkResult) String() string {
	if r.OK {
		return fmt.Sprintf("%s: %s", r.ID, r.Status)
	}
	return fmt.Sprintf("%s: %s", r.ID, r.Code)
}
