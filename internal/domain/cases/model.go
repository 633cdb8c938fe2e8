package cases

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/fsm"
)

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityUrgent   Severity = "Urgent"
	SeverityStable   Severity = "Stable"
)

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "urgent":
		return SeverityUrgent, nil
	case "stable":
		return SeverityStable, nil
	}
	return "", apperr.Validation("unknown severity %q", s)
}

type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusAccepted        Status = "accepted"
	StatusDeclined        Status = "declined"
	StatusEnRoute         Status = "en_route"
	StatusArrived         Status = "arrived"
	StatusHandoffComplete Status = "handoff_complete"
)

var allStatuses = []Status{
	StatusPendingApproval, StatusAccepted, StatusDeclined,
	StatusEnRoute, StatusArrived, StatusHandoffComplete,
}

func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if v == st {
			return st, nil
		}
	}
	return "", apperr.Validation("unknown case status %q", s)
}

var lifecycle = fsm.New("case", []fsm.Edge[Status]{
	{From: StatusPendingApproval, To: StatusAccepted},
	{From: StatusPendingApproval, To: StatusDeclined},
	{From: StatusAccepted, To: StatusEnRoute},
	{From: StatusEnRoute, To: StatusArrived},
	{From: StatusArrived, To: StatusHandoffComplete},
}, StatusDeclined, StatusHandoffComplete)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool { return lifecycle.IsTerminal(s) }

// Next lists the states s may move to, sorted by name.
func (s Status) Next() []Status {
	next := lifecycle.Next(s)
	slices.Sort(next)
	return next
}

// initiator is the role that performs the move into each state.
var initiator = map[Status]string{
	StatusAccepted:        auth.RoleHospital,
	StatusDeclined:        auth.RoleHospital,
	StatusEnRoute:         auth.RoleParamedic,
	StatusArrived:         auth.RoleParamedic,
	StatusHandoffComplete: auth.RoleHospital,
}

// Case is a single paramedic-to-hospital transport. PatientID, ParamedicID
// and HospitalID never change after creation.
type Case struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ParamedicID string    `json:"paramedic_id"`
	HospitalID  uuid.UUID `json:"hospital_id"`
	Severity    Severity  `json:"severity"`
	ETAMinutes  int       `json:"eta_minutes"`
	Notes       string    `json:"notes"`
	Status      Status    `json:"status"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CanView reports whether a takes part in the case.
func (c *Case) CanView(a auth.Actor) bool {
	switch {
	case a.IsAdmin():
		return true
	case a.Has(auth.RoleHospital) && a.HospitalID == c.HospitalID:
		return true
	case a.Has(auth.RoleParamedic) && a.ID == c.ParamedicID:
		return true
	}
	return false
}

// CheckTransition validates moving c to the given state on behalf of a. The
// lifecycle graph is checked before the actor, so an impossible move is
// always reported as an invalid transition.
func CheckTransition(c *Case, to Status, a auth.Actor) error {
	if err := lifecycle.Check(c.Status, to); err != nil {
		return err
	}
	if a.IsAdmin() {
		return nil
	}
	switch initiator[to] {
	case auth.RoleHospital:
		if a.Has(auth.RoleHospital) && a.HospitalID == c.HospitalID {
			return nil
		}
	case auth.RoleParamedic:
		if a.Has(auth.RoleParamedic) && a.ID == c.ParamedicID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be set by the case's %s", apperr.ErrForbidden, to, initiator[to])
}

// HistoryEntry records one status change. From is nil for creation.
type HistoryEntry struct {
	CaseID    uuid.UUID `json:"case_id"`
	From      *Status   `json:"from,omitempty"`
	To        Status    `json:"to"`
	ActorRole string    `json:"actor_role"`
	ActorID   string    `json:"actor_id"`
	Version   int       `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
}

// CreateInput carries the fields a paramedic supplies for a new case.
type CreateInput struct {
	PatientID   uuid.UUID `json:"patient_id"`
	HospitalID  uuid.UUID `json:"hospital_id"`
	ParamedicID string    `json:"paramedic_id,omitempty"`
	Severity    string    `json:"severity"`
	ETAMinutes  int       `json:"eta_minutes"`
	Notes       string    `json:"notes"`
}

// ListFilter narrows a case listing. Zero values match everything.
type ListFilter struct {
	HospitalID  uuid.UUID
	ParamedicID string
	Status      Status
	Limit       int
	Offset      int
}
