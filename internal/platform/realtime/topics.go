package realtime

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

const (
	TopicCases  = "cases"
	TopicTriage = "triage"
)

func CaseTopic(id uuid.UUID) string           { return "case/" + id.String() }
func HospitalTopic(id uuid.UUID) string       { return "hospital/" + id.String() }
func ParamedicTopic(id string) string         { return "paramedic/" + id }
func TriageHospitalTopic(id uuid.UUID) string { return "triage/hospital/" + id.String() }

// TopicPolicy decides whether an actor may subscribe to a topic.
type TopicPolicy func(a auth.Actor, topic string) bool

// DefaultTopicPolicy lets admins watch everything. Paramedics may watch their
// own feed, any single case and the triage board; hospital staff may watch
// their hospital's feeds, any single case and the triage board.
func DefaultTopicPolicy(a auth.Actor, topic string) bool {
	if a.IsAdmin() {
		return true
	}
	paramedic, hospital := a.Has(auth.RoleParamedic), a.Has(auth.RoleHospital)
	ownHospital := hospital && a.HospitalID != uuid.Nil

	switch {
	case strings.HasPrefix(topic, "case/"):
		_, err := uuid.Parse(strings.TrimPrefix(topic, "case/"))
		return err == nil && (paramedic || hospital)
	case topic == TopicTriage:
		return paramedic || hospital
	case strings.HasPrefix(topic, "paramedic/"):
		return paramedic && topic == ParamedicTopic(a.ID)
	case strings.HasPrefix(topic, "triage/hospital/"):
		return ownHospital && topic == TriageHospitalTopic(a.HospitalID)
	case strings.HasPrefix(topic, "hospital/"):
		return ownHospital && topic == HospitalTopic(a.HospitalID)
	}
	return false
}

// DefaultTopics are subscribed automatically when an actor connects.
func DefaultTopics(a auth.Actor) []string {
	var topics []string
	if a.Has(auth.RoleParamedic) && a.ID != "" {
		topics = append(topics, ParamedicTopic(a.ID))
	}
	if a.Has(auth.RoleHospital) && a.HospitalID != uuid.Nil {
		topics = append(topics, HospitalTopic(a.HospitalID))
	}
	return topics
}
