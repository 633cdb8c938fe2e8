// Package realtime delivers domain events to websocket subscribers, locally
// through a topic hub and across replicas through a Redis channel.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a change notification addressed to one or more topics.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topics    []string        `json:"topics"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into a new event.
func NewEvent(typ string, topics []string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Topics:    topics,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Publisher sends an event to every subscriber of its topics.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ClientMessage is an inbound subscription request from a websocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	// EventSubscriptions is sent back after each subscription change.
	EventSubscriptions = "subscriptions"
)

// SubscriptionState is the payload of an EventSubscriptions event.
type SubscriptionState struct {
	Topics []string `json:"topics"`
	Denied []string `json:"denied,omitempty"`
}
