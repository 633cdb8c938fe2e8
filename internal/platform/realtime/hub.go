package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

// Client is a single subscriber connection.
type Client struct {
	ID    string
	Actor auth.Actor
	Send  chan []byte

	topics map[string]struct{}
}

// NewClient returns a client with a send buffer of the given size.
func NewClient(id string, actor auth.Actor, buffer int) *Client {
	return &Client{
		ID:     id,
		Actor:  actor,
		Send:   make(chan []byte, buffer),
		topics: make(map[string]struct{}),
	}
}

// Hub tracks clients and their topic subscriptions. It is safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
	policy  TopicPolicy
	logger  zerolog.Logger
	dropped atomic.Int64
}

// NewHub returns a hub that admits subscriptions allowed by policy. A nil
// policy allows every topic.
func NewHub(policy TopicPolicy, logger zerolog.Logger) *Hub {
	if policy == nil {
		policy = func(auth.Actor, string) bool { return true }
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		policy:  policy,
		logger:  logger,
	}
}

// Register adds a client and subscribes it to the allowed subset of topics.
func (h *Hub) Register(client *Client, topics ...string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.topics == nil {
		client.topics = make(map[string]struct{})
	}
	h.all[client] = struct{}{}
	return h.subscribeLocked(client, topics)
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for topic := range client.topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client and returns the topics the
// policy refused.
func (h *Hub) Subscribe(client *Client, topics []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return topics
	}
	return h.subscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) (denied []string) {
	for _, topic := range topics {
		if topic == "" || !h.policy(client.Actor, topic) {
			denied = append(denied, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
	return denied
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(client, topic)
	}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
	delete(client.topics, topic)
}

// Topics returns the client's current subscriptions, sorted.
func (h *Hub) Topics(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedTopics(client)
}

func sortedTopics(client *Client) []string {
	out := make([]string, 0, len(client.topics))
	for t := range client.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ProcessMessage applies a subscription request and replies to the client
// with its resulting subscription state.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	var denied []string
	switch msg.Action {
	case ActionSubscribe:
		denied = h.Subscribe(client, msg.Topics)
	case ActionUnsubscribe:
		h.Unsubscribe(client, msg.Topics)
	default:
		return
	}
	h.reportSubscriptions(client, denied)
}

// reportSubscriptions sends client a subscriptions event listing its topics
// and the ones just refused. Clients that already left get nothing.
func (h *Hub) reportSubscriptions(client *Client, denied []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	ev, err := NewEvent(EventSubscriptions, nil, SubscriptionState{Topics: sortedTopics(client), Denied: denied})
	if err != nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.sendLocked(client, data)
}

// Deliver sends ev to every client subscribed to at least one of its
// topics. A client matching several topics receives the event once.
func (h *Hub) Deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", ev.Type).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, topic := range ev.Topics {
		for client := range h.clients[topic] {
			if _, dup := seen[client]; dup {
				continue
			}
			seen[client] = struct{}{}
			h.sendLocked(client, data)
		}
	}
}

func (h *Hub) sendLocked(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		// Slow consumer; it resyncs from the REST API on reconnect.
		h.dropped.Add(1)
		h.logger.Warn().Str("client_id", client.ID).Msg("client buffer full, event dropped")
	}
}

// Publish delivers the event to local subscribers.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Deliver(ev)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Dropped returns how many deliveries were skipped because a client's
// buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
