package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Watcher is a websocket subscriber used by command line observers.
type Watcher struct {
	URL    string
	Token  string
	Topics []string
	Dialer *websocket.Dialer
}

// Run connects, subscribes to w.Topics and calls fn for every event until
// ctx is cancelled or the connection fails.
func (w Watcher) Run(ctx context.Context, fn func(Event)) error {
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if w.Token != "" {
		header.Set("Authorization", "Bearer "+w.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, w.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", w.URL, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", w.URL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if len(w.Topics) > 0 {
		if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, Topics: w.Topics}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		fn(ev)
	}
}

// DeniedTopics extracts the refused topics from a subscriptions event.
func DeniedTopics(ev Event) []string {
	if ev.Type != EventSubscriptions {
		return nil
	}
	var st SubscriptionState
	if err := json.Unmarshal(ev.Data, &st); err != nil {
		return nil
	}
	return st.Denied
}
