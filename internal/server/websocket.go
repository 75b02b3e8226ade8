package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liko-dev/liko/internal/eventbus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to loopback and auth happens before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the wire form of a bus envelope streamed to clients.
type wsEvent struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// handleEventsWebSocket streams run lifecycle and progress events. An
// optional topic query parameter ("lifecycle" or "progress") narrows the
// stream; the default is both.
func (s *APIServer) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	topics := []eventbus.Topic{eventbus.TopicRunsLifecycle, eventbus.TopicRunsProgress}
	switch r.URL.Query().Get("topic") {
	case "":
	case "lifecycle":
		topics = []eventbus.Topic{eventbus.TopicRunsLifecycle}
	case "progress":
		topics = []eventbus.Topic{eventbus.TopicRunsProgress}
	default:
		writeError(w, http.StatusBadRequest, "unknown topic")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[APIServer] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	merged := make(chan eventbus.Envelope, wsSendBuffer)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range topics {
		sub := s.bus.Subscribe(topic,
			eventbus.WithSubscriptionName("ws_"+string(topic)),
			eventbus.WithSubscriptionBuffer(wsSendBuffer))
		defer sub.Close()

		go func(sub *eventbus.Subscription) {
			for {
				select {
				case env, ok := <-sub.C():
					if !ok {
						return
					}
					select {
					case merged <- env:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(sub)
	}

	// Reader goroutine: consume control frames and detect disconnect.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case env := <-merged:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteJSON(wsEvent{
				Topic:     string(env.Topic),
				Source:    string(env.Source),
				Timestamp: env.Timestamp,
				Payload:   env.Payload,
			})
			if err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
	}
}
