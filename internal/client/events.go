package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const websocketHandshakeTimeout = 10 * time.Second

// Event is one entry from the daemon's event stream.
type Event struct {
	Topic     string         `json:"topic"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// StreamEvents opens the daemon's websocket event stream. topic may be
// empty (all run events), "lifecycle" or "progress". The returned channel
// closes when the connection drops or ctx is cancelled.
func (c *Client) StreamEvents(ctx context.Context, topic string) (<-chan Event, error) {
	wsURL, err := c.eventsURL(topic)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocketHandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("client: connect event stream: %w: %w", err, readAPIError(resp))
		}
		return nil, fmt.Errorf("client: connect event stream: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var event Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return events, nil
}

func (c *Client) eventsURL(topic string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("client: parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"

	query := u.Query()
	query.Set("access_token", c.token)
	if topic != "" {
		query.Set("topic", topic)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
