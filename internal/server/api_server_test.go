package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liko-dev/liko/internal/config/store"
	"github.com/liko-dev/liko/internal/eventbus"
	"github.com/liko-dev/liko/internal/pipeline"
	"github.com/liko-dev/liko/internal/scheduler"
)

// stubScheduler implements SchedulerControl without real runtimes.
type stubScheduler struct {
	mu      sync.Mutex
	running map[string]bool
	runs    int
	last    map[string]pipeline.RunOutcome
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{
		running: make(map[string]bool),
		last:    make(map[string]pipeline.RunOutcome),
	}
}

func (s *stubScheduler) Start(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[sessionID] {
		return fmt.Errorf("%w: %s", scheduler.ErrAlreadyRunning, sessionID)
	}
	s.running[sessionID] = true
	return nil
}

func (s *stubScheduler) Stop(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running[sessionID] {
		return fmt.Errorf("%w: %s", scheduler.ErrNotRunning, sessionID)
	}
	delete(s.running, sessionID)
	return nil
}

func (s *stubScheduler) RunOnce(ctx context.Context, sessionID string) (pipeline.RunOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	outcome := pipeline.RunOutcome{SessionID: sessionID}
	s.last[sessionID] = outcome
	return outcome, nil
}

func (s *stubScheduler) LastOutcome(sessionID string) (pipeline.RunOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.last[sessionID]
	return outcome, ok
}

func (s *stubScheduler) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[sessionID]
}

func (s *stubScheduler) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

type testServer struct {
	api   *APIServer
	http  *httptest.Server
	store *store.Store
	sched *stubScheduler
	bus   *eventbus.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.Open(store.Options{DBPath: filepath.Join(t.TempDir(), "config.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	t.Cleanup(bus.Shutdown)

	sched := newStubScheduler()
	api, err := New(st, sched, bus)
	if err != nil {
		t.Fatalf("new api server: %v", err)
	}

	ts := httptest.NewServer(api.routes())
	t.Cleanup(ts.Close)

	return &testServer{api: api, http: ts, store: st, sched: sched, bus: bus}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.api.Token())

	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	// No token.
	resp, err := ts.http.Client().Get(ts.http.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest(http.MethodGet, ts.http.URL+"/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp2.StatusCode)
	}

	// Health is reachable without auth.
	resp3, err := ts.http.Client().Get(ts.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp3.StatusCode)
	}
}

func TestSessionCRUD(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/sessions", sessionPayload{
		SessionID:      "main",
		JWTAPI:         "https://tokens.example.com/token",
		LikeAPI:        "https://likes.example.com/like",
		GitHubRepo:     "acme/tokens",
		GitHubFilePath: "data/tokens.json",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodGet, "/api/sessions/main", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decodeJSON[sessionPayload](t, resp)
	if got.JWTAPI != "https://tokens.example.com/token" {
		t.Fatalf("session = %+v", got)
	}

	resp = ts.request(t, http.MethodGet, "/api/sessions/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodDelete, "/api/sessions/main", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestAccountsAndTargets(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.request(t, http.MethodPost, "/api/sessions", sessionPayload{SessionID: "main"})

	// Roster upload accepts free text.
	req, _ := http.NewRequest(http.MethodPut, ts.http.URL+"/api/sessions/main/accounts",
		strings.NewReader("uid: 111\npassword: aaa\n\nuid: 222\npassword: bbb\n"))
	req.Header.Set("Authorization", "Bearer "+ts.api.Token())
	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("put accounts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put accounts status = %d", resp.StatusCode)
	}
	if got := decodeJSON[map[string]int](t, resp); got["count"] != 2 {
		t.Fatalf("count = %d", got["count"])
	}

	resp = ts.request(t, http.MethodPost, "/api/sessions/main/targets",
		map[string][]string{"uids": {"100", "200", "100"}})
	if got := decodeJSON[map[string]int](t, resp); got["added"] != 2 {
		t.Fatalf("added = %d", got["added"])
	}

	resp = ts.request(t, http.MethodDelete, "/api/sessions/main/targets/100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove target status = %d", resp.StatusCode)
	}
	resp = ts.request(t, http.MethodDelete, "/api/sessions/main/targets/100", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove absent target status = %d", resp.StatusCode)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.request(t, http.MethodPost, "/api/sessions", sessionPayload{
		SessionID:      "main",
		JWTAPI:         "https://t.example.com",
		LikeAPI:        "https://l.example.com",
		GitHubRepo:     "acme/tokens",
		GitHubFilePath: "tokens.json",
	})

	// Incomplete session (no accounts/targets/token) cannot start.
	resp := ts.request(t, http.MethodPost, "/api/sessions/main/start", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("incomplete start status = %d", resp.StatusCode)
	}

	// Complete the session.
	req, _ := http.NewRequest(http.MethodPut, ts.http.URL+"/api/sessions/main/accounts",
		strings.NewReader(`[{"uid": "1", "password": "p"}]`))
	req.Header.Set("Authorization", "Bearer "+ts.api.Token())
	if respA, err := ts.http.Client().Do(req); err != nil || respA.StatusCode != http.StatusOK {
		t.Fatalf("seed accounts: %v / %v", err, respA)
	}
	ts.request(t, http.MethodPost, "/api/sessions/main/targets", map[string][]string{"uids": {"9"}})
	ts.request(t, http.MethodPut, "/api/sessions/main/secrets/github_token",
		map[string]string{"value": "ghp_x"})

	resp = ts.request(t, http.MethodPost, "/api/sessions/main/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	resp = ts.request(t, http.MethodPost, "/api/sessions/main/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodGet, "/api/sessions/main/status", nil)
	status := decodeJSON[map[string]any](t, resp)
	if status["running"] != true {
		t.Fatalf("status = %v", status)
	}

	// A running session cannot be deleted.
	resp = ts.request(t, http.MethodDelete, "/api/sessions/main", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete running status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodPost, "/api/sessions/main/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	resp = ts.request(t, http.MethodPost, "/api/sessions/main/stop", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double stop status = %d", resp.StatusCode)
	}
}

func TestEventsWebSocketStreams(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") +
		"/ws/events?access_token=" + ts.api.Token()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// Give the subscription goroutines a moment to attach.
	time.Sleep(50 * time.Millisecond)

	eventbus.Publish(context.Background(), ts.bus, eventbus.Runs.Lifecycle,
		eventbus.SourcePipeline, eventbus.RunLifecycleEvent{
			SessionID: "main",
			RunID:     "run-1",
			State:     eventbus.RunStateStarted,
		})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event wsEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Topic != string(eventbus.TopicRunsLifecycle) {
		t.Fatalf("event topic = %s", event.Topic)
	}

	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", event.Payload)
	}
	if payload["session_id"] != "main" || payload["state"] != "started" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestEventsWebSocketRejectsBadToken(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws/events?access_token=wrong"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
	resp.Body.Close()
}
