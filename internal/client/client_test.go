package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestsCarryBearerToken(t *testing.T) {
	t.Parallel()

	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"version": "1.2.3"})
	}))
	defer ts.Close()

	c := NewInitialisedClient(ts.URL, "secret-token")
	version, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != "1.2.3" {
		t.Fatalf("version = %q", version)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
}

func TestSessionRoundtrip(t *testing.T) {
	t.Parallel()

	var upserted Session
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			if err := json.NewDecoder(r.Body).Decode(&upserted); err != nil {
				t.Errorf("decode upsert: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"session_id": upserted.SessionID})
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/main":
			json.NewEncoder(w).Encode(upserted)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewInitialisedClient(ts.URL, "tok")
	want := Session{SessionID: "main", JWTAPI: "https://t.example.com", GitHubRepo: "acme/tokens"}
	if err := c.UpsertSession(context.Background(), want); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := c.Session(context.Background(), "main")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got != want {
		t.Fatalf("session = %+v, want %+v", got, want)
	}
}

func TestReplaceAccountsSendsRawBody(t *testing.T) {
	t.Parallel()

	const roster = "uid: 1\npassword: a\n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/sessions/main/accounts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body := make([]byte, len(roster))
		r.Body.Read(body)
		if string(body) != roster {
			t.Errorf("body = %q", body)
		}
		json.NewEncoder(w).Encode(map[string]int{"count": 1})
	}))
	defer ts.Close()

	c := NewInitialisedClient(ts.URL, "tok")
	count, err := c.ReplaceAccounts(context.Background(), "main", []byte(roster))
	if err != nil {
		t.Fatalf("replace accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d", count)
	}
}

func TestAPIErrorsSurfaceMessage(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "session main already running"})
	}))
	defer ts.Close()

	c := NewInitialisedClient(ts.URL, "tok")
	err := c.StartSession(context.Background(), "main")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("error = %v", err)
	}
}

func TestEventsURL(t *testing.T) {
	t.Parallel()

	c := NewInitialisedClient("http://127.0.0.1:7641", "tok")
	got, err := c.eventsURL("lifecycle")
	if err != nil {
		t.Fatalf("events url: %v", err)
	}
	if got != "ws://127.0.0.1:7641/ws/events?access_token=tok&topic=lifecycle" {
		t.Fatalf("url = %q", got)
	}
}
