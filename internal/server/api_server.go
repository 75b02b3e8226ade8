// Package server exposes the daemon's HTTP control surface: session
// configuration, runtime control, metrics and the websocket event stream.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/liko-dev/liko/internal/config/store"
	"github.com/liko-dev/liko/internal/eventbus"
	"github.com/liko-dev/liko/internal/pipeline"
)

// DefaultPort is the control API's default listen port.
const DefaultPort = 7641

// apiTokenKey is the global secret under which the control API token lives.
const apiTokenKey = "api_token"

// SchedulerControl is the runtime surface the server drives.
type SchedulerControl interface {
	Start(ctx context.Context, sessionID string) error
	Stop(sessionID string) error
	RunOnce(ctx context.Context, sessionID string) (pipeline.RunOutcome, error)
	Running(sessionID string) bool
	LastOutcome(sessionID string) (pipeline.RunOutcome, bool)
	Sessions() []string
}

// PrometheusExporter renders observability metrics in Prometheus exposition
// format.
type PrometheusExporter interface {
	Export() []byte
}

// APIServer serves the HTTP control API.
type APIServer struct {
	store     *store.Store
	scheduler SchedulerControl
	bus       *eventbus.Bus
	exporter  PrometheusExporter
	logger    *log.Logger

	binding string
	port    int

	authToken string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Option configures an APIServer.
type Option func(*APIServer)

// WithBinding overrides the listen address (default 127.0.0.1).
func WithBinding(binding string) Option {
	return func(s *APIServer) { s.binding = binding }
}

// WithPort overrides the listen port. Port 0 picks a free port, useful in
// tests.
func WithPort(port int) Option {
	return func(s *APIServer) { s.port = port }
}

// WithExporter attaches the metrics exporter behind /metrics.
func WithExporter(exporter PrometheusExporter) Option {
	return func(s *APIServer) { s.exporter = exporter }
}

// WithLogger overrides the server logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *APIServer) { s.logger = logger }
}

// New creates an APIServer. The control token is loaded from the store's
// global secrets, generated on first start.
func New(st *store.Store, scheduler SchedulerControl, bus *eventbus.Bus, opts ...Option) (*APIServer, error) {
	s := &APIServer{
		store:     st,
		scheduler: scheduler,
		bus:       bus,
		logger:    log.Default(),
		binding:   "127.0.0.1",
		port:      DefaultPort,
	}
	for _, opt := range opts {
		opt(s)
	}

	token, err := loadOrCreateToken(st)
	if err != nil {
		return nil, err
	}
	s.authToken = token

	return s, nil
}

func loadOrCreateToken(st *store.Store) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := st.Secret(ctx, "", apiTokenKey)
	if err == nil {
		return token, nil
	}
	if !store.IsNotFound(err) {
		return "", fmt.Errorf("server: load api token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("server: generate api token: %w", err)
	}
	token = hex.EncodeToString(raw)
	if err := st.SetSecret(ctx, "", apiTokenKey, token); err != nil {
		return "", fmt.Errorf("server: store api token: %w", err)
	}
	return token, nil
}

// Token returns the control API bearer token.
func (s *APIServer) Token() string {
	return s.authToken
}

// Port returns the bound port. Valid after Start.
func (s *APIServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Start binds the listener and serves until Shutdown.
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.binding, s.port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	httpServer := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Printf("[APIServer] listening on %s", listener.Addr())

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("[APIServer] serve error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func (s *APIServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /version", s.requireAuth(s.handleVersion))
	mux.Handle("GET /metrics", s.requireAuth(s.handleMetrics))

	mux.Handle("GET /api/sessions", s.requireAuth(s.handleListSessions))
	mux.Handle("POST /api/sessions", s.requireAuth(s.handleUpsertSession))
	mux.Handle("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))

	mux.Handle("GET /api/sessions/{id}/accounts", s.requireAuth(s.handleGetAccounts))
	mux.Handle("PUT /api/sessions/{id}/accounts", s.requireAuth(s.handleReplaceAccounts))

	mux.Handle("GET /api/sessions/{id}/targets", s.requireAuth(s.handleGetTargets))
	mux.Handle("POST /api/sessions/{id}/targets", s.requireAuth(s.handleAddTargets))
	mux.Handle("DELETE /api/sessions/{id}/targets/{uid}", s.requireAuth(s.handleRemoveTarget))

	mux.Handle("PUT /api/sessions/{id}/secrets/{key}", s.requireAuth(s.handleSetSecret))
	mux.Handle("DELETE /api/sessions/{id}/secrets/{key}", s.requireAuth(s.handleDeleteSecret))

	mux.Handle("POST /api/sessions/{id}/start", s.requireAuth(s.handleStartSession))
	mux.Handle("POST /api/sessions/{id}/stop", s.requireAuth(s.handleStopSession))
	mux.Handle("POST /api/sessions/{id}/run", s.requireAuth(s.handleRunSession))
	mux.Handle("GET /api/sessions/{id}/status", s.requireAuth(s.handleSessionStatus))

	mux.Handle("GET /ws/events", s.requireAuth(s.handleEventsWebSocket))

	return mux
}

// requireAuth enforces the bearer token. Websocket clients may pass the
// token via the access_token query parameter since browsers cannot set
// headers on websocket upgrades.
func (s *APIServer) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
