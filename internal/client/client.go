// Package client communicates with the likod control API over HTTP and
// WebSocket transports.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liko-dev/liko/internal/config/store"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 8 << 10
)

// Session is the wire form of a session's endpoint configuration.
type Session struct {
	SessionID      string `json:"session_id"`
	JWTAPI         string `json:"jwt_api"`
	LikeAPI        string `json:"like_api"`
	GitHubRepo     string `json:"github_repo"`
	GitHubFilePath string `json:"github_file_path"`
	NotifyChat     string `json:"notify_chat,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// RunSummary is the outcome of the most recent completed run.
type RunSummary struct {
	RunID           string `json:"run_id"`
	Aborted         bool   `json:"aborted"`
	Reason          string `json:"reason,omitempty"`
	TokensAttempted int    `json:"tokens_attempted"`
	TokensOK        int    `json:"tokens_ok"`
	TokensFailed    int    `json:"tokens_failed"`
	TokensSkipped   int    `json:"tokens_skipped"`
	PublishStatus   string `json:"publish_status"`
	TargetsOK       int    `json:"targets_ok"`
	TargetsFailed   int    `json:"targets_failed"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at"`
}

// SessionStatus reports whether a session's schedule loop is active and,
// when a run has completed, its outcome.
type SessionStatus struct {
	SessionID string      `json:"session_id"`
	Running   bool        `json:"running"`
	LastRun   *RunSummary `json:"last_run,omitempty"`
}

// Client communicates with the daemon control API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewInitialisedClient constructs a client from explicit parameters.
func NewInitialisedClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// BaseURL returns the base HTTP URL the client is configured to use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token configured for the client, if any.
func (c *Client) Token() string {
	return c.token
}

// Version returns the daemon's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/version", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// Health checks whether the daemon is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", &struct{}{})
}

// Metrics fetches the Prometheus exposition text.
func (c *Client) Metrics(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Sessions lists all configured sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.getJSON(ctx, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Session fetches one session's configuration.
func (c *Client) Session(ctx context.Context, sessionID string) (Session, error) {
	var out Session
	err := c.getJSON(ctx, "/api/sessions/"+sessionID, &out)
	return out, err
}

// UpsertSession creates or updates a session's endpoint configuration.
func (c *Client) UpsertSession(ctx context.Context, session Session) error {
	return c.doJSON(ctx, http.MethodPost, "/api/sessions", session, nil)
}

// DeleteSession removes a session and everything scoped to it.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+sessionID, nil, nil)
}

// Accounts fetches the session's guest account roster.
func (c *Client) Accounts(ctx context.Context, sessionID string) ([]store.GuestAccount, error) {
	var out struct {
		Accounts []store.GuestAccount `json:"accounts"`
	}
	err := c.getJSON(ctx, "/api/sessions/"+sessionID+"/accounts", &out)
	return out.Accounts, err
}

// ReplaceAccounts uploads a roster, either JSON or loosely formatted
// uid/password text, replacing the session's credential list. Returns the
// number of accounts stored.
func (c *Client) ReplaceAccounts(ctx context.Context, sessionID string, raw []byte) (int, error) {
	req, err := c.newRequest(ctx, http.MethodPut, "/api/sessions/"+sessionID+"/accounts", bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, readAPIError(resp)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("client: decode response: %w", err)
	}
	return out.Count, nil
}

// Targets lists the session's target UIDs.
func (c *Client) Targets(ctx context.Context, sessionID string) ([]string, error) {
	var out struct {
		Targets []string `json:"targets"`
	}
	err := c.getJSON(ctx, "/api/sessions/"+sessionID+"/targets", &out)
	return out.Targets, err
}

// AddTargets appends target UIDs, skipping duplicates. Returns the number
// actually added.
func (c *Client) AddTargets(ctx context.Context, sessionID string, uids []string) (int, error) {
	var out struct {
		Added int `json:"added"`
	}
	body := map[string][]string{"uids": uids}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/targets", body, &out); err != nil {
		return 0, err
	}
	return out.Added, nil
}

// RemoveTarget deletes one target UID.
func (c *Client) RemoveTarget(ctx context.Context, sessionID, uid string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+sessionID+"/targets/"+uid, nil, nil)
}

// SetSecret stores an encrypted secret for the session. An empty session
// ID addresses the global scope.
func (c *Client) SetSecret(ctx context.Context, sessionID, key, value string) error {
	body := map[string]string{"value": value}
	return c.doJSON(ctx, http.MethodPut, "/api/sessions/"+secretScope(sessionID)+"/secrets/"+key, body, nil)
}

// DeleteSecret removes a stored secret.
func (c *Client) DeleteSecret(ctx context.Context, sessionID, key string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+secretScope(sessionID)+"/secrets/"+key, nil, nil)
}

// secretScope substitutes the "-" placeholder the API uses for global
// secrets.
func secretScope(sessionID string) string {
	if sessionID == "" {
		return "-"
	}
	return sessionID
}

// StartSession starts the session's periodic schedule loop.
func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/start", nil, nil)
}

// StopSession stops the session's schedule loop.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/stop", nil, nil)
}

// RunSession triggers a single immediate pass. The daemon runs it in the
// background; progress arrives on the event stream.
func (c *Client) RunSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/run", nil, nil)
}

// Status reports whether the session's schedule loop is active.
func (c *Client) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	var out SessionStatus
	err := c.getJSON(ctx, "/api/sessions/"+sessionID+"/status", &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, target)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("client: %s %s: %w", method, path, readAPIError(resp))
	}
	if target == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return errors.New(trimmed)
}
