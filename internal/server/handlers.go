package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/liko-dev/liko/internal/accounts"
	"github.com/liko-dev/liko/internal/config/store"
	"github.com/liko-dev/liko/internal/scheduler"
	"github.com/liko-dev/liko/internal/validate"
	"github.com/liko-dev/liko/internal/version"
)

const maxBodyBytes = 4 << 20 // 4MB, rosters can be large

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.String()})
}

func (s *APIServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(s.exporter.Export())
}

// sessionPayload is the wire form of a session's endpoint configuration.
type sessionPayload struct {
	SessionID      string `json:"session_id"`
	JWTAPI         string `json:"jwt_api"`
	LikeAPI        string `json:"like_api"`
	GitHubRepo     string `json:"github_repo"`
	GitHubFilePath string `json:"github_file_path"`
	NotifyChat     string `json:"notify_chat,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func toPayload(cfg store.SessionConfig) sessionPayload {
	return sessionPayload{
		SessionID:      cfg.SessionID,
		JWTAPI:         cfg.JWTAPI,
		LikeAPI:        cfg.LikeAPI,
		GitHubRepo:     cfg.GitHubRepo,
		GitHubFilePath: cfg.GitHubFilePath,
		NotifyChat:     cfg.NotifyChat,
		CreatedAt:      cfg.CreatedAt,
		UpdatedAt:      cfg.UpdatedAt,
	}
}

func (s *APIServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payloads := make([]sessionPayload, 0, len(sessions))
	for _, cfg := range sessions {
		payloads = append(payloads, toPayload(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": payloads})
}

func (s *APIServer) handleUpsertSession(w http.ResponseWriter, r *http.Request) {
	var payload sessionPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validate.SessionID(payload.SessionID) {
		writeError(w, http.StatusBadRequest, "session_id is missing or invalid")
		return
	}
	for name, raw := range map[string]string{"jwt_api": payload.JWTAPI, "like_api": payload.LikeAPI} {
		if raw == "" {
			continue
		}
		if err := validate.HTTPURL(raw); err != nil {
			writeError(w, http.StatusBadRequest, name+": "+err.Error())
			return
		}
	}
	if payload.GitHubRepo != "" && !validate.GitHubRepo(payload.GitHubRepo) {
		writeError(w, http.StatusBadRequest, "github_repo must be owner/name")
		return
	}

	err := s.store.UpsertSession(r.Context(), store.SessionConfig{
		SessionID:      payload.SessionID,
		JWTAPI:         payload.JWTAPI,
		LikeAPI:        payload.LikeAPI,
		GitHubRepo:     payload.GitHubRepo,
		GitHubFilePath: payload.GitHubFilePath,
		NotifyChat:     payload.NotifyChat,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": payload.SessionID})
}

func (s *APIServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(cfg))
}

func (s *APIServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if s.scheduler.Running(sessionID) {
		writeError(w, http.StatusConflict, "session is running; stop it first")
		return
	}
	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": sessionID})
}

func (s *APIServer) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	roster, err := s.store.GuestAccounts(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": roster, "count": len(roster)})
}

// handleReplaceAccounts accepts either a JSON roster or loosely formatted
// uid/password text and swaps the session's credential list.
func (s *APIServer) handleReplaceAccounts(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	roster, err := accounts.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.ReplaceGuestAccounts(r.Context(), r.PathValue("id"), roster); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(roster)})
}

func (s *APIServer) handleGetTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.Targets(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets, "count": len(targets)})
}

func (s *APIServer) handleAddTargets(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UIDs []string `json:"uids"`
	}
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, uid := range payload.UIDs {
		if uid != "" && !validate.UID(uid) {
			writeError(w, http.StatusBadRequest, "invalid uid: "+uid)
			return
		}
	}
	added, err := s.store.AddTargets(r.Context(), r.PathValue("id"), payload.UIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *APIServer) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.RemoveTarget(r.Context(), r.PathValue("id"), r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *APIServer) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.store.SetSecret(r.Context(), secretScope(r.PathValue("id")), r.PathValue("key"), payload.Value); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": r.PathValue("key")})
}

// secretScope maps the route's "-" placeholder to the global secret scope.
func secretScope(id string) string {
	if id == "-" {
		return ""
	}
	return id
}

func (s *APIServer) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSecret(r.Context(), secretScope(r.PathValue("id")), r.PathValue("key")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("key")})
}

func (s *APIServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.store.ValidateSession(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.scheduler.Start(r.Context(), sessionID); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistScheduleFlag(r.Context(), sessionID, "true")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *APIServer) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Stop(r.PathValue("id")); err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistScheduleFlag(r.Context(), r.PathValue("id"), "false")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// handleRunSession triggers a single untracked pass in the background and
// returns immediately; progress arrives via notifications and /ws/events.
func (s *APIServer) handleRunSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.store.ValidateSession(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}

	go func() {
		if _, err := s.scheduler.RunOnce(context.Background(), sessionID); err != nil {
			s.logger.Printf("[APIServer] manual run for %s failed: %v", sessionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *APIServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := s.store.Session(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	status := map[string]any{
		"session_id": sessionID,
		"running":    s.scheduler.Running(sessionID),
	}
	if outcome, ok := s.scheduler.LastOutcome(sessionID); ok {
		status["last_run"] = map[string]any{
			"run_id":           outcome.RunID,
			"aborted":          outcome.Aborted,
			"reason":           outcome.Reason,
			"tokens_attempted": outcome.TokensAttempted,
			"tokens_ok":        outcome.TokensOK,
			"tokens_failed":    outcome.TokensFailed,
			"tokens_skipped":   outcome.TokensSkipped,
			"publish_status":   string(outcome.PublishStatus),
			"targets_ok":       outcome.TargetsOK,
			"targets_failed":   outcome.TargetsFailed,
			"started_at":       outcome.StartedAt,
			"finished_at":      outcome.FinishedAt,
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// persistScheduleFlag records whether the session's schedule loop should
// be resumed after a daemon restart. Best effort.
func (s *APIServer) persistScheduleFlag(ctx context.Context, sessionID, value string) {
	settings := map[string]string{store.SettingScheduleEnabled: value}
	if err := s.store.SaveSettings(ctx, sessionID, settings); err != nil {
		s.logger.Printf("[APIServer] persist schedule flag for %s: %v", sessionID, err)
	}
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return decoder.Decode(target)
}

// writeStoreError maps store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case store.IsIncomplete(err):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
