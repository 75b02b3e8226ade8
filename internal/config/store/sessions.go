package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SessionConfig holds the per-session endpoints and publish destination.
// Guest credentials, targets and the GitHub token live in their own tables
// and are loaded separately.
type SessionConfig struct {
	SessionID      string
	JWTAPI         string // token endpoint, called once per guest credential
	LikeAPI        string // dispatch endpoint, called once per target UID
	GitHubRepo     string // "owner/repo" for token publishing
	GitHubFilePath string // path of the token file inside the repo
	NotifyChat     string // destination chat for progress notifications
	CreatedAt      string
	UpdatedAt      string
}

// IncompleteError reports which required configuration pieces are missing
// for a session. A session with an IncompleteError cannot start a run.
type IncompleteError struct {
	SessionID string
	Missing   []string
}

func (e IncompleteError) Error() string {
	return fmt.Sprintf("config: session %s incomplete: missing %s",
		e.SessionID, strings.Join(e.Missing, ", "))
}

// IsIncomplete returns true when err is (or wraps) an IncompleteError.
func IsIncomplete(err error) bool {
	var target IncompleteError
	return errors.As(err, &target)
}

const sessionColumns = `session_id, jwt_api, like_api, github_repo, github_file_path, notify_chat, created_at, updated_at`

// UpsertSession creates or updates a session's endpoint configuration.
func (s *Store) UpsertSession(ctx context.Context, cfg SessionConfig) error {
	if err := s.ensureWritable("upsert session"); err != nil {
		return err
	}
	if cfg.SessionID == "" {
		return fmt.Errorf("config: upsert session: session id is required")
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions (session_id, jwt_api, like_api, github_repo, github_file_path, notify_chat)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            jwt_api = excluded.jwt_api,
            like_api = excluded.like_api,
            github_repo = excluded.github_repo,
            github_file_path = excluded.github_file_path,
            notify_chat = excluded.notify_chat,
            updated_at = CURRENT_TIMESTAMP
    `, cfg.SessionID, cfg.JWTAPI, cfg.LikeAPI, cfg.GitHubRepo, cfg.GitHubFilePath, cfg.NotifyChat)
	if err != nil {
		return fmt.Errorf("config: upsert session %s: %w", cfg.SessionID, err)
	}
	return nil
}

// Session returns the configuration for a single session.
func (s *Store) Session(ctx context.Context, sessionID string) (SessionConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)

	cfg, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionConfig{}, NotFoundError{Entity: "session", Key: sessionID}
	}
	if err != nil {
		return SessionConfig{}, fmt.Errorf("config: load session %s: %w", sessionID, err)
	}
	return cfg, nil
}

// Sessions lists all configured sessions ordered by creation time.
func (s *Store) Sessions(ctx context.Context) ([]SessionConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("config: list sessions: %w", err)
	}
	return scanList(rows, scanSession, "config: scan session row", "config: iterate session rows")
}

// DeleteSession removes a session and, via cascade, its guest accounts and
// targets. Secrets and settings for the session are removed explicitly.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.ensureWritable("delete session"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("config: delete session %s: %w", sessionID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("config: delete session %s: %w", sessionID, err)
		}
		if affected == 0 {
			return NotFoundError{Entity: "session", Key: sessionID}
		}
		for _, table := range []string{"settings", "security_settings"} {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, table), sessionID); err != nil {
				return fmt.Errorf("config: delete session %s data: %w", sessionID, err)
			}
		}
		return nil
	})
}

// ValidateSession checks that a session has everything a run needs: both
// endpoints, the publish destination, at least one guest account, at least
// one target and a stored GitHub token. Returns an IncompleteError listing
// every missing piece, or nil when the session is runnable.
func (s *Store) ValidateSession(ctx context.Context, sessionID string) error {
	cfg, err := s.Session(ctx, sessionID)
	if err != nil {
		return err
	}

	var missing []string
	if cfg.JWTAPI == "" {
		missing = append(missing, "jwt_api")
	}
	if cfg.LikeAPI == "" {
		missing = append(missing, "like_api")
	}
	if cfg.GitHubRepo == "" {
		missing = append(missing, "github_repo")
	}
	if cfg.GitHubFilePath == "" {
		missing = append(missing, "github_file_path")
	}

	accounts, err := s.GuestAccounts(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		missing = append(missing, "guest_accounts")
	}

	targets, err := s.Targets(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		missing = append(missing, "target_uids")
	}

	token, err := s.Secret(ctx, sessionID, SecretGitHubToken)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if token == "" {
		missing = append(missing, "github_token")
	}

	if len(missing) > 0 {
		return IncompleteError{SessionID: sessionID, Missing: missing}
	}
	return nil
}
