package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Secret keys used by the pipeline.
const (
	SecretGitHubToken = "github_token"
	SecretNotifyToken = "notify_token"
)

// SetSecret encrypts and stores a per-session secret value.
func (s *Store) SetSecret(ctx context.Context, sessionID, key, value string) error {
	if err := s.ensureWritable("set secret"); err != nil {
		return err
	}
	if s.encryptionKey == nil {
		return fmt.Errorf("config: set secret: no encryption key available")
	}

	encrypted, err := encryptValue(s.encryptionKey, value)
	if err != nil {
		return fmt.Errorf("config: encrypt secret %q: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO security_settings (session_id, key, value, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(session_id, key) DO UPDATE SET
            value = excluded.value,
            updated_at = CURRENT_TIMESTAMP
    `, sessionID, key, encrypted)
	if err != nil {
		return fmt.Errorf("config: save secret %q: %w", key, err)
	}
	return nil
}

// Secret returns the decrypted value of a per-session secret.
func (s *Store) Secret(ctx context.Context, sessionID, key string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM security_settings WHERE session_id = ? AND key = ?`,
		sessionID, key).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", NotFoundError{Entity: "secret", Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: load secret %q: %w", key, err)
	}

	if s.encryptionKey == nil {
		return "", fmt.Errorf("config: secret %q exists but no encryption key is loaded", key)
	}
	value, err := decryptValue(s.encryptionKey, stored)
	if err != nil {
		return "", fmt.Errorf("config: decrypt secret %q: %w", key, err)
	}
	return value, nil
}

// DeleteSecret removes a per-session secret. Missing secrets are not an error.
func (s *Store) DeleteSecret(ctx context.Context, sessionID, key string) error {
	if err := s.ensureWritable("delete secret"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM security_settings WHERE session_id = ? AND key = ?`,
		sessionID, key)
	if err != nil {
		return fmt.Errorf("config: delete secret %q: %w", key, err)
	}
	return nil
}
