package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Well-known setting keys. Session-scoped settings use the session's ID,
// global settings use an empty session ID.
const (
	SettingScheduleEnabled = "schedule.enabled"
	SettingNotifyEnabled   = "notify.enabled"
	SettingListenAddr      = "server.listen_addr"
)

// LoadSettings returns key/value settings for the given session scope.
// Pass an empty sessionID for global settings. Optional keys limit the
// selection to specific entries.
func (s *Store) LoadSettings(ctx context.Context, sessionID string, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings WHERE session_id = ?`
	args := []any{sessionID}

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		key, value, err := scanStringPair(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}

	return result, nil
}

// SaveSettings upserts the provided key/value pairs in the given scope.
func (s *Store) SaveSettings(ctx context.Context, sessionID string, values map[string]string) error {
	if err := s.ensureWritable("save settings"); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (session_id, key, value, updated_at)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(session_id, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, sessionID, key, value); err != nil {
				return fmt.Errorf("config: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// Setting returns a single setting value, or defaultValue when unset.
func (s *Store) Setting(ctx context.Context, sessionID, key, defaultValue string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE session_id = ? AND key = ?`,
		sessionID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultValue, nil
	}
	if err != nil {
		return "", fmt.Errorf("config: load setting %q: %w", key, err)
	}
	return value, nil
}
