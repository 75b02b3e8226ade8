package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		jwt_api TEXT NOT NULL DEFAULT '',
		like_api TEXT NOT NULL DEFAULT '',
		github_repo TEXT NOT NULL DEFAULT '',
		github_file_path TEXT NOT NULL DEFAULT '',
		notify_chat TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS guest_accounts (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		uid TEXT NOT NULL,
		password TEXT NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS targets (
		session_id TEXT NOT NULL,
		uid TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, uid),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		session_id TEXT NOT NULL DEFAULT '',
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS security_settings (
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, key)
	)`,
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("config: apply schema: %w", err)
		}
	}
	return nil
}
