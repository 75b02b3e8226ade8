package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AddTargets inserts target UIDs that are not already present for the
// session and returns how many were actually added. Duplicates within the
// input and UIDs already stored are silently skipped.
func (s *Store) AddTargets(ctx context.Context, sessionID string, uids []string) (int, error) {
	if err := s.ensureWritable("add targets"); err != nil {
		return 0, err
	}
	if err := s.requireSession(ctx, sessionID); err != nil {
		return 0, err
	}

	added := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO targets (session_id, uid) VALUES (?, ?)
            ON CONFLICT(session_id, uid) DO NOTHING
        `)
		if err != nil {
			return fmt.Errorf("config: prepare insert target: %w", err)
		}
		defer stmt.Close()

		for _, uid := range uids {
			if uid == "" {
				continue
			}
			result, err := stmt.ExecContext(ctx, sessionID, uid)
			if err != nil {
				return fmt.Errorf("config: insert target %s: %w", uid, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("config: insert target %s: %w", uid, err)
			}
			added += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// RemoveTarget deletes a single target UID. Returns true when a row was
// removed, false when the UID was not in the list.
func (s *Store) RemoveTarget(ctx context.Context, sessionID, uid string) (bool, error) {
	if err := s.ensureWritable("remove target"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM targets WHERE session_id = ? AND uid = ?`, sessionID, uid)
	if err != nil {
		return false, fmt.Errorf("config: remove target %s: %w", uid, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("config: remove target %s: %w", uid, err)
	}
	return affected > 0, nil
}

// Targets returns the session's target UIDs in insertion order.
func (s *Store) Targets(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid FROM targets WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("config: load targets: %w", err)
	}
	return scanList(rows, scanString,
		"config: scan target row", "config: iterate target rows")
}
