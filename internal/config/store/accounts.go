package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GuestAccount is one guest credential used to acquire a token. Entries with
// a blank UID or password are kept in the roster so their position survives
// round trips, but the pipeline skips them at run time.
type GuestAccount struct {
	UID      string `json:"uid"`
	Password string `json:"password"`
}

// ReplaceGuestAccounts atomically swaps the full credential roster for a
// session. Positions are assigned from slice order so the pipeline processes
// credentials in the order they were imported.
func (s *Store) ReplaceGuestAccounts(ctx context.Context, sessionID string, accounts []GuestAccount) error {
	if err := s.ensureWritable("replace guest accounts"); err != nil {
		return err
	}
	if err := s.requireSession(ctx, sessionID); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM guest_accounts WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("config: clear guest accounts: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO guest_accounts (session_id, position, uid, password)
            VALUES (?, ?, ?, ?)
        `)
		if err != nil {
			return fmt.Errorf("config: prepare insert guest account: %w", err)
		}
		defer stmt.Close()

		for i, account := range accounts {
			if _, err := stmt.ExecContext(ctx, sessionID, i, account.UID, account.Password); err != nil {
				return fmt.Errorf("config: insert guest account %d: %w", i, err)
			}
		}
		return nil
	})
}

// GuestAccounts returns the credential roster for a session in stored order.
func (s *Store) GuestAccounts(ctx context.Context, sessionID string) ([]GuestAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT uid, password FROM guest_accounts
        WHERE session_id = ? ORDER BY position
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("config: load guest accounts: %w", err)
	}
	return scanList(rows, scanGuestAccount,
		"config: scan guest account row", "config: iterate guest account rows")
}

// requireSession fails with a NotFoundError when sessionID does not exist,
// so dependent writes don't silently create orphaned rows.
func (s *Store) requireSession(ctx context.Context, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return NotFoundError{Entity: "session", Key: sessionID}
	}
	if err != nil {
		return fmt.Errorf("config: check session %s: %w", sessionID, err)
	}
	return nil
}
