package store

import (
	"database/sql"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanString(scanner rowScanner) (string, error) {
	var value string
	err := scanner.Scan(&value)
	return value, err
}

func scanStringPair(scanner rowScanner) (string, string, error) {
	var first, second string
	err := scanner.Scan(&first, &second)
	return first, second, err
}

func scanSession(scanner rowScanner) (SessionConfig, error) {
	var session SessionConfig
	err := scanner.Scan(
		&session.SessionID,
		&session.JWTAPI,
		&session.LikeAPI,
		&session.GitHubRepo,
		&session.GitHubFilePath,
		&session.NotifyChat,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	return session, err
}

func scanGuestAccount(scanner rowScanner) (GuestAccount, error) {
	var account GuestAccount
	err := scanner.Scan(&account.UID, &account.Password)
	return account, err
}

// scanList scans all rows with scanFn, wraps scan/iteration errors with
// provided operation names and always closes rows before returning.
func scanList[T any](
	rows *sql.Rows,
	scanFn func(rowScanner) (T, error),
	scanOp string,
	iterOp string,
) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		item, err := scanFn(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", scanOp, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", iterOp, err)
	}
	return result, nil
}
