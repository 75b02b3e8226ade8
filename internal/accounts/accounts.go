// Package accounts parses guest credential rosters from JSON or loosely
// formatted text and splits them into shareable chunks.
package accounts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/liko-dev/liko/internal/config/store"
)

// extractPattern matches uid/password pairs written as labelled lines in
// free-form text. Label variants cover the formats rosters arrive in.
var extractPattern = regexp.MustCompile(
	`(?im)(?:uid|jio_uid|username|email)\s*[:=\s]\s*(.+?)\s*\n` +
		`(?:password|pass|pwd)\s*[:=\s]\s*(.+?)\s*(?:\n|$)`)

// Parse reads a credential roster from raw input. JSON arrays of
// {"uid": ..., "password": ...} objects are preferred; anything that fails
// to parse as such falls back to line-pattern extraction. An error is
// returned only when neither form yields any accounts.
func Parse(data []byte) ([]store.GuestAccount, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("accounts: empty input")
	}

	if strings.HasPrefix(trimmed, "[") {
		var parsed []store.GuestAccount
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && len(parsed) > 0 {
			return parsed, nil
		}
	}

	extracted := extract(trimmed)
	if len(extracted) == 0 {
		return nil, fmt.Errorf("accounts: no accounts found; expected JSON array or uid/password lines")
	}
	return extracted, nil
}

func extract(text string) []store.GuestAccount {
	var accounts []store.GuestAccount
	for _, match := range extractPattern.FindAllStringSubmatch(text, -1) {
		accounts = append(accounts, store.GuestAccount{
			UID:      strings.TrimSpace(match[1]),
			Password: strings.TrimSpace(match[2]),
		})
	}
	return accounts
}

// DefaultChunkSize is the largest roster slice the JWT generation API
// accepts per upload.
const DefaultChunkSize = 100

// Chunk splits a roster into groups of at most size accounts, preserving
// order. Used when exporting rosters as a series of files.
func Chunk(accounts []store.GuestAccount, size int) [][]store.GuestAccount {
	if size <= 0 || len(accounts) == 0 {
		return nil
	}
	var chunks [][]store.GuestAccount
	for start := 0; start < len(accounts); start += size {
		end := start + size
		if end > len(accounts) {
			end = len(accounts)
		}
		chunks = append(chunks, accounts[start:end])
	}
	return chunks
}

// MarshalChunk renders one chunk as the 4-space-indented JSON the rest of
// the toolchain exchanges rosters in.
func MarshalChunk(chunk []store.GuestAccount) ([]byte, error) {
	data, err := json.MarshalIndent(chunk, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("accounts: marshal chunk: %w", err)
	}
	return data, nil
}
