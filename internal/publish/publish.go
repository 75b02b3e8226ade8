// Package publish pushes the acquired token set to its remote destination,
// writing only when the canonical rendering actually differs.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/liko-dev/liko/internal/github"
	"github.com/liko-dev/liko/internal/tokenfetch"
)

// Status classifies the outcome of a publish attempt.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusUpdated   Status = "Updated"
	StatusUnchanged Status = "Unchanged"
	StatusFailed    Status = "Failed"
)

const (
	createMessage = "Create token file"
	updateMessage = "Auto-update tokens"
)

// FileStore is the remote file surface publishing writes through.
type FileStore interface {
	GetFile(ctx context.Context, path string) (github.File, error)
	CreateFile(ctx context.Context, path, message string, content []byte) error
	UpdateFile(ctx context.Context, path, message string, content []byte, sha string) error
}

// Publisher writes token files to a FileStore.
type Publisher struct {
	store FileStore
	path  string
}

// New creates a Publisher targeting path within store.
func New(store FileStore, path string) *Publisher {
	return &Publisher{store: store, path: path}
}

// Render produces the canonical token file: a 4-space-indented JSON array
// of token objects. Byte equality of two renderings implies the token sets
// are interchangeable.
func Render(tokens []tokenfetch.Token) ([]byte, error) {
	if tokens == nil {
		tokens = []tokenfetch.Token{}
	}
	data, err := json.MarshalIndent(tokens, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("publish: render tokens: %w", err)
	}
	return data, nil
}

// Publish renders tokens and reconciles the remote file. A missing file is
// created; an existing one is updated only when its bytes differ from the
// new rendering. The returned Status is always meaningful, also on error.
func (p *Publisher) Publish(ctx context.Context, tokens []tokenfetch.Token) (Status, error) {
	content, err := Render(tokens)
	if err != nil {
		return StatusFailed, err
	}

	existing, err := p.store.GetFile(ctx, p.path)
	if errors.Is(err, github.ErrNotFound) {
		if err := p.store.CreateFile(ctx, p.path, createMessage, content); err != nil {
			return StatusFailed, fmt.Errorf("publish: create %s: %w", p.path, err)
		}
		return StatusCreated, nil
	}
	if err != nil {
		return StatusFailed, fmt.Errorf("publish: read %s: %w", p.path, err)
	}

	if string(existing.Content) == string(content) {
		return StatusUnchanged, nil
	}

	if err := p.store.UpdateFile(ctx, p.path, updateMessage, content, existing.SHA); err != nil {
		return StatusFailed, fmt.Errorf("publish: update %s: %w", p.path, err)
	}
	return StatusUpdated, nil
}
