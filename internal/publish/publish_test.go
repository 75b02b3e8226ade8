package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/liko-dev/liko/internal/github"
	"github.com/liko-dev/liko/internal/tokenfetch"
)

// fakeStore is an in-memory FileStore recording write traffic.
type fakeStore struct {
	files   map[string]github.File
	creates int
	updates int
	getErr  error
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string]github.File{}}
}

func (s *fakeStore) GetFile(ctx context.Context, path string) (github.File, error) {
	if s.getErr != nil {
		return github.File{}, s.getErr
	}
	file, ok := s.files[path]
	if !ok {
		return github.File{}, github.ErrNotFound
	}
	return file, nil
}

func (s *fakeStore) CreateFile(ctx context.Context, path, message string, content []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	if message != "Create token file" {
		return errors.New("wrong create message: " + message)
	}
	s.creates++
	s.files[path] = github.File{Content: content, SHA: "sha-1"}
	return nil
}

func (s *fakeStore) UpdateFile(ctx context.Context, path, message string, content []byte, sha string) error {
	if s.putErr != nil {
		return s.putErr
	}
	if message != "Auto-update tokens" {
		return errors.New("wrong update message: " + message)
	}
	if existing := s.files[path]; existing.SHA != sha {
		return errors.New("sha mismatch")
	}
	s.updates++
	s.files[path] = github.File{Content: content, SHA: sha + "x"}
	return nil
}

func TestRenderCanonicalForm(t *testing.T) {
	t.Parallel()

	data, err := Render([]tokenfetch.Token{{Token: "a"}, {Token: "b"}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "[\n    {\n        \"token\": \"a\"\n    },\n    {\n        \"token\": \"b\"\n    }\n]"
	if string(data) != want {
		t.Fatalf("rendering mismatch:\n%s\nwant:\n%s", data, want)
	}

	empty, err := Render(nil)
	if err != nil {
		t.Fatalf("render nil: %v", err)
	}
	if string(empty) != "[]" {
		t.Fatalf("nil rendering = %q, want []", empty)
	}
}

func TestPublishCreateThenUnchanged(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := New(store, "data/tokens.json")
	tokens := []tokenfetch.Token{{Token: "a"}}

	status, err := publisher.Publish(context.Background(), tokens)
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if status != StatusCreated {
		t.Fatalf("status = %s, want %s", status, StatusCreated)
	}

	// Identical tokens must not trigger a second write.
	status, err = publisher.Publish(context.Background(), tokens)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if status != StatusUnchanged {
		t.Fatalf("status = %s, want %s", status, StatusUnchanged)
	}
	if store.creates != 1 || store.updates != 0 {
		t.Fatalf("writes = %d creates, %d updates", store.creates, store.updates)
	}
}

func TestPublishUpdatesOnChange(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := New(store, "data/tokens.json")

	if _, err := publisher.Publish(context.Background(), []tokenfetch.Token{{Token: "a"}}); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	status, err := publisher.Publish(context.Background(), []tokenfetch.Token{{Token: "b"}})
	if err != nil {
		t.Fatalf("publish changed tokens: %v", err)
	}
	if status != StatusUpdated {
		t.Fatalf("status = %s, want %s", status, StatusUpdated)
	}
	if store.updates != 1 {
		t.Fatalf("updates = %d, want 1", store.updates)
	}
}

func TestPublishFailures(t *testing.T) {
	t.Parallel()

	// Read failure other than not-found.
	store := newFakeStore()
	store.getErr = errors.New("rate limited")
	status, err := New(store, "f.json").Publish(context.Background(), nil)
	if err == nil || status != StatusFailed {
		t.Fatalf("expected failure, got status=%s err=%v", status, err)
	}

	// Write failure.
	store = newFakeStore()
	store.putErr = errors.New("forbidden")
	status, err = New(store, "f.json").Publish(context.Background(), nil)
	if err == nil || status != StatusFailed {
		t.Fatalf("expected failure, got status=%s err=%v", status, err)
	}
}
