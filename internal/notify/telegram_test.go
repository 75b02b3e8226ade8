package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendMessageReturnsRef(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"ok":true,"result":{"message_id":42}}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient("test-token", WithAPIURL(server.URL))
	ref, err := client.SendMessage(context.Background(), "12345", "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if ref.MessageID != 42 || ref.ChatID != "12345" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotBody["chat_id"] != "12345" || gotBody["text"] != "hello" {
		t.Fatalf("unexpected payload: %v", gotBody)
	}
}

func TestEditMessageText(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/editMessageText") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient("tok", WithAPIURL(server.URL))
	err := client.EditMessageText(context.Background(),
		MessageRef{ChatID: "12345", MessageID: 42}, "updated")
	if err != nil {
		t.Fatalf("edit message: %v", err)
	}
	if gotBody["message_id"] != float64(42) || gotBody["text"] != "updated" {
		t.Fatalf("unexpected payload: %v", gotBody)
	}
}

func TestCallSurfacesAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient("tok", WithAPIURL(server.URL))
	_, err := client.SendMessage(context.Background(), "nope", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error missing API description: %v", err)
	}
}

func TestSendDocumentMultipart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("chat_id") != "12345" {
			t.Errorf("chat_id = %q", r.FormValue("chat_id"))
		}
		if r.FormValue("caption") != "the roster" {
			t.Errorf("caption = %q", r.FormValue("caption"))
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			if header.Filename != "accounts.json" {
				t.Errorf("filename = %q", header.Filename)
			}
			content, _ := io.ReadAll(file)
			if string(content) != `[{"uid":"1"}]` {
				t.Errorf("content = %q", content)
			}
		}
		io.WriteString(w, `{"ok":true,"result":{"message_id":7}}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient("tok", WithAPIURL(server.URL))
	err := client.SendDocument(context.Background(), "12345",
		"accounts.json", []byte(`[{"uid":"1"}]`), "the roster")
	if err != nil {
		t.Fatalf("send document: %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	if got := SplitMessage("short"); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short message split: %v", got)
	}

	// Long text with line boundaries splits on newlines.
	line := strings.Repeat("x", 99) + "\n"
	long := strings.Repeat(line, 100) // 10000 bytes
	chunks := SplitMessage(long)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	var rejoined strings.Builder
	for _, chunk := range chunks {
		if len(chunk) > MaxMessageLen {
			t.Fatalf("chunk exceeds limit: %d bytes", len(chunk))
		}
		if !strings.HasSuffix(chunk, "\n") {
			t.Fatalf("chunk did not split on line boundary: %q...", chunk[:20])
		}
		rejoined.WriteString(chunk)
	}
	if rejoined.String() != long {
		t.Fatal("chunks do not reassemble to original text")
	}

	// No newlines at all still splits at the hard limit.
	solid := strings.Repeat("y", MaxMessageLen+100)
	chunks = SplitMessage(solid)
	if len(chunks) != 2 || len(chunks[0]) != MaxMessageLen || len(chunks[1]) != 100 {
		t.Fatalf("hard split mismatch: %d chunks", len(chunks))
	}
}

func TestServiceBestEffort(t *testing.T) {
	t.Parallel()

	// A nil service and a service with no client drop everything quietly.
	var nilService *Service
	ref := nilService.Send(context.Background(), "1", "x")
	if ref.MessageID != 0 {
		t.Fatalf("nil service returned ref: %+v", ref)
	}

	disabled := NewService(nil, nil)
	disabled.SendLong(context.Background(), "1", "x")
	disabled.Edit(context.Background(), MessageRef{ChatID: "1", MessageID: 9}, "x")

	// A failing backend never panics or surfaces errors.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	svc := NewService(NewClient("tok", WithAPIURL(server.URL)), nil)
	ref = svc.Send(context.Background(), "1", "x")
	if ref.MessageID != 0 {
		t.Fatalf("failed send returned ref: %+v", ref)
	}
	svc.SendDocument(context.Background(), "1", "f.json", []byte("{}"), "")
}

func TestEditFallsBackToSend(t *testing.T) {
	t.Parallel()

	var sendCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/editMessageText") {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"ok":false,"description":"message to edit not found"}`)
			return
		}
		sendCalls++
		io.WriteString(w, `{"ok":true,"result":{"message_id":43}}`)
	}))
	t.Cleanup(server.Close)

	svc := NewService(NewClient("tok", WithAPIURL(server.URL)), nil)
	svc.Edit(context.Background(), MessageRef{ChatID: "1", MessageID: 42}, "updated")
	if sendCalls != 1 {
		t.Fatalf("expected fallback send, got %d calls", sendCalls)
	}
}
