// Package notify delivers run progress and results to a Telegram chat.
// Delivery is best-effort throughout: a run never fails because a
// notification could not be sent.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultAPIURL      = "https://api.telegram.org"
	defaultHTTPTimeout = 10 * time.Second

	// MaxMessageLen is the largest chunk we send as a single message.
	MaxMessageLen = 4000
)

// MessageRef identifies a delivered message so it can be edited later.
type MessageRef struct {
	ChatID    string
	MessageID int64
}

// Client talks to the Telegram Bot API.
type Client struct {
	apiURL string
	token  string
	client *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIURL overrides the Bot API endpoint (useful for testing).
func WithAPIURL(url string) ClientOption {
	return func(c *Client) { c.apiURL = url }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.client = client }
}

// NewClient creates a Telegram Bot API client.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		apiURL: defaultAPIURL,
		token:  token,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage delivers text to a chat and returns a reference for edits.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (MessageRef, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	raw, err := c.call(ctx, "sendMessage", payload)
	if err != nil {
		return MessageRef{}, err
	}

	var msg messageResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return MessageRef{}, fmt.Errorf("notify: decode sendMessage result: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: msg.MessageID}, nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, ref MessageRef, text string) error {
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	_, err := c.call(ctx, "editMessageText", payload)
	return err
}

// SendDocument uploads a file to a chat with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID, filename string, content []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("notify: write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("notify: write caption field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("notify: create document part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("notify: write document part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("notify: finish multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", c.apiURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("notify: create sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sendDocument: %w", err)
	}
	defer resp.Body.Close()

	if _, err := decodeResponse(resp); err != nil {
		return fmt.Errorf("notify: sendDocument: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("notify: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := decodeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("notify: %s: %w", method, err)
	}
	return raw, nil
}

func decodeResponse(resp *http.Response) (json.RawMessage, error) {
	const maxResponseSize = 1 << 20 // 1MB
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("bot API returned status %d: %s", resp.StatusCode, string(body))
	}
	if !parsed.OK {
		return nil, fmt.Errorf("bot API error (status %s): %s",
			strconv.Itoa(resp.StatusCode), parsed.Description)
	}
	return parsed.Result, nil
}

// SplitMessage breaks text into chunks no longer than MaxMessageLen bytes,
// splitting on line boundaries where possible.
func SplitMessage(text string) []string {
	if len(text) <= MaxMessageLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > MaxMessageLen {
		cut := MaxMessageLen
		// Prefer the last newline inside the window.
		for i := cut; i > 0; i-- {
			if remaining[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}
