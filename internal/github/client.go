// Package github is a minimal client for the GitHub repository contents
// API, covering the read/create/update operations token publishing needs.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIURL      = "https://api.github.com"
	defaultHTTPTimeout = 30 * time.Second
)

// ErrNotFound is returned when the requested file does not exist in the
// repository.
var ErrNotFound = errors.New("github: file not found")

// File is a repository file's decoded content plus the blob SHA needed to
// update it.
type File struct {
	Content []byte
	SHA     string
}

// Client calls the GitHub contents API for a single repository.
type Client struct {
	apiURL string
	token  string
	repo   string // "owner/name"
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL overrides the API endpoint (useful for testing).
func WithAPIURL(url string) Option {
	return func(c *Client) { c.apiURL = url }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// NewClient creates a contents API client for repo ("owner/name")
// authenticated with token.
func NewClient(token, repo string, opts ...Option) *Client {
	c := &Client{
		apiURL: defaultAPIURL,
		token:  token,
		repo:   repo,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// GetFile fetches a file's content and SHA. Returns ErrNotFound when the
// path does not exist.
func (c *Client) GetFile(ctx context.Context, path string) (File, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return File{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("github: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return File{}, fmt.Errorf("github: get %s: %w", path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return File{}, fmt.Errorf("github: get %s: %w", path, ErrNotFound)
	default:
		return File{}, fmt.Errorf("github: get %s: status %d: %s", path, resp.StatusCode, body)
	}

	var parsed contentsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return File{}, fmt.Errorf("github: decode contents for %s: %w", path, err)
	}
	if parsed.Encoding != "base64" {
		return File{}, fmt.Errorf("github: unexpected encoding %q for %s", parsed.Encoding, path)
	}
	// The API wraps base64 content in newlines.
	decoded, err := base64.StdEncoding.DecodeString(stripWhitespace(parsed.Content))
	if err != nil {
		return File{}, fmt.Errorf("github: decode content for %s: %w", path, err)
	}

	return File{Content: decoded, SHA: parsed.SHA}, nil
}

// CreateFile creates a new file with the given commit message.
func (c *Client) CreateFile(ctx context.Context, path, message string, content []byte) error {
	return c.putContents(ctx, path, message, content, "")
}

// UpdateFile replaces an existing file. sha must be the blob SHA returned
// by GetFile; a mismatch means the file changed underneath us and the
// update is rejected by the API.
func (c *Client) UpdateFile(ctx context.Context, path, message string, content []byte, sha string) error {
	if sha == "" {
		return fmt.Errorf("github: update %s: sha is required", path)
	}
	return c.putContents(ctx, path, message, content, sha)
}

func (c *Client) putContents(ctx context.Context, path, message string, content []byte, sha string) error {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if sha != "" {
		payload["sha"] = sha
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("github: marshal contents payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("github: put %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("github: put %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("github: put %s: status %d: %s", path, resp.StatusCode, respBody)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s", c.apiURL, c.repo, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("github: create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	return req, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	const maxResponseSize = 4 << 20 // 4MB
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func stripWhitespace(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n', '\r', ' ', '\t':
		default:
			buf = append(buf, s[i])
		}
	}
	return string(buf)
}
