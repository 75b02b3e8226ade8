// Package dispatch sends the per-target like requests. Targets are worked
// strictly in order with a fixed pause between requests, and exactly one
// retry is granted for the upstream's known transient error.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultPacing     = time.Second
	defaultRetryDelay = 120 * time.Second

	serverName = "ind"

	// retryableError is the upstream body that signals a transient
	// failure worth one delayed retry.
	retryableError = "Failed to retrieve initial player info."
)

// TargetResult is the verbatim outcome for one target UID. Body carries the
// final response text unmodified, or a request error description when the
// call never produced a response.
type TargetResult struct {
	UID        string
	StatusCode int
	Body       string
	OK         bool
	Retried    bool
}

// Summary aggregates a dispatch pass.
type Summary struct {
	Results []TargetResult
	OK      int
	Failed  int
}

// RetryFunc is invoked before the delayed retry of a target, letting the
// caller surface the wait to the user.
type RetryFunc func(uid string)

// Dispatcher sends like requests for target UIDs.
type Dispatcher struct {
	client     *http.Client
	timeout    time.Duration
	pacing     time.Duration
	retryDelay time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for like requests.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.client = client }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithPacing overrides the pause between consecutive targets.
func WithPacing(pacing time.Duration) Option {
	return func(d *Dispatcher) { d.pacing = pacing }
}

// WithRetryDelay overrides the wait before the single retry.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

// New creates a Dispatcher with production timings.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:     &http.Client{},
		timeout:    defaultTimeout,
		pacing:     defaultPacing,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends one like request per target, in order. A request whose
// response is non-200 with the known transient error body is retried once
// after the retry delay; the second outcome stands either way. Cancelling
// ctx stops between targets and returns the work done so far.
func (d *Dispatcher) Dispatch(ctx context.Context, apiURL string, targets []string, onRetry RetryFunc) Summary {
	var summary Summary

	for i, uid := range targets {
		if i > 0 {
			if !sleepCtx(ctx, d.pacing) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		result := d.sendOnce(ctx, apiURL, uid)

		if !result.OK && bodyHasRetryableError(result.StatusCode, result.Body) {
			if onRetry != nil {
				onRetry(uid)
			}
			if !sleepCtx(ctx, d.retryDelay) {
				summary.Results = append(summary.Results, result)
				summary.Failed++
				break
			}
			result = d.sendOnce(ctx, apiURL, uid)
			result.Retried = true
		}

		summary.Results = append(summary.Results, result)
		if result.OK {
			summary.OK++
		} else {
			summary.Failed++
		}
	}

	return summary
}

func (d *Dispatcher) sendOnce(ctx context.Context, apiURL, uid string) TargetResult {
	// Cancellation is observed between targets, never mid-request; the
	// per-request timeout is the only bound on a call in flight.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	fullURL := fmt.Sprintf("%s?uid=%s&server_name=%s", apiURL, url.QueryEscape(uid), serverName)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return TargetResult{UID: uid, Body: fmt.Sprintf("Request Error: %v", err)}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return TargetResult{UID: uid, Body: fmt.Sprintf("Request Error: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TargetResult{UID: uid, StatusCode: resp.StatusCode, Body: fmt.Sprintf("Request Error: %v", err)}
	}

	return TargetResult{
		UID:        uid,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		OK:         resp.StatusCode == http.StatusOK,
	}
}

func bodyHasRetryableError(statusCode int, body string) bool {
	if statusCode == http.StatusOK || statusCode == 0 {
		return false
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return false
	}
	return parsed.Error == retryableError
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
