// Package tokenfetch exchanges guest credentials for API tokens. Fetches
// run through a small worker pool; each credential gets exactly one attempt
// and failures are tallied by reason rather than aborting the batch.
package tokenfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/liko-dev/liko/internal/config/store"
	"github.com/liko-dev/liko/internal/sanitize"
)

const (
	defaultWorkers = 4
	defaultTimeout = 60 * time.Second

	// progressEvery controls how often the progress callback fires.
	progressEvery = 5

	// maxReasonSnippet bounds the response excerpt embedded in the
	// invalid-format failure reason.
	maxReasonSnippet = 100
)

// Token is one acquired token as it appears in the published file.
type Token struct {
	Token string `json:"token"`
}

// Result summarises a fetch batch. Tokens are in completion order, not
// credential order. OK + Failed equals Attempted; Skipped counts roster
// entries with a missing UID or password that were never submitted.
type Result struct {
	Tokens    []Token
	Attempted int
	OK        int
	Failed    int
	Skipped   int

	// Failures maps failure reason to occurrence count.
	Failures map[string]int
}

// ProgressFunc receives batch progress. done counts completed fetches,
// total is the number of credentials submitted to the pool.
type ProgressFunc func(done, total int)

// Fetcher acquires tokens for a credential roster.
type Fetcher struct {
	client  *http.Client
	workers int
	timeout time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client used for token requests.
// The per-request timeout still applies through the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithWorkers overrides the fetch pool size.
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New creates a Fetcher with the default pool size and timeout.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		workers: defaultWorkers,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fetchOutcome struct {
	token  Token
	ok     bool
	reason string
}

// Fetch acquires a token for every complete credential in the roster.
// Progress fires after every fifth completion and on the final one. The
// batch itself never fails; per-credential errors land in the histogram.
// Cancelling ctx abandons credentials not yet submitted and returns what
// completed; fetches already in flight finish under their own timeout.
func (f *Fetcher) Fetch(ctx context.Context, apiURL string, roster []store.GuestAccount, progress ProgressFunc) Result {
	result := Result{Failures: make(map[string]int)}

	var usable []store.GuestAccount
	for _, account := range roster {
		if account.UID == "" || account.Password == "" {
			result.Skipped++
			continue
		}
		usable = append(usable, account)
	}
	result.Attempted = len(usable)
	if result.Attempted == 0 {
		return result
	}

	jobs := make(chan store.GuestAccount)
	outcomes := make(chan fetchOutcome)

	workers := f.workers
	if workers > len(usable) {
		workers = len(usable)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range jobs {
				outcomes <- f.fetchOne(ctx, apiURL, account)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, account := range usable {
			select {
			case jobs <- account:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	done := 0
	for outcome := range outcomes {
		done++
		if outcome.ok {
			result.Tokens = append(result.Tokens, outcome.token)
			result.OK++
		} else {
			result.Failed++
			result.Failures[outcome.reason]++
		}
		if progress != nil && (done%progressEvery == 0 || done == result.Attempted) {
			progress(done, result.Attempted)
		}
	}

	// Credentials abandoned by cancellation count as failures so the
	// tallies still add up for the caller.
	if abandoned := result.Attempted - done; abandoned > 0 {
		result.Failed += abandoned
		result.Failures["Cancelled"] += abandoned
	}

	return result
}

func (f *Fetcher) fetchOne(ctx context.Context, apiURL string, account store.GuestAccount) fetchOutcome {
	// A cancelled batch stops submitting work but never yanks a request
	// already on the wire; only the per-request timeout bounds it.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	fullURL := fmt.Sprintf("%s?uid=%s&password=%s",
		apiURL, url.QueryEscape(account.UID), url.QueryEscape(account.Password))

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fetchOutcome{reason: fmt.Sprintf("General Error: %v", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fetchOutcome{reason: classifyTransportError(err, f.timeout)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fetchOutcome{reason: classifyTransportError(err, f.timeout)}
	}

	if resp.StatusCode != http.StatusOK {
		return fetchOutcome{reason: fmt.Sprintf("API failed (Status: %d)", resp.StatusCode)}
	}

	token, ok := extractToken(body)
	if !ok {
		snippet := sanitize.TruncateUTF8(string(body), maxReasonSnippet)
		return fetchOutcome{reason: fmt.Sprintf("Token key/format invalid: %s", snippet)}
	}
	return fetchOutcome{token: Token{Token: token}, ok: true}
}

// extractToken accepts the two response shapes the token API produces: a
// single object with a token field, or a non-empty array whose first
// element has one.
func extractToken(body []byte) (string, bool) {
	var object struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &object); err == nil && object.Token != "" {
		return object.Token, true
	}

	var array []struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &array); err == nil && len(array) > 0 && array[0].Token != "" {
		return array[0].Token, true
	}

	return "", false
}

func classifyTransportError(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Timeout (%ds)", int(timeout.Seconds()))
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Sprintf("Timeout (%ds)", int(timeout.Seconds()))
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "Connection Reset by Server"
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return fmt.Sprintf("Connection Error: %v", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("Connection Error: %v", err)
	}
	return fmt.Sprintf("General Error: %v", err)
}
