// Package pipeline runs one complete automation pass for a session: acquire
// tokens, publish them, wait for the remote to settle, then dispatch likes.
// Every run produces a RunOutcome no matter how far it got.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liko-dev/liko/internal/config/store"
	"github.com/liko-dev/liko/internal/dispatch"
	"github.com/liko-dev/liko/internal/eventbus"
	"github.com/liko-dev/liko/internal/github"
	"github.com/liko-dev/liko/internal/notify"
	"github.com/liko-dev/liko/internal/publish"
	"github.com/liko-dev/liko/internal/tokenfetch"
)

// Stage identifies how far a run progressed.
type Stage string

const (
	StageTokens   Stage = "tokens"
	StagePublish  Stage = "publish"
	StageWait     Stage = "wait"
	StageDispatch Stage = "dispatch"
	StageDone     Stage = "done"
)

const defaultPublishWait = 60 * time.Second

// RunOutcome is the full account of one pipeline pass. It is produced for
// every run, including aborted ones.
type RunOutcome struct {
	SessionID string
	RunID     string
	Stage     Stage
	Aborted   bool
	Reason    string // human-readable abort reason, empty on full runs

	TokensAttempted int
	TokensOK        int
	TokensFailed    int
	TokensSkipped   int
	TokenFailures   map[string]int

	PublishStatus publish.Status

	TargetsOK     int
	TargetsFailed int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Pipeline executes runs against a configuration store.
type Pipeline struct {
	store    *store.Store
	bus      *eventbus.Bus
	notifier notify.Notifier
	logger   *log.Logger

	fetcher     *tokenfetch.Fetcher
	dispatcher  *dispatch.Dispatcher
	publishWait time.Duration

	// newFileStore builds the remote file surface for a session's repo.
	newFileStore func(token, repo string) publish.FileStore
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFetcher overrides the token fetcher.
func WithFetcher(f *tokenfetch.Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

// WithDispatcher overrides the like dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// WithPublishWait overrides the settle delay between publish and dispatch.
func WithPublishWait(d time.Duration) Option {
	return func(p *Pipeline) { p.publishWait = d }
}

// WithFileStoreFactory overrides how the remote file store is constructed.
func WithFileStoreFactory(factory func(token, repo string) publish.FileStore) Option {
	return func(p *Pipeline) { p.newFileStore = factory }
}

// WithNotifier overrides the notification surface.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger overrides the pipeline logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a Pipeline reading configuration from st and publishing run
// events to bus.
func New(st *store.Store, bus *eventbus.Bus, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		bus:         bus,
		logger:      log.Default(),
		fetcher:     tokenfetch.New(),
		dispatcher:  dispatch.New(),
		publishWait: defaultPublishWait,
		newFileStore: func(token, repo string) publish.FileStore {
			return github.NewClient(token, repo)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = notify.NewService(nil, p.logger)
	}
	return p
}

// snapshot is the frozen session configuration one run operates on. The
// store is read exactly once per run; later edits affect the next run only.
type snapshot struct {
	config      store.SessionConfig
	accounts    []store.GuestAccount
	targets     []string
	githubToken string
}

func (p *Pipeline) loadSnapshot(ctx context.Context, sessionID string) (snapshot, error) {
	if err := p.store.ValidateSession(ctx, sessionID); err != nil {
		return snapshot{}, err
	}

	config, err := p.store.Session(ctx, sessionID)
	if err != nil {
		return snapshot{}, err
	}
	accounts, err := p.store.GuestAccounts(ctx, sessionID)
	if err != nil {
		return snapshot{}, err
	}
	targets, err := p.store.Targets(ctx, sessionID)
	if err != nil {
		return snapshot{}, err
	}
	githubToken, err := p.store.Secret(ctx, sessionID, store.SecretGitHubToken)
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{
		config:      config,
		accounts:    accounts,
		targets:     targets,
		githubToken: githubToken,
	}, nil
}

// Run executes one full pass for the session. The returned RunOutcome is
// always valid. A non-nil error marks an unexpected failure (store errors,
// panics); expected conditions like incomplete configuration or empty
// token sets abort the run but return a nil error.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (outcome RunOutcome, err error) {
	outcome = RunOutcome{
		SessionID: sessionID,
		RunID:     uuid.NewString(),
		Stage:     StageTokens,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: run %s panicked: %v", outcome.RunID, r)
		}
		outcome.FinishedAt = time.Now()
		p.emitLifecycle(ctx, outcome, err)
	}()

	eventbus.Publish(ctx, p.bus, eventbus.Runs.Lifecycle, eventbus.SourcePipeline,
		eventbus.RunLifecycleEvent{
			SessionID: sessionID,
			RunID:     outcome.RunID,
			State:     eventbus.RunStateStarted,
			Stage:     string(StageTokens),
		})

	snap, err := p.loadSnapshot(ctx, sessionID)
	if err != nil {
		// Configuration gaps (roster wiped, token removed) abort this
		// pass only; the schedule keeps polling for the next cycle.
		if store.IsIncomplete(err) {
			outcome.Aborted = true
			outcome.Reason = err.Error()
			p.logger.Printf("[Pipeline] session %s: %v", sessionID, err)
			if config, cfgErr := p.store.Session(ctx, sessionID); cfgErr == nil {
				p.notifier.Send(ctx, config.NotifyChat,
					fmt.Sprintf("❌ Task cancelled: %v", err))
			}
			return outcome, nil
		}
		return outcome, fmt.Errorf("pipeline: load session %s: %w", sessionID, err)
	}
	chat := snap.config.NotifyChat

	// Stage 1: tokens.
	p.notifier.Send(ctx, chat, "<b>Task Step 1/3: Generating JWTs...</b>")
	progressRef := p.notifier.Send(ctx, chat,
		fmt.Sprintf("⏳ Starting JWT generation for %d accounts...", len(snap.accounts)))

	fetch := p.fetcher.Fetch(ctx, snap.config.JWTAPI, snap.accounts, func(done, total int) {
		p.notifier.Edit(ctx, progressRef,
			fmt.Sprintf("⏳ Processed %d/%d JWT requests...", done, total))
		p.emitProgress(ctx, outcome, StageTokens, done, total)
	})
	outcome.TokensAttempted = fetch.Attempted
	outcome.TokensOK = fetch.OK
	outcome.TokensFailed = fetch.Failed
	outcome.TokensSkipped = fetch.Skipped
	outcome.TokenFailures = fetch.Failures

	p.notifier.Edit(ctx, progressRef,
		fmt.Sprintf("✅ JWT Processing Complete for %d accounts.", fetch.Attempted))
	if fetch.Failed > 0 {
		p.notifier.SendLong(ctx, chat, formatFailureSummary(fetch.Failures))
	}
	p.notifier.Send(ctx, chat, fmt.Sprintf(
		"📊 <b>Step 1/3 Result:</b>\nProcessed: %d, Generated: %d, Failed: %d",
		fetch.Attempted, fetch.OK, fetch.Failed))

	if len(fetch.Tokens) == 0 {
		outcome.Aborted = true
		outcome.Reason = "no tokens generated"
		p.notifier.Send(ctx, chat, "❌ No tokens generated. Task cancelled.")
		return outcome, nil
	}

	// The generated document is too big for a chat message; deliver it as
	// a file so the operator has a copy regardless of the publish outcome.
	if doc, docErr := publish.Render(fetch.Tokens); docErr == nil && len(doc) > notify.MaxMessageLen {
		p.notifier.SendDocument(ctx, chat, "tokens.json", doc,
			fmt.Sprintf("Generated %d tokens", fetch.OK))
	}

	// Stage 2: publish.
	outcome.Stage = StagePublish
	p.notifier.Send(ctx, chat, "<b>Task Step 2/3: Updating GitHub...</b>")

	publisher := publish.New(
		p.newFileStore(snap.githubToken, snap.config.GitHubRepo),
		snap.config.GitHubFilePath)
	// Once entered, the publish stage runs to completion; a stop request
	// is observed at the next wait point, not mid-upload.
	status, pubErr := publisher.Publish(context.WithoutCancel(ctx), fetch.Tokens)
	outcome.PublishStatus = status
	if pubErr != nil {
		outcome.Aborted = true
		outcome.Reason = fmt.Sprintf("publish failed: %v", pubErr)
		p.logger.Printf("[Pipeline] session %s publish failed: %v", sessionID, pubErr)
		p.notifier.Send(ctx, chat,
			fmt.Sprintf("❌ <b>Step 2/3 Error:</b> GitHub update failed: %v", pubErr))
		return outcome, nil
	}
	p.notifier.Send(ctx, chat,
		fmt.Sprintf("✅ <b>Step 2/3 Complete:</b> GitHub status: %s.", status))

	// Stage 3: settle delay, then dispatch.
	outcome.Stage = StageWait
	p.notifier.Send(ctx, chat,
		"ℹ️ Waiting 60 seconds for GitHub to update before sending likes...")
	if !sleepCtx(ctx, p.publishWait) {
		outcome.Aborted = true
		outcome.Reason = "cancelled during publish wait"
		return outcome, nil
	}

	outcome.Stage = StageDispatch
	p.notifier.Send(ctx, chat, "<b>Task Step 3/3: Sending Likes...</b>")

	summary := p.dispatcher.Dispatch(ctx, snap.config.LikeAPI, snap.targets, func(uid string) {
		p.notifier.Send(ctx, chat, fmt.Sprintf(
			"⚠️ Error for UID %s: 'Failed to retrieve...'. Waiting 2 minutes to retry.", uid))
	})
	outcome.TargetsOK = summary.OK
	outcome.TargetsFailed = summary.Failed

	if len(summary.Results) > 0 {
		p.notifier.Send(ctx, chat, "📊 <b>Step 3/3 Results (Exact Responses):</b>")
		p.notifier.SendLong(ctx, chat, formatDispatchResults(summary.Results))
	}

	outcome.Stage = StageDone
	p.notifier.Send(ctx, chat, fmt.Sprintf(
		"🎉 <b>Task Complete!</b>\nJWTs: %d/%d ok\nGitHub: %s\nLikes: %d success, %d fail",
		fetch.OK, fetch.Attempted, status, summary.OK, summary.Failed))

	return outcome, nil
}

func (p *Pipeline) emitLifecycle(ctx context.Context, outcome RunOutcome, err error) {
	state := eventbus.RunStateCompleted
	errText := ""
	if err != nil {
		state = eventbus.RunStateFailed
		errText = err.Error()
	}
	eventbus.Publish(ctx, p.bus, eventbus.Runs.Lifecycle, eventbus.SourcePipeline,
		eventbus.RunLifecycleEvent{
			SessionID:     outcome.SessionID,
			RunID:         outcome.RunID,
			State:         state,
			Stage:         string(outcome.Stage),
			Error:         errText,
			TokensOK:      outcome.TokensOK,
			TokensFailed:  outcome.TokensFailed,
			TokensSkipped: outcome.TokensSkipped,
			PublishStatus: string(outcome.PublishStatus),
			TargetsOK:     outcome.TargetsOK,
			TargetsFailed: outcome.TargetsFailed,
		})
}

func (p *Pipeline) emitProgress(ctx context.Context, outcome RunOutcome, stage Stage, done, total int) {
	eventbus.Publish(ctx, p.bus, eventbus.Runs.Progress, eventbus.SourcePipeline,
		eventbus.RunProgressEvent{
			SessionID: outcome.SessionID,
			RunID:     outcome.RunID,
			Stage:     string(stage),
			Done:      done,
			Total:     total,
		})
}

// formatFailureSummary renders the token failure histogram in a stable
// order for notification text.
func formatFailureSummary(failures map[string]int) string {
	reasons := make([]string, 0, len(failures))
	for reason := range failures {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	var b strings.Builder
	b.WriteString("⚠️ JWT Generation Failures:")
	for _, reason := range reasons {
		fmt.Fprintf(&b, "\n- %s: %d times", reason, failures[reason])
	}
	return b.String()
}

func formatDispatchResults(results []dispatch.TargetResult) string {
	var b strings.Builder
	for i, result := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<b>UID %s:</b>\n<pre>%s</pre>", result.UID, result.Body)
	}
	return b.String()
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
