// Package pipeline runs each story through retrieve, expand, merge and
// create, recording every creation in the idempotence ledger so that
// reruns never produce duplicate issues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agentjira/internal/gateway"
	"agentjira/internal/ledger"
	"agentjira/internal/logging"
	"agentjira/internal/stories"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxRetries  = 3
	DefaultConcurrency = 1
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
	DefaultCallTimeout = 30 * time.Second
)

// RunOptions are the per-run knobs.
type RunOptions struct {
	DryRun     bool
	MaxRetries int
}

// Engine executes batches. It is safe to call Run concurrently; runs share
// the per-fingerprint lock table.
type Engine struct {
	ledger    ledger.Ledger
	expander  gateway.Expander
	issues    gateway.IssueCreator
	finder    gateway.IssueFinder
	retriever gateway.Retriever
	query     func(stories.Story) string

	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	backoffBase time.Duration
	backoffMax  time.Duration
	concurrency int
	callTimeout time.Duration
	newRunID    func() string
	observer    func(StageEvent)

	locks ledger.KeyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetriever enables the retrieval stage.
func WithRetriever(r gateway.Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithQuery sets how a story is turned into a retrieval query. The story
// passed in carries the effective labels and components.
func WithQuery(fn func(stories.Story) string) Option {
	return func(e *Engine) { e.query = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep overrides the backoff wait. fn must return ctx.Err() when ctx
// is done first.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithBackoff sets the exponential backoff base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffMax = max
	}
}

// WithConcurrency bounds how many items run at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// WithCallTimeout bounds every gateway call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithRunID overrides run ID generation.
func WithRunID(fn func() string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

// WithObserver receives every stage transition. It is called from worker
// goroutines and must be safe for concurrent use.
func WithObserver(fn func(StageEvent)) Option {
	return func(e *Engine) { e.observer = fn }
}

// New creates an engine. issues may be nil when only dry runs are made; if
// it also implements gateway.IssueFinder, interrupted creations are looked
// up remotely before being retried.
func New(l ledger.Ledger, expander gateway.Expander, issues gateway.IssueCreator, opts ...Option) (*Engine, error) {
	if l == nil {
		return nil, errors.New("pipeline: ledger is required")
	}
	if expander == nil {
		return nil, errors.New("pipeline: expander is required")
	}
	e := &Engine{
		ledger:      l,
		expander:    expander,
		issues:      issues,
		now:         time.Now,
		sleep:       sleepContext,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		concurrency: DefaultConcurrency,
		callTimeout: DefaultCallTimeout,
		newRunID:    func() string { return uuid.NewString() },
		query:       defaultQuery,
	}
	if f, ok := issues.(gateway.IssueFinder); ok {
		e.finder = f
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func defaultQuery(s stories.Story) string {
	return s.Title + "\n" + s.Description
}

// item is the working state of one story within a run.
type item struct {
	runID string
	index int
	story stories.Story
	eff   stories.Effective
	fp    string
	log   *logging.Logger
}

// Run processes every story of batch. Per-item failures are reported in the
// result; a returned error means the run could not start (invalid options,
// unreachable ledger).
func (e *Engine) Run(ctx context.Context, batch *stories.Batch, opts RunOptions) (*RunResult, error) {
	if batch == nil {
		return nil, errors.New("pipeline: nil batch")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("pipeline: max retries must be >= 0, got %d", opts.MaxRetries)
	}
	if !opts.DryRun && e.issues == nil {
		return nil, errors.New("pipeline: no issue gateway configured for a real run")
	}
	if err := e.ledger.Ping(ctx); err != nil {
		var lerr *ledger.Error
		if !errors.As(err, &lerr) {
			lerr = &ledger.Error{Op: "ping", Err: err}
		}
		logging.Get(logging.CategoryPipeline).Error("Ledger unavailable, aborting run: %v", lerr)
		return nil, lerr
	}

	runID := e.newRunID()
	ctx = gateway.WithRunID(ctx, runID)
	result := &RunResult{
		RunID:     runID,
		DryRun:    opts.DryRun,
		StartedAt: e.now(),
		Outcomes:  make([]ItemOutcome, len(batch.Stories)),
	}
	logging.Pipeline("Run %s: %d stories from %s (dry_run=%v, max_retries=%d, concurrency=%d)",
		runID, len(batch.Stories), batch.Source, opts.DryRun, opts.MaxRetries, e.concurrency)
	timer := logging.StartTimer(logging.CategoryPipeline, "Run "+runID)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range batch.Stories {
		it := e.newItem(runID, batch, i)
		if ctx.Err() != nil {
			result.Outcomes[i] = it.cancelled()
			continue
		}
		g.Go(func() error {
			result.Outcomes[i] = e.process(ctx, it, opts)
			return nil
		})
	}
	_ = g.Wait()

	result.FinishedAt = e.now()
	timer.StopWithInfo()
	logging.Pipeline("Run %s finished: created=%d skipped=%d failed=%d dry_run=%d",
		runID, result.Count(StatusCreated), result.Count(StatusSkipped), result.Count(StatusFailed), result.Count(StatusDryRun))
	return result, nil
}

func (e *Engine) newItem(runID string, batch *stories.Batch, i int) *item {
	eff := batch.Effective(i)
	fp := eff.Fingerprint()
	return &item{
		runID: runID,
		index: i,
		story: batch.Stories[i],
		eff:   eff,
		fp:    fp,
		log:   logging.Get(logging.CategoryPipeline).With("run_id", runID, "item", i, "fingerprint", fp[:12]),
	}
}

func (it *item) outcome() ItemOutcome {
	return ItemOutcome{Index: it.index, Title: it.story.Title, Fingerprint: it.fp, Stage: StageNotStarted}
}

func (it *item) cancelled() ItemOutcome {
	out := it.outcome()
	out.Status = StatusSkipped
	out.Reason = ReasonCancelled
	return out
}

func (e *Engine) emit(it *item, stage Stage, attempt int, err error) {
	it.log.Debug("stage=%s attempt=%d", stage, attempt)
	if e.observer == nil {
		return
	}
	e.observer(StageEvent{
		RunID:       it.runID,
		Index:       it.index,
		Fingerprint: it.fp,
		Stage:       stage,
		Attempt:     attempt,
		Err:         err,
		Time:        e.now(),
	})
}

func (e *Engine) fail(it *item, out ItemOutcome, err error) ItemOutcome {
	out.Status = StatusFailed
	out.Err = err
	e.emit(it, StageFailed, out.Attempts, err)
	it.log.Error("%q failed at %s: %v", it.story.Title, out.Stage, err)
	return out
}

// stop ends an item before anything was claimed in the ledger. Errors
// caused by run cancellation report the item as cancelled.
func (e *Engine) stop(ctx context.Context, it *item, out ItemOutcome, err error) ItemOutcome {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		out.Status = StatusSkipped
		out.Reason = ReasonCancelled
		return out
	}
	return e.fail(it, out, err)
}

// process runs one item. The fingerprint lock is held from the ledger
// lookup through the terminal ledger write.
func (e *Engine) process(ctx context.Context, it *item, opts RunOptions) ItemOutcome {
	out := it.outcome()
	if ctx.Err() != nil {
		return it.cancelled()
	}

	unlock := e.locks.Lock(it.fp)
	defer unlock()
	e.emit(it, StageNotStarted, 0, nil)

	entry, err := e.ledger.Lookup(ctx, it.fp)
	if err != nil {
		if ctx.Err() != nil {
			return it.cancelled()
		}
		return e.fail(it, out, asLedgerError("lookup", it.fp, err))
	}
	if entry != nil {
		switch entry.Status {
		case ledger.StatusCreated:
			out.Status = StatusSkipped
			out.Reason = ReasonAlreadyCreated
			out.IssueRef = entry.IssueRef
			it.log.Info("Skipping %q: already created as %s", it.story.Title, entry.IssueRef.Key)
			return out
		case ledger.StatusPending:
			it.log.Warn("Found pending entry for %q from run %s: interrupted prior run, re-attempting", it.story.Title, entry.RunID)
			if !opts.DryRun {
				if rec, ok := e.recoverPending(ctx, it, out, entry); ok {
					return rec
				}
			}
		case ledger.StatusFailed:
			it.log.Info("Retrying %q after earlier failure: %s", it.story.Title, entry.Error)
		}
	}

	// Gateways see the story with its effective labels and components.
	story := it.story
	story.Labels = it.eff.Labels
	story.Components = it.eff.Components
	story.IssueType = it.eff.IssueType

	var snippets []gateway.ContextSnippet
	if e.retriever != nil {
		out.Stage = StageRetrieving
		query := e.query(story)
		snippets, out.Attempts, err = withRetry(ctx, e, it, StageRetrieving, opts.MaxRetries,
			func(ctx context.Context, _ int) ([]gateway.ContextSnippet, error) {
				return e.retriever.Retrieve(ctx, query)
			})
		if err != nil {
			return e.stop(ctx, it, out, err)
		}
		it.log.Debug("retrieved %d snippets", len(snippets))
	}

	out.Stage = StageExpanding
	expanded, attempts, err := withRetry(ctx, e, it, StageExpanding, opts.MaxRetries,
		func(ctx context.Context, _ int) (gateway.ExpandedContent, error) {
			return e.expander.Expand(ctx, story, snippets)
		})
	out.Attempts = attempts
	if err != nil {
		return e.stop(ctx, it, out, err)
	}

	out.Stage = StageMerging
	e.emit(it, StageMerging, 0, nil)
	fields := Merge(it.eff, expanded, it.fp)
	out.Fields = &fields

	if opts.DryRun {
		out.Stage = StageDryRunDone
		out.Status = StatusDryRun
		e.emit(it, StageDryRunDone, 0, nil)
		it.log.Info("[DRY RUN] Would create %s in %s: %q (labels=%v)", fields.IssueType, fields.Project, fields.Summary, fields.Labels)
		return out
	}

	return e.create(ctx, it, out, fields, opts.MaxRetries)
}

// recoverPending asks the tracker whether a pending item was in fact created.
func (e *Engine) recoverPending(ctx context.Context, it *item, out ItemOutcome, entry *ledger.Entry) (ItemOutcome, bool) {
	if e.finder == nil {
		return out, false
	}
	probe := gateway.IssueFields{
		Project:     it.eff.Project,
		Summary:     it.eff.Title,
		IssueType:   it.eff.IssueType,
		Fingerprint: it.fp,
	}
	callCtx, cancel := e.callContext(ctx)
	ref, found, err := e.finder.FindIssue(callCtx, probe)
	cancel()
	if err != nil {
		it.log.Warn("Remote lookup for pending %q failed, re-attempting creation: %v", it.story.Title, err)
		return out, false
	}
	if !found {
		return out, false
	}

	now := e.now()
	rec := ledger.Entry{
		Fingerprint: it.fp,
		IssueRef:    ref,
		Status:      ledger.StatusCreated,
		RunID:       it.runID,
		Title:       it.story.Title,
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   now,
	}
	if err := e.ledger.Upsert(context.WithoutCancel(ctx), rec); err != nil {
		out.IssueRef = ref
		return e.fail(it, out, asLedgerError("upsert", it.fp, err)), true
	}
	out.Status = StatusSkipped
	out.Reason = ReasonRecovered
	out.IssueRef = ref
	it.log.Info("Recovered %q as %s from interrupted run", it.story.Title, ref.Key)
	return out, true
}

// create claims the fingerprint with a pending entry, calls the tracker and
// records the terminal state. Once the claim is written the item runs to
// completion on a context detached from cancellation.
func (e *Engine) create(ctx context.Context, it *item, out ItemOutcome, fields gateway.IssueFields, maxRetries int) ItemOutcome {
	out.Stage = StageCreating
	now := e.now()
	pending := ledger.Entry{
		Fingerprint: it.fp,
		Status:      ledger.StatusPending,
		RunID:       it.runID,
		Title:       it.story.Title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.ledger.Upsert(ctx, pending); err != nil {
		if ctx.Err() != nil {
			return it.cancelled()
		}
		return e.fail(it, out, asLedgerError("upsert", it.fp, err))
	}

	detached := context.WithoutCancel(ctx)
	ref, attempts, err := withRetry(detached, e, it, StageCreating, maxRetries,
		func(ctx context.Context, attempt int) (gateway.IssueRef, error) {
			// A failed attempt may still have created the issue.
			if attempt > 1 && e.finder != nil {
				if ref, found, ferr := e.finder.FindIssue(ctx, fields); ferr == nil && found {
					it.log.Info("Issue %s exists after a failed attempt, not creating again", ref.Key)
					return ref, nil
				}
			}
			return e.issues.CreateIssue(ctx, fields)
		})
	out.Attempts = attempts

	if err != nil {
		failed := ledger.Entry{
			Fingerprint: it.fp,
			Status:      ledger.StatusFailed,
			Error:       err.Error(),
			RunID:       it.runID,
			Title:       it.story.Title,
			CreatedAt:   now,
			UpdatedAt:   e.now(),
		}
		if lerr := e.ledger.Upsert(detached, failed); lerr != nil {
			err = errors.Join(err, asLedgerError("upsert", it.fp, lerr))
		}
		return e.fail(it, out, err)
	}

	out.IssueRef = ref
	created := ledger.Entry{
		Fingerprint: it.fp,
		IssueRef:    ref,
		Status:      ledger.StatusCreated,
		RunID:       it.runID,
		Title:       it.story.Title,
		CreatedAt:   now,
		UpdatedAt:   e.now(),
	}
	if err := e.ledger.Upsert(detached, created); err != nil {
		// The issue exists but the ledger does not know it; the pending
		// entry lets the next run recover it.
		return e.fail(it, out, asLedgerError("upsert", it.fp, err))
	}

	out.Stage = StageCreated
	out.Status = StatusCreated
	e.emit(it, StageCreated, attempts, nil)
	it.log.Info("Created %s for %q", ref.Key, it.story.Title)
	return out
}

func asLedgerError(op, fp string, err error) error {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		return err
	}
	return &ledger.Error{Op: op, Fingerprint: fp, Err: err}
}
