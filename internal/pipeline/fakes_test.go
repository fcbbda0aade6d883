package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agentjira/internal/gateway"
	"agentjira/internal/ledger"
	"agentjira/internal/stories"
)

var (
	errTransient = gateway.ExpansionError(errors.New("rate limited"), true)
	errPermanent = gateway.ExpansionError(errors.New("content policy"), false)
)

// fakeExpander returns canned content unless fn overrides it per call.
type fakeExpander struct {
	mu    sync.Mutex
	calls map[string]int
	seen  []stories.Story
	fn    func(ctx context.Context, s stories.Story, call int) (gateway.ExpandedContent, error)
}

func (f *fakeExpander) Expand(ctx context.Context, s stories.Story, snippets []gateway.ContextSnippet) (gateway.ExpandedContent, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[s.Title]++
	call := f.calls[s.Title]
	f.seen = append(f.seen, s)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, s, call)
	}
	return gateway.ExpandedContent{
		Summary:            "As a user, I want " + s.Title,
		AcceptanceCriteria: []string{"works"},
	}, nil
}

func (f *fakeExpander) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeExpander) count(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[title]
}

// fakeTracker hands out sequential keys.
type fakeTracker struct {
	mu      sync.Mutex
	next    int
	created []gateway.IssueFields
	fn      func(ctx context.Context, f gateway.IssueFields) error
}

func (t *fakeTracker) CreateIssue(ctx context.Context, f gateway.IssueFields) (gateway.IssueRef, error) {
	if t.fn != nil {
		if err := t.fn(ctx, f); err != nil {
			return gateway.IssueRef{}, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.created = append(t.created, f)
	key := fmt.Sprintf("%s-%d", f.Project, t.next)
	return gateway.IssueRef{Key: key, ID: fmt.Sprint(10000 + t.next), URL: "https://jira.test/browse/" + key}, nil
}

func (t *fakeTracker) createdCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.created)
}

// findingTracker also implements gateway.IssueFinder.
type findingTracker struct {
	fakeTracker
	remote  map[string]gateway.IssueRef
	lookups atomic.Int32
}

func (t *findingTracker) FindIssue(_ context.Context, f gateway.IssueFields) (gateway.IssueRef, bool, error) {
	t.lookups.Add(1)
	ref, ok := t.remote[f.Fingerprint]
	return ref, ok, nil
}

// faultyLedger injects storage failures into a Memory ledger.
type faultyLedger struct {
	*ledger.Memory
	pingErr  error
	failOn   ledger.Status
	upsertFn func(e ledger.Entry)
}

func (l *faultyLedger) Ping(ctx context.Context) error {
	if l.pingErr != nil {
		return l.pingErr
	}
	return l.Memory.Ping(ctx)
}

func (l *faultyLedger) Upsert(ctx context.Context, e ledger.Entry) error {
	if l.upsertFn != nil {
		l.upsertFn(e)
	}
	if l.failOn != "" && e.Status == l.failOn {
		return errors.New("disk full")
	}
	return l.Memory.Upsert(ctx, e)
}

func batchOf(titles ...string) *stories.Batch {
	b := &stories.Batch{
		Source: "test.yaml",
		Global: stories.Global{Project: "PROJ", Labels: []string{"ai-generated"}},
	}
	for _, t := range titles {
		b.Stories = append(b.Stories, stories.Story{Title: t, Description: "Description of " + t})
	}
	return b
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
