// Package usage accounts LLM token consumption per provider, model and run,
// persisted as JSON in the workspace state directory.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentjira/internal/gateway"
	"agentjira/internal/logging"
)

const (
	fileName    = "usage.json"
	dataVersion = "1"

	// OperationExpand is recorded for story expansion calls.
	OperationExpand = "expand"
)

type contextKey struct{}

// Tracker records token usage. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	now      func() time.Time
}

// NewTracker opens (or starts) the usage file inside stateDir.
func NewTracker(stateDir string) (*Tracker, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	t := &Tracker{
		filePath: filepath.Join(stateDir, fileName),
		data:     UsageData{Version: dataVersion},
		now:      time.Now,
	}
	t.data.Aggregate.ensureMaps()
	if err := t.Load(); err != nil {
		logging.Get(logging.CategoryExpansion).Warn("Ignoring unreadable usage file %s: %v", t.filePath, err)
		t.data = UsageData{Version: dataVersion}
		t.data.Aggregate.ensureMaps()
	}
	return t, nil
}

// Path returns the backing file.
func (t *Tracker) Path() string { return t.filePath }

func (a *AggregatedStats) ensureMaps() {
	if a.ByProvider == nil {
		a.ByProvider = make(map[string]TokenCounts)
	}
	if a.ByModel == nil {
		a.ByModel = make(map[string]TokenCounts)
	}
	if a.ByOperation == nil {
		a.ByOperation = make(map[string]TokenCounts)
	}
	if a.ByRun == nil {
		a.ByRun = make(map[string]TokenCounts)
	}
}

// Load reads the usage file. A missing file is not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}
	t.data.Aggregate.ensureMaps()
	return nil
}

// Save writes the usage file.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.UpdatedAt = t.now().UTC()
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records one call. The run is taken from ctx (gateway.WithRunID).
func (t *Tracker) Track(ctx context.Context, provider, model, operation string, input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := &t.data.Aggregate
	agg.Total.Add(input, output)
	addToMap(agg.ByProvider, provider, input, output)
	addToMap(agg.ByModel, model, input, output)
	addToMap(agg.ByOperation, operation, input, output)
	if run := gateway.RunIDFrom(ctx); run != "" {
		addToMap(agg.ByRun, run, input, output)
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.ByRun = copyTokenCountsMap(stats.ByRun)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	if key == "" {
		key = "unknown"
	}
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

// NewContext returns a context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the tracker in ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(contextKey{}).(*Tracker)
	return t
}

// Record tracks a call on the tracker in ctx, if any.
func Record(ctx context.Context, provider, model, operation string, input, output int) {
	if t := FromContext(ctx); t != nil {
		t.Track(ctx, provider, model, operation, input, output)
	}
}
