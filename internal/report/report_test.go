package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"agentjira/internal/gateway"
	"agentjira/internal/ledger"
	"agentjira/internal/pipeline"
	"agentjira/internal/usage"
)

func sampleResult() *pipeline.RunResult {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fields := &gateway.IssueFields{Project: "PROJ", Summary: "Search", IssueType: "Story", Description: "Body"}
	return &pipeline.RunResult{
		RunID:      "run-42",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcomes: []pipeline.ItemOutcome{
			{Index: 0, Title: "Login", Fingerprint: "aa", Status: pipeline.StatusCreated, Stage: pipeline.StageCreated,
				IssueRef: gateway.IssueRef{Key: "PROJ-1", URL: "https://jira/browse/PROJ-1"}, Attempts: 1, Fields: fields},
			{Index: 1, Title: "Logout", Fingerprint: "bb", Status: pipeline.StatusFailed, Stage: pipeline.StageExpanding,
				Err: errors.New("expansion: content policy"), Attempts: 4},
			{Index: 2, Title: "Profile", Fingerprint: "cc", Status: pipeline.StatusSkipped, Stage: pipeline.StageNotStarted,
				Reason: pipeline.ReasonAlreadyCreated, IssueRef: gateway.IssueRef{Key: "PROJ-0"}},
		},
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(sampleResult())
	want := Summary{Total: 3, Created: 1, Skipped: 1, Failed: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "3 total: 1 created, 1 skipped, 1 failed", got.String())
	assert.Equal(t, "1 total: 0 created, 0 skipped, 0 failed, 1 dry-run", Summary{Total: 1, DryRun: 1}.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-42", doc.RunID)
	assert.Equal(t, int64(1500), doc.DurationMS)
	require.Len(t, doc.Items, 3)
	assert.Equal(t, "PROJ-1", doc.Items[0].Issue.Key)
	assert.Nil(t, doc.Items[1].Issue)
	assert.Equal(t, "expansion: content policy", doc.Items[1].Error)
	assert.Equal(t, pipeline.ReasonAlreadyCreated, doc.Items[2].Reason)
	assert.NotContains(t, buf.String(), `"fields": null`)
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, sampleResult()))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-42", doc["run_id"])
	items, ok := doc["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 3)
	assert.Contains(t, buf.String(), "status: failed")
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult()))
	out := buf.String()

	for _, want := range []string{"run-42", "Login", "PROJ-1", "created", "Logout", "expanding: expansion: content policy", "already created", "3 total: 1 created, 1 skipped, 1 failed"} {
		assert.Contains(t, out, want)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.ErrorContains(t, Write(&bytes.Buffer{}, sampleResult(), "xml"), "unknown format")
}

func TestPreviewMarkdown(t *testing.T) {
	md := PreviewMarkdown(gateway.IssueFields{
		Project:     "PROJ",
		Summary:     "Search",
		IssueType:   "Story",
		Priority:    "High",
		Labels:      []string{"a", "b"},
		Description: "As a user...",
	})
	assert.Contains(t, md, "# Search\n")
	assert.Contains(t, md, "- **Priority:** High\n")
	assert.Contains(t, md, "- **Labels:** a, b\n")
	assert.NotContains(t, md, "Components")
	assert.NotContains(t, md, "Epic")
	assert.Contains(t, md, "As a user...")
}

func TestRenderPreview(t *testing.T) {
	out, err := RenderPreview(gateway.IssueFields{Project: "PROJ", Summary: "Search", IssueType: "Story", Description: "Body text"}, 60, "notty")
	require.NoError(t, err)
	assert.Contains(t, out, "Search")
	assert.Contains(t, out, "Body")
}

func TestWriteEntries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, nil))
	assert.Equal(t, "Ledger is empty.\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteEntries(&buf, []ledger.Entry{
		{Fingerprint: "0123456789abcdef", Status: ledger.StatusCreated, IssueRef: gateway.IssueRef{Key: "PROJ-3"}, Title: "Login"},
		{Fingerprint: "fedcba", Status: ledger.StatusFailed, Title: "Logout", Error: "boom"},
	}))
	out := buf.String()
	for _, want := range []string{"0123456789ab", "PROJ-3", "Login", "fedcba", "failed", "boom", "2 entries"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "0123456789abcdef")
}

func TestWriteUsage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUsage(&buf, usage.AggregatedStats{}))
	assert.Equal(t, "No LLM usage recorded.\n", buf.String())

	buf.Reset()
	stats := usage.AggregatedStats{
		Total:      usage.TokenCounts{Calls: 2, Input: 30, Output: 12, Total: 42},
		ByProvider: map[string]usage.TokenCounts{"openai": {Calls: 2, Input: 30, Output: 12, Total: 42}},
		ByModel:    map[string]usage.TokenCounts{"gpt-4o": {Calls: 2, Input: 30, Output: 12, Total: 42}},
		ByRun:      map[string]usage.TokenCounts{"r1": {}, "r2": {}},
	}
	require.NoError(t, WriteUsage(&buf, stats))
	out := buf.String()
	for _, want := range []string{"openai", "gpt-4o", "42", "2 calls, 42 tokens across 2 runs"} {
		assert.Contains(t, out, want)
	}
}
