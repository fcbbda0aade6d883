// Package jira implements gateway.IssueCreator and gateway.IssueFinder
// against the Jira REST API (v2).
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"agentjira/internal/config"
	"agentjira/internal/gateway"
	"agentjira/internal/logging"
)

// DefaultEpicField is the custom field Jira Cloud uses for the epic link.
const DefaultEpicField = "customfield_10014"

// Config holds connection settings.
type Config struct {
	BaseURL      string
	Username     string
	APIToken     string
	EpicField    string
	MarkerPrefix string
	Timeout      time.Duration
}

// FromSettings maps application settings onto a client Config.
func FromSettings(c config.JiraConfig, timeout time.Duration) Config {
	return Config{
		BaseURL:      c.URL,
		Username:     c.Username,
		APIToken:     c.APIToken,
		EpicField:    c.EpicField,
		MarkerPrefix: c.MarkerPrefix,
		Timeout:      timeout,
	}
}

// Client talks to one Jira site.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client. BaseURL and credentials are required.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("jira: base URL not configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("jira: invalid base URL: %w", err)
	}
	if cfg.Username == "" || cfg.APIToken == "" {
		return nil, errors.New("jira: username and API token are required")
	}
	if cfg.EpicField == "" {
		cfg.EpicField = DefaultEpicField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

// MarkerLabel is the label attached to every created issue so a later run
// can find it by fingerprint. Empty when markers are disabled.
func (c *Client) MarkerLabel(fingerprint string) string {
	if c.cfg.MarkerPrefix == "" || fingerprint == "" {
		return ""
	}
	fp := fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return c.cfg.MarkerPrefix + fp
}

// BrowseURL returns the web link for an issue key.
func (c *Client) BrowseURL(key string) string {
	return c.cfg.BaseURL + "/browse/" + key
}

type named struct {
	Name string `json:"name"`
}

type keyed struct {
	Key string `json:"key"`
}

type createResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

type searchResponse struct {
	Total  int `json:"total"`
	Issues []struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"issues"`
}

type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

// validateFields checks what Jira rejects outright.
func validateFields(f gateway.IssueFields) error {
	var missing []string
	if strings.TrimSpace(f.Project) == "" {
		missing = append(missing, "project")
	}
	if strings.TrimSpace(f.Summary) == "" {
		missing = append(missing, "summary")
	}
	if strings.TrimSpace(f.IssueType) == "" {
		missing = append(missing, "issuetype")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required fields missing from issue data: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Client) payload(f gateway.IssueFields) map[string]any {
	fields := map[string]any{
		"project":     keyed{Key: f.Project},
		"summary":     f.Summary,
		"description": f.Description,
		"issuetype":   named{Name: f.IssueType},
	}
	if f.Priority != "" {
		fields["priority"] = named{Name: f.Priority}
	}
	labels := append([]string(nil), f.Labels...)
	if marker := c.MarkerLabel(f.Fingerprint); marker != "" {
		labels = append(labels, marker)
	}
	if len(labels) > 0 {
		fields["labels"] = labels
	}
	if len(f.Components) > 0 {
		comps := make([]named, len(f.Components))
		for i, name := range f.Components {
			comps[i] = named{Name: name}
		}
		fields["components"] = comps
	}
	if f.Epic != "" {
		fields[c.cfg.EpicField] = f.Epic
	}
	return map[string]any{"fields": fields}
}

// CreateIssue implements gateway.IssueCreator with a single attempt.
func (c *Client) CreateIssue(ctx context.Context, f gateway.IssueFields) (gateway.IssueRef, error) {
	if err := validateFields(f); err != nil {
		return gateway.IssueRef{}, gateway.IssueCreationError(err, false)
	}
	timer := logging.StartTimer(logging.CategoryJira, "CreateIssue")
	defer timer.Stop()

	body, err := json.Marshal(c.payload(f))
	if err != nil {
		return gateway.IssueRef{}, gateway.IssueCreationError(fmt.Errorf("marshal issue: %w", err), false)
	}

	var created createResponse
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", nil, body, &created); err != nil {
		logging.Get(logging.CategoryJira).Error("Failed to create issue %q: %v", f.Summary, err)
		return gateway.IssueRef{}, err
	}
	if created.Key == "" {
		return gateway.IssueRef{}, gateway.IssueCreationError(errors.New("response carried no issue key"), false)
	}

	ref := gateway.IssueRef{Key: created.Key, ID: created.ID, URL: c.BrowseURL(created.Key)}
	logging.Jira("Created issue %s (%s)", ref.Key, f.Summary)
	return ref, nil
}

// FindIssue implements gateway.IssueFinder by searching for the marker
// label of f's fingerprint.
func (c *Client) FindIssue(ctx context.Context, f gateway.IssueFields) (gateway.IssueRef, bool, error) {
	marker := c.MarkerLabel(f.Fingerprint)
	if marker == "" {
		return gateway.IssueRef{}, false, nil
	}
	jql := fmt.Sprintf("labels = %q", marker)
	if f.Project != "" {
		jql = fmt.Sprintf("project = %q AND %s", f.Project, jql)
	}
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", "1")
	q.Set("fields", "summary")

	var res searchResponse
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/search", q, nil, &res); err != nil {
		return gateway.IssueRef{}, false, err
	}
	if len(res.Issues) == 0 {
		logging.JiraDebug("No issue found for marker %s", marker)
		return gateway.IssueRef{}, false, nil
	}
	issue := res.Issues[0]
	logging.Jira("Found existing issue %s for marker %s", issue.Key, marker)
	return gateway.IssueRef{Key: issue.Key, ID: issue.ID, URL: c.BrowseURL(issue.Key)}, true, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return gateway.IssueCreationError(fmt.Errorf("build request: %w", err), false)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.JiraDebug("%s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", method, path, err)
		return gateway.IssueCreationError(err, gateway.IsRetryable(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.IssueCreationError(fmt.Errorf("read response: %w", err), true)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gateway.HTTPError(gateway.KindIssueCreation, resp.StatusCode, describeError(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return gateway.IssueCreationError(fmt.Errorf("decode response: %w", err), false)
	}
	return nil
}

// describeError flattens Jira's error document; other bodies pass through.
func describeError(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return string(body)
	}
	parts := append([]string(nil), er.ErrorMessages...)
	for field, msg := range er.Errors {
		parts = append(parts, field+": "+msg)
	}
	if len(parts) == 0 {
		return string(body)
	}
	sort.Strings(parts[len(er.ErrorMessages):])
	return strings.Join(parts, "; ")
}
