package stories

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"agentjira/internal/logging"
)

type fileDoc struct {
	Global  *globalDoc `yaml:"global"`
	Stories []storyDoc `yaml:"stories"`
}

type globalDoc struct {
	Project    string   `yaml:"project"`
	Labels     []string `yaml:"labels"`
	Components []string `yaml:"components"`
	Epic       string   `yaml:"epic"`
}

type storyDoc struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Priority    string   `yaml:"priority"`
	Labels      []string `yaml:"labels"`
	Components  []string `yaml:"components"`
	IssueType   string   `yaml:"issue_type"`
	Project     string   `yaml:"project"`
	Epic        string   `yaml:"epic"`
}

type loadOptions struct {
	defaultProject string
}

// LoadOption adjusts loading.
type LoadOption func(*loadOptions)

// WithDefaultProject supplies a project key used when the file has no
// global.project. Stories with their own project are unaffected.
func WithDefaultProject(key string) LoadOption {
	return func(o *loadOptions) { o.defaultProject = strings.TrimSpace(key) }
}

// Load reads and validates a stories file.
func Load(path string, opts ...LoadOption) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Kind: KindIO, Index: -1, Source: path, Err: err}
	}
	return Parse(data, path, opts...)
}

// LoadReader reads and validates a stories document from r.
func LoadReader(r io.Reader, opts ...LoadOption) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigError{Kind: KindIO, Index: -1, Err: err}
	}
	return Parse(data, "", opts...)
}

// Parse validates a stories document. Validation stops at the first
// violation in file order.
func Parse(data []byte, source string, opts ...LoadOption) (*Batch, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var doc fileDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Kind: KindEmpty, Index: -1, Source: source}
		}
		return nil, &ConfigError{Kind: KindParse, Index: -1, Source: source, Err: err}
	}
	if len(doc.Stories) == 0 {
		return nil, &ConfigError{Kind: KindEmpty, Index: -1, Source: source}
	}

	batch := &Batch{Source: source}
	if doc.Global != nil {
		batch.Global = Global{
			Project:    strings.TrimSpace(doc.Global.Project),
			Labels:     cleanList(doc.Global.Labels),
			Components: cleanList(doc.Global.Components),
			Epic:       strings.TrimSpace(doc.Global.Epic),
		}
	}
	if batch.Global.Project == "" {
		batch.Global.Project = o.defaultProject
	}

	batch.Stories = make([]Story, 0, len(doc.Stories))
	for i, sd := range doc.Stories {
		s, err := buildStory(i, sd, batch.Global)
		if err != nil {
			err.Source = source
			return nil, err
		}
		batch.Stories = append(batch.Stories, s)
	}

	logging.ConfigInfo("loaded %d stories from %s", len(batch.Stories), displaySource(source))
	return batch, nil
}

func buildStory(i int, sd storyDoc, g Global) (Story, *ConfigError) {
	s := Story{
		Title:       strings.TrimSpace(sd.Title),
		Description: strings.TrimSpace(sd.Description),
		Labels:      cleanList(sd.Labels),
		Components:  cleanList(sd.Components),
		IssueType:   strings.TrimSpace(sd.IssueType),
		Project:     strings.TrimSpace(sd.Project),
		Epic:        strings.TrimSpace(sd.Epic),
	}
	if s.Title == "" {
		return Story{}, &ConfigError{Kind: KindMissingField, Index: i, Field: "title"}
	}
	if s.Description == "" {
		return Story{}, &ConfigError{Kind: KindMissingField, Index: i, Field: "description"}
	}
	if raw := strings.TrimSpace(sd.Priority); raw != "" {
		p, err := ParsePriority(raw)
		if err != nil {
			return Story{}, &ConfigError{Kind: KindInvalidEnum, Index: i, Field: "priority", Value: sd.Priority, Err: err}
		}
		s.Priority = p
	}
	if s.IssueType == "" {
		s.IssueType = DefaultIssueType
	}
	if s.Project == "" && g.Project == "" {
		return Story{}, &ConfigError{Kind: KindMissingField, Index: i, Field: "project"}
	}
	return s, nil
}

// cleanList trims entries and drops blanks. Order is preserved.
func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func displaySource(source string) string {
	if source == "" {
		return "<reader>"
	}
	return source
}
