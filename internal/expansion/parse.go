package expansion

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"agentjira/internal/gateway"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("empty response from model")

type responseDoc struct {
	Summary            string          `json:"summary"`
	AcceptanceCriteria json.RawMessage `json:"acceptance_criteria"`
	TechnicalNotes     json.RawMessage `json:"technical_notes"`
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseResponse extracts ExpandedContent from model output. JSON (fenced
// or bare) is preferred; plain Markdown falls back to heading detection.
func ParseResponse(text string) (gateway.ExpandedContent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return gateway.ExpandedContent{}, ErrEmptyResponse
	}

	if raw, ok := extractJSON(text); ok {
		var doc responseDoc
		if err := json.Unmarshal([]byte(raw), &doc); err == nil && strings.TrimSpace(doc.Summary) != "" {
			return gateway.ExpandedContent{
				Summary:            strings.TrimSpace(doc.Summary),
				AcceptanceCriteria: stringList(doc.AcceptanceCriteria),
				TechnicalNotes:     strings.Join(stringList(doc.TechnicalNotes), "\n"),
			}, nil
		}
	}
	return parseMarkdown(text), nil
}

func extractJSON(text string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// stringList accepts a JSON string or array of strings.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanItems(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return cleanItems([]string{single})
	}
	return nil
}

func cleanItems(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var bulletRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(?:\[[ xX]\]\s*)?(.*)$`)

// parseMarkdown splits free text into summary, acceptance criteria and
// technical notes using headings that mention those sections.
func parseMarkdown(text string) gateway.ExpandedContent {
	const (
		secSummary = iota
		secCriteria
		secNotes
		secOther
	)
	var (
		summary, notes []string
		criteria       []string
		section        = secSummary
	)
	for _, line := range strings.Split(text, "\n") {
		if heading, ok := headingText(line); ok {
			h := strings.ToLower(heading)
			switch {
			case strings.Contains(h, "acceptance"):
				section = secCriteria
			case strings.Contains(h, "technical"):
				section = secNotes
			case strings.Contains(h, "definition of done"):
				section = secOther
			default:
				if section == secSummary {
					summary = append(summary, line)
				}
			}
			continue
		}
		switch section {
		case secSummary:
			summary = append(summary, line)
		case secCriteria:
			if m := bulletRe.FindStringSubmatch(line); m != nil {
				criteria = append(criteria, strings.TrimSpace(m[1]))
			}
		case secNotes:
			notes = append(notes, line)
		}
	}
	return gateway.ExpandedContent{
		Summary:            strings.TrimSpace(strings.Join(summary, "\n")),
		AcceptanceCriteria: cleanItems(criteria),
		TechnicalNotes:     strings.TrimSpace(strings.Join(notes, "\n")),
	}
}

func headingText(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "#") {
		return strings.TrimSpace(strings.TrimLeft(t, "#")), true
	}
	if strings.HasPrefix(t, "**") && strings.HasSuffix(strings.TrimSuffix(t, ":"), "**") && len(t) > 4 {
		return strings.Trim(strings.TrimSuffix(t, ":"), "*: "), true
	}
	return "", false
}
