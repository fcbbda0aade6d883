package stories

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// fingerprintVersion is mixed into every hash; bump it when the canonical
// encoding changes so old ledger entries stop matching.
const fingerprintVersion = "agentjira/fp/v1"

// Effective is the derived view of a story after applying global defaults.
type Effective struct {
	Project     string
	Title       string
	Description string
	Priority    Priority
	Labels      []string // sorted, unique
	Components  []string // sorted, unique
	IssueType   string
	Epic        string
}

// Resolve merges a story with the batch defaults.
func Resolve(g Global, s Story) Effective {
	e := Effective{
		Project:     s.Project,
		Title:       s.Title,
		Description: s.Description,
		Priority:    s.Priority,
		Labels:      union(g.Labels, s.Labels),
		Components:  union(g.Components, s.Components),
		IssueType:   s.IssueType,
		Epic:        s.Epic,
	}
	if e.Project == "" {
		e.Project = g.Project
	}
	if e.Epic == "" {
		e.Epic = g.Epic
	}
	if e.IssueType == "" {
		e.IssueType = DefaultIssueType
	}
	return e
}

// Fingerprint returns the idempotence key for the effective fields.
func (e Effective) Fingerprint() string {
	return Fingerprint(e.Project, e.Title, e.Description, e.Labels, e.Components, e.IssueType)
}

// Fingerprint hashes the identity fields with a length-prefixed encoding so
// no two distinct inputs share a byte stream. Label and component order is
// irrelevant. The result is lowercase hex SHA-256.
func Fingerprint(project, title, description string, labels, components []string, issueType string) string {
	var b strings.Builder
	writeField(&b, fingerprintVersion)
	writeField(&b, project)
	writeField(&b, title)
	writeField(&b, description)
	writeList(&b, union(labels, nil))
	writeList(&b, union(components, nil))
	writeField(&b, issueType)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte(';')
}

func writeList(b *strings.Builder, items []string) {
	b.WriteString(strconv.Itoa(len(items)))
	b.WriteByte('[')
	for _, it := range items {
		writeField(b, it)
	}
	b.WriteByte(']')
}

// union returns the sorted set union of a and b.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
