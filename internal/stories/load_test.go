package stories

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStories = `
global:
  project: "PROJ"
  labels: ["ai-generated", "automated"]
  components: ["backend"]
  epic: "PROJ-1"
stories:
  - title: "User Authentication System"
    description: "Implement secure login"
    priority: high
    labels: ["security"]
    components: ["auth"]
  - title: "Audit trail"
    description: "Record admin actions"
    issue_type: Task
    project: OTHER
    epic: OTHER-9
`

func TestParse_Sample(t *testing.T) {
	batch, err := Parse([]byte(sampleStories), "stories.yaml")
	require.NoError(t, err)
	require.Len(t, batch.Stories, 2)

	assert.Equal(t, "PROJ", batch.Global.Project)
	assert.Equal(t, []string{"ai-generated", "automated"}, batch.Global.Labels)

	first := batch.Stories[0]
	assert.Equal(t, PriorityHigh, first.Priority, "priority is normalized to canonical casing")
	assert.Equal(t, DefaultIssueType, first.IssueType)
	assert.Empty(t, first.Project)

	second := batch.Stories[1]
	assert.Equal(t, "Task", second.IssueType)
	assert.Empty(t, second.Priority)

	eff := batch.Effective(1)
	assert.Equal(t, "OTHER", eff.Project)
	assert.Equal(t, "OTHER-9", eff.Epic)
}

func TestParse_MissingTitle(t *testing.T) {
	data := `
global:
  project: PROJ
stories:
  - description: "no title here"
`
	_, err := Parse([]byte(data), "")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, KindMissingField, cfgErr.Kind)
	assert.Equal(t, "title", cfgErr.Field)
	assert.Equal(t, 0, cfgErr.Index)
}

func TestParse_BlankDescriptionIsMissing(t *testing.T) {
	data := `
global: {project: PROJ}
stories:
  - title: "t"
    description: "   "
`
	_, err := Parse([]byte(data), "")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindMissingField, cfgErr.Kind)
	assert.Equal(t, "description", cfgErr.Field)
}

func TestParse_FailFastReportsFirstViolation(t *testing.T) {
	data := `
global: {project: PROJ}
stories:
  - title: ok
    description: fine
  - title: second
    priority: Urgent
    description: bad priority
  - description: missing title
`
	_, err := Parse([]byte(data), "")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindInvalidEnum, cfgErr.Kind)
	assert.Equal(t, 1, cfgErr.Index)
	assert.Equal(t, "priority", cfgErr.Field)
	assert.Equal(t, "Urgent", cfgErr.Value)
	assert.NotContains(t, err.Error(), "story 2")
}

func TestParse_ProjectRequiredAtEffectiveLevel(t *testing.T) {
	data := `
stories:
  - title: has project
    description: d
    project: SELF
  - title: orphan
    description: d
`
	_, err := Parse([]byte(data), "")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindMissingField, cfgErr.Kind)
	assert.Equal(t, "project", cfgErr.Field)
	assert.Equal(t, 1, cfgErr.Index)
}

func TestParse_DefaultProject(t *testing.T) {
	data := `
stories:
  - title: t
    description: d
`
	batch, err := Parse([]byte(data), "", WithDefaultProject("CFG"))
	require.NoError(t, err)
	assert.Equal(t, "CFG", batch.Effective(0).Project)

	// a file-level project takes precedence over the settings default
	batch, err = Parse([]byte("global: {project: FILE}\n"+data), "", WithDefaultProject("CFG"))
	require.NoError(t, err)
	assert.Equal(t, "FILE", batch.Effective(0).Project)
}

func TestParse_GlobalOptional(t *testing.T) {
	data := `
stories:
  - title: t
    description: d
    project: P
`
	batch, err := Parse([]byte(data), "")
	require.NoError(t, err)
	assert.Equal(t, Global{}, batch.Global)
}

func TestParse_FileLevelErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind ErrorKind
	}{
		{"empty document", "", KindEmpty},
		{"no stories", "global: {project: P}\n", KindEmpty},
		{"empty list", "stories: []\n", KindEmpty},
		{"malformed yaml", "stories: [\n", KindParse},
		{"wrong shape", "stories: 42\n", KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "x.yaml")
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.kind, cfgErr.Kind)
			assert.Equal(t, -1, cfgErr.Index)
		})
	}
}

func TestParse_DropsBlankListEntries(t *testing.T) {
	data := `
global:
  project: P
  labels: [" a ", "", "  "]
stories:
  - title: t
    description: d
    components: ["", "core"]
`
	batch, err := Parse([]byte(data), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, batch.Global.Labels)
	assert.Equal(t, []string{"core"}, batch.Stories[0].Components)
}

func TestLoad_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleStories), 0644))

	batch, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, batch.Source)
	assert.Len(t, batch.Stories, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindIO, cfgErr.Kind)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadReader(t *testing.T) {
	batch, err := LoadReader(strings.NewReader(sampleStories))
	require.NoError(t, err)
	assert.Empty(t, batch.Source)
	assert.Len(t, batch.Stories, 2)
}

func TestParsePriority(t *testing.T) {
	for _, in := range []string{"critical", "CRITICAL", " Critical "} {
		p, err := ParsePriority(in)
		require.NoError(t, err)
		assert.Equal(t, PriorityCritical, p)
	}
	_, err := ParsePriority("blocker")
	assert.Error(t, err)
}
