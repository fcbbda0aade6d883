// Package expansion turns a story outline into a detailed issue body using
// an LLM. Two providers are supported: any OpenAI-compatible chat endpoint
// and Google Gemini through the genai SDK.
package expansion

import (
	"fmt"
	"strings"

	"agentjira/internal/gateway"
	"agentjira/internal/stories"
)

// maxSnippetChars bounds each retrieved snippet quoted in the prompt.
const maxSnippetChars = 1200

const systemPrompt = `You are an expert product manager and technical writer who turns short story outlines into detailed, actionable issues for software teams.

Respond with a single JSON object and nothing else:
{
  "summary": "user story in the form 'As a <user>, I want <goal> so that <benefit>' followed by a detailed description",
  "acceptance_criteria": ["specific, testable criterion", "..."],
  "technical_notes": "implementation considerations, or an empty string"
}

Guidelines:
- Write in clear, professional language.
- Make acceptance criteria specific and testable, including edge cases and error scenarios.
- Include relevant technical detail without being overly prescriptive.
- Keep the story sized for a single sprint.`

// BuildPrompt renders the user message for story, quoting any retrieved
// context.
func BuildPrompt(story stories.Story, snippets []gateway.ContextSnippet) string {
	var b strings.Builder
	b.WriteString("Expand this story outline.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", story.Title)
	fmt.Fprintf(&b, "Description: %s\n", story.Description)
	fmt.Fprintf(&b, "Priority: %s\n", orDefault(string(story.Priority), string(stories.PriorityMedium)))
	fmt.Fprintf(&b, "Issue type: %s\n", orDefault(story.IssueType, stories.DefaultIssueType))
	fmt.Fprintf(&b, "Labels: %s\n", joinOrNone(story.Labels))
	fmt.Fprintf(&b, "Components: %s\n", joinOrNone(story.Components))

	if len(snippets) > 0 {
		b.WriteString("\nRelated context from the project knowledge base:\n")
		for i, s := range snippets {
			content := strings.TrimSpace(s.Content)
			if len(content) > maxSnippetChars {
				content = content[:maxSnippetChars] + "..."
			}
			src := s.Source
			if src == "" {
				src = s.ID
			}
			fmt.Fprintf(&b, "\n[%d] (%s)\n%s\n", i+1, src, content)
		}
	}
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}
