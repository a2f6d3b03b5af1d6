package backend

import (
	"fmt"
	"strings"

	"repo-review-dashboard/internal/domain"

	"github.com/tmc/langchaingo/prompts"
)

// Bounds on how much of the snapshot is rendered into the prompt. The
// snapshot lists are already bounded by the fetcher; these caps keep the
// prompt inside a sane context window regardless.
const (
	maxPromptCommits = 30
	maxPromptPRs     = 20
	maxPromptFiles   = 200
	maxReadmeChars   = 4000
)

// systemInstruction frames the review task for both backend variants.
const systemInstruction = `You are a senior software engineering reviewer analyzing a GitHub repository.
Write a thorough markdown review of the repository based on the data provided.
After the markdown narrative, append exactly one fenced json block of the form:

` + "```json" + `
{"scores":{"quality":0,"security":0,"reliability":0,"teamBalance":0,"techStackSuitability":0,"commitQuality":0,"prQuality":0,"structureQuality":0},"commitSummaries":{"<sha>":"..."},"prSummaries":{"<number>":"..."}}
` + "```" + `

Scores are integers from 0 to 100. Omit any metric you cannot assess.
Summaries are optional and may cover only notable commits and pull requests.`

var analysisPrompt = prompts.PromptTemplate{
	Template: `Analyze the repository {{.fullName}}.

{{.details}}

Produce the markdown review followed by the structured json block.`,
	InputVariables: []string{"fullName", "details"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

// BuildPrompt renders the user prompt for a snapshot.
func BuildPrompt(snap *domain.RepoSnapshot) (string, error) {
	return analysisPrompt.Format(map[string]any{
		"fullName": snap.Repo.FullName,
		"details":  renderDetails(snap),
	})
}

func renderDetails(snap *domain.RepoSnapshot) string {
	var sb strings.Builder

	sb.WriteString("## Repository\n")
	fmt.Fprintf(&sb, "- Full name: %s\n", snap.Repo.FullName)
	if snap.Repo.Description != "" {
		fmt.Fprintf(&sb, "- Description: %s\n", snap.Repo.Description)
	}
	fmt.Fprintf(&sb, "- URL: %s\n", snap.Repo.URL)
	fmt.Fprintf(&sb, "- Open issues: %d\n", snap.Repo.OpenIssues)

	if len(snap.Languages) > 0 {
		sb.WriteString("\n## Languages (bytes)\n")
		for lang, bytes := range snap.Languages {
			fmt.Fprintf(&sb, "- %s: %d\n", lang, bytes)
		}
	}

	if len(snap.Contributors) > 0 {
		sb.WriteString("\n## Contributors\n")
		for _, c := range snap.Contributors {
			fmt.Fprintf(&sb, "- %s: %d commits\n", c.Login, c.Contributions)
		}
	}

	if len(snap.Commits) > 0 {
		sb.WriteString("\n## Commits\n")
		for i, c := range snap.Commits {
			if i >= maxPromptCommits {
				fmt.Fprintf(&sb, "... and %d more commits\n", len(snap.Commits)-i)
				break
			}
			fmt.Fprintf(&sb, "- %s %s (%s, %s)", c.SHA, firstLine(c.Message), c.Author, c.Date)
			if c.Stats != nil {
				fmt.Fprintf(&sb, " +%d/-%d", c.Stats.Additions, c.Stats.Deletions)
			}
			sb.WriteString("\n")
		}
	}

	if len(snap.PullRequests) > 0 {
		sb.WriteString("\n## Pull requests\n")
		for i, pr := range snap.PullRequests {
			if i >= maxPromptPRs {
				fmt.Fprintf(&sb, "... and %d more pull requests\n", len(snap.PullRequests)-i)
				break
			}
			fmt.Fprintf(&sb, "- #%d [%s] %s (%s)\n", pr.Number, pr.State, pr.Title, pr.Author)
		}
	}

	if len(snap.Files) > 0 {
		sb.WriteString("\n## File listing\n")
		for i, f := range snap.Files {
			if i >= maxPromptFiles {
				fmt.Fprintf(&sb, "... and %d more files\n", len(snap.Files)-i)
				break
			}
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	if snap.Readme != "" {
		sb.WriteString("\n## README\n")
		readme := snap.Readme
		if len(readme) > maxReadmeChars {
			readme = readme[:maxReadmeChars] + "\n... [truncated]"
		}
		sb.WriteString(readme)
		sb.WriteString("\n")
	}

	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}
