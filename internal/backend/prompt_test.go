package backend

import (
	"strings"
	"testing"

	"repo-review-dashboard/internal/domain"
)

func TestBuildPrompt(t *testing.T) {
	snap := testSnapshot()
	snap.Repo.Description = "A widget factory"
	snap.Languages = map[string]int{"Go": 12345}
	snap.PullRequests = []domain.PullRequest{
		{Number: 7, Title: "Add gears", State: "open", Author: "octo"},
	}
	snap.Readme = "# Widgets\nThe best widgets."

	got, err := BuildPrompt(snap)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}

	for _, want := range []string{
		"octo/widgets",
		"A widget factory",
		"Go: 12345",
		"abc1234 initial commit",
		"#7 [open] Add gears",
		"# Widgets",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptTruncatesCommitList(t *testing.T) {
	snap := testSnapshot()
	snap.Commits = nil
	for i := 0; i < maxPromptCommits+10; i++ {
		snap.Commits = append(snap.Commits, domain.Commit{SHA: "sha", Message: "m", Author: "a", Date: "d"})
	}

	got, err := BuildPrompt(snap)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}
	if !strings.Contains(got, "and 10 more commits") {
		t.Error("expected commit list truncation marker")
	}
}

func TestBuildPromptTruncatesReadme(t *testing.T) {
	snap := testSnapshot()
	snap.Readme = strings.Repeat("r", maxReadmeChars+100)

	got, err := BuildPrompt(snap)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}
	if !strings.Contains(got, "[truncated]") {
		t.Error("expected readme truncation marker")
	}
}
