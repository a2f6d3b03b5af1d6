package aggregator

import (
	"testing"

	"repo-review-dashboard/internal/domain"
)

func TestFinalizeExtractsFindings(t *testing.T) {
	markdown := "## Review\nSolid project.\n\n```json\n" +
		`{"scores":{"quality":85,"security":"70","reliability":120,"teamBalance":-5},` +
		`"commitSummaries":{"abc1234":"fixes the widget"},` +
		`"prSummaries":{"7":"adds gears"}}` +
		"\n```\n"

	result := Finalize(markdown, &domain.TokenUsage{InputTokens: 120, OutputTokens: 40, TotalTokens: 160})

	if v, ok := result.Score(domain.ScoreQuality); !ok || v != 85 {
		t.Errorf("quality: got %d ok=%v", v, ok)
	}
	// Numeric strings are accepted.
	if v, ok := result.Score(domain.ScoreSecurity); !ok || v != 70 {
		t.Errorf("security: got %d ok=%v", v, ok)
	}
	// Out-of-range values clamp to [0,100].
	if v, _ := result.Score(domain.ScoreReliability); v != 100 {
		t.Errorf("reliability should clamp to 100, got %d", v)
	}
	if v, _ := result.Score(domain.ScoreTeamBalance); v != 0 {
		t.Errorf("teamBalance should clamp to 0, got %d", v)
	}
	// Absent is not zero.
	if _, ok := result.Score(domain.ScoreCommitQuality); ok {
		t.Error("commitQuality was not assessed and must be absent")
	}

	if result.CommitSummaries["abc1234"] != "fixes the widget" {
		t.Errorf("commit summary missing: %+v", result.CommitSummaries)
	}
	if result.PRSummaries[7] != "adds gears" {
		t.Errorf("pr summary missing: %+v", result.PRSummaries)
	}
	if result.TokenUsage == nil || result.TokenUsage.TotalTokens != 160 {
		t.Errorf("token usage not carried: %+v", result.TokenUsage)
	}
}

func TestFinalizeNoFindingsBlock(t *testing.T) {
	result := Finalize("## Summary\nLooks good.", &domain.TokenUsage{InputTokens: 120, OutputTokens: 40, TotalTokens: 160})

	if len(result.Scores) != 0 {
		t.Errorf("expected no scores, got %+v", result.Scores)
	}
	if result.TokenUsage == nil || result.TokenUsage.InputTokens != 120 {
		t.Error("usage must survive even without a findings block")
	}
}

func TestFinalizeMalformedBlock(t *testing.T) {
	result := Finalize("text\n```json\n{not json\n```", nil)

	if len(result.Scores) != 0 {
		t.Errorf("expected no scores from malformed block, got %+v", result.Scores)
	}
	if result.TokenUsage != nil {
		t.Error("expected nil usage when none was reported")
	}
}

func TestFinalizeUsesLastBlock(t *testing.T) {
	markdown := "```json\n{\"scores\":{\"quality\":10}}\n```\nmore text\n" +
		"```json\n{\"scores\":{\"quality\":90}}\n```"

	result := Finalize(markdown, nil)
	if v, ok := result.Score(domain.ScoreQuality); !ok || v != 90 {
		t.Errorf("expected the last block to win, got %d ok=%v", v, ok)
	}
}

func TestFinalizeIgnoresUnknownMetricsAndNonNumericKeys(t *testing.T) {
	markdown := "```json\n" +
		`{"scores":{"vibes":99,"quality":50},"prSummaries":{"not-a-number":"x"}}` +
		"\n```"

	result := Finalize(markdown, nil)
	if _, ok := result.Scores["vibes"]; ok {
		t.Error("unknown metric must not be carried through")
	}
	if v, _ := result.Score(domain.ScoreQuality); v != 50 {
		t.Errorf("quality: got %d", v)
	}
	if len(result.PRSummaries) != 0 {
		t.Errorf("non-numeric pr key must be dropped, got %+v", result.PRSummaries)
	}
}
