// Package aggregator turns the accumulated stream output of one analysis run
// into a structured result.
package aggregator

import (
	"log/slog"
	"strconv"

	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/types"

	"github.com/tidwall/gjson"
)

// knownScores are the metrics the backends are asked to assess. Anything else
// in the scores object is ignored rather than carried through.
var knownScores = []string{
	domain.ScoreQuality,
	domain.ScoreSecurity,
	domain.ScoreReliability,
	domain.ScoreTeamBalance,
	domain.ScoreTechStack,
	domain.ScoreCommitQuality,
	domain.ScorePRQuality,
	domain.ScoreStructureQuality,
}

// Finalize builds the structured result for a completed run. The markdown is
// the full concatenated narrative; usage is the last usage report seen, or nil
// if the backend never sent one. A narrative with no parseable findings block
// still yields a result, just without scores or summaries.
func Finalize(markdown string, usage *domain.TokenUsage) *domain.AnalysisResult {
	result := &domain.AnalysisResult{
		Scores:          map[string]int{},
		CommitSummaries: map[string]string{},
		PRSummaries:     map[int]string{},
		TokenUsage:      usage,
	}

	raw := types.LastFencedJSON(markdown)
	if raw == "" || !gjson.Valid(raw) {
		if raw != "" {
			slog.Warn("structured findings block unparseable, returning narrative-only result")
		}
		return result
	}

	for _, name := range knownScores {
		if v, ok := scoreValue(gjson.Get(raw, "scores."+name)); ok {
			result.Scores[name] = clamp(v)
		}
	}

	gjson.Get(raw, "commitSummaries").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			result.CommitSummaries[key.String()] = value.String()
		}
		return true
	})

	gjson.Get(raw, "prSummaries").ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			return true
		}
		n, err := strconv.Atoi(key.String())
		if err != nil {
			return true
		}
		result.PRSummaries[n] = value.String()
		return true
	})

	return result
}

// scoreValue accepts a JSON number or a numeric string; anything else means
// the metric was not assessed.
func scoreValue(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		n, err := strconv.Atoi(r.String())
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
