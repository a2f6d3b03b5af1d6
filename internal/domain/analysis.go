package domain

// Score metric names the model is asked to assess. The model may omit any of
// them; absence means "not assessed" and is distinct from a score of 0.
const (
	ScoreQuality          = "quality"
	ScoreSecurity         = "security"
	ScoreReliability      = "reliability"
	ScoreTeamBalance      = "teamBalance"
	ScoreTechStack        = "techStackSuitability"
	ScoreCommitQuality    = "commitQuality"
	ScorePRQuality        = "prQuality"
	ScoreStructureQuality = "structureQuality"
)

// TokenUsage is the backend's cumulative token tally. A later report replaces
// an earlier one; values are never summed across reports.
type TokenUsage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
	TotalTokens  int `json:"total"`
}

// AnalysisResult is the immutable structured outcome of one completed
// streaming session.
type AnalysisResult struct {
	Scores          map[string]int    `json:"scores"`
	CommitSummaries map[string]string `json:"commitSummaries"`
	PRSummaries     map[int]string    `json:"prSummaries"`
	TokenUsage      *TokenUsage       `json:"tokenUsage,omitempty"`
}

// Score returns the clamped value of a metric and whether it was assessed.
func (r *AnalysisResult) Score(name string) (int, bool) {
	if r == nil || r.Scores == nil {
		return 0, false
	}
	v, ok := r.Scores[name]
	return v, ok
}
