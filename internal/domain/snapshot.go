package domain

// RepoInfo identifies the repository under analysis. Populated by the
// external fetch collaborator; the engine never calls GitHub itself.
type RepoInfo struct {
	FullName    string `json:"full_name"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	URL         string `json:"html_url"`
	Description string `json:"description,omitempty"`
	OpenIssues  int    `json:"open_issues_count,omitempty"`
}

// CommitStats carries line counts when the fetcher supplied them.
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Commit is one commit of the snapshot's bounded commit list.
type Commit struct {
	SHA     string       `json:"sha"`
	Message string       `json:"message"`
	Author  string       `json:"author"`
	Date    string       `json:"date"`
	Stats   *CommitStats `json:"stats,omitempty"`
}

// PullRequest is one entry of the snapshot's bounded PR list.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Author string `json:"author"`
}

// Contributor is a repository contributor with commit count.
type Contributor struct {
	Login         string `json:"login"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Contributions int    `json:"contributions"`
}

// RepoSnapshot is the structured bundle the driver analyzes. It is opaque
// input context: the engine imposes no ordering beyond what the fetcher
// delivered.
type RepoSnapshot struct {
	Repo         RepoInfo       `json:"repo"`
	Commits      []Commit       `json:"commits"`
	PullRequests []PullRequest  `json:"pull_requests"`
	Files        []string       `json:"files"`
	Contributors []Contributor  `json:"contributors"`
	Languages    map[string]int `json:"languages"`
	Readme       string         `json:"readme,omitempty"`
}

// IsValid reports whether the snapshot carries enough identity to analyze.
func (s *RepoSnapshot) IsValid() bool {
	return s != nil && s.Repo.FullName != ""
}
