package event

import (
	"strings"
	"time"
)

// Type is the closed set of activity event kinds. Unrecognized source
// actions always map to TypeOther, never to an empty value.
type Type string

const (
	TypePush         Type = "pushed"
	TypeMerge        Type = "merged"
	TypeCommit       Type = "committed"
	TypeBranchCreate Type = "created_branch"
	TypeBranchDelete Type = "deleted_branch"
	TypeTagCreate    Type = "created_tag"
	TypeIssueOpen    Type = "opened_issue"
	TypeIssueClose   Type = "closed_issue"
	TypeComment      Type = "commented"
	TypeOther        Type = "other"
)

// Category is the work classification assigned to a WorkUnit.
type Category string

const (
	CategoryFeature       Category = "feature"
	CategoryBugfix        Category = "bugfix"
	CategoryHotfix        Category = "hotfix"
	CategoryRefactor      Category = "refactor"
	CategoryDocumentation Category = "documentation"
	CategoryMaintenance   Category = "maintenance"
	CategoryExperiment    Category = "experiment"
	CategoryUnknown       Category = "unknown"
)

// conventional-commit prefixes stripped by Commit.CleanTitle.
var titlePrefixes = []string{"feat:", "fix:", "docs:", "style:", "refactor:", "test:", "chore:"}

// Commit is one atomic code change. Immutable once constructed.
type Commit struct {
	ID          string
	Title       string
	Message     string
	AuthorName  string
	AuthorEmail string
	CreatedAt   time.Time
	WebURL      string
	ProjectID   string
	ProjectName string
}

// ShortID returns the first 8 characters of the commit ID.
func (c Commit) ShortID() string {
	if len(c.ID) <= 8 {
		return c.ID
	}
	return c.ID[:8]
}

// CleanTitle returns the commit title with a conventional-commit prefix
// such as "feat:" or "fix:" stripped, if present.
func (c Commit) CleanTitle() string {
	title := strings.TrimSpace(c.Title)
	lower := strings.ToLower(title)
	for _, prefix := range titlePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(title[len(prefix):])
		}
	}
	return title
}

// Activity is one observed action by a user, normalized from a raw
// source record. Zero values mean "absent" for the optional fields.
type Activity struct {
	ID             int64
	Type           Type
	CreatedAt      time.Time
	AuthorName     string
	ProjectID      string
	ProjectName    string
	TargetType     string
	TargetID       int64
	TargetTitle    string
	PushData       map[string]any
	MergeRequestID int64
	BranchName     string
	Commits        []Commit
}

// ToMap renders the activity as a JSON-serializable structure.
func (a *Activity) ToMap() map[string]any {
	return map[string]any{
		"id":               a.ID,
		"event_type":       string(a.Type),
		"created_at":       a.CreatedAt.Format(time.RFC3339),
		"created_date":     a.CreatedAt.Format("2006-01-02"),
		"author_name":      a.AuthorName,
		"project_id":       a.ProjectID,
		"project_name":     a.ProjectName,
		"target_type":      a.TargetType,
		"target_id":        a.TargetID,
		"target_title":     a.TargetTitle,
		"merge_request_id": a.MergeRequestID,
		"branch_name":      a.BranchName,
		"commits_count":    len(a.Commits),
	}
}

// WorkUnit is a group of activity events representing one continuous
// piece of development work.
type WorkUnit struct {
	Category          Category
	Confidence        float64
	BranchName        string
	MergeRequestID    int64
	MergeRequestTitle string
	Commits           []Commit
	Events            []*Activity
}

func (u *WorkUnit) TotalCommits() int { return len(u.Commits) }

// CommitTitles returns the cleaned commit titles in order.
func (u *WorkUnit) CommitTitles() []string {
	titles := make([]string, len(u.Commits))
	for i, c := range u.Commits {
		titles[i] = c.CleanTitle()
	}
	return titles
}

func (u *WorkUnit) ToMap() map[string]any {
	return map[string]any{
		"category":            string(u.Category),
		"confidence":          u.Confidence,
		"branch_name":         u.BranchName,
		"merge_request_id":    u.MergeRequestID,
		"merge_request_title": u.MergeRequestTitle,
		"total_commits":       u.TotalCommits(),
		"commit_titles":       u.CommitTitles(),
		"events_count":        len(u.Events),
	}
}

// Summary is the narrative description of a WorkUnit, produced by the
// language model (confidence 0.8) or the deterministic fallback (0.3).
type Summary struct {
	Name             string
	Description      string
	EstimatedHours   float64
	Confidence       float64
	Category         Category
	KeyAchievements  []string
	TechnicalDetails []string
}

func (s Summary) ToMap() map[string]any {
	return map[string]any{
		"name":              s.Name,
		"description":       s.Description,
		"estimated_hours":   s.EstimatedHours,
		"confidence":        s.Confidence,
		"category":          string(s.Category),
		"key_achievements":  s.KeyAchievements,
		"technical_details": s.TechnicalDetails,
	}
}

// Filters narrows a pipeline run. All fields are optional; Limit
// defaults to 200 raw records.
type Filters struct {
	Period     string
	Types      []Type
	ProjectIDs []string
	Limit      int
}

// SearchResult is the aggregated output of one pipeline run.
type SearchResult struct {
	Success     bool
	Events      []*Activity
	WorkUnits   []WorkUnit
	Summaries   []Summary
	PeriodLabel string
	Error       string
}

// TotalCommits sums commits across all included events.
func (r *SearchResult) TotalCommits() int {
	total := 0
	for _, e := range r.Events {
		total += len(e.Commits)
	}
	return total
}

// TotalEstimatedHours sums the hour estimates of all summaries.
func (r *SearchResult) TotalEstimatedHours() float64 {
	var total float64
	for _, s := range r.Summaries {
		total += s.EstimatedHours
	}
	return total
}

// ToMap renders the full result as a JSON-serializable structure for
// the tool-calling layer.
func (r *SearchResult) ToMap() map[string]any {
	events := make([]map[string]any, len(r.Events))
	for i, e := range r.Events {
		events[i] = e.ToMap()
	}
	units := make([]map[string]any, len(r.WorkUnits))
	for i := range r.WorkUnits {
		units[i] = r.WorkUnits[i].ToMap()
	}
	summaries := make([]map[string]any, len(r.Summaries))
	for i, s := range r.Summaries {
		summaries[i] = s.ToMap()
	}
	return map[string]any{
		"success":               r.Success,
		"total_events":          len(r.Events),
		"total_commits":         r.TotalCommits(),
		"total_estimated_hours": r.TotalEstimatedHours(),
		"period":                r.PeriodLabel,
		"events":                events,
		"work_units":            units,
		"summaries":             summaries,
		"error":                 r.Error,
	}
}
