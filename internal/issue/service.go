package issue

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
	"github.com/amirsdream/mcp-agentic-workflow/internal/gitlab"
)

const descriptionPreviewLen = 200

// priority labels checked against issue labels, in no particular order.
var priorityLabels = []string{
	"critical", "high", "medium", "low", "urgent",
	"priority-high", "priority-medium", "priority-low",
}

// Issue is the normalized issue shape exposed to callers.
type Issue struct {
	ProjectID   string
	ProjectName string
	IID         int64
	Title       string
	Description string
	State       string
	Author      string
	Assignee    string
	Labels      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	WebURL      string
}

// Priority derives a priority from the issue's labels, defaulting to
// "normal" when none match.
func (i Issue) Priority() string {
	for _, label := range i.Labels {
		lower := strings.ToLower(label)
		for _, p := range priorityLabels {
			if strings.Contains(lower, p) {
				return label
			}
		}
	}
	return "normal"
}

func (i Issue) ToMap() map[string]any {
	return map[string]any{
		"project_id":   i.ProjectID,
		"project_name": i.ProjectName,
		"iid":          i.IID,
		"title":        i.Title,
		"description":  i.Description,
		"state":        i.State,
		"author":       i.Author,
		"assignee":     i.Assignee,
		"labels":       i.Labels,
		"created_date": i.CreatedAt.Format("2006-01-02"),
		"priority":     i.Priority(),
		"web_url":      i.WebURL,
	}
}

// Filters narrows an issue search.
type Filters struct {
	Period   string
	State    string
	Labels   string
	Assignee string
	Limit    int
}

// SearchResult is the outcome of one issue search across the
// configured projects.
type SearchResult struct {
	Success      bool
	Issues       []Issue
	ProjectNames []string
	Error        string
}

func (r *SearchResult) ToMap() map[string]any {
	issues := make([]map[string]any, len(r.Issues))
	for i, issue := range r.Issues {
		issues[i] = issue.ToMap()
	}
	return map[string]any{
		"success":       r.Success,
		"total_issues":  len(r.Issues),
		"issues":        issues,
		"project_names": r.ProjectNames,
		"error":         r.Error,
	}
}

// ProjectAPI is the subset of the GitLab client the service needs.
type ProjectAPI interface {
	GetProject(ctx context.Context, projectID string) (*gitlab.Project, error)
	ListIssues(ctx context.Context, projectID string, opts gitlab.IssueOptions) ([]gitlab.Issue, error)
}

// Service searches issues across a fixed set of projects. Projects that
// fail to respond are skipped, never failing the whole search.
type Service struct {
	api        ProjectAPI
	projectIDs []string
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(api ProjectAPI, projectIDs []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{api: api, projectIDs: projectIDs, logger: logger, now: time.Now}
}

// Search lists issues matching the filters, newest first, across all
// configured projects.
func (s *Service) Search(ctx context.Context, filters Filters) *SearchResult {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	state := filters.State
	if state == "" {
		state = "opened"
	}

	start, end, _ := event.ResolveRange(filters.Period, s.now())

	var (
		issues       []Issue
		projectNames []string
	)

	for _, projectID := range s.projectIDs {
		if len(issues) >= limit {
			break
		}

		project, err := s.api.GetProject(ctx, projectID)
		if err != nil {
			s.logger.Warn("skipping project, metadata fetch failed", "project_id", projectID, "error", err)
			continue
		}
		projectNames = append(projectNames, project.Name)

		raw, err := s.api.ListIssues(ctx, projectID, gitlab.IssueOptions{
			State:         state,
			Labels:        filters.Labels,
			CreatedAfter:  start,
			CreatedBefore: end,
			PageSize:      limit,
		})
		if err != nil {
			s.logger.Warn("skipping project, issue fetch failed", "project_id", projectID, "error", err)
			continue
		}

		for _, r := range raw {
			if filters.Assignee != "" && !assigneeMatches(r.Assignee, filters.Assignee) {
				continue
			}
			issues = append(issues, convertIssue(r, projectID, project.Name))
			if len(issues) >= limit {
				break
			}
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].CreatedAt.After(issues[j].CreatedAt)
	})

	return &SearchResult{
		Success:      true,
		Issues:       issues,
		ProjectNames: projectNames,
	}
}

func assigneeMatches(assignee *gitlab.Person, filter string) bool {
	if assignee == nil {
		return false
	}
	return strings.Contains(strings.ToLower(assignee.Name), strings.ToLower(filter))
}

func convertIssue(r gitlab.Issue, projectID, projectName string) Issue {
	description := r.Description
	if len(description) > descriptionPreviewLen {
		description = description[:descriptionPreviewLen] + "..."
	}

	issue := Issue{
		ProjectID:   projectID,
		ProjectName: projectName,
		IID:         r.IID,
		Title:       r.Title,
		Description: description,
		State:       r.State,
		Author:      "Unknown",
		Labels:      r.Labels,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		WebURL:      r.WebURL,
	}
	if r.Author != nil && r.Author.Name != "" {
		issue.Author = r.Author.Name
	}
	if r.Assignee != nil {
		issue.Assignee = r.Assignee.Name
	}
	return issue
}

// Breakdown aggregates a search result into the table and breakdown
// maps the chat layer renders.
func Breakdown(result *SearchResult) map[string]any {
	if !result.Success || len(result.Issues) == 0 {
		return map[string]any{
			"summary":           "No issues found for the specified criteria.",
			"table_data":        []map[string]any{},
			"project_breakdown": map[string]int{},
			"state_breakdown":   map[string]int{},
		}
	}

	tableData := make([]map[string]any, 0, len(result.Issues))
	projectBreakdown := map[string]int{}
	stateBreakdown := map[string]int{}

	for _, issue := range result.Issues {
		title := issue.Title
		if len(title) > 50 {
			title = title[:50] + "..."
		}
		labels := "None"
		if len(issue.Labels) > 0 {
			shown := issue.Labels
			if len(shown) > 2 {
				shown = shown[:2]
			}
			labels = strings.Join(shown, ", ")
		}
		assignee := issue.Assignee
		if assignee == "" {
			assignee = "Unassigned"
		}
		tableData = append(tableData, map[string]any{
			"id":       issue.IID,
			"title":    title,
			"project":  issue.ProjectName,
			"state":    issue.State,
			"author":   issue.Author,
			"assignee": assignee,
			"created":  issue.CreatedAt.Format("2006-01-02"),
			"labels":   labels,
		})

		projectBreakdown[issue.ProjectName]++
		stateBreakdown[issue.State]++
	}

	return map[string]any{
		"summary":           "",
		"table_data":        tableData,
		"project_breakdown": projectBreakdown,
		"state_breakdown":   stateBreakdown,
	}
}
