package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"github.com/amirsdream/mcp-agentic-workflow/internal/ai"
	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
	"github.com/amirsdream/mcp-agentic-workflow/internal/forms"
	"github.com/amirsdream/mcp-agentic-workflow/internal/gitlab"
	"github.com/amirsdream/mcp-agentic-workflow/internal/issue"
)

// Deps are the service handles the tools close over. All of them are
// shared across requests. Forms is optional; when nil the document
// tools are not registered.
type Deps struct {
	GitLab     *gitlab.Client
	Model      ai.Client
	Forms      *forms.Service
	ProjectIDs []string
	Workers    int
	Logger     *slog.Logger
}

type toolDefinition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     func(ctx context.Context, args json.RawMessage) (any, error)
}

// eventArgs are the arguments of the three event tools. Token, when
// present, is a per-request user credential; the pipeline is rebuilt
// around it instead of mutating shared client state.
type eventArgs struct {
	Period     string   `json:"period,omitempty" jsonschema:"description=Period filter such as 'January' or '2024-01' or 'this month' or 'last month'"`
	EventTypes []string `json:"event_types,omitempty" jsonschema:"description=Optional allow-list of event types"`
	ProjectIDs []string `json:"project_ids,omitempty" jsonschema:"description=Optional allow-list of project IDs"`
	Limit      int      `json:"limit,omitempty" jsonschema:"description=Maximum number of raw activity records to consider;default=200"`
	UserID     string   `json:"user_id,omitempty" jsonschema:"description=User ID to query; defaults to the authenticated user"`
	Token      string   `json:"token,omitempty" jsonschema:"description=Optional per-user access token"`
}

type issueArgs struct {
	Period   string `json:"period,omitempty" jsonschema:"description=Period filter such as 'January' or '2024-01' or 'this month'"`
	State    string `json:"state,omitempty" jsonschema:"description=Issue state: opened or closed or all;default=opened"`
	Labels   string `json:"labels,omitempty" jsonschema:"description=Comma-separated labels to filter by"`
	Assignee string `json:"assignee,omitempty" jsonschema:"description=Filter by assignee name"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of issues to return;default=100"`
}

type listProjectsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of projects to return;default=20"`
}

type getProjectArgs struct {
	ProjectID string `json:"project_id" jsonschema:"description=Project ID or path,required"`
}

type listMergeRequestsArgs struct {
	ProjectID string `json:"project_id" jsonschema:"description=Project ID or path,required"`
	State     string `json:"state,omitempty" jsonschema:"description=Merge request state: opened or closed or merged or all;default=opened"`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Maximum number of merge requests to return;default=20"`
}

type createIssueArgs struct {
	ProjectID   string   `json:"project_id" jsonschema:"description=Project ID or path,required"`
	Title       string   `json:"title" jsonschema:"description=Issue title,required"`
	Description string   `json:"description,omitempty" jsonschema:"description=Issue description"`
	Labels      []string `json:"labels,omitempty" jsonschema:"description=Labels to apply"`
}

type createMergeRequestArgs struct {
	ProjectID    string `json:"project_id" jsonschema:"description=Project ID or path,required"`
	Title        string `json:"title" jsonschema:"description=Merge request title,required"`
	SourceBranch string `json:"source_branch" jsonschema:"description=Source branch,required"`
	TargetBranch string `json:"target_branch" jsonschema:"description=Target branch,required"`
	Description  string `json:"description,omitempty" jsonschema:"description=Merge request description"`
}

type getFileArgs struct {
	ProjectID string `json:"project_id" jsonschema:"description=Project ID or path,required"`
	FilePath  string `json:"file_path" jsonschema:"description=Path of the file in the repository,required"`
	Ref       string `json:"ref,omitempty" jsonschema:"description=Branch or tag or commit;default=main"`
}

type formDocumentsArgs struct {
	ListName  string `json:"list_name,omitempty" jsonschema:"description=Document list to query;default=Forms"`
	FormID    string `json:"form_id,omitempty" jsonschema:"description=Look up a single document by ID"`
	Period    string `json:"period,omitempty" jsonschema:"description=Period filter such as 'January' or '2024-01' or 'this month'"`
	Status    string `json:"status,omitempty" jsonschema:"description=Filter by document status"`
	CreatedBy string `json:"created_by,omitempty" jsonschema:"description=Filter by creator name"`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Maximum number of documents to return;default=50"`
}

type searchFormDocumentsArgs struct {
	Query    string `json:"query" jsonschema:"description=Text to search for in titles and field values,required"`
	ListName string `json:"list_name,omitempty" jsonschema:"description=Document list to query;default=Forms"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of documents to return;default=20"`
}

type listDocumentListsArgs struct{}

func reflectSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(v)
}

func registerTools(deps Deps) []toolDefinition {
	defs := []toolDefinition{
		{
			Name:        "get_user_events",
			Description: "Get the user's GitLab activity for a period, grouped into work units with AI-generated summaries and time estimates.",
			InputSchema: reflectSchema(&eventArgs{}),
			Handler:     deps.eventHandler(func(r *event.SearchResult) any { return r.ToMap() }),
		},
		{
			Name:        "classify_work_events",
			Description: "Classify the user's GitLab activity into categorized work units (feature, bugfix, refactor, ...).",
			InputSchema: reflectSchema(&eventArgs{}),
			Handler: deps.eventHandler(func(r *event.SearchResult) any {
				full := r.ToMap()
				return map[string]any{
					"success":      full["success"],
					"period":       full["period"],
					"total_events": full["total_events"],
					"work_units":   full["work_units"],
					"error":        full["error"],
				}
			}),
		},
		{
			Name:        "get_work_summaries",
			Description: "Get AI-generated work summaries with hour estimates for the user's GitLab activity in a period.",
			InputSchema: reflectSchema(&eventArgs{}),
			Handler: deps.eventHandler(func(r *event.SearchResult) any {
				full := r.ToMap()
				return map[string]any{
					"success":               full["success"],
					"period":                full["period"],
					"summaries":             full["summaries"],
					"total_estimated_hours": full["total_estimated_hours"],
					"error":                 full["error"],
				}
			}),
		},
		{
			Name:        "list_issues",
			Description: "List GitLab issues from the configured projects with period, state, label and assignee filters.",
			InputSchema: reflectSchema(&issueArgs{}),
			Handler:     deps.listIssues,
		},
		{
			Name:        "create_issue",
			Description: "Create a new issue in a GitLab project.",
			InputSchema: reflectSchema(&createIssueArgs{}),
			Handler:     deps.createIssue,
		},
		{
			Name:        "list_merge_requests",
			Description: "List merge requests for a GitLab project with a state filter.",
			InputSchema: reflectSchema(&listMergeRequestsArgs{}),
			Handler:     deps.listMergeRequests,
		},
		{
			Name:        "create_merge_request",
			Description: "Create a merge request in a GitLab project.",
			InputSchema: reflectSchema(&createMergeRequestArgs{}),
			Handler:     deps.createMergeRequest,
		},
		{
			Name:        "get_file_content",
			Description: "Get the content of a file from a GitLab repository.",
			InputSchema: reflectSchema(&getFileArgs{}),
			Handler:     deps.getFile,
		},
		{
			Name:        "list_projects",
			Description: "List GitLab projects the authenticated user is a member of.",
			InputSchema: reflectSchema(&listProjectsArgs{}),
			Handler:     deps.listProjects,
		},
		{
			Name:        "get_project",
			Description: "Get details of a specific GitLab project.",
			InputSchema: reflectSchema(&getProjectArgs{}),
			Handler:     deps.getProject,
		},
	}
	if deps.Forms != nil {
		defs = append(defs,
			toolDefinition{
				Name:        "list_form_documents",
				Description: "List form documents from the document site with ID, period, status and creator filters.",
				InputSchema: reflectSchema(&formDocumentsArgs{}),
				Handler:     deps.listFormDocuments,
			},
			toolDefinition{
				Name:        "search_form_documents",
				Description: "Search form documents by text across titles and field values.",
				InputSchema: reflectSchema(&searchFormDocumentsArgs{}),
				Handler:     deps.searchFormDocuments,
			},
			toolDefinition{
				Name:        "list_document_lists",
				Description: "List the document lists available on the configured site.",
				InputSchema: reflectSchema(&listDocumentListsArgs{}),
				Handler:     deps.listDocumentLists,
			},
		)
	}
	return defs
}

// eventHandler runs the event pipeline and projects its result. The
// projection is the only difference between the three event tools.
func (d Deps) eventHandler(project func(*event.SearchResult) any) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args eventArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}

		types := make([]event.Type, 0, len(args.EventTypes))
		for _, t := range args.EventTypes {
			types = append(types, event.Type(t))
		}

		source := d.GitLab.WithToken(args.Token)
		pipeline := event.NewPipeline(source, d.Model, d.Workers, d.Logger)
		result := pipeline.GetUserEvents(ctx, event.Filters{
			Period:     args.Period,
			Types:      types,
			ProjectIDs: args.ProjectIDs,
			Limit:      args.Limit,
		}, args.UserID)

		return project(result), nil
	}
}

func (d Deps) listIssues(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	svc := issue.NewService(d.GitLab, d.ProjectIDs, d.Logger)
	result := svc.Search(ctx, issue.Filters{
		Period:   args.Period,
		State:    args.State,
		Labels:   args.Labels,
		Assignee: args.Assignee,
		Limit:    args.Limit,
	})

	out := result.ToMap()
	out["breakdown"] = issue.Breakdown(result)
	return out, nil
}

func (d Deps) listProjects(ctx context.Context, raw json.RawMessage) (any, error) {
	var args listProjectsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	projects, err := d.GitLab.ListProjects(ctx, args.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(projects))
	for i, p := range projects {
		out[i] = projectMap(p)
	}
	return map[string]any{"projects": out, "total": len(out)}, nil
}

func (d Deps) getProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var args getProjectArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}

	project, err := d.GitLab.GetProject(ctx, args.ProjectID)
	if err != nil {
		return nil, err
	}
	return projectMap(*project), nil
}

func (d Deps) createIssue(ctx context.Context, raw json.RawMessage) (any, error) {
	var args createIssueArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.ProjectID == "" || args.Title == "" {
		return nil, fmt.Errorf("project_id and title are required")
	}

	created, err := d.GitLab.CreateIssue(ctx, args.ProjectID, args.Title, args.Description, args.Labels)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"iid":     created.IID,
		"title":   created.Title,
		"state":   created.State,
		"labels":  created.Labels,
		"web_url": created.WebURL,
	}, nil
}

func (d Deps) listMergeRequests(ctx context.Context, raw json.RawMessage) (any, error) {
	var args listMergeRequestsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	if args.State == "" {
		args.State = "opened"
	}

	mrs, err := d.GitLab.ListMergeRequests(ctx, args.ProjectID, args.State, args.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(mrs))
	for i, mr := range mrs {
		out[i] = mergeRequestMap(mr)
	}
	return map[string]any{"merge_requests": out, "total": len(out), "state": args.State}, nil
}

func (d Deps) createMergeRequest(ctx context.Context, raw json.RawMessage) (any, error) {
	var args createMergeRequestArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.ProjectID == "" || args.Title == "" || args.SourceBranch == "" || args.TargetBranch == "" {
		return nil, fmt.Errorf("project_id, title, source_branch and target_branch are required")
	}

	created, err := d.GitLab.CreateMergeRequest(ctx, args.ProjectID, args.Title, args.SourceBranch, args.TargetBranch, args.Description)
	if err != nil {
		return nil, err
	}
	return mergeRequestMap(*created), nil
}

func (d Deps) getFile(ctx context.Context, raw json.RawMessage) (any, error) {
	var args getFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.ProjectID == "" || args.FilePath == "" {
		return nil, fmt.Errorf("project_id and file_path are required")
	}

	file, err := d.GitLab.GetFile(ctx, args.ProjectID, args.FilePath, args.Ref)
	if err != nil {
		return nil, err
	}

	content, err := file.Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", file.FilePath, err)
	}
	return map[string]any{
		"file_path":      file.FilePath,
		"file_name":      file.FileName,
		"ref":            file.Ref,
		"size":           file.Size,
		"content":        string(content),
		"last_commit_id": file.LastCommitID,
	}, nil
}

func mergeRequestMap(mr gitlab.MergeRequest) map[string]any {
	author := ""
	if mr.Author != nil {
		author = mr.Author.Name
	}
	return map[string]any{
		"iid":           mr.IID,
		"title":         mr.Title,
		"state":         mr.State,
		"source_branch": mr.SourceBranch,
		"target_branch": mr.TargetBranch,
		"author":        author,
		"created_at":    mr.CreatedAt.Format("2006-01-02"),
		"web_url":       mr.WebURL,
	}
}

func (d Deps) listFormDocuments(ctx context.Context, raw json.RawMessage) (any, error) {
	var args formDocumentsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	filters := forms.Filters{
		ListName:  args.ListName,
		ID:        args.FormID,
		Period:    args.Period,
		Status:    args.Status,
		CreatedBy: args.CreatedBy,
		Limit:     args.Limit,
	}
	result := d.Forms.Search(ctx, filters)

	out := result.ToMap()
	out["breakdown"] = forms.Breakdown(result, filters)
	return out, nil
}

func (d Deps) searchFormDocuments(ctx context.Context, raw json.RawMessage) (any, error) {
	var args searchFormDocumentsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	result := d.Forms.SearchText(ctx, args.Query, args.ListName, args.Limit)
	out := result.ToMap()
	out["query"] = args.Query
	return out, nil
}

func (d Deps) listDocumentLists(ctx context.Context, _ json.RawMessage) (any, error) {
	lists, err := d.Forms.SiteLists(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(lists))
	for i, l := range lists {
		out[i] = l.ToMap()
	}
	return map[string]any{"lists": out, "total_lists": len(out)}, nil
}

func projectMap(p gitlab.Project) map[string]any {
	return map[string]any{
		"id":                  p.ID,
		"name":                p.Name,
		"path_with_namespace": p.PathWithNamespace,
		"description":         p.Description,
		"web_url":             p.WebURL,
		"last_activity_at":    p.LastActivityAt,
	}
}
