package gitlab

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
)

const defaultBaseURL = "https://gitlab.com"

// Client is a GitLab REST API client with retry logic. It implements
// event.ActivitySource.
type Client struct {
	token      string
	apiURL     string
	httpClient *http.Client
	cache      *projectCache
	logger     *slog.Logger
}

func NewClient(baseURL, token string, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		token:  token,
		apiURL: strings.TrimRight(baseURL, "/") + "/api/v4",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:  newProjectCache(cacheTTL),
		logger: logger,
	}
}

// WithToken returns a client that authenticates with a different
// credential but shares the HTTP transport and project cache. Used to
// thread per-request user tokens through the pipeline.
func (c *Client) WithToken(token string) *Client {
	if token == "" || token == c.token {
		return c
	}
	clone := *c
	clone.token = token
	return &clone
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	// the body reader is rebuilt per attempt so retries resend it
	newRequest := func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Private-Token", c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	var resp *http.Response
	maxRetries := 3
	requestStart := time.Now()
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := newRequest()
		if err != nil {
			return nil, err
		}
		resp, err = c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sending request: %w", err)
			}
			if attempt == maxRetries {
				c.logger.Error("GitLab API transport error", "method", method, "path", path, "error", err)
				return nil, fmt.Errorf("sending request: %w", err)
			}
			time.Sleep(backoff(attempt))
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				c.logger.Error("GitLab API failed after retries", "method", method, "path", path, "status", resp.StatusCode)
				return nil, fmt.Errorf("GitLab API returned status %d after %d retries", resp.StatusCode, maxRetries)
			}
			time.Sleep(backoff(attempt))
			continue
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("GitLab API response", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(requestStart))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("GitLab API error", "method", method, "path", path, "status", resp.StatusCode, "response", truncate(string(body), 200))
		return nil, fmt.Errorf("GitLab API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// CurrentUser returns the user the token authenticates as.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing user response: %w", err)
	}
	return &user, nil
}

// ListActivity returns raw activity records for an actor, newest first.
// An empty actorID means the authenticated user. The records are kept
// schema-less; normalization happens in the event package.
func (c *Client) ListActivity(ctx context.Context, actorID string, after, before time.Time, pageSize int) ([]event.Record, error) {
	params := url.Values{}
	params.Set("per_page", fmt.Sprintf("%d", pageSize))
	params.Set("page", "1")
	if !after.IsZero() {
		params.Set("after", after.Format("2006-01-02"))
	}
	if !before.IsZero() {
		params.Set("before", before.Format("2006-01-02"))
	}

	path := "/events"
	if actorID != "" {
		path = "/users/" + url.PathEscape(actorID) + "/events"
	}

	data, err := c.doRequest(ctx, http.MethodGet, path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching activity: %w", err)
	}

	var records []event.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing activity: %w", err)
	}
	return records, nil
}

// ListCommits returns commits on a branch within a time window,
// converted to the canonical commit shape.
func (c *Client) ListCommits(ctx context.Context, projectID, branch string, since, until time.Time, pageSize int) ([]event.Commit, error) {
	params := url.Values{}
	params.Set("ref_name", branch)
	params.Set("since", since.UTC().Format(time.RFC3339))
	params.Set("until", until.UTC().Format(time.RFC3339))
	params.Set("per_page", fmt.Sprintf("%d", pageSize))

	path := "/projects/" + url.PathEscape(projectID) + "/repository/commits?" + params.Encode()
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching commits for project %s: %w", projectID, err)
	}

	var wire []commit
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing commits for project %s: %w", projectID, err)
	}

	projectName := c.projectName(ctx, projectID)
	commits := make([]event.Commit, 0, len(wire))
	for _, w := range wire {
		commits = append(commits, event.Commit{
			ID:          w.ID,
			Title:       w.Title,
			Message:     w.Message,
			AuthorName:  w.AuthorName,
			AuthorEmail: w.AuthorEmail,
			CreatedAt:   w.CreatedAt,
			WebURL:      w.WebURL,
			ProjectID:   projectID,
			ProjectName: projectName,
		})
	}
	return commits, nil
}

// projectName resolves a project's display name, falling back to a
// placeholder when the lookup fails.
func (c *Client) projectName(ctx context.Context, projectID string) string {
	project, err := c.GetProject(ctx, projectID)
	if err != nil {
		return "Project " + projectID
	}
	return project.Name
}

// GetProject fetches project metadata, served from the TTL cache when
// fresh.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	if cached, ok := c.cache.get(projectID); ok {
		return &cached, nil
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil)
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", projectID, err)
	}

	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parsing project %s: %w", projectID, err)
	}

	c.cache.set(projectID, project)
	return &project, nil
}

// ListProjects returns projects the authenticated user is a member of.
func (c *Client) ListProjects(ctx context.Context, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = 20
	}
	path := fmt.Sprintf("/projects?membership=true&order_by=last_activity_at&per_page=%d", limit)
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching projects: %w", err)
	}

	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("parsing projects: %w", err)
	}
	return projects, nil
}

// ListIssues returns issues for one project, newest first.
func (c *Client) ListIssues(ctx context.Context, projectID string, opts IssueOptions) ([]Issue, error) {
	params := url.Values{}
	params.Set("order_by", "created_at")
	params.Set("sort", "desc")
	if opts.State != "" && opts.State != "all" {
		params.Set("state", opts.State)
	}
	if opts.Labels != "" {
		params.Set("labels", opts.Labels)
	}
	if !opts.CreatedAfter.IsZero() {
		params.Set("created_after", opts.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if !opts.CreatedBefore.IsZero() {
		params.Set("created_before", opts.CreatedBefore.UTC().Format(time.RFC3339))
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	params.Set("per_page", fmt.Sprintf("%d", pageSize))

	path := "/projects/" + url.PathEscape(projectID) + "/issues?" + params.Encode()
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching issues for project %s: %w", projectID, err)
	}

	var issues []Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("parsing issues for project %s: %w", projectID, err)
	}
	return issues, nil
}

// ListMergeRequests returns merge requests for one project, newest
// first. State "all" or empty lists every state.
func (c *Client) ListMergeRequests(ctx context.Context, projectID, state string, limit int) ([]MergeRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("order_by", "created_at")
	params.Set("sort", "desc")
	params.Set("per_page", fmt.Sprintf("%d", limit))
	if state != "" && state != "all" {
		params.Set("state", state)
	}

	path := "/projects/" + url.PathEscape(projectID) + "/merge_requests?" + params.Encode()
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching merge requests for project %s: %w", projectID, err)
	}

	var mrs []MergeRequest
	if err := json.Unmarshal(data, &mrs); err != nil {
		return nil, fmt.Errorf("parsing merge requests for project %s: %w", projectID, err)
	}
	return mrs, nil
}

// CreateIssue opens a new issue in a project.
func (c *Client) CreateIssue(ctx context.Context, projectID, title, description string, labels []string) (*Issue, error) {
	payload := map[string]string{"title": title}
	if description != "" {
		payload["description"] = description
	}
	if len(labels) > 0 {
		payload["labels"] = strings.Join(labels, ",")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding issue: %w", err)
	}

	path := "/projects/" + url.PathEscape(projectID) + "/issues"
	data, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("creating issue in project %s: %w", projectID, err)
	}

	var issue Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("parsing created issue: %w", err)
	}
	return &issue, nil
}

// CreateMergeRequest opens a merge request from sourceBranch into
// targetBranch.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID, title, sourceBranch, targetBranch, description string) (*MergeRequest, error) {
	payload := map[string]string{
		"title":         title,
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
	}
	if description != "" {
		payload["description"] = description
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding merge request: %w", err)
	}

	path := "/projects/" + url.PathEscape(projectID) + "/merge_requests"
	data, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("creating merge request in project %s: %w", projectID, err)
	}

	var mr MergeRequest
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("parsing created merge request: %w", err)
	}
	return &mr, nil
}

// GetFile fetches one repository file at a ref. The ref defaults to
// "main". Content comes back base64-encoded; see RepositoryFile.Decode.
func (c *Client) GetFile(ctx context.Context, projectID, filePath, ref string) (*RepositoryFile, error) {
	if ref == "" {
		ref = "main"
	}
	params := url.Values{}
	params.Set("ref", ref)

	path := "/projects/" + url.PathEscape(projectID) + "/repository/files/" + url.PathEscape(filePath) + "?" + params.Encode()
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching file %s from project %s: %w", filePath, projectID, err)
	}

	var file RepositoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing file %s: %w", filePath, err)
	}
	file.Ref = ref
	return &file, nil
}

// Decode returns the file content as raw bytes.
func (f *RepositoryFile) Decode() ([]byte, error) {
	if f.Encoding != "" && f.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported file encoding %q", f.Encoding)
	}
	return base64.StdEncoding.DecodeString(f.Content)
}
