package gitlab_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/gitlab"
)

func TestCurrentUserSendsToken(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Private-Token")
		if r.URL.Path != "/api/v4/user" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "username": "alice", "name": "Alice"})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "secret", time.Minute, nil)
	user, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != 7 || user.Username != "alice" {
		t.Errorf("user = %+v", user)
	}
	if gotToken != "secret" {
		t.Errorf("token header = %q", gotToken)
	}
}

func TestWithToken(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Private-Token")
		json.NewEncoder(w).Encode(map[string]any{"id": 7})
	}))
	defer srv.Close()

	base := gitlab.NewClient(srv.URL, "shared", time.Minute, nil)

	if base.WithToken("") != base {
		t.Error("empty token should return the same client")
	}
	if base.WithToken("shared") != base {
		t.Error("identical token should return the same client")
	}

	perUser := base.WithToken("user-token")
	if perUser == base {
		t.Fatal("different token should return a clone")
	}
	if _, err := perUser.CurrentUser(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotToken != "user-token" {
		t.Errorf("token header = %q", gotToken)
	}

	// the clone never mutates the original
	if _, err := base.CurrentUser(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotToken != "shared" {
		t.Errorf("token header = %q after base call", gotToken)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 7})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	if _, err := c.CurrentUser(context.Background()); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	if _, err := c.CurrentUser(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1: 4xx must not be retried", calls.Load())
	}
}

func TestListActivityParams(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "action_name": "pushed to"}})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	after := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	records, err := c.ListActivity(context.Background(), "", after, before, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("records = %v", records)
	}
	if gotPath != "/api/v4/events" {
		t.Errorf("path = %q", gotPath)
	}
	query, _ := url.ParseQuery(gotQuery)
	if query.Get("after") != "2024-06-01" || query.Get("before") != "2024-07-01" {
		t.Errorf("query = %q", gotQuery)
	}
	if query.Get("per_page") != "50" {
		t.Errorf("per_page = %q", query.Get("per_page"))
	}

	if _, err := c.ListActivity(context.Background(), "774", after, before, 50); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v4/users/774/events" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestListCommits(t *testing.T) {
	var projectCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/101/repository/commits", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref_name") != "feature/x" {
			t.Errorf("ref_name = %q", r.URL.Query().Get("ref_name"))
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "abc123", "title": "feat: add parser", "message": "feat: add parser\n\nbody",
				"author_name": "Alice", "created_at": "2024-06-10T09:00:00Z"},
		})
	})
	mux.HandleFunc("/api/v4/projects/101", func(w http.ResponseWriter, r *http.Request) {
		projectCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": 101, "name": "API Server"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	since := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	until := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

	commits, err := c.ListCommits(context.Background(), "101", "feature/x", since, until, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Fatalf("commits = %v", commits)
	}
	got := commits[0]
	if got.ID != "abc123" || got.AuthorName != "Alice" {
		t.Errorf("commit = %+v", got)
	}
	if got.ProjectID != "101" || got.ProjectName != "API Server" {
		t.Errorf("project fields = %q %q", got.ProjectID, got.ProjectName)
	}

	// second listing hits the project cache
	if _, err := c.ListCommits(context.Background(), "101", "feature/x", since, until, 20); err != nil {
		t.Fatal(err)
	}
	if projectCalls.Load() != 1 {
		t.Errorf("project lookups = %d, want 1 (cached)", projectCalls.Load())
	}
}

func TestListIssuesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != "opened" || q.Get("labels") != "bug" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if q.Get("order_by") != "created_at" || q.Get("sort") != "desc" {
			t.Errorf("ordering = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"iid": 1, "title": "Crash on login", "state": "opened", "labels": []string{"bug"}},
		})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	issues, err := c.ListIssues(context.Background(), "101", gitlab.IssueOptions{State: "opened", Labels: "bug"})
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].IID != 1 {
		t.Errorf("issues = %+v", issues)
	}
}

func TestListMergeRequestsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/projects/101/merge_requests" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("state") != "opened" || q.Get("per_page") != "20" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"iid": 4, "title": "Add caching", "state": "opened",
				"source_branch": "feature/cache", "target_branch": "main",
				"author": map[string]any{"name": "Alice"}},
		})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	mrs, err := c.ListMergeRequests(context.Background(), "101", "opened", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(mrs) != 1 {
		t.Fatalf("mrs = %+v", mrs)
	}
	if mrs[0].IID != 4 || mrs[0].SourceBranch != "feature/cache" {
		t.Errorf("mr = %+v", mrs[0])
	}
	if mrs[0].Author == nil || mrs[0].Author.Name != "Alice" {
		t.Errorf("author = %+v", mrs[0].Author)
	}
}

func TestListMergeRequestsAllStateOmitsParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("state") {
			t.Errorf("state param should be omitted for all: %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	if _, err := c.ListMergeRequests(context.Background(), "101", "all", 5); err != nil {
		t.Fatal(err)
	}
}

func TestCreateIssuePostsJSON(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		if r.URL.Path != "/api/v4/projects/101/issues" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"iid": 9, "title": "Broken build", "state": "opened"})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	created, err := c.CreateIssue(context.Background(), "101", "Broken build", "CI fails on main", []string{"bug", "ci"})
	if err != nil {
		t.Fatal(err)
	}
	if created.IID != 9 {
		t.Errorf("created = %+v", created)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	want := map[string]string{"title": "Broken build", "description": "CI fails on main", "labels": "bug,ci"}
	for k, v := range want {
		if gotBody[k] != v {
			t.Errorf("body[%q] = %q, want %q", k, gotBody[k], v)
		}
	}
}

func TestCreateIssueOmitsEmptyFields(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"iid": 1})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	if _, err := c.CreateIssue(context.Background(), "101", "Title only", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := gotBody["description"]; ok {
		t.Error("empty description should be omitted")
	}
	if _, ok := gotBody["labels"]; ok {
		t.Error("empty labels should be omitted")
	}
}

func TestCreateMergeRequestPostsBranches(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v4/projects/101/merge_requests" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"iid": 12, "title": "Add caching", "state": "opened",
			"source_branch": "feature/cache", "target_branch": "main",
		})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	mr, err := c.CreateMergeRequest(context.Background(), "101", "Add caching", "feature/cache", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	if mr.IID != 12 || mr.TargetBranch != "main" {
		t.Errorf("mr = %+v", mr)
	}
	if gotBody["source_branch"] != "feature/cache" || gotBody["target_branch"] != "main" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestGetFileDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/projects/101/repository/files/docs%2FREADME.md" &&
			r.URL.Path != "/api/v4/projects/101/repository/files/docs/README.md" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("ref") != "main" {
			t.Errorf("ref = %q", r.URL.Query().Get("ref"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"file_name": "README.md",
			"file_path": "docs/README.md",
			"size":      12,
			"encoding":  "base64",
			"content":   base64.StdEncoding.EncodeToString([]byte("hello world\n")),
		})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	file, err := c.GetFile(context.Background(), "101", "docs/README.md", "")
	if err != nil {
		t.Fatal(err)
	}
	if file.Ref != "main" {
		t.Errorf("ref = %q, want default main", file.Ref)
	}

	content, err := file.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello world\n" {
		t.Errorf("content = %q", content)
	}
}

func TestDecodeRejectsUnknownEncoding(t *testing.T) {
	file := &gitlab.RepositoryFile{Encoding: "utf-16", Content: "xx"}
	if _, err := file.Decode(); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestListIssuesAllStateOmitsParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("state") {
			t.Errorf("state param should be omitted for all: %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL, "t", time.Minute, nil)
	if _, err := c.ListIssues(context.Background(), "101", gitlab.IssueOptions{State: "all"}); err != nil {
		t.Fatal(err)
	}
}
