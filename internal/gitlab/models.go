package gitlab

import "time"

// User is the authenticated GitLab user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Project is GitLab project metadata.
type Project struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	PathWithNamespace string    `json:"path_with_namespace"`
	Description       string    `json:"description"`
	WebURL            string    `json:"web_url"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// commit is the wire shape of a repository commit.
type commit struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	CreatedAt   time.Time `json:"created_at"`
	WebURL      string    `json:"web_url"`
}

// Issue is a GitLab issue as returned by the issues endpoint.
type Issue struct {
	IID         int64     `json:"iid"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Labels      []string  `json:"labels"`
	Author      *Person   `json:"author"`
	Assignee    *Person   `json:"assignee"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	WebURL      string    `json:"web_url"`
}

type Person struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// MergeRequest is a GitLab merge request as returned by the
// merge_requests endpoint.
type MergeRequest struct {
	IID          int64     `json:"iid"`
	ProjectID    int64     `json:"project_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	State        string    `json:"state"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	Author       *Person   `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	WebURL       string    `json:"web_url"`
}

// RepositoryFile is one file fetched from the repository files
// endpoint. Content is base64 as delivered on the wire.
type RepositoryFile struct {
	FileName     string `json:"file_name"`
	FilePath     string `json:"file_path"`
	Size         int64  `json:"size"`
	Encoding     string `json:"encoding"`
	Content      string `json:"content"`
	LastCommitID string `json:"last_commit_id"`
	Ref          string `json:"-"`
}

// IssueOptions narrows an issue listing.
type IssueOptions struct {
	State         string
	Labels        string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	PageSize      int
}
