package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
)

type fakeLister struct {
	commits []event.Commit
	err     error

	calls []listCall
}

type listCall struct {
	projectID string
	branch    string
	since     time.Time
	until     time.Time
	pageSize  int
}

func (f *fakeLister) ListCommits(_ context.Context, projectID, branch string, since, until time.Time, pageSize int) ([]event.Commit, error) {
	f.calls = append(f.calls, listCall{projectID, branch, since, until, pageSize})
	return f.commits, f.err
}

func TestEnrichEmbeddedCommits(t *testing.T) {
	ev := &event.Activity{
		ID:          1,
		Type:        event.TypePush,
		CreatedAt:   time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		ProjectID:   "101",
		ProjectName: "API Server",
		BranchName:  "feature/x",
		PushData: map[string]any{
			"commits": []any{
				map[string]any{
					"id":        "abc123def456",
					"title":     "feat: add parser",
					"timestamp": "2024-06-10T08:55:00Z",
					"url":       "https://gitlab.example.com/c/abc123",
					"author":    map[string]any{"name": "Alice", "email": "alice@example.com"},
				},
				map[string]any{
					// no timestamp, dropped
					"id":    "bad",
					"title": "broken entry",
				},
				map[string]any{
					// no message, falls back to title
					"id":        "fedcba987654",
					"title":     "fix typo",
					"timestamp": "2024-06-10T09:05:00Z",
				},
			},
		},
	}

	lister := &fakeLister{}
	event.NewEnricher(lister, 2, nil).Enrich(context.Background(), []*event.Activity{ev})

	if len(lister.calls) != 0 {
		t.Errorf("embedded commits should not trigger a fallback fetch, got %d calls", len(lister.calls))
	}
	if len(ev.Commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(ev.Commits))
	}

	first := ev.Commits[0]
	if first.ID != "abc123def456" || first.AuthorName != "Alice" || first.AuthorEmail != "alice@example.com" {
		t.Errorf("first commit = %+v", first)
	}
	if first.ProjectID != "101" || first.ProjectName != "API Server" {
		t.Errorf("project fields not inherited from event: %+v", first)
	}

	second := ev.Commits[1]
	if second.Message != "fix typo" {
		t.Errorf("message should default to title, got %q", second.Message)
	}
	if second.AuthorName != "Unknown" {
		t.Errorf("author should default to Unknown, got %q", second.AuthorName)
	}
}

func TestEnrichFallbackFetch(t *testing.T) {
	createdAt := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	ev := &event.Activity{
		ID:         2,
		Type:       event.TypePush,
		CreatedAt:  createdAt,
		ProjectID:  "101",
		BranchName: "feature/x",
		PushData:   map[string]any{"ref": "feature/x"},
	}

	lister := &fakeLister{commits: []event.Commit{{ID: "c1"}, {ID: "c2"}}}
	event.NewEnricher(lister, 2, nil).Enrich(context.Background(), []*event.Activity{ev})

	if len(lister.calls) != 1 {
		t.Fatalf("got %d fallback calls, want 1", len(lister.calls))
	}
	call := lister.calls[0]
	if call.projectID != "101" || call.branch != "feature/x" {
		t.Errorf("fetched %s/%s, want 101/feature/x", call.projectID, call.branch)
	}
	if !call.since.Equal(createdAt.Add(-time.Hour)) || !call.until.Equal(createdAt.Add(time.Hour)) {
		t.Errorf("window = [%v, %v], want one hour either side of %v", call.since, call.until, createdAt)
	}
	if call.pageSize != 20 {
		t.Errorf("pageSize = %d, want 20", call.pageSize)
	}
	if len(ev.Commits) != 2 {
		t.Errorf("got %d commits, want 2", len(ev.Commits))
	}
}

func TestEnrichFetchErrorKeepsEventEmpty(t *testing.T) {
	ev := &event.Activity{
		ID:         3,
		Type:       event.TypePush,
		CreatedAt:  time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		ProjectID:  "101",
		BranchName: "feature/x",
		PushData:   map[string]any{"ref": "feature/x"},
	}

	lister := &fakeLister{err: errors.New("boom")}
	event.NewEnricher(lister, 2, nil).Enrich(context.Background(), []*event.Activity{ev})

	if len(ev.Commits) != 0 {
		t.Errorf("got %d commits after failed fetch, want 0", len(ev.Commits))
	}
}

func TestEnrichSkipsNonPushEvents(t *testing.T) {
	events := []*event.Activity{
		{ID: 1, Type: event.TypeComment, PushData: map[string]any{"ref": "x"}, BranchName: "x"},
		{ID: 2, Type: event.TypePush}, // no push payload
	}

	lister := &fakeLister{commits: []event.Commit{{ID: "c1"}}}
	event.NewEnricher(lister, 2, nil).Enrich(context.Background(), events)

	if len(lister.calls) != 0 {
		t.Errorf("got %d fetches, want 0", len(lister.calls))
	}
	for _, ev := range events {
		if len(ev.Commits) != 0 {
			t.Errorf("event %d gained commits unexpectedly", ev.ID)
		}
	}
}
