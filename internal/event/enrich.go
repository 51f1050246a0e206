package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	enrichWindow   = time.Hour
	enrichPageSize = 20
)

// CommitLister fetches commits for a branch within a time window. The
// source API client implements this.
type CommitLister interface {
	ListCommits(ctx context.Context, projectID, branch string, since, until time.Time, pageSize int) ([]Commit, error)
}

// Enricher attaches commit records to push events, either from the
// embedded push payload or via a fallback range query. Failures are
// isolated per event: an event that cannot be enriched simply keeps
// zero commits.
type Enricher struct {
	lister  CommitLister
	logger  *slog.Logger
	workers int
}

func NewEnricher(lister CommitLister, workers int, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if workers < 1 {
		workers = 4
	}
	return &Enricher{lister: lister, logger: logger, workers: workers}
}

// Enrich populates Commits on each push event in place. Independent
// events are fetched concurrently, bounded by the worker count.
func (e *Enricher) Enrich(ctx context.Context, events []*Activity) {
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for _, ev := range events {
		if ev.Type != TypePush || ev.PushData == nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ev *Activity) {
			defer wg.Done()
			defer func() { <-sem }()
			e.enrichOne(ctx, ev)
		}(ev)
	}
	wg.Wait()
}

func (e *Enricher) enrichOne(ctx context.Context, ev *Activity) {
	if raw, ok := ev.PushData["commits"].([]any); ok {
		for _, entry := range raw {
			data, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if c, ok := commitFromPayload(Record(data), ev.ProjectID, ev.ProjectName); ok {
				ev.Commits = append(ev.Commits, c)
			}
		}
		return
	}

	if ev.BranchName == "" || e.lister == nil {
		return
	}

	since := ev.CreatedAt.Add(-enrichWindow)
	until := ev.CreatedAt.Add(enrichWindow)
	commits, err := e.lister.ListCommits(ctx, ev.ProjectID, ev.BranchName, since, until, enrichPageSize)
	if err != nil {
		e.logger.Warn("commit enrichment failed, keeping event without commits",
			"event_id", ev.ID, "project_id", ev.ProjectID, "branch", ev.BranchName, "error", err)
		return
	}
	ev.Commits = append(ev.Commits, commits...)
}

// commitFromPayload builds a Commit from an embedded push-payload
// entry. Entries without an id or timestamp are dropped.
func commitFromPayload(data Record, projectID, projectName string) (Commit, bool) {
	id := data.str("id")
	if id == "" {
		return Commit{}, false
	}
	createdAt, ok := data.time("timestamp")
	if !ok {
		return Commit{}, false
	}

	title := data.str("title")
	message := data.str("message")
	if message == "" {
		message = title
	}

	c := Commit{
		ID:          id,
		Title:       title,
		Message:     message,
		AuthorName:  "Unknown",
		CreatedAt:   createdAt,
		WebURL:      data.str("url"),
		ProjectID:   projectID,
		ProjectName: projectName,
	}
	if author := data.sub("author"); author != nil {
		if name := author.str("name"); name != "" {
			c.AuthorName = name
		}
		c.AuthorEmail = author.str("email")
	}
	return c, true
}
