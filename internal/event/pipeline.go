package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const defaultLimit = 200

// ActivitySource is the upstream API collaborator. An empty actorID
// means the authenticated user.
type ActivitySource interface {
	ListActivity(ctx context.Context, actorID string, after, before time.Time, pageSize int) ([]Record, error)
	CommitLister
}

// meaningfulTypes restricts results to events that represent actual
// code work; comments, issue churn and the like are always filtered.
var meaningfulTypes = map[Type]bool{
	TypePush:   true,
	TypeMerge:  true,
	TypeCommit: true,
}

// Pipeline composes normalization, enrichment, grouping, classification
// and summarization into one operation. It holds only read-only service
// handles and is safe for concurrent use; construct one per credential
// when requests carry their own tokens.
type Pipeline struct {
	source  ActivitySource
	model   Completer
	logger  *slog.Logger
	now     func() time.Time
	workers int
}

func NewPipeline(source ActivitySource, model Completer, workers int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if workers < 1 {
		workers = 4
	}
	return &Pipeline{
		source:  source,
		model:   model,
		logger:  logger,
		now:     time.Now,
		workers: workers,
	}
}

// GetUserEvents runs the full pipeline for one actor and filter set.
// It never returns an error: only a failure of the initial activity
// fetch is user-visible, as Success=false plus an error string.
func (p *Pipeline) GetUserEvents(ctx context.Context, filters Filters, actorID string) *SearchResult {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	start, end, _ := ResolveRange(filters.Period, p.now())

	raw, err := p.source.ListActivity(ctx, actorID, start, end, limit)
	if err != nil {
		p.logger.Error("activity fetch failed", "actor", actorID, "period", filters.Period, "error", err)
		return &SearchResult{
			Success:     false,
			Events:      []*Activity{},
			WorkUnits:   []WorkUnit{},
			Summaries:   []Summary{},
			PeriodLabel: filters.Period,
			Error:       err.Error(),
		}
	}

	var events []*Activity
	for _, rec := range raw {
		ev := Normalize(rec)
		if ev == nil {
			p.logger.Debug("skipping unparseable activity record")
			continue
		}
		if p.includeEvent(ev, filters) {
			events = append(events, ev)
		}
	}

	NewEnricher(p.source, p.workers, p.logger).Enrich(ctx, events)

	units := GroupWorkUnits(events)
	for i := range units {
		units[i].Category = Classify(units[i].BranchName, units[i].MergeRequestTitle, units[i].Commits)
	}

	summaries := p.summarizeAll(ctx, units)

	p.logger.Info("pipeline run complete",
		"actor", actorID, "period", filters.Period,
		"events", len(events), "work_units", len(units), "summaries", len(summaries))

	return &SearchResult{
		Success:     true,
		Events:      events,
		WorkUnits:   units,
		Summaries:   summaries,
		PeriodLabel: filters.Period,
	}
}

func (p *Pipeline) includeEvent(ev *Activity, filters Filters) bool {
	if !meaningfulTypes[ev.Type] {
		return false
	}
	if len(filters.Types) > 0 && !containsType(filters.Types, ev.Type) {
		return false
	}
	if len(filters.ProjectIDs) > 0 && !containsString(filters.ProjectIDs, ev.ProjectID) {
		return false
	}
	return true
}

// summarizeAll runs the per-unit model calls concurrently, bounded by
// the worker cap, while keeping summary order aligned with unit order.
func (p *Pipeline) summarizeAll(ctx context.Context, units []WorkUnit) []Summary {
	summarizer := NewSummarizer(p.model, p.logger)
	summaries := make([]Summary, len(units))

	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	for i := range units {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			summaries[i] = summarizer.Summarize(ctx, units[i])
		}(i)
	}
	wg.Wait()

	return summaries
}

func containsType(types []Type, t Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, candidate := range values {
		if candidate == s {
			return true
		}
	}
	return false
}
