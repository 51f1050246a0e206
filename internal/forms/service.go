package forms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
)

const (
	defaultListName = "Forms"
	defaultLimit    = 50
)

// Document is one item from a document-list backend, with the
// well-known columns lifted out and everything else kept in Fields.
type Document struct {
	ID         string
	Title      string
	ListName   string
	Status     string
	CreatedBy  string
	ModifiedBy string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Fields     map[string]any
	WebURL     string
}

func (d Document) ToMap() map[string]any {
	return map[string]any{
		"id":            d.ID,
		"title":         d.Title,
		"list_name":     d.ListName,
		"status":        d.Status,
		"created_by":    d.CreatedBy,
		"modified_by":   d.ModifiedBy,
		"created_date":  d.CreatedAt.Format("2006-01-02"),
		"modified_date": d.ModifiedAt.Format("2006-01-02"),
		"fields":        d.Fields,
		"web_url":       d.WebURL,
	}
}

// ListInfo describes one list on the document site.
type ListInfo struct {
	Title       string
	Description string
	ItemCount   int64
	Template    string
}

func (l ListInfo) ToMap() map[string]any {
	return map[string]any{
		"title":       l.Title,
		"description": l.Description,
		"item_count":  l.ItemCount,
		"template":    l.Template,
	}
}

// Filters narrows a document search. ID short-circuits to a single
// item lookup.
type Filters struct {
	ListName  string
	ID        string
	Period    string
	Status    string
	CreatedBy string
	Limit     int
}

// Query is the server-side portion of a search, what the backend can
// filter on its own. Author matching happens client-side.
type Query struct {
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Status        string
	PageSize      int
}

// Source is the document-list backend collaborator.
type Source interface {
	ListDocuments(ctx context.Context, listName string, q Query) ([]Document, error)
	GetDocument(ctx context.Context, listName, id string) (*Document, error)
	Lists(ctx context.Context) ([]ListInfo, error)
}

// SearchResult is the outcome of one document search.
type SearchResult struct {
	Success   bool
	Documents []Document
	Error     string
}

func (r *SearchResult) ToMap() map[string]any {
	docs := make([]map[string]any, len(r.Documents))
	for i, d := range r.Documents {
		docs[i] = d.ToMap()
	}
	return map[string]any{
		"success":         r.Success,
		"total_documents": len(r.Documents),
		"documents":       docs,
		"error":           r.Error,
	}
}

// Service searches documents on a single configured site. Unlike the
// issue search there is one backend, so a fetch failure fails the
// whole search.
type Service struct {
	source Source
	logger *slog.Logger
	now    func() time.Time
}

func NewService(source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{source: source, logger: logger, now: time.Now}
}

// Search lists documents matching the filters.
func (s *Service) Search(ctx context.Context, filters Filters) *SearchResult {
	listName := filters.ListName
	if listName == "" {
		listName = defaultListName
	}

	if filters.ID != "" {
		doc, err := s.source.GetDocument(ctx, listName, filters.ID)
		if err != nil {
			s.logger.Warn("document lookup failed", "list", listName, "id", filters.ID, "error", err)
			return &SearchResult{Documents: []Document{}, Error: err.Error()}
		}
		return &SearchResult{Success: true, Documents: []Document{*doc}}
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	start, end, _ := event.ResolveRange(filters.Period, s.now())

	docs, err := s.source.ListDocuments(ctx, listName, Query{
		CreatedAfter:  start,
		CreatedBefore: end,
		Status:        filters.Status,
		PageSize:      limit,
	})
	if err != nil {
		s.logger.Warn("document search failed", "list", listName, "error", err)
		return &SearchResult{Documents: []Document{}, Error: err.Error()}
	}

	matched := make([]Document, 0, len(docs))
	for _, d := range docs {
		if filters.CreatedBy != "" && !strings.Contains(strings.ToLower(d.CreatedBy), strings.ToLower(filters.CreatedBy)) {
			continue
		}
		matched = append(matched, d)
		if len(matched) >= limit {
			break
		}
	}

	return &SearchResult{Success: true, Documents: matched}
}

// SearchText finds documents whose title or field values contain the
// query, case-insensitive. It overfetches so client-side matching
// still fills the limit.
func (s *Service) SearchText(ctx context.Context, query, listName string, limit int) *SearchResult {
	if limit <= 0 {
		limit = 20
	}

	result := s.Search(ctx, Filters{ListName: listName, Limit: limit * 2})
	if !result.Success {
		return result
	}

	needle := strings.ToLower(query)
	matched := make([]Document, 0, limit)
	for _, d := range result.Documents {
		if documentMatches(d, needle) {
			matched = append(matched, d)
		}
		if len(matched) >= limit {
			break
		}
	}

	return &SearchResult{Success: true, Documents: matched}
}

func documentMatches(d Document, needle string) bool {
	if strings.Contains(strings.ToLower(d.Title), needle) {
		return true
	}
	for _, v := range d.Fields {
		if v == nil {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprintf("%v", v)), needle) {
			return true
		}
	}
	return false
}

// SiteLists returns the lists available on the site.
func (s *Service) SiteLists(ctx context.Context) ([]ListInfo, error) {
	return s.source.Lists(ctx)
}

// Breakdown aggregates a search result into the table and breakdown
// maps the chat layer renders, plus a one-sentence summary.
func Breakdown(result *SearchResult, filters Filters) map[string]any {
	if !result.Success || len(result.Documents) == 0 {
		return map[string]any{
			"summary":          "No documents found matching the criteria.",
			"table_data":       []map[string]any{},
			"list_breakdown":   map[string]int{},
			"status_breakdown": map[string]int{},
		}
	}

	tableData := make([]map[string]any, 0, len(result.Documents))
	listBreakdown := map[string]int{}
	statusBreakdown := map[string]int{}

	for _, d := range result.Documents {
		tableData = append(tableData, map[string]any{
			"id":         d.ID,
			"title":      d.Title,
			"created_by": d.CreatedBy,
			"created":    d.CreatedAt.Format("2006-01-02"),
			"list":       d.ListName,
			"status":     d.Status,
		})
		listBreakdown[d.ListName]++
		statusBreakdown[d.Status]++
	}

	parts := []string{fmt.Sprintf("Found %d documents", len(result.Documents))}
	if filters.ListName != "" && filters.ListName != defaultListName {
		parts = append(parts, fmt.Sprintf("from '%s' list", filters.ListName))
	}
	if filters.CreatedBy != "" {
		parts = append(parts, fmt.Sprintf("created by %s", filters.CreatedBy))
	}
	if filters.Status != "" {
		parts = append(parts, fmt.Sprintf("with status '%s'", filters.Status))
	}
	if len(listBreakdown) > 1 {
		parts = append(parts, fmt.Sprintf("across %d lists", len(listBreakdown)))
	}

	return map[string]any{
		"summary":          strings.Join(parts, " ") + ".",
		"table_data":       tableData,
		"list_breakdown":   listBreakdown,
		"status_breakdown": statusBreakdown,
	}
}
