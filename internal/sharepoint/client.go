package sharepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/forms"
)

// Client is a SharePoint REST client over the site's _api surface. It
// implements forms.Source.
type Client struct {
	apiURL     string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(siteURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		apiURL: strings.TrimRight(siteURL, "/") + "/_api",
		token:  token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	var resp *http.Response
	maxRetries := 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json;odata=nometadata")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sending request: %w", err)
			}
			if attempt == maxRetries {
				c.logger.Error("SharePoint API transport error", "path", path, "error", err)
				return nil, fmt.Errorf("sending request: %w", err)
			}
			time.Sleep(backoff(attempt))
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				c.logger.Error("SharePoint API failed after retries", "path", path, "status", resp.StatusCode)
				return nil, fmt.Errorf("SharePoint API returned status %d after %d retries", resp.StatusCode, maxRetries)
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("SharePoint API error", "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("SharePoint API error (status %d)", resp.StatusCode)
	}

	return body, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// escapeListTitle doubles single quotes for the getbytitle('...') path
// segment.
func escapeListTitle(title string) string {
	return url.PathEscape(strings.ReplaceAll(title, "'", "''"))
}

// ListDocuments fetches items from one list. Date and status filters
// are pushed down as an OData $filter.
func (c *Client) ListDocuments(ctx context.Context, listName string, q forms.Query) ([]forms.Document, error) {
	params := url.Values{}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	params.Set("$top", fmt.Sprintf("%d", pageSize))
	params.Set("$orderby", "Created desc")
	params.Set("$select", "*,Author/Title,Editor/Title")
	params.Set("$expand", "Author,Editor")

	var clauses []string
	if !q.CreatedAfter.IsZero() {
		clauses = append(clauses, fmt.Sprintf("Created ge datetime'%s'", q.CreatedAfter.UTC().Format(time.RFC3339)))
	}
	if !q.CreatedBefore.IsZero() {
		clauses = append(clauses, fmt.Sprintf("Created lt datetime'%s'", q.CreatedBefore.UTC().Format(time.RFC3339)))
	}
	if q.Status != "" {
		clauses = append(clauses, fmt.Sprintf("Status eq '%s'", strings.ReplaceAll(q.Status, "'", "''")))
	}
	if len(clauses) > 0 {
		params.Set("$filter", strings.Join(clauses, " and "))
	}

	path := "/web/lists/getbytitle('" + escapeListTitle(listName) + "')/items?" + params.Encode()
	data, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetching items from list %s: %w", listName, err)
	}

	var wire struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing items from list %s: %w", listName, err)
	}

	docs := make([]forms.Document, 0, len(wire.Value))
	for _, item := range wire.Value {
		docs = append(docs, itemToDocument(item, listName))
	}
	return docs, nil
}

// GetDocument fetches a single list item by its numeric ID.
func (c *Client) GetDocument(ctx context.Context, listName, id string) (*forms.Document, error) {
	params := url.Values{}
	params.Set("$select", "*,Author/Title,Editor/Title")
	params.Set("$expand", "Author,Editor")

	path := "/web/lists/getbytitle('" + escapeListTitle(listName) + "')/items(" + url.PathEscape(id) + ")?" + params.Encode()
	data, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetching item %s from list %s: %w", id, listName, err)
	}

	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parsing item %s: %w", id, err)
	}

	doc := itemToDocument(item, listName)
	return &doc, nil
}

// Lists returns the visible lists on the site.
func (c *Client) Lists(ctx context.Context) ([]forms.ListInfo, error) {
	params := url.Values{}
	params.Set("$filter", "Hidden eq false")
	params.Set("$select", "Title,Description,ItemCount,BaseTemplate")

	data, err := c.doRequest(ctx, "/web/lists?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetching site lists: %w", err)
	}

	var wire struct {
		Value []struct {
			Title        string `json:"Title"`
			Description  string `json:"Description"`
			ItemCount    int64  `json:"ItemCount"`
			BaseTemplate int    `json:"BaseTemplate"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing site lists: %w", err)
	}

	lists := make([]forms.ListInfo, 0, len(wire.Value))
	for _, l := range wire.Value {
		lists = append(lists, forms.ListInfo{
			Title:       l.Title,
			Description: l.Description,
			ItemCount:   l.ItemCount,
			Template:    templateName(l.BaseTemplate),
		})
	}
	return lists, nil
}

func templateName(baseTemplate int) string {
	switch baseTemplate {
	case 100:
		return "generic"
	case 101:
		return "document_library"
	case 106:
		return "events"
	case 107:
		return "tasks"
	default:
		return fmt.Sprintf("template_%d", baseTemplate)
	}
}

// wellKnown are item properties lifted into Document fields rather
// than kept in the free-form Fields map.
var wellKnown = map[string]bool{
	"ID": true, "Id": true, "Title": true, "Status": true,
	"Created": true, "Modified": true, "Author": true, "Editor": true,
	"AuthorId": true, "EditorId": true, "GUID": true,
	"ContentTypeId": true, "Attachments": true, "FileSystemObjectType": true,
}

func itemToDocument(item map[string]any, listName string) forms.Document {
	doc := forms.Document{
		ListName: listName,
		Fields:   map[string]any{},
	}

	if id, ok := item["ID"]; ok {
		doc.ID = fmt.Sprintf("%v", jsonNumber(id))
	} else if id, ok := item["Id"]; ok {
		doc.ID = fmt.Sprintf("%v", jsonNumber(id))
	}
	if title, ok := item["Title"].(string); ok {
		doc.Title = title
	}
	if status, ok := item["Status"].(string); ok {
		doc.Status = status
	}
	if created, ok := item["Created"].(string); ok {
		doc.CreatedAt, _ = time.Parse(time.RFC3339, created)
	}
	if modified, ok := item["Modified"].(string); ok {
		doc.ModifiedAt, _ = time.Parse(time.RFC3339, modified)
	}
	doc.CreatedBy = personTitle(item["Author"])
	doc.ModifiedBy = personTitle(item["Editor"])

	for key, value := range item {
		if wellKnown[key] || strings.HasPrefix(key, "odata") || strings.HasPrefix(key, "OData") || strings.HasPrefix(key, "_") {
			continue
		}
		doc.Fields[key] = value
	}
	return doc
}

func personTitle(v any) string {
	person, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	title, _ := person["Title"].(string)
	return title
}

// jsonNumber renders an item ID without a float exponent or trailing
// decimals.
func jsonNumber(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return int64(f)
	}
	return v
}
