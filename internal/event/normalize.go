package event

import (
	"fmt"
	"strings"
	"time"
)

// Record is the schema-less shape of one raw source API entry. The
// events endpoint exposes fields inconsistently across action kinds, so
// all probing happens here; everything downstream sees only Activity.
type Record map[string]any

func (r Record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) sub(key string) Record {
	if m, ok := r[key].(map[string]any); ok {
		return Record(m)
	}
	return nil
}

// integer fields arrive as float64 from encoding/json.
func (r Record) int64(key string) int64 {
	switch v := r[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func (r Record) time(key string) (time.Time, bool) {
	s := r.str(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// actionTable maps source action labels to event types by ordered
// substring match. Order encodes priority: the first matching entry
// wins, so "pushed new branch" is a push, not a branch creation.
var actionTable = []struct {
	substr string
	typ    Type
}{
	{"pushed", TypePush},
	{"merged", TypeMerge},
	{"accepted", TypeMerge},
	{"opened", TypeIssueOpen},
	{"created", TypeBranchCreate},
	{"closed", TypeIssueClose},
	{"commented", TypeComment},
	{"committed", TypeCommit},
}

func mapAction(action string) Type {
	action = strings.ToLower(action)
	for _, entry := range actionTable {
		if strings.Contains(action, entry.substr) {
			return entry.typ
		}
	}
	return TypeOther
}

// Normalize converts a raw source record into an Activity. It returns
// nil when the record lacks an id or a parseable timestamp; the caller
// logs and skips those.
func Normalize(raw Record) *Activity {
	id := raw.int64("id")
	if id == 0 {
		return nil
	}
	createdAt, ok := raw.time("created_at")
	if !ok {
		return nil
	}

	a := &Activity{
		ID:          id,
		Type:        mapAction(raw.str("action_name")),
		CreatedAt:   createdAt,
		TargetType:  raw.str("target_type"),
		TargetID:    raw.int64("target_id"),
		TargetTitle: raw.str("target_title"),
	}

	if push := raw.sub("push_data"); push != nil {
		a.PushData = push
		a.BranchName = push.str("ref")
	}

	// Structured target data takes precedence over the push ref.
	if target := raw.sub("target"); target != nil {
		if target.str("target_type") == "MergeRequest" {
			a.MergeRequestID = target.int64("iid")
			a.BranchName = target.str("source_branch")
		}
	}

	if pid := raw.int64("project_id"); pid != 0 {
		a.ProjectID = fmt.Sprintf("%d", pid)
	} else if s := raw.str("project_id"); s != "" {
		a.ProjectID = s
	} else {
		a.ProjectID = "unknown"
	}

	a.ProjectName = resolveProjectName(raw, a.ProjectID)
	a.AuthorName = resolveAuthorName(raw)

	return a
}

// resolveProjectName walks the priority chain: embedded project object,
// sibling project_name field, synthesized placeholder. Never empty.
func resolveProjectName(raw Record, projectID string) string {
	if project := raw.sub("project"); project != nil {
		if name := project.str("name"); name != "" {
			return name
		}
	}
	if name := raw.str("project_name"); name != "" {
		return name
	}
	return "Project " + projectID
}

func resolveAuthorName(raw Record) string {
	if author := raw.sub("author"); author != nil {
		if name := author.str("name"); name != "" {
			return name
		}
	}
	if name := raw.str("author_name"); name != "" {
		return name
	}
	return "Unknown"
}
