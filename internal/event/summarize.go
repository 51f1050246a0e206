package event

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	summarySystemPrompt = "You are a technical project manager who creates concise work summaries from commit data."
	summaryTemperature  = 0.3
	summaryMaxTokens    = 500

	maxNameLen        = 50
	maxDescriptionLen = 150
	maxAchievements   = 3
	maxTechnical      = 2
	minHours          = 0.5
	maxHours          = 40.0

	modelConfidence    = 0.8
	fallbackConfidence = 0.3
)

// Completer is the language-model collaborator. Every failure mode
// (timeout, auth, rate limit) is treated identically by the summarizer.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Summarizer produces a Summary per work unit. It never fails: when the
// model call or response parsing goes wrong it degrades to a
// deterministic synthetic summary, so callers never special-case an
// unavailable model.
type Summarizer struct {
	model  Completer
	logger *slog.Logger
}

func NewSummarizer(model Completer, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Summarizer{model: model, logger: logger}
}

func (s *Summarizer) Summarize(ctx context.Context, unit WorkUnit) Summary {
	if s.model == nil {
		return fallbackSummary(unit)
	}

	response, err := s.model.Complete(ctx, summarySystemPrompt, buildSummaryPrompt(unit), summaryTemperature, summaryMaxTokens)
	if err != nil {
		s.logger.Warn("summary generation failed, using fallback",
			"category", unit.Category, "branch", unit.BranchName, "error", err)
		return fallbackSummary(unit)
	}

	return parseSummary(response, unit)
}

func buildSummaryPrompt(unit WorkUnit) string {
	var b strings.Builder

	b.WriteString("Analyze these Git commits and provide a work summary:\n\n")
	if unit.BranchName != "" {
		fmt.Fprintf(&b, "Branch: %s\n", unit.BranchName)
	}
	if unit.MergeRequestTitle != "" {
		fmt.Fprintf(&b, "Merge Request: %s\n", unit.MergeRequestTitle)
	}
	fmt.Fprintf(&b, "Work Type: %s\n\nCommits:\n", unit.Category)
	for _, c := range unit.Commits {
		fmt.Fprintf(&b, "- %s (%s)\n", c.CleanTitle(), c.CreatedAt.Format("2006-01-02"))
	}

	b.WriteString(`
Please provide:
1. A concise name for this work (max 50 characters)
2. A brief description of what was accomplished (max 150 characters)
3. Estimated hours this work took (be realistic: 0.5-40 hours)
4. Key achievements (2-3 bullet points)
5. Technical details (1-2 bullet points)

Format your response as:
NAME: [work name]
DESCRIPTION: [description]
HOURS: [number]
ACHIEVEMENTS:
- [achievement 1]
- [achievement 2]
TECHNICAL:
- [technical detail 1]
- [technical detail 2]
`)

	return b.String()
}

var hoursPattern = regexp.MustCompile(`\d+\.?\d*`)

// parseSummary scans the model response line-by-line using the section
// markers the prompt requested. Missing or malformed fields fall back
// to defaults rather than failing.
func parseSummary(response string, unit WorkUnit) Summary {
	var (
		name         string
		description  string
		hours        = 1.0
		achievements []string
		technical    []string
		section      string
	)

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "NAME:"):
			name = strings.TrimSpace(line[len("NAME:"):])
		case strings.HasPrefix(line, "DESCRIPTION:"):
			description = strings.TrimSpace(line[len("DESCRIPTION:"):])
		case strings.HasPrefix(line, "HOURS:"):
			if m := hoursPattern.FindString(line[len("HOURS:"):]); m != "" {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					hours = v
				}
			}
		case strings.HasPrefix(line, "ACHIEVEMENTS:"):
			section = "achievements"
		case strings.HasPrefix(line, "TECHNICAL:"):
			section = "technical"
		case strings.HasPrefix(line, "- ") && section != "":
			item := strings.TrimSpace(line[2:])
			if section == "achievements" {
				achievements = append(achievements, item)
			} else {
				technical = append(technical, item)
			}
		}
	}

	if name == "" {
		name = fmt.Sprintf("%s Work", titleCase(string(unit.Category)))
	}
	if description == "" {
		description = fmt.Sprintf("Work on %s", orDefault(unit.BranchName, "project"))
	}
	if len(achievements) > maxAchievements {
		achievements = achievements[:maxAchievements]
	}
	if len(technical) > maxTechnical {
		technical = technical[:maxTechnical]
	}

	return Summary{
		Name:             truncate(name, maxNameLen),
		Description:      truncate(description, maxDescriptionLen),
		EstimatedHours:   clampHours(hours),
		Confidence:       modelConfidence,
		Category:         unit.Category,
		KeyAchievements:  achievements,
		TechnicalDetails: technical,
	}
}

// fallbackSummary synthesizes a low-confidence summary so the pipeline
// output contract holds even when the model is down.
func fallbackSummary(unit WorkUnit) Summary {
	n := unit.TotalCommits()
	return Summary{
		Name:             fmt.Sprintf("%s Work", titleCase(string(unit.Category))),
		Description:      fmt.Sprintf("Work on %s with %d commits", orDefault(unit.BranchName, "project"), n),
		EstimatedHours:   float64(n) * 0.5,
		Confidence:       fallbackConfidence,
		Category:         unit.Category,
		KeyAchievements:  []string{fmt.Sprintf("Completed %d commits", n)},
		TechnicalDetails: []string{fmt.Sprintf("Branch: %s", orDefault(unit.BranchName, "Unknown"))},
	}
}

func clampHours(h float64) float64 {
	if h < minHours {
		return minHours
	}
	if h > maxHours {
		return maxHours
	}
	return h
}

// truncate counts runes, not bytes, so a multibyte character is never
// cut mid-sequence.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
