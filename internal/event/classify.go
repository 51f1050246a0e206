package event

import "strings"

// keywordRule pairs a keyword set with the category it implies. Rules
// are evaluated in slice order and the first match wins, so the tables
// below are decision procedures, not unordered sets.
type keywordRule struct {
	keywords []string
	category Category
}

var branchRules = []keywordRule{
	{[]string{"feature", "feat"}, CategoryFeature},
	{[]string{"fix", "bug", "hotfix"}, CategoryBugfix},
	{[]string{"hotfix", "urgent"}, CategoryHotfix},
	{[]string{"refactor", "cleanup"}, CategoryRefactor},
	{[]string{"doc", "readme"}, CategoryDocumentation},
	{[]string{"experiment", "test", "poc"}, CategoryExperiment},
}

var mergeTitleRules = []keywordRule{
	{[]string{"feature", "add", "implement"}, CategoryFeature},
	{[]string{"fix", "bug", "resolve"}, CategoryBugfix},
	{[]string{"hotfix", "urgent"}, CategoryHotfix},
	{[]string{"refactor", "cleanup", "improve"}, CategoryRefactor},
	{[]string{"doc", "documentation"}, CategoryDocumentation},
}

// Commit-title voting keyword sets. A commit may count toward more
// than one bucket.
var (
	featureWords = []string{"feat", "add", "implement", "create"}
	bugfixWords  = []string{"fix", "bug", "resolve"}
	docWords     = []string{"doc", "readme", "comment"}
)

func matchRules(text string, rules []keywordRule) (Category, bool) {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category, true
			}
		}
	}
	return CategoryUnknown, false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Classify assigns a work category from naming heuristics: branch name
// first, merge title second, then commit-title voting. It is total and
// deterministic, defaulting to CategoryUnknown.
func Classify(branchName, mergeTitle string, commits []Commit) Category {
	if branchName != "" {
		if cat, ok := matchRules(branchName, branchRules); ok {
			return cat
		}
	}

	if mergeTitle != "" {
		if cat, ok := matchRules(mergeTitle, mergeTitleRules); ok {
			return cat
		}
	}

	var featureCount, bugfixCount, docCount int
	for _, c := range commits {
		title := strings.ToLower(c.Title)
		if containsAny(title, featureWords) {
			featureCount++
		}
		if containsAny(title, bugfixWords) {
			bugfixCount++
		}
		if containsAny(title, docWords) {
			docCount++
		}
	}

	total := float64(len(commits))
	switch {
	case float64(bugfixCount) > total*0.6:
		return CategoryBugfix
	case float64(featureCount) > total*0.6:
		return CategoryFeature
	case float64(docCount) > total*0.6:
		return CategoryDocumentation
	case featureCount > bugfixCount:
		return CategoryFeature
	case bugfixCount > featureCount:
		return CategoryBugfix
	}
	return CategoryUnknown
}
