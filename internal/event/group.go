package event

// Confidence levels assigned by grouping strategy, not by the
// classifier: merge-request affinity is the strongest signal.
const (
	confidenceMergeRequest = 0.9
	confidenceBranch       = 0.7
	confidenceStandalone   = 0.5
)

// GroupWorkUnits partitions events into work units by merge-request
// affinity first, then branch affinity, then standalone. Units that end
// up with zero commits are dropped: they carry nothing to summarize.
// Categories are assigned later by Classify.
func GroupWorkUnits(events []*Activity) []WorkUnit {
	var (
		mrOrder     []int64
		mrGroups    = map[int64][]*Activity{}
		branchOrder []string
		branches    = map[string][]*Activity{}
		standalone  []*Activity
	)

	for _, ev := range events {
		switch {
		case ev.MergeRequestID != 0:
			if _, seen := mrGroups[ev.MergeRequestID]; !seen {
				mrOrder = append(mrOrder, ev.MergeRequestID)
			}
			mrGroups[ev.MergeRequestID] = append(mrGroups[ev.MergeRequestID], ev)
		case ev.BranchName != "" && ev.BranchName != "main" && ev.BranchName != "master":
			if _, seen := branches[ev.BranchName]; !seen {
				branchOrder = append(branchOrder, ev.BranchName)
			}
			branches[ev.BranchName] = append(branches[ev.BranchName], ev)
		default:
			standalone = append(standalone, ev)
		}
	}

	var units []WorkUnit

	for _, mrID := range mrOrder {
		group := mrGroups[mrID]
		unit := WorkUnit{
			Category:       CategoryUnknown,
			Confidence:     confidenceMergeRequest,
			MergeRequestID: mrID,
			Events:         group,
		}
		// last-wins across the group's events, matching iteration order
		for _, ev := range group {
			unit.Commits = append(unit.Commits, ev.Commits...)
			if ev.BranchName != "" {
				unit.BranchName = ev.BranchName
			}
			if ev.TargetTitle != "" {
				unit.MergeRequestTitle = ev.TargetTitle
			}
		}
		if len(unit.Commits) > 0 {
			units = append(units, unit)
		}
	}

	for _, branch := range branchOrder {
		group := branches[branch]
		unit := WorkUnit{
			Category:   CategoryUnknown,
			Confidence: confidenceBranch,
			BranchName: branch,
			Events:     group,
		}
		for _, ev := range group {
			unit.Commits = append(unit.Commits, ev.Commits...)
		}
		if len(unit.Commits) > 0 {
			units = append(units, unit)
		}
	}

	for _, ev := range standalone {
		if len(ev.Commits) == 0 {
			continue
		}
		units = append(units, WorkUnit{
			Category:   CategoryUnknown,
			Confidence: confidenceStandalone,
			BranchName: ev.BranchName,
			Commits:    ev.Commits,
			Events:     []*Activity{ev},
		})
	}

	return units
}
