package engine

import (
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// MatchReason records which matcher surfaced a candidate.
type MatchReason string

const (
	ReasonKeyword  MatchReason = "keyword"
	ReasonVector   MatchReason = "vector"
	ReasonConstant MatchReason = "constant"
)

// Candidate is a matched entry before budget allocation. Never persisted.
type Candidate struct {
	Entry   knowledge.Entry
	Reason  MatchReason
	Score   float64
	Content string
	Cost    int
}

// Activation is a budgeted, final selection for this turn.
type Activation struct {
	Entry   knowledge.Entry
	Reason  MatchReason
	Score   float64
	Content string
	Cost    int
}

// Truncated content below this is noise, not knowledge.
const minUsableTokens = 8

// newCandidate prices an entry, truncating content that exceeds the
// entry's own token cap. Returns false when the truncated remainder is
// too small to be usable.
func newCandidate(entry knowledge.Entry, reason MatchReason, score float64, logger *log.Logger) (Candidate, bool) {
	content := entry.Content
	cost := knowledge.EstimateTokens(content)

	if entry.Budget.MaxTokens > 0 && cost > entry.Budget.MaxTokens {
		content = truncateToTokens(content, entry.Budget.MaxTokens)
		cost = knowledge.EstimateTokens(content)
		if cost < minUsableTokens {
			logger.Warn("Dropping entry: unusable after truncation to its token cap",
				"entry", entry.ID, "max_tokens", entry.Budget.MaxTokens)
			return Candidate{}, false
		}
	}

	return Candidate{Entry: entry, Reason: reason, Score: score, Content: content, Cost: cost}, true
}

// truncateToTokens cuts text to roughly maxTokens, backing up to the
// last word boundary.
func truncateToTokens(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexAny(cut, " \n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// reasonPriority orders match confidence: constant beats vector beats
// keyword.
func reasonPriority(reason MatchReason) int {
	switch reason {
	case ReasonConstant:
		return 0
	case ReasonVector:
		return 1
	default:
		return 2
	}
}

func lessCandidate(a, b Candidate) bool {
	if a.Entry.Budget.IgnoreBudget != b.Entry.Budget.IgnoreBudget {
		return a.Entry.Budget.IgnoreBudget
	}
	if a.Entry.Positioning.Order != b.Entry.Positioning.Order {
		return a.Entry.Positioning.Order < b.Entry.Positioning.Order
	}
	if pa, pb := reasonPriority(a.Reason), reasonPriority(b.Reason); pa != pb {
		return pa < pb
	}
	if a.Reason == ReasonVector && b.Reason == ReasonVector && a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Entry.ID < b.Entry.ID
}

// Allocate reduces the candidate set to the final activations under the
// turn budget. It never errors: an empty budget yields only the
// ignore-budget entries.
func Allocate(candidates []Candidate, budget knowledge.Budget, logger *log.Logger) []Activation {
	available := budget.Available()

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return lessCandidate(sorted[i], sorted[j]) })

	var included []Candidate
	used := 0
	constrainedUsed := 0

	for _, candidate := range sorted {
		if candidate.Entry.Budget.IgnoreBudget {
			// Always included; cost still counted for observability but
			// never grounds for exclusion.
			included = append(included, candidate)
			used += candidate.Cost
			continue
		}
		if constrainedUsed+candidate.Cost <= available {
			included = append(included, candidate)
			used += candidate.Cost
			constrainedUsed += candidate.Cost
		}
	}

	// min_activations is a floor on budget-constrained entries only
	// (ignore-budget entries are additive). When the priority-greedy
	// pass lands under the floor, prefer count over priority: re-pick
	// the constrained set cheapest-first until the floor is met, then
	// refill by priority. The floor can never exceed the budget itself.
	if constrainedCount(included) < budget.MinActivations {
		included, used = relaxForMinimum(sorted, budget.MinActivations, available)
	}

	activations := make([]Activation, len(included))
	for i, candidate := range included {
		activations[i] = Activation{
			Entry:   candidate.Entry,
			Reason:  candidate.Reason,
			Score:   candidate.Score,
			Content: candidate.Content,
			Cost:    candidate.Cost,
		}
	}
	logger.Debug("Budget allocation complete",
		"candidates", len(candidates), "included", len(included), "tokens_used", used, "available", available)
	return activations
}

func constrainedCount(candidates []Candidate) int {
	count := 0
	for _, candidate := range candidates {
		if !candidate.Entry.Budget.IgnoreBudget {
			count++
		}
	}
	return count
}

func relaxForMinimum(sorted []Candidate, minActivations, available int) ([]Candidate, int) {
	var ignore, constrained []Candidate
	for _, candidate := range sorted {
		if candidate.Entry.Budget.IgnoreBudget {
			ignore = append(ignore, candidate)
		} else {
			constrained = append(constrained, candidate)
		}
	}

	byCost := make([]Candidate, len(constrained))
	copy(byCost, constrained)
	sort.SliceStable(byCost, func(i, j int) bool { return byCost[i].Cost < byCost[j].Cost })

	picked := make(map[string]bool)
	used := 0
	var selection []Candidate
	for _, candidate := range byCost {
		if len(selection) >= minActivations {
			break
		}
		if used+candidate.Cost > available {
			break
		}
		selection = append(selection, candidate)
		picked[candidate.Entry.ID] = true
		used += candidate.Cost
	}

	// Fill any remaining room back in priority order.
	for _, candidate := range constrained {
		if picked[candidate.Entry.ID] {
			continue
		}
		if used+candidate.Cost > available {
			continue
		}
		selection = append(selection, candidate)
		picked[candidate.Entry.ID] = true
		used += candidate.Cost
	}

	merged := append(ignore, selection...)
	sort.Slice(merged, func(i, j int) bool { return lessCandidate(merged[i], merged[j]) })
	total := used
	for _, candidate := range ignore {
		total += candidate.Cost
	}
	return merged, total
}
