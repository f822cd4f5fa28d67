package engine

import (
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// costEntry builds an entry whose estimated cost is exactly tokens.
func costEntry(id string, order, tokens int) knowledge.Entry {
	return knowledge.Entry{
		ID:          id,
		Content:     strings.Repeat("a", tokens*4),
		Positioning: knowledge.PositioningRule{Order: order},
	}
}

func candidateOf(entry knowledge.Entry, reason MatchReason, score float64, t *testing.T) Candidate {
	t.Helper()
	candidate, ok := newCandidate(entry, reason, score, testLogger())
	require.True(t, ok)
	return candidate
}

func includedIDs(activations []Activation) []string {
	ids := make([]string, len(activations))
	for i, activation := range activations {
		ids[i] = activation.Entry.ID
	}
	return ids
}

func TestAllocateRespectsCeiling(t *testing.T) {
	budget := knowledge.Budget{
		MaxContextTokens:        1000,
		BudgetPercentage:        0.5,
		BudgetCapTokens:         120,
		ReservedForConversation: 20,
	}
	require.Equal(t, 100, budget.Available())

	candidates := []Candidate{
		candidateOf(costEntry("a", 10, 40), ReasonKeyword, 0, t),
		candidateOf(costEntry("b", 20, 40), ReasonKeyword, 0, t),
		candidateOf(costEntry("c", 30, 40), ReasonKeyword, 0, t),
	}
	activations := Allocate(candidates, budget, testLogger())
	assert.Equal(t, []string{"a", "b"}, includedIDs(activations))

	total := 0
	for _, activation := range activations {
		total += activation.Cost
	}
	assert.LessOrEqual(t, total, budget.BudgetCapTokens)
}

func TestAllocateIgnoreBudgetAlwaysIncluded(t *testing.T) {
	huge := costEntry("huge", 50, 500)
	huge.Budget.IgnoreBudget = true

	budget := knowledge.Budget{MaxContextTokens: 100, BudgetPercentage: 1, BudgetCapTokens: 10}
	candidates := []Candidate{
		candidateOf(costEntry("small", 10, 50), ReasonKeyword, 0, t),
		candidateOf(huge, ReasonKeyword, 0, t),
	}
	activations := Allocate(candidates, budget, testLogger())
	assert.Equal(t, []string{"huge"}, includedIDs(activations))
}

func TestAllocateEmptyBudgetYieldsNothing(t *testing.T) {
	budget := knowledge.Budget{MaxContextTokens: 100, BudgetPercentage: 0.1, ReservedForConversation: 50}
	require.Equal(t, 0, budget.Available())

	candidates := []Candidate{candidateOf(costEntry("a", 10, 5), ReasonKeyword, 0, t)}
	assert.Empty(t, Allocate(candidates, budget, testLogger()))
}

func TestAllocatePriorityOrdering(t *testing.T) {
	constant := costEntry("constant", 10, 10)
	vector := costEntry("vector", 10, 10)
	keyword := costEntry("keyword", 10, 10)

	budget := knowledge.Budget{MaxContextTokens: 1000, BudgetPercentage: 1, BudgetCapTokens: 20}
	candidates := []Candidate{
		candidateOf(keyword, ReasonKeyword, 0, t),
		candidateOf(vector, ReasonVector, 0.9, t),
		candidateOf(constant, ReasonConstant, 0, t),
	}
	activations := Allocate(candidates, budget, testLogger())
	assert.Equal(t, []string{"constant", "vector"}, includedIDs(activations))
}

func TestAllocateMinActivationsRelaxesPriority(t *testing.T) {
	// The highest-priority entry alone would consume the whole budget;
	// the floor of two is only reachable by preferring the cheaper pair.
	budget := knowledge.Budget{
		MaxContextTokens: 1000,
		BudgetPercentage: 1,
		BudgetCapTokens:  100,
		MinActivations:   2,
	}
	candidates := []Candidate{
		candidateOf(costEntry("expensive", 10, 90), ReasonKeyword, 0, t),
		candidateOf(costEntry("cheap1", 20, 30), ReasonKeyword, 0, t),
		candidateOf(costEntry("cheap2", 30, 30), ReasonKeyword, 0, t),
	}
	activations := Allocate(candidates, budget, testLogger())
	assert.ElementsMatch(t, []string{"cheap1", "cheap2"}, includedIDs(activations))
}

func TestNewCandidateTruncatesToCap(t *testing.T) {
	entry := costEntry("capped", 10, 100)
	entry.Budget.MaxTokens = 20

	candidate, ok := newCandidate(entry, ReasonKeyword, 0, testLogger())
	require.True(t, ok)
	assert.LessOrEqual(t, candidate.Cost, 20)
	assert.NotEmpty(t, candidate.Content)
}

func TestNewCandidateDropsUnusable(t *testing.T) {
	entry := costEntry("tiny-cap", 10, 100)
	entry.Budget.MaxTokens = 2

	_, ok := newCandidate(entry, ReasonKeyword, 0, testLogger())
	assert.False(t, ok)
}
