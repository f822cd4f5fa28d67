package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedDefaults(t *testing.T) {
	entry := Entry{
		Activation: ActivationRule{
			Mode:                      "bogus",
			Logic:                     "sideways",
			ScanDepth:                 -2,
			VectorSimilarityThreshold: 1.5,
			MaxVectorResults:          0,
			Probability:               130,
		},
		Positioning: PositioningRule{Position: "nowhere", Role: "narrator", Depth: -1, Order: 0},
		Timing:      TimingRule{Sticky: -1, Cooldown: -3, Delay: -5},
		Budget:      BudgetRule{MaxTokens: -10},
	}

	normalized := entry.Normalized()

	assert.Equal(t, ModeKeyword, normalized.Activation.Mode)
	assert.Equal(t, LogicAndAny, normalized.Activation.Logic)
	assert.Equal(t, DefaultScanDepth, normalized.Activation.ScanDepth)
	assert.Equal(t, DefaultSimilarityThreshold, normalized.Activation.VectorSimilarityThreshold)
	assert.Equal(t, DefaultMaxVectorResults, normalized.Activation.MaxVectorResults)
	assert.Equal(t, DefaultProbability, normalized.Activation.Probability)

	assert.Equal(t, PositionAfterCharacter, normalized.Positioning.Position)
	assert.Equal(t, RoleSystem, normalized.Positioning.Role)
	assert.Equal(t, 0, normalized.Positioning.Depth)
	assert.Equal(t, DefaultOrder, normalized.Positioning.Order)

	assert.Equal(t, TimingRule{}, normalized.Timing)
	assert.Equal(t, 0, normalized.Budget.MaxTokens)
}

func TestNormalizedScanRoleFallback(t *testing.T) {
	// No scanned roles at all would make the entry dead; the fallback
	// scans user and bot messages.
	entry := Entry{}.Normalized()
	assert.True(t, entry.Activation.MatchInUser)
	assert.True(t, entry.Activation.MatchInBot)
	assert.False(t, entry.Activation.MatchInSystem)

	systemOnly := Entry{Activation: ActivationRule{MatchInSystem: true}}.Normalized()
	assert.False(t, systemOnly.Activation.MatchInUser)
	assert.True(t, systemOnly.Activation.MatchInSystem)
}

func TestNormalizedKeepsValidValues(t *testing.T) {
	entry := Entry{
		Activation: ActivationRule{
			Mode:                      ModeHybrid,
			Logic:                     LogicNotAll,
			ScanDepth:                 7,
			VectorSimilarityThreshold: 0.6,
			MaxVectorResults:          2,
			MatchInUser:               true,
			Probability:               40,
		},
		Positioning: PositioningRule{Position: PositionAtDepth, Role: RoleUser, Depth: 3, Order: 5},
	}
	normalized := entry.Normalized()
	assert.Equal(t, entry.Activation, normalized.Activation)
	assert.Equal(t, entry.Positioning, normalized.Positioning)
}

func TestBudgetAvailable(t *testing.T) {
	budget := Budget{MaxContextTokens: 1000, BudgetPercentage: 0.5, BudgetCapTokens: 400, ReservedForConversation: 100}
	assert.Equal(t, 300, budget.Available())

	percentageBound := Budget{MaxContextTokens: 1000, BudgetPercentage: 0.2, BudgetCapTokens: 400}
	assert.Equal(t, 200, percentageBound.Available())

	overReserved := Budget{MaxContextTokens: 100, BudgetPercentage: 1, BudgetCapTokens: 100, ReservedForConversation: 500}
	assert.Equal(t, 0, overReserved.Available())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
