package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

func alwaysPass() int { return 0 }

func stepTurns(t *testing.T, entry knowledge.Entry, matches []bool) []bool {
	t.Helper()
	var state knowledge.ActivationState
	active := make([]bool, len(matches))
	for turn, matched := range matches {
		state, active[turn] = advance(state, entry, matched, turn, alwaysPass)
	}
	return active
}

func TestStickyPersistence(t *testing.T) {
	entry := knowledge.Entry{
		ID:     "e1",
		Timing: knowledge.TimingRule{Sticky: 2},
	}
	// Trigger at turn 0, then no further matches: sticky keeps the entry
	// active through turns 1 and 2 and it drops at turn 3.
	active := stepTurns(t, entry, []bool{true, false, false, false})
	assert.Equal(t, []bool{true, true, true, false}, active)
}

func TestCooldownExclusion(t *testing.T) {
	entry := knowledge.Entry{
		ID:     "e2",
		Timing: knowledge.TimingRule{Sticky: 1, Cooldown: 3},
	}
	// Trigger at 0, sticky expires at 1 entering cooldown: perfect
	// matches at 2..4 stay blocked, turn 5 may trigger again.
	active := stepTurns(t, entry, []bool{true, false, true, true, true, true})
	assert.Equal(t, []bool{true, true, false, false, false, true}, active)
}

func TestCooldownWithoutSticky(t *testing.T) {
	entry := knowledge.Entry{
		ID:     "e7",
		Timing: knowledge.TimingRule{Cooldown: 3},
	}
	// A non-sticky activation deactivates after its own turn, so the
	// refractory period covers turns 1..3 despite perfect matches.
	active := stepTurns(t, entry, []bool{true, true, true, true, true})
	assert.Equal(t, []bool{true, false, false, false, true}, active)
}

func TestDelayGate(t *testing.T) {
	entry := knowledge.Entry{
		ID:     "e3",
		Timing: knowledge.TimingRule{Delay: 2},
	}
	active := stepTurns(t, entry, []bool{true, true, true})
	assert.Equal(t, []bool{false, false, true}, active)
}

func TestProbabilityGatesIdleTransitionOnly(t *testing.T) {
	entry := knowledge.Entry{
		ID: "e4",
		Activation: knowledge.ActivationRule{
			UseProbability: true,
			Probability:    50,
		},
		Timing: knowledge.TimingRule{Sticky: 2},
	}

	var state knowledge.ActivationState
	rolls := 0
	countingFail := func() int { rolls++; return 99 }

	state, active := advance(state, entry, true, 0, countingFail)
	assert.False(t, active)
	assert.Equal(t, 1, rolls)

	state, active = advance(state, entry, true, 1, alwaysPass)
	require.True(t, active)
	assert.Equal(t, 2, state.StickyRemaining)

	// While sticky, no fresh draw happens even on a match.
	state, active = advance(state, entry, true, 2, countingFail)
	assert.True(t, active)
	assert.Equal(t, 1, rolls)
	assert.Equal(t, 1, state.StickyRemaining)
}

func TestTriggerRecordsTurn(t *testing.T) {
	entry := knowledge.Entry{ID: "e5"}
	state, active := advance(knowledge.ActivationState{}, entry, true, 7, alwaysPass)
	require.True(t, active)
	require.NotNil(t, state.LastTriggeredTurn)
	assert.Equal(t, int64(7), *state.LastTriggeredTurn)
}
