package engine

import (
	"context"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// StateStore persists per-(conversation, entry) timing counters. Update
// must be atomic per record (compare-and-swap or equivalent).
type StateStore interface {
	GetActivationState(ctx context.Context, conversationID, entryID string) (knowledge.ActivationState, error)
	UpdateActivationState(ctx context.Context, conversationID, entryID string, mutate func(knowledge.ActivationState) knowledge.ActivationState) (knowledge.ActivationState, error)
	DeleteConversationStates(ctx context.Context, conversationID string) error
}

// advance runs one turn of the Idle → Triggered → Sticky → Cooldown
// state machine. matched reports whether the entry's rule (or constant
// mode) fired this turn; roll draws a fresh [0,100) value for the
// probability gate. Returns the next state and whether the entry is
// active this turn.
func advance(
	state knowledge.ActivationState,
	entry knowledge.Entry,
	matched bool,
	turn int,
	roll func() int,
) (knowledge.ActivationState, bool) {
	timing := entry.Timing

	// Sticky forces activation regardless of this turn's match result.
	if state.StickyRemaining > 0 {
		state.StickyRemaining--
		if state.StickyRemaining == 0 && timing.Cooldown > 0 {
			state.CooldownRemaining = timing.Cooldown
		}
		return state, true
	}

	// Cooldown blocks re-triggering even on a perfect match.
	if state.CooldownRemaining > 0 {
		state.CooldownRemaining--
		return state, false
	}

	if !matched {
		return state, false
	}

	// Delay: the entry can never trigger before the configured turn.
	if timing.Delay > 0 && turn < timing.Delay {
		return state, false
	}

	// Probability gates only the Idle → Triggered transition, one fresh
	// draw per would-be trigger.
	if entry.Activation.UseProbability && roll() >= entry.Activation.Probability {
		return state, false
	}

	triggeredTurn := int64(turn)
	state.LastTriggeredTurn = &triggeredTurn
	if timing.Sticky > 0 {
		state.StickyRemaining = timing.Sticky
	} else if timing.Cooldown > 0 {
		// A non-sticky activation deactivates after this turn, so its
		// refractory period starts immediately.
		state.CooldownRemaining = timing.Cooldown
	}
	return state, true
}
