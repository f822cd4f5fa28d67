package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

const casMaxRetries = 5

var errCASConflict = errors.New("activation state version conflict")

// GetActivationState loads the state row, returning a zero-valued state
// when none exists yet. States are created lazily on first write.
func (s *Store) GetActivationState(ctx context.Context, conversationID, entryID string) (knowledge.ActivationState, error) {
	var state knowledge.ActivationState
	err := s.db.GetContext(ctx, &state, `
		SELECT * FROM activation_states WHERE conversation_id = ? AND entry_id = ?
	`, conversationID, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return knowledge.ActivationState{ConversationID: conversationID, EntryID: entryID}, nil
	}
	if err != nil {
		return knowledge.ActivationState{}, err
	}
	return state, nil
}

// UpdateActivationState applies mutate under compare-and-swap semantics:
// concurrent evaluations of the same conversation retry against the
// fresh row instead of clobbering each other's counters.
func (s *Store) UpdateActivationState(
	ctx context.Context,
	conversationID, entryID string,
	mutate func(state knowledge.ActivationState) knowledge.ActivationState,
) (knowledge.ActivationState, error) {
	var lastErr error
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		current, err := s.GetActivationState(ctx, conversationID, entryID)
		if err != nil {
			return knowledge.ActivationState{}, err
		}

		next := mutate(current)
		next.ConversationID = conversationID
		next.EntryID = entryID
		next.Version = current.Version + 1

		var result sql.Result
		if current.Version == 0 {
			result, err = s.db.NamedExecContext(ctx, `
				INSERT INTO activation_states
					(conversation_id, entry_id, sticky_remaining, cooldown_remaining, last_triggered_turn, version)
				VALUES
					(:conversation_id, :entry_id, :sticky_remaining, :cooldown_remaining, :last_triggered_turn, :version)
				ON CONFLICT (conversation_id, entry_id) DO NOTHING
			`, next)
		} else {
			result, err = s.db.ExecContext(ctx, `
				UPDATE activation_states
				   SET sticky_remaining = ?, cooldown_remaining = ?, last_triggered_turn = ?, version = ?
				 WHERE conversation_id = ? AND entry_id = ? AND version = ?
			`, next.StickyRemaining, next.CooldownRemaining, next.LastTriggeredTurn, next.Version,
				conversationID, entryID, current.Version)
		}
		if err != nil {
			return knowledge.ActivationState{}, err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return knowledge.ActivationState{}, err
		}
		if affected > 0 {
			return next, nil
		}
		lastErr = errCASConflict
	}
	return knowledge.ActivationState{}, fmt.Errorf("updating activation state for %s/%s: %w", conversationID, entryID, lastErr)
}

// DeleteConversationStates garbage-collects all state rows for an ended
// conversation.
func (s *Store) DeleteConversationStates(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activation_states WHERE conversation_id = ?`, conversationID)
	return err
}
