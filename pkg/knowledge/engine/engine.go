package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/glimmer-ai/lorekeeper/pkg/ai"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorstore"
)

// VectorSearcher is the index slice the engine queries each turn.
type VectorSearcher interface {
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]vectorstore.Hit, error)
}

// Engine evaluates which knowledge entries activate on a turn.
type Engine struct {
	states          StateStore
	searcher        VectorSearcher
	embedder        ai.Embedding
	logger          *log.Logger
	embeddingsModel string
	tenantID        string
	vectorTimeout   time.Duration
	roll            func() int

	// One lock per live conversation so overlapping evaluations cannot
	// race on sticky/cooldown counters. Different conversations run in
	// parallel.
	conversationLocks sync.Map
}

type Config struct {
	States          StateStore
	Searcher        VectorSearcher
	Embedder        ai.Embedding
	Logger          *log.Logger
	EmbeddingsModel string
	TenantID        string
	VectorTimeout   time.Duration
}

func New(config Config) *Engine {
	if config.VectorTimeout <= 0 {
		config.VectorTimeout = 10 * time.Second
	}
	return &Engine{
		states:          config.States,
		searcher:        config.Searcher,
		embedder:        config.Embedder,
		logger:          config.Logger,
		embeddingsModel: config.EmbeddingsModel,
		tenantID:        config.TenantID,
		vectorTimeout:   config.VectorTimeout,
		roll:            func() int { return rand.Intn(100) },
	}
}

// Request is one turn evaluation. Messages are the conversation history,
// newest last; when several bots respond in one turn the caller appends
// each prior bot's generated text as an assistant message before the
// next bot's evaluation.
type Request struct {
	ConversationID string
	BotID          string
	PersonaID      string
	Turn           int
	Entries        []knowledge.Entry
	Messages       []knowledge.Message
	Budget         knowledge.Budget
}

// Result is the turn's final selection plus observability fields.
type Result struct {
	Activations     []Activation
	Degraded        bool
	EvaluatedCount  int
	EstimatedTokens int
}

// WithPriorBotText extends the scan window with text already generated
// by an earlier bot in the same turn.
func WithPriorBotText(req Request, text string) Request {
	messages := make([]knowledge.Message, len(req.Messages), len(req.Messages)+1)
	copy(messages, req.Messages)
	req.Messages = append(messages, knowledge.Message{Role: knowledge.RoleAssistant, Content: text})
	return req
}

type vectorResult struct {
	scores map[string]rankedScore
	err    error
}

// Evaluate runs the per-turn pipeline: filter, keyword and vector
// matching in parallel, timing state, budget. The vector leg runs under
// a bounded timeout and degrades to keyword-only on failure.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Result, error) {
	lock := e.lockFor(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	var filtered []knowledge.Entry
	for _, entry := range req.Entries {
		entry = entry.Normalized()
		if entry.Activation.Mode == knowledge.ModeDisabled {
			continue
		}
		if !passesFilter(entry, req.BotID, req.PersonaID) {
			continue
		}
		filtered = append(filtered, entry)
	}

	var vectorEntries []knowledge.Entry
	for _, entry := range filtered {
		if mode := entry.Activation.Mode; mode == knowledge.ModeVector || mode == knowledge.ModeHybrid {
			vectorEntries = append(vectorEntries, entry)
		}
	}

	// Vector leg in parallel with the keyword pass below.
	vectorChan := make(chan vectorResult, 1)
	if len(vectorEntries) > 0 {
		go func() {
			vectorCtx, cancel := context.WithTimeout(ctx, e.vectorTimeout)
			defer cancel()
			scores, err := e.vectorScores(vectorCtx, req.Messages, vectorEntries)
			vectorChan <- vectorResult{scores: scores, err: err}
		}()
	} else {
		vectorChan <- vectorResult{scores: map[string]rankedScore{}}
	}

	keywordMatched := make(map[string]bool, len(filtered))
	for _, entry := range filtered {
		if mode := entry.Activation.Mode; mode != knowledge.ModeKeyword && mode != knowledge.ModeHybrid {
			continue
		}
		window := ScanWindow(req.Messages, entry.Activation)
		keywordMatched[entry.ID] = MatchKeywords(window, entry.Activation)
	}

	vectors := <-vectorChan
	degraded := false
	if vectors.err != nil {
		// Keyword-only degradation: the turn proceeds without the index.
		e.logger.Error("Vector matching failed, degrading to keyword-only",
			"conversation", req.ConversationID, "error", vectors.err)
		vectors.scores = map[string]rankedScore{}
		degraded = true
	}

	var candidates []Candidate
	for _, entry := range filtered {
		matched, reason, score := matchOutcome(entry, keywordMatched, vectors.scores)

		active, err := e.advanceState(ctx, req.ConversationID, entry, matched, req.Turn)
		if err != nil {
			return Result{}, err
		}
		if !active {
			continue
		}
		// A sticky carry-over has no fresh match this turn; it surfaces
		// under its original trigger kind.
		if !matched {
			reason = stickyReason(entry)
		}

		candidate, ok := newCandidate(entry, reason, score, e.logger)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}

	activations := Allocate(candidates, req.Budget, e.logger)

	total := 0
	for _, activation := range activations {
		total += activation.Cost
	}
	e.logger.Info("Turn evaluation complete",
		"conversation", req.ConversationID,
		"bot", req.BotID,
		"turn", req.Turn,
		"evaluated", len(filtered),
		"activated", len(activations),
		"estimated_tokens", total,
		"degraded", degraded)

	return Result{
		Activations:     activations,
		Degraded:        degraded,
		EvaluatedCount:  len(filtered),
		EstimatedTokens: total,
	}, nil
}

// matchOutcome merges the matcher results for one entry.
func matchOutcome(entry knowledge.Entry, keyword map[string]bool, vectors map[string]rankedScore) (bool, MatchReason, float64) {
	switch entry.Activation.Mode {
	case knowledge.ModeConstant:
		return true, ReasonConstant, 0
	case knowledge.ModeKeyword:
		return keyword[entry.ID], ReasonKeyword, 0
	case knowledge.ModeVector:
		score, ok := vectorMatched(vectors, entry)
		return ok, ReasonVector, score
	case knowledge.ModeHybrid:
		// Either rule may fire; a keyword hit is reported as such even
		// when the vector leg also scored.
		if keyword[entry.ID] {
			return true, ReasonKeyword, 0
		}
		score, ok := vectorMatched(vectors, entry)
		return ok, ReasonVector, score
	}
	return false, ReasonKeyword, 0
}

func stickyReason(entry knowledge.Entry) MatchReason {
	switch entry.Activation.Mode {
	case knowledge.ModeConstant:
		return ReasonConstant
	case knowledge.ModeVector:
		return ReasonVector
	default:
		return ReasonKeyword
	}
}

func (e *Engine) advanceState(ctx context.Context, conversationID string, entry knowledge.Entry, matched bool, turn int) (bool, error) {
	current, err := e.states.GetActivationState(ctx, conversationID, entry.ID)
	if err != nil {
		return false, err
	}

	// One probability draw per evaluation, shared with the CAS retry
	// path so the persisted state always agrees with the reported one.
	rollValue := e.roll()
	roll := func() int { return rollValue }

	next, active := advance(current, entry, matched, turn, roll)
	if statesEqual(current, next) {
		// Nothing to persist; most idle entries stay idle every turn.
		return active, nil
	}

	_, err = e.states.UpdateActivationState(ctx, conversationID, entry.ID,
		func(state knowledge.ActivationState) knowledge.ActivationState {
			nextState, _ := advance(state, entry, matched, turn, roll)
			return nextState
		})
	if err != nil {
		return false, err
	}
	return active, nil
}

func statesEqual(a, b knowledge.ActivationState) bool {
	if a.StickyRemaining != b.StickyRemaining || a.CooldownRemaining != b.CooldownRemaining {
		return false
	}
	if (a.LastTriggeredTurn == nil) != (b.LastTriggeredTurn == nil) {
		return false
	}
	if a.LastTriggeredTurn != nil && *a.LastTriggeredTurn != *b.LastTriggeredTurn {
		return false
	}
	return true
}

// EndConversation garbage-collects the conversation's activation state.
func (e *Engine) EndConversation(ctx context.Context, conversationID string) error {
	e.conversationLocks.Delete(conversationID)
	return e.states.DeleteConversationStates(ctx, conversationID)
}

func (e *Engine) lockFor(conversationID string) *sync.Mutex {
	lock, _ := e.conversationLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
