package knowledge

import "time"

// ActivationMode decides which matcher (if any) can trigger an entry.
type ActivationMode string

const (
	ModeKeyword  ActivationMode = "keyword"
	ModeVector   ActivationMode = "vector"
	ModeHybrid   ActivationMode = "hybrid"
	ModeConstant ActivationMode = "constant"
	ModeDisabled ActivationMode = "disabled"
)

// KeywordLogic is the gate applied to an entry's primary keys.
type KeywordLogic string

const (
	LogicAndAny KeywordLogic = "and_any"
	LogicAndAll KeywordLogic = "and_all"
	LogicNotAll KeywordLogic = "not_all"
	LogicNotAny KeywordLogic = "not_any"
)

// Position is the placement bucket of an activated entry inside the prompt.
type Position string

const (
	PositionSystemTop       Position = "system_top"
	PositionBeforeCharacter Position = "before_character"
	PositionAfterCharacter  Position = "after_character"
	PositionBeforeExamples  Position = "before_examples"
	PositionAfterExamples   Position = "after_examples"
	PositionAtDepth         Position = "at_depth"
	PositionSystemBottom    Position = "system_bottom"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ActivationRule controls when an entry fires.
type ActivationRule struct {
	Mode                      ActivationMode `json:"mode"`
	PrimaryKeys               []string       `json:"primary_keys"`
	SecondaryKeys             []string       `json:"secondary_keys"`
	Logic                     KeywordLogic   `json:"logic"`
	CaseSensitive             bool           `json:"case_sensitive"`
	MatchWholeWords           bool           `json:"match_whole_words"`
	UseRegex                  bool           `json:"use_regex"`
	VectorSimilarityThreshold float64        `json:"vector_similarity_threshold"`
	MaxVectorResults          int            `json:"max_vector_results"`
	ScanDepth                 int            `json:"scan_depth"`
	MatchInUser               bool           `json:"match_in_user"`
	MatchInBot                bool           `json:"match_in_bot"`
	MatchInSystem             bool           `json:"match_in_system"`
	UseProbability            bool           `json:"use_probability"`
	Probability               int            `json:"probability"`
}

// PositioningRule controls where an activated entry lands in the prompt.
// Depth is only meaningful for PositionAtDepth.
type PositioningRule struct {
	Position Position `json:"position"`
	Depth    int      `json:"depth"`
	Role     Role     `json:"role"`
	Order    int      `json:"order"`
}

// TimingRule is the advanced activation group: sticky turns after a
// trigger, cooldown turns before re-trigger, and the earliest turn index
// at which the entry may ever trigger.
type TimingRule struct {
	Sticky   int `json:"sticky"`
	Cooldown int `json:"cooldown"`
	Delay    int `json:"delay"`
}

// IdentityFilter is an allow/exclude pair over bot or persona ids.
// Exclude takes precedence over allow.
type IdentityFilter struct {
	Allow   []string `json:"allow"`
	Exclude []string `json:"exclude"`
}

type FilterRule struct {
	Bots     IdentityFilter `json:"bots"`
	Personas IdentityFilter `json:"personas"`
}

// BudgetRule caps how many tokens a single entry may consume when injected.
type BudgetRule struct {
	MaxTokens    int  `json:"max_tokens"`
	IgnoreBudget bool `json:"ignore_budget"`
}

// Entry is a single knowledge (lore) entry.
type Entry struct {
	ID           string          `json:"id"`
	CollectionID string          `json:"collection_id"`
	Name         string          `json:"name"`
	Content      string          `json:"content"`
	Tags         []string        `json:"tags"`
	Activation   ActivationRule  `json:"activation"`
	Positioning  PositioningRule `json:"positioning"`
	Timing       TimingRule      `json:"timing"`
	Filtering    FilterRule      `json:"filtering"`
	Budget       BudgetRule      `json:"budget"`
	IsVectorized bool            `json:"is_vectorized"`
	ChunkCount   int             `json:"chunk_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Message is one element of the scan window, newest last.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Budget is the per-turn token budget configuration.
type Budget struct {
	MaxContextTokens        int     `json:"max_context_tokens"`
	BudgetPercentage        float64 `json:"budget_percentage"`
	BudgetCapTokens         int     `json:"budget_cap_tokens"`
	ReservedForConversation int     `json:"reserved_for_conversation"`
	MinActivations          int     `json:"min_activations"`
}

// Available computes the token count usable for knowledge this turn,
// clamped at zero.
func (b Budget) Available() int {
	fromPercentage := int(float64(b.MaxContextTokens) * b.BudgetPercentage)
	available := min(b.BudgetCapTokens, fromPercentage)
	available -= b.ReservedForConversation
	if available < 0 {
		return 0
	}
	return available
}

// Chunk is one deterministic segment of an entry's content.
type Chunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	TotalChunks int    `json:"total_chunks"`
}

// VectorRecord mirrors one persisted index vector for audit and repair.
type VectorRecord struct {
	VectorID    string            `json:"vector_id" db:"vector_id"`
	EntryID     string            `json:"entry_id" db:"entry_id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	ChunkIndex  int               `json:"chunk_index" db:"chunk_index"`
	TotalChunks int               `json:"total_chunks" db:"total_chunks"`
	Metadata    map[string]string `json:"metadata"`
}

// EstimateTokens approximates the token cost of text at four characters
// per token, rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// ActivationState is the mutable per-(conversation, entry) counter set
// behind sticky/cooldown/delay. Owned by the conversation's lifetime.
type ActivationState struct {
	ConversationID    string `db:"conversation_id"`
	EntryID           string `db:"entry_id"`
	StickyRemaining   int    `db:"sticky_remaining"`
	CooldownRemaining int    `db:"cooldown_remaining"`
	LastTriggeredTurn *int64 `db:"last_triggered_turn"`
	Version           int64  `db:"version"`
}
