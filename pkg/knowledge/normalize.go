package knowledge

// Defaults applied field-by-field when an entry arrives with missing or
// out-of-range rule values. A bad field never rejects the whole entry.
const (
	DefaultScanDepth           = 4
	DefaultSimilarityThreshold = 0.35
	DefaultMaxVectorResults    = 5
	DefaultOrder               = 100
	DefaultProbability         = 100
)

func normalizeMode(mode ActivationMode) ActivationMode {
	switch mode {
	case ModeKeyword, ModeVector, ModeHybrid, ModeConstant, ModeDisabled:
		return mode
	}
	return ModeKeyword
}

func normalizeLogic(logic KeywordLogic) KeywordLogic {
	switch logic {
	case LogicAndAny, LogicAndAll, LogicNotAll, LogicNotAny:
		return logic
	}
	return LogicAndAny
}

func normalizePosition(position Position) Position {
	switch position {
	case PositionSystemTop, PositionBeforeCharacter, PositionAfterCharacter,
		PositionBeforeExamples, PositionAfterExamples, PositionAtDepth, PositionSystemBottom:
		return position
	}
	return PositionAfterCharacter
}

func normalizeRole(role Role) Role {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return role
	}
	return RoleSystem
}

func (r ActivationRule) normalized() ActivationRule {
	r.Mode = normalizeMode(r.Mode)
	r.Logic = normalizeLogic(r.Logic)
	if r.ScanDepth <= 0 {
		r.ScanDepth = DefaultScanDepth
	}
	if r.VectorSimilarityThreshold <= 0 || r.VectorSimilarityThreshold > 1 {
		r.VectorSimilarityThreshold = DefaultSimilarityThreshold
	}
	if r.MaxVectorResults <= 0 {
		r.MaxVectorResults = DefaultMaxVectorResults
	}
	if !r.MatchInUser && !r.MatchInBot && !r.MatchInSystem {
		r.MatchInUser = true
		r.MatchInBot = true
	}
	if r.Probability <= 0 || r.Probability > 100 {
		r.Probability = DefaultProbability
	}
	return r
}

func (r PositioningRule) normalized() PositioningRule {
	r.Position = normalizePosition(r.Position)
	r.Role = normalizeRole(r.Role)
	if r.Depth < 0 {
		r.Depth = 0
	}
	if r.Order <= 0 {
		r.Order = DefaultOrder
	}
	return r
}

func (r TimingRule) normalized() TimingRule {
	if r.Sticky < 0 {
		r.Sticky = 0
	}
	if r.Cooldown < 0 {
		r.Cooldown = 0
	}
	if r.Delay < 0 {
		r.Delay = 0
	}
	return r
}

func (r BudgetRule) normalized() BudgetRule {
	if r.MaxTokens < 0 {
		r.MaxTokens = 0
	}
	return r
}

// Normalized returns a copy of the entry with every rule field defaulted
// into its documented range.
func (e Entry) Normalized() Entry {
	e.Activation = e.Activation.normalized()
	e.Positioning = e.Positioning.normalized()
	e.Timing = e.Timing.normalized()
	e.Budget = e.Budget.normalized()
	return e
}
