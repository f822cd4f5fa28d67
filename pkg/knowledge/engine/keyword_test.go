package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

func windowOf(texts ...string) []string {
	return texts
}

func TestMatchKeywordsLogicGates(t *testing.T) {
	tests := []struct {
		name    string
		logic   knowledge.KeywordLogic
		keys    []string
		window  []string
		matched bool
	}{
		{"and_any single hit", knowledge.LogicAndAny, []string{"moon"}, windowOf("I saw the moon last night"), true},
		{"and_any miss", knowledge.LogicAndAny, []string{"moon"}, windowOf("I saw the sun"), false},
		{"and_all both present", knowledge.LogicAndAll, []string{"dragon", "castle"}, windowOf("the dragon circles the castle"), true},
		{"and_all one missing", knowledge.LogicAndAll, []string{"dragon", "castle"}, windowOf("the dragon sleeps"), false},
		{"not_all suppressed when all present", knowledge.LogicNotAll, []string{"dragon", "castle"}, windowOf("the dragon circles the castle"), false},
		{"not_all fires when one absent", knowledge.LogicNotAll, []string{"dragon", "castle"}, windowOf("the dragon sleeps"), true},
		{"not_any suppressed by either key", knowledge.LogicNotAny, []string{"dragon", "castle"}, windowOf("the castle gate is shut"), false},
		{"not_any fires on clean window", knowledge.LogicNotAny, []string{"dragon", "castle"}, windowOf("a quiet village morning"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := knowledge.ActivationRule{PrimaryKeys: tt.keys, Logic: tt.logic}
			assert.Equal(t, tt.matched, MatchKeywords(tt.window, rule))
		})
	}
}

func TestMatchKeywordsNoPrimaryKeys(t *testing.T) {
	rule := knowledge.ActivationRule{Logic: knowledge.LogicNotAny}
	assert.False(t, MatchKeywords(windowOf("anything at all"), rule))
}

func TestMatchKeywordsSecondaryKeysNarrow(t *testing.T) {
	rule := knowledge.ActivationRule{
		PrimaryKeys:   []string{"sword"},
		SecondaryKeys: []string{"forge", "anvil"},
		Logic:         knowledge.LogicAndAny,
	}
	assert.True(t, MatchKeywords(windowOf("the sword rests on the anvil"), rule))
	assert.False(t, MatchKeywords(windowOf("the sword hangs on the wall"), rule))
}

func TestMatchKeywordsToggles(t *testing.T) {
	caseSensitive := knowledge.ActivationRule{PrimaryKeys: []string{"Moon"}, CaseSensitive: true}
	assert.False(t, MatchKeywords(windowOf("the moon rises"), caseSensitive))
	assert.True(t, MatchKeywords(windowOf("the Moon rises"), caseSensitive))

	wholeWords := knowledge.ActivationRule{PrimaryKeys: []string{"cat"}, MatchWholeWords: true}
	assert.False(t, MatchKeywords(windowOf("concatenate the strings"), wholeWords))
	assert.True(t, MatchKeywords(windowOf("the cat sleeps"), wholeWords))

	regex := knowledge.ActivationRule{PrimaryKeys: []string{`drag[oa]n`}, UseRegex: true}
	assert.True(t, MatchKeywords(windowOf("a DRAGAN appears"), regex))

	// An invalid pattern degrades to literal matching instead of
	// disabling the entry.
	badRegex := knowledge.ActivationRule{PrimaryKeys: []string{`dragon(`}, UseRegex: true}
	assert.True(t, MatchKeywords(windowOf("beware the dragon("), badRegex))
	assert.False(t, MatchKeywords(windowOf("beware the dragon"), badRegex))
}

func TestScanWindowDepthAndRoles(t *testing.T) {
	messages := []knowledge.Message{
		{Role: knowledge.RoleUser, Content: "oldest"},
		{Role: knowledge.RoleSystem, Content: "system note"},
		{Role: knowledge.RoleUser, Content: "question"},
		{Role: knowledge.RoleAssistant, Content: "answer"},
	}

	rule := knowledge.ActivationRule{ScanDepth: 3, MatchInUser: true, MatchInBot: true}
	assert.Equal(t, []string{"question", "answer"}, ScanWindow(messages, rule))

	systemOnly := knowledge.ActivationRule{ScanDepth: 4, MatchInSystem: true}
	assert.Equal(t, []string{"system note"}, ScanWindow(messages, systemOnly))

	deep := knowledge.ActivationRule{ScanDepth: 10, MatchInUser: true}
	assert.Equal(t, []string{"oldest", "question"}, ScanWindow(messages, deep))
}
