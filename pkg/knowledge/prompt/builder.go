package prompt

import (
	"strings"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/engine"
)

// BotProfile is the bot-derived text the system prompt is assembled
// around.
type BotProfile struct {
	Name           string
	Identity       string
	Personality    string
	Behavior       string
	SpeechExamples []string
}

// PersonaProfile is the user-persona text appended near the end of the
// system prompt.
type PersonaProfile struct {
	Name    string
	Context string
}

type BuildInput struct {
	Bot         BotProfile
	Persona     PersonaProfile
	Activations []engine.Activation
	History     []knowledge.Message
}

// BuildResult is the assembled prompt plus observability counts.
type BuildResult struct {
	SystemPrompt    string
	Messages        []knowledge.Message
	ActivatedCount  int
	EstimatedTokens int
}

// Build deterministically assembles the system prompt and splices
// at-depth fragments into the history. Identical input always produces
// identical output.
func Build(input BuildInput) BuildResult {
	buckets := Arrange(input.Activations)

	var sections []string
	appendSection := func(text string) {
		if text = strings.TrimSpace(text); text != "" {
			sections = append(sections, text)
		}
	}
	appendBucket := func(position knowledge.Position) {
		for _, fragment := range buckets[position] {
			appendSection(fragment.Content)
		}
	}

	appendSection(baseIdentity(input.Bot, input.Persona))
	appendBucket(knowledge.PositionSystemTop)
	appendBucket(knowledge.PositionBeforeCharacter)
	appendSection(input.Bot.Identity)
	appendSection(input.Bot.Personality)
	appendSection(input.Bot.Behavior)
	appendBucket(knowledge.PositionAfterCharacter)
	appendBucket(knowledge.PositionBeforeExamples)
	appendSection(speechExamples(input.Bot))
	appendBucket(knowledge.PositionAfterExamples)
	appendSection(personaContext(input.Persona))
	appendBucket(knowledge.PositionSystemBottom)

	systemPrompt := strings.Join(sections, "\n\n")
	messages := SpliceAtDepth(input.History, buckets[knowledge.PositionAtDepth])

	return BuildResult{
		SystemPrompt:    systemPrompt,
		Messages:        messages,
		ActivatedCount:  len(input.Activations),
		EstimatedTokens: knowledge.EstimateTokens(systemPrompt),
	}
}

func baseIdentity(bot BotProfile, persona PersonaProfile) string {
	if bot.Name == "" {
		return ""
	}
	if persona.Name != "" {
		return "You are " + bot.Name + ", in a conversation with " + persona.Name + "."
	}
	return "You are " + bot.Name + "."
}

func speechExamples(bot BotProfile) string {
	if len(bot.SpeechExamples) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("Example messages:")
	for _, example := range bot.SpeechExamples {
		builder.WriteString("\n")
		builder.WriteString(strings.TrimSpace(example))
	}
	return builder.String()
}

func personaContext(persona PersonaProfile) string {
	if persona.Context == "" {
		return ""
	}
	if persona.Name != "" {
		return "About " + persona.Name + ": " + persona.Context
	}
	return persona.Context
}
