package prompt

import (
	"sort"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/engine"
)

// Fragment is one activated entry's text plus its placement rule.
type Fragment struct {
	Content string
	Order   int
	Role    knowledge.Role
	Depth   int
}

// Buckets holds the turn's fragments grouped by placement, each bucket
// sorted ascending by order.
type Buckets map[knowledge.Position][]Fragment

// Arrange groups activations into placement buckets.
func Arrange(activations []engine.Activation) Buckets {
	buckets := make(Buckets)
	for _, activation := range activations {
		positioning := activation.Entry.Positioning
		buckets[positioning.Position] = append(buckets[positioning.Position], Fragment{
			Content: activation.Content,
			Order:   positioning.Order,
			Role:    positioning.Role,
			Depth:   positioning.Depth,
		})
	}
	for position := range buckets {
		fragments := buckets[position]
		sort.SliceStable(fragments, func(i, j int) bool { return fragments[i].Order < fragments[j].Order })
	}
	return buckets
}

// SpliceAtDepth inserts at-depth fragments into the message sequence,
// counted from the end: depth 0 appends after the last message, depth N
// inserts before the last N messages. Depths past the start clamp to the
// front.
func SpliceAtDepth(messages []knowledge.Message, fragments []Fragment) []knowledge.Message {
	if len(fragments) == 0 {
		return messages
	}

	// Deeper fragments first so later splices do not shift their anchors.
	ordered := make([]Fragment, len(fragments))
	copy(ordered, fragments)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Depth != ordered[j].Depth {
			return ordered[i].Depth > ordered[j].Depth
		}
		return ordered[i].Order < ordered[j].Order
	})

	result := make([]knowledge.Message, len(messages))
	copy(result, messages)
	for _, fragment := range ordered {
		index := len(result) - fragment.Depth
		if index < 0 {
			index = 0
		}
		if index > len(result) {
			index = len(result)
		}
		message := knowledge.Message{Role: fragment.Role, Content: fragment.Content}
		result = append(result[:index], append([]knowledge.Message{message}, result[index:]...)...)
	}
	return result
}
