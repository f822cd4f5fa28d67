package interchange

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

const (
	cardSpec        = "chara_card_v2"
	cardSpecVersion = "2.0"
)

// FlatCard is the legacy single-level card format.
type FlatCard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
	Scenario    string `json:"scenario"`
	FirstMes    string `json:"first_mes"`
	MesExample  string `json:"mes_example"`
}

// CardExtras carries engine-side bot fields the card convention has no
// native slot for. They survive export/import through the vendor
// extension block.
type CardExtras struct {
	Age               int               `json:"age,omitempty"`
	PersonalityTraits []string          `json:"personality_traits,omitempty"`
	Behavior          map[string]string `json:"behavior,omitempty"`
}

// Card is the engine-side view of an imported or exportable character
// card, flat or wrapped.
type Card struct {
	FlatCard
	SystemPrompt string
	CreatorNotes string
	Tags         []string
	Entries      []knowledge.Entry
	Extras       *CardExtras
}

type wrappedCardFile struct {
	Spec        string    `json:"spec"`
	SpecVersion string    `json:"spec_version"`
	Data        *cardData `json:"data"`
}

type cardData struct {
	FlatCard
	SystemPrompt  string                     `json:"system_prompt,omitempty"`
	CreatorNotes  string                     `json:"creator_notes,omitempty"`
	Tags          []string                   `json:"tags,omitempty"`
	CharacterBook *characterBook             `json:"character_book,omitempty"`
	Extensions    map[string]json.RawMessage `json:"extensions,omitempty"`
}

type characterBook struct {
	Name    string          `json:"name,omitempty"`
	Entries []cardBookEntry `json:"entries"`
}

// cardBookEntry is the wrapped format's embedded-lorebook entry. Its
// native fields are a lossy subset of the engine schema; the vendor
// extension block restores the rest on import.
type cardBookEntry struct {
	Keys           StringList                 `json:"keys"`
	Content        *string                    `json:"content"`
	Enabled        bool                       `json:"enabled"`
	InsertionOrder int                        `json:"insertion_order"`
	Position       string                     `json:"position,omitempty"`
	Constant       bool                       `json:"constant"`
	Extensions     map[string]json.RawMessage `json:"extensions,omitempty"`
}

// ImportCard parses a character card in either the flat legacy format or
// the wrapped format with an embedded lorebook.
func ImportCard(data []byte, collectionID string, logger *log.Logger) (*Card, error) {
	var wrapped wrappedCardFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
	}
	if wrapped.Data != nil {
		return cardFromWrapped(wrapped.Data, collectionID, logger), nil
	}

	var flat FlatCard
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
	}
	if flat.Name == "" && flat.Description == "" {
		return nil, fmt.Errorf("%w: neither wrapped card data nor flat card fields present", ErrUnrecognizedSchema)
	}
	return &Card{FlatCard: flat}, nil
}

func cardFromWrapped(data *cardData, collectionID string, logger *log.Logger) *Card {
	card := &Card{
		FlatCard:     data.FlatCard,
		SystemPrompt: data.SystemPrompt,
		CreatorNotes: data.CreatorNotes,
		Tags:         data.Tags,
	}
	if ext, ok := data.Extensions[vendorExtensionKey]; ok {
		var extras CardExtras
		if err := json.Unmarshal(ext, &extras); err == nil {
			card.Extras = &extras
		}
	}
	if data.CharacterBook == nil {
		return card
	}
	for i, raw := range data.CharacterBook.Entries {
		if raw.Content == nil {
			logger.Warn("skipping card book entry without content", "index", i)
			continue
		}
		card.Entries = append(card.Entries, entryFromCardBook(i, raw, collectionID))
	}
	return card
}

func entryFromCardBook(index int, raw cardBookEntry, collectionID string) knowledge.Entry {
	mode := knowledge.ModeKeyword
	switch {
	case !raw.Enabled:
		mode = knowledge.ModeDisabled
	case raw.Constant:
		mode = knowledge.ModeConstant
	}
	position := knowledge.PositionAfterCharacter
	if raw.Position == "before_char" {
		position = knowledge.PositionBeforeCharacter
	}
	entry := knowledge.Entry{
		ID:           fmt.Sprintf("book-%d", index),
		CollectionID: collectionID,
		Content:      *raw.Content,
		Activation: knowledge.ActivationRule{
			Mode:        mode,
			PrimaryKeys: raw.Keys,
		},
		Positioning: knowledge.PositioningRule{
			Position: position,
			Order:    raw.InsertionOrder,
		},
	}
	if ext, ok := raw.Extensions[vendorExtensionKey]; ok {
		applyVendorExt(&entry, ext)
	}
	return entry.Normalized()
}

// ExportCard renders the wrapped format. Each book entry carries its full
// engine-native rule groups in the vendor extension block so a later
// import recovers them exactly.
func ExportCard(card *Card) ([]byte, error) {
	data := &cardData{
		FlatCard:     card.FlatCard,
		SystemPrompt: card.SystemPrompt,
		CreatorNotes: card.CreatorNotes,
		Tags:         card.Tags,
	}
	if card.Extras != nil {
		extRaw, err := json.Marshal(card.Extras)
		if err != nil {
			return nil, fmt.Errorf("marshaling card extras: %w", err)
		}
		data.Extensions = map[string]json.RawMessage{vendorExtensionKey: extRaw}
	}
	if len(card.Entries) > 0 {
		book := &characterBook{Name: card.Name, Entries: make([]cardBookEntry, 0, len(card.Entries))}
		for _, entry := range card.Entries {
			raw, err := cardBookFromEntry(entry)
			if err != nil {
				return nil, err
			}
			book.Entries = append(book.Entries, raw)
		}
		data.CharacterBook = book
	}
	return json.MarshalIndent(wrappedCardFile{Spec: cardSpec, SpecVersion: cardSpecVersion, Data: data}, "", "  ")
}

func cardBookFromEntry(entry knowledge.Entry) (cardBookEntry, error) {
	entry = entry.Normalized()
	content := entry.Content
	activation := entry.Activation
	positioning := entry.Positioning
	timing := entry.Timing
	filtering := entry.Filtering
	budget := entry.Budget

	position := "after_char"
	if positioning.Position == knowledge.PositionBeforeCharacter {
		position = "before_char"
	}
	raw := cardBookEntry{
		Keys:           StringList(activation.PrimaryKeys),
		Content:        &content,
		Enabled:        activation.Mode != knowledge.ModeDisabled,
		InsertionOrder: positioning.Order,
		Position:       position,
		Constant:       activation.Mode == knowledge.ModeConstant,
	}
	ext := vendorEntryExt{
		Name:        entry.Name,
		Tags:        entry.Tags,
		Activation:  &activation,
		Positioning: &positioning,
		Timing:      &timing,
		Filtering:   &filtering,
		Budget:      &budget,
	}
	extRaw, err := json.Marshal(ext)
	if err != nil {
		return cardBookEntry{}, fmt.Errorf("marshaling book entry extension for %s: %w", entry.ID, err)
	}
	raw.Extensions = map[string]json.RawMessage{vendorExtensionKey: extRaw}
	return raw, nil
}
