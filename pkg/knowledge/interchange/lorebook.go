package interchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// StringList accepts either a JSON array of strings or a single
// comma-separated string, normalizing both to a slice.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var asSlice []string
	if err := json.Unmarshal(data, &asSlice); err == nil {
		*l = asSlice
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	parts := strings.Split(asString, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*l = out
	return nil
}

// bookEntry is the standalone lorebook convention's per-entry shape.
// Content is a pointer so a missing field is distinguishable from an
// empty one.
type bookEntry struct {
	UID             *int                       `json:"uid,omitempty"`
	Key             StringList                 `json:"key"`
	KeySecondary    StringList                 `json:"keysecondary,omitempty"`
	Comment         string                     `json:"comment,omitempty"`
	Content         *string                    `json:"content"`
	Constant        bool                       `json:"constant"`
	Vectorized      bool                       `json:"vectorized"`
	Selective       bool                       `json:"selective"`
	SelectiveLogic  int                        `json:"selectiveLogic"`
	Order           int                        `json:"order"`
	Position        int                        `json:"position"`
	Disable         bool                       `json:"disable"`
	Probability     int                        `json:"probability"`
	UseProbability  bool                       `json:"useProbability"`
	Sticky          int                        `json:"sticky"`
	Cooldown        int                        `json:"cooldown"`
	Delay           int                        `json:"delay"`
	Role            int                        `json:"role"`
	Depth           int                        `json:"depth"`
	ScanDepth       int                        `json:"scanDepth"`
	CaseSensitive   bool                       `json:"caseSensitive"`
	MatchWholeWords bool                       `json:"matchWholeWords"`
	UseRegex        bool                       `json:"useRegex,omitempty"`
	CharacterFilter *bookFilter                `json:"characterFilter,omitempty"`
	Extensions      map[string]json.RawMessage `json:"extensions,omitempty"`
}

type bookFilter struct {
	IsExclude bool       `json:"isExclude"`
	Names     StringList `json:"names"`
	Tags      StringList `json:"tags"`
}

// vendorEntryExt is the lossless round-trip block: the engine-native rule
// groups the external format cannot hold exactly.
type vendorEntryExt struct {
	Name        string                     `json:"name,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
	Activation  *knowledge.ActivationRule  `json:"activation,omitempty"`
	Positioning *knowledge.PositioningRule `json:"positioning,omitempty"`
	Timing      *knowledge.TimingRule      `json:"timing,omitempty"`
	Filtering   *knowledge.FilterRule      `json:"filtering,omitempty"`
	Budget      *knowledge.BudgetRule      `json:"budget,omitempty"`
}

type lorebookFile struct {
	Entries map[string]json.RawMessage `json:"entries"`
}

// ImportLorebook parses a standalone lorebook into engine entries.
// Entries missing a content string are skipped with a warning; any other
// per-field defect defaults field-by-field via normalization. A book with
// no entries object at all is an unrecognized schema.
func ImportLorebook(data []byte, collectionID string, logger *log.Logger) ([]knowledge.Entry, error) {
	var file lorebookFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
	}
	if file.Entries == nil {
		return nil, fmt.Errorf("%w: missing entries object", ErrUnrecognizedSchema)
	}

	ids := make([]string, 0, len(file.Entries))
	for id := range file.Entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})

	entries := make([]knowledge.Entry, 0, len(ids))
	for _, id := range ids {
		var raw bookEntry
		if err := json.Unmarshal(file.Entries[id], &raw); err != nil {
			logger.Warn("skipping unparseable lorebook entry", "id", id, "error", err)
			continue
		}
		if raw.Content == nil {
			logger.Warn("skipping lorebook entry without content", "id", id)
			continue
		}
		entries = append(entries, entryFromBook(id, raw, collectionID))
	}
	return entries, nil
}

func entryFromBook(id string, raw bookEntry, collectionID string) knowledge.Entry {
	entry := knowledge.Entry{
		ID:           id,
		CollectionID: collectionID,
		Name:         raw.Comment,
		Content:      *raw.Content,
		Activation: knowledge.ActivationRule{
			Mode:            deriveMode(raw),
			PrimaryKeys:     raw.Key,
			Logic:           LogicFromCode(raw.SelectiveLogic),
			CaseSensitive:   raw.CaseSensitive,
			MatchWholeWords: raw.MatchWholeWords,
			UseRegex:        raw.UseRegex,
			ScanDepth:       raw.ScanDepth,
			UseProbability:  raw.UseProbability,
			Probability:     raw.Probability,
		},
		Positioning: knowledge.PositioningRule{
			Position: PositionFromCode(raw.Position),
			Depth:    raw.Depth,
			Role:     RoleFromCode(raw.Role),
			Order:    raw.Order,
		},
		Timing: knowledge.TimingRule{
			Sticky:   raw.Sticky,
			Cooldown: raw.Cooldown,
			Delay:    raw.Delay,
		},
	}
	if raw.Selective {
		entry.Activation.SecondaryKeys = raw.KeySecondary
	}
	if raw.CharacterFilter != nil {
		if raw.CharacterFilter.IsExclude {
			entry.Filtering.Bots.Exclude = raw.CharacterFilter.Names
		} else {
			entry.Filtering.Bots.Allow = raw.CharacterFilter.Names
		}
		entry.Tags = raw.CharacterFilter.Tags
	}
	if ext, ok := raw.Extensions[vendorExtensionKey]; ok {
		applyVendorExt(&entry, ext)
	}
	return entry.Normalized()
}

// deriveMode resolves the external flag soup into one activation mode:
// disable wins, then constant, then keys/vectorized decide between
// keyword, vector, and hybrid.
func deriveMode(raw bookEntry) knowledge.ActivationMode {
	switch {
	case raw.Disable:
		return knowledge.ModeDisabled
	case raw.Constant:
		return knowledge.ModeConstant
	case raw.Vectorized && len(raw.Key) > 0:
		return knowledge.ModeHybrid
	case raw.Vectorized:
		return knowledge.ModeVector
	default:
		return knowledge.ModeKeyword
	}
}

// applyVendorExt overlays the round-trip block on a decoded entry. The
// block is authoritative for whichever rule groups it carries.
func applyVendorExt(entry *knowledge.Entry, raw json.RawMessage) {
	var ext vendorEntryExt
	if err := json.Unmarshal(raw, &ext); err != nil {
		return
	}
	if ext.Name != "" {
		entry.Name = ext.Name
	}
	if len(ext.Tags) > 0 {
		entry.Tags = ext.Tags
	}
	if ext.Activation != nil {
		entry.Activation = *ext.Activation
	}
	if ext.Positioning != nil {
		entry.Positioning = *ext.Positioning
	}
	if ext.Timing != nil {
		entry.Timing = *ext.Timing
	}
	if ext.Filtering != nil {
		entry.Filtering = *ext.Filtering
	}
	if ext.Budget != nil {
		entry.Budget = *ext.Budget
	}
}

// ExportLorebook renders entries in the standalone convention, carrying
// the engine-native rule groups in each entry's vendor extension block.
func ExportLorebook(entries []knowledge.Entry) ([]byte, error) {
	out := lorebookFile{Entries: make(map[string]json.RawMessage, len(entries))}
	for i, entry := range entries {
		raw, err := json.Marshal(bookFromEntry(i, entry))
		if err != nil {
			return nil, fmt.Errorf("marshaling lorebook entry %s: %w", entry.ID, err)
		}
		out.Entries[strconv.Itoa(i)] = raw
	}
	return json.MarshalIndent(out, "", "  ")
}

func bookFromEntry(uid int, entry knowledge.Entry) bookEntry {
	entry = entry.Normalized()
	content := entry.Content
	activation := entry.Activation
	positioning := entry.Positioning
	timing := entry.Timing
	filtering := entry.Filtering
	budget := entry.Budget

	raw := bookEntry{
		UID:             &uid,
		Key:             StringList(activation.PrimaryKeys),
		KeySecondary:    StringList(activation.SecondaryKeys),
		Comment:         entry.Name,
		Content:         &content,
		Constant:        activation.Mode == knowledge.ModeConstant,
		Vectorized:      activation.Mode == knowledge.ModeVector || activation.Mode == knowledge.ModeHybrid,
		Selective:       len(activation.SecondaryKeys) > 0,
		SelectiveLogic:  CodeFromLogic(activation.Logic),
		Order:           positioning.Order,
		Position:        CodeFromPosition(positioning.Position),
		Disable:         activation.Mode == knowledge.ModeDisabled,
		Probability:     activation.Probability,
		UseProbability:  activation.UseProbability,
		Sticky:          timing.Sticky,
		Cooldown:        timing.Cooldown,
		Delay:           timing.Delay,
		Role:            CodeFromRole(positioning.Role),
		Depth:           positioning.Depth,
		ScanDepth:       activation.ScanDepth,
		CaseSensitive:   activation.CaseSensitive,
		MatchWholeWords: activation.MatchWholeWords,
		UseRegex:        activation.UseRegex,
	}
	if len(filtering.Bots.Exclude) > 0 {
		raw.CharacterFilter = &bookFilter{IsExclude: true, Names: StringList(filtering.Bots.Exclude)}
	} else if len(filtering.Bots.Allow) > 0 {
		raw.CharacterFilter = &bookFilter{Names: StringList(filtering.Bots.Allow)}
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
	if err == nil {
		raw.Extensions = map[string]json.RawMessage{vendorExtensionKey: extRaw}
	}
	return raw
}
