package engine

import (
	"github.com/samber/lo"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// passesFilter applies the entry's bot/persona allow and exclude lists.
// An exclusion drops the entry regardless of any allow-list.
func passesFilter(entry knowledge.Entry, botID, personaID string) bool {
	return passesIdentity(entry.Filtering.Bots, botID) &&
		passesIdentity(entry.Filtering.Personas, personaID)
}

func passesIdentity(filter knowledge.IdentityFilter, id string) bool {
	if lo.Contains(filter.Exclude, id) {
		return false
	}
	if len(filter.Allow) > 0 && !lo.Contains(filter.Allow, id) {
		return false
	}
	return true
}
