package engine

import (
	"regexp"
	"strings"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// ScanWindow returns the message texts the rule is allowed to inspect:
// the last ScanDepth messages, restricted to the enabled roles.
func ScanWindow(messages []knowledge.Message, rule knowledge.ActivationRule) []string {
	start := len(messages) - rule.ScanDepth
	if start < 0 {
		start = 0
	}

	var window []string
	for _, message := range messages[start:] {
		switch message.Role {
		case knowledge.RoleUser:
			if !rule.MatchInUser {
				continue
			}
		case knowledge.RoleAssistant:
			if !rule.MatchInBot {
				continue
			}
		case knowledge.RoleSystem:
			if !rule.MatchInSystem {
				continue
			}
		}
		window = append(window, message.Content)
	}
	return window
}

// MatchKeywords evaluates the keyword rule against the scan window.
// An entry with no primary keys never keyword-matches.
func MatchKeywords(window []string, rule knowledge.ActivationRule) bool {
	if len(rule.PrimaryKeys) == 0 {
		return false
	}
	text := strings.Join(window, "\n")

	anyPrimary := false
	allPrimary := true
	for _, key := range rule.PrimaryKeys {
		if matchKey(text, key, rule) {
			anyPrimary = true
		} else {
			allPrimary = false
		}
	}

	var matched bool
	switch rule.Logic {
	case knowledge.LogicAndAll:
		matched = allPrimary
	case knowledge.LogicNotAll:
		matched = !allPrimary
	case knowledge.LogicNotAny:
		matched = !anyPrimary
	default: // LogicAndAny
		matched = anyPrimary
	}

	// Secondary keys narrow the primary result, never substitute for it:
	// at least one of them must also be present.
	if matched && len(rule.SecondaryKeys) > 0 {
		anySecondary := false
		for _, key := range rule.SecondaryKeys {
			if matchKey(text, key, rule) {
				anySecondary = true
				break
			}
		}
		matched = anySecondary
	}
	return matched
}

// matchKey checks a single key against the window text honoring the
// case/whole-word/regex toggles independently.
func matchKey(text, key string, rule knowledge.ActivationRule) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	if rule.UseRegex {
		pattern := key
		if !rule.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// An unparseable pattern degrades to a literal key rather
			// than disabling the entry.
			return matchLiteral(text, key, rule)
		}
		return re.MatchString(text)
	}
	return matchLiteral(text, key, rule)
}

func matchLiteral(text, key string, rule knowledge.ActivationRule) bool {
	if rule.MatchWholeWords {
		pattern := `\b` + regexp.QuoteMeta(key) + `\b`
		if !rule.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}

	if rule.CaseSensitive {
		return strings.Contains(text, key)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(key))
}
