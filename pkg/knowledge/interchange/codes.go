package interchange

import "github.com/glimmer-ai/lorekeeper/pkg/knowledge"

// The external lorebook convention encodes position, role, and keyword
// logic as small integers. These tables are the stable translation
// boundary; unknown codes fall back to documented defaults instead of
// erroring.

// PositionFromCode maps the numeric position code to a placement bucket.
// Unknown codes default to after_character.
func PositionFromCode(code int) knowledge.Position {
	switch code {
	case 0:
		return knowledge.PositionBeforeCharacter
	case 1:
		return knowledge.PositionAfterCharacter
	case 2:
		return knowledge.PositionBeforeExamples
	case 3:
		return knowledge.PositionAfterExamples
	case 4:
		return knowledge.PositionAtDepth
	}
	return knowledge.PositionAfterCharacter
}

// CodeFromPosition is the export direction. The system_top and
// system_bottom buckets have no native slot in the external format; they
// export as the nearest message-relative code and recover exactly through
// the vendor extension block.
func CodeFromPosition(position knowledge.Position) int {
	switch position {
	case knowledge.PositionSystemTop, knowledge.PositionBeforeCharacter:
		return 0
	case knowledge.PositionAfterCharacter, knowledge.PositionSystemBottom:
		return 1
	case knowledge.PositionBeforeExamples:
		return 2
	case knowledge.PositionAfterExamples:
		return 3
	case knowledge.PositionAtDepth:
		return 4
	}
	return 1
}

// RoleFromCode maps 0/1/2 to system/user/assistant, defaulting to system.
func RoleFromCode(code int) knowledge.Role {
	switch code {
	case 1:
		return knowledge.RoleUser
	case 2:
		return knowledge.RoleAssistant
	}
	return knowledge.RoleSystem
}

func CodeFromRole(role knowledge.Role) int {
	switch role {
	case knowledge.RoleUser:
		return 1
	case knowledge.RoleAssistant:
		return 2
	}
	return 0
}

// LogicFromCode maps the selective-logic code, defaulting to AND_ANY.
func LogicFromCode(code int) knowledge.KeywordLogic {
	switch code {
	case 1:
		return knowledge.LogicAndAll
	case 2:
		return knowledge.LogicNotAll
	case 3:
		return knowledge.LogicNotAny
	}
	return knowledge.LogicAndAny
}

func CodeFromLogic(logic knowledge.KeywordLogic) int {
	switch logic {
	case knowledge.LogicAndAll:
		return 1
	case knowledge.LogicNotAll:
		return 2
	case knowledge.LogicNotAny:
		return 3
	}
	return 0
}
