// Package interchange translates between the engine's native entry schema
// and the external lorebook / character-card JSON convention, including
// the PNG-embedded card container.
package interchange

import "errors"

var (
	// ErrNotContainer means the input could not be parsed as the expected
	// container at all (bad JSON, bad PNG, no embedded payload).
	ErrNotContainer = errors.New("not a valid container")

	// ErrUnrecognizedSchema means the container parsed but its top-level
	// shape matches no supported format.
	ErrUnrecognizedSchema = errors.New("unrecognized schema")
)

// vendorExtensionKey namespaces the lossless round-trip block inside the
// external format's extensions objects.
const vendorExtensionKey = "lorekeeper"
