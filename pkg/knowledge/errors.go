package knowledge

import "errors"

// ErrEntryNotFound is returned by entry stores when an id has no entry.
var ErrEntryNotFound = errors.New("knowledge entry not found")
