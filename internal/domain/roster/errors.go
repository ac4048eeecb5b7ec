package roster

import "errors"

// Sentinel kinds for roster errors.
var (
	ErrInvalidReading = errors.New("invalid device reading")
)
