package zone

import "errors"

// Sentinel kinds for zone errors.
var (
	ErrUnknownZone   = errors.New("unknown zone")
	ErrUnknownSymbol = errors.New("unknown zone symbol")
)
