package timeline

import "errors"

// Sentinel kinds for timeline errors.
var (
	ErrFrozen             = errors.New("timeline frozen")
	ErrUnsupportedValue   = errors.New("unsupported series value")
	ErrSeriesTickMismatch = errors.New("series length does not match tick count")
	ErrSeriesSizeCap      = errors.New("series size cap exceeded")
	ErrBadRun             = errors.New("malformed run-length token")
	ErrUnknownSeriesKind  = errors.New("unknown series kind")
)
