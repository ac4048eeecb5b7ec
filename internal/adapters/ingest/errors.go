package ingest

import "errors"

// Sentinel kinds for consumer construction and decoding errors.
var (
	ErrNilTarget = errors.New("reading target is required")
	ErrNoBrokers = errors.New("at least one broker is required")
	ErrNoTopic   = errors.New("topic is required")
	ErrDecode    = errors.New("failed to decode reading")
)
