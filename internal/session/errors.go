package session

import "errors"

// Sentinel kinds for session lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotRunning     = errors.New("session is not running")
)
