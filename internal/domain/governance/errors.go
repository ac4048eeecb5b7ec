package governance

import "errors"

// Sentinel kinds for governance errors.
var (
	ErrInvalidPolicy    = errors.New("invalid governance policy")
	ErrNoChallenges     = errors.New("challenge catalog is empty")
	ErrChallengeRunning = errors.New("challenge already active")
)
