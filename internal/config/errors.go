package config

import "errors"

// Sentinel kinds for configuration errors.
var (
	ErrConfigFile    = errors.New("failed to load config file")
	ErrConfigEnv     = errors.New("failed to load environment config")
	ErrConfigDecode  = errors.New("failed to decode config")
	ErrConfigInvalid = errors.New("invalid configuration")
)
