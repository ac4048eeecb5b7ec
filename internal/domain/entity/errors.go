package entity

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrDeviceRequired  = errors.New("device id required")
	ErrDeviceOccupied  = errors.New("device already occupied")
	ErrEntityEnded     = errors.New("entity already ended")
	ErrNegativeCoins   = errors.New("negative coin amount")
	ErrGraceIneligible = errors.New("entity not eligible for grace transfer")
)
