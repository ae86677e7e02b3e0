package domain

import "errors"

var (
	ErrUnknownStream       = errors.New("unknown stream")
	ErrVolumeOutOfRange    = errors.New("volume out of range")
	ErrVolumeNotAdjustable = errors.New("volume is not adjustable")
	ErrBackendUnavailable  = errors.New("mixer backend unavailable")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrEngineStopped       = errors.New("policy engine stopped")
)
