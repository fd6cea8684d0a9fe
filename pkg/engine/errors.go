package engine

import "errors"

var (
	ErrStopped    = errors.New("engine stopped")
	ErrQueueFull  = errors.New("engine queue full")
	ErrInvalidJob = errors.New("engine: invalid job")
)
