package domain

import "errors"

// Domain errors.
var (
	// ErrDomainClosed is returned when operating on a closed domain.
	ErrDomainClosed = errors.New("domain is closed")

	// ErrNotFunction is returned when calling a value that is not callable.
	ErrNotFunction = errors.New("value is not a function")

	// ErrNilChunk is returned when running a nil compiled chunk.
	ErrNilChunk = errors.New("chunk is nil")
)
