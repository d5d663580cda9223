package platform

import "errors"

var (
	// ErrInvalidOptions is returned by New when a required dependency is missing.
	ErrInvalidOptions = errors.New("platform: invalid options")

	// ErrInert wraps the configuration error of an inert platform.
	ErrInert = errors.New("platform: inert")
)
