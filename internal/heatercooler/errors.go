package heatercooler

import "errors"

// Domain errors for the heatercooler package.
var (
	// ErrRetriesExhausted is returned when an operation failed on every
	// attempt of its budget.
	ErrRetriesExhausted = errors.New("heatercooler: retries exhausted")

	// ErrInvalidOptions is returned when a Controller is built without a
	// gateway or address.
	ErrInvalidOptions = errors.New("heatercooler: invalid options")

	// ErrInvalidMode is returned when a mode name cannot be parsed.
	ErrInvalidMode = errors.New("heatercooler: invalid mode")
)
