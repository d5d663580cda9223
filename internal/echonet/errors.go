package echonet

import "errors"

// Domain errors for the ECHONET Lite package.
var (
	// ErrInvalidFrame is returned when a received datagram is not a valid
	// ECHONET Lite format 1 frame.
	ErrInvalidFrame = errors.New("echonet: invalid frame")

	// ErrFrameTooLarge is returned when a frame cannot be encoded because it
	// carries too many properties or an oversized EDT.
	ErrFrameTooLarge = errors.New("echonet: frame too large")

	// ErrInvalidEDT is returned when property data cannot be decoded.
	ErrInvalidEDT = errors.New("echonet: invalid property data")

	// ErrTimeout is returned when a device does not answer within the
	// request timeout.
	ErrTimeout = errors.New("echonet: request timed out")

	// ErrClosed is returned when the client has been closed.
	ErrClosed = errors.New("echonet: client closed")

	// ErrSetRejected is returned when a device answers a SetC with SetC_SNA.
	ErrSetRejected = errors.New("echonet: set rejected by device")

	// ErrPropertyUnavailable is returned when a device answers a Get for a
	// single property without data.
	ErrPropertyUnavailable = errors.New("echonet: property unavailable")

	// ErrInvalidAddress is returned when a device address cannot be resolved.
	ErrInvalidAddress = errors.New("echonet: invalid device address")
)
