package accessory

import "errors"

var (
	// ErrNotFound is returned when no accessory has the requested ID.
	ErrNotFound = errors.New("accessory: not found")

	// ErrUnknownCommand is returned for an MQTT command name the bridge does not handle.
	ErrUnknownCommand = errors.New("accessory: unknown command")

	// ErrInvalidCommand is returned when a command's value cannot be decoded.
	ErrInvalidCommand = errors.New("accessory: invalid command value")
)
