package device

import "errors"

// Domain errors for the device package.
var (
	// ErrInvalidCommand is returned when a command string cannot be sent to the controller.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrUnreachable is returned by Ping when the controller does not accept connections.
	ErrUnreachable = errors.New("device: unreachable")
)
