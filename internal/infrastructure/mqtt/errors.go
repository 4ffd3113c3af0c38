package mqtt

import "errors"

// Errors returned by the MQTT side channel. Check with errors.Is.
var (
	// ErrNotConnected is returned while the broker is unreachable. Callers
	// mirroring state treat it as a dropped copy, not a failure.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connect fails or times out.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a console, point or status message
	// could not be published.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when the flow command subscription fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidCommand is returned for a flow command payload that cannot be acted on.
	ErrInvalidCommand = errors.New("mqtt: invalid flow command")
)
