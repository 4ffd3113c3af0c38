package fieldbus

import "errors"

var (
	// ErrInvalidDevice is returned for malformed device definitions.
	ErrInvalidDevice = errors.New("fieldbus: invalid device")

	// ErrConnect is returned when no session could be opened to the device.
	ErrConnect = errors.New("fieldbus: connection failed")

	// ErrShortResponse is returned when a device answers with fewer bytes than requested.
	ErrShortResponse = errors.New("fieldbus: short response")
)
