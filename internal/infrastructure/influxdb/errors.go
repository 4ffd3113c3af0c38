package influxdb

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned by Connect when telemetry is off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	// ErrWriteFailed matches every *WriteError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

// WriteError is a batch of samples the server did not accept.
type WriteError struct {
	Site   string
	Bucket string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("influxdb: site %s: writing to bucket %s: %v", e.Site, e.Bucket, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}
