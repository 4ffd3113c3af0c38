package fieldbus

import (
	"fmt"
	"net"
	"strconv"
)

// Function selects the Modbus read used for a device's inputs.
type Function string

// Supported read functions.
const (
	ReadCoils            Function = "readCoils"
	ReadDiscreteInputs   Function = "readDiscreteInputs"
	ReadHoldingRegisters Function = "readHoldingRegisters"
	ReadInputRegisters   Function = "readInputRegisters"
)

// MaxPoints is the number of input (and output) points mirrored per device.
const MaxPoints = 8

// DefaultPort is the Modbus TCP port used when a device does not set one.
const DefaultPort = 502

// Valid reports whether f is a supported read function.
func (f Function) Valid() bool {
	switch f {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		return true
	}
	return false
}

// Device describes one I/O module on the fieldbus.
type Device struct {
	ID          string   `json:"id"`
	Address     string   `json:"address"`
	Port        int      `json:"port"`
	SlaveID     byte     `json:"slave_id"`
	Function    Function `json:"function"`
	InputStart  uint16   `json:"input_start"`
	OutputStart uint16   `json:"output_start"`
	NumInputs   int      `json:"num_inputs"`
	NumOutputs  int      `json:"num_outputs"`
}

// Endpoint returns host:port for the device.
func (d Device) Endpoint() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// Validate checks the device definition.
func (d Device) Validate() error {
	if d.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}
	if !d.Function.Valid() {
		return fmt.Errorf("%w: unsupported function %q", ErrInvalidDevice, d.Function)
	}
	if d.NumInputs < 0 || d.NumInputs > MaxPoints || d.NumOutputs < 0 || d.NumOutputs > MaxPoints {
		return fmt.Errorf("%w: point counts must be between 0 and %d", ErrInvalidDevice, MaxPoints)
	}
	return nil
}

// Snapshot is the result of reading one device.
//
// A failed half (inputs or outputs) is reported as all false with the
// cause in InputErr or OutputErr; the other half is still valid.
type Snapshot struct {
	Inputs    [MaxPoints]bool
	Outputs   [MaxPoints]bool
	InputErr  error
	OutputErr error
}
