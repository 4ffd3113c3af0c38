// Package fieldbus reads and writes boolean points on Modbus TCP I/O modules.
//
// Every call opens a short-lived session to the device, performs its reads
// or write and closes the session again; nothing is kept between calls.
// Calls to the same device are serialised so the poller and the API never
// hold two sessions to one module at once.
//
// Inputs are read with the device's configured function (coils, discrete
// inputs, holding registers or input registers). Outputs are always read as
// coils. Register values are reported as true when non-zero.
package fieldbus
