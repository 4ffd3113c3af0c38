package fieldbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// DefaultTimeout bounds connect and each request when none is configured.
const DefaultTimeout = 5 * time.Second

// Coil write values defined by Modbus function 0x05.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Logger is the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Session is an open connection to one device.
type Session interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	Close() error
}

// Dialer opens a session to a device.
type Dialer func(ctx context.Context, dev Device, timeout time.Duration) (Session, error)

// Gateway performs stateless reads and writes against fieldbus devices.
type Gateway struct {
	dial    Dialer
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	devLock map[string]*sync.Mutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDialer replaces the Modbus TCP dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dial = d }
}

// WithLogger sets the gateway logger.
func WithLogger(l Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a gateway that gives each session the given timeout.
func NewGateway(timeout time.Duration, opts ...Option) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Gateway{
		dial:    DialTCP,
		timeout: timeout,
		logger:  noopLogger{},
		devLock: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Read opens a session and reads the device's inputs and outputs.
//
// A connection failure is returned as an error wrapping ErrConnect and no
// snapshot. Failures of the individual reads are recorded in the snapshot.
func (g *Gateway) Read(ctx context.Context, dev Device) (Snapshot, error) {
	var snap Snapshot

	err := g.withSession(ctx, dev, func(s Session) error {
		if dev.NumInputs > 0 {
			vals, err := readPoints(s, dev.Function, dev.InputStart, dev.NumInputs)
			if err != nil {
				snap.InputErr = err
				g.logger.Warn("input read failed", "device", dev.ID, "function", string(dev.Function), "error", err)
			} else {
				copy(snap.Inputs[:], vals)
			}
		}
		if dev.NumOutputs > 0 {
			vals, err := readPoints(s, ReadCoils, dev.OutputStart, dev.NumOutputs)
			if err != nil {
				snap.OutputErr = err
				g.logger.Warn("output read failed", "device", dev.ID, "error", err)
			} else {
				copy(snap.Outputs[:], vals)
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ReadRange reads count points starting at start with an explicit function.
func (g *Gateway) ReadRange(ctx context.Context, dev Device, fn Function, start uint16, count int) ([]bool, error) {
	if !fn.Valid() {
		return nil, fmt.Errorf("%w: unsupported function %q", ErrInvalidDevice, fn)
	}
	if count < 1 || count > 2000 { //nolint:mnd // Modbus PDU limit for bit reads
		return nil, fmt.Errorf("%w: count %d out of range", ErrInvalidDevice, count)
	}

	var out []bool
	err := g.withSession(ctx, dev, func(s Session) error {
		vals, err := readPoints(s, fn, start, count)
		out = vals
		return err
	})
	return out, err
}

// WriteCoil sets a single coil on the device.
func (g *Gateway) WriteCoil(ctx context.Context, dev Device, address uint16, value bool) error {
	v := coilOff
	if value {
		v = coilOn
	}
	return g.withSession(ctx, dev, func(s Session) error {
		if _, err := s.WriteSingleCoil(address, v); err != nil {
			return fmt.Errorf("writing coil %d on %s: %w", address, dev.ID, err)
		}
		return nil
	})
}

// withSession serialises access to one device, opens a session, runs fn and
// closes the session.
func (g *Gateway) withSession(ctx context.Context, dev Device, fn func(Session) error) error {
	if dev.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := g.deviceLock(dev.Endpoint())
	lock.Lock()
	defer lock.Unlock()

	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	sess, err := g.dial(ctx, dev, timeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnect, dev.Endpoint(), err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			g.logger.Debug("closing fieldbus session", "device", dev.ID, "error", cerr)
		}
	}()

	return fn(sess)
}

func (g *Gateway) deviceLock(endpoint string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.devLock[endpoint]
	if !ok {
		l = &sync.Mutex{}
		g.devLock[endpoint] = l
	}
	return l
}

// readPoints performs one read and decodes it to count booleans.
func readPoints(s Session, fn Function, start uint16, count int) ([]bool, error) {
	qty := uint16(count) //nolint:gosec // count is bounded by callers
	switch fn {
	case ReadCoils:
		raw, err := s.ReadCoils(start, qty)
		if err != nil {
			return nil, err
		}
		return decodeBits(raw, count)
	case ReadDiscreteInputs:
		raw, err := s.ReadDiscreteInputs(start, qty)
		if err != nil {
			return nil, err
		}
		return decodeBits(raw, count)
	case ReadHoldingRegisters:
		raw, err := s.ReadHoldingRegisters(start, qty)
		if err != nil {
			return nil, err
		}
		return decodeRegisters(raw, count)
	case ReadInputRegisters:
		raw, err := s.ReadInputRegisters(start, qty)
		if err != nil {
			return nil, err
		}
		return decodeRegisters(raw, count)
	default:
		return nil, fmt.Errorf("%w: unsupported function %q", ErrInvalidDevice, fn)
	}
}

// decodeBits unpacks a coil/discrete-input response, least significant bit first.
func decodeBits(raw []byte, count int) ([]bool, error) {
	if len(raw)*8 < count {
		return nil, fmt.Errorf("%w: %d bytes for %d bits", ErrShortResponse, len(raw), count)
	}
	out := make([]bool, count)
	for i := range out {
		out[i] = raw[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out, nil
}

// decodeRegisters maps big-endian 16-bit registers to value != 0.
func decodeRegisters(raw []byte, count int) ([]bool, error) {
	if len(raw) < count*2 {
		return nil, fmt.Errorf("%w: %d bytes for %d registers", ErrShortResponse, len(raw), count)
	}
	out := make([]bool, count)
	for i := range out {
		out[i] = raw[2*i] != 0 || raw[2*i+1] != 0
	}
	return out, nil
}

// tcpSession adapts a goburrow modbus client to Session.
type tcpSession struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (s *tcpSession) Close() error {
	return s.handler.Close()
}

// DialTCP opens a Modbus TCP session to dev.
func DialTCP(ctx context.Context, dev Device, timeout time.Duration) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handler := modbus.NewTCPClientHandler(dev.Endpoint())
	handler.Timeout = timeout
	handler.SlaveId = dev.SlaveID
	if handler.SlaveId == 0 {
		handler.SlaveId = 1
	}
	if err := handler.Connect(); err != nil {
		return nil, err
	}
	return &tcpSession{Client: modbus.NewClient(handler), handler: handler}, nil
}
