package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"klinelog/internal/obd"
	"klinelog/pkg/log"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultOpenAttempts = 3
	DefaultOpenDelay    = 2 * time.Second
)

var (
	ErrClosed     = errors.New("serial: port closed")
	ErrLevelWrite = errors.New("serial: line levels must be sent with Pulse")
)

// port is the part of serial.Port the transport drives.
type port interface {
	SetMode(mode *serial.Mode) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Break(d time.Duration) error
	Close() error
}

var openPort = func(name string, mode *serial.Mode) (port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Options selects and opens the adapter.
type Options struct {
	// Port is an explicit device name. When empty the adapter is found by
	// VID and PID.
	Port string
	VID  string
	PID  string
	// Choose picks among several matching adapters. Nil means prompt.
	Choose       func(ports []*Adapter) (*Adapter, error)
	OpenAttempts uint
	OpenDelay    time.Duration
}

// Transport is an obd.Transport over a USB-serial bridge. A UART cannot
// drive TX directly, so low line levels are produced with a break.
type Transport struct {
	mu      sync.Mutex
	port    port
	name    string
	mode    serial.Mode
	bitBang bool
	closed  bool
}

var (
	_ obd.Transport = (*Transport)(nil)
	_ obd.Pulser    = (*Transport)(nil)
)

// Open resolves the adapter and opens it at the K-line baud rate, retrying
// while the device is busy or not yet enumerated.
func Open(ctx context.Context, opts Options) (*Transport, error) {
	name, err := resolvePort(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", obd.ErrTransportUnavailable, err)
	}

	attempts := opts.OpenAttempts
	if attempts == 0 {
		attempts = DefaultOpenAttempts
	}

	mode := serial.Mode{
		BaudRate: obd.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	var p port
	err = retry.Do(
		func() error {
			var err error
			p, err = openPort(name, &mode)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(opts.OpenDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("failed to open port, retrying", zap.String("port", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", obd.ErrTransportUnavailable, name, err)
	}

	// Reads return immediately with whatever is buffered.
	if err := p.SetReadTimeout(0); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: set read timeout: %v", obd.ErrTransportUnavailable, err)
	}

	log.Info("port opened", zap.String("port", name), zap.Int("baud", mode.BaudRate))
	return &Transport{port: p, name: name, mode: mode}, nil
}

func (t *Transport) Name() string {
	return t.name
}

func (t *Transport) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	mode := t.mode
	mode.BaudRate = baud
	return t.setMode(mode)
}

func (t *Transport) SetLineProperties(props obd.LineProperties) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	mode := t.mode
	mode.DataBits = props.DataBits
	switch props.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return fmt.Errorf("serial: unsupported stop bits %d", props.StopBits)
	}
	switch props.Parity {
	case obd.ParityNone:
		mode.Parity = serial.NoParity
	case obd.ParityOdd:
		mode.Parity = serial.OddParity
	case obd.ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return fmt.Errorf("serial: unsupported parity %d", props.Parity)
	}
	return t.setMode(mode)
}

func (t *Transport) setMode(mode serial.Mode) error {
	if err := t.port.SetMode(&mode); err != nil {
		return fmt.Errorf("serial: set mode %+v: %w", mode, err)
	}
	t.mode = mode
	return nil
}

// SetBitBangMode only tracks the mode; levels arrive through Pulse. Leaving
// it waits for the UART to drain.
func (t *Transport) SetBitBangMode(mask byte, enable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.bitBang = enable
	if !enable {
		return t.port.Drain()
	}
	return nil
}

// Pulse holds the line low with a break, or idles it high, for hold.
func (t *Transport) Pulse(high bool, hold time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if high {
		obd.SystemClock().Sleep(hold)
		return nil
	}
	return t.port.Break(hold)
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if t.bitBang {
		return 0, ErrLevelWrite
	}
	return t.port.Write(p)
}

func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return t.port.Read(p)
}

func (t *Transport) Purge() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial: reset input: %w", err)
	}
	if err := t.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("serial: reset output: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	log.Debug("closing port", zap.String("port", t.name))
	return t.port.Close()
}
