package obd

import (
	"errors"
	"fmt"
	"time"

	"klinelog/pkg/log"

	"go.uber.org/zap"
)

const (
	DefaultAddress      byte = 0x33
	DefaultMaxAttempts       = 5
	DefaultAttemptDelay      = 3 * time.Second
	DefaultRequestDelay      = 200 * time.Millisecond
	DefaultReadTimeout       = 100 * time.Millisecond
)

// Config holds the session parameters chosen at startup.
type Config struct {
	Variant  Variant
	BaudRate int
	// Address is the target byte sent at 5 baud during slow-init.
	Address byte
	// StartFrame is the StartCommunication request used by fast-init.
	StartFrame   PID
	MaxAttempts  uint
	AttemptDelay time.Duration
	RequestDelay time.Duration
	ReadTimeout  time.Duration
}

// DefaultConfig returns the fast-init engine ECU configuration.
func DefaultConfig() Config {
	return Config{
		Variant:      FastInit,
		BaudRate:     BaudRate,
		Address:      DefaultAddress,
		StartFrame:   PIDInitFrame,
		MaxAttempts:  DefaultMaxAttempts,
		AttemptDelay: DefaultAttemptDelay,
		RequestDelay: DefaultRequestDelay,
		ReadTimeout:  DefaultReadTimeout,
	}
}

// Validate checks the values that would otherwise break the state machines.
func (c Config) Validate() error {
	if c.MaxAttempts == 0 {
		return errors.New("max attempts must be at least 1")
	}
	if c.BaudRate < 0 {
		return errors.New("baud rate must not be negative")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.RequestDelay < 0 || c.AttemptDelay < 0 {
		return errors.New("delays must not be negative")
	}
	if len(c.StartFrame.Request) < 2 {
		return fmt.Errorf("start frame %q is too short", c.StartFrame.Name)
	}
	return nil
}

// Tracer receives every raw frame while the session is being established.
type Tracer func(tx bool, frame []byte)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the system clock, used by tests to run without real
// delays.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithTracer replaces the default frame tracer.
func WithTracer(t Tracer) Option {
	return func(s *Session) {
		s.trace = t
	}
}

// WithWakeProgress registers a callback invoked after every address bit of
// the 5-baud slow-init transmission.
func WithWakeProgress(fn func(bit, total int)) Option {
	return func(s *Session) {
		s.wakeProgress = fn
	}
}

// Session owns one transport and drives it from Disconnected to Connected.
// A Session is not safe for concurrent use: exchanges are strictly
// sequential.
type Session struct {
	transport    Transport
	clock        Clock
	cfg          Config
	trace        Tracer
	wakeProgress func(bit, total int)

	state       State
	attempts    uint
	connectedAt time.Time
	closed      bool
}

// NewSession creates a disconnected session on t.
func NewSession(t Transport, cfg Config, opts ...Option) *Session {
	s := &Session{
		transport: t,
		clock:     SystemClock(),
		cfg:       cfg,
		trace:     logTrace,
		state:     Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func logTrace(tx bool, frame []byte) {
	dir := "<<"
	if tx {
		dir = ">>"
	}
	log.Info(dir, zap.String("frame", HexString(frame)))
}

func (s *Session) State() State {
	return s.state
}

// Attempts returns how many fast-init attempts the last Connect made.
func (s *Session) Attempts() uint {
	return s.attempts
}

// ConnectedAt is the time the session reached Connected.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Clock returns the session timing source.
func (s *Session) Clock() Clock {
	return s.clock
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	log.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
	if st == Connected {
		s.connectedAt = s.clock.Now()
	}
}

// fail tears the transport down and marks the session Failed.
func (s *Session) fail() {
	s.setState(Failed)
	if err := s.Close(); err != nil {
		log.Warn("failed to close transport", zap.Error(err))
	}
}

// Close releases the transport. Calling it more than once is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.state != Failed {
		s.state = Disconnected
	}
	return s.transport.Close()
}

// configure sets the K-line framing on the transport.
func (s *Session) configure() error {
	baud := s.cfg.BaudRate
	if baud == 0 {
		baud = BaudRate
	}
	if err := s.transport.SetBaudRate(baud); err != nil {
		return fmt.Errorf("%w: set baud rate: %v", ErrTransportUnavailable, err)
	}
	if err := s.transport.SetLineProperties(KLine); err != nil {
		return fmt.Errorf("%w: set line properties: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// bitBang drives the TX pin through a sequence of levels, holding each for
// its duration, then returns the UART to normal mode and purges it. The UART
// leaves bit-bang mode even when a level fails to go out.
func (s *Session) bitBang(levels []level) (err error) {
	if err := s.transport.SetBitBangMode(BitBangTX, true); err != nil {
		return fmt.Errorf("%w: enter bit-bang: %v", ErrTransport, err)
	}
	defer func() {
		if err != nil {
			_ = s.transport.SetBitBangMode(0x00, false)
		}
	}()

	pulser, _ := s.transport.(Pulser)
	for _, l := range levels {
		if pulser != nil {
			if err := pulser.Pulse(l.high, l.hold); err != nil {
				return fmt.Errorf("%w: line pulse: %v", ErrTransport, err)
			}
		} else {
			if err := s.setLine(l.high); err != nil {
				return err
			}
			s.clock.Sleep(l.hold)
		}
		if l.after != nil {
			l.after()
		}
	}
	if err := s.transport.SetBitBangMode(0x00, false); err != nil {
		return fmt.Errorf("%w: leave bit-bang: %v", ErrTransport, err)
	}
	if err := s.transport.Purge(); err != nil {
		return fmt.Errorf("%w: purge: %v", ErrTransport, err)
	}
	return nil
}

type level struct {
	high  bool
	hold  time.Duration
	after func()
}

func (s *Session) setLine(high bool) error {
	b := byte(0x00)
	if high {
		b = 0x01
	}
	if _, err := s.transport.Write([]byte{b}); err != nil {
		return fmt.Errorf("%w: line level: %v", ErrTransport, err)
	}
	return nil
}
