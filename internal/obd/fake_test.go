package obd

import (
	"errors"
	"time"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) count(d time.Duration) int {
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// fakeTransport is a scripted K-line: every frame written outside bit-bang
// mode is echoed and followed by whatever respond returns.
type fakeTransport struct {
	respond   func(frame []byte) []byte
	afterWake []byte

	baud     int
	props    LineProperties
	bitBang  bool
	levels   []byte
	writes   [][]byte
	rx       []byte
	purges   int
	closed   bool
	noEcho   bool
	baudErr  error
	writeErr error
	readErr  error
}

func (f *fakeTransport) SetBaudRate(baud int) error {
	if f.baudErr != nil {
		return f.baudErr
	}
	f.baud = baud
	return nil
}

func (f *fakeTransport) SetLineProperties(props LineProperties) error {
	f.props = props
	return nil
}

func (f *fakeTransport) SetBitBangMode(mask byte, enable bool) error {
	f.bitBang = enable
	return nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errors.New("closed")
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.bitBang {
		f.levels = append(f.levels, p...)
		return len(p), nil
	}
	frame := append([]byte(nil), p...)
	f.writes = append(f.writes, frame)
	if !f.noEcho {
		f.rx = append(f.rx, frame...)
	}
	if f.respond != nil {
		f.rx = append(f.rx, f.respond(frame)...)
	}
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeTransport) Purge() error {
	f.purges++
	f.rx = nil
	if f.afterWake != nil {
		f.rx = append(f.rx, f.afterWake...)
		f.afterWake = nil
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// reply appends the checksum to payload.
func reply(payload ...byte) []byte {
	return Stamp(append(payload, 0x00))
}

// ecuResponder answers like the reference trace: seed 0x5225, key 14 89.
func ecuResponder() func(frame []byte) []byte {
	return func(frame []byte) []byte {
		switch {
		case frame[0] == 0x81:
			return []byte{0x03, 0xC1, 0x57, 0x8F, 0xAA}
		case frame[1] == 0x10:
			return []byte{0x01, 0x50, 0x51}
		case frame[1] == 0x27 && frame[2] == 0x01:
			return []byte{0x04, 0x67, 0x01, 0x52, 0x25, 0xE3}
		case frame[1] == 0x27 && frame[2] == 0x02:
			if frame[3] == 0x14 && frame[4] == 0x89 {
				return []byte{0x02, 0x67, 0x02, 0x6B}
			}
			return reply(0x03, 0x7F, 0x27, 0x35)
		case frame[1] == 0x21 && frame[2] == 0x10:
			return reply(0x06, 0x61, 0x10, 0x34, 0xBC, 0x34, 0xBC)
		}
		return nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AttemptDelay = 3 * time.Second
	return cfg
}
