package obd

import "time"

// K-line line settings.
const (
	BaudRate       = 10400
	BitBangTX byte = 0x01
)

type Parity byte

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// LineProperties are the character framing settings of the UART.
type LineProperties struct {
	DataBits int
	StopBits int
	Parity   Parity
}

// KLine is 8N1, the only framing the ECU speaks.
var KLine = LineProperties{DataBits: 8, StopBits: 1, Parity: ParityNone}

// Transport is the byte pipe to the USB-serial bridge. Read must not block:
// it returns whatever is buffered, possibly nothing. While bit-bang mode is
// enabled a written byte sets the TX pin level (bit 0) instead of being sent
// as a character.
type Transport interface {
	SetBaudRate(baud int) error
	SetLineProperties(props LineProperties) error
	SetBitBangMode(mask byte, enable bool) error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Purge() error
	Close() error
}

// Pulser is implemented by transports that cannot drive the TX pin level by
// level and instead hold it themselves, e.g. a UART sending a break for a
// low level. Pulse returns once hold has elapsed.
type Pulser interface {
	Pulse(high bool, hold time.Duration) error
}
