package obd

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrTransport            = errors.New("transport failure")
	ErrHandshakeTimeout     = errors.New("handshake timeout")
	ErrHandshakeRejected    = errors.New("handshake rejected")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrNegativeResponse     = errors.New("negative response")
	ErrSecurityAccessDenied = errors.New("security access denied")
	ErrInitExhausted        = errors.New("initialization attempts exhausted")
	ErrNotConnected         = errors.New("not connected")
)

// ChecksumError is returned when the trailing byte of a response does not
// match the sum of the bytes before it.
type ChecksumError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: computed 0x%02X, frame carries 0x%02X", e.Expected, e.Actual)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// NegativeResponseError is an explicit rejection (7F) from the ECU.
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to service 0x%02X: %s (0x%02X)", e.Service, TranslateResponseCode(e.Code), e.Code)
}

func (e *NegativeResponseError) Is(target error) bool {
	return target == ErrNegativeResponse
}

// KeyBytesError is returned by slow-init when the ECU answers the address
// with an unexpected sync pattern or key byte.
type KeyBytesError struct {
	Sync     byte
	KeyByte1 byte
	KeyByte2 byte
}

func (e *KeyBytesError) Error() string {
	return fmt.Sprintf("unexpected handshake bytes: sync 0x%02X, kb1 0x%02X, kb2 0x%02X", e.Sync, e.KeyByte1, e.KeyByte2)
}

func (e *KeyBytesError) Is(target error) bool {
	return target == ErrHandshakeRejected
}

// IsTransportError reports whether err means the line itself is gone, as
// opposed to a single failed exchange.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTransportUnavailable)
}
