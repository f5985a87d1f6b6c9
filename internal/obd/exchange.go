package obd

import (
	"context"
	"fmt"
)

// Exchange sends one request and returns the ECU response with the echoed
// request and the trailing checksum removed. Failed checksums and negative
// responses are reported as errors and never retried here.
func (s *Session) Exchange(ctx context.Context, pid PID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", ErrTransport)
	}

	request := pid.Frame()
	verbose := s.state != Connected
	if verbose {
		s.trace(true, request)
	}

	if !pid.Immediate {
		s.clock.Sleep(s.cfg.RequestDelay)
	}

	if _, err := s.transport.Write(request); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrTransport, pid.Name, err)
	}

	start := s.clock.Now()
	raw, err := readWithin(s.transport, s.clock, pid.ExpectedLen(), s.cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, pid.Name, err)
	}
	if missing := negativeRemainder(pid, raw); missing > 0 {
		left := s.cfg.ReadTimeout - s.clock.Now().Sub(start)
		if left < 0 {
			left = 0
		}
		rest, err := readWithin(s.transport, s.clock, missing, left)
		raw = append(raw, rest...)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, pid.Name, err)
		}
	}
	if verbose {
		s.trace(false, raw)
	}

	return validateResponse(pid, raw)
}

// negativeRemainder returns how many bytes of a negative reply are still
// unread. Negative replies can be longer than the positive reply a PID
// expects, so the length byte decides.
func negativeRemainder(pid PID, raw []byte) int {
	echo := len(pid.Request)
	if len(raw) < echo+2 || raw[echo+1] != NegativeResponseSID {
		return 0
	}
	want := echo + int(raw[echo]) + 2
	return want - len(raw)
}

// validateResponse strips the echo from raw and checks what is left.
func validateResponse(pid PID, raw []byte) ([]byte, error) {
	var response []byte
	if len(raw) > len(pid.Request) {
		response = raw[len(pid.Request):]
	}

	if len(response) <= 1 {
		return nil, fmt.Errorf("%w: %s: got %d of %d bytes", ErrHandshakeTimeout, pid.Name, len(raw), pid.ExpectedLen())
	}

	if !ValidChecksum(response) {
		return nil, fmt.Errorf("%s: %w", pid.Name, &ChecksumError{
			Expected: Checksum(response),
			Actual:   response[len(response)-1],
		})
	}

	if response[1] == NegativeResponseSID {
		nr := &NegativeResponseError{Service: pid.Service()}
		if len(response) > 3 {
			nr.Service = response[2]
		}
		if len(response) > 4 {
			nr.Code = response[3]
		}
		return nil, fmt.Errorf("%s: %w", pid.Name, nr)
	}

	out := make([]byte, len(response)-1)
	copy(out, response)
	return out, nil
}
