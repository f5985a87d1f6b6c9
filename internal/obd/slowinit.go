package obd

import (
	"context"
	"fmt"
	"time"

	"klinelog/pkg/log"

	"go.uber.org/zap"
)

// Slow-init timing (ISO 9141-2 style 5 baud address).
const (
	slowIdleHigh      = 300 * time.Millisecond
	slowBitTime       = 200 * time.Millisecond
	slowSyncTimeout   = 340 * time.Millisecond
	slowInterByteWait = 25 * time.Millisecond

	SyncPattern byte = 0x55
	KeyByte2    byte = 0x8F
)

// slowInit clocks the target address out at 5 baud and completes the
// sync/key byte handshake. There is no SecurityAccess step.
func (s *Session) slowInit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.setState(Initializing)
	addr := s.cfg.Address

	levels := []level{
		{high: true, hold: slowIdleHigh},
		{high: false, hold: slowBitTime},
	}
	for i := 0; i < 8; i++ {
		bit := i + 1
		levels = append(levels, level{
			high: addr>>i&0x01 == 1,
			hold: slowBitTime,
			after: func() {
				if s.wakeProgress != nil {
					s.wakeProgress(bit, 8)
				}
			},
		})
	}
	levels = append(levels, level{high: true, hold: slowBitTime})

	log.Info("sending 5 baud address", zap.String("address", fmt.Sprintf("0x%02X", addr)))
	if err := s.bitBang(levels); err != nil {
		s.fail()
		return err
	}

	resp, err := readWithin(s.transport, s.clock, 3, slowSyncTimeout)
	if err != nil {
		s.fail()
		return fmt.Errorf("%w: read sync: %v", ErrTransport, err)
	}
	s.trace(false, resp)

	if len(resp) < 3 {
		s.fail()
		return fmt.Errorf("%w: got %d of 3 sync bytes", ErrHandshakeTimeout, len(resp))
	}
	if resp[0] != SyncPattern || resp[2] != KeyByte2 {
		s.fail()
		return &KeyBytesError{Sync: resp[0], KeyByte1: resp[1], KeyByte2: resp[2]}
	}

	for _, b := range []byte{^resp[2], ^addr} {
		s.clock.Sleep(slowInterByteWait)
		frame := []byte{b}
		if _, err := s.transport.Write(frame); err != nil {
			s.fail()
			return fmt.Errorf("%w: write handshake byte: %v", ErrTransport, err)
		}
		s.trace(true, frame)
	}

	// The K-line echoes our own handshake bytes back.
	if err := s.transport.Purge(); err != nil {
		s.fail()
		return fmt.Errorf("%w: purge: %v", ErrTransport, err)
	}

	s.setState(Connected)
	log.Info("slow init complete", zap.String("kb1", fmt.Sprintf("0x%02X", resp[1])))
	return nil
}
