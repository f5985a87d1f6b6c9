package obd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinelog/pkg/log"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
)

// Fast-init wake pulse timing (ISO 14230 style).
const (
	fastIdleHigh = 500 * time.Millisecond
	fastWakeLow  = 24500 * time.Microsecond
	fastWakeHigh = 24500 * time.Microsecond
)

// Connect configures the transport and runs the configured wake-up sequence.
// On failure the transport is closed and the session ends in Failed.
func (s *Session) Connect(ctx context.Context) error {
	if s.state == Connected {
		return nil
	}
	if s.closed || s.state == Failed {
		return fmt.Errorf("%w: session already torn down", ErrTransportUnavailable)
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.configure(); err != nil {
		s.fail()
		return err
	}

	switch s.cfg.Variant {
	case SlowInit:
		return s.slowInit(ctx)
	default:
		return s.fastInit(ctx)
	}
}

// fastInit repeats the wake pulse and the unlock sequence until one attempt
// gets all the way through or MaxAttempts is reached. Partial progress of a
// failed attempt is discarded.
func (s *Session) fastInit(ctx context.Context) error {
	s.attempts = 0

	err := retry.Do(
		func() error {
			s.attempts++
			return s.fastInitAttempt(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.MaxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("fast init attempt failed",
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", s.cfg.MaxAttempts),
				zap.Error(err))
		}),
		// Attempt spacing goes through the session clock so it stays
		// observable; retry-go then waits zero.
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			s.clock.Sleep(s.cfg.AttemptDelay)
			return 0
		}),
	)
	if err != nil {
		s.fail()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w after %d attempts: %w", ErrInitExhausted, s.attempts, err)
	}

	s.setState(Connected)
	log.Info("fast init complete", zap.Uint("attempts", s.attempts))
	return nil
}

func (s *Session) fastInitAttempt(ctx context.Context) error {
	s.setState(Initializing)

	err := s.bitBang([]level{
		{high: true, hold: fastIdleHigh},
		{high: false, hold: fastWakeLow},
		{high: true, hold: fastWakeHigh},
	})
	if err != nil {
		return err
	}

	if _, err := s.Exchange(ctx, s.cfg.StartFrame); err != nil {
		return fmt.Errorf("start communication: %w", err)
	}
	if _, err := s.Exchange(ctx, PIDStartDiagnostics); err != nil {
		return fmt.Errorf("start diagnostic session: %w", err)
	}

	resp, err := s.Exchange(ctx, PIDRequestSeed)
	if err != nil {
		return fmt.Errorf("request seed: %w", err)
	}
	seed, ok := SeedFromResponse(resp)
	if !ok {
		return fmt.Errorf("request seed: %w: short seed response", ErrHandshakeTimeout)
	}
	s.setState(SecurityPending)

	hi, lo := CalculateKey(seed)
	log.Debug("security access",
		zap.String("seed", fmt.Sprintf("0x%04X", seed)),
		zap.String("key", fmt.Sprintf("0x%02X%02X", hi, lo)))

	if _, err := s.Exchange(ctx, PIDSendKey.WithKey(hi, lo)); err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityAccessDenied, err)
	}
	return nil
}
