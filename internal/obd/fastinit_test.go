package obd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastInitConnectsFirstAttempt(t *testing.T) {
	tr := &fakeTransport{respond: ecuResponder()}
	clock := newFakeClock()
	s, traced := newTestSession(tr, clock, testConfig())

	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, Connected, s.State())
	assert.Equal(t, uint(1), s.Attempts())
	assert.Equal(t, []byte{1, 0, 1}, tr.levels, "wake pulse")
	assert.Equal(t, 1, clock.count(fastIdleHigh))
	assert.Equal(t, 2, clock.count(fastWakeLow))
	assert.Zero(t, clock.count(3*time.Second), "no inter-attempt delay")

	require.Len(t, tr.writes, 4)
	assert.Equal(t, []byte{0x81, 0x13, 0xF7, 0x81, 0x0C}, tr.writes[0])
	assert.Equal(t, []byte{0x02, 0x10, 0xA0, 0xB2}, tr.writes[1])
	assert.Equal(t, []byte{0x02, 0x27, 0x01, 0x2A}, tr.writes[2])
	assert.Equal(t, []byte{0x04, 0x27, 0x02, 0x14, 0x89, 0xCA}, tr.writes[3])
	assert.Len(t, *traced, 8)

	// Connected sessions stop tracing.
	_, err := s.Exchange(context.Background(), PIDBatteryVoltage)
	require.NoError(t, err)
	assert.Len(t, *traced, 8)
}

func TestFastInitRetriesSeedFailure(t *testing.T) {
	seedRequests := 0
	ecu := ecuResponder()
	tr := &fakeTransport{respond: func(frame []byte) []byte {
		if frame[1] == 0x27 && frame[2] == 0x01 {
			seedRequests++
			if seedRequests <= 2 {
				return []byte{0x04, 0x67, 0x01, 0x52, 0x25, 0x00}
			}
		}
		return ecu(frame)
	}}
	clock := newFakeClock()
	s, _ := newTestSession(tr, clock, testConfig())

	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, Connected, s.State())
	assert.Equal(t, uint(3), s.Attempts())
	assert.Equal(t, 3, seedRequests)
	assert.Equal(t, 2, clock.count(3*time.Second), "one delay between each pair of attempts")
	assert.Equal(t, []byte{1, 0, 1, 1, 0, 1, 1, 0, 1}, tr.levels, "wake pulse repeated per attempt")
	assert.Len(t, tr.writes, 3+3+4, "failed attempts stop at the seed request")
}

func TestFastInitExhausted(t *testing.T) {
	tr := &fakeTransport{respond: func([]byte) []byte { return nil }}
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxAttempts = 3
	s, _ := newTestSession(tr, clock, cfg)

	err := s.Connect(context.Background())

	assert.ErrorIs(t, err, ErrInitExhausted)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, uint(3), s.Attempts())
	assert.Equal(t, 2, clock.count(3*time.Second))
	assert.True(t, tr.closed)
	assert.Len(t, tr.writes, 3, "only the start frame per attempt")
}

func TestFastInitSecurityAccessDenied(t *testing.T) {
	ecu := ecuResponder()
	tr := &fakeTransport{respond: func(frame []byte) []byte {
		if frame[1] == 0x27 && frame[2] == 0x02 {
			return reply(0x03, 0x7F, 0x27, 0x35)
		}
		return ecu(frame)
	}}
	cfg := testConfig()
	cfg.MaxAttempts = 2
	s, _ := newTestSession(tr, newFakeClock(), cfg)

	err := s.Connect(context.Background())

	assert.ErrorIs(t, err, ErrSecurityAccessDenied)
	assert.ErrorIs(t, err, ErrNegativeResponse)
	assert.Equal(t, uint(2), s.Attempts())
	assert.Equal(t, Failed, s.State())
}

func TestFastInitABSTarget(t *testing.T) {
	tr := &fakeTransport{respond: ecuResponder()}
	cfg := testConfig()
	cfg.StartFrame = PIDABSInitFrame
	s, _ := newTestSession(tr, newFakeClock(), cfg)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, []byte{0x81, 0x29, 0xF7, 0x81, 0x22}, tr.writes[0])
}

func TestConnectTransportUnavailable(t *testing.T) {
	tr := &fakeTransport{baudErr: errors.New("ftdi: invalid baud rate")}
	s, _ := newTestSession(tr, newFakeClock(), testConfig())

	err := s.Connect(context.Background())

	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, Failed, s.State())
	assert.True(t, tr.closed)

	assert.ErrorIs(t, s.Connect(context.Background()), ErrTransportUnavailable)
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	s, _ := newTestSession(&fakeTransport{}, newFakeClock(), cfg)

	assert.Error(t, s.Connect(context.Background()))
	assert.Equal(t, Disconnected, s.State())
}

func TestFastInitCanceled(t *testing.T) {
	tr := &fakeTransport{respond: ecuResponder()}
	s, _ := newTestSession(tr, newFakeClock(), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Connect(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "security-pending", SecurityPending.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("slow")
	require.NoError(t, err)
	assert.Equal(t, SlowInit, v)

	v, err = ParseVariant("fast")
	require.NoError(t, err)
	assert.Equal(t, FastInit, v)

	_, err = ParseVariant("medium")
	assert.Error(t, err)
}
