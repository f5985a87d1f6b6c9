package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"klinelog/internal/models"
	"klinelog/internal/obd"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time        { return c.now }
func (c *stepClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type result struct {
	resp []byte
	err  error
}

// stubSession answers by PID name. Every exchange advances the clock by
// 250 ms.
type stubSession struct {
	clock     *stepClock
	state     obd.State
	start     time.Time
	responses map[string]result
	calls     []string
	onCall    func(n int)
}

func newStubSession() *stubSession {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	return &stubSession{
		clock:     &stepClock{now: start},
		state:     obd.Connected,
		start:     start,
		responses: make(map[string]result),
	}
}

func (s *stubSession) Exchange(ctx context.Context, pid obd.PID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls = append(s.calls, pid.Name)
	if s.onCall != nil {
		s.onCall(len(s.calls))
	}
	s.clock.Sleep(250 * time.Millisecond)
	r, ok := s.responses[pid.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", pid.Name, obd.ErrHandshakeTimeout)
	}
	return r.resp, r.err
}

func (s *stubSession) State() obd.State       { return s.state }
func (s *stubSession) ConnectedAt() time.Time { return s.start }
func (s *stubSession) Clock() obd.Clock       { return s.clock }

type memorySink struct {
	records []models.Record
}

func (m *memorySink) Write(rec models.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func TestDecodeBatteryVoltage(t *testing.T) {
	// 13500 mV at offset 5
	resp := []byte{0x06, 0x61, 0x10, 0x00, 0x00, 0x34, 0xBC}

	readings, err := DefaultGroups[0].Decode(resp)
	require.NoError(t, err)
	require.Len(t, readings, 1)

	assert.Equal(t, "battery_voltage", readings[0].Name)
	assert.InDelta(t, 13.5, readings[0].Value, 1e-9)
	assert.Equal(t, "013.50", readings[0].String())
}

func TestDecoders(t *testing.T) {
	tests := []struct {
		group string
		resp  []byte
		want  map[string]float64
	}{
		{
			group: "rpm",
			resp:  []byte{0x04, 0x61, 0x09, 0x03, 0x2A},
			want:  map[string]float64{"engine_rpm": 810},
		},
		{
			group: "speed",
			resp:  []byte{0x03, 0x61, 0x0D, 0x58},
			want:  map[string]float64{"vehicle_speed": 88},
		},
		{
			group: "temperatures",
			resp: []byte{0x12, 0x61, 0x1A,
				0x0E, 0x30, 0x00, 0x00, // coolant 3632
				0x0B, 0x7C, 0x00, 0x00, // air 2940
				0x0A, 0xAC, 0x00, 0x00, // external 2732
				0x0B, 0xB8, 0x00, 0x00}, // fuel 3000
			want: map[string]float64{"coolant_temp": 90.0, "air_temp": 20.8, "external_temp": 0, "fuel_temp": 26.8},
		},
		{
			group: "aap_maf",
			resp:  []byte{0x0A, 0x61, 0x1C, 0x27, 0x10, 0x00, 0x00, 0x13, 0x88, 0x00, 0x00},
			want:  map[string]float64{"ambient_pressure": 1.0, "mass_airflow": 5.0},
		},
		{
			group: "power_balance",
			resp:  []byte{0x0C, 0x61, 0x40, 0xFC, 0x18, 0x03, 0xE8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want:  map[string]float64{"power_balance_1": -1.0, "power_balance_2": 1.0, "power_balance_5": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			g, ok := groupByName(tt.group)
			require.True(t, ok)

			readings, err := g.Decode(tt.resp)
			require.NoError(t, err)

			rec := models.Record{Readings: readings}
			for name, want := range tt.want {
				rd, ok := rec.Get(name)
				require.True(t, ok, name)
				assert.InDelta(t, want, rd.Value, 1e-9, name)
			}
		})
	}
}

func TestDecodeShortResponse(t *testing.T) {
	g, _ := groupByName("throttle")
	_, err := g.Decode([]byte{0x0C, 0x61, 0x1B, 0x01})
	assert.Error(t, err)
}

func TestFieldNames(t *testing.T) {
	g, ok := groupByName("temperatures")
	require.True(t, ok)
	assert.Equal(t, []string{"coolant_temp", "air_temp", "external_temp", "fuel_temp"}, FieldNames(g))

	total := 0
	for _, g := range DefaultGroups {
		total += len(FieldNames(g))
	}
	assert.Equal(t, 22, total)
}

func TestSelectGroups(t *testing.T) {
	all, err := SelectGroups(nil)
	require.NoError(t, err)
	assert.Len(t, all, 9)

	some, err := SelectGroups([]string{"speed", "battery"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "battery", some[0].Name, "polling order is kept")
	assert.Equal(t, "speed", some[1].Name)

	_, err = SelectGroups([]string{"boost"})
	assert.Error(t, err)

	assert.Equal(t, "battery", GroupNames()[0])
}

func TestCycleOmitsFailedGroups(t *testing.T) {
	s := newStubSession()
	s.responses["battery_voltage"] = result{resp: []byte{0x06, 0x61, 0x10, 0x00, 0x00, 0x34, 0xBC}}
	s.responses["engine_rpm"] = result{err: fmt.Errorf("engine_rpm: %w", &obd.ChecksumError{})}
	s.responses["vehicle_speed"] = result{resp: []byte{0x03, 0x61, 0x0D, 0x2A}}

	p := New(s, DefaultGroups[:3])
	rec, err := p.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"battery_voltage", "engine_rpm", "vehicle_speed"}, s.calls)
	require.Len(t, rec.Readings, 2)
	assert.Equal(t, "000000.000 013.50 042", rec.Line())
	assert.Equal(t, 1, p.Stats().Skipped["rpm"])
}

func TestStatsIsASnapshot(t *testing.T) {
	s := newStubSession()
	s.responses["battery_voltage"] = result{resp: []byte{0x06, 0x61, 0x10, 0x00, 0x00, 0x34, 0xBC}}
	s.responses["engine_rpm"] = result{err: fmt.Errorf("engine_rpm: %w", &obd.ChecksumError{})}

	p := New(s, DefaultGroups[:2])
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	snap := p.Stats()
	snap.Skipped["rpm"] = 99
	snap.Skipped["speed"] = 1

	assert.Equal(t, map[string]int{"rpm": 1}, p.Stats().Skipped)

	_, err = p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, snap.Skipped["rpm"], "earlier snapshot unchanged")
	assert.Equal(t, 2, p.Stats().Skipped["rpm"])
}

func TestRunEmitsRecords(t *testing.T) {
	s := newStubSession()
	s.responses["battery_voltage"] = result{resp: []byte{0x06, 0x61, 0x10, 0x00, 0x00, 0x34, 0xBC}}
	s.responses["engine_rpm"] = result{resp: []byte{0x04, 0x61, 0x09, 0x03, 0x2A}}
	sink := &memorySink{}

	p := New(s, DefaultGroups[:2], sink)
	p.SetMaxCycles(3)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, sink.records, 3)
	assert.Equal(t, "000000.000 013.50 000810", sink.records[0].Line())
	assert.Equal(t, "000000.500 013.50 000810", sink.records[1].Line())
	assert.Equal(t, 500*time.Millisecond, sink.records[2].Elapsed-sink.records[1].Elapsed)
	assert.Equal(t, 3, p.Stats().Cycles)
	assert.Equal(t, sink.records[2].Line(), p.Stats().LastLine)
}

func TestRunStopsOnTransportFailure(t *testing.T) {
	s := newStubSession()
	s.responses["battery_voltage"] = result{err: fmt.Errorf("%w: read: usb unplugged", obd.ErrTransport)}
	sink := &memorySink{}

	p := New(s, DefaultGroups[:2], sink)
	err := p.Run(context.Background())

	assert.ErrorIs(t, err, obd.ErrTransport)
	assert.Empty(t, sink.records)
	assert.Equal(t, []string{"battery_voltage"}, s.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newStubSession()
	ctx, cancel := context.WithCancel(context.Background())
	s.onCall = func(n int) {
		if n == 5 {
			cancel()
		}
	}
	sink := &memorySink{}

	p := New(s, DefaultGroups[:2], sink)
	require.NoError(t, p.Run(ctx))

	assert.Len(t, sink.records, 2)
}

func TestRunRequiresConnection(t *testing.T) {
	s := newStubSession()
	s.state = obd.Failed

	err := New(s, DefaultGroups).Run(context.Background())
	assert.True(t, errors.Is(err, obd.ErrNotConnected))
}
