package mock

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"klinelog/internal/obd"
	"klinelog/pkg/log"

	"go.uber.org/zap"
)

// Key bytes the simulated ECU answers a 5 baud address with.
const (
	slowKeyByte1 byte = 0xE9
	slowWakeBits      = 4
)

// Negative response codes used by the simulated ECU.
const (
	nrcRequestOutOfRange    byte = 0x31
	nrcSecurityAccessDenied byte = 0x33
	nrcInvalidKey           byte = 0x35
)

var ErrClosed = errors.New("mock: transport closed")

// ECU is an obd.Transport backed by a simulated engine ECU. It echoes every
// frame like a real K-line, answers the wake-up handshakes and serves
// random-walk live data once security access was granted.
type ECU struct {
	mu   sync.RWMutex
	rand *rand.Rand

	baud    int
	props   obd.LineProperties
	bitBang bool
	levels  int
	wake    []byte
	rx      []byte
	closed  bool

	awake    bool
	unlocked bool
	seed     uint16

	silentSeeds int
	dropRate    float64

	// simulated values
	rpm      int
	speed    int
	coolant  float64
	air      float64
	fuel     float64
	battery  float64
	throttle float64
	boost    float64
}

// Option configures the simulated ECU.
type Option func(*ECU)

// WithSeed makes the random walk reproducible.
func WithSeed(seed int64) Option {
	return func(e *ECU) {
		e.rand = rand.New(rand.NewSource(seed))
	}
}

// WithSilentSeeds leaves the first n seed requests unanswered, which forces
// the session through its fast-init retries.
func WithSilentSeeds(n int) Option {
	return func(e *ECU) {
		e.silentSeeds = n
	}
}

// WithDropRate leaves the given fraction of live data requests unanswered.
func WithDropRate(p float64) Option {
	return func(e *ECU) {
		e.dropRate = p
	}
}

func New(opts ...Option) *ECU {
	e := &ECU{
		rand:     rand.New(rand.NewSource(1)),
		rpm:      800,
		coolant:  75.0,
		air:      25.0,
		fuel:     30.0,
		battery:  13.8,
		throttle: 0.5,
		boost:    1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ECU) SetBaudRate(baud int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.baud = baud
	return nil
}

func (e *ECU) SetLineProperties(props obd.LineProperties) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.props = props
	return nil
}

func (e *ECU) SetBitBangMode(mask byte, enable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if enable {
		e.bitBang = true
		e.levels = 0
		e.awake = false
		e.unlocked = false
		return nil
	}
	e.bitBang = false
	switch {
	case e.levels > slowWakeBits:
		// 5 baud address: the ECU answers with sync and key bytes and
		// needs no security access.
		e.wake = []byte{obd.SyncPattern, slowKeyByte1, obd.KeyByte2}
		e.awake = true
		e.unlocked = true
	case e.levels > 0:
		e.awake = true
	}
	return nil
}

func (e *ECU) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	if e.bitBang {
		e.levels += len(p)
		return len(p), nil
	}

	frame := append([]byte(nil), p...)
	e.rx = append(e.rx, frame...)
	if resp := e.respond(frame); resp != nil {
		e.rx = append(e.rx, resp...)
	}
	return len(p), nil
}

func (e *ECU) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	n := copy(p, e.rx)
	e.rx = e.rx[n:]
	return n, nil
}

func (e *ECU) Purge() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.rx = append(e.rx[:0], e.wake...)
	e.wake = nil
	return nil
}

func (e *ECU) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.rx = nil
	return nil
}

// Unlocked reports whether the simulated ECU granted security access.
func (e *ECU) Unlocked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unlocked
}

// respond builds the ECU answer to one frame. Nil means silence.
func (e *ECU) respond(frame []byte) []byte {
	if !e.awake || len(frame) < 2 {
		return nil
	}
	if !obd.ValidChecksum(frame) {
		log.Debug("mock: dropping frame with bad checksum", zap.String("frame", obd.HexString(frame)))
		return nil
	}

	if frame[0]&0x80 != 0 {
		if len(frame) > 3 && frame[3] == obd.ServiceStartCommunication {
			return stamp(0x03, 0xC1, 0x57, 0x8F)
		}
		return nil
	}

	service := frame[1]
	switch service {
	case obd.ServiceStartDiagnostic:
		return stamp(0x01, service+obd.PositiveResponseOffset)
	case obd.ServiceSecurityAccess:
		return e.securityAccess(frame)
	case obd.ServiceReadDataByLocalID:
		if !e.unlocked {
			return negative(service, nrcSecurityAccessDenied)
		}
		if e.dropRate > 0 && e.rand.Float64() < e.dropRate {
			return nil
		}
		return e.readLocalID(frame[2])
	}
	return negative(service, nrcRequestOutOfRange)
}

func (e *ECU) securityAccess(frame []byte) []byte {
	switch {
	case len(frame) >= 4 && frame[2] == obd.SecurityAccessRequestSeed:
		if e.silentSeeds > 0 {
			e.silentSeeds--
			return nil
		}
		e.seed = uint16(e.rand.Intn(0x10000))
		return stamp(0x04, 0x67, obd.SecurityAccessRequestSeed, byte(e.seed>>8), byte(e.seed))
	case len(frame) >= 6 && frame[2] == obd.SecurityAccessSendKey:
		hi, lo := obd.CalculateKey(e.seed)
		if frame[3] != hi || frame[4] != lo {
			log.Debug("mock: wrong key", zap.String("frame", obd.HexString(frame)))
			return negative(obd.ServiceSecurityAccess, nrcInvalidKey)
		}
		e.unlocked = true
		return stamp(0x02, 0x67, obd.SecurityAccessSendKey)
	}
	return negative(obd.ServiceSecurityAccess, nrcRequestOutOfRange)
}

// readLocalID answers one live data block. The layout matches the fixed
// offsets of the real ECU.
func (e *ECU) readLocalID(id byte) []byte {
	e.step()

	var data []byte
	switch id {
	case 0x10:
		mv := millis(e.battery)
		data = append(mv, mv...)
	case 0x09:
		data = u16(e.rpm)
	case 0x0D:
		data = []byte{byte(e.speed)}
	case 0x21:
		data = u16(e.rand.Intn(41) - 20)
	case 0x1A:
		for _, c := range []float64{e.coolant, e.air, 10.0, e.fuel} {
			k := u16(int((c + 273.2) * 10))
			data = append(data, k...)
			data = append(data, k...)
		}
	case 0x1B:
		supply := 5.0
		for _, v := range []float64{e.throttle, e.throttle * 2, supply - e.throttle, e.throttle / 2, supply} {
			data = append(data, millis(v)...)
		}
	case 0x1C:
		data = append(data, u16(int(1.013*10000))...)
		data = append(data, u16(0)...)
		data = append(data, u16(int(float64(e.rpm)/100*1000))...)
		data = append(data, u16(0)...)
	case 0x23:
		data = append(data, u16(int(e.boost*10000))...)
		data = append(data, u16(int(e.boost*10000))...)
	case 0x40:
		for i := 0; i < 5; i++ {
			data = append(data, u16(e.rand.Intn(401)-200)...)
		}
	default:
		return negative(obd.ServiceReadDataByLocalID, nrcRequestOutOfRange)
	}

	payload := append([]byte{byte(len(data) + 2), 0x61, id}, data...)
	return stamp(payload...)
}

// step advances the random walk by one request.
func (e *ECU) step() {
	e.rpm = clampInt(e.rpm+e.rand.Intn(201)-100, 600, 4000)
	e.speed = clampInt(e.speed+e.rand.Intn(5)-2, 0, 160)
	e.coolant = clamp(e.coolant+float64(e.rand.Intn(21)-10)*0.1, 60, 110)
	e.air = clamp(e.air+float64(e.rand.Intn(11)-5)*0.1, -10, 60)
	e.fuel = clamp(e.fuel+float64(e.rand.Intn(11)-5)*0.1, 0, 80)
	e.battery = clamp(e.battery+float64(e.rand.Intn(11)-5)*0.01, 12.0, 14.6)
	e.throttle = clamp(e.throttle+float64(e.rand.Intn(21)-10)*0.01, 0.4, 4.5)
	e.boost = clamp(float64(e.rpm)/2500, 1.0, 2.4)
}

func stamp(payload ...byte) []byte {
	return obd.Stamp(append(payload, 0x00))
}

func negative(service, code byte) []byte {
	return stamp(0x03, obd.NegativeResponseSID, service, code)
}

func u16(v int) []byte {
	return []byte{byte(uint16(v) >> 8), byte(v)}
}

func millis(v float64) []byte {
	return u16(int(v * 1000))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *ECU) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("mock ECU (rpm %d, coolant %.1f C)", e.rpm, e.coolant)
}
