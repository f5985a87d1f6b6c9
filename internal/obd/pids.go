package obd

import (
	"fmt"
	"strings"
)

// PID is one diagnostic request and the number of bytes the ECU answers with,
// trailing checksum included. The last byte of Request is the checksum slot.
type PID struct {
	Name        string
	Request     []byte
	ResponseLen int
	// Immediate frames are sent without the inter-request settling delay.
	Immediate bool
}

// Service identifiers used by the catalog.
const (
	ServiceStartCommunication byte = 0x81
	ServiceStartDiagnostic    byte = 0x10
	ServiceSecurityAccess     byte = 0x27
	ServiceReadDataByLocalID  byte = 0x21
	NegativeResponseSID       byte = 0x7F
	PositiveResponseOffset    byte = 0x40
	SecurityAccessRequestSeed byte = 0x01
	SecurityAccessSendKey     byte = 0x02
	DiagnosticSessionExtended byte = 0xA0
)

// Protocol constants. These have to match the ECU firmware byte for byte.
var (
	PIDInitFrame        = PID{Name: "start_communication", Request: []byte{0x81, 0x13, 0xF7, 0x81, 0x0C}, ResponseLen: 7, Immediate: true}
	PIDABSInitFrame     = PID{Name: "start_communication_abs", Request: []byte{0x81, 0x29, 0xF7, 0x81, 0x0C}, ResponseLen: 7, Immediate: true}
	PIDStartDiagnostics = PID{Name: "start_diagnostic_session", Request: []byte{0x02, 0x10, 0xA0, 0xB2}, ResponseLen: 3}
	PIDRequestSeed      = PID{Name: "request_seed", Request: []byte{0x02, 0x27, 0x01, 0x2A}, ResponseLen: 6}
	PIDSendKey          = PID{Name: "send_key", Request: []byte{0x04, 0x27, 0x02, 0x00, 0x00, 0x00}, ResponseLen: 4}
	PIDBatteryVoltage   = PID{Name: "battery_voltage", Request: []byte{0x02, 0x21, 0x10, 0x00}, ResponseLen: 8}
	PIDEngineRPM        = PID{Name: "engine_rpm", Request: []byte{0x02, 0x21, 0x09, 0x00}, ResponseLen: 6}
	PIDVehicleSpeed     = PID{Name: "vehicle_speed", Request: []byte{0x02, 0x21, 0x0D, 0x00}, ResponseLen: 5}
	PIDRPMError         = PID{Name: "rpm_error", Request: []byte{0x02, 0x21, 0x21, 0x00}, ResponseLen: 6}
	PIDTemperatures     = PID{Name: "temperatures", Request: []byte{0x02, 0x21, 0x1A, 0x00}, ResponseLen: 20}
	PIDThrottle         = PID{Name: "throttle", Request: []byte{0x02, 0x21, 0x1B, 0x00}, ResponseLen: 14}
	PIDPressureAirflow  = PID{Name: "aap_maf", Request: []byte{0x02, 0x21, 0x1C, 0x00}, ResponseLen: 12}
	PIDPressures        = PID{Name: "pressures", Request: []byte{0x02, 0x21, 0x23, 0x00}, ResponseLen: 8}
	PIDPowerBalance     = PID{Name: "power_balance", Request: []byte{0x02, 0x21, 0x40, 0x00}, ResponseLen: 14}
)

// Catalog lists every known PID in wire order of a full session.
var Catalog = []PID{
	PIDInitFrame,
	PIDABSInitFrame,
	PIDStartDiagnostics,
	PIDRequestSeed,
	PIDSendKey,
	PIDBatteryVoltage,
	PIDEngineRPM,
	PIDVehicleSpeed,
	PIDRPMError,
	PIDTemperatures,
	PIDThrottle,
	PIDPressureAirflow,
	PIDPressures,
	PIDPowerBalance,
}

// Frame returns a stamped copy of the request.
func (p PID) Frame() []byte {
	return Stamp(p.Request)
}

// Service returns the service identifier of the request. Length-prefixed
// requests carry it at index 1, format-byte requests (0x8X) at index 3.
func (p PID) Service() byte {
	if len(p.Request) == 0 {
		return 0
	}
	if p.Request[0]&0x80 != 0 && len(p.Request) > 3 {
		return p.Request[3]
	}
	if len(p.Request) > 1 {
		return p.Request[1]
	}
	return 0
}

// WithKey returns a SendKey PID carrying hi and lo in the key slots.
func (p PID) WithKey(hi, lo byte) PID {
	req := make([]byte, len(p.Request))
	copy(req, p.Request)
	if len(req) >= 6 {
		req[3] = hi
		req[4] = lo
	}
	p.Request = req
	return p
}

// ExpectedLen is the number of bytes read back for this request: the echo
// plus the response.
func (p PID) ExpectedLen() int {
	return len(p.Request) + p.ResponseLen
}

func (p PID) String() string {
	return fmt.Sprintf("%s [%s]", p.Name, HexString(p.Frame()))
}

// Lookup finds a catalog PID by name.
func Lookup(name string) (PID, bool) {
	for _, p := range Catalog {
		if p.Name == name {
			return p, true
		}
	}
	return PID{}, false
}

// HexString renders b as space separated upper case hex pairs.
func HexString(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
