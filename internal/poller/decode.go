package poller

import (
	"fmt"

	"klinelog/internal/models"
	"klinelog/internal/obd"
)

// Kelvin offset used by the ECU for its temperature block (tenths of K).
const kelvinOffset = 273.2

// Decoder turns an echo-stripped response into readings. It returns an
// error when the response is too short for its fixed offsets.
type Decoder func(resp []byte) ([]models.Reading, error)

// Group pairs a PID with the decoder for its response.
type Group struct {
	Name   string
	PID    obd.PID
	Decode Decoder
}

// field describes one value at a fixed big-endian offset.
type field struct {
	name   string
	unit   string
	offset int
	width  int // 1 or 2 bytes
	signed bool
	scale  float64
	bias   float64
	format string
}

func (f field) decode(resp []byte) (models.Reading, error) {
	if f.offset+f.width > len(resp) {
		return models.Reading{}, fmt.Errorf("%s: response has %d bytes, need %d", f.name, len(resp), f.offset+f.width)
	}

	var raw float64
	switch {
	case f.width == 1:
		raw = float64(resp[f.offset])
	case f.signed:
		raw = float64(int16(be16(resp, f.offset)))
	default:
		raw = float64(be16(resp, f.offset))
	}

	scale := f.scale
	if scale == 0 {
		scale = 1
	}
	return models.Reading{
		Name:   f.name,
		Unit:   f.unit,
		Value:  raw/scale - f.bias,
		Format: f.format,
	}, nil
}

func be16(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}

func fields(fs ...field) Decoder {
	return func(resp []byte) ([]models.Reading, error) {
		out := make([]models.Reading, 0, len(fs))
		for _, f := range fs {
			r, err := f.decode(resp)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}
}

func temperature(name string, offset int) field {
	return field{name: name, unit: "C", offset: offset, width: 2, scale: 10, bias: kelvinOffset, format: "%06.2f"}
}

func volts(name string, offset int, scale float64) field {
	return field{name: name, unit: "V", offset: offset, width: 2, scale: scale, format: "%06.2f"}
}

// DefaultGroups is the polling order of a full cycle.
var DefaultGroups = []Group{
	{
		Name:   "battery",
		PID:    obd.PIDBatteryVoltage,
		Decode: fields(volts("battery_voltage", 5, 1000)),
	},
	{
		Name:   "rpm",
		PID:    obd.PIDEngineRPM,
		Decode: fields(field{name: "engine_rpm", unit: "rpm", offset: 3, width: 2, format: "%06d"}),
	},
	{
		Name:   "speed",
		PID:    obd.PIDVehicleSpeed,
		Decode: fields(field{name: "vehicle_speed", unit: "km/h", offset: 3, width: 1, format: "%03d"}),
	},
	{
		Name:   "rpm_error",
		PID:    obd.PIDRPMError,
		Decode: fields(field{name: "rpm_error", unit: "rpm", offset: 3, width: 2, format: "%06d"}),
	},
	{
		Name: "temperatures",
		PID:  obd.PIDTemperatures,
		Decode: fields(
			temperature("coolant_temp", 3),
			temperature("air_temp", 7),
			temperature("external_temp", 11),
			temperature("fuel_temp", 15),
		),
	},
	{
		Name: "throttle",
		PID:  obd.PIDThrottle,
		Decode: fields(
			volts("throttle_p1", 3, 1000),
			volts("throttle_p2", 5, 1000),
			volts("throttle_p3", 7, 1000),
			volts("throttle_p4", 9, 1000),
			volts("throttle_supply", 11, 1000),
		),
	},
	{
		Name: "aap_maf",
		PID:  obd.PIDPressureAirflow,
		Decode: fields(
			field{name: "ambient_pressure", unit: "bar", offset: 3, width: 2, scale: 10000, format: "%06.2f"},
			field{name: "mass_airflow", unit: "kg/h", offset: 7, width: 2, scale: 1000, format: "%06.2f"},
		),
	},
	{
		Name: "pressures",
		PID:  obd.PIDPressures,
		Decode: fields(
			field{name: "manifold_pressure_1", unit: "bar", offset: 3, width: 2, scale: 10000, format: "%06.2f"},
			field{name: "manifold_pressure_2", unit: "bar", offset: 5, width: 2, scale: 10000, format: "%06.2f"},
		),
	},
	{
		Name: "power_balance",
		PID:  obd.PIDPowerBalance,
		Decode: fields(
			field{name: "power_balance_1", offset: 3, width: 2, signed: true, scale: 1000, format: "%06.2f"},
			field{name: "power_balance_2", offset: 5, width: 2, signed: true, scale: 1000, format: "%06.2f"},
			field{name: "power_balance_3", offset: 7, width: 2, signed: true, scale: 1000, format: "%06.2f"},
			field{name: "power_balance_4", offset: 9, width: 2, signed: true, scale: 1000, format: "%06.2f"},
			field{name: "power_balance_5", offset: 11, width: 2, signed: true, scale: 1000, format: "%06.2f"},
		),
	},
}

// SelectGroups returns the default groups named in names, in polling order.
// An empty list selects all of them.
func SelectGroups(names []string) ([]Group, error) {
	if len(names) == 0 {
		return DefaultGroups, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := groupByName(n); !ok {
			return nil, fmt.Errorf("unknown polling group %q", n)
		}
		want[n] = true
	}
	out := make([]Group, 0, len(want))
	for _, g := range DefaultGroups {
		if want[g.Name] {
			out = append(out, g)
		}
	}
	return out, nil
}

func groupByName(name string) (Group, bool) {
	for _, g := range DefaultGroups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// GroupNames lists the default group names in polling order.
func GroupNames() []string {
	names := make([]string, 0, len(DefaultGroups))
	for _, g := range DefaultGroups {
		names = append(names, g.Name)
	}
	return names
}

// FieldNames lists the readings a group produces, in order.
func FieldNames(g Group) []string {
	readings, err := g.Decode(make([]byte, g.PID.ResponseLen))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(readings))
	for _, r := range readings {
		names = append(names, r.Name)
	}
	return names
}
