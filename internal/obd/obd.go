package obd

import "fmt"

// State is the lifecycle of a diagnostic session.
type State int

const (
	Disconnected State = iota
	Initializing
	SecurityPending
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Initializing:
		return "initializing"
	case SecurityPending:
		return "security-pending"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Variant selects the wake-up sequence. It is fixed by deployment, never
// negotiated with the ECU.
type Variant int

const (
	FastInit Variant = iota
	SlowInit
)

func (v Variant) String() string {
	if v == SlowInit {
		return "slow"
	}
	return "fast"
}

// ParseVariant accepts "fast" or "slow".
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "fast", "":
		return FastInit, nil
	case "slow":
		return SlowInit, nil
	default:
		return FastInit, fmt.Errorf("unknown init variant %q", s)
	}
}
