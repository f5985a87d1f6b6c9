package models

import (
	"fmt"
	"strings"
	"time"
)

// Reading is one decoded physical value.
type Reading struct {
	Name   string  `json:"name" cbor:"1,keyasint"`
	Unit   string  `json:"unit,omitempty" cbor:"2,keyasint,omitempty"`
	Value  float64 `json:"value" cbor:"3,keyasint"`
	Format string  `json:"-" cbor:"4,keyasint,omitempty"`
}

// String renders the value with its fixed-width log format.
func (r Reading) String() string {
	switch {
	case r.Format == "":
		return fmt.Sprintf("%g", r.Value)
	case strings.HasSuffix(r.Format, "d"):
		return fmt.Sprintf(r.Format, int64(r.Value))
	default:
		return fmt.Sprintf(r.Format, r.Value)
	}
}

// Record is the output of one polling cycle. Groups that failed during the
// cycle are simply absent, so the number of readings varies.
type Record struct {
	Time     time.Time     `json:"time" cbor:"1,keyasint"`
	Elapsed  time.Duration `json:"elapsed" cbor:"2,keyasint"`
	Readings []Reading     `json:"readings" cbor:"3,keyasint"`
}

// ElapsedField is the fixed-width elapsed seconds column.
func (r Record) ElapsedField() string {
	return fmt.Sprintf("%010.3f", r.Elapsed.Seconds())
}

// Line is the space separated log line, without the trailing newline.
func (r Record) Line() string {
	fields := make([]string, 0, len(r.Readings)+1)
	fields = append(fields, r.ElapsedField())
	for _, rd := range r.Readings {
		fields = append(fields, rd.String())
	}
	return strings.Join(fields, " ")
}

// Get returns the first reading with the given name.
func (r Record) Get(name string) (Reading, bool) {
	for _, rd := range r.Readings {
		if rd.Name == name {
			return rd, true
		}
	}
	return Reading{}, false
}
