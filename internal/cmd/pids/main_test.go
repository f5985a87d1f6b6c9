package pids

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf))

	var doc struct {
		PIDs []Entry `yaml:"pids"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.PIDs, 14)

	start := doc.PIDs[0]
	assert.Equal(t, "start_communication", start.Name)
	assert.Equal(t, "81 13 F7 81 0C", start.Frame)
	assert.Equal(t, "0x81", start.Service)
	assert.True(t, start.Immediate)
	assert.Empty(t, start.Group)

	var battery Entry
	for _, e := range doc.PIDs {
		if e.Name == "battery_voltage" {
			battery = e
		}
	}
	assert.Equal(t, "02 21 10 33", battery.Frame)
	assert.Equal(t, "0x21", battery.Service)
	assert.Equal(t, "battery", battery.Group)
	assert.Equal(t, []string{"battery_voltage"}, battery.Fields)
}
