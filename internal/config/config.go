package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"klinelog/internal/obd"
	"klinelog/internal/obd/serial"
	"klinelog/internal/poller"

	"github.com/spf13/viper"
)

// Config is the startup configuration, assembled by viper from flags,
// KLINELOG_* environment variables and an optional YAML file.
type Config struct {
	Debug        bool          `mapstructure:"debug"`
	Mock         bool          `mapstructure:"mock"`
	Port         string        `mapstructure:"port"`
	VID          string        `mapstructure:"vid"`
	PID          string        `mapstructure:"pid"`
	Baud         int           `mapstructure:"baud"`
	Protocol     string        `mapstructure:"protocol"`
	Target       string        `mapstructure:"target"`
	Address      string        `mapstructure:"address"`
	MaxAttempts  uint          `mapstructure:"max-attempts"`
	AttemptDelay time.Duration `mapstructure:"attempt-delay"`
	RequestDelay time.Duration `mapstructure:"request-delay"`
	ReadTimeout  time.Duration `mapstructure:"read-timeout"`
	LogDir       string        `mapstructure:"log-dir"`
	Archive      bool          `mapstructure:"archive"`
	Listen       string        `mapstructure:"listen"`
	Groups       []string      `mapstructure:"groups"`
	Cycles       int           `mapstructure:"cycles"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("mock", false)
	v.SetDefault("port", "")
	v.SetDefault("vid", serial.DefaultVID)
	v.SetDefault("pid", serial.DefaultPID)
	v.SetDefault("baud", obd.BaudRate)
	v.SetDefault("protocol", "fast")
	v.SetDefault("target", "engine")
	v.SetDefault("address", fmt.Sprintf("0x%02X", obd.DefaultAddress))
	v.SetDefault("max-attempts", obd.DefaultMaxAttempts)
	v.SetDefault("attempt-delay", obd.DefaultAttemptDelay)
	v.SetDefault("request-delay", obd.DefaultRequestDelay)
	v.SetDefault("read-timeout", obd.DefaultReadTimeout)
	v.SetDefault("log-dir", ".")
	v.SetDefault("archive", false)
	v.SetDefault("listen", "")
	v.SetDefault("groups", []string{})
	v.SetDefault("cycles", 0)
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, err := obd.ParseVariant(c.Protocol); err != nil {
		return err
	}
	if _, err := startFrame(c.Target); err != nil {
		return err
	}
	if _, err := parseAddress(c.Address); err != nil {
		return err
	}
	if _, err := poller.SelectGroups(c.Groups); err != nil {
		return err
	}
	if c.Cycles < 0 {
		return errors.New("cycles must not be negative")
	}
	return c.Session().Validate()
}

// Session builds the protocol engine configuration. Call Validate first:
// unparsable values fall back to defaults here.
func (c Config) Session() obd.Config {
	cfg := obd.DefaultConfig()
	if v, err := obd.ParseVariant(c.Protocol); err == nil {
		cfg.Variant = v
	}
	if f, err := startFrame(c.Target); err == nil {
		cfg.StartFrame = f
	}
	if a, err := parseAddress(c.Address); err == nil {
		cfg.Address = a
	}
	cfg.BaudRate = c.Baud
	cfg.MaxAttempts = c.MaxAttempts
	cfg.AttemptDelay = c.AttemptDelay
	cfg.RequestDelay = c.RequestDelay
	cfg.ReadTimeout = c.ReadTimeout
	return cfg
}

// Serial builds the adapter options.
func (c Config) Serial() serial.Options {
	return serial.Options{
		Port: c.Port,
		VID:  c.VID,
		PID:  c.PID,
	}
}

func startFrame(target string) (obd.PID, error) {
	switch strings.ToLower(target) {
	case "", "engine":
		return obd.PIDInitFrame, nil
	case "abs":
		return obd.PIDABSInitFrame, nil
	}
	return obd.PID{}, fmt.Errorf("unknown target %q (engine, abs)", target)
}

func parseAddress(s string) (byte, error) {
	if s == "" {
		return obd.DefaultAddress, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return byte(v), nil
}
