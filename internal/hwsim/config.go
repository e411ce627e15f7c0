package hwsim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config describes one simulated control service instance.
type Config struct {
	// Listen is the host:port the RPC listener binds.
	Listen string `yaml:"listen"`

	// MetricsListen, when non-empty, is where the daemon serves Prometheus
	// metrics over HTTP.
	MetricsListen string `yaml:"metricsListen"`

	// Version is the string reported by get_version.
	Version string `yaml:"version"`

	// TokenTTLSec bounds the lifetime of claimed session tokens.
	TokenTTLSec int `yaml:"tokenTtlSec"`

	// Log settings used by the daemon. A non-empty LogFile switches the
	// daemon from stderr to a size-rotated file.
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	LogFile       string `yaml:"logFile"`
	LogMaxSizeMB  int    `yaml:"logMaxSizeMb"`
	LogMaxBackups int    `yaml:"logMaxBackups"`

	// Slots lists the daughterboards the service exposes. Each slot's
	// procedures are prefixed db_<bus>_.
	Slots []SlotConfig `yaml:"slots"`

	// Faults forces the listed procedures to fail, for exercising client
	// failure paths. Procedures not listed behave normally.
	Faults []FaultConfig `yaml:"faults"`
}

// SlotConfig models the tuning capabilities of one daughterboard.
type SlotConfig struct {
	Letter    string     `yaml:"letter"`
	Bus       int        `yaml:"bus"`
	LOStepHz  float64    `yaml:"loStepHz"`
	FreqMinHz float64    `yaml:"freqMinHz"`
	FreqMaxHz float64    `yaml:"freqMaxHz"`
	InitialHz float64    `yaml:"initialHz"`
	RXGain    GainConfig `yaml:"rxGain"`
	TXGain    GainConfig `yaml:"txGain"`
}

// GainConfig bounds one direction's gain control.
type GainConfig struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// FaultConfig forces one procedure to fail with a fixed error.
type FaultConfig struct {
	Method  string `yaml:"method"`
	Code    int    `yaml:"code"`
	Message string `yaml:"message"`
}

// DefaultConfig mirrors the reference hardware: one daughterboard in slot
// A on bus 0, tunable 300 MHz to 6 GHz, RX gain 0-30 dB in 0.5 dB steps,
// TX gain 0-41.95 dB in 0.05 dB steps.
func DefaultConfig() Config {
	return Config{
		Listen:        "0.0.0.0:49601",
		Version:       "2.4.1",
		TokenTTLSec:   3600,
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  20,
		LogMaxBackups: 3,
		Slots:         []SlotConfig{defaultSlot("A", 0)},
	}
}

func defaultSlot(letter string, bus int) SlotConfig {
	return SlotConfig{
		Letter:    letter,
		Bus:       bus,
		LOStepHz:  1,
		FreqMinHz: 300e6,
		FreqMaxHz: 6e9,
		InitialHz: 2.5e9,
		RXGain:    GainConfig{Min: 0, Max: 30, Step: 0.5},
		TXGain:    GainConfig{Min: 0, Max: 41.95, Step: 0.05},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the validated defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// TokenTTL returns the configured session lifetime.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSec) * time.Second
}

// normalize fills zero fields with defaults, so partial YAML files and
// hand-built test configs need only name what they change.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.TokenTTLSec == 0 {
		c.TokenTTLSec = def.TokenTTLSec
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = def.LogMaxSizeMB
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = def.LogMaxBackups
	}
	if len(c.Slots) == 0 {
		c.Slots = def.Slots
	}
	for i := range c.Slots {
		s := &c.Slots[i]
		ref := defaultSlot(s.Letter, s.Bus)
		if s.LOStepHz <= 0 {
			s.LOStepHz = ref.LOStepHz
		}
		if s.FreqMinHz <= 0 {
			s.FreqMinHz = ref.FreqMinHz
		}
		if s.FreqMaxHz <= 0 {
			s.FreqMaxHz = ref.FreqMaxHz
		}
		if s.InitialHz <= 0 {
			s.InitialHz = ref.InitialHz
		}
		if s.RXGain == (GainConfig{}) {
			s.RXGain = ref.RXGain
		}
		if s.TXGain == (GainConfig{}) {
			s.TXGain = ref.TXGain
		}
	}
	for i := range c.Faults {
		if c.Faults[i].Code == 0 {
			c.Faults[i].Code = codeInjectedFault
		}
		if c.Faults[i].Message == "" {
			c.Faults[i].Message = "injected fault"
		}
	}
}

func (c Config) validate() error {
	if c.TokenTTLSec <= 0 {
		return fmt.Errorf("token TTL %d must be positive", c.TokenTTLSec)
	}
	letters := make(map[string]bool, len(c.Slots))
	buses := make(map[int]bool, len(c.Slots))
	for _, s := range c.Slots {
		if len(s.Letter) != 1 || s.Letter[0] < 'A' || s.Letter[0] > 'D' {
			return fmt.Errorf("slot letter %q must be a single letter A through D", s.Letter)
		}
		if s.Bus != 0 && s.Bus != 1 {
			return fmt.Errorf("slot %s: bus %d must be 0 or 1", s.Letter, s.Bus)
		}
		if letters[s.Letter] {
			return fmt.Errorf("slot letter %s configured twice", s.Letter)
		}
		if buses[s.Bus] {
			return fmt.Errorf("bus %d configured twice", s.Bus)
		}
		letters[s.Letter] = true
		buses[s.Bus] = true
		if s.FreqMinHz >= s.FreqMaxHz {
			return fmt.Errorf("slot %s: frequency range [%g, %g] is empty", s.Letter, s.FreqMinHz, s.FreqMaxHz)
		}
		if s.InitialHz < s.FreqMinHz || s.InitialHz > s.FreqMaxHz {
			return fmt.Errorf("slot %s: initial frequency %g outside [%g, %g]", s.Letter, s.InitialHz, s.FreqMinHz, s.FreqMaxHz)
		}
		for _, g := range []GainConfig{s.RXGain, s.TXGain} {
			if g.Min > g.Max || g.Step <= 0 {
				return fmt.Errorf("slot %s: gain range {%g %g %g} is malformed", s.Letter, g.Min, g.Max, g.Step)
			}
		}
	}
	for _, f := range c.Faults {
		if f.Method == "" {
			return fmt.Errorf("fault entry without a method")
		}
	}
	return nil
}
