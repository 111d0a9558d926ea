package app

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/radiowatch/chanscan/internal/coord"
	"github.com/radiowatch/chanscan/internal/scan"
	"github.com/radiowatch/chanscan/internal/server"
	"github.com/radiowatch/chanscan/internal/worker"
)

const (
	ReceiverExec = "exec"
	ReceiverSim  = "sim"
)

// Duration accepts "250ms" style values in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}

	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the main application configuration
type Config struct {
	Settings  Settings         `yaml:"settings"`
	Scanner   ScannerConfig    `yaml:"scanner"`
	Receivers []ReceiverConfig `yaml:"receivers"`
	Defaults  ChannelDefaults  `yaml:"channelDefaults"`
	Channels  []ChannelConfig  `yaml:"channels"`
	Storage   StorageConfig    `yaml:"storage"`
	Control   server.Config    `yaml:"control"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level, defaulting to info.
func (s Settings) Level() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level '%s': %w", s.LogLevel, err)
	}
	return level, nil
}

// ScannerConfig tunes the scan control loop
type ScannerConfig struct {
	TickInterval         Duration `yaml:"tickInterval"`
	ScanTime             Duration `yaml:"scanTime"`
	MaxChannelsPerWindow int      `yaml:"maxChannelsPerWindow"`
	MaxSampleRate        int64    `yaml:"maxSampleRate"`
	LivenessTicks        int      `yaml:"livenessTicks"`
	NoiseFloorTC         Duration `yaml:"noiseFloorTimeConstant"`
	WarmupGrace          Duration `yaml:"warmupGrace"`
}

func (c ScannerConfig) coordConfig() coord.Config {
	return coord.Config{
		TickInterval:         c.TickInterval.Std(),
		ScanTime:             c.ScanTime.Std(),
		MaxChannelsPerWindow: c.MaxChannelsPerWindow,
		MaxSampleRate:        c.MaxSampleRate,
		LivenessTicks:        c.LivenessTicks,
		NoiseFloorTC:         c.NoiseFloorTC.Std(),
		WarmupGrace:          c.WarmupGrace.Std(),
	}
}

// ReceiverConfig represents a single receiver worker configuration
type ReceiverConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Enabled bool              `yaml:"enabled"`
	Exec    worker.ProcConfig `yaml:"exec"`
	Sim     SimSettings       `yaml:"sim"`
}

// SimSettings configures a simulated receiver
type SimSettings struct {
	SampleRates []int64  `yaml:"sampleRates"`
	Interval    Duration `yaml:"interval"`
	NoiseFloor  float64  `yaml:"noiseFloor"`
	BurstEvery  Duration `yaml:"burstEvery"`
	BurstLength Duration `yaml:"burstLength"`
}

func (s SimSettings) simConfig() worker.SimConfig {
	return worker.SimConfig{
		SampleRates: s.SampleRates,
		Interval:    s.Interval.Std(),
		NoiseFloor:  s.NoiseFloor,
		BurstEvery:  s.BurstEvery.Std(),
		BurstLength: s.BurstLength.Std(),
	}
}

// ChannelDefaults are applied to channels that leave a field unset
type ChannelDefaults struct {
	Mode      string   `yaml:"mode"`
	Squelch   float64  `yaml:"squelch"` // dB above noise floor
	DwellTime Duration `yaml:"dwellTime"`
	AudioGain float64  `yaml:"audioGain"`
}

// ChannelConfig represents a single monitored channel. Frequency is in
// MHz; pointer fields fall back to the channel defaults when nil.
type ChannelConfig struct {
	Label     string    `yaml:"label"`
	Frequency float64   `yaml:"frequency"`
	Mode      string    `yaml:"mode"`
	Squelch   *float64  `yaml:"squelch"`
	DwellTime *Duration `yaml:"dwellTime"`
	AudioGain *float64  `yaml:"audioGain"`
	Enabled   *bool     `yaml:"enabled"`
	Muted     bool      `yaml:"muted"`
}

// StorageConfig represents session recording settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// LoadConfig reads and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Defaults.Mode == "" {
		config.Defaults.Mode = string(scan.ModeFM)
	}
	if config.Defaults.Squelch == 0 {
		config.Defaults.Squelch = 10
	}
	if config.Defaults.DwellTime == 0 {
		config.Defaults.DwellTime = Duration(3 * time.Second)
	}
	if config.Defaults.AudioGain == 0 {
		config.Defaults.AudioGain = 1
	}

	if len(config.Channels) == 0 {
		return nil, fmt.Errorf("no channels configured")
	}
	if len(config.Receivers) == 0 {
		return nil, fmt.Errorf("no receivers configured")
	}

	return &config, nil
}

// BuildChannels materializes the channel table, merging per-channel
// overrides over the defaults. Channel ids are assigned here and stay
// stable for the lifetime of the process.
func (c *Config) BuildChannels() ([]*scan.Channel, error) {
	channels := make([]*scan.Channel, 0, len(c.Channels))
	seen := make(map[string]bool, len(c.Channels))

	for i, cc := range c.Channels {
		if cc.Label == "" {
			return nil, fmt.Errorf("channel %d: no label", i)
		}
		if seen[cc.Label] {
			return nil, fmt.Errorf("channel %d: duplicate label '%s'", i, cc.Label)
		}
		seen[cc.Label] = true

		if cc.Frequency <= 0 {
			return nil, fmt.Errorf("channel '%s': invalid frequency %f", cc.Label, cc.Frequency)
		}

		modeName := cc.Mode
		if modeName == "" {
			modeName = c.Defaults.Mode
		}
		mode, err := scan.ParseMode(modeName)
		if err != nil {
			return nil, fmt.Errorf("channel '%s': %w", cc.Label, err)
		}

		ch := scan.Channel{
			ID:        uuid.NewString(),
			Label:     cc.Label,
			Frequency: int64(math.Round(cc.Frequency * 1e6)),
			Mode:      mode,
			Squelch:   c.Defaults.Squelch,
			DwellTime: c.Defaults.DwellTime.Std(),
			AudioGain: c.Defaults.AudioGain,
			Enabled:   true,
			Muted:     cc.Muted,
		}
		if cc.Squelch != nil {
			ch.Squelch = *cc.Squelch
		}
		if cc.DwellTime != nil {
			ch.DwellTime = cc.DwellTime.Std()
		}
		if cc.AudioGain != nil {
			ch.AudioGain = *cc.AudioGain
		}
		if cc.Enabled != nil {
			ch.Enabled = *cc.Enabled
		}

		channels = append(channels, &ch)
	}

	return channels, nil
}
