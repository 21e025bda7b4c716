package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	Backend string        `json:"backend"` // "auto", "malgo", "portaudio" or "wavfile"
	Mode    string        `json:"mode"`    // "shared" or "exclusive"
	Devices DeviceConfig  `json:"devices"`
	Audio   AudioConfig   `json:"audio"`
	Wav     WavConfig     `json:"wav"`
	Metrics MetricsConfig `json:"metrics"`

	LogLevel   string `json:"log_level"`
	StartOnRun bool   `json:"start_on_run"`

	path string
}

// DeviceConfig holds the last selected devices, by id.
type DeviceConfig struct {
	InputA string `json:"input_a"`
	InputB string `json:"input_b"`
	Output string `json:"output"`
}

type AudioConfig struct {
	PeriodFrames int `json:"period_frames"`
	FallbackRate int `json:"fallback_rate"` // used when the output accepts any rate
	RingSlots    int `json:"ring_slots"`
	LagLimit     int `json:"lag_limit"` // stale blocks kept per input; 0 mixes only the newest
}

// WavConfig configures the file backend.
type WavConfig struct {
	Dir      string `json:"dir"`
	Out      string `json:"out"`
	Rate     int    `json:"rate"`
	Channels int    `json:"channels"`
}

type MetricsConfig struct {
	Addr string `json:"addr"` // empty disables the exporter
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Backend: "auto",
		Mode:    "shared",
		Audio: AudioConfig{
			PeriodFrames: 480,
			FallbackRate: 48000,
			RingSlots:    4,
			LagLimit:     1,
		},
		Wav: WavConfig{
			Rate:     48000,
			Channels: 2,
		},
		LogLevel: "info",
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads the config at path. A missing file yields defaults that
// will be saved to path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// Validate lower-cases the backend and mode names and reports the first
// invalid setting.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))

	switch c.Backend {
	case "", "auto", "malgo", "portaudio", "wavfile":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	switch c.Mode {
	case "", "shared", "exclusive":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Audio.PeriodFrames < 0 || c.Audio.RingSlots < 0 || c.Audio.LagLimit < 0 || c.Audio.FallbackRate < 0 {
		return errors.New("config: audio settings must not be negative")
	}
	if c.Audio.RingSlots > 0 && c.Audio.RingSlots < 2 {
		return errors.New("config: ring_slots must be at least 2")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.Backend == "wavfile" && (c.Wav.Dir == "" || c.Wav.Out == "") {
		return errors.New("config: wavfile backend needs wav.dir and wav.out")
	}
	return nil
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "externalcue", "config.json")
}
