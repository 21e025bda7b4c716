package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Audio.PeriodFrames != 480 || cfg.Mode != "shared" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	cfg.Mode = "exclusive"
	cfg.Devices = DeviceConfig{InputA: "mic", InputB: "line", Output: "phones"}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if got.Mode != "exclusive" || got.Devices != cfg.Devices {
		t.Errorf("reloaded %+v, want %+v", got, cfg)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"audio": {"period_frames": 256}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Audio.PeriodFrames != 256 {
		t.Errorf("period_frames = %d, want 256", cfg.Audio.PeriodFrames)
	}
	if cfg.Audio.RingSlots != 4 || cfg.Backend != "auto" {
		t.Errorf("defaults lost for unset fields: %+v", cfg)
	}
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() accepted invalid JSON")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown backend", func(c *Config) { c.Backend = "alsa" }, false},
		{"unknown mode", func(c *Config) { c.Mode = "loud" }, false},
		{"negative period", func(c *Config) { c.Audio.PeriodFrames = -1 }, false},
		{"single ring slot", func(c *Config) { c.Audio.RingSlots = 1 }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, false},
		{"wavfile without paths", func(c *Config) { c.Backend = "wavfile" }, false},
		{"wavfile with paths", func(c *Config) {
			c.Backend = "wavfile"
			c.Wav.Dir, c.Wav.Out = "in", "out.wav"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want an error")
			}
		})
	}
}

func TestValidateNormalisesNames(t *testing.T) {
	cfg := Default()
	cfg.Backend = " WavFile"
	cfg.Mode = "Exclusive"
	cfg.Wav.Dir, cfg.Wav.Out = "in", "out.wav"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Backend != "wavfile" || cfg.Mode != "exclusive" {
		t.Errorf("backend=%q mode=%q, want lower case", cfg.Backend, cfg.Mode)
	}
}

func TestValidateAllowsZeroLag(t *testing.T) {
	cfg := Default()
	cfg.Audio.LagLimit = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Audio.LagLimit != 0 {
		t.Errorf("lag_limit = %d, want 0 kept", cfg.Audio.LagLimit)
	}
}
