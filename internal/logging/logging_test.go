package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithLevelWritesLogFile(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("log location is only redirected through XDG_STATE_HOME on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	log := NewWithLevel("debug")
	if log.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %s, want debug", log.GetLevel())
	}
	log.Debug().Msg("routing test")

	data, err := os.ReadFile(filepath.Join(dir, "externalcue", "externalcue.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "routing test") {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestNewWithLevelUnknownFallsBackToInfo(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	if got := NewWithLevel("chatty").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("level = %s, want info", got)
	}
}
