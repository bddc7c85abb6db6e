package debuglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"Warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelOff,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelOff.String() != "OFF" {
		t.Error("unexpected level strings")
	}
	if LogLevel(42).String() != "UNKNOWN" {
		t.Error("out-of-range level should stringify as UNKNOWN")
	}
}

func TestSetupWritesAtConfiguredLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	if err := Setup(LevelWarn, path); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer func() {
		Close()
		Setup(LevelOff, "")
	}()

	Debugf("below threshold %d", 1)
	Warnf("at threshold %d", 2)
	Errorf("above threshold %d", 3)

	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "below threshold") {
		t.Error("DEBUG message should be filtered at WARN level")
	}
	if !strings.Contains(out, "[WARN] at threshold 2") {
		t.Errorf("missing WARN line in output:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] above threshold 3") {
		t.Errorf("missing ERROR line in output:\n%s", out)
	}
}

func TestSetupOffDisablesLogging(t *testing.T) {
	if err := Setup(LevelOff, ""); err != nil {
		t.Fatalf("Setup(off) error = %v", err)
	}
	if GetLevel() != LevelOff {
		t.Errorf("GetLevel() = %v, want off", GetLevel())
	}
	// Must not panic with no logger configured.
	Infof("dropped")
}
