package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gridpilot/accounting-engine/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
simulation:
  start_slot: 360
  timeslot_ms: 3600000
  phase_timeout_ms: 5000
tariff:
  min_rate: "0.01"
  max_rate: "2.5"
  publication_fee: "1.5"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Simulation.StartSlot != 360 {
		t.Errorf("expected start slot 360, got %d", cfg.Simulation.StartSlot)
	}
	if cfg.Tariff.MaxRate.String() != "2.5" {
		t.Errorf("expected max rate 2.5, got %s", cfg.Tariff.MaxRate)
	}
	// Unset values take defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://env/override")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env/override" {
		t.Errorf("expected env database url, got %s", cfg.Database.URL)
	}
}

func TestLoad_RejectsBadTimings(t *testing.T) {
	path := writeConfig(t, `
simulation:
  timeslot_ms: 1000
  phase_timeout_ms: 2000
`)
	if _, err := config.Load(path); err == nil {
		t.Error("expected error when phase timeout exceeds the timeslot interval")
	}
}

func TestLoad_RejectsInvertedRateBounds(t *testing.T) {
	path := writeConfig(t, `
tariff:
  min_rate: "5"
  max_rate: "1"
`)
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for min rate above max rate")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration must validate: %v", err)
	}
}
