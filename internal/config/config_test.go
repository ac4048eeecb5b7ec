package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := New()
	if c.TickInterval() != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", c.TickInterval())
	}
	if c.AutosaveInterval() != 15*time.Second {
		t.Errorf("AutosaveInterval = %v, want 15s", c.AutosaveInterval())
	}
	if c.StartDebounce != 3 {
		t.Errorf("StartDebounce = %d, want 3", c.StartDebounce)
	}
	if err := c.Governance.Validate(); err != nil {
		t.Errorf("default governance policy invalid: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENGINE_CONFIG", "")
	t.Setenv("ENGINE_TICK_INTERVAL_MS", "2000")
	t.Setenv("ENGINE_LOG_LEVEL", "debug")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickIntervalMs != 2000 {
		t.Errorf("TickIntervalMs = %d, want 2000", cfg.TickIntervalMs)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	body := []byte(`
log_level: warn
coin_unit_ms: 10000
governance:
  required_zone: hot
  min_participants: 2
  grace_period_ms: 30000
  challenge_min_interval_ms: 30000
  challenge_max_interval_ms: 90000
  challenge_ttl_ms: 20000
  challenges:
    - id: sprint
      title: Sprint!
      target_zone: hot
      weight: 2
profiles:
  - profile_id: alice
    display_name: Alice
    max_heart_rate: 187
device_owners:
  hrm-1: alice
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENGINE_CONFIG", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CoinUnit() != 10*time.Second {
		t.Errorf("CoinUnit = %v, want 10s", cfg.CoinUnit())
	}
	if cfg.Governance.RequiredZone != "hot" || cfg.Governance.MinParticipants != 2 {
		t.Errorf("governance not decoded: %+v", cfg.Governance)
	}
	if len(cfg.Governance.Challenges) != 1 || cfg.Governance.Challenges[0].ID != "sprint" {
		t.Errorf("challenge catalog not decoded: %+v", cfg.Governance.Challenges)
	}
	p, ok := cfg.ProfileByID("alice")
	if !ok || p.MaxHeartRate != 187 {
		t.Errorf("profile directory not decoded: %+v, ok=%v", p, ok)
	}
	if cfg.DeviceOwners["hrm-1"] != "alice" {
		t.Errorf("device_owners not decoded: %v", cfg.DeviceOwners)
	}
	// Defaults survive partial files.
	if cfg.TickIntervalMs != 5000 {
		t.Errorf("TickIntervalMs = %d, want default 5000", cfg.TickIntervalMs)
	}
}

func TestLoadRejectsBadCadence(t *testing.T) {
	t.Setenv("ENGINE_CONFIG", "")
	t.Setenv("ENGINE_TICK_INTERVAL_MS", "20000")
	t.Setenv("ENGINE_AUTOSAVE_INTERVAL_MS", "15000")

	if _, err := Load(context.Background()); err == nil {
		t.Fatal("expected error for autosave below tick interval")
	}
}
