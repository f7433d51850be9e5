package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v, filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ControllerPath != "vmctl" {
		t.Errorf("expected default controller path, got %q", cfg.ControllerPath)
	}
	if cfg.HoldTTL != 10*time.Second {
		t.Errorf("expected default hold ttl, got %v", cfg.HoldTTL)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "controller_path: /opt/vmctl/bin/vmctl\nmax_in_flight: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	v := viper.New()
	cfg, err := Load(v, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ControllerPath != "/opt/vmctl/bin/vmctl" {
		t.Errorf("expected file override, got %q", cfg.ControllerPath)
	}
	if cfg.MaxInFlight != 5 {
		t.Errorf("expected file override for max_in_flight, got %d", cfg.MaxInFlight)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("controller_path: /from/file\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	t.Setenv("KBTAP_CONTROLLER_PATH", "/from/env")

	v := viper.New()
	cfg, err := Load(v, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ControllerPath != "/from/env" {
		t.Errorf("expected env override to win over file, got %q", cfg.ControllerPath)
	}
}

func TestCorrelatorConfigProjection(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v, filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cc := cfg.CorrelatorConfig()
	if cc.HoldTTL != cfg.HoldTTL || cc.InitialWindow != cfg.InitialWindow {
		t.Errorf("correlator config projection mismatch: %+v vs %+v", cc, cfg)
	}
}
