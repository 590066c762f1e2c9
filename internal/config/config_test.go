package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8731" {
		t.Errorf("ListenAddr = %q, want :8731", cfg.ListenAddr)
	}
	if cfg.DataDir != "/var/lib/vfsd" {
		t.Errorf("DataDir = %q, want /var/lib/vfsd", cfg.DataDir)
	}
	if cfg.WatchInterval() != 3*time.Second {
		t.Errorf("WatchInterval = %v, want 3s", cfg.WatchInterval())
	}
	if cfg.MaxMessageSize != 32<<20 {
		t.Errorf("MaxMessageSize = %d, want %d", cfg.MaxMessageSize, 32<<20)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfsd.yaml")
	raw := []byte(`
listen_addr: ":9000"
data_dir: /tmp/vfsd-test
watch_interval_seconds: 7
extra_blacklist:
  - vendor
  - .cache
`)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", cfg.ListenAddr)
	}
	if cfg.DataDir != "/tmp/vfsd-test" {
		t.Errorf("DataDir = %q, want /tmp/vfsd-test", cfg.DataDir)
	}
	if cfg.WatchInterval() != 7*time.Second {
		t.Errorf("WatchInterval = %v, want 7s", cfg.WatchInterval())
	}
	if len(cfg.ExtraBlacklist) != 2 || cfg.ExtraBlacklist[0] != "vendor" {
		t.Errorf("ExtraBlacklist = %v", cfg.ExtraBlacklist)
	}
	// Untouched fields keep their defaults.
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want :9090", cfg.MetricsAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VFSD_LISTEN_ADDR", ":7777")
	t.Setenv("VFSD_WATCH_INTERVAL_SECONDS", "10")
	t.Setenv("VFSD_AUTH_TOKEN", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want :7777", cfg.ListenAddr)
	}
	if cfg.WatchInterval() != 10*time.Second {
		t.Errorf("WatchInterval = %v, want 10s", cfg.WatchInterval())
	}
	if cfg.AuthToken != "s3cret" {
		t.Errorf("AuthToken = %q, want s3cret", cfg.AuthToken)
	}
}

func TestValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("watch_interval_seconds: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for zero watch interval")
	}

	if err := os.WriteFile(path, []byte(`data_dir: ""`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty data_dir")
	}
}
