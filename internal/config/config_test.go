package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		ListenAddr:     ":9001",
		JWTSecret:      "s3cret",
		RingTimeoutMS:  5000,
		AllowedOrigins: []string{"https://desk.example.com"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ListenAddr != ":9001" || loaded.JWTSecret != "s3cret" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.RingTimeout() != 5*time.Second {
		t.Errorf("RingTimeout() = %v, want 5s", loaded.RingTimeout())
	}
	if len(loaded.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", loaded.AllowedOrigins)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestRingTimeoutDefault(t *testing.T) {
	cfg := &Config{}
	if cfg.RingTimeout() != 30*time.Second {
		t.Errorf("RingTimeout() = %v, want 30s fallback", cfg.RingTimeout())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
