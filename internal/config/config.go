// Package config holds the daemon's TOML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the deskhubd configuration file.
type Config struct {
	ListenAddr     string   `toml:"listen_addr"`
	DBPath         string   `toml:"db_path"`
	LogPath        string   `toml:"log_path"`
	JWTSecret      string   `toml:"jwt_secret"`
	RingTimeoutMS  int      `toml:"ring_timeout_ms"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// BaseDir returns ~/.deskhub.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".deskhub")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8990",
		DBPath:        filepath.Join(BaseDir(), "deskhub.db"),
		LogPath:       filepath.Join(BaseDir(), "logs", "deskhubd.log"),
		RingTimeoutMS: 30000,
	}
}

// RingTimeout is the bounded wait before an unanswered ring auto-declines.
func (c *Config) RingTimeout() time.Duration {
	if c.RingTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RingTimeoutMS) * time.Millisecond
}

// Load reads config from the given path. Returns an error if the file is
// missing; callers fall back to Default.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
