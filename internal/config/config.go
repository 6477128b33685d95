package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr        string `toml:"addr"`
	MaxUploadMB int    `toml:"max_upload_mb"`
}

type PipelineConfig struct {
	StrictParams bool     `toml:"strict_params"`
	Quality      bool     `toml:"quality"`
	Sessions     bool     `toml:"sessions"`
	SessionIdle  Duration `toml:"session_idle"`
	// MaxSessions caps concurrent sessions, 0 means unlimited
	MaxSessions int `toml:"max_sessions"`
}

type StorageConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	// Retention prunes runs older than this, 0 keeps them forever
	Retention Duration `toml:"retention"`
}

type LogConfig struct {
	Debug bool `toml:"debug"`
}

// Duration reads Go duration strings such as "15m" from TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 32,
		},
		Pipeline: PipelineConfig{
			StrictParams: false,
			Quality:      false,
			Sessions:     false,
			SessionIdle:  Duration{30 * time.Minute},
			MaxSessions:  1000,
		},
		Storage: StorageConfig{
			Enabled: false,
			Path:    filepath.Join("data", "runs.db"),
		},
		Log: LogConfig{
			Debug: false,
		},
	}
}

// Load reads the TOML file at path over the defaults.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Pipeline.SessionIdle.Duration < 0 {
		return fmt.Errorf("pipeline.session_idle must not be negative, got %s", c.Pipeline.SessionIdle)
	}
	if c.Pipeline.MaxSessions < 0 {
		return fmt.Errorf("pipeline.max_sessions must not be negative, got %d", c.Pipeline.MaxSessions)
	}
	if c.Storage.Retention.Duration < 0 {
		return fmt.Errorf("storage.retention must not be negative, got %s", c.Storage.Retention)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return errors.New("storage.path is required when storage is enabled")
	}
	return nil
}

// Save writes cfg as TOML to path
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
