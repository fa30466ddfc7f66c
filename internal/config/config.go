// Package config loads the optional config.yaml from the vault directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/lokivault/internal/logging"
)

// FileName is the name of the config file inside the vault directory
const FileName = "config.yaml"

// EnvDir overrides the default vault directory.
const EnvDir = "LOKIVAULT_DIR"

// DefaultAutoLockSeconds matches the auth package default.
const DefaultAutoLockSeconds = 300

// ErrInsecure is returned when the config file has insecure permissions
var ErrInsecure = errors.New("config: file has insecure permissions")

// ErrSymlink is returned when the config file is a symlink
var ErrSymlink = errors.New("config: file is a symlink")

// ErrNotOwnedByUser is returned when the config file is not owned by the current user
var ErrNotOwnedByUser = errors.New("config: file not owned by current user")

// AuditConfig toggles the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MCPConfig toggles the MCP server.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the on-disk configuration.
type Config struct {
	Version  int    `yaml:"version"`
	LogLevel string `yaml:"log_level"`
	// AutoLockSeconds is written to the vault on init. 0 disables auto-lock.
	AutoLockSeconds int         `yaml:"auto_lock_seconds"`
	Audit           AuditConfig `yaml:"audit"`
	MCP             MCPConfig   `yaml:"mcp"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:         1,
		LogLevel:        logging.DefaultLevel,
		AutoLockSeconds: DefaultAutoLockSeconds,
		Audit:           AuditConfig{Enabled: true},
		MCP:             MCPConfig{Enabled: false},
	}
}

// AutoLock returns AutoLockSeconds as a duration.
func (c *Config) AutoLock() time.Duration {
	return time.Duration(c.AutoLockSeconds) * time.Second
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("config: unsupported version: %d", c.Version)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid log_level: %w", err)
	}
	if c.AutoLockSeconds < 0 {
		return fmt.Errorf("config: invalid auto_lock_seconds: %d (must be >= 0)", c.AutoLockSeconds)
	}
	return nil
}

// DefaultDir returns $LOKIVAULT_DIR or ~/.lokivault.
func DefaultDir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lokivault"
	}
	return filepath.Join(home, ".lokivault")
}

// Load reads config.yaml from dir. A missing file yields Default().
//
// The file is opened without following symlinks and must be 0600 and owned
// by the current user; both checks run on the open descriptor.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)

	f, err := openConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat file: %w", err)
	}
	if err := checkPermissions(info); err != nil {
		return nil, err
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}

	// Fields absent from the file keep their defaults
	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to dir/config.yaml with 0600 permissions.
func Save(dir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: failed to create directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("config: failed to write file: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("config: failed to set permissions: %w", err)
	}
	return nil
}
