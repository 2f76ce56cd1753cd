package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/prospect/iox"
)

// Load reads a YAML config file, expands environment variables,
// unmarshals, applies defaults, and validates. Invalid configuration
// is rejected whole; no partially applied config ever comes back.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a validated Config from raw YAML bytes. Shared by Load
// and the control API's config update path.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save replaces the config file with new contents. The order is the
// whole contract: validate first, then back up the live file into
// backups/ beside it, then write through a temp file + rename. A
// failed validation leaves both the file and the backups untouched.
func Save(path string, data []byte) (*Config, error) {
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		current, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read current config: %w", err)
		}
		backupDir := filepath.Join(filepath.Dir(path), "backups")
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return nil, fmt.Errorf("create backup dir: %w", err)
		}
		name := fmt.Sprintf("%s.%s", filepath.Base(path), time.Now().UTC().Format("20060102T150405"))
		if err := iox.WriteFileAtomic(filepath.Join(backupDir, name), current, 0o644); err != nil {
			return nil, fmt.Errorf("back up config: %w", err)
		}
	}

	if err := iox.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	return cfg, nil
}
