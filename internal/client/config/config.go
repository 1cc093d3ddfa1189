// Package config holds the CLI settings: built-in defaults, then an
// optional JSON file, then FRESHKEEPER_* environment variables. Command-line
// flags are applied last by the cli package.
//
// JSON durations use timex.Duration, so "15s" and integer nanoseconds both
// work:
//
//	{
//	  "server_url": "http://127.0.0.1:5000",
//	  "state_dir": "~/.freshkeeper",
//	  "timeout": "15s"
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/timex"
)

type Config struct {
	ServerURL string
	// StateDir holds the local session database.
	StateDir string
	Timeout  time.Duration
}

func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:5000"
	c.StateDir = defaultStateDir()
	c.Timeout = 60 * time.Second
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "freshkeeper")
	}
	return ".freshkeeper"
}

// JsonConfig is the on-disk form.
type JsonConfig struct {
	ServerURL string          `json:"server_url"`
	StateDir  string          `json:"state_dir"`
	Timeout   *timex.Duration `json:"timeout"`
}

// Load builds a Config from defaults, the JSON file at path (skipped when
// empty) and the environment seen through lookupEnv.
func Load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if jc.ServerURL != "" {
		c.ServerURL = jc.ServerURL
	}
	if jc.StateDir != "" {
		c.StateDir = jc.StateDir
	}
	if jc.Timeout != nil {
		c.Timeout = jc.Timeout.Duration
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FRESHKEEPER_SERVER"); ok && v != "" {
		c.ServerURL = v
	}
	if v, ok := lookup("FRESHKEEPER_STATE_DIR"); ok && v != "" {
		c.StateDir = v
	}
	if v, ok := lookup("FRESHKEEPER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FRESHKEEPER_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	return nil
}
