package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FleetConfig is the fleet definition file (default fleet.toml): the
// server worker target, durable/transient background workers, supervision
// tunables, and the auto-reload watch list. It lives next to, but separate
// from, the main options file so operators can edit the fleet without
// touching daemon settings.
type FleetConfig struct {
	Server  ServerConfig  `toml:"server"`
	Workers []WorkerDef   `toml:"worker"`
	Ack     AckConfig     `toml:"ack"`
	Reload  ReloadConfig  `toml:"reload"`
	Timeout TimeoutConfig `toml:"timeouts"`
}

// ServerConfig describes the server worker target.
type ServerConfig struct {
	Command []string `toml:"command"`
	Env     []string `toml:"env"`
	Dir     string   `toml:"dir"`
	Workers int      `toml:"workers"`
}

// WorkerDef describes one user-registered background worker.
type WorkerDef struct {
	Name      string   `toml:"name"`
	Command   []string `toml:"command"`
	Env       []string `toml:"env"`
	Dir       string   `toml:"dir"`
	Workers   int      `toml:"workers"`
	Transient bool     `toml:"transient"`
}

// AckConfig tunes the startup acknowledgment barrier. The effective
// timeout is Threshold x PollInterval.
type AckConfig struct {
	Threshold    int    `toml:"threshold"`
	PollInterval string `toml:"poll_interval"`
}

// ReloadConfig configures the auto-reload watcher.
type ReloadConfig struct {
	Enabled      bool     `toml:"enabled"`
	Paths        []string `toml:"paths"`
	StartupFirst bool     `toml:"startup_first"`
	Debounce     string   `toml:"debounce"`
}

// TimeoutConfig tunes process shutdown and restart pacing.
type TimeoutConfig struct {
	Graceful        string `toml:"graceful"`
	Kill            string `toml:"kill"`
	RestartDebounce string `toml:"restart_debounce"`
}

// LoadFleet reads and validates a fleet definition file.
func LoadFleet(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fleet config: %w", err)
	}

	var cfg FleetConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing fleet config: %w", err)
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fleet definition for configuration errors.
func (c *FleetConfig) Validate() error {
	if len(c.Server.Command) == 0 {
		return fmt.Errorf("fleet config: server command is required")
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("fleet config: server workers must be positive, got %d", c.Server.Workers)
	}
	seen := make(map[string]bool)
	for i, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("fleet config: worker %d has no name", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("fleet config: duplicate worker name %q", w.Name)
		}
		seen[w.Name] = true
		if len(w.Command) == 0 {
			return fmt.Errorf("fleet config: worker %q has no command", w.Name)
		}
		if w.Workers < 0 {
			return fmt.Errorf("fleet config: worker %q has negative workers", w.Name)
		}
	}
	for _, field := range []struct{ name, value string }{
		{"ack.poll_interval", c.Ack.PollInterval},
		{"reload.debounce", c.Reload.Debounce},
		{"timeouts.graceful", c.Timeout.Graceful},
		{"timeouts.kill", c.Timeout.Kill},
		{"timeouts.restart_debounce", c.Timeout.RestartDebounce},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("fleet config: bad %s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a duration field, returning fallback when the field is
// empty. Validate has already rejected unparseable values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
