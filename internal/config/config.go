// Package config holds application configuration: where the durable queue
// lives, how to reach the remote store, and how the background daemon
// behaves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the full application configuration.
type Config struct {
	// DataDir holds the queue database, stats, and daemon logs.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Remote     RemoteConfig     `mapstructure:"remote" yaml:"remote"`
	Probe      ProbeConfig      `mapstructure:"probe" yaml:"probe"`
	Daemon     DaemonConfig     `mapstructure:"daemon" yaml:"daemon"`
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter" yaml:"dead_letter"`
}

// RemoteConfig describes the hosted backend's REST surface.
type RemoteConfig struct {
	// BaseURL is the REST root, e.g. https://project.example.co/rest/v1
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// AnonKey is the anonymous API key; row-level authorization is
	// enforced server side.
	AnonKey string `mapstructure:"anon_key" yaml:"anon_key"`

	// Timeout bounds each remote call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProbeConfig describes the connectivity health check.
type ProbeConfig struct {
	// URL is the endpoint probed to decide online/offline. Empty means
	// always-online, useful for tests and LAN-only deployments.
	URL string `mapstructure:"url" yaml:"url"`

	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DaemonConfig describes the background sync handler.
type DaemonConfig struct {
	// NotifyPort is the loopback WebSocket port for sync events.
	NotifyPort int `mapstructure:"notify_port" yaml:"notify_port"`

	// MaxAttempts is the per-item attempt budget within one drain.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the linear backoff unit between attempts.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`

	// DrainInterval is the periodic safety-net drain.
	DrainInterval time.Duration `mapstructure:"drain_interval" yaml:"drain_interval"`

	// LogFile is the rotating daemon log (default: DataDir/daemon.log).
	LogFile string `mapstructure:"log_file" yaml:"log_file"`

	// LogMaxSizeMB and LogMaxBackups bound log rotation.
	LogMaxSizeMB  int `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

// DeadLetterConfig describes the abandonment policy for actions that keep
// failing.
type DeadLetterConfig struct {
	// MaxAttempts abandons an action once its cumulative failed attempts
	// reach this count. 0 disables abandonment; actions retry forever.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// DefaultConfig returns sensible defaults. The data directory defaults to
// ~/.bodega.
func DefaultConfig() *Config {
	dataDir := ".bodega"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, dataDir)
	}

	return &Config{
		DataDir: dataDir,
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			Interval: 15 * time.Second,
			Timeout:  3 * time.Second,
		},
		Daemon: DaemonConfig{
			NotifyPort:    8377,
			MaxAttempts:   3,
			BaseDelay:     2 * time.Second,
			DrainInterval: 5 * time.Minute,
			LogMaxSizeMB:  10,
			LogMaxBackups: 3,
		},
		DeadLetter: DeadLetterConfig{
			MaxAttempts: 25,
		},
	}
}

// QueuePath returns the queue database location.
func (c *Config) QueuePath() string {
	return filepath.Join(c.DataDir, "queue.db")
}

// StatsPath returns the persisted sync statistics location.
func (c *Config) StatsPath() string {
	return filepath.Join(c.DataDir, "sync-stats.json")
}

// LogPath returns the daemon log location.
func (c *Config) LogPath() string {
	if c.Daemon.LogFile != "" {
		return c.Daemon.LogFile
	}
	return filepath.Join(c.DataDir, "daemon.log")
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Daemon.NotifyPort < 0 || c.Daemon.NotifyPort > 65535 {
		return fmt.Errorf("daemon.notify_port %d out of range", c.Daemon.NotifyPort)
	}
	if c.Daemon.MaxAttempts < 1 {
		return fmt.Errorf("daemon.max_attempts must be at least 1")
	}
	if c.DeadLetter.MaxAttempts < 0 {
		return fmt.Errorf("dead_letter.max_attempts cannot be negative")
	}
	if c.Remote.Timeout < 0 || c.Probe.Timeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}
