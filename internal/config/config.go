// Package config provides configuration loading from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              string        `yaml:"port"`
	MetricsPort       string        `yaml:"metricsPort"`
	APIKeyFile        string        `yaml:"apiKeyFile"`
	ShutdownDrainWait time.Duration `yaml:"shutdownDrainWait"`
}

// StoreConfig selects and configures the job store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSN    string `yaml:"dsn"`
}

// QueueConfig holds admission capacities. RunningCap is also the worker
// pool size.
type QueueConfig struct {
	RunningCap int `yaml:"runningCap"`
	PendingCap int `yaml:"pendingCap"`
	TotalCap   int `yaml:"totalCap"`
}

// RuntimeConfig holds execution environment settings.
type RuntimeConfig struct {
	// Order lists runtime names by preference, e.g. ["docker", "hostexec"].
	Order       []string      `yaml:"order"`
	Image       string        `yaml:"image"`
	SIFPath     string        `yaml:"sifPath"`
	LicensePath string        `yaml:"licensePath"`
	MemoryMB    int64         `yaml:"memoryMB"`
	CPUs        float64       `yaml:"cpus"`
	HardTimeout time.Duration `yaml:"hardTimeout"`
	CancelGrace time.Duration `yaml:"cancelGrace"`

	// AllowSynthetic enables the synthetic fallback runtime. Force-disabled
	// when Environment is "production"; see Load.
	AllowSynthetic bool `yaml:"allowSynthetic"`
}

// MonitorConfig holds progress monitor settings.
type MonitorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	StreamWait    time.Duration `yaml:"streamWait"`
	StatusRelPath string        `yaml:"statusRelPath"`
}

// ReaperConfig holds cleanup sweep settings.
type ReaperConfig struct {
	Interval    time.Duration `yaml:"interval"`
	SoftTimeout time.Duration `yaml:"softTimeout"`
}

// Config is the root service configuration.
type Config struct {
	Environment string        `yaml:"environment"` // "development" or "production"
	DataRoot    string        `yaml:"dataRoot"`    // per-job output directories live here
	ResultRel   string        `yaml:"resultRel"`   // artifact expected under <output>/<subject>
	Server      ServerConfig  `yaml:"server"`
	Store       StoreConfig   `yaml:"store"`
	Queue       QueueConfig   `yaml:"queue"`
	Runtime     RuntimeConfig `yaml:"runtime"`
	Monitor     MonitorConfig `yaml:"monitor"`
	Reaper      ReaperConfig  `yaml:"reaper"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Environment: "development",
		DataRoot:    "/var/lib/neuroinsight/jobs",
		ResultRel:   "stats/aseg.stats",
		Server: ServerConfig{
			Port:              "8080",
			MetricsPort:       "9090",
			ShutdownDrainWait: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Queue: QueueConfig{
			RunningCap: 1,
			PendingCap: 5,
			TotalCap:   6,
		},
		Runtime: RuntimeConfig{
			Order:       []string{"docker", "hostexec"},
			Image:       "freesurfer/freesurfer:7.4.1",
			MemoryMB:    8192,
			CPUs:        2,
			HardTimeout: 10 * time.Hour,
			CancelGrace: 2 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:      10 * time.Second,
			StreamWait:    5 * time.Minute,
			StatusRelPath: "scripts/recon-all-status.log",
		},
		Reaper: ReaperConfig{
			Interval:    time.Minute,
			SoftTimeout: 2 * time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variable overrides. The synthetic runtime
// cannot be enabled in production regardless of file or env settings.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Environment == "production" {
		cfg.Runtime.AllowSynthetic = false
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = GetEnv("NEUROINSIGHT_ENV", c.Environment)
	c.DataRoot = GetEnv("DATA_ROOT", c.DataRoot)

	c.Server.Port = GetEnv("PORT", c.Server.Port)
	c.Server.MetricsPort = GetEnv("METRICS_PORT", c.Server.MetricsPort)
	c.Server.APIKeyFile = GetEnv("API_KEY_FILE", c.Server.APIKeyFile)
	c.Server.ShutdownDrainWait = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", c.Server.ShutdownDrainWait)

	c.Store.Driver = GetEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = GetEnv("STORE_DSN", c.Store.DSN)

	c.Queue.RunningCap = GetIntEnv("RUNNING_CAP", c.Queue.RunningCap)
	c.Queue.PendingCap = GetIntEnv("PENDING_CAP", c.Queue.PendingCap)
	c.Queue.TotalCap = GetIntEnv("TOTAL_CAP", c.Queue.TotalCap)

	if order := GetEnv("RUNTIME_ORDER", ""); order != "" {
		c.Runtime.Order = strings.Split(order, ",")
	}
	c.Runtime.Image = GetEnv("RECON_IMAGE", c.Runtime.Image)
	c.Runtime.SIFPath = GetEnv("RECON_SIF", c.Runtime.SIFPath)
	c.Runtime.LicensePath = GetEnv("FS_LICENSE_PATH", c.Runtime.LicensePath)
	c.Runtime.MemoryMB = int64(GetIntEnv("RUNTIME_MEMORY_MB", int(c.Runtime.MemoryMB)))
	c.Runtime.HardTimeout = GetDurationEnv("HARD_TIMEOUT", c.Runtime.HardTimeout)
	c.Runtime.CancelGrace = GetDurationEnv("CANCEL_GRACE", c.Runtime.CancelGrace)
	c.Runtime.AllowSynthetic = GetBoolEnv("ALLOW_SYNTHETIC_RUNTIME", c.Runtime.AllowSynthetic)

	c.Monitor.Interval = GetDurationEnv("MONITOR_INTERVAL", c.Monitor.Interval)
	c.Monitor.StreamWait = GetDurationEnv("MONITOR_STREAM_WAIT", c.Monitor.StreamWait)

	c.Reaper.Interval = GetDurationEnv("REAPER_INTERVAL", c.Reaper.Interval)
	c.Reaper.SoftTimeout = GetDurationEnv("SOFT_TIMEOUT", c.Reaper.SoftTimeout)
}

func (c *Config) validate() error {
	if c.Queue.RunningCap < 1 {
		return fmt.Errorf("queue.runningCap must be at least 1, got %d", c.Queue.RunningCap)
	}
	if c.Queue.PendingCap < 0 {
		return fmt.Errorf("queue.pendingCap must not be negative, got %d", c.Queue.PendingCap)
	}
	if c.Queue.TotalCap < c.Queue.RunningCap {
		return fmt.Errorf("queue.totalCap (%d) must be at least queue.runningCap (%d)",
			c.Queue.TotalCap, c.Queue.RunningCap)
	}
	if c.Reaper.SoftTimeout >= c.Runtime.HardTimeout {
		return fmt.Errorf("reaper.softTimeout (%s) must be shorter than runtime.hardTimeout (%s)",
			c.Reaper.SoftTimeout, c.Runtime.HardTimeout)
	}
	if len(c.Runtime.Order) == 0 {
		return fmt.Errorf("runtime.order must name at least one runtime")
	}
	return nil
}

// APIKey resolves the API key from the configured secret file.
func (c *Config) APIKey() string {
	return GetSecretFile(c.Server.APIKeyFile)
}
