package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultMaxCacheEntries is the number of finalized instances kept on disk.
	DefaultMaxCacheEntries = 500
	// MaxCacheEntriesLimit is the upper clamp for max_cache_entries.
	MaxCacheEntriesLimit = 999999
	// DefaultMaxRelativeDiskUsage is the admission threshold for new instances.
	DefaultMaxRelativeDiskUsage = 0.9

	envPrefix = "RESULTSTORE_"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Eviction   EvictionConfig   `yaml:"eviction"`
	DiskUsage  DiskUsageConfig  `yaml:"disk_usage"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StorageConfig controls where and whether inspection results are persisted.
type StorageConfig struct {
	Enabled bool `yaml:"enabled"`

	// ResultsDirectory is the root of the results cache. Persistence is
	// skipped while it is empty.
	ResultsDirectory string `yaml:"results_directory"`

	// StagingDirectory holds instances that are still being written.
	// Defaults to <results_directory>/.incoming.
	StagingDirectory string `yaml:"staging_directory"`

	MaxCacheEntries      int     `yaml:"max_cache_entries"`
	MaxRelativeDiskUsage float64 `yaml:"max_relative_disk_usage"`

	NioResultsSwitchedOff       bool `yaml:"nio_results_switched_off"`
	LwmCommunicationActive      bool `yaml:"lwm_communication_active"`
	CreateLinkedSeamDirectories bool `yaml:"create_linked_seam_directories"`
	CompressResults             bool `yaml:"compress_results"`
}

// EvictionConfig tunes the background eviction worker.
type EvictionConfig struct {
	// EvictOnDiskPressure makes the evictor remove oldest instances while the
	// disk usage is above max_relative_disk_usage.
	EvictOnDiskPressure bool          `yaml:"evict_on_disk_pressure"`
	RemoveAttempts      int           `yaml:"remove_attempts"`
	RemoveDelay         time.Duration `yaml:"remove_delay"`
}

// DiskUsageConfig tunes disk usage monitoring.
type DiskUsageConfig struct {
	// CheckInterval enables periodic checks when greater than zero. A check
	// always runs after every finalized product.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DispatcherConfig tunes the serialized event intake.
type DispatcherConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			LogFormat:   "text",
			MetricsPort: 9464,
		},
		Storage: StorageConfig{
			Enabled:                     true,
			MaxCacheEntries:             DefaultMaxCacheEntries,
			MaxRelativeDiskUsage:        DefaultMaxRelativeDiskUsage,
			CreateLinkedSeamDirectories: true,
		},
		Eviction: EvictionConfig{
			EvictOnDiskPressure: false,
			RemoveAttempts:      3,
			RemoveDelay:         50 * time.Millisecond,
		},
		DiskUsage: DiskUsageConfig{
			CheckInterval: 0,
		},
		Dispatcher: DispatcherConfig{
			QueueSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "resultstore",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from RESULTSTORE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv(envPrefix + "LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv(envPrefix + "LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv(envPrefix + "LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv(envPrefix + "METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %sMETRICS_PORT: %w", envPrefix, err)
		}
		c.Global.MetricsPort = port
	}

	if val := os.Getenv(envPrefix + "ENABLED"); val != "" {
		c.Storage.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(envPrefix + "RESULTS_DIRECTORY"); val != "" {
		c.Storage.ResultsDirectory = val
	}
	if val := os.Getenv(envPrefix + "STAGING_DIRECTORY"); val != "" {
		c.Storage.StagingDirectory = val
	}
	if val := os.Getenv(envPrefix + "MAX_CACHE_ENTRIES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_CACHE_ENTRIES: %w", envPrefix, err)
		}
		c.Storage.MaxCacheEntries = n
	}
	if val := os.Getenv(envPrefix + "MAX_RELATIVE_DISK_USAGE"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_RELATIVE_DISK_USAGE: %w", envPrefix, err)
		}
		c.Storage.MaxRelativeDiskUsage = f
	}
	if val := os.Getenv(envPrefix + "LWM_COMMUNICATION_ACTIVE"); val != "" {
		c.Storage.LwmCommunicationActive = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(envPrefix + "NIO_RESULTS_SWITCHED_OFF"); val != "" {
		c.Storage.NioResultsSwitchedOff = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(envPrefix + "COMPRESS_RESULTS"); val != "" {
		c.Storage.CompressResults = strings.ToLower(val) == "true"
	}

	if val := os.Getenv(envPrefix + "EVICT_ON_DISK_PRESSURE"); val != "" {
		c.Eviction.EvictOnDiskPressure = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(envPrefix + "DISK_CHECK_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %sDISK_CHECK_INTERVAL: %w", envPrefix, err)
		}
		c.DiskUsage.CheckInterval = d
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration. Out of range storage limits are clamped
// rather than rejected.
func (c *Configuration) Validate() error {
	c.Storage.MaxCacheEntries = ClampCacheEntries(c.Storage.MaxCacheEntries)
	c.Storage.MaxRelativeDiskUsage = ClampRelativeDiskUsage(c.Storage.MaxRelativeDiskUsage)

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port out of range: %d", c.Global.MetricsPort)
	}

	if c.Storage.StagingDirectory != "" && c.Storage.ResultsDirectory != "" &&
		filepath.Clean(c.Storage.StagingDirectory) == filepath.Clean(c.Storage.ResultsDirectory) {
		return fmt.Errorf("staging_directory must differ from results_directory")
	}

	if c.Eviction.RemoveAttempts <= 0 {
		return fmt.Errorf("remove_attempts must be greater than 0")
	}

	if c.DiskUsage.CheckInterval < 0 {
		return fmt.Errorf("check_interval must not be negative")
	}

	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be greater than 0")
	}

	return nil
}

// ClampCacheEntries limits n to [0, MaxCacheEntriesLimit].
func ClampCacheEntries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxCacheEntriesLimit {
		return MaxCacheEntriesLimit
	}
	return n
}

// ClampRelativeDiskUsage limits v to [0, 1].
func ClampRelativeDiskUsage(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
