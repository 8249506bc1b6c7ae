package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestResultsDir = "/var/lib/weldmaster/results"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if !cfg.Storage.Enabled {
		t.Error("Expected storage to be enabled by default")
	}
	if cfg.Storage.MaxCacheEntries != 500 {
		t.Errorf("Expected MaxCacheEntries to be 500, got %d", cfg.Storage.MaxCacheEntries)
	}
	if cfg.Storage.MaxRelativeDiskUsage != 0.9 {
		t.Errorf("Expected MaxRelativeDiskUsage to be 0.9, got %v", cfg.Storage.MaxRelativeDiskUsage)
	}
	if cfg.Storage.ResultsDirectory != "" {
		t.Errorf("Expected empty ResultsDirectory, got %q", cfg.Storage.ResultsDirectory)
	}
	if cfg.Storage.LwmCommunicationActive {
		t.Error("Expected LWM communication to be off by default")
	}
	if cfg.Storage.NioResultsSwitchedOff {
		t.Error("Expected NIO results to be on by default")
	}
	if !cfg.Storage.CreateLinkedSeamDirectories {
		t.Error("Expected linked seam directories to be created by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration does not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: NewDefault,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogFormat = "xml"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_format",
		},
		{
			name: "staging equals results",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.ResultsDirectory = TestResultsDir
				cfg.Storage.StagingDirectory = TestResultsDir + "/"
				return cfg
			},
			wantErr: true,
			errMsg:  "staging_directory must differ",
		},
		{
			name: "zero remove attempts",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Eviction.RemoveAttempts = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "remove_attempts",
		},
		{
			name: "zero queue size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Dispatcher.QueueSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "queue_size",
		},
		{
			name: "metrics port out of range",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.MetricsPort = 70000
				return cfg
			},
			wantErr: true,
			errMsg:  "metrics_port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestValidateClampsStorageLimits(t *testing.T) {
	cfg := NewDefault()
	cfg.Storage.MaxCacheEntries = 5000000
	cfg.Storage.MaxRelativeDiskUsage = 1.7
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Storage.MaxCacheEntries != MaxCacheEntriesLimit {
		t.Errorf("MaxCacheEntries = %d, want %d", cfg.Storage.MaxCacheEntries, MaxCacheEntriesLimit)
	}
	if cfg.Storage.MaxRelativeDiskUsage != 1 {
		t.Errorf("MaxRelativeDiskUsage = %v, want 1", cfg.Storage.MaxRelativeDiskUsage)
	}

	cfg.Storage.MaxCacheEntries = -4
	cfg.Storage.MaxRelativeDiskUsage = -0.5
	_ = cfg.Validate()
	if cfg.Storage.MaxCacheEntries != 0 || cfg.Storage.MaxRelativeDiskUsage != 0 {
		t.Errorf("negative limits not clamped to 0: %+v", cfg.Storage)
	}
}

func TestLoadFromFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  log_format: json

storage:
  results_directory: /var/lib/weldmaster/results
  max_cache_entries: 20
  lwm_communication_active: true

eviction:
  evict_on_disk_pressure: true
  remove_delay: 10ms

disk_usage:
  check_interval: 1m
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.ResultsDirectory != TestResultsDir {
		t.Errorf("Expected ResultsDirectory %s, got %s", TestResultsDir, cfg.Storage.ResultsDirectory)
	}
	if cfg.Storage.MaxCacheEntries != 20 {
		t.Errorf("Expected MaxCacheEntries to be 20, got %d", cfg.Storage.MaxCacheEntries)
	}
	if !cfg.Storage.LwmCommunicationActive {
		t.Error("Expected LwmCommunicationActive to be true")
	}
	// Keys absent from the file keep their defaults.
	if !cfg.Storage.Enabled {
		t.Error("Expected Enabled to keep its default")
	}
	if cfg.Storage.MaxRelativeDiskUsage != DefaultMaxRelativeDiskUsage {
		t.Errorf("Expected MaxRelativeDiskUsage to keep its default, got %v", cfg.Storage.MaxRelativeDiskUsage)
	}
	if !cfg.Eviction.EvictOnDiskPressure || cfg.Eviction.RemoveDelay != 10*time.Millisecond {
		t.Errorf("unexpected eviction config %+v", cfg.Eviction)
	}
	if cfg.DiskUsage.CheckInterval != time.Minute {
		t.Errorf("Expected CheckInterval 1m, got %v", cfg.DiskUsage.CheckInterval)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"RESULTSTORE_LOG_LEVEL":                "ERROR",
		"RESULTSTORE_METRICS_PORT":             "9090",
		"RESULTSTORE_ENABLED":                  "false",
		"RESULTSTORE_RESULTS_DIRECTORY":        TestResultsDir,
		"RESULTSTORE_MAX_CACHE_ENTRIES":        "42",
		"RESULTSTORE_MAX_RELATIVE_DISK_USAGE":  "0.75",
		"RESULTSTORE_LWM_COMMUNICATION_ACTIVE": "true",
		"RESULTSTORE_NIO_RESULTS_SWITCHED_OFF": "TRUE",
		"RESULTSTORE_DISK_CHECK_INTERVAL":      "30s",
	}
	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Storage.Enabled {
		t.Error("Expected Enabled to be false")
	}
	if cfg.Storage.ResultsDirectory != TestResultsDir {
		t.Errorf("unexpected ResultsDirectory %q", cfg.Storage.ResultsDirectory)
	}
	if cfg.Storage.MaxCacheEntries != 42 {
		t.Errorf("Expected MaxCacheEntries 42, got %d", cfg.Storage.MaxCacheEntries)
	}
	if cfg.Storage.MaxRelativeDiskUsage != 0.75 {
		t.Errorf("Expected MaxRelativeDiskUsage 0.75, got %v", cfg.Storage.MaxRelativeDiskUsage)
	}
	if !cfg.Storage.LwmCommunicationActive || !cfg.Storage.NioResultsSwitchedOff {
		t.Errorf("unexpected flags %+v", cfg.Storage)
	}
	if cfg.DiskUsage.CheckInterval != 30*time.Second {
		t.Errorf("Expected CheckInterval 30s, got %v", cfg.DiskUsage.CheckInterval)
	}
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("RESULTSTORE_MAX_CACHE_ENTRIES", "many")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric RESULTSTORE_MAX_CACHE_ENTRIES")
	}
}

func TestSaveToFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "subdir", "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Storage.ResultsDirectory = TestResultsDir
	cfg.Eviction.RemoveDelay = 250 * time.Millisecond

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Storage.ResultsDirectory != TestResultsDir {
		t.Errorf("Expected ResultsDirectory %s, got %s", TestResultsDir, newCfg.Storage.ResultsDirectory)
	}
	if newCfg.Eviction.RemoveDelay != 250*time.Millisecond {
		t.Errorf("Expected RemoveDelay 250ms, got %v", newCfg.Eviction.RemoveDelay)
	}
}
