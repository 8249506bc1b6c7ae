/*
Package config provides configuration management for the results store.

Configuration is layered. Compiled-in defaults from NewDefault are overridden
by a YAML file (LoadFromFile) and then by RESULTSTORE_* environment variables
(LoadFromEnv). Validate clamps the storage limits into their legal ranges and
rejects values that cannot be clamped.

# Sections

	global:      log_level, log_file, log_format, metrics_port
	storage:     enabled, results_directory, staging_directory,
	             max_cache_entries, max_relative_disk_usage,
	             nio_results_switched_off, lwm_communication_active,
	             create_linked_seam_directories, compress_results
	eviction:    evict_on_disk_pressure, remove_attempts, remove_delay
	disk_usage:  check_interval
	dispatcher:  queue_size
	metrics:     enabled, namespace

# Example

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/resultstore/config.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
