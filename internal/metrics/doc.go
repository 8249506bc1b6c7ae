/*
Package metrics exports the state of the results store to Prometheus.

# Overview

The Collector owns a private Prometheus registry and a small set of
counters and gauges that the storage service and the eviction worker
update as they run:

	resultstore_instances_total{outcome}        finished product instances
	resultstore_seams_total{lwm}                finished seams
	resultstore_results_written_total{type}     results written per type
	resultstore_write_errors_total{code}        failed writes by error code
	resultstore_evictions_total{outcome}        eviction decisions
	resultstore_operation_duration_seconds      lifecycle call latency
	resultstore_cache_entries                   indexed product instances
	resultstore_disk_usage_ratio                relative usage of the volume
	resultstore_shutdown                        latched admission decision
	resultstore_processing_state{state}         1 for the current state

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9464,
		Namespace: "resultstore",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

All recording methods are safe on a disabled or nil collector, so callers
never need to check whether metrics are configured.

# HTTP Endpoints

	/metrics            Prometheus exposition (OpenMetrics when negotiated)
	/health             static health document
	/debug/operations   plain text summary of lifecycle call timings
*/
package metrics
