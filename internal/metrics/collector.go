package metrics

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// Instance outcomes reported by RecordInstance.
const (
	OutcomePersisted       = "persisted"
	OutcomeSkippedDisabled = "skipped_disabled"
	OutcomeSkippedShutdown = "skipped_shutdown"
	OutcomeDiscarded       = "discarded"
)

// Eviction outcomes reported by RecordEviction.
const (
	EvictionRemoved = "removed"
	EvictionSkipped = "skipped"
	EvictionFailed  = "failed"
)

// Collector exposes the results store as Prometheus metrics
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	instanceCounter   *prometheus.CounterVec
	seamCounter       *prometheus.CounterVec
	resultCounter     *prometheus.CounterVec
	writeErrorCounter *prometheus.CounterVec
	evictionCounter   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheEntries      prometheus.Gauge
	diskUsage         prometheus.Gauge
	shutdownGauge     prometheus.Gauge
	stateGauge        *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
	health   http.Handler
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the configuration used for a nil config.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "resultstore",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks metrics for a specific lifecycle operation
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// States is the list of processing states reported by SetProcessingState.
var States = []string{
	"Idle",
	"ProductInspection",
	"SeamInspection",
	"WaitingForLwmResult",
	"WaitingForLwmResultAtEndOfProduct",
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger.WithComponent("metrics")}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger.WithComponent("metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled
}

// Registry returns the registry holding all metrics, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns the HTTP handler serving the metrics and health endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.enabled() {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
		mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	}
	if h := c.healthCheck(); h != nil {
		mux.Handle("/health", h)
	} else {
		mux.HandleFunc("/health", c.healthHandler)
	}
	return mux
}

// SetHealthHandler replaces the static /health answer. It must be called
// before Start.
func (c *Collector) SetHealthHandler(h http.Handler) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = h
}

func (c *Collector) healthCheck() http.Handler {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Start starts the metrics server. It returns once the listener is bound.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to listen for metrics").
			WithComponent("metrics").WithDetail("port", c.config.Port)
	}

	server := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	c.mu.Lock()
	c.server = server
	c.listener = listener
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	c.logger.Info("metrics server started", map[string]interface{}{"addr": listener.Addr().String()})
	return nil
}

// Addr returns the bound address of a started server.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records the duration of a lifecycle operation
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	m, exists := c.operations[operation]
	if !exists {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	c.mu.Unlock()

	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
		"status":    map[bool]string{true: "success", false: "error"}[success],
	}).Observe(duration.Seconds())
}

// RecordInstance counts a finished product instance by outcome.
func (c *Collector) RecordInstance(outcome string) {
	if !c.enabled() {
		return
	}
	c.instanceCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordSeam counts a finished seam.
func (c *Collector) RecordSeam(externalLwm bool) {
	if !c.enabled() {
		return
	}
	c.seamCounter.With(prometheus.Labels{"lwm": fmt.Sprint(externalLwm)}).Inc()
}

// RecordResults counts results written for a result type.
func (c *Collector) RecordResults(resultType string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.resultCounter.With(prometheus.Labels{"type": resultType}).Add(float64(n))
}

// RecordWriteError counts a failed write. The stage is taken from the error
// code of store errors.
func (c *Collector) RecordWriteError(err error) {
	if !c.enabled() || err == nil {
		return
	}
	c.writeErrorCounter.With(prometheus.Labels{"code": classifyError(err)}).Inc()
}

// RecordEviction counts one eviction decision.
func (c *Collector) RecordEviction(outcome string) {
	if !c.enabled() {
		return
	}
	c.evictionCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// SetCacheEntries sets the number of indexed instances.
func (c *Collector) SetCacheEntries(n int) {
	if !c.enabled() {
		return
	}
	c.cacheEntries.Set(float64(n))
}

// SetDiskUsage sets the relative usage of the results volume.
func (c *Collector) SetDiskUsage(usage float64) {
	if !c.enabled() {
		return
	}
	c.diskUsage.Set(usage)
}

// SetShutdown reports the latched shutdown decision.
func (c *Collector) SetShutdown(shutdown bool) {
	if !c.enabled() {
		return
	}
	if shutdown {
		c.shutdownGauge.Set(1)
	} else {
		c.shutdownGauge.Set(0)
	}
}

// SetProcessingState marks state as the current processing state.
func (c *Collector) SetProcessingState(state string) {
	if !c.enabled() {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.stateGauge.With(prometheus.Labels{"state": s}).Set(v)
	}
}

// GetMetrics returns the tracked operation metrics
func (c *Collector) GetMetrics() map[string]interface{} {
	metrics := make(map[string]interface{})
	if !c.enabled() {
		return metrics
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		cp := *v
		operations[k] = &cp
	}

	metrics["operations"] = operations
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)
	return metrics
}

// ResetMetrics resets the tracked operation metrics
func (c *Collector) ResetMetrics() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	c.instanceCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "instances_total",
			Help:        "Finished product instances by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	c.seamCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "seams_total",
			Help:        "Finished seams",
			ConstLabels: labels,
		},
		[]string{"lwm"},
	)

	c.resultCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "results_written_total",
			Help:        "Results written to result files",
			ConstLabels: labels,
		},
		[]string{"type"},
	)

	c.writeErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "write_errors_total",
			Help:        "Failed writes by error code",
			ConstLabels: labels,
		},
		[]string{"code"},
	)

	c.evictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evictions_total",
			Help:        "Cache eviction decisions by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operation_duration_seconds",
			Help:        "Duration of lifecycle operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3s
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "cache_entries",
		Help:        "Product instances in the cache index",
		ConstLabels: labels,
	})

	c.diskUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "disk_usage_ratio",
		Help:        "Relative usage of the results volume",
		ConstLabels: labels,
	})

	c.shutdownGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "shutdown",
		Help:        "1 while new instances are refused because of disk usage",
		ConstLabels: labels,
	})

	c.stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "processing_state",
			Help:        "Current processing state",
			ConstLabels: labels,
		},
		[]string{"state"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.instanceCounter,
		c.seamCounter,
		c.resultCounter,
		c.writeErrorCounter,
		c.evictionCounter,
		c.operationDuration,
		c.cacheEntries,
		c.diskUsage,
		c.shutdownGauge,
		c.stateGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	var se *errors.StoreError
	if stderrors.As(err, &se) {
		return string(se.Code)
	}
	return "other"
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"resultstore-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Results Store Operations\n")
	writef("========================\n\n")
	writef("Uptime: %v\n\n", time.Since(c.lastReset).Round(time.Second))

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-28s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	for _, name := range names {
		op := c.operations[name]
		writef("%-28s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}
