package storage

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weldmaster/resultstore/internal/cache"
	"github.com/weldmaster/resultstore/internal/config"
	"github.com/weldmaster/resultstore/internal/diskusage"
	"github.com/weldmaster/resultstore/internal/domain"
	"github.com/weldmaster/resultstore/internal/metadata"
	"github.com/weldmaster/resultstore/internal/metrics"
	"github.com/weldmaster/resultstore/internal/results"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// Options configures a Service.
type Options struct {
	Storage   config.StorageConfig
	Eviction  config.EvictionConfig
	DiskUsage config.DiskUsageConfig

	// Statter measures the results volume. Nil uses statfs.
	Statter diskusage.Statter
	Metrics *metrics.Collector
	Logger  *utils.StructuredLogger

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// OptionsFromConfig builds service options from a loaded configuration.
func OptionsFromConfig(cfg *config.Configuration) Options {
	return Options{
		Storage:   cfg.Storage,
		Eviction:  cfg.Eviction,
		DiskUsage: cfg.DiskUsage,
	}
}

// Service decides for every product instance whether its results are
// persisted and writes them below the results directory.
//
// Lifecycle calls are expected one at a time in protocol order (see
// Dispatcher). All methods are safe for concurrent use.
type Service struct {
	mu sync.Mutex

	logger  *utils.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time

	// settings
	enabled                bool
	maxRelativeDiskUsage   float64
	maxCacheEntries        int
	lwmCommunicationActive bool
	nioSwitchedOff         bool
	createLinkedSeamDirs   bool
	eviction               config.EvictionConfig
	resultsDirectory       string
	stagingDirectory       string

	// admission
	monitor           *diskusage.Monitor
	shutdown          bool
	shutdownScheduled bool
	scheduledShutdown bool

	store        *instanceStore
	resultWriter *results.Writer
	metaWriter   *metadata.Writer

	state ProcessingState
	inst  instance
	seam  seamState

	closed bool
}

// instance is the product instance in flight.
type instance struct {
	product         domain.Ref[*domain.Product]
	id              uuid.UUID
	serial          uint32
	serialSet       bool
	extendedInfo    string
	date            time.Time
	persistEnabled  bool
	shutdownAtStart bool
	store           *instanceStore
	stagingDir      string
	finalDir        string
	aggregator      *metadata.Aggregator
}

// persist reports whether the instance is written to disk.
func (i *instance) persist() bool {
	return i.persistEnabled && !i.shutdownAtStart && i.store != nil
}

// seamState is the seam in flight.
type seamState struct {
	ref         domain.Ref[*domain.Seam]
	dir         string
	writeFiles  bool
	buffers     map[domain.ResultType][]domain.Result
	order       []domain.ResultType
	received    int
	externalLwm bool
	lwmReceived bool
}

// NewService creates a service. When a results directory is configured it
// is opened right away and the disk usage is checked.
func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	storageCfg := opts.Storage
	s := &Service{
		logger:                 logger.WithComponent("storage"),
		metrics:                opts.Metrics,
		now:                    now,
		enabled:                storageCfg.Enabled,
		maxRelativeDiskUsage:   config.ClampRelativeDiskUsage(storageCfg.MaxRelativeDiskUsage),
		maxCacheEntries:        config.ClampCacheEntries(storageCfg.MaxCacheEntries),
		lwmCommunicationActive: storageCfg.LwmCommunicationActive,
		nioSwitchedOff:         storageCfg.NioResultsSwitchedOff,
		createLinkedSeamDirs:   storageCfg.CreateLinkedSeamDirectories,
		eviction:               opts.Eviction,
		stagingDirectory:       storageCfg.StagingDirectory,
		monitor:                diskusage.NewMonitor(storageCfg.ResultsDirectory, opts.Statter, logger),
		resultWriter: results.NewWriter(results.Config{
			Compress: storageCfg.CompressResults,
		}, logger),
		metaWriter: metadata.NewWriter(logger),
	}
	s.inst.aggregator = metadata.NewAggregator()
	s.metrics.SetProcessingState(Idle.String())

	if storageCfg.ResultsDirectory != "" {
		if err := s.SetResultsDirectory(storageCfg.ResultsDirectory); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.monitor.StartPeriodic(opts.DiskUsage.CheckInterval, s.MaxRelativeDiskUsage, func(shutdown bool, usage float64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.metrics.SetDiskUsage(usage)
		s.scheduleShutdownLocked(shutdown, usage)
	})

	return s, nil
}

// Close stops the background workers. An instance still in flight is
// discarded.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state != Idle {
		s.logger.Warn("closing with an unfinished product instance", map[string]interface{}{
			"state":    s.state.String(),
			"instance": s.inst.id.String(),
		})
		s.cleanupLocked(temporary)
	}
	store := s.store
	s.store = nil
	s.mu.Unlock()

	monitorErr := s.monitor.Close()
	if err := store.close(); err != nil {
		return err
	}
	return monitorErr
}

// SetEnabled turns persistence on or off. The value is latched by the next
// StartProductInspection.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled != enabled {
		s.logger.Info("persistence setting changed", map[string]interface{}{"enabled": enabled})
	}
	s.enabled = enabled
}

// IsEnabled returns the current persistence setting.
func (s *Service) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// IsShutdown reports the disk usage decision latched by the most recent
// StartProductInspection.
func (s *Service) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// SetMaxRelativeDiskUsage sets the admission threshold, clamped to [0,1],
// and re-checks the disk usage when it changed.
func (s *Service) SetMaxRelativeDiskUsage(limit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = config.ClampRelativeDiskUsage(limit)
	if limit == s.maxRelativeDiskUsage {
		return
	}
	s.maxRelativeDiskUsage = limit
	_, _ = s.checkDiskUsageLocked()
}

// MaxRelativeDiskUsage returns the admission threshold.
func (s *Service) MaxRelativeDiskUsage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRelativeDiskUsage
}

// SetMaxCacheEntries sets the number of kept instances, clamped to
// [0,999999]. Surplus instances are evicted in the background.
func (s *Service) SetMaxCacheEntries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = config.ClampCacheEntries(n)
	if n == s.maxCacheEntries {
		return
	}
	s.maxCacheEntries = n
	s.triggerEvictionLocked()
}

// MaxCacheEntries returns the number of kept instances.
func (s *Service) MaxCacheEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxCacheEntries
}

// SetResultsDirectory switches the results root. The cache index of the new
// root is loaded and brought within bounds, and the disk usage is checked.
// An instance in flight keeps writing to the root it started with. An empty
// directory disables persistence.
func (s *Service) SetResultsDirectory(dir string) error {
	old, err := s.switchResultsDirectory(dir)
	// The previous evictor may be in a pass; wait for it without the lock.
	if cerr := old.close(); cerr != nil {
		s.logger.Warn("failed to stop evictor", map[string]interface{}{"error": cerr.Error()})
	}
	return err
}

// switchResultsDirectory opens dir and returns the store it replaced.
func (s *Service) switchResultsDirectory(dir string) (*instanceStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir == s.resultsDirectory && s.store != nil {
		return nil, nil
	}

	old := s.store
	if old != nil && dir != "" {
		if abs, err := filepath.Abs(dir); err == nil && abs == old.root {
			s.resultsDirectory = dir
			return nil, nil
		}
	}
	s.store = nil
	s.resultsDirectory = dir
	s.monitor.SetPath(dir)

	if dir == "" {
		s.logger.Info("results directory cleared, persistence skipped")
		return old, nil
	}

	var inFlight string
	if s.inst.store != nil {
		inFlight = s.inst.stagingDir
	}
	store, err := openStore(dir, s.stagingDirectory, inFlight, s.eviction, s.monitor, s.metrics, s.logger)
	if err != nil {
		s.logger.Error("failed to open results directory", logFields(err, map[string]interface{}{"path": dir}))
		return old, err
	}
	s.store = store
	s.logger.Info("results directory opened", map[string]interface{}{
		"path":    store.root,
		"staging": store.staging,
		"entries": store.index.Len(),
	})

	s.triggerEvictionLocked()
	_, _ = s.checkDiskUsageLocked()
	return old, nil
}

// ResultsDirectory returns the configured results root.
func (s *Service) ResultsDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsDirectory
}

// CacheIndex returns the index of the opened results root, or nil.
func (s *Service) CacheIndex() *cache.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.index
}

// SetCommunicationToLWMDeviceActive enables waiting for external LWM
// verdicts on seams configured for it. It applies from the next seam.
func (s *Service) SetCommunicationToLWMDeviceActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lwmCommunicationActive = active
}

// IsCommunicationToLWMDeviceActive reports whether LWM verdicts are awaited.
func (s *Service) IsCommunicationToLWMDeviceActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lwmCommunicationActive
}

// SetNioResultsSwitchedOff records in all metadata that NIO outputs were
// switched off.
func (s *Service) SetNioResultsSwitchedOff(off bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nioSwitchedOff = off
}

// NioResultsSwitchedOff returns the value recorded in metadata.
func (s *Service) NioResultsSwitchedOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nioSwitchedOff
}

// ForceDiskUsageCheck measures the disk usage now and schedules the
// resulting decision for the next StartProductInspection.
func (s *Service) ForceDiskUsageCheck() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkDiskUsageLocked()
}

// CurrentProduct returns the product in flight, or nil.
func (s *Service) CurrentProduct() *domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.product.Get()
}

// CurrentSeam returns the seam in flight, or nil.
func (s *Service) CurrentSeam() *domain.Seam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seam.ref.Get()
}

// ProcessingState returns the lifecycle state.
func (s *Service) ProcessingState() ProcessingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SeamProcessingWithExternalLwm reports whether the current seam waits for
// an LWM verdict.
func (s *Service) SeamProcessingWithExternalLwm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seam.externalLwm
}

func (s *Service) checkDiskUsageLocked() (float64, error) {
	shutdown, usage, err := s.monitor.Check(s.maxRelativeDiskUsage)
	if err != nil {
		s.logger.Debug("disk usage check failed", logFields(err, nil))
		return 0, err
	}
	s.metrics.SetDiskUsage(usage)
	s.scheduleShutdownLocked(shutdown, usage)
	return usage, nil
}

func (s *Service) scheduleShutdownLocked(shutdown bool, usage float64) {
	if s.shutdownScheduled && s.scheduledShutdown == shutdown {
		return
	}
	if !s.shutdownScheduled && s.shutdown == shutdown {
		return
	}
	s.shutdownScheduled = true
	s.scheduledShutdown = shutdown

	fields := map[string]interface{}{
		"usage": usage,
		"limit": s.maxRelativeDiskUsage,
	}
	if shutdown {
		s.logger.Warn("disk usage limit reached, recording disabled", fields)
	} else {
		s.logger.Info("disk usage below limit, recording enabled", fields)
	}
}

func (s *Service) applyScheduledLocked() {
	if s.shutdownScheduled {
		s.shutdownScheduled = false
		s.shutdown = s.scheduledShutdown
	}
	s.metrics.SetShutdown(s.shutdown)
}

func (s *Service) triggerEvictionLocked() {
	if s.store == nil {
		return
	}
	s.store.evictor.Trigger(cache.Limits{
		MaxEntries:       s.maxCacheEntries,
		MaxRelativeUsage: s.maxRelativeDiskUsage,
	})
}

func (s *Service) setStateLocked(state ProcessingState) {
	if s.state == state {
		return
	}
	s.logger.Debug("processing state changed", map[string]interface{}{
		"from": s.state.String(),
		"to":   state.String(),
	})
	s.state = state
	s.metrics.SetProcessingState(state.String())
}

func (s *Service) observe(operation string, start time.Time) {
	s.metrics.RecordOperation(operation, time.Since(start), true)
}
