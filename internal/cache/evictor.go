package cache

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/retry"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// DefaultMinDepth is the minimum depth below the results root an indexed
// path must have to be deleted: <productUuid>/<instance>-SN-<serial>.
const DefaultMinDepth = 2

// Limits bounds the results cache.
type Limits struct {
	MaxEntries int
	// MaxRelativeUsage is only honored with EvictOnDiskPressure.
	MaxRelativeUsage float64
}

// UsageReader reports the relative usage of the results volume.
type UsageReader interface {
	RelativeUsage() (float64, error)
}

// EvictorConfig configures the eviction worker.
type EvictorConfig struct {
	// Root is the results root. Indexed paths outside of it are never deleted.
	Root                string        `yaml:"root"`
	MinDepth            int           `yaml:"min_depth"`
	RemoveAttempts      int           `yaml:"remove_attempts"`
	RemoveDelay         time.Duration `yaml:"remove_delay"`
	EvictOnDiskPressure bool          `yaml:"evict_on_disk_pressure"`
}

// EvictorStats counts eviction outcomes since the evictor was created.
type EvictorStats struct {
	Passes  uint64
	Removed uint64
	Skipped uint64
	Failed  uint64
}

// Evictor removes the oldest instance directories until the cache is within
// its limits. Requests are coalesced: only the most recent limits of the
// requests that arrive during a pass are applied by the next pass.
type Evictor struct {
	index   *Index
	config  EvictorConfig
	usage   UsageReader
	logger  *utils.StructuredLogger
	retryer *retry.Retryer

	// passMu serializes passes of the worker and direct Prune calls.
	passMu sync.Mutex

	mu      sync.Mutex
	pending *Limits
	stats   EvictorStats
	onEvict func(path string)
	started bool
	closed  bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEvictor creates an evictor for index. usage may be nil.
func NewEvictor(index *Index, config EvictorConfig, usage UsageReader, logger *utils.StructuredLogger) *Evictor {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	if config.MinDepth <= 0 {
		config.MinDepth = DefaultMinDepth
	}
	if config.RemoveAttempts <= 0 {
		config.RemoveAttempts = 3
	}
	if config.RemoveDelay <= 0 {
		config.RemoveDelay = 50 * time.Millisecond
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = config.RemoveAttempts
	retryCfg.InitialDelay = config.RemoveDelay

	e := &Evictor{
		index:  index,
		config: config,
		usage:  usage,
		logger: logger.WithComponent("evictor"),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	e.retryer = retry.New(retryCfg).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		e.logger.Debug("retrying instance removal", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	})
	return e
}

// OnEvict registers a callback invoked after each removed instance.
func (e *Evictor) OnEvict(fn func(path string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvict = fn
}

// Start launches the worker goroutine.
func (e *Evictor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true
	go e.run()
}

// Trigger schedules a pass with the given limits. It never blocks.
func (e *Evictor) Trigger(limits Limits) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	l := limits
	e.pending = &l
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker. A pass in progress runs to completion.
func (e *Evictor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	close(e.stopCh)
	e.mu.Unlock()

	if started {
		<-e.doneCh
	}
	return nil
}

// Stats returns a snapshot of the eviction counters.
func (e *Evictor) Stats() EvictorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Evictor) run() {
	defer close(e.doneCh)

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.wake:
			e.mu.Lock()
			limits := e.pending
			e.pending = nil
			e.mu.Unlock()
			if limits == nil {
				continue
			}

			removed, err := e.Prune(*limits)
			if err != nil {
				e.logger.Error("eviction pass aborted", map[string]interface{}{
					"removed": removed,
					"error":   err.Error(),
				})
			} else if removed > 0 {
				e.logger.Info("eviction pass finished", map[string]interface{}{
					"removed":     removed,
					"max_entries": limits.MaxEntries,
				})
			}
		}
	}
}

// Prune runs one eviction pass synchronously and returns the number of
// removed instances. Entries whose path fails the safety checks are dropped
// from the index without touching the disk. A directory that cannot be
// removed ends the pass and stays indexed so a later pass retries it.
func (e *Evictor) Prune(limits Limits) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	e.mu.Lock()
	e.stats.Passes++
	e.mu.Unlock()

	removed := 0
	for {
		front, ok := e.index.Front()
		if !ok {
			return removed, nil
		}
		if e.index.Len() <= limits.MaxEntries && !e.underPressure(limits) {
			return removed, nil
		}

		if err := e.checkPath(front); err != nil {
			e.logger.Warn("deletion skipped", map[string]interface{}{
				"path":   front,
				"reason": err.Error(),
			})
			e.mu.Lock()
			e.stats.Skipped++
			e.mu.Unlock()
			if _, err := e.index.Remove(front); err != nil {
				return removed, err
			}
			continue
		}

		if err := e.removeDir(front); err != nil {
			e.mu.Lock()
			e.stats.Failed++
			e.mu.Unlock()
			return removed, err
		}
		if _, err := e.index.Remove(front); err != nil {
			return removed, err
		}

		removed++
		e.mu.Lock()
		e.stats.Removed++
		cb := e.onEvict
		e.mu.Unlock()
		if cb != nil {
			cb(front)
		}
		e.logger.Debug("instance evicted", map[string]interface{}{"path": front})
	}
}

func (e *Evictor) underPressure(limits Limits) bool {
	if !e.config.EvictOnDiskPressure || e.usage == nil {
		return false
	}
	usage, err := e.usage.RelativeUsage()
	if err != nil {
		e.logger.Warn("disk usage unavailable", map[string]interface{}{"error": err.Error()})
		return false
	}
	return usage > limits.MaxRelativeUsage
}

func (e *Evictor) checkPath(path string) error {
	if e.config.Root == "" {
		return errors.NewError(errors.ErrCodePathInvalid, "results root not configured").WithComponent("evictor")
	}
	depth := utils.DepthBelow(e.config.Root, path)
	if depth < 0 {
		return errors.NewError(errors.ErrCodePathInvalid,
			fmt.Sprintf("path is outside %s", e.config.Root)).WithComponent("evictor")
	}
	if depth < e.config.MinDepth {
		return errors.NewError(errors.ErrCodePathInvalid,
			fmt.Sprintf("depth %d below minimum %d", depth, e.config.MinDepth)).WithComponent("evictor")
	}
	return nil
}

func (e *Evictor) removeDir(path string) error {
	return e.retryer.Do(func() error {
		if err := os.RemoveAll(path); err != nil {
			return errors.Wrap(err, errors.ErrCodeEvictionFailed, "failed to remove instance directory").
				WithComponent("evictor").
				WithOperation("removeDir").
				WithContext("path", path)
		}
		return nil
	})
}
