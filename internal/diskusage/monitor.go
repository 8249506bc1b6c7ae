// Package diskusage measures how full the results volume is and feeds the
// admission decision of the results store.
package diskusage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// Stat describes the capacity of a filesystem in bytes.
type Stat struct {
	Total     uint64
	Free      uint64
	Available uint64
}

// Used returns the bytes in use.
func (s Stat) Used() uint64 {
	if s.Free > s.Total {
		return 0
	}
	return s.Total - s.Free
}

// Relative returns the used fraction of the space available to
// unprivileged users, in [0,1].
func (s Stat) Relative() float64 {
	used := s.Used()
	denom := used + s.Available
	if denom == 0 {
		return 0
	}
	r := float64(used) / float64(denom)
	if r > 1 {
		return 1
	}
	return r
}

// Statter reads filesystem capacity for a path.
type Statter interface {
	Stat(path string) (Stat, error)
}

// CheckFunc receives the outcome of a periodic check.
type CheckFunc func(shutdown bool, usage float64)

// Monitor measures the relative disk usage of the results volume.
type Monitor struct {
	mu        sync.RWMutex
	path      string
	statter   Statter
	logger    *utils.StructuredLogger
	lastUsage float64
	lastCheck time.Time

	// Periodic checking
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	closed  bool
}

// NewMonitor creates a monitor for path. A nil statter uses statfs.
func NewMonitor(path string, statter Statter, logger *utils.StructuredLogger) *Monitor {
	if statter == nil {
		statter = StatfsStatter{}
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Monitor{
		path:    path,
		statter: statter,
		logger:  logger.WithComponent("diskusage"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// SetPath changes the measured path.
func (m *Monitor) SetPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path
}

// Path returns the measured path.
func (m *Monitor) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// Usage returns the capacity of the volume holding the measured path. When
// the path does not exist yet its nearest existing ancestor is measured.
func (m *Monitor) Usage() (Stat, error) {
	path := m.Path()
	if path == "" {
		return Stat{}, errors.NewError(errors.ErrCodeDiskUsage, "no path configured").WithComponent("diskusage")
	}

	target := existingAncestor(path)
	st, err := m.statter.Stat(target)
	if err != nil {
		return Stat{}, errors.Wrap(err, errors.ErrCodeDiskUsage, "failed to stat filesystem").
			WithComponent("diskusage").WithContext("path", target)
	}
	return st, nil
}

// RelativeUsage returns the used fraction of the results volume in [0,1].
func (m *Monitor) RelativeUsage() (float64, error) {
	st, err := m.Usage()
	if err != nil {
		return 0, err
	}
	usage := st.Relative()

	m.mu.Lock()
	m.lastUsage = usage
	m.lastCheck = time.Now()
	m.mu.Unlock()

	return usage, nil
}

// Check reports whether new instances must be refused because the usage
// exceeds max. When usage cannot be measured no shutdown is requested.
func (m *Monitor) Check(max float64) (shutdown bool, usage float64, err error) {
	usage, err = m.RelativeUsage()
	if err != nil {
		return false, 0, err
	}
	return usage > max, usage, nil
}

// Last returns the result of the most recent measurement.
func (m *Monitor) Last() (usage float64, at time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUsage, m.lastCheck
}

// StartPeriodic checks the usage against max() every interval and reports the
// outcome to fn. It does nothing for a non positive interval.
func (m *Monitor) StartPeriodic(interval time.Duration, max func() float64, fn CheckFunc) {
	if interval <= 0 {
		return
	}

	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				shutdown, usage, err := m.Check(max())
				if err != nil {
					m.logger.Warn("periodic disk usage check failed", map[string]interface{}{"error": err.Error()})
					continue
				}
				fn(shutdown, usage)
			}
		}
	}()
}

// Close stops periodic checking.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	close(m.stopCh)
	m.mu.Unlock()

	if started {
		<-m.doneCh
	}
	return nil
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// String renders a Stat for operators.
func (s Stat) String() string {
	return fmt.Sprintf("%s used of %s (%.1f%%)",
		utils.FormatBytes(s.Used()), utils.FormatBytes(s.Used()+s.Available), s.Relative()*100)
}
