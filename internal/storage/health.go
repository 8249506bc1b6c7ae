package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/weldmaster/resultstore/internal/health"
)

// RegisterHealthChecks adds the checks of the results store to c:
//
//	results_directory  the staging directory accepts new files (critical)
//	disk_usage         new instances are admitted
//	eviction           no instance directory failed to be removed since the
//	                   previous run
func (s *Service) RegisterHealthChecks(c *health.Checker) error {
	if err := c.RegisterCheck("results_directory", "results directory is open and writable",
		health.PriorityCritical, s.checkResultsDirectory); err != nil {
		return err
	}
	if err := c.RegisterCheck("disk_usage", "disk usage is below max_relative_disk_usage",
		health.PriorityLow, s.checkAdmission); err != nil {
		return err
	}

	var mu sync.Mutex
	var lastFailed uint64
	return c.RegisterCheck("eviction", "oldest instances are removed",
		health.PriorityLow, func(context.Context) error {
			store := s.currentStore()
			if store == nil {
				return nil
			}
			failed := store.evictor.Stats().Failed

			mu.Lock()
			defer mu.Unlock()
			if failed > lastFailed {
				n := failed - lastFailed
				lastFailed = failed
				return fmt.Errorf("%d instance directories could not be removed", n)
			}
			lastFailed = failed
			return nil
		})
}

func (s *Service) currentStore() *instanceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Service) checkResultsDirectory(context.Context) error {
	s.mu.Lock()
	dir := s.resultsDirectory
	store := s.store
	s.mu.Unlock()

	if dir == "" {
		return fmt.Errorf("no results directory configured")
	}
	if store == nil {
		return fmt.Errorf("results directory %s is not open", dir)
	}

	probe, err := os.CreateTemp(store.staging, ".probe-*")
	if err != nil {
		return fmt.Errorf("staging directory not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

func (s *Service) checkAdmission(context.Context) error {
	limit := s.MaxRelativeDiskUsage()
	shutdown, usage, err := s.monitor.Check(limit)
	if err != nil {
		return err
	}
	if shutdown {
		return fmt.Errorf("disk usage %.1f%% above limit %.1f%%", usage*100, limit*100)
	}
	return nil
}
