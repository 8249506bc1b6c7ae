package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/weldmaster/resultstore/internal/cache"
	"github.com/weldmaster/resultstore/internal/config"
	"github.com/weldmaster/resultstore/internal/metrics"
	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// DefaultStagingName is the staging directory inside the results root used
// when no staging directory is configured.
const DefaultStagingName = ".incoming"

// instanceStore is an opened results root: its cache index and the worker
// that keeps it within bounds.
type instanceStore struct {
	root    string
	staging string
	index   *cache.Index
	evictor *cache.Evictor
	lock    *cache.Lock
}

// openStore opens root and purges instances left in staging by an earlier
// run. keep names a staged instance still in flight that must survive.
func openStore(root, staging, keep string, evictCfg config.EvictionConfig, usage cache.UsageReader,
	collector *metrics.Collector, logger *utils.StructuredLogger) (*instanceStore, error) {

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePathInvalid, "failed to resolve results directory").
			WithComponent("storage").WithContext("path", root)
	}
	if staging == "" {
		staging = filepath.Join(root, DefaultStagingName)
	} else if staging, err = filepath.Abs(staging); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePathInvalid, "failed to resolve staging directory").
			WithComponent("storage").WithContext("path", staging)
	}
	if filepath.Clean(staging) == root {
		return nil, errors.NewError(errors.ErrCodePathInvalid, "staging directory must differ from the results directory").
			WithComponent("storage").WithContext("path", staging)
	}

	for _, dir := range []string{root, staging} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDirectoryCreate, "failed to create directory").
				WithComponent("storage").WithContext("path", dir)
		}
	}

	lock, err := cache.AcquireLock(root)
	if err != nil {
		return nil, err
	}

	purgeStaging(staging, keep, logger)

	index, err := cache.OpenIndex(root, logger)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	evictor := cache.NewEvictor(index, cache.EvictorConfig{
		Root:                root,
		RemoveAttempts:      evictCfg.RemoveAttempts,
		RemoveDelay:         evictCfg.RemoveDelay,
		EvictOnDiskPressure: evictCfg.EvictOnDiskPressure,
	}, usage, logger)
	evictor.OnEvict(func(string) {
		collector.RecordEviction(metrics.EvictionRemoved)
		collector.SetCacheEntries(index.Len())
	})
	evictor.Start()

	collector.SetCacheEntries(index.Len())

	return &instanceStore{
		root:    root,
		staging: staging,
		index:   index,
		evictor: evictor,
		lock:    lock,
	}, nil
}

func (st *instanceStore) close() error {
	if st == nil {
		return nil
	}
	err := st.evictor.Close()
	if lerr := st.lock.Release(); err == nil {
		err = lerr
	}
	return err
}

func purgeStaging(staging, keep string, logger *utils.StructuredLogger) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		logger.Warn("failed to read staging directory", map[string]interface{}{
			"path":  staging,
			"error": err.Error(),
		})
		return
	}
	for _, entry := range entries {
		path := filepath.Join(staging, entry.Name())
		if keep != "" && (keep == path || strings.HasPrefix(keep, path+string(filepath.Separator))) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove stale staged data", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		logger.Info("removed stale staged data", map[string]interface{}{"path": path})
	}
}
