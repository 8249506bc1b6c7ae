package cache

import (
	"os"
	"path/filepath"

	"github.com/weldmaster/resultstore/pkg/errors"
)

// LockFileName is the lock file inside the results root. Whoever holds it
// is the only writer of the cache index.
const LockFileName = ".results_cache.lock"

// Lock is an exclusive hold on the cache index of a results root.
type Lock struct {
	file *os.File
}

// AcquireLock takes the index lock of root without waiting. It fails with
// ErrCodeIndexLocked while another process or store holds it.
func AcquireLock(root string) (*Lock, error) {
	path := filepath.Join(root, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "failed to open index lock").
			WithComponent("cache").WithContext("path", path)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrCodeIndexLocked, "results directory is in use").
			WithComponent("cache").WithContext("path", path)
	}
	return &Lock{file: f}, nil
}

// Release drops the lock. It is safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := unlockFile(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
