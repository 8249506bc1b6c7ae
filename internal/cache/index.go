package cache

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// IndexFileName is the name of the cache index inside the results root.
const IndexFileName = ".results_cache"

// Index is the ordered ledger of finalized product instance directories,
// oldest first. Every mutation rewrites the index file atomically.
type Index struct {
	mu      sync.Mutex
	path    string
	entries []string
	logger  *utils.StructuredLogger
}

// OpenIndex loads the index stored in root. A missing file yields an empty index.
func OpenIndex(root string, logger *utils.StructuredLogger) (*Index, error) {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	idx := &Index{
		path:   filepath.Join(root, IndexFileName),
		logger: logger.WithComponent("cache"),
	}
	entries, err := readIndexFile(idx.path)
	if err != nil {
		return nil, err
	}
	idx.entries = entries
	return idx, nil
}

// Path returns the location of the index file.
func (i *Index) Path() string {
	return i.path
}

// Append adds an instance directory at the end of the index. The in-memory
// entry is kept even when persisting fails so the next write catches up.
func (i *Index) Append(dir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries = append(i.entries, utils.WithTrailingSeparator(dir))
	return i.saveLocked()
}

// Entries returns a copy of all entries, oldest first.
func (i *Index) Entries() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]string, len(i.entries))
	copy(out, i.entries)
	return out
}

// Len returns the number of entries.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// Front returns the oldest entry.
func (i *Index) Front() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.entries) == 0 {
		return "", false
	}
	return i.entries[0], true
}

// Remove deletes the first entry equal to dir, with or without trailing
// separator. It reports whether an entry was found.
func (i *Index) Remove(dir string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	want := utils.WithTrailingSeparator(dir)
	for n, e := range i.entries {
		if utils.WithTrailingSeparator(e) == want {
			i.entries = append(i.entries[:n:n], i.entries[n+1:]...)
			return true, i.saveLocked()
		}
	}
	return false, nil
}

func (i *Index) saveLocked() error {
	pending, err := renameio.NewPendingFile(i.path, renameio.WithPermissions(0640))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "failed to create index temp file").
			WithComponent("cache").WithContext("path", i.path)
	}
	defer func() { _ = pending.Cleanup() }()

	w := bufio.NewWriter(pending)
	for _, e := range i.entries {
		if _, err := w.WriteString(e + "\n"); err != nil {
			return errors.Wrap(err, errors.ErrCodeIndexWrite, "failed to write index").
				WithComponent("cache").WithContext("path", i.path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "failed to flush index").
			WithComponent("cache").WithContext("path", i.path)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "failed to replace index").
			WithComponent("cache").WithContext("path", i.path)
	}

	i.logger.Debug("index written", map[string]interface{}{"entries": len(i.entries)})
	return nil
}

// ReadIndexFile parses an index file without opening it for mutation.
func ReadIndexFile(root string) ([]string, error) {
	return readIndexFile(filepath.Join(root, IndexFileName))
}

func readIndexFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeIndexRead, "failed to open index").
			WithComponent("cache").WithContext("path", path)
	}
	defer func() { _ = f.Close() }()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexRead, fmt.Sprintf("failed to read index after %d entries", len(entries))).
			WithComponent("cache").WithContext("path", path)
	}
	return entries, nil
}
