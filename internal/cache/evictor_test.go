package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weldmaster/resultstore/pkg/utils"
)

type fakeUsage struct {
	mu    sync.Mutex
	usage float64
}

func (f *fakeUsage) RelativeUsage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, nil
}

func (f *fakeUsage) set(v float64) {
	f.mu.Lock()
	f.usage = v
	f.mu.Unlock()
}

// makeInstances creates n instance directories under root and indexes them.
func makeInstances(t *testing.T, root string, idx *Index, n int) []string {
	t.Helper()
	dirs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		dir := filepath.Join(root, "product", fmt.Sprintf("%d234-SN-%d", i+1, i))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "seam_series0000", "seam0000"), 0750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{}"), 0640))
		require.NoError(t, idx.Append(dir))
		dirs = append(dirs, dir)
	}
	return dirs
}

func newTestEvictor(t *testing.T, root string, usage UsageReader, pressure bool) (*Index, *Evictor) {
	t.Helper()
	idx, err := OpenIndex(root, utils.NewNopLogger())
	require.NoError(t, err)
	ev := NewEvictor(idx, EvictorConfig{
		Root:                root,
		RemoveAttempts:      2,
		RemoveDelay:         time.Millisecond,
		EvictOnDiskPressure: pressure,
	}, usage, utils.NewNopLogger())
	return idx, ev
}

func TestPruneRemovesOldestFirst(t *testing.T) {
	root := t.TempDir()
	idx, ev := newTestEvictor(t, root, nil, false)
	dirs := makeInstances(t, root, idx, 5)

	var evicted []string
	ev.OnEvict(func(path string) { evicted = append(evicted, path) })

	removed, err := ev.Prune(Limits{MaxEntries: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, dir := range dirs[:3] {
		assert.NoDirExists(t, dir)
	}
	for _, dir := range dirs[3:] {
		assert.DirExists(t, dir)
	}
	assert.Equal(t, []string{dirs[3] + "/", dirs[4] + "/"}, idx.Entries())
	assert.Len(t, evicted, 3)

	stats := ev.Stats()
	assert.Equal(t, uint64(3), stats.Removed)
	assert.Equal(t, uint64(1), stats.Passes)
}

func TestPruneWithinLimitsIsNoop(t *testing.T) {
	root := t.TempDir()
	idx, ev := newTestEvictor(t, root, nil, false)
	dirs := makeInstances(t, root, idx, 3)

	removed, err := ev.Prune(Limits{MaxEntries: 3})
	require.NoError(t, err)
	assert.Zero(t, removed)
	for _, dir := range dirs {
		assert.DirExists(t, dir)
	}
}

func TestPruneMissingDirectoryCountsAsRemoved(t *testing.T) {
	root := t.TempDir()
	idx, ev := newTestEvictor(t, root, nil, false)
	dirs := makeInstances(t, root, idx, 2)
	require.NoError(t, os.RemoveAll(dirs[0]))

	removed, err := ev.Prune(Limits{MaxEntries: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{dirs[1] + "/"}, idx.Entries())
}

func TestPruneSkipsUnsafePaths(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	idx, ev := newTestEvictor(t, root, nil, false)

	outsideDir := filepath.Join(outside, "product", "instance")
	require.NoError(t, os.MkdirAll(outsideDir, 0750))
	shallow := filepath.Join(root, "product")
	require.NoError(t, idx.Append(outsideDir))
	require.NoError(t, idx.Append(shallow))
	dirs := makeInstances(t, root, idx, 2)

	removed, err := ev.Prune(Limits{MaxEntries: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.DirExists(t, outsideDir, "paths outside the results root must never be deleted")
	assert.DirExists(t, shallow, "product level directories must never be deleted")
	assert.NoDirExists(t, dirs[0])
	assert.DirExists(t, dirs[1])
	assert.Equal(t, []string{dirs[1] + "/"}, idx.Entries())
	assert.Equal(t, uint64(2), ev.Stats().Skipped)
}

func TestPruneOnDiskPressure(t *testing.T) {
	root := t.TempDir()
	usage := &fakeUsage{usage: 0.95}
	idx, ev := newTestEvictor(t, root, usage, true)
	dirs := makeInstances(t, root, idx, 4)

	ev.OnEvict(func(string) {
		usage.mu.Lock()
		usage.usage -= 0.1
		usage.mu.Unlock()
	})

	removed, err := ev.Prune(Limits{MaxEntries: 10, MaxRelativeUsage: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoDirExists(t, dirs[0])
	assert.NoDirExists(t, dirs[1])
	assert.DirExists(t, dirs[2])

	usage.set(0.5)
	removed, err = ev.Prune(Limits{MaxEntries: 10, MaxRelativeUsage: 0.8})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDiskPressureIgnoredWhenDisabled(t *testing.T) {
	root := t.TempDir()
	idx, ev := newTestEvictor(t, root, &fakeUsage{usage: 1}, false)
	makeInstances(t, root, idx, 3)

	removed, err := ev.Prune(Limits{MaxEntries: 10, MaxRelativeUsage: 0.1})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEvictorWorkerAppliesTriggers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	idx, ev := newTestEvictor(t, root, nil, false)
	dirs := makeInstances(t, root, idx, 5)

	ev.Start()
	ev.Trigger(Limits{MaxEntries: 4})
	ev.Trigger(Limits{MaxEntries: 2})

	require.Eventually(t, func() bool {
		return idx.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)

	for _, dir := range dirs[:3] {
		assert.NoDirExists(t, dir)
	}
	assert.DirExists(t, dirs[3])
	assert.DirExists(t, dirs[4])

	require.NoError(t, ev.Close())
	require.NoError(t, ev.Close())
}

func TestEvictorTriggerAfterCloseIsIgnored(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	idx, ev := newTestEvictor(t, root, nil, false)
	makeInstances(t, root, idx, 3)

	ev.Start()
	require.NoError(t, ev.Close())
	ev.Trigger(Limits{MaxEntries: 0})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, idx.Len())
}

func TestEvictorCloseWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, ev := newTestEvictor(t, t.TempDir(), nil, false)
	require.NoError(t, ev.Close())
}
