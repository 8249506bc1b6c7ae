package diskusage

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weldmaster/resultstore/pkg/utils"
)

type fakeStatter struct {
	mu    sync.Mutex
	stat  Stat
	err   error
	paths []string
}

func (f *fakeStatter) Stat(path string) (Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.stat, f.err
}

func TestStatRelative(t *testing.T) {
	tests := []struct {
		name string
		stat Stat
		want float64
	}{
		{"empty volume", Stat{Total: 100, Free: 100, Available: 100}, 0},
		{"half used", Stat{Total: 100, Free: 50, Available: 50}, 0.5},
		{"reserved blocks count as used", Stat{Total: 100, Free: 20, Available: 10}, 80.0 / 90.0},
		{"full", Stat{Total: 100, Free: 5, Available: 0}, 1},
		{"zero", Stat{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.stat.Relative(), 1e-9)
		})
	}
}

func TestCheckComparesAgainstMax(t *testing.T) {
	fs := &fakeStatter{stat: Stat{Total: 100, Free: 40, Available: 40}}
	m := NewMonitor(t.TempDir(), fs, utils.NewNopLogger())

	shutdown, usage, err := m.Check(0.9)
	require.NoError(t, err)
	assert.False(t, shutdown)
	assert.InDelta(t, 0.6, usage, 1e-9)

	shutdown, _, err = m.Check(0.0)
	require.NoError(t, err)
	assert.True(t, shutdown)

	shutdown, _, err = m.Check(0.6)
	require.NoError(t, err)
	assert.False(t, shutdown, "usage equal to the limit is admitted")

	last, at := m.Last()
	assert.InDelta(t, 0.6, last, 1e-9)
	assert.False(t, at.IsZero())
}

func TestUsageMeasuresExistingAncestor(t *testing.T) {
	root := t.TempDir()
	fs := &fakeStatter{stat: Stat{Total: 10, Free: 10, Available: 10}}
	m := NewMonitor(filepath.Join(root, "results", "not", "created"), fs, utils.NewNopLogger())

	_, err := m.RelativeUsage()
	require.NoError(t, err)
	require.Len(t, fs.paths, 1)
	assert.Equal(t, root, fs.paths[0])
}

func TestUsageErrors(t *testing.T) {
	m := NewMonitor("", &fakeStatter{}, utils.NewNopLogger())
	_, err := m.RelativeUsage()
	assert.Error(t, err)

	m.SetPath(t.TempDir())
	m.statter = &fakeStatter{err: errors.New("io error")}
	shutdown, _, err := m.Check(0)
	assert.Error(t, err)
	assert.False(t, shutdown)
}

func TestStatfsStatterOnTempDir(t *testing.T) {
	m := NewMonitor(t.TempDir(), nil, utils.NewNopLogger())
	usage, err := m.RelativeUsage()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, usage, 0.0)
	assert.LessOrEqual(t, usage, 1.0)
}

func TestPeriodicCheck(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fs := &fakeStatter{stat: Stat{Total: 100, Free: 5, Available: 5}}
	m := NewMonitor(t.TempDir(), fs, utils.NewNopLogger())

	results := make(chan bool, 16)
	m.StartPeriodic(5*time.Millisecond, func() float64 { return 0.9 }, func(shutdown bool, _ float64) {
		select {
		case results <- shutdown:
		default:
		}
	})

	select {
	case shutdown := <-results:
		assert.True(t, shutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("periodic check never ran")
	}

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestStartPeriodicDisabled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewMonitor(t.TempDir(), &fakeStatter{}, utils.NewNopLogger())
	m.StartPeriodic(0, func() float64 { return 1 }, func(bool, float64) {
		t.Error("callback must not run")
	})
	require.NoError(t, m.Close())
}
