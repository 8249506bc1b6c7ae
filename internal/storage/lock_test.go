//go:build unix

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weldmaster/resultstore/internal/cache"
)

func TestResultsDirectoryIsLockedWhileOpen(t *testing.T) {
	env := newTestEnv(t)

	_, err := cache.AcquireLock(env.root)
	require.Error(t, err)

	require.NoError(t, env.svc.SetResultsDirectory(""))
	lock, err := cache.AcquireLock(env.root)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
