//go:build unix

package cache

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldmaster/resultstore/pkg/errors"
)

func TestAcquireLockIsExclusive(t *testing.T) {
	root := t.TempDir()

	first, err := AcquireLock(root)
	require.NoError(t, err)

	_, err = AcquireLock(root)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.NewError(errors.ErrCodeIndexLocked, "")))

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := AcquireLock(root)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestReleaseNilLock(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}
