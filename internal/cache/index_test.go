package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldmaster/resultstore/pkg/utils"
)

func TestOpenIndexMissingFile(t *testing.T) {
	root := t.TempDir()

	idx, err := OpenIndex(root, utils.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Entries())
	assert.Equal(t, filepath.Join(root, IndexFileName), idx.Path())

	_, ok := idx.Front()
	assert.False(t, ok)
}

func TestIndexAppendPersistsLines(t *testing.T) {
	root := t.TempDir()
	idx, err := OpenIndex(root, utils.NewNopLogger())
	require.NoError(t, err)

	first := filepath.Join(root, "p1", "i1-SN-1")
	second := filepath.Join(root, "p1", "i2-SN-2") + "/"
	require.NoError(t, idx.Append(first))
	require.NoError(t, idx.Append(second))

	data, err := os.ReadFile(idx.Path())
	require.NoError(t, err)
	assert.Equal(t, first+"/\n"+second+"\n", string(data))

	front, ok := idx.Front()
	require.True(t, ok)
	assert.Equal(t, first+"/", front)

	reopened, err := OpenIndex(root, utils.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{first + "/", second}, reopened.Entries())
}

func TestIndexRemoveWithOrWithoutTrailingSeparator(t *testing.T) {
	root := t.TempDir()
	idx, err := OpenIndex(root, utils.NewNopLogger())
	require.NoError(t, err)

	a := filepath.Join(root, "p", "a")
	b := filepath.Join(root, "p", "b")
	c := filepath.Join(root, "p", "c")
	for _, dir := range []string{a, b, c} {
		require.NoError(t, idx.Append(dir))
	}

	found, err := idx.Remove(b)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = idx.Remove(c + "/")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = idx.Remove(filepath.Join(root, "p", "missing"))
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := ReadIndexFile(root)
	require.NoError(t, err)
	assert.Equal(t, []string{a + "/"}, entries)
}

func TestReadIndexSkipsBlankLines(t *testing.T) {
	root := t.TempDir()
	content := "/r/p/a/\n\n  \n/r/p/b/\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, IndexFileName), []byte(content), 0640))

	entries, err := ReadIndexFile(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/p/a/", "/r/p/b/"}, entries)
}

func TestIndexEntriesIsACopy(t *testing.T) {
	idx, err := OpenIndex(t.TempDir(), utils.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, idx.Append("/r/p/a"))

	entries := idx.Entries()
	entries[0] = "mutated"

	front, _ := idx.Front()
	assert.Equal(t, "/r/p/a/", front)
}
