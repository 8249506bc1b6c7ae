package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldmaster/resultstore/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultstore.yaml")

	out, err := execute(t, "config", "init", path, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg := config.NewDefault()
	cfg.Storage.MaxCacheEntries = 1
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, config.DefaultMaxCacheEntries, cfg.Storage.MaxCacheEntries)

	_, err = execute(t, "config", "init", path, "--force=false")
	assert.Error(t, err, "existing file must not be overwritten")
}

func TestSimulateListInspectPrune(t *testing.T) {
	root := t.TempDir()
	t.Setenv("RESULTSTORE_MAX_RELATIVE_DISK_USAGE", "1")
	t.Setenv("RESULTSTORE_LOG_LEVEL", "ERROR")

	out, err := execute(t, "simulate", "--results-dir", root, "--products", "3", "--seams", "2",
		"--results", "5", "--nio-rate", "0", "--lwm=false")
	require.NoError(t, err)
	assert.Contains(t, out, "simulated 3 product(s)")

	out, err = execute(t, "cache", "list", "--results-dir", root, "-o", "json")
	require.NoError(t, err)
	var entries []cacheEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.True(t, e.Present, e.Path)
	}

	out, err = execute(t, "inspect", entries[2].Path, "-o", "json")
	require.NoError(t, err)
	var report instanceReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Seams, 2)
	assert.Equal(t, []string{"GapWidth(5)"}, report.Seams[0].Results)
	assert.Equal(t, "ok", report.Seams[1].Nio)

	out, err = execute(t, "inspect", entries[2].Path, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "GapWidth(5)")

	out, err = execute(t, "cache", "prune", "--results-dir", root, "--max-entries", "1", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, entries[0].Path)

	out, err = execute(t, "cache", "prune", "--results-dir", root, "--max-entries", "1", "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 instance(s)")

	out, err = execute(t, "cache", "list", "--results-dir", root, "-o", "json")
	require.NoError(t, err)
	entries = nil
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
}

func TestUsage(t *testing.T) {
	root := t.TempDir()
	t.Setenv("RESULTSTORE_MAX_RELATIVE_DISK_USAGE", "1")

	out, err := execute(t, "usage", "--results-dir", root, "-o", "json")
	require.NoError(t, err)
	var report usageReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotZero(t, report.TotalBytes)
	assert.False(t, report.Refusing)
	assert.Equal(t, 1.0, report.Limit)
}

func TestCommandsRequireResultsDirectory(t *testing.T) {
	t.Setenv("RESULTSTORE_RESULTS_DIRECTORY", "")
	for _, args := range [][]string{
		{"cache", "list", "--results-dir", ""},
		{"usage", "--results-dir", ""},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, args)
	}
}

func TestUnsupportedOutputFormat(t *testing.T) {
	_, err := execute(t, "usage", "-o", "xml")
	assert.Error(t, err)
}
