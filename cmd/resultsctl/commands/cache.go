package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/weldmaster/resultstore/internal/cache"
	"github.com/weldmaster/resultstore/internal/config"
)

var (
	cacheOutput     string
	pruneMaxEntries int
	pruneDryRun     bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "List or prune the results cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored product instances, oldest first",
	RunE:  runCacheList,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove the oldest product instances",
	Long: `Remove the oldest product instances until at most --max-entries remain.

Entries outside the results directory, or too shallow below it, are dropped
from the index without touching the disk.

Pruning rewrites the cache index and refuses to run while a service holds
the results directory; --dry-run only reads it.

Examples:
  # Keep the 100 newest instances
  resultsctl cache prune --results-dir /data/results --max-entries 100

  # Show what would be removed
  resultsctl cache prune --max-entries 100 --dry-run`,
	RunE: runCachePrune,
}

func init() {
	cacheListCmd.Flags().StringVarP(&cacheOutput, "output", "o", outputTable, "Output format (table|json)")
	cachePruneCmd.Flags().IntVar(&pruneMaxEntries, "max-entries", -1, "number of instances to keep (default: storage.max_cache_entries)")
	cachePruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "only print the instances that would be removed")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePruneCmd)
}

type cacheEntry struct {
	Position int    `json:"position"`
	Path     string `json:"path"`
	Present  bool   `json:"present"`
}

func runCacheList(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(cacheOutput); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := requireResultsDir(cfg)
	if err != nil {
		return err
	}

	paths, err := cache.ReadIndexFile(root)
	if err != nil {
		return err
	}

	entries := make([]cacheEntry, 0, len(paths))
	for i, p := range paths {
		_, statErr := os.Stat(p)
		entries = append(entries, cacheEntry{Position: i + 1, Path: p, Present: statErr == nil})
	}

	if cacheOutput == outputJSON {
		return printJSON(cmd.OutOrStdout(), entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		present := "yes"
		if !e.Present {
			present = "missing"
		}
		rows = append(rows, []string{strconv.Itoa(e.Position), e.Path, present})
	}
	printTable(cmd.OutOrStdout(), []string{"#", "Path", "On disk"}, rows)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d instance(s), limit %d\n", len(entries), cfg.Storage.MaxCacheEntries)
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := requireResultsDir(cfg)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	keep := cfg.Storage.MaxCacheEntries
	if pruneMaxEntries >= 0 {
		keep = config.ClampCacheEntries(pruneMaxEntries)
	}

	if !pruneDryRun {
		lock, err := cache.AcquireLock(root)
		if err != nil {
			return fmt.Errorf("cannot prune %s while it is in use: %w", root, err)
		}
		defer lock.Release()
	}

	index, err := cache.OpenIndex(root, logger)
	if err != nil {
		return err
	}

	if pruneDryRun {
		entries := index.Entries()
		surplus := len(entries) - keep
		if surplus <= 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d instance(s), nothing to remove\n", len(entries))
			return nil
		}
		for _, e := range entries[:surplus] {
			fmt.Fprintln(cmd.OutOrStdout(), e)
		}
		return nil
	}

	evictor := cache.NewEvictor(index, cache.EvictorConfig{
		Root:           root,
		RemoveAttempts: cfg.Eviction.RemoveAttempts,
		RemoveDelay:    cfg.Eviction.RemoveDelay,
	}, nil, logger)
	removed, err := evictor.Prune(cache.Limits{MaxEntries: keep})
	stats := evictor.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d instance(s), dropped %d unsafe entries, %d remain\n",
		removed, stats.Skipped, index.Len())
	return err
}
