/*
Package cache bounds the on-disk history of finalized product instances.

The Index is the ledger stored as .results_cache in the results root: one
absolute instance directory per line, oldest first, with a trailing newline.
Each mutation rewrites the file through renameio so readers never observe a
partial index.

The Evictor owns a single worker goroutine. Trigger hands it the current
limits without blocking; the worker removes the oldest directories first and
drops each index line only after its directory is gone. Several triggers
arriving while a pass runs collapse into one follow-up pass.

	idx, _ := cache.OpenIndex(root, logger)
	ev := cache.NewEvictor(idx, cache.EvictorConfig{Root: root}, monitor, logger)
	ev.Start()
	defer ev.Close()

	_ = idx.Append(instanceDir)
	ev.Trigger(cache.Limits{MaxEntries: 500})
*/
package cache
