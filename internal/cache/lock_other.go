//go:build !unix

package cache

import "os"

// Without flock the lock only documents ownership.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
