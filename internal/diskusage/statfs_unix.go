//go:build unix

package diskusage

import (
	"golang.org/x/sys/unix"
)

// StatfsStatter reads capacity with statfs(2).
type StatfsStatter struct{}

// Stat implements Statter.
func (StatfsStatter) Stat(path string) (Stat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Stat{}, err
	}
	bsize := uint64(st.Bsize)
	return Stat{
		Total:     uint64(st.Blocks) * bsize,
		Free:      uint64(st.Bfree) * bsize,
		Available: uint64(st.Bavail) * bsize,
	}, nil
}
