//go:build !unix

package diskusage

import (
	"fmt"
	"runtime"
)

// StatfsStatter is unavailable on this platform.
type StatfsStatter struct{}

// Stat implements Statter.
func (StatfsStatter) Stat(string) (Stat, error) {
	return Stat{}, fmt.Errorf("disk usage not supported on %s", runtime.GOOS)
}
