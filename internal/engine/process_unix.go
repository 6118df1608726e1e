//go:build unix

package engine

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// ProcessAlive probes pid with signal 0.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate asks the process owning a run to stop gracefully.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("signal pid %d: invalid pid", pid)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}

// ProcessIdentity returns the start time of pid in clock ticks since boot, as
// reported by /proc/<pid>/stat. It is empty where /proc is unavailable.
func ProcessIdentity(pid int) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return ""
	}
	return startTimeFromStat(data)
}
