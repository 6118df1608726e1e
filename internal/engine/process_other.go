//go:build !unix

package engine

import (
	"fmt"
	"os"
)

// ProcessAlive cannot probe without signals here, so any recorded pid that
// the OS can look up counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

func Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find pid %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// ProcessIdentity is unavailable here; records fall back to pid liveness.
func ProcessIdentity(pid int) string {
	return ""
}
