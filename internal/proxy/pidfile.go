package proxy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile enforces single-instance-per-node: a proxy records its pid in a
// local file and refuses to start if another live process already holds
// one. A pid file left behind by a process that no longer exists is
// treated as stale and reclaimed rather than blocking startup.
type PIDFile struct {
	path string
}

// AcquirePIDFile checks path for a pid belonging to a still-running
// process, fails if one is found, and otherwise (re)writes path with the
// current process's pid.
func AcquirePIDFile(path string) (*PIDFile, error) {
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			if processAlive(pid) {
				return nil, fmt.Errorf("proxy already running with pid %d (pid file %s)", pid, path)
			}
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale pid file: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PIDFile{path: path}, nil
}

// Release removes the pid file. Call on clean shutdown.
func (f *PIDFile) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// processAlive reports whether pid names a running process, by sending
// the null signal (no actual signal delivered, just an existence check).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
