package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFilename = "anchor.pid"

// ErrAlreadyRunning is returned by AcquirePID when a live process owns the
// PID file.
var ErrAlreadyRunning = errors.New("anchor is already running")

// WritePID writes the current process ID to dataDir/anchor.pid. The file is
// written to a temporary name first and renamed into place.
func WritePID(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for PID file: %w", err)
	}

	path := pidPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing PID file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing PID file %s: %w", path, err)
	}
	return nil
}

// AcquirePID writes the PID file unless another live process already owns
// it. A PID file left behind by a dead process is replaced.
func AcquirePID(dataDir string) error {
	if pid, err := ReadPID(dataDir); err == nil && pid != os.Getpid() && isProcessAlive(pid) {
		return fmt.Errorf("%w (PID %d, file %s)", ErrAlreadyRunning, pid, pidPath(dataDir))
	}
	return WritePID(dataDir)
}

// ReadPID reads the PID from dataDir/anchor.pid.
func ReadPID(dataDir string) (int, error) {
	path := pidPath(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("parsing PID from %s: invalid content %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// RemovePID removes the PID file from dataDir. A missing file is not an error.
func RemovePID(dataDir string) error {
	path := pidPath(dataDir)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing PID file %s: %w", path, err)
	}
	return nil
}

// IsRunning reports whether the PID file names a live process.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	if err != nil {
		return false
	}
	return isProcessAlive(pid)
}

// isProcessAlive probes pid with signal 0. EPERM still means the process
// exists.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, pidFilename)
}
