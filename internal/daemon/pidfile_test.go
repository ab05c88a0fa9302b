package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// deadPID is far above any kernel pid_max, so no process can own it.
const deadPID = 0x7ffffff0

func writePIDFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWritePID_ReadPID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID got %d, want %d", pid, os.Getpid())
	}
	if _, err := os.Stat(filepath.Join(dir, pidFilename+".tmp")); !os.IsNotExist(err) {
		t.Error("temporary PID file left behind")
	}
}

func TestReadPID_Invalid(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadPID(dir); err == nil {
		t.Fatal("expected error reading nonexistent PID file")
	}

	for _, content := range []string{"not-a-number", "", "-4", "0"} {
		writePIDFile(t, dir, content)
		if _, err := ReadPID(dir); err == nil {
			t.Errorf("ReadPID(%q): expected error", content)
		}
	}
}

func TestRemovePID(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFilename)); !os.IsNotExist(err) {
		t.Error("PID file still exists after RemovePID")
	}
	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID on missing file: %v", err)
	}
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	if IsRunning(dir) {
		t.Error("IsRunning returned true with no PID file")
	}

	writePIDFile(t, dir, strconv.Itoa(deadPID))
	if IsRunning(dir) {
		t.Error("IsRunning returned true for a dead PID")
	}

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if !IsRunning(dir) {
		t.Error("IsRunning returned false for our own PID")
	}
}

func TestAcquirePID_ReplacesStaleFile(t *testing.T) {
	dir := t.TempDir()
	writePIDFile(t, dir, strconv.Itoa(deadPID))

	if err := AcquirePID(dir); err != nil {
		t.Fatalf("AcquirePID over stale file: %v", err)
	}
	if pid, _ := ReadPID(dir); pid != os.Getpid() {
		t.Errorf("PID after acquire: got %d, want %d", pid, os.Getpid())
	}
}

func TestAcquirePID_RefusesLiveOwner(t *testing.T) {
	dir := t.TempDir()
	writePIDFile(t, dir, strconv.Itoa(os.Getppid()))

	err := AcquirePID(dir)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("AcquirePID: got %v, want ErrAlreadyRunning", err)
	}
	if pid, _ := ReadPID(dir); pid != os.Getppid() {
		t.Error("AcquirePID overwrote a live owner's PID file")
	}
}

func TestAcquirePID_OwnPIDIsFine(t *testing.T) {
	dir := t.TempDir()
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := AcquirePID(dir); err != nil {
		t.Fatalf("AcquirePID with own PID: %v", err)
	}
}
