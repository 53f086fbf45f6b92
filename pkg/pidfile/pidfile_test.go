package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestCreateWritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	p := New(path)

	if err := p.Create(); err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading PID file: %v", err)
	}
	gotPID, err := strconv.Atoi(string(data[:len(data)-1])) // trailing newline
	if err != nil {
		t.Fatalf("PID file contents not a plain integer: %q", data)
	}
	if gotPID != os.Getpid() {
		t.Errorf("PID file contains %d, want %d", gotPID, os.Getpid())
	}
}

func TestCreateFailsWhenAnotherLiveProcessHoldsIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(path)
	if err := p.Create(); err == nil {
		t.Error("expected Create() to refuse when PID 1 (init, always alive) holds the file")
	}
}

func TestCreateClearsStalePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(path)
	if err := p.Create(); err != nil {
		t.Fatalf("Create() should clear a stale PID file and succeed, got: %v", err)
	}
}

func TestRemoveRefusesWhenPIDDiffers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid()+1)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(path)
	if err := p.Remove(); err == nil {
		t.Error("expected Remove() to refuse removing a PID file owned by a different PID")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("expected the PID file to still exist after a refused Remove()")
	}
}

func TestRemoveOnAbsentFileIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	p := New(path)
	if err := p.Remove(); err != nil {
		t.Errorf("Remove() on a nonexistent file returned %v, want nil", err)
	}
}

func TestCheckRunningReportsNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	p := New(path)
	running, pid, err := p.CheckRunning()
	if err != nil || running || pid != 0 {
		t.Errorf("CheckRunning() = (%v, %d, %v), want (false, 0, nil)", running, pid, err)
	}
}

func TestCheckRunningDetectsOwnProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(path)
	running, pid, err := p.CheckRunning()
	if err != nil || !running || pid != os.Getpid() {
		t.Errorf("CheckRunning() = (%v, %d, %v), want (true, %d, nil)", running, pid, err, os.Getpid())
	}
}

func TestCheckRunningReportsDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(path)
	running, pid, err := p.CheckRunning()
	if err != nil || running || pid != 999999999 {
		t.Errorf("CheckRunning() = (%v, %d, %v), want (false, 999999999, nil)", running, pid, err)
	}
}

func TestProcessAliveRejectsNonPositivePID(t *testing.T) {
	if processAlive(0) {
		t.Error("processAlive(0) = true, want false")
	}
	if processAlive(-1) {
		t.Error("processAlive(-1) = true, want false")
	}
}

func TestForceRemoveIgnoresOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zephyrgated.pid")
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(path)
	if err := p.ForceRemove(); err != nil {
		t.Errorf("ForceRemove() returned %v, want nil", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the PID file to be gone after ForceRemove()")
	}
}
