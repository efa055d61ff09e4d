package instance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRemovePIDFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "homer.pid"), 4170)

	if err := m.WritePIDFile(1234, 4170, "/repo"); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	data, err := m.ReadPIDFile()
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if data.PID != 1234 || data.Port != 4170 || data.BasePath != "/repo" {
		t.Errorf("data = %+v", data)
	}

	if err := m.RemovePIDFile(); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := m.ReadPIDFile(); !os.IsNotExist(err) {
		t.Errorf("expected not-exist after removal, got %v", err)
	}
}

func TestRemovePIDFile_NonExistent(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing.pid"), 4170)
	if err := m.RemovePIDFile(); err != nil {
		t.Errorf("RemovePIDFile on missing file: %v", err)
	}
}

func TestReadPIDFile_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homer.pid")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, 4170)
	if _, err := m.ReadPIDFile(); err == nil {
		t.Error("expected parse error")
	}
}

func TestCheckExistingInstance_NoFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "homer.pid"), 4170)
	info, err := m.CheckExistingInstance()
	if err != nil || info != nil {
		t.Errorf("info = %+v, err = %v", info, err)
	}
}

func TestCheckExistingInstance_StalePIDRemoved(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "homer.pid"), 4170)
	// PID 999999 is extremely unlikely to be a live process.
	if err := m.WritePIDFile(999999, 4170, "/repo"); err != nil {
		t.Fatal(err)
	}

	info, err := m.CheckExistingInstance()
	if err != nil {
		t.Fatalf("CheckExistingInstance: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil info for stale pid, got %+v", info)
	}
	if _, err := m.ReadPIDFile(); !os.IsNotExist(err) {
		t.Error("expected stale pid file to be removed")
	}
}

func TestCheckExistingInstance_CurrentProcessIsRunning(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "homer.pid"), 4170)
	if err := m.WritePIDFile(os.Getpid(), 4170, "/repo"); err != nil {
		t.Fatal(err)
	}

	info, err := m.CheckExistingInstance()
	if err != nil {
		t.Fatalf("CheckExistingInstance: %v", err)
	}
	if info == nil || !info.IsRunning {
		t.Errorf("expected running instance, got %+v", info)
	}
}

func TestPortAccessors(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "homer.pid"), 4170)
	if m.Port() != 4170 {
		t.Errorf("Port() = %d", m.Port())
	}
	m.SetPort(4171)
	if m.Port() != 4171 {
		t.Errorf("Port() after SetPort = %d", m.Port())
	}
}
