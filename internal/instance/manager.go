// Package instance guards against two homer processes sharing one
// repository: a PID file records who is running, an advisory flock (see
// lock_unix.go) makes the claim exclusive, and a conflict resolver decides
// what to do when a second launch finds the first still alive.
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manager tracks the single running instance for one repository.
type Manager struct {
	pidFilePath  string
	lockFilePath string
	port         int
	lockFile     *os.File
	acquiredLock bool
}

// Info describes a running instance, as read back from its PID file.
type Info struct {
	PID          int
	Port         int
	StartTime    time.Time
	IsRunning    bool
	IsResponding bool
	BasePath     string
}

// pidFileData is the on-disk JSON shape of the PID file.
type pidFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	BasePath  string    `json:"base_path"`
	Hostname  string    `json:"hostname"`
}

// NewManager builds a Manager for the PID file at pidFilePath, which also
// determines the lock file's path (pidFilePath + ".lock").
func NewManager(pidFilePath string, port int) *Manager {
	return &Manager{
		pidFilePath:  pidFilePath,
		lockFilePath: pidFilePath + ".lock",
		port:         port,
	}
}

// CheckExistingInstance reports a still-live instance from the PID file, or
// nil if none is running. A stale PID file (process gone) is removed.
func (m *Manager) CheckExistingInstance() (*Info, error) {
	data, err := m.ReadPIDFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pid file: %w", err)
	}

	running, err := IsProcessRunning(data.PID)
	if err != nil {
		return nil, fmt.Errorf("check process: %w", err)
	}
	if !running {
		m.RemovePIDFile()
		return nil, nil
	}

	return &Info{
		PID:          data.PID,
		Port:         data.Port,
		StartTime:    data.StartedAt,
		IsRunning:    true,
		IsResponding: HealthCheck(data.Port) == nil,
		BasePath:     data.BasePath,
	}, nil
}

// WritePIDFile records the current process as the running instance.
func (m *Manager) WritePIDFile(pid, port int, basePath string) error {
	hostname, _ := os.Hostname()
	data := pidFileData{
		PID:       pid,
		Port:      port,
		StartedAt: time.Now(),
		BasePath:  basePath,
		Hostname:  hostname,
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pid data: %w", err)
	}
	if err := os.WriteFile(m.pidFilePath, encoded, 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile reads and parses the PID file.
func (m *Manager) ReadPIDFile() (*pidFileData, error) {
	raw, err := os.ReadFile(m.pidFilePath)
	if err != nil {
		return nil, err
	}
	var data pidFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	return &data, nil
}

// RemovePIDFile deletes the PID file, if present.
func (m *Manager) RemovePIDFile() error {
	if err := os.Remove(m.pidFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Port returns the port the manager is configured for.
func (m *Manager) Port() int { return m.port }

// SetPort updates the port (the resolver calls this after picking a
// different one).
func (m *Manager) SetPort(port int) { m.port = port }
