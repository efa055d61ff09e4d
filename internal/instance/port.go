package instance

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// IsPortAvailable checks if a TCP port is free to bind.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// FindAvailablePort returns the first free port at or after startPort, or 0
// if none of the next 20 are free.
func FindAvailablePort(startPort int) int {
	const maxAttempts = 20
	for i := 0; i < maxAttempts; i++ {
		if port := startPort + i; IsPortAvailable(port) {
			return port
		}
	}
	return 0
}

// HealthCheck GETs the running instance's health endpoint.
func HealthCheck(port int) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/health", port))
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// SendShutdownRequest asks a running instance to shut down gracefully.
func SendShutdownRequest(port int) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://localhost:%d/api/shutdown", port), "application/json", nil)
	if err != nil {
		return fmt.Errorf("shutdown request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("shutdown request: status %d", resp.StatusCode)
	}
	return nil
}

// WaitForPortToBeAvailable polls until port frees up or timeout elapses.
func WaitForPortToBeAvailable(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsPortAvailable(port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
