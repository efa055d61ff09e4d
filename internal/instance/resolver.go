package instance

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ConflictResolver decides what to do when a second launch finds a live
// instance already holding the repository's port.
type ConflictResolver struct {
	mgr         *Manager
	interactive bool
}

// NewConflictResolver builds a resolver bound to mgr.
func NewConflictResolver(mgr *Manager, interactive bool) *ConflictResolver {
	return &ConflictResolver{mgr: mgr, interactive: interactive}
}

// Resolve acts on a detected running instance. May exit the process (connect
// or cancel choices).
func (r *ConflictResolver) Resolve(info *Info) error {
	if !r.interactive {
		return r.handleNonInteractive(info)
	}
	return r.handleInteractive(info)
}

func (r *ConflictResolver) handleInteractive(info *Info) error {
	r.displayConflictInfo(info)
	reader := bufio.NewReader(os.Stdin)

	for {
		choice, err := r.promptUser(reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			continue
		}
		switch choice {
		case 1:
			return r.connectToExisting(info)
		case 2:
			return r.stopExisting(info, false)
		case 3:
			return r.useDifferentPort(info)
		case 4:
			return r.stopExisting(info, true)
		case 5:
			fmt.Println("\ncanceling startup")
			os.Exit(0)
		default:
			fmt.Println("invalid choice, enter 1-5")
		}
	}
}

func (r *ConflictResolver) handleNonInteractive(info *Info) error {
	strategy := os.Getenv("HOMER_ON_CONFLICT")
	if strategy == "" {
		strategy = "exit"
	}

	fmt.Printf("port %d is in use (pid %d); conflict strategy: %s\n", info.Port, info.PID, strategy)

	switch strategy {
	case "exit":
		fmt.Fprintf(os.Stderr, "another instance is running on port %d (pid %d)\n", info.Port, info.PID)
		fmt.Fprintf(os.Stderr, "set HOMER_ON_CONFLICT to kill, port, or connect to change this\n")
		os.Exit(1)
		return nil
	case "kill":
		return r.stopExisting(info, true)
	case "port":
		return r.useDifferentPort(info)
	case "connect":
		return r.connectToExisting(info)
	default:
		return fmt.Errorf("unknown conflict strategy: %s", strategy)
	}
}

func (r *ConflictResolver) displayConflictInfo(info *Info) {
	fmt.Println()
	fmt.Println("Another instance is already running:")
	fmt.Printf("  pid:     %d\n", info.PID)
	fmt.Printf("  port:    %d\n", info.Port)
	fmt.Printf("  started: %s (%s ago)\n", info.StartTime.Format("2006-01-02 15:04:05"), time.Since(info.StartTime).Round(time.Second))
	status := "not responding"
	if info.IsResponding {
		status = "running and responding"
	}
	fmt.Printf("  status:  %s\n", status)
	fmt.Printf("  dashboard: http://localhost:%d\n\n", info.Port)
	fmt.Println("  1. connect to the existing instance")
	fmt.Println("  2. stop the existing instance and start a new one")
	fmt.Println("  3. start on a different port")
	fmt.Println("  4. force-kill the existing instance")
	fmt.Println("  5. cancel")
	fmt.Println()
}

func (r *ConflictResolver) promptUser(reader *bufio.Reader) (int, error) {
	fmt.Print("enter choice (1-5): ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}
	choice, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("invalid input")
	}
	return choice, nil
}

func (r *ConflictResolver) connectToExisting(info *Info) error {
	url := fmt.Sprintf("http://localhost:%d", info.Port)
	fmt.Printf("\nconnecting to existing instance at %s\n", url)

	if err := exec.Command("xdg-open", url).Start(); err != nil {
		fmt.Printf("please open %s manually\n", url)
	}
	os.Exit(0)
	return nil
}

func (r *ConflictResolver) stopExisting(info *Info, force bool) error {
	if !force && info.IsResponding {
		fmt.Println("\nsending graceful shutdown request...")
		if err := SendShutdownRequest(info.Port); err != nil {
			fmt.Printf("graceful shutdown failed: %v, force-killing\n", err)
			force = true
		} else {
			time.Sleep(3 * time.Second)
			if running, _ := IsProcessRunning(info.PID); !running {
				fmt.Println("previous instance stopped")
				r.mgr.RemovePIDFile()
				return nil
			}
			fmt.Println("still running after shutdown request, force-killing")
			force = true
		}
	}

	if force {
		fmt.Printf("force-killing process %d...\n", info.PID)
		if err := KillProcess(info.PID); err != nil {
			return fmt.Errorf("kill process: %w", err)
		}
		time.Sleep(time.Second)
		r.mgr.RemovePIDFile()
		fmt.Println("previous instance terminated")
	}
	return nil
}

func (r *ConflictResolver) useDifferentPort(info *Info) error {
	newPort := FindAvailablePort(r.mgr.Port() + 1)
	if newPort == 0 {
		return fmt.Errorf("no available port found")
	}
	fmt.Printf("\nstarting on port %d instead\n", newPort)
	r.mgr.SetPort(newPort)
	return nil
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
