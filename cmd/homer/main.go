package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/homer-run/homer/internal/dbdriver"
	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/instance"
	"github.com/homer-run/homer/internal/memory"
	"github.com/homer-run/homer/internal/nats"
	"github.com/homer-run/homer/internal/notifications"
	"github.com/homer-run/homer/internal/scheduler"
	"github.com/homer-run/homer/internal/server"
	"github.com/homer-run/homer/internal/supervisor"
	"github.com/homer-run/homer/internal/tooling"
	"github.com/homer-run/homer/internal/types"
)

func main() {
	toolID := flag.String("tool", "claude", "tool id to spawn agents with (see configs/tools.yaml)")
	model := flag.String("model", "", "model name passed through to the tool, if it supports one")
	repo := flag.String("repo", ".", "path to the repository to orchestrate")
	auto := flag.Bool("auto", false, "drive the PRD/issue backlog automatically, filling idle agent slots")
	maxAgents := flag.Int("agents", 3, "maximum concurrent agents when -auto is set")
	label := flag.String("label", "", "label prefix for spawned agents")
	permissionMode := flag.String("permission-mode", "", "permission mode passed to the tool, if it supports one")
	resume := flag.Bool("resume", false, "resume the last saved session for this repo on startup")
	fresh := flag.Bool("fresh", false, "ignore any saved session and start clean")
	withNATS := flag.Bool("nats", false, "start an embedded loopback NATS server and mirror every event onto it")
	port := flag.Int("port", 4173, "control surface HTTP/WebSocket port")
	toolsConfig := flag.String("tools-config", "configs/tools.yaml", "tool catalog file")
	notificationsConfig := flag.String("notifications-config", "configs/notifications.yaml", "notification sink config file")
	status := flag.Bool("status", false, "show status of the running instance for this repo and exit")
	stop := flag.Bool("stop", false, "gracefully stop the running instance for this repo and exit")
	forceStop := flag.Bool("force-stop", false, "forcibly kill the running instance for this repo and exit")
	flag.Parse()

	repoPath, err := filepath.Abs(*repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve repo path: %v\n", err)
		os.Exit(1)
	}
	repoSlug := instance.RepoSlug(repoPath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".homer")
	sessionsDir := filepath.Join(baseDir, "sessions")
	sessionPath := filepath.Join(sessionsDir, repoSlug+".json")
	pidFilePath := filepath.Join(baseDir, "run", repoSlug+".pid")

	if *status {
		showInstanceStatus(pidFilePath, *port)
		return
	}
	if *stop || *forceStop {
		stopInstance(pidFilePath, *port, *forceStop)
		return
	}

	for _, dir := range []string{sessionsDir, filepath.Join(baseDir, "run"), filepath.Join(baseDir, "context", repoSlug, "agent-notes"), filepath.Join(baseDir, "memory")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	instanceMgr := instance.NewManager(pidFilePath, *port)
	existingInfo, err := instanceMgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to check for existing instance: %v\n", err)
		os.Exit(1)
	}
	if existingInfo != nil && existingInfo.IsRunning {
		resolver := instance.NewConflictResolver(instanceMgr, instance.IsInteractive())
		if err := resolver.Resolve(existingInfo); err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve instance conflict: %v\n", err)
			os.Exit(1)
		}
		*port = instanceMgr.Port()
	}

	if err := instanceMgr.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to acquire instance lock for %s: %v\n", repoSlug, err)
		os.Exit(1)
	}
	defer instanceMgr.ReleaseLock()

	printBanner(repoSlug)

	catalog, err := tooling.Init(*toolsConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load tool catalog: %v\n", err)
		os.Exit(1)
	}
	log.Printf("[HOMER] tool catalog loaded: %v", catalog.IDs())

	memStore, err := memory.Open(filepath.Join(baseDir, "memory", repoSlug+".db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open memory store: %v\n", err)
		os.Exit(1)
	}
	defer memStore.Close()

	eventDB, err := sql.Open(dbdriver.Name, filepath.Join(baseDir, "memory", repoSlug+"-events.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open event store: %v\n", err)
		os.Exit(1)
	}
	defer eventDB.Close()
	eventStore, err := events.NewSQLiteStore(eventDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize event store: %v\n", err)
		os.Exit(1)
	}
	bus := events.NewBus(eventStore)

	sched := scheduler.New(nil)

	coord := supervisor.New(supervisor.Deps{
		Catalog:     catalog,
		Memory:      memStore,
		Scheduler:   sched,
		Bus:         bus,
		ProjectPath: repoPath,
		SessionPath: sessionPath,
		NotesDir:    filepath.Join(baseDir, "context", repoSlug, "agent-notes"),
	})

	if notifCfg, err := notifications.LoadExternalConfig(*notificationsConfig); err != nil {
		log.Printf("[HOMER] notifications config not loaded: %v", err)
	} else if router := notifications.BuildRouter(notifCfg); router != nil {
		go notifications.RouteBusEvents(router, bus)
		log.Printf("[HOMER] notification channels active: %v", router.GetChannels())
	}

	var embeddedNATS *nats.EmbeddedServer
	var natsClient *nats.Client
	var stopMirror func()
	if *withNATS {
		embeddedNATS, natsClient, stopMirror, err = startNATSMirror(bus, baseDir, repoSlug)
		if err != nil {
			log.Printf("[HOMER] NATS mirror not started: %v", err)
		} else {
			log.Printf("[HOMER] NATS mirror listening at %s", embeddedNATS.URL())
		}
	}

	srv := server.NewServer(coord, memStore, bus, catalog, repoSlug, *port)

	opts := types.SpawnOptions{Model: *model, PermissionMode: *permissionMode, ProjectPath: repoPath}
	sessionID := uuid.NewString()

	if *fresh {
		_ = os.Remove(sessionPath)
	} else if *resume {
		if session, err := supervisor.LoadSession(sessionPath); err != nil {
			log.Printf("[HOMER] session not resumed: %v", err)
		} else if session != nil {
			coord.Resume(session, opts)
			sessionID = session.SessionID
			log.Printf("[HOMER] resumed session %s (%d agents)", session.SessionID, len(session.Agents))
		}
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	ready := false
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "server failed to start: %v\n", err)
			os.Exit(1)
		default:
		}
		if instance.HealthCheck(*port) == nil {
			ready = true
			break
		}
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server failed to become ready within timeout\n")
		os.Exit(1)
	}
	fmt.Printf("  Dashboard ready at http://localhost:%d\n\n", *port)

	if err := instanceMgr.WritePIDFile(os.Getpid(), *port, baseDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write PID file: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *auto {
		go runAutoLoop(ctx, coord, sched, bus, repoPath, *toolID, *label, opts, *maxAgents)
		log.Printf("[HOMER] auto-drive loop started (max %d agents)", *maxAgents)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("\nShutting down (signal received)...")
	case <-srv.ShutdownChan:
		fmt.Println("\nShutting down (API request)...")
	}

	cancel()

	fmt.Println("Stopping agents...")
	for _, agent := range coord.Agents() {
		if agent.Status.CanTransition() {
			if err := coord.Kill(agent.ID); err != nil {
				fmt.Printf("  note: agent %s may have already exited: %v\n", agent.ID, err)
			}
		}
	}

	if err := coord.SaveSession(sessionPath, sessionID, repoSlug, *toolID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save session: %v\n", err)
	}

	if stopMirror != nil {
		stopMirror()
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if embeddedNATS != nil {
		embeddedNATS.Shutdown()
	}

	fmt.Println("Removing PID file...")
	_ = instanceMgr.RemovePIDFile()

	fmt.Println("Shutting down HTTP server...")
	if err := srv.Shutdown(10 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}

	fmt.Println("Goodbye!")
}

func startNATSMirror(bus *events.Bus, baseDir, repoSlug string) (*nats.EmbeddedServer, *nats.Client, func(), error) {
	dataDir := filepath.Join(baseDir, "nats", repoSlug)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create nats data dir: %w", err)
	}

	embedded, err := nats.NewEmbeddedServer(nats.EmbeddedServerConfig{
		JetStream: false,
		DataDir:   dataDir,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	if err := embedded.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start embedded nats server: %w", err)
	}

	client, err := nats.NewClient(embedded.URL())
	if err != nil {
		embedded.Shutdown()
		return nil, nil, nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}

	stop := nats.Mirror(bus, client)
	return embedded, client, stop, nil
}

func printBanner(repoSlug string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                       HOMER                          ║")
	fmt.Println("  ║         multi-agent CLI orchestrator                 ║")
	fmt.Printf("  ║   repo: %-44s║\n", repoSlug)
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()
}

func showInstanceStatus(pidFilePath string, port int) {
	mgr := instance.NewManager(pidFilePath, port)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if info == nil {
		fmt.Println("no homer instance is running for this repo")
		return
	}
	statusIcon := "responding"
	if !info.IsResponding {
		statusIcon = "not responding"
	}
	fmt.Printf("PID:     %d\n", info.PID)
	fmt.Printf("Port:    %d\n", info.Port)
	fmt.Printf("Started: %s (%s ago)\n", info.StartTime.Format("2006-01-02 15:04:05"), time.Since(info.StartTime).Round(time.Second))
	fmt.Printf("Health:  %s\n", statusIcon)
	fmt.Printf("Dashboard: http://localhost:%d\n", info.Port)
}

func stopInstance(pidFilePath string, port int, force bool) {
	mgr := instance.NewManager(pidFilePath, port)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("no homer instance is running for this repo")
		return
	}

	if force {
		fmt.Printf("force killing process %d...\n", info.PID)
		if err := instance.KillProcess(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "failed to kill process: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Second)
		_ = mgr.RemovePIDFile()
		fmt.Println("instance terminated")
		return
	}

	fmt.Printf("sending graceful shutdown request to instance on port %d...\n", info.Port)
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "failed to send shutdown request: %v\n", err)
		fmt.Println("try -force-stop to force kill the process")
		os.Exit(1)
	}
	fmt.Println("waiting for graceful shutdown...")
	if instance.WaitForPortToBeAvailable(info.Port, 5*time.Second) {
		fmt.Println("instance stopped successfully")
	} else {
		fmt.Println("warning: instance may still be running; try -force-stop")
	}
}
