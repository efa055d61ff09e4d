// Package server is the HTTP/WebSocket control surface: it exposes the
// running Coordinator's agent registry over a small JSON API plus a
// WebSocket stream, and answers the liveness/shutdown probes the
// single-instance lock depends on.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/memory"
	"github.com/homer-run/homer/internal/supervisor"
	"github.com/homer-run/homer/internal/tooling"
	"github.com/homer-run/homer/internal/types"
)

// stateDebounceWindow bounds how often a burst of agent events can trigger a
// full dashboard state push to WebSocket clients.
const stateDebounceWindow = 50 * time.Millisecond

// Server is the main HTTP server fronting one repository's Coordinator.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	coord   *supervisor.Coordinator
	mem     *memory.Store
	bus     *events.Bus
	catalog *tooling.Catalog

	repo      string
	port      int
	startTime time.Time

	stateMu    sync.Mutex
	stateTimer *time.Timer

	// ShutdownChan is closed when /api/shutdown is hit; main.go selects on
	// it to drive a graceful stop.
	ShutdownChan chan struct{}
}

// NewServer wires a Server against one repository's running Coordinator.
func NewServer(coord *supervisor.Coordinator, mem *memory.Store, bus *events.Bus, catalog *tooling.Catalog, repo string, port int) *Server {
	s := &Server{
		hub:          NewHub(),
		coord:        coord,
		mem:          mem,
		bus:          bus,
		catalog:      catalog,
		repo:         repo,
		port:         port,
		startTime:    time.Now(),
		ShutdownChan: make(chan struct{}),
	}

	go s.hub.Run()
	if s.bus != nil {
		go s.relayEventsToHub()
	}

	s.setupRoutes()
	return s
}

// relayEventsToHub subscribes to every bus event and mirrors agent-relevant
// ones onto the WebSocket hub as debounced state pushes.
func (s *Server) relayEventsToHub() {
	ch := s.bus.Subscribe("all", nil)
	for ev := range ch {
		switch ev.Type {
		case events.EventAgentSpawned, events.EventAgentStatus, events.EventAgentDone, events.EventAgentRerouted:
			if agent, ok := s.coord.Get(ev.Target); ok {
				s.hub.BroadcastAgent(agent)
			}
			s.scheduleStateBroadcast()
		case events.EventError:
			s.hub.BroadcastAlert(&types.Alert{
				ID:        ev.ID,
				Type:      "error",
				AgentID:   ev.Target,
				Message:   stringifyPayload(ev.Payload),
				Severity:  "warning",
				CreatedAt: ev.CreatedAt,
			})
		}
	}
}

// scheduleStateBroadcast coalesces a burst of state-changing events into at
// most one BroadcastState call per stateDebounceWindow. The first event in a
// burst starts the timer but is not itself broadcast (leading edge
// suppressed); the broadcast fires once the window elapses and reflects
// whatever the dashboard state is by then (trailing edge delivery).
func (s *Server) scheduleStateBroadcast() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.stateTimer != nil {
		return
	}
	s.stateTimer = time.AfterFunc(stateDebounceWindow, func() {
		s.stateMu.Lock()
		s.stateTimer = nil
		s.stateMu.Unlock()
		s.hub.BroadcastState(s.dashboardState())
	})
}

func stringifyPayload(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}

// dashboardState snapshots the Coordinator's live agents into the
// wire-serializable form the WebSocket stream and GET /api/state return.
func (s *Server) dashboardState() *types.DashboardState {
	state := types.NewDashboardState()
	state.Repo = s.repo
	state.StartedAt = s.startTime
	for _, agent := range s.coord.Agents() {
		state.Agents[agent.ID] = agent
	}
	return state
}

// setupRoutes configures the HTTP route table.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(SecurityHeadersMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/agent/spawn", s.handleSpawnAgent).Methods("POST")
	api.HandleFunc("/agent/{id}/input", s.handleAgentInput).Methods("POST")
	api.HandleFunc("/agent/{id}/resize", s.handleAgentResize).Methods("POST")
	api.HandleFunc("/agent/{id}/kill", s.handleAgentKill).Methods("POST")
	api.HandleFunc("/agent/{id}/output", s.handleAgentOutput).Methods("GET")
	api.HandleFunc("/tool", s.handleListTools).Methods("GET", "POST")
	api.HandleFunc("/session/resume", s.handleSessionResume).Methods("POST")
	api.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	api.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start begins serving HTTP on the configured port. It blocks until the
// server stops (via Shutdown or a listener error).
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    ":" + strconv.Itoa(s.port),
		Handler: s.router,
	}
	log.Printf("[SERVER] listening on :%d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully within the given timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[SERVER] failed to encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
