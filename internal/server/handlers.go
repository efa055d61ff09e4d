package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/homer-run/homer/internal/supervisor"
	"github.com/homer-run/homer/internal/types"
)

// MaxPayloadSize bounds request bodies so a misbehaving client can't exhaust
// memory with an unbounded upload.
const MaxPayloadSize = 1 * 1024 * 1024

// allowedOrigins holds the extra WebSocket origins an operator has
// whitelisted beyond localhost, via HOMER_ALLOWED_ORIGINS (comma-separated).
var allowedOrigins = initAllowedOrigins()

func initAllowedOrigins() []string {
	var origins []string
	if env := os.Getenv("HOMER_ALLOWED_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}

// checkWebSocketOrigin validates the Origin header for WebSocket upgrades,
// to prevent a page on another site from opening a cross-origin socket to
// the control surface. Localhost is always allowed; anything else must be
// named in HOMER_ALLOWED_ORIGINS.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if host := originURL.Hostname(); host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Hostname() != allowedURL.Hostname() {
			continue
		}
		if allowedURL.Port() == "" || allowedURL.Port() == originURL.Port() {
			if originURL.Scheme == allowedURL.Scheme {
				return true
			}
		}
	}
	return false
}

var upgrader = websocket.Upgrader{CheckOrigin: checkWebSocketOrigin}

// handleWebSocket upgrades the connection and immediately pushes the
// current dashboard state before handing off to the read/write pumps, so a
// freshly-connected client never renders blank.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	s.hub.Register(client)

	data, _ := json.Marshal(types.WSMessage{Type: types.WSTypeState, Data: s.dashboardState()})
	client.send <- data

	go client.readPump()
	go client.writePump()
}

// handleGetState returns the current dashboard snapshot.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.dashboardState())
}

// handleSpawnAgent spawns a new agent against an optional WorkUnit task.
func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxPayloadSize)

	var req struct {
		ToolID string          `json:"tool_id"`
		Label  string          `json:"label"`
		Task   *types.WorkUnit `json:"task,omitempty"`
		Opts   types.SpawnOptions `json:"opts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToolID == "" {
		s.respondError(w, http.StatusBadRequest, "tool_id is required")
		return
	}

	agent, err := s.coord.Spawn(req.ToolID, req.Label, req.Task, req.Opts)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, agent)
}

// handleAgentInput writes raw bytes to an agent's PTY stdin.
func (s *Server) handleAgentInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, MaxPayloadSize)

	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.coord.Input(id, []byte(req.Data)); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, map[string]string{"status": "ok"})
}

// handleAgentResize resizes an agent's PTY.
func (s *Server) handleAgentResize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.coord.Resize(id, req.Cols, req.Rows); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, map[string]string{"status": "ok"})
}

// handleAgentKill terminates an agent's process.
func (s *Server) handleAgentKill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.coord.Kill(id); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, map[string]string{"status": "killed"})
}

// handleAgentOutput returns an agent's retained scrollback buffer.
func (s *Server) handleAgentOutput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.coord.Get(id); !ok {
		s.respondError(w, http.StatusNotFound, "unknown agent")
		return
	}
	s.respondJSON(w, map[string]string{"output": string(s.coord.Output(id))})
}

// handleListTools returns the ids of the tool catalog's registered descriptors.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]interface{}{"tools": s.catalog.IDs()})
}

// handleSessionResume restores a saved session's agents from disk.
func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path           string `json:"path"`
		PermissionMode string `json:"permission_mode"`
		Model          string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	session, err := supervisor.LoadSession(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session == nil {
		s.respondError(w, http.StatusNotFound, "no resumable session found")
		return
	}
	s.coord.Resume(session, types.SpawnOptions{Model: req.Model, PermissionMode: req.PermissionMode})
	s.respondJSON(w, map[string]string{"status": "resumed"})
}

// handleHealthCheck answers the single-instance lock's liveness probe.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]interface{}{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"pid":            os.Getpid(),
		"port":           s.port,
		"agents":         len(s.coord.Agents()),
	})
}

// handleShutdown initiates a graceful shutdown; only localhost may call it,
// matching the single-instance conflict resolver's SendShutdownRequest.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	if host != "127.0.0.1" && host != "::1" {
		s.respondError(w, http.StatusForbidden, "shutdown can only be requested from localhost")
		return
	}

	s.respondJSON(w, map[string]string{"status": "shutting_down"})

	go func() {
		close(s.ShutdownChan)
	}()
}
