package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/homer-run/homer/internal/supervisor"
	"github.com/homer-run/homer/internal/tooling"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	catalog, err := tooling.Init(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	coord := supervisor.New(supervisor.Deps{Catalog: catalog, ProjectPath: t.TempDir()})
	return NewServer(coord, nil, nil, catalog, "test-repo", 0)
}

func TestHandleGetState_EmptyRepo(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["repo"] != "test-repo" {
		t.Errorf("repo = %v, want test-repo", body["repo"])
	}
}

func TestHandleSpawnAgent_MissingToolID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/agent/spawn", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSpawnAgent_ThenKill(t *testing.T) {
	s := newTestServer(t)

	spawnReq := httptest.NewRequest("POST", "/api/agent/spawn", bytes.NewBufferString(`{"tool_id":"/bin/echo"}`))
	spawnRec := httptest.NewRecorder()
	s.router.ServeHTTP(spawnRec, spawnReq)
	if spawnRec.Code != 200 {
		t.Fatalf("spawn status = %d, body=%s", spawnRec.Code, spawnRec.Body.String())
	}

	var agent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(spawnRec.Body.Bytes(), &agent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	killReq := httptest.NewRequest("POST", "/api/agent/"+agent.ID+"/kill", nil)
	killRec := httptest.NewRecorder()
	s.router.ServeHTTP(killRec, killReq)
	if killRec.Code != 200 {
		t.Fatalf("kill status = %d, body=%s", killRec.Code, killRec.Body.String())
	}
}

func TestHandleHealthCheck(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleShutdown_RejectsNonLocalhost(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/shutdown", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandleListTools(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/tool", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
