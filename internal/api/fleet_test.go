package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/procfleet/procfleet/internal/api/models"
	"github.com/procfleet/procfleet/internal/supervisor"
)

func newTestServer(t *testing.T, username, password string) (*Server, *supervisor.Pubsub, *supervisor.StateTable) {
	t.Helper()
	control := supervisor.NewPubsub()
	table := supervisor.NewStateTable()
	server := NewServer(&Options{
		AuthUsername: username,
		AuthPassword: password,
		Control:      control,
		Table:        table,
	})
	return server, control, table
}

func doRequest(t *testing.T, server *Server, method, path, body, auth string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}
	w := httptest.NewRecorder()
	server.GetMux().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "", "")
	w := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestFleetEndpointReturnsSnapshot(t *testing.T) {
	server, _, table := newTestServer(t, "", "")
	table.Set("Server-0", supervisor.ProcessInfo{PID: 100, State: supervisor.Acked, Server: true})
	table.Set("Server-1", supervisor.ProcessInfo{PID: 101, State: supervisor.Started, Server: true})
	table.Set("cache", supervisor.ProcessInfo{PID: 102, State: supervisor.Acked})

	w := doRequest(t, server, http.MethodGet, "/api/fleet", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var data models.FleetData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if data.Servers != 2 {
		t.Errorf("Servers = %d, want 2", data.Servers)
	}
	if len(data.Processes) != 3 {
		t.Fatalf("len(Processes) = %d, want 3", len(data.Processes))
	}
	// Sorted by name: Server-0, Server-1, cache.
	if data.Processes[0].Name != "Server-0" || data.Processes[0].State != "ACKED" {
		t.Errorf("unexpected first process: %+v", data.Processes[0])
	}
	if data.Processes[2].Name != "cache" || data.Processes[2].Server {
		t.Errorf("unexpected last process: %+v", data.Processes[2])
	}
}

func TestScaleEndpointPublishesCommand(t *testing.T) {
	server, control, _ := newTestServer(t, "", "")

	w := doRequest(t, server, http.MethodPost, "/api/fleet/scale", `{"workers": 4}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if !control.Poll(time.Second) {
		t.Fatal("no control message published")
	}
	cmd, err := supervisor.ParseCommand(control.Recv())
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Kind != supervisor.CommandScale || cmd.Count != 4 {
		t.Errorf("got %+v, want scale to 4", cmd)
	}
}

func TestScaleEndpointRejectsNonPositive(t *testing.T) {
	server, control, _ := newTestServer(t, "", "")

	w := doRequest(t, server, http.MethodPost, "/api/fleet/scale", `{"workers": 0}`, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if control.Poll(50 * time.Millisecond) {
		t.Error("rejected scale still published a command")
	}
}

func TestRestartEndpointPublishesCommand(t *testing.T) {
	server, control, _ := newTestServer(t, "", "")

	body := `{"names": ["w1", "w2"], "startup_first": true}`
	w := doRequest(t, server, http.MethodPost, "/api/fleet/restart", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if !control.Poll(time.Second) {
		t.Fatal("no control message published")
	}
	cmd, err := supervisor.ParseCommand(control.Recv())
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Kind != supervisor.CommandRestart {
		t.Fatalf("Kind = %v, want CommandRestart", cmd.Kind)
	}
	if len(cmd.Names) != 2 || cmd.Names[0] != "w1" {
		t.Errorf("Names = %v", cmd.Names)
	}
	if cmd.Order != supervisor.StartupFirst {
		t.Errorf("Order = %v, want StartupFirst", cmd.Order)
	}
}

func TestRestartEndpointEmptyNamesMeansAll(t *testing.T) {
	server, control, _ := newTestServer(t, "", "")

	w := doRequest(t, server, http.MethodPost, "/api/fleet/restart", `{}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if !control.Poll(time.Second) {
		t.Fatal("no control message published")
	}
	cmd, err := supervisor.ParseCommand(control.Recv())
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Names != nil {
		t.Errorf("Names = %v, want nil for all-processes", cmd.Names)
	}
}

func TestTerminateEndpointPublishesShutdown(t *testing.T) {
	server, control, _ := newTestServer(t, "", "")

	w := doRequest(t, server, http.MethodPost, "/api/fleet/terminate", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if !control.Poll(time.Second) {
		t.Fatal("no control message published")
	}
	if msg := control.Recv(); msg != supervisor.MsgTerminate {
		t.Errorf("message = %q, want %q", msg, supervisor.MsgTerminate)
	}
}

func TestBasicAuthGuardsFleetRoutes(t *testing.T) {
	server, _, _ := newTestServer(t, "admin", "secret")

	w := doRequest(t, server, http.MethodGet, "/api/fleet", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = doRequest(t, server, http.MethodGet, "/api/fleet", "", "admin:wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad-password status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = doRequest(t, server, http.MethodGet, "/api/fleet", "", "admin:secret")
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d", w.Code, http.StatusOK)
	}

	// Health stays open.
	w = doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestVersionEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "", "")
	w := doRequest(t, server, http.MethodGet, "/api/version", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var data models.VersionData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if data.GoVersion == "" {
		t.Error("GoVersion missing from version response")
	}
}
