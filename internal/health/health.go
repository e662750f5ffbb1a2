// Package health implements the HealthMonitor surface: the
// /api/health, /api/readiness, /api/version, and /api/admin/* endpoints,
// plus the plain-function helpers LifecycleSupervisor calls directly
// (PortInUse, WaitForHealth, WaitForPortFree, CheckVersionMatch) to probe a
// sibling daemon instance before deciding whether to start, hand off, or
// wait.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"
)

// Version is the daemon's build version, compared across instances to
// detect version drift (spec scenario S5).
const Version = "0.1.0"

// StatusResponse is the body of /api/health.
type StatusResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
	MCPReady    bool   `json:"mcpReady"`
	Platform    string `json:"platform"`
	PID         int    `json:"pid"`
}

// VersionMatch is the body of /api/version and the return value of
// CheckVersionMatch. Unknowns compare equal so a probe failure never
// triggers a restart loop.
type VersionMatch struct {
	Matches       bool   `json:"matches"`
	PluginVersion string `json:"pluginVersion"`
	WorkerVersion string `json:"workerVersion"`
}

// Monitor serves the health/readiness/version/admin endpoints. Initialized
// and MCPReady are read with Ready/SetReady and SetMCPReady so httpapi's
// mux handlers never race with LifecycleSupervisor's startup sequence.
type Monitor struct {
	initialized chan struct{}
	mcpReady    chan struct{}

	shutdown func()
	restart  func()
}

// NewMonitor constructs a Monitor. shutdown and restart are invoked by the
// corresponding admin endpoints after the response has been written;
// LifecycleSupervisor supplies the actual teardown/re-exec logic.
func NewMonitor(shutdown, restart func()) *Monitor {
	return &Monitor{
		initialized: make(chan struct{}),
		mcpReady:    make(chan struct{}),
		shutdown:    shutdown,
		restart:     restart,
	}
}

// SetInitialized marks core init (Store + VectorSync) complete. Safe to
// call at most once.
func (m *Monitor) SetInitialized() { close(m.initialized) }

// SetMCPReady marks the VectorSync RPC subprocess reachable. Safe to call
// at most once.
func (m *Monitor) SetMCPReady() { close(m.mcpReady) }

func (m *Monitor) isInitialized() bool {
	select {
	case <-m.initialized:
		return true
	default:
		return false
	}
}

func (m *Monitor) isMCPReady() bool {
	select {
	case <-m.mcpReady:
		return true
	default:
		return false
	}
}

// RegisterRoutes mounts every HealthMonitor endpoint on mux.
func (m *Monitor) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", m.handleHealth)
	mux.HandleFunc("/api/readiness", m.handleReadiness)
	mux.HandleFunc("/api/version", m.handleVersion)
	mux.HandleFunc("/api/admin/shutdown", m.handleShutdown)
	mux.HandleFunc("/api/admin/restart", m.handleRestart)
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "ok",
		Initialized: m.isInitialized(),
		MCPReady:    m.isMCPReady(),
		Platform:    runtime.GOOS,
		PID:         os.Getpid(),
	})
}

func (m *Monitor) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !m.isInitialized() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (m *Monitor) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (m *Monitor) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	if m.shutdown != nil {
		go m.shutdown()
	}
}

func (m *Monitor) handleRestart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
	if m.restart != nil {
		go m.restart()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// PortInUse reports whether something is already listening on host:port.
func PortInUse(host string, port int) bool {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForHealth polls /api/health on host:port until it responds 200 or
// timeout elapses.
func WaitForHealth(ctx context.Context, host string, port int, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://%s/api/health", net.JoinHostPort(host, fmt.Sprintf("%d", port)))

	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("health: timed out waiting for %s to become healthy", url)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// WaitForPortFree polls host:port until nothing is listening there or
// timeout elapses, used after requesting a sibling daemon's shutdown.
func WaitForPortFree(ctx context.Context, host string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for PortInUse(host, port) {
		if time.Now().After(deadline) {
			return fmt.Errorf("health: timed out waiting for port %d to free", port)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// CheckVersionMatch fetches /api/version from a sibling daemon at
// host:port and compares it against the running binary's Version. A probe
// error is reported as a match (Matches: true) with both fields empty, so
// a daemon that is merely slow to answer never triggers a restart loop.
func CheckVersionMatch(ctx context.Context, host string, port int) (VersionMatch, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://%s/api/version", net.JoinHostPort(host, fmt.Sprintf("%d", port)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return VersionMatch{Matches: true}, nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return VersionMatch{Matches: true}, nil
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return VersionMatch{Matches: true}, nil
	}

	workerVersion := body["version"]
	return VersionMatch{
		Matches:       workerVersion == Version,
		PluginVersion: Version,
		WorkerVersion: workerVersion,
	}, nil
}
