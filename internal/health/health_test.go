package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleHealthReportsUninitializedUntilSet(t *testing.T) {
	m := NewMonitor(nil, nil)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.False(t, body.Initialized)

	m.SetInitialized()
	resp2, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var body2 StatusResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body2))
	require.True(t, body2.Initialized)
}

func TestHandleReadinessReturns503UntilInitialized(t *testing.T) {
	m := NewMonitor(nil, nil)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/readiness")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m.SetInitialized()
	resp2, err := http.Get(srv.URL + "/api/readiness")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestHandleShutdownInvokesCallback(t *testing.T) {
	called := make(chan struct{})
	m := NewMonitor(func() { close(called) }, nil)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/admin/shutdown", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}

func TestPortInUseDetectsListener(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	require.NoError(t, err)

	require.True(t, PortInUse(host, port))
	require.False(t, PortInUse(host, 1)) // port 1 is reserved, nothing listens
}

func TestWaitForHealthSucceedsOnceServing(t *testing.T) {
	m := NewMonitor(nil, nil)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	require.NoError(t, err)

	err = WaitForHealth(context.Background(), host, port, time.Second)
	require.NoError(t, err)
}

func TestCheckVersionMatchTreatsUnreachableAsMatching(t *testing.T) {
	match, err := CheckVersionMatch(context.Background(), "127.0.0.1", 1)
	require.NoError(t, err)
	require.True(t, match.Matches)
}

func TestCheckVersionMatchComparesWorkerVersion(t *testing.T) {
	m := NewMonitor(nil, nil)
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	require.NoError(t, err)

	match, err := CheckVersionMatch(context.Background(), host, port)
	require.NoError(t, err)
	require.True(t, match.Matches)
	require.Equal(t, Version, match.WorkerVersion)
}

// splitHostPort extracts host and numeric port from an httptest server URL.
func splitHostPort(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
