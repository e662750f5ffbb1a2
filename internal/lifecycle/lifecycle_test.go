package lifecycle

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/health"
)

func TestResolveDataDirHonorsOverrideThenEnv(t *testing.T) {
	t.Setenv("CLAUDE_MEM_DATA_DIR", "")
	require.Equal(t, "/explicit", ResolveDataDir("/explicit"))

	t.Setenv("CLAUDE_MEM_DATA_DIR", "/from-env")
	require.Equal(t, "/from-env", ResolveDataDir(""))
}

func TestWriteAndReadPIDFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.pid")

	require.NoError(t, WritePIDFile(path, PIDFile{PID: 4242, Port: 37777, StartedAt: time.Now()}))

	pf, err := ReadPIDFile(path)
	require.NoError(t, err)
	require.Equal(t, 4242, pf.PID)
	require.Equal(t, 37777, pf.Port)
}

func TestReadPIDFileMissingIsNotExist(t *testing.T) {
	_, err := ReadPIDFile(filepath.Join(t.TempDir(), "worker.pid"))
	require.True(t, os.IsNotExist(err))
}

func TestPrepareRemovesStalePIDFileFromDeadProcess(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_MEM_DATA_DIR", "")

	pidPath := filepath.Join(dir, "worker.pid")
	// PID 1 always exists, so pick an implausibly large pid instead; wrap
	// around is not a concern on any real system's pid_max.
	require.NoError(t, WritePIDFile(pidPath, PIDFile{PID: 999999, Port: 37777, StartedAt: time.Now()}))

	sup := New(Options{DataDirOverride: dir, Host: "127.0.0.1"})
	result, err := sup.Prepare(context.Background())
	require.NoError(t, err)
	require.False(t, result.Skip)
	require.Equal(t, pidPath, result.PIDPath)

	_, err = os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}

func TestPrepareSkipsWhenDisabled(t *testing.T) {
	sup := New(Options{Disabled: true})
	result, err := sup.Prepare(context.Background())
	require.NoError(t, err)
	require.True(t, result.Skip)
}

func TestPrepareRefusesStartWhenSiblingVersionMatches(t *testing.T) {
	dir := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": health.Version})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, _, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	pidPath := filepath.Join(dir, "worker.pid")
	require.NoError(t, WritePIDFile(pidPath, PIDFile{PID: os.Getpid(), Port: port, StartedAt: time.Now()}))

	sup := New(Options{DataDirOverride: dir, Host: host})
	result, err := sup.Prepare(context.Background())
	require.NoError(t, err)
	require.True(t, result.Skip)
}

func TestFinishWritesPIDFileWithCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "worker.pid")

	sup := New(Options{DataDirOverride: dir})
	require.NoError(t, sup.Finish(pidPath, 37777))

	pf, err := ReadPIDFile(pidPath)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pf.PID)
	require.Equal(t, 37777, pf.Port)
}

func TestCleanupRemovesPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "worker.pid")
	require.NoError(t, WritePIDFile(pidPath, PIDFile{PID: os.Getpid(), Port: 1, StartedAt: time.Now()}))

	sup := New(Options{})
	sup.Cleanup(pidPath)

	_, err := os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}
