package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnSettingsWrite(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"CLAUDE_MEM_WORKER_PORT": 4000}`), 0o644))

	reloaded := make(chan *Config, 1)
	w := NewWatcher(dir, func(cfg *Config) { reloaded <- cfg }, nil)
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"CLAUDE_MEM_WORKER_PORT": 5000}`), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 5000, cfg.WorkerPort)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for settings reload")
	}
}
