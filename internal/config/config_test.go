package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenNoFilesPresent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 37777, cfg.WorkerPort)
	require.Equal(t, "127.0.0.1", cfg.WorkerHost)
	require.Equal(t, ProviderClaude, cfg.Provider)
	require.Equal(t, dir, cfg.DataDir)
}

func TestLoadMergesSettingsFile(t *testing.T) {
	dir := t.TempDir()
	settings := `{"CLAUDE_MEM_WORKER_PORT": 4000, "CLAUDE_MEM_PROVIDER": "gemini", "CLAUDE_MEM_EXCLUDED_PROJECTS": ["a", "b"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.WorkerPort)
	require.Equal(t, "gemini", cfg.Provider)
	require.Equal(t, []string{"a", "b"}, cfg.ExcludedProjects)
}

func TestLoadEnvOverridesSettingsFile(t *testing.T) {
	dir := t.TempDir()
	settings := `{"CLAUDE_MEM_WORKER_PORT": 4000}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644))
	t.Setenv("CLAUDE_MEM_WORKER_PORT", "5000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.WorkerPort)
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	dir := t.TempDir()
	settings := `{"CLAUDE_MEM_PROVIDER": "not-a-real-provider"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadReadsCredentialsFromDataDirEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CLAUDE_MEM_CLAUDE_API_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CLAUDE_MEM_CLAUDE_API_KEY") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.ClaudeAPIKey)
}

func TestCredentialsReturnsPerProviderPair(t *testing.T) {
	cfg := Config{
		ClaudeAPIKey:     "claude-key",
		ClaudeModel:      "claude-model",
		GeminiAPIKey:     "gemini-key",
		GeminiModel:      "gemini-model",
		OpenRouterAPIKey: "openrouter-key",
		OpenRouterModel:  "openrouter-model",
	}

	apiKey, model := cfg.Credentials(ProviderGemini)
	require.Equal(t, "gemini-key", apiKey)
	require.Equal(t, "gemini-model", model)

	apiKey, model = cfg.Credentials(ProviderOpenRouter)
	require.Equal(t, "openrouter-key", apiKey)
	require.Equal(t, "openrouter-model", model)

	apiKey, model = cfg.Credentials(ProviderClaude)
	require.Equal(t, "claude-key", apiKey)
	require.Equal(t, "claude-model", model)
}
