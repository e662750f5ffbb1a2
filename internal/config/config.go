// Package config loads and validates the daemon's settings file
// ($DATA_DIR/settings.json), applies environment variable overrides, and
// loads provider credentials from the centralized data-directory .env
// file. Schema validation uses santhosh-tekuri/jsonschema/v5 with the
// schema compiled once; credential loading uses godotenv.Load(envPath)
// against the data directory, never an arbitrary project .env file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Provider names recognized by CLAUDE_MEM_PROVIDER.
const (
	ProviderClaude     = "claude"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Config is the daemon's fully resolved settings.
type Config struct {
	Disabled bool `json:"CLAUDE_MEM_DISABLED"`

	WorkerPort int    `json:"CLAUDE_MEM_WORKER_PORT"`
	WorkerHost string `json:"CLAUDE_MEM_WORKER_HOST"`
	DataDir    string `json:"CLAUDE_MEM_DATA_DIR"`
	LogLevel   string `json:"CLAUDE_MEM_LOG_LEVEL"`

	Provider          string `json:"CLAUDE_MEM_PROVIDER"`
	ProviderRateLimit bool   `json:"CLAUDE_MEM_PROVIDER_RATE_LIMIT"`

	// Per-provider credentials and model overrides: each provider gets its
	// own API key and model, since the three are never the same account.
	ClaudeAPIKey     string `json:"CLAUDE_MEM_CLAUDE_API_KEY"`
	ClaudeModel      string `json:"CLAUDE_MEM_CLAUDE_MODEL"`
	GeminiAPIKey     string `json:"CLAUDE_MEM_GEMINI_API_KEY"`
	GeminiModel      string `json:"CLAUDE_MEM_GEMINI_MODEL"`
	OpenRouterAPIKey string `json:"CLAUDE_MEM_OPENROUTER_API_KEY"`
	OpenRouterModel  string `json:"CLAUDE_MEM_OPENROUTER_MODEL"`

	ContextObservations int `json:"CLAUDE_MEM_CONTEXT_OBSERVATIONS"`

	ChromaEnabled bool   `json:"CLAUDE_MEM_CHROMA_ENABLED"`
	ChromaMode    string `json:"CLAUDE_MEM_CHROMA_MODE"`
	ChromaHost    string `json:"CLAUDE_MEM_CHROMA_HOST"`
	ChromaPort    int    `json:"CLAUDE_MEM_CHROMA_PORT"`
	ChromaSSL     bool   `json:"CLAUDE_MEM_CHROMA_SSL"`
	ChromaAPIKey  string `json:"CLAUDE_MEM_CHROMA_API_KEY"`

	ExcludedProjects      []string `json:"CLAUDE_MEM_EXCLUDED_PROJECTS"`
	FolderClaudeMDEnabled bool     `json:"CLAUDE_MEM_FOLDER_CLAUDEMD_ENABLED"`
}

// Defaults returns the settings that apply when settings.json and the
// environment are both silent on a key.
func Defaults() Config {
	return Config{
		WorkerPort:            37777,
		WorkerHost:            "127.0.0.1",
		LogLevel:              "INFO",
		Provider:              ProviderClaude,
		ContextObservations:   20,
		ChromaMode:            "local",
		FolderClaudeMDEnabled: true,
		ClaudeModel:           "claude-sonnet-4-20250514",
		GeminiModel:           "gemini-2.0-flash",
		OpenRouterModel:       "openai/gpt-4o",
	}
}

// Credentials returns the API key and model configured for the named
// provider (one of ProviderClaude, ProviderGemini, ProviderOpenRouter).
func (c Config) Credentials(provider string) (apiKey, model string) {
	switch provider {
	case ProviderGemini:
		return c.GeminiAPIKey, c.GeminiModel
	case ProviderOpenRouter:
		return c.OpenRouterAPIKey, c.OpenRouterModel
	default:
		return c.ClaudeAPIKey, c.ClaudeModel
	}
}

var (
	schemaOnce    sync.Once
	compiledOnce  *jsonschema.Schema
	schemaCompErr error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledOnce, schemaCompErr = jsonschema.CompileString("settings.schema.json", settingsSchema)
	})
	return compiledOnce, schemaCompErr
}

// Load reads dataDir/settings.json (if present), applies CLAUDE_MEM_* env
// var overrides, validates the merged document against the settings
// schema, and loads dataDir/.env for credentials (without clobbering
// variables already set in the process environment). Arbitrary project
// .env files are never consulted.
func Load(dataDir string) (*Config, error) {
	envPath := filepath.Join(dataDir, ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}

	raw := settingsAsMap(Defaults())

	settingsPath := filepath.Join(dataDir, "settings.json")
	if data, err := os.ReadFile(settingsPath); err == nil {
		var fromFile map[string]any
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", settingsPath, err)
		}
		for k, v := range fromFile {
			raw[k] = v
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", settingsPath, err)
	}

	applyEnvOverrides(raw)

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	// Round-trip through a generic decode so every value schema.Validate
	// sees is a canonical JSON type (float64/string/bool/[]interface{})
	// rather than the native Go ints applyEnvOverrides just wrote into raw.
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("config: compile settings schema: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("config: invalid settings: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode merged settings: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	return &cfg, nil
}

// settingsAsMap round-trips defaults through JSON so it shares exactly the
// key set settings.json and the schema use.
func settingsAsMap(defaults Config) map[string]any {
	data, err := json.Marshal(defaults)
	if err != nil {
		panic(err) // Config always marshals; a failure here is a programming error.
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	return m
}

// envKeys lists every settings key alongside the scalar kind env.Getenv
// values should be coerced to before overlaying raw.
var envKeys = map[string]string{
	"CLAUDE_MEM_DISABLED":                "bool",
	"CLAUDE_MEM_WORKER_PORT":             "int",
	"CLAUDE_MEM_WORKER_HOST":             "string",
	"CLAUDE_MEM_DATA_DIR":                "string",
	"CLAUDE_MEM_LOG_LEVEL":               "string",
	"CLAUDE_MEM_PROVIDER":                "string",
	"CLAUDE_MEM_PROVIDER_RATE_LIMIT":     "bool",
	"CLAUDE_MEM_CLAUDE_API_KEY":          "string",
	"CLAUDE_MEM_CLAUDE_MODEL":            "string",
	"CLAUDE_MEM_GEMINI_API_KEY":          "string",
	"CLAUDE_MEM_GEMINI_MODEL":            "string",
	"CLAUDE_MEM_OPENROUTER_API_KEY":      "string",
	"CLAUDE_MEM_OPENROUTER_MODEL":        "string",
	"CLAUDE_MEM_CONTEXT_OBSERVATIONS":    "int",
	"CLAUDE_MEM_CHROMA_ENABLED":          "bool",
	"CLAUDE_MEM_CHROMA_MODE":             "string",
	"CLAUDE_MEM_CHROMA_HOST":             "string",
	"CLAUDE_MEM_CHROMA_PORT":             "int",
	"CLAUDE_MEM_CHROMA_SSL":              "bool",
	"CLAUDE_MEM_CHROMA_API_KEY":          "string",
	"CLAUDE_MEM_EXCLUDED_PROJECTS":       "stringlist",
	"CLAUDE_MEM_FOLDER_CLAUDEMD_ENABLED": "bool",
}

// applyEnvOverrides overlays any CLAUDE_MEM_* environment variable onto
// raw, coerced to the key's declared kind; unparseable values are skipped
// rather than failing startup.
func applyEnvOverrides(raw map[string]any) {
	for key, kind := range envKeys {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		switch kind {
		case "bool":
			if b, err := strconv.ParseBool(v); err == nil {
				raw[key] = b
			}
		case "int":
			if n, err := strconv.Atoi(v); err == nil {
				raw[key] = n
			}
		case "stringlist":
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			raw[key] = parts
		default:
			raw[key] = v
		}
	}
}
