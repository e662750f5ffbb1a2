package config

// settingsSchema is the JSON Schema validated against $DATA_DIR/settings.json
// before it is unmarshalled into Config. Compiled once and cached via
// santhosh-tekuri/jsonschema/v5.
const settingsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": true,
  "properties": {
    "CLAUDE_MEM_WORKER_PORT": {"type": "integer", "minimum": 1, "maximum": 65535},
    "CLAUDE_MEM_WORKER_HOST": {"type": "string", "minLength": 1},
    "CLAUDE_MEM_DATA_DIR": {"type": "string"},
    "CLAUDE_MEM_LOG_LEVEL": {"enum": ["DEBUG", "INFO", "WARN", "ERROR", "SILENT"]},
    "CLAUDE_MEM_PROVIDER": {"enum": ["claude", "gemini", "openrouter"]},
    "CLAUDE_MEM_PROVIDER_RATE_LIMIT": {"type": "boolean"},
    "CLAUDE_MEM_CLAUDE_API_KEY": {"type": "string"},
    "CLAUDE_MEM_CLAUDE_MODEL": {"type": "string"},
    "CLAUDE_MEM_GEMINI_API_KEY": {"type": "string"},
    "CLAUDE_MEM_GEMINI_MODEL": {"type": "string"},
    "CLAUDE_MEM_OPENROUTER_API_KEY": {"type": "string"},
    "CLAUDE_MEM_OPENROUTER_MODEL": {"type": "string"},
    "CLAUDE_MEM_CONTEXT_OBSERVATIONS": {"type": "integer", "minimum": 0},
    "CLAUDE_MEM_CHROMA_ENABLED": {"type": "boolean"},
    "CLAUDE_MEM_CHROMA_MODE": {"enum": ["local", "remote"]},
    "CLAUDE_MEM_CHROMA_HOST": {"type": "string"},
    "CLAUDE_MEM_CHROMA_PORT": {"type": "integer", "minimum": 1, "maximum": 65535},
    "CLAUDE_MEM_CHROMA_SSL": {"type": "boolean"},
    "CLAUDE_MEM_CHROMA_API_KEY": {"type": "string"},
    "CLAUDE_MEM_EXCLUDED_PROJECTS": {"type": "array", "items": {"type": "string"}},
    "CLAUDE_MEM_FOLDER_CLAUDEMD_ENABLED": {"type": "boolean"},
    "CLAUDE_MEM_DISABLED": {"type": "boolean"}
  }
}`
