package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// fileSchema describes the accepted shape of a config file. Unknown keys are
// rejected at the top level and inside sections so typos surface early.
const fileSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "enabled": {"type": "boolean"},
    "identity": {"type": "string"},
    "workspace_path": {"type": "string"},
    "data_dir": {"type": "string"},
    "sources": {"type": "array", "items": {"type": "string", "enum": ["memory", "sessions"]}},
    "extra_paths": {"type": "array", "items": {"type": "string"}},
    "isolation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "worker_binary": {"type": "string"},
        "close_timeout_ms": {"type": "integer", "minimum": 1}
      }
    },
    "chunking": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "tokens": {"type": "integer", "minimum": 1},
        "overlap": {"type": "integer", "minimum": 0}
      }
    },
    "query": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_results": {"type": "integer", "minimum": 1},
        "min_score": {"type": "number", "minimum": 0, "maximum": 1},
        "snippet_chars": {"type": "integer", "minimum": 1},
        "hybrid": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "vector_weight": {"type": "number", "minimum": 0, "maximum": 1},
            "text_weight": {"type": "number", "minimum": 0, "maximum": 1},
            "candidate_multiplier": {"type": "number", "minimum": 1},
            "mmr": {"type": "object"},
            "temporal_decay": {"type": "object"}
          }
        }
      }
    },
    "sync": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "on_start": {"type": "boolean"},
        "on_search": {"type": "boolean"},
        "watch": {"type": "boolean"},
        "watch_debounce_ms": {"type": "integer", "minimum": 0},
        "interval_minutes": {"type": "integer", "minimum": 0}
      }
    },
    "cache": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "max_entries": {"type": "integer", "minimum": 0}
      }
    },
    "embedding": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "provider": {"type": "string", "enum": ["auto", "openai", "local", "none"]},
        "model": {"type": "string"},
        "api_key": {"type": "string"},
        "base_url": {"type": "string"},
        "dimensions": {"type": "integer", "minimum": 0},
        "batch_size": {"type": "integer", "minimum": 1},
        "concurrency": {"type": "integer", "minimum": 1},
        "query_cache_size": {"type": "integer", "minimum": 0},
        "timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "path": {"type": "string"},
        "vector": {"type": "object", "properties": {"enabled": {"type": "boolean"}}}
      }
    },
    "logging": {"type": "object"},
    "hooks": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["event", "script"],
        "properties": {
          "id": {"type": "string"},
          "event": {"type": "string", "enum": ["session_start", "session_end"]},
          "script": {"type": "string", "minLength": 1},
          "timeout_seconds": {"type": "integer", "minimum": 0},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(fileSchema))
	if err != nil {
		panic(fmt.Sprintf("config: invalid file schema: %v", err))
	}
	compiledSchema = schema
}

// ValidateDocument checks raw config JSON against the file schema.
func ValidateDocument(data []byte) error {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("config validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
