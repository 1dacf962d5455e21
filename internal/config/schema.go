package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// durations are strings parsed by time.ParseDuration, or nanoseconds
const durationSchema = `{"type": ["string", "integer"], "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"}`

// Schema is the JSON schema of the configuration file
var Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "data_dir": {"type": "string"},
    "agent": {
      "type": "object",
      "properties": {
        "binary": {"type": "string", "minLength": 1},
        "instructions_dir": {"type": "string"},
        "tool_config_path": {"type": "string"},
        "extra_args": {"type": "array", "items": {"type": "string"}},
        "flags": {
          "type": "object",
          "properties": {
            "print": {"type": "string"},
            "skip_permissions": {"type": "string"},
            "session_id": {"type": "string"},
            "resume": {"type": "string"},
            "tool_config": {"type": "string"}
          },
          "additionalProperties": false
        },
        "turn_timeout": ` + durationSchema + `,
        "kill_grace": ` + durationSchema + `
      },
      "additionalProperties": false
    },
    "credentials": {
      "type": "object",
      "properties": {
        "auth_token_file": {"type": "string"},
        "base_url": {"type": "string"},
        "model": {"type": "string"}
      },
      "additionalProperties": false
    },
    "server": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535},
        "password_hash": {"type": "string"},
        "storage_secret": {"type": "string"},
        "session_ttl": ` + durationSchema + `,
        "audit_log": {"type": "string"}
      },
      "additionalProperties": false
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "redaction": {"type": "boolean"}
      },
      "additionalProperties": false
    },
    "tracing": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "service_name": {"type": "string"},
        "sample_ratio": {"type": "number", "minimum": 0, "maximum": 1}
      },
      "additionalProperties": false
    },
    "hooks": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "hooks": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "event": {"type": "string", "minLength": 1},
              "script": {"type": "string", "minLength": 1},
              "timeout": ` + durationSchema + `,
              "enabled": {"type": "boolean"}
            },
            "required": ["event", "script"],
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "moderation": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "blocked_keywords": {"type": "array", "items": {"type": "string"}},
        "blocked_patterns": {"type": "array", "items": {"type": "string"}}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateDocument checks raw configuration JSON against Schema
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
}
