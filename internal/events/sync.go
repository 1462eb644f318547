// Package events defines payloads published about sync activity.
package events

import "time"

// SyncSessionCompleted is emitted once per sync session that ran, successful or not.
type SyncSessionCompleted struct {
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id"`
	DeviceID   string         `json:"device_id"`
	Trigger    string         `json:"trigger"`
	Outcome    string         `json:"outcome"`
	Pushed     map[string]int `json:"pushed"`
	Skipped    map[string]int `json:"skipped,omitempty"`
	Adopted    map[string]int `json:"adopted,omitempty"`
	FailedStep string         `json:"failed_step,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Version    string         `json:"version"`
}

// SchemaVersion is stamped on every SyncSessionCompleted.
const SchemaVersion = "v1"

// SyncSessionCompletedSchema is the JSON schema registered for SyncSessionCompleted.
const SyncSessionCompletedSchema = `{
  "type": "object",
  "title": "SyncSessionCompleted",
  "properties": {
    "session_id": {"type": "string"},
    "user_id": {"type": "string"},
    "device_id": {"type": "string"},
    "trigger": {"type": "string"},
    "outcome": {"type": "string"},
    "pushed": {"type": "object", "additionalProperties": {"type": "integer"}},
    "skipped": {"type": "object", "additionalProperties": {"type": "integer"}},
    "adopted": {"type": "object", "additionalProperties": {"type": "integer"}},
    "failed_step": {"type": "string"},
    "error": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "finished_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["session_id", "user_id", "device_id", "trigger", "outcome", "pushed", "started_at", "finished_at", "version"],
  "additionalProperties": false
}`
