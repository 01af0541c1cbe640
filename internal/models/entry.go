// Package models contains the core data structures for cinder.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Level is the severity level of a log entry.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelFatal    Level = "FATAL"
	LevelCritical Level = "CRITICAL"

	// LevelUnknown marks entries whose level was absent or not recognized.
	// Raw lines carry it until someone supplies a real level; the enricher
	// scores it conservatively.
	LevelUnknown Level = "UNKNOWN"
)

// ParseLevel normalizes free-text level input onto the closed Level set.
// Matching is case-insensitive and WARNING is accepted as a synonym for
// WARN. The boolean reports whether the input was recognized; anything
// unrecognized yields LevelUnknown.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	case "CRITICAL":
		return LevelCritical, true
	default:
		return LevelUnknown, false
	}
}

// Levels lists every recognized level, lowest severity first.
func Levels() []Level {
	return []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal, LevelCritical}
}

// LogEntry represents a single observed log event.
type LogEntry struct {
	// ID is assigned when the entry is persisted.
	ID string `json:"id,omitempty"`

	// Timestamp is when the event occurred; defaults to ingestion time.
	Timestamp time.Time `json:"timestamp"`

	// Level is the severity level of the entry.
	Level Level `json:"level"`

	// Message is the main log message content.
	Message string `json:"message"`

	// Source identifies where the entry came from.
	Source string `json:"source,omitempty"`

	// Application and Environment are filled with "unknown" and
	// "production" during enrichment when blank.
	Application string `json:"application,omitempty"`
	Environment string `json:"environment,omitempty"`

	// Host is the machine that emitted the entry.
	Host string `json:"host,omitempty"`

	// Category is inferred from the message during enrichment when blank.
	Category string `json:"category,omitempty"`

	// Severity is the derived 0-100 score. Deterministic for a given
	// (level, message) pair.
	Severity int `json:"severity"`

	// Optional pass-through correlation identifiers.
	Logger    string `json:"logger,omitempty"`
	Thread    string `json:"thread,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Metadata holds arbitrary key-value pairs supplied at ingestion.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Tags are free-form labels for categorization.
	Tags []string `json:"tags,omitempty"`

	// Parsed reports whether the entry arrived structured rather than as
	// a raw line.
	Parsed bool `json:"parsed"`

	// Raw is the original unparsed line, when one existed.
	Raw string `json:"raw,omitempty"`

	// ProcessedAt is stamped by the enricher.
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

// NewLogEntry creates a LogEntry with an initialized metadata map and an
// unknown level.
func NewLogEntry() *LogEntry {
	return &LogEntry{
		Level:    LevelUnknown,
		Metadata: make(map[string]string),
	}
}

// SetMeta sets a metadata value.
func (e *LogEntry) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// GetMeta retrieves a metadata value.
func (e *LogEntry) GetMeta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// AddTag appends a tag unless the entry already carries it.
func (e *LogEntry) AddTag(tag string) {
	for _, t := range e.Tags {
		if t == tag {
			return
		}
	}
	e.Tags = append(e.Tags, tag)
}

// IsError returns true if the entry is ERROR level or worse.
func (e *LogEntry) IsError() bool {
	return e.Level == LevelError || e.Level == LevelFatal || e.Level == LevelCritical
}

// JSON returns the entry as JSON bytes.
func (e *LogEntry) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// String returns a compact human-readable representation.
func (e *LogEntry) String() string {
	return e.Timestamp.Format(time.RFC3339) + " [" + string(e.Level) + "] " + e.Message
}
