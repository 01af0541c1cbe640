package models

import (
	"strings"
	"time"
)

// AlertStatus tracks an alert through its operator lifecycle. Transitions
// run OPEN -> ACKNOWLEDGED -> RESOLVED (acknowledgement may be skipped)
// and RESOLVED is terminal.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "OPEN"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusResolved     AlertStatus = "RESOLVED"
)

// ParseAlertStatus normalizes free-text input onto the AlertStatus set.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN":
		return StatusOpen, true
	case "ACKNOWLEDGED", "ACK":
		return StatusAcknowledged, true
	case "RESOLVED":
		return StatusResolved, true
	default:
		return "", false
	}
}

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// severityRank orders severities for filtering and notification gating.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is min or more severe.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Alert is a system-wide condition signal keyed by a stable rule key.
// At most one live alert exists per rule key; repeat violations update
// the existing alert rather than creating duplicates.
type Alert struct {
	ID          string      `json:"id"`
	RuleKey     string      `json:"rule_key"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	Category    string      `json:"category,omitempty"`
	Status      AlertStatus `json:"status"`

	FirstSeen       time.Time `json:"first_seen"`
	LastOccurrence  time.Time `json:"last_occurrence"`
	OccurrenceCount int       `json:"occurrence_count"`

	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// Live reports whether the alert is still actionable.
func (a *Alert) Live() bool {
	return a.Status != StatusResolved
}

// Clone returns a copy safe to hand out while the owning store keeps
// mutating the original.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
