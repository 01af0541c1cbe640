// Package alerting maintains the in-memory alert table and evaluates
// the fixed rule set against aggregate log statistics.
package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

// Rule thresholds. These are policy constants, not tuning knobs.
const (
	errorRateThreshold   = 5.0
	warningRateThreshold = 20.0
	errorSpikeThreshold  = 3
	volumeThreshold      = 10
	sourcesThreshold     = 3

	// SpikeWindow is how far back the recent-error spike rule looks.
	SpikeWindow = 10 * time.Minute
)

// Rule keys for sweep rules and per-entry critical patterns.
const (
	RuleHighErrorRate    = "HIGH_ERROR_RATE"
	RuleHighWarningRate  = "HIGH_WARNING_RATE"
	RuleRecentErrorSpike = "RECENT_ERROR_SPIKE"
	RuleHighLogVolume    = "HIGH_LOG_VOLUME"
	RuleMultipleSources  = "MULTIPLE_SOURCES"

	RuleDatabaseConnectionFailure = "DATABASE_CONNECTION_FAILURE"
	RuleCriticalTimeout           = "CRITICAL_TIMEOUT"
	RuleMemoryPressure            = "MEMORY_PRESSURE"
)

// systemCategory tags alerts derived from aggregate statistics rather
// than a single entry.
const systemCategory = "system"

// Stats is one snapshot of the aggregate counts a sweep evaluates.
// All rates are computed from the full system-of-record counts.
type Stats struct {
	Total        int64
	Errors       int64
	Warnings     int64
	RecentErrors int64
	Sources      int
}

// ErrorRate returns the ERROR percentage over all entries.
func (s Stats) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Total) * 100
}

// WarningRate returns the WARN percentage over all entries.
func (s Stats) WarningRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Warnings) / float64(s.Total) * 100
}

// SweepRule is one threshold check run on every sweep. Descriptions are
// re-rendered on every violation so an updated alert always shows the
// current values.
type SweepRule struct {
	Key      string
	Severity models.Severity
	Title    string

	Triggered func(s Stats) bool
	Describe  func(s Stats) string
}

var sweepRules = []SweepRule{
	{
		Key:      RuleHighErrorRate,
		Severity: models.SeverityHigh,
		Title:    "High Error Rate",
		Triggered: func(s Stats) bool {
			return s.Total > 0 && s.ErrorRate() > errorRateThreshold
		},
		Describe: func(s Stats) string {
			return fmt.Sprintf("Error rate is %.1f%% (%d of %d entries)", s.ErrorRate(), s.Errors, s.Total)
		},
	},
	{
		Key:      RuleHighWarningRate,
		Severity: models.SeverityMedium,
		Title:    "High Warning Rate",
		Triggered: func(s Stats) bool {
			return s.Total > 0 && s.WarningRate() > warningRateThreshold
		},
		Describe: func(s Stats) string {
			return fmt.Sprintf("Warning rate is %.1f%% (%d of %d entries)", s.WarningRate(), s.Warnings, s.Total)
		},
	},
	{
		Key:      RuleRecentErrorSpike,
		Severity: models.SeverityHigh,
		Title:    "Recent Error Spike",
		Triggered: func(s Stats) bool {
			return s.RecentErrors >= errorSpikeThreshold
		},
		Describe: func(s Stats) string {
			return fmt.Sprintf("%d errors in the last %d minutes", s.RecentErrors, int(SpikeWindow.Minutes()))
		},
	},
	{
		Key:      RuleHighLogVolume,
		Severity: models.SeverityLow,
		Title:    "High Log Volume",
		Triggered: func(s Stats) bool {
			return s.Total > volumeThreshold
		},
		Describe: func(s Stats) string {
			return fmt.Sprintf("Log volume is %d entries", s.Total)
		},
	},
	{
		Key:      RuleMultipleSources,
		Severity: models.SeverityLow,
		Title:    "Multiple Active Sources",
		Triggered: func(s Stats) bool {
			return s.Sources > sourcesThreshold
		},
		Describe: func(s Stats) string {
			return fmt.Sprintf("Logs arriving from %d distinct sources", s.Sources)
		},
	},
}

// entryPattern is a critical condition recognized on a single ERROR
// entry rather than on aggregate counts. Matching is case-insensitive
// and an entry can fire several patterns at once.
type entryPattern struct {
	Key     string
	Title   string
	Matches func(message string) bool
}

var entryPatterns = []entryPattern{
	{
		Key:   RuleDatabaseConnectionFailure,
		Title: "Database Connection Failure",
		Matches: func(m string) bool {
			return strings.Contains(m, "database") && strings.Contains(m, "connection")
		},
	},
	{
		Key:   RuleCriticalTimeout,
		Title: "Critical Timeout",
		Matches: func(m string) bool {
			return strings.Contains(m, "timeout")
		},
	},
	{
		Key:   RuleMemoryPressure,
		Title: "Memory Pressure",
		Matches: func(m string) bool {
			// "out of memory" also matches the plain substring.
			return strings.Contains(m, "memory")
		},
	},
}

// CriticalPatternKeys returns the rule keys of every critical pattern
// the message matches. Offline analysis uses it to report would-be
// alerts without an alert store.
func CriticalPatternKeys(message string) []string {
	msg := strings.ToLower(message)
	var keys []string
	for _, p := range entryPatterns {
		if p.Matches(msg) {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

func describeEntryMatch(entry *models.LogEntry) string {
	if entry.Source != "" {
		return fmt.Sprintf("Critical pattern in %s: %s", entry.Source, entry.Message)
	}
	return fmt.Sprintf("Critical pattern: %s", entry.Message)
}
