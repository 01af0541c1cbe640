package batch

import (
	"time"
)

// SeverityBucketLabels names the histogram buckets severity scores fall
// into, in ascending order.
var SeverityBucketLabels = [5]string{"0-19", "20-39", "40-59", "60-79", "80-100"}

// bucketIndex maps a 0-100 severity score onto its histogram bucket.
func bucketIndex(severity int) int {
	idx := severity / 20
	if idx > 4 {
		idx = 4
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Report contains complete offline analysis results.
type Report struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ms"`
	Files     []*FileReport `json:"files"`
	Summary   *Summary      `json:"summary"`
	Errors    []string      `json:"errors,omitempty"`
}

// FileReport contains per-file statistics.
type FileReport struct {
	Path            string           `json:"path"`
	Lines           int64            `json:"lines"`
	Skipped         int64            `json:"skipped"`
	Entries         int64            `json:"entries"`
	ErrorCount      int64            `json:"error_count"`
	LevelCounts     map[string]int64 `json:"level_counts"`
	CategoryCounts  map[string]int64 `json:"category_counts"`
	SeverityBuckets [5]int64         `json:"severity_buckets"`
	CriticalMatches map[string]int64 `json:"critical_matches,omitempty"`
	BytesRead       int64            `json:"bytes_read"`
	ParseTime       time.Duration    `json:"parse_time_ms"`
}

// NewFileReport creates a FileReport with initialized maps.
func NewFileReport(path string) *FileReport {
	return &FileReport{
		Path:            path,
		LevelCounts:     make(map[string]int64),
		CategoryCounts:  make(map[string]int64),
		CriticalMatches: make(map[string]int64),
	}
}

// Summary aggregates statistics across all files.
type Summary struct {
	TotalFiles      int              `json:"total_files"`
	TotalLines      int64            `json:"total_lines"`
	TotalEntries    int64            `json:"total_entries"`
	TotalErrors     int64            `json:"total_errors"`
	SkippedLines    int64            `json:"skipped_lines"`
	LevelCounts     map[string]int64 `json:"level_counts"`
	CategoryCounts  map[string]int64 `json:"category_counts"`
	SeverityBuckets [5]int64         `json:"severity_buckets"`
	CriticalMatches map[string]int64 `json:"critical_matches,omitempty"`
	SourceCounts    map[string]int64 `json:"source_counts"`
	EntriesPerSec   float64          `json:"entries_per_sec"`
}

// NewSummary creates a Summary with initialized maps.
func NewSummary() *Summary {
	return &Summary{
		LevelCounts:     make(map[string]int64),
		CategoryCounts:  make(map[string]int64),
		CriticalMatches: make(map[string]int64),
		SourceCounts:    make(map[string]int64),
	}
}

// Aggregate combines multiple FileReports into a Summary.
func Aggregate(files []*FileReport, duration time.Duration) *Summary {
	s := NewSummary()
	s.TotalFiles = len(files)

	for _, f := range files {
		s.TotalLines += f.Lines
		s.TotalEntries += f.Entries
		s.TotalErrors += f.ErrorCount
		s.SkippedLines += f.Skipped
		s.SourceCounts[f.Path] = f.Entries

		for level, count := range f.LevelCounts {
			s.LevelCounts[level] += count
		}
		for category, count := range f.CategoryCounts {
			s.CategoryCounts[category] += count
		}
		for i, count := range f.SeverityBuckets {
			s.SeverityBuckets[i] += count
		}
		for key, count := range f.CriticalMatches {
			s.CriticalMatches[key] += count
		}
	}

	if duration.Seconds() > 0 {
		s.EntriesPerSec = float64(s.TotalEntries) / duration.Seconds()
	}

	return s
}

// LevelPercentage returns the percentage of entries at a given level.
func (s *Summary) LevelPercentage(level string) float64 {
	if s.TotalEntries == 0 {
		return 0
	}
	return float64(s.LevelCounts[level]) / float64(s.TotalEntries) * 100
}

// CategoryPercentage returns the percentage of entries in a category.
func (s *Summary) CategoryPercentage(category string) float64 {
	if s.TotalEntries == 0 {
		return 0
	}
	return float64(s.CategoryCounts[category]) / float64(s.TotalEntries) * 100
}
