package batch

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
)

// ExportFormat defines the output format for reports.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ParseExportFormat parses a string to ExportFormat.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch s {
	case "json":
		return ExportJSON, true
	case "csv":
		return ExportCSV, true
	default:
		return "", false
	}
}

// Exporter writes analysis reports in a machine-readable format.
type Exporter struct {
	format ExportFormat
	writer io.Writer
}

// NewExporter creates an exporter for the given format.
func NewExporter(format ExportFormat, w io.Writer) *Exporter {
	return &Exporter{
		format: format,
		writer: w,
	}
}

// ExportReport writes the analysis report in the configured format.
func (e *Exporter) ExportReport(report *Report) error {
	switch e.format {
	case ExportCSV:
		return e.exportReportCSV(report)
	default:
		return e.exportReportJSON(report)
	}
}

func (e *Exporter) exportReportJSON(report *Report) error {
	encoder := json.NewEncoder(e.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (e *Exporter) exportReportCSV(report *Report) error {
	w := csv.NewWriter(e.writer)
	defer w.Flush()

	// Summary section
	w.Write([]string{"# Summary"})
	w.Write([]string{"total_files", strconv.Itoa(report.Summary.TotalFiles)})
	w.Write([]string{"total_lines", strconv.FormatInt(report.Summary.TotalLines, 10)})
	w.Write([]string{"total_entries", strconv.FormatInt(report.Summary.TotalEntries, 10)})
	w.Write([]string{"total_errors", strconv.FormatInt(report.Summary.TotalErrors, 10)})
	w.Write([]string{"skipped_lines", strconv.FormatInt(report.Summary.SkippedLines, 10)})
	w.Write([]string{"entries_per_sec", strconv.FormatFloat(report.Summary.EntriesPerSec, 'f', 2, 64)})
	w.Write([]string{"duration_ms", strconv.FormatInt(report.Duration.Milliseconds(), 10)})
	w.Write([]string{})

	// Level counts, stable order
	w.Write([]string{"# Level Counts"})
	w.Write([]string{"level", "count"})
	for _, level := range sortedKeys(report.Summary.LevelCounts) {
		w.Write([]string{level, strconv.FormatInt(report.Summary.LevelCounts[level], 10)})
	}
	w.Write([]string{})

	// Category counts
	w.Write([]string{"# Category Counts"})
	w.Write([]string{"category", "count"})
	for _, category := range sortedKeys(report.Summary.CategoryCounts) {
		w.Write([]string{category, strconv.FormatInt(report.Summary.CategoryCounts[category], 10)})
	}
	w.Write([]string{})

	// Severity histogram
	w.Write([]string{"# Severity Histogram"})
	w.Write([]string{"bucket", "count"})
	for i, label := range SeverityBucketLabels {
		w.Write([]string{label, strconv.FormatInt(report.Summary.SeverityBuckets[i], 10)})
	}
	w.Write([]string{})

	// Critical pattern matches
	if len(report.Summary.CriticalMatches) > 0 {
		w.Write([]string{"# Critical Pattern Matches"})
		w.Write([]string{"rule", "count"})
		for _, rule := range sortedKeys(report.Summary.CriticalMatches) {
			w.Write([]string{rule, strconv.FormatInt(report.Summary.CriticalMatches[rule], 10)})
		}
		w.Write([]string{})
	}

	// File details
	w.Write([]string{"# File Details"})
	w.Write([]string{"path", "lines", "entries", "errors", "skipped", "parse_time_ms"})
	for _, f := range report.Files {
		w.Write([]string{
			f.Path,
			strconv.FormatInt(f.Lines, 10),
			strconv.FormatInt(f.Entries, 10),
			strconv.FormatInt(f.ErrorCount, 10),
			strconv.FormatInt(f.Skipped, 10),
			strconv.FormatInt(f.ParseTime.Milliseconds(), 10),
		})
	}

	return w.Error()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
