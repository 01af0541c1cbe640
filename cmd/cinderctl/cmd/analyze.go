package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cinderlog/cinder/internal/batch"
)

var (
	analyzeWorkers  int
	analyzeExport   string
	analyzeExportTo string
	analyzeLimit    int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file...]",
	Short: "Batch analyze log files",
	Long: `Analyze log files offline with parallel processing. No server is
required: each line goes through the same level detection, category
inference, and severity scoring the server applies at ingest.

Supports glob patterns for analyzing multiple files at once.
Generates summary statistics with optional export to CSV or JSON.

Examples:
  # Summarize a directory of logs
  cinderctl analyze /var/log/app/*.log

  # Parallel processing with 8 workers
  cinderctl analyze /var/log/*.log --workers 8

  # Export results to CSV
  cinderctl analyze /var/log/*.log --export csv --export-to report.csv

  # JSON on stdout
  cinderctl analyze /var/log/*.log -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "number of parallel workers (0 = auto)")
	analyzeCmd.Flags().StringVar(&analyzeExport, "export", "", "export format (json, csv)")
	analyzeCmd.Flags().StringVar(&analyzeExportTo, "export-to", "", "export file path (default: stdout)")
	analyzeCmd.Flags().IntVarP(&analyzeLimit, "limit", "n", 0, "limit entries per file (0 = no limit)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	opts := &batch.Options{
		Workers: analyzeWorkers,
		Limit:   analyzeLimit,
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		PrintVerbose("Received interrupt, stopping...")
		cancel()
	}()

	analyzer := batch.NewAnalyzer(opts)

	PrintVerbose("Analyzing files...")

	report, err := analyzer.Analyze(ctx, args)
	if err != nil {
		return err
	}

	// Handle export if requested
	if analyzeExport != "" {
		format, ok := batch.ParseExportFormat(analyzeExport)
		if !ok {
			return fmt.Errorf("invalid export format: %s (use json or csv)", analyzeExport)
		}

		var writer = os.Stdout
		if analyzeExportTo != "" {
			file, err := os.Create(analyzeExportTo)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer file.Close()
			writer = file
		}

		exporter := batch.NewExporter(format, writer)
		if err := exporter.ExportReport(report); err != nil {
			return fmt.Errorf("export: %w", err)
		}

		if analyzeExportTo != "" {
			PrintVerbose("Report exported to %s", analyzeExportTo)
		}
		return nil
	}

	// Output report based on format
	outputReport(report)
	return nil
}

func outputReport(report *batch.Report) {
	switch GetOutput() {
	case "json":
		outputReportJSON(report)
	case "plain":
		outputReportPlain(report)
	default:
		outputReportTable(report)
	}
}

func outputReportJSON(report *batch.Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		PrintError(fmt.Sprintf("failed to marshal JSON: %v", err), false)
		return
	}
	fmt.Println(string(data))
}

func outputReportPlain(report *batch.Report) {
	s := report.Summary
	fmt.Printf("Files: %d | Lines: %d | Entries: %d | Errors: %d | Skipped: %d\n",
		s.TotalFiles, s.TotalLines, s.TotalEntries, s.TotalErrors, s.SkippedLines)
	fmt.Printf("Duration: %v | Throughput: %.0f entries/sec\n",
		report.Duration.Round(1e6), s.EntriesPerSec)
}

func outputReportTable(report *batch.Report) {
	s := report.Summary

	// Header
	fmt.Println()
	fmt.Println("Batch Analysis Report")
	fmt.Println("=====================")
	fmt.Printf("Files: %d | Duration: %v | Throughput: %.0f entries/sec\n",
		s.TotalFiles, report.Duration.Round(1e6), s.EntriesPerSec)
	fmt.Println()

	// Summary
	fmt.Println("Summary:")
	fmt.Printf("  Total Lines:    %d\n", s.TotalLines)
	fmt.Printf("  Total Entries:  %d\n", s.TotalEntries)
	fmt.Printf("  Total Errors:   %d\n", s.TotalErrors)
	fmt.Printf("  Skipped Lines:  %d\n", s.SkippedLines)
	fmt.Println()

	// By Level
	if len(s.LevelCounts) > 0 {
		fmt.Println("By Level:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  LEVEL\tCOUNT\t%%\n")
		fmt.Fprintf(w, "  -----\t-----\t-\n")

		// Sort levels for consistent output
		levels := sortedKeys(s.LevelCounts)
		for _, level := range levels {
			count := s.LevelCounts[level]
			pct := s.LevelPercentage(level)
			fmt.Fprintf(w, "  %s\t%d\t%.1f%%\n", level, count, pct)
		}
		w.Flush()
		fmt.Println()
	}

	// By Category
	if len(s.CategoryCounts) > 0 {
		fmt.Println("By Category:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  CATEGORY\tCOUNT\t%%\n")
		fmt.Fprintf(w, "  --------\t-----\t-\n")

		categories := sortedKeys(s.CategoryCounts)
		for _, category := range categories {
			count := s.CategoryCounts[category]
			pct := s.CategoryPercentage(category)
			fmt.Fprintf(w, "  %s\t%d\t%.1f%%\n", category, count, pct)
		}
		w.Flush()
		fmt.Println()
	}

	// Severity histogram
	fmt.Println("Severity Histogram:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  SCORE\tCOUNT\n")
	fmt.Fprintf(w, "  -----\t-----\n")
	for i, label := range batch.SeverityBucketLabels {
		fmt.Fprintf(w, "  %s\t%d\n", label, s.SeverityBuckets[i])
	}
	w.Flush()
	fmt.Println()

	// Critical pattern matches
	if len(s.CriticalMatches) > 0 {
		fmt.Println("Critical Pattern Matches:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  PATTERN\tCOUNT\n")
		fmt.Fprintf(w, "  -------\t-----\n")

		patterns := sortedKeys(s.CriticalMatches)
		for _, pattern := range patterns {
			fmt.Fprintf(w, "  %s\t%d\n", pattern, s.CriticalMatches[pattern])
		}
		w.Flush()
		fmt.Println()
	}

	// Top Sources (show top 10)
	if len(s.SourceCounts) > 0 && IsVerbose() {
		fmt.Println("Top Sources:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  SOURCE\tCOUNT\n")
		fmt.Fprintf(w, "  ------\t-----\n")

		sources := sortedKeysByValue(s.SourceCounts)
		limit := 10
		if len(sources) < limit {
			limit = len(sources)
		}
		for i := 0; i < limit; i++ {
			src := sources[i]
			fmt.Fprintf(w, "  %s\t%d\n", src, s.SourceCounts[src])
		}
		w.Flush()
		fmt.Println()
	}

	// Errors
	if len(report.Errors) > 0 {
		fmt.Printf("Warnings (%d):\n", len(report.Errors))
		for i, err := range report.Errors {
			if i >= 5 {
				fmt.Printf("  ... and %d more\n", len(report.Errors)-5)
				break
			}
			fmt.Printf("  - %s\n", err)
		}
		fmt.Println()
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysByValue(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m[keys[i]] > m[keys[j]]
	})
	return keys
}
