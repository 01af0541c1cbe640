// Package batch provides offline analysis of raw log files: the same
// level detection and enrichment the ingest pipeline applies, run over
// files in parallel and aggregated into a report, without a server.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/enrich"
	"github.com/cinderlog/cinder/internal/models"
)

// Options configures batch analysis.
type Options struct {
	Workers    int // number of parallel workers (0 = NumCPU)
	BufferSize int // channel buffer size (0 = workers*2)
	Limit      int // maximum entries per file (0 = no limit)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Workers: runtime.NumCPU(),
	}
}

// Analyzer performs offline analysis on raw log files.
type Analyzer struct {
	opts     *Options
	enricher *enrich.Enricher
}

// NewAnalyzer creates a batch analyzer.
func NewAnalyzer(opts *Options) *Analyzer {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	return &Analyzer{
		opts:     opts,
		enricher: enrich.New(),
	}
}

// Analyze processes files matching the given patterns and returns the
// aggregated report. Per-file failures are collected, not fatal.
func (a *Analyzer) Analyze(ctx context.Context, patterns []string) (*Report, error) {
	startTime := time.Now()

	files := expandGlobs(patterns)
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match the specified patterns")
	}

	pool := NewWorkerPool(a.opts.Workers, a.opts.BufferSize)
	pool.Start(ctx, a.analyzeFile)

	go func() {
		for _, f := range files {
			if err := pool.Submit(ctx, f); err != nil {
				break
			}
		}
		pool.Close()
	}()

	var (
		mu      sync.Mutex
		results []*FileReport
		errs    []string
		wg      sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for report := range pool.Results() {
			mu.Lock()
			results = append(results, report)
			mu.Unlock()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range pool.Errors() {
			mu.Lock()
			errs = append(errs, err.Error())
			mu.Unlock()
		}
	}()

	wg.Wait()

	// Deterministic order regardless of worker scheduling.
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	endTime := time.Now()
	duration := endTime.Sub(startTime)

	return &Report{
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Files:     results,
		Summary:   Aggregate(results, duration),
		Errors:    errs,
	}, nil
}

// analyzeFile runs detection and enrichment over a single file.
func (a *Analyzer) analyzeFile(ctx context.Context, path string) (*FileReport, error) {
	parseStart := time.Now()
	report := NewFileReport(path)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if fi, err := file.Stat(); err == nil {
		report.BytesRead = fi.Size()
	}

	source := filepath.Base(path)

	scanner := bufio.NewScanner(file)
	// Long lines happen in the wild; keep headroom.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	count := 0
scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			break scan
		default:
		}

		report.Lines++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			report.Skipped++
			continue
		}

		entry := &models.LogEntry{
			Message: line,
			Source:  source,
			Level:   enrich.DetectLevel(line),
		}
		a.enricher.EnrichAt(entry, parseStart)
		report.observe(entry)

		count++
		if a.opts.Limit > 0 && count >= a.opts.Limit {
			break
		}
	}

	report.ParseTime = time.Since(parseStart)
	return report, scanner.Err()
}

// observe folds one enriched entry into the per-file counters.
func (r *FileReport) observe(entry *models.LogEntry) {
	r.Entries++
	r.LevelCounts[string(entry.Level)]++
	r.CategoryCounts[entry.Category]++
	r.SeverityBuckets[bucketIndex(entry.Severity)]++

	if entry.IsError() {
		r.ErrorCount++
	}

	// The live pipeline only checks critical patterns on ERROR entries;
	// the offline report mirrors that.
	if entry.Level == models.LevelError {
		for _, key := range alerting.CriticalPatternKeys(entry.Message) {
			r.CriticalMatches[key]++
		}
	}
}

// expandGlobs expands glob patterns to a deduplicated list of absolute
// file paths, skipping directories.
func expandGlobs(patterns []string) []string {
	var files []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}

		for _, match := range matches {
			fi, err := os.Stat(match)
			if err != nil || fi.IsDir() {
				continue
			}

			absPath, err := filepath.Abs(match)
			if err != nil {
				continue
			}

			if !seen[absPath] {
				seen[absPath] = true
				files = append(files, absPath)
			}
		}
	}

	return files
}
