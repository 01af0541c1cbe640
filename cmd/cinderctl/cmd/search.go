package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cinderlog/cinder/internal/models"
)

var (
	searchLevel       string
	searchSource      string
	searchCategory    string
	searchApplication string
	searchEnvironment string
	searchSince       time.Duration
	searchPage        int
	searchPerPage     int
)

// searchResult mirrors the server's paginated query response.
type searchResult struct {
	Items      []*models.LogEntry `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
}

var searchCmd = &cobra.Command{
	Use:   "search [text...]",
	Short: "Query stored log entries",
	Long: `Query a Cinder server for stored entries. Positional arguments are
matched against message text; flags narrow by level, source, and the
enriched category.

Examples:
  # Recent errors
  cinderctl search --level error --since 1h

  # Database trouble mentioning timeouts
  cinderctl search timeout --category database

  # Page through one source
  cinderctl search --source payments --page 2 --per-page 20`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchLevel, "level", "l", "", "filter by level (debug, info, warn, error, critical, fatal)")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "filter by source")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "filter by category")
	searchCmd.Flags().StringVar(&searchApplication, "application", "", "filter by application")
	searchCmd.Flags().StringVar(&searchEnvironment, "environment", "", "filter by environment")
	searchCmd.Flags().DurationVar(&searchSince, "since", 0, "only entries newer than this (e.g. 30m, 24h)")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "result page")
	searchCmd.Flags().IntVar(&searchPerPage, "per-page", 50, "entries per page")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if q := strings.Join(args, " "); q != "" {
		query.Set("q", q)
	}
	if searchLevel != "" {
		query.Set("level", searchLevel)
	}
	if searchSource != "" {
		query.Set("source", searchSource)
	}
	if searchCategory != "" {
		query.Set("category", searchCategory)
	}
	if searchApplication != "" {
		query.Set("application", searchApplication)
	}
	if searchEnvironment != "" {
		query.Set("environment", searchEnvironment)
	}
	if searchSince > 0 {
		query.Set("start", time.Now().Add(-searchSince).UTC().Format(time.RFC3339))
	}
	if searchPage > 1 {
		query.Set("page", strconv.Itoa(searchPage))
	}
	if searchPerPage > 0 {
		query.Set("per_page", strconv.Itoa(searchPerPage))
	}

	var result searchResult
	if err := newClient().get("/api/v1/logs", query, &result); err != nil {
		return err
	}

	switch GetOutput() {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Println(string(data))
	case "plain":
		for _, entry := range result.Items {
			fmt.Printf("%s %s %s %s\n",
				entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Source, entry.Message)
		}
	default:
		printEntriesTable(result)
	}
	return nil
}

func printEntriesTable(result searchResult) {
	if len(result.Items) == 0 {
		fmt.Println("No entries found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tSEV\tSOURCE\tCATEGORY\tMESSAGE")
	for _, entry := range result.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Level,
			entry.Severity,
			entry.Source,
			entry.Category,
			truncate(entry.Message, 60))
	}
	w.Flush()

	fmt.Printf("\nPage %d of %d (%d entries total)\n", result.Page, result.TotalPages, result.Total)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
