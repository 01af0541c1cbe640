package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	ingestSource    string
	ingestBatchSize int
)

// batchResult mirrors the server's batch ingest response.
type batchResult struct {
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Send log lines to a server",
	Long: `Read raw log lines from a file or stdin and send them to a Cinder
server for enrichment and storage.

Lines are shipped in batches. Blank lines are skipped by the server
and reported in the summary.

Examples:
  # Ingest a file
  cinderctl ingest /var/log/app.log --source app

  # Pipe lines in
  journalctl -u payments | cinderctl ingest --source payments

  # Smaller batches for a rate-limited server
  cinderctl ingest big.log --source app --batch-size 100`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source tag for the entries (default: file name or cli)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 500, "lines per request")
}

func runIngest(cmd *cobra.Command, args []string) error {
	var reader io.Reader = os.Stdin
	source := ingestSource

	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer file.Close()
		reader = file
		if source == "" {
			source = filepath.Base(args[0])
		}
	}
	if source == "" {
		source = "cli"
	}
	if ingestBatchSize <= 0 {
		ingestBatchSize = 500
	}

	client := newClient()

	type batchRequest struct {
		Lines  []string `json:"lines"`
		Source string   `json:"source,omitempty"`
	}

	var (
		stored  int
		skipped int
		batches int
		lines   = make([]string, 0, ingestBatchSize)
	)

	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		var result batchResult
		if err := client.postJSON("/api/v1/logs/batch", batchRequest{Lines: lines, Source: source}, &result); err != nil {
			return err
		}
		stored += result.Stored
		skipped += result.Skipped
		batches++
		PrintVerbose("batch %d: stored %d, skipped %d", batches, result.Stored, result.Skipped)
		lines = lines[:0]
		return nil
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) >= ingestBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Printf("Ingested %d entries (%d skipped) as source %q\n", stored, skipped, source)
	return nil
}
