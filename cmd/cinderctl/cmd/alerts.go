package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cinderlog/cinder/internal/models"
)

var (
	alertsStatus   string
	alertsSeverity string
	alertsBy       string
	alertsNotes    string
)

// alertsCmd represents the alerts command group
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert management commands",
	Long: `Commands for listing and working alerts on a Cinder server.

Alerts are opened by the server when the log stream crosses fixed
thresholds. Operators acknowledge them while investigating and resolve
them when done; resolved alerts never reopen.

Examples:
  # List open alerts
  cinderctl alerts list --status open

  # Inspect one alert
  cinderctl alerts get a1b2c3d4-e5f6-7890-abcd-ef1234567890

  # Take ownership
  cinderctl alerts ack a1b2c3d4-e5f6-7890-abcd-ef1234567890 --by oncall

  # Close it out
  cinderctl alerts resolve a1b2c3d4-e5f6-7890-abcd-ef1234567890 --by oncall --notes "failover completed"`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		if alertsStatus != "" {
			query.Set("status", alertsStatus)
		}
		if alertsSeverity != "" {
			query.Set("severity", alertsSeverity)
		}

		var alerts []*models.Alert
		if err := newClient().get("/api/v1/alerts", query, &alerts); err != nil {
			return err
		}

		if GetOutput() == "json" {
			data, err := json.MarshalIndent(alerts, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal alerts: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		// Newest activity first.
		sort.Slice(alerts, func(i, j int) bool {
			return alerts[i].LastOccurrence.After(alerts[j].LastOccurrence)
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRULE\tSEVERITY\tSTATUS\tCOUNT\tLAST SEEN\tTITLE")
		for _, alert := range alerts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				alert.ID,
				alert.RuleKey,
				alert.Severity,
				alert.Status,
				alert.OccurrenceCount,
				alert.LastOccurrence.Format("2006-01-02 15:04:05"),
				truncate(alert.Title, 40))
		}
		return w.Flush()
	},
}

var alertsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var alert models.Alert
		if err := newClient().get("/api/v1/alerts/"+url.PathEscape(args[0]), nil, &alert); err != nil {
			return err
		}
		return printAlert(&alert)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsBy == "" {
			return fmt.Errorf("--by is required")
		}
		body := map[string]string{"by": alertsBy}

		var alert models.Alert
		if err := newClient().postJSON("/api/v1/alerts/"+url.PathEscape(args[0])+"/ack", body, &alert); err != nil {
			return err
		}
		fmt.Printf("Alert %s acknowledged by %s\n", alert.ID, alertsBy)
		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsBy == "" {
			return fmt.Errorf("--by is required")
		}
		body := map[string]string{"by": alertsBy, "notes": alertsNotes}

		var alert models.Alert
		if err := newClient().postJSON("/api/v1/alerts/"+url.PathEscape(args[0])+"/resolve", body, &alert); err != nil {
			return err
		}
		fmt.Printf("Alert %s resolved by %s\n", alert.ID, alertsBy)
		return nil
	},
}

var alertsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a rule sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Status string         `json:"status"`
			Counts map[string]int `json:"counts"`
		}
		if err := newClient().postJSON("/api/v1/alerts/sweep", nil, &result); err != nil {
			return err
		}
		fmt.Printf("Sweep %s: %d open, %d acknowledged, %d resolved\n",
			result.Status, result.Counts["open"], result.Counts["acknowledged"], result.Counts["resolved"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsGetCmd)
	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	alertsCmd.AddCommand(alertsSweepCmd)

	alertsListCmd.Flags().StringVar(&alertsStatus, "status", "", "filter by status (open, acknowledged, resolved)")
	alertsListCmd.Flags().StringVar(&alertsSeverity, "severity", "", "filter by severity (low, medium, high, critical)")

	alertsAckCmd.Flags().StringVar(&alertsBy, "by", "", "who is acknowledging")
	alertsResolveCmd.Flags().StringVar(&alertsBy, "by", "", "who is resolving")
	alertsResolveCmd.Flags().StringVar(&alertsNotes, "notes", "", "resolution notes")
}

func printAlert(alert *models.Alert) error {
	if GetOutput() == "json" {
		data, err := json.MarshalIndent(alert, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("ID:          %s\n", alert.ID)
	fmt.Printf("Rule:        %s\n", alert.RuleKey)
	fmt.Printf("Title:       %s\n", alert.Title)
	fmt.Printf("Severity:    %s\n", alert.Severity)
	fmt.Printf("Status:      %s\n", alert.Status)
	fmt.Printf("Category:    %s\n", alert.Category)
	fmt.Printf("Occurrences: %d\n", alert.OccurrenceCount)
	fmt.Printf("First seen:  %s\n", alert.FirstSeen.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last seen:   %s\n", alert.LastOccurrence.Format("2006-01-02 15:04:05"))
	if alert.AcknowledgedBy != "" {
		fmt.Printf("Acked by:    %s\n", alert.AcknowledgedBy)
	}
	if alert.ResolvedBy != "" {
		fmt.Printf("Resolved by: %s\n", alert.ResolvedBy)
		if alert.ResolutionNotes != "" {
			fmt.Printf("Notes:       %s\n", alert.ResolutionNotes)
		}
	}
	fmt.Printf("Description: %s\n", alert.Description)
	return nil
}
