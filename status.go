package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relieftools/fieldsync/internal/engine"
)

// Connectivity states for status display.
const (
	connStateOnline  = "online"
	connStateOffline = "offline"
	connStateUnset   = "not configured"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue health and server connectivity",
		Long: `Display an operational summary: how many operations are queued and in what
state, how many conflicts await review, and whether the coordination server
is currently reachable.`,
		RunE: runStatus,
	}
}

// statusReport is the JSON-serializable status summary.
type statusReport struct {
	Server       string  `json:"server,omitempty"`
	Connectivity string  `json:"connectivity"`
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Retrying     int     `json:"retrying"`
	MaxRetries   int     `json:"maxRetries"`
	Conflicts    int     `json:"conflicts"`
	AvgAttempts  float64 `json:"avgAttempts,omitempty"`
	OldestQueued string  `json:"oldestQueued,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	mgr, err := openQueue(logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := cmd.Context()

	metrics, err := mgr.Metrics(ctx)
	if err != nil {
		return err
	}

	conflicts, err := mgr.ListConflicts(ctx)
	if err != nil {
		return err
	}

	report := statusReport{
		Server:       resolvedCfg.ServerURL,
		Connectivity: connStateUnset,
		Total:        metrics.Total,
		Pending:      metrics.Pending,
		Retrying:     metrics.Retrying,
		MaxRetries:   metrics.MaxRetries,
		Conflicts:    len(conflicts),
		AvgAttempts:  metrics.AvgRetryAttempts,
	}

	if metrics.OldestPending != nil {
		report.OldestQueued = metrics.OldestPending.UTC().Format(time.RFC3339)
	}

	// Probe the server when one is configured. Offline is a normal state for
	// a field device, not an error.
	if resolvedCfg.ServerURL != "" {
		client, err := buildAPIClient(logger)
		if err != nil {
			return err
		}

		monitor := engine.NewMonitor(client.Health, resolvedCfg.ProbeInterval, logger)
		defer monitor.Close()

		if monitor.Check(ctx) {
			report.Connectivity = connStateOnline
		} else {
			report.Connectivity = connStateOffline
		}
	}

	if flagJSON {
		return printJSON(report)
	}

	printStatusText(&report)

	return nil
}

func printStatusText(r *statusReport) {
	server := r.Server
	if server == "" {
		server = "(not set)"
	}

	fmt.Printf("Server:      %s [%s]\n", server, r.Connectivity)
	fmt.Printf("Queued:      %d (%d pending, %d retrying, %d at max retries)\n",
		r.Total, r.Pending, r.Retrying, r.MaxRetries)
	fmt.Printf("Conflicts:   %d\n", r.Conflicts)

	if r.AvgAttempts > 0 {
		fmt.Printf("Avg tries:   %.1f\n", r.AvgAttempts)
	}

	if r.OldestQueued != "" {
		fmt.Printf("Oldest:      %s\n", r.OldestQueued)
	}
}
