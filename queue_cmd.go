package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/relieftools/fieldsync/internal/queue"
)

// itemIDPrefixLen is the number of characters to show for item UUIDs in
// table output. 8 chars is sufficient for uniqueness in typical use.
const itemIDPrefixLen = 8

// errColumnWidth caps the last_error column so table rows stay on one line.
const errColumnWidth = 40

var (
	flagListType   string
	flagListStatus string
	flagListLimit  int
	flagListOffset int
	flagListSort   string
	flagListOrder  string
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and administer the sync queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueShowCmd())
	cmd.AddCommand(newQueueRemoveCmd())
	cmd.AddCommand(newQueueMetricsCmd())
	cmd.AddCommand(newQueueResetFailedCmd())
	cmd.AddCommand(newQueueSetPriorityCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		RunE:  runQueueList,
	}

	cmd.Flags().StringVar(&flagListType, "type", "", "filter by entity type")
	cmd.Flags().StringVar(&flagListStatus, "status", "", "filter by status (pending, retrying, max_retries)")
	cmd.Flags().IntVar(&flagListLimit, "limit", 0, "maximum items to show (0 = all)")
	cmd.Flags().IntVar(&flagListOffset, "offset", 0, "skip the first N items")
	cmd.Flags().StringVar(&flagListSort, "sort", "", "sort key: priority, timestamp, attempts")
	cmd.Flags().StringVar(&flagListOrder, "order", "", "sort order: asc, desc")

	return cmd
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	mgr, err := openQueue(buildLogger())
	if err != nil {
		return err
	}
	defer mgr.Close()

	filter := queue.ListFilter{
		Type:      queue.EntityType(flagListType),
		Status:    queue.Status(flagListStatus),
		Limit:     flagListLimit,
		Offset:    flagListOffset,
		SortBy:    queue.SortKey(flagListSort),
		SortOrder: queue.SortOrder(flagListOrder),
	}

	items, err := mgr.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(items)
	}

	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	printItemsTable(items)

	return nil
}

func printItemsTable(items []queue.Item) {
	headers := []string{"UUID", "TYPE", "ACTION", "PRI", "STATUS", "ATT", "CREATED", "LAST ERROR"}
	rows := make([][]string, len(items))

	for i := range items {
		it := &items[i]

		id := it.UUID
		if len(id) > itemIDPrefixLen {
			id = id[:itemIDPrefixLen]
		}

		rows[i] = []string{
			id,
			string(it.Type),
			string(it.Action),
			strconv.Itoa(it.Priority),
			string(it.Status),
			strconv.Itoa(it.Attempts),
			formatTime(it.CreatedAt),
			truncate(it.LastError, errColumnWidth),
		}
	}

	printTable(os.Stdout, headers, rows)
}

func newQueueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show one queued operation in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openQueue(buildLogger())
			if err != nil {
				return err
			}
			defer mgr.Close()

			item, err := mgr.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if item == nil {
				return fmt.Errorf("no queued operation with uuid %s", args[0])
			}

			if flagJSON {
				return printJSON(item)
			}

			printItemDetail(item)

			return nil
		},
	}
}

func printItemDetail(it *queue.Item) {
	fmt.Printf("UUID:        %s\n", it.UUID)
	fmt.Printf("Type:        %s\n", it.Type)
	fmt.Printf("Action:      %s\n", it.Action)
	fmt.Printf("Entity:      %s\n", it.EntityUUID)
	fmt.Printf("Priority:    %d\n", it.Priority)
	fmt.Printf("Status:      %s\n", it.Status)
	fmt.Printf("Attempts:    %d\n", it.Attempts)
	fmt.Printf("Created:     %s\n", formatTime(it.CreatedAt))
	fmt.Printf("Last try:    %s\n", formatTimePtr(it.LastAttempt))
	fmt.Printf("Next retry:  %s\n", formatTimePtr(it.NextRetry))

	if it.LastError != "" {
		fmt.Printf("Last error:  %s\n", it.LastError)
	}

	if len(it.Payload) > 0 {
		fmt.Printf("Payload:     %s\n", string(it.Payload))
	}
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <uuid>",
		Short: "Remove a queued operation without delivering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openQueue(buildLogger())
			if err != nil {
				return err
			}
			defer mgr.Close()

			found, err := mgr.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("no queued operation with uuid %s", args[0])
			}

			fmt.Println("Removed.")

			return nil
		},
	}
}

func newQueueMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show aggregate queue metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openQueue(buildLogger())
			if err != nil {
				return err
			}
			defer mgr.Close()

			metrics, err := mgr.Metrics(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(metrics)
			}

			printMetrics(metrics)

			return nil
		},
	}
}

func printMetrics(m *queue.Metrics) {
	fmt.Printf("Total:        %d\n", m.Total)
	fmt.Printf("Pending:      %d\n", m.Pending)
	fmt.Printf("Retrying:     %d\n", m.Retrying)
	fmt.Printf("Max retries:  %d\n", m.MaxRetries)

	if m.AvgRetryAttempts > 0 {
		fmt.Printf("Avg attempts: %.1f\n", m.AvgRetryAttempts)
	}

	if m.OldestPending != nil {
		fmt.Printf("Oldest:       %s\n", formatTime(*m.OldestPending))
	}

	for typ, n := range m.ByType {
		fmt.Printf("  %-12s %d\n", typ+":", n)
	}
}

func newQueueResetFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed",
		Short: "Make items stuck at max retries eligible again",
		Long: `Reset the attempt counter of every item parked at max_retries so the next
sync cycle picks them up. Use after fixing whatever made them fail (bad
credentials, server-side validation, schema mismatch).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openQueue(buildLogger())
			if err != nil {
				return err
			}
			defer mgr.Close()

			n, err := mgr.ResetFailed(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Reset %d item(s) for retry.\n", n)

			return nil
		},
	}
}

func newQueueSetPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-priority <type> <priority>",
		Short: "Reprioritize all queued operations of one entity type",
		Long: `Set the delivery priority of every queued operation of the given entity
type. Useful when one class of data suddenly matters most, e.g. pushing
all assessments ahead of routine updates after a new incident.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid priority %q: %w", args[1], err)
			}

			mgr, err := openQueue(buildLogger())
			if err != nil {
				return err
			}
			defer mgr.Close()

			n, err := mgr.ReprioritizeType(cmd.Context(), queue.EntityType(args[0]), priority)
			if err != nil {
				return err
			}

			fmt.Printf("Updated %d item(s).\n", n)

			return nil
		},
	}
}
