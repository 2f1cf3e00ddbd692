package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relieftools/fieldsync/internal/queue"
)

// conflictIDPrefixLen is the number of characters to show for the conflict ID
// in table output. 8 chars is sufficient for uniqueness in typical use.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recorded sync conflicts",
		Long: `Display operations that the server rejected as conflicts. A conflicting
operation is removed from the queue when detected; the entries here are the
record of that hand-off, including the server's data snapshot when one was
provided. After reviewing (and re-entering data where needed), clear the
ledger with 'fieldsync conflicts clear'.`,
		RunE: runConflicts,
	}

	cmd.AddCommand(newConflictsClearCmd())

	return cmd
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	mgr, err := openQueue(buildLogger())
	if err != nil {
		return err
	}
	defer mgr.Close()

	conflicts, err := mgr.ListConflicts(cmd.Context())
	if err != nil {
		return err
	}

	if len(conflicts) == 0 {
		fmt.Println("No recorded conflicts.")
		return nil
	}

	if flagJSON {
		return printJSON(conflicts)
	}

	printConflictsTable(conflicts)

	return nil
}

func printConflictsTable(conflicts []queue.ConflictRecord) {
	headers := []string{"ID", "TYPE", "ACTION", "ENTITY", "DETECTED", "MESSAGE"}
	rows := make([][]string, len(conflicts))

	for i := range conflicts {
		c := &conflicts[i]

		idPrefix := c.ID
		if len(idPrefix) > conflictIDPrefixLen {
			idPrefix = idPrefix[:conflictIDPrefixLen]
		}

		rows[i] = []string{
			idPrefix,
			string(c.Type),
			string(c.Action),
			c.EntityUUID,
			c.DetectedAt.UTC().Format(time.RFC3339),
			truncate(c.Message, 50),
		}
	}

	printTable(os.Stdout, headers, rows)
}

func newConflictsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the conflict ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openQueue(buildLogger())
			if err != nil {
				return err
			}
			defer mgr.Close()

			n, err := mgr.ClearConflicts(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Cleared %d conflict record(s).\n", n)

			return nil
		},
	}
}
