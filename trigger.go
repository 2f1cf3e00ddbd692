package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running watch daemon to sync now",
		Long: `Signal the watch daemon (started with 'fieldsync sync --watch') to run an
immediate sync cycle instead of waiting for the next timer tick.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := sendSIGHUP(daemonPIDPath()); err != nil {
				return err
			}

			fmt.Println("Sync triggered.")

			return nil
		},
	}
}
