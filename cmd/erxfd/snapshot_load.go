package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erx-fd/erx-server/internal/state"
)

var snapshotLoadCmd = &cobra.Command{
	Use:   "snapshot-load <path>",
	Short: "Validate that a persisted state snapshot loads cleanly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.Load(args[0])
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		tasks := store.ListTasks()
		fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s loaded: %d tasks\n", args[0], len(tasks))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotLoadCmd)
}
