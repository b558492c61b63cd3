package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMemoryCmd() *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or reset conversational memory",
	}

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show how many turns are in memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries in memory\n", app.mem.Len())
			return nil
		},
	})

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the entire conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()
			app.mem.Clear()
			if err := app.hist.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear persisted history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "memory cleared")
			return nil
		},
	})

	return memoryCmd
}
