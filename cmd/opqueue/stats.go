package main

import (
	"fmt"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue depth, cache size, and operation counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, store, err := openStoreAndEngine(cmd, noopTransport{}, engine.Config{})
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := e.Statistics()
		if err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
		return printJSON(stats)
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List conflicts parked for manual review, or resolve one",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolveID, _ := cmd.Flags().GetString("resolve")
		resolution, _ := cmd.Flags().GetString("resolution")

		e, store, err := openStoreAndEngine(cmd, noopTransport{}, engine.Config{})
		if err != nil {
			return err
		}
		defer store.Close()

		if resolveID != "" {
			if resolution == "" {
				return fmt.Errorf("--resolution is required with --resolve")
			}
			if err := e.ResolveConflict(resolveID, types.ConflictResolution(resolution)); err != nil {
				return fmt.Errorf("resolve conflict: %w", err)
			}
			fmt.Printf("conflict %s resolved (%s)\n", resolveID, resolution)
			return nil
		}

		conflicts, err := e.ListConflicts()
		if err != nil {
			return fmt.Errorf("list conflicts: %w", err)
		}
		return printJSON(conflicts)
	},
}

func init() {
	conflictsCmd.Flags().String("resolve", "", "Conflict id to resolve")
	conflictsCmd.Flags().String("resolution", "", "Resolution: keep-local, keep-server, merge")
}
