package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "zcu status" subcommand.
func newStatusCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show undo state, snapshot and storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer s.Close()

			ctx := cmd.Context()
			stats, err := s.engine.GetStats(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			conflicts, err := s.engine.DetectConflicts(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"agent":     s.cfg.Settings.AgentID,
					"project":   s.cfg.ProjectPath,
					"stats":     stats,
					"conflicts": conflicts,
				})
			}

			fmt.Fprintf(out, "Project:    %s\n", s.cfg.ProjectPath)
			fmt.Fprintf(out, "Agent:      %s\n", s.cfg.Settings.AgentID)
			fmt.Fprintf(out, "State:      %s\n", stats.State)
			fmt.Fprintf(out, "Operations: %d (cursor %d, %d undoable, %d redoable)\n",
				stats.TotalOperations, stats.CurrentPosition, stats.UndoableOperations, stats.RedoableOperations)
			fmt.Fprintf(out, "Snapshots:  %d (%d bytes)\n", stats.SnapshotStats.TotalSnapshots, stats.SnapshotStats.TotalSize)
			fmt.Fprintf(out, "Store keys: %d\n", stats.StorageStats.TotalKeys)
			for _, c := range conflicts {
				fmt.Fprintf(out, "Conflict:   %s (%v)\n", c.Description, c.ConflictingAgents)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
