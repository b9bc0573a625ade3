package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zcu/internal/operation"
	"zcu/internal/undo"
)

// newRecordCmd creates the "zcu record" subcommand.
func newRecordCmd(opts *globalOptions) *cobra.Command {
	var (
		description   string
		nonReversible bool
		parent        string
	)
	cmd := &cobra.Command{
		Use:   "record <type> [files...]",
		Short: "Record an operation before making it",
		Long:  "Snapshots the project and records an operation of the given type\n(file_change, directory_change, metadata_change, batch_operation).\nRun it before changing the listed files so undo can restore them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := operation.Type(args[0])
			if !typ.Valid() {
				return fmt.Errorf("record: unknown operation type %q", args[0])
			}

			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("record: %w", err)
			}
			defer s.Close()

			res := s.engine.RecordOperation(cmd.Context(), typ, args[1:], undo.RecordOptions{
				Description:       description,
				NonReversible:     nonReversible,
				ParentOperationID: parent,
			})
			if !res.Success {
				return fmt.Errorf("record: %w", res.Err)
			}

			out := cmd.OutOrStdout()
			if res.SnapshotID != "" {
				fmt.Fprintf(out, "Recorded operation %s (snapshot %s)\n", res.OperationID, res.SnapshotID)
			} else {
				fmt.Fprintf(out, "Recorded operation %s (not reversible)\n", res.OperationID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "operation description")
	cmd.Flags().BoolVar(&nonReversible, "non-reversible", false, "record without a snapshot")
	cmd.Flags().StringVar(&parent, "parent", "", "parent operation id")
	return cmd
}
