package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"zcu/internal/undo"
)

func printStepResult(w io.Writer, verb string, res undo.Result) {
	fmt.Fprintf(w, "%s %d operation(s)", verb, res.RollbackCount)
	if res.Skipped > 0 {
		fmt.Fprintf(w, ", skipped %d non-reversible", res.Skipped)
	}
	fmt.Fprintf(w, ", cursor at %d\n", res.CurrentIndex)
}

// newUndoCmd creates the "zcu undo" subcommand.
func newUndoCmd(opts *globalOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo the most recent operations",
		Long:  "Restores the project to the state before the last operation.\nNon-reversible operations are stepped over. Stops at the first failure.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("undo: %w", err)
			}
			defer s.Close()

			res := s.engine.Undo(cmd.Context(), steps)
			if res.RollbackCount > 0 || res.Skipped > 0 {
				printStepResult(cmd.OutOrStdout(), "Undid", res)
			}
			if res.Err != nil {
				return fmt.Errorf("undo: %w", res.Err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of operations to undo")
	return cmd
}

// newRedoCmd creates the "zcu redo" subcommand.
func newRedoCmd(opts *globalOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "redo",
		Short: "Redo undone operations",
		Long:  "Re-applies operations undone with zcu undo, oldest first.\nNo backup is taken of the state being replaced.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("redo: %w", err)
			}
			defer s.Close()

			res := s.engine.Redo(cmd.Context(), steps)
			if res.RollbackCount > 0 || res.Skipped > 0 {
				printStepResult(cmd.OutOrStdout(), "Redid", res)
			}
			if res.Err != nil {
				return fmt.Errorf("redo: %w", res.Err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of operations to redo")
	return cmd
}

// newHistoryCmd creates the "zcu history" subcommand.
func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show operations before the cursor, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer s.Close()

			ops, err := s.engine.GetOperationHistory(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(ops) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No operations")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tTYPE\tREVERSIBLE\tDESCRIPTION")
			for _, op := range ops {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
					op.ID, op.Timestamp.Format("2006-01-02 15:04:05"), op.Type, op.Reversible, op.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of operations")
	return cmd
}
