package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"zcu/internal/shadow"
)

// newCheckpointCmd creates the "zcu checkpoint" subcommand.
func newCheckpointCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "checkpoint [description]",
		Aliases: []string{"cp"},
		Short:   "Snapshot the project now",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			defer s.Close()

			description := ""
			if len(args) == 1 {
				description = args[0]
			}
			snap, err := s.engine.CreateSnapshot(cmd.Context(), description)
			if err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created snapshot %s (%d files changed)\n", snap.ID, snap.FileCount)
			return nil
		},
	}
}

// newListCmd creates the "zcu list" subcommand.
func newListCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshots, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer s.Close()

			snaps, err := s.engine.GetSnapshots(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snapshots")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SNAPSHOT\tTIME\tOPERATION\tFILES\tSIZE")
			for _, snap := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
					snap.ID, snap.Timestamp.Format("2006-01-02 15:04:05"), snap.OperationID, snap.FileCount, snap.Size)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of snapshots")
	return cmd
}

// newRestoreCmd creates the "zcu restore" subcommand.
func newRestoreCmd(opts *globalOptions) *cobra.Command {
	var (
		file       string
		fromBackup string
	)
	cmd := &cobra.Command{
		Use:   "restore [snapshot-id]",
		Short: "Restore the project or one file from a snapshot",
		Long:  "Restores the whole project, or only --file, from a snapshot. Files that\nwould be overwritten are backed up first. With --from-backup, extracts a\nbackup archive into the project instead.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if fromBackup != "" {
				if len(args) > 0 || file != "" {
					return fmt.Errorf("restore: --from-backup takes no snapshot id or --file")
				}
				s, err := openSession(cmd.Context(), cmd, opts)
				if err != nil {
					return fmt.Errorf("restore: %w", err)
				}
				defer s.Close()

				files, err := shadow.ExtractBackup(fromBackup, s.cfg.ProjectPath)
				if err != nil {
					return fmt.Errorf("restore: %w", err)
				}
				fmt.Fprintf(out, "Restored %d file(s) from %s\n", len(files), fromBackup)
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("restore: snapshot id required")
			}
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			defer s.Close()

			if file != "" {
				res := s.engine.RollbackFile(cmd.Context(), file, args[0])
				if res.Err != nil {
					return fmt.Errorf("restore: %w", res.Err)
				}
				fmt.Fprintf(out, "Restored %s from snapshot %s\n", file, args[0])
				return nil
			}

			res := s.engine.RollbackProject(cmd.Context(), args[0])
			if res.Err != nil {
				return fmt.Errorf("restore: %w", res.Err)
			}
			fmt.Fprintf(out, "Restored project from snapshot %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "restore only this file")
	cmd.Flags().StringVar(&fromBackup, "from-backup", "", "extract a backup archive into the project")
	return cmd
}

// newCleanupCmd creates the "zcu cleanup" subcommand.
func newCleanupCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop snapshots beyond max_snapshots",
		Long:  "Squashes the oldest snapshots beyond the configured max_snapshots.\nOperations that relied on dropped snapshots can no longer be undone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer s.Close()

			removed, err := s.engine.CleanupOldSnapshots(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshot(s)\n", removed)
			return nil
		},
	}
}
