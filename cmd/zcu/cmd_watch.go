package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zcu/internal/shadow"
	"zcu/internal/undo"
)

// newWatchCmd creates the "zcu watch" subcommand.
func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		quiet      time.Duration
		minChanges int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Checkpoint automatically while the project changes",
		Long:  "Watches the project and takes a checkpoint once the tree has been quiet\nfor --quiet after at least --min-changes changes. Runs until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			s, err := openSession(ctx, cmd, opts)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer s.Close()

			auto := s.cfg.Settings.AutoCheckpoint
			if !cmd.Flags().Changed("quiet") {
				quiet = time.Duration(auto.QuietMillis) * time.Millisecond
			}
			if !cmd.Flags().Changed("min-changes") {
				minChanges = auto.MinChanges
			}

			out := cmd.OutOrStdout()
			checkpointer, err := s.engine.NewAutoCheckpointer(undo.AutoCheckpointConfig{
				QuietPeriod: quiet,
				MinChanges:  minChanges,
				OnCheckpoint: func(snap *shadow.SnapshotMetadata) {
					fmt.Fprintf(out, "Created snapshot %s (%d files changed)\n", snap.ID, snap.FileCount)
				},
			})
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			if err := checkpointer.Start(ctx); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer checkpointer.Close()

			fmt.Fprintf(out, "Watching %s\n", s.cfg.ProjectPath)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", 2*time.Second, "idle time before a checkpoint")
	cmd.Flags().IntVar(&minChanges, "min-changes", 1, "changes needed for a checkpoint")
	return cmd
}
