package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"zcu/internal/config"
	"zcu/internal/eventhub"
	"zcu/internal/undo"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	project string
	agent   string
	verbose bool
	events  bool
}

// newRootCmd creates the root zcu command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "zcu",
		Short:         "Track, checkpoint and undo file changes made by coding agents",
		Long:          "zcu records the changes an agent makes to a project, snapshots the tree\nbefore each one and lets you undo, redo or roll back files and whole projects.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.project, "project", "p", "", "project directory (default: current directory)")
	flags.StringVar(&opts.agent, "agent", "", "agent id (default: from config or ZCU_AGENT)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&opts.events, "events", false, "print engine events as JSON lines on stderr")

	cmd.AddCommand(
		newRecordCmd(opts),
		newUndoCmd(opts),
		newRedoCmd(opts),
		newCheckpointCmd(opts),
		newListCmd(opts),
		newRestoreCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newCleanupCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// newLogger writes text logs to a terminal and JSON otherwise.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

// session is an initialized engine for one command run.
type session struct {
	cfg    *config.Config
	engine *undo.Engine
}

func (s *session) Close() error {
	return s.engine.Close()
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *globalOptions) (*session, error) {
	cfg, err := config.Load(opts.project)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.agent != "" {
		cfg.Settings.AgentID = opts.agent
	}

	engineOpts := []undo.Option{undo.WithLogger(newLogger(cmd.ErrOrStderr(), opts.verbose))}
	if opts.events {
		hub := eventhub.New()
		hub.AddBroadcaster(eventhub.NewWriterBroadcaster(cmd.ErrOrStderr()))
		engineOpts = append(engineOpts, undo.WithEventHub(hub))
	}

	engine := undo.New(cfg, engineOpts...)
	if err := engine.Initialize(ctx); err != nil {
		return nil, err
	}
	return &session{cfg: cfg, engine: engine}, nil
}
