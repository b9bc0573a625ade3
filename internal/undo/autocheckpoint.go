package undo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zcu/internal/shadow"
	"zcu/internal/watcher"
)

// AutoCheckpointConfig configures an AutoCheckpointer.
type AutoCheckpointConfig struct {
	// QuietPeriod is how long the tree must be idle before a checkpoint.
	QuietPeriod time.Duration
	// MinChanges is the number of change events needed for a checkpoint.
	MinChanges int
	// Debounce collapses repeated events on one file.
	Debounce time.Duration
	// OnCheckpoint, when set, is called after each checkpoint.
	OnCheckpoint func(*shadow.SnapshotMetadata)
}

// AutoCheckpointer watches the project and takes a checkpoint once the
// tree has settled after enough changes.
type AutoCheckpointer struct {
	engine  *Engine
	cfg     AutoCheckpointConfig
	watcher *watcher.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	changes int
	timer   *time.Timer
	wg      sync.WaitGroup
}

// NewAutoCheckpointer creates an AutoCheckpointer for the engine's project.
// Excluded paths do not count as changes.
func (e *Engine) NewAutoCheckpointer(cfg AutoCheckpointConfig) (*AutoCheckpointer, error) {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 2 * time.Second
	}
	if cfg.MinChanges <= 0 {
		cfg.MinChanges = 1
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	a := &AutoCheckpointer{engine: e, cfg: cfg}
	matcher := shadow.NewMatcher(e.cfg.Settings.ExcludePatterns)
	w, err := watcher.New(e.cfg.ProjectPath, watcher.Options{
		Debounce: cfg.Debounce,
		Exclude:  matcher.Match,
		Logger:   e.logger,
	}, a.onEvent)
	if err != nil {
		return nil, fmt.Errorf("watch project: %w", err)
	}
	a.watcher = w
	return a, nil
}

// Start begins watching. Checkpoints run with ctx until Close.
func (a *AutoCheckpointer) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()
	return a.watcher.Start()
}

// Close stops watching and waits for a running checkpoint to finish.
func (a *AutoCheckpointer) Close() error {
	err := a.watcher.Close()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	a.wg.Wait()
	return err
}

func (a *AutoCheckpointer) onEvent(ev watcher.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx == nil || a.ctx.Err() != nil {
		return
	}
	a.changes++
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.cfg.QuietPeriod, a.fire)
}

// shouldCheckpoint reports whether enough changes have accumulated.
func (a *AutoCheckpointer) shouldCheckpoint() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.changes < a.cfg.MinChanges || a.ctx.Err() != nil {
		return 0, false
	}
	n := a.changes
	a.changes = 0
	a.wg.Add(1)
	return n, true
}

func (a *AutoCheckpointer) fire() {
	n, ok := a.shouldCheckpoint()
	if !ok {
		return
	}
	defer a.wg.Done()

	snap, err := a.engine.CreateSnapshot(a.ctx, fmt.Sprintf("Auto checkpoint after %d changes", n))
	if err != nil {
		a.engine.logger.Warn("auto checkpoint failed", "changes", n, "error", err)
		return
	}
	a.engine.logger.Info("auto checkpoint created", "snapshot", snap.ID, "changes", n)
	if a.cfg.OnCheckpoint != nil {
		a.cfg.OnCheckpoint(snap)
	}
}
