// Package undo is the front door of the change tracker. An Engine binds one
// agent to one project and exposes record, undo, redo, rollback and
// checkpoint operations over the operation tracker and the shadow snapshots.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"zcu/internal/config"
	"zcu/internal/errdefs"
	"zcu/internal/eventhub"
	"zcu/internal/metastore"
	"zcu/internal/operation"
	"zcu/internal/shadow"
	"zcu/internal/workspace"
)

// State of the undo history, derived from the chain cursor.
type State string

const (
	StateEmpty   State = "EMPTY"
	StateAtHead  State = "AT_HEAD"
	StateAtFloor State = "AT_FLOOR"
	StateMiddle  State = "MIDDLE"
)

// Result reports an undo, redo or rollback call. RollbackCount is the
// number of operations actually undone or redone, also when the call
// stopped early with Err set.
type Result struct {
	Success       bool   `json:"success"`
	OperationID   string `json:"operationId,omitempty"`
	SnapshotID    string `json:"snapshotId,omitempty"`
	RollbackCount int    `json:"rollbackCount"`
	Skipped       int    `json:"skipped"`
	CurrentIndex  int    `json:"currentIndex"`
	Err           error  `json:"-"`
}

// RecordOptions are the optional parts of RecordOperation.
type RecordOptions struct {
	Description       string
	BeforeState       *operation.Payload
	AfterState        *operation.Payload
	NonReversible     bool
	ParentOperationID string
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore uses store instead of opening one from the configuration. The
// caller keeps ownership and closes it.
func WithStore(store metastore.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventHub publishes engine events on hub.
func WithEventHub(hub *eventhub.EventHub) Option {
	return func(e *Engine) { e.hub = hub }
}

// WithMessages sets the error message formatter.
func WithMessages(fn errdefs.MessageFunc) Option {
	return func(e *Engine) { e.messages = fn }
}

// Engine is safe for concurrent use. Mutating calls are serialized per
// workspace.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	hub      *eventhub.EventHub
	messages errdefs.MessageFunc

	store      metastore.Store
	ownsStore  bool
	snapshots  *shadow.Manager
	tracker    *operation.Tracker
	workspaces *workspace.Manager

	initGroup   singleflight.Group
	initialized atomic.Bool
	closeMu     sync.Mutex
}

// New creates an Engine for cfg. Nothing is opened until Initialize or the
// first call that needs it.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	e.logger = e.logger.With("component", "engine", "agent", cfg.Settings.AgentID)
	return e
}

func (e *Engine) workspaceID() string {
	return workspace.ID(e.cfg.Settings.AgentID, e.cfg.ProjectPath)
}

// Initialize opens the store and the shadow repository, rebuilds the
// operation chains and registers the workspace. It fails with a
// workspace conflict when another agent is active on the same project,
// unless shared projects are allowed. Concurrent callers share one run.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized.Load() {
		return nil
	}
	_, err, _ := e.initGroup.Do("init", func() (any, error) {
		if e.initialized.Load() {
			return nil, nil
		}
		if err := e.initialize(ctx); err != nil {
			return nil, err
		}
		e.initialized.Store(true)
		return nil, nil
	})
	return err
}

func (e *Engine) initialize(ctx context.Context) error {
	settings := e.cfg.Settings

	store := e.store
	opened := false
	if store == nil {
		s, err := metastore.Open(settings.StoreBackend, e.cfg.StorePath, e.logger)
		if err != nil {
			return fmt.Errorf("open metadata store: %w", err)
		}
		store, opened = s, true
	}
	fail := func(err error) error {
		if opened {
			store.Close()
		}
		return err
	}

	backupDir := ""
	if e.cfg.BackupDir != "" {
		backupDir = filepath.Join(e.cfg.BackupDir, config.ProjectKey(e.cfg.ProjectPath))
	}
	snapshots := shadow.NewManager(shadow.Options{
		ProjectPath:       e.cfg.ProjectPath,
		ShadowPath:        e.cfg.ShadowPath,
		BackupDir:         backupDir,
		ExcludePatterns:   settings.ExcludePatterns,
		EnableCompression: settings.EnableCompression,
		Index:             shadow.NewStoreIndex(store),
		Messages:          e.messages,
		Logger:            e.logger,
	})
	if err := snapshots.Initialize(ctx); err != nil {
		return fail(fmt.Errorf("initialize shadow repository: %w", err))
	}

	tracker := operation.NewTracker(store, snapshots, operation.Config{
		MaxChainLength: settings.MaxOperationChain,
		Messages:       e.messages,
		Logger:         e.logger,
	})
	if err := tracker.Initialize(ctx); err != nil {
		return fail(fmt.Errorf("load operation chains: %w", err))
	}

	workspaces := workspace.NewManager(store, e.messages, e.logger)
	if err := workspaces.Load(ctx); err != nil {
		return fail(err)
	}
	if _, err := workspaces.Activate(ctx, settings.AgentID, e.cfg.ProjectPath); err != nil {
		return fail(fmt.Errorf("activate workspace: %w", err))
	}
	if conflicts := workspaces.DetectConflicts(e.cfg.ProjectPath); len(conflicts) > 0 {
		if !settings.AllowSharedProject {
			if err := workspaces.Pause(ctx, e.workspaceID()); err != nil {
				e.logger.Warn("failed to pause conflicting workspace", "error", err)
			}
			return fail(errdefs.New(e.messages, errdefs.KindWorkspaceConflict, nil,
				"project", conflicts[0].ProjectPath,
				"agents", strings.Join(conflicts[0].ConflictingAgents, ",")))
		}
		e.logger.Warn("sharing project with other agents",
			"project", conflicts[0].ProjectPath,
			"agents", conflicts[0].ConflictingAgents)
	}

	e.store = store
	e.ownsStore = opened
	e.snapshots = snapshots
	e.tracker = tracker
	e.workspaces = workspaces

	e.logger.Info("engine initialized", "project", e.cfg.ProjectPath)
	return nil
}

func (e *Engine) ensureInit(ctx context.Context) error {
	if e.initialized.Load() {
		return nil
	}
	return e.Initialize(ctx)
}

// Close pauses the workspace and releases the store when the engine
// opened it. The engine can be initialized again afterwards.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	if !e.initialized.Load() {
		return nil
	}
	e.initialized.Store(false)

	var errs []error
	if err := e.workspaces.Pause(context.Background(), e.workspaceID()); err != nil {
		errs = append(errs, fmt.Errorf("pause workspace: %w", err))
	}
	if e.ownsStore {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close metadata store: %w", err))
		}
		e.store = nil
	}
	return errors.Join(errs...)
}

// Workspace returns the engine's workspace, or nil before initialization.
func (e *Engine) Workspace() *workspace.State {
	if !e.initialized.Load() {
		return nil
	}
	return e.workspaces.Get(e.workspaceID())
}

// DetectConflicts lists agents sharing the engine's project.
func (e *Engine) DetectConflicts(ctx context.Context) ([]workspace.ConflictInfo, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}
	if err := e.workspaces.Load(ctx); err != nil {
		return nil, err
	}
	return e.workspaces.DetectConflicts(e.cfg.ProjectPath), nil
}

// RecordOperation records an operation for the engine's agent and project.
func (e *Engine) RecordOperation(ctx context.Context, typ operation.Type, files []string, opts RecordOptions) operation.Result {
	if err := e.ensureInit(ctx); err != nil {
		return operation.Result{Err: err}
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	timer := newTimer("record")
	res := e.tracker.RecordOperation(ctx, operation.Request{
		Type:              typ,
		AgentID:           e.cfg.Settings.AgentID,
		WorkspaceID:       e.workspaceID(),
		ProjectPath:       e.cfg.ProjectPath,
		AffectedFiles:     files,
		Description:       opts.Description,
		NonReversible:     opts.NonReversible,
		ParentOperationID: opts.ParentOperationID,
		BeforeState:       opts.BeforeState,
		AfterState:        opts.AfterState,
	})
	if !opts.NonReversible {
		timer.observe()
	}

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	operationsRecorded.WithLabelValues(string(typ), outcome).Inc()
	if !res.Success {
		return res
	}

	if err := e.workspaces.Touch(ctx, e.workspaceID()); err != nil {
		e.logger.Warn("failed to update workspace activity", "error", err)
	}
	e.hub.EmitOperationRecorded(eventhub.OperationRecordedEvent{
		WorkspaceID: e.workspaceID(),
		OperationID: res.OperationID,
		Type:        string(typ),
		SnapshotID:  res.SnapshotID,
		Reversible:  res.RollbackAvailable,
	})
	return res
}

// GetOperation returns a recorded operation by id.
func (e *Engine) GetOperation(ctx context.Context, id string) (*operation.Operation, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}
	return e.tracker.GetOperation(ctx, id)
}
