// Package operation records operations, keeps the per-workspace undo chain
// and prepares the data needed to roll operations back.
package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"zcu/internal/errdefs"
	"zcu/internal/ids"
	"zcu/internal/metastore"
	"zcu/internal/shadow"
)

// Snapshotter creates and restores snapshots of the project tree.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, operationID string) (*shadow.SnapshotMetadata, error)
	RestoreSnapshot(ctx context.Context, snapshotID string, opts shadow.RestoreOptions) (*shadow.RestoreResult, error)
}

// Config configures a Tracker.
type Config struct {
	MaxChainLength int
	Messages       errdefs.MessageFunc
	Logger         *slog.Logger
}

// Tracker is the system of record for operations. Callers serialize
// mutating calls per workspace; the Tracker only guards its own maps.
type Tracker struct {
	store     metastore.Store
	snapshots Snapshotter
	cfg       Config
	logger    *slog.Logger

	mu     sync.RWMutex
	chains map[string]*Chain
	// arena holds every operation loaded or recorded by this process
	arena map[string]*Operation
}

// NewTracker creates a Tracker.
func NewTracker(store metastore.Store, snapshots Snapshotter, cfg Config) *Tracker {
	if cfg.MaxChainLength <= 0 {
		cfg.MaxChainLength = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		store:     store,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger.With("component", "tracker"),
		chains:    make(map[string]*Chain),
		arena:     make(map[string]*Operation),
	}
}

// RecordOperation records an operation and appends it to the chain of its
// workspace. Failures are reported in the Result.
func (t *Tracker) RecordOperation(ctx context.Context, req Request) Result {
	return t.record(ctx, req, true)
}

// RecordDetached records an operation without adding it to any chain.
// Used for bookkeeping such as rollback records.
func (t *Tracker) RecordDetached(ctx context.Context, req Request) Result {
	return t.record(ctx, req, false)
}

func (t *Tracker) record(ctx context.Context, req Request, chained bool) Result {
	op := newOperation(req)

	if op.Reversible {
		snap, err := t.snapshots.CreateSnapshot(ctx, op.ID)
		if err != nil {
			return t.failure(op.ID, errdefs.Wrap(t.cfg.Messages, errdefs.KindSnapshotCreationFailed, err, "operation", op.ID))
		}
		op.SnapshotID = snap.ID
		op.RollbackData = &RollbackData{
			SnapshotID:          snap.ID,
			FileStates:          captureFileStates(op.ProjectPath, op.AffectedFiles),
			DependentOperations: []string{},
		}
	}

	// Parent first, so a failed link leaves nothing recorded.
	if op.ParentOperationID != "" {
		err := t.linkParent(ctx, op)
		switch {
		case errors.Is(err, errdefs.ErrNotFound):
			t.logger.Warn("parent operation not found",
				"operation", op.ID, "parent", op.ParentOperationID)
		case err != nil:
			return t.failure(op.ID, errdefs.Wrap(t.cfg.Messages, errdefs.KindInternal, fmt.Errorf("link parent operation: %w", err)))
		}
	}

	if err := t.persist(ctx, op, chained); err != nil {
		return t.failure(op.ID, errdefs.Wrap(t.cfg.Messages, errdefs.KindInternal, fmt.Errorf("persist operation: %w", err)))
	}

	t.logger.Debug("operation recorded",
		"operation", op.ID,
		"type", op.Type,
		"workspace", op.WorkspaceID,
		"reversible", op.Reversible,
		"chained", chained)

	return Result{
		Success:           true,
		OperationID:       op.ID,
		SnapshotID:        op.SnapshotID,
		RollbackAvailable: op.Reversible,
	}
}

func (t *Tracker) failure(id string, err error) Result {
	t.logger.Error("operation failed", "operation", id, "error", err)
	return Result{OperationID: id, Err: err}
}

func newOperation(req Request) *Operation {
	op := &Operation{
		ID:                req.ID,
		Type:              req.Type,
		Timestamp:         req.Timestamp,
		AgentID:           req.AgentID,
		WorkspaceID:       req.WorkspaceID,
		ProjectPath:       req.ProjectPath,
		AffectedFiles:     append([]string{}, req.AffectedFiles...),
		Description:       req.Description,
		Reversible:        !req.NonReversible,
		ParentOperationID: req.ParentOperationID,
		ChildOperationIDs: []string{},
		BeforeState:       req.BeforeState,
		AfterState:        req.AfterState,
	}
	if op.ID == "" {
		op.ID = ids.New()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if op.WorkspaceID == "" {
		op.WorkspaceID = op.AgentID
	}
	if op.Type == "" {
		op.Type = TypeFileChange
	}
	if op.Description == "" {
		op.Description = string(op.Type) + " operation"
	}
	return op
}

// captureFileStates stats and hashes each affected file. A file that
// cannot be read is recorded as not existing.
func captureFileStates(projectPath string, files []string) []FileState {
	states := make([]FileState, 0, len(files))
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(projectPath, f)
		}
		state := FileState{Path: abs, RelativePath: filepath.ToSlash(f)}
		if rel, err := filepath.Rel(projectPath, abs); err == nil {
			state.RelativePath = filepath.ToSlash(rel)
		}

		info, err := os.Stat(abs)
		if err != nil {
			states = append(states, state)
			continue
		}
		state.ModTime = info.ModTime()
		if info.Mode().IsRegular() {
			hash, size, err := shadow.HashFile(abs)
			if err != nil {
				states = append(states, FileState{Path: state.Path, RelativePath: state.RelativePath})
				continue
			}
			state.Hash = hash
			state.Size = size
		}
		state.Exists = true
		states = append(states, state)
	}
	return states
}

// persist writes op and, for chained operations, the updated chain in one
// batch. The in-memory chain changes only after the batch succeeds.
func (t *Tracker) persist(ctx context.Context, op *Operation, chained bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	opPut, err := metastore.PutJSONOp(metastore.OperationKey(op.ID), op)
	if err != nil {
		return err
	}
	ops := []metastore.Op{
		opPut,
		metastore.Put(metastore.LatestKey(op.WorkspaceID), []byte(op.ID)),
	}

	var updated *Chain
	var removed []*Operation
	if chained {
		current := t.chains[op.WorkspaceID]
		if current == nil {
			updated = newChain(op.WorkspaceID, t.cfg.MaxChainLength)
		} else {
			updated = current.shallowCopy()
		}
		removed = updated.push(op)

		chainOps, err := chainBatch(updated)
		if err != nil {
			return err
		}
		ops = append(ops, chainOps...)
		for _, r := range removed {
			ops = append(ops,
				metastore.Delete(metastore.OperationKey(r.ID)),
				metastore.Delete(metastore.RedoKey(r.ID)))
		}
	}

	if err := t.store.Batch(ctx, ops); err != nil {
		return err
	}

	t.arena[op.ID] = op
	for _, r := range removed {
		delete(t.arena, r.ID)
	}
	if updated != nil {
		t.chains[op.WorkspaceID] = updated
	}
	return nil
}

// linkParent appends op to its parent's child list and stores the parent.
// The shared copy is only updated once the store accepted the write.
func (t *Tracker) linkParent(ctx context.Context, op *Operation) error {
	parent, err := t.load(ctx, op.ParentOperationID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	updated := *parent
	updated.ChildOperationIDs = append(slices.Clone(parent.ChildOperationIDs), op.ID)
	if err := metastore.PutJSON(ctx, t.store, metastore.OperationKey(parent.ID), &updated); err != nil {
		return err
	}
	parent.ChildOperationIDs = updated.ChildOperationIDs
	return nil
}

// load returns the shared arena copy of an operation, reading it from the
// store on first use.
func (t *Tracker) load(ctx context.Context, id string) (*Operation, error) {
	t.mu.RLock()
	op, ok := t.arena[id]
	t.mu.RUnlock()
	if ok {
		return op, nil
	}

	var stored Operation
	err := metastore.GetJSON(ctx, t.store, metastore.OperationKey(id), &stored)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, errdefs.New(t.cfg.Messages, errdefs.KindNotFound, nil, "operation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load operation %s: %w", id, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.arena[id]; ok {
		return existing, nil
	}
	t.arena[id] = &stored
	return &stored, nil
}

// GetOperation returns a copy of the operation with the given id.
func (t *Tracker) GetOperation(ctx context.Context, id string) (*Operation, error) {
	op, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return op.Clone(), nil
}

// RollbackOperation restores the snapshot taken when the operation was
// recorded and records a non-reversible rollback entry as its child.
func (t *Tracker) RollbackOperation(ctx context.Context, id string) Result {
	op, err := t.GetOperation(ctx, id)
	if err != nil {
		return t.failure(id, err)
	}
	if !op.Reversible || op.RollbackData == nil {
		return t.failure(id, errdefs.New(t.cfg.Messages, errdefs.KindNotRollbackable, nil, "operation", id))
	}

	_, err = t.snapshots.RestoreSnapshot(ctx, op.RollbackData.SnapshotID, shadow.RestoreOptions{
		CreateBackup:       true,
		PreserveTimestamps: true,
	})
	if err != nil {
		return t.failure(id, errdefs.Wrap(t.cfg.Messages, errdefs.KindInternal, fmt.Errorf("rollback operation %s: %w", id, err)))
	}

	res := t.RecordDetached(ctx, Request{
		Type:              TypeMetadataChange,
		AgentID:           op.AgentID,
		WorkspaceID:       op.WorkspaceID,
		ProjectPath:       op.ProjectPath,
		AffectedFiles:     op.AffectedFiles,
		Description:       fmt.Sprintf("Rollback of operation %s", id),
		NonReversible:     true,
		ParentOperationID: id,
	})
	res.RollbackAvailable = false
	return res
}

// GetOperationChain returns a copy of the workspace's chain, or nil.
func (t *Tracker) GetOperationChain(workspaceID string) *Chain {
	t.mu.RLock()
	defer t.mu.RUnlock()

	chain, ok := t.chains[workspaceID]
	if !ok {
		return nil
	}
	return chain.Clone()
}

// TraverseChain walks the workspace chain from the cursor (backward) or
// from the oldest entry (forward).
func (t *Tracker) TraverseChain(workspaceID string, opts TraversalOptions) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	chain, ok := t.chains[workspaceID]
	if !ok {
		return nil
	}
	visited := chain.traverse(opts)
	out := make([]*Operation, len(visited))
	for i, op := range visited {
		out[i] = op.Clone()
	}
	return out
}

// GetOperationHistory returns up to limit operations before the cursor,
// most recent first. limit <= 0 means 50.
func (t *Tracker) GetOperationHistory(workspaceID string, limit int) []*Operation {
	if limit <= 0 {
		limit = 50
	}
	return t.TraverseChain(workspaceID, TraversalOptions{
		Direction:            Backward,
		MaxDepth:             limit,
		IncludeNonReversible: true,
	})
}
