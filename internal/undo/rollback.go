package undo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"zcu/internal/errdefs"
	"zcu/internal/eventhub"
	"zcu/internal/ids"
	"zcu/internal/operation"
	"zcu/internal/shadow"
)

var errOutsideProject = errors.New("path is outside the project")

// relPath returns path relative to the project root, slash separated.
// Paths that resolve to the root or above it are rejected.
func (e *Engine) relPath(path string) (string, error) {
	rel := filepath.Clean(path)
	if filepath.IsAbs(path) {
		var err error
		if rel, err = filepath.Rel(e.cfg.ProjectPath, path); err != nil {
			return "", err
		}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errOutsideProject
	}
	return rel, nil
}

// recordBookkeeping stores a non-reversible record of a rollback or
// checkpoint. It never enters the undo chain.
func (e *Engine) recordBookkeeping(ctx context.Context, req operation.Request) operation.Result {
	req.AgentID = e.cfg.Settings.AgentID
	req.WorkspaceID = e.workspaceID()
	req.ProjectPath = e.cfg.ProjectPath
	req.NonReversible = true
	res := e.tracker.RecordDetached(ctx, req)
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	operationsRecorded.WithLabelValues(string(req.Type), outcome).Inc()
	return res
}

// RollbackFile restores one file from a snapshot, taking a backup of the
// current file first. The cursor does not move.
func (e *Engine) RollbackFile(ctx context.Context, path, snapshotID string) Result {
	if err := e.ensureInit(ctx); err != nil {
		return Result{CurrentIndex: -1, Err: err}
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	res := Result{CurrentIndex: cursorOf(e.tracker.GetOperationChain(e.workspaceID()))}
	rel, err := e.relPath(path)
	if err != nil {
		res.Err = errdefs.Wrap(e.messages, errdefs.KindInternal, fmt.Errorf("resolve %s: %w", path, err))
		return res
	}

	timer := newTimer("restore")
	_, err = e.snapshots.RestoreSnapshot(ctx, snapshotID, shadow.RestoreOptions{
		IncludePatterns:    []string{rel},
		PreserveTimestamps: true,
		CreateBackup:       true,
	})
	if err != nil {
		res.Err = err
		return res
	}
	timer.observe()

	rec := e.recordBookkeeping(ctx, operation.Request{
		Type:          operation.TypeFileChange,
		AffectedFiles: []string{rel},
		Description:   fmt.Sprintf("Rollback file %s to snapshot %s", rel, snapshotID),
	})
	res.Success = rec.Success
	res.OperationID = rec.OperationID
	res.SnapshotID = snapshotID
	res.RollbackCount = 1
	res.Err = rec.Err
	return res
}

// RollbackProject restores the whole project from a snapshot, taking a
// backup of the files it overwrites. The cursor does not move.
func (e *Engine) RollbackProject(ctx context.Context, snapshotID string) Result {
	if err := e.ensureInit(ctx); err != nil {
		return Result{CurrentIndex: -1, Err: err}
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	res := Result{CurrentIndex: cursorOf(e.tracker.GetOperationChain(e.workspaceID()))}
	ok, err := e.snapshots.HasSnapshot(ctx, snapshotID)
	if err != nil {
		res.Err = errdefs.Wrap(e.messages, errdefs.KindInternal, err)
		return res
	}
	if !ok {
		res.Err = errdefs.New(e.messages, errdefs.KindNotFound, nil, "snapshot", snapshotID)
		return res
	}

	timer := newTimer("restore")
	restored, err := e.snapshots.RestoreSnapshot(ctx, snapshotID, shadow.RestoreOptions{
		PreserveTimestamps: true,
		CreateBackup:       true,
	})
	if err != nil {
		res.Err = err
		return res
	}
	timer.observe()
	e.logger.Info("project rolled back",
		"snapshot", snapshotID,
		"restored", restored.FilesRestored,
		"removed", restored.FilesRemoved,
		"backup", restored.BackupPath)

	rec := e.recordBookkeeping(ctx, operation.Request{
		Type:        operation.TypeMetadataChange,
		Description: fmt.Sprintf("Rollback project to snapshot %s", snapshotID),
	})
	res.Success = rec.Success
	res.OperationID = rec.OperationID
	res.SnapshotID = snapshotID
	res.RollbackCount = 1
	res.Err = rec.Err
	return res
}

// CreateSnapshot takes a manual checkpoint and records it under the
// operation id embedded in the snapshot.
func (e *Engine) CreateSnapshot(ctx context.Context, description string) (*shadow.SnapshotMetadata, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	opID := ids.New()
	timer := newTimer("checkpoint")
	snap, err := e.snapshots.CreateSnapshot(ctx, opID)
	if err != nil {
		return nil, err
	}
	timer.observe()

	if description == "" {
		description = fmt.Sprintf("Manual snapshot: %s", snap.ID)
	}
	rec := e.recordBookkeeping(ctx, operation.Request{
		ID:          opID,
		Type:        operation.TypeMetadataChange,
		Description: description,
	})
	if !rec.Success {
		e.logger.Warn("failed to record checkpoint", "snapshot", snap.ID, "error", rec.Err)
	}

	e.hub.EmitSnapshotCreated(eventhub.SnapshotCreatedEvent{
		WorkspaceID: e.workspaceID(),
		SnapshotID:  snap.ID,
		OperationID: opID,
		Description: description,
	})
	return snap, nil
}

// GetSnapshots returns up to limit snapshots, newest first. limit <= 0
// means 20.
func (e *Engine) GetSnapshots(ctx context.Context, limit int) ([]shadow.SnapshotMetadata, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return e.snapshots.GetSnapshotHistory(ctx, limit)
}

// CleanupOldSnapshots drops the oldest snapshots beyond the configured
// maximum and returns how many were removed. Dropped snapshots cannot be
// restored afterwards, so undo past them fails.
func (e *Engine) CleanupOldSnapshots(ctx context.Context) (int, error) {
	if err := e.ensureInit(ctx); err != nil {
		return 0, err
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	limit := e.cfg.Settings.MaxSnapshots
	stats, err := e.snapshots.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || stats.TotalSnapshots <= limit {
		return 0, nil
	}

	removed, err := e.snapshots.Prune(ctx, limit)
	if err != nil {
		return 0, errdefs.Wrap(e.messages, errdefs.KindInternal, err)
	}
	snapshotsPruned.Add(float64(removed))
	return removed, nil
}
