package undo

import (
	"context"
	"fmt"

	"zcu/internal/errdefs"
	"zcu/internal/eventhub"
	"zcu/internal/operation"
	"zcu/internal/shadow"
)

func cursorOf(c *operation.Chain) int {
	if c == nil {
		return -1
	}
	return c.CurrentIndex
}

func stateOf(c *operation.Chain) State {
	switch {
	case c == nil || c.Len() == 0:
		return StateEmpty
	case c.CurrentIndex >= c.Len()-1:
		return StateAtHead
	case c.CurrentIndex < 0:
		return StateAtFloor
	default:
		return StateMiddle
	}
}

// Undo rolls back up to steps operations from the cursor. Non-reversible
// operations are stepped over without being counted. The first failure
// stops the walk; the cursor stays on the operation that failed.
func (e *Engine) Undo(ctx context.Context, steps int) Result {
	if err := e.ensureInit(ctx); err != nil {
		return Result{CurrentIndex: -1, Err: err}
	}
	if steps <= 0 {
		steps = 1
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	chain := e.tracker.GetOperationChain(e.workspaceID())
	if chain == nil || chain.CurrentIndex < 0 {
		return Result{
			CurrentIndex: cursorOf(chain),
			Err:          errdefs.New(e.messages, errdefs.KindNothingToUndo, nil),
		}
	}

	res := Result{CurrentIndex: chain.CurrentIndex}
	for i := 0; i < steps && res.CurrentIndex >= 0; i++ {
		op := chain.At(res.CurrentIndex)
		if op.Reversible {
			rb, err := e.undoOne(ctx, op)
			if err != nil {
				historySteps.WithLabelValues("undo", "failed").Inc()
				res.Err = err
				break
			}
			res.RollbackCount++
			res.OperationID = rb.OperationID
			res.SnapshotID = op.SnapshotID
			historySteps.WithLabelValues("undo", "applied").Inc()
		} else {
			res.Skipped++
			historySteps.WithLabelValues("undo", "skipped").Inc()
		}

		if err := e.tracker.MoveCursor(ctx, e.workspaceID(), res.CurrentIndex-1); err != nil {
			res.Err = errdefs.Wrap(e.messages, errdefs.KindInternal, err)
			break
		}
		res.CurrentIndex--
	}

	res.Success = res.Err == nil
	e.historyChanged(ctx, "undo", res)
	return res
}

// undoOne captures the current tree as the redo point of op, then restores
// the snapshot taken when op was recorded.
func (e *Engine) undoOne(ctx context.Context, op *operation.Operation) (operation.Result, error) {
	timer := newTimer("redo_capture")
	redo, err := e.snapshots.CreateSnapshot(ctx, op.ID)
	if err != nil {
		return operation.Result{}, err
	}
	timer.observe()
	if err := e.tracker.SetRedoSnapshot(ctx, op.ID, redo.ID); err != nil {
		return operation.Result{}, errdefs.Wrap(e.messages, errdefs.KindInternal, fmt.Errorf("save redo snapshot: %w", err))
	}

	timer = newTimer("restore")
	rb := e.tracker.RollbackOperation(ctx, op.ID)
	if !rb.Success {
		return rb, rb.Err
	}
	timer.observe()

	e.logger.Debug("operation undone", "operation", op.ID, "redo_snapshot", redo.ID)
	return rb, nil
}

// Redo re-applies up to steps undone operations after the cursor. It
// restores the pre-undo capture that Undo stored under
// operation:<id>:redo and falls back to op.SnapshotID when there is none,
// in which case the operation's own change is not reproduced.
// No backup is taken.
func (e *Engine) Redo(ctx context.Context, steps int) Result {
	if err := e.ensureInit(ctx); err != nil {
		return Result{CurrentIndex: -1, Err: err}
	}
	if steps <= 0 {
		steps = 1
	}
	unlock := e.workspaces.Lock(e.workspaceID())
	defer unlock()

	chain := e.tracker.GetOperationChain(e.workspaceID())
	if chain == nil || chain.CurrentIndex >= chain.Len()-1 {
		return Result{
			CurrentIndex: cursorOf(chain),
			Err:          errdefs.New(e.messages, errdefs.KindNothingToRedo, nil),
		}
	}

	res := Result{CurrentIndex: chain.CurrentIndex}
	for i := 0; i < steps && res.CurrentIndex < chain.Len()-1; i++ {
		op := chain.At(res.CurrentIndex + 1)
		if op.Reversible {
			snapshotID, err := e.redoOne(ctx, op)
			if err != nil {
				historySteps.WithLabelValues("redo", "failed").Inc()
				res.Err = err
				break
			}
			res.RollbackCount++
			res.OperationID = op.ID
			res.SnapshotID = snapshotID
			historySteps.WithLabelValues("redo", "applied").Inc()
		} else {
			res.Skipped++
			historySteps.WithLabelValues("redo", "skipped").Inc()
		}

		if err := e.tracker.MoveCursor(ctx, e.workspaceID(), res.CurrentIndex+1); err != nil {
			res.Err = errdefs.Wrap(e.messages, errdefs.KindInternal, err)
			break
		}
		res.CurrentIndex++
	}

	res.Success = res.Err == nil
	e.historyChanged(ctx, "redo", res)
	return res
}

func (e *Engine) redoOne(ctx context.Context, op *operation.Operation) (string, error) {
	snapshotID, err := e.tracker.RedoSnapshot(ctx, op.ID)
	if err != nil {
		return "", errdefs.Wrap(e.messages, errdefs.KindInternal, fmt.Errorf("load redo snapshot: %w", err))
	}
	if snapshotID == "" {
		snapshotID = op.SnapshotID
	}
	if snapshotID == "" {
		return "", errdefs.New(e.messages, errdefs.KindNotRollbackable, nil, "operation", op.ID)
	}

	timer := newTimer("restore")
	_, err = e.snapshots.RestoreSnapshot(ctx, snapshotID, shadow.RestoreOptions{
		PreserveTimestamps: true,
	})
	if err != nil {
		return "", errdefs.Wrap(e.messages, errdefs.KindInternal, fmt.Errorf("redo operation %s: %w", op.ID, err))
	}
	timer.observe()

	e.logger.Debug("operation redone", "operation", op.ID, "snapshot", snapshotID)
	return snapshotID, nil
}

func (e *Engine) historyChanged(ctx context.Context, action string, res Result) {
	steps := res.RollbackCount + res.Skipped
	if steps == 0 {
		return
	}
	chain := e.tracker.GetOperationChain(e.workspaceID())
	e.hub.EmitHistoryChanged(eventhub.HistoryChangedEvent{
		WorkspaceID:  e.workspaceID(),
		Action:       action,
		Steps:        steps,
		CurrentIndex: res.CurrentIndex,
		CanUndo:      chain != nil && chain.CurrentIndex >= 0,
		CanRedo:      chain != nil && chain.CurrentIndex < chain.Len()-1,
	})
	if err := e.workspaces.Touch(ctx, e.workspaceID()); err != nil {
		e.logger.Warn("failed to update workspace activity", "error", err)
	}
}
