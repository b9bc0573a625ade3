package undo

import (
	"context"

	"zcu/internal/operation"
	"zcu/internal/shadow"
)

// Stats summarizes the engine's history and storage.
type Stats struct {
	TotalOperations    int                       `json:"totalOperations"`
	UndoableOperations int                       `json:"undoableOperations"`
	RedoableOperations int                       `json:"redoableOperations"`
	CurrentPosition    int                       `json:"currentPosition"`
	State              State                     `json:"state"`
	SnapshotStats      *shadow.Stats             `json:"snapshotStats"`
	StorageStats       *operation.StorageMetrics `json:"storageStats"`
}

// GetStats reports chain counters and snapshot and storage statistics.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}

	chain := e.tracker.GetOperationChain(e.workspaceID())
	stats := &Stats{
		CurrentPosition: cursorOf(chain),
		State:           stateOf(chain),
	}
	if chain != nil {
		stats.TotalOperations = chain.TotalOperations
		stats.UndoableOperations, stats.RedoableOperations = chain.Counts()
	}

	var err error
	if stats.SnapshotStats, err = e.snapshots.GetStats(ctx); err != nil {
		return nil, err
	}
	if stats.StorageStats, err = e.tracker.Metrics(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetOperationHistory returns up to limit operations before the cursor,
// most recent first. limit <= 0 means 50.
func (e *Engine) GetOperationHistory(ctx context.Context, limit int) ([]*operation.Operation, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}
	return e.tracker.GetOperationHistory(e.workspaceID(), limit), nil
}

// GetOperationChain returns a copy of the engine's chain, or nil.
func (e *Engine) GetOperationChain(ctx context.Context) (*operation.Chain, error) {
	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}
	return e.tracker.GetOperationChain(e.workspaceID()), nil
}

// State returns the history state derived from the cursor.
func (e *Engine) State(ctx context.Context) (State, error) {
	chain, err := e.GetOperationChain(ctx)
	if err != nil {
		return "", err
	}
	return stateOf(chain), nil
}

// CanUndo reports whether there is an operation at or before the cursor.
func (e *Engine) CanUndo(ctx context.Context) bool {
	chain, err := e.GetOperationChain(ctx)
	return err == nil && chain != nil && chain.CurrentIndex >= 0
}

// CanRedo reports whether there is an operation after the cursor.
func (e *Engine) CanRedo(ctx context.Context) bool {
	chain, err := e.GetOperationChain(ctx)
	return err == nil && chain != nil && chain.CurrentIndex < chain.Len()-1
}
