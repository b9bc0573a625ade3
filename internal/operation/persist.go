package operation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"zcu/internal/metastore"
)

// chainState is the persisted part of a Chain besides its operation ids.
type chainState struct {
	CurrentIndex    int       `json:"currentIndex"`
	MaxLength       int       `json:"maxLength"`
	HeadOperationID string    `json:"headOperationId"`
	TotalOperations int       `json:"totalOperations"`
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
}

func chainBatch(c *Chain) ([]metastore.Op, error) {
	idsOp, err := metastore.PutJSONOp(metastore.WorkspaceOperationsKey(c.WorkspaceID), c.ids())
	if err != nil {
		return nil, err
	}
	stateOp, err := metastore.PutJSONOp(metastore.WorkspaceStateKey(c.WorkspaceID), chainState{
		CurrentIndex:    c.CurrentIndex,
		MaxLength:       c.MaxLength,
		HeadOperationID: c.HeadOperationID,
		TotalOperations: c.TotalOperations,
		CreatedAt:       c.CreatedAt,
		LastModified:    c.LastModified,
	})
	if err != nil {
		return nil, err
	}
	return []metastore.Op{idsOp, stateOp}, nil
}

// Initialize rebuilds the chain of every persisted workspace.
func (t *Tracker) Initialize(ctx context.Context) error {
	entries, err := t.store.Scan(ctx, metastore.WorkspacePrefix)
	if err != nil {
		return fmt.Errorf("scan workspaces: %w", err)
	}
	for _, e := range entries {
		_, id, field, ok := metastore.ParseKey(e.Key)
		if !ok || field != metastore.FieldOperations {
			continue
		}
		if _, err := t.LoadChain(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// LoadChain rebuilds a workspace chain from the store: the listed
// operations in timestamp order, with the persisted cursor clamped into
// range. A workspace with nothing persisted yields nil.
func (t *Tracker) LoadChain(ctx context.Context, workspaceID string) (*Chain, error) {
	var opIDs []string
	err := metastore.GetJSON(ctx, t.store, metastore.WorkspaceOperationsKey(workspaceID), &opIDs)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", workspaceID, err)
	}

	chain := newChain(workspaceID, t.cfg.MaxChainLength)
	var state chainState
	hasState := true
	if err := metastore.GetJSON(ctx, t.store, metastore.WorkspaceStateKey(workspaceID), &state); err != nil {
		if !errors.Is(err, metastore.ErrNotFound) {
			return nil, fmt.Errorf("load chain state %s: %w", workspaceID, err)
		}
		hasState = false
	}

	loaded := make([]*Operation, 0, len(opIDs))
	for _, id := range opIDs {
		var op Operation
		err := metastore.GetJSON(ctx, t.store, metastore.OperationKey(id), &op)
		if errors.Is(err, metastore.ErrNotFound) {
			t.logger.Warn("chain references missing operation", "workspace", workspaceID, "operation", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load operation %s: %w", id, err)
		}
		loaded = append(loaded, &op)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Timestamp.Before(loaded[j].Timestamp)
	})

	chain.Operations = loaded
	chain.CurrentIndex = len(loaded) - 1
	chain.TotalOperations = len(loaded)
	if len(loaded) > 0 {
		chain.HeadOperationID = loaded[len(loaded)-1].ID
	}
	if hasState {
		chain.CurrentIndex = min(max(state.CurrentIndex, -1), len(loaded)-1)
		chain.TotalOperations = max(state.TotalOperations, len(loaded))
		chain.CreatedAt = state.CreatedAt
		chain.LastModified = state.LastModified
	}

	t.mu.Lock()
	for _, op := range loaded {
		t.arena[op.ID] = op
	}
	t.chains[workspaceID] = chain
	clone := chain.Clone()
	t.mu.Unlock()

	t.logger.Debug("chain loaded",
		"workspace", workspaceID,
		"operations", len(loaded),
		"cursor", chain.CurrentIndex)
	return clone, nil
}

// MoveCursor sets and persists the cursor of a workspace chain.
func (t *Tracker) MoveCursor(ctx context.Context, workspaceID string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	chain, ok := t.chains[workspaceID]
	if !ok {
		return fmt.Errorf("no chain for workspace %s", workspaceID)
	}
	if index < -1 || index >= len(chain.Operations) {
		return fmt.Errorf("cursor %d out of range [-1, %d]", index, len(chain.Operations)-1)
	}

	updated := chain.shallowCopy()
	updated.CurrentIndex = index
	updated.LastModified = time.Now()

	ops, err := chainBatch(updated)
	if err != nil {
		return err
	}
	if err := t.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	t.chains[workspaceID] = updated
	return nil
}

// SetRedoSnapshot remembers the snapshot that re-applies an undone
// operation.
func (t *Tracker) SetRedoSnapshot(ctx context.Context, operationID, snapshotID string) error {
	return t.store.Put(ctx, metastore.RedoKey(operationID), []byte(snapshotID))
}

// RedoSnapshot returns the redo snapshot of an operation, or "".
func (t *Tracker) RedoSnapshot(ctx context.Context, operationID string) (string, error) {
	data, err := t.store.Get(ctx, metastore.RedoKey(operationID))
	if errors.Is(err, metastore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Metrics counts operations, snapshots and workspaces in the store.
func (t *Tracker) Metrics(ctx context.Context) (*StorageMetrics, error) {
	total, err := t.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	m := &StorageMetrics{TotalKeys: total}

	counts := []struct {
		prefix string
		field  string
		n      *int
	}{
		{metastore.OperationPrefix, metastore.FieldMetadata, &m.Operations},
		{metastore.SnapshotPrefix, metastore.FieldMetadata, &m.Snapshots},
		{metastore.WorkspacePrefix, metastore.FieldOperations, &m.Workspaces},
	}
	for _, c := range counts {
		entries, err := t.store.Scan(ctx, c.prefix)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, _, field, ok := metastore.ParseKey(e.Key); ok && field == c.field {
				*c.n++
			}
		}
	}
	return m, nil
}
