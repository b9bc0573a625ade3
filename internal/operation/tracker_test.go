package operation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"zcu/internal/errdefs"
	"zcu/internal/metastore"
	"zcu/internal/shadow"
)

type fakeSnapshotter struct {
	mu          sync.Mutex
	n           int
	restored    []string
	restoreOpts []shadow.RestoreOptions
	failCreate  error
	failRestore error
}

func (f *fakeSnapshotter) CreateSnapshot(ctx context.Context, operationID string) (*shadow.SnapshotMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.n++
	return &shadow.SnapshotMetadata{ID: fmt.Sprintf("snap%08d", f.n), OperationID: operationID}, nil
}

func (f *fakeSnapshotter) RestoreSnapshot(ctx context.Context, snapshotID string, opts shadow.RestoreOptions) (*shadow.RestoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRestore != nil {
		return nil, f.failRestore
	}
	f.restored = append(f.restored, snapshotID)
	f.restoreOpts = append(f.restoreOpts, opts)
	return &shadow.RestoreResult{SnapshotID: snapshotID}, nil
}

func newTestStore(t *testing.T) metastore.Store {
	t.Helper()
	store, err := metastore.OpenBadger(metastore.InMemoryBadgerConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestTracker(t *testing.T, maxLength int) (*Tracker, *fakeSnapshotter, metastore.Store) {
	t.Helper()
	store := newTestStore(t)
	snaps := &fakeSnapshotter{}
	return NewTracker(store, snaps, Config{MaxChainLength: maxLength}), snaps, store
}

func record(t *testing.T, tr *Tracker, agent string, files ...string) Result {
	t.Helper()
	res := tr.RecordOperation(context.Background(), Request{
		Type:          TypeFileChange,
		AgentID:       agent,
		ProjectPath:   "/project",
		AffectedFiles: files,
	})
	if !res.Success {
		t.Fatalf("RecordOperation failed: %v", res.Err)
	}
	return res
}

func TestTracker_RecordThreeOperations(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)

	record(t, tr, "agent-1", "a.txt")
	record(t, tr, "agent-1", "b.txt")
	record(t, tr, "agent-1", "c.txt")

	chain := tr.GetOperationChain("agent-1")
	if chain == nil {
		t.Fatal("Expected a chain")
	}
	if chain.TotalOperations != 3 {
		t.Errorf("Expected 3 total operations, got %d", chain.TotalOperations)
	}
	if chain.CurrentIndex != 2 {
		t.Errorf("Expected cursor 2, got %d", chain.CurrentIndex)
	}
	if chain.HeadOperationID != chain.Operations[2].ID {
		t.Errorf("Head should be the last operation")
	}

	if tr.GetOperationChain("agent-2") != nil {
		t.Error("Unknown workspace should have no chain")
	}
}

func TestTracker_RecordDefaultsAndFileStates(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)
	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	res := tr.RecordOperation(context.Background(), Request{
		Type:          TypeFileChange,
		AgentID:       "agent-1",
		ProjectPath:   project,
		AffectedFiles: []string{"a.txt", "missing.txt"},
		BeforeState:   &Payload{Kind: "text", Data: []byte("before")},
	})
	if !res.Success || !res.RollbackAvailable || res.SnapshotID == "" {
		t.Fatalf("Unexpected result %+v", res)
	}

	op, err := tr.GetOperation(context.Background(), res.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if op.Description != "file_change operation" {
		t.Errorf("Unexpected default description %q", op.Description)
	}
	if op.RollbackData == nil || op.RollbackData.SnapshotID != res.SnapshotID {
		t.Fatalf("Expected rollback data for snapshot %s", res.SnapshotID)
	}
	if op.BeforeState == nil || string(op.BeforeState.Data) != "before" {
		t.Error("Payload should be stored unchanged")
	}

	states := op.RollbackData.FileStates
	if len(states) != 2 {
		t.Fatalf("Expected 2 file states, got %d", len(states))
	}
	if !states[0].Exists || states[0].Size != 5 || states[0].Hash == "" || states[0].RelativePath != "a.txt" {
		t.Errorf("Unexpected state for a.txt: %+v", states[0])
	}
	if states[1].Exists || states[1].Hash != "" || states[1].Size != 0 {
		t.Errorf("Missing file should be recorded as not existing: %+v", states[1])
	}
}

func TestTracker_NonReversibleHasNoSnapshot(t *testing.T) {
	tr, snaps, _ := newTestTracker(t, 100)

	res := tr.RecordOperation(context.Background(), Request{
		Type:          TypeMetadataChange,
		AgentID:       "agent-1",
		NonReversible: true,
	})
	if !res.Success {
		t.Fatal(res.Err)
	}
	if res.SnapshotID != "" || res.RollbackAvailable {
		t.Errorf("Unexpected result %+v", res)
	}
	if snaps.n != 0 {
		t.Error("No snapshot should be taken for a non-reversible operation")
	}

	op, err := tr.GetOperation(context.Background(), res.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if op.SnapshotID != "" || op.RollbackData != nil {
		t.Errorf("Non-reversible operation carries rollback data: %+v", op)
	}
}

func TestTracker_SnapshotFailure(t *testing.T) {
	tr, snaps, _ := newTestTracker(t, 100)
	snaps.failCreate = errors.New("disk full")

	res := tr.RecordOperation(context.Background(), Request{AgentID: "agent-1"})
	if res.Success || res.RollbackAvailable {
		t.Fatalf("Expected failure, got %+v", res)
	}
	if errdefs.KindOf(res.Err) != errdefs.KindSnapshotCreationFailed {
		t.Errorf("Expected snapshot creation failure, got %v", res.Err)
	}
	if tr.GetOperationChain("agent-1") != nil {
		t.Error("Failed operation must not reach the chain")
	}
}

func TestTracker_ChainEviction(t *testing.T) {
	tr, _, _ := newTestTracker(t, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, record(t, tr, "agent-1").OperationID)
	}

	chain := tr.GetOperationChain("agent-1")
	if chain.Len() != 3 {
		t.Fatalf("Expected 3 operations, got %d", chain.Len())
	}
	if chain.CurrentIndex != 2 {
		t.Errorf("Expected cursor 2, got %d", chain.CurrentIndex)
	}
	if chain.TotalOperations != 5 {
		t.Errorf("Expected total 5, got %d", chain.TotalOperations)
	}
	for i, op := range chain.Operations {
		if op.ID != ids[i+2] {
			t.Errorf("chain[%d]: expected %s, got %s", i, ids[i+2], op.ID)
		}
	}
	if chain.Current().ID != ids[4] {
		t.Error("Cursor should reference the newest operation")
	}

	if _, err := tr.GetOperation(ctx, ids[0]); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Evicted operation should be deleted, got %v", err)
	}
}

func TestTracker_RecordDiscardsRedoTail(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)
	ctx := context.Background()

	a := record(t, tr, "agent-1").OperationID
	b := record(t, tr, "agent-1").OperationID
	record(t, tr, "agent-1")

	if err := tr.MoveCursor(ctx, "agent-1", 0); err != nil {
		t.Fatal(err)
	}
	d := record(t, tr, "agent-1").OperationID

	chain := tr.GetOperationChain("agent-1")
	if chain.Len() != 2 || chain.Operations[0].ID != a || chain.Operations[1].ID != d {
		t.Fatalf("Unexpected chain %v", chain.ids())
	}
	if chain.CurrentIndex != 1 {
		t.Errorf("Expected cursor 1, got %d", chain.CurrentIndex)
	}
	if _, err := tr.GetOperation(ctx, b); !errors.Is(err, errdefs.ErrNotFound) {
		t.Error("Discarded redo entries should be deleted")
	}
}

func TestTracker_MoveCursorBounds(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)
	ctx := context.Background()

	if err := tr.MoveCursor(ctx, "agent-1", 0); err == nil {
		t.Error("Expected error without a chain")
	}
	record(t, tr, "agent-1")
	if err := tr.MoveCursor(ctx, "agent-1", 1); err == nil {
		t.Error("Expected error past the head")
	}
	if err := tr.MoveCursor(ctx, "agent-1", -2); err == nil {
		t.Error("Expected error below -1")
	}
	if err := tr.MoveCursor(ctx, "agent-1", -1); err != nil {
		t.Errorf("Moving to -1 should succeed: %v", err)
	}
}

func TestTracker_RollbackNotFound(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)

	res := tr.RollbackOperation(context.Background(), "nonexistent")
	if res.Success {
		t.Fatal("Expected failure")
	}
	if !strings.Contains(res.Err.Error(), "not found") {
		t.Errorf("Expected 'not found' in %q", res.Err.Error())
	}
}

func TestTracker_RollbackNonReversible(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)

	res := tr.RecordOperation(context.Background(), Request{AgentID: "agent-1", NonReversible: true})
	rb := tr.RollbackOperation(context.Background(), res.OperationID)
	if rb.Success || !errors.Is(rb.Err, errdefs.ErrNotRollbackable) {
		t.Fatalf("Expected NotRollbackable, got %+v", rb)
	}
}

func TestTracker_RollbackOperation(t *testing.T) {
	tr, snaps, _ := newTestTracker(t, 100)
	ctx := context.Background()

	orig := record(t, tr, "agent-1", "a.txt")
	rb := tr.RollbackOperation(ctx, orig.OperationID)
	if !rb.Success {
		t.Fatalf("Rollback failed: %v", rb.Err)
	}
	if rb.RollbackAvailable || rb.SnapshotID != "" {
		t.Errorf("Rollback record must not be reversible: %+v", rb)
	}

	if len(snaps.restored) != 1 || snaps.restored[0] != orig.SnapshotID {
		t.Errorf("Expected restore of %s, got %v", orig.SnapshotID, snaps.restored)
	}
	if !snaps.restoreOpts[0].CreateBackup || !snaps.restoreOpts[0].PreserveTimestamps {
		t.Errorf("Rollback should back up and preserve timestamps: %+v", snaps.restoreOpts[0])
	}

	entry, err := tr.GetOperation(ctx, rb.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Type != TypeMetadataChange || entry.Reversible || entry.ParentOperationID != orig.OperationID {
		t.Errorf("Unexpected rollback record %+v", entry)
	}

	parent, err := tr.GetOperation(ctx, orig.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(parent.ChildOperationIDs) != 1 || parent.ChildOperationIDs[0] != rb.OperationID {
		t.Errorf("Parent should list the rollback record, got %v", parent.ChildOperationIDs)
	}

	// Rollback records stay out of the chain
	chain := tr.GetOperationChain("agent-1")
	if chain.Len() != 1 || chain.CurrentIndex != 0 {
		t.Errorf("Chain changed by rollback: len=%d cursor=%d", chain.Len(), chain.CurrentIndex)
	}

	// and cannot be rolled back themselves
	again := tr.RollbackOperation(ctx, rb.OperationID)
	if !errors.Is(again.Err, errdefs.ErrNotRollbackable) {
		t.Errorf("Expected NotRollbackable for rollback of rollback, got %v", again.Err)
	}
}

func TestTracker_RollbackRestoreFailure(t *testing.T) {
	tr, snaps, _ := newTestTracker(t, 100)
	orig := record(t, tr, "agent-1")
	snaps.failRestore = errors.New("checkout failed")

	rb := tr.RollbackOperation(context.Background(), orig.OperationID)
	if rb.Success || rb.Err == nil {
		t.Fatalf("Expected failure, got %+v", rb)
	}
}

func TestTracker_TraverseChain(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)
	ctx := context.Background()

	a := record(t, tr, "agent-1").OperationID
	b := tr.RecordOperation(ctx, Request{AgentID: "agent-1", Type: TypeMetadataChange, NonReversible: true}).OperationID
	c := tr.RecordOperation(ctx, Request{AgentID: "agent-1", Type: TypeDirectoryChange}).OperationID
	d := record(t, tr, "agent-1").OperationID

	opIDs := func(ops []*Operation) []string {
		var out []string
		for _, op := range ops {
			out = append(out, op.ID)
		}
		return out
	}

	tests := []struct {
		name string
		opts TraversalOptions
		want []string
	}{
		{"backward all", TraversalOptions{Direction: Backward, IncludeNonReversible: true}, []string{d, c, b, a}},
		{"forward all", TraversalOptions{Direction: Forward, IncludeNonReversible: true}, []string{a, b, c, d}},
		{"reversible only", TraversalOptions{Direction: Backward}, []string{d, c, a}},
		{"filtered entries use depth", TraversalOptions{Direction: Forward, MaxDepth: 2}, []string{a}},
		{"type filter", TraversalOptions{Direction: Forward, FilterTypes: []Type{TypeDirectoryChange}}, []string{c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := opIDs(tr.TraverseChain("agent-1", tt.opts))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if err := tr.MoveCursor(ctx, "agent-1", 1); err != nil {
		t.Fatal(err)
	}
	history := opIDs(tr.GetOperationHistory("agent-1", 0))
	if strings.Join(history, ",") != strings.Join([]string{b, a}, ",") {
		t.Errorf("History should start at the cursor, got %v", history)
	}
	if got := tr.GetOperationHistory("agent-1", 1); len(got) != 1 {
		t.Errorf("Expected limit 1, got %d", len(got))
	}
	if tr.TraverseChain("nobody", TraversalOptions{}) != nil {
		t.Error("Unknown workspace should traverse to nil")
	}
}

func TestTracker_FindDependentOperations(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)
	ctx := context.Background()

	a := record(t, tr, "agent-1").OperationID
	b := tr.RecordOperation(ctx, Request{AgentID: "agent-1", ParentOperationID: a}).OperationID
	c := tr.RecordOperation(ctx, Request{AgentID: "agent-1", ParentOperationID: b}).OperationID
	d := tr.RecordOperation(ctx, Request{AgentID: "agent-1", ParentOperationID: a}).OperationID

	// Link c back to a to form a cycle
	opC, err := tr.load(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	opC.ChildOperationIDs = append(opC.ChildOperationIDs, a)

	deps, err := tr.FindDependentOperations(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, op := range deps {
		got = append(got, op.ID)
	}
	want := []string{b, d, c}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := tr.FindDependentOperations(ctx, "missing"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

type failingPutStore struct {
	metastore.Store
	key string
	err error
}

func (s *failingPutStore) Put(ctx context.Context, key string, value []byte) error {
	if key == s.key {
		return s.err
	}
	return s.Store.Put(ctx, key, value)
}

func TestTracker_ParentLinkStoreFailure(t *testing.T) {
	store := newTestStore(t)
	tr := NewTracker(store, &fakeSnapshotter{}, Config{})
	ctx := context.Background()
	parent := record(t, tr, "agent-1").OperationID

	errDisk := errors.New("disk full")
	tr.store = &failingPutStore{Store: store, key: metastore.OperationKey(parent), err: errDisk}

	res := tr.RecordOperation(ctx, Request{AgentID: "agent-1", ParentOperationID: parent})
	if res.Success || !errors.Is(res.Err, errDisk) {
		t.Fatalf("Expected the store error, got %+v", res)
	}
	if chain := tr.GetOperationChain("agent-1"); chain.Len() != 1 {
		t.Errorf("Failed operation must not reach the chain, got %v", chain.ids())
	}
	if _, err := tr.GetOperation(ctx, res.OperationID); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Failed operation must not be stored, got %v", err)
	}
	op, err := tr.GetOperation(ctx, parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(op.ChildOperationIDs) != 0 {
		t.Errorf("Parent should be unchanged, got children %v", op.ChildOperationIDs)
	}
}

func TestTracker_MissingParentStillRecords(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)

	res := tr.RecordOperation(context.Background(), Request{AgentID: "agent-1", ParentOperationID: "gone"})
	if !res.Success {
		t.Fatalf("Expected success with a missing parent, got %v", res.Err)
	}
	if chain := tr.GetOperationChain("agent-1"); chain.Len() != 1 {
		t.Errorf("Expected the operation in the chain")
	}
}

func TestTracker_ChainReconstruction(t *testing.T) {
	tr, snaps, store := newTestTracker(t, 100)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, record(t, tr, "agent-1").OperationID)
	}
	record(t, tr, "agent-2")
	if err := tr.MoveCursor(ctx, "agent-1", 1); err != nil {
		t.Fatal(err)
	}
	tr.RecordDetached(ctx, Request{AgentID: "agent-1", NonReversible: true})

	restarted := NewTracker(store, snaps, Config{MaxChainLength: 100})
	if err := restarted.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	chain := restarted.GetOperationChain("agent-1")
	if chain == nil {
		t.Fatal("Expected reconstructed chain")
	}
	if chain.Len() != 3 {
		t.Fatalf("Expected 3 operations, got %d", chain.Len())
	}
	for i, op := range chain.Operations {
		if op.ID != ids[i] {
			t.Errorf("chain[%d]: expected %s, got %s", i, ids[i], op.ID)
		}
	}
	if chain.CurrentIndex != 1 || chain.TotalOperations != 3 {
		t.Errorf("Expected cursor 1 and total 3, got %d and %d", chain.CurrentIndex, chain.TotalOperations)
	}
	if restarted.GetOperationChain("agent-2") == nil {
		t.Error("Expected agent-2 chain")
	}
}

func TestTracker_LoadChainClampsCursor(t *testing.T) {
	tr, snaps, store := newTestTracker(t, 100)
	ctx := context.Background()

	record(t, tr, "agent-1")
	record(t, tr, "agent-1")

	if err := metastore.PutJSON(ctx, store, metastore.WorkspaceStateKey("agent-1"), chainState{CurrentIndex: 10, TotalOperations: 2}); err != nil {
		t.Fatal(err)
	}

	restarted := NewTracker(store, snaps, Config{})
	chain, err := restarted.LoadChain(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if chain.CurrentIndex != 1 {
		t.Errorf("Expected cursor clamped to 1, got %d", chain.CurrentIndex)
	}

	missing, err := restarted.LoadChain(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("Expected nil chain for unknown workspace, got %v, %v", missing, err)
	}
}

func TestTracker_RedoSnapshotAndMetrics(t *testing.T) {
	tr, _, _ := newTestTracker(t, 100)
	ctx := context.Background()

	op := record(t, tr, "agent-1").OperationID
	record(t, tr, "agent-2")

	if id, err := tr.RedoSnapshot(ctx, op); err != nil || id != "" {
		t.Errorf("Expected no redo snapshot, got %q, %v", id, err)
	}
	if err := tr.SetRedoSnapshot(ctx, op, "redo1"); err != nil {
		t.Fatal(err)
	}
	if id, _ := tr.RedoSnapshot(ctx, op); id != "redo1" {
		t.Errorf("Expected redo1, got %q", id)
	}

	m, err := tr.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.Operations != 2 || m.Workspaces != 2 {
		t.Errorf("Unexpected metrics %+v", m)
	}
	if m.TotalKeys < m.Operations+m.Workspaces {
		t.Errorf("Total keys %d too small", m.TotalKeys)
	}
}

func TestTracker_WithShadowRepository(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "project")
	if err := os.MkdirAll(project, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(project, "a.txt")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	snaps := shadow.NewManager(shadow.Options{
		ProjectPath:     project,
		ShadowPath:      filepath.Join(root, "shadow"),
		ExcludePatterns: []string{".git"},
	})
	ctx := context.Background()
	if err := snaps.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(newTestStore(t), snaps, Config{})

	res := tr.RecordOperation(ctx, Request{AgentID: "agent-1", ProjectPath: project, AffectedFiles: []string{"a.txt"}})
	if !res.Success {
		t.Fatal(res.Err)
	}
	if err := os.WriteFile(path, []byte("edited by agent"), 0644); err != nil {
		t.Fatal(err)
	}

	if rb := tr.RollbackOperation(ctx, res.OperationID); !rb.Success {
		t.Fatalf("Rollback failed: %v", rb.Err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("Expected original content, got %q", data)
	}
}
