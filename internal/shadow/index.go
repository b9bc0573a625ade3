package shadow

import (
	"context"
	"errors"

	"zcu/internal/metastore"
)

// Index stores snapshot metadata that the commit log does not carry.
type Index interface {
	SaveSnapshot(ctx context.Context, meta *SnapshotMetadata) error
	// LoadSnapshot returns nil, nil when the snapshot is not indexed.
	LoadSnapshot(ctx context.Context, id string) (*SnapshotMetadata, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// StoreIndex keeps the index in the metadata store under
// snapshot:<id>:metadata.
type StoreIndex struct {
	store metastore.Store
}

func NewStoreIndex(store metastore.Store) *StoreIndex {
	return &StoreIndex{store: store}
}

func (i *StoreIndex) SaveSnapshot(ctx context.Context, meta *SnapshotMetadata) error {
	return metastore.PutJSON(ctx, i.store, metastore.SnapshotKey(meta.ID), meta)
}

func (i *StoreIndex) LoadSnapshot(ctx context.Context, id string) (*SnapshotMetadata, error) {
	var meta SnapshotMetadata
	err := metastore.GetJSON(ctx, i.store, metastore.SnapshotKey(id), &meta)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (i *StoreIndex) DeleteSnapshot(ctx context.Context, id string) error {
	return i.store.Delete(ctx, metastore.SnapshotKey(id))
}
