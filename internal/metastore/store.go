// Package metastore is the namespaced key/value boundary used to persist
// operations, chain state, workspace pointers and the snapshot index.
//
// Keys have the form <entity>:<id>:<field>. Two backends are provided:
// BadgerDB (the default) and SQLite.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("metastore: key not found")

// OpType is the kind of a batch operation.
type OpType int

const (
	OpPut OpType = iota
	OpDelete
)

// Op is one entry of a Batch call.
type Op struct {
	Type  OpType
	Key   string
	Value []byte
}

// Put returns a put Op.
func Put(key string, value []byte) Op {
	return Op{Type: OpPut, Key: key, Value: value}
}

// Delete returns a delete Op.
func Delete(key string) Op {
	return Op{Type: OpDelete, Key: key}
}

// Entry is a key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Store is safe for concurrent use. Batch is atomic.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Batch(ctx context.Context, ops []Op) error
	// Scan returns all entries whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open opens the store of the given backend under dir.
func Open(backend, dir string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "badger", "":
		cfg := DefaultBadgerConfig()
		cfg.Path = filepath.Join(dir, "badger")
		cfg.Logger = logger
		return OpenBadger(cfg)
	case "sqlite":
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
		return OpenSQLite(filepath.Join(dir, "metadata.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// PutJSON marshals v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON loads key into v. It returns ErrNotFound if the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// PutJSONOp marshals v into a put Op for Batch.
func PutJSONOp(key string, v any) (Op, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Op{}, fmt.Errorf("marshal %s: %w", key, err)
	}
	return Put(key, data), nil
}
