// internal/shadow/models.go
package shadow

import (
	"log/slog"
	"time"

	"zcu/internal/errdefs"
)

// SnapshotMetadata describes one snapshot commit in the shadow repository.
type SnapshotMetadata struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	OperationID      string    `json:"operationId"`
	ProjectPath      string    `json:"projectPath"`
	CommitHash       string    `json:"commitHash"`
	FileCount        int       `json:"fileCount"`
	Size             int64     `json:"size"`
	IsIncremental    bool      `json:"isIncremental"`
	ParentSnapshotID string    `json:"parentSnapshotId,omitempty"`
}

// RestoreOptions controls RestoreSnapshot.
type RestoreOptions struct {
	// TargetPath defaults to the project path.
	TargetPath string
	// IncludePatterns limits the restore to matching paths: an exact
	// relative path, a directory prefix, or a glob with *.
	IncludePatterns []string
	// ExcludePatterns are applied on top of the manager's excludes.
	ExcludePatterns    []string
	PreserveTimestamps bool
	CreateBackup       bool
}

// RestoreResult reports what a restore changed in the target.
type RestoreResult struct {
	SnapshotID    string `json:"snapshotId"`
	FilesRestored int    `json:"filesRestored"`
	FilesRemoved  int    `json:"filesRemoved"`
	BackupPath    string `json:"backupPath,omitempty"`
}

// Stats aggregates snapshot history.
type Stats struct {
	TotalSnapshots   int       `json:"totalSnapshots"`
	TotalSize        int64     `json:"totalSize"`
	OldestSnapshot   time.Time `json:"oldestSnapshot"`
	NewestSnapshot   time.Time `json:"newestSnapshot"`
	AverageSize      int64     `json:"averageSize"`
	CompressionRatio float64   `json:"compressionRatio"`
}

// Options configures a Manager.
type Options struct {
	ProjectPath       string
	ShadowPath        string
	BackupDir         string
	ExcludePatterns   []string
	EnableCompression bool

	// Index, when set, records per-snapshot file counts and sizes so
	// history can report them.
	Index Index

	// HashWorkers bounds concurrent file hashing during a scan.
	HashWorkers int

	Messages errdefs.MessageFunc
	Logger   *slog.Logger
}
