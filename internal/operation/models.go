// internal/operation/models.go
package operation

import (
	"time"
)

// Type is the kind of a recorded operation.
type Type string

const (
	TypeFileChange      Type = "file_change"
	TypeDirectoryChange Type = "directory_change"
	TypeMetadataChange  Type = "metadata_change"
	TypeBatchOperation  Type = "batch_operation"
)

// Valid reports whether t is a known operation type.
func (t Type) Valid() bool {
	switch t {
	case TypeFileChange, TypeDirectoryChange, TypeMetadataChange, TypeBatchOperation:
		return true
	}
	return false
}

// Payload is caller-defined before/after state. It is stored as given and
// never interpreted.
type Payload struct {
	Kind string `json:"kind"`
	Data []byte `json:"data,omitempty"`
}

// FileState is the state of one affected file at record time.
type FileState struct {
	Path         string    `json:"path"`
	RelativePath string    `json:"relativePath"`
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"modTime"`
	Exists       bool      `json:"exists"`
}

// RollbackData is what a reversible operation needs to be undone.
type RollbackData struct {
	SnapshotID          string      `json:"snapshotId"`
	FileStates          []FileState `json:"fileStates"`
	DependentOperations []string    `json:"dependentOperations"`
}

// Operation is one recorded change.
type Operation struct {
	ID                string        `json:"id"`
	Type              Type          `json:"type"`
	Timestamp         time.Time     `json:"timestamp"`
	AgentID           string        `json:"agentId"`
	WorkspaceID       string        `json:"workspaceId,omitempty"`
	ProjectPath       string        `json:"projectPath"`
	AffectedFiles     []string      `json:"affectedFiles"`
	Description       string        `json:"description"`
	Reversible        bool          `json:"reversible"`
	ParentOperationID string        `json:"parentOperationId,omitempty"`
	ChildOperationIDs []string      `json:"childOperationIds"`
	SnapshotID        string        `json:"snapshotId,omitempty"`
	RollbackData      *RollbackData `json:"rollbackData,omitempty"`
	BeforeState       *Payload      `json:"beforeState,omitempty"`
	AfterState        *Payload      `json:"afterState,omitempty"`
}

// Clone returns a copy that shares no slices with op.
func (op *Operation) Clone() *Operation {
	c := *op
	c.AffectedFiles = append([]string(nil), op.AffectedFiles...)
	c.ChildOperationIDs = append([]string{}, op.ChildOperationIDs...)
	if op.RollbackData != nil {
		rd := *op.RollbackData
		rd.FileStates = append([]FileState(nil), op.RollbackData.FileStates...)
		rd.DependentOperations = append([]string{}, op.RollbackData.DependentOperations...)
		c.RollbackData = &rd
	}
	return &c
}

// Request describes an operation to record. Zero values get defaults.
type Request struct {
	// ID and Timestamp are only set when replaying.
	ID        string
	Timestamp time.Time

	Type    Type
	AgentID string
	// WorkspaceID names the chain the operation joins. Empty means AgentID.
	WorkspaceID       string
	ProjectPath       string
	AffectedFiles     []string
	Description       string
	NonReversible     bool
	ParentOperationID string
	BeforeState       *Payload
	AfterState        *Payload
}

// Result is the outcome of recording or rolling back an operation.
type Result struct {
	Success           bool   `json:"success"`
	OperationID       string `json:"operationId,omitempty"`
	SnapshotID        string `json:"snapshotId,omitempty"`
	RollbackAvailable bool   `json:"rollbackAvailable"`
	Err               error  `json:"-"`
}

// Direction of a chain traversal.
type Direction string

const (
	Backward Direction = "backward"
	Forward  Direction = "forward"
)

// TraversalOptions controls TraverseChain.
type TraversalOptions struct {
	Direction Direction
	// MaxDepth is the number of entries visited. Zero means the whole chain.
	MaxDepth             int
	IncludeNonReversible bool
	// FilterTypes keeps only these types when non-empty.
	FilterTypes []Type
}

// StorageMetrics counts what the metadata store holds.
type StorageMetrics struct {
	TotalKeys  int `json:"totalKeys"`
	Operations int `json:"operations"`
	Snapshots  int `json:"snapshots"`
	Workspaces int `json:"workspaces"`
}
