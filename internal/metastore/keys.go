package metastore

import "strings"

// Key prefixes.
const (
	OperationPrefix = "operation:"
	WorkspacePrefix = "workspace:"
	SnapshotPrefix  = "snapshot:"
)

// Key fields.
const (
	FieldMetadata   = "metadata"
	FieldRedo       = "redo"
	FieldLatest     = "latest"
	FieldOperations = "operations"
	FieldState      = "state"
	FieldActive     = "active"
)

// Key joins an entity, id and field into a store key.
func Key(entity, id, field string) string {
	return entity + ":" + id + ":" + field
}

func OperationKey(id string) string { return Key("operation", id, FieldMetadata) }

// RedoKey holds the snapshot taken right before an operation was undone.
func RedoKey(id string) string { return Key("operation", id, FieldRedo) }

// LatestKey points at the most recent operation recorded in a workspace.
func LatestKey(workspaceID string) string { return Key("operation", workspaceID, FieldLatest) }

func WorkspaceOperationsKey(id string) string { return Key("workspace", id, FieldOperations) }

func WorkspaceStateKey(id string) string { return Key("workspace", id, FieldState) }

func WorkspaceActiveKey(id string) string { return Key("workspace", id, FieldActive) }

func SnapshotKey(id string) string { return Key("snapshot", id, FieldMetadata) }

// ParseKey splits a key into entity, id and field. The id may itself
// contain colons.
func ParseKey(key string) (entity, id, field string, ok bool) {
	first := strings.IndexByte(key, ':')
	last := strings.LastIndexByte(key, ':')
	if first < 0 || last <= first {
		return "", "", "", false
	}
	return key[:first], key[first+1 : last], key[last+1:], true
}
