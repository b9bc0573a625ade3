// Package errdefs defines the error taxonomy shared by the undo core.
//
// Every failure that crosses a public boundary is an *Error carrying a Kind.
// Message text is produced by a MessageFunc supplied by the caller, so the
// core never formats user-facing strings itself.
package errdefs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindNotRollbackable        Kind = "not_rollbackable"
	KindNothingToUndo          Kind = "nothing_to_undo"
	KindNothingToRedo          Kind = "nothing_to_redo"
	KindSnapshotCreationFailed Kind = "snapshot_creation_failed"
	KindWorkspaceConflict      Kind = "workspace_conflict"
	KindInternal               Kind = "internal"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrNotRollbackable        = &Error{Kind: KindNotRollbackable}
	ErrNothingToUndo          = &Error{Kind: KindNothingToUndo}
	ErrNothingToRedo          = &Error{Kind: KindNothingToRedo}
	ErrSnapshotCreationFailed = &Error{Kind: KindSnapshotCreationFailed}
	ErrWorkspaceConflict      = &Error{Kind: KindWorkspaceConflict}
)

// MessageFunc renders a message for an error kind and its context values.
type MessageFunc func(kind Kind, context map[string]string) string

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Context map[string]string
	Err     error

	format MessageFunc
}

// New creates an Error of the given kind. Context is given as key/value pairs.
func New(format MessageFunc, kind Kind, err error, kv ...string) *Error {
	e := &Error{Kind: kind, Err: err, format: format}
	if len(kv) > 0 {
		e.Context = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Context[kv[i]] = kv[i+1]
		}
	}
	return e
}

func (e *Error) Error() string {
	format := e.format
	if format == nil {
		format = DefaultMessages
	}
	msg := format(e.Kind, e.Context)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so the package sentinels work
// with errors.Is regardless of context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Wrap classifies err unless it already carries a kind.
func Wrap(format MessageFunc, kind Kind, err error, kv ...string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(format, kind, err, kv...)
}

// DefaultMessages is the English MessageFunc.
func DefaultMessages(kind Kind, ctx map[string]string) string {
	switch kind {
	case KindNotFound:
		if id, ok := ctx["operation"]; ok {
			return fmt.Sprintf("operation %s not found", id)
		}
		if id, ok := ctx["snapshot"]; ok {
			return fmt.Sprintf("snapshot %s not found", id)
		}
		if id, ok := ctx["workspace"]; ok {
			return fmt.Sprintf("workspace %s not found", id)
		}
		return "not found"
	case KindNotRollbackable:
		return fmt.Sprintf("operation %s is not rollbackable", ctx["operation"])
	case KindNothingToUndo:
		return "no operations to undo"
	case KindNothingToRedo:
		return "no operations to redo"
	case KindSnapshotCreationFailed:
		if id, ok := ctx["operation"]; ok {
			return fmt.Sprintf("snapshot creation failed for operation %s", id)
		}
		return "snapshot creation failed"
	case KindWorkspaceConflict:
		return fmt.Sprintf("workspace conflict on %s: agents %s", ctx["project"], ctx["agents"])
	}
	if len(ctx) == 0 {
		return string(kind)
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+ctx[k])
	}
	return string(kind) + " (" + strings.Join(parts, ", ") + ")"
}
