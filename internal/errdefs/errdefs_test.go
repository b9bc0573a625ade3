package errdefs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(nil, KindNotFound, nil, "operation", "abc123")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrNotRollbackable)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "abc123")
}

func TestErrorUnwrap(t *testing.T) {
	err := New(nil, KindSnapshotCreationFailed, io.ErrUnexpectedEOF, "operation", "op1")
	wrapped := fmt.Errorf("record: %w", err)

	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, wrapped, ErrSnapshotCreationFailed)
	assert.Equal(t, KindSnapshotCreationFailed, KindOf(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := New(nil, KindNotFound, nil, "snapshot", "s1")
	got := Wrap(nil, KindInternal, fmt.Errorf("restore: %w", inner))

	require.Error(t, got)
	assert.Equal(t, KindNotFound, KindOf(got))
	assert.Nil(t, Wrap(nil, KindInternal, nil))
}

func TestInjectedMessageFunc(t *testing.T) {
	format := func(kind Kind, ctx map[string]string) string {
		return "E:" + string(kind) + ":" + ctx["operation"]
	}
	err := New(format, KindNotRollbackable, nil, "operation", "x")

	assert.Equal(t, "E:not_rollbackable:x", err.Error())
}

func TestDefaultMessagesUnknownKind(t *testing.T) {
	msg := DefaultMessages(Kind("custom"), map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "custom (a=1, b=2)", msg)
}
