package messagebus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendThenReceiveStripsTimestamp(t *testing.T) {
	base := t.TempDir()

	path, err := Send(base, "planner", Message{"summary": "split into three tasks"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "planner.json"), path)

	latest, err := Receive(base, "planner")
	require.NoError(t, err)
	assert.Equal(t, "split into three tasks", latest["summary"])
	_, hasTS := latest["ts"]
	assert.False(t, hasTS)
}

func TestReceiveAbsentRoleReturnsEmptyMessage(t *testing.T) {
	base := t.TempDir()
	latest, err := Receive(base, "nobody")
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestAppendPreservesOrderAndInjectsTimestampWhenMissing(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "coder.json")

	require.NoError(t, Append(path, Message{"step": 1}))
	require.NoError(t, Append(path, Message{"step": 2, "ts": "2026-01-01T00:00:00Z"}))

	messages, err := Read(path)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, float64(1), messages[0]["step"])
	assert.NotEmpty(t, messages[0]["ts"])
	assert.Equal(t, "2026-01-01T00:00:00Z", messages[1]["ts"])
}

func TestReadMissingFileReturnsEmptySlice(t *testing.T) {
	messages, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, messages)
}
