package evidence

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAppendsJSONLLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci_evidence.jsonl")
	e := NewEmitter(path, nil)

	e.Emit(Record{Event: "orchestrator_chat_attach", Status: "ok", Note: "attach"})
	e.Emit(Record{Event: "workflow_self_heal_success", Status: "ok"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var r1 Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r1))
	assert.Equal(t, "orchestrator_chat_attach", r1.Event)
	assert.False(t, r1.Timestamp.IsZero())
}

func TestFileSHA256MatchesKnownDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	e := NewEmitter(filepath.Join(t.TempDir(), "evidence.jsonl"), nil)
	digest := e.FileSHA256(path)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", digest)
}

func TestFileSHA256MissingFileReturnsEmptyNotError(t *testing.T) {
	e := NewEmitter(filepath.Join(t.TempDir(), "evidence.jsonl"), nil)
	digest := e.FileSHA256(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Empty(t, digest)
}

func TestEmitToUnwritableDirDoesNotPanic(t *testing.T) {
	path := filepath.Join(string([]byte{0}), "evidence.jsonl")
	e := NewEmitter(path, nil)
	assert.NotPanics(t, func() {
		e.Emit(Record{Event: "should_be_swallowed"})
	})
}
