package streamregistry

import (
	"context"
	"testing"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenLookup(t *testing.T) {
	r := New()
	ctx := context.Background()
	e := &Entry{RunID: uuid.New(), Role: "tester", MissionID: uuid.New(), TracePath: "/tmp/x.log"}

	require.NoError(t, r.Register(ctx, e))

	got, err := r.Lookup(ctx, e.RunID.String())
	require.NoError(t, err)
	assert.Equal(t, e.Role, got.Role)
	assert.Equal(t, e.TracePath, got.TracePath)
}

func TestLookupAbsentKeyReturnsNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup(context.Background(), uuid.New().String())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestDeregisterRemovesEntry(t *testing.T) {
	r := New()
	ctx := context.Background()
	e := &Entry{RunID: uuid.New(), Role: "coder", MissionID: uuid.New()}
	require.NoError(t, r.Register(ctx, e))
	require.NoError(t, r.Deregister(ctx, e.RunID.String()))

	_, err := r.Lookup(ctx, e.RunID.String())
	require.Error(t, err)
}

type fakeMirror struct {
	store map[string]*Entry
}

func newFakeMirror() *fakeMirror { return &fakeMirror{store: make(map[string]*Entry)} }

func (f *fakeMirror) Publish(_ context.Context, e *Entry) error {
	f.store[e.RunID.String()] = e
	return nil
}

func (f *fakeMirror) Fetch(_ context.Context, runID string) (*Entry, error) {
	e, ok := f.store[runID]
	if !ok {
		return nil, apperrors.NewNotFoundError("stream session " + runID)
	}
	return e, nil
}

func (f *fakeMirror) Remove(_ context.Context, runID string) error {
	delete(f.store, runID)
	return nil
}

func TestLookupFallsBackToMirror(t *testing.T) {
	mirror := newFakeMirror()
	r := New().WithMirror(mirror)
	ctx := context.Background()

	runID := uuid.New()
	mirror.store[runID.String()] = &Entry{RunID: runID, Role: "planner"}

	got, err := r.Lookup(ctx, runID.String())
	require.NoError(t, err)
	assert.Equal(t, "planner", got.Role)
}
