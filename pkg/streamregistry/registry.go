// Package streamregistry maps a run id to the metadata needed for a second
// CLI invocation ("missionhub attach") to locate a live stream session
// registered by a different, long-lived process. It holds no subprocess
// handles itself — those stay with the owning supervisor.Session — only
// the bookkeeping needed to find the right one.
package streamregistry

import (
	"context"
	"sync"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/google/uuid"
)

// Entry is the metadata registered for one live stream session.
type Entry struct {
	RunID     uuid.UUID
	Role      string
	MissionID uuid.UUID
	TracePath string
}

// Registry is a process-wide, in-memory map from run id to Entry. It does
// not persist across process restarts; a Mirror can be attached to make
// entries discoverable by a separate process on the same host.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	mirror  Mirror
}

// Mirror is implemented by out-of-process registry backends (e.g. Redis)
// so a second CLI invocation on the same host can discover sessions
// registered by a different long-lived process. It is optional: a
// Registry with no mirror only serves same-process lookups.
type Mirror interface {
	Publish(ctx context.Context, e *Entry) error
	Fetch(ctx context.Context, runID string) (*Entry, error)
	Remove(ctx context.Context, runID string) error
}

// New creates an empty in-process registry with no mirror attached.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// WithMirror attaches a Mirror backend used to publish/fetch entries across
// processes. Returns the registry for chaining at construction time.
func (r *Registry) WithMirror(m Mirror) *Registry {
	r.mirror = m
	return r
}

// Register adds e to the registry, keyed by e.RunID, and publishes it to
// the mirror (if any) on a best-effort basis.
func (r *Registry) Register(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	r.entries[e.RunID.String()] = e
	r.mu.Unlock()

	if r.mirror != nil {
		return r.mirror.Publish(ctx, e)
	}
	return nil
}

// Lookup returns the Entry for runID, checking the in-process map first
// and falling back to the mirror if present. Returns a not-found AppError
// if runID is registered nowhere.
func (r *Registry) Lookup(ctx context.Context, runID string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[runID]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	if r.mirror != nil {
		mirrored, err := r.mirror.Fetch(ctx, runID)
		if err == nil && mirrored != nil {
			return mirrored, nil
		}
	}
	return nil, apperrors.NewNotFoundError("stream session " + runID)
}

// Deregister removes runID from the registry and the mirror, if any.
func (r *Registry) Deregister(ctx context.Context, runID string) error {
	r.mu.Lock()
	delete(r.entries, runID)
	r.mu.Unlock()

	if r.mirror != nil {
		return r.mirror.Remove(ctx, runID)
	}
	return nil
}
