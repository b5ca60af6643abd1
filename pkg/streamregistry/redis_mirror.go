package streamregistry

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes stream session entries to Redis so a second
// "missionhub attach" process on the same host can discover a session
// registered by a different long-lived "missionhub run --chat-mode"
// process. Entries expire after ttl so a crashed owner doesn't leave
// stale attach targets behind forever.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisMirror wraps an existing redis client. ttl of zero disables
// expiry (not recommended outside tests).
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl, prefix: "missionhub:stream:"}
}

func (m *RedisMirror) key(runID string) string {
	return m.prefix + runID
}

// Publish stores e as JSON under its run id key.
func (m *RedisMirror) Publish(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal stream entry")
	}
	if err := m.client.Set(ctx, m.key(e.RunID.String()), data, m.ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "publish stream entry to redis")
	}
	return nil
}

// Fetch retrieves and decodes the entry for runID, if present.
func (m *RedisMirror) Fetch(ctx context.Context, runID string) (*Entry, error) {
	data, err := m.client.Get(ctx, m.key(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NewNotFoundError("stream session " + runID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch stream entry from redis")
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal stream entry")
	}
	return &e, nil
}

// Remove deletes the entry for runID.
func (m *RedisMirror) Remove(ctx context.Context, runID string) error {
	if err := m.client.Del(ctx, m.key(runID)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "remove stream entry from redis")
	}
	return nil
}
