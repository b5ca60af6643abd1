// Package messagebus implements the per-role handoff file used to pass
// context between sequentially run roles within a mission (planner, then
// coder, then tester). It is deliberately not a durable queue: one JSON
// array per role, rewritten atomically on every append, with no consumer
// offsets or delivery guarantees beyond "the file on disk is internally
// consistent."
package messagebus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

const timestampKey = "ts"

// Message is an opaque handoff payload; its shape is defined by caller
// convention, not this package.
type Message map[string]any

func pathFor(base, role string) string {
	return filepath.Join(base, role+".json")
}

// Read loads the full ordered message list for path, returning an empty
// slice (not an error) if the file does not yet exist.
func Read(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read message bus file")
	}
	if len(data) == 0 {
		return []Message{}, nil
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal message bus file")
	}
	return messages, nil
}

// Append loads path's existing messages, adds message (injecting a UTC
// ISO-8601 ts if absent), and atomically rewrites the whole file via
// write-temp-then-rename.
func Append(path string, message Message) error {
	messages, err := Read(path)
	if err != nil {
		return err
	}
	if _, hasTS := message[timestampKey]; !hasTS {
		message[timestampKey] = time.Now().UTC().Format(time.RFC3339)
	}
	messages = append(messages, message)

	data, err := json.Marshal(messages)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal message bus file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create message bus dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "write message bus tmp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "rename message bus file")
	}
	return nil
}

// Send appends payload to the role's file under base, returning the file
// path written.
func Send(base, role string, payload Message) (string, error) {
	path := pathFor(base, role)
	if err := Append(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// Receive returns the role's latest message under base with its ts key
// stripped, or an empty Message if the role has never sent anything.
func Receive(base, role string) (Message, error) {
	path := pathFor(base, role)
	messages, err := Read(path)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return Message{}, nil
	}
	latest := Message{}
	for k, v := range messages[len(messages)-1] {
		if k == timestampKey {
			continue
		}
		latest[k] = v
	}
	return latest, nil
}
