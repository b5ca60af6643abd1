package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// traceWriter appends one JSON line per event to a run's trace file.
// Corruption handling is out of scope: the trace is advisory, not the
// source of truth for mission state.
type traceWriter struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func newTraceWriter(traceDir string, runID string) (*traceWriter, error) {
	if err := os.MkdirAll(traceDir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create trace dir")
	}
	path := filepath.Join(traceDir, "workflow_run_"+runID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create trace file")
	}
	return &traceWriter{file: f, path: path}, nil
}

// emit writes {ts, event, ...payload} as one JSON line.
func (w *traceWriter) emit(event string, payload map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": event,
	}
	for k, v := range payload {
		line[k] = v
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	_, _ = w.file.Write(append(data, '\n'))
}

func (w *traceWriter) close() error {
	return w.file.Close()
}
