// Package evidence appends CI-facing correlation records to a best-effort
// JSONL log. Every write failure here is logged and swallowed: this
// subsystem must never fail the caller, per the orchestrator's
// external/best-effort error policy.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentfleet/missionhub/pkg/shared/logging"
	"github.com/sirupsen/logrus"
)

// FileRef names a file referenced by an evidence record along with its
// content digest.
type FileRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Record is one line of the evidence log.
type Record struct {
	Timestamp time.Time      `json:"ts"`
	Event     string         `json:"event"`
	Files     []FileRef      `json:"files,omitempty"`
	Status    string         `json:"status,omitempty"`
	Note      string         `json:"note,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// Emitter appends Records to a single JSONL file, serialized by mu.
type Emitter struct {
	mu     sync.Mutex
	path   string
	logger *logrus.Logger
}

// NewEmitter returns an Emitter writing to path, creating parent
// directories as needed. logger may be nil, in which case logrus's
// standard logger is used.
func NewEmitter(path string, logger *logrus.Logger) *Emitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Emitter{path: path, logger: logger}
}

// FileSHA256 hashes the contents of path. Returns "" (not an error) if the
// file cannot be read, matching this package's best-effort contract.
func (e *Emitter) FileSHA256(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RefFor builds a FileRef for path, computing its SHA-256.
func (e *Emitter) RefFor(path string) FileRef {
	return FileRef{Path: path, SHA256: e.FileSHA256(path)}
}

// Emit appends record to the evidence log. Any failure is logged via
// pkg/shared/logging and swallowed.
func (e *Emitter) Emit(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(record)
	if err != nil {
		e.logFailure("marshal_evidence_record", record.Event, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		e.logFailure("create_evidence_dir", record.Event, err)
		return
	}
	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.logFailure("open_evidence_log", record.Event, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		e.logFailure("append_evidence_log", record.Event, err)
	}
}

func (e *Emitter) logFailure(op, event string, err error) {
	fields := logging.NewFields().Component("evidence").Operation(op).Error(err)
	fields["event"] = event
	e.logger.WithFields(fields.Logrus()).Warn("evidence emit failed, continuing")
}
