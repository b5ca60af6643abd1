// Package signals implements the classified-event pipeline: dangerous
// commands, approval requests, self-heal failures, and similar notable
// events that await human review. It is a thin policy layer over
// pkg/store's Signal repository plus a streaming JSONL importer for
// batches produced by external tooling (shadow audits, gate deciders).
package signals

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/agentfleet/missionhub/pkg/metrics"
	"github.com/agentfleet/missionhub/pkg/store"
)

// knownImportEvents is the set of event names the streaming importer
// recognizes as originating from the shadow audit / gate decider tooling.
var knownImportEvents = map[string]bool{
	"dangerous_command": true,
	"approval_required": true,
	"failing_test":       true,
}

// Service wraps the store's signal repository with the pipeline's domain
// rules (legal transitions, import semantics).
type Service struct {
	store *store.Store
}

// New returns a Service backed by st.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Create persists a new signal in pending status.
func (s *Service) Create(ctx context.Context, projectID int64, missionID *string, sigType string, severity store.SignalSeverity, message string) (*store.Signal, error) {
	sig := &store.Signal{
		ProjectID: projectID,
		Type:      sigType,
		Severity:  severity,
		Status:    store.SignalPending,
		Message:   message,
	}
	if missionID != nil {
		id, err := parseMissionID(*missionID)
		if err != nil {
			return nil, err
		}
		sig.MissionID = &id
	}
	created, err := s.store.CreateSignal(ctx, sig)
	if err == nil {
		metrics.SignalsCreatedTotal.WithLabelValues(sigType).Inc()
	}
	return created, err
}

// List returns signals filtered by the given optional criteria, most
// recent first.
func (s *Service) List(ctx context.Context, projectID *int64, status, sigType string, limit int) ([]store.Signal, error) {
	return s.store.ListSignals(ctx, projectID, status, sigType, limit)
}

// Transition enforces the pipeline's legal state transitions:
// pending -> {approved, denied, acknowledged}. Anything else is a conflict.
func (s *Service) Transition(ctx context.Context, id int64, newStatus store.SignalStatus) (*store.Signal, error) {
	return s.store.UpdateSignalStatus(ctx, id, newStatus)
}

// importRecord is the shape of one line in a dangerous-command/approval
// import log, matching the shadow audit and gate decider tooling's
// vocabulary.
type importRecord struct {
	Event    string `json:"event"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ImportDangerous streams logPath as JSONL, creating one Signal per record
// whose event is a recognized type, stopping after maxRows records have
// been read (not necessarily imported) to bound memory and DB load on a
// misbehaving log. Returns the number of signals actually created.
func (s *Service) ImportDangerous(ctx context.Context, logPath string, projectID int64, maxRows int) (int, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "open import log")
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	decoder := json.NewDecoder(reader)

	imported := 0
	for rows := 0; maxRows <= 0 || rows < maxRows; rows++ {
		var rec importRecord
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return imported, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "decode import record")
		}
		if !knownImportEvents[rec.Event] {
			continue
		}
		severity := store.SeverityWarning
		if rec.Severity != "" {
			severity = store.SignalSeverity(rec.Severity)
		}
		sigType := rec.Type
		if sigType == "" {
			sigType = rec.Event
		}
		if _, err := s.store.CreateSignal(ctx, &store.Signal{
			ProjectID: projectID,
			Type:      sigType,
			Severity:  severity,
			Status:    store.SignalPending,
			Message:   rec.Message,
		}); err != nil {
			return imported, err
		}
		metrics.SignalsCreatedTotal.WithLabelValues(sigType).Inc()
		imported++
	}
	return imported, nil
}
