package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// CreateSignal persists a new Signal in SignalPending.
func (s *Store) CreateSignal(ctx context.Context, sig *Signal) (*Signal, error) {
	if sig.Status == "" {
		sig.Status = SignalPending
	}
	if sig.Severity == "" {
		sig.Severity = SeverityInfo
	}
	var out Signal
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO signals (project_id, mission_id, type, severity, status, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, mission_id, type, severity, status, message, created_at
	`, sig.ProjectID, sig.MissionID, sig.Type, sig.Severity, sig.Status, sig.Message)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_signal", err)
	}
	return &out, nil
}

// ListSignals lists signals, optionally filtered by project, status, and
// type, most recent first, bounded by limit.
func (s *Store) ListSignals(ctx context.Context, projectID *int64, status, sigType string, limit int) ([]Signal, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, project_id, mission_id, type, severity, status, message, created_at FROM signals WHERE 1=1`)
	var args []any
	if projectID != nil {
		args = append(args, *projectID)
		fmt.Fprintf(&sb, " AND project_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if sigType != "" {
		args = append(args, sigType)
		fmt.Fprintf(&sb, " AND type = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	var signals []Signal
	if err := s.db.SelectContext(ctx, &signals, sb.String(), args...); err != nil {
		return nil, apperrors.NewDatabaseError("list_signals", err)
	}
	return signals, nil
}

// UpdateSignalStatus enforces the legal transitions pending -> {approved,
// denied, acknowledged}.
func (s *Store) UpdateSignalStatus(ctx context.Context, id int64, newStatus SignalStatus) (*Signal, error) {
	var current Signal
	if err := s.db.GetContext(ctx, &current, `
		SELECT id, project_id, mission_id, type, severity, status, message, created_at FROM signals WHERE id = $1
	`, id); err != nil {
		return nil, apperrors.NewNotFoundError("signal")
	}
	if current.Status != SignalPending {
		return nil, apperrors.NewConflictError("signal is not pending").
			WithDetailsf("current status: %s", current.Status)
	}
	switch newStatus {
	case SignalApproved, SignalDenied, SignalAcknowledged:
	default:
		return nil, apperrors.NewConflictError("illegal signal transition").
			WithDetailsf("pending -> %s is not a legal transition", newStatus)
	}
	var out Signal
	err := s.db.GetContext(ctx, &out, `
		UPDATE signals SET status = $2 WHERE id = $1
		RETURNING id, project_id, mission_id, type, severity, status, message, created_at
	`, id, newStatus)
	if err != nil {
		return nil, apperrors.NewDatabaseError("update_signal_status", err)
	}
	return &out, nil
}
