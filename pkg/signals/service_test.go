package signals

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfleet/missionhub/pkg/store"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return New(store.NewFromDB(db)), mock
}

func TestCreateSignalDefaultsAndPersists(t *testing.T) {
	svc, mock := newMockService(t)

	rows := sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
		AddRow(int64(1), int64(9), nil, "dangerous_command", "info", "pending", "rm -rf", time.Now())
	mock.ExpectQuery("INSERT INTO signals").WillReturnRows(rows)

	sig, err := svc.Create(context.Background(), 9, nil, "dangerous_command", store.SeverityInfo, "rm -rf")
	require.NoError(t, err)
	assert.Equal(t, store.SignalPending, sig.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionDelegatesToStore(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("FROM signals WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
			AddRow(int64(1), int64(9), nil, "dangerous_command", "info", "pending", "rm -rf", time.Now()))
	mock.ExpectQuery("UPDATE signals").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
			AddRow(int64(1), int64(9), nil, "dangerous_command", "info", "approved", "rm -rf", time.Now()))

	sig, err := svc.Transition(context.Background(), 1, store.SignalApproved)
	require.NoError(t, err)
	assert.Equal(t, store.SignalApproved, sig.Status)
}

func writeJSONLFixture(t *testing.T, records []map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
	return path
}

func TestImportDangerousSkipsUnknownEventsAndRespectsMaxRows(t *testing.T) {
	path := writeJSONLFixture(t, []map[string]any{
		{"event": "dangerous_command", "message": "rm -rf /"},
		{"event": "noise", "message": "ignored"},
		{"event": "approval_required", "message": "needs human"},
		{"event": "failing_test", "message": "flaky"},
	})

	svc, mock := newMockService(t)
	mock.ExpectQuery("INSERT INTO signals").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
			AddRow(int64(1), int64(9), nil, "dangerous_command", "warning", "pending", "rm -rf /", time.Now()))
	mock.ExpectQuery("INSERT INTO signals").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
			AddRow(int64(2), int64(9), nil, "approval_required", "warning", "pending", "needs human", time.Now()))

	imported, err := svc.ImportDangerous(context.Background(), path, 9, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
}

func TestImportDangerousMissingFile(t *testing.T) {
	svc, _ := newMockService(t)
	_, err := svc.ImportDangerous(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl"), 9, 10)
	require.Error(t, err)
}
