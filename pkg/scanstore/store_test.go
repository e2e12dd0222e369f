package scanstore_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/scanstore"
)

func TestCreateScanLog_FirstScan_InsertsCacheRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := scanstore.New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT scan_count, scan_locations FROM scanned_tickets_cache WHERE ticket_id = $1 FOR UPDATE")).
		WithArgs("T1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scanned_tickets_cache")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	log := contracts.ScanLog{
		TicketID:  "T1",
		Result:    contracts.ScanResultValid,
		Location:  "Main",
		ScannedAt: time.Now(),
	}
	_, err = store.CreateScanLog(ctx, log, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTicketCache_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := scanstore.New(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT ticket_id, scan_count, scan_locations, is_blocked, block_reason, last_scan_at, updated_at")).
		WithArgs("T404").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetTicketCache(context.Background(), "T404")
	require.ErrorIs(t, err, scanstore.ErrNotFound)
}

func TestCleanupOldScans_DeletesInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := scanstore.New(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM fraud_attempts WHERE created_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM scan_logs WHERE scanned_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM scan_sessions WHERE ended_at IS NOT NULL AND ended_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	result, err := store.CleanupOldScans(context.Background(), 90)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.FraudAttemptsDeleted)
	require.EqualValues(t, 10, result.ScanLogsDeleted)
	require.EqualValues(t, 3, result.SessionsDeleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
