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

func TestRecordConfirmation_FraudFlags_InsertsFraudAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := scanstore.New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT scan_count, scan_locations FROM scanned_tickets_cache WHERE ticket_id = $1 FOR UPDATE")).
		WithArgs("T1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scanned_tickets_cache")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fraud_attempts")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	confirmation := contracts.ScanConfirmation{
		TicketID: "T1",
		Result: contracts.ScanConfirmationResult{
			Success:     true,
			ValidatedAt: time.Now().UTC(),
			Location:    "Main",
			FraudFlags: []contracts.FraudFlag{
				{Type: contracts.FraudFlagConcurrentScanAttempt, Severity: contracts.SeverityMedium},
			},
		},
	}
	log, err := store.RecordConfirmation(ctx, confirmation, 5)
	require.NoError(t, err)
	require.Equal(t, contracts.ScanResultFraudDetected, log.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordConfirmation_BlockedForcesCacheRowBlocked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := scanstore.New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT scan_count, scan_locations FROM scanned_tickets_cache WHERE ticket_id = $1 FOR UPDATE")).
		WithArgs("T2").
		WillReturnRows(sqlmock.NewRows([]string{"scan_count", "scan_locations"}).AddRow(1, []byte(`["Main"]`)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scanned_tickets_cache")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scanned_tickets_cache")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	confirmation := contracts.ScanConfirmation{
		TicketID: "T2",
		Result: contracts.ScanConfirmationResult{
			Success:     false,
			ValidatedAt: time.Now().UTC(),
			Blocked:     true,
			BlockReason: "reported duplicate by rules service",
		},
	}
	log, err := store.RecordConfirmation(ctx, confirmation, 5)
	require.NoError(t, err)
	require.Equal(t, contracts.ScanResultInvalid, log.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFraudAttempt_InsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := scanstore.New(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fraud_attempts")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	attempt, err := store.CreateFraudAttempt(context.Background(), contracts.FraudAttempt{
		ScanLogID: "scan-log-1",
		FraudType: contracts.FraudFlagForgedQR,
		Severity:  contracts.SeverityHigh,
	})
	require.NoError(t, err)
	require.NotEmpty(t, attempt.FraudAttemptID)
	require.NoError(t, mock.ExpectationsWereMet())
}
