package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/fraudanalyzer"
	"github.com/checkpointly/scanvalidator/pkg/hotcache"
	"github.com/checkpointly/scanvalidator/pkg/orchestrator"
	"github.com/checkpointly/scanvalidator/pkg/qrdecoder"
	"github.com/checkpointly/scanvalidator/pkg/rulesclient"
)

// fakeDecoder returns a fixed Result or DecodeError regardless of input,
// standing in for C2 so these tests exercise only C8's wiring.
type fakeDecoder struct {
	result *qrdecoder.Result
	err    *qrdecoder.DecodeError
}

func (f *fakeDecoder) Decode(string) (*qrdecoder.Result, *qrdecoder.DecodeError) {
	return f.result, f.err
}

// fakeRules stands in for C3.
type fakeRules struct {
	mu          sync.Mutex
	response    *rulesclient.UpstreamResponse
	err         error
	recordCalls int
}

func (f *fakeRules) ValidateTicket(context.Context, rulesclient.ValidateTicketRequest) (*rulesclient.UpstreamResponse, error) {
	return f.response, f.err
}

func (f *fakeRules) RecordScan(context.Context, rulesclient.RecordScanRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCalls++
	return nil
}

// fakeStore stands in for C4.
type fakeStore struct {
	mu            sync.Mutex
	logs          []contracts.ScanLog
	confirmations []contracts.ScanConfirmation
	confirmErr    error
}

func (f *fakeStore) CreateScanLog(_ context.Context, log contracts.ScanLog, _ int) (*contracts.ScanLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return &log, nil
}

func (f *fakeStore) RecordConfirmation(_ context.Context, confirmation contracts.ScanConfirmation, _ int) (*contracts.ScanLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.confirmations = append(f.confirmations, confirmation)

	result := contracts.ScanResultValid
	switch {
	case len(confirmation.Result.FraudFlags) > 0:
		result = contracts.ScanResultFraudDetected
	case !confirmation.Result.Success || confirmation.Result.Blocked:
		result = contracts.ScanResultInvalid
	}
	log := contracts.ScanLog{
		TicketID:   confirmation.TicketID,
		Result:     result,
		FraudFlags: confirmation.Result.FraudFlags,
	}
	f.logs = append(f.logs, log)
	return &log, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

func (f *fakeStore) confirmationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.confirmations)
}

// fakeHotCache stands in for C5.
type fakeHotCache struct {
	mu      sync.Mutex
	entries map[string]hotcache.Entry
}

func newFakeHotCache() *fakeHotCache {
	return &fakeHotCache{entries: make(map[string]hotcache.Entry)}
}

func (f *fakeHotCache) RecordScan(ticketID, location string, scannedAt time.Time, maxScansPerTicket int) hotcache.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[ticketID]
	e.TicketID = ticketID
	e.ScanCount++
	e.LastScan = scannedAt
	f.entries[ticketID] = e
	return e
}

func (f *fakeHotCache) scanCount(ticketID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[ticketID].ScanCount
}

// fakeOffline stands in for C7.
type fakeOffline struct {
	outcome *contracts.ValidationOutcome
	err     error
}

func (f *fakeOffline) ValidateOffline(string, contracts.ScanContext) (*contracts.ValidationOutcome, error) {
	return f.outcome, f.err
}

func baseClaims() contracts.TicketClaims {
	return contracts.TicketClaims{
		TicketID:   "T1",
		EventID:    "E1",
		TicketType: contracts.TicketTypeStandard,
		IssuedAt:   time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		Version:    1,
		Algorithm:  contracts.AlgorithmHMACSHA256,
	}
}

func successUpstream(t *testing.T) *rulesclient.UpstreamResponse {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"ticket": map[string]any{"status": "VALID"},
		"event":  map[string]any{"id": "E1", "title": "Test Event", "status": "active"},
	})
	require.NoError(t, err)
	return &rulesclient.UpstreamResponse{Success: true, Data: data}
}

func newOrchestrator(decoder orchestrator.Decoder, rules *fakeRules, store *fakeStore, hot *fakeHotCache, fraud orchestrator.FraudAnalyzer, offline orchestrator.OfflineStore) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Config{}, decoder, rules, store, hot, fraud, offline)
}

func TestValidateTicket_HappyPath(t *testing.T) {
	decoder := &fakeDecoder{result: &qrdecoder.Result{Claims: baseClaims()}}
	rules := &fakeRules{response: successUpstream(t)}
	store := &fakeStore{}
	hot := newFakeHotCache()

	o := newOrchestrator(decoder, rules, store, hot, nil, nil)
	defer o.Close()

	outcome, err := o.ValidateTicket(context.Background(), "qr-1", contracts.ScanContext{Location: "Main", DeviceID: "D1", ScannerID: "O1"})
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.True(t, outcome.Success)
	assert.Equal(t, "T1", outcome.Ticket.ID)
	assert.Equal(t, "VALID", outcome.Ticket.Status)
	assert.Equal(t, "Test Event", outcome.Event["title"])
	assert.NotEmpty(t, outcome.ValidationID)

	assert.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return hot.scanCount("T1") == 1 }, time.Second, time.Millisecond)
}

func TestValidateTicket_Expired(t *testing.T) {
	// The decode stage is faked directly to ErrQRCodeExpired — C2's own
	// temporal-validation tests already cover the expiresAt comparison
	// itself; this test only exercises C8's short-circuit on that code.
	decoder := &fakeDecoder{err: &qrdecoder.DecodeError{Code: contracts.ErrQRCodeExpired, Message: "ticket expired"}}
	rules := &fakeRules{response: successUpstream(t)}
	store := &fakeStore{}
	hot := newFakeHotCache()

	o := newOrchestrator(decoder, rules, store, hot, nil, nil)
	defer o.Close()

	outcome, err := o.ValidateTicket(context.Background(), "qr-2", contracts.ScanContext{Location: "Main"})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, contracts.ErrQRCodeExpired, outcome.ErrorCode)
	assert.Equal(t, 0, rules.recordCalls)
}

func TestValidateTicket_Forged(t *testing.T) {
	decoder := &fakeDecoder{err: &qrdecoder.DecodeError{
		Code:    contracts.ErrInvalidCryptographicSignature,
		Message: "signature verification failed",
		Fraud:   true,
	}}
	rules := &fakeRules{response: successUpstream(t)}
	store := &fakeStore{}
	hot := newFakeHotCache()

	o := newOrchestrator(decoder, rules, store, hot, nil, nil)
	defer o.Close()

	outcome, err := o.ValidateTicket(context.Background(), "qr-3", contracts.ScanContext{Location: "Main"})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, contracts.ErrInvalidCryptographicSignature, outcome.ErrorCode)
	require.Len(t, outcome.FraudFlags, 1)
	assert.Equal(t, contracts.FraudFlagForgedQR, outcome.FraudFlags[0].Type)
	assert.Equal(t, contracts.SeverityHigh, outcome.FraudFlags[0].Severity)

	assert.Equal(t, int64(1), o.Stats().FraudAttempts)
}

func TestValidateTicket_ConcurrentDouble(t *testing.T) {
	rules := &fakeRules{response: successUpstream(t)}
	store := &fakeStore{}
	hot := newFakeHotCache()

	// blockingDecoder blocks the first call in the decode stage so both calls
	// are genuinely in flight together when the second one arrives.
	release := make(chan struct{})
	first := true
	var mu sync.Mutex
	blockingDecoder := blockingDecoderFunc(func() (*qrdecoder.Result, *qrdecoder.DecodeError) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			<-release
		}
		return &qrdecoder.Result{Claims: baseClaims()}, nil
	})
	o2 := newOrchestrator(blockingDecoder, rules, store, hot, nil, nil)
	defer o2.Close()

	var wg sync.WaitGroup
	results := make([]*contracts.ValidationOutcome, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = o2.ValidateTicket(context.Background(), "qr-same", contracts.ScanContext{Location: "Main"})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		results[1], _ = o2.ValidateTicket(context.Background(), "qr-same", contracts.ScanContext{Location: "Main"})
		close(release)
	}()
	wg.Wait()

	successes, failures := 0, 0
	var failed *contracts.ValidationOutcome
	for _, r := range results {
		if r.Success {
			successes++
		} else {
			failures++
			failed = r
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
	require.NotNil(t, failed)
	assert.Equal(t, contracts.ErrConcurrentScanDetected, failed.ErrorCode)
	require.Len(t, failed.FraudFlags, 1)
	assert.Equal(t, contracts.FraudFlagConcurrentScanAttempt, failed.FraudFlags[0].Type)
}

type blockingDecoderFunc func() (*qrdecoder.Result, *qrdecoder.DecodeError)

func (f blockingDecoderFunc) Decode(string) (*qrdecoder.Result, *qrdecoder.DecodeError) {
	return f()
}

func TestValidateTicket_EventClosed(t *testing.T) {
	decoder := &fakeDecoder{result: &qrdecoder.Result{Claims: baseClaims()}}
	rules := &fakeRules{response: &rulesclient.UpstreamResponse{Success: false, Code: "EVENT_ENDED"}}
	store := &fakeStore{}
	hot := newFakeHotCache()

	o := newOrchestrator(decoder, rules, store, hot, nil, nil)
	defer o.Close()

	outcome, err := o.ValidateTicket(context.Background(), "qr-5", contracts.ScanContext{Location: "Main"})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, contracts.ErrEventClosed, outcome.ErrorCode)
}

func TestValidateTicket_RulesUnavailable_ThenOfflineSucceeds(t *testing.T) {
	decoder := &fakeDecoder{result: &qrdecoder.Result{Claims: baseClaims()}}
	rules := &fakeRules{err: rulesclient.ErrBreakerOpen}
	store := &fakeStore{}
	hot := newFakeHotCache()
	offline := &fakeOffline{outcome: &contracts.ValidationOutcome{
		Success: true,
		Scan:    &contracts.ScanInfo{Offline: true},
	}}

	o := newOrchestrator(decoder, rules, store, hot, nil, offline)
	defer o.Close()

	outcome, err := o.ValidateTicket(context.Background(), "qr-6", contracts.ScanContext{Location: "Main"})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, contracts.ErrCoreServiceUnavailable, outcome.ErrorCode)

	offlineOutcome, err := o.ValidateOffline("T1", contracts.ScanContext{Location: "Main"})
	require.NoError(t, err)
	assert.True(t, offlineOutcome.Success)
	assert.True(t, offlineOutcome.Scan.Offline)
}

func TestValidateTicket_FraudBelowBlockThresholdStillAdmits(t *testing.T) {
	decoder := &fakeDecoder{result: &qrdecoder.Result{Claims: baseClaims()}}
	rules := &fakeRules{response: successUpstream(t)}
	store := &fakeStore{}
	hot := newFakeHotCache()
	fraud := fraudanalyzer.New()
	defer fraud.Close()

	cfg := orchestrator.Config{FraudDetectionEnabled: true, BlockOnFraud: true}
	o := orchestrator.New(cfg, decoder, rules, store, hot, fraud, nil)
	defer o.Close()

	// Five rapid scans from the same ticket+ip within the 10s window trip
	// rapid_scans (score 40) on the fifth call — over the 40-point
	// increase_monitoring threshold but short of the 80-point block_scan
	// one, so the call still succeeds. Each call uses a distinct qrCode so
	// the concurrency gate never sees a duplicate key.
	var outcome *contracts.ValidationOutcome
	var err error
	for i := 0; i < 5; i++ {
		outcome, err = o.ValidateTicket(context.Background(), "qr-fraud-"+string(rune('a'+i)), contracts.ScanContext{
			Location: "Main", IPAddress: "203.0.113.5",
		})
		require.NoError(t, err)
	}
	require.NotNil(t, outcome)
	assert.True(t, outcome.Success)
	assert.GreaterOrEqual(t, outcome.RiskScore, 40)

	var sawRapidScans bool
	for _, flag := range outcome.FraudFlags {
		if flag.Type == contracts.FraudFlagType("rapid_scans") {
			sawRapidScans = true
		}
	}
	assert.True(t, sawRapidScans)
}

func TestHandleScanConfirmation_UnsuccessfulIsInvalid(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(&fakeDecoder{}, &fakeRules{}, store, newFakeHotCache(), nil, nil)
	defer o.Close()

	log, err := o.HandleScanConfirmation(context.Background(), contracts.ScanConfirmation{
		TicketID: "T1",
		Result: contracts.ScanConfirmationResult{
			Success:     false,
			ValidatedAt: time.Now().UTC(),
			Blocked:     true,
			BlockReason: "duplicate entry",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, contracts.ScanResultInvalid, log.Result)
	assert.Equal(t, 1, store.confirmationCount())
}

func TestHandleScanConfirmation_FraudFlagsWinResult(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(&fakeDecoder{}, &fakeRules{}, store, newFakeHotCache(), nil, nil)
	defer o.Close()

	log, err := o.HandleScanConfirmation(context.Background(), contracts.ScanConfirmation{
		TicketID: "T1",
		Result: contracts.ScanConfirmationResult{
			Success:     true,
			ValidatedAt: time.Now().UTC(),
			FraudFlags: []contracts.FraudFlag{
				{Type: contracts.FraudFlagForgedQR, Severity: contracts.SeverityHigh},
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, contracts.ScanResultFraudDetected, log.Result)
	assert.Len(t, log.FraudFlags, 1)
}

func TestHandleScanConfirmation_StorePropagatesError(t *testing.T) {
	store := &fakeStore{confirmErr: assert.AnError}
	o := newOrchestrator(&fakeDecoder{}, &fakeRules{}, store, newFakeHotCache(), nil, nil)
	defer o.Close()

	log, err := o.HandleScanConfirmation(context.Background(), contracts.ScanConfirmation{TicketID: "T1"})
	assert.Error(t, err)
	assert.Nil(t, log)
}
