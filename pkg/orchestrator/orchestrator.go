// Package orchestrator implements C8: the end-to-end validateTicket state
// machine tying the decoder, rules client, durable store, hot cache, and
// fraud analyzer together into one admission decision.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/fraudanalyzer"
	"github.com/checkpointly/scanvalidator/pkg/hotcache"
	"github.com/checkpointly/scanvalidator/pkg/qrdecoder"
	"github.com/checkpointly/scanvalidator/pkg/rulesclient"
)

var errOfflineStoreUnavailable = errors.New("orchestrator: offline store not configured")

// Decoder is C2's surface, narrowed to what the orchestrator calls.
type Decoder interface {
	Decode(raw string) (*qrdecoder.Result, *qrdecoder.DecodeError)
}

// RulesClient is C3's surface.
type RulesClient interface {
	ValidateTicket(ctx context.Context, req rulesclient.ValidateTicketRequest) (*rulesclient.UpstreamResponse, error)
	RecordScan(ctx context.Context, req rulesclient.RecordScanRequest) error
}

// ScanStore is C4's surface.
type ScanStore interface {
	CreateScanLog(ctx context.Context, log contracts.ScanLog, maxScansPerTicket int) (*contracts.ScanLog, error)
	RecordConfirmation(ctx context.Context, confirmation contracts.ScanConfirmation, maxScansPerTicket int) (*contracts.ScanLog, error)
}

// HotCache is C5's surface.
type HotCache interface {
	RecordScan(ticketID, location string, scannedAt time.Time, maxScansPerTicket int) hotcache.Entry
}

// FraudAnalyzer is C6's surface.
type FraudAnalyzer interface {
	Evaluate(event fraudanalyzer.ScanEvent) fraudanalyzer.Result
}

// OfflineStore is C7's surface, consulted when the caller routes through
// ValidateOffline instead of the online ValidateTicket path.
type OfflineStore interface {
	ValidateOffline(ticketID string, scanCtx contracts.ScanContext) (*contracts.ValidationOutcome, error)
}

// Orchestrator is C8. Construct with New; it is safe for concurrent use.
type Orchestrator struct {
	cfg Config

	decoder Decoder
	rules   RulesClient
	store   ScanStore
	hot     HotCache
	fraud   FraudAnalyzer
	offline OfflineStore

	gate  *concurrencyGate
	stats Stats
}

// New wires C8 from its collaborators. fraud and offline may be nil: a
// nil fraud disables the C6 stage regardless of cfg.FraudDetectionEnabled,
// a nil offline makes ValidateOffline return an error immediately.
func New(cfg Config, decoder Decoder, rules RulesClient, store ScanStore, hot HotCache, fraud FraudAnalyzer, offline OfflineStore) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		decoder: decoder,
		rules:   rules,
		store:   store,
		hot:     hot,
		fraud:   fraud,
		offline: offline,
		gate:    newConcurrencyGate(cfg.MaxConcurrentScans, cfg.ScanTimeout),
	}
}

// Close stops background loops (the concurrency gate's stale-entry sweep).
func (o *Orchestrator) Close() error {
	o.gate.close()
	return nil
}

// Stats returns a snapshot of the running counters.
func (o *Orchestrator) Stats() Snapshot {
	return o.stats.Snapshot()
}

func gateKey(qrCode string) string {
	sum := sha256.Sum256([]byte(qrCode))
	return hex.EncodeToString(sum[:])
}

// ValidateTicket runs the full online admission pipeline: input gate →
// concurrency gate → C2 decode → C3 rules → C6 fraud (optional) →
// assemble → schedule C4/C5 persistence. Persistence never blocks or
// rolls back the response (spec.md §5's ordering guarantees); a panic
// anywhere in the pipeline collapses to a single VALIDATION_ERROR
// outcome carrying the validationId that was about to be returned.
func (o *Orchestrator) ValidateTicket(ctx context.Context, qrCode string, scanCtx contracts.ScanContext) (outcome *contracts.ValidationOutcome, err error) {
	validationID := uuid.NewString()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: panic recovered", "validationId", validationID, "panic", r)
			o.stats.recordFailure()
			outcome = &contracts.ValidationOutcome{
				Success:        false,
				ValidationID:   validationID,
				ValidationTime: time.Since(started),
				ErrorCode:      contracts.ErrValidationError,
				Reason:         "internal error",
			}
			err = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancel()

	if fail := validateInput(qrCode, scanCtx); fail != nil {
		o.stats.recordFailure()
		return o.fail(validationID, started, fail.Code, fail.Message, nil), nil
	}

	key := gateKey(qrCode)
	switch o.gate.acquire(key) {
	case acquireDuplicateKey:
		o.stats.recordConcurrentBlock()
		o.stats.recordFailure()
		return o.fail(validationID, started, contracts.ErrConcurrentScanDetected, "duplicate in-flight scan for this QR code", []contracts.FraudFlag{
			{Type: contracts.FraudFlagConcurrentScanAttempt, Severity: contracts.SeverityMedium, Details: map[string]any{"qrCodeHash": key}},
		}), nil
	case acquireAtCapacity:
		o.stats.recordConcurrentBlock()
		o.stats.recordFailure()
		return o.fail(validationID, started, contracts.ErrConcurrentScanDetected, "concurrency gate at capacity", nil), nil
	}
	defer o.gate.release(key)

	decodeResult, decErr := o.decoder.Decode(qrCode)
	if decErr != nil {
		o.stats.recordFailure()
		var flags []contracts.FraudFlag
		if decErr.Fraud {
			o.stats.recordFraud()
			flags = []contracts.FraudFlag{{
				Type:     contracts.FraudFlagForgedQR,
				Severity: contracts.SeverityHigh,
				Details:  map[string]any{"reason": decErr.Message},
			}}
		}
		return o.fail(validationID, started, decErr.Code, decErr.Message, flags), nil
	}
	claims := decodeResult.Claims

	rpcCtx, rpcCancel := context.WithTimeout(ctx, o.cfg.RPCTimeout)
	upstream, rpcErr := o.rules.ValidateTicket(rpcCtx, rulesclient.ValidateTicketRequest{
		TicketID:    claims.TicketID,
		EventID:     claims.EventID,
		TicketType:  claims.TicketType,
		UserID:      claims.UserID,
		ScanContext: scanContextWire(scanCtx),
		ValidationMetadata: rulesclient.ValidationMetadata{
			QRVersion:   claims.Version,
			QRAlgorithm: string(claims.Algorithm),
			ValidatedAt: decodeResult.ValidationInfo.ValidatedAt,
		},
	})
	rpcCancel()
	if rpcErr != nil {
		o.stats.recordFailure()
		if rpcErr == rulesclient.ErrBreakerOpen {
			return o.fail(validationID, started, contracts.ErrCoreServiceUnavailable, "rules service unavailable", nil), nil
		}
		return o.fail(validationID, started, contracts.ErrCoreCommunicationError, "rules service communication failure", nil), nil
	}
	if !upstream.Success {
		o.stats.recordFailure()
		code := rulesclient.MapUpstreamCode(upstream.Code)
		return o.fail(validationID, started, code, "rules service rejected ticket", nil), nil
	}

	var upstreamData struct {
		Ticket struct {
			Status string `json:"status"`
		} `json:"ticket"`
		Event map[string]any `json:"event"`
	}
	_ = json.Unmarshal(upstream.Data, &upstreamData)

	var fraudResult fraudanalyzer.Result
	if o.cfg.FraudDetectionEnabled && o.fraud != nil {
		fraudResult = o.fraud.Evaluate(fraudanalyzer.ScanEvent{
			TicketID:  claims.TicketID,
			IPAddress: scanCtx.IPAddress,
			Location:  scanCtx.Location,
			UserAgent: scanCtx.UserAgent,
			ScannedAt: nowOrDefault(scanCtx.ScannedAt),
		})
		if fraudResult.IsSuspicious {
			o.stats.recordFraud()
		}
		blockRecommended := false
		for _, rec := range fraudResult.Recommendations {
			if rec == "block_scan" {
				blockRecommended = true
			}
		}
		if blockRecommended && o.cfg.BlockOnFraud {
			o.stats.recordFailure()
			return o.failWithRisk(validationID, started, contracts.ErrInvalid, "blocked by fraud analyzer", toFraudFlags(fraudResult), fraudResult.RiskScore), nil
		}
	}

	o.stats.recordSuccess()
	scanInfo := contracts.ScanInfo{
		ScanID:    validationID,
		Timestamp: nowOrDefault(scanCtx.ScannedAt),
		Location:  scanCtx.Location,
		DeviceID:  scanCtx.DeviceID,
	}

	result := &contracts.ValidationOutcome{
		Success:        true,
		ValidationID:   validationID,
		ValidationTime: time.Since(started),
		Ticket: &contracts.TicketSummary{
			ID:         claims.TicketID,
			EventID:    claims.EventID,
			TicketType: claims.TicketType,
			Status:     upstreamData.Ticket.Status,
			ScannedAt:  scanInfo.Timestamp,
		},
		Event:      upstreamData.Event,
		Scan:       &scanInfo,
		FraudFlags: toFraudFlags(fraudResult),
		RiskScore:  fraudResult.RiskScore,
		Receipt: contracts.ValidationReceipt{
			ValidationID: validationID,
			Decision:     contracts.DecisionAdmit,
			Reason:       "admitted",
			Timestamp:    scanInfo.Timestamp,
		},
	}

	o.schedulePersist(claims, scanCtx, scanInfo, contracts.ScanResultValid, result.FraudFlags)
	o.scheduleRecordScan(claims.TicketID, scanInfo)
	return result, nil
}

// ValidateOffline routes /api/scans/validate-offline through C7 directly,
// bypassing the online gates and C3 entirely — the checkpoint device is,
// by definition, unable to reach the rules service in this mode.
func (o *Orchestrator) ValidateOffline(ticketID string, scanCtx contracts.ScanContext) (*contracts.ValidationOutcome, error) {
	if o.offline == nil {
		return nil, errOfflineStoreUnavailable
	}
	outcome, err := o.offline.ValidateOffline(ticketID, scanCtx)
	if err == nil && outcome != nil {
		if outcome.Success {
			o.stats.recordSuccess()
		} else {
			o.stats.recordFailure()
		}
	}
	return outcome, err
}

// HandleScanConfirmation implements the rules-service callback side of
// spec.md §6: unlike ValidateTicket, there is no synchronous caller
// waiting on a gate decision, so this runs inline against o.cfg.DBTimeout
// rather than being deferred to a background goroutine the way
// schedulePersist is.
func (o *Orchestrator) HandleScanConfirmation(ctx context.Context, confirmation contracts.ScanConfirmation) (*contracts.ScanLog, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DBTimeout)
	defer cancel()

	log, err := o.store.RecordConfirmation(ctx, confirmation, o.cfg.MaxScansPerTicket)
	if err != nil {
		slog.Error("orchestrator: scan confirmation persistence failed", "error", err, "ticketId", confirmation.TicketID)
		return nil, fmt.Errorf("orchestrator: record scan confirmation: %w", err)
	}
	if result := log.Result; result == contracts.ScanResultValid {
		o.stats.recordSuccess()
	} else {
		o.stats.recordFailure()
	}
	return log, nil
}

func nowOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func scanContextWire(s contracts.ScanContext) rulesclient.ScanContextWire {
	return rulesclient.ScanContextWire{
		Location:     s.Location,
		DeviceID:     s.DeviceID,
		Timestamp:    nowOrDefault(s.ScannedAt),
		OperatorID:   s.ScannerID,
		CheckpointID: s.CheckpointID,
	}
}

func toFraudFlags(r fraudanalyzer.Result) []contracts.FraudFlag {
	if len(r.FraudFlags) == 0 {
		return nil
	}
	flags := make([]contracts.FraudFlag, 0, len(r.FraudFlags))
	for _, f := range r.FraudFlags {
		flags = append(flags, contracts.FraudFlag{
			Type:     contracts.FraudFlagType(f.Pattern),
			Severity: contracts.Severity(f.Severity),
			Details:  f.Details,
		})
	}
	return flags
}

func (o *Orchestrator) fail(validationID string, started time.Time, code contracts.ErrorCode, reason string, flags []contracts.FraudFlag) *contracts.ValidationOutcome {
	return &contracts.ValidationOutcome{
		Success:        false,
		ValidationID:   validationID,
		ValidationTime: time.Since(started),
		ErrorCode:      code,
		Reason:         reason,
		FraudFlags:     flags,
		Receipt: contracts.ValidationReceipt{
			ValidationID: validationID,
			Decision:     contracts.DecisionReject,
			Reason:       reason,
			Timestamp:    time.Now().UTC(),
		},
	}
}

func (o *Orchestrator) failWithRisk(validationID string, started time.Time, code contracts.ErrorCode, reason string, flags []contracts.FraudFlag, riskScore int) *contracts.ValidationOutcome {
	outcome := o.fail(validationID, started, code, reason, flags)
	outcome.RiskScore = riskScore
	outcome.Receipt.Decision = contracts.DecisionFlag
	return outcome
}

// schedulePersist writes the scan log and hot-cache update off the
// response path, per spec.md §5: "scan-log persistence is causal with
// respect to the response but need not be durable before the response
// is sent." Failures are logged and counted, never retried inline.
func (o *Orchestrator) schedulePersist(claims contracts.TicketClaims, scanCtx contracts.ScanContext, scanInfo contracts.ScanInfo, result contracts.ScanResult, flags []contracts.FraudFlag) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DBTimeout)
		defer cancel()

		// The scan log's uid is the validationId (scanInfo.ScanID), so the
		// row joins back to the response the caller already received.
		log := contracts.ScanLog{
			UID:        scanInfo.ScanID,
			TicketID:   claims.TicketID,
			EventID:    claims.EventID,
			ScannedAt:  scanInfo.Timestamp,
			Result:     result,
			Location:   scanCtx.Location,
			DeviceID:   scanCtx.DeviceID,
			TicketData: claims,
			FraudFlags: flags,
		}
		if _, err := o.store.CreateScanLog(ctx, log, o.cfg.MaxScansPerTicket); err != nil {
			slog.Error("orchestrator: scan log persistence failed", "error", err, "code", contracts.ErrScanRecordFailed, "ticketId", claims.TicketID, "validationId", scanInfo.ScanID)
		}
		if o.hot != nil && result == contracts.ScanResultValid {
			o.hot.RecordScan(claims.TicketID, scanCtx.Location, scanInfo.Timestamp, o.cfg.MaxScansPerTicket)
		}
	}()
}

// scheduleRecordScan notifies the rules service of a successful scan.
// Tie-break (b): recordScan is advisory only — its failure is logged and
// never bubbles back to the caller.
func (o *Orchestrator) scheduleRecordScan(ticketID string, scanInfo contracts.ScanInfo) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RPCTimeout)
		defer cancel()
		err := o.rules.RecordScan(ctx, rulesclient.RecordScanRequest{
			TicketID: ticketID,
			Decision: string(contracts.DecisionAdmit),
			ScanInfo: rulesclient.ScanInfoWire{
				ScanID:    scanInfo.ScanID,
				Timestamp: scanInfo.Timestamp,
				Location:  scanInfo.Location,
			},
		})
		if err != nil {
			slog.Warn("orchestrator: recordScan advisory call failed", "error", err, "ticketId", ticketID)
		}
	}()
}
