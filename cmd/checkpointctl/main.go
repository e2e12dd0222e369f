// Command checkpointctl wires C1 through C8 into a single process and
// runs one demonstration validation against them. It is intentionally
// thin: the HTTP/gRPC surface a real checkpoint device would talk to is
// out of scope here, so this binary exists to prove the wiring compiles
// and behaves, not to serve traffic.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/checkpointly/scanvalidator/pkg/config"
	"github.com/checkpointly/scanvalidator/pkg/contracts"
	"github.com/checkpointly/scanvalidator/pkg/fraudanalyzer"
	"github.com/checkpointly/scanvalidator/pkg/hotcache"
	"github.com/checkpointly/scanvalidator/pkg/offlinestore"
	"github.com/checkpointly/scanvalidator/pkg/orchestrator"
	"github.com/checkpointly/scanvalidator/pkg/qrdecoder"
	"github.com/checkpointly/scanvalidator/pkg/rulesclient"
	"github.com/checkpointly/scanvalidator/pkg/scanstore"
	"github.com/checkpointly/scanvalidator/pkg/ticketcrypto"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Printf("[checkpointctl] crypto setup failed: %v", err)
		return 1
	}

	decoder := qrdecoder.New(qrdecoder.Config{
		MaxValidity:         cfg.QRMaxValidity,
		MaxSize:             cfg.QRMaxSize,
		SupportedVersions:   []int{1, 2},
		SupportedAlgorithms: []contracts.SignatureAlgorithm{contracts.AlgorithmHMACSHA256, contracts.AlgorithmRSASHA256},
	}, verifier)

	rules := rulesclient.New(rulesclient.Config{
		BaseURL:     cfg.RulesServiceURL,
		ServiceName: "checkpointctl",
		Timeout:     cfg.RulesTimeout,
		Breaker: rulesclient.BreakerConfig{
			Timeout:                  cfg.RulesTimeout,
			ErrorThresholdPercentage: 50,
			ResetTimeout:             30 * time.Second,
			RollingCountWindow:       10 * time.Second,
			RollingCountBuckets:      10,
		},
		RateLimit: 50,
		Burst:     100,
	})

	store, err := scanstore.Open(scanstore.Config{
		DSN:               os.Getenv("DATABASE_URL"),
		MaxOpenConns:      cfg.DBPoolMax,
		ConnMaxIdleTime:   cfg.DBIdleTimeout,
		ConnectionTimeout: cfg.DBConnectionTimeout,
	})
	if err != nil {
		log.Printf("[checkpointctl] scanstore setup failed: %v", err)
		return 1
	}
	defer store.Close()

	hot, closeHot := newHotCache(cfg, store)
	defer closeHot()

	fraud := fraudanalyzer.New()

	offlinePath := os.Getenv("OFFLINE_DB_PATH")
	if offlinePath == "" {
		offlinePath = "checkpointctl-offline.db"
	}
	offline, err := offlinestore.Open(offlinePath, offlinestore.Config{
		SnapshotInterval: cfg.OfflineBackupInterval,
	})
	if err != nil {
		log.Printf("[checkpointctl] offlinestore setup failed: %v", err)
		return 1
	}
	defer offline.Close()

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentScans:    cfg.MaxConcurrentScans,
		MaxScansPerTicket:     cfg.MaxScansPerTicket,
		RPCTimeout:            cfg.RulesTimeout,
		DBTimeout:             cfg.DBConnectionTimeout,
		ScanTimeout:           cfg.ScanTimeout,
		FraudDetectionEnabled: cfg.FraudDetectionEnabled,
		BlockOnFraud:          cfg.BlockOnFraud,
		ServiceName:           "checkpointctl",
	}, decoder, rules, store, hot, fraud, offline)
	defer orch.Close()

	demoTicket(orch, verifier)

	stopSync := make(chan struct{})
	go runOfflineSync(offline, rules, cfg, stopSync)

	log.Println("[checkpointctl] ready; press ctrl+c to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(stopSync)
	log.Println("[checkpointctl] shutting down")
	return 0
}

// newHotCache builds C5, preferring the distributed Redis-backed cache
// when cfg.RedisAddr is set so multiple checkpointctl processes share
// one per-ticket view, and otherwise falling back to the in-process
// map. Either way the caller gets back something satisfying
// orchestrator.HotCache plus a closer to defer.
func newHotCache(cfg *config.Config, store *scanstore.Store) (orchestrator.HotCache, func() error) {
	if cfg.RedisAddr == "" {
		cache := hotcache.New(hotcache.Config{}, scanCacheBackfiller{store: store})
		return cache, cache.Close
	}
	redisCache := hotcache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.OfflineCacheTTL)
	adapter := hotcache.NewRedisAdapter(redisCache, cfg.RedisTimeout)
	return adapter, adapter.Close
}

// newVerifier builds C1 from the configured HMAC secret and, if present,
// an RSA public key in PEM form.
func newVerifier(cfg *config.Config) (*ticketcrypto.Verifier, error) {
	var rsaPublic *rsa.PublicKey
	if cfg.QRRSAPublicKey != "" {
		block, _ := pem.Decode([]byte(cfg.QRRSAPublicKey))
		if block == nil {
			return nil, errors.New("QR_RSA_PUBLIC_KEY is not valid PEM")
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse QR_RSA_PUBLIC_KEY: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("QR_RSA_PUBLIC_KEY is not an RSA public key")
		}
		rsaPublic = pub
	}
	return ticketcrypto.NewVerifier([]byte(cfg.QRHMACSecret), rsaPublic), nil
}

// runOfflineSync periodically replays C7's pending-sync queue against
// C3, per spec.md §4.7 — *rulesclient.Client satisfies RulesSyncer
// directly, so no adapter is needed here.
func runOfflineSync(offline *offlinestore.Store, rules *rulesclient.Client, cfg *config.Config, stop <-chan struct{}) {
	ticker := time.NewTicker(cfg.OfflineSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report, err := offline.Sync(context.Background(), rules, cfg.OfflineBatchSize)
			if err != nil {
				slog.Warn("checkpointctl: offline sync skipped", "error", err)
				continue
			}
			slog.Info("checkpointctl: offline sync complete",
				"synced", report.Synced, "failed", report.Failed, "pending", report.Pending)
		case <-stop:
			return
		}
	}
}

// demoTicket signs and validates one ticket end-to-end so a fresh
// deployment can confirm C1 through C8 are wired correctly before any
// real traffic arrives.
func demoTicket(orch *orchestrator.Orchestrator, verifier *ticketcrypto.Verifier) {
	now := time.Now().UTC()
	claims := contracts.TicketClaims{
		TicketID:   "demo-ticket-0001",
		EventID:    "demo-event-0001",
		TicketType: contracts.TicketTypeStandard,
		UserID:     "demo-user",
		IssuedAt:   now.Add(-time.Hour),
		ExpiresAt:  now.Add(24 * time.Hour),
		Version:    1,
		Algorithm:  contracts.AlgorithmHMACSHA256,
	}
	claims.Signature = verifier.SignHMAC([]byte(ticketcrypto.CanonicalString(claims)))

	raw, err := json.Marshal(claims)
	if err != nil {
		slog.Error("checkpointctl: marshal demo ticket failed", "error", err)
		return
	}

	outcome, err := orch.ValidateTicket(context.Background(), string(raw), contracts.ScanContext{
		CheckpointID: "demo-checkpoint",
		ScannerID:    "demo-operator",
		Location:     "Main Gate",
		ScannedAt:    now,
	})
	if err != nil {
		slog.Error("checkpointctl: demo validation errored", "error", err)
		return
	}
	slog.Info("checkpointctl: demo validation complete",
		"success", outcome.Success,
		"validationId", outcome.ValidationID,
		"errorCode", outcome.ErrorCode,
		"reason", outcome.Reason,
	)
}
