// Package rulesclient implements C3: a resilient synchronous RPC client
// to the upstream business-rules service. It owns no business logic
// itself — every decision about whether a ticket may be admitted is
// delegated upstream — and wraps each operation in its own circuit
// breaker plus client-side request pacing.
package rulesclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// BreakerConfig mirrors spec.md §4.2's per-operation circuit breaker
// configuration record.
type BreakerConfig struct {
	Timeout                  time.Duration
	ErrorThresholdPercentage float64
	ResetTimeout             time.Duration
	RollingCountWindow       time.Duration
	RollingCountBuckets      int
}

// Config is the rules client's construction-time policy.
type Config struct {
	BaseURL     string
	ServiceName string
	Timeout     time.Duration
	Breaker     BreakerConfig
	// RateLimit/Burst pace outbound calls independent of the breaker, so
	// a half-open probe doesn't itself trigger a retry storm.
	RateLimit rate.Limit
	Burst     int
}

const (
	opValidateTicket    = "validateTicket"
	opValidateEvent     = "validateEvent"
	opCheckTicketStatus = "checkTicketStatus"
	opRecordScan        = "recordScan"
)

// Client is C3. One breaker per operation, per spec.md §4.2: a burst of
// failures on recordScan must never trip validateTicket's breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New constructs a Client with one gobreaker.CircuitBreaker per
// operation, grounded on pkg/arc/connector.go's rate.Limiter/Wait idiom
// for client-side pacing.
func New(cfg Config) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		breakers:   make(map[string]*gobreaker.CircuitBreaker, 4),
	}
	for _, op := range []string{opValidateTicket, opValidateEvent, opCheckTicketStatus, opRecordScan} {
		c.breakers[op] = c.newBreakerFor(op)
	}
	return c
}

func (c *Client) newBreakerFor(op string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:        op,
		Timeout:     c.cfg.Breaker.ResetTimeout,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio*100 >= c.cfg.Breaker.ErrorThresholdPercentage
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// State exposes a breaker's current state (closed/half-open/open) for a
// named operation — SPEC_FULL.md supplement #1, so a future health
// endpoint (out of scope here) has something to read.
func (c *Client) State(op string) gobreaker.State {
	b, ok := c.breakers[op]
	if !ok {
		return gobreaker.StateClosed
	}
	return b.State()
}

// Counts exposes a breaker's native rolling counters for a named operation.
func (c *Client) Counts(op string) gobreaker.Counts {
	b, ok := c.breakers[op]
	if !ok {
		return gobreaker.Counts{}
	}
	return b.Counts()
}

// ValidateTicketRequest is the payload validateTicket sends, per
// spec.md §4.2's request shape.
type ValidateTicketRequest struct {
	TicketID           string               `json:"ticketId"`
	EventID            string               `json:"eventId"`
	TicketType         contracts.TicketType `json:"ticketType"`
	UserID             string               `json:"userId,omitempty"`
	ScanContext        ScanContextWire      `json:"scanContext"`
	ValidationMetadata ValidationMetadata   `json:"validationMetadata"`
}

// ScanContextWire is the wire shape of scanContext within
// ValidateTicketRequest.
type ScanContextWire struct {
	Location     string    `json:"location"`
	DeviceID     string    `json:"deviceId"`
	Timestamp    time.Time `json:"timestamp"`
	OperatorID   string    `json:"operatorId"`
	CheckpointID string    `json:"checkpointId"`
}

// ValidationMetadata is the wire shape of validationMetadata within
// ValidateTicketRequest.
type ValidationMetadata struct {
	QRVersion   int       `json:"qrVersion"`
	QRAlgorithm string    `json:"qrAlgorithm"`
	ValidatedAt time.Time `json:"validatedAt"`
}

// UpstreamResponse is the generic envelope every rules-service endpoint
// returns: either {success:true, data} or {success:false, code}.
type UpstreamResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// ErrBreakerOpen is returned when a breaker fails fast.
var ErrBreakerOpen = errors.New(string(contracts.ErrCoreServiceUnavailable))

// ValidateTicket calls POST /api/internal/validation/validate-ticket
// through the validateTicket breaker and rate limiter.
func (c *Client) ValidateTicket(ctx context.Context, req ValidateTicketRequest) (*UpstreamResponse, error) {
	return c.doBreaker(ctx, opValidateTicket, func(ctx context.Context) (*UpstreamResponse, error) {
		return c.post(ctx, "/api/internal/validation/validate-ticket", req)
	})
}

// ValidateEvent calls GET /api/internal/events/{id}/validate.
func (c *Client) ValidateEvent(ctx context.Context, eventID string) (*UpstreamResponse, error) {
	return c.doBreaker(ctx, opValidateEvent, func(ctx context.Context) (*UpstreamResponse, error) {
		return c.get(ctx, fmt.Sprintf("/api/internal/events/%s/validate", eventID))
	})
}

// CheckTicketStatus calls GET /api/internal/tickets/{id}/status.
func (c *Client) CheckTicketStatus(ctx context.Context, ticketID string) (*UpstreamResponse, error) {
	return c.doBreaker(ctx, opCheckTicketStatus, func(ctx context.Context) (*UpstreamResponse, error) {
		return c.get(ctx, fmt.Sprintf("/api/internal/tickets/%s/status", ticketID))
	})
}

// RecordScanRequest is the payload recordScan sends. Failure here is
// advisory only per spec.md §4.2/§4.3: it is logged but never bubbles
// to the caller.
type RecordScanRequest struct {
	TicketID string       `json:"ticketId"`
	Decision string       `json:"decision"`
	ScanInfo ScanInfoWire `json:"scanInfo"`
}

// ScanInfoWire is the wire shape of scanInfo within RecordScanRequest.
type ScanInfoWire struct {
	ScanID    string    `json:"scanId"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
}

// RecordScan calls POST /api/internal/scans/record, fire-and-forget: any
// error is returned to the caller to log and count, never to retry
// inline or surface to the end user.
func (c *Client) RecordScan(ctx context.Context, req RecordScanRequest) error {
	_, err := c.doBreaker(ctx, opRecordScan, func(ctx context.Context) (*UpstreamResponse, error) {
		return c.post(ctx, "/api/internal/scans/record", req)
	})
	return err
}

func (c *Client) doBreaker(ctx context.Context, op string, fn func(context.Context) (*UpstreamResponse, error)) (*UpstreamResponse, error) {
	b := c.breakers[op]
	result, err := b.Execute(func() (any, error) {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return nil, waitErr
		}
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ErrBreakerOpen
		}
		return nil, err
	}
	return result.(*UpstreamResponse), nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*UpstreamResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rulesclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rulesclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setOutboundHeaders(req)
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (*UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("rulesclient: build request: %w", err)
	}
	c.setOutboundHeaders(req)
	return c.do(req)
}

// setOutboundHeaders attaches the headers spec.md §4.2/§6 requires on
// every outbound call: X-Service-Name, a fresh X-Request-ID, and
// X-Timestamp.
func (c *Client) setOutboundHeaders(req *http.Request) {
	req.Header.Set("X-Service-Name", c.cfg.ServiceName)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Timestamp", time.Now().UTC().Format(time.RFC3339))
}

func (c *Client) do(req *http.Request) (*UpstreamResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", contracts.ErrCoreCommunicationError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", contracts.ErrCoreCommunicationError, err)
	}

	var upstream UpstreamResponse
	if err := json.Unmarshal(body, &upstream); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", contracts.ErrCoreCommunicationError, err)
	}
	return &upstream, nil
}
