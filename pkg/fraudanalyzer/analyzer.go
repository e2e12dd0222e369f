// Package fraudanalyzer implements C6: sliding-window pattern evaluation
// over per-key scan histories, producing a composite risk score and a
// set of recommended actions for a single scan event.
package fraudanalyzer

import (
	"net"
	"strings"
	"sync"
	"time"
)

// ScanEvent is what each pattern evaluates. DeviceTimestamp is optional —
// when zero, the metadata_anomaly pattern skips its clock-skew check.
type ScanEvent struct {
	TicketID        string
	IPAddress       string
	Location        string
	UserAgent       string
	ScannedAt       time.Time
	DeviceTimestamp time.Time
}

// Flag is one triggered pattern, attached to the scan's fraud record.
type Flag struct {
	Pattern  string
	Severity string
	Score    int
	Details  map[string]any
}

// Result is the outcome of Evaluate, per spec.md §4.6.
type Result struct {
	IsSuspicious    bool
	FraudFlags      []Flag
	RiskScore       int
	Recommendations []string
}

const (
	maxHistoryPerKey = 50
	maxIntervals     = 10
	historySweepTTL  = 24 * time.Hour
)

type scanRecord struct {
	at       time.Time
	location string
}

// Analyzer maintains per-key scan histories in the process and evaluates
// every incoming event against the fixed pattern set. Zero value is not
// usable; use New.
type Analyzer struct {
	mu sync.Mutex

	byTicketIP map[string][]time.Time   // rapid_scans: ticketId+ip -> scan timestamps
	byTicket   map[string][]scanRecord  // location_hopping, cyclic_scans: ticketId -> (time, location)
	byIP       map[string][]time.Time   // volume_anomaly: ip -> scan timestamps
	touched    map[string]time.Time     // last-touch time per composite key, for the sweep

	clock func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs an Analyzer and starts its 24h history sweep.
func New() *Analyzer {
	a := &Analyzer{
		byTicketIP: make(map[string][]time.Time),
		byTicket:   make(map[string][]scanRecord),
		byIP:       make(map[string][]time.Time),
		touched:    make(map[string]time.Time),
		clock:      time.Now,
		stopCh:     make(chan struct{}),
	}
	go a.sweepLoop()
	return a
}

// WithClock overrides the clock for deterministic tests.
func (a *Analyzer) WithClock(clock func() time.Time) *Analyzer {
	a.clock = clock
	return a
}

func (a *Analyzer) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

func (a *Analyzer) sweepLoop() {
	ticker := time.NewTicker(historySweepTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopCh:
			return
		}
	}
}

// sweep drops any per-key history untouched for a full day, per spec.md
// §4.6's "swept every 24h."
func (a *Analyzer) sweep() {
	cutoff := a.clock().Add(-historySweepTTL)
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, last := range a.touched {
		if last.Before(cutoff) {
			delete(a.touched, key)
			if ip, isIP := strings.CutPrefix(key, "ip:"); isIP {
				delete(a.byIP, ip)
				continue
			}
			delete(a.byTicketIP, key)
			delete(a.byTicket, key)
		}
	}
}

// Evaluate runs every pattern against event, updating histories as it
// goes, and returns the composite outcome.
func (a *Analyzer) Evaluate(event ScanEvent) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := event.ScannedAt
	if now.IsZero() {
		now = a.clock()
	}

	var flags []Flag
	if f, ok := a.evalRapidScans(event, now); ok {
		flags = append(flags, f)
	}
	if f, ok := a.evalLocationHopping(event, now); ok {
		flags = append(flags, f)
	}
	if f, ok := a.evalVolumeAnomaly(event, now); ok {
		flags = append(flags, f)
	}
	if f, ok := evalOffHours(now); ok {
		flags = append(flags, f)
	}
	if f, ok := a.evalCyclicScans(event); ok {
		flags = append(flags, f)
	}
	if f, ok := evalMetadataAnomaly(event, now); ok {
		flags = append(flags, f)
	}

	score := 0
	for _, f := range flags {
		score += f.Score
	}
	if score > 100 {
		score = 100
	}

	return Result{
		IsSuspicious:    score > 50 || len(flags) > 0,
		FraudFlags:      flags,
		RiskScore:       score,
		Recommendations: recommendationsFor(score),
	}
}

func recommendationsFor(score int) []string {
	var recs []string
	if score >= 40 {
		recs = append(recs, "increase_monitoring")
	}
	if score >= 60 {
		recs = append(recs, "require_additional_verification")
	}
	if score >= 80 {
		recs = append(recs, "block_scan")
	}
	return recs
}

func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return true
	}
	return false
}

func isBotUserAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, marker := range []string{"bot", "crawler", "spider", "headless", "curl", "python-requests"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
