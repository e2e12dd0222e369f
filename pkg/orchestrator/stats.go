package orchestrator

import "sync/atomic"

// Stats are the orchestrator's running counters, per spec.md §8's
// "successfulScans + failedScans = totalScans at all observation points"
// law. Safe for concurrent use.
type Stats struct {
	totalScans             atomic.Int64
	successfulScans        atomic.Int64
	failedScans            atomic.Int64
	fraudAttempts          atomic.Int64
	concurrentScansBlocked atomic.Int64
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	TotalScans             int64
	SuccessfulScans        int64
	FailedScans            int64
	FraudAttempts          int64
	ConcurrentScansBlocked int64
}

func (s *Stats) recordSuccess() {
	s.totalScans.Add(1)
	s.successfulScans.Add(1)
}

func (s *Stats) recordFailure() {
	s.totalScans.Add(1)
	s.failedScans.Add(1)
}

func (s *Stats) recordFraud() {
	s.fraudAttempts.Add(1)
}

func (s *Stats) recordConcurrentBlock() {
	s.concurrentScansBlocked.Add(1)
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalScans:             s.totalScans.Load(),
		SuccessfulScans:        s.successfulScans.Load(),
		FailedScans:            s.failedScans.Load(),
		FraudAttempts:          s.fraudAttempts.Load(),
		ConcurrentScansBlocked: s.concurrentScansBlocked.Load(),
	}
}
