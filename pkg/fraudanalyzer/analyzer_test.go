package fraudanalyzer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/checkpointly/scanvalidator/pkg/fraudanalyzer"
)

func hasPattern(flags []fraudanalyzer.Flag, pattern string) bool {
	for _, f := range flags {
		if f.Pattern == pattern {
			return true
		}
	}
	return false
}

func TestEvaluate_RapidScansTrigger(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var result fraudanalyzer.Result
	for i := 0; i < 5; i++ {
		result = a.Evaluate(fraudanalyzer.ScanEvent{
			TicketID:  "T1",
			IPAddress: "10.0.0.1",
			Location:  "Gate A",
			ScannedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	require.True(t, hasPattern(result.FraudFlags, "rapid_scans"))
	require.True(t, result.IsSuspicious)
	require.GreaterOrEqual(t, result.RiskScore, 40)
}

func TestEvaluate_LocationHoppingTrigger(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	locations := []string{"Gate A", "Gate B", "Gate C"}
	var result fraudanalyzer.Result
	for i, loc := range locations {
		result = a.Evaluate(fraudanalyzer.ScanEvent{
			TicketID:  "T2",
			IPAddress: "10.0.0.2",
			Location:  loc,
			ScannedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	require.True(t, hasPattern(result.FraudFlags, "location_hopping"))
}

func TestEvaluate_VolumeAnomalyTrigger(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var result fraudanalyzer.Result
	for i := 0; i < 100; i++ {
		result = a.Evaluate(fraudanalyzer.ScanEvent{
			TicketID:  "ticket-varies",
			IPAddress: "10.0.0.3",
			ScannedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	require.True(t, hasPattern(result.FraudFlags, "volume_anomaly"))
}

func TestEvaluate_OffHoursTrigger(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	result := a.Evaluate(fraudanalyzer.ScanEvent{
		TicketID:  "T3",
		IPAddress: "10.0.0.4",
		ScannedAt: time.Date(2026, 1, 1, 3, 30, 0, 0, time.Local),
	})

	require.True(t, hasPattern(result.FraudFlags, "off_hours"))
}

func TestEvaluate_MetadataAnomaly_BotAndPrivateIP(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	result := a.Evaluate(fraudanalyzer.ScanEvent{
		TicketID:  "T4",
		IPAddress: "192.168.1.5",
		UserAgent: "curl/8.0",
		ScannedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})

	require.True(t, hasPattern(result.FraudFlags, "metadata_anomaly"))
}

func TestEvaluate_NoPatternsMeansNotSuspicious(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	result := a.Evaluate(fraudanalyzer.ScanEvent{
		TicketID:  "T5",
		IPAddress: "203.0.113.5",
		Location:  "Gate A",
		UserAgent: "Mozilla/5.0",
		ScannedAt: time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
	})

	require.False(t, result.IsSuspicious)
	require.Empty(t, result.FraudFlags)
	require.Zero(t, result.RiskScore)
}

func TestRecommendationsFor_Thresholds(t *testing.T) {
	a := fraudanalyzer.New()
	defer a.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var result fraudanalyzer.Result
	for i := 0; i < 5; i++ {
		result = a.Evaluate(fraudanalyzer.ScanEvent{
			TicketID:  "T6",
			IPAddress: "10.0.0.6",
			Location:  "Gate A",
			ScannedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	require.Contains(t, result.Recommendations, "increase_monitoring")
}
