package fraudanalyzer

import (
	"fmt"
	"time"
)

func trimWindow(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func capTimes(ts []time.Time) []time.Time {
	if len(ts) > maxHistoryPerKey {
		return ts[len(ts)-maxHistoryPerKey:]
	}
	return ts
}

func capRecords(rs []scanRecord) []scanRecord {
	if len(rs) > maxHistoryPerKey {
		return rs[len(rs)-maxHistoryPerKey:]
	}
	return rs
}

// evalRapidScans: ticketId+ip, 10s window, ≥5 events, score 40.
func (a *Analyzer) evalRapidScans(event ScanEvent, now time.Time) (Flag, bool) {
	key := event.TicketID + "|" + event.IPAddress
	window := 10 * time.Second

	hist := trimWindow(a.byTicketIP[key], now.Add(-window))
	hist = append(hist, now)
	a.byTicketIP[key] = capTimes(hist)
	a.touched[key] = now

	if len(hist) >= 5 {
		return Flag{
			Pattern:  "rapid_scans",
			Severity: "high",
			Score:    40,
			Details:  map[string]any{"count": len(hist), "windowSeconds": 10},
		}, true
	}
	return Flag{}, false
}

// evalLocationHopping: ticketId, 5min window, ≥3 distinct locations, score 30.
func (a *Analyzer) evalLocationHopping(event ScanEvent, now time.Time) (Flag, bool) {
	window := 5 * time.Minute
	cutoff := now.Add(-window)

	recs := a.byTicket[event.TicketID]
	kept := recs[:0]
	for _, r := range recs {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	kept = append(kept, scanRecord{at: now, location: event.Location})
	a.byTicket[event.TicketID] = capRecords(kept)
	a.touched[event.TicketID] = now

	distinct := map[string]struct{}{}
	for _, r := range kept {
		if r.location != "" {
			distinct[r.location] = struct{}{}
		}
	}
	if len(distinct) >= 3 {
		return Flag{
			Pattern:  "location_hopping",
			Severity: "medium",
			Score:    30,
			Details:  map[string]any{"distinctLocations": len(distinct)},
		}, true
	}
	return Flag{}, false
}

// evalVolumeAnomaly: ip, 1h window, ≥100 events, score 50.
func (a *Analyzer) evalVolumeAnomaly(event ScanEvent, now time.Time) (Flag, bool) {
	if event.IPAddress == "" {
		return Flag{}, false
	}
	window := time.Hour
	const threshold = 100
	hist := trimWindow(a.byIP[event.IPAddress], now.Add(-window))
	hist = append(hist, now)
	// Capped at the threshold rather than maxHistoryPerKey, which is
	// below it and would keep the trigger from ever being reached.
	if len(hist) > threshold {
		hist = hist[len(hist)-threshold:]
	}
	a.byIP[event.IPAddress] = hist
	a.touched["ip:"+event.IPAddress] = now

	if len(hist) >= threshold {
		return Flag{
			Pattern:  "volume_anomaly",
			Severity: "high",
			Score:    50,
			Details:  map[string]any{"count": len(hist), "windowMinutes": 60},
		}, true
	}
	return Flag{}, false
}

// evalOffHours: local hour in [2,5], score 20. Stateless — no history key.
func evalOffHours(now time.Time) (Flag, bool) {
	hour := now.Local().Hour()
	if hour >= 2 && hour <= 5 {
		return Flag{
			Pattern:  "off_hours",
			Severity: "low",
			Score:    20,
			Details:  map[string]any{"hour": hour},
		}, true
	}
	return Flag{}, false
}

// evalCyclicScans: ticketId, last 10 inter-scan intervals, variance <
// 0.2·mean, score 25. Reads the same per-ticket history evalLocationHopping
// just wrote, so it must run after it within Evaluate's lock.
func (a *Analyzer) evalCyclicScans(event ScanEvent) (Flag, bool) {
	recs := a.byTicket[event.TicketID]
	if len(recs) < 5 {
		return Flag{}, false
	}

	tail := recs
	if len(tail) > maxIntervals+1 {
		tail = tail[len(tail)-(maxIntervals+1):]
	}

	intervals := make([]float64, 0, len(tail)-1)
	for i := 1; i < len(tail); i++ {
		intervals = append(intervals, tail[i].at.Sub(tail[i-1].at).Seconds())
	}
	if len(intervals) < 4 {
		return Flag{}, false
	}

	mean := 0.0
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))
	if mean == 0 {
		return Flag{}, false
	}

	variance := 0.0
	for _, v := range intervals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(intervals))

	if variance < 0.2*mean {
		return Flag{
			Pattern:  "cyclic_scans",
			Severity: "medium",
			Score:    25,
			Details:  map[string]any{"intervalCount": len(intervals), "meanSeconds": mean, "variance": variance},
		}, true
	}
	return Flag{}, false
}

// evalMetadataAnomaly: bot-like UA, private IP, clock skew > 60s. Each
// contributes its own weight, summed and capped to the spec's 10–25
// range. Stateless.
func evalMetadataAnomaly(event ScanEvent, now time.Time) (Flag, bool) {
	score := 0
	reasons := []string{}

	if isBotUserAgent(event.UserAgent) {
		score += 10
		reasons = append(reasons, "bot-like user agent")
	}
	if isPrivateIP(event.IPAddress) {
		score += 8
		reasons = append(reasons, "private ip address")
	}
	if !event.DeviceTimestamp.IsZero() {
		skew := now.Sub(event.DeviceTimestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > 60*time.Second {
			score += 7
			reasons = append(reasons, fmt.Sprintf("clock skew %.0fs", skew.Seconds()))
		}
	}

	if score == 0 {
		return Flag{}, false
	}
	if score < 10 {
		score = 10
	}
	if score > 25 {
		score = 25
	}

	return Flag{
		Pattern:  "metadata_anomaly",
		Severity: "low",
		Score:    score,
		Details:  map[string]any{"reasons": reasons},
	}, true
}
