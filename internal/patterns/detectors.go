package patterns

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

// Authentication service ports watched by the brute force detector.
func isAuthAttempt(e *domain.NetworkEvent) bool {
	if e.Port == 22 || e.Port == 21 || e.Port == 3389 {
		return true
	}
	return e.UserAgent != "" && strings.EqualFold(e.Protocol, "https")
}

// evidence copies up to max of the triggering events into a detection.
func evidence(events []*domain.NetworkEvent, max int) []domain.NetworkEvent {
	if len(events) > max {
		events = events[:max]
	}
	out := make([]domain.NetworkEvent, len(events))
	for i, e := range events {
		out[i] = *e
	}
	return out
}

func evidenceValues(events []domain.NetworkEvent, max int) []domain.NetworkEvent {
	if len(events) > max {
		events = events[:max]
	}
	return append([]domain.NetworkEvent(nil), events...)
}

const bruteForceThreshold = 10

func (m *Matcher) detectBruteForce(events []domain.NetworkEvent) []domain.DetectionResult {
	bySource := map[string][]*domain.NetworkEvent{}
	for i := range events {
		e := &events[i]
		if isAuthAttempt(e) {
			bySource[e.SourceIP] = append(bySource[e.SourceIP], e)
		}
	}

	var results []domain.DetectionResult
	for sourceIP, attempts := range bySource {
		if len(attempts) < bruteForceThreshold {
			continue
		}

		first, last := attempts[0].Timestamp, attempts[0].Timestamp
		for _, e := range attempts {
			if e.Timestamp.Before(first) {
				first = e.Timestamp
			}
			if e.Timestamp.After(last) {
				last = e.Timestamp
			}
		}
		windowMinutes := last.Sub(first).Minutes()
		risk := bruteForceRisk(len(attempts), windowMinutes)

		d := newDetection(builtinPatterns["brute-force-1"])
		d.SourceIP = sourceIP
		d.Confidence = math.Min(95, 60+float64(len(attempts))*2)
		d.RiskScore = risk
		d.Severity = severityOver(risk, 80, 60)
		d.Immediate = risk > 75
		d.Timestamp = last
		d.Evidence = evidence(attempts, 10)
		d.Description = fmt.Sprintf("block source %s and investigate affected accounts", sourceIP)
		d.Metadata = map[string]interface{}{
			"sourceIp":               sourceIP,
			"attemptCount":           len(attempts),
			"timeWindowMinutes":      math.Round(windowMinutes),
			"averageAttemptInterval": math.Round(windowMinutes / float64(len(attempts)) * 60),
		}
		results = append(results, d)
	}
	return results
}

// bruteForceRisk scales with attempt count and compresses the score into
// the critical band for tight time windows. At the detection threshold a
// sub-5-minute burst already lands above the immediate-action bar.
func bruteForceRisk(attempts int, windowMinutes float64) float64 {
	base := math.Min(50, float64(attempts)*3)
	multiplier := 1.0
	switch {
	case windowMinutes < 5:
		multiplier = 2
	case windowMinutes < 15:
		multiplier = 1.5
	}
	return math.Min(100, base*multiplier)
}

const (
	floodRateThreshold  = 100
	floodBytesThreshold = 5_000_000
)

func (m *Matcher) detectFlood(events []domain.NetworkEvent) []domain.DetectionResult {
	type sourceTraffic struct {
		events     []*domain.NetworkEvent
		totalBytes int64
	}
	bySource := map[string]*sourceTraffic{}
	for i := range events {
		e := &events[i]
		st := bySource[e.SourceIP]
		if st == nil {
			st = &sourceTraffic{}
			bySource[e.SourceIP] = st
		}
		st.events = append(st.events, e)
		st.totalBytes += int64(e.PayloadSize)
	}

	var results []domain.DetectionResult
	for sourceIP, st := range bySource {
		rate := len(st.events)
		if rate <= floodRateThreshold && st.totalBytes <= floodBytesThreshold {
			continue
		}
		avgSize := float64(st.totalBytes) / float64(rate)
		risk := floodRisk(rate, st.totalBytes, avgSize)

		d := newDetection(builtinPatterns["ddos-1"])
		d.SourceIP = sourceIP
		d.Confidence = math.Min(95, 70+float64(rate)/10)
		d.RiskScore = risk
		d.Severity = domain.SeverityHigh
		if risk > 85 {
			d.Severity = domain.SeverityCritical
		}
		d.Immediate = risk > 80
		d.Timestamp = st.events[len(st.events)-1].Timestamp
		d.Evidence = evidence(st.events, 20)
		d.Description = fmt.Sprintf("rate limit %s and block if the flood continues", sourceIP)
		d.Metadata = map[string]interface{}{
			"sourceIp":           sourceIP,
			"requestRate":        rate,
			"totalBytes":         st.totalBytes,
			"averageRequestSize": math.Round(avgSize),
		}
		results = append(results, d)
	}
	return results
}

func floodRisk(rate int, totalBytes int64, avgSize float64) float64 {
	rateScore := math.Min(40, float64(rate)/5)
	volumeScore := math.Min(40, float64(totalBytes)/100000)
	patternScore := 0.0
	if avgSize < 100 {
		// Many tiny requests point at a synthetic flood.
		patternScore = 20
	}
	return math.Min(100, rateScore+volumeScore+patternScore)
}

var suspiciousPayloadPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)exec\(`),
	regexp.MustCompile(`(?i)system\(`),
	regexp.MustCompile(`(?i)cmd\.exe`),
	regexp.MustCompile(`(?i)powershell`),
	regexp.MustCompile(`(?i)<script>`),
	regexp.MustCompile(`(?i)malware`),
	regexp.MustCompile(`(?i)trojan`),
}

func containsSuspiciousPayload(payload string) bool {
	for _, re := range suspiciousPayloadPatterns {
		if re.MatchString(payload) {
			return true
		}
	}
	return false
}

func (m *Matcher) detectMalware(events, window []domain.NetworkEvent) []domain.DetectionResult {
	var suspicious []*domain.NetworkEvent
	for i := range events {
		e := &events[i]
		switch {
		case suspiciousAddresses[e.DestIP]:
			suspicious = append(suspicious, e)
		case e.Payload != "" && containsSuspiciousPayload(e.Payload):
			suspicious = append(suspicious, e)
		case isBeaconing(e, window):
			suspicious = append(suspicious, e)
		}
	}
	if len(suspicious) == 0 {
		return nil
	}

	maliciousCount := 0
	destinations := map[string]bool{}
	for _, e := range suspicious {
		destinations[e.DestIP] = true
		if suspiciousAddresses[e.DestIP] {
			maliciousCount++
		}
	}
	risk := math.Min(100, float64(len(suspicious))*10+float64(maliciousCount)*20)

	d := newDetection(builtinPatterns["malware-1"])
	d.SourceIP = suspicious[0].SourceIP
	d.Confidence = math.Min(90, 50+float64(len(suspicious))*5)
	d.RiskScore = risk
	d.Severity = severityOver(risk, 75, 50)
	d.Immediate = risk > 70
	d.Timestamp = suspicious[len(suspicious)-1].Timestamp
	d.Evidence = evidence(suspicious, 10)
	d.Description = "isolate affected systems and run a malware scan"
	d.Metadata = map[string]interface{}{
		"suspiciousConnectionCount": len(suspicious),
		"uniqueDestinations":        len(destinations),
		"containsMaliciousAddress":  maliciousCount > 0,
	}
	return []domain.DetectionResult{d}
}

// isBeaconing reports whether e belongs to a same-destination series with
// regular intervals, the signature of a command channel checking in.
func isBeaconing(e *domain.NetworkEvent, window []domain.NetworkEvent) bool {
	var sameDest []time.Time
	for i := range window {
		w := &window[i]
		if w.DestIP == e.DestIP && absDuration(w.Timestamp.Sub(e.Timestamp)) < time.Hour {
			sameDest = append(sameDest, w.Timestamp)
		}
	}
	if len(sameDest) < 3 {
		return false
	}

	intervals := make([]float64, 0, len(sameDest)-1)
	for i := 1; i < len(sameDest); i++ {
		intervals = append(intervals, sameDest[i].Sub(sameDest[i-1]).Seconds())
	}
	avg := scoring.Mean(intervals)
	if avg == 0 {
		return false
	}
	return scoring.StdDev(intervals)/avg < 0.3
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (m *Matcher) detectStatisticalAnomalies(events []domain.NetworkEvent) []domain.DetectionResult {
	metrics := currentMetrics(events)

	var results []domain.DetectionResult
	for metric, value := range metrics {
		z, mean, ok := m.baseline.deviation(metric, value)
		if !ok || z <= 2 {
			continue
		}
		risk := math.Min(100, 30+z*15)

		d := newDetection(Pattern{
			ID:         "anomaly-" + metric,
			Name:       "Anomalous " + strings.ReplaceAll(metric, "_", " "),
			ThreatType: "traffic_anomaly",
		})
		d.Confidence = math.Min(90, 60+z*10)
		d.RiskScore = risk
		switch {
		case risk > 70:
			d.Severity = domain.SeverityHigh
		case risk > 40:
			d.Severity = domain.SeverityMedium
		default:
			d.Severity = domain.SeverityLow
		}
		d.Immediate = risk > 75
		d.Timestamp = time.Now().UTC()
		d.Evidence = evidenceValues(events, 5)
		d.Description = fmt.Sprintf("%.1f standard deviations from baseline %s",
			z, strings.ReplaceAll(metric, "_", " "))
		d.Metadata = map[string]interface{}{
			"metric":             metric,
			"currentValue":       value,
			"baselineAverage":    mean,
			"standardDeviations": z,
		}
		results = append(results, d)
	}

	m.baseline.observe(metrics)
	return results
}

const insiderIndicatorThreshold = 2

func (m *Matcher) detectInsiderThreats(events []domain.NetworkEvent) []domain.DetectionResult {
	byUser := map[string][]*domain.NetworkEvent{}
	for i := range events {
		e := &events[i]
		if e.UserID != "" {
			byUser[e.UserID] = append(byUser[e.UserID], e)
		}
	}

	var results []domain.DetectionResult
	for userID, userEvents := range byUser {
		indicators := insiderIndicators(userEvents)
		if len(indicators) <= insiderIndicatorThreshold {
			continue
		}
		risk := insiderRisk(indicators, userEvents)

		d := newDetection(builtinPatterns["insider-1"])
		d.Confidence = math.Min(85, 40+float64(len(indicators))*10)
		d.RiskScore = risk
		d.Severity = severityOver(risk, 80, 60)
		d.Immediate = risk > 85
		d.Timestamp = userEvents[len(userEvents)-1].Timestamp
		d.Evidence = evidence(userEvents, 10)
		d.Description = fmt.Sprintf("review access permissions for user %s and monitor closely", userID)
		d.Metadata = map[string]interface{}{
			"userId":         userID,
			"riskIndicators": indicators,
			"eventCount":     len(userEvents),
			"dataVolume":     totalBytes(userEvents),
		}
		results = append(results, d)
	}
	return results
}

func insiderIndicators(events []*domain.NetworkEvent) []string {
	var indicators []string

	if totalBytes(events) > 50_000_000 {
		indicators = append(indicators, "high data volume transfer")
	}

	offHours := 0
	external := 0
	destinations := map[string]bool{}
	for _, e := range events {
		hour := e.Timestamp.Hour()
		if hour < 6 || hour > 22 {
			offHours++
		}
		if !isInternalAddr(e.DestIP) {
			external++
		}
		destinations[e.DestIP] = true
	}

	n := float64(len(events))
	if float64(offHours) > n*0.4 {
		indicators = append(indicators, "unusual access hours")
	}
	if float64(external) > n*0.6 {
		indicators = append(indicators, "high external communication")
	}
	if len(destinations) > 20 {
		indicators = append(indicators, "multiple destination access")
	}
	return indicators
}

func insiderRisk(indicators []string, events []*domain.NetworkEvent) float64 {
	score := float64(len(indicators)) * 15

	if totalBytes(events) > 10_000_000 {
		score += 25
	}

	offHours := 0
	for _, e := range events {
		hour := e.Timestamp.Hour()
		if hour < 7 || hour > 19 {
			offHours++
		}
	}
	if float64(offHours) > float64(len(events))*0.3 {
		score += 20
	}

	return math.Min(100, score)
}

func totalBytes(events []*domain.NetworkEvent) int64 {
	var sum int64
	for _, e := range events {
		sum += int64(e.PayloadSize)
	}
	return sum
}

func currentMetrics(events []domain.NetworkEvent) map[string]float64 {
	var bytes, authPorts, external float64
	for i := range events {
		e := &events[i]
		bytes += float64(e.PayloadSize)
		if e.Port == 22 || e.Port == 21 || e.Port == 3389 {
			authPorts++
		}
		if !isInternalAddr(e.DestIP) {
			external++
		}
	}
	return map[string]float64{
		"total_bytes":       bytes,
		"total_connections": float64(len(events)),
		"failed_logins":     authPorts,
		"external_requests": external,
	}
}

func severityOver(risk, critical, high float64) domain.Severity {
	switch {
	case risk >= critical:
		return domain.SeverityCritical
	case risk >= high:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}
