// Package patterns detects known attack shapes in network event streams:
// brute force, volumetric floods, malware command channels, statistical
// traffic anomalies and insider data movement.
package patterns

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/perimetra/kestrel/internal/domain"
)

// Pattern describes one detector's identity and default scores.
type Pattern struct {
	ID          string
	Name        string
	ThreatType  string
	Severity    domain.Severity
	Confidence  float64
	Description string
	Indicators  []string
}

// Built-in detector patterns.
var builtinPatterns = map[string]Pattern{
	"brute-force-1": {
		ID:          "brute-force-1",
		Name:        "Brute Force Authentication",
		ThreatType:  "brute_force",
		Severity:    domain.SeverityHigh,
		Confidence:  85,
		Description: "Repeated authentication attempts from a single source",
		Indicators:  []string{"repeated failed logins", "single source", "auth service ports"},
	},
	"ddos-1": {
		ID:          "ddos-1",
		Name:        "Volumetric Flood",
		ThreatType:  "ddos",
		Severity:    domain.SeverityCritical,
		Confidence:  90,
		Description: "Abnormal request rate or bandwidth from a single source",
		Indicators:  []string{"high request rate", "bandwidth spike", "small request sizes"},
	},
	"malware-1": {
		ID:          "malware-1",
		Name:        "Malware Command Channel",
		ThreatType:  "malware_c2",
		Severity:    domain.SeverityHigh,
		Confidence:  78,
		Description: "Communication with known-bad hosts or beaconing behavior",
		Indicators:  []string{"known-bad destination", "suspicious payload", "regular beacon intervals"},
	},
	"phishing-1": {
		ID:          "phishing-1",
		Name:        "Credential Phishing",
		ThreatType:  "phishing",
		Severity:    domain.SeverityMedium,
		Confidence:  82,
		Description: "Traffic consistent with credential harvesting",
		Indicators:  []string{"lookalike domains", "credential post", "short-lived hosts"},
	},
	"insider-1": {
		ID:          "insider-1",
		Name:        "Insider Data Movement",
		ThreatType:  "insider_threat",
		Severity:    domain.SeverityCritical,
		Confidence:  70,
		Description: "User activity consistent with data exfiltration",
		Indicators:  []string{"high data volume", "off-hours access", "external destinations"},
	},
	"ransomware-1": {
		ID:          "ransomware-1",
		Name:        "Ransomware Staging",
		ThreatType:  "ransomware",
		Severity:    domain.SeverityCritical,
		Confidence:  95,
		Description: "File access patterns consistent with mass encryption",
		Indicators:  []string{"rapid file writes", "extension churn", "shadow copy deletion"},
	},
}

// Known-bad destinations consulted by the malware detector.
var suspiciousAddresses = map[string]bool{
	"203.0.113.100": true,
	"198.51.100.50": true,
	"192.0.2.200":   true,
}

// Matcher runs the built-in detectors plus any loaded custom rules over
// incoming event batches. It keeps a bounded window of recent events for
// cross-batch correlation.
type Matcher struct {
	mu           sync.Mutex
	recentEvents []domain.NetworkEvent
	windowSize   int
	baseline     *baselineTracker

	custom *RuleEngine
	logger *slog.Logger
}

// NewMatcher creates a Matcher with the given recent-event window size.
func NewMatcher(windowSize int, custom *RuleEngine, logger *slog.Logger) *Matcher {
	if windowSize <= 0 {
		windowSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		windowSize: windowSize,
		baseline:   newBaselineTracker(),
		custom:     custom,
		logger:     logger.With("component", "patterns"),
	}
}

// Analyze runs every detector over the batch and returns all detections.
func (m *Matcher) Analyze(ctx context.Context, events []domain.NetworkEvent) []domain.DetectionResult {
	m.mu.Lock()
	m.recentEvents = append(m.recentEvents, events...)
	if len(m.recentEvents) > m.windowSize {
		m.recentEvents = m.recentEvents[len(m.recentEvents)-m.windowSize:]
	}
	window := make([]domain.NetworkEvent, len(m.recentEvents))
	copy(window, m.recentEvents)
	m.mu.Unlock()

	var results []domain.DetectionResult
	results = append(results, m.detectBruteForce(events)...)
	results = append(results, m.detectFlood(events)...)
	results = append(results, m.detectMalware(events, window)...)
	results = append(results, m.detectStatisticalAnomalies(events)...)
	results = append(results, m.detectInsiderThreats(events)...)

	if m.custom != nil {
		custom, err := m.custom.Evaluate(ctx, events)
		if err != nil {
			m.logger.Warn("custom rule evaluation failed", "error", err)
		}
		results = append(results, custom...)
	}

	if len(results) > 0 {
		m.logger.Debug("pattern analysis complete",
			"events", len(events), "detections", len(results))
	}
	return results
}

// Patterns returns the built-in pattern catalog.
func (m *Matcher) Patterns() []Pattern {
	out := make([]Pattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		out = append(out, p)
	}
	return out
}

func newDetection(p Pattern) domain.DetectionResult {
	return domain.DetectionResult{
		ID:          uuid.NewString(),
		PatternID:   p.ID,
		PatternName: p.Name,
		ThreatType:  p.ThreatType,
		Severity:    p.Severity,
		Confidence:  p.Confidence,
	}
}

func isInternalAddr(ip string) bool {
	return strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "172.") ||
		ip == "127.0.0.1"
}
