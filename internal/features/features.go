// Package features converts raw network events into the normalized
// feature vectors consumed by the model ensemble.
package features

import (
	"context"
	"log/slog"
	"strings"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

// Normalization ceilings. Values at or above the ceiling map to 1.0.
const (
	maxRequestFrequency = 100.0    // requests per minute
	maxPayloadSize      = 100000.0 // bytes
	maxSessionDuration  = 7200.0   // seconds
	maxFailedAttempts   = 20.0
	maxEntropyBits      = 6.0
)

// neutralReputation is substituted when no reputation data is available.
const neutralReputation = 0.15

var highRiskCountries = map[string]bool{
	"RU": true,
	"CN": true,
	"KP": true,
	"IR": true,
}

var knownProtocols = map[string]bool{
	"HTTP":  true,
	"HTTPS": true,
	"TCP":   true,
	"UDP":   true,
}

// ReputationProvider looks up the reputation score of a network address.
// Scores are in [0, 1]; higher is worse.
type ReputationProvider interface {
	Lookup(ctx context.Context, addr string) (float64, error)
}

// Extractor derives ThreatFeatures from NetworkEvents. Extraction is
// deterministic: the same event and reputation data always produce the
// same vector.
type Extractor struct {
	reputation ReputationProvider
	logger     *slog.Logger
}

// NewExtractor creates an Extractor backed by the given reputation source.
func NewExtractor(reputation ReputationProvider, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		reputation: reputation,
		logger:     logger.With("component", "features"),
	}
}

// Extract builds the normalized feature vector for an event. A failed
// reputation lookup degrades to a neutral score and marks the vector,
// never an error.
func (e *Extractor) Extract(ctx context.Context, event *domain.NetworkEvent) domain.ThreatFeatures {
	f := domain.ThreatFeatures{
		RequestFrequency:    scoring.Clamp01(event.RequestFrequency / maxRequestFrequency),
		PayloadSize:         scoring.Clamp01(float64(event.PayloadSize) / maxPayloadSize),
		SessionDuration:     scoring.Clamp01(event.SessionDuration / maxSessionDuration),
		FailedAttempts:      scoring.Clamp01(float64(event.FailedAttempts) / maxFailedAttempts),
		TimeOfDay:           float64(event.Timestamp.Hour()) / 24.0,
		GeographicRisk:      geographicRisk(event.Country),
		ProtocolAnomaly:     protocolAnomaly(event.Protocol),
		UserAgentEntropy:    userAgentEntropy(event.UserAgent),
		NetworkPatternScore: networkPatternScore(event),
	}

	rep, err := e.reputation.Lookup(ctx, event.SourceIP)
	if err != nil {
		e.logger.Warn("reputation lookup failed, using neutral score",
			"sourceIp", event.SourceIP, "error", err)
		rep = neutralReputation
		f.Degraded = true
	}
	f.IPReputation = scoring.Clamp01(rep)

	return f
}

func geographicRisk(country string) float64 {
	if highRiskCountries[strings.ToUpper(country)] {
		return 0.8
	}
	return 0.2
}

func protocolAnomaly(protocol string) float64 {
	if knownProtocols[strings.ToUpper(protocol)] {
		return 0.1
	}
	return 0.8
}

// userAgentEntropy normalizes the Shannon entropy of the user agent
// string. Missing user agents score a neutral 0.5.
func userAgentEntropy(ua string) float64 {
	if ua == "" {
		return 0.5
	}
	return scoring.Clamp01(scoring.ShannonEntropy(ua) / maxEntropyBits)
}

// networkPatternScore combines three weak indicators: privileged port
// usage, oversized payloads and elevated request rates.
func networkPatternScore(event *domain.NetworkEvent) float64 {
	port := 0.2
	if event.Port > 0 && event.Port < 1024 {
		port = 0.6
	}
	payload := 0.1
	if event.PayloadSize > 10000 {
		payload = 0.7
	}
	freq := 0.2
	if event.RequestFrequency > 10 {
		freq = 0.8
	}
	return (port + payload + freq) / 3.0
}
