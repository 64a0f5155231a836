package domain

import (
	"time"
)

// Severity classifies how serious a detection or anomaly is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// DetectionResult is the output of a single pattern detector.
type DetectionResult struct {
	ID          string    `json:"id"`
	PatternID   string    `json:"patternId"`
	PatternName string    `json:"patternName"`
	ThreatType  string    `json:"threatType"`
	Severity    Severity  `json:"severity"`
	Confidence  float64   `json:"confidence"` // 0-100
	RiskScore   float64   `json:"riskScore"`  // 0-100
	Description string    `json:"description"`
	Immediate   bool      `json:"immediate"` // requires immediate response
	SourceIP    string    `json:"sourceIp,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Evidence holds a bounded sample of the events that triggered the
	// detection, capped per detector so payloads stay small.
	Evidence []NetworkEvent `json:"evidenceEvents,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ModelScore is one ensemble member's contribution to a prediction.
type ModelScore struct {
	Model       string  `json:"model"`
	Prediction  float64 `json:"prediction"` // 0-1
	Confidence  float64 `json:"confidence"` // 0-1
	Uncertainty float64 `json:"uncertainty"`
	Weight      float64 `json:"weight"`
}

// EnsemblePrediction is the combined output of the model ensemble.
type EnsemblePrediction struct {
	Score              float64      `json:"score"` // 0-1
	ConfidenceInterval [2]float64   `json:"confidenceInterval"`
	ThreatType         string       `json:"threatType"`
	Models             []ModelScore `json:"models"`
}

// Verdict is the aggregated assessment for a single event, combining the
// ensemble prediction with pattern detections.
type Verdict struct {
	ID           string    `json:"id"`
	EventID      string    `json:"eventId"`
	SourceIP     string    `json:"sourceIp"`
	RiskScore    float64   `json:"riskScore"` // 0-100
	Severity     Severity  `json:"severity"`
	Confidence   float64   `json:"confidence"` // 0-100
	ThreatType   string    `json:"threatType"`
	TimeToImpact int       `json:"timeToImpactMinutes"`
	Timestamp    time.Time `json:"timestamp"`

	Indicators  []string            `json:"indicators,omitempty"`
	Mitigations []string            `json:"mitigations,omitempty"`
	Detections  []DetectionResult   `json:"detections,omitempty"`
	Prediction  *EnsemblePrediction `json:"prediction,omitempty"`

	// Degraded is set when the verdict was produced from partial inputs,
	// e.g. after a deadline expired mid-analysis.
	Degraded bool `json:"degraded,omitempty"`
}

// ThreatStatistics is a rollup over recent verdicts.
type ThreatStatistics struct {
	Total       int               `json:"total"`
	BySeverity  map[string]int    `json:"bySeverity"`
	TopTypes    []ThreatTypeCount `json:"topTypes"`
	AverageRisk float64           `json:"averageRisk"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// ThreatTypeCount pairs a threat type with its occurrence count.
type ThreatTypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// SeverityForRisk maps a 0-100 risk score onto a severity band.
func SeverityForRisk(risk float64) Severity {
	switch {
	case risk >= 80:
		return SeverityCritical
	case risk >= 60:
		return SeverityHigh
	case risk >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
