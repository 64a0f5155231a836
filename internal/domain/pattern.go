package domain

import "time"

// PatternRule is an operator-defined detection rule evaluated against
// per-source traffic aggregates.
type PatternRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ThreatType  string `json:"threatType"`
	Version     string `json:"version"`

	// CEL expression over traffic aggregates. Must evaluate to bool.
	// Available variables: request_count, total_bytes, failed_logins,
	// unique_destinations, window_seconds, internal_ratio.
	Expression string `json:"expression"`

	// Scores assigned when the expression matches.
	RiskScore  float64  `json:"riskScore"`  // 0-100
	Confidence float64  `json:"confidence"` // 0-100
	Severity   Severity `json:"severity"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// TrafficAggregate summarizes one source's recent events for custom rule
// evaluation.
type TrafficAggregate struct {
	SourceIP           string  `json:"sourceIp"`
	RequestCount       int     `json:"requestCount"`
	TotalBytes         int64   `json:"totalBytes"`
	FailedLogins       int     `json:"failedLogins"`
	UniqueDestinations int     `json:"uniqueDestinations"`
	WindowSeconds      float64 `json:"windowSeconds"`
	InternalRatio      float64 `json:"internalRatio"`
}
