package assess

import (
	"strings"
	"testing"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

func testInput(ensembleScore, patternRisk float64) *Input {
	in := &Input{
		Event:    &domain.NetworkEvent{ID: "evt-1", SourceIP: "203.0.113.5"},
		Features: &domain.ThreatFeatures{IPReputation: 0.3, RequestFrequency: 0.2},
		Prediction: &domain.EnsemblePrediction{
			Score:      ensembleScore,
			ThreatType: "anomalous_traffic",
			Models: []domain.ModelScore{
				{Model: "neural_network", Confidence: 0.8},
				{Model: "random_forest", Confidence: 0.6},
			},
		},
	}
	if patternRisk > 0 {
		in.Detections = []domain.DetectionResult{{
			PatternID:   "brute-force-1",
			PatternName: "Brute Force Authentication",
			ThreatType:  "brute_force",
			RiskScore:   patternRisk,
		}}
	}
	return in
}

func TestAssessBlendsScores(t *testing.T) {
	a := NewAssessor()

	v := a.Assess(testInput(0.5, 80))
	// 0.7*50 + 0.3*80 = 59
	if v.RiskScore != 59 {
		t.Errorf("riskScore = %v, want 59", v.RiskScore)
	}
	if v.Severity != domain.SeverityMedium {
		t.Errorf("severity = %v, want MEDIUM", v.Severity)
	}
	if v.ThreatType != "brute_force" {
		t.Errorf("threatType = %q, want brute_force from strongest detection", v.ThreatType)
	}
}

func TestAssessClampsScore(t *testing.T) {
	a := NewAssessor()
	v := a.Assess(testInput(1.0, 100))
	if v.RiskScore != 100 {
		t.Errorf("riskScore = %v, want clamped 100", v.RiskScore)
	}
	if v.Confidence > 95 {
		t.Errorf("confidence = %v, want capped at 95", v.Confidence)
	}
}

func TestAssessNoDetections(t *testing.T) {
	a := NewAssessor()
	v := a.Assess(testInput(0.4, 0))
	// 0.7*40 = 28
	if v.RiskScore != 28 {
		t.Errorf("riskScore = %v, want 28", v.RiskScore)
	}
	if v.ThreatType != "anomalous_traffic" {
		t.Errorf("threatType = %q, want ensemble classification", v.ThreatType)
	}
	if v.Severity != domain.SeverityLow {
		t.Errorf("severity = %v, want LOW", v.Severity)
	}
}

func TestMitigations(t *testing.T) {
	t.Run("PlaybookLookup", func(t *testing.T) {
		steps := mitigations("brute_force", 50)
		if len(steps) == 0 {
			t.Fatal("expected mitigation steps")
		}
		if strings.HasPrefix(steps[0], "IMMEDIATE ACTION REQUIRED") {
			t.Errorf("unexpected escalation prefix at risk 50: %q", steps[0])
		}
	})

	t.Run("EscalationPrefix", func(t *testing.T) {
		steps := mitigations("ddos", 90)
		if !strings.HasPrefix(steps[0], "IMMEDIATE ACTION REQUIRED: ") {
			t.Errorf("missing escalation prefix: %q", steps[0])
		}
	})

	t.Run("UnknownTypeFallsBack", func(t *testing.T) {
		steps := mitigations("no_such_type", 20)
		if len(steps) != len(defaultMitigations) {
			t.Errorf("got %d steps, want default playbook", len(steps))
		}
	})
}

func TestTimeToImpact(t *testing.T) {
	pred := &domain.EnsemblePrediction{
		Models: []domain.ModelScore{{Confidence: 0.5}},
	}

	tests := []struct {
		name     string
		features domain.ThreatFeatures
		want     int
	}{
		// base 60 * (1 - 0.5 + 0.5) = 60
		{"Base", domain.ThreatFeatures{RequestFrequency: 0.1}, 60},
		// halved for high frequency
		{"HighFrequency", domain.ThreatFeatures{RequestFrequency: 0.9}, 30},
		// halved twice
		{"FrequencyAndReputation", domain.ThreatFeatures{RequestFrequency: 0.9, IPReputation: 0.8}, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := timeToImpact(50, &tt.features, pred); got != tt.want {
				t.Errorf("timeToImpact = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("GeographicStretch", func(t *testing.T) {
		f := domain.ThreatFeatures{GeographicRisk: 0.8, RequestFrequency: 0.1}
		if got := timeToImpact(50, &f, pred); got != 90 {
			t.Errorf("timeToImpact = %d, want 90", got)
		}
	})

	t.Run("Floor", func(t *testing.T) {
		f := domain.ThreatFeatures{RequestFrequency: 0.9, IPReputation: 0.9}
		confident := &domain.EnsemblePrediction{
			Models: []domain.ModelScore{{Confidence: 1.0}},
		}
		// 60/2/2 * 0.5 = 7.5, above the floor; crank it below with more confidence.
		if got := timeToImpact(95, &f, confident); got < 5 {
			t.Errorf("timeToImpact = %d, want >= 5", got)
		}
	})
}

func TestStatistics(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	verdicts := []*domain.Verdict{
		{Severity: domain.SeverityHigh, ThreatType: "brute_force", RiskScore: 70},
		{Severity: domain.SeverityHigh, ThreatType: "brute_force", RiskScore: 65},
		{Severity: domain.SeverityLow, ThreatType: "ddos", RiskScore: 15},
	}

	stats := Statistics(verdicts, now)
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.BySeverity["HIGH"] != 2 || stats.BySeverity["LOW"] != 1 {
		t.Errorf("bySeverity = %v", stats.BySeverity)
	}
	if stats.AverageRisk != 50 {
		t.Errorf("averageRisk = %v, want 50", stats.AverageRisk)
	}
	if len(stats.TopTypes) == 0 || stats.TopTypes[0].Type != "brute_force" {
		t.Errorf("topTypes = %v, want brute_force first", stats.TopTypes)
	}

	t.Run("Empty", func(t *testing.T) {
		stats := Statistics(nil, now)
		if stats.Total != 0 || stats.AverageRisk != 0 {
			t.Errorf("empty stats = %+v", stats)
		}
	})
}
