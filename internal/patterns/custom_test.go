package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

func testRule(id, expr string) *domain.PatternRule {
	return &domain.PatternRule{
		ID:         id,
		Name:       "Test Rule " + id,
		ThreatType: "custom",
		Expression: expr,
		RiskScore:  70,
		Confidence: 80,
		Severity:   domain.SeverityHigh,
		Enabled:    true,
	}
}

func TestRuleEngineCompile(t *testing.T) {
	engine, err := NewRuleEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"ValidThreshold", "request_count > 100", false},
		{"ValidCompound", "failed_logins > 5 && internal_ratio < 0.5", false},
		{"ValidBytes", "total_bytes > 1000000 && window_seconds < 60.0", false},
		{"NonBoolOutput", "request_count + 1", true},
		{"UnknownVariable", "no_such_var > 1", true},
		{"SyntaxError", "request_count >", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Validate(testRule("r-"+tt.name, tt.expr))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestRuleEngineEvaluate(t *testing.T) {
	engine, err := NewRuleEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.Load(testRule("r-exfil", "total_bytes > 1000000 && unique_destinations > 3")); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	var events []domain.NetworkEvent
	for i := 0; i < 5; i++ {
		events = append(events, domain.NetworkEvent{
			SourceIP:    "10.0.0.9",
			DestIP:      string(rune('a'+i)) + ".example.net",
			PayloadSize: 400_000,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		})
	}

	results, err := engine.Evaluate(context.Background(), events)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d detections, want 1", len(results))
	}
	if results[0].PatternID != "r-exfil" {
		t.Errorf("patternId = %q, want r-exfil", results[0].PatternID)
	}
	if results[0].SourceIP != "10.0.0.9" {
		t.Errorf("sourceIp = %q, want 10.0.0.9", results[0].SourceIP)
	}
}

func TestRuleEngineReload(t *testing.T) {
	engine, err := NewRuleEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if err := engine.Load(testRule("r-1", "request_count > 10")); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.Count() != 1 {
		t.Fatalf("count = %d, want 1", engine.Count())
	}

	disabled := testRule("r-2", "failed_logins > 3")
	disabled.Enabled = false
	if err := engine.Reload([]*domain.PatternRule{
		testRule("r-3", "total_bytes > 500"),
		disabled,
	}); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if engine.Count() != 1 {
		t.Errorf("count after reload = %d, want 1 (disabled rule skipped)", engine.Count())
	}
	if engine.LoadedRules()[0].ID != "r-3" {
		t.Errorf("loaded rule = %q, want r-3", engine.LoadedRules()[0].ID)
	}
}

func TestAggregate(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	events := []domain.NetworkEvent{
		{SourceIP: "10.0.0.9", DestIP: "10.0.0.2", PayloadSize: 100, FailedAttempts: 2, Timestamp: base},
		{SourceIP: "10.0.0.9", DestIP: "8.8.8.8", PayloadSize: 300, Timestamp: base.Add(30 * time.Second)},
		{SourceIP: "172.16.0.3", DestIP: "10.0.0.2", PayloadSize: 50, Timestamp: base},
	}

	aggs := Aggregate(events)
	if len(aggs) != 2 {
		t.Fatalf("got %d aggregates, want 2", len(aggs))
	}

	var nine *domain.TrafficAggregate
	for _, a := range aggs {
		if a.SourceIP == "10.0.0.9" {
			nine = a
		}
	}
	if nine == nil {
		t.Fatal("missing aggregate for 10.0.0.9")
	}
	if nine.RequestCount != 2 || nine.TotalBytes != 400 || nine.FailedLogins != 2 {
		t.Errorf("aggregate = %+v", nine)
	}
	if nine.UniqueDestinations != 2 {
		t.Errorf("uniqueDestinations = %d, want 2", nine.UniqueDestinations)
	}
	if nine.InternalRatio != 0.5 {
		t.Errorf("internalRatio = %v, want 0.5", nine.InternalRatio)
	}
	if nine.WindowSeconds != 30 {
		t.Errorf("windowSeconds = %v, want 30", nine.WindowSeconds)
	}
}
