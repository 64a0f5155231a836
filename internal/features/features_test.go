package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

type failingReputation struct{}

func (failingReputation) Lookup(context.Context, string) (float64, error) {
	return 0, errors.New("reputation source unavailable")
}

func baseEvent() *domain.NetworkEvent {
	return &domain.NetworkEvent{
		ID:               "evt-001",
		SourceIP:         "10.0.0.5",
		DestIP:           "10.0.0.9",
		Protocol:         "HTTPS",
		Port:             443,
		PayloadSize:      2048,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64)",
		SessionDuration:  600,
		RequestFrequency: 12,
		FailedAttempts:   1,
		Country:          "DE",
		Timestamp:        time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
}

func TestExtractDeterministic(t *testing.T) {
	extractor := NewExtractor(StaticReputation{"10.0.0.5": 0.4}, nil)
	ctx := context.Background()

	event := baseEvent()
	first := extractor.Extract(ctx, event)
	second := extractor.Extract(ctx, event)

	if first != second {
		t.Errorf("extraction not deterministic: %+v != %+v", first, second)
	}
}

func TestExtractNormalization(t *testing.T) {
	extractor := NewExtractor(StaticReputation{}, nil)
	ctx := context.Background()

	t.Run("AllWithinUnitInterval", func(t *testing.T) {
		event := baseEvent()
		event.RequestFrequency = 100000
		event.PayloadSize = 1 << 30
		event.SessionDuration = 1e9
		event.FailedAttempts = 5000

		f := extractor.Extract(ctx, event)
		for i, v := range f.Slice() {
			if v < 0 || v > 1 {
				t.Errorf("feature %d = %v, want within [0,1]", i, v)
			}
		}
	})

	t.Run("TimeOfDay", func(t *testing.T) {
		event := baseEvent()
		event.Timestamp = time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
		f := extractor.Extract(ctx, event)
		if f.TimeOfDay != 0.25 {
			t.Errorf("TimeOfDay = %v, want 0.25", f.TimeOfDay)
		}
	})

	t.Run("GeographicRisk", func(t *testing.T) {
		tests := []struct {
			country string
			want    float64
		}{
			{"RU", 0.8},
			{"kp", 0.8},
			{"US", 0.2},
			{"", 0.2},
		}
		for _, tt := range tests {
			event := baseEvent()
			event.Country = tt.country
			if f := extractor.Extract(ctx, event); f.GeographicRisk != tt.want {
				t.Errorf("GeographicRisk(%q) = %v, want %v", tt.country, f.GeographicRisk, tt.want)
			}
		}
	})

	t.Run("ProtocolAnomaly", func(t *testing.T) {
		event := baseEvent()
		event.Protocol = "GOPHER"
		if f := extractor.Extract(ctx, event); f.ProtocolAnomaly != 0.8 {
			t.Errorf("ProtocolAnomaly = %v, want 0.8", f.ProtocolAnomaly)
		}
		event.Protocol = "tcp"
		if f := extractor.Extract(ctx, event); f.ProtocolAnomaly != 0.1 {
			t.Errorf("ProtocolAnomaly = %v, want 0.1", f.ProtocolAnomaly)
		}
	})

	t.Run("EmptyUserAgentNeutral", func(t *testing.T) {
		event := baseEvent()
		event.UserAgent = ""
		if f := extractor.Extract(ctx, event); f.UserAgentEntropy != 0.5 {
			t.Errorf("UserAgentEntropy = %v, want 0.5", f.UserAgentEntropy)
		}
	})
}

func TestExtractDegradedOnReputationFailure(t *testing.T) {
	extractor := NewExtractor(failingReputation{}, nil)

	f := extractor.Extract(context.Background(), baseEvent())
	if !f.Degraded {
		t.Error("expected degraded flag after reputation failure")
	}
	if f.IPReputation != 0.15 {
		t.Errorf("IPReputation = %v, want neutral 0.15", f.IPReputation)
	}
}

func TestNetworkPatternScore(t *testing.T) {
	extractor := NewExtractor(StaticReputation{}, nil)
	ctx := context.Background()

	quiet := baseEvent()
	quiet.Port = 8443
	quiet.PayloadSize = 100
	quiet.RequestFrequency = 1

	noisy := baseEvent()
	noisy.Port = 22
	noisy.PayloadSize = 50000
	noisy.RequestFrequency = 50

	fq := extractor.Extract(ctx, quiet)
	fn := extractor.Extract(ctx, noisy)
	if fn.NetworkPatternScore <= fq.NetworkPatternScore {
		t.Errorf("noisy score %v not above quiet score %v",
			fn.NetworkPatternScore, fq.NetworkPatternScore)
	}
}

func TestStaticReputation(t *testing.T) {
	rep := StaticReputation{"1.2.3.4": 0.9}
	ctx := context.Background()

	score, err := rep.Lookup(ctx, "1.2.3.4")
	if err != nil || score != 0.9 {
		t.Errorf("Lookup = %v, %v; want 0.9, nil", score, err)
	}

	score, err = rep.Lookup(ctx, "5.6.7.8")
	if err != nil || score != 0.15 {
		t.Errorf("Lookup unknown = %v, %v; want 0.15, nil", score, err)
	}
}
