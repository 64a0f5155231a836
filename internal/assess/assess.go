// Package assess combines the model ensemble's prediction with pattern
// detections into a final per-event verdict.
package assess

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/ensemble"
	"github.com/perimetra/kestrel/internal/scoring"
)

// Blend weights between ensemble score and pattern risk.
const (
	ensembleWeight = 0.7
	patternWeight  = 0.3
)

// Assessor produces verdicts from analysis inputs.
type Assessor struct{}

// NewAssessor creates an Assessor.
func NewAssessor() *Assessor {
	return &Assessor{}
}

// Input carries everything known about one analyzed event.
type Input struct {
	Event      *domain.NetworkEvent
	Features   *domain.ThreatFeatures
	Prediction *domain.EnsemblePrediction
	Detections []domain.DetectionResult
}

// Assess blends the ensemble prediction with the strongest pattern
// detection into a single 0-100 verdict.
func (a *Assessor) Assess(input *Input) *domain.Verdict {
	maxPatternRisk := 0.0
	for _, d := range input.Detections {
		if d.RiskScore > maxPatternRisk {
			maxPatternRisk = d.RiskScore
		}
	}

	combined := scoring.Clamp(
		ensembleWeight*input.Prediction.Score*100+patternWeight*maxPatternRisk,
		0, 100)

	threatType := input.Prediction.ThreatType
	// A strong pattern match names the threat better than feature groups.
	for _, d := range input.Detections {
		if d.RiskScore == maxPatternRisk && maxPatternRisk > 0 {
			threatType = d.ThreatType
			break
		}
	}

	_, indicators := ensemble.HeuristicRisk(input.Features)
	for _, d := range input.Detections {
		indicators = append(indicators, d.PatternName)
	}

	v := &domain.Verdict{
		ID:           uuid.NewString(),
		EventID:      input.Event.ID,
		SourceIP:     input.Event.SourceIP,
		RiskScore:    combined,
		Severity:     domain.SeverityForRisk(combined),
		Confidence:   scoring.Clamp(math.Max(60, combined+10), 0, 95),
		ThreatType:   threatType,
		TimeToImpact: timeToImpact(combined, input.Features, input.Prediction),
		Timestamp:    time.Now().UTC(),
		Indicators:   indicators,
		Mitigations:  mitigations(threatType, combined),
		Detections:   input.Detections,
		Prediction:   input.Prediction,
		Degraded:     input.Features.Degraded,
	}
	return v
}

// timeToImpact estimates minutes until the threat matters. Fast request
// rates and bad reputations shrink it, a dominant geographic signal
// stretches it, and low model confidence pads it.
func timeToImpact(risk float64, f *domain.ThreatFeatures, pred *domain.EnsemblePrediction) int {
	minutes := 60.0

	if f.RequestFrequency > 0.5 {
		minutes /= 2
	}
	if f.IPReputation > 0.7 {
		minutes /= 2
	}
	if geographicDominates(f) {
		minutes *= 1.5
	}

	minutes *= 1 - ensemble.AvgConfidence(pred) + 0.5

	if minutes < 5 {
		minutes = 5
	}
	return int(math.Round(minutes))
}

// geographicDominates reports whether geography is the strongest feature
// signal.
func geographicDominates(f *domain.ThreatFeatures) bool {
	for _, v := range f.Slice() {
		if v > f.GeographicRisk {
			return false
		}
	}
	return f.GeographicRisk > 0
}

// Mitigation playbook per threat type.
var mitigationPlaybook = map[string][]string{
	"brute_force": {
		"block the source address at the perimeter",
		"force password rotation for targeted accounts",
		"enable login throttling on exposed services",
	},
	"ddos": {
		"enable upstream rate limiting",
		"activate traffic scrubbing",
		"scale out affected edge capacity",
	},
	"malware_c2": {
		"isolate the communicating hosts",
		"block the destination addresses",
		"run a forensic malware scan",
	},
	"malware_delivery": {
		"quarantine the delivered payloads",
		"block the source address",
		"sweep endpoints for execution artifacts",
	},
	"insider_threat": {
		"review the user's access permissions",
		"enable enhanced session recording",
		"notify the security review board",
	},
	"ransomware": {
		"isolate affected file servers immediately",
		"verify backup integrity",
		"suspend the implicated credentials",
	},
	"known_bad_actor": {
		"block the source address",
		"audit recent sessions from this address",
	},
	"traffic_anomaly": {
		"verify whether the traffic shift is legitimate",
		"tighten monitoring on the affected segment",
	},
}

var defaultMitigations = []string{
	"increase monitoring on the affected assets",
	"review recent authentication and access logs",
}

// mitigations returns the playbook for a threat type. Above the critical
// band the first step carries an escalation prefix.
func mitigations(threatType string, risk float64) []string {
	steps, ok := mitigationPlaybook[threatType]
	if !ok {
		steps = defaultMitigations
	}
	out := make([]string, len(steps))
	copy(out, steps)
	if risk > 80 && len(out) > 0 {
		out[0] = "IMMEDIATE ACTION REQUIRED: " + out[0]
	}
	return out
}

// Statistics rolls up recent verdicts into counts by severity, top threat
// types and the mean risk.
func Statistics(verdicts []*domain.Verdict, now time.Time) domain.ThreatStatistics {
	stats := domain.ThreatStatistics{
		Total:       len(verdicts),
		BySeverity:  map[string]int{},
		GeneratedAt: now,
	}

	typeCounts := map[string]int{}
	var riskSum float64
	for _, v := range verdicts {
		stats.BySeverity[string(v.Severity)]++
		typeCounts[v.ThreatType]++
		riskSum += v.RiskScore
	}
	if len(verdicts) > 0 {
		stats.AverageRisk = riskSum / float64(len(verdicts))
	}

	for _, typ := range scoring.TopCounts(typeCounts, 5) {
		stats.TopTypes = append(stats.TopTypes, domain.ThreatTypeCount{
			Type:  typ,
			Count: typeCounts[typ],
		})
	}
	return stats
}
