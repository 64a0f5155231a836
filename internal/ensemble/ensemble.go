// Package ensemble combines four fixed-form scoring models into a single
// weighted threat prediction.
package ensemble

import (
	"log/slog"
	"sync"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

// DefaultWeights are the initial model weights. They sum to 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		ModelNeuralNetwork:    0.35,
		ModelRandomForest:     0.25,
		ModelSVM:              0.20,
		ModelGradientBoosting: 0.20,
	}
}

// Predictor runs the model ensemble. Safe for concurrent use; weight
// updates are serialized against predictions.
type Predictor struct {
	mu      sync.RWMutex
	weights map[string]float64
	logger  *slog.Logger
}

// NewPredictor creates a Predictor with the default weights.
func NewPredictor(logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{
		weights: DefaultWeights(),
		logger:  logger.With("component", "ensemble"),
	}
}

// Predict scores a feature vector with every model and combines the
// results by the current weights.
func (p *Predictor) Predict(f *domain.ThreatFeatures) *domain.EnsemblePrediction {
	scores := []domain.ModelScore{
		neuralPredict(f),
		forestPredict(f),
		svmPredict(f),
		boostingPredict(f),
	}

	p.mu.RLock()
	var final, weightedUncertainty float64
	for i := range scores {
		w := p.weights[scores[i].Model]
		scores[i].Weight = w
		final += scores[i].Prediction * w
		weightedUncertainty += scores[i].Uncertainty * w
	}
	p.mu.RUnlock()

	return &domain.EnsemblePrediction{
		Score: final,
		ConfidenceInterval: [2]float64{
			scoring.Clamp01(final - weightedUncertainty),
			scoring.Clamp01(final + weightedUncertainty),
		},
		ThreatType: classifyThreatType(f, scores),
		Models:     scores,
	}
}

// minClassifyConfidence gates threat-type naming: when no model reaches it
// the classification is not trustworthy enough to label.
const minClassifyConfidence = 0.6

// UpdateWeights renormalizes the model weights from performance feedback.
// Metric keys that do not name an ensemble model are ignored, so the
// resulting weights always sum to 1. Models missing from metrics drop to
// zero weight. A non-positive total leaves the weights unchanged.
func (p *Predictor) UpdateWeights(metrics map[string]float64) {
	p.mu.Lock()
	var total float64
	for model := range p.weights {
		total += metrics[model]
	}
	if total <= 0 {
		p.mu.Unlock()
		p.logger.Warn("ignoring non-positive performance metrics")
		return
	}

	for model := range p.weights {
		p.weights[model] = metrics[model] / total
	}
	updated := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Info("updated model weights", "weights", updated)
}

// Weights returns a copy of the current weight table.
func (p *Predictor) Weights() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Predictor) snapshotLocked() map[string]float64 {
	out := make(map[string]float64, len(p.weights))
	for k, v := range p.weights {
		out[k] = v
	}
	return out
}

// AvgConfidence returns the mean model confidence of a prediction.
func AvgConfidence(pred *domain.EnsemblePrediction) float64 {
	if len(pred.Models) == 0 {
		return 0
	}
	var sum float64
	for _, m := range pred.Models {
		sum += m.Confidence
	}
	return sum / float64(len(pred.Models))
}

// classifyThreatType names the dominant feature group. When even the most
// confident model stays below minClassifyConfidence the type falls back to
// unknown_threat_pattern.
func classifyThreatType(f *domain.ThreatFeatures, models []domain.ModelScore) string {
	var maxConfidence float64
	for _, m := range models {
		if m.Confidence > maxConfidence {
			maxConfidence = m.Confidence
		}
	}
	if maxConfidence < minClassifyConfidence {
		return "unknown_threat_pattern"
	}

	switch {
	case f.FailedAttempts > 0.5 && f.RequestFrequency > 0.3:
		return "brute_force"
	case f.RequestFrequency > 0.8:
		return "ddos"
	case f.PayloadSize > 0.7 && f.ProtocolAnomaly > 0.4:
		return "malware_delivery"
	case f.IPReputation > 0.7:
		return "known_bad_actor"
	case f.GeographicRisk > 0.5 && f.TimeOfDay < 0.25:
		return "suspicious_origin"
	case f.UserAgentEntropy < 0.2:
		return "automated_scanner"
	default:
		return "anomalous_traffic"
	}
}

// HeuristicRisk computes the additive 0-100 risk score for a feature
// vector, used as a fallback signal and for verdict indicators.
func HeuristicRisk(f *domain.ThreatFeatures) (float64, []string) {
	var risk float64
	var indicators []string

	if f.IPReputation > 0.7 {
		risk += 30
		indicators = append(indicators, "poor source reputation")
	}
	if f.NetworkPatternScore > 0.5 && f.RequestFrequency > 0.1 {
		risk += 25
		indicators = append(indicators, "privileged port scanning pattern")
	}
	if f.PayloadSize > 0.1 && f.RequestFrequency > 0.05 {
		risk += 20
		indicators = append(indicators, "oversized payload stream")
	}
	if f.SessionDuration > 0.5 && f.FailedAttempts > 0.25 {
		risk += 35
		indicators = append(indicators, "persistent failed authentication")
	}
	if f.GeographicRisk > 0.5 {
		risk += 15
		indicators = append(indicators, "high-risk origin country")
	}

	return scoring.Clamp(risk, 0, 100), indicators
}
