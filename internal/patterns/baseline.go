package patterns

import (
	"sync"

	"github.com/perimetra/kestrel/internal/scoring"
)

// baselineWindow bounds the per-metric rolling history.
const baselineWindow = 20

// baselineTracker keeps rolling per-metric histories used by the
// statistical anomaly detector.
type baselineTracker struct {
	mu      sync.Mutex
	metrics map[string][]float64
}

func newBaselineTracker() *baselineTracker {
	// Seeded with representative steady-state periods so the detector
	// is useful before enough live history accumulates.
	return &baselineTracker{
		metrics: map[string][]float64{
			"total_bytes":       {1250000, 1180000, 1320000, 1280000, 1210000},
			"total_connections": {450, 420, 480, 460, 440},
			"failed_logins":     {5, 3, 7, 4, 6},
			"external_requests": {120, 110, 135, 125, 115},
		},
	}
}

// deviation returns the z-score of value against the metric's baseline
// and the baseline mean. ok is false when no history exists.
func (b *baselineTracker) deviation(metric string, value float64) (z, mean float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.metrics[metric]
	if len(history) == 0 {
		return 0, 0, false
	}
	mean = scoring.Mean(history)
	return scoring.ZScore(value, mean, scoring.StdDev(history)), mean, true
}

// observe appends the batch metrics to the rolling histories.
func (b *baselineTracker) observe(metrics map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for metric, value := range metrics {
		history := append(b.metrics[metric], value)
		if len(history) > baselineWindow {
			history = history[len(history)-baselineWindow:]
		}
		b.metrics[metric] = history
	}
}
