// Package scoring provides the shared numeric primitives used by the
// detection and verification engines: activations, clamping, weighted
// aggregation, rolling statistics, regression and distance measures.
package scoring

import (
	"math"
	"sort"
)

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to the unit interval.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Sigmoid is the logistic activation.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Tanh is the hyperbolic tangent activation.
func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// RBFKernel computes the radial basis function kernel between two vectors
// with gamma 0.5.
func RBFKernel(a, b []float64) float64 {
	var d2 float64
	for i := range a {
		diff := a[i] - b[i]
		d2 += diff * diff
	}
	return math.Exp(-0.5 * d2)
}

// WeightedSum computes sum(values[i] * weights[i]). Slices must be the
// same length.
func WeightedSum(values, weights []float64) float64 {
	var sum float64
	for i := range values {
		sum += values[i] * weights[i]
	}
	return sum
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the population variance, or 0 for an empty slice.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// ZScore returns |v - mean| / std. A flat baseline (std of exactly 0)
// divides by 1 instead, so the deviation stays finite.
func ZScore(v, mean, std float64) float64 {
	if std == 0 {
		std = 1
	}
	return math.Abs(v-mean) / std
}

// EMA returns the exponential moving average update of prev toward v
// with smoothing factor alpha.
func EMA(prev, v, alpha float64) float64 {
	return prev*(1-alpha) + v*alpha
}

// Euclidean returns the L2 distance between two vectors of equal length.
func Euclidean(a, b []float64) float64 {
	var d2 float64
	for i := range a {
		diff := a[i] - b[i]
		d2 += diff * diff
	}
	return math.Sqrt(d2)
}

// ShannonEntropy computes the Shannon entropy in bits of the byte
// distribution of s.
func ShannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// Trend classification thresholds for the OLS slope.
const slopeThreshold = 0.01

// LinearFit is the result of an ordinary least squares fit over a series
// indexed 0..n-1.
type LinearFit struct {
	Slope      float64
	Intercept  float64
	Volatility float64 // standard deviation of the series
}

// Trend classifies the fitted slope as "increasing", "decreasing" or
// "stable".
func (f LinearFit) Trend() string {
	switch {
	case f.Slope > slopeThreshold:
		return "increasing"
	case f.Slope < -slopeThreshold:
		return "decreasing"
	default:
		return "stable"
	}
}

// Predict extrapolates the fit at step i, clamped to [0, 1].
func (f LinearFit) Predict(i int) float64 {
	return Clamp01(f.Intercept + f.Slope*float64(i))
}

// FitLinear fits y = slope*x + intercept over x = 0..len(values)-1.
// Returns a zero fit for fewer than two points.
func FitLinear(values []float64) LinearFit {
	n := len(values)
	if n < 2 {
		return LinearFit{Intercept: Mean(values)}
	}
	fn := float64(n)
	sumX := fn * (fn - 1) / 2
	sumXX := fn * (fn - 1) * (2*fn - 1) / 6
	var sumY, sumXY float64
	for i, v := range values {
		sumY += v
		sumXY += float64(i) * v
	}
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return LinearFit{Intercept: Mean(values), Volatility: StdDev(values)}
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	return LinearFit{
		Slope:      slope,
		Intercept:  (sumY - slope*sumX) / fn,
		Volatility: StdDev(values),
	}
}

// TopCounts returns the n most frequent keys of counts, ties broken by
// key order for determinism.
func TopCounts(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
