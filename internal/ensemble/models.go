package ensemble

import (
	"math"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

// Model names used as weight table keys.
const (
	ModelNeuralNetwork    = "neural_network"
	ModelRandomForest     = "random_forest"
	ModelSVM              = "svm"
	ModelGradientBoosting = "gradient_boosting"
)

// neuralPredict runs the fixed two-layer perceptron.
func neuralPredict(f *domain.ThreatFeatures) domain.ModelScore {
	h1 := [3]float64{
		0.3*f.IPReputation + 0.2*f.RequestFrequency + 0.1*f.TimeOfDay,
		0.25*f.PayloadSize + 0.15*f.SessionDuration + 0.2*f.FailedAttempts,
		0.1*f.GeographicRisk + 0.3*f.ProtocolAnomaly + 0.2*f.UserAgentEntropy,
	}
	h2 := [2]float64{
		0.4*scoring.Tanh(h1[0]) + 0.3*scoring.Tanh(h1[1]),
		0.35*scoring.Tanh(h1[1]) + 0.25*scoring.Tanh(h1[2]),
	}
	out := scoring.Sigmoid(0.6*h2[0] + 0.4*h2[1])
	conf := 1 - math.Abs(0.5-out)*2

	return domain.ModelScore{
		Model:       ModelNeuralNetwork,
		Prediction:  out,
		Confidence:  conf,
		Uncertainty: (1 - conf) * 0.1,
	}
}

// forestPredict averages four fixed decision stumps.
func forestPredict(f *domain.ThreatFeatures) domain.ModelScore {
	trees := [4]float64{}

	// Reputation and geography
	if f.IPReputation > 0.6 && f.GeographicRisk > 0.5 {
		trees[0] = 0.8
	} else {
		trees[0] = 0.2
	}
	// Request behavior
	if f.RequestFrequency > 0.7 || f.FailedAttempts > 0.6 {
		trees[1] = 0.75
	} else {
		trees[1] = 0.25
	}
	// Payload and protocol
	if f.PayloadSize > 0.8 && f.ProtocolAnomaly > 0.4 {
		trees[2] = 0.9
	} else {
		trees[2] = 0.1
	}
	// Off-hours timing
	if f.TimeOfDay < 0.2 || f.TimeOfDay > 0.9 {
		trees[3] = 0.6
	} else {
		trees[3] = 0.3
	}

	pred := scoring.Mean(trees[:])
	variance := scoring.Variance(trees[:])

	return domain.ModelScore{
		Model:       ModelRandomForest,
		Prediction:  pred,
		Confidence:  1 - math.Sqrt(variance),
		Uncertainty: math.Sqrt(variance),
	}
}

// Reference vectors for the RBF decision boundary. The middle vector
// carries a negative sign (benign side).
var svmReferenceVectors = [3][10]float64{
	{0.8, 0.7, 0.6, 0.5, 0.9, 0.3, 0.8, 0.7, 0.6, 0.8},
	{0.2, 0.1, 0.2, 0.3, 0.1, 0.8, 0.2, 0.1, 0.2, 0.1},
	{0.9, 0.8, 0.9, 0.7, 0.8, 0.2, 0.9, 0.8, 0.9, 0.9},
}

func svmPredict(f *domain.ThreatFeatures) domain.ModelScore {
	vec := f.Slice()
	var kernelSum float64
	for i := range svmReferenceVectors {
		k := scoring.RBFKernel(svmReferenceVectors[i][:], vec)
		if i == 1 {
			k = -k
		}
		kernelSum += k
	}

	conf := math.Min(math.Abs(kernelSum)/float64(len(svmReferenceVectors)), 1)

	return domain.ModelScore{
		Model:       ModelSVM,
		Prediction:  scoring.Sigmoid(kernelSum),
		Confidence:  conf,
		Uncertainty: 1 - conf,
	}
}

// boostingPredict runs four sequential residual corrections from a 0.5
// prior with learning rate 0.1.
func boostingPredict(f *domain.ThreatFeatures) domain.ModelScore {
	const learningRate = 0.1
	pred := 0.5

	pred += learningRate * (f.IPReputation - pred)
	pred += learningRate * (f.RequestFrequency - pred)
	pred += learningRate * (f.FailedAttempts - pred)
	pred += learningRate * ((f.PayloadSize+f.ProtocolAnomaly)/2 - pred)

	pred = scoring.Clamp01(pred)
	conf := 1 - math.Abs(0.5-pred)

	return domain.ModelScore{
		Model:       ModelGradientBoosting,
		Prediction:  pred,
		Confidence:  conf,
		Uncertainty: math.Abs(0.5-pred) * 0.2,
	}
}
