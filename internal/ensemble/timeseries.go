package ensemble

import (
	"math"
	"time"

	"github.com/perimetra/kestrel/internal/scoring"
)

// ForecastPoint is one step of a short-horizon threat level forecast.
type ForecastPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	PredictedThreat float64   `json:"predictedThreat"`
	Confidence      float64   `json:"confidence"`
}

// TrendAnalysis summarizes the recent trajectory of threat levels.
type TrendAnalysis struct {
	Trend      string          `json:"trend"`
	Volatility float64         `json:"volatility"`
	Forecast   []ForecastPoint `json:"forecast,omitempty"`
}

// forecastInterval spaces the forecast points.
const forecastInterval = 5 * time.Minute

// AnalyzeTrend fits a regression over a threat level series and projects
// five points ahead. Fewer than three samples yield a stable trend with
// no forecast.
func AnalyzeTrend(levels []float64, now time.Time) TrendAnalysis {
	if len(levels) < 3 {
		return TrendAnalysis{Trend: "stable"}
	}

	fit := scoring.FitLinear(levels)
	n := len(levels)

	forecast := make([]ForecastPoint, 0, 5)
	for i := 1; i <= 5; i++ {
		forecast = append(forecast, ForecastPoint{
			Timestamp:       now.Add(time.Duration(i) * forecastInterval),
			PredictedThreat: scoring.Clamp01(scoring.Mean(levels) + fit.Slope*float64(n+i)),
			Confidence:      math.Max(0.5, 1-fit.Volatility-float64(i)*0.1),
		})
	}

	return TrendAnalysis{
		Trend:      fit.Trend(),
		Volatility: fit.Volatility,
		Forecast:   forecast,
	}
}
