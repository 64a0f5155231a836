package behavior

import (
	"sort"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

// minForecastDays is the minimum number of daily samples for a fit.
const minForecastDays = 3

// Forecast projects the identity's anomaly trajectory 7 and 30 days out
// from its daily mean anomaly scores. Thin history yields a stable
// low-confidence forecast.
func (p *Profiler) Forecast(identityID string, now time.Time) domain.RiskForecast {
	s := p.shardFor(identityID)
	s.mu.Lock()
	scores := make([]scoredActivity, len(s.identities[identityID].scoresOrNil()))
	copy(scores, s.identities[identityID].scoresOrNil())
	s.mu.Unlock()

	daily := dailyMeans(scores)
	if len(daily) < minForecastDays {
		return domain.RiskForecast{
			IdentityID:  identityID,
			Trend:       "stable",
			Confidence:  0.3,
			SevenDay:    0.3,
			ThirtyDay:   0.3,
			GeneratedAt: now,
		}
	}

	fit := scoring.FitLinear(daily)
	n := len(daily)
	return domain.RiskForecast{
		IdentityID:  identityID,
		Trend:       fit.Trend(),
		Confidence:  scoring.Clamp(1-fit.Volatility, 0.3, 1),
		SevenDay:    fit.Predict(n + 7),
		ThirtyDay:   fit.Predict(n + 30),
		GeneratedAt: now,
	}
}

// scoresOrNil tolerates a nil state receiver for unknown identities.
func (st *identityState) scoresOrNil() []scoredActivity {
	if st == nil {
		return nil
	}
	return st.scores
}

// dailyMeans averages anomaly scores per calendar day, oldest first.
func dailyMeans(scores []scoredActivity) []float64 {
	type bucket struct {
		sum   float64
		count int
	}
	days := map[string]*bucket{}
	for _, s := range scores {
		day := s.at.UTC().Format("2006-01-02")
		b := days[day]
		if b == nil {
			b = &bucket{}
			days[day] = b
		}
		b.sum += s.score
		b.count++
	}

	keys := make([]string, 0, len(days))
	for day := range days {
		keys = append(keys, day)
	}
	sort.Strings(keys)

	out := make([]float64, 0, len(keys))
	for _, day := range keys {
		out = append(out, days[day].sum/float64(days[day].count))
	}
	return out
}
