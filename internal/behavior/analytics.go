package behavior

import (
	"sort"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

// highRiskThreshold marks profiles counted as high risk in rollups.
const highRiskThreshold = 70

// Analytics computes a rollup over every tracked identity.
func (p *Profiler) Analytics(now time.Time) domain.BehaviorAnalytics {
	profiles := p.Profiles()

	analytics := domain.BehaviorAnalytics{
		TotalIdentities:  len(profiles),
		RiskDistribution: map[string]int{"0-25": 0, "26-50": 0, "51-75": 0, "76-100": 0},
		GeneratedAt:      now,
	}

	type trendAcc struct {
		count       int
		severitySum float64
	}
	trends := map[string]*trendAcc{}

	var riskSum float64
	for i := range profiles {
		pr := &profiles[i]
		riskSum += pr.OverallRisk
		if pr.OverallRisk > highRiskThreshold {
			analytics.HighRiskCount++
		}

		switch {
		case pr.OverallRisk <= 25:
			analytics.RiskDistribution["0-25"]++
		case pr.OverallRisk <= 50:
			analytics.RiskDistribution["26-50"]++
		case pr.OverallRisk <= 75:
			analytics.RiskDistribution["51-75"]++
		default:
			analytics.RiskDistribution["76-100"]++
		}

		for _, rec := range pr.AnomalyHistory {
			t := trends[rec.Type]
			if t == nil {
				t = &trendAcc{}
				trends[rec.Type] = t
			}
			t.count++
			t.severitySum += severityDelta(rec.Severity)
		}
	}
	if len(profiles) > 0 {
		analytics.AverageRisk = riskSum / float64(len(profiles))
	}

	for typ, t := range trends {
		analytics.AnomalyTrends = append(analytics.AnomalyTrends, domain.AnomalyTrend{
			Type:        typ,
			Count:       t.count,
			AvgSeverity: t.severitySum / float64(t.count),
		})
	}
	sort.Slice(analytics.AnomalyTrends, func(i, j int) bool {
		if analytics.AnomalyTrends[i].Count != analytics.AnomalyTrends[j].Count {
			return analytics.AnomalyTrends[i].Count > analytics.AnomalyTrends[j].Count
		}
		return analytics.AnomalyTrends[i].Type < analytics.AnomalyTrends[j].Type
	})

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].OverallRisk != profiles[j].OverallRisk {
			return profiles[i].OverallRisk > profiles[j].OverallRisk
		}
		return profiles[i].IdentityID < profiles[j].IdentityID
	})
	top := profiles
	if len(top) > 10 {
		top = top[:10]
	}
	for i := range top {
		analytics.TopRisky = append(analytics.TopRisky, domain.RiskySummary{
			IdentityID:    top[i].IdentityID,
			OverallRisk:   top[i].OverallRisk,
			TopCategories: topCategories(top[i].Categories, 3),
		})
	}

	return analytics
}

func topCategories(c domain.RiskCategories, n int) []string {
	entries := []struct {
		name  string
		score float64
	}{
		{"timeBased", c.TimeBased},
		{"location", c.Location},
		{"dataAccess", c.DataAccess},
		{"session", c.Session},
		{"deviceUsage", c.DeviceUsage},
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
	out := make([]string, 0, n)
	for i := 0; i < n && i < len(entries); i++ {
		out = append(out, entries[i].name)
	}
	return out
}
