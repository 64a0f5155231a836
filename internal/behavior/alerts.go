package behavior

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/perimetra/kestrel/internal/domain"
)

// baselineLookback is how far back alert rules look for typical behavior.
const baselineLookback = 200

// Anomaly type names routed into risk categories by applyToProfile.
const (
	anomalyUnusualTime     = "Unusual Access Time"
	anomalyNewLocation     = "New Location Access"
	anomalyDataVolume      = "Unusual Data Volume"
	anomalyFileType        = "Unusual File Type Access"
	anomalyRepeatedFailure = "Repeated Access Failures"
)

var sensitiveFileTypes = []string{".db", ".sql", ".key", ".pem", ".p12", ".config"}

// activityAlerts runs the per-activity rules against the identity's
// history prior to this activity.
func activityAlerts(activity *domain.UserActivity, history []domain.UserActivity) []domain.AnomalyAlert {
	recent := history
	if len(recent) > baselineLookback {
		recent = recent[len(recent)-baselineLookback:]
	}

	var alerts []domain.AnomalyAlert

	if a := checkUnusualHour(activity, recent); a != nil {
		alerts = append(alerts, *a)
	}
	if a := checkNewAddress(activity, recent); a != nil {
		alerts = append(alerts, *a)
	}
	if a := checkDataVolume(activity, recent); a != nil {
		alerts = append(alerts, *a)
	}
	if a := checkFileType(activity, recent); a != nil {
		alerts = append(alerts, *a)
	}
	if a := checkRepeatedFailures(activity, recent); a != nil {
		alerts = append(alerts, *a)
	}
	return alerts
}

func newAlert(activity *domain.UserActivity, typ string) domain.AnomalyAlert {
	return domain.AnomalyAlert{
		ID:         uuid.NewString(),
		IdentityID: activity.IdentityID,
		Type:       typ,
		Timestamp:  activity.Timestamp,
	}
}

func checkUnusualHour(activity *domain.UserActivity, recent []domain.UserActivity) *domain.AnomalyAlert {
	hour := activity.Timestamp.Hour()
	if normalHours(recent)[hour] {
		return nil
	}

	offHours := hour < 6 || hour > 20
	a := newAlert(activity, anomalyUnusualTime)
	a.Description = fmt.Sprintf("access at %02d:00, outside normal pattern", hour)
	if offHours {
		a.Severity = domain.SeverityHigh
		a.Confidence = 85
		a.RiskDelta = 25
	} else {
		a.Severity = domain.SeverityMedium
		a.Confidence = 65
		a.RiskDelta = 15
	}
	return &a
}

// normalHours derives the identity's typical access hours. With no
// history, business hours are assumed.
func normalHours(recent []domain.UserActivity) map[int]bool {
	hours := map[int]bool{}
	if len(recent) == 0 {
		for h := 9; h <= 17; h++ {
			hours[h] = true
		}
		return hours
	}
	for i := range recent {
		hours[recent[i].Timestamp.Hour()] = true
	}
	return hours
}

func checkNewAddress(activity *domain.UserActivity, recent []domain.UserActivity) *domain.AnomalyAlert {
	if activity.SourceIP == "" {
		return nil
	}
	for i := range recent {
		if recent[i].SourceIP == activity.SourceIP {
			return nil
		}
	}

	internal := isInternalAddr(activity.SourceIP)
	a := newAlert(activity, anomalyNewLocation)
	a.Description = fmt.Sprintf("access from new address %s", activity.SourceIP)
	a.Confidence = 80
	if internal {
		a.Severity = domain.SeverityMedium
		a.RiskDelta = 15
	} else {
		a.Severity = domain.SeverityHigh
		a.RiskDelta = 30
	}
	return &a
}

func checkDataVolume(activity *domain.UserActivity, recent []domain.UserActivity) *domain.AnomalyAlert {
	if activity.DataVolume <= 0 {
		return nil
	}
	var sum, n float64
	for i := range recent {
		if recent[i].DataVolume > 0 {
			sum += float64(recent[i].DataVolume)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	typical := sum / n
	ratio := float64(activity.DataVolume) / typical
	if ratio <= 5 {
		return nil
	}

	a := newAlert(activity, anomalyDataVolume)
	a.Description = fmt.Sprintf("data access %.1fx higher than typical", ratio)
	a.Confidence = 90
	a.RiskDelta = math.Min(50, ratio*5)
	a.Severity = domain.SeverityHigh
	if ratio > 10 {
		a.Severity = domain.SeverityCritical
	}
	return &a
}

func checkFileType(activity *domain.UserActivity, recent []domain.UserActivity) *domain.AnomalyAlert {
	if activity.FileType == "" {
		return nil
	}
	for i := range recent {
		if strings.EqualFold(recent[i].FileType, activity.FileType) {
			return nil
		}
	}

	sensitive := false
	lower := strings.ToLower(activity.FileType)
	for _, t := range sensitiveFileTypes {
		if strings.Contains(lower, t) {
			sensitive = true
			break
		}
	}

	a := newAlert(activity, anomalyFileType)
	a.Description = fmt.Sprintf("access to uncommon file type %s", activity.FileType)
	a.Confidence = 75
	if sensitive {
		a.Severity = domain.SeverityHigh
		a.RiskDelta = 25
	} else {
		a.Severity = domain.SeverityMedium
		a.RiskDelta = 10
	}
	return &a
}

const (
	failureWindow    = 5 * time.Minute
	failureThreshold = 5
)

func checkRepeatedFailures(activity *domain.UserActivity, recent []domain.UserActivity) *domain.AnomalyAlert {
	if activity.Success {
		return nil
	}
	failures := 1 // this activity
	cutoff := activity.Timestamp.Add(-failureWindow)
	for i := range recent {
		if !recent[i].Success && recent[i].Timestamp.After(cutoff) {
			failures++
		}
	}
	if failures < failureThreshold {
		return nil
	}

	a := newAlert(activity, anomalyRepeatedFailure)
	a.Description = fmt.Sprintf("%d failed attempts in the last 5 minutes", failures)
	a.Confidence = 95
	a.RiskDelta = math.Min(40, float64(failures)*3)
	a.Severity = domain.SeverityHigh
	if failures > 10 {
		a.Severity = domain.SeverityCritical
	}
	return &a
}

// applyToProfile folds this activity's alerts into the risk profile.
// Categories reset to the neutral midpoint before the current alerts
// apply, so the profile reflects the present rather than accumulating
// forever. An anomalous dimension score also routes into its category.
func applyToProfile(profile *domain.UserRiskProfile, anomaly domain.AnomalyScore, alerts []domain.AnomalyAlert, at time.Time) {
	profile.Categories = domain.NeutralRiskCategories()

	for i := range alerts {
		delta := severityDelta(alerts[i].Severity)
		switch {
		case strings.Contains(alerts[i].Type, "Time"):
			profile.Categories.TimeBased += delta
		case strings.Contains(alerts[i].Type, "Location"):
			profile.Categories.Location += delta
		case strings.Contains(alerts[i].Type, "Data"), strings.Contains(alerts[i].Type, "File"):
			profile.Categories.DataAccess += delta
		case strings.Contains(alerts[i].Type, "Session"), strings.Contains(alerts[i].Type, "Failure"):
			profile.Categories.Session += delta
		}

		profile.AnomalyHistory = append(profile.AnomalyHistory, domain.AnomalyRecord{
			Type:      alerts[i].Type,
			Severity:  alerts[i].Severity,
			Score:     alerts[i].RiskDelta,
			Timestamp: alerts[i].Timestamp,
		})
	}

	if anomaly.IsAnomaly {
		delta := severityDelta(severityForAnomaly(anomaly.Overall))
		switch anomaly.AnomalyType {
		case "time_anomaly":
			profile.Categories.TimeBased += delta
		case "location_anomaly":
			profile.Categories.Location += delta
		case "volume_anomaly":
			profile.Categories.DataAccess += delta
		case "pattern_anomaly":
			profile.Categories.Session += delta
		case "application_anomaly":
			profile.Categories.DeviceUsage += delta
		}
		profile.AnomalyHistory = append(profile.AnomalyHistory, domain.AnomalyRecord{
			Type:      anomaly.AnomalyType,
			Severity:  severityForAnomaly(anomaly.Overall),
			Score:     anomaly.Overall,
			Timestamp: at,
		})
	}

	if len(profile.AnomalyHistory) > anomalyHistoryCap {
		profile.AnomalyHistory = profile.AnomalyHistory[len(profile.AnomalyHistory)-anomalyHistoryCap:]
	}

	capCategories(&profile.Categories)
	profile.OverallRisk = profile.Categories.Overall()
	profile.UpdatedAt = at
}

func severityDelta(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 30
	case domain.SeverityHigh:
		return 20
	case domain.SeverityMedium:
		return 10
	default:
		return 5
	}
}

func severityForAnomaly(score float64) domain.Severity {
	switch {
	case score > 0.85:
		return domain.SeverityCritical
	case score > 0.7:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func capCategories(c *domain.RiskCategories) {
	c.TimeBased = math.Min(100, c.TimeBased)
	c.Location = math.Min(100, c.Location)
	c.DataAccess = math.Min(100, c.DataAccess)
	c.Session = math.Min(100, c.Session)
	c.DeviceUsage = math.Min(100, c.DeviceUsage)
}

func isInternalAddr(ip string) bool {
	return strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "172.") ||
		ip == "127.0.0.1"
}
