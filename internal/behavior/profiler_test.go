package behavior

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

var dayBase = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func routineActivity(identityID string, ts time.Time) *domain.UserActivity {
	return &domain.UserActivity{
		ID:              fmt.Sprintf("act-%d", ts.UnixNano()),
		IdentityID:      identityID,
		Action:          "read",
		SourceIP:        "10.0.0.15",
		Location:        "DE",
		Success:         true,
		Timestamp:       ts,
		DataVolume:      5 * 1024 * 1024,
		SessionDuration: 1800,
		ClickRate:       20,
		KeystrokeRate:   40,
		AppCount:        3,
	}
}

// seedRoutine feeds n routine activities spread across business hours.
func seedRoutine(t *testing.T, p *Profiler, identityID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		ts := dayBase.Add(time.Duration(i) * time.Hour / 2)
		if ts.Hour() < 9 || ts.Hour() > 17 {
			ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 10, 0, 0, 0, time.UTC)
		}
		if _, err := p.ProcessActivity(ctx, routineActivity(identityID, ts)); err != nil {
			t.Fatalf("ProcessActivity failed: %v", err)
		}
	}
}

func TestProcessActivityInsufficientData(t *testing.T) {
	p := NewProfiler(0, nil)

	res, err := p.ProcessActivity(context.Background(), routineActivity("u-1", dayBase))
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}
	if res.Anomaly.AnomalyType != "insufficient_data" {
		t.Errorf("anomalyType = %q, want insufficient_data", res.Anomaly.AnomalyType)
	}
	if res.Anomaly.Overall != 0.5 || res.Anomaly.Confidence != 0.3 {
		t.Errorf("score = %v conf = %v, want 0.5 / 0.3", res.Anomaly.Overall, res.Anomaly.Confidence)
	}
	if res.Anomaly.IsAnomaly {
		t.Error("insufficient data must not flag an anomaly")
	}
}

func TestProcessActivityRequiresIdentity(t *testing.T) {
	p := NewProfiler(0, nil)
	a := routineActivity("", dayBase)
	if _, err := p.ProcessActivity(context.Background(), a); err == nil {
		t.Error("expected error for empty identity")
	}
}

func TestAnomalyForDeviantActivity(t *testing.T) {
	p := NewProfiler(0, nil)
	seedRoutine(t, p, "u-2", 30)

	// Off-hours login from a new country with a huge transfer.
	deviant := routineActivity("u-2", time.Date(2026, 3, 12, 3, 0, 0, 0, time.UTC))
	deviant.Location = "BR"
	deviant.SourceIP = "8.8.8.8"
	deviant.DataVolume = 900 * 1024 * 1024
	deviant.SessionDuration = 4 * 3600
	deviant.AppCount = 9

	res, err := p.ProcessActivity(context.Background(), deviant)
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}
	if !res.Anomaly.IsAnomaly {
		t.Errorf("expected anomaly, got score %v (%+v)", res.Anomaly.Overall, res.Anomaly)
	}
	if res.Anomaly.AnomalyType == "normal" || res.Anomaly.AnomalyType == "insufficient_data" {
		t.Errorf("anomalyType = %q, want a dimension name", res.Anomaly.AnomalyType)
	}
	if len(res.Alerts) == 0 {
		t.Error("expected rule alerts for deviant activity")
	}
	if res.Profile.OverallRisk <= 50 {
		t.Errorf("overall risk = %v, want above neutral 50", res.Profile.OverallRisk)
	}
}

func TestRoutineActivityStaysNormal(t *testing.T) {
	p := NewProfiler(0, nil)
	seedRoutine(t, p, "u-3", 30)

	res, err := p.ProcessActivity(context.Background(),
		routineActivity("u-3", dayBase.Add(72*time.Hour)))
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}
	if res.Anomaly.IsAnomaly {
		t.Errorf("routine activity flagged anomalous: %+v", res.Anomaly)
	}
}

func TestRiskCategoriesResetEachUpdate(t *testing.T) {
	p := NewProfiler(0, nil)
	seedRoutine(t, p, "u-4", 30)

	// Raise the location category with an external address.
	deviant := routineActivity("u-4", dayBase.Add(100*time.Hour))
	deviant.SourceIP = "203.0.113.77"
	res, err := p.ProcessActivity(context.Background(), deviant)
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}
	if res.Profile.Categories.Location <= 50 {
		t.Fatalf("location risk = %v, want raised above 50", res.Profile.Categories.Location)
	}

	// A quiet follow-up resets the category to neutral.
	quiet := routineActivity("u-4", dayBase.Add(101*time.Hour))
	res, err = p.ProcessActivity(context.Background(), quiet)
	if err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}
	if res.Profile.Categories.Location != 50 {
		t.Errorf("location risk after quiet activity = %v, want reset to 50",
			res.Profile.Categories.Location)
	}
}

func TestAnomalyHistoryBounded(t *testing.T) {
	p := NewProfiler(0, nil)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		// Every activity fails, producing repeated-failure alerts.
		a := routineActivity("u-5", dayBase.Add(time.Duration(i)*time.Minute))
		a.Success = false
		if _, err := p.ProcessActivity(ctx, a); err != nil {
			t.Fatalf("ProcessActivity failed: %v", err)
		}
	}

	profile, ok := p.Profile("u-5")
	if !ok {
		t.Fatal("missing profile")
	}
	if len(profile.AnomalyHistory) > anomalyHistoryCap {
		t.Errorf("anomaly history grew to %d, want <= %d",
			len(profile.AnomalyHistory), anomalyHistoryCap)
	}
}

func TestClusterReproducibleUnderSeed(t *testing.T) {
	p := NewProfiler(0, nil)
	for u := 0; u < 8; u++ {
		id := fmt.Sprintf("u-c%d", u)
		for i := 0; i < 15; i++ {
			a := routineActivity(id, dayBase.Add(time.Duration(i)*time.Hour))
			a.DataVolume = int64(u+1) * 40 * 1024 * 1024
			a.SessionDuration = float64(u+1) * 900
			if _, err := p.ProcessActivity(context.Background(), a); err != nil {
				t.Fatalf("ProcessActivity failed: %v", err)
			}
		}
	}

	snapshot := p.Snapshot()
	if len(snapshot) != 8 {
		t.Fatalf("snapshot size = %d, want 8", len(snapshot))
	}

	now := dayBase.Add(200 * time.Hour)
	first := Cluster(snapshot, 3, rand.New(rand.NewSource(42)), now)
	second := Cluster(snapshot, 3, rand.New(rand.NewSource(42)), now)

	if !reflect.DeepEqual(first, second) {
		t.Error("clustering not reproducible under identical seeds")
	}
	if len(first) != 3 {
		t.Fatalf("cluster count = %d, want 3", len(first))
	}

	members := 0
	for _, c := range first {
		members += len(c.Members)
		if c.Cohesion < 0 || c.Cohesion > 1 {
			t.Errorf("cohesion %v out of range", c.Cohesion)
		}
	}
	if members != 8 {
		t.Errorf("total cluster members = %d, want 8", members)
	}
}

func TestClusterSkipsThinData(t *testing.T) {
	p := NewProfiler(0, nil)
	// Only two identities have enough history for a k of 5.
	for u := 0; u < 2; u++ {
		seedRoutine(t, p, fmt.Sprintf("u-t%d", u), 15)
	}

	clusters := Cluster(p.Snapshot(), 5, rand.New(rand.NewSource(1)), dayBase)
	if clusters != nil {
		t.Errorf("expected nil clusters for %d identities with k=5", 2)
	}
}

func TestForecast(t *testing.T) {
	p := NewProfiler(0, nil)

	t.Run("ThinHistory", func(t *testing.T) {
		f := p.Forecast("nobody", dayBase)
		if f.Trend != "stable" || f.Confidence != 0.3 {
			t.Errorf("forecast = %+v, want stable / 0.3", f)
		}
	})

	t.Run("MultiDay", func(t *testing.T) {
		ctx := context.Background()
		for day := 0; day < 5; day++ {
			for i := 0; i < 5; i++ {
				ts := dayBase.AddDate(0, 0, day).Add(time.Duration(i) * time.Hour)
				if _, err := p.ProcessActivity(ctx, routineActivity("u-f", ts)); err != nil {
					t.Fatalf("ProcessActivity failed: %v", err)
				}
			}
		}

		f := p.Forecast("u-f", dayBase.AddDate(0, 0, 6))
		if f.SevenDay < 0 || f.SevenDay > 1 || f.ThirtyDay < 0 || f.ThirtyDay > 1 {
			t.Errorf("predictions out of unit interval: %+v", f)
		}
		if f.Trend == "" {
			t.Error("missing trend")
		}
	})
}

func TestAnalytics(t *testing.T) {
	p := NewProfiler(0, nil)
	seedRoutine(t, p, "u-a1", 20)
	seedRoutine(t, p, "u-a2", 20)

	// Push one identity into a risky state.
	deviant := routineActivity("u-a2", dayBase.Add(200*time.Hour))
	deviant.SourceIP = "198.51.100.99"
	deviant.Success = false
	if _, err := p.ProcessActivity(context.Background(), deviant); err != nil {
		t.Fatalf("ProcessActivity failed: %v", err)
	}

	a := p.Analytics(dayBase.Add(201 * time.Hour))
	if a.TotalIdentities != 2 {
		t.Errorf("totalIdentities = %d, want 2", a.TotalIdentities)
	}
	if a.AverageRisk <= 0 {
		t.Errorf("averageRisk = %v, want positive", a.AverageRisk)
	}
	if len(a.TopRisky) == 0 || a.TopRisky[0].IdentityID != "u-a2" {
		t.Errorf("topRisky = %+v, want u-a2 first", a.TopRisky)
	}
	total := 0
	for _, n := range a.RiskDistribution {
		total += n
	}
	if total != 2 {
		t.Errorf("risk distribution covers %d identities, want 2", total)
	}
}
