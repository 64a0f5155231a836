// Package behavior maintains per-identity behavioral baselines, scores
// activities for anomalies, and derives risk profiles, clusters and
// forecasts from them.
package behavior

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/scoring"
)

const (
	// baselineAlpha is the EMA smoothing factor for baselines.
	baselineAlpha = 0.1

	// activityHistoryCap bounds per-identity activity history.
	activityHistoryCap = 1000

	// anomalyHistoryCap bounds per-profile anomaly history.
	anomalyHistoryCap = 100

	// locationWindow is how many recent activities the location novelty
	// check looks back over.
	locationWindow = 20

	// shardCount partitions identity state so concurrent identities
	// never contend. Updates for one identity are serialized.
	shardCount = 32
)

// Anomaly dimension weights. They sum to 1.
const (
	weightTime        = 0.20
	weightLocation    = 0.25
	weightVolume      = 0.25
	weightPattern     = 0.15
	weightApplication = 0.15
)

type identityState struct {
	history  []domain.UserActivity
	baseline domain.BehaviorBaseline
	profile  domain.UserRiskProfile

	// Rolling anomaly scores for forecasting, aligned with history.
	scores []scoredActivity
}

type scoredActivity struct {
	at    time.Time
	score float64
}

type shard struct {
	mu         sync.Mutex
	identities map[string]*identityState
}

// Profiler scores identity activity against learned baselines.
type Profiler struct {
	shards    [shardCount]*shard
	threshold float64
	logger    *slog.Logger
}

// NewProfiler creates a Profiler. threshold is the overall anomaly score
// above which an activity is flagged; zero selects the default 0.6.
func NewProfiler(threshold float64, logger *slog.Logger) *Profiler {
	if threshold <= 0 {
		threshold = 0.6
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Profiler{
		threshold: threshold,
		logger:    logger.With("component", "behavior"),
	}
	for i := range p.shards {
		p.shards[i] = &shard{identities: make(map[string]*identityState)}
	}
	return p
}

func (p *Profiler) shardFor(identityID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identityID))
	return p.shards[h.Sum32()%shardCount]
}

// ProcessResult is the outcome of scoring one activity.
type ProcessResult struct {
	Anomaly domain.AnomalyScore
	Profile domain.UserRiskProfile
	Alerts  []domain.AnomalyAlert
}

// ProcessActivity folds one activity into the identity's state: history,
// baseline, anomaly score, rule alerts, and the updated risk profile.
func (p *Profiler) ProcessActivity(ctx context.Context, activity *domain.UserActivity) (*ProcessResult, error) {
	if activity.IdentityID == "" {
		return nil, domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := p.shardFor(activity.IdentityID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.identities[activity.IdentityID]
	if state == nil {
		state = &identityState{
			profile: domain.UserRiskProfile{
				IdentityID: activity.IdentityID,
				Categories: domain.NeutralRiskCategories(),
			},
		}
		state.profile.OverallRisk = state.profile.Categories.Overall()
		s.identities[activity.IdentityID] = state
	}

	// Rule alerts compare against history before this activity joins it.
	alerts := activityAlerts(activity, state.history)

	anomaly := p.scoreAnomaly(activity, state)

	state.history = append(state.history, *activity)
	if len(state.history) > activityHistoryCap {
		state.history = state.history[len(state.history)-activityHistoryCap:]
	}
	updateBaseline(&state.baseline, activity)

	state.scores = append(state.scores, scoredActivity{at: activity.Timestamp, score: anomaly.Overall})
	if len(state.scores) > activityHistoryCap {
		state.scores = state.scores[len(state.scores)-activityHistoryCap:]
	}

	applyToProfile(&state.profile, anomaly, alerts, activity.Timestamp)

	if anomaly.IsAnomaly {
		p.logger.Info("behavioral anomaly detected",
			"identity", activity.IdentityID,
			"type", anomaly.AnomalyType,
			"score", anomaly.Overall)
	}

	return &ProcessResult{
		Anomaly: anomaly,
		Profile: state.profile,
		Alerts:  alerts,
	}, nil
}

// scoreAnomaly computes the per-dimension anomaly breakdown against the
// current baseline. Callers hold the shard lock.
func (p *Profiler) scoreAnomaly(activity *domain.UserActivity, state *identityState) domain.AnomalyScore {
	if state.baseline.SampleCount == 0 {
		return domain.AnomalyScore{
			Overall:     0.5,
			Confidence:  0.3,
			AnomalyType: "insufficient_data",
		}
	}

	vec := activity.Vector()
	base := state.baseline.Vector

	score := domain.AnomalyScore{
		Time:        scoring.Clamp01(math.Abs(vec[0]-base[0]) * 4),
		Location:    locationScore(activity.Location, state.history),
		Volume:      volumeScore(vec[1], base[1]),
		Pattern:     scoring.Clamp01((math.Abs(vec[2]-base[2]) + math.Abs(vec[3]-base[3])) / 2),
		Application: scoring.Clamp01(math.Abs(vec[5]-base[5]) * 2),
	}

	score.Overall = scoring.WeightedSum(
		[]float64{score.Time, score.Location, score.Volume, score.Pattern, score.Application},
		[]float64{weightTime, weightLocation, weightVolume, weightPattern, weightApplication})
	score.Confidence = math.Min(score.Overall, 1)
	score.IsAnomaly = score.Overall > p.threshold
	score.AnomalyType = "normal"
	if score.IsAnomaly {
		score.AnomalyType = dominantDimension(&score)
	}
	return score
}

func locationScore(location string, history []domain.UserActivity) float64 {
	if location == "" {
		return 0.2
	}
	start := len(history) - locationWindow
	if start < 0 {
		start = 0
	}
	for _, a := range history[start:] {
		if a.Location == location {
			return 0.2
		}
	}
	return 0.8
}

func volumeScore(v, base float64) float64 {
	return math.Min(math.Abs(v-base)/(base+0.1), 1)
}

func dominantDimension(s *domain.AnomalyScore) string {
	max := "time_anomaly"
	maxScore := s.Time
	for _, c := range []struct {
		name  string
		score float64
	}{
		{"location_anomaly", s.Location},
		{"volume_anomaly", s.Volume},
		{"pattern_anomaly", s.Pattern},
		{"application_anomaly", s.Application},
	} {
		if c.score > maxScore {
			max, maxScore = c.name, c.score
		}
	}
	return max
}

func updateBaseline(b *domain.BehaviorBaseline, activity *domain.UserActivity) {
	vec := activity.Vector()
	if b.SampleCount == 0 {
		b.Vector = vec
	} else {
		for i := range b.Vector {
			b.Vector[i] = scoring.EMA(b.Vector[i], vec[i], baselineAlpha)
		}
	}
	b.SampleCount++
	if activity.Location != "" {
		b.RecentLocations = appendBounded(b.RecentLocations, activity.Location, locationWindow)
	}
	b.UpdatedAt = activity.Timestamp
}

func appendBounded(s []string, v string, limit int) []string {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

// Profile returns a copy of the identity's current risk profile.
func (p *Profiler) Profile(identityID string) (domain.UserRiskProfile, bool) {
	s := p.shardFor(identityID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.identities[identityID]
	if !ok {
		return domain.UserRiskProfile{}, false
	}
	return state.profile, true
}

// Count returns the number of identities currently tracked.
func (p *Profiler) Count() int {
	var n int
	for _, s := range p.shards {
		s.mu.Lock()
		n += len(s.identities)
		s.mu.Unlock()
	}
	return n
}

// Profiles returns copies of every tracked profile.
func (p *Profiler) Profiles() []domain.UserRiskProfile {
	var out []domain.UserRiskProfile
	for _, s := range p.shards {
		s.mu.Lock()
		for _, state := range s.identities {
			out = append(out, state.profile)
		}
		s.mu.Unlock()
	}
	return out
}
