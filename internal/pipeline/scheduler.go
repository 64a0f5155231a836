package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perimetra/kestrel/internal/assess"
	"github.com/perimetra/kestrel/internal/behavior"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/ensemble"
)

// statsLookback bounds how far back the statistics refresh reads.
const statsLookback = 24 * time.Hour

// Scheduler runs the periodic maintenance passes off the request path:
// behavioral clustering and statistics/weight refresh. Each pass reads
// a snapshot of current state and swaps its result in atomically, so
// readers never block on a pass in progress.
type Scheduler struct {
	profiler  *behavior.Profiler
	predictor *ensemble.Predictor
	store     domain.Store
	bus       domain.EventBus
	logger    *slog.Logger

	clusterInterval time.Duration
	statsInterval   time.Duration

	// rngMu serializes clustering passes; rng is not safe for
	// concurrent use and the API can trigger a pass on demand.
	rngMu sync.Mutex
	rng   *rand.Rand

	clusters atomic.Pointer[[]domain.BehavioralCluster]
	stats    atomic.Pointer[domain.ThreatStatistics]
	trend    atomic.Pointer[ensemble.TrendAnalysis]

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler from engine tuning. A zero
// ClusterSeed seeds clustering from the clock; a fixed seed makes
// successive clustering passes reproducible.
func NewScheduler(cfg domain.EngineConfig, profiler *behavior.Profiler,
	predictor *ensemble.Predictor, store domain.Store, bus domain.EventBus,
	logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	seed := cfg.ClusterSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scheduler{
		profiler:        profiler,
		predictor:       predictor,
		store:           store,
		bus:             bus,
		logger:          logger.With("component", "scheduler"),
		clusterInterval: cfg.ClusterInterval,
		statsInterval:   cfg.StatsInterval,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Start launches the periodic passes. Both loops begin after a jittered
// delay so replicas started together do not fire in lockstep.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, s.clusterInterval, s.jitter(s.clusterInterval), s.runClustering)
	go s.loop(ctx, s.statsInterval, s.jitter(s.statsInterval), s.refreshStats)

	s.logger.Info("scheduler started",
		"cluster_interval", s.clusterInterval,
		"stats_interval", s.statsInterval)
}

// Stop cancels the loops and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// jitter returns a random delay in [0, interval/10).
func (s *Scheduler) jitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(interval)/10 + 1))
}

func (s *Scheduler) loop(ctx context.Context, interval, delay time.Duration, pass func(context.Context)) {
	defer s.wg.Done()

	timer := time.NewTimer(interval + delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			pass(ctx)
			timer.Reset(interval)
		}
	}
}

// runClustering recomputes the behavioral cluster set from a snapshot
// of per-identity mean vectors and replaces the published set wholesale.
func (s *Scheduler) runClustering(ctx context.Context) {
	snapshot := s.profiler.Snapshot()
	s.rngMu.Lock()
	clusters := behavior.Cluster(snapshot, behavior.DefaultClusterCount, s.rng, time.Now())
	s.rngMu.Unlock()
	if clusters == nil {
		s.logger.Debug("clustering skipped", "identities", len(snapshot))
		return
	}
	s.clusters.Store(&clusters)

	if s.bus != nil {
		payload, err := json.Marshal(clusters)
		if err == nil {
			if err := s.bus.Publish(ctx, domain.TopicClusters, payload); err != nil {
				s.logger.Error("cluster publish failed", "error", err)
			}
		}
	}
	s.logger.Info("clustering pass complete",
		"identities", len(snapshot),
		"clusters", len(clusters))
}

// refreshStats rebuilds the verdict statistics rollup, reprojects the
// risk-level trend, and renormalizes ensemble weights from each model's
// recent average confidence.
func (s *Scheduler) refreshStats(ctx context.Context) {
	if s.store == nil {
		return
	}
	now := time.Now()
	verdicts, err := s.store.ListVerdicts(ctx, now.Add(-statsLookback), 1000)
	if err != nil {
		s.logger.Error("verdict history read failed", "error", err)
		return
	}

	stats := assess.Statistics(verdicts, now)
	s.stats.Store(&stats)

	trend := ensemble.AnalyzeTrend(riskSeries(verdicts), now)
	s.trend.Store(&trend)

	if metrics := modelConfidences(verdicts); len(metrics) > 0 {
		s.predictor.UpdateWeights(metrics)
	}
	s.logger.Debug("statistics refreshed",
		"verdicts", len(verdicts), "trend", trend.Trend)
}

// riskSeries projects verdicts onto unit-interval risk levels in
// chronological order. ListVerdicts returns newest first.
func riskSeries(verdicts []*domain.Verdict) []float64 {
	levels := make([]float64, len(verdicts))
	for i, v := range verdicts {
		levels[len(verdicts)-1-i] = v.RiskScore / 100
	}
	return levels
}

// modelConfidences averages each ensemble member's confidence across
// recent predictions, feeding the weight update.
func modelConfidences(verdicts []*domain.Verdict) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, v := range verdicts {
		if v.Prediction == nil {
			continue
		}
		for _, m := range v.Prediction.Models {
			sums[m.Model] += m.Confidence
			counts[m.Model]++
		}
	}
	out := make(map[string]float64, len(sums))
	for model, sum := range sums {
		out[model] = sum / float64(counts[model])
	}
	return out
}

// Clusters returns the most recent published cluster set, or nil when
// no clustering pass has completed.
func (s *Scheduler) Clusters() []domain.BehavioralCluster {
	p := s.clusters.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Statistics returns the most recent rollup, or a zero rollup when no
// refresh has completed.
func (s *Scheduler) Statistics() domain.ThreatStatistics {
	p := s.stats.Load()
	if p == nil {
		return domain.ThreatStatistics{BySeverity: map[string]int{}}
	}
	return *p
}

// Trend returns the most recent risk-trend projection, or a stable
// zero projection when no refresh has completed.
func (s *Scheduler) Trend() ensemble.TrendAnalysis {
	p := s.trend.Load()
	if p == nil {
		return ensemble.TrendAnalysis{Trend: "stable"}
	}
	return *p
}

// RunClusteringNow triggers an immediate clustering pass, used by the
// API's reload-style endpoints and in tests.
func (s *Scheduler) RunClusteringNow(ctx context.Context) {
	s.runClustering(ctx)
}

// RefreshStatsNow triggers an immediate statistics refresh.
func (s *Scheduler) RefreshStatsNow(ctx context.Context) {
	s.refreshStats(ctx)
}
