package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/perimetra/kestrel/internal/assess"
	"github.com/perimetra/kestrel/internal/behavior"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/ensemble"
	"github.com/perimetra/kestrel/internal/features"
	"github.com/perimetra/kestrel/internal/patterns"
)

// recordingBus captures published messages and delivers subscribed
// handlers synchronously.
type recordingBus struct {
	domain.EventBus
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]domain.MessageHandler
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		published: make(map[string][][]byte),
		handlers:  make(map[string]domain.MessageHandler),
	}
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.published[topic] = append(b.published[topic], payload)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(_ context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return fakeSub{topic: topic}, nil
}

func (b *recordingBus) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler on topic %s", topic)
	}
	if err := handler(context.Background(), &domain.Message{ID: "m1", Topic: topic, Payload: payload}); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[topic])
}

type fakeSub struct{ topic string }

func (s fakeSub) Unsubscribe() error { return nil }
func (s fakeSub) Topic() string      { return s.topic }

// verdictStore records saved verdicts and serves them back.
type verdictStore struct {
	domain.Store
	mu       sync.Mutex
	verdicts []*domain.Verdict
}

func (s *verdictStore) SaveVerdict(_ context.Context, v *domain.Verdict) error {
	s.mu.Lock()
	s.verdicts = append(s.verdicts, v)
	s.mu.Unlock()
	return nil
}

func (s *verdictStore) ListVerdicts(_ context.Context, since time.Time, limit int) ([]*domain.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest first, matching the Store contract.
	out := make([]*domain.Verdict, len(s.verdicts))
	for i, v := range s.verdicts {
		out[len(s.verdicts)-1-i] = v
	}
	return out, nil
}

func newTestWorker(t *testing.T, bus domain.EventBus, store domain.Store) *Worker {
	t.Helper()
	return NewWorker(bus, store,
		features.NewExtractor(features.StaticReputation{}, nil),
		patterns.NewMatcher(1000, nil, nil),
		ensemble.NewPredictor(nil),
		assess.NewAssessor(),
		nil)
}

func benignEvent(id string) domain.NetworkEvent {
	return domain.NetworkEvent{
		ID:               id,
		SourceIP:         "10.0.0.5",
		DestIP:           "10.0.0.9",
		Protocol:         "HTTPS",
		Port:             443,
		PayloadSize:      800,
		RequestFrequency: 2,
		Country:          "US",
		UserAgent:        "Mozilla/5.0",
		Timestamp:        time.Now(),
	}
}

func TestAnalyzeBatchProducesVerdictPerEvent(t *testing.T) {
	w := newTestWorker(t, nil, nil)

	events := []domain.NetworkEvent{benignEvent("e1"), benignEvent("e2")}
	verdicts := w.AnalyzeBatch(context.Background(), events)

	if len(verdicts) != 2 {
		t.Fatalf("verdicts = %d, want 2", len(verdicts))
	}
	for i, v := range verdicts {
		if v.EventID != events[i].ID {
			t.Errorf("verdict %d event = %s, want %s", i, v.EventID, events[i].ID)
		}
		if v.RiskScore < 0 || v.RiskScore > 100 {
			t.Errorf("risk out of range: %v", v.RiskScore)
		}
		if v.Prediction == nil {
			t.Error("verdict missing ensemble prediction")
		}
	}
}

func TestAnalyzeBatchBruteForceEscalates(t *testing.T) {
	w := newTestWorker(t, nil, nil)

	base := time.Now()
	events := make([]domain.NetworkEvent, 0, 15)
	for i := 0; i < 15; i++ {
		e := benignEvent("bf")
		e.SourceIP = "198.51.100.7"
		e.Port = 22
		e.Protocol = "SSH"
		e.FailedAttempts = 12
		e.RequestFrequency = 40
		e.Timestamp = base.Add(time.Duration(i) * 10 * time.Second)
		events = append(events, e)
	}

	verdicts := w.AnalyzeBatch(context.Background(), events)
	if len(verdicts) != 15 {
		t.Fatalf("verdicts = %d, want 15", len(verdicts))
	}
	v := verdicts[0]
	if v.Severity != domain.SeverityHigh && v.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want high or critical (risk %v)", v.Severity, v.RiskScore)
	}
	if len(v.Detections) == 0 {
		t.Error("expected pattern detections attached to verdict")
	}
}

func TestAnalyzeBatchDeadlineYieldsDegradedVerdicts(t *testing.T) {
	w := newTestWorker(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	verdicts := w.AnalyzeBatch(ctx, []domain.NetworkEvent{benignEvent("e1")})
	if len(verdicts) != 1 {
		t.Fatalf("verdicts = %d, want 1", len(verdicts))
	}
	if !verdicts[0].Degraded {
		t.Error("verdict after deadline must be degraded")
	}
	if verdicts[0].Confidence > 30 {
		t.Errorf("degraded confidence = %v, want low", verdicts[0].Confidence)
	}
}

func TestWorkerBatchFlow(t *testing.T) {
	bus := newRecordingBus()
	store := &verdictStore{}
	w := newTestWorker(t, bus, store)

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	batch := domain.EventBatchRequest{Events: []domain.NetworkEvent{benignEvent("e1")}}
	payload, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	bus.deliver(t, domain.TopicEventBatch, payload)

	if got := bus.count(domain.TopicVerdict); got != 1 {
		t.Errorf("verdicts published = %d, want 1", got)
	}
	store.mu.Lock()
	saved := len(store.verdicts)
	store.mu.Unlock()
	if saved != 1 {
		t.Errorf("verdicts saved = %d, want 1", saved)
	}
}

func TestWorkerPublishesAlertsForImmediateDetections(t *testing.T) {
	bus := newRecordingBus()
	w := newTestWorker(t, bus, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	base := time.Now()
	events := make([]domain.NetworkEvent, 0, 15)
	for i := 0; i < 15; i++ {
		e := benignEvent("bf")
		e.SourceIP = "198.51.100.7"
		e.Port = 22
		e.FailedAttempts = 12
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		events = append(events, e)
	}
	payload, _ := json.Marshal(domain.EventBatchRequest{Events: events})
	bus.deliver(t, domain.TopicEventBatch, payload)

	if bus.count(domain.TopicAlert) == 0 {
		t.Error("immediate detections should reach the alert topic")
	}
}

func TestSchedulerClusteringPass(t *testing.T) {
	profiler := behavior.NewProfiler(0, nil)
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		identity := string(rune('a' + i))
		for j := 0; j < 12; j++ {
			_, err := profiler.ProcessActivity(context.Background(), &domain.UserActivity{
				IdentityID:      identity,
				Action:          "read",
				Resource:        "/reports",
				SourceIP:        "10.0.0.1",
				Location:        "US",
				Success:         true,
				DataVolume:      int64(10 * (i + 1)),
				SessionDuration: 1800,
				Timestamp:       base.Add(time.Duration(j) * time.Hour),
			})
			if err != nil {
				t.Fatalf("process activity: %v", err)
			}
		}
	}

	cfg := domain.EngineConfig{
		ClusterInterval: time.Hour,
		StatsInterval:   time.Hour,
		ClusterSeed:     42,
	}
	bus := newRecordingBus()
	s := NewScheduler(cfg, profiler, ensemble.NewPredictor(nil), nil, bus, nil)

	if got := s.Clusters(); got != nil {
		t.Fatalf("clusters before any pass = %v, want nil", got)
	}
	s.RunClusteringNow(context.Background())

	clusters := s.Clusters()
	if len(clusters) == 0 {
		t.Fatal("expected clusters after pass")
	}
	members := 0
	for _, c := range clusters {
		members += len(c.Members)
	}
	if members != 6 {
		t.Errorf("cluster members = %d, want 6", members)
	}
	if bus.count(domain.TopicClusters) != 1 {
		t.Errorf("cluster publishes = %d, want 1", bus.count(domain.TopicClusters))
	}
}

func TestSchedulerStatsRefreshUpdatesWeights(t *testing.T) {
	store := &verdictStore{}
	predictor := ensemble.NewPredictor(nil)
	w := NewWorker(nil, store,
		features.NewExtractor(features.StaticReputation{}, nil),
		patterns.NewMatcher(1000, nil, nil),
		predictor,
		assess.NewAssessor(),
		nil)

	verdicts := w.AnalyzeBatch(context.Background(), []domain.NetworkEvent{benignEvent("e1"), benignEvent("e2")})
	for _, v := range verdicts {
		if err := store.SaveVerdict(context.Background(), v); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	cfg := domain.EngineConfig{ClusterInterval: time.Hour, StatsInterval: time.Hour, ClusterSeed: 1}
	s := NewScheduler(cfg, behavior.NewProfiler(0, nil), predictor, store, nil, nil)
	s.RefreshStatsNow(context.Background())

	stats := s.Statistics()
	if stats.Total != 2 {
		t.Errorf("stats total = %d, want 2", stats.Total)
	}

	weights := predictor.Weights()
	sum := 0.0
	for _, wt := range weights {
		sum += wt
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("weights sum = %v, want 1", sum)
	}
}

func TestSchedulerStatsRefreshProjectsTrend(t *testing.T) {
	store := &verdictStore{}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		v := &domain.Verdict{
			ID:        string(rune('a' + i)),
			EventID:   "e",
			RiskScore: float64(10 * (i + 1)),
			Severity:  domain.SeverityLow,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveVerdict(context.Background(), v); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	cfg := domain.EngineConfig{ClusterInterval: time.Hour, StatsInterval: time.Hour, ClusterSeed: 1}
	s := NewScheduler(cfg, behavior.NewProfiler(0, nil), ensemble.NewPredictor(nil), store, nil, nil)

	if got := s.Trend(); got.Trend != "stable" || len(got.Forecast) != 0 {
		t.Fatalf("trend before refresh = %+v, want stable with no forecast", got)
	}
	s.RefreshStatsNow(context.Background())

	trend := s.Trend()
	if trend.Trend != "increasing" {
		t.Errorf("trend = %q, want increasing for rising risk history", trend.Trend)
	}
	if len(trend.Forecast) == 0 {
		t.Error("expected forecast points after refresh")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	cfg := domain.EngineConfig{ClusterInterval: time.Hour, StatsInterval: time.Hour, ClusterSeed: 1}
	s := NewScheduler(cfg, behavior.NewProfiler(0, nil), ensemble.NewPredictor(nil), nil, nil, nil)

	s.Start(context.Background())
	s.Stop()
}
