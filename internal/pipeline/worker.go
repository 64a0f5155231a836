// Package pipeline runs the analysis flow: events from the bus pass
// through feature extraction, pattern matching, and the model ensemble,
// and the resulting verdicts are persisted and republished. Background
// maintenance (clustering, statistics refresh) runs on the Scheduler.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/perimetra/kestrel/internal/assess"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/ensemble"
	"github.com/perimetra/kestrel/internal/features"
	"github.com/perimetra/kestrel/internal/patterns"
)

// Worker consumes event batches from the bus and turns them into
// verdicts.
type Worker struct {
	bus       domain.EventBus
	store     domain.Store
	extractor *features.Extractor
	matcher   *patterns.Matcher
	predictor *ensemble.Predictor
	assessor  *assess.Assessor
	logger    *slog.Logger

	subs   []domain.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker wires the analysis stages together.
func NewWorker(bus domain.EventBus, store domain.Store, extractor *features.Extractor,
	matcher *patterns.Matcher, predictor *ensemble.Predictor, assessor *assess.Assessor,
	logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		store:     store,
		extractor: extractor,
		matcher:   matcher,
		predictor: predictor,
		assessor:  assessor,
		logger:    logger.With("component", "pipeline"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the event batch topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventBatch, w.handleBatch)
	if err != nil {
		return err
	}
	w.subs = append(w.subs, sub)
	w.logger.Info("pipeline worker started", "topic", domain.TopicEventBatch)
	return nil
}

// Stop unsubscribes and cancels in-flight processing.
func (w *Worker) Stop() error {
	w.cancel()
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	w.subs = nil
	w.logger.Info("pipeline worker stopped")
	return nil
}

func (w *Worker) handleBatch(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var batch domain.EventBatchRequest
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		w.logger.Error("malformed event batch", "message_id", msg.ID, "error", err)
		return err
	}
	if len(batch.Events) == 0 {
		return nil
	}

	verdicts := w.AnalyzeBatch(ctx, batch.Events)
	for _, verdict := range verdicts {
		w.emit(ctx, verdict)
	}

	w.logger.Info("event batch processed",
		"message_id", msg.ID,
		"events", len(batch.Events),
		"verdicts", len(verdicts),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// AnalyzeBatch runs the full analysis flow over a batch of events.
// Pattern matching over the whole batch runs concurrently with the
// per-event feature extraction and ensemble prediction. If the caller's
// deadline expires mid-batch, the remaining events receive degraded
// verdicts scored from features alone.
func (w *Worker) AnalyzeBatch(ctx context.Context, events []domain.NetworkEvent) []*domain.Verdict {
	var (
		wg         sync.WaitGroup
		detections []domain.DetectionResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		detections = w.matcher.Analyze(ctx, events)
	}()

	feats := make([]domain.ThreatFeatures, len(events))
	for i := range events {
		feats[i] = w.extractor.Extract(ctx, &events[i])
	}
	wg.Wait()

	verdicts := make([]*domain.Verdict, 0, len(events))
	for i := range events {
		event := &events[i]
		if ctx.Err() != nil {
			verdicts = append(verdicts, degradedVerdict(event, &feats[i]))
			continue
		}
		prediction := w.predictor.Predict(&feats[i])
		verdict := w.assessor.Assess(&assess.Input{
			Event:      event,
			Features:   &feats[i],
			Prediction: prediction,
			Detections: detectionsFor(event, detections),
		})
		verdicts = append(verdicts, verdict)
	}
	return verdicts
}

// detectionsFor selects the batch detections relevant to one event:
// those attributed to its source address, plus batch-wide detections
// that carry no source attribution.
func detectionsFor(event *domain.NetworkEvent, detections []domain.DetectionResult) []domain.DetectionResult {
	var out []domain.DetectionResult
	for _, d := range detections {
		if d.SourceIP == "" || d.SourceIP == event.SourceIP {
			out = append(out, d)
		}
	}
	return out
}

// degradedVerdict scores an event from its features alone when the
// deadline expired before the ensemble could run.
func degradedVerdict(event *domain.NetworkEvent, f *domain.ThreatFeatures) *domain.Verdict {
	risk, indicators := ensemble.HeuristicRisk(f)
	return &domain.Verdict{
		ID:         event.ID + "-partial",
		EventID:    event.ID,
		SourceIP:   event.SourceIP,
		RiskScore:  risk,
		Severity:   domain.SeverityForRisk(risk),
		Confidence: 30,
		ThreatType: "unclassified",
		Indicators: indicators,
		Timestamp:  event.Timestamp,
		Degraded:   true,
	}
}

// emit persists a verdict and republishes it; failures are logged, not
// propagated, so one bad sink cannot stall the batch.
func (w *Worker) emit(ctx context.Context, verdict *domain.Verdict) {
	if w.store != nil {
		if err := w.store.SaveVerdict(ctx, verdict); err != nil {
			w.logger.Error("verdict persistence failed", "verdict", verdict.ID, "error", err)
		}
	}
	if w.bus == nil {
		return
	}

	payload, err := json.Marshal(verdict)
	if err != nil {
		w.logger.Error("verdict marshal failed", "verdict", verdict.ID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicVerdict, payload); err != nil {
		w.logger.Error("verdict publish failed", "verdict", verdict.ID, "error", err)
	}
	if shouldAlert(verdict) {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			w.logger.Error("alert publish failed", "verdict", verdict.ID, "error", err)
		}
	}
}

// shouldAlert reports whether a verdict warrants the alert topic: any
// detection flagged immediate, or a critical aggregate severity.
func shouldAlert(verdict *domain.Verdict) bool {
	if verdict.Severity == domain.SeverityCritical {
		return true
	}
	for _, d := range verdict.Detections {
		if d.Immediate {
			return true
		}
	}
	return false
}
