// Load generator for kestrel's analysis API.
//
// Generates synthetic network event batches with a configurable share of
// hostile traffic, posts them to /api/v1/analyze through a worker pool,
// and reports detection quality and throughput.
//
// Usage:
//
//	loadgen -url http://localhost:8080 -batches 100 -batch-size 50 -attack-ratio 0.2
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

type options struct {
	url         string
	batches     int
	batchSize   int
	workers     int
	attackRatio float64
	seed        int64
	verbose     bool
}

// batch pairs generated events with their ground-truth labels.
type batch struct {
	request domain.EventBatchRequest
	hostile map[string]bool // event ID -> injected as attack traffic
}

// analyzeResponse mirrors the /api/v1/analyze response shape.
type analyzeResponse struct {
	Verdicts []domain.Verdict `json:"verdicts"`
	Count    int              `json:"count"`
}

// results accumulates counters across workers.
type results struct {
	batchesSent   atomic.Int64
	batchesFailed atomic.Int64
	eventsSent    atomic.Int64

	truePositives  atomic.Int64
	falsePositives atomic.Int64
	trueNegatives  atomic.Int64
	falseNegatives atomic.Int64

	totalLatencyMicros atomic.Int64

	mu         sync.Mutex
	severities map[domain.Severity]int
}

func (r *results) observeSeverity(s domain.Severity) {
	r.mu.Lock()
	r.severities[s]++
	r.mu.Unlock()
}

func main() {
	opts := parseFlags()

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        Kestrel Load Generator             ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Target:       %s\n", opts.url)
	fmt.Printf("Batches:      %d x %d events\n", opts.batches, opts.batchSize)
	fmt.Printf("Workers:      %d\n", opts.workers)
	fmt.Printf("Attack ratio: %.0f%%\n", opts.attackRatio*100)
	fmt.Println()

	if err := checkHealth(opts.url); err != nil {
		fmt.Fprintf(os.Stderr, "target is not healthy: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Target is healthy")
	fmt.Println()

	rng := rand.New(rand.NewSource(opts.seed))
	batches := make(chan batch, opts.workers*2)
	res := &results{severities: make(map[domain.Severity]int)}

	client := &http.Client{Timeout: 30 * time.Second}

	var wg sync.WaitGroup
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range batches {
				sendBatch(client, opts, b, res)
			}
		}()
	}

	start := time.Now()
	for i := 0; i < opts.batches; i++ {
		batches <- generateBatch(rng, i, opts)
	}
	close(batches)
	wg.Wait()
	elapsed := time.Since(start)

	printResults(res, elapsed)
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.url, "url", "http://localhost:8080", "Base URL of the kestrel server")
	flag.IntVar(&opts.batches, "batches", 100, "Number of batches to send")
	flag.IntVar(&opts.batchSize, "batch-size", 50, "Events per batch")
	flag.IntVar(&opts.workers, "workers", 4, "Concurrent senders")
	flag.Float64Var(&opts.attackRatio, "attack-ratio", 0.2, "Fraction of events generated as attacks")
	flag.Int64Var(&opts.seed, "seed", 42, "Random seed for reproducible traffic")
	flag.BoolVar(&opts.verbose, "verbose", false, "Log each batch result")
	flag.Parse()

	if opts.batchSize < 1 || opts.batchSize > 1000 {
		fmt.Fprintln(os.Stderr, "batch-size must be between 1 and 1000")
		os.Exit(1)
	}
	if opts.attackRatio < 0 || opts.attackRatio > 1 {
		fmt.Fprintln(os.Stderr, "attack-ratio must be between 0 and 1")
		os.Exit(1)
	}
	return opts
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(strings.TrimRight(baseURL, "/") + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// generateBatch builds one batch of synthetic events. Attack events model
// brute-force logins, data staging and beaconing; benign events model
// ordinary office traffic.
func generateBatch(rng *rand.Rand, seq int, opts options) batch {
	events := make([]domain.NetworkEvent, 0, opts.batchSize)
	hostile := make(map[string]bool, opts.batchSize)
	now := time.Now()

	for i := 0; i < opts.batchSize; i++ {
		id := fmt.Sprintf("evt-%06d-%03d", seq, i)
		isAttack := rng.Float64() < opts.attackRatio

		var ev domain.NetworkEvent
		if isAttack {
			ev = attackEvent(rng, id, now)
		} else {
			ev = benignEvent(rng, id, now)
		}
		events = append(events, ev)
		hostile[id] = isAttack
	}

	return batch{
		request: domain.EventBatchRequest{Events: events},
		hostile: hostile,
	}
}

func benignEvent(rng *rand.Rand, id string, now time.Time) domain.NetworkEvent {
	return domain.NetworkEvent{
		ID:               id,
		SourceIP:         fmt.Sprintf("10.0.%d.%d", rng.Intn(255), 1+rng.Intn(254)),
		DestIP:           fmt.Sprintf("10.1.%d.%d", rng.Intn(255), 1+rng.Intn(254)),
		UserID:           fmt.Sprintf("user-%03d", rng.Intn(100)),
		Protocol:         "tcp",
		Port:             []int{80, 443, 8080}[rng.Intn(3)],
		PayloadSize:      200 + rng.Intn(4000),
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64)",
		SessionDuration:  60 + rng.Float64()*1800,
		RequestFrequency: 1 + rng.Float64()*20,
		FailedAttempts:   0,
		Country:          "US",
		Timestamp:        now,
	}
}

func attackEvent(rng *rand.Rand, id string, now time.Time) domain.NetworkEvent {
	switch rng.Intn(3) {
	case 0: // brute force
		return domain.NetworkEvent{
			ID:               id,
			SourceIP:         fmt.Sprintf("203.0.113.%d", 1+rng.Intn(254)),
			DestIP:           "10.1.0.10",
			Protocol:         "tcp",
			Port:             22,
			PayloadSize:      64,
			SessionDuration:  2 + rng.Float64()*5,
			RequestFrequency: 200 + rng.Float64()*400,
			FailedAttempts:   8 + rng.Intn(30),
			Country:          "KP",
			Timestamp:        now,
		}
	case 1: // data staging
		return domain.NetworkEvent{
			ID:               id,
			SourceIP:         fmt.Sprintf("10.0.%d.%d", rng.Intn(255), 1+rng.Intn(254)),
			DestIP:           fmt.Sprintf("198.51.100.%d", 1+rng.Intn(254)),
			UserID:           fmt.Sprintf("user-%03d", rng.Intn(100)),
			Protocol:         "tcp",
			Port:             443,
			PayloadSize:      5_000_000 + rng.Intn(50_000_000),
			SessionDuration:  3600 + rng.Float64()*7200,
			RequestFrequency: 50 + rng.Float64()*100,
			Country:          "US",
			Timestamp:        now,
		}
	default: // beaconing
		return domain.NetworkEvent{
			ID:               id,
			SourceIP:         fmt.Sprintf("10.0.%d.%d", rng.Intn(255), 1+rng.Intn(254)),
			DestIP:           fmt.Sprintf("192.0.2.%d", 1+rng.Intn(254)),
			Protocol:         "udp",
			Port:             4444,
			PayloadSize:      128,
			SessionDuration:  1,
			RequestFrequency: 500 + rng.Float64()*500,
			FailedAttempts:   0,
			Country:          "RU",
			Timestamp:        now,
		}
	}
}

func sendBatch(client *http.Client, opts options, b batch, res *results) {
	body, err := json.Marshal(b.request)
	if err != nil {
		res.batchesFailed.Add(1)
		return
	}

	start := time.Now()
	resp, err := client.Post(
		strings.TrimRight(opts.url, "/")+"/api/v1/analyze",
		"application/json",
		bytes.NewReader(body),
	)
	latency := time.Since(start)
	if err != nil {
		res.batchesFailed.Add(1)
		if opts.verbose {
			fmt.Fprintf(os.Stderr, "batch failed: %v\n", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.batchesFailed.Add(1)
		if opts.verbose {
			fmt.Fprintf(os.Stderr, "batch rejected: status %d\n", resp.StatusCode)
		}
		return
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		res.batchesFailed.Add(1)
		return
	}

	res.batchesSent.Add(1)
	res.eventsSent.Add(int64(len(b.request.Events)))
	res.totalLatencyMicros.Add(latency.Microseconds())

	for _, v := range out.Verdicts {
		res.observeSeverity(v.Severity)
		flagged := v.Severity == domain.SeverityHigh || v.Severity == domain.SeverityCritical
		switch {
		case flagged && b.hostile[v.EventID]:
			res.truePositives.Add(1)
		case flagged && !b.hostile[v.EventID]:
			res.falsePositives.Add(1)
		case !flagged && b.hostile[v.EventID]:
			res.falseNegatives.Add(1)
		default:
			res.trueNegatives.Add(1)
		}
	}

	if opts.verbose {
		fmt.Printf("batch ok: %d verdicts in %v\n", out.Count, latency)
	}
}

func printResults(res *results, elapsed time.Duration) {
	tp := res.truePositives.Load()
	fp := res.falsePositives.Load()
	tn := res.trueNegatives.Load()
	fn := res.falseNegatives.Load()
	events := res.eventsSent.Load()
	sent := res.batchesSent.Load()

	var precision, recall, f1, accuracy float64
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	if events > 0 {
		accuracy = float64(tp+tn) / float64(events)
	}

	var avgLatency time.Duration
	if sent > 0 {
		avgLatency = time.Duration(res.totalLatencyMicros.Load()/sent) * time.Microsecond
	}

	fmt.Println()
	fmt.Println("═══════════════════ RESULTS ═══════════════════")
	fmt.Printf("Elapsed:          %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Batches:          %d ok, %d failed\n", sent, res.batchesFailed.Load())
	fmt.Printf("Events scored:    %d\n", events)
	if elapsed > 0 {
		fmt.Printf("Throughput:       %.0f events/sec\n", float64(events)/elapsed.Seconds())
	}
	fmt.Printf("Avg batch time:   %v\n", avgLatency)
	fmt.Println()
	fmt.Println("Detection (high/critical = flagged):")
	fmt.Printf("  True positives:  %d\n", tp)
	fmt.Printf("  False positives: %d\n", fp)
	fmt.Printf("  True negatives:  %d\n", tn)
	fmt.Printf("  False negatives: %d\n", fn)
	fmt.Printf("  Precision:       %.2f%%\n", precision*100)
	fmt.Printf("  Recall:          %.2f%%\n", recall*100)
	fmt.Printf("  F1 score:        %.2f%%\n", f1*100)
	fmt.Printf("  Accuracy:        %.2f%%\n", accuracy*100)
	fmt.Println()

	res.mu.Lock()
	fmt.Println("Severity distribution:")
	for _, s := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow} {
		if n, ok := res.severities[s]; ok {
			fmt.Printf("  %-9s %d\n", s, n)
		}
	}
	res.mu.Unlock()
	fmt.Println("════════════════════════════════════════════════")
}
