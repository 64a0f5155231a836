package patterns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"
	"github.com/perimetra/kestrel/internal/domain"
)

// RuleEngine compiles and evaluates operator-defined CEL pattern rules
// against per-source traffic aggregates.
type RuleEngine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*compiledRule
	maxWorkers int
}

type compiledRule struct {
	rule    *domain.PatternRule
	program cel.Program
}

// NewRuleEngine creates a RuleEngine with the given evaluation parallelism.
func NewRuleEngine(maxWorkers int) (*RuleEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("request_count", cel.IntType),
		cel.Variable("total_bytes", cel.IntType),
		cel.Variable("failed_logins", cel.IntType),
		cel.Variable("unique_destinations", cel.IntType),
		cel.Variable("window_seconds", cel.DoubleType),
		cel.Variable("internal_ratio", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleEngine{
		env:        env,
		compiled:   make(map[string]*compiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles a rule without loading it.
func (e *RuleEngine) Validate(rule *domain.PatternRule) error {
	if rule == nil {
		return fmt.Errorf("pattern rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// Load compiles and loads a rule into the engine.
func (e *RuleEngine) Load(rule *domain.PatternRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.compile(rule)
	if err != nil {
		return err
	}
	e.compiled[rule.ID] = c
	return nil
}

// Reload replaces all loaded rules. Disabled rules are skipped.
func (e *RuleEngine) Reload(rules []*domain.PatternRule) error {
	newRules := make(map[string]*compiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		c, err := e.compile(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = c
	}

	e.mu.Lock()
	e.compiled = newRules
	e.mu.Unlock()
	return nil
}

// Count returns the number of loaded rules.
func (e *RuleEngine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rule definitions.
func (e *RuleEngine) LoadedRules() []*domain.PatternRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.PatternRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c.rule)
	}
	return rules
}

// Evaluate aggregates the batch per source and runs every loaded rule
// against each aggregate in parallel.
func (e *RuleEngine) Evaluate(ctx context.Context, events []domain.NetworkEvent) ([]domain.DetectionResult, error) {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || len(events) == 0 {
		return nil, nil
	}

	aggregates := Aggregate(events)

	var (
		mu      sync.Mutex
		results []domain.DetectionResult
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, e.maxWorkers)

	for _, agg := range aggregates {
		activation := map[string]any{
			"request_count":       int64(agg.RequestCount),
			"total_bytes":         agg.TotalBytes,
			"failed_logins":       int64(agg.FailedLogins),
			"unique_destinations": int64(agg.UniqueDestinations),
			"window_seconds":      agg.WindowSeconds,
			"internal_ratio":      agg.InternalRatio,
		}

		for _, rule := range rules {
			wg.Add(1)
			go func(agg *domain.TrafficAggregate, r *compiledRule, vars map[string]any) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				out, _, err := r.program.Eval(vars)
				if err != nil {
					return
				}
				matched, ok := out.(types.Bool)
				if !ok || !bool(matched) {
					return
				}

				mu.Lock()
				results = append(results, domain.DetectionResult{
					ID:          uuid.NewString(),
					PatternID:   r.rule.ID,
					PatternName: r.rule.Name,
					ThreatType:  r.rule.ThreatType,
					Severity:    r.rule.Severity,
					Confidence:  r.rule.Confidence,
					RiskScore:   r.rule.RiskScore,
					Description: r.rule.Description,
					SourceIP:    agg.SourceIP,
					Timestamp:   time.Now().UTC(),
					Metadata: map[string]interface{}{
						"rule":         r.rule.ID,
						"requestCount": agg.RequestCount,
						"totalBytes":   agg.TotalBytes,
					},
				})
				mu.Unlock()
			}(agg, rule, activation)
		}
	}

	wg.Wait()
	return results, ctx.Err()
}

// Aggregate summarizes a batch per source address.
func Aggregate(events []domain.NetworkEvent) []*domain.TrafficAggregate {
	type acc struct {
		agg          *domain.TrafficAggregate
		destinations map[string]bool
		internal     int
		first, last  time.Time
	}
	bySource := map[string]*acc{}

	for i := range events {
		e := &events[i]
		a := bySource[e.SourceIP]
		if a == nil {
			a = &acc{
				agg:          &domain.TrafficAggregate{SourceIP: e.SourceIP},
				destinations: map[string]bool{},
				first:        e.Timestamp,
				last:         e.Timestamp,
			}
			bySource[e.SourceIP] = a
		}
		a.agg.RequestCount++
		a.agg.TotalBytes += int64(e.PayloadSize)
		if e.FailedAttempts > 0 {
			a.agg.FailedLogins += e.FailedAttempts
		}
		a.destinations[e.DestIP] = true
		if isInternalAddr(e.DestIP) {
			a.internal++
		}
		if e.Timestamp.Before(a.first) {
			a.first = e.Timestamp
		}
		if e.Timestamp.After(a.last) {
			a.last = e.Timestamp
		}
	}

	out := make([]*domain.TrafficAggregate, 0, len(bySource))
	for _, a := range bySource {
		a.agg.UniqueDestinations = len(a.destinations)
		a.agg.WindowSeconds = a.last.Sub(a.first).Seconds()
		a.agg.InternalRatio = float64(a.internal) / float64(a.agg.RequestCount)
		out = append(out, a.agg)
	}
	return out
}

func (e *RuleEngine) compile(rule *domain.PatternRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}
