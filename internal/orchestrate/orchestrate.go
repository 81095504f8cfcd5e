package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/astrelia/readings/internal/auth"
	"github.com/astrelia/readings/internal/provider"
	"github.com/astrelia/readings/internal/task"
	"github.com/astrelia/readings/internal/usage"
)

// ErrAllProvidersExhausted is returned when every configured provider failed
// or was skipped because its breaker is open.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

const defaultCallTimeout = 60 * time.Second

// Entry is one provider in the failover chain, in priority order.
type Entry struct {
	Provider provider.Provider
	Timeout  time.Duration
}

// Outcome is a successful completion plus its accounting.
type Outcome struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
}

// Orchestrator walks the provider chain in order until one succeeds.
// Each provider gets its own circuit breaker so a flapping vendor is
// skipped without burning its timeout on every request.
type Orchestrator struct {
	entries    []Entry
	breakers   map[string]*gobreaker.CircuitBreaker
	usageStore usage.Store
	tasks      *task.Supervisor
}

func New(entries []Entry, usageStore usage.Store, tasks *task.Supervisor) *Orchestrator {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(entries))
	for _, e := range entries {
		name := e.Provider.Name()
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("orchestrate: breaker %s: %s -> %s", name, from, to)
			},
		})
	}
	return &Orchestrator{
		entries:    entries,
		breakers:   breakers,
		usageStore: usageStore,
		tasks:      tasks,
	}
}

// Generate tries each provider in order and returns the first success.
// A provider whose breaker is open counts as a failed attempt and is
// skipped. If the chain is exhausted the last error is wrapped in
// ErrAllProvidersExhausted.
func (o *Orchestrator) Generate(ctx context.Context, pair *provider.PromptPair) (*Outcome, error) {
	var lastErr error

	for _, entry := range o.entries {
		p := entry.Provider
		breaker := o.breakers[p.Name()]

		timeout := entry.Timeout
		if timeout <= 0 {
			timeout = defaultCallTimeout
		}

		start := time.Now()
		result, err := breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return p.Complete(callCtx, pair)
		})
		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", p.Name(), err)
			log.Printf("orchestrate: provider %s failed: %v", p.Name(), err)
			// A cancelled parent context means the caller is gone;
			// trying the next provider would be wasted work.
			if ctx.Err() != nil {
				break
			}
			continue
		}

		completion := result.(*provider.Completion)
		latency := time.Since(start).Milliseconds()
		cost := roundMicroUSD(
			float64(completion.InputTokens)*p.CostPerInputToken() +
				float64(completion.OutputTokens)*p.CostPerOutputToken(),
		)

		o.logUsage(ctx, completion, cost, latency)

		return &Outcome{
			Text:         completion.Text,
			Provider:     completion.Provider,
			Model:        completion.Model,
			InputTokens:  completion.InputTokens,
			OutputTokens: completion.OutputTokens,
			CostUSD:      cost,
			LatencyMs:    latency,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllProvidersExhausted, lastErr)
}

// Stream opens a streaming completion on the first provider whose breaker
// admits the call. Streaming does not fail over mid-stream; a provider that
// cannot start a stream is skipped like a failed Complete.
func (o *Orchestrator) Stream(ctx context.Context, pair *provider.PromptPair) (<-chan *provider.Chunk, string, error) {
	var lastErr error

	for _, entry := range o.entries {
		p := entry.Provider
		breaker := o.breakers[p.Name()]

		result, err := breaker.Execute(func() (any, error) {
			return p.CompleteStream(ctx, pair)
		})
		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", p.Name(), err)
			log.Printf("orchestrate: provider %s stream failed: %v", p.Name(), err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		// Token counts are unknown until the stream ends; log the call
		// itself with zero tokens.
		if o.usageStore != nil {
			entry := &usage.Log{
				SubjectID: auth.GetSubjectID(ctx),
				RequestID: auth.GetRequestID(ctx),
				Provider:  p.Name(),
				Model:     p.Model(),
			}
			o.tasks.Go("usage-log", func(ctx context.Context) error {
				return o.usageStore.LogUsage(ctx, entry)
			})
		}

		return result.(<-chan *provider.Chunk), p.Name(), nil
	}

	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return nil, "", fmt.Errorf("%w: last error: %v", ErrAllProvidersExhausted, lastErr)
}

// logUsage records the call off the critical path. Identity comes from the
// request context captured before the task detaches.
func (o *Orchestrator) logUsage(ctx context.Context, c *provider.Completion, cost float64, latencyMs int64) {
	if o.usageStore == nil {
		return
	}

	entry := &usage.Log{
		SubjectID:    auth.GetSubjectID(ctx),
		RequestID:    auth.GetRequestID(ctx),
		Provider:     c.Provider,
		Model:        c.Model,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		CostUSD:      cost,
		LatencyMs:    latencyMs,
	}

	o.tasks.Go("usage-log", func(ctx context.Context) error {
		return o.usageStore.LogUsage(ctx, entry)
	})
}

// roundMicroUSD rounds to whole micro-dollars so repeated accumulation of
// per-token costs stays stable across providers.
func roundMicroUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
