package visionextractor

import (
	"context"
	"fmt"
	"time"

	"github.com/local/docengine/internal/limiter"
	"github.com/local/docengine/internal/metrics"
)

// candidate is one (provider,model) attempt in the failover chain.
type candidate struct {
	client Client
	model  string
}

// Extractor drives the multi-provider/multi-model failover chain: primary
// provider+model, then primary provider's secondary model, then secondary
// provider's primary model, then secondary provider's secondary model,
// gated by a shared circuit breaker and semaphore, generalizing the
// source's dispatcher/worker.go fallback ladder to vision field extraction.
type Extractor struct {
	primary         Client
	primaryModel    string
	secondaryModel  string
	secondary       Client // may be nil
	secondaryModel2 string
	breaker         *limiter.Breaker
	rate            *limiter.RateLimiter
}

type Options struct {
	Primary         Client
	PrimaryModel    string
	SecondaryModel  string // same provider as Primary, fallback model
	Secondary       Client // second provider, may be nil
	SecondaryModel2 string
	Breaker         *limiter.Breaker
	RateLimiter     *limiter.RateLimiter
}

func New(opts Options) *Extractor {
	return &Extractor{
		primary:         opts.Primary,
		primaryModel:    opts.PrimaryModel,
		secondaryModel:  opts.SecondaryModel,
		secondary:       opts.Secondary,
		secondaryModel2: opts.SecondaryModel2,
		breaker:         opts.Breaker,
		rate:            opts.RateLimiter,
	}
}

func (e *Extractor) chain() []candidate {
	chain := []candidate{{e.primary, e.primaryModel}}
	if e.secondaryModel != "" {
		chain = append(chain, candidate{e.primary, e.secondaryModel})
	}
	if e.secondary != nil {
		chain = append(chain, candidate{e.secondary, e.primaryModel})
		if e.secondaryModel2 != "" {
			chain = append(chain, candidate{e.secondary, e.secondaryModel2})
		}
	}
	return chain
}

// Extract runs req through the failover chain, returning the first
// successful result. Rate-limited and circuit-open candidates are skipped
// without being charged as a hard failure; content refusals are terminal
// for that candidate but the chain still tries the next one.
func (e *Extractor) Extract(ctx context.Context, req Request) (Result, error) {
	if err := e.rate.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("vision: rate limiter: %w", err)
	}

	var lastErr error
	for _, cand := range e.chain() {
		name := cand.client.Name()

		if e.breaker.IsOpen(ctx, name, cand.model) {
			lastErr = fmt.Errorf("%s/%s: circuit open", name, cand.model)
			continue
		}

		release, ok := e.breaker.Allow(name, cand.model)
		if !ok {
			lastErr = fmt.Errorf("%s/%s: max inflight reached", name, cand.model)
			continue
		}

		start := time.Now()
		result, err := cand.client.Do(ctx, req, cand.model)
		resultLabel := "ok"
		if err != nil {
			resultLabel = "error"
		}
		metrics.ObserveProvider(name, cand.model, resultLabel, time.Since(start))
		release()

		if err == nil {
			e.breaker.Close(ctx, name, cand.model)
			return result, nil
		}

		lastErr = fmt.Errorf("%s/%s: %w", name, cand.model, err)

		switch {
		case IsRateLimited(err):
			continue
		case IsContentRefused(err):
			continue
		default:
			e.breaker.Open(ctx, name, cand.model)
		}
	}

	return Result{}, fmt.Errorf("vision: all candidates exhausted: %w", lastErr)
}
