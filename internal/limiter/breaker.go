package limiter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Breaker is a per-provider/model circuit breaker backed by a Redis hash,
// with open, half_open and closed states, plus an in-process semaphore bounding
// max-inflight calls per model. This consolidates the source's two
// overlapping implementations (internal/limiter.Adaptive and
// internal/dispatcher.CircuitBreaker) into one.
type Breaker struct {
	rdb         *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxInflight int

	mu  sync.Mutex
	sem map[string]chan struct{}
}

type BreakerOptions struct {
	RedisURL    string
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxInflight int
}

func NewBreaker(opts BreakerOptions) (*Breaker, error) {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Breaker{
		rdb: c, baseBackoff: opts.BaseBackoff, maxBackoff: opts.MaxBackoff,
		maxInflight: opts.MaxInflight, sem: map[string]chan struct{}{},
	}, nil
}

func (b *Breaker) key(provider, model string) string {
	return fmt.Sprintf("cb:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// IsOpen reports whether the breaker is still in cooldown. A cooldown that
// has expired transitions the state to half_open before returning false.
// In half_open, IsOpen returns false for every caller until Open or Close
// changes the state; the number of probe calls is not limited to one.
func (b *Breaker) IsOpen(ctx context.Context, provider, model string) bool {
	key := b.key(provider, model)
	state, err := b.rdb.HGet(ctx, key, "state").Result()
	if err != nil || state == "" || state != "open" {
		return false
	}
	retryAtStr, _ := b.rdb.HGet(ctx, key, "retry_at").Result()
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if time.Now().Unix() >= retryAt {
		b.rdb.HSet(ctx, key, "state", "half_open")
		log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker moved to half-open")
		return false
	}
	return true
}

// Open records a failure and (re-)enters the open state with exponential
// backoff doubling per consecutive failure, capped at maxBackoff.
func (b *Breaker) Open(ctx context.Context, provider, model string) {
	key := b.key(provider, model)
	failuresStr, _ := b.rdb.HGet(ctx, key, "failures").Result()
	failures, _ := strconv.Atoi(failuresStr)
	failures++

	backoff := b.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
			break
		}
	}
	retryAt := time.Now().Add(backoff).Unix()
	b.rdb.HSet(ctx, key, map[string]interface{}{
		"state": "open", "retry_at": retryAt, "failures": failures,
		"opened_at": time.Now().Unix(),
	})
	b.rdb.Expire(ctx, key, 10*time.Minute)
	log.Warn().Str("provider", provider).Str("model", model).Dur("cooldown", backoff).
		Int("failures", failures).Msg("circuit breaker opened")
}

// Close resets the breaker to closed on a successful call.
func (b *Breaker) Close(ctx context.Context, provider, model string) {
	key := b.key(provider, model)
	state, _ := b.rdb.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return
	}
	b.rdb.Del(ctx, key)
	log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker closed")
}

// Allow reserves an in-process slot bounding max-inflight-per-model calls.
// Returns a release function and true if a slot was available.
func (b *Breaker) Allow(provider, model string) (func(), bool) {
	key := strings.ToLower(provider) + ":" + strings.ToLower(model)
	b.mu.Lock()
	ch, ok := b.sem[key]
	if !ok {
		ch = make(chan struct{}, b.maxInflight)
		b.sem[key] = ch
	}
	b.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

func (b *Breaker) CloseClient() error { return b.rdb.Close() }
