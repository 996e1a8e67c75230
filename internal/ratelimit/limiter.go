// Package ratelimit implements dual-threshold (sustained + burst) admission
// control per tenant over a shared counter store, so limits hold across
// multiple stateless API instances.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/metrics"
)

type LimitType string

const (
	LimitBurst     LimitType = "BURST_EXCEEDED"
	LimitSustained LimitType = "RATE_EXCEEDED"
)

// Config carries the thresholds for one check. Burst is the stricter,
// fail-fast gate and is always evaluated first.
type Config struct {
	RPS    int
	Burst  int
	Window time.Duration
}

// Decision is the outcome of a check, including everything the HTTP layer
// needs for X-RateLimit-* headers.
type Decision struct {
	Allowed    bool
	LimitType  LimitType // set on rejection
	RetryAfter int       // seconds, set on rejection

	Limit          int64
	Remaining      int64
	BurstLimit     int64
	BurstRemaining int64
	Reset          int64 // unix seconds when the current window ends

	// Degraded is true when the counter store was unreachable and the
	// request was admitted fail-open.
	Degraded bool
}

type Limiter struct {
	store        CounterStore
	storeTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func New(store CounterStore, storeTimeout time.Duration, log *zap.Logger) *Limiter {
	if storeTimeout <= 0 {
		storeTimeout = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, storeTimeout: storeTimeout, log: log, now: time.Now}
}

// windowSeconds is ceil(window / 1s), minimum 1.
func windowSeconds(window time.Duration) int64 {
	secs := int64(math.Ceil(window.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// BurstKey returns the counter key for the burst threshold.
func BurstKey(companyID string, windowKey int64) string {
	return fmt.Sprintf("rate_limit:burst:%s:%d", companyID, windowKey)
}

// RPSKey returns the counter key for the sustained threshold.
func RPSKey(companyID string, windowKey int64) string {
	return fmt.Sprintf("rate_limit:rps:%s:%d", companyID, windowKey)
}

// Check admits or rejects one request for the tenant. The burst gate runs
// before the sustained gate. If the counter store is unreachable the check
// fails open: the request is admitted and a degraded-mode event is logged.
func (l *Limiter) Check(ctx context.Context, companyID string, cfg Config) Decision {
	secs := windowSeconds(cfg.Window)
	windowKey := l.now().Unix() / secs
	window := time.Duration(secs) * time.Second

	allowed := Decision{
		Allowed:        true,
		Limit:          int64(cfg.RPS),
		Remaining:      int64(cfg.RPS),
		BurstLimit:     int64(cfg.Burst),
		BurstRemaining: int64(cfg.Burst),
		Reset:          (windowKey + 1) * secs,
	}

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	burstKey := BurstKey(companyID, windowKey)
	burstCount, err := l.store.Incr(ctx, burstKey, window)
	if err != nil {
		return l.failOpen(companyID, allowed, err)
	}
	if burstCount > int64(cfg.Burst) {
		return l.reject(ctx, burstKey, LimitBurst, secs, allowed)
	}
	allowed.BurstRemaining = int64(cfg.Burst) - burstCount

	rpsKey := RPSKey(companyID, windowKey)
	rpsCount, err := l.store.Incr(ctx, rpsKey, window)
	if err != nil {
		return l.failOpen(companyID, allowed, err)
	}
	if rpsCount > int64(cfg.RPS) {
		return l.reject(ctx, rpsKey, LimitSustained, secs, allowed)
	}
	allowed.Remaining = int64(cfg.RPS) - rpsCount

	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return allowed
}

func (l *Limiter) reject(ctx context.Context, key string, lt LimitType, windowSecs int64, base Decision) Decision {
	retryAfter := int(windowSecs)
	if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = int(math.Ceil(ttl.Seconds()))
	}

	outcome := "rate_exceeded"
	if lt == LimitBurst {
		outcome = "burst_exceeded"
	}
	metrics.RateLimitDecisions.WithLabelValues(outcome).Inc()

	d := base
	d.Allowed = false
	d.LimitType = lt
	d.RetryAfter = retryAfter
	d.Remaining = 0
	if lt == LimitBurst {
		d.BurstRemaining = 0
	}
	return d
}

// failOpen admits the request when the store is down. Availability of the
// send path wins over strict enforcement; the event must be visible in logs.
func (l *Limiter) failOpen(companyID string, base Decision, err error) Decision {
	metrics.RateLimitDecisions.WithLabelValues("degraded").Inc()
	l.log.Warn("rate limiter degraded: counter store unreachable, failing open",
		zap.String("error_kind", string(apperr.KindStoreUnavailable)),
		zap.String("company_id", companyID),
		zap.Error(err),
	)
	d := base
	d.Degraded = true
	return d
}
