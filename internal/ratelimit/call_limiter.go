// Package ratelimit provides rate limiting functionality for cost and load control.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CallLimiter bounds the rate and concurrency of outbound call placements
// against the carrier, protecting against runaway /initiate traffic and
// carrier-side concurrent-call caps.
type CallLimiter struct {
	mu sync.RWMutex

	// Configuration
	maxRequestsPerMinute int
	maxRequestsPerHour   int
	maxRequestsPerDay    int
	maxConcurrent        int

	// State
	minuteBucket  *tokenBucket
	hourBucket    *tokenBucket
	dayBucket     *tokenBucket
	currentActive int

	// Metrics
	totalRequests   int64
	totalRejected   int64
	lastRejectedAt  time.Time
	rejectionReason string

	logger *zap.Logger
}

// CallLimiterConfig holds configuration for the call limiter.
type CallLimiterConfig struct {
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxRequestsPerDay    int
	MaxConcurrent        int
}

// DefaultCallLimiterConfig returns sensible defaults for carrier call placement.
func DefaultCallLimiterConfig() *CallLimiterConfig {
	return &CallLimiterConfig{
		MaxRequestsPerMinute: 30,  // 30 placements per minute
		MaxRequestsPerHour:   500, // 500 placements per hour
		MaxRequestsPerDay:    2000,
		MaxConcurrent:        20, // 20 concurrent outbound calls in flight
	}
}

// NewCallLimiter creates a new call placement rate limiter.
func NewCallLimiter(cfg *CallLimiterConfig, logger *zap.Logger) *CallLimiter {
	if cfg == nil {
		cfg = DefaultCallLimiterConfig()
	}

	now := time.Now()
	return &CallLimiter{
		maxRequestsPerMinute: cfg.MaxRequestsPerMinute,
		maxRequestsPerHour:   cfg.MaxRequestsPerHour,
		maxRequestsPerDay:    cfg.MaxRequestsPerDay,
		maxConcurrent:        cfg.MaxConcurrent,
		minuteBucket:         newTokenBucket(cfg.MaxRequestsPerMinute, time.Minute, now),
		hourBucket:           newTokenBucket(cfg.MaxRequestsPerHour, time.Hour, now),
		dayBucket:            newTokenBucket(cfg.MaxRequestsPerDay, 24*time.Hour, now),
		logger:               logger,
	}
}

// Errors for call placement rate limiting.
var (
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrMinuteLimitExceeded     = errors.New("minute rate limit exceeded")
	ErrHourLimitExceeded       = errors.New("hour rate limit exceeded")
	ErrDayLimitExceeded        = errors.New("day rate limit exceeded")
	ErrConcurrentLimitExceeded = errors.New("concurrent call limit exceeded")
)

// Acquire attempts to acquire a slot for an outbound call placement.
// Returns nil if successful, or an error describing which limit was hit.
func (cl *CallLimiter) Acquire(ctx context.Context) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.totalRequests++
	now := time.Now()

	if cl.currentActive >= cl.maxConcurrent {
		cl.reject("concurrent limit", now)
		return ErrConcurrentLimitExceeded
	}

	if !cl.minuteBucket.tryAcquire(now) {
		cl.reject("minute limit", now)
		return ErrMinuteLimitExceeded
	}

	if !cl.hourBucket.tryAcquire(now) {
		cl.minuteBucket.release()
		cl.reject("hour limit", now)
		return ErrHourLimitExceeded
	}

	if !cl.dayBucket.tryAcquire(now) {
		cl.minuteBucket.release()
		cl.hourBucket.release()
		cl.reject("day limit", now)
		return ErrDayLimitExceeded
	}

	cl.currentActive++

	cl.logger.Debug("call placement rate limit acquired",
		zap.Int("active", cl.currentActive),
		zap.Int("minute_remaining", cl.minuteBucket.remaining()),
		zap.Int("hour_remaining", cl.hourBucket.remaining()),
		zap.Int("day_remaining", cl.dayBucket.remaining()),
	)

	return nil
}

// Release releases a slot after the call placement attempt completes
// (successfully or not).
func (cl *CallLimiter) Release() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.currentActive > 0 {
		cl.currentActive--
	}

	cl.logger.Debug("call placement rate limit released",
		zap.Int("active", cl.currentActive),
	)
}

// Wait blocks until a slot is available or ctx is canceled.
func (cl *CallLimiter) Wait(ctx context.Context) error {
	if err := cl.Acquire(ctx); err == nil {
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := cl.Acquire(ctx); err == nil {
				return nil
			}
		}
	}
}

// reject records a rejection.
func (cl *CallLimiter) reject(reason string, t time.Time) {
	cl.totalRejected++
	cl.lastRejectedAt = t
	cl.rejectionReason = reason

	cl.logger.Warn("call placement rate limit exceeded",
		zap.String("reason", reason),
		zap.Int64("total_rejected", cl.totalRejected),
	)
}

// Stats returns current rate limiter statistics.
func (cl *CallLimiter) Stats() CallLimiterStats {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	now := time.Now()
	return CallLimiterStats{
		CurrentActive:       cl.currentActive,
		MaxConcurrent:       cl.maxConcurrent,
		MinuteRemaining:     cl.minuteBucket.remaining(),
		MinuteMax:           cl.maxRequestsPerMinute,
		HourRemaining:       cl.hourBucket.remaining(),
		HourMax:             cl.maxRequestsPerHour,
		DayRemaining:        cl.dayBucket.remaining(),
		DayMax:              cl.maxRequestsPerDay,
		TotalRequests:       cl.totalRequests,
		TotalRejected:       cl.totalRejected,
		LastRejectedAt:      cl.lastRejectedAt,
		LastRejectionReason: cl.rejectionReason,
		MinuteResetIn:       cl.minuteBucket.resetIn(now),
		HourResetIn:         cl.hourBucket.resetIn(now),
		DayResetIn:          cl.dayBucket.resetIn(now),
	}
}

// CallLimiterStats holds statistics about the call limiter.
type CallLimiterStats struct {
	CurrentActive       int           `json:"current_active"`
	MaxConcurrent       int           `json:"max_concurrent"`
	MinuteRemaining     int           `json:"minute_remaining"`
	MinuteMax           int           `json:"minute_max"`
	HourRemaining       int           `json:"hour_remaining"`
	HourMax             int           `json:"hour_max"`
	DayRemaining        int           `json:"day_remaining"`
	DayMax              int           `json:"day_max"`
	TotalRequests       int64         `json:"total_requests"`
	TotalRejected       int64         `json:"total_rejected"`
	LastRejectedAt      time.Time     `json:"last_rejected_at,omitempty"`
	LastRejectionReason string        `json:"last_rejection_reason,omitempty"`
	MinuteResetIn       time.Duration `json:"minute_reset_in"`
	HourResetIn         time.Duration `json:"hour_reset_in"`
	DayResetIn          time.Duration `json:"day_reset_in"`
}

// tokenBucket is a simple fixed-window token bucket: all tokens are restored
// once a full period has elapsed since the last reset.
type tokenBucket struct {
	max       int
	period    time.Duration
	tokens    int
	lastReset time.Time
}

func newTokenBucket(maxTokens int, period time.Duration, now time.Time) *tokenBucket {
	return &tokenBucket{
		max:       maxTokens,
		period:    period,
		tokens:    maxTokens,
		lastReset: now,
	}
}

func (b *tokenBucket) tryAcquire(now time.Time) bool {
	b.refill(now)
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (b *tokenBucket) release() {
	if b.tokens < b.max {
		b.tokens++
	}
}

func (b *tokenBucket) remaining() int {
	return b.tokens
}

func (b *tokenBucket) resetIn(now time.Time) time.Duration {
	elapsed := now.Sub(b.lastReset)
	remaining := b.period - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastReset)
	if elapsed >= b.period {
		b.tokens = b.max
		b.lastReset = now
	}
}
