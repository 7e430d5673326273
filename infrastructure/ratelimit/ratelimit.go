// Package ratelimit wraps golang.org/x/time/rate for adapter query pacing.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the default adapter query rate limit.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 50,
		Burst:             100,
	}
}

// Limiter bounds the rate of outbound adapter queries.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether a request may proceed now.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Wait blocks until a request may proceed or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()
	return lim.Wait(ctx)
}

// Reserve returns the delay before a request may proceed.
func (l *Limiter) Reserve() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Reserve().Delay()
}

// SetRate adjusts the limit at runtime.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	if requestsPerSecond <= 0 || burst <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.RequestsPerSecond = requestsPerSecond
	l.config.Burst = burst
	l.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
