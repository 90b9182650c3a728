// Package ratelimit provides a small token-bucket wrapper over
// golang.org/x/time/rate for guarding expensive or externally-supplied
// code paths (e.g. sandboxed script execution) against runaway call rates.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config controls the token bucket's steady-state rate and burst.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig is a conservative bucket suitable for guarding a single
// expensive in-process operation (e.g. one external rule provider).
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 50, Burst: 100}
}

// Limiter is a resettable token bucket.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New builds a Limiter from cfg. A non-positive RequestsPerSecond becomes
// 50; a non-positive Burst becomes twice the (possibly defaulted) rate.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst), config: cfg}
}

// Allow reports whether a call may proceed right now without reserving a
// token for later (non-blocking).
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()
	return lim.Wait(ctx)
}

// Reset replaces the bucket with a fresh one at the configured rate,
// discarding any accumulated burst debt.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
}
