// Package cache implements the Performance Cache layer: a Redis-backed
// implementation for production and an in-process fallback, both
// implementing ucg.PerformanceCache's protected/expendable key split.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ucgraph/core/internal/ucg"
)

type localEntry struct {
	value      string
	expiresAt  time.Time
	hasTTL     bool
}

// Local is an in-process fallback used when Redis is unreachable, and the
// sole cache implementation for single-process deployments/tests. It
// mirrors the owning repository's Cache type: an RWMutex-guarded map plus a
// periodic cleanup goroutine that only ever evicts TTL'd (expendable)
// entries, never protected ones.
type Local struct {
	mu      sync.RWMutex
	entries map[string]*localEntry
	stop    chan struct{}
}

// NewLocal starts a Local cache with a background cleanup tick.
func NewLocal(cleanupInterval time.Duration) *Local {
	l := &Local{entries: map[string]*localEntry{}, stop: make(chan struct{})}
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	go l.loop(cleanupInterval)
	return l
}

func (l *Local) loop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Local) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if e.hasTTL && now.After(e.expiresAt) {
			delete(l.entries, k)
		}
	}
}

// Close stops the cleanup goroutine.
func (l *Local) Close() { close(l.stop) }

func (l *Local) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.hasTTL && time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (l *Local) Set(_ context.Context, key, value string, class ucg.KeyClass) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := &localEntry{value: value}
	if class == ucg.Expendable {
		entry.hasTTL = true
		entry.expiresAt = time.Now().Add(5 * time.Minute)
	}
	l.entries[key] = entry
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *Local) DeletePrefix(_ context.Context, prefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.entries {
		if strings.HasPrefix(k, prefix) {
			delete(l.entries, k)
		}
	}
	return nil
}

func (l *Local) FlushProtected(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if !e.hasTTL {
			delete(l.entries, k)
		}
	}
	return nil
}

func (l *Local) Available(context.Context) bool { return true }

var _ ucg.PerformanceCache = (*Local)(nil)
