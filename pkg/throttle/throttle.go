// Package throttle limits how often an action may run for a given key.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter reports whether the action for key may run now. A true result
// reserves the key for the limiter's window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis shares the window across every replica through SET NX PX.
type Redis struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

func NewRedis(client redis.Cmdable, prefix string, window time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if r.window <= 0 {
		return true, nil
	}
	return r.client.SetNX(ctx, r.prefix+key, 1, r.window).Result()
}

// Memory is the single-process fallback used when no redis is configured.
type Memory struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewMemory(window time.Duration) *Memory {
	return &Memory{last: make(map[string]time.Time), window: window, now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	if m.window <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if t, ok := m.last[key]; ok && now.Sub(t) < m.window {
		return false, nil
	}
	m.last[key] = now
	if len(m.last) > 1024 {
		m.prune(now)
	}
	return true, nil
}

func (m *Memory) prune(now time.Time) {
	for k, t := range m.last {
		if now.Sub(t) >= m.window {
			delete(m.last, k)
		}
	}
}
