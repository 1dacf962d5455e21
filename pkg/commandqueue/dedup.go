package commandqueue

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	result    taskResult
	timestamp time.Time
}

// dedupCache remembers task outcomes by request ID for a bounded time
type dedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go cache.cleanup(ctx)
	return cache
}

// Stop ends the cleanup goroutine
func (dc *dedupCache) Stop() {
	dc.cancel()
	<-dc.done
}

func (dc *dedupCache) Get(requestID string) (taskResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, ok := dc.entries[requestID]
	if !ok || time.Since(entry.timestamp) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

func (dc *dedupCache) Set(requestID string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.entries[requestID] = &dedupEntry{result: result, timestamp: time.Now()}
}

func (dc *dedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}

func (dc *dedupCache) cleanup(ctx context.Context) {
	defer close(dc.done)

	interval := dc.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = dc.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for id, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, id)
				}
			}
			dc.mu.Unlock()
		}
	}
}
