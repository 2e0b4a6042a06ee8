// Package cache provides a bounded, time-limited store of aggregated URL verdicts
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/commjoen/urlsentry/pkg/models"
)

const (
	// DefaultTTL is the freshness window of a cached verdict
	DefaultTTL = 12 * time.Hour
	// DefaultCapacity bounds the number of cached URLs
	DefaultCapacity = 10000
)

// Config controls cache sizing and expiry
type Config struct {
	TTL      time.Duration
	Capacity int
	Clock    clockwork.Clock
}

// Cache maps a raw URL string to its last aggregated verdict.
// Stored entries are never mutated; Touch replaces an entry with an updated copy.
type Cache struct {
	entries *lru.Cache[string, *entry]
	ttl     time.Duration
	clock   clockwork.Clock

	// mu serializes writers so a stale read-then-remove cannot drop a fresh entry
	mu sync.Mutex
}

type entry struct {
	result    *models.ReputationResult
	createdAt time.Time
}

// New creates a cache. Zero values in config fall back to the defaults.
func New(config Config) (*Cache, error) {
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if config.Capacity == 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.TTL < 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %s", config.TTL)
	}

	entries, err := lru.New[string, *entry](config.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}

	return &Cache{
		entries: entries,
		ttl:     config.TTL,
		clock:   config.Clock,
	}, nil
}

// Get returns a copy of the cached result for url if it is still fresh.
// Expired entries are dropped and reported as absent.
func (c *Cache) Get(url string) (*models.ReputationResult, bool) {
	e, ok := c.entries.Get(url)
	if !ok {
		return nil, false
	}
	if !c.fresh(e) {
		c.removeIfSame(url, e)
		return nil, false
	}
	return e.result.Clone(), true
}

// Put stores result for url, replacing any previous entry and restarting its freshness window
func (c *Cache) Put(url string, result *models.ReputationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(url, &entry{
		result:    result.Clone(),
		createdAt: c.clock.Now(),
	})
}

// Touch applies mutate to the fresh entry for url, keeping its creation time.
// It returns false when there is no fresh entry.
func (c *Cache) Touch(url string, mutate func(*models.ReputationResult)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(url)
	if !ok || !c.fresh(e) {
		return false
	}

	updated := e.result.Clone()
	mutate(updated)
	c.entries.Add(url, &entry{result: updated, createdAt: e.createdAt})
	return true
}

// Len returns the number of entries, including expired ones not yet swept
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Sweep removes every expired entry and returns how many were removed
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && !c.fresh(e) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done
func (c *Cache) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			removed := c.Sweep()
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

func (c *Cache) fresh(e *entry) bool {
	return c.clock.Since(e.createdAt) < c.ttl
}

func (c *Cache) removeIfSame(url string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries.Peek(url); ok && cur == e {
		c.entries.Remove(url)
	}
}
