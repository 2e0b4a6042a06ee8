package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/commjoen/urlsentry/pkg/models"
)

func newTestCache(t *testing.T, capacity int) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c, err := New(Config{TTL: 12 * time.Hour, Capacity: capacity, Clock: clock})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return c, clock
}

func sampleResult(url string) *models.ReputationResult {
	return &models.ReputationResult{
		URL: url,
		ProviderOutcomes: map[string]models.ProviderOutcome{
			models.ProviderVirusTotal: {Service: "VirusTotal", Score: 1, Succeeded: true},
			models.ProviderURLScan:    {Service: "Urlscan", Score: 0, Succeeded: true},
		},
		AggregateScore: 0.5,
	}
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.ttl != DefaultTTL {
		t.Errorf("Expected default TTL %v, got %v", DefaultTTL, c.ttl)
	}

	if _, err := New(Config{Capacity: -1}); err == nil {
		t.Error("Expected error for negative capacity")
	}
	if _, err := New(Config{TTL: -time.Second}); err == nil {
		t.Error("Expected error for negative TTL")
	}
}

func TestGetPut(t *testing.T) {
	c, _ := newTestCache(t, 10)

	if _, ok := c.Get("http://a/"); ok {
		t.Error("Expected miss on empty cache")
	}

	c.Put("http://a/", sampleResult("http://a/"))
	got, ok := c.Get("http://a/")
	if !ok {
		t.Fatal("Expected hit after Put")
	}
	if got.AggregateScore != 0.5 {
		t.Errorf("Expected score 0.5, got %v", got.AggregateScore)
	}

	// Keys are raw strings, no normalization
	if _, ok := c.Get("http://a"); ok {
		t.Error("Expected textually different URL to miss")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Put("http://a/", sampleResult("http://a/"))

	got, _ := c.Get("http://a/")
	got.AggregateScore = 0
	got.ProviderOutcomes[models.ProviderVirusTotal] = models.ProviderOutcome{}

	again, _ := c.Get("http://a/")
	if again.AggregateScore != 0.5 || again.ProviderOutcomes[models.ProviderVirusTotal].Score != 1 {
		t.Error("Mutating a returned result must not change the cached entry")
	}
}

func TestFreshnessWindow(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("http://a/", sampleResult("http://a/"))

	clock.Advance(12*time.Hour - time.Second)
	if _, ok := c.Get("http://a/"); !ok {
		t.Error("Expected hit just inside the freshness window")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("http://a/"); ok {
		t.Error("Expected miss once the window has elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry to be dropped, len=%d", c.Len())
	}
}

func TestPutRestartsWindow(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("http://a/", sampleResult("http://a/"))
	clock.Advance(11 * time.Hour)
	c.Put("http://a/", sampleResult("http://a/"))
	clock.Advance(11 * time.Hour)

	if _, ok := c.Get("http://a/"); !ok {
		t.Error("Expected overwrite to restart the freshness window")
	}
	if c.Len() != 1 {
		t.Errorf("Expected a single entry per URL, got %d", c.Len())
	}
}

func TestTouch(t *testing.T) {
	c, clock := newTestCache(t, 10)

	if c.Touch("http://missing/", func(*models.ReputationResult) {}) {
		t.Error("Expected Touch on missing entry to return false")
	}

	c.Put("http://a/", sampleResult("http://a/"))
	clock.Advance(6 * time.Hour)

	ok := c.Touch("http://a/", func(r *models.ReputationResult) {
		r.ReportStatus = &models.ReportStatus{Netcraft: &models.ReportOutcome{Success: true}}
	})
	if !ok {
		t.Fatal("Expected Touch to succeed on fresh entry")
	}

	got, _ := c.Get("http://a/")
	if got.ReportStatus == nil || !got.ReportStatus.Netcraft.Success {
		t.Error("Expected report status to be attached")
	}

	// Touch keeps the original creation time
	clock.Advance(6 * time.Hour)
	if _, ok := c.Get("http://a/"); ok {
		t.Error("Expected Touch not to extend the freshness window")
	}
	if c.Touch("http://a/", func(*models.ReputationResult) {}) {
		t.Error("Expected Touch on expired entry to return false")
	}
}

func TestCapacityEviction(t *testing.T) {
	c, _ := newTestCache(t, 2)
	c.Put("http://a/", sampleResult("http://a/"))
	c.Put("http://b/", sampleResult("http://b/"))

	// Use a so b becomes least recently used
	c.Get("http://a/")
	c.Put("http://c/", sampleResult("http://c/"))

	if c.Len() != 2 {
		t.Errorf("Expected capacity bound of 2, got %d", c.Len())
	}
	if _, ok := c.Get("http://b/"); ok {
		t.Error("Expected least recently used entry to be evicted")
	}
	if _, ok := c.Get("http://a/"); !ok {
		t.Error("Expected recently used entry to survive")
	}
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("http://old/", sampleResult("http://old/"))
	clock.Advance(8 * time.Hour)
	c.Put("http://new/", sampleResult("http://new/"))
	clock.Advance(5 * time.Hour)

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Expected 1 expired entry swept, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry left, got %d", c.Len())
	}
}

func TestRunSweepsPeriodically(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("http://a/", sampleResult("http://a/"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	swept := make(chan int, 1)
	go c.Run(ctx, 12*time.Hour, func(removed int) { swept <- removed })

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("Sweeper did not start: %v", err)
	}
	clock.Advance(12 * time.Hour)

	select {
	case removed := <-swept:
		if removed != 1 {
			t.Errorf("Expected 1 removed, got %d", removed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a sweep after the interval elapsed")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("http://host%d/", i%5)
			c.Put(url, sampleResult(url))
			c.Get(url)
			c.Touch(url, func(r *models.ReputationResult) { r.ReportStatus = &models.ReportStatus{} })
			c.Sweep()
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("Expected 5 distinct keys, got %d", c.Len())
	}
}
