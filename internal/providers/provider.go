// Package providers provides third-party reputation and abuse-report service integrations
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/commjoen/urlsentry/pkg/models"
)

// Sentinel hostnames used by QA to get a deterministic, policy-forced verdict
const (
	MalwareTestHost  = "malware.testing.google.test"
	PhishingTestHost = "phishing.testing.google.test"
)

// maxResponseBytes caps how much of a provider response body is read
const maxResponseBytes = 4 << 20

// Provider defines the interface for third-party reputation providers
type Provider interface {
	// Name returns the provider identifier, used as the key in aggregated results
	Name() string

	// Check queries the provider for reputation information about a URL.
	// It never fails: errors are reported through the outcome.
	Check(ctx context.Context, rawURL string) *models.ProviderOutcome

	// IsAvailable returns true if the provider is configured and ready to use
	IsAvailable() bool
}

// Reporter defines the interface for abuse-report providers
type Reporter interface {
	Name() string

	// Submit files a single-URL abuse report
	Submit(ctx context.Context, rawURL string, data models.ReportData) *models.ReportOutcome

	// Status polls the processing state of a previously filed report
	Status(ctx context.Context, submissionID string) *models.ReportOutcome
}

// IsTestURL reports whether rawURL points at one of the sentinel test hosts.
// Matching is done on the raw string, the same way providers key their data.
func IsTestURL(rawURL string) bool {
	return strings.Contains(rawURL, MalwareTestHost) || strings.Contains(rawURL, PhishingTestHost)
}

// Manager manages reputation providers and fans a lookup out to all of them
type Manager struct {
	providers []Provider
	log       logrus.FieldLogger
	mu        sync.RWMutex
}

// NewManager creates a new provider manager
func NewManager(logger logrus.FieldLogger) *Manager {
	return &Manager{
		log: loggerOrDiscard(logger),
	}
}

// Register adds a provider to the manager, replacing one with the same name
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.providers {
		if existing.Name() == p.Name() {
			m.providers[i] = p
			return
		}
	}
	m.providers = append(m.providers, p)
}

// Names returns the names of all registered providers in registration order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// ListProviders returns a list of available provider names
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		if p.IsAvailable() {
			names = append(names, p.Name())
		}
	}
	return names
}

// CheckAll queries every registered provider concurrently and waits for all of them.
// The returned map always holds exactly one outcome per registered provider.
func (m *Manager) CheckAll(ctx context.Context, rawURL string) map[string]models.ProviderOutcome {
	m.mu.RLock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	m.mu.RUnlock()

	type named struct {
		name    string
		outcome models.ProviderOutcome
	}

	var wg sync.WaitGroup
	resultChan := make(chan named, len(providers))

	for _, p := range providers {
		wg.Add(1)
		go func(provider Provider) {
			defer wg.Done()
			resultChan <- named{name: provider.Name(), outcome: m.checkOne(ctx, provider, rawURL)}
		}(p)
	}

	// Close channel when all goroutines complete
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	outcomes := make(map[string]models.ProviderOutcome, len(providers))
	for r := range resultChan {
		outcomes[r.name] = r.outcome
	}
	return outcomes
}

func (m *Manager) checkOne(ctx context.Context, p Provider, rawURL string) (outcome models.ProviderOutcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{"provider": p.Name(), "url": rawURL}).Errorf("provider panicked: %v", r)
			outcome = models.ProviderOutcome{
				Service: p.Name(),
				Error:   fmt.Sprintf("provider panicked: %v", r),
			}
		}
	}()

	res := p.Check(ctx, rawURL)
	if res == nil {
		return models.ProviderOutcome{Service: p.Name(), Error: "provider returned no result"}
	}
	if !res.Succeeded {
		res.Score = 0
	}
	return *res
}

// fetch executes req and returns the response body of a 2xx response
func fetch(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return body, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("API error: %s", resp.Status)
	}
	return body, nil
}

func loggerOrDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
