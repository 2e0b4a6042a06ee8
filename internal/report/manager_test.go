package report

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commjoen/urlsentry/internal/cache"
	"github.com/commjoen/urlsentry/pkg/models"
)

type fakeReporter struct {
	mu          sync.Mutex
	submitCalls int
	statusCalls int
	submit      func(rawURL string, data models.ReportData) *models.ReportOutcome
	status      func(id string) *models.ReportOutcome
}

func (f *fakeReporter) Name() string { return models.ReporterNetcraft }

func (f *fakeReporter) Submit(ctx context.Context, rawURL string, data models.ReportData) *models.ReportOutcome {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	return f.submit(rawURL, data)
}

func (f *fakeReporter) Status(ctx context.Context, id string) *models.ReportOutcome {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	return f.status(id)
}

func acceptingReporter(id string) *fakeReporter {
	return &fakeReporter{
		submit: func(string, models.ReportData) *models.ReportOutcome {
			return &models.ReportOutcome{
				Service: "Netcraft",
				Success: true,
				Data: &models.SubmissionData{
					SubmissionID: id,
					Status:       &models.SubmissionStatus{UUID: id, Pending: true},
				},
			}
		},
		status: func(id string) *models.ReportOutcome {
			return &models.ReportOutcome{
				Service: "Netcraft",
				Success: true,
				Data:    &models.SubmissionData{SubmissionID: id, Status: &models.SubmissionStatus{UUID: id, Pending: false}},
			}
		},
	}
}

func seededCache(t *testing.T, urls ...string) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{Capacity: 10, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	for _, u := range urls {
		c.Put(u, &models.ReputationResult{URL: u, AggregateScore: 1})
	}
	return c
}

var validReport = models.ReportData{Email: "qa@example.com", Reason: models.ReasonPhishing, Details: "login clone"}

func TestSubmitSuccessRegistersAndAnnotates(t *testing.T) {
	reporter := acceptingReporter("uuid-1")
	store := seededCache(t, "https://bad.example/")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	m := NewManager(Config{Reporter: reporter, Annotator: store, Clock: clock})

	sub := m.Submit(context.Background(), "https://bad.example/", validReport)

	require.True(t, sub.ReportStatus.Netcraft.Success)
	assert.True(t, sub.Registered)
	assert.Equal(t, []string{"uuid-1"}, m.Registry().Snapshot())

	cached, ok := store.Get("https://bad.example/")
	require.True(t, ok)
	require.NotNil(t, cached.ReportStatus)
	assert.Equal(t, "uuid-1", cached.ReportStatus.Netcraft.SubmissionID())
	assert.Equal(t, 1.0, cached.AggregateScore, "annotation must not touch the verdict")

	tracked, ok := m.Registry().Lookup("uuid-1")
	require.True(t, ok)
	assert.Equal(t, "https://bad.example/", tracked.URL)
	assert.Equal(t, "qa@example.com", tracked.ReporterEmail)
	assert.Equal(t, "login clone", tracked.Details)
	assert.Equal(t, clock.Now(), tracked.SubmittedAt)
}

func TestSubmitDuplicateIdentifier(t *testing.T) {
	m := NewManager(Config{Reporter: acceptingReporter("same")})

	first := m.Submit(context.Background(), "https://a.example/", validReport)
	second := m.Submit(context.Background(), "https://b.example/", validReport)

	assert.True(t, first.Registered)
	assert.False(t, second.Registered)
	assert.True(t, second.ReportStatus.Netcraft.Success)
	assert.Equal(t, 1, m.Registry().Len())
}

func TestSubmitWithoutCachedEntry(t *testing.T) {
	store := seededCache(t)
	m := NewManager(Config{Reporter: acceptingReporter("uuid-2"), Annotator: store})

	sub := m.Submit(context.Background(), "https://uncached.example/", validReport)

	assert.True(t, sub.Registered)
	assert.Equal(t, 0, store.Len())
}

func TestSubmitFailureLeavesStateUnchanged(t *testing.T) {
	reporter := &fakeReporter{
		submit: func(string, models.ReportData) *models.ReportOutcome {
			return &models.ReportOutcome{Service: "Netcraft", Error: "no submission uuid returned"}
		},
	}
	store := seededCache(t, "https://bad.example/")
	m := NewManager(Config{Reporter: reporter, Annotator: store})

	sub := m.Submit(context.Background(), "https://bad.example/", validReport)

	assert.False(t, sub.ReportStatus.Netcraft.Success)
	assert.Equal(t, "no submission uuid returned", sub.ReportStatus.Netcraft.Error)
	assert.False(t, sub.Registered)
	assert.Empty(t, m.Registry().Snapshot())

	cached, ok := store.Get("https://bad.example/")
	require.True(t, ok)
	assert.Nil(t, cached.ReportStatus)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		url  string
		data models.ReportData
	}{
		{"missing url", "", validReport},
		{"missing email", "https://bad.example/", models.ReportData{Reason: models.ReasonScam}},
		{"unknown reason", "https://bad.example/", models.ReportData{Email: "qa@example.com", Reason: "spam"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := acceptingReporter("never")
			m := NewManager(Config{Reporter: reporter})

			sub := m.Submit(context.Background(), tt.url, tt.data)

			assert.False(t, sub.ReportStatus.Netcraft.Success)
			assert.NotEmpty(t, sub.ReportStatus.Netcraft.Error)
			assert.Equal(t, 0, reporter.submitCalls)
			assert.Equal(t, 0, m.Registry().Len())
		})
	}
}

func TestSubmitSentinelSimulated(t *testing.T) {
	reporter := &fakeReporter{
		submit: func(string, models.ReportData) *models.ReportOutcome {
			return &models.ReportOutcome{Service: "Netcraft", Success: true, Data: &models.SubmissionData{Message: "Test URL report simulated"}}
		},
	}
	url := "http://phishing.testing.google.test/"
	store := seededCache(t, url)
	m := NewManager(Config{Reporter: reporter, Annotator: store})

	sub := m.Submit(context.Background(), url, models.ReportData{})

	assert.True(t, sub.ReportStatus.Netcraft.Success)
	assert.False(t, sub.Registered)
	assert.Equal(t, 0, m.Registry().Len())

	cached, _ := store.Get(url)
	require.NotNil(t, cached.ReportStatus)
	assert.True(t, cached.ReportStatus.Netcraft.Success)
}

func TestStatusAlwaysQueriesProvider(t *testing.T) {
	reporter := acceptingReporter("uuid-3")
	m := NewManager(Config{Reporter: reporter})
	m.Submit(context.Background(), "https://bad.example/", validReport)

	for i := 0; i < 3; i++ {
		out := m.Status(context.Background(), "uuid-3")
		require.True(t, out.Success)
	}
	assert.Equal(t, 3, reporter.statusCalls)

	tracked, ok := m.Registry().Lookup("uuid-3")
	require.True(t, ok)
	require.NotNil(t, tracked.Status)
	assert.False(t, tracked.Status.Pending, "latest polled status is recorded")
}

func TestStatusRecordsUnderReporterIdentifier(t *testing.T) {
	reporter := acceptingReporter("uuid-4")
	inner := reporter.status
	reporter.status = func(id string) *models.ReportOutcome {
		return inner(strings.TrimSpace(id))
	}
	m := NewManager(Config{Reporter: reporter})
	m.Submit(context.Background(), "https://bad.example/", validReport)

	out := m.Status(context.Background(), " uuid-4 ")
	require.True(t, out.Success)

	tracked, ok := m.Registry().Lookup("uuid-4")
	require.True(t, ok)
	require.NotNil(t, tracked.Status)
	assert.False(t, tracked.Status.Pending, "status polled with a padded id updates the tracked submission")
}

func TestStatusFailure(t *testing.T) {
	reporter := &fakeReporter{
		status: func(string) *models.ReportOutcome {
			return &models.ReportOutcome{Service: "Netcraft", Error: "API error: 404 Not Found"}
		},
	}
	m := NewManager(Config{Reporter: reporter})

	out := m.Status(context.Background(), "missing")
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "404")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Track(models.ReportSubmission{SubmissionID: "b", URL: "https://b.example/"}))
	assert.True(t, r.Track(models.ReportSubmission{SubmissionID: "a"}))
	assert.False(t, r.Track(models.ReportSubmission{SubmissionID: "b", URL: "https://other.example/"}))
	assert.False(t, r.Track(models.ReportSubmission{}))

	assert.Equal(t, []string{"b", "a"}, r.Snapshot())
	first, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "https://b.example/", first.URL, "a known identifier keeps its original record")
	_, ok = r.Lookup("c")
	assert.False(t, ok)

	snap := r.Snapshot()
	snap[0] = "mutated"
	assert.Equal(t, "b", r.Snapshot()[0])
	assert.Len(t, r.Submissions(), 2)
}

func TestRegistryConcurrentAdd(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	added := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added <- r.Track(models.ReportSubmission{SubmissionID: "same-id"})
		}()
	}
	wg.Wait()
	close(added)

	wins := 0
	for ok := range added {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.Len())
}
