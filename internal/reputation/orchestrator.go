// Package reputation resolves an aggregated verdict for a URL from all reputation providers
package reputation

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/commjoen/urlsentry/pkg/models"
)

// Checker fans a lookup out to every reputation provider and returns one outcome per provider
type Checker interface {
	CheckAll(ctx context.Context, rawURL string) map[string]models.ProviderOutcome
}

// Store is the verdict cache used by the orchestrator
type Store interface {
	Get(url string) (*models.ReputationResult, bool)
	Put(url string, result *models.ReputationResult)
}

// Orchestrator serves verdicts from the cache and computes them on a miss
type Orchestrator struct {
	checker Checker
	store   Store
	group   singleflight.Group
	log     logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator over the given providers and cache
func NewOrchestrator(checker Checker, store Store, logger logrus.FieldLogger) *Orchestrator {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Orchestrator{
		checker: checker,
		store:   store,
		log:     logger,
	}
}

// Resolve returns the verdict for rawURL. A fresh cached verdict is returned as is,
// including any attached report status. Otherwise all providers are queried, the
// result is cached and returned. Concurrent misses for the same URL share one lookup.
func (o *Orchestrator) Resolve(ctx context.Context, rawURL string) *models.ReputationResult {
	log := o.log.WithField("url", rawURL)

	if cached, ok := o.store.Get(rawURL); ok {
		log.Debug("reputation cache hit")
		return cached
	}

	v, _, shared := o.group.Do(rawURL, func() (interface{}, error) {
		// Lookups run to completion even if the requesting client goes away
		result := o.compute(context.WithoutCancel(ctx), rawURL)
		o.store.Put(rawURL, result)
		return result, nil
	})
	if shared {
		log.Debug("joined in-flight reputation lookup")
	}

	return v.(*models.ReputationResult).Clone()
}

func (o *Orchestrator) compute(ctx context.Context, rawURL string) *models.ReputationResult {
	outcomes := o.checker.CheckAll(ctx, rawURL)

	result := &models.ReputationResult{
		URL:              rawURL,
		ProviderOutcomes: outcomes,
		AggregateScore:   AggregateScore(outcomes),
		ReportStatus:     nil,
	}

	o.log.WithFields(logrus.Fields{
		"url":       rawURL,
		"providers": len(outcomes),
		"score":     result.AggregateScore,
	}).Info("reputation resolved")

	return result
}

// AggregateScore returns the unweighted mean of the provider scores, or 0 with no outcomes
func AggregateScore(outcomes map[string]models.ProviderOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		sum += o.Score
	}
	return sum / float64(len(outcomes))
}
