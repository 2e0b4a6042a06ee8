package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/commjoen/urlsentry/internal/cache"
	"github.com/commjoen/urlsentry/internal/config"
	"github.com/commjoen/urlsentry/internal/providers"
	"github.com/commjoen/urlsentry/internal/report"
	"github.com/commjoen/urlsentry/internal/reputation"
	"github.com/commjoen/urlsentry/internal/server"
	"github.com/commjoen/urlsentry/internal/session"
)

// service holds the process-wide components shared by every command
type service struct {
	cfg       *config.Config
	log       *logrus.Logger
	providers *providers.Manager
	cache     *cache.Cache
	resolver  *reputation.Orchestrator
	reports   *report.Manager
}

func newService(cfg *config.Config) (*service, error) {
	log := cfg.Logger

	pm := providers.NewManager(log)
	pm.Register(providers.NewVirusTotal(providers.VirusTotalConfig{
		APIKey:  cfg.VirusTotalAPIKey,
		BaseURL: cfg.VirusTotalBaseURL,
		Timeout: cfg.RequestTimeout,
		Logger:  log,
	}))
	pm.Register(providers.NewURLScan(providers.URLScanConfig{
		APIKey:  cfg.URLScanAPIKey,
		BaseURL: cfg.URLScanBaseURL,
		Timeout: cfg.RequestTimeout,
		Logger:  log,
	}))

	logProviders(log, pm)

	verdicts, err := cache.New(cache.Config{TTL: cfg.CacheTTL, Capacity: cfg.CacheCapacity})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	reporter := providers.NewNetcraft(providers.NetcraftConfig{
		Country: cfg.NetcraftCountry,
		BaseURL: cfg.NetcraftBaseURL,
		Timeout: cfg.RequestTimeout,
		Logger:  log,
	})

	return &service{
		cfg:       cfg,
		log:       log,
		providers: pm,
		cache:     verdicts,
		resolver:  reputation.NewOrchestrator(pm, verdicts, log),
		reports: report.NewManager(report.Config{
			Reporter:  reporter,
			Annotator: verdicts,
			Logger:    log,
		}),
	}, nil
}

// logProviders reports which providers are configured. An unconfigured provider
// still takes part in every lookup and scores 0.
func logProviders(log logrus.FieldLogger, pm *providers.Manager) {
	available := make(map[string]bool)
	for _, name := range pm.ListProviders() {
		available[name] = true
	}
	for _, name := range pm.Names() {
		if !available[name] {
			log.WithField("provider", name).Warn("provider not configured, its lookups will fail")
		}
	}
	log.WithField("providers", pm.ListProviders()).Debug("reputation providers ready")
}

// serve runs the websocket server until ctx is cancelled
func (s *service) serve(ctx context.Context) error {
	srv := server.New(server.Config{
		Resolver:       s.resolver,
		Reports:        s.reports,
		Hub:            session.NewHub(session.DefaultQueueSize, s.log),
		AllowedOrigins: s.cfg.AllowedOrigins,
		Logger:         s.log,
	})

	go s.cache.Run(ctx, s.cfg.CacheSweepInterval, func(removed int) {
		s.log.WithFields(logrus.Fields{"removed": removed, "entries": s.cache.Len()}).Debug("cache sweep")
	})

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.ListenAddr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
