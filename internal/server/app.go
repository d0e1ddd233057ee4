package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"scanguard/internal/audit"
	"scanguard/internal/cache"
	"scanguard/internal/detection"
	"scanguard/internal/feed"
	"scanguard/internal/pipeline"
	"scanguard/internal/policy"
	"scanguard/internal/signals"
	"scanguard/internal/threat"
)

const (
	remoteLookupTimeout = 5 * time.Second
	breakerFailures     = 5
	breakerCooldown     = 30 * time.Second
)

// App is a fully assembled service with the resources it owns.
type App struct {
	Service    *pipeline.Service
	Server     *Server
	Hub        *feed.Hub
	Reputation *signals.Reputation

	closers []func() error
}

// NewApp builds every component from cfg. Optional stores that cannot be
// opened are logged and left out; only a broken keyword, model or policy
// file is fatal.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	store := a.openCacheStore(cfg, logger)
	rc := cache.New(store, cache.WithTTLs(cfg.ScanTTL, cfg.ReputationTTL), cache.WithLogger(logger))

	detOpts := []func(*detection.Options){detection.WithLogger(logger)}
	if cfg.KeywordsFile != "" {
		kw, err := detection.LoadKeywords(cfg.KeywordsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		detOpts = append(detOpts, detection.WithKeywords(kw))
	}
	det := detection.NewDetector(detOpts...)

	polOpts := []policy.Option{policy.WithLogger(logger)}
	var auditLog AuditLog
	if cfg.AuditDB != "" {
		if st, err := openAudit(cfg.AuditDB); err != nil {
			logger.Warn("audit log disabled", "path", cfg.AuditDB, "error", err)
		} else {
			rec := audit.NewRecorder(st, 0, logger)
			a.closers = append(a.closers, st.Close, func() error { rec.Close(); return nil })
			polOpts = append(polOpts, policy.WithAuditor(rec))
			auditLog = st
		}
	}
	engine := policy.NewEngine(polOpts...)
	if cfg.PoliciesFile != "" {
		n, err := engine.LoadFile(cfg.PoliciesFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("policies loaded", "count", n, "path", cfg.PoliciesFile)
	}

	repOpts := []signals.ReputationOption{signals.WithReputationLogger(logger)}
	if cfg.RemoteReputation {
		client := threat.NewURLhausClient(cfg.RemoteReputationURL, &http.Client{Timeout: remoteLookupTimeout})
		repOpts = append(repOpts,
			signals.WithRemote(client, rc),
			signals.WithBreaker(signals.NewCircuitBreaker(breakerFailures, breakerCooldown)))
	}
	a.Reputation = signals.NewReputation(repOpts...)
	loadIndicators(ctx, cfg.IndicatorDB, a.Reputation, logger)
	sources := []signals.Source{a.Reputation}

	if cfg.Classifier || cfg.ModelFile != "" {
		model := signals.DefaultModel()
		if cfg.ModelFile != "" {
			m, err := signals.LoadModel(cfg.ModelFile)
			if err != nil {
				a.Close()
				return nil, err
			}
			model = m
		}
		sources = append(sources, signals.NewClassifier(model))
	}

	hubCfg := feed.DefaultHubConfig()
	hubCfg.Capacity = cfg.FeedCapacity
	hubCfg.AlertThreshold = cfg.AlertThreshold
	hubCfg.SendTimeout = cfg.SendTimeout
	hubCfg.Logger = logger
	a.Hub = feed.NewHub(hubCfg)

	a.Service = pipeline.New(det,
		pipeline.WithCache(rc),
		pipeline.WithSources(sources...),
		pipeline.WithPolicies(engine),
		pipeline.WithHub(a.Hub),
		pipeline.WithLogger(logger),
	)
	a.closers = append(a.closers, rc.Close)

	srvOpts := []Option{WithHub(a.Hub), WithIndicators(a.Reputation), WithLogger(logger)}
	if auditLog != nil {
		srvOpts = append(srvOpts, WithAuditLog(auditLog))
	}
	a.Server = New(a.Service, cfg, srvOpts...)
	return a, nil
}

func (a *App) openCacheStore(cfg *Config, logger *slog.Logger) cache.Store {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryStore(cfg.CacheMaxEntries)
	case "badger":
		bc := cache.DefaultBadgerConfig(cfg.CacheDir)
		bc.Logger = logger
		st, err := cache.OpenBadger(bc)
		if err != nil {
			logger.Warn("cache backend unavailable, running without cache", "backend", "badger", "error", err)
			return nil
		}
		return st
	}
	return nil
}

func openAudit(path string) (*audit.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return audit.OpenSQLite(path)
}

func loadIndicators(ctx context.Context, path string, rep *signals.Reputation, logger *slog.Logger) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		logger.Info("no indicator database, reputation starts empty", "path", path)
		return
	}
	st, err := threat.OpenSQLite(path)
	if err != nil {
		logger.Warn("indicator database unavailable", "path", path, "error", err)
		return
	}
	defer st.Close()
	n, err := rep.LoadFrom(ctx, st)
	if err != nil {
		logger.Warn("loading indicators failed", "path", path, "error", err)
		return
	}
	logger.Info("indicators loaded", "count", n)
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing app: %w", err)
	}
	return nil
}
