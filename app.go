package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/seo-optimizer/competitive-insights/analyzer"
	"github.com/seo-optimizer/competitive-insights/compare"
	"github.com/seo-optimizer/competitive-insights/config"
	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/logging"
	"github.com/seo-optimizer/competitive-insights/oauth"
	"github.com/seo-optimizer/competitive-insights/sources"
	"github.com/seo-optimizer/competitive-insights/stats"
	"github.com/seo-optimizer/competitive-insights/store"
)

// app owns every long-lived service built from the configuration
type app struct {
	cfg        *config.Config
	store      store.Store
	renderer   sources.Renderer
	states     *oauth.StateRegistry
	accounts   *oauth.Service
	traffic    *sources.Traffic
	content    *contentupdates.Service
	counters   *stats.Storage
	analyzer   *analyzer.Analyzer
	comparator *compare.Comparator
	logCloser  io.Closer
}

func loadConfig(path string, verbose bool) (*config.Config, io.Closer, error) {
	config.LoadEnv()

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, closer, nil
}

func newApp(ctx context.Context, cfg *config.Config, logCloser io.Closer) (*app, error) {
	a := &app{cfg: cfg, logCloser: logCloser}

	var err error
	a.store, err = store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.counters, err = stats.NewStorage(cfg.Stats.DataDir)
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("open stats: %w", err)
	}

	switch cfg.Browser.Engine {
	case "http":
		a.renderer = sources.NewHTTPRenderer(cfg.Analysis.RenderTimeout, cfg.Browser.UserAgent)
	default:
		a.renderer = sources.NewPlaywrightRenderer(cfg.Browser.Headless, cfg.Browser.UserAgent, cfg.Analysis.RenderTimeout)
	}

	a.states = oauth.NewStateRegistry(cfg.OAuth.StateTTL, time.Minute)
	a.accounts = oauth.NewService(cfg.OAuth.Providers, a.states, a.store, cfg.Traffic.Timeout)

	a.traffic = sources.NewTraffic(a.accounts, cfg.Traffic.SimilarWebAPIKey, cfg.Traffic.SimilarWebEndpoint, cfg.Traffic.AnalyticsEndpoint, cfg.Traffic.Timeout)
	a.content = contentupdates.NewService(cfg.Content.Timeout, cfg.Content.MaxChildSitemaps, cfg.Browser.UserAgent)

	a.analyzer = analyzer.New(analyzer.Sources{
		Page:       sources.NewPageAnalyzer(a.renderer, cfg.Analysis.RenderTimeout, cfg.Browser.UserAgent),
		Lighthouse: sources.NewLighthouse(sources.ExecRunner{}, cfg.Lighthouse.Binary, cfg.Lighthouse.ChromeFlags, cfg.Lighthouse.Timeout),
		PageSpeed:  sources.NewPageSpeed(cfg.PageSpeed.Endpoint, cfg.PageSpeed.APIKey, cfg.PageSpeed.Timeout),
		Technical:  sources.NewTechnicalSEO(cfg.Analysis.TechnicalTimeout, cfg.Browser.UserAgent),
		Traffic:    a.traffic,
		Backlinks:  sources.NewBacklinks(cfg.Backlinks.Endpoint, cfg.Backlinks.Login, cfg.Backlinks.Password, cfg.Backlinks.Timeout),
		Changes:    sources.NewChangeDetector(a.store, cfg.Analysis.ChangesTimeout, cfg.Browser.UserAgent),
		Content:    a.content,
	}, analyzer.Options{
		BrowserCooldown:    cfg.Analysis.BrowserCooldown,
		LighthouseAttempts: cfg.Analysis.LighthouseAttempts,
		LighthouseBackoff:  cfg.Analysis.LighthouseBackoff,
	}, a.counters)

	a.comparator = compare.New(a.analyzer, cfg.Analysis.SiteDelay)

	log.Debug().
		Str("store", cfg.Store.Driver).
		Str("browser", cfg.Browser.Engine).
		Msg("Services initialized")
	return a, nil
}

// Close releases everything newApp opened, reporting every failure
func (a *app) Close() error {
	a.states.Close()

	var err error
	err = multierr.Append(err, a.renderer.Close())
	err = multierr.Append(err, a.counters.Shutdown())
	err = multierr.Append(err, a.store.Close())
	if a.logCloser != nil {
		err = multierr.Append(err, a.logCloser.Close())
	}
	return err
}
