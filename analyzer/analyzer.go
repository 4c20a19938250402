// Package analyzer runs every data source for a single site in three phases
// and collects the outcomes into a SiteAnalysis.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/sources"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Source is a data source that analyzes one site
type Source[T any] interface {
	Analyze(ctx context.Context, site string) result.Result[T]
}

// TrafficSource needs to know whose site it is looking at to pick a provider
type TrafficSource interface {
	Analyze(ctx context.Context, site, email string, isUserSite bool) result.Result[sources.TrafficData]
}

// Sources bundles the adapters used by the analyzer. A nil adapter reports
// its signal as not configured.
type Sources struct {
	Page       Source[sources.PageData]
	Lighthouse Source[sources.LighthouseData]
	PageSpeed  Source[sources.PageSpeedData]
	Technical  Source[sources.TechnicalData]
	Traffic    TrafficSource
	Backlinks  Source[sources.BacklinksData]
	Changes    Source[sources.ChangeData]
	Content    Source[contentupdates.Snapshot]
}

// Options controls sequencing of the browser-bound phase
type Options struct {
	BrowserCooldown    time.Duration
	LighthouseAttempts int
	LighthouseBackoff  time.Duration
}

// Recorder receives per-analysis counters
type Recorder interface {
	RecordSiteAnalysis()
	RecordAdapterFailure(signal string)
}

// Analyzer runs single-site analyses. It is safe for concurrent use; the
// browser-bound phase is serialized across all callers.
type Analyzer struct {
	sources  Sources
	opts     Options
	browser  *semaphore.Weighted
	recorder Recorder
	now      func() time.Time
}

// New creates an Analyzer. recorder may be nil.
func New(src Sources, opts Options, recorder Recorder) *Analyzer {
	if opts.LighthouseAttempts < 1 {
		opts.LighthouseAttempts = 1
	}
	return &Analyzer{
		sources:  src,
		opts:     opts,
		browser:  semaphore.NewWeighted(1),
		recorder: recorder,
		now:      time.Now,
	}
}

// Analyze collects every signal for site. It never fails: each signal's
// outcome, good or bad, is part of the returned analysis.
func (a *Analyzer) Analyze(ctx context.Context, site, email string, isUserSite bool) *SiteAnalysis {
	analysis := &SiteAnalysis{Domain: site}
	start := time.Now()

	// Phase 1: browser-bound sources, one at a time
	phaseStart := time.Now()
	a.runBrowserPhase(ctx, site, analysis)
	analysis.Performance.Phase1 = time.Since(phaseStart).Milliseconds()

	// Phase 2: independent sources, concurrently; a failure never cancels the others
	phaseStart = time.Now()
	var g errgroup.Group
	g.Go(func() error {
		analysis.PageSpeed = run(ctx, a.sources.PageSpeed, site, sources.SignalPageSpeed, sources.PageSpeedData{})
		return nil
	})
	g.Go(func() error {
		analysis.TechnicalSEO = run(ctx, a.sources.Technical, site, sources.SignalTechnical, sources.UnavailableTechnical())
		return nil
	})
	g.Go(func() error {
		analysis.Traffic = a.traffic(ctx, site, email, isUserSite)
		return nil
	})
	g.Go(func() error {
		analysis.Backlinks = run(ctx, a.sources.Backlinks, site, sources.SignalBacklinks, sources.BacklinksData{})
		return nil
	})
	g.Wait()
	analysis.Performance.Phase2 = time.Since(phaseStart).Milliseconds()

	// Phase 3: content monitoring
	phaseStart = time.Now()
	var content errgroup.Group
	content.Go(func() error {
		analysis.ChangeDetection = run(ctx, a.sources.Changes, site, sources.SignalChanges, sources.ChangeData{})
		return nil
	})
	content.Go(func() error {
		analysis.ContentUpdates = run(ctx, a.sources.Content, site, sources.SignalContentUpdates, contentupdates.Unavailable(site))
		return nil
	})
	content.Wait()
	analysis.Performance.Phase3 = time.Since(phaseStart).Milliseconds()

	analysis.Performance.Total = time.Since(start).Milliseconds()
	analysis.AnalyzedAt = a.now().UTC()

	failed := analysis.Failed()
	if a.recorder != nil {
		a.recorder.RecordSiteAnalysis()
		for _, signal := range failed {
			a.recorder.RecordAdapterFailure(signal)
		}
	}

	log.Info().
		Str("domain", site).
		Int64("phase1_ms", analysis.Performance.Phase1).
		Int64("phase2_ms", analysis.Performance.Phase2).
		Int64("phase3_ms", analysis.Performance.Phase3).
		Int64("total_ms", analysis.Performance.Total).
		Strs("failed", failed).
		Msg("Site analysis complete")

	return analysis
}

// runBrowserPhase holds the browser semaphore for the page render, the
// cooldown and every Lighthouse attempt
func (a *Analyzer) runBrowserPhase(ctx context.Context, site string, analysis *SiteAnalysis) {
	if err := a.browser.Acquire(ctx, 1); err != nil {
		err = fmt.Errorf("waiting for browser: %w", err)
		analysis.PageAnalysis = result.Failure(sources.UnavailablePage(), "Page analysis failed", err)
		analysis.Lighthouse = result.Failure(sources.LighthouseData{}, "Lighthouse audit failed", err)
		return
	}
	defer a.browser.Release(1)

	analysis.PageAnalysis = run(ctx, a.sources.Page, site, sources.SignalPage, sources.UnavailablePage())
	sleep(ctx, a.opts.BrowserCooldown)
	analysis.Lighthouse = a.lighthouse(ctx, site)
}

// lighthouse makes up to LighthouseAttempts audits with a fixed backoff
func (a *Analyzer) lighthouse(ctx context.Context, site string) result.Result[sources.LighthouseData] {
	var r result.Result[sources.LighthouseData]
	for attempt := 1; attempt <= a.opts.LighthouseAttempts; attempt++ {
		r = run(ctx, a.sources.Lighthouse, site, sources.SignalLighthouse, sources.LighthouseData{})
		r.Data.Attempts = attempt
		if r.OK {
			return r
		}
		if attempt < a.opts.LighthouseAttempts {
			log.Debug().Str("domain", site).Int("attempt", attempt).Msg("Retrying Lighthouse audit")
			if !sleep(ctx, a.opts.LighthouseBackoff) {
				break
			}
		}
	}
	return r
}

func (a *Analyzer) traffic(ctx context.Context, site, email string, isUserSite bool) result.Result[sources.TrafficData] {
	unavailable := sources.TrafficData{Days: 30}
	if a.sources.Traffic == nil {
		return notConfigured(sources.SignalTraffic, unavailable)
	}
	return guard(sources.SignalTraffic, unavailable, func() result.Result[sources.TrafficData] {
		return a.sources.Traffic.Analyze(ctx, site, email, isUserSite)
	})
}

// run calls src, converting a missing adapter or an escaped panic into a
// failed result
func run[T any](ctx context.Context, src Source[T], site, signal string, unavailable T) result.Result[T] {
	if src == nil {
		return notConfigured(signal, unavailable)
	}
	return guard(signal, unavailable, func() result.Result[T] {
		return src.Analyze(ctx, site)
	})
}

func guard[T any](signal string, unavailable T, fn func() result.Result[T]) result.Result[T] {
	var r result.Result[T]
	captured := result.Capture(unavailable, fmt.Sprintf("%s failed unexpectedly", signal), func() (T, error) {
		r = fn()
		return r.Data, nil
	})
	if !captured.OK {
		return captured
	}
	return r
}

func notConfigured[T any](signal string, unavailable T) result.Result[T] {
	return result.Failure(unavailable, fmt.Sprintf("%s source not configured", signal), nil)
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
