// Package compare runs two site analyses and diffs them dimension by
// dimension into a Report.
package compare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seo-optimizer/competitive-insights/analyzer"
	"github.com/seo-optimizer/competitive-insights/domain"
)

var (
	// ErrInvalidDomain is returned when a site identifier cannot be normalized
	// or both identifiers name the same site
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrNoData is returned when no signal succeeded for either site
	ErrNoData = errors.New("no data could be collected for either site")
)

// SiteAnalyzer analyzes a single site. *analyzer.Analyzer satisfies it.
type SiteAnalyzer interface {
	Analyze(ctx context.Context, site, email string, isUserSite bool) *analyzer.SiteAnalysis
}

type Comparator struct {
	analyzer  SiteAnalyzer
	siteDelay time.Duration
	now       func() time.Time
}

// New creates a Comparator that waits siteDelay between the two analyses
func New(a SiteAnalyzer, siteDelay time.Duration) *Comparator {
	return &Comparator{
		analyzer:  a,
		siteDelay: siteDelay,
		now:       time.Now,
	}
}

// CompareWebsites analyzes your site, then the competitor, and diffs them.
// Per-signal failures stay inside the report; only bad input, a cancelled
// context or a total lack of data fail the call.
func (c *Comparator) CompareWebsites(ctx context.Context, yourSite, competitorSite, email string) (*Report, error) {
	your, err := domain.Normalize(yourSite)
	if err != nil {
		return nil, fmt.Errorf("%w: your site: %v", ErrInvalidDomain, err)
	}
	competitor, err := domain.Normalize(competitorSite)
	if err != nil {
		return nil, fmt.Errorf("%w: competitor site: %v", ErrInvalidDomain, err)
	}
	if your == competitor {
		return nil, fmt.Errorf("%w: cannot compare %s with itself", ErrInvalidDomain, your)
	}

	log.Info().Str("your_site", your).Str("competitor_site", competitor).Msg("Starting comparison")
	start := time.Now()

	yourAnalysis := c.analyzer.Analyze(ctx, your, email, true)

	if c.siteDelay > 0 {
		t := time.NewTimer(c.siteDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	competitorAnalysis := c.analyzer.Analyze(ctx, competitor, email, false)

	if !yourAnalysis.AnySucceeded() && !competitorAnalysis.AnySucceeded() {
		return nil, ErrNoData
	}

	report := &Report{
		YourSite:       yourAnalysis,
		CompetitorSite: competitorAnalysis,
		Comparison:     Generate(yourAnalysis, competitorAnalysis),
		GeneratedAt:    c.now().UTC(),
	}

	log.Info().
		Str("your_site", your).
		Str("competitor_site", competitor).
		Dur("duration", time.Since(start)).
		Msg("Comparison complete")

	return report, nil
}

// Generate diffs two analyses. It is pure: the same inputs always produce
// the same comparison.
func Generate(your, competitor *analyzer.SiteAnalysis) Comparison {
	c := Comparison{
		Performance:    comparePerformance(your, competitor),
		SEO:            compareSEO(your, competitor),
		Content:        compareContent(your, competitor),
		Technology:     compareTechnology(your, competitor),
		Security:       compareSecurity(your, competitor),
		Traffic:        compareTraffic(your, competitor),
		Backlinks:      compareBacklinks(your, competitor),
		ContentUpdates: compareContentUpdates(your, competitor),
	}
	c.Summary = summarize(c)
	return c
}
