// Package contentupdates discovers a site's feeds and sitemaps and derives how
// actively it publishes.
package contentupdates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/seo-optimizer/competitive-insights/domain"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/sources"
	"github.com/temoto/robotstxt"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const maxBodySize = 10 * 1024 * 1024

// Service discovers feeds and sitemaps over HTTP
type Service struct {
	client           *http.Client
	userAgent        string
	timeout          time.Duration
	maxChildSitemaps int
	siteURL          func(string) string
	now              func() time.Time
}

func NewService(timeout time.Duration, maxChildSitemaps int, userAgent string) *Service {
	if maxChildSitemaps <= 0 {
		maxChildSitemaps = 50
	}
	return &Service{
		client:           sources.NewHTTPClient(timeout),
		userAgent:        userAgent,
		timeout:          timeout,
		maxChildSitemaps: maxChildSitemaps,
		siteURL:          domain.URL,
		now:              time.Now,
	}
}

// Analyze runs GetContentUpdates as the contentUpdates signal. Missing feeds
// and sitemaps are data, not failures; only a panic fails the result.
func (s *Service) Analyze(ctx context.Context, site string) result.Result[Snapshot] {
	return sources.Capture(sources.SignalContentUpdates, site, Unavailable(site), "Content monitoring failed", func() (Snapshot, error) {
		return s.GetContentUpdates(ctx, site), nil
	})
}

// GetContentUpdates discovers the site's feed and sitemap concurrently and
// derives its publishing activity
func (s *Service) GetContentUpdates(ctx context.Context, site string) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap := Unavailable(site)
	base := s.siteURL(site)

	var feedErr, sitemapErr error
	var g errgroup.Group
	g.Go(func() error {
		snap.RSS, feedErr = s.discoverFeed(ctx, base)
		if feedErr != nil {
			snap.RSS = RSSResult{RecentPosts: []FeedItem{}, Error: feedErr.Error()}
		}
		return nil
	})
	g.Go(func() error {
		snap.Sitemap, sitemapErr = s.discoverSitemap(ctx, base)
		if sitemapErr != nil {
			snap.Sitemap = SitemapResult{RecentlyModified: []SitemapEntry{}, Error: sitemapErr.Error()}
		}
		return nil
	})
	g.Wait()

	if feedErr != nil && sitemapErr != nil {
		snap.Error = multierr.Combine(feedErr, sitemapErr).Error()
	}

	now := s.now()
	snap.CheckedAt = now.UTC()
	snap.ContentActivity = Derive(snap.RSS, snap.Sitemap, now)

	log.Debug().
		Str("domain", site).
		Bool("rss", snap.RSS.Found).
		Bool("sitemap", snap.Sitemap.Found).
		Str("frequency", snap.ContentActivity.UpdateFrequency).
		Str("velocity", snap.ContentActivity.ContentVelocity).
		Msg("Content activity derived")

	return snap
}

// discoverFeed tries feeds declared in the homepage, then common paths
func (s *Service) discoverFeed(ctx context.Context, base string) (RSSResult, error) {
	candidates := s.declaredFeeds(ctx, base)
	for _, p := range commonFeedPaths {
		candidates = append(candidates, base+p)
	}

	seen := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		body, err := s.get(ctx, candidate)
		if err != nil {
			continue
		}
		format, items, err := parseFeed(body)
		if err != nil {
			continue
		}
		return buildRSSResult(candidate, format, items, s.now()), nil
	}

	if ctx.Err() != nil {
		return RSSResult{}, fmt.Errorf("feed discovery: %w", ctx.Err())
	}
	return RSSResult{}, fmt.Errorf("no RSS or Atom feed found")
}

// declaredFeeds returns feed URLs advertised by <link> tags on the homepage
func (s *Service) declaredFeeds(ctx context.Context, base string) []string {
	body, err := s.get(ctx, base)
	if err != nil {
		log.Debug().Str("url", base).Err(err).Msg("Homepage unavailable for feed discovery")
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var feeds []string
	doc.Find("link[type='application/rss+xml'], link[type='application/atom+xml']").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
			feeds = append(feeds, domain.Resolve(base, strings.TrimSpace(href)))
		}
	})
	return feeds
}

// discoverSitemap tries every sitemap declared in robots.txt, then common paths
func (s *Service) discoverSitemap(ctx context.Context, base string) (SitemapResult, error) {
	candidates := s.robotsSitemaps(ctx, base)
	for _, p := range commonSitemapPaths {
		candidates = append(candidates, base+p)
	}

	seen := make(map[string]bool, len(candidates))
	var errs error
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		res, err := s.walkSitemap(ctx, candidate)
		if err == nil {
			return res, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", candidate, err))
	}

	log.Debug().Str("url", base).Err(errs).Msg("No sitemap found")
	if ctx.Err() != nil {
		return SitemapResult{}, fmt.Errorf("sitemap discovery: %w", ctx.Err())
	}
	return SitemapResult{}, fmt.Errorf("no sitemap found")
}

func (s *Service) robotsSitemaps(ctx context.Context, base string) []string {
	body, err := s.get(ctx, base+"/robots.txt")
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(http.StatusOK, body)
	if err != nil {
		return nil
	}
	return append([]string(nil), robots.Sitemaps...)
}

// get fetches target and returns the body of a 200 response
func (s *Service) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &sources.StatusError{StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}
