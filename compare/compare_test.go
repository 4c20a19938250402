package compare

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seo-optimizer/competitive-insights/analyzer"
	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func page(signals SEOSignals, words int) result.Result[sources.PageData] {
	p := sources.UnavailablePage()
	p.Available = true
	p.Title.HasTitle = signals.HasTitle
	p.Title.Length = signals.TitleLength
	p.Meta.HasDescription = signals.HasDescription
	p.Meta.DescriptionLen = signals.DescriptionLength
	p.Meta.HasCanonical = signals.HasCanonical
	p.Headers.H1Count = signals.H1Count
	p.Headers.H2Count = signals.H2Count
	p.Headers.H3Count = signals.H3Count
	p.Social.HasOpenGraph = signals.HasOpenGraph
	p.Social.HasTwitterCard = signals.HasTwitterCard
	p.StructuredData.Count = signals.StructuredDataCount
	p.Content.WordCount = words
	return result.Success(p)
}

// failedAnalysis has every signal failed with its unavailable shape
func failedAnalysis(site string) *analyzer.SiteAnalysis {
	err := errors.New("timeout")
	return &analyzer.SiteAnalysis{
		Domain:          site,
		PageAnalysis:    result.Failure(sources.UnavailablePage(), "Page analysis failed", err),
		Lighthouse:      result.Failure(sources.LighthouseData{}, "Lighthouse audit failed", err),
		PageSpeed:       result.Failure(sources.PageSpeedData{}, "PageSpeed unavailable", err),
		TechnicalSEO:    result.Failure(sources.UnavailableTechnical(), "Technical SEO check failed", err),
		Traffic:         result.Failure(sources.TrafficData{Days: 30}, "Traffic data unavailable", err),
		Backlinks:       result.Failure(sources.BacklinksData{}, "Backlink data unavailable", err),
		ChangeDetection: result.Failure(sources.ChangeData{}, "Change detection failed", err),
		ContentUpdates:  result.Success(contentupdates.Unavailable(site)),
	}
}

func TestSEOScore(t *testing.T) {
	signals := SEOSignals{
		HasTitle:            true,
		HasDescription:      true,
		HasCanonical:        true,
		TitleLength:         45,
		DescriptionLength:   140,
		H1Count:             1,
		H2Count:             2,
		H3Count:             0,
		HasOpenGraph:        true,
		HasTwitterCard:      false,
		StructuredDataCount: 1,
	}
	assert.Equal(t, 85, SEOScore(signals))

	signals.StructuredDataCount = 7
	assert.Equal(t, 85, SEOScore(signals), "structured data bonus is flat")

	signals.H1Count = 2
	assert.Equal(t, 75, SEOScore(signals))

	full := SEOSignals{true, true, true, 30, 160, 1, 1, 1, true, true, 1}
	assert.Equal(t, 100, SEOScore(full))
	assert.Equal(t, 0, SEOScore(SEOSignals{}))
}

// Equal SEO scores are awarded to the competitor. This mirrors the existing
// rule and is asserted so a change to it is deliberate.
func TestSEOTieGoesToCompetitor(t *testing.T) {
	signals := SEOSignals{HasTitle: true, H1Count: 1}
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
	your.PageAnalysis = page(signals, 100)
	competitor.PageAnalysis = page(signals, 100)

	c := compareSEO(your, competitor)
	assert.Equal(t, c.Your.Score, c.Competitor.Score)
	assert.Equal(t, WinnerCompetitor, c.Winner)
	assert.Equal(t, 0.0, c.Gap)

	your.PageAnalysis = page(SEOSignals{HasTitle: true, H1Count: 1, HasCanonical: true}, 100)
	assert.Equal(t, WinnerYours, compareSEO(your, competitor).Winner)
}

func TestPerformance(t *testing.T) {
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")

	c := comparePerformance(your, competitor)
	assert.Equal(t, WinnerNone, c.Winner, "nothing measured")

	your.Lighthouse = result.Success(sources.LighthouseData{Available: true, Performance: 90})
	your.PageSpeed = result.Success(sources.PageSpeedData{
		Available: true,
		Desktop:   &sources.StrategyScore{Score: 80},
		Mobile:    &sources.StrategyScore{Score: 71},
	})
	competitor.Lighthouse = result.Success(sources.LighthouseData{Available: true, Performance: 60})

	c = comparePerformance(your, competitor)
	assert.Equal(t, 80.3, c.Your.Average)
	assert.Equal(t, 20.0, c.Competitor.Average, "missing PageSpeed counts as zero")
	assert.Equal(t, WinnerYours, c.Winner)
	assert.Equal(t, 60.3, c.Gap)

	competitor.Lighthouse = your.Lighthouse
	competitor.PageSpeed = your.PageSpeed
	assert.Equal(t, WinnerTie, comparePerformance(your, competitor).Winner)
}

func TestContentWinner(t *testing.T) {
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
	your.PageAnalysis = page(SEOSignals{}, 300)
	competitor.PageAnalysis = page(SEOSignals{}, 1200)

	c := compareContent(your, competitor)
	assert.Equal(t, WinnerCompetitor, c.Winner)
	assert.Equal(t, 900.0, c.Gap)
}

func TestTraffic(t *testing.T) {
	traffic := func(visits, bounce, ppv, duration float64) result.Result[sources.TrafficData] {
		return result.Success(sources.TrafficData{
			Available:        true,
			Source:           sources.SourceSimilarWeb,
			MonthlyVisits:    visits,
			BounceRate:       bounce,
			PagesPerVisit:    ppv,
			AvgVisitDuration: duration,
		})
	}

	t.Run("unavailable when one side failed", func(t *testing.T) {
		your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
		your.Traffic = traffic(1000, 40, 3, 120)

		c := compareTraffic(your, competitor)
		assert.False(t, c.Available)
		assert.Nil(t, c.Your)
		assert.Equal(t, WinnerNone, c.Winner)
		assert.NotNil(t, c.Recommendations)
	})

	t.Run("competitor leads", func(t *testing.T) {
		your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
		your.Traffic = traffic(1000, 60, 2, 90)
		competitor.Traffic = traffic(5000, 40, 3, 120)

		c := compareTraffic(your, competitor)
		assert.True(t, c.Available)
		assert.Equal(t, WinnerCompetitor, c.Winner)
		assert.Equal(t, 4000.0, c.Gap)
		assert.Equal(t, WinnerCompetitor, c.EngagementWinner)
		assert.Len(t, c.Recommendations, 3)
	})

	t.Run("you lead", func(t *testing.T) {
		your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
		your.Traffic = traffic(5000, 30, 4, 200)
		competitor.Traffic = traffic(1000, 40, 3, 120)

		c := compareTraffic(your, competitor)
		assert.Equal(t, WinnerYours, c.Winner)
		assert.Equal(t, WinnerYours, c.EngagementWinner)
		assert.Empty(t, c.Recommendations)
	})
}

func TestEngagementVote(t *testing.T) {
	tests := []struct {
		name       string
		your       TrafficSide
		competitor TrafficSide
		want       Winner
	}{
		{"all three yours", TrafficSide{BounceRate: 30, PagesPerVisit: 4, AvgVisitDuration: 200}, TrafficSide{BounceRate: 50, PagesPerVisit: 2, AvgVisitDuration: 100}, WinnerYours},
		{"two of three yours", TrafficSide{BounceRate: 30, PagesPerVisit: 4, AvgVisitDuration: 50}, TrafficSide{BounceRate: 50, PagesPerVisit: 2, AvgVisitDuration: 100}, WinnerYours},
		{"two of three competitor", TrafficSide{BounceRate: 60, PagesPerVisit: 1, AvgVisitDuration: 300}, TrafficSide{BounceRate: 50, PagesPerVisit: 2, AvgVisitDuration: 100}, WinnerCompetitor},
		{"one each and one equal", TrafficSide{BounceRate: 40, PagesPerVisit: 2, AvgVisitDuration: 100}, TrafficSide{BounceRate: 50, PagesPerVisit: 3, AvgVisitDuration: 100}, WinnerTie},
		{"all equal", TrafficSide{BounceRate: 40}, TrafficSide{BounceRate: 40}, WinnerTie},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engagementWinner(&tt.your, &tt.competitor))
		})
	}
}

func TestBacklinks(t *testing.T) {
	backlinks := func(total int64) result.Result[sources.BacklinksData] {
		return result.Success(sources.BacklinksData{Available: true, TotalBacklinks: total, ReferringDomains: total / 10})
	}

	t.Run("tie", func(t *testing.T) {
		your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
		your.Backlinks = backlinks(1500)
		competitor.Backlinks = backlinks(1500)

		c := compareBacklinks(your, competitor)
		assert.True(t, c.Available)
		assert.Equal(t, WinnerTie, c.Winner)
		assert.Equal(t, int64(0), c.Difference)
	})

	t.Run("competitor leads", func(t *testing.T) {
		your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
		your.Backlinks = backlinks(200)
		competitor.Backlinks = backlinks(1500)

		c := compareBacklinks(your, competitor)
		assert.Equal(t, WinnerCompetitor, c.Winner)
		assert.Equal(t, int64(1300), c.Difference)
	})

	t.Run("requires available on both sides", func(t *testing.T) {
		your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
		your.Backlinks = backlinks(200)
		competitor.Backlinks = result.Success(sources.BacklinksData{})

		c := compareBacklinks(your, competitor)
		assert.False(t, c.Available)
		assert.Equal(t, WinnerNone, c.Winner)
	})
}

func activeSnapshot(site string) contentupdates.Snapshot {
	dates := make([]time.Time, 12)
	for i := range dates {
		dates[i] = testNow.Add(-2*24*time.Hour - time.Duration(i)*30*24*time.Hour/11)
	}
	last := dates[0]
	rss := contentupdates.RSSResult{Found: true, TotalPosts: 12, LastUpdated: &last, RecentPosts: []contentupdates.FeedItem{}, Dates: dates}
	sitemap := contentupdates.SitemapResult{Found: true, URL: "https://" + site + "/sitemap.xml", TotalURLs: 40, RecentlyModified: []contentupdates.SitemapEntry{}}

	return contentupdates.Snapshot{
		Domain:          site,
		RSS:             rss,
		Sitemap:         sitemap,
		ContentActivity: contentupdates.Derive(rss, sitemap, testNow),
		CheckedAt:       testNow,
	}
}

func TestContentUpdatesActiveUserVersusSilentCompetitor(t *testing.T) {
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
	your.ContentUpdates = result.Success(activeSnapshot("a.com"))

	c := compareContentUpdates(your, competitor)
	require.True(t, c.Available)
	assert.Equal(t, MoreActiveUser, c.MoreActive)
	assert.Equal(t, contentupdates.VelocityHigh, c.Your.ContentVelocity)
	assert.Equal(t, contentupdates.FrequencyWeekly, c.Your.UpdateFrequency)
	assert.InDelta(t, 12.0, c.Your.AveragePostsPerMonth, 0.01)
	assert.Less(t, c.ContentGap.PostsPerMonthDiff, 0.0)
	assert.Equal(t, -3, c.ContentGap.VelocityGap)
	assert.Empty(t, c.Recommendations, "the user has no gaps relative to the competitor")
}

func TestContentUpdatesRecommendations(t *testing.T) {
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
	competitor.ContentUpdates = result.Success(activeSnapshot("b.com"))

	c := compareContentUpdates(your, competitor)
	assert.Equal(t, MoreActiveCompetitor, c.MoreActive)
	assert.Greater(t, c.ContentGap.PostsPerMonthDiff, 5.0)
	assert.Equal(t, 3, c.ContentGap.VelocityGap)
	require.Len(t, c.Recommendations, 4)
	assert.Contains(t, c.Recommendations[0], "RSS")
	assert.Contains(t, c.Recommendations[1], "sitemap")
	assert.Contains(t, c.Recommendations[3], "more posts per month")

	your.ContentUpdates = result.Success(contentupdates.Unavailable("a.com"))
	competitor.ContentUpdates = result.Success(contentupdates.Unavailable("b.com"))
	assert.Equal(t, MoreActiveEqual, compareContentUpdates(your, competitor).MoreActive)
}

func TestGenerateIsPure(t *testing.T) {
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
	your.PageAnalysis = page(SEOSignals{HasTitle: true, TitleLength: 40, H1Count: 1}, 500)
	competitor.PageAnalysis = page(SEOSignals{HasOpenGraph: true, StructuredDataCount: 2}, 900)
	your.ContentUpdates = result.Success(activeSnapshot("a.com"))
	competitor.Backlinks = result.Success(sources.BacklinksData{Available: true, TotalBacklinks: 10})

	first, err := json.Marshal(Generate(your, competitor))
	require.NoError(t, err)
	second, err := json.Marshal(Generate(your, competitor))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestReportJSON(t *testing.T) {
	c := Generate(failedAnalysis("a.com"), failedAnalysis("b.com"))
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	performance := decoded["performance"].(map[string]any)
	assert.Contains(t, performance, "winner")
	assert.Nil(t, performance["winner"])

	traffic := decoded["traffic"].(map[string]any)
	assert.Equal(t, false, traffic["available"])
	assert.Equal(t, []any{}, traffic["recommendations"])

	summary := decoded["summary"].(map[string]any)
	for _, key := range []string{"strengths", "weaknesses", "opportunities", "recommendations"} {
		assert.NotNil(t, summary[key], key)
	}
}

func TestSummary(t *testing.T) {
	your, competitor := failedAnalysis("a.com"), failedAnalysis("b.com")
	your.PageAnalysis = page(SEOSignals{HasTitle: true, TitleLength: 40, HasDescription: true, DescriptionLength: 130, HasCanonical: true, H1Count: 1, HasOpenGraph: true, HasTwitterCard: true}, 2000)
	competitor.PageAnalysis = page(SEOSignals{StructuredDataCount: 1}, 100)
	your.TechnicalSEO = result.Success(sources.TechnicalData{Available: true, HTTPS: true, HasSitemap: true, Sitemaps: []string{}})
	competitor.TechnicalSEO = result.Success(sources.TechnicalData{Available: true, HTTPS: true, HasCDN: true, CDN: "Cloudflare", Sitemaps: []string{}})
	your.Backlinks = result.Success(sources.BacklinksData{Available: true, TotalBacklinks: 10})
	competitor.Backlinks = result.Success(sources.BacklinksData{Available: true, TotalBacklinks: 50})

	s := Generate(your, competitor).Summary
	assert.Equal(t, []string{
		"Stronger on-page SEO (80 vs 20)",
		"More comprehensive content (2000 vs 100 words)",
	}, s.Strengths)
	assert.Equal(t, []string{"Fewer backlinks than competitor"}, s.Weaknesses)
	assert.Equal(t, []string{
		"Competitor uses structured data. Adding schema markup could earn rich results.",
		"Competitor uses a CDN (Cloudflare). A CDN could improve global load times.",
		"Close a gap of 40 backlinks through outreach and linkable content",
	}, s.Opportunities)
	assert.Equal(t, []string{
		"Add an RSS feed so readers and aggregators can follow your new content.",
		"Publish an XML sitemap and reference it in robots.txt so search engines discover new pages quickly.",
		"Your content looks stale. Publish or update content at least monthly to signal freshness.",
	}, s.Recommendations)
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []string
	userSite []bool
	results  map[string]*analyzer.SiteAnalysis
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, site, email string, isUserSite bool) *analyzer.SiteAnalysis {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, site)
	f.userSite = append(f.userSite, isUserSite)
	if a, ok := f.results[site]; ok {
		return a
	}
	return failedAnalysis(site)
}

func TestCompareWebsites(t *testing.T) {
	t.Run("analyzes your site first", func(t *testing.T) {
		your := failedAnalysis("example.com")
		your.PageAnalysis = page(SEOSignals{HasTitle: true}, 100)
		fake := &fakeAnalyzer{results: map[string]*analyzer.SiteAnalysis{"example.com": your}}

		c := New(fake, time.Millisecond)
		c.now = func() time.Time { return testNow }

		report, err := c.CompareWebsites(context.Background(), "https://Example.com/", "competitor.io", "me@example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"example.com", "competitor.io"}, fake.calls)
		assert.Equal(t, []bool{true, false}, fake.userSite)
		assert.Equal(t, "example.com", report.YourSite.Domain)
		assert.Equal(t, "competitor.io", report.CompetitorSite.Domain)
		assert.Equal(t, testNow, report.GeneratedAt)
		assert.Equal(t, WinnerYours, report.Comparison.SEO.Winner)
	})

	t.Run("invalid domain", func(t *testing.T) {
		fake := &fakeAnalyzer{}
		_, err := New(fake, 0).CompareWebsites(context.Background(), "not a domain", "competitor.io", "")
		assert.ErrorIs(t, err, ErrInvalidDomain)
		assert.Empty(t, fake.calls)
	})

	t.Run("identical domains", func(t *testing.T) {
		_, err := New(&fakeAnalyzer{}, 0).CompareWebsites(context.Background(), "example.com", "https://example.com/", "")
		assert.ErrorIs(t, err, ErrInvalidDomain)
	})

	t.Run("no data for either site", func(t *testing.T) {
		_, err := New(&fakeAnalyzer{}, 0).CompareWebsites(context.Background(), "a.com", "b.com", "")
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("cancelled during site delay", func(t *testing.T) {
		fake := &fakeAnalyzer{}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := New(fake, time.Minute).CompareWebsites(ctx, "a.com", "b.com", "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, []string{"a.com"}, fake.calls)
	})
}
