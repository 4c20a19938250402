package compare

import (
	"fmt"
	"math"

	"github.com/seo-optimizer/competitive-insights/analyzer"
	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/sources"
)

var velocityRank = map[string]int{
	contentupdates.VelocityMinimal: 1,
	contentupdates.VelocityLow:     2,
	contentupdates.VelocityMedium:  3,
	contentupdates.VelocityHigh:    4,
}

// higher picks the side with the larger value; equal values tie
func higher(your, competitor float64) Winner {
	switch {
	case your > competitor:
		return WinnerYours
	case competitor > your:
		return WinnerCompetitor
	default:
		return WinnerTie
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func performanceSide(a *analyzer.SiteAnalysis) PerformanceSide {
	var side PerformanceSide
	if a.Lighthouse.OK {
		side.Lighthouse = a.Lighthouse.Data.Performance
	}
	if a.PageSpeed.OK {
		side.PageSpeedDesktop = a.PageSpeed.Data.DesktopScore()
		side.PageSpeedMobile = a.PageSpeed.Data.MobileScore()
	}
	side.Average = round1((side.Lighthouse + side.PageSpeedDesktop + side.PageSpeedMobile) / 3)
	return side
}

// comparePerformance averages Lighthouse and both PageSpeed strategies, with
// missing scores counted as zero
func comparePerformance(your, competitor *analyzer.SiteAnalysis) PerformanceComparison {
	c := PerformanceComparison{
		Your:       performanceSide(your),
		Competitor: performanceSide(competitor),
	}
	c.Gap = round1(math.Abs(c.Your.Average - c.Competitor.Average))

	measured := your.Lighthouse.OK || your.PageSpeed.OK || competitor.Lighthouse.OK || competitor.PageSpeed.OK
	if measured {
		c.Winner = higher(c.Your.Average, c.Competitor.Average)
	}
	return c
}

func seoSignals(page sources.PageData) SEOSignals {
	return SEOSignals{
		HasTitle:            page.Title.HasTitle,
		HasDescription:      page.Meta.HasDescription,
		HasCanonical:        page.Meta.HasCanonical,
		TitleLength:         page.Title.Length,
		DescriptionLength:   page.Meta.DescriptionLen,
		H1Count:             page.Headers.H1Count,
		H2Count:             page.Headers.H2Count,
		H3Count:             page.Headers.H3Count,
		HasOpenGraph:        page.Social.HasOpenGraph,
		HasTwitterCard:      page.Social.HasTwitterCard,
		StructuredDataCount: page.StructuredData.Count,
	}
}

// SEOScore is the weighted on-page score, at most 100
func SEOScore(s SEOSignals) int {
	score := 0

	if s.HasTitle {
		score += 10
	}
	if s.HasDescription {
		score += 10
	}
	if s.HasCanonical {
		score += 10
	}
	if s.TitleLength >= 30 && s.TitleLength <= 60 {
		score += 5
	}
	if s.DescriptionLength >= 120 && s.DescriptionLength <= 160 {
		score += 5
	}

	if s.H1Count == 1 {
		score += 10
	}
	if s.H2Count >= 1 {
		score += 5
	}
	if s.H3Count >= 1 {
		score += 5
	}

	if s.HasOpenGraph {
		score += 10
	}
	if s.HasTwitterCard {
		score += 10
	}

	// flat bonus, not scaled by the number of blocks
	if s.StructuredDataCount > 0 {
		score += 20
	}
	return score
}

// compareSEO awards the dimension to you only on a strictly higher score;
// a tie goes to the competitor
func compareSEO(your, competitor *analyzer.SiteAnalysis) SEOComparison {
	c := SEOComparison{}
	c.Your.SEOSignals = seoSignals(your.PageAnalysis.Data)
	c.Your.Score = SEOScore(c.Your.SEOSignals)
	c.Competitor.SEOSignals = seoSignals(competitor.PageAnalysis.Data)
	c.Competitor.Score = SEOScore(c.Competitor.SEOSignals)
	c.Gap = math.Abs(float64(c.Your.Score - c.Competitor.Score))

	if !your.PageAnalysis.OK && !competitor.PageAnalysis.OK {
		return c
	}
	if c.Your.Score > c.Competitor.Score {
		c.Winner = WinnerYours
	} else {
		c.Winner = WinnerCompetitor
	}
	return c
}

func contentSide(page sources.PageData) ContentSide {
	return ContentSide{
		WordCount:     page.Content.WordCount,
		TotalImages:   page.Content.TotalImages,
		ImagesWithAlt: page.Content.ImagesWithAlt,
		InternalLinks: page.Links.InternalLinks,
		ExternalLinks: page.Links.ExternalLinks,
	}
}

func compareContent(your, competitor *analyzer.SiteAnalysis) ContentComparison {
	c := ContentComparison{
		Your:       contentSide(your.PageAnalysis.Data),
		Competitor: contentSide(competitor.PageAnalysis.Data),
	}
	c.Gap = math.Abs(float64(c.Your.WordCount - c.Competitor.WordCount))
	if your.PageAnalysis.OK || competitor.PageAnalysis.OK {
		c.Winner = higher(float64(c.Your.WordCount), float64(c.Competitor.WordCount))
	}
	return c
}

func compareTechnology(your, competitor *analyzer.SiteAnalysis) TechnologyComparison {
	return TechnologyComparison{
		Your:       your.PageAnalysis.Data.Technologies,
		Competitor: competitor.PageAnalysis.Data.Technologies,
	}
}

func securitySide(t sources.TechnicalData) SecuritySide {
	return SecuritySide{
		HTTPS:                t.HTTPS,
		HTTPSRedirect:        t.HTTPSRedirect,
		CDN:                  t.CDN,
		HasCDN:               t.HasCDN,
		RobotsTxt:            t.RobotsTxt,
		HasSitemap:           t.HasSitemap,
		SecurityHeadersScore: t.SecurityHeaders.Score,
	}
}

func compareSecurity(your, competitor *analyzer.SiteAnalysis) SecurityComparison {
	return SecurityComparison{
		Your:       securitySide(your.TechnicalSEO.Data),
		Competitor: securitySide(competitor.TechnicalSEO.Data),
	}
}

func trafficSide(t sources.TrafficData) *TrafficSide {
	return &TrafficSide{
		Source:           t.Source,
		MonthlyVisits:    t.MonthlyVisits,
		BounceRate:       t.BounceRate,
		PagesPerVisit:    t.PagesPerVisit,
		AvgVisitDuration: t.AvgVisitDuration,
	}
}

// engagementWinner is a 2-of-3 vote over lower bounce rate, more pages per
// visit and longer visits. Anything short of two strict wins is a tie.
func engagementWinner(your, competitor *TrafficSide) Winner {
	yours, theirs := 0, 0
	vote := func(w Winner) {
		switch w {
		case WinnerYours:
			yours++
		case WinnerCompetitor:
			theirs++
		}
	}
	vote(higher(competitor.BounceRate, your.BounceRate))
	vote(higher(your.PagesPerVisit, competitor.PagesPerVisit))
	vote(higher(your.AvgVisitDuration, competitor.AvgVisitDuration))

	switch {
	case yours >= 2:
		return WinnerYours
	case theirs >= 2:
		return WinnerCompetitor
	default:
		return WinnerTie
	}
}

func compareTraffic(your, competitor *analyzer.SiteAnalysis) TrafficComparison {
	c := TrafficComparison{Recommendations: []string{}}
	if !your.Traffic.OK || !competitor.Traffic.OK {
		return c
	}

	c.Available = true
	c.Your = trafficSide(your.Traffic.Data)
	c.Competitor = trafficSide(competitor.Traffic.Data)
	c.Winner = higher(c.Your.MonthlyVisits, c.Competitor.MonthlyVisits)
	c.Gap = math.Abs(c.Your.MonthlyVisits - c.Competitor.MonthlyVisits)
	c.EngagementWinner = engagementWinner(c.Your, c.Competitor)

	if c.Winner == WinnerCompetitor {
		c.Recommendations = append(c.Recommendations,
			fmt.Sprintf("Your competitor gets about %.0f more visits per month. Invest in SEO, content and referral channels to close the gap.", c.Gap))
	}
	if c.EngagementWinner == WinnerCompetitor {
		c.Recommendations = append(c.Recommendations,
			"Visitors engage more with your competitor. Improve page speed, internal linking and calls to action to keep visitors exploring.")
	}
	if c.Competitor.BounceRate < c.Your.BounceRate {
		c.Recommendations = append(c.Recommendations,
			fmt.Sprintf("Reduce your bounce rate (%.1f%% vs %.1f%%) by matching landing pages to search intent.", c.Your.BounceRate, c.Competitor.BounceRate))
	}
	return c
}

func compareBacklinks(your, competitor *analyzer.SiteAnalysis) BacklinksComparison {
	c := BacklinksComparison{}
	y, cp := your.Backlinks, competitor.Backlinks
	if !y.OK || !cp.OK || !y.Data.Available || !cp.Data.Available {
		return c
	}

	c.Available = true
	c.Your = &BacklinksSide{TotalBacklinks: y.Data.TotalBacklinks, ReferringDomains: y.Data.ReferringDomains, Rank: y.Data.Rank}
	c.Competitor = &BacklinksSide{TotalBacklinks: cp.Data.TotalBacklinks, ReferringDomains: cp.Data.ReferringDomains, Rank: cp.Data.Rank}
	c.Winner = higher(float64(c.Your.TotalBacklinks), float64(c.Competitor.TotalBacklinks))

	diff := c.Your.TotalBacklinks - c.Competitor.TotalBacklinks
	if diff < 0 {
		diff = -diff
	}
	c.Difference = diff
	return c
}

func contentUpdatesSide(s contentupdates.Snapshot) *ContentUpdatesSide {
	a := s.ContentActivity
	return &ContentUpdatesSide{
		HasRSS:               s.RSS.Found,
		HasSitemap:           s.Sitemap.Found,
		UpdateFrequency:      a.UpdateFrequency,
		LastContentDate:      a.LastContentDate,
		AveragePostsPerMonth: a.AveragePostsPerMonth,
		IsActive:             a.IsActive,
		RecentActivityCount:  a.RecentActivityCount,
		ContentVelocity:      a.ContentVelocity,
	}
}

// compareContentUpdates only recommends on your own gaps
func compareContentUpdates(your, competitor *analyzer.SiteAnalysis) ContentUpdatesComparison {
	c := ContentUpdatesComparison{Recommendations: []string{}}
	if !your.ContentUpdates.OK || !competitor.ContentUpdates.OK {
		return c
	}

	c.Available = true
	c.Your = contentUpdatesSide(your.ContentUpdates.Data)
	c.Competitor = contentUpdatesSide(competitor.ContentUpdates.Data)

	switch {
	case c.Your.RecentActivityCount > c.Competitor.RecentActivityCount:
		c.MoreActive = MoreActiveUser
	case c.Your.RecentActivityCount < c.Competitor.RecentActivityCount:
		c.MoreActive = MoreActiveCompetitor
	default:
		c.MoreActive = MoreActiveEqual
	}

	c.ContentGap = ContentGap{
		PostsPerMonthDiff:  round1(c.Competitor.AveragePostsPerMonth - c.Your.AveragePostsPerMonth),
		RecentActivityDiff: c.Competitor.RecentActivityCount - c.Your.RecentActivityCount,
		VelocityGap:        velocityRank[c.Competitor.ContentVelocity] - velocityRank[c.Your.ContentVelocity],
	}

	if !c.Your.HasRSS {
		c.Recommendations = append(c.Recommendations,
			"Add an RSS feed so readers and aggregators can follow your new content.")
	}
	if !c.Your.HasSitemap {
		c.Recommendations = append(c.Recommendations,
			"Publish an XML sitemap and reference it in robots.txt so search engines discover new pages quickly.")
	}
	if !c.Your.IsActive {
		c.Recommendations = append(c.Recommendations,
			"Your content looks stale. Publish or update content at least monthly to signal freshness.")
	}
	if c.ContentGap.PostsPerMonthDiff > 5 {
		c.Recommendations = append(c.Recommendations,
			fmt.Sprintf("Your competitor publishes about %.1f more posts per month. Increase your publishing frequency.", c.ContentGap.PostsPerMonthDiff))
	}
	return c
}
