package compare

import "fmt"

// summarize turns the per-dimension verdicts into the report summary. Rules
// run in a fixed order so identical inputs give identical lists.
func summarize(c Comparison) Summary {
	s := Summary{
		Strengths:       []string{},
		Weaknesses:      []string{},
		Opportunities:   []string{},
		Recommendations: []string{},
	}

	switch c.Performance.Winner {
	case WinnerYours:
		s.Strengths = append(s.Strengths,
			fmt.Sprintf("Better performance scores (%.1f vs %.1f)", c.Performance.Your.Average, c.Performance.Competitor.Average))
	case WinnerCompetitor:
		s.Weaknesses = append(s.Weaknesses,
			fmt.Sprintf("Slower performance than competitor (%.1f vs %.1f)", c.Performance.Your.Average, c.Performance.Competitor.Average))
		s.Recommendations = append(s.Recommendations,
			"Optimize images, defer non-critical scripts and enable caching to improve performance scores")
	}

	switch c.SEO.Winner {
	case WinnerYours:
		s.Strengths = append(s.Strengths,
			fmt.Sprintf("Stronger on-page SEO (%d vs %d)", c.SEO.Your.Score, c.SEO.Competitor.Score))
	case WinnerCompetitor:
		s.Weaknesses = append(s.Weaknesses,
			fmt.Sprintf("Weaker on-page SEO (%d vs %d)", c.SEO.Your.Score, c.SEO.Competitor.Score))
	}
	s.Recommendations = append(s.Recommendations, seoRecommendations(c.SEO.Your.SEOSignals)...)
	if c.SEO.Competitor.StructuredDataCount > 0 && c.SEO.Your.StructuredDataCount == 0 {
		s.Opportunities = append(s.Opportunities,
			"Competitor uses structured data. Adding schema markup could earn rich results.")
	}

	switch c.Content.Winner {
	case WinnerYours:
		s.Strengths = append(s.Strengths,
			fmt.Sprintf("More comprehensive content (%d vs %d words)", c.Content.Your.WordCount, c.Content.Competitor.WordCount))
	case WinnerCompetitor:
		s.Weaknesses = append(s.Weaknesses,
			fmt.Sprintf("Less content than competitor (%d vs %d words)", c.Content.Your.WordCount, c.Content.Competitor.WordCount))
		s.Opportunities = append(s.Opportunities,
			"Expand your page content to cover topics more thoroughly")
	}

	if !c.Security.Your.HTTPS {
		s.Weaknesses = append(s.Weaknesses, "Site is not served over HTTPS")
		s.Recommendations = append(s.Recommendations, "Serve the site over HTTPS and redirect all HTTP traffic")
	}
	if !c.Security.Your.HasCDN && c.Security.Competitor.HasCDN {
		s.Opportunities = append(s.Opportunities,
			fmt.Sprintf("Competitor uses a CDN (%s). A CDN could improve global load times.", c.Security.Competitor.CDN))
	}
	if !c.Security.Your.HasSitemap {
		s.Recommendations = append(s.Recommendations, "Create an XML sitemap and submit it to search engines")
	}

	if c.Traffic.Available {
		switch c.Traffic.Winner {
		case WinnerYours:
			s.Strengths = append(s.Strengths, "Higher estimated monthly traffic")
		case WinnerCompetitor:
			s.Weaknesses = append(s.Weaknesses, "Lower estimated monthly traffic")
		}
		if c.Traffic.EngagementWinner == WinnerYours {
			s.Strengths = append(s.Strengths, "Better visitor engagement")
		}
		s.Recommendations = append(s.Recommendations, c.Traffic.Recommendations...)
	}

	if c.Backlinks.Available {
		switch c.Backlinks.Winner {
		case WinnerYours:
			s.Strengths = append(s.Strengths, "Stronger backlink profile")
		case WinnerCompetitor:
			s.Weaknesses = append(s.Weaknesses, "Fewer backlinks than competitor")
			s.Opportunities = append(s.Opportunities,
				fmt.Sprintf("Close a gap of %d backlinks through outreach and linkable content", c.Backlinks.Difference))
		}
	}

	if c.ContentUpdates.Available {
		switch c.ContentUpdates.MoreActive {
		case MoreActiveUser:
			s.Strengths = append(s.Strengths, "More active content publishing")
		case MoreActiveCompetitor:
			s.Weaknesses = append(s.Weaknesses, "Competitor publishes content more actively")
			s.Opportunities = append(s.Opportunities,
				"Increase publishing cadence to match your competitor's content activity")
		}
		s.Recommendations = append(s.Recommendations, c.ContentUpdates.Recommendations...)
	}

	return s
}

func seoRecommendations(s SEOSignals) []string {
	var recs []string
	if !s.HasTitle {
		recs = append(recs, "Add a title tag to the homepage")
	} else if s.TitleLength < 30 || s.TitleLength > 60 {
		recs = append(recs, "Keep the title between 30 and 60 characters")
	}
	if !s.HasDescription {
		recs = append(recs, "Add a meta description")
	} else if s.DescriptionLength < 120 || s.DescriptionLength > 160 {
		recs = append(recs, "Keep the meta description between 120 and 160 characters")
	}
	if s.H1Count != 1 {
		recs = append(recs, "Use exactly one H1 heading")
	}
	if !s.HasCanonical {
		recs = append(recs, "Add a canonical link to avoid duplicate content")
	}
	if !s.HasOpenGraph || !s.HasTwitterCard {
		recs = append(recs, "Add Open Graph and Twitter Card tags for better social sharing")
	}
	return recs
}
