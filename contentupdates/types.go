package contentupdates

import "time"

// Update frequency classes derived from the age of the newest content
const (
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyInactive  = "inactive"
	FrequencyUnknown   = "unknown"
)

// Content velocity classes derived from posts per month
const (
	VelocityHigh    = "high"
	VelocityMedium  = "medium"
	VelocityLow     = "low"
	VelocityMinimal = "minimal"
)

// FeedItem is one post read from an RSS or Atom feed
type FeedItem struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	PubDate     *time.Time `json:"pubDate"`
	Description string     `json:"description,omitempty"`
	Author      string     `json:"author,omitempty"`
	DaysAgo     *int       `json:"daysAgo"`
}

// RSSResult is the outcome of feed discovery
type RSSResult struct {
	Found       bool       `json:"found"`
	FeedURL     string     `json:"feedUrl,omitempty"`
	Format      string     `json:"format,omitempty"`
	TotalPosts  int        `json:"totalPosts"`
	RecentPosts []FeedItem `json:"recentPosts"`
	LastUpdated *time.Time `json:"lastUpdated"`
	Error       string     `json:"error,omitempty"`

	// Dates holds the publication date of every dated item in the feed,
	// newest first. RecentPosts is capped, Dates is not.
	Dates []time.Time `json:"-"`
}

// SitemapEntry is one page URL from a sitemap
type SitemapEntry struct {
	Loc     string    `json:"loc"`
	LastMod time.Time `json:"lastmod"`
	DaysAgo int       `json:"daysAgo"`
}

// SitemapResult is the outcome of sitemap discovery, aggregated over every
// child of a sitemap index
type SitemapResult struct {
	Found            bool           `json:"found"`
	URL              string         `json:"url,omitempty"`
	IsIndex          bool           `json:"isIndex"`
	ChildSitemaps    int            `json:"childSitemaps,omitempty"`
	TotalURLs        int            `json:"totalUrls"`
	RecentlyModified []SitemapEntry `json:"recentlyModified"`
	LastModified     *time.Time     `json:"lastModified"`
	Error            string         `json:"error,omitempty"`
}

// Activity is the publishing cadence derived from feed and sitemap data
type Activity struct {
	UpdateFrequency      string     `json:"updateFrequency"`
	LastContentDate      *time.Time `json:"lastContentDate"`
	DaysSinceLastContent *int       `json:"daysSinceLastContent"`
	AveragePostsPerMonth float64    `json:"averagePostsPerMonth"`
	IsActive             bool       `json:"isActive"`
	RecentActivityCount  int        `json:"recentActivityCount"`
	ContentVelocity      string     `json:"contentVelocity"`
}

// Snapshot is the full content-activity picture for one domain
type Snapshot struct {
	Domain          string        `json:"domain"`
	RSS             RSSResult     `json:"rss"`
	Sitemap         SitemapResult `json:"sitemap"`
	ContentActivity Activity      `json:"contentActivity"`
	CheckedAt       time.Time     `json:"checkedAt"`
	Error           string        `json:"error,omitempty"`
}

// Unavailable is the snapshot reported when content monitoring could not run
func Unavailable(domain string) Snapshot {
	return Snapshot{
		Domain:  domain,
		RSS:     RSSResult{RecentPosts: []FeedItem{}},
		Sitemap: SitemapResult{RecentlyModified: []SitemapEntry{}},
		ContentActivity: Activity{
			UpdateFrequency: FrequencyUnknown,
			ContentVelocity: VelocityMinimal,
		},
	}
}
