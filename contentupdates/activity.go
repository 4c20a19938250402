package contentupdates

import (
	"math"
	"time"
)

const (
	day = 24 * time.Hour

	// recentDays is inclusive and compared against whole days, like daysAgo
	recentDays = 30
)

// Derive computes the publishing cadence from feed and sitemap results.
// It is a pure function of its inputs.
func Derive(rss RSSResult, sitemap SitemapResult, now time.Time) Activity {
	activity := Activity{
		UpdateFrequency: FrequencyUnknown,
		ContentVelocity: VelocityMinimal,
	}

	var last *time.Time
	if rss.LastUpdated != nil {
		last = rss.LastUpdated
	}
	if sitemap.LastModified != nil && (last == nil || sitemap.LastModified.After(*last)) {
		last = sitemap.LastModified
	}

	if last != nil {
		t := *last
		days := daysBetween(t, now)
		activity.LastContentDate = &t
		activity.DaysSinceLastContent = &days
		activity.UpdateFrequency = Frequency(days)
		activity.IsActive = days <= recentDays
	}

	dates := feedDates(rss)
	activity.AveragePostsPerMonth = postsPerMonth(dates)
	activity.ContentVelocity = Velocity(activity.AveragePostsPerMonth)

	for _, d := range dates {
		if daysBetween(d, now) <= recentDays {
			activity.RecentActivityCount++
		}
	}
	activity.RecentActivityCount += len(sitemap.RecentlyModified)

	return activity
}

// Frequency classifies the number of days since the newest content
func Frequency(days int) string {
	switch {
	case days <= 7:
		return FrequencyWeekly
	case days <= 30:
		return FrequencyMonthly
	case days <= 90:
		return FrequencyQuarterly
	default:
		return FrequencyInactive
	}
}

// Velocity classifies an average number of posts per month
func Velocity(postsPerMonth float64) string {
	switch {
	case postsPerMonth >= 10:
		return VelocityHigh
	case postsPerMonth >= 4:
		return VelocityMedium
	case postsPerMonth >= 1:
		return VelocityLow
	default:
		return VelocityMinimal
	}
}

// postsPerMonth needs at least two dated posts. The span between the oldest
// and newest post is floored at one day.
func postsPerMonth(dates []time.Time) float64 {
	if len(dates) < 2 {
		return 0
	}
	oldest, newest := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(oldest) {
			oldest = d
		}
		if d.After(newest) {
			newest = d
		}
	}

	span := newest.Sub(oldest).Hours() / 24
	if span < 1 {
		span = 1
	}
	return math.Round(float64(len(dates))/span*30*100) / 100
}

func feedDates(rss RSSResult) []time.Time {
	if len(rss.Dates) > 0 {
		return rss.Dates
	}
	dates := make([]time.Time, 0, len(rss.RecentPosts))
	for _, item := range rss.RecentPosts {
		if item.PubDate != nil {
			dates = append(dates, *item.PubDate)
		}
	}
	return dates
}

// daysBetween returns whole days from t to now, never negative
func daysBetween(t, now time.Time) int {
	d := int(now.Sub(t) / day)
	if d < 0 {
		return 0
	}
	return d
}
