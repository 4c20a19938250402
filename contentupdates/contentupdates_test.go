package contentupdates

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newTestService(base string) *Service {
	s := NewService(5*time.Second, 50, "test-agent")
	s.siteURL = func(string) string { return base }
	s.now = func() time.Time { return testNow }
	return s
}

func TestVelocity(t *testing.T) {
	tests := []struct {
		postsPerMonth float64
		want          string
	}{
		{10, VelocityHigh},
		{9.99, VelocityMedium},
		{4, VelocityMedium},
		{3.99, VelocityLow},
		{1, VelocityLow},
		{0.99, VelocityMinimal},
		{0, VelocityMinimal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.postsPerMonth), func(t *testing.T) {
			assert.Equal(t, tt.want, Velocity(tt.postsPerMonth))
		})
	}
}

func TestFrequency(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{0, FrequencyWeekly},
		{7, FrequencyWeekly},
		{8, FrequencyMonthly},
		{30, FrequencyMonthly},
		{31, FrequencyQuarterly},
		{90, FrequencyQuarterly},
		{91, FrequencyInactive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Frequency(tt.days), "days=%d", tt.days)
	}
}

// spreadDates returns n dates, newest first, starting newestAgo before now
// and spanning exactly span
func spreadDates(n int, newestAgo, span time.Duration) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = testNow.Add(-newestAgo - time.Duration(i)*span/time.Duration(n-1))
	}
	return dates
}

func TestDerive(t *testing.T) {
	t.Run("twelve posts over thirty days", func(t *testing.T) {
		dates := spreadDates(12, 2*day, 30*day)
		last := dates[0]

		activity := Derive(RSSResult{Found: true, LastUpdated: &last, Dates: dates}, SitemapResult{}, testNow)
		assert.InDelta(t, 12.0, activity.AveragePostsPerMonth, 0.01)
		assert.Equal(t, VelocityHigh, activity.ContentVelocity)
		assert.Equal(t, FrequencyWeekly, activity.UpdateFrequency)
		assert.True(t, activity.IsActive)
		assert.Equal(t, 2, *activity.DaysSinceLastContent)
		assert.Equal(t, 11, activity.RecentActivityCount)
	})

	t.Run("sitemap newer than feed", func(t *testing.T) {
		feedDate := testNow.Add(-60 * day)
		sitemapDate := testNow.Add(-20 * day)

		activity := Derive(
			RSSResult{Found: true, LastUpdated: &feedDate, Dates: []time.Time{feedDate}},
			SitemapResult{Found: true, LastModified: &sitemapDate, RecentlyModified: []SitemapEntry{{Loc: "/a", LastMod: sitemapDate}}},
			testNow,
		)
		assert.True(t, activity.LastContentDate.Equal(sitemapDate))
		assert.Equal(t, FrequencyMonthly, activity.UpdateFrequency)
		assert.Equal(t, 0.0, activity.AveragePostsPerMonth, "a single dated post gives no cadence")
		assert.Equal(t, VelocityMinimal, activity.ContentVelocity)
		assert.Equal(t, 1, activity.RecentActivityCount)
	})

	t.Run("same-day posts floor the span", func(t *testing.T) {
		d := testNow.Add(-time.Hour)
		activity := Derive(RSSResult{Dates: []time.Time{d, d.Add(-time.Minute)}}, SitemapResult{}, testNow)
		assert.Equal(t, 60.0, activity.AveragePostsPerMonth)
	})

	t.Run("thirty and a half days counts as recent", func(t *testing.T) {
		d := testNow.Add(-(30*day + 12*time.Hour))
		activity := Derive(RSSResult{Found: true, LastUpdated: &d, Dates: []time.Time{d}}, SitemapResult{}, testNow)
		assert.Equal(t, 30, *activity.DaysSinceLastContent)
		assert.True(t, activity.IsActive)
		assert.Equal(t, FrequencyMonthly, activity.UpdateFrequency)
		assert.Equal(t, 1, activity.RecentActivityCount)
	})

	t.Run("thirty one days is not recent", func(t *testing.T) {
		d := testNow.Add(-31 * day)
		activity := Derive(RSSResult{Found: true, LastUpdated: &d, Dates: []time.Time{d}}, SitemapResult{}, testNow)
		assert.False(t, activity.IsActive)
		assert.Equal(t, 0, activity.RecentActivityCount)
	})

	t.Run("nothing dated", func(t *testing.T) {
		activity := Derive(RSSResult{}, SitemapResult{}, testNow)
		assert.Equal(t, FrequencyUnknown, activity.UpdateFrequency)
		assert.False(t, activity.IsActive)
		assert.Nil(t, activity.LastContentDate)
		assert.Equal(t, VelocityMinimal, activity.ContentVelocity)
	})
}

func urlset(lastmods ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for i, lm := range lastmods {
		fmt.Fprintf(&b, "<url><loc>https://example.com/page-%d-%s</loc>", i, strings.ReplaceAll(lm, ":", ""))
		if lm != "" {
			fmt.Fprintf(&b, "<lastmod>%s</lastmod>", lm)
		}
		b.WriteString("</url>")
	}
	b.WriteString("</urlset>")
	return b.String()
}

func gzipped(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSitemapIndexAggregation(t *testing.T) {
	childA := urlset(
		"2026-10-17T00:00:00Z", "2026-10-16T00:00:00Z", "2026-10-15T00:00:00Z",
		"2026-10-14T00:00:00Z", "2026-10-13T00:00:00Z",
	)
	childB := urlset(
		"2026-10-08T00:00:00Z", "2026-09-28T00:00:00Z", "2026-09-19T00:00:00Z",
		"2026-09-08T00:00:00Z", "2026-08-19T00:00:00Z", "2026-07-10T00:00:00Z", "",
	)
	childC := gzipped(t, urlset("2026-10-18T06:00:00Z", "2026-09-01T00:00:00Z", "2026-08-01T00:00:00Z"))

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprintf(w, "User-agent: *\nAllow: /\nSitemap: %s/sitemap_index.xml\n", server.URL)
		case "/sitemap_index.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>%[1]s/sitemaps/a.xml</loc></sitemap>
<sitemap><loc>%[1]s/sitemaps/b.xml</loc></sitemap>
<sitemap><loc>%[1]s/sitemaps/c.xml.gz</loc></sitemap>
<sitemap><loc>%[1]s/sitemaps/a.xml</loc></sitemap>
</sitemapindex>`, server.URL)
		case "/sitemaps/a.xml":
			fmt.Fprint(w, childA)
		case "/sitemaps/b.xml":
			fmt.Fprint(w, childB)
		case "/sitemaps/c.xml.gz":
			w.Header().Set("Content-Type", "application/x-gzip")
			w.Write(childC)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	snap := newTestService(server.URL).GetContentUpdates(context.Background(), "example.com")

	sm := snap.Sitemap
	require.True(t, sm.Found, sm.Error)
	assert.Equal(t, server.URL+"/sitemap_index.xml", sm.URL)
	assert.True(t, sm.IsIndex)
	assert.Equal(t, 3, sm.ChildSitemaps)
	assert.Equal(t, 15, sm.TotalURLs)

	require.Len(t, sm.RecentlyModified, 9)
	assert.True(t, sort.SliceIsSorted(sm.RecentlyModified, func(i, j int) bool {
		return sm.RecentlyModified[i].LastMod.After(sm.RecentlyModified[j].LastMod)
	}))
	for _, e := range sm.RecentlyModified {
		assert.LessOrEqual(t, e.DaysAgo, 30, e.Loc)
	}
	assert.True(t, sm.RecentlyModified[0].LastMod.Equal(time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)))
	require.NotNil(t, sm.LastModified)
	assert.True(t, sm.LastModified.Equal(sm.RecentlyModified[0].LastMod))

	assert.False(t, snap.RSS.Found)
	assert.Empty(t, snap.Error, "a found sitemap is enough")
	assert.Equal(t, 9, snap.ContentActivity.RecentActivityCount)
	assert.Equal(t, FrequencyWeekly, snap.ContentActivity.UpdateFrequency)
}

func TestRecentlyModifiedCap(t *testing.T) {
	lastmods := make([]string, 25)
	for i := range lastmods {
		lastmods[i] = testNow.Add(-time.Duration(i) * time.Hour).Format(time.RFC3339)
	}
	body := urlset(lastmods...)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sitemap.xml" {
			fmt.Fprint(w, body)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	res, err := newTestService(server.URL).discoverSitemap(context.Background(), server.URL)
	require.NoError(t, err)
	assert.False(t, res.IsIndex)
	assert.Equal(t, 25, res.TotalURLs)
	assert.Len(t, res.RecentlyModified, 20)
	assert.Equal(t, 0, res.RecentlyModified[0].DaysAgo)
}

func TestRecentlyModifiedOrdering(t *testing.T) {
	same := testNow.Add(-2 * day)
	boundary := testNow.Add(-(30*day + 12*time.Hour))
	entries := []sitemapEntry{
		{loc: "https://example.com/c", lastMod: &same},
		{loc: "https://example.com/old", lastMod: &boundary},
		{loc: "https://example.com/a", lastMod: &same},
		{loc: "https://example.com/b", lastMod: &same},
	}

	var res SitemapResult
	newTestService("").summarizeEntries(&res, entries)

	require.Len(t, res.RecentlyModified, 4)
	locs := make([]string, 0, len(res.RecentlyModified))
	for _, e := range res.RecentlyModified {
		locs = append(locs, e.Loc)
	}
	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/old",
	}, locs)
	assert.Equal(t, 30, res.RecentlyModified[3].DaysAgo)
}

func TestDeclaredSitemapsAfterBrokenIndex(t *testing.T) {
	var goodHits atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprintf(w, "User-agent: *\nSitemap: %[1]s/broken_index.xml\nSitemap: %[1]s/good.xml\n", server.URL)
		case "/broken_index.xml":
			fmt.Fprintf(w, `<sitemapindex><sitemap><loc>%s/missing.xml</loc></sitemap></sitemapindex>`, server.URL)
		case "/good.xml":
			goodHits.Add(1)
			fmt.Fprint(w, urlset("2026-10-10T00:00:00Z", "2026-06-01T00:00:00Z"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	res, err := newTestService(server.URL).discoverSitemap(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), goodHits.Load())
	assert.Equal(t, server.URL+"/good.xml", res.URL)
	assert.False(t, res.IsIndex)
	assert.Equal(t, 2, res.TotalURLs)
	assert.Len(t, res.RecentlyModified, 1)

	_, err = newTestService(server.URL).walkSitemap(context.Background(), server.URL+"/broken_index.xml")
	assert.ErrorIs(t, err, errEmptyIndex)
}

func TestChildSitemapCap(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sitemap.xml":
			var b strings.Builder
			b.WriteString(`<sitemapindex>`)
			for i := 0; i < 10; i++ {
				fmt.Fprintf(&b, "<sitemap><loc>%s/child-%d.xml</loc></sitemap>", server.URL, i)
			}
			b.WriteString(`</sitemapindex>`)
			fmt.Fprint(w, b.String())
		case strings.HasPrefix(r.URL.Path, "/child-"):
			fmt.Fprint(w, urlset("2026-10-01T00:00:00Z"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	s := newTestService(server.URL)
	s.maxChildSitemaps = 4

	res, err := s.discoverSitemap(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ChildSitemaps)
	assert.Equal(t, 4, res.TotalURLs)
}

func rssFeed(dates []time.Time) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/"><channel><title>Blog</title>`)
	// oldest first so ordering is exercised
	for i := len(dates) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "<item><title>Post %d</title><link>https://example.com/p/%d</link><pubDate>%s</pubDate><description><![CDATA[<p>Post <b>%d</b> body</p>]]></description><dc:creator>Ann</dc:creator></item>",
			i, i, dates[i].Format(time.RFC1123Z), i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func TestFeedFromCommonPath(t *testing.T) {
	dates := spreadDates(12, 2*day, 30*day)
	feed := rssFeed(dates)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><head><title>Home</title></head><body></body></html>`)
		case "/rss.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, feed)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	snap := newTestService(server.URL).GetContentUpdates(context.Background(), "example.com")

	rss := snap.RSS
	require.True(t, rss.Found, rss.Error)
	assert.Equal(t, server.URL+"/rss.xml", rss.FeedURL)
	assert.Equal(t, "rss", rss.Format)
	assert.Equal(t, 12, rss.TotalPosts)
	require.Len(t, rss.RecentPosts, 10)
	assert.Equal(t, "Post 0", rss.RecentPosts[0].Title)
	assert.Equal(t, "Post 0 body", rss.RecentPosts[0].Description)
	assert.Equal(t, "Ann", rss.RecentPosts[0].Author)
	assert.Equal(t, 2, *rss.RecentPosts[0].DaysAgo)
	assert.True(t, rss.LastUpdated.Equal(dates[0]))

	activity := snap.ContentActivity
	assert.InDelta(t, 12.0, activity.AveragePostsPerMonth, 0.01)
	assert.Equal(t, VelocityHigh, activity.ContentVelocity)
	assert.Equal(t, FrequencyWeekly, activity.UpdateFrequency)
	assert.True(t, activity.IsActive)

	assert.False(t, snap.Sitemap.Found)
	assert.Empty(t, snap.Error)
}

func TestFeedDeclaredInHomepage(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>News</title>
  <entry>
    <title>Older</title>
    <link rel="alternate" href="https://example.com/older"/>
    <updated>2026-09-01T10:00:00Z</updated>
    <summary>First &amp; oldest</summary>
    <author><name>Bo</name></author>
  </entry>
  <entry>
    <title>Newer</title>
    <link rel="self" href="https://example.com/api/newer"/>
    <link rel="alternate" href="https://example.com/newer"/>
    <published>2026-10-12T08:00:00Z</published>
    <updated>2026-10-13T08:00:00Z</updated>
  </entry>
</feed>`

	var feedHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><head><link rel="alternate" type="application/atom+xml" href="/news/atom"></head></html>`)
		case "/news/atom":
			feedHits.Add(1)
			fmt.Fprint(w, atom)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	res, err := newTestService(server.URL).discoverFeed(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), feedHits.Load())
	assert.Equal(t, server.URL+"/news/atom", res.FeedURL)
	assert.Equal(t, "atom", res.Format)
	require.Len(t, res.RecentPosts, 2)
	assert.Equal(t, "Newer", res.RecentPosts[0].Title)
	assert.Equal(t, "https://example.com/newer", res.RecentPosts[0].Link)
	assert.True(t, res.RecentPosts[0].PubDate.Equal(time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, "First & oldest", res.RecentPosts[1].Description)
	assert.Equal(t, "Bo", res.RecentPosts[1].Author)
}

func TestParseFeedFormats(t *testing.T) {
	t.Run("rdf", func(t *testing.T) {
		rdf := `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel><title>Old school</title></channel>
  <item><title>One</title><link>https://example.com/1</link><dc:date>2026-10-01T00:00:00Z</dc:date></item>
  <item><title>Two</title><link>https://example.com/2</link></item>
</rdf:RDF>`
		format, items, err := parseFeed([]byte(rdf))
		require.NoError(t, err)
		assert.Equal(t, "rdf", format)
		require.Len(t, items, 2)
		require.NotNil(t, items[0].date)
		assert.Nil(t, items[1].date)
	})

	t.Run("latin-1 encoded rss", func(t *testing.T) {
		body := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><rss><channel><item><title>Caf`), 0xe9)
		body = append(body, []byte(`</title></item></channel></rss>`)...)

		_, items, err := parseFeed(body)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Café", items[0].title)
	})

	t.Run("html is not a feed", func(t *testing.T) {
		_, _, err := parseFeed([]byte(`<html><body>hello</body></html>`))
		assert.ErrorIs(t, err, errNotFeed)
	})

	t.Run("rss without channel", func(t *testing.T) {
		_, _, err := parseFeed([]byte(`<rss version="2.0"></rss>`))
		assert.ErrorIs(t, err, errNotFeed)
	})
}

func TestNoFeedNoSitemap(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	snap := newTestService(server.URL).GetContentUpdates(context.Background(), "example.com")
	assert.Equal(t, "example.com", snap.Domain)
	assert.False(t, snap.RSS.Found)
	assert.NotEmpty(t, snap.RSS.Error)
	assert.NotNil(t, snap.RSS.RecentPosts)
	assert.False(t, snap.Sitemap.Found)
	assert.NotNil(t, snap.Sitemap.RecentlyModified)
	assert.Contains(t, snap.Error, "no RSS or Atom feed found")
	assert.Contains(t, snap.Error, "no sitemap found")
	assert.Equal(t, FrequencyUnknown, snap.ContentActivity.UpdateFrequency)
	assert.Equal(t, VelocityMinimal, snap.ContentActivity.ContentVelocity)

	res := newTestService(server.URL).Analyze(context.Background(), "example.com")
	assert.True(t, res.OK, "missing feeds are data, not failures")
}
