package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Acme Widgets - Hand-made widgets since 1999</title>
  <meta name="description" content="Acme builds durable hand-made widgets for workshops, labs and home tinkerers. Browse the catalogue, read guides and order online today.">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta name="generator" content="WordPress 6.5">
  <link rel="canonical" href="/">
  <meta property="og:title" content="Acme Widgets">
  <meta property="og:type" content="website">
  <meta name="twitter:card" content="summary">
  <script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"Organization"},{"@type":["WebSite","Thing"]}]}</script>
  <script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization"}</script>
  <script async src="https://www.googletagmanager.com/gtag/js?id=G-TEST"></script>
</head>
<body>
  <h1>Widgets that last</h1>
  <h2>Catalogue</h2>
  <h2>Guides</h2>
  <p>Every widget is assembled by hand in our workshop and tested before it ships.</p>
  <img src="/a.png" alt="A widget">
  <img src="/b.png">
  <a href="/ok">Working page</a>
  <a href="/missing">Broken page</a>
  <a href="#top">Top</a>
  <a href="mailto:hello@acme.test">Mail</a>
  <a href="https://external.example.org/">Partner</a>
</body>
</html>`

type fakeRenderer struct {
	page  *RenderedPage
	err   error
	panic bool
}

func (f *fakeRenderer) Render(ctx context.Context, url string) (*RenderedPage, error) {
	if f.panic {
		panic("renderer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeRenderer) Close() error { return nil }

func TestAnalyzeHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	analyzer := NewPageAnalyzer(&fakeRenderer{}, 5*time.Second, "test-agent")
	analyzer.maxLinkChecks = 2

	data, err := analyzer.AnalyzeHTML(context.Background(), &RenderedPage{
		URL:      server.URL,
		FinalURL: server.URL + "/",
		HTML:     []byte(fixtureHTML),
		Headers:  map[string]string{},
		LoadTime: 800 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, data.Available)
	assert.True(t, data.Title.HasTitle)
	assert.Equal(t, 43, data.Title.Length)
	assert.True(t, data.Meta.HasDescription)
	assert.True(t, data.Meta.HasCanonical)
	assert.Equal(t, server.URL+"/", data.Meta.Canonical)
	assert.Equal(t, "en", data.Meta.Lang)

	assert.Equal(t, 1, data.Headers.H1Count)
	assert.Equal(t, 2, data.Headers.H2Count)
	assert.Equal(t, 0, data.Headers.H3Count)
	assert.Equal(t, []string{"Widgets that last"}, data.Headers.H1Text)

	assert.True(t, data.Social.HasOpenGraph)
	assert.Equal(t, "Acme Widgets", data.Social.OpenGraph["title"])
	assert.True(t, data.Social.HasTwitterCard)

	assert.Equal(t, 2, data.StructuredData.Count)
	assert.Equal(t, []string{"Organization", "Thing", "WebSite"}, data.StructuredData.Types)

	assert.Greater(t, data.Content.WordCount, 0)
	assert.Equal(t, 2, data.Content.TotalImages)
	assert.Equal(t, 1, data.Content.ImagesWithAlt)

	assert.True(t, data.Performance.MobileOptimized)
	assert.Equal(t, "good", data.Performance.LoadTimeSeverity)

	assert.Equal(t, 2, data.Links.InternalLinks)
	assert.Equal(t, 1, data.Links.ExternalLinks)
	assert.Equal(t, 2, data.Links.CheckedLinks)
	assert.Equal(t, 1, data.Links.BrokenLinks)

	assert.Equal(t, []string{"WordPress"}, data.Technologies.CMS)
	assert.Equal(t, []string{"Google Analytics"}, data.Technologies.Analytics)
	assert.Empty(t, data.Technologies.Frameworks)

	assert.Contains(t, data.Recommendations, "Add alt text to all images")
	assert.Contains(t, data.Recommendations, "Fix broken links: Found 1 broken link(s)")
}

func TestPageAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name     string
		renderer *fakeRenderer
		detail   string
	}{
		{"render error", &fakeRenderer{err: errors.New("navigation timeout")}, "navigation timeout"},
		{"render panic", &fakeRenderer{panic: true}, "panic: renderer exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := NewPageAnalyzer(tt.renderer, time.Second, "test-agent")
			res := analyzer.Analyze(context.Background(), "example.com")

			assert.False(t, res.OK)
			assert.Equal(t, "Page analysis failed", res.Reason)
			assert.Contains(t, res.ErrorDetail, tt.detail)
			assert.False(t, res.Data.Available)
			assert.NotNil(t, res.Data.Technologies.CMS)
			assert.NotNil(t, res.Data.Recommendations)
		})
	}
}

func TestHTTPRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("X-Powered-By", "Next.js")
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer server.Close()

	renderer := NewHTTPRenderer(5*time.Second, "test-agent")
	defer renderer.Close()

	page, err := renderer.Render(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "Next.js", page.Headers["X-Powered-By"])
	assert.Contains(t, string(page.HTML), "hi")

	_, err = renderer.Render(context.Background(), server.URL+"/gone")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
}
