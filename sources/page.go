package sources

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	"github.com/seo-optimizer/competitive-insights/domain"
	"github.com/seo-optimizer/competitive-insights/result"
)

// PageData is everything extracted from one rendered homepage
type PageData struct {
	Available       bool            `json:"available"`
	URL             string          `json:"url"`
	FinalURL        string          `json:"finalUrl,omitempty"`
	Title           TitleAnalysis   `json:"title"`
	Meta            MetaAnalysis    `json:"meta"`
	Headers         HeaderAnalysis  `json:"headers"`
	Social          SocialTags      `json:"social"`
	StructuredData  StructuredData  `json:"structuredData"`
	Content         ContentAnalysis `json:"content"`
	Performance     Performance     `json:"performance"`
	Links           LinkAnalysis    `json:"links"`
	Technologies    Technologies    `json:"technologies"`
	Score           float64         `json:"score"`
	Recommendations []string        `json:"recommendations"`
}

type TitleAnalysis struct {
	Title    string `json:"title"`
	Length   int    `json:"length"`
	HasTitle bool   `json:"hasTitle"`
	Score    int    `json:"score"`
}

type MetaAnalysis struct {
	Description    string `json:"description"`
	DescriptionLen int    `json:"descriptionLength"`
	HasDescription bool   `json:"hasDescription"`
	Keywords       string `json:"keywords"`
	HasKeywords    bool   `json:"hasKeywords"`
	Canonical      string `json:"canonical"`
	HasCanonical   bool   `json:"hasCanonical"`
	Robots         string `json:"robots"`
	Viewport       string `json:"viewport"`
	Lang           string `json:"lang"`
	Score          int    `json:"score"`
}

type HeaderAnalysis struct {
	H1Count int      `json:"h1Count"`
	H2Count int      `json:"h2Count"`
	H3Count int      `json:"h3Count"`
	H1Text  []string `json:"h1Text"`
	Score   int      `json:"score"`
}

type SocialTags struct {
	HasOpenGraph   bool              `json:"hasOpenGraph"`
	OpenGraph      map[string]string `json:"openGraph"`
	HasTwitterCard bool              `json:"hasTwitterCard"`
	TwitterCard    map[string]string `json:"twitterCard"`
}

type StructuredData struct {
	Count int      `json:"count"`
	Types []string `json:"types"`
}

type ContentAnalysis struct {
	WordCount     int  `json:"wordCount"`
	HasImages     bool `json:"hasImages"`
	ImagesWithAlt int  `json:"imagesWithAlt"`
	TotalImages   int  `json:"totalImages"`
	Score         int  `json:"score"`
}

type Performance struct {
	PageSize         int    `json:"pageSize"`
	LoadTime         int    `json:"loadTime"`
	MobileOptimized  bool   `json:"mobileOptimized"`
	Score            int    `json:"score"`
	PageSizeSeverity string `json:"pageSizeSeverity"`
	LoadTimeSeverity string `json:"loadTimeSeverity"`
}

type LinkAnalysis struct {
	InternalLinks int `json:"internalLinks"`
	ExternalLinks int `json:"externalLinks"`
	BrokenLinks   int `json:"brokenLinks"`
	CheckedLinks  int `json:"checkedLinks"`
	Score         int `json:"score"`
}

// UnavailablePage is the page signal's value when rendering failed
func UnavailablePage() PageData {
	return PageData{
		Headers:         HeaderAnalysis{H1Text: []string{}},
		Social:          SocialTags{OpenGraph: map[string]string{}, TwitterCard: map[string]string{}},
		StructuredData:  StructuredData{Types: []string{}},
		Technologies:    emptyTechnologies(),
		Recommendations: []string{},
	}
}

// Link status cache entry
type linkCacheEntry struct {
	accessible bool
	timestamp  time.Time
}

// PageAnalyzer renders a homepage and extracts on-page SEO signals
type PageAnalyzer struct {
	renderer         Renderer
	client           *http.Client
	userAgent        string
	timeout          time.Duration
	maxLinkChecks    int
	linkCache        map[string]linkCacheEntry
	linkCacheMutex   sync.RWMutex
	linkCacheTTL     time.Duration
	maxLinkCacheSize int
	siteURL          func(string) string
}

// NewPageAnalyzer creates a page analyzer on top of renderer
func NewPageAnalyzer(renderer Renderer, timeout time.Duration, userAgent string) *PageAnalyzer {
	return &PageAnalyzer{
		renderer:         renderer,
		client:           NewHTTPClient(5 * time.Second),
		userAgent:        userAgent,
		timeout:          timeout,
		maxLinkChecks:    25,
		linkCache:        make(map[string]linkCacheEntry),
		linkCacheTTL:     10 * time.Minute,
		maxLinkCacheSize: 10000,
		siteURL:          siteURL,
	}
}

// Analyze renders the site's homepage and parses it
func (a *PageAnalyzer) Analyze(ctx context.Context, site string) result.Result[PageData] {
	return Capture(SignalPage, site, UnavailablePage(), "Page analysis failed", func() (PageData, error) {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		page, err := a.renderer.Render(ctx, a.siteURL(site))
		if err != nil {
			return PageData{}, err
		}
		return a.AnalyzeHTML(ctx, page)
	})
}

// AnalyzeHTML extracts signals from an already rendered page
func (a *PageAnalyzer) AnalyzeHTML(ctx context.Context, page *RenderedPage) (PageData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return PageData{}, err
	}

	base := page.FinalURL
	if base == "" {
		base = page.URL
	}

	pageSize := len(page.HTML)
	if cl, ok := page.Headers["Content-Length"]; ok {
		if size, err := strconv.Atoi(cl); err == nil && size > 0 {
			pageSize = size
		}
	}

	mobileOptimized := false
	doc.Find("meta[name='viewport']").Each(func(_ int, s *goquery.Selection) {
		content, exists := s.Attr("content")
		if exists && strings.Contains(strings.ToLower(content), "width=device-width") {
			mobileOptimized = true
		}
	})

	data := PageData{
		Available: true,
		URL:       page.URL,
		FinalURL:  page.FinalURL,
	}
	data.Title = analyzeTitleTag(doc)
	data.Meta = analyzeMetaTags(doc, base)
	data.Headers = analyzeHeaders(doc)
	data.Social = analyzeSocialTags(doc)
	data.StructuredData = analyzeStructuredData(doc)
	data.Content = analyzeContent(doc, page.HTML)
	data.Performance = analyzePerformance(pageSize, page.LoadTime, mobileOptimized)
	data.Links = a.analyzeLinks(ctx, doc, base)
	data.Technologies = DetectTechnologies(doc, page.HTML, page.Headers)

	data.Score = calculateOverallScore(&data)
	data.Recommendations = generateRecommendations(&data)

	return data, nil
}

func analyzeTitleTag(doc *goquery.Document) TitleAnalysis {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	length := utf8.RuneCountInString(title)

	score := 0
	if length > 0 {
		if length >= 30 && length <= 60 {
			score = 100
		} else if length < 30 {
			score = 50
		} else {
			score = 70
		}
	}

	return TitleAnalysis{
		Title:    title,
		Length:   length,
		HasTitle: length > 0,
		Score:    score,
	}
}

func analyzeMetaTags(doc *goquery.Document, base string) MetaAnalysis {
	meta := MetaAnalysis{}
	score := 0

	meta.Description, _ = doc.Find("meta[name='description']").Attr("content")
	meta.Description = strings.TrimSpace(meta.Description)
	meta.DescriptionLen = utf8.RuneCountInString(meta.Description)
	meta.HasDescription = meta.DescriptionLen > 0

	meta.Keywords, _ = doc.Find("meta[name='keywords']").Attr("content")
	meta.HasKeywords = len(meta.Keywords) > 0

	meta.Robots, _ = doc.Find("meta[name='robots']").Attr("content")
	meta.Viewport, _ = doc.Find("meta[name='viewport']").Attr("content")
	meta.Lang, _ = doc.Find("html").Attr("lang")

	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		meta.Canonical = domain.Resolve(base, href)
		meta.HasCanonical = meta.Canonical != ""
	}

	if meta.HasDescription {
		if meta.DescriptionLen >= 120 && meta.DescriptionLen <= 160 {
			score += 40
		} else {
			score += 20
		}
	}
	if meta.HasKeywords {
		score += 20
	}
	if meta.Viewport != "" {
		score += 20
	}
	if meta.Robots != "" {
		score += 20
	}

	meta.Score = score
	return meta
}

func analyzeHeaders(doc *goquery.Document) HeaderAnalysis {
	headers := HeaderAnalysis{H1Text: []string{}}

	headers.H1Count = doc.Find("h1").Length()
	headers.H2Count = doc.Find("h2").Length()
	headers.H3Count = doc.Find("h3").Length()

	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		headers.H1Text = append(headers.H1Text, strings.TrimSpace(s.Text()))
	})

	score := 0
	if headers.H1Count == 1 {
		score += 40
	} else if headers.H1Count > 1 {
		score += 20
	}
	if headers.H2Count > 0 {
		score += 30
	}
	if headers.H3Count > 0 {
		score += 30
	}

	headers.Score = score
	return headers
}

func analyzeSocialTags(doc *goquery.Document) SocialTags {
	social := SocialTags{
		OpenGraph:   map[string]string{},
		TwitterCard: map[string]string{},
	}

	doc.Find("meta[property^='og:']").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		social.OpenGraph[strings.TrimPrefix(prop, "og:")] = content
	})
	// twitter tags show up under both name= and property=
	doc.Find("meta[name^='twitter:'], meta[property^='twitter:']").Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("name")
		if !ok {
			key, _ = s.Attr("property")
		}
		content, _ := s.Attr("content")
		social.TwitterCard[strings.TrimPrefix(key, "twitter:")] = content
	})

	social.HasOpenGraph = len(social.OpenGraph) > 0
	social.HasTwitterCard = len(social.TwitterCard) > 0
	return social
}

func analyzeStructuredData(doc *goquery.Document) StructuredData {
	sd := StructuredData{Types: []string{}}
	seen := map[string]bool{}

	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		sd.Count++

		var payload interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return
		}
		for _, t := range jsonLDTypes(payload) {
			if !seen[t] {
				seen[t] = true
				sd.Types = append(sd.Types, t)
			}
		}
	})

	sort.Strings(sd.Types)
	return sd
}

// jsonLDTypes collects @type values from a JSON-LD document, following @graph
func jsonLDTypes(v interface{}) []string {
	var types []string
	switch node := v.(type) {
	case []interface{}:
		for _, item := range node {
			types = append(types, jsonLDTypes(item)...)
		}
	case map[string]interface{}:
		switch t := node["@type"].(type) {
		case string:
			types = append(types, t)
		case []interface{}:
			for _, item := range t {
				if s, ok := item.(string); ok {
					types = append(types, s)
				}
			}
		}
		if graph, ok := node["@graph"]; ok {
			types = append(types, jsonLDTypes(graph)...)
		}
	}
	return types
}

func analyzeContent(doc *goquery.Document, html []byte) ContentAnalysis {
	content := ContentAnalysis{}

	// main-content extraction first, whole body text as fallback
	extracted, err := trafilatura.Extract(bytes.NewReader(html), trafilatura.Options{})
	if err == nil && extracted != nil && strings.TrimSpace(extracted.ContentText) != "" {
		content.WordCount = len(strings.Fields(extracted.ContentText))
	} else {
		body := doc.Find("body").Clone()
		body.Find("script, style, noscript").Remove()
		content.WordCount = len(strings.Fields(body.Text()))
	}

	images := doc.Find("img")
	content.TotalImages = images.Length()
	content.HasImages = content.TotalImages > 0

	images.Each(func(_ int, s *goquery.Selection) {
		if alt, exists := s.Attr("alt"); exists && strings.TrimSpace(alt) != "" {
			content.ImagesWithAlt++
		}
	})

	score := 0
	if content.WordCount >= 300 {
		score += 30
	}
	if content.HasImages {
		score += 20
		if content.ImagesWithAlt == content.TotalImages {
			score += 30
		} else if content.ImagesWithAlt > 0 {
			score += 20
		}
	}

	content.Score = score
	return content
}

func analyzePerformance(pageSize int, loadTime time.Duration, mobileOptimized bool) Performance {
	perf := Performance{
		PageSize:         pageSize,
		LoadTime:         int(loadTime.Milliseconds()),
		MobileOptimized:  mobileOptimized,
		PageSizeSeverity: "good",
		LoadTimeSeverity: "good",
	}

	score := 100

	pageSizeKB := float64(pageSize) / 1024.0
	switch {
	case pageSizeKB > 5120:
		score -= 40
		perf.PageSizeSeverity = "critical"
	case pageSizeKB > 2048:
		score -= 30
		perf.PageSizeSeverity = "major"
	case pageSizeKB > 1024:
		score -= 20
		perf.PageSizeSeverity = "moderate"
	case pageSizeKB > 500:
		score -= 10
		perf.PageSizeSeverity = "minor"
	}

	loadTimeMs := loadTime.Milliseconds()
	switch {
	case loadTimeMs > 3000:
		score -= 40
		perf.LoadTimeSeverity = "critical"
	case loadTimeMs > 2000:
		score -= 30
		perf.LoadTimeSeverity = "major"
	case loadTimeMs > 1500:
		score -= 20
		perf.LoadTimeSeverity = "moderate"
	case loadTimeMs > 1000:
		score -= 10
		perf.LoadTimeSeverity = "minor"
	}

	if !perf.MobileOptimized {
		score -= 20
	}

	perf.Score = score
	return perf
}

// analyzeLinks splits links into internal/external by registrable domain and
// HEAD-checks up to maxLinkChecks of them for breakage.
func (a *PageAnalyzer) analyzeLinks(ctx context.Context, doc *goquery.Document, base string) LinkAnalysis {
	links := LinkAnalysis{}

	baseURL, err := url.Parse(base)
	if err != nil {
		return links
	}

	seen := make(map[string]bool)
	var toCheck []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if seen[key] {
			return
		}
		seen[key] = true

		if domain.SameSite(abs.Hostname(), baseURL.Hostname()) {
			links.InternalLinks++
		} else {
			links.ExternalLinks++
		}
		if len(toCheck) < a.maxLinkChecks {
			toCheck = append(toCheck, key)
		}
	})

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 10)
	var mu sync.Mutex

	linkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	for _, target := range toCheck {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			accessible := a.isLinkAccessible(linkCtx, target)
			mu.Lock()
			links.CheckedLinks++
			if !accessible {
				links.BrokenLinks++
			}
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	score := 100
	switch {
	case links.InternalLinks == 0:
		score -= 40
	case links.InternalLinks < 3:
		score -= 30
	case links.InternalLinks < 5:
		score -= 20
	}
	switch {
	case links.ExternalLinks == 0:
		score -= 30
	case links.ExternalLinks > 50:
		score -= 15
	}
	switch {
	case links.BrokenLinks > 5:
		score -= 30
	case links.BrokenLinks > 3:
		score -= 20
	case links.BrokenLinks > 0:
		score -= 10
	}

	links.Score = score
	return links
}

func linkCacheKey(target string) string {
	hash := md5.Sum([]byte(target))
	return hex.EncodeToString(hash[:])
}

// isLinkAccessible HEAD-requests target, caching the answer
func (a *PageAnalyzer) isLinkAccessible(ctx context.Context, target string) bool {
	cacheKey := linkCacheKey(target)
	a.linkCacheMutex.RLock()
	if entry, found := a.linkCache[cacheKey]; found && time.Since(entry.timestamp) < a.linkCacheTTL {
		a.linkCacheMutex.RUnlock()
		return entry.accessible
	}
	a.linkCacheMutex.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return a.cacheLinkStatus(cacheKey, false)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		// a cancelled check says nothing about the link
		if ctx.Err() != nil {
			return true
		}
		return a.cacheLinkStatus(cacheKey, false)
	}
	defer resp.Body.Close()

	// some servers refuse HEAD outright
	accessible := resp.StatusCode < 400 || resp.StatusCode == http.StatusMethodNotAllowed
	return a.cacheLinkStatus(cacheKey, accessible)
}

func (a *PageAnalyzer) cacheLinkStatus(cacheKey string, accessible bool) bool {
	a.linkCacheMutex.Lock()
	defer a.linkCacheMutex.Unlock()

	if len(a.linkCache) >= a.maxLinkCacheSize {
		now := time.Now()
		for key, entry := range a.linkCache {
			if now.Sub(entry.timestamp) > a.linkCacheTTL {
				delete(a.linkCache, key)
			}
		}
		if len(a.linkCache) >= a.maxLinkCacheSize {
			a.linkCache = make(map[string]linkCacheEntry)
		}
	}

	a.linkCache[cacheKey] = linkCacheEntry{
		accessible: accessible,
		timestamp:  time.Now(),
	}
	return accessible
}

func calculateOverallScore(data *PageData) float64 {
	weights := map[string]float64{
		"title":       0.2,
		"meta":        0.2,
		"headers":     0.15,
		"content":     0.2,
		"performance": 0.15,
		"links":       0.1,
	}

	score := 0.0
	score += float64(data.Title.Score) * weights["title"]
	score += float64(data.Meta.Score) * weights["meta"]
	score += float64(data.Headers.Score) * weights["headers"]
	score += float64(data.Content.Score) * weights["content"]
	score += float64(data.Performance.Score) * weights["performance"]
	score += float64(data.Links.Score) * weights["links"]

	return score
}

func generateRecommendations(data *PageData) []string {
	recommendations := []string{}

	if !data.Title.HasTitle {
		recommendations = append(recommendations, "Add a title tag to your page")
	} else if data.Title.Length < 30 {
		recommendations = append(recommendations, "Title tag is too short (should be 30-60 characters)")
	} else if data.Title.Length > 60 {
		recommendations = append(recommendations, "Title tag is too long (should be 30-60 characters)")
	}

	if !data.Meta.HasDescription {
		recommendations = append(recommendations, "Add a meta description")
	} else if data.Meta.DescriptionLen < 120 {
		recommendations = append(recommendations, "Meta description is too short (should be 120-160 characters)")
	} else if data.Meta.DescriptionLen > 160 {
		recommendations = append(recommendations, "Meta description is too long (should be 120-160 characters)")
	}
	if !data.Meta.HasCanonical {
		recommendations = append(recommendations, "Add a canonical link to avoid duplicate content")
	}

	if data.Headers.H1Count == 0 {
		recommendations = append(recommendations, "Add an H1 heading")
	} else if data.Headers.H1Count > 1 {
		recommendations = append(recommendations, "Multiple H1 headings found - consider using only one")
	}

	if !data.Social.HasOpenGraph {
		recommendations = append(recommendations, "Add Open Graph tags for better social sharing")
	}
	if data.StructuredData.Count == 0 {
		recommendations = append(recommendations, "Add structured data (JSON-LD) to qualify for rich results")
	}

	if data.Content.WordCount < 300 {
		recommendations = append(recommendations, "Add more content (aim for at least 300 words)")
	}
	if data.Content.TotalImages > 0 && data.Content.ImagesWithAlt < data.Content.TotalImages {
		recommendations = append(recommendations, "Add alt text to all images")
	}

	switch data.Performance.PageSizeSeverity {
	case "critical":
		recommendations = append(recommendations,
			"Critical: Page size is extremely large (>5MB). Consider optimizing images, minifying CSS/JS, and removing unnecessary resources")
	case "major":
		recommendations = append(recommendations,
			"Major: Page size is very large (>2MB). Optimize images and consider lazy loading for non-critical resources")
	case "moderate":
		recommendations = append(recommendations,
			"Moderate: Page size is large (>1MB). Look for opportunities to optimize images and resources")
	case "minor":
		recommendations = append(recommendations,
			"Minor: Page size is above optimal (>500KB). Consider basic optimization techniques")
	}

	switch data.Performance.LoadTimeSeverity {
	case "critical":
		recommendations = append(recommendations,
			"Critical: Page load time is extremely slow (>3s). Consider using a CDN, optimizing server response time, and reducing resource size")
	case "major":
		recommendations = append(recommendations,
			"Major: Page load time is slow (>2s). Optimize server response time and consider resource optimization")
	case "moderate":
		recommendations = append(recommendations,
			"Moderate: Page load time is above optimal (>1.5s). Look for opportunities to improve performance")
	case "minor":
		recommendations = append(recommendations,
			"Minor: Page load time is slightly above optimal (>1s). Consider fine-tuning performance")
	}

	if !data.Performance.MobileOptimized {
		recommendations = append(recommendations,
			"Add a proper viewport meta tag for mobile optimization (e.g., <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">)")
	}

	if data.Links.BrokenLinks > 0 {
		recommendations = append(recommendations,
			"Fix broken links: Found "+strconv.Itoa(data.Links.BrokenLinks)+" broken link(s)")
	}
	if data.Links.InternalLinks < 3 {
		recommendations = append(recommendations,
			"Add more internal links to improve site navigation and SEO (aim for at least 3-5)")
	}
	if data.Links.ExternalLinks > 50 {
		recommendations = append(recommendations,
			"Consider reducing the number of external links (current: "+strconv.Itoa(data.Links.ExternalLinks)+") to maintain focus")
	}

	return recommendations
}
