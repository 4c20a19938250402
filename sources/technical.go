package sources

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/seo-optimizer/competitive-insights/domain"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/errgroup"
)

// SecurityHeaders records which hardening headers the homepage sends
type SecurityHeaders struct {
	HSTS                bool `json:"strictTransportSecurity"`
	CSP                 bool `json:"contentSecurityPolicy"`
	XFrameOptions       bool `json:"xFrameOptions"`
	XContentTypeOptions bool `json:"xContentTypeOptions"`
	ReferrerPolicy      bool `json:"referrerPolicy"`
	Score               int  `json:"score"`
}

// TechnicalData is the technical-SEO and security picture of a site
type TechnicalData struct {
	Available       bool            `json:"available"`
	HTTPS           bool            `json:"https"`
	HTTPSRedirect   bool            `json:"httpsRedirect"`
	StatusCode      int             `json:"statusCode"`
	ResponseTimeMs  int64           `json:"responseTimeMs"`
	Compression     string          `json:"compression"`
	SecurityHeaders SecurityHeaders `json:"securityHeaders"`
	CDN             string          `json:"cdn"`
	HasCDN          bool            `json:"hasCdn"`
	Server          string          `json:"server"`
	RobotsTxt       bool            `json:"robotsTxt"`
	Sitemaps        []string        `json:"sitemaps"`
	HasSitemap      bool            `json:"hasSitemap"`
	Canonical       string          `json:"canonical"`
}

// UnavailableTechnical is the technical signal's value on failure
func UnavailableTechnical() TechnicalData {
	return TechnicalData{Sitemaps: []string{}, Compression: "unknown"}
}

// TechnicalSEO checks transport, headers, robots.txt and sitemap presence
type TechnicalSEO struct {
	client    *http.Client
	noFollow  *http.Client
	userAgent string
	timeout   time.Duration
	siteURL   func(string) string
	plainURL  func(string) string
}

func NewTechnicalSEO(timeout time.Duration, userAgent string) *TechnicalSEO {
	noFollow := NewHTTPClient(timeout)
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &TechnicalSEO{
		client:    NewHTTPClient(timeout),
		noFollow:  noFollow,
		userAgent: userAgent,
		timeout:   timeout,
		siteURL:   siteURL,
		plainURL:  func(site string) string { return "http://" + site },
	}
}

func (t *TechnicalSEO) Analyze(ctx context.Context, site string) result.Result[TechnicalData] {
	return Capture(SignalTechnical, site, UnavailableTechnical(), "Technical SEO check failed", func() (TechnicalData, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		return t.check(ctx, site)
	})
}

func (t *TechnicalSEO) check(ctx context.Context, site string) (TechnicalData, error) {
	data := TechnicalData{Sitemaps: []string{}, Compression: "none"}
	base := t.siteURL(site)

	var (
		homeErr      error
		redirect     bool
		robotsStatus int
		robotsBody   []byte
		sitemapFound bool
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		homeErr = t.checkHomepage(gctx, base, &data)
		return nil
	})
	g.Go(func() error {
		redirect = t.redirectsToHTTPS(gctx, site)
		return nil
	})
	g.Go(func() error {
		resp, body, err := fetch(gctx, t.client, base+"/robots.txt", t.userAgent)
		if err == nil {
			robotsStatus, robotsBody = resp.StatusCode, body
		}
		return nil
	})
	g.Go(func() error {
		resp, _, err := fetch(gctx, t.client, base+"/sitemap.xml", t.userAgent)
		sitemapFound = err == nil && resp.StatusCode == http.StatusOK
		return nil
	})
	g.Wait()

	if homeErr != nil {
		return TechnicalData{}, homeErr
	}
	data.HTTPSRedirect = redirect

	if robotsStatus == http.StatusOK {
		data.RobotsTxt = true
		if robots, err := robotstxt.FromStatusAndBytes(robotsStatus, robotsBody); err == nil {
			data.Sitemaps = append(data.Sitemaps, robots.Sitemaps...)
		}
	}
	data.HasSitemap = sitemapFound || len(data.Sitemaps) > 0
	data.Available = true

	return data, nil
}

func (t *TechnicalSEO) checkHomepage(ctx context.Context, base string, data *TechnicalData) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", t.userAgent)

	start := time.Now()
	resp, body, err := doFetch(t.client, req)
	if err != nil {
		return err
	}
	data.ResponseTimeMs = time.Since(start).Milliseconds()
	data.StatusCode = resp.StatusCode
	if resp.StatusCode >= 500 {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	data.HTTPS = resp.Request.URL.Scheme == "https"

	// the transport negotiates gzip itself and strips the header
	switch {
	case resp.Uncompressed:
		data.Compression = "gzip"
	case resp.Header.Get("Content-Encoding") != "":
		data.Compression = strings.ToLower(resp.Header.Get("Content-Encoding"))
	}

	data.SecurityHeaders = securityHeaders(resp.Header)
	data.Server = resp.Header.Get("Server")
	data.CDN = detectCDN(resp.Header)
	data.HasCDN = data.CDN != ""

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
			data.Canonical = domain.Resolve(resp.Request.URL.String(), href)
		}
	}
	return nil
}

func (t *TechnicalSEO) redirectsToHTTPS(ctx context.Context, site string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.plainURL(site), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.noFollow.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode > 399 {
		return false
	}
	loc, err := resp.Location()
	if err != nil {
		return false
	}
	return loc.Scheme == "https"
}

func doFetch(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}

func securityHeaders(h http.Header) SecurityHeaders {
	sh := SecurityHeaders{
		HSTS:                h.Get("Strict-Transport-Security") != "",
		CSP:                 h.Get("Content-Security-Policy") != "",
		XFrameOptions:       h.Get("X-Frame-Options") != "",
		XContentTypeOptions: strings.EqualFold(h.Get("X-Content-Type-Options"), "nosniff"),
		ReferrerPolicy:      h.Get("Referrer-Policy") != "",
	}
	for _, present := range []bool{sh.HSTS, sh.CSP, sh.XFrameOptions, sh.XContentTypeOptions, sh.ReferrerPolicy} {
		if present {
			sh.Score += 20
		}
	}
	return sh
}

// detectCDN guesses the CDN from response headers
func detectCDN(h http.Header) string {
	server := strings.ToLower(h.Get("Server"))
	via := strings.ToLower(h.Get("Via"))

	switch {
	case h.Get("Cf-Ray") != "" || strings.Contains(server, "cloudflare"):
		return "Cloudflare"
	case h.Get("X-Amz-Cf-Id") != "" || strings.Contains(via, "cloudfront"):
		return "Amazon CloudFront"
	case h.Get("X-Vercel-Id") != "" || strings.Contains(server, "vercel"):
		return "Vercel"
	case h.Get("X-Nf-Request-Id") != "" || strings.Contains(server, "netlify"):
		return "Netlify"
	case h.Get("X-Fastly-Request-Id") != "" || strings.Contains(h.Get("X-Served-By"), "cache-"):
		return "Fastly"
	case strings.Contains(server, "akamai") || h.Get("X-Akamai-Transformed") != "":
		return "Akamai"
	case h.Get("X-Azure-Ref") != "":
		return "Azure Front Door"
	case strings.Contains(via, "varnish") || h.Get("X-Varnish") != "":
		return "Varnish"
	}
	return ""
}
