package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	pw "github.com/playwright-community/playwright-go"
	"go.uber.org/multierr"
)

// RenderedPage is the outcome of loading one URL
type RenderedPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       []byte
	Headers    map[string]string
	LoadTime   time.Duration
}

// Renderer loads a URL and returns its final HTML
type Renderer interface {
	Render(ctx context.Context, url string) (*RenderedPage, error)
	Close() error
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// HTTPRenderer fetches the raw HTML without executing scripts
type HTTPRenderer struct {
	client    *http.Client
	userAgent string
}

func NewHTTPRenderer(timeout time.Duration, userAgent string) *HTTPRenderer {
	return &HTTPRenderer{client: NewHTTPClient(timeout), userAgent: userAgent}
}

func (r *HTTPRenderer) Render(ctx context.Context, url string) (*RenderedPage, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if _, err := io.Copy(buf, io.LimitReader(resp.Body, maxBodySize)); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[http.CanonicalHeaderKey(key)] = resp.Header.Get(key)
	}

	return &RenderedPage{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       append([]byte(nil), buf.Bytes()...),
		Headers:    headers,
		LoadTime:   time.Since(start),
	}, nil
}

func (r *HTTPRenderer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// PlaywrightRenderer drives a headless Chromium. The browser is launched on
// first use and reused; each render gets its own context and page.
type PlaywrightRenderer struct {
	mu        sync.Mutex
	pw        *pw.Playwright
	browser   pw.Browser
	headless  bool
	userAgent string
	timeout   time.Duration
}

func NewPlaywrightRenderer(headless bool, userAgent string, timeout time.Duration) *PlaywrightRenderer {
	return &PlaywrightRenderer{headless: headless, userAgent: userAgent, timeout: timeout}
}

func (r *PlaywrightRenderer) ensureBrowser() (pw.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.browser.IsConnected() {
		return r.browser, nil
	}

	if r.pw == nil {
		instance, err := pw.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start Playwright: %w", err)
		}
		r.pw = instance
	}

	browser, err := r.pw.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(r.headless),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	r.browser = browser
	log.Info().Bool("headless", r.headless).Msg("Chromium launched")
	return browser, nil
}

func (r *PlaywrightRenderer) Render(ctx context.Context, url string) (*RenderedPage, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	bctx, err := browser.NewContext(pw.BrowserNewContextOptions{
		UserAgent: pw.String(r.userAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	start := time.Now()
	resp, err := page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateNetworkidle,
		Timeout:   pw.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	loadTime := time.Since(start)

	rendered := &RenderedPage{
		URL:      url,
		FinalURL: page.URL(),
		LoadTime: loadTime,
		Headers:  map[string]string{},
	}
	if resp != nil {
		rendered.StatusCode = resp.Status()
		for key, value := range resp.Headers() {
			rendered.Headers[http.CanonicalHeaderKey(key)] = value
		}
		if rendered.StatusCode >= 400 {
			return nil, &StatusError{StatusCode: rendered.StatusCode}
		}
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	rendered.HTML = []byte(content)

	return rendered, nil
}

// Close shuts the browser and the Playwright driver down
func (r *PlaywrightRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = multierr.Append(err, r.browser.Close())
		r.browser = nil
	}
	if r.pw != nil {
		err = multierr.Append(err, r.pw.Stop())
		r.pw = nil
	}
	return err
}
