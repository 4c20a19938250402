// Package sources holds one adapter per external signal. Every adapter
// resolves to a result.Result and never lets an error or panic escape.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seo-optimizer/competitive-insights/domain"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/store"
)

// Signal names used as keys in a site analysis
const (
	SignalPage           = "pageAnalysis"
	SignalLighthouse     = "lighthouse"
	SignalPageSpeed      = "pageSpeed"
	SignalTechnical      = "technicalSEO"
	SignalTraffic        = "traffic"
	SignalBacklinks      = "backlinks"
	SignalChanges        = "changeDetection"
	SignalContentUpdates = "contentUpdates"
)

const maxBodySize = 10 << 20

// TokenSource hands out a valid bearer token for (email, provider)
type TokenSource interface {
	ValidToken(ctx context.Context, email, provider string) (*store.Token, error)
}

// StatusError is returned when a third party answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPClient returns a pooled client with keep-alive connections
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Capture runs fn as the named signal for domain, logging start and failure
func Capture[T any](signal, site string, unavailable T, reason string, fn func() (T, error)) result.Result[T] {
	log.Debug().Str("signal", signal).Str("domain", site).Msg("source started")

	r := result.Capture(unavailable, reason, fn)
	if !r.OK {
		log.Warn().
			Str("signal", signal).
			Str("domain", site).
			Str("reason", r.Reason).
			Str("error", r.ErrorDetail).
			Msg("source failed")
	}
	return r
}

// DoJSON executes req and decodes a 2xx JSON body into out
func DoJSON(client *http.Client, req *http.Request, out interface{}) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// fetch performs a GET with the given user agent and returns the body
func fetch(ctx context.Context, client *http.Client, target, userAgent string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return doFetch(client, req)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// siteURL is the default homepage locator; tests point adapters at httptest servers
func siteURL(site string) string {
	return domain.URL(site)
}
