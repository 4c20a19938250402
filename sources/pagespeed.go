package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/seo-optimizer/competitive-insights/result"
	"golang.org/x/sync/errgroup"
)

// StrategyScore is the PageSpeed outcome for one device strategy
type StrategyScore struct {
	Score   float64     `json:"score"`
	Metrics CoreMetrics `json:"metrics"`
}

// PageSpeedData carries desktop and mobile scores; a nil strategy failed
type PageSpeedData struct {
	Available bool              `json:"available"`
	Desktop   *StrategyScore    `json:"desktop"`
	Mobile    *StrategyScore    `json:"mobile"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// DesktopScore returns the desktop score or 0 when missing
func (d PageSpeedData) DesktopScore() float64 {
	if d.Desktop == nil {
		return 0
	}
	return d.Desktop.Score
}

// MobileScore returns the mobile score or 0 when missing
func (d PageSpeedData) MobileScore() float64 {
	if d.Mobile == nil {
		return 0
	}
	return d.Mobile.Score
}

type pageSpeedResponse struct {
	LighthouseResult *lighthouseReport `json:"lighthouseResult"`
	Error            *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PageSpeed queries the Google PageSpeed Insights v5 API
type PageSpeed struct {
	client   *http.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
	siteURL  func(string) string
}

func NewPageSpeed(endpoint, apiKey string, timeout time.Duration) *PageSpeed {
	return &PageSpeed{
		client:   NewHTTPClient(timeout),
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  timeout,
		siteURL:  siteURL,
	}
}

// Analyze runs the desktop and mobile strategies concurrently. The result is
// OK when at least one strategy succeeded.
func (p *PageSpeed) Analyze(ctx context.Context, site string) result.Result[PageSpeedData] {
	return Capture(SignalPageSpeed, site, PageSpeedData{}, "PageSpeed analysis failed", func() (PageSpeedData, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		var (
			mu   sync.Mutex
			data = PageSpeedData{Errors: map[string]string{}}
		)

		g, gctx := errgroup.WithContext(ctx)
		for _, strategy := range []string{"desktop", "mobile"} {
			strategy := strategy
			g.Go(func() error {
				score, err := p.run(gctx, site, strategy)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					data.Errors[strategy] = err.Error()
					return nil
				}
				if strategy == "desktop" {
					data.Desktop = score
				} else {
					data.Mobile = score
				}
				return nil
			})
		}
		g.Wait()

		if data.Desktop == nil && data.Mobile == nil {
			return PageSpeedData{}, fmt.Errorf("desktop: %s; mobile: %s", data.Errors["desktop"], data.Errors["mobile"])
		}
		if len(data.Errors) == 0 {
			data.Errors = nil
		}
		data.Available = true
		return data, nil
	})
}

func (p *PageSpeed) run(ctx context.Context, site, strategy string) (*StrategyScore, error) {
	q := url.Values{}
	q.Set("url", p.siteURL(site))
	q.Set("strategy", strategy)
	q.Set("category", "performance")
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp pageSpeedResponse
	if err := DoJSON(p.client, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("pagespeed error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.LighthouseResult == nil {
		return nil, errors.New("pagespeed response has no lighthouseResult")
	}
	if err := resp.LighthouseResult.err(); err != nil {
		return nil, err
	}

	score, ok := resp.LighthouseResult.category("performance")
	if !ok {
		return nil, errors.New("pagespeed response has no performance score")
	}
	return &StrategyScore{Score: score, Metrics: resp.LighthouseResult.metrics()}, nil
}
