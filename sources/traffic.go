package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seo-optimizer/competitive-insights/result"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	SourceGoogleAnalytics = "google_analytics"
	SourceSimilarWeb      = "similarweb"
)

// TrafficData is a monthly traffic estimate. BounceRate is a percentage and
// AvgVisitDuration is in seconds.
type TrafficData struct {
	Available        bool    `json:"available"`
	Source           string  `json:"source"`
	MonthlyVisits    float64 `json:"monthlyVisits"`
	BounceRate       float64 `json:"bounceRate"`
	PagesPerVisit    float64 `json:"pagesPerVisit"`
	AvgVisitDuration float64 `json:"avgVisitDuration"`
	Days             int     `json:"days"`
	FallbackReason   string  `json:"fallbackReason,omitempty"`
}

// Traffic resolves visits through Google Analytics for the user's own site,
// falling back to the SimilarWeb estimator.
type Traffic struct {
	client             *http.Client
	tokens             TokenSource
	similarWebKey      string
	similarWebEndpoint string
	analyticsEndpoint  string
	timeout            time.Duration
	now                func() time.Time
}

func NewTraffic(tokens TokenSource, similarWebKey, similarWebEndpoint, analyticsEndpoint string, timeout time.Duration) *Traffic {
	return &Traffic{
		client:             NewHTTPClient(timeout),
		tokens:             tokens,
		similarWebKey:      similarWebKey,
		similarWebEndpoint: similarWebEndpoint,
		analyticsEndpoint:  analyticsEndpoint,
		timeout:            timeout,
		now:                time.Now,
	}
}

// Analyze fetches the last 30 days of traffic
func (t *Traffic) Analyze(ctx context.Context, site, email string, isUserSite bool) result.Result[TrafficData] {
	return t.Fetch(ctx, site, email, isUserSite, 30)
}

// Fetch walks the source chain for the given window
func (t *Traffic) Fetch(ctx context.Context, site, email string, isUserSite bool, days int) result.Result[TrafficData] {
	if days <= 0 {
		days = 30
	}
	return Capture(SignalTraffic, site, TrafficData{Days: days}, "Traffic data unavailable", func() (TrafficData, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		var analyticsErr error
		if isUserSite && email != "" && t.tokens != nil {
			data, err := t.fromAnalytics(ctx, email, days)
			if err == nil {
				return data, nil
			}
			analyticsErr = err
			log.Debug().Str("domain", site).Err(err).Msg("Google Analytics unavailable, falling back to SimilarWeb")
		}

		data, err := t.fromSimilarWeb(ctx, site, days)
		if err != nil {
			err = fmt.Errorf("similarweb: %w", err)
			if analyticsErr != nil {
				return TrafficData{}, multierr.Combine(fmt.Errorf("google analytics: %w", analyticsErr), err)
			}
			return TrafficData{}, err
		}
		if analyticsErr != nil {
			data.FallbackReason = analyticsErr.Error()
		}
		return data, nil
	})
}

type runReportResponse struct {
	Rows []struct {
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
}

// fromAnalytics runs a GA4 Data API report for the property linked to the user's token
func (t *Traffic) fromAnalytics(ctx context.Context, email string, days int) (TrafficData, error) {
	token, err := t.tokens.ValidToken(ctx, email, "google")
	if err != nil {
		return TrafficData{}, err
	}
	propertyID := token.Metadata["propertyId"]
	if propertyID == "" {
		return TrafficData{}, errors.New("no analytics property linked")
	}

	body, err := json.Marshal(map[string]interface{}{
		"dateRanges": []map[string]string{
			{"startDate": strconv.Itoa(days) + "daysAgo", "endDate": "today"},
		},
		"metrics": []map[string]string{
			{"name": "sessions"},
			{"name": "bounceRate"},
			{"name": "screenPageViewsPerSession"},
			{"name": "averageSessionDuration"},
		},
	})
	if err != nil {
		return TrafficData{}, err
	}

	endpoint := fmt.Sprintf("%s/properties/%s:runReport", t.analyticsEndpoint, url.PathEscape(propertyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return TrafficData{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var report runReportResponse
	if err := DoJSON(t.client, req, &report); err != nil {
		return TrafficData{}, err
	}
	if len(report.Rows) == 0 || len(report.Rows[0].MetricValues) < 4 {
		return TrafficData{}, errors.New("analytics report returned no rows")
	}

	values := make([]float64, 4)
	for i := range values {
		v, err := strconv.ParseFloat(report.Rows[0].MetricValues[i].Value, 64)
		if err != nil {
			return TrafficData{}, fmt.Errorf("metric %d: %w", i, err)
		}
		values[i] = v
	}

	return TrafficData{
		Available:        true,
		Source:           SourceGoogleAnalytics,
		MonthlyVisits:    math.Round(values[0] / float64(days) * 30),
		BounceRate:       round1(values[1] * 100),
		PagesPerVisit:    round2(values[2]),
		AvgVisitDuration: math.Round(values[3]),
		Days:             days,
	}, nil
}

// fromSimilarWeb averages the monthly engagement series over the window
func (t *Traffic) fromSimilarWeb(ctx context.Context, site string, days int) (TrafficData, error) {
	if t.similarWebKey == "" {
		return TrafficData{}, errors.New("SimilarWeb API key not configured")
	}

	months := (days + 29) / 30
	end := time.Date(t.now().Year(), t.now().Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	start := end.AddDate(0, -(months - 1), 0)

	metrics := []struct {
		path string
		key  string
	}{
		{"visits", "visits"},
		{"bounce-rate", "bounce_rate"},
		{"pages-per-visit", "pages_per_visit"},
		{"average-visit-duration", "average_visit_duration"},
	}

	var mu sync.Mutex
	values := make(map[string]float64, len(metrics))

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range metrics {
		m := m
		g.Go(func() error {
			v, err := t.similarWebMetric(gctx, site, m.path, m.key, start, end)
			if err != nil {
				// visits are mandatory, engagement is best effort
				if m.key == "visits" {
					return err
				}
				log.Debug().Str("domain", site).Str("metric", m.key).Err(err).Msg("SimilarWeb metric missing")
				return nil
			}
			mu.Lock()
			values[m.key] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TrafficData{}, err
	}

	return TrafficData{
		Available:        true,
		Source:           SourceSimilarWeb,
		MonthlyVisits:    math.Round(values["visits"]),
		BounceRate:       round1(values["bounce_rate"] * 100),
		PagesPerVisit:    round2(values["pages_per_visit"]),
		AvgVisitDuration: math.Round(values["average_visit_duration"]),
		Days:             days,
	}, nil
}

func (t *Traffic) similarWebMetric(ctx context.Context, site, path, key string, start, end time.Time) (float64, error) {
	q := url.Values{}
	q.Set("api_key", t.similarWebKey)
	q.Set("start_date", start.Format("2006-01"))
	q.Set("end_date", end.Format("2006-01"))
	q.Set("country", "world")
	q.Set("granularity", "monthly")
	q.Set("main_domain_only", "false")
	q.Set("format", "json")

	endpoint := fmt.Sprintf("%s/%s/total-traffic-and-engagement/%s?%s",
		t.similarWebEndpoint, url.PathEscape(site), path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	var payload map[string]json.RawMessage
	if err := DoJSON(t.client, req, &payload); err != nil {
		return 0, err
	}

	var series []map[string]interface{}
	if raw, ok := payload[key]; ok {
		if err := json.Unmarshal(raw, &series); err != nil {
			return 0, fmt.Errorf("decode %s: %w", key, err)
		}
	}

	sum, n := 0.0, 0
	for _, point := range series {
		if v, ok := point[key].(float64); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("no %s data points", key)
	}
	return sum / float64(n), nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
