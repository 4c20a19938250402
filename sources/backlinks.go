package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/seo-optimizer/competitive-insights/result"
)

// BacklinksData summarizes a site's backlink profile
type BacklinksData struct {
	Available        bool   `json:"available"`
	Source           string `json:"source,omitempty"`
	TotalBacklinks   int64  `json:"totalBacklinks"`
	ReferringDomains int64  `json:"referringDomains"`
	Rank             int64  `json:"rank"`
}

type dataForSEOResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
		Result        []struct {
			Target           string `json:"target"`
			Rank             int64  `json:"rank"`
			Backlinks        int64  `json:"backlinks"`
			ReferringDomains int64  `json:"referring_domains"`
		} `json:"result"`
	} `json:"tasks"`
}

// dataForSEOOK is the success status code used throughout the DataForSEO API
const dataForSEOOK = 20000

// Backlinks reads the DataForSEO backlinks summary endpoint
type Backlinks struct {
	client   *http.Client
	endpoint string
	login    string
	password string
	timeout  time.Duration
}

func NewBacklinks(endpoint, login, password string, timeout time.Duration) *Backlinks {
	return &Backlinks{
		client:   NewHTTPClient(timeout),
		endpoint: endpoint,
		login:    login,
		password: password,
		timeout:  timeout,
	}
}

func (b *Backlinks) Analyze(ctx context.Context, site string) result.Result[BacklinksData] {
	return Capture(SignalBacklinks, site, BacklinksData{}, "Backlink data unavailable", func() (BacklinksData, error) {
		if b.login == "" || b.password == "" {
			return BacklinksData{}, errors.New("backlink provider not configured")
		}

		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return b.summary(ctx, site)
	})
}

func (b *Backlinks) summary(ctx context.Context, site string) (BacklinksData, error) {
	body, err := json.Marshal([]map[string]interface{}{
		{"target": site, "include_subdomains": true},
	})
	if err != nil {
		return BacklinksData{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return BacklinksData{}, err
	}
	req.SetBasicAuth(b.login, b.password)
	req.Header.Set("Content-Type", "application/json")

	var resp dataForSEOResponse
	if err := DoJSON(b.client, req, &resp); err != nil {
		return BacklinksData{}, err
	}
	if resp.StatusCode != dataForSEOOK {
		return BacklinksData{}, fmt.Errorf("dataforseo status %d: %s", resp.StatusCode, resp.StatusMessage)
	}
	if len(resp.Tasks) == 0 {
		return BacklinksData{}, errors.New("dataforseo returned no tasks")
	}
	task := resp.Tasks[0]
	if task.StatusCode != dataForSEOOK {
		return BacklinksData{}, fmt.Errorf("dataforseo task status %d: %s", task.StatusCode, task.StatusMessage)
	}
	if len(task.Result) == 0 {
		return BacklinksData{}, errors.New("dataforseo task has no result")
	}

	r := task.Result[0]
	return BacklinksData{
		Available:        true,
		Source:           "dataforseo",
		TotalBacklinks:   r.Backlinks,
		ReferringDomains: r.ReferringDomains,
		Rank:             r.Rank,
	}, nil
}
