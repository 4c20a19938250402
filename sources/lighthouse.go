package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/seo-optimizer/competitive-insights/result"
)

// CoreMetrics are the lab metrics shared by Lighthouse and PageSpeed.
// Times are in milliseconds; CLS is unitless.
type CoreMetrics struct {
	FirstContentfulPaint   float64 `json:"firstContentfulPaint"`
	LargestContentfulPaint float64 `json:"largestContentfulPaint"`
	TotalBlockingTime      float64 `json:"totalBlockingTime"`
	CumulativeLayoutShift  float64 `json:"cumulativeLayoutShift"`
	SpeedIndex             float64 `json:"speedIndex"`
}

// LighthouseData holds category scores on a 0-100 scale
type LighthouseData struct {
	Available     bool        `json:"available"`
	Performance   float64     `json:"performance"`
	Accessibility float64     `json:"accessibility"`
	BestPractices float64     `json:"bestPractices"`
	SEO           float64     `json:"seo"`
	Metrics       CoreMetrics `json:"metrics"`
	Attempts      int         `json:"attempts,omitempty"`
}

// lighthouseReport is the subset of the Lighthouse JSON report we read. The
// same shape is embedded in PageSpeed responses as lighthouseResult.
type lighthouseReport struct {
	RuntimeError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"runtimeError"`
	Categories map[string]struct {
		Score *float64 `json:"score"`
	} `json:"categories"`
	Audits map[string]struct {
		NumericValue *float64 `json:"numericValue"`
	} `json:"audits"`
}

func (r *lighthouseReport) err() error {
	if r.RuntimeError != nil && r.RuntimeError.Code != "" && r.RuntimeError.Code != "NO_ERROR" {
		return fmt.Errorf("lighthouse runtime error %s: %s", r.RuntimeError.Code, r.RuntimeError.Message)
	}
	return nil
}

// category returns the score for name scaled to 0-100, and whether it was present
func (r *lighthouseReport) category(name string) (float64, bool) {
	c, ok := r.Categories[name]
	if !ok || c.Score == nil {
		return 0, false
	}
	return math.Round(*c.Score * 100), true
}

func (r *lighthouseReport) audit(name string) float64 {
	a, ok := r.Audits[name]
	if !ok || a.NumericValue == nil {
		return 0
	}
	return *a.NumericValue
}

func (r *lighthouseReport) metrics() CoreMetrics {
	return CoreMetrics{
		FirstContentfulPaint:   r.audit("first-contentful-paint"),
		LargestContentfulPaint: r.audit("largest-contentful-paint"),
		TotalBlockingTime:      r.audit("total-blocking-time"),
		CumulativeLayoutShift:  r.audit("cumulative-layout-shift"),
		SpeedIndex:             r.audit("speed-index"),
	}
}

// CommandRunner runs an external program and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[len(msg)-300:]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return out, nil
}

// Lighthouse audits a site with the lighthouse CLI
type Lighthouse struct {
	runner      CommandRunner
	binary      string
	chromeFlags string
	timeout     time.Duration
	siteURL     func(string) string
}

func NewLighthouse(runner CommandRunner, binary, chromeFlags string, timeout time.Duration) *Lighthouse {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Lighthouse{
		runner:      runner,
		binary:      binary,
		chromeFlags: chromeFlags,
		timeout:     timeout,
		siteURL:     siteURL,
	}
}

// Analyze makes one audit attempt. Retries belong to the caller.
func (l *Lighthouse) Analyze(ctx context.Context, site string) result.Result[LighthouseData] {
	return Capture(SignalLighthouse, site, LighthouseData{}, "Lighthouse audit failed", func() (LighthouseData, error) {
		return l.audit(ctx, site)
	})
}

func (l *Lighthouse) audit(ctx context.Context, site string) (LighthouseData, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := []string{
		l.siteURL(site),
		"--output=json",
		"--output-path=stdout",
		"--quiet",
		"--only-categories=performance,accessibility,best-practices,seo",
	}
	if l.chromeFlags != "" {
		args = append(args, "--chrome-flags="+l.chromeFlags)
	}

	out, err := l.runner.Run(ctx, l.binary, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return LighthouseData{}, fmt.Errorf("lighthouse timed out after %s", l.timeout)
		}
		return LighthouseData{}, err
	}

	return parseLighthouseReport(out)
}

func parseLighthouseReport(out []byte) (LighthouseData, error) {
	var report lighthouseReport
	if err := json.Unmarshal(out, &report); err != nil {
		return LighthouseData{}, fmt.Errorf("decode lighthouse report: %w", err)
	}
	if err := report.err(); err != nil {
		return LighthouseData{}, err
	}

	performance, ok := report.category("performance")
	if !ok {
		return LighthouseData{}, errors.New("lighthouse report has no performance score")
	}
	accessibility, _ := report.category("accessibility")
	bestPractices, _ := report.category("best-practices")
	seo, _ := report.category("seo")

	return LighthouseData{
		Available:     true,
		Performance:   performance,
		Accessibility: accessibility,
		BestPractices: bestPractices,
		SEO:           seo,
		Metrics:       report.metrics(),
	}, nil
}
