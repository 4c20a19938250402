package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seo-optimizer/competitive-insights/contentupdates"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/sources"
	"github.com/seo-optimizer/competitive-insights/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource replays a fixed sequence of results, repeating the last one
type fakeSource[T any] struct {
	mu      sync.Mutex
	results []result.Result[T]
	calls   int
	panics  bool
	hook    func()
}

func (f *fakeSource[T]) Analyze(ctx context.Context, site string) result.Result[T] {
	if f.hook != nil {
		f.hook()
	}
	if f.panics {
		panic("adapter bug")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i]
}

func (f *fakeSource[T]) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok[T any](data T) *fakeSource[T] {
	return &fakeSource[T]{results: []result.Result[T]{result.Success(data)}}
}

func failing[T any](reason string) *fakeSource[T] {
	var zero T
	return &fakeSource[T]{results: []result.Result[T]{result.Failure(zero, reason, errors.New("timeout"))}}
}

type fakeTraffic struct {
	mu         sync.Mutex
	email      string
	isUserSite bool
}

func (f *fakeTraffic) Analyze(ctx context.Context, site, email string, isUserSite bool) result.Result[sources.TrafficData] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email, f.isUserSite = email, isUserSite
	return result.Success(sources.TrafficData{Available: true, Source: sources.SourceSimilarWeb, MonthlyVisits: 1200})
}

type fakeRecorder struct {
	mu       sync.Mutex
	analyses int
	failures map[string]int
}

func (r *fakeRecorder) RecordSiteAnalysis() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses++
}

func (r *fakeRecorder) RecordAdapterFailure(signal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[signal]++
}

func healthySources() Sources {
	return Sources{
		Page:       ok(sources.PageData{Available: true}),
		Lighthouse: ok(sources.LighthouseData{Available: true, Performance: 90}),
		PageSpeed:  ok(sources.PageSpeedData{Available: true, Desktop: &sources.StrategyScore{Score: 80}}),
		Technical:  ok(sources.TechnicalData{Available: true, HTTPS: true}),
		Traffic:    &fakeTraffic{},
		Backlinks:  ok(sources.BacklinksData{Available: true, TotalBacklinks: 10}),
		Changes:    ok(sources.ChangeData{Available: true}),
		Content:    ok(contentupdates.Snapshot{Domain: "example.com"}),
	}
}

func TestFailureIsolation(t *testing.T) {
	src := healthySources()
	src.Page = failing[sources.PageData]("Page analysis failed")
	recorder := &fakeRecorder{}

	a := New(src, Options{LighthouseAttempts: 2}, recorder)
	analysis := a.Analyze(context.Background(), "example.com", "", false)

	assert.Equal(t, "example.com", analysis.Domain)
	assert.False(t, analysis.PageAnalysis.OK)
	assert.Equal(t, "Page analysis failed", analysis.PageAnalysis.Reason)

	assert.True(t, analysis.Lighthouse.OK)
	assert.Equal(t, 90.0, analysis.Lighthouse.Data.Performance)
	assert.True(t, analysis.PageSpeed.OK)
	assert.True(t, analysis.TechnicalSEO.OK)
	assert.True(t, analysis.Traffic.OK)
	assert.True(t, analysis.Backlinks.OK)
	assert.True(t, analysis.ChangeDetection.OK)
	assert.True(t, analysis.ContentUpdates.OK)

	assert.Equal(t, []string{sources.SignalPage}, analysis.Failed())
	assert.True(t, analysis.AnySucceeded())
	assert.Equal(t, 1, recorder.analyses)
	assert.Equal(t, map[string]int{sources.SignalPage: 1}, recorder.failures)

	assert.False(t, analysis.AnalyzedAt.IsZero())
	assert.GreaterOrEqual(t, analysis.Performance.Total, analysis.Performance.Phase1)
}

func TestPanickingSourceIsContained(t *testing.T) {
	src := healthySources()
	src.Content = &fakeSource[contentupdates.Snapshot]{panics: true}
	src.Backlinks = &fakeSource[sources.BacklinksData]{panics: true}

	analysis := New(src, Options{}, nil).Analyze(context.Background(), "example.com", "", false)

	assert.False(t, analysis.ContentUpdates.OK)
	assert.Equal(t, "contentUpdates failed unexpectedly", analysis.ContentUpdates.Reason)
	assert.Equal(t, "panic: adapter bug", analysis.ContentUpdates.ErrorDetail)
	assert.Equal(t, contentupdates.FrequencyUnknown, analysis.ContentUpdates.Data.ContentActivity.UpdateFrequency)
	assert.NotNil(t, analysis.ContentUpdates.Data.RSS.RecentPosts)

	assert.False(t, analysis.Backlinks.OK)
	assert.True(t, analysis.ChangeDetection.OK)
	assert.True(t, analysis.PageSpeed.OK)
}

func TestLighthouseRetry(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		lh := &fakeSource[sources.LighthouseData]{results: []result.Result[sources.LighthouseData]{
			result.Failure(sources.LighthouseData{}, "Lighthouse audit failed", errors.New("chrome crashed")),
			result.Success(sources.LighthouseData{Available: true, Performance: 77}),
		}}
		src := healthySources()
		src.Lighthouse = lh

		analysis := New(src, Options{LighthouseAttempts: 2}, nil).Analyze(context.Background(), "example.com", "", false)
		require.True(t, analysis.Lighthouse.OK)
		assert.Equal(t, 77.0, analysis.Lighthouse.Data.Performance)
		assert.Equal(t, 2, analysis.Lighthouse.Data.Attempts)
		assert.Equal(t, 2, lh.Calls())
	})

	t.Run("bounded attempts", func(t *testing.T) {
		lh := failing[sources.LighthouseData]("Lighthouse audit failed")
		src := healthySources()
		src.Lighthouse = lh

		analysis := New(src, Options{LighthouseAttempts: 2}, nil).Analyze(context.Background(), "example.com", "", false)
		assert.False(t, analysis.Lighthouse.OK)
		assert.Equal(t, 2, lh.Calls())
		assert.Equal(t, 2, analysis.Lighthouse.Data.Attempts)
	})

	t.Run("first success stops", func(t *testing.T) {
		lh := ok(sources.LighthouseData{Available: true})
		src := healthySources()
		src.Lighthouse = lh

		New(src, Options{LighthouseAttempts: 2}, nil).Analyze(context.Background(), "example.com", "", false)
		assert.Equal(t, 1, lh.Calls())
	})
}

func TestTrafficReceivesCaller(t *testing.T) {
	src := healthySources()
	traffic := &fakeTraffic{}
	src.Traffic = traffic

	New(src, Options{}, nil).Analyze(context.Background(), "example.com", "me@example.com", true)
	assert.Equal(t, "me@example.com", traffic.email)
	assert.True(t, traffic.isUserSite)
}

func TestMissingSources(t *testing.T) {
	analysis := New(Sources{}, Options{}, nil).Analyze(context.Background(), "example.com", "", false)

	assert.Len(t, analysis.Failed(), 8)
	assert.False(t, analysis.AnySucceeded())
	assert.Equal(t, "traffic source not configured", analysis.Traffic.Reason)
	assert.NotNil(t, analysis.TechnicalSEO.Data.Sitemaps)
	assert.NotNil(t, analysis.PageAnalysis.Data.Recommendations)
}

func TestBrowserPhaseIsSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	track := func() {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	}

	src := healthySources()
	src.Page = &fakeSource[sources.PageData]{results: []result.Result[sources.PageData]{result.Success(sources.PageData{})}, hook: track}
	src.Lighthouse = &fakeSource[sources.LighthouseData]{results: []result.Result[sources.LighthouseData]{result.Success(sources.LighthouseData{})}, hook: track}

	a := New(src, Options{BrowserCooldown: 5 * time.Millisecond}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Analyze(context.Background(), "example.com", "", false)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestCancelledWhileWaitingForBrowser(t *testing.T) {
	a := New(healthySources(), Options{}, nil)
	require.True(t, a.browser.TryAcquire(1))
	defer a.browser.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	analysis := a.Analyze(ctx, "example.com", "", false)
	assert.False(t, analysis.PageAnalysis.OK)
	assert.Contains(t, analysis.PageAnalysis.ErrorDetail, "waiting for browser")
	assert.False(t, analysis.Lighthouse.OK)
	assert.True(t, analysis.Backlinks.OK, "later phases still run")
}

func TestRecordsIntoStatsStorage(t *testing.T) {
	storage, err := stats.NewStorage(t.TempDir())
	require.NoError(t, err)
	defer storage.Shutdown()

	src := healthySources()
	src.Backlinks = failing[sources.BacklinksData]("Backlink data unavailable")

	New(src, Options{}, storage).Analyze(context.Background(), "example.com", "", false)

	current := storage.GetCurrentStats()
	assert.Equal(t, 1, current.SiteAnalyses)
	assert.Equal(t, 1, current.AdapterFailures[sources.SignalBacklinks])
}
