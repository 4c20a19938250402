package stats

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	tempDir := t.TempDir()

	storage, err := NewStorage(tempDir)
	require.NoError(t, err)

	t.Run("IncrementStats", func(t *testing.T) {
		storage.IncrementStats(1, 2, 3)
		storage.RecordSiteAnalysis()
		storage.RecordAdapterFailure("lighthouse")
		storage.RecordAdapterFailure("lighthouse")

		stats := storage.GetCurrentStats()
		assert.Equal(t, 1, stats.Comparisons)
		assert.Equal(t, 2, stats.ReportHits)
		assert.Equal(t, 3, stats.ReportMisses)
		assert.Equal(t, 1, stats.SiteAnalyses)
		assert.Equal(t, 2, stats.AdapterFailures["lighthouse"])
	})

	t.Run("SnapshotIsCopy", func(t *testing.T) {
		stats := storage.GetCurrentStats()
		stats.AdapterFailures["lighthouse"] = 100
		assert.Equal(t, 2, storage.GetCurrentStats().AdapterFailures["lighthouse"])
	})

	t.Run("Persistence", func(t *testing.T) {
		require.NoError(t, storage.Shutdown())

		storage2, err := NewStorage(tempDir)
		require.NoError(t, err)
		defer storage2.Shutdown()

		stats := storage2.GetCurrentStats()
		assert.Equal(t, 1, stats.Comparisons)
		assert.Equal(t, 2, stats.AdapterFailures["lighthouse"])

		_, err = os.Stat(filepath.Join(tempDir, "stats.json"))
		assert.NoError(t, err)
	})
}

func TestCleanup(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	defer storage.Shutdown()

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	storage.now = func() time.Time { return now }

	storage.IncrementStats(1, 0, 0)
	storage.mutex.Lock()
	storage.stats["2026-09"] = &MonthlyStats{Comparisons: 4}
	storage.stats["2026-06"] = &MonthlyStats{Comparisons: 100}
	storage.mutex.Unlock()

	storage.Cleanup(2)

	assert.Equal(t, []string{"2026-10", "2026-09"}, storage.GetAllMonths())
	_, exists := storage.GetMonthlyStats("2026-06")
	assert.False(t, exists)
}

func TestConcurrentAccess(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	defer storage.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				storage.IncrementStats(1, 1, 0)
				storage.RecordAdapterFailure("pageSpeed")
				storage.GetCurrentStats()
			}
		}()
	}
	wg.Wait()

	stats := storage.GetCurrentStats()
	assert.Equal(t, 1000, stats.Comparisons)
	assert.Equal(t, 1000, stats.ReportHits)
	assert.Equal(t, 1000, stats.AdapterFailures["pageSpeed"])
}
