package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistics(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStatistics(dir, true)
	require.NoError(t, err)

	s.TrackVisitor("10.0.0.1")
	s.TrackVisitor("10.0.0.2")
	s.TrackVisitor("10.0.0.1")
	s.TrackComparison("a.com vs b.com", 100, false)
	s.TrackComparison("a.com vs b.com", 300, true)
	s.TrackComparison("c.com vs d.com", 200, false)

	stats := s.GetStatistics()
	assert.Equal(t, 2, stats["uniqueVisitors24h"])
	assert.Equal(t, 3, stats["totalRequests"])
	assert.InDelta(t, 33.33, stats["errorRate"], 0.01)
	assert.InDelta(t, 200.0, stats["averageLoadTime"], 0.001)

	popular := stats["popularComparisons"].([]map[string]interface{})
	require.Len(t, popular, 2)
	assert.Equal(t, "a.com vs b.com", popular[0]["comparison"])
	assert.Equal(t, 2, popular[0]["count"])

	t.Run("persistence", func(t *testing.T) {
		require.NoError(t, s.Save())

		reloaded, err := NewStatistics(dir, false)
		require.NoError(t, err)
		assert.Equal(t, 3, reloaded.TotalRequests())

		_, exposed := reloaded.GetStatistics()["popularComparisons"]
		assert.False(t, exposed, "popular comparisons are hidden outside dev mode")
	})
}
