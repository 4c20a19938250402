package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Statistics represents the collected request statistics
type Statistics struct {
	UniqueVisitors     map[string]time.Time `json:"uniqueVisitors"`     // IP -> Last Visit Time
	AnalysisRequests   int                  `json:"analysisRequests"`   // Total number of comparison requests
	ErrorCount         int                  `json:"errorCount"`         // Number of failed comparison requests
	PopularComparisons map[string]int       `json:"popularComparisons"` // "your vs competitor" -> Count
	AverageLoadTime    float64              `json:"averageLoadTime"`    // Average comparison time in milliseconds
	TotalLoadTime      float64              `json:"-"`                  // Used to calculate average
	RequestCount       int                  `json:"-"`                  // Used to calculate average
	LastPersisted      time.Time            `json:"lastPersisted"`      // Last time stats were saved

	path    string
	devMode bool
	mutex   sync.RWMutex
}

// NewStatistics creates statistics persisted under dataDir and loads any
// previously saved state.
func NewStatistics(dataDir string, devMode bool) (*Statistics, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create statistics directory: %w", err)
	}

	s := &Statistics{
		UniqueVisitors:     make(map[string]time.Time),
		PopularComparisons: make(map[string]int),
		LastPersisted:      time.Now(),
		path:               filepath.Join(dataDir, "statistics.json"),
		devMode:            devMode,
	}
	// Try to load existing statistics
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// TrackVisitor records a unique visitor
func (s *Statistics) TrackVisitor(ip string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.UniqueVisitors[ip] = time.Now()
}

// TrackComparison records a comparison request. An empty pair is counted but
// not added to the popular list.
func (s *Statistics) TrackComparison(pair string, loadTime float64, hasError bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.AnalysisRequests++
	// Only track non-empty pairs (those that passed validation)
	if pair != "" {
		s.PopularComparisons[pair]++
	}
	if hasError {
		s.ErrorCount++
	}

	// Update average load time
	s.TotalLoadTime += loadTime
	s.RequestCount++
	s.AverageLoadTime = s.TotalLoadTime / float64(s.RequestCount)
}

// TotalRequests returns the number of tracked comparison requests
func (s *Statistics) TotalRequests() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.AnalysisRequests
}

// uniqueVisitorsCount returns the number of unique visitors in the last 24 hours
func (s *Statistics) uniqueVisitorsCount() int {
	count := 0
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, lastVisit := range s.UniqueVisitors {
		if lastVisit.After(cutoff) {
			count++
		}
	}
	return count
}

// popular returns the top n comparisons, most frequent first
func (s *Statistics) popular(n int) []map[string]interface{} {
	type entry struct {
		pair  string
		count int
	}
	entries := make([]entry, 0, len(s.PopularComparisons))
	for pair, count := range s.PopularComparisons {
		entries = append(entries, entry{pair, count})
	}
	// Ties are broken by pair so the top list is stable
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].pair < entries[j].pair
		}
		return entries[i].count > entries[j].count
	})
	if len(entries) > n {
		entries = entries[:n]
	}

	result := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		result = append(result, map[string]interface{}{"comparison": e.pair, "count": e.count})
	}
	return result
}

// errorRate returns the error rate as a percentage
func (s *Statistics) errorRate() float64 {
	if s.AnalysisRequests == 0 {
		return 0
	}
	return (float64(s.ErrorCount) / float64(s.AnalysisRequests)) * 100
}

// Save persists the statistics to disk
func (s *Statistics) Save() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.LastPersisted = time.Now()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not encode statistics: %w", err)
	}

	// Write to temporary file first, then rename over the old file
	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("could not write statistics file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile) // Clean up temp file if rename fails
		return fmt.Errorf("could not rename statistics file: %w", err)
	}
	return nil
}

// Load reads the statistics from disk
func (s *Statistics) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Not an error if file doesn't exist yet
		}
		return fmt.Errorf("could not open statistics file: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("could not decode statistics: %w", err)
	}
	// Older files may lack either map
	if s.UniqueVisitors == nil {
		s.UniqueVisitors = make(map[string]time.Time)
	}
	if s.PopularComparisons == nil {
		s.PopularComparisons = make(map[string]int)
	}
	return nil
}

// GetStatistics returns a snapshot of the statistics. Popular comparisons are
// only exposed in development mode.
func (s *Statistics) GetStatistics() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	// In production, return limited statistics without sensitive data
	out := map[string]interface{}{
		"uniqueVisitors24h": s.uniqueVisitorsCount(),
		"totalRequests":     s.AnalysisRequests,
		"errorRate":         s.errorRate(),
		"averageLoadTime":   s.AverageLoadTime,
	}
	if s.devMode {
		out["popularComparisons"] = s.popular(5) // Top 5 comparisons only shown in dev mode
	}
	return out
}
