package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MonthlyStats represents statistics for a specific month
type MonthlyStats struct {
	Comparisons     int            `json:"comparisons"`
	SiteAnalyses    int            `json:"site_analyses"`
	ReportHits      int            `json:"report_hits"`
	ReportMisses    int            `json:"report_misses"`
	AdapterFailures map[string]int `json:"adapter_failures"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// Storage handles persistent storage of statistics
type Storage struct {
	mutex       sync.RWMutex
	stats       map[string]*MonthlyStats // key: "YYYY-MM"
	filePath    string
	lastWrite   time.Time
	writeBuffer chan struct{}
	done        chan struct{}
	stopped     chan struct{}
	now         func() time.Time
}

// NewStorage creates a new statistics storage instance
func NewStorage(dataDir string) (*Storage, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Storage{
		stats:       make(map[string]*MonthlyStats),
		filePath:    filepath.Join(dataDir, "stats.json"),
		writeBuffer: make(chan struct{}, 1), // Buffer for write requests
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		now:         time.Now,
	}

	// Load existing stats if file exists
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	// Start background writer
	go s.backgroundWriter()

	return s, nil
}

// load reads statistics from file
func (s *Storage) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	return json.Unmarshal(data, &s.stats)
}

// save writes statistics to file via a temporary file and rename
func (s *Storage) save() error {
	s.mutex.RLock()
	data, err := json.Marshal(s.stats)
	s.mutex.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	// Write to temporary file first
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	// Rename temporary file to actual file (atomic operation)
	if err := os.Rename(tempFile, s.filePath); err != nil {
		os.Remove(tempFile) // Clean up temp file if rename fails
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// backgroundWriter handles periodic writes until Shutdown
func (s *Storage) backgroundWriter() {
	defer close(s.stopped)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.writeBuffer:
			// Immediate write requested
			if err := s.save(); err != nil {
				log.Warn().Err(err).Msg("stats: save failed")
			}
		case <-ticker.C:
			// Periodic write
			if err := s.save(); err != nil {
				log.Warn().Err(err).Msg("stats: save failed")
			}
		case <-s.done:
			return
		}
	}
}

// currentMonth returns the current month key in YYYY-MM format
func (s *Storage) currentMonth() string {
	return s.now().Format("2006-01")
}

// requestWrite signals that a write to disk is needed
func (s *Storage) requestWrite() {
	select {
	case s.writeBuffer <- struct{}{}:
		// Write requested
	default:
		// Buffer full, write already pending
	}
}

// update applies fn to the current month's counters under the lock
func (s *Storage) update(fn func(*MonthlyStats)) {
	month := s.currentMonth()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats, exists := s.stats[month]
	if !exists {
		stats = &MonthlyStats{}
		s.stats[month] = stats
	}
	if stats.AdapterFailures == nil {
		stats.AdapterFailures = make(map[string]int)
	}

	fn(stats)
	stats.LastUpdated = s.now()

	// Request a write if enough time has passed
	if s.now().Sub(s.lastWrite) > time.Minute {
		s.requestWrite()
		s.lastWrite = s.now()
	}
}

// IncrementStats increments comparison and report-cache counters
func (s *Storage) IncrementStats(comparisons, reportHits, reportMisses int) {
	s.update(func(m *MonthlyStats) {
		m.Comparisons += comparisons
		m.ReportHits += reportHits
		m.ReportMisses += reportMisses
	})
}

// RecordSiteAnalysis counts one finished single-site analysis
func (s *Storage) RecordSiteAnalysis() {
	s.update(func(m *MonthlyStats) {
		m.SiteAnalyses++
	})
}

// RecordAdapterFailure counts a failed data-source call for signal
func (s *Storage) RecordAdapterFailure(signal string) {
	s.update(func(m *MonthlyStats) {
		m.AdapterFailures[signal]++
	})
}

// GetCurrentStats returns statistics for the current month
func (s *Storage) GetCurrentStats() MonthlyStats {
	month := s.currentMonth()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if stats, exists := s.stats[month]; exists {
		return copyStats(stats)
	}
	return MonthlyStats{AdapterFailures: map[string]int{}}
}

// Cleanup removes statistics older than retainMonths (the current month
// always counts as one).
func (s *Storage) Cleanup(retainMonths int) {
	if retainMonths < 1 {
		retainMonths = 1
	}
	// Keep the current month and the retainMonths-1 before it
	keep := make(map[string]bool, retainMonths)
	for i := 0; i < retainMonths; i++ {
		keep[s.now().AddDate(0, -i, 0).Format("2006-01")] = true
	}

	s.mutex.Lock()
	for key := range s.stats {
		if !keep[key] {
			delete(s.stats, key)
		}
	}
	s.mutex.Unlock()

	// Request a write to persist changes
	s.requestWrite()

	// Log retained months for debugging
	log.Debug().Int("months", retainMonths).Msg("stats: retained recent months")
}

// GetMonthlyStats returns statistics for a specific month
func (s *Storage) GetMonthlyStats(yearMonth string) (MonthlyStats, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if stats, exists := s.stats[yearMonth]; exists {
		return copyStats(stats), true
	}
	return MonthlyStats{}, false
}

// GetAllMonths returns all months that have statistics, newest first
func (s *Storage) GetAllMonths() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	months := make([]string, 0, len(s.stats))
	for month := range s.stats {
		months = append(months, month)
	}
	// Sort months in descending order (newest first)
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months
}

// Shutdown stops the background writer and flushes to disk
func (s *Storage) Shutdown() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	<-s.stopped
	return s.save()
}

func copyStats(m *MonthlyStats) MonthlyStats {
	out := *m
	out.AdapterFailures = make(map[string]int, len(m.AdapterFailures))
	for k, v := range m.AdapterFailures {
		out.AdapterFailures[k] = v
	}
	return out
}
