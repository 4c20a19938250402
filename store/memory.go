package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// report cache entry with expiration
type reportEntry struct {
	payload   []byte
	timestamp time.Time
	expiresAt time.Time
}

// Memory keeps everything in process. Reports expire by TTL and the cache is
// capped at maxReports, evicting the oldest entries first.
type Memory struct {
	reports         map[string]reportEntry
	reportsMutex    sync.RWMutex
	maxReports      int
	snapshots       map[string]Snapshot
	tokens          map[string]Token
	mutex           sync.RWMutex
	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
	now             func() time.Time
}

// NewMemory creates an in-memory store and starts its cleanup goroutine
func NewMemory() *Memory {
	m := &Memory{
		reports:         make(map[string]reportEntry),
		maxReports:      1000,
		snapshots:       make(map[string]Snapshot),
		tokens:          make(map[string]Token),
		cleanupInterval: 5 * time.Minute,
		done:            make(chan struct{}),
		now:             time.Now,
	}
	go m.periodicCleanup()
	return m
}

func (m *Memory) periodicCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

// cleanup removes expired reports and enforces the size limit
func (m *Memory) cleanup() {
	now := m.now()

	m.reportsMutex.Lock()
	defer m.reportsMutex.Unlock()

	for key, entry := range m.reports {
		if now.After(entry.expiresAt) {
			delete(m.reports, key)
		}
	}

	if len(m.reports) <= m.maxReports {
		return
	}

	entries := make([]struct {
		key       string
		timestamp time.Time
	}, 0, len(m.reports))
	for key, entry := range m.reports {
		entries = append(entries, struct {
			key       string
			timestamp time.Time
		}{key, entry.timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})
	for i := 0; i < len(entries)-m.maxReports; i++ {
		delete(m.reports, entries[i].key)
	}
}

// SetMaxReports sets the maximum number of cached reports
func (m *Memory) SetMaxReports(size int) {
	m.reportsMutex.Lock()
	m.maxReports = size
	m.reportsMutex.Unlock()
	m.cleanup()
}

// Len returns the number of cached reports, expired ones included
func (m *Memory) Len() int {
	m.reportsMutex.RLock()
	defer m.reportsMutex.RUnlock()
	return len(m.reports)
}

func (m *Memory) GetReport(_ context.Context, key string) ([]byte, time.Time, error) {
	m.reportsMutex.RLock()
	defer m.reportsMutex.RUnlock()

	entry, found := m.reports[key]
	if !found || m.now().After(entry.expiresAt) {
		return nil, time.Time{}, ErrNotFound
	}
	return entry.payload, entry.timestamp, nil
}

func (m *Memory) PutReport(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	now := m.now()
	m.reportsMutex.Lock()
	m.reports[key] = reportEntry{
		payload:   append([]byte(nil), payload...),
		timestamp: now,
		expiresAt: now.Add(ttl),
	}
	over := len(m.reports) > m.maxReports
	m.reportsMutex.Unlock()

	if over {
		m.cleanup()
	}
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, domain string) (*Snapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap, ok := m.snapshots[domain]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (m *Memory) PutSnapshot(_ context.Context, snap *Snapshot) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.snapshots[snap.Domain] = *snap
	return nil
}

func tokenKey(email, provider string) string {
	return provider + "|" + email
}

func (m *Memory) GetToken(_ context.Context, email, provider string) (*Token, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	token, ok := m.tokens[tokenKey(email, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (m *Memory) PutToken(_ context.Context, token *Token) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t := *token
	t.UpdatedAt = m.now()
	m.tokens[tokenKey(token.Email, token.Provider)] = t
	return nil
}

func (m *Memory) DeleteToken(_ context.Context, email, provider string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.tokens, tokenKey(email, provider))
	return nil
}

// Close stops the cleanup goroutine
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
