package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seo-optimizer/competitive-insights/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("report round trip", func(t *testing.T) {
		key := ReportKey("a.com", "b.com")
		_, _, err := s.GetReport(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.PutReport(ctx, key, []byte(`{"success":true}`), time.Hour))
		payload, storedAt, err := s.GetReport(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true}`, string(payload))
		assert.False(t, storedAt.IsZero())

		require.NoError(t, s.PutReport(ctx, key, []byte(`{"success":false}`), time.Hour))
		payload, _, err = s.GetReport(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":false}`, string(payload))
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		_, err := s.GetSnapshot(ctx, "a.com")
		assert.ErrorIs(t, err, ErrNotFound)

		first := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
		snap := &Snapshot{
			Domain:      "a.com",
			ContentHash: "abc",
			WordCount:   420,
			FirstCheck:  first,
			CheckedAt:   first.Add(time.Hour),
			ChangedAt:   first,
		}
		require.NoError(t, s.PutSnapshot(ctx, snap))

		got, err := s.GetSnapshot(ctx, "a.com")
		require.NoError(t, err)
		assert.Equal(t, "abc", got.ContentHash)
		assert.Equal(t, 420, got.WordCount)
		assert.True(t, got.FirstCheck.Equal(first))
		assert.True(t, got.CheckedAt.Equal(first.Add(time.Hour)))
	})

	t.Run("token lifecycle", func(t *testing.T) {
		_, err := s.GetToken(ctx, "me@a.com", "google")
		assert.ErrorIs(t, err, ErrNotFound)

		expiry := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.PutToken(ctx, &Token{
			Email:        "me@a.com",
			Provider:     "google",
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Expiry:       expiry,
			Metadata:     map[string]string{"propertyId": "123"},
		}))

		got, err := s.GetToken(ctx, "me@a.com", "google")
		require.NoError(t, err)
		assert.Equal(t, "access", got.AccessToken)
		assert.Equal(t, "refresh", got.RefreshToken)
		assert.True(t, got.Expiry.Equal(expiry))
		assert.Equal(t, "123", got.Metadata["propertyId"])

		_, err = s.GetToken(ctx, "me@a.com", "facebook")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.DeleteToken(ctx, "me@a.com", "google"))
		_, err = s.GetToken(ctx, "me@a.com", "google")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	exerciseStore(t, m)
}

func TestMemoryReportExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, m.PutReport(ctx, "k", []byte("{}"), time.Minute))

	_, _, err := m.GetReport(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, _, err = m.GetReport(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	m.cleanup()
	assert.Equal(t, 0, m.Len())
}

func TestMemorySizeLimit(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time { return base.Add(time.Duration(tick) * time.Second) }
	m.SetMaxReports(2)

	ctx := context.Background()
	for _, key := range []string{"first", "second", "third"} {
		tick++
		require.NoError(t, m.PutReport(ctx, key, []byte("{}"), time.Hour))
	}

	assert.Equal(t, 2, m.Len())
	_, _, err := m.GetReport(ctx, "first")
	assert.ErrorIs(t, err, ErrNotFound, "oldest entry is evicted")
	_, _, err = m.GetReport(ctx, "third")
	assert.NoError(t, err)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "insights.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	t.Run("expired report", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.PutReport(ctx, "old", []byte("{}"), time.Minute))
		s.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { s.now = time.Now }()

		_, _, err := s.GetReport(ctx, "old")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("INSIGHTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INSIGHTS_TEST_POSTGRES_DSN not set")
	}

	p, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	_ = p.DeleteToken(ctx, "me@a.com", "google")
	_, err = p.pool.Exec(ctx, `DELETE FROM insight_reports WHERE key = $1`, ReportKey("a.com", "b.com"))
	require.NoError(t, err)
	_, err = p.pool.Exec(ctx, `DELETE FROM content_snapshots WHERE domain = 'a.com'`)
	require.NoError(t, err)

	exerciseStore(t, p)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)

	s, err := Open(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	s.Close()
}
