package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// SQLite stores everything in a single local database file. Timestamps are
// kept as unix nanoseconds.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "./data/insights.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("can't open db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, now: time.Now}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("can't create tables: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store ready")
	return s, nil
}

func (s *SQLite) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			stored_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			domain TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			word_count INTEGER NOT NULL,
			first_check INTEGER NOT NULL,
			checked_at INTEGER NOT NULL,
			changed_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			email TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_type TEXT,
			scope TEXT,
			expiry INTEGER NOT NULL,
			metadata TEXT,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (email, provider)
		);`,
		"CREATE INDEX IF NOT EXISTS idx_reports_expires_at ON reports(expires_at);",
	}

	for _, q := range statements {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *SQLite) GetReport(ctx context.Context, key string) ([]byte, time.Time, error) {
	var payload []byte
	var storedAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, stored_at, expires_at FROM reports WHERE key = ?`, key,
	).Scan(&payload, &storedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query report: %w", err)
	}
	if s.now().UnixNano() > expiresAt {
		return nil, time.Time{}, ErrNotFound
	}
	return payload, fromUnixNano(storedAt), nil
}

func (s *SQLite) PutReport(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM reports WHERE expires_at < ?`, now.UnixNano(),
	); err != nil {
		return fmt.Errorf("purge reports: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (key, payload, stored_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload, stored_at = excluded.stored_at, expires_at = excluded.expires_at
	`, key, payload, now.UnixNano(), now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *SQLite) GetSnapshot(ctx context.Context, domain string) (*Snapshot, error) {
	snap := Snapshot{Domain: domain}
	var first, checked, changed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, word_count, first_check, checked_at, changed_at
		FROM snapshots WHERE domain = ?
	`, domain).Scan(&snap.ContentHash, &snap.WordCount, &first, &checked, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap.FirstCheck = fromUnixNano(first)
	snap.CheckedAt = fromUnixNano(checked)
	snap.ChangedAt = fromUnixNano(changed)
	return &snap, nil
}

func (s *SQLite) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (domain, content_hash, word_count, first_check, checked_at, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			content_hash = excluded.content_hash, word_count = excluded.word_count,
			first_check = excluded.first_check, checked_at = excluded.checked_at,
			changed_at = excluded.changed_at
	`, snap.Domain, snap.ContentHash, snap.WordCount,
		unixNano(snap.FirstCheck), unixNano(snap.CheckedAt), unixNano(snap.ChangedAt))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) GetToken(ctx context.Context, email, provider string) (*Token, error) {
	token := Token{Email: email, Provider: provider}
	var refresh, tokenType, scope, metadata sql.NullString
	var expiry, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, scope, expiry, metadata, updated_at
		FROM oauth_tokens WHERE email = ? AND provider = ?
	`, email, provider).Scan(&token.AccessToken, &refresh, &tokenType, &scope, &expiry, &metadata, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}

	token.RefreshToken = refresh.String
	token.TokenType = tokenType.String
	token.Scope = scope.String
	token.Expiry = fromUnixNano(expiry)
	token.UpdatedAt = fromUnixNano(updated)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &token.Metadata); err != nil {
			return nil, fmt.Errorf("decode token metadata: %w", err)
		}
	}
	return &token, nil
}

func (s *SQLite) PutToken(ctx context.Context, token *Token) error {
	metadata, err := json.Marshal(token.Metadata)
	if err != nil {
		return fmt.Errorf("encode token metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (email, provider, access_token, refresh_token, token_type, scope, expiry, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email, provider) DO UPDATE SET
			access_token = excluded.access_token, refresh_token = excluded.refresh_token,
			token_type = excluded.token_type, scope = excluded.scope, expiry = excluded.expiry,
			metadata = excluded.metadata, updated_at = excluded.updated_at
	`, token.Email, token.Provider, token.AccessToken, token.RefreshToken, token.TokenType,
		token.Scope, unixNano(token.Expiry), string(metadata), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteToken(ctx context.Context, email, provider string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE email = ? AND provider = ?`, email, provider,
	); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
