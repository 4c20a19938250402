package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres is the shared backend for multi-instance deployments
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS insight_reports (
	key TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insight_reports_expires_at ON insight_reports (expires_at);

CREATE TABLE IF NOT EXISTS content_snapshots (
	domain TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	word_count INTEGER NOT NULL,
	first_check TIMESTAMPTZ NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
	email TEXT NOT NULL,
	provider TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	expiry TIMESTAMPTZ,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (email, provider)
);
`

// OpenPostgres connects a pool to dsn and applies the schema
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Info().Msg("Postgres store ready")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) GetReport(ctx context.Context, key string) ([]byte, time.Time, error) {
	var payload []byte
	var storedAt time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT payload, stored_at FROM insight_reports
		WHERE key = $1 AND expires_at > NOW()
	`, key).Scan(&payload, &storedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query report: %w", err)
	}
	return payload, storedAt, nil
}

func (p *Postgres) PutReport(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM insight_reports WHERE expires_at < $1`, now)
	batch.Queue(`
		INSERT INTO insight_reports (key, payload, stored_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload, stored_at = EXCLUDED.stored_at, expires_at = EXCLUDED.expires_at
	`, key, payload, now, now.Add(ttl))

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch exec %d: %w", i, err)
		}
	}
	br.Close()

	return tx.Commit(ctx)
}

func (p *Postgres) GetSnapshot(ctx context.Context, domain string) (*Snapshot, error) {
	snap := Snapshot{Domain: domain}
	err := p.pool.QueryRow(ctx, `
		SELECT content_hash, word_count, first_check, checked_at, changed_at
		FROM content_snapshots WHERE domain = $1
	`, domain).Scan(&snap.ContentHash, &snap.WordCount, &snap.FirstCheck, &snap.CheckedAt, &snap.ChangedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return &snap, nil
}

func (p *Postgres) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO content_snapshots (domain, content_hash, word_count, first_check, checked_at, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain) DO UPDATE SET
			content_hash = EXCLUDED.content_hash, word_count = EXCLUDED.word_count,
			first_check = EXCLUDED.first_check, checked_at = EXCLUDED.checked_at,
			changed_at = EXCLUDED.changed_at
	`, snap.Domain, snap.ContentHash, snap.WordCount, snap.FirstCheck, snap.CheckedAt, snap.ChangedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) GetToken(ctx context.Context, email, provider string) (*Token, error) {
	token := Token{Email: email, Provider: provider}
	var expiry *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, scope, expiry, metadata, updated_at
		FROM oauth_tokens WHERE email = $1 AND provider = $2
	`, email, provider).Scan(&token.AccessToken, &token.RefreshToken, &token.TokenType,
		&token.Scope, &expiry, &token.Metadata, &token.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	if expiry != nil {
		token.Expiry = *expiry
	}
	return &token, nil
}

func (p *Postgres) PutToken(ctx context.Context, token *Token) error {
	var expiry *time.Time
	if !token.Expiry.IsZero() {
		expiry = &token.Expiry
	}
	metadata := token.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (email, provider, access_token, refresh_token, token_type, scope, expiry, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (email, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type, scope = EXCLUDED.scope, expiry = EXCLUDED.expiry,
			metadata = EXCLUDED.metadata, updated_at = NOW()
	`, token.Email, token.Provider, token.AccessToken, token.RefreshToken, token.TokenType,
		token.Scope, expiry, metadata)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteToken(ctx context.Context, email, provider string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM oauth_tokens WHERE email = $1 AND provider = $2`, email, provider,
	); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
