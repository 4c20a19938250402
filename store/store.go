// Package store persists comparison reports, homepage content snapshots and
// OAuth tokens behind one interface with memory, SQLite and Postgres backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seo-optimizer/competitive-insights/config"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("not found")

// Snapshot is the last observed state of a site's homepage content
type Snapshot struct {
	Domain      string    `json:"domain"`
	ContentHash string    `json:"contentHash"`
	WordCount   int       `json:"wordCount"`
	FirstCheck  time.Time `json:"firstCheck"`
	CheckedAt   time.Time `json:"checkedAt"`
	ChangedAt   time.Time `json:"changedAt"`
}

// Token is a stored OAuth token bag for one (email, provider) pair
type Token struct {
	Email        string            `json:"email"`
	Provider     string            `json:"provider"`
	AccessToken  string            `json:"-"`
	RefreshToken string            `json:"-"`
	TokenType    string            `json:"tokenType"`
	Scope        string            `json:"scope"`
	Expiry       time.Time         `json:"expiry"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Expired reports whether the access token is past its expiry (with a minute of slack)
func (t *Token) Expired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return now.Add(time.Minute).After(t.Expiry)
}

// Store is the persistence surface used by the API layer, the change
// detector and the OAuth service.
type Store interface {
	GetReport(ctx context.Context, key string) ([]byte, time.Time, error)
	PutReport(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	GetSnapshot(ctx context.Context, domain string) (*Snapshot, error)
	PutSnapshot(ctx context.Context, snap *Snapshot) error

	GetToken(ctx context.Context, email, provider string) (*Token, error)
	PutToken(ctx context.Context, token *Token) error
	DeleteToken(ctx context.Context, email, provider string) error

	Close() error
}

// ReportKey builds the cache key for a (your, competitor) pair
func ReportKey(yourDomain, competitorDomain string) string {
	return yourDomain + "|" + competitorDomain
}

// Open creates the backend selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
