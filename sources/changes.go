package sources

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/seo-optimizer/competitive-insights/result"
	"github.com/seo-optimizer/competitive-insights/store"
)

// ChangeData describes whether homepage content moved since the last check
type ChangeData struct {
	Available     bool       `json:"available"`
	HasChanged    bool       `json:"hasChanged"`
	FirstCheck    bool       `json:"firstCheck"`
	PreviousCheck *time.Time `json:"previousCheck"`
	LastChanged   *time.Time `json:"lastChanged"`
	WordCount     int        `json:"wordCount"`
	WordDelta     int        `json:"wordDelta"`
	ContentHash   string     `json:"contentHash"`
}

// SnapshotStore persists the last content snapshot per domain
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, domain string) (*store.Snapshot, error)
	PutSnapshot(ctx context.Context, snap *store.Snapshot) error
}

// ChangeDetector hashes homepage text and compares it with the stored snapshot
type ChangeDetector struct {
	client    *http.Client
	snapshots SnapshotStore
	userAgent string
	timeout   time.Duration
	siteURL   func(string) string
	now       func() time.Time
}

func NewChangeDetector(snapshots SnapshotStore, timeout time.Duration, userAgent string) *ChangeDetector {
	return &ChangeDetector{
		client:    NewHTTPClient(timeout),
		snapshots: snapshots,
		userAgent: userAgent,
		timeout:   timeout,
		siteURL:   siteURL,
		now:       time.Now,
	}
}

func (c *ChangeDetector) Analyze(ctx context.Context, site string) result.Result[ChangeData] {
	return Capture(SignalChanges, site, ChangeData{}, "Change detection failed", func() (ChangeData, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.detect(ctx, site)
	})
}

func (c *ChangeDetector) detect(ctx context.Context, site string) (ChangeData, error) {
	resp, body, err := fetch(ctx, c.client, c.siteURL(site), c.userAgent)
	if err != nil {
		return ChangeData{}, err
	}
	if resp.StatusCode >= 400 {
		return ChangeData{}, &StatusError{StatusCode: resp.StatusCode}
	}

	text, err := visibleText(body)
	if err != nil {
		return ChangeData{}, err
	}
	hash := sha256.Sum256([]byte(text))
	current := hex.EncodeToString(hash[:])
	words := len(strings.Fields(text))
	now := c.now().UTC()

	data := ChangeData{
		Available:   true,
		WordCount:   words,
		ContentHash: current,
	}

	prev, err := c.snapshots.GetSnapshot(ctx, site)
	switch {
	case errors.Is(err, store.ErrNotFound):
		data.FirstCheck = true
		snap := &store.Snapshot{
			Domain:      site,
			ContentHash: current,
			WordCount:   words,
			FirstCheck:  now,
			CheckedAt:   now,
			ChangedAt:   now,
		}
		if err := c.snapshots.PutSnapshot(ctx, snap); err != nil {
			return ChangeData{}, fmt.Errorf("save snapshot: %w", err)
		}
		return data, nil
	case err != nil:
		return ChangeData{}, fmt.Errorf("load snapshot: %w", err)
	}

	previousCheck := prev.CheckedAt
	data.PreviousCheck = &previousCheck
	data.HasChanged = prev.ContentHash != current
	data.WordDelta = words - prev.WordCount

	changedAt := prev.ChangedAt
	if data.HasChanged {
		changedAt = now
	}
	data.LastChanged = &changedAt

	next := &store.Snapshot{
		Domain:      site,
		ContentHash: current,
		WordCount:   words,
		FirstCheck:  prev.FirstCheck,
		CheckedAt:   now,
		ChangedAt:   changedAt,
	}
	if err := c.snapshots.PutSnapshot(ctx, next); err != nil {
		return ChangeData{}, fmt.Errorf("save snapshot: %w", err)
	}
	return data, nil
}

// visibleText returns the whitespace-normalized body text without scripts
func visibleText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " "), nil
}
