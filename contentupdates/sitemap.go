package contentupdates

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	maxRecentlyModified = 20
	childFetchLimit     = 5
)

// commonSitemapPaths are probed in order when robots.txt declares no sitemap
var commonSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap1.xml",
}

var (
	errNotSitemap = errors.New("document is not a sitemap")
	errEmptyIndex = errors.New("sitemap index has no loadable children")
)

type sitemapLoc struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// sitemapDoc decodes both urlset and sitemapindex roots
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type parsedSitemap struct {
	isIndex  bool
	children []string
	entries  []sitemapEntry
}

type sitemapEntry struct {
	loc     string
	lastMod *time.Time
}

func parseSitemap(body []byte) (*parsedSitemap, error) {
	body, err := maybeGunzip(body)
	if err != nil {
		return nil, err
	}

	var doc sitemapDoc
	if err := newXMLDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode sitemap: %w", err)
	}

	switch strings.ToLower(doc.XMLName.Local) {
	case "sitemapindex":
		ps := &parsedSitemap{isIndex: true}
		for _, s := range doc.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				ps.children = append(ps.children, loc)
			}
		}
		return ps, nil
	case "urlset":
		ps := &parsedSitemap{entries: make([]sitemapEntry, 0, len(doc.URLs))}
		for _, u := range doc.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc == "" {
				continue
			}
			ps.entries = append(ps.entries, sitemapEntry{loc: loc, lastMod: parseDate(u.LastMod)})
		}
		return ps, nil
	}
	return nil, errNotSitemap
}

// maybeGunzip inflates gzip payloads served without Content-Encoding
func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip sitemap: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxBodySize))
}

// walkSitemap fetches root and, for a sitemap index, every reachable child
// level by level. Children that fail to load are skipped, but an index
// where every child failed is reported as an error.
func (s *Service) walkSitemap(ctx context.Context, root string) (SitemapResult, error) {
	body, err := s.get(ctx, root)
	if err != nil {
		return SitemapResult{}, err
	}
	first, err := parseSitemap(body)
	if err != nil {
		return SitemapResult{}, err
	}

	res := SitemapResult{Found: true, URL: root, IsIndex: first.isIndex}
	entries := first.entries

	visited := map[string]bool{root: true}
	level := s.unvisited(first.children, visited, 0)
	fetched, loaded := 0, 0

	for len(level) > 0 {
		fetched += len(level)

		var mu sync.Mutex
		var next []string

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(childFetchLimit)
		for _, child := range level {
			child := child
			g.Go(func() error {
				body, err := s.get(gctx, child)
				if err == nil {
					var ps *parsedSitemap
					if ps, err = parseSitemap(body); err == nil {
						mu.Lock()
						entries = append(entries, ps.entries...)
						next = append(next, ps.children...)
						loaded++
						mu.Unlock()
						return nil
					}
				}
				log.Debug().Str("sitemap", child).Err(err).Msg("Skipping child sitemap")
				return nil
			})
		}
		g.Wait()

		sort.Strings(next)
		level = s.unvisited(next, visited, fetched)
	}

	if first.isIndex && len(entries) == 0 && loaded == 0 {
		return SitemapResult{}, errEmptyIndex
	}

	res.ChildSitemaps = fetched
	res.TotalURLs = len(entries)
	s.summarizeEntries(&res, entries)
	return res, nil
}

// unvisited marks and returns the children not seen before, honoring the
// overall child cap
func (s *Service) unvisited(children []string, visited map[string]bool, fetched int) []string {
	var out []string
	for _, c := range children {
		if visited[c] {
			continue
		}
		if fetched+len(out) >= s.maxChildSitemaps {
			break
		}
		visited[c] = true
		out = append(out, c)
	}
	return out
}

// summarizeEntries fills lastModified and the recently modified list,
// newest first
func (s *Service) summarizeEntries(res *SitemapResult, entries []sitemapEntry) {
	now := s.now()
	recent := make([]SitemapEntry, 0)

	for _, e := range entries {
		if e.lastMod == nil {
			continue
		}
		if res.LastModified == nil || e.lastMod.After(*res.LastModified) {
			t := *e.lastMod
			res.LastModified = &t
		}
		if daysBetween(*e.lastMod, now) <= recentDays {
			recent = append(recent, SitemapEntry{
				Loc:     e.loc,
				LastMod: *e.lastMod,
				DaysAgo: daysBetween(*e.lastMod, now),
			})
		}
	}

	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].LastMod.Equal(recent[j].LastMod) {
			return recent[i].LastMod.After(recent[j].LastMod)
		}
		return recent[i].Loc < recent[j].Loc
	})
	if len(recent) > maxRecentlyModified {
		recent = recent[:maxRecentlyModified]
	}
	res.RecentlyModified = recent
}
