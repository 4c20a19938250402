package contentupdates

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html/charset"
)

const (
	maxRecentPosts    = 10
	maxDescriptionLen = 200
)

// commonFeedPaths are probed in order when the homepage declares no feed
var commonFeedPaths = []string{
	"/feed",
	"/rss",
	"/feed.xml",
	"/rss.xml",
	"/atom.xml",
	"/blog/feed",
	"/blog/rss",
	"/feeds/posts/default",
}

var errNotFeed = errors.New("document is not an RSS or Atom feed")

// feedDoc decodes RSS 2.0, RSS 1.0 (RDF) and Atom roots
type feedDoc struct {
	XMLName xml.Name
	Channel *struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Items   []rssItem   `xml:"item"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"http://purl.org/dc/elements/1.1/ date"`
	Description string `xml:"description"`
	Author      string `xml:"author"`
	Creator     string `xml:"http://purl.org/dc/elements/1.1/ creator"`
}

type atomEntry struct {
	Title string `xml:"title"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	Summary   string `xml:"summary"`
	Content   string `xml:"content"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

type parsedItem struct {
	title       string
	link        string
	date        *time.Time
	description string
	author      string
}

// parseFeed decodes body as a feed and returns its format and items
func parseFeed(body []byte) (string, []parsedItem, error) {
	var doc feedDoc
	if err := newXMLDecoder(body).Decode(&doc); err != nil {
		return "", nil, fmt.Errorf("decode feed: %w", err)
	}

	var items []parsedItem
	var format string

	switch strings.ToLower(doc.XMLName.Local) {
	case "rss":
		if doc.Channel == nil {
			return "", nil, errNotFeed
		}
		format = "rss"
		for _, it := range doc.Channel.Items {
			items = append(items, it.parsed())
		}
	case "rdf":
		format = "rdf"
		for _, it := range doc.Items {
			items = append(items, it.parsed())
		}
	case "feed":
		format = "atom"
		for _, e := range doc.Entries {
			items = append(items, e.parsed())
		}
	default:
		return "", nil, errNotFeed
	}
	return format, items, nil
}

func (it rssItem) parsed() parsedItem {
	date := it.PubDate
	if date == "" {
		date = it.Date
	}
	author := it.Author
	if author == "" {
		author = it.Creator
	}
	return parsedItem{
		title:       strings.TrimSpace(it.Title),
		link:        strings.TrimSpace(it.Link),
		date:        parseDate(date),
		description: plainText(it.Description),
		author:      strings.TrimSpace(author),
	}
}

func (e atomEntry) parsed() parsedItem {
	var link string
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			link = l.Href
			break
		}
	}
	if link == "" && len(e.Links) > 0 {
		link = e.Links[0].Href
	}

	date := e.Published
	if date == "" {
		date = e.Updated
	}
	desc := e.Summary
	if desc == "" {
		desc = e.Content
	}
	return parsedItem{
		title:       strings.TrimSpace(e.Title),
		link:        strings.TrimSpace(link),
		date:        parseDate(date),
		description: plainText(desc),
		author:      strings.TrimSpace(e.Author.Name),
	}
}

// buildRSSResult sorts items newest first and keeps the most recent ones
func buildRSSResult(feedURL, format string, items []parsedItem, now time.Time) RSSResult {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].date, items[j].date
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	res := RSSResult{
		Found:       true,
		FeedURL:     feedURL,
		Format:      format,
		TotalPosts:  len(items),
		RecentPosts: make([]FeedItem, 0, maxRecentPosts),
		Dates:       make([]time.Time, 0, len(items)),
	}

	for i, it := range items {
		if it.date != nil {
			res.Dates = append(res.Dates, *it.date)
		}
		if i >= maxRecentPosts {
			continue
		}
		item := FeedItem{
			Title:       it.title,
			Link:        it.link,
			PubDate:     it.date,
			Description: it.description,
			Author:      it.author,
		}
		if it.date != nil {
			days := daysBetween(*it.date, now)
			item.DaysAgo = &days
		}
		res.RecentPosts = append(res.RecentPosts, item)
	}

	if len(res.Dates) > 0 {
		newest := res.Dates[0]
		res.LastUpdated = &newest
	}
	return res
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// plainText strips markup from a feed description and truncates it
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxDescriptionLen {
		return string(runes[:maxDescriptionLen]) + "..."
	}
	return s
}

func newXMLDecoder(body []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	return dec
}
