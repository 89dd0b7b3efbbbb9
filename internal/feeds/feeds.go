// Package feeds fetches and parses RSS and Atom documents.
package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"horse.fit/zeke/internal/normalize"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultBodyLimit = 8 << 20
	defaultUserAgent = "zeke-feeds/1.0"
)

// Item is one feed entry reduced to what discovery stores.
type Item struct {
	GUID        string
	URL         string
	Title       string
	Summary     string
	Author      string
	PublishedAt *time.Time
}

// Feed is a parsed document.
type Feed struct {
	Title string
	Link  string
	Items []Item
}

type Client struct {
	http      *http.Client
	userAgent string
	bodyLimit int64
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		http:      httpClient,
		userAgent: defaultUserAgent,
		bodyLimit: defaultBodyLimit,
	}
}

// Fetch downloads feedURL and parses it.
func (c *Client) Fetch(ctx context.Context, feedURL string) (Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(feedURL), nil)
	if err != nil {
		return Feed{}, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		return Feed{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Feed{}, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}
	return Parse(io.LimitReader(resp.Body, c.bodyLimit))
}

// Parse reads an RSS, Atom or JSON feed document.
func Parse(r io.Reader) (Feed, error) {
	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return Feed{}, fmt.Errorf("parse feed: %w", err)
	}

	feed := Feed{
		Title: strings.TrimSpace(parsed.Title),
		Link:  strings.TrimSpace(parsed.Link),
		Items: make([]Item, 0, len(parsed.Items)),
	}
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		item := toItem(entry)
		if item.URL == "" && item.GUID == "" {
			continue
		}
		feed.Items = append(feed.Items, item)
	}
	return feed, nil
}

func toItem(entry *gofeed.Item) Item {
	link := strings.TrimSpace(entry.Link)
	if link == "" && len(entry.Links) > 0 {
		link = strings.TrimSpace(entry.Links[0])
	}
	if canonical, _ := normalize.CanonicalURL(link); canonical != "" {
		link = canonical
	}

	item := Item{
		GUID:    strings.TrimSpace(entry.GUID),
		URL:     link,
		Title:   normalize.CleanText(entry.Title),
		Summary: normalize.CleanText(entry.Description),
	}
	if entry.Author != nil {
		item.Author = strings.TrimSpace(entry.Author.Name)
	}

	published := entry.PublishedParsed
	if published == nil {
		published = entry.UpdatedParsed
	}
	if published != nil {
		ts := published.UTC()
		item.PublishedAt = &ts
	}
	return item
}

// ExternalID is the dedup key of an item within its source: the canonical link, or the GUID.
func (i Item) ExternalID() string {
	if i.URL != "" {
		return i.URL
	}
	return i.GUID
}
