// Package reader fetches article pages and extracts their readable text.
package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"horse.fit/zeke/internal/normalize"
)

const (
	DefaultFetchTimeout  = 15 * time.Second
	DefaultBodyByteLimit = 4 * 1024 * 1024

	defaultUserAgent = "Zeke-Extractor/1.0 (+https://zeke.horse.fit)"
)

// ErrNoTextExtracted is returned when a page yields no readable text.
var ErrNoTextExtracted = errors.New("no_text_extracted")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch status %d for %s", e.StatusCode, e.URL)
}

// Options controls HTTP behavior for extraction.
type Options struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Page is the readable form of a fetched article.
type Page struct {
	URL          string
	CanonicalURL string
	Title        string
	Text         string
	Lang         string
	PublishedAt  *time.Time
}

// Fetch downloads pageURL once and extracts its readable text. It does not retry.
func Fetch(ctx context.Context, pageURL string, opts Options) (Page, error) {
	page := strings.TrimSpace(pageURL)
	if page == "" {
		return Page{}, fmt.Errorf("page URL is required")
	}
	parsedURL, err := url.Parse(page)
	if err != nil {
		return Page{}, fmt.Errorf("parse page url: %w", err)
	}

	opts = normalizeOptions(opts)

	fetchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &StatusError{StatusCode: resp.StatusCode, URL: page}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.BodyByteLimit))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "text/plain") {
		text := normalize.CleanText(string(body))
		if text == "" {
			return Page{}, ErrNoTextExtracted
		}
		return Page{URL: page, Text: text}, nil
	}

	result := Page{URL: page}
	applyDocumentMetadata(&result, body, parsedURL)

	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return Page{}, fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return Page{}, fmt.Errorf("render readability text: %w", err)
	}

	result.Text = normalize.CleanText(rendered.String())
	if result.Text == "" {
		result.Text = normalize.CleanText(article.Excerpt())
	}
	if result.Text == "" {
		return Page{}, ErrNoTextExtracted
	}
	return result, nil
}

// applyDocumentMetadata reads title, canonical link, language and publish time
// from the raw HTML. Missing fields stay empty.
func applyDocumentMetadata(page *Page, body []byte, base *url.URL) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}

	page.Title = firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		metaContent(doc, `meta[name="twitter:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			page.CanonicalURL = base.ResolveReference(ref).String()
		}
	}

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		page.Lang = strings.ToLower(strings.TrimSpace(strings.SplitN(lang, "-", 2)[0]))
	}

	if published := metaContent(doc, `meta[property="article:published_time"]`); published != "" {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			utc := ts.UTC()
			page.PublishedAt = &utc
		}
	}
}

func metaContent(doc *goquery.Document, selector string) string {
	value, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.BodyByteLimit <= 0 {
		opts.BodyByteLimit = DefaultBodyByteLimit
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return opts
}
