package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

const articleHTML = `<!doctype html>
<html lang="en-GB">
<head>
<title>Fallback title</title>
<meta property="og:title" content="Acme launches orbital drone">
<meta property="article:published_time" content="2026-03-01T10:00:00Z">
<link rel="canonical" href="/news/acme-drone">
</head>
<body>
<nav>Home | World | Tech</nav>
<article>
<h1>Acme launches orbital drone</h1>
<p>Acme Corporation announced on Monday that its first orbital drone completed a full test flight, circling the planet twice before landing at the company's desert facility.</p>
<p>The drone, which the company has been developing for six years, is designed to carry small scientific payloads into low orbit at a fraction of the cost of a conventional rocket launch.</p>
<p>Analysts said the test could put pressure on established launch providers, although regulators have yet to approve commercial flights and several technical questions remain open.</p>
</article>
</body>
</html>`

func TestFetchExtractsReadableText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	page, err := Fetch(context.Background(), srv.URL+"/story", Options{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(page.Text, "orbital drone completed a full test flight") {
		t.Fatalf("expected article body in text, got %q", page.Text)
	}
	if page.Title != "Acme launches orbital drone" {
		t.Fatalf("Title = %q", page.Title)
	}
	if page.CanonicalURL != srv.URL+"/news/acme-drone" {
		t.Fatalf("CanonicalURL = %q", page.CanonicalURL)
	}
	if page.Lang != "en" {
		t.Fatalf("Lang = %q", page.Lang)
	}
	if page.PublishedAt == nil || !page.PublishedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("PublishedAt = %v", page.PublishedAt)
	}
}

func TestFetchReturnsStatusErrorForNon2xx(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL, Options{HTTPClient: srv.Client()})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want StatusError 502", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, extraction fetch must not retry", hits)
	}
}

func TestFetchEmptyTextIsNoTextExtracted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  \n\t \n"))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL, Options{HTTPClient: srv.Client()})
	if !errors.Is(err, ErrNoTextExtracted) {
		t.Fatalf("err = %v, want ErrNoTextExtracted", err)
	}
	if ErrNoTextExtracted.Error() != "no_text_extracted" {
		t.Fatalf("unexpected sentinel text %q", ErrNoTextExtracted.Error())
	}
}

func TestFetchPlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("line one  \r\n\r\n line two"))
	}))
	defer srv.Close()

	page, err := Fetch(context.Background(), srv.URL, Options{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if page.Text != "line one\n\nline two" {
		t.Fatalf("Text = %q", page.Text)
	}
}

func TestApplyDocumentMetadataFallsBackToTitleTag(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://example.com/a")
	var page Page
	applyDocumentMetadata(&page, []byte(`<html><head><title> Plain title </title></head><body></body></html>`), base)
	if page.Title != "Plain title" {
		t.Fatalf("Title = %q", page.Title)
	}
	if page.CanonicalURL != "" || page.Lang != "" || page.PublishedAt != nil {
		t.Fatalf("expected empty optional metadata, got %+v", page)
	}
}

func TestNormalizeOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := normalizeOptions(Options{})
	if opts.Timeout != DefaultFetchTimeout || opts.HTTPClient == nil || opts.UserAgent == "" {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}
