package normalize

import (
	"strings"
	"testing"
)

func TestCanonicalURLStripsTrackingAndNormalizes(t *testing.T) {
	t.Parallel()

	canonical, host := CanonicalURL("HTTPS://Example.COM:443/news//path/?utm_source=abc&fbclid=123&b=2&a=1#section")
	if canonical != "https://example.com/news/path?a=1&b=2" {
		t.Fatalf("unexpected canonical url: %q", canonical)
	}
	if host != "example.com" {
		t.Fatalf("unexpected host: %q", host)
	}
}

func TestCanonicalURLIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://www.example.com/a/b/?z=1&y=2&utm_medium=social",
		"http://example.com:8080/path",
		"https://example.com/",
	}
	for _, in := range inputs {
		once, _ := CanonicalURL(in)
		twice, _ := CanonicalURL(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCanonicalURLKeepsNonDefaultPort(t *testing.T) {
	t.Parallel()

	canonical, host := CanonicalURL("http://Example.com:8080/x")
	if canonical != "http://example.com:8080/x" || host != "example.com" {
		t.Fatalf("unexpected result %q %q", canonical, host)
	}
}

func TestCanonicalURLDropsDefaultPortOnly(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://example.com:443/a":  "https://example.com/a",
		"http://example.com:80/a":    "http://example.com/a",
		"https://example.com:8443/a": "https://example.com:8443/a",
		"http://example.com:443/a":   "http://example.com:443/a",
	}
	for in, want := range cases {
		if got, _ := CanonicalURL(in); got != want {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", in, got, want)
		}
	}
	a, _ := CanonicalURL("http://example.com:8080/a")
	b, _ := CanonicalURL("http://example.com:9090/a")
	if a == b {
		t.Fatalf("distinct ports collapsed onto %q", a)
	}
}

func TestCanonicalURLInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"not a url", "", "ftp://example.com/file", "/relative/path"} {
		canonical, host := CanonicalURL(in)
		if canonical != "" || host != "" {
			t.Fatalf("expected empty result for %q, got canonical=%q host=%q", in, canonical, host)
		}
	}
}

func TestDomainStripsWWW(t *testing.T) {
	t.Parallel()

	if got := Domain("https://WWW.Reuters.com/world"); got != "reuters.com" {
		t.Fatalf("Domain() = %q", got)
	}
}

func TestContentHashStableAcrossWhitespaceAndCase(t *testing.T) {
	t.Parallel()

	a := ContentHash("Acme  launches\n\norbital drone")
	b := ContentHash("  acme launches orbital\tDRONE ")
	if a != b {
		t.Fatalf("expected identical hashes, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	if a == ContentHash("Acme launches suborbital drone") {
		t.Fatalf("different text must hash differently")
	}
}

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	got := CleanText("  First   line \r\n\r\n second\tline  \n\n\n third ")
	want := "First line\n\nsecond line\n\nthird"
	if got != want {
		t.Fatalf("CleanText() = %q, want %q", got, want)
	}
}

func TestTruncateAppendsMarker(t *testing.T) {
	t.Parallel()

	got, clipped := Truncate(strings.Repeat("a", 20), 10, "...[truncated]")
	if !clipped || got != strings.Repeat("a", 10)+"...[truncated]" {
		t.Fatalf("Truncate() = %q, %v", got, clipped)
	}
	got, clipped = Truncate("short", 10, "...[truncated]")
	if clipped || got != "short" {
		t.Fatalf("Truncate() short = %q, %v", got, clipped)
	}
}

func TestVideoID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                     "dQw4w9WgXcQ",
		"https://m.youtube.com/shorts/dQw4w9WgXcQ":         "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":        "dQw4w9WgXcQ",
	}
	for in, want := range cases {
		got, ok := VideoID(in)
		if !ok || got != want {
			t.Fatalf("VideoID(%q) = %q, %v", in, got, ok)
		}
	}

	for _, in := range []string{
		"https://www.youtube.com/channel/UC123",
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=short",
	} {
		if IsVideoURL(in) {
			t.Fatalf("IsVideoURL(%q) = true", in)
		}
	}
}
