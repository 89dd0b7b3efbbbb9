package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var videoHosts = map[string]struct{}{
	"youtube.com":       {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
}

// VideoID extracts the platform video id from watch, shorts, embed, live and
// short-link URLs. The bool is false for anything else.
func VideoID(raw string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if _, ok := videoHosts[host]; !ok {
		return "", false
	}

	var id string
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	switch {
	case host == "youtu.be":
		id = segments[0]
	case parsed.Path == "/watch":
		id = parsed.Query().Get("v")
	case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live"):
		id = segments[1]
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// IsVideoURL reports whether raw points at a single video.
func IsVideoURL(raw string) bool {
	_, ok := VideoID(raw)
	return ok
}

// VideoWatchURL is the canonical watch URL for a video id.
func VideoWatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}
