// Package youtube lists channel uploads and search results from the Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/zeke/internal/retry"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	maxPageSize    = 50
)

// ErrQuotaExhausted is returned when the API rejects the key for quota reasons.
var ErrQuotaExhausted = errors.New("youtube API quota exhausted")

// Video is one discovered upload.
type Video struct {
	VideoID     string
	Title       string
	Description string
	Channel     string
	ChannelID   string
	PublishedAt time.Time
}

// Options configures a Client.
type Options struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Doer              retry.Doer
}

type Client struct {
	apiKey  string
	baseURL string
	limiter *rate.Limiter
	doer    retry.Doer
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	doer := opts.Doer
	if doer == nil {
		doer = retry.NewHTTPDoer(&http.Client{Timeout: 30 * time.Second}, retry.DefaultPolicy())
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		doer:    doer,
	}
}

type snippet struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelTitle string `json:"channelTitle"`
	ChannelID    string `json:"channelId"`
	PublishedAt  string `json:"publishedAt"`
	ResourceID   struct {
		VideoID string `json:"videoId"`
	} `json:"resourceId"`
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet        snippet `json:"snippet"`
		ContentDetails struct {
			VideoID          string `json:"videoId"`
			VideoPublishedAt string `json:"videoPublishedAt"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type searchResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type apiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// ChannelUploads lists uploads of channelID newer than since, newest first, up to max.
func (c *Client) ChannelUploads(ctx context.Context, channelID string, since time.Time, max int) ([]Video, error) {
	channelID = strings.TrimSpace(channelID)
	if !strings.HasPrefix(channelID, "UC") || len(channelID) < 3 {
		return nil, fmt.Errorf("invalid channel id %q", channelID)
	}
	playlistID := "UU" + channelID[2:]

	var out []Video
	pageToken := ""
	for len(out) < max {
		params := url.Values{
			"part":       {"snippet,contentDetails"},
			"playlistId": {playlistID},
			"maxResults": {strconv.Itoa(pageSize(max - len(out)))},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp playlistItemsResponse
		if err := c.get(ctx, "playlistItems", params, &resp); err != nil {
			return nil, err
		}

		reachedOld := false
		for _, item := range resp.Items {
			videoID := firstNonEmpty(item.ContentDetails.VideoID, item.Snippet.ResourceID.VideoID)
			published := parseTime(firstNonEmpty(item.ContentDetails.VideoPublishedAt, item.Snippet.PublishedAt))
			if videoID == "" {
				continue
			}
			if !since.IsZero() && !published.IsZero() && published.Before(since) {
				reachedOld = true
				continue
			}
			out = append(out, toVideo(videoID, item.Snippet, published))
			if len(out) == max {
				break
			}
		}
		if reachedOld || resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

// Search lists videos matching query published after since, newest first, up to max.
func (c *Client) Search(ctx context.Context, query string, since time.Time, max int) ([]Video, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}

	var out []Video
	pageToken := ""
	for len(out) < max {
		params := url.Values{
			"part":       {"snippet"},
			"q":          {query},
			"type":       {"video"},
			"order":      {"date"},
			"maxResults": {strconv.Itoa(pageSize(max - len(out)))},
		}
		if !since.IsZero() {
			params.Set("publishedAfter", since.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp searchResponse
		if err := c.get(ctx, "search", params, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if item.ID.VideoID == "" {
				continue
			}
			out = append(out, toVideo(item.ID.VideoID, item.Snippet, parseTime(item.Snippet.PublishedAt)))
			if len(out) == max {
				break
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, resource string, params url.Values, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("youtube API key is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("youtube %s request: %w", resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		if resp.StatusCode == http.StatusForbidden && apiErr.Error != nil {
			for _, e := range apiErr.Error.Errors {
				if strings.Contains(e.Reason, "quota") || e.Reason == "rateLimitExceeded" {
					return ErrQuotaExhausted
				}
			}
		}
		message := strings.TrimSpace(string(body))
		if apiErr.Error != nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return fmt.Errorf("youtube %s status %d: %s", resource, resp.StatusCode, message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", resource, err)
	}
	return nil
}

func toVideo(videoID string, s snippet, published time.Time) Video {
	return Video{
		VideoID:     videoID,
		Title:       strings.TrimSpace(s.Title),
		Description: strings.TrimSpace(s.Description),
		Channel:     strings.TrimSpace(s.ChannelTitle),
		ChannelID:   strings.TrimSpace(s.ChannelID),
		PublishedAt: published,
	}
}

func pageSize(remaining int) int {
	if remaining <= 0 || remaining > maxPageSize {
		return maxPageSize
	}
	return remaining
}

func parseTime(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
