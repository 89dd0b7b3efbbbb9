package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Doer is the subset of *http.Client used by API clients.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for retryable HTTP status codes.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// HTTPDoer retries network failures, 429 and 5xx responses.
type HTTPDoer struct {
	next   Doer
	policy Policy
}

// NewHTTPDoer decorates next with policy. A nil next uses http.DefaultClient.
func NewHTTPDoer(next Doer, policy Policy) *HTTPDoer {
	if next == nil {
		next = http.DefaultClient
	}
	return &HTTPDoer{next: next, policy: policy}
}

func (d *HTTPDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attempt := 0
	return DoValue(ctx, d.policy, func(ctx context.Context) (*http.Response, error) {
		outgoing := req
		if attempt > 0 {
			clone, err := rewind(req)
			if err != nil {
				return nil, Permanent(err)
			}
			outgoing = clone
		}
		attempt++

		resp, err := d.next.Do(outgoing)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp, nil
	})
}

func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}
