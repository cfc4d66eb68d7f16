// Implements the HTTP fetch primitive with optional rate limiting.

package overlay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/maruel/selfiegram/internal/errors"
)

// maxBodySize caps a single downloaded document or asset.
const maxBodySize = 64 << 20

// Fetcher retrieves the body of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTPFetcher issues GET requests, optionally throttled.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher. A non-positive perSecond disables
// throttling.
func NewHTTPFetcher(perSecond float64) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return f
}

// Fetch performs a GET and returns the body of a 2xx response.
//
// Every failure, including a non-2xx status, is a KindNetwork error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, apierrors.Network("fetch "+url, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierrors.Network("fetch "+url, fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apierrors.Network("fetch "+url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierrors.Network("fetch "+url, fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, apierrors.Network("fetch "+url, fmt.Errorf("failed to read response: %w", err))
	}
	if len(body) > maxBodySize {
		return nil, apierrors.Network("fetch "+url, fmt.Errorf("response larger than %d bytes", maxBodySize))
	}
	return body, nil
}
