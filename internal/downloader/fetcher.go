package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/retry"
)

const maxImageBytes = 10 << 20

// StatusError is a non-200 response from the image CDN
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// HTTPFetcher downloads profile images with browser-like headers.
// Throttling and server errors are retried; other statuses are not.
type HTTPFetcher struct {
	httpClient *http.Client
	headers    map[string]string
	attempts   int
	backoff    retry.BackoffStrategy
	logger     logger.Logger
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout
func NewHTTPFetcher(timeout time.Duration, log logger.Logger) *HTTPFetcher {
	if log == nil {
		log = logger.GetLogger()
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Accept":          "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Sec-Fetch-Dest":  "image",
			"Sec-Fetch-Mode":  "no-cors",
			"Sec-Fetch-Site":  "cross-site",
		},
		attempts: 3,
		backoff:  retry.DefaultExponentialBackoff(),
		logger:   log,
	}
}

// SetHeader sets a custom header for every request
func (f *HTTPFetcher) SetHeader(key, value string) {
	f.headers[key] = value
}

// Fetch downloads the body of imageURL
func (f *HTTPFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	cfg := retry.ForAttempts(ctx, f.attempts, f.logger)
	cfg.Backoff = f.backoff
	cfg.RetryIf = func(err error) bool {
		return errs.IsType(err, errs.ErrorTypeNetwork)
	}

	return retry.DoWithResult(func() ([]byte, error) {
		return f.fetchOnce(ctx, imageURL)
	}, cfg)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "image request failed", err)
	}
	defer resp.Body.Close()

	f.logger.DebugWithFields("Image response", map[string]interface{}{
		"url":      imageURL,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if err := checkStatus(resp, imageURL); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "failed to read image", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	return data, nil
}

func checkStatus(resp *http.Response, imageURL string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errs.Wrap(errs.ErrorTypeNetwork, "image server unavailable", &StatusError{Code: resp.StatusCode, URL: imageURL})
	default:
		return &StatusError{Code: resp.StatusCode, URL: imageURL}
	}
}
