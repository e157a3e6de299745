package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// Fetcher retrieves the raw markup behind a URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a transport or HTTP failure for a single URL.
// StatusCode is 0 when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MaxBodySize caps a response body, raised from colly's 10 MiB default
const MaxBodySize = 64 << 20

// FetchObserver is notified after every fetch attempt
type FetchObserver func(url string, elapsed time.Duration, err error)

// CollyFetcher fetches pages synchronously through a colly collector.
// It never retries; a failed fetch is returned to the caller as is.
type CollyFetcher struct {
	collector *colly.Collector
	observer  FetchObserver
}

// NewCollyFetcher creates a fetcher with the given request timeout and user agent
func NewCollyFetcher(timeout time.Duration, userAgent string, observer FetchObserver) *CollyFetcher {
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(MaxBodySize),
	}
	if userAgent != "" {
		opts = append(opts, colly.UserAgent(userAgent))
	}

	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(timeout)

	return &CollyFetcher{
		collector: c,
		observer:  observer,
	}
}

// Fetch visits url and returns the response body. Blocks until the
// response arrives or the transport fails.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	// Callbacks are per fetch, the clone shares the HTTP backend
	c := f.collector.Clone()
	c.Context = ctx

	var body []byte
	var fetchErr *FetchError

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		logrus.Debugf("Fetched %s (status=%d, bytes=%d)", r.Request.URL, r.StatusCode, len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = &FetchError{URL: rawURL, Err: err}
		if r != nil {
			fetchErr.StatusCode = r.StatusCode
		}
	})

	start := time.Now()
	visitErr := c.Visit(rawURL)
	elapsed := time.Since(start)

	var err error
	switch {
	case fetchErr != nil:
		err = fetchErr
	case visitErr != nil:
		err = &FetchError{URL: rawURL, Err: visitErr}
	case ctx.Err() != nil:
		err = &FetchError{URL: rawURL, Err: ctx.Err()}
	}

	if f.observer != nil {
		f.observer(rawURL, elapsed, err)
	}
	if err != nil {
		return nil, err
	}

	return body, nil
}

// SiteOrigin returns scheme://host for a URL, used to absolutize
// relative links found on that site
func SiteOrigin(rawURL string) (string, error) {
	// Handle protocol-relative URLs
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}

	return parsed.Scheme + "://" + strings.ToLower(parsed.Host), nil
}

// YearURL builds the per-year listing URL from a template containing %d
func YearURL(template string, year int) string {
	return fmt.Sprintf(template, year)
}
