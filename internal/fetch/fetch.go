// ABOUTME: Content fetcher for knowledge base links with bounded time, size and redirects
// ABOUTME: Failures are returned as *Error values carrying a Kind

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/metrics"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindInvalidURL       Kind = "invalid_url"
	KindScheme           Kind = "scheme"
	KindStatus           Kind = "status"
	KindTooManyRedirects Kind = "too_many_redirects"
	KindTransport        Kind = "transport"
)

// Error is a typed fetch failure.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindStatus:
		return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetching %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetching %s: %s", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

var (
	errTooManyRedirects = errors.New("too many redirects")
	errRedirectScheme   = errors.New("redirect to non-http scheme")
)

// Result is a successfully fetched body, truncated to the configured cap.
type Result struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
}

// Fetcher retrieves http and https URLs.
type Fetcher struct {
	client   *resty.Client
	maxBytes int64
	logger   *slog.Logger
}

// New creates a Fetcher from the fetcher config section.
func New(cfg config.FetcherConfig) *Fetcher {
	maxRedirects := cfg.MaxRedirects
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,text/markdown,text/plain;q=0.9,*/*;q=0.5").
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectScheme
			}
			return nil
		}))

	return &Fetcher{
		client:   client,
		maxBytes: cfg.MaxBytes,
		logger:   slog.Default().With("component", "fetch"),
	}
}

// Get fetches rawURL. Bodies longer than the cap are truncated, not rejected.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Result, error) {
	result, err := f.get(ctx, rawURL)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			metrics.RecordFetch(string(fe.Kind))
		}
		f.logger.Debug("fetch failed", "url", rawURL, "error", err)
		return nil, err
	}
	metrics.RecordFetch(metrics.OutcomeSuccess)
	return result, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: KindScheme, URL: rawURL}
	}
	if u.Host == "" {
		return nil, &Error{Kind: KindInvalidURL, URL: rawURL, Err: errors.New("missing host")}
	}

	started := time.Now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		switch {
		case errors.Is(err, errTooManyRedirects):
			return nil, &Error{Kind: KindTooManyRedirects, URL: rawURL}
		case errors.Is(err, errRedirectScheme):
			return nil, &Error{Kind: KindScheme, URL: rawURL, Err: err}
		default:
			return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
		}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &Error{Kind: KindStatus, URL: rawURL, StatusCode: resp.StatusCode()}
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}
	truncated := int64(len(data)) > f.maxBytes
	if truncated {
		data = data[:f.maxBytes]
	}

	final := rawURL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		final = resp.RawResponse.Request.URL.String()
	}

	f.logger.Debug("fetched", "url", rawURL, "bytes", len(data), "truncated", truncated, "elapsed", time.Since(started))
	return &Result{
		URL:         rawURL,
		FinalURL:    final,
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        data,
		Truncated:   truncated,
	}, nil
}
