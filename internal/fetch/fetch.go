// Package fetch retrieves JSON payloads from REST endpoints for inference.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/pkg/value"
)

// DefaultMaxBodyBytes bounds the size of a fetched payload.
const DefaultMaxBodyBytes = 64 << 20

// Request describes one endpoint read.
type Request struct {
	URL string

	// Bearer, when set, is sent as "Authorization: Bearer <token>"
	Bearer string

	// Headers are added to the request after Bearer and may override it
	Headers map[string]string
}

// Payload is a decoded response body.
type Payload struct {
	Body   []byte
	Value  value.Value
	Status int
}

// Fetcher retrieves payloads. The drift service depends on this interface so
// other sources can stand in for REST.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Payload, error)
}

// Options configures a RESTFetcher. Zero values select defaults.
type Options struct {
	// Timeout is the deadline for one Fetch, retries included (default: 30s)
	Timeout time.Duration

	// MaxRetries is the number of retries after a transient failure
	MaxRetries int

	// Backoff is the base retry delay, doubled per attempt (default: 100ms)
	Backoff time.Duration

	// UserAgent is sent with every request
	UserAgent string

	// MaxBodyBytes bounds the response size (default: 64MB)
	MaxBodyBytes int64

	// Client overrides the HTTP client
	Client *http.Client

	Logger *slog.Logger
}

// RESTFetcher performs GET requests against JSON endpoints.
type RESTFetcher struct {
	client *http.Client
	opts   Options
}

// NewRESTFetcher creates a fetcher with the given options.
func NewRESTFetcher(opts Options) *RESTFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &RESTFetcher{client: client, opts: opts}
}

// statusError marks a non-2xx response. 5xx responses are retried.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// Fetch GETs req.URL and decodes the body as JSON.
func (f *RESTFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	var status int
	var body []byte
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * f.opts.Backoff
			f.opts.Logger.Debug("retrying fetch", "url", req.URL, "attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, f.classify(req.URL, ctx.Err())
			case <-time.After(delay):
			}
		}

		status, body, lastErr = f.do(ctx, req)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) || ctx.Err() != nil {
			return nil, f.classify(req.URL, lastErr)
		}
	}
	if lastErr != nil {
		return nil, f.classify(req.URL, lastErr)
	}

	v, err := value.ParseBytes(body)
	if err != nil {
		return nil, serrors.NewParseError(fmt.Sprintf("response from %s is not valid JSON", req.URL), err).
			WithDetails(map[string]interface{}{"url": req.URL, "bytes": len(body)})
	}

	f.opts.Logger.Debug("fetched payload", "url", req.URL, "status", status, "bytes", len(body))
	return &Payload{Body: body, Value: v, Status: status}, nil
}

func (f *RESTFetcher) do(ctx context.Context, req Request) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, nil, &permanentError{err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.opts.UserAgent)
	}
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	res, err := f.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return res.StatusCode, nil, err
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return res.StatusCode, nil, &permanentError{fmt.Errorf("response body exceeds %d bytes", f.opts.MaxBodyBytes)}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return res.StatusCode, nil, &statusError{status: res.StatusCode, body: snippet(body)}
	}
	return res.StatusCode, body, nil
}

// permanentError wraps failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return true
}

// classify maps a fetch failure onto the error taxonomy.
func (f *RESTFetcher) classify(url string, err error) error {
	details := map[string]interface{}{"url": url}

	var se *statusError
	if errors.As(err, &se) {
		details["status"] = se.status
		return serrors.NewFetchError(serrors.CodeNonSuccessStatus,
			fmt.Sprintf("GET %s returned status %d", url, se.status), err).WithDetails(details)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return serrors.NewFetchError(serrors.CodeFetchTimeout,
			fmt.Sprintf("GET %s did not complete within %s", url, f.opts.Timeout), err).WithDetails(details)
	}
	return serrors.NewFetchError(serrors.CodeFetchFailed, fmt.Sprintf("GET %s failed", url), err).WithDetails(details)
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
