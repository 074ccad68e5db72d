// Package download fetches artifacts into a staging area with bounded
// parallelism, resumable transfers and digest verification.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds how long a response may stall before headers.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "portabin/1.0"
)

// ByteRange requests data starting at Start. A zero Start asks for the
// whole resource.
type ByteRange struct {
	Start int64
}

// Stream is an open response body. Offset is the position in the resource
// of the first byte of Body; it is zero when the server ignored the range.
type Stream struct {
	Body   io.ReadCloser
	Offset int64
	// Total is the full resource size, or -1 when unknown.
	Total int64
}

// Fetcher opens a byte stream for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, r ByteRange) (*Stream, error)
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Transient reports whether retrying may succeed.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// ErrRangeNotSatisfiable is returned when the server rejects a resume offset.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// HTTPFetcher fetches over http(s) and file:// URLs.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher with sane timeouts and file:// support.
func NewHTTPFetcher() *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultTimeout
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
	}
}

// NewHTTPFetcherWithClient wraps an existing client, e.g. an httptest
// server's client.
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client, userAgent: DefaultUserAgent}
}

// Fetch issues a GET, with a Range header when r.Start > 0.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, r ByteRange) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if r.Start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.Start))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Stream{Body: resp.Body, Offset: 0, Total: resp.ContentLength}, nil
	case http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &Stream{Body: resp.Body, Offset: start, Total: total}, nil
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, ErrRangeNotSatisfiable
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
}

// parseContentRange parses "bytes start-end/total".
func parseContentRange(h string) (start, total int64, err error) {
	spec, ok := strings.CutPrefix(h, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", h)
	}
	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", h)
	}
	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", h)
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid Content-Range %q: %w", h, err)
	}
	total = -1
	if size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid Content-Range %q: %w", h, err)
		}
	}
	return start, total, nil
}
