// Package fetcher retrieves pages for probes, the verifier and the crawler:
// plain HTTP with per-host rate limiting and retries, DNS lookups, and a
// headless-browser renderer for script-driven vendor portals.
package fetcher

import (
	"context"
	"mime"
	"net/http"
	"strings"
)

// Request describes a single fetch.
type Request struct {
	Method string
	URL    string
	// MaxBytes truncates the body; 0 uses the fetcher default.
	MaxBytes int64
}

// Response is a fetched page. Non-2xx statuses are returned as responses,
// not errors, so callers can apply their own rules.
type Response struct {
	URL      string
	FinalURL string
	Status   int
	Header   http.Header
	Body     []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// MediaType returns the lower-cased media type without parameters.
func (r *Response) MediaType() string {
	if r == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt
}

// IsHTML reports whether the response is an HTML document.
func (r *Response) IsHTML() bool {
	mt := r.MediaType()
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// Fetcher performs HTTP requests.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Renderer loads a page in a browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string) (*Response, error)
}

// Resolver looks up host addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}
