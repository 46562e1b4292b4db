// Package probe checks whether a candidate portal URL is reachable and looks
// like a permit portal.
package probe

import (
	"context"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/classify"
	"github.com/sells-group/portal-resolver/internal/fetcher"
)

// DefaultProbeChars is how much of a page the content probe inspects.
const DefaultProbeChars = 5000

// Prober runs liveness and content probes. A failed probe is a negative
// result, never an error.
type Prober interface {
	Liveness(ctx context.Context, url string) bool
	Content(ctx context.Context, url string) bool
}

// HTTPProber implements Prober over a fetcher.
type HTTPProber struct {
	fetcher    fetcher.Fetcher
	probeChars int
}

// New creates an HTTPProber. probeChars <= 0 uses DefaultProbeChars.
func New(f fetcher.Fetcher, probeChars int) *HTTPProber {
	if probeChars <= 0 {
		probeChars = DefaultProbeChars
	}
	return &HTTPProber{fetcher: f, probeChars: probeChars}
}

// Liveness sends a HEAD request; any 2xx or 3xx is alive. Servers that
// refuse HEAD are retried with GET.
func (p *HTTPProber) Liveness(ctx context.Context, url string) bool {
	resp, err := p.fetcher.Fetch(ctx, fetcher.Request{Method: http.MethodHead, URL: url, MaxBytes: 1})
	if err == nil && (resp.Status == http.StatusMethodNotAllowed || resp.Status == http.StatusNotImplemented) {
		resp, err = p.fetcher.Fetch(ctx, fetcher.Request{Method: http.MethodGet, URL: url, MaxBytes: 1})
	}
	if err != nil {
		zap.L().Debug("probe: liveness failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return resp.Status >= 200 && resp.Status < 400
}

// Content fetches the start of the page and requires at least
// classify.MinContentHits distinct portal keywords.
func (p *HTTPProber) Content(ctx context.Context, url string) bool {
	hits, err := p.ContentHits(ctx, url)
	if err != nil {
		zap.L().Debug("probe: content failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return len(hits) >= classify.MinContentHits
}

// ContentHits returns the distinct content keywords found in the first
// probeChars characters of the page.
func (p *HTTPProber) ContentHits(ctx context.Context, url string) ([]string, error) {
	// Worst case four bytes per character.
	resp, err := p.fetcher.Fetch(ctx, fetcher.Request{Method: http.MethodGet, URL: url, MaxBytes: int64(p.probeChars * utf8.UTFMax)})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, nil
	}
	return classify.KeywordHits(firstChars(string(resp.Body), p.probeChars), classify.ContentKeywords), nil
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
