// Package batch runs the slower discovery path: seeded search queries,
// endpoint classification, crawling with change detection and structured
// extraction of crawled pages.
package batch

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portal-resolver/internal/blob"
	"github.com/sells-group/portal-resolver/internal/extract"
	"github.com/sells-group/portal-resolver/internal/fetcher"
	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/ocr"
	"github.com/sells-group/portal-resolver/internal/probe"
	"github.com/sells-group/portal-resolver/internal/records"
	"github.com/sells-group/portal-resolver/internal/resilience"
	"github.com/sells-group/portal-resolver/internal/search"
	"github.com/sells-group/portal-resolver/internal/store"
)

// Store is the persistence surface of the batch path.
type Store interface {
	ListJurisdictions(ctx context.Context, filter store.JurisdictionFilter) ([]model.Jurisdiction, error)
	InsertJobs(ctx context.Context, jobs []model.DiscoveryJob) (int64, error)
	ClaimJobs(ctx context.Context, n, maxAttempts int) ([]model.DiscoveryJob, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, reason string) error

	InsertCandidate(ctx context.Context, c *model.CandidateRecord) error
	ListCountyCandidates(ctx context.Context, countyGeoID string) ([]model.CandidateRecord, error)

	InsertEndpoints(ctx context.Context, eps []model.PortalEndpoint) (int64, error)
	ListEndpointsDue(ctx context.Context, crawledBefore time.Time, limit int) ([]model.PortalEndpoint, error)
	SetEndpointStatus(ctx context.Context, id string, status model.EndpointStatus, lastErr string, at time.Time) error

	InsertSnapshot(ctx context.Context, s *model.PortalSnapshot) error
	LatestSnapshots(ctx context.Context, jurisdictionID, url string, n int) ([]model.PortalSnapshot, error)
	ListUnparsedSnapshots(ctx context.Context, limit int) ([]model.PortalSnapshot, error)
	MarkSnapshotParsed(ctx context.Context, id string, items []model.Extraction) error
	SetSnapshotParseError(ctx context.Context, id, msg string) error
}

// Searcher runs a query against the provider chain.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, string, error)
}

// Deps are the pipeline's collaborators. Renderer may be nil, in which case
// vendor portals are fetched without a browser.
type Deps struct {
	Store     Store
	Search    Searcher
	Prober    probe.Prober
	Records   *records.Resolver
	Fetcher   fetcher.Fetcher
	Renderer  fetcher.Renderer
	Blobs     blob.Store
	OCR       ocr.Extractor
	Extractor extract.Extractor
	Metrics   *metrics.Metrics
}

// Options tune sweep sizes and limits.
type Options struct {
	BatchSize   int
	Concurrency int
	// MaxJobAttempts caps retries of errored jobs; 0 means no cap.
	MaxJobAttempts int
	// FetchRetry wraps crawl fetches.
	FetchRetry resilience.RetryConfig
	// FreshnessWindow is the snapshot age at which freshness reaches zero.
	FreshnessWindow time.Duration
	// RecrawlAfter is how long a crawled endpoint rests before the next crawl.
	RecrawlAfter time.Duration
	// Templates override the seed query templates.
	Templates []string
}

// Summary counts one sweep's outcomes.
type Summary struct {
	Kind      string `json:"kind"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Pipeline runs the batch sweeps.
type Pipeline struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.FetchRetry.MaxAttempts <= 0 {
		opts.FetchRetry = resilience.ForAttempts(3)
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 90 * 24 * time.Hour
	}
	if opts.RecrawlAfter <= 0 {
		opts.RecrawlAfter = 7 * 24 * time.Hour
	}
	if len(opts.Templates) == 0 {
		opts.Templates = DefaultTemplates
	}
	return &Pipeline{deps: deps, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Pipeline) size(n int) int {
	if n <= 0 {
		return p.opts.BatchSize
	}
	return n
}

func (p *Pipeline) maxAttempts() int {
	if p.opts.MaxJobAttempts <= 0 {
		return math.MaxInt32
	}
	return p.opts.MaxJobAttempts
}

// sweep runs fn over items on a bounded worker pool. Item errors are
// logged and counted; only cancellation stops the sweep.
func sweep[T any](ctx context.Context, p *Pipeline, kind string, items []T, id func(T) string, fn func(context.Context, T) error) (*Summary, error) {
	var ok, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, it := range items {
		g.Go(func() error {
			if err := fn(gctx, it); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				p.deps.Metrics.IncSweepItem(kind, "error")
				zap.L().Warn("batch: item failed", zap.String("sweep", kind), zap.String("item", id(it)), zap.Error(err))
				return nil
			}
			ok.Add(1)
			p.deps.Metrics.IncSweepItem(kind, "ok")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "batch: %s sweep", kind)
	}

	sum := &Summary{Kind: kind, Processed: len(items), Succeeded: int(ok.Load()), Failed: int(failed.Load())}
	zap.L().Info("batch: sweep complete",
		zap.String("sweep", kind),
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}
