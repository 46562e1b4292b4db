// Package api serves the resolver over HTTP: interactive resolution, batch
// sweeps, the review queue, health and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/batch"
	"github.com/sells-group/portal-resolver/internal/review"
	"github.com/sells-group/portal-resolver/internal/tiers"
	"github.com/sells-group/portal-resolver/internal/verify"
)

// Resolver runs interactive resolutions.
type Resolver interface {
	Resolve(ctx context.Context, geoid string, force bool) (*tiers.Result, error)
}

// Batch runs the discovery, crawl and parse sweeps.
type Batch interface {
	Seed(ctx context.Context) (int64, error)
	SearchSweep(ctx context.Context, n int) (*batch.Summary, error)
	CrawlSweep(ctx context.Context, n int) (*batch.Summary, error)
	ParseSweep(ctx context.Context, n int) (*batch.Summary, error)
	ClassifyEndpoints(ctx context.Context, countyGeoID string) (int64, error)
	Freshness(ctx context.Context, jurisdictionID, url string) (*batch.FreshnessReport, error)
}

// Verifier runs verification sweeps.
type Verifier interface {
	Sweep(ctx context.Context, size int) (*verify.Summary, error)
}

// Review is the human review workflow.
type Review interface {
	List(ctx context.Context, page, perPage int) (*review.Page, error)
	Approve(ctx context.Context, id string, o review.Overrides) (*review.Summary, error)
	Reject(ctx context.Context, id string, o review.Overrides) (*review.Summary, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the HTTP surface.
type Options struct {
	// RequestTimeout bounds every request, sweeps included.
	RequestTimeout time.Duration
	AllowedOrigins []string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server wires the handlers.
type Server struct {
	resolver Resolver
	batch    Batch
	verifier Verifier
	review   Review
	health   Pinger
	opts     Options
}

// New creates a Server.
func New(r Resolver, b Batch, v Verifier, rv Review, health Pinger, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{resolver: r, batch: b, verifier: v, review: rv, health: health, opts: opts}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Post("/jurisdictions/{geoid}/resolve", s.handleResolve)
		r.Post("/sweeps/{kind}", s.handleSweep)
		r.Post("/counties/{geoid}/endpoints", s.handleEndpoints)
		r.Get("/freshness", s.handleFreshness)

		r.Get("/review", s.handleReviewList)
		r.Post("/review/{id}/approve", s.handleApprove)
		r.Post("/review/{id}/reject", s.handleReject)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
