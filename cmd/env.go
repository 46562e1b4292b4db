package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/batch"
	"github.com/sells-group/portal-resolver/internal/blob"
	"github.com/sells-group/portal-resolver/internal/config"
	"github.com/sells-group/portal-resolver/internal/extract"
	"github.com/sells-group/portal-resolver/internal/fetcher"
	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/internal/ocr"
	"github.com/sells-group/portal-resolver/internal/oracle"
	"github.com/sells-group/portal-resolver/internal/probe"
	"github.com/sells-group/portal-resolver/internal/records"
	"github.com/sells-group/portal-resolver/internal/resilience"
	"github.com/sells-group/portal-resolver/internal/review"
	"github.com/sells-group/portal-resolver/internal/search"
	"github.com/sells-group/portal-resolver/internal/store"
	"github.com/sells-group/portal-resolver/internal/tiers"
	"github.com/sells-group/portal-resolver/internal/usage"
	"github.com/sells-group/portal-resolver/internal/verify"
	anthropicpkg "github.com/sells-group/portal-resolver/pkg/anthropic"
	"github.com/sells-group/portal-resolver/pkg/google"
	"github.com/sells-group/portal-resolver/pkg/jina"
	"github.com/sells-group/portal-resolver/pkg/perplexity"
)

// appEnv holds the store and every component built on top of it. Fields a
// mode does not need stay nil.
type appEnv struct {
	Store    store.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Records  *records.Resolver
	Resolver *tiers.Controller
	Batch    *batch.Pipeline
	Verifier *verify.Verifier
	Review   *review.Workflow

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "portal.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates the config for mode, opens and migrates the store, and
// builds the components mode uses. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, closers: []func() error{st.Close}}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Registry = prometheus.NewRegistry()
	env.Metrics = metrics.New(env.Registry)
	env.Records = records.New(st)
	env.Review = review.New(st, env.Records)

	if mode == config.ModeMigrate || mode == config.ModeReview {
		return env, nil
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.Crawl.Timeout(),
	})
	prober := probe.New(f, cfg.Resolver.ProbeChars)

	if err := buildResolver(ctx, env, anthropicClient, f, prober); err != nil {
		env.Close()
		return nil, err
	}
	if mode == config.ModeResolve {
		return env, nil
	}

	if err := buildSweeps(env, anthropicClient, f, prober); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func buildResolver(ctx context.Context, env *appEnv, ac anthropicpkg.Client, f fetcher.Fetcher, prober probe.Prober) error {
	var orc oracle.Oracle
	switch cfg.Oracle.Provider {
	case "perplexity":
		pc := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		orc = oracle.NewPerplexity(pc, perplexity.ModelSonar, cfg.Perplexity.Model, env.Metrics)
	default:
		orc = oracle.NewAnthropic(ac, cfg.Anthropic.CheapModel, cfg.Anthropic.ExpensiveModel, env.Metrics)
	}

	var counter usage.Counter
	if cfg.Redis.URL != "" {
		rc, err := usage.NewRedisCounterFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			return eris.Wrap(err, "init redis usage counter")
		}
		env.closers = append(env.closers, rc.Close)
		counter = rc
		zap.L().Info("expensive-tier usage shared through redis")
	} else {
		counter = usage.NewStoreCounter(env.Store)
	}

	env.Resolver = tiers.New(tiers.Deps{
		Store:   env.Store,
		Oracle:  orc,
		Prober:  prober,
		Fetcher: f,
		Usage:   counter,
		Records: env.Records,
		Metrics: env.Metrics,
	}, tiers.Options{
		ConfidenceThreshold: cfg.Resolver.ConfidenceThreshold,
		DailyExpensiveCap:   cfg.Resolver.DailyExpensiveCap,
	})
	return nil
}

func buildSweeps(env *appEnv, ac anthropicpkg.Client, f fetcher.Fetcher, prober probe.Prober) error {
	var providers []search.Provider
	if cfg.Jina.Key != "" {
		jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
		if cfg.Jina.SearchBaseURL != "" {
			jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		providers = append(providers, search.NewJina(jina.NewClient(cfg.Jina.Key, jinaOpts...), 0))
	}
	if cfg.Google.Key != "" {
		providers = append(providers, search.NewPlaces(google.NewClient(cfg.Google.Key), 0))
	} else {
		zap.L().Debug("PORTAL_GOOGLE_KEY not set, Places fallback disabled")
	}

	blobs, err := blob.NewLocal(cfg.Crawl.BlobDir)
	if err != nil {
		return eris.Wrap(err, "init blob store")
	}

	var renderer fetcher.Renderer
	if cfg.Crawl.Render {
		br, err := fetcher.NewBrowserRenderer(fetcher.BrowserOptions{
			Timeout:  cfg.Crawl.Timeout(),
			MaxPages: cfg.Crawl.MaxPages,
		})
		if err != nil {
			zap.L().Warn("browser renderer unavailable, crawling without javascript", zap.Error(err))
		} else {
			env.closers = append(env.closers, br.Close)
			renderer = br
		}
	}

	var templates []string
	if cfg.Batch.TemplatesFile != "" {
		templates, err = batch.LoadTemplates(cfg.Batch.TemplatesFile)
		if err != nil {
			return err
		}
	}

	env.Batch = batch.New(batch.Deps{
		Store:     env.Store,
		Search:    search.NewChain(resilience.ForAttempts(cfg.Batch.SearchAttempts), providers...),
		Prober:    prober,
		Records:   env.Records,
		Fetcher:   f,
		Renderer:  renderer,
		Blobs:     blobs,
		OCR:       ocr.NewPdfToText(cfg.OCR.PdfToTextPath),
		Extractor: extract.NewAnthropic(ac, cfg.Anthropic.ExtractModel),
		Metrics:   env.Metrics,
	}, batch.Options{
		BatchSize:       cfg.Batch.Size,
		Concurrency:     cfg.Batch.Concurrency,
		MaxJobAttempts:  cfg.Batch.MaxJobAttempts,
		FreshnessWindow: cfg.Freshness.Window(),
		RecrawlAfter:    cfg.Crawl.RecrawlAfter(),
		Templates:       templates,
	})

	env.Verifier = verify.New(env.Store, env.Records, f, fetcher.NetResolver{}, env.Metrics, verify.Options{
		Concurrency:  cfg.Batch.Concurrency,
		RecheckAfter: cfg.Verify.RecheckAfter(),
	})
	return nil
}
