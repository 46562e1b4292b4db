package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Modes accepted by Validate.
const (
	ModeMigrate = "migrate"
	ModeResolve = "resolve"
	ModeReview  = "review"
	ModeSweep   = "sweep"
	ModeServe   = "serve"
	ModeWorker  = "worker"
)

// Validate checks the settings the given command mode depends on and
// reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch mode {
	case ModeMigrate, ModeReview:
		c.validateStore(add)
	case ModeResolve:
		c.validateStore(add)
		c.validateOracle(add)
	case ModeSweep:
		c.validateStore(add)
		c.validateSweeps(add)
	case ModeServe:
		c.validateStore(add)
		c.validateOracle(add)
		c.validateSweeps(add)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be between 1 and 65535")
		}
	case ModeWorker:
		c.validateStore(add)
		c.validateSweeps(add)
		if c.Temporal.HostPort == "" {
			add("temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			add("temporal.task_queue is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required (sqlite file path)")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
}

func (c *Config) validateOracle(add func(string, ...any)) {
	switch c.Oracle.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
	case "perplexity":
		if c.Perplexity.Key == "" {
			add("perplexity.key is required")
		}
	default:
		add("oracle.provider must be anthropic or perplexity, got %q", c.Oracle.Provider)
	}
	if t := c.Resolver.ConfidenceThreshold; t <= 0 || t > 1 {
		add("resolver.confidence_threshold must be in (0, 1]")
	}
	if c.Resolver.DailyExpensiveCap < 0 {
		add("resolver.daily_expensive_cap must be >= 0")
	}
}

func (c *Config) validateSweeps(add func(string, ...any)) {
	if c.Jina.Key == "" && c.Google.Key == "" {
		add("jina.key or google.key is required for search sweeps")
	}
	if c.Anthropic.Key == "" {
		add("anthropic.key is required for extraction")
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
		add("batch.concurrency must be between 1 and 50")
	}
	if c.Batch.SearchAttempts < 1 {
		add("batch.search_attempts must be >= 1")
	}
	if c.Batch.MaxJobAttempts < 0 {
		add("batch.max_job_attempts must be >= 0")
	}
	if c.Freshness.WindowDays < 1 {
		add("freshness.window_days must be >= 1")
	}
	if c.Crawl.RecrawlAfterDays < 0 {
		add("crawl.recrawl_after_days must be >= 0")
	}
}
