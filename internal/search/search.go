// Package search finds candidate portal URLs for a seed query through an
// ordered chain of providers.
package search

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/resilience"
)

// Result is one search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Provider runs a web search.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// ErrNoProviders is returned by an empty chain.
var ErrNoProviders = eris.New("search: no providers configured")

type link struct {
	provider Provider
	breaker  *resilience.Breaker
}

// Chain queries providers in order. A provider that errors or returns no
// results hands over to the next one. Each call is retried on transient
// errors and guarded by a per-provider breaker.
type Chain struct {
	links []link
	retry resilience.RetryConfig
}

// NewChain builds a chain from primary to last fallback with the given
// retry budget.
func NewChain(retry resilience.RetryConfig, providers ...Provider) *Chain {
	c := &Chain{retry: retry}
	for _, p := range providers {
		c.links = append(c.links, link{provider: p, breaker: resilience.NewBreaker(5, 0)})
	}
	return c
}

// Search returns the first non-empty result set. An empty slice with a nil
// error means every provider answered but found nothing.
func (c *Chain) Search(ctx context.Context, query string) ([]Result, string, error) {
	if len(c.links) == 0 {
		return nil, "", ErrNoProviders
	}

	var errs []error
	answered := false
	for _, l := range c.links {
		name := l.provider.Name()
		cfg := c.retry
		cfg.OnRetry = resilience.RetryLogger("search", name)

		results, err := resilience.Call(ctx, l.breaker, func(ctx context.Context) ([]Result, error) {
			return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]Result, error) {
				return l.provider.Search(ctx, query)
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", eris.Wrap(ctx.Err(), "search: cancelled")
			}
			zap.L().Warn("search: provider failed, trying next",
				zap.String("provider", name),
				zap.String("query", query),
				zap.Error(err),
			)
			errs = append(errs, eris.Wrapf(err, "search: %s", name))
			continue
		}
		answered = true
		if len(results) > 0 {
			return results, name, nil
		}
	}
	if answered {
		return nil, "", nil
	}
	return nil, "", errors.Join(errs...)
}
