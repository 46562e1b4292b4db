package search

import (
	"context"

	"github.com/sells-group/portal-resolver/pkg/jina"
)

// JinaProvider searches the web through Jina.
type JinaProvider struct {
	client jina.Client
	count  int
}

// NewJina creates a JinaProvider returning up to count results.
func NewJina(client jina.Client, count int) *JinaProvider {
	if count <= 0 {
		count = 10
	}
	return &JinaProvider{client: client, count: count}
}

// Name implements Provider.
func (p *JinaProvider) Name() string { return "jina" }

// Search implements Provider.
func (p *JinaProvider) Search(ctx context.Context, query string) ([]Result, error) {
	resp, err := p.client.Search(ctx, query, jina.WithCount(p.count))
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		out = append(out, Result{URL: r.URL, Title: r.Title, Snippet: snippet})
	}
	return out, nil
}
