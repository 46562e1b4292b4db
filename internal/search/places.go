package search

import (
	"context"
	"strings"

	"github.com/sells-group/portal-resolver/pkg/google"
)

// PlacesProvider looks the query up as a government office in Google Places
// and returns the offices' website URIs. It only finds official homepages,
// so it is used as a fallback.
type PlacesProvider struct {
	client google.Client
	max    int
}

// NewPlaces creates a PlacesProvider.
func NewPlaces(client google.Client, max int) *PlacesProvider {
	if max <= 0 {
		max = 5
	}
	return &PlacesProvider{client: client, max: max}
}

// Name implements Provider.
func (p *PlacesProvider) Name() string { return "google_places" }

// Search implements Provider.
func (p *PlacesProvider) Search(ctx context.Context, query string) ([]Result, error) {
	resp, err := p.client.TextSearch(ctx, google.TextSearchRequest{
		TextQuery:      query,
		MaxResultCount: p.max,
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []Result
	for _, pl := range resp.Places {
		uri := strings.TrimSpace(pl.WebsiteURI)
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		out = append(out, Result{URL: uri, Title: pl.DisplayName.Text, Snippet: pl.FormattedAddress})
	}
	return out, nil
}
