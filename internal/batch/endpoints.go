package batch

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/classify"
	"github.com/sells-group/portal-resolver/internal/model"
)

// ClassifyEndpoints turns the candidates of a county and its places into
// crawlable endpoints. URLs outside the endpoint vendor set are skipped and
// known (jurisdiction, url) pairs are left alone. It returns the number of
// new endpoints.
func (p *Pipeline) ClassifyEndpoints(ctx context.Context, countyGeoID string) (int64, error) {
	countyGeoID = strings.TrimSpace(countyGeoID)
	if countyGeoID == "" {
		return 0, eris.New("batch: county geoid is required")
	}
	cands, err := p.deps.Store.ListCountyCandidates(ctx, countyGeoID)
	if err != nil {
		return 0, eris.Wrapf(err, "batch: list candidates for county %s", countyGeoID)
	}

	seen := make(map[string]bool, len(cands))
	var eps []model.PortalEndpoint
	for _, c := range cands {
		vendor := classify.EndpointVendor(c.SourceURL)
		if vendor == "" {
			continue
		}
		key := c.JurisdictionID + "|" + c.SourceURL
		if seen[key] {
			continue
		}
		seen[key] = true
		eps = append(eps, model.PortalEndpoint{
			JurisdictionID: c.JurisdictionID,
			URL:            c.SourceURL,
			Vendor:         vendor,
			Status:         model.EndpointUnknown,
		})
	}

	n, err := p.deps.Store.InsertEndpoints(ctx, eps)
	if err != nil {
		return 0, eris.Wrapf(err, "batch: insert endpoints for county %s", countyGeoID)
	}
	zap.L().Info("batch: classified endpoints",
		zap.String("county", countyGeoID),
		zap.Int("candidates", len(cands)),
		zap.Int("classified", len(eps)),
		zap.Int64("inserted", n),
	)
	return n, nil
}
