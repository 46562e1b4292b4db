package batch

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/blob"
	"github.com/sells-group/portal-resolver/internal/fetcher"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/resilience"
)

// crawlMaxBytes bounds one crawled document.
const crawlMaxBytes = 20 << 20

// CrawlSweep fetches up to n due endpoints, stores each body in the blob
// store and records a snapshot. New endpoints come first, then crawled ones
// older than RecrawlAfter, then failed ones. Vendor portals go through the
// browser renderer when one is configured; PDFs are always fetched raw.
func (p *Pipeline) CrawlSweep(ctx context.Context, n int) (*Summary, error) {
	eps, err := p.deps.Store.ListEndpointsDue(ctx, p.now().Add(-p.opts.RecrawlAfter), p.size(n))
	if err != nil {
		return nil, eris.Wrap(err, "batch: list endpoints")
	}
	return sweep(ctx, p, "crawl", eps, func(e model.PortalEndpoint) string { return e.URL }, p.crawl)
}

func (p *Pipeline) crawl(ctx context.Context, ep model.PortalEndpoint) error {
	snap, err := p.capture(ctx, ep)
	if err != nil {
		if ctx.Err() == nil {
			if serr := p.setEndpointStatus(ctx, ep, model.EndpointError, err.Error(), p.now()); serr != nil {
				return eris.Wrapf(serr, "batch: mark endpoint %s failed", ep.ID)
			}
		}
		return err
	}
	if err := p.deps.Store.InsertSnapshot(ctx, snap); err != nil {
		return eris.Wrap(err, "batch: insert snapshot")
	}
	return eris.Wrapf(p.setEndpointStatus(ctx, ep, model.EndpointCrawled, "", snap.CreatedAt),
		"batch: mark endpoint %s crawled", ep.ID)
}

func (p *Pipeline) setEndpointStatus(ctx context.Context, ep model.PortalEndpoint, next model.EndpointStatus, lastErr string, at time.Time) error {
	if !ep.Status.CanTransition(next) {
		return eris.Errorf("batch: endpoint %s cannot move from %q to %q", ep.ID, ep.Status, next)
	}
	return p.deps.Store.SetEndpointStatus(ctx, ep.ID, next, lastErr, at)
}

func (p *Pipeline) capture(ctx context.Context, ep model.PortalEndpoint) (*model.PortalSnapshot, error) {
	cfg := p.opts.FetchRetry
	cfg.OnRetry = resilience.RetryLogger("crawl", ep.URL)

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*fetcher.Response, error) {
		resp, err := p.fetch(ctx, ep)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, resilience.StatusError("crawl", resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "batch: crawl %s", ep.URL)
	}
	if len(resp.Body) == 0 {
		return nil, eris.Errorf("batch: crawl %s: empty body", ep.URL)
	}

	contentType := resp.MediaType()
	ext := "html"
	if contentType == "application/pdf" || ep.Vendor == model.VendorPDF {
		contentType = "application/pdf"
		ext = "pdf"
	}
	ref, err := p.deps.Blobs.Put(ctx, resp.Body, ext)
	if err != nil {
		return nil, eris.Wrap(err, "batch: store crawled body")
	}

	zap.L().Debug("batch: crawled endpoint",
		zap.String("url", ep.URL),
		zap.String("vendor", string(ep.Vendor)),
		zap.Int("bytes", len(resp.Body)),
		zap.String("ref", ref),
	)
	return &model.PortalSnapshot{
		JurisdictionID: ep.JurisdictionID,
		URL:            ep.URL,
		Vendor:         ep.Vendor,
		ContentHash:    blob.Hash(resp.Body),
		StorageRef:     ref,
		ContentType:    contentType,
		CreatedAt:      p.now(),
	}, nil
}

func (p *Pipeline) fetch(ctx context.Context, ep model.PortalEndpoint) (*fetcher.Response, error) {
	if ep.Vendor != model.VendorPDF && p.deps.Renderer != nil {
		return p.deps.Renderer.Render(ctx, ep.URL)
	}
	return p.deps.Fetcher.Fetch(ctx, fetcher.Request{Method: http.MethodGet, URL: ep.URL, MaxBytes: crawlMaxBytes})
}
