package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/classify"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/records"
)

// SearchConfidence is recorded for search hits that pass both probes.
const SearchConfidence = 0.6

// SearchSweep claims up to n jobs and runs their queries. Every probe-passing
// hit is kept as a candidate; the first one is proposed as the record's
// portal. A job with no usable hit is still done.
func (p *Pipeline) SearchSweep(ctx context.Context, n int) (*Summary, error) {
	jobs, err := p.deps.Store.ClaimJobs(ctx, p.size(n), p.maxAttempts())
	if err != nil {
		return nil, eris.Wrap(err, "batch: claim jobs")
	}
	return sweep(ctx, p, "search", jobs, func(j model.DiscoveryJob) string { return j.ID }, p.runJob)
}

func (p *Pipeline) runJob(ctx context.Context, job model.DiscoveryJob) error {
	if !job.Status.CanTransition(model.JobDone) || !job.Status.CanTransition(model.JobError) {
		return eris.Errorf("batch: job %s is %q, not claimed", job.ID, job.Status)
	}
	if err := p.searchJob(ctx, job); err != nil {
		// A cancelled job is failed too so a later sweep picks it up again.
		if ferr := p.deps.Store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); ferr != nil {
			return eris.Wrapf(ferr, "batch: fail job %s", job.ID)
		}
		return err
	}
	return eris.Wrapf(p.deps.Store.CompleteJob(ctx, job.ID), "batch: complete job %s", job.ID)
}

func (p *Pipeline) searchJob(ctx context.Context, job model.DiscoveryJob) error {
	results, provider, err := p.deps.Search.Search(ctx, job.Query)
	if err != nil {
		return eris.Wrapf(err, "batch: search %q", job.Query)
	}

	seen := make(map[string]bool, len(results))
	proposed := false
	for _, r := range results {
		u, ok := p.usableHit(ctx, r.URL)
		if !ok || seen[u] {
			continue
		}
		seen[u] = true

		vendor := classify.DetectVendor(u)
		if err := p.deps.Store.InsertCandidate(ctx, &model.CandidateRecord{
			JurisdictionID: job.JurisdictionID,
			SourceURL:      u,
			Tier:           model.SourceSearch,
			Query:          job.Query,
			Vendor:         vendor,
			Confidence:     SearchConfidence,
			Notes:          provider,
		}); err != nil {
			return eris.Wrap(err, "batch: insert search candidate")
		}

		if proposed {
			continue
		}
		raw, _ := json.Marshal(map[string]any{
			"tier":       model.SourceSearch,
			"confidence": SearchConfidence,
			"provider":   provider,
			"query":      job.Query,
		})
		if _, err := p.deps.Records.Propose(ctx, records.Proposal{
			JurisdictionID:   job.JurisdictionID,
			PortalURL:        u,
			Vendor:           vendor,
			SubmissionMethod: model.SubmissionOnline,
			Notes:            fmt.Sprintf("search (%s): %s", provider, job.Query),
			Raw:              raw,
		}); err != nil {
			return eris.Wrap(err, "batch: propose search hit")
		}
		proposed = true
	}

	zap.L().Debug("batch: search job done",
		zap.String("job_id", job.ID),
		zap.String("geoid", job.JurisdictionID),
		zap.String("provider", provider),
		zap.Int("results", len(results)),
		zap.Int("usable", len(seen)),
	)
	return nil
}

// usableHit normalizes and validates a hit and runs both probes.
func (p *Pipeline) usableHit(ctx context.Context, raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if normalized, ok := classify.NormalizeVendorRedirect(u); ok {
		u = normalized
	}
	valid, err := classify.Validate(u)
	if err != nil {
		return "", false
	}
	if !p.deps.Prober.Liveness(ctx, valid) || !p.deps.Prober.Content(ctx, valid) {
		return "", false
	}
	return valid, true
}
