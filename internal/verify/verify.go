// Package verify re-checks jurisdiction records against the live web and
// either marks them verified or invalidates them and requeues discovery.
package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portal-resolver/internal/classify"
	"github.com/sells-group/portal-resolver/internal/fetcher"
	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/offline"
	"github.com/sells-group/portal-resolver/internal/records"
	"github.com/sells-group/portal-resolver/internal/store"
)

// SnippetChars bounds the audit snippet stored on a verified record.
const SnippetChars = 500

// RequeueQuery is the discovery query enqueued for a failed record.
func RequeueQuery(name string) string {
	return name + " building permit portal"
}

// Store is the read/queue surface the verifier needs.
type Store interface {
	GetJurisdiction(ctx context.Context, geoid string) (*model.Jurisdiction, error)
	ListForVerification(ctx context.Context, recheckBefore time.Time, limit int) ([]model.JurisdictionRecord, error)
	ListRecords(ctx context.Context, jurisdictionID string) ([]model.JurisdictionRecord, error)
	RequeueJob(ctx context.Context, jurisdictionID string, level model.Level, query string) (*model.DiscoveryJob, error)
}

// Options configure a sweep.
type Options struct {
	Concurrency int
	// RecheckAfter is how old a verification may get before it is re-run.
	RecheckAfter time.Duration
}

// Result is the verdict for one record. Skipped is set when a verified
// sibling already answers the jurisdiction; the record is left for review.
type Result struct {
	RecordID string       `json:"record_id"`
	Verified bool         `json:"verified"`
	Skipped  bool         `json:"skipped,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Vendor   model.Vendor `json:"vendor,omitempty"`
	Hits     []string     `json:"hits,omitempty"`
	Snippet  string       `json:"snippet,omitempty"`
}

// Summary counts a sweep's outcomes.
type Summary struct {
	Processed   int `json:"processed"`
	Verified    int `json:"verified"`
	Invalidated int `json:"invalidated"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// Verifier runs verification sweeps.
type Verifier struct {
	store    Store
	records  *records.Resolver
	fetcher  fetcher.Fetcher
	resolver fetcher.Resolver
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// New creates a Verifier.
func New(s Store, r *records.Resolver, f fetcher.Fetcher, dns fetcher.Resolver, m *metrics.Metrics, opts Options) *Verifier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.RecheckAfter <= 0 {
		opts.RecheckAfter = 30 * 24 * time.Hour
	}
	return &Verifier{
		store:    s,
		records:  r,
		fetcher:  f,
		resolver: dns,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep verifies up to size records: unverified ones with a portal URL and
// verified ones past the recheck age. One record's failure never stops
// the sweep.
func (v *Verifier) Sweep(ctx context.Context, size int) (*Summary, error) {
	recs, err := v.store.ListForVerification(ctx, v.now().Add(-v.opts.RecheckAfter), size)
	if err != nil {
		return nil, eris.Wrap(err, "verify: list records")
	}

	var verified, invalidated, skipped, failed atomic.Int64
	var mu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for i := range recs {
		rec := recs[i]
		g.Go(func() error {
			res, err := v.Verify(gctx, &rec)
			mu.Lock()
			processed++
			mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				v.metrics.IncSweepItem("verify", "error")
				zap.L().Warn("verify: record failed",
					zap.String("record_id", rec.ID),
					zap.String("geoid", rec.JurisdictionID),
					zap.Error(err),
				)
			case res.Skipped:
				skipped.Add(1)
				v.metrics.IncSweepItem("verify", "skipped")
			case res.Verified:
				verified.Add(1)
				v.metrics.IncSweepItem("verify", "verified")
			default:
				invalidated.Add(1)
				v.metrics.IncSweepItem("verify", "invalidated")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "verify: sweep")
	}

	sum := &Summary{
		Processed:   processed,
		Verified:    int(verified.Load()),
		Invalidated: int(invalidated.Load()),
		Skipped:     int(skipped.Load()),
		Errors:      int(failed.Load()),
	}
	zap.L().Info("verify: sweep complete",
		zap.Int("processed", sum.Processed),
		zap.Int("verified", sum.Verified),
		zap.Int("invalidated", sum.Invalidated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
	)
	return sum, nil
}

// Verify checks one record and applies the verdict. An unverified record
// competing with a verified one is never promoted or invalidated here;
// that choice belongs to review. The returned error is set only when the
// verdict could not be written.
func (v *Verifier) Verify(ctx context.Context, rec *model.JurisdictionRecord) (*Result, error) {
	if !rec.Verified {
		holder, err := v.verifiedSibling(ctx, rec)
		if err != nil {
			return nil, err
		}
		if holder != "" {
			zap.L().Debug("verify: skipping challenger",
				zap.String("record_id", rec.ID),
				zap.String("verified_id", holder),
			)
			return &Result{RecordID: rec.ID, Skipped: true, Reason: "jurisdiction verified by " + holder}, nil
		}
	}

	res := v.check(ctx, rec)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "verify: check")
	}

	if res.Verified {
		_, err := v.records.MarkVerified(ctx, rec.ID, store.VerifyUpdate{
			Vendor:           res.Vendor,
			SubmissionMethod: model.SubmissionOnline,
			Snippet:          res.Snippet,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "verify: mark verified %s", rec.ID)
		}
		return res, nil
	}

	if err := v.invalidateAndRequeue(ctx, rec, res.Reason); err != nil {
		return nil, err
	}
	return res, nil
}

// verifiedSibling returns the id of another authoritative record for the
// record's jurisdiction, or "".
func (v *Verifier) verifiedSibling(ctx context.Context, rec *model.JurisdictionRecord) (string, error) {
	recs, err := v.store.ListRecords(ctx, rec.JurisdictionID)
	if err != nil {
		return "", eris.Wrapf(err, "verify: list records %s", rec.JurisdictionID)
	}
	for i := range recs {
		if recs[i].ID != rec.ID && recs[i].Authoritative() {
			return recs[i].ID, nil
		}
	}
	return "", nil
}

// check runs DNS, fetch, content-type and keyword checks.
func (v *Verifier) check(ctx context.Context, rec *model.JurisdictionRecord) *Result {
	res := &Result{RecordID: rec.ID}
	url := rec.Portal()

	host, err := fetcher.HostOf(url)
	if err != nil {
		res.Reason = "unparseable url"
		return res
	}
	if v.resolver != nil {
		if _, err := v.resolver.LookupHost(ctx, host); err != nil {
			res.Reason = "dns lookup failed: " + host
			return res
		}
	}

	resp, err := v.fetcher.Fetch(ctx, fetcher.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		res.Reason = "fetch failed: " + eris.Cause(err).Error()
		return res
	}
	if !resp.OK() {
		res.Reason = fmt.Sprintf("http %d", resp.Status)
		return res
	}
	if !resp.IsHTML() {
		res.Reason = "not html: " + resp.MediaType()
		return res
	}

	body := string(resp.Body)
	text := body
	if page, err := offline.ExtractPage(body, url); err == nil && page.Text != "" {
		text = page.Text
	}
	res.Hits = classify.KeywordHits(text, classify.VerifyKeywords)
	if len(res.Hits) == 0 {
		res.Reason = "no portal keywords"
		return res
	}

	res.Verified = true
	res.Vendor = classify.DetectVendorFromContent(body, url)
	res.Snippet = snippet(text, res.Hits[0], SnippetChars)
	return res
}

func (v *Verifier) invalidateAndRequeue(ctx context.Context, rec *model.JurisdictionRecord, reason string) error {
	if _, err := v.records.Invalidate(ctx, rec.ID, "verify: "+reason); err != nil {
		return eris.Wrapf(err, "verify: invalidate %s", rec.ID)
	}
	j, err := v.store.GetJurisdiction(ctx, rec.JurisdictionID)
	if err != nil {
		return eris.Wrapf(err, "verify: load jurisdiction %s", rec.JurisdictionID)
	}
	job, err := v.store.RequeueJob(ctx, j.GeoID, j.Level, RequeueQuery(j.Name))
	if err != nil {
		return eris.Wrapf(err, "verify: requeue %s", j.GeoID)
	}
	zap.L().Info("verify: invalidated and requeued",
		zap.String("record_id", rec.ID),
		zap.String("geoid", j.GeoID),
		zap.String("job_id", job.ID),
		zap.String("reason", reason),
	)
	return nil
}

// snippet returns up to n characters of text starting a little before the
// first occurrence of keyword.
func snippet(text, keyword string, n int) string {
	start := strings.Index(strings.ToLower(text), keyword)
	if start < 0 {
		start = 0
	}
	start = min(max(0, start-80), len(text))
	for start > 0 && start < len(text) && !utf8.RuneStart(text[start]) {
		start--
	}
	out := text[start:]
	count := 0
	for i := range out {
		if count == n {
			return strings.TrimSpace(out[:i])
		}
		count++
	}
	return strings.TrimSpace(out)
}
