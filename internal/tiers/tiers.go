// Package tiers runs the interactive resolution for one jurisdiction:
// cache, offline homepage check, cheap oracle query and, when the escalation
// policy asks for it, the expensive oracle query.
package tiers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/classify"
	"github.com/sells-group/portal-resolver/internal/fetcher"
	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/offline"
	"github.com/sells-group/portal-resolver/internal/oracle"
	"github.com/sells-group/portal-resolver/internal/probe"
	"github.com/sells-group/portal-resolver/internal/records"
	"github.com/sells-group/portal-resolver/internal/usage"
)

// DefaultConfidenceThreshold is the cheap-tier confidence below which a
// result is escalated.
const DefaultConfidenceThreshold = 0.70

// ErrInvalidJurisdiction is returned for a missing or malformed geoid.
var ErrInvalidJurisdiction = eris.New("tiers: invalid jurisdiction id")

// Escalation reasons.
const (
	ReasonInvalid       = "invalid_url"
	ReasonProbeFailed   = "probe_failed"
	ReasonLowConfidence = "low_confidence"
	ReasonOAuthRedirect = "oauth_redirect"
)

// Store is the read/append surface the controller needs. Record writes go
// through records.Resolver.
type Store interface {
	GetJurisdiction(ctx context.Context, geoid string) (*model.Jurisdiction, error)
	ListRecords(ctx context.Context, jurisdictionID string) ([]model.JurisdictionRecord, error)
	InsertCandidate(ctx context.Context, c *model.CandidateRecord) error
}

// Deps are the controller's collaborators.
type Deps struct {
	Store   Store
	Oracle  oracle.Oracle
	Prober  probe.Prober
	Fetcher fetcher.Fetcher
	Usage   usage.Counter
	Records *records.Resolver
	Metrics *metrics.Metrics
}

// Options tune the escalation policy.
type Options struct {
	ConfidenceThreshold float64
	// DailyExpensiveCap bounds expensive-tier calls per UTC day; 0 disables.
	DailyExpensiveCap int64
}

// Result is the outcome of one resolution run.
type Result struct {
	GeoID            string                    `json:"geoid"`
	Tier             model.ResolutionTier      `json:"tier"`
	PortalURL        string                    `json:"portal_url,omitempty"`
	ManualInfoURL    string                    `json:"manual_info_url,omitempty"`
	Vendor           model.Vendor              `json:"vendor"`
	SubmissionMethod model.SubmissionMethod    `json:"submission_method"`
	Confidence       float64                   `json:"confidence"`
	Notes            string                    `json:"notes,omitempty"`
	Escalations      []string                  `json:"escalations,omitempty"`
	Record           *model.JurisdictionRecord `json:"record,omitempty"`
}

// Controller resolves jurisdictions one at a time. It holds no per-run
// state, so concurrent runs for different jurisdictions are independent.
type Controller struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a Controller.
func New(deps Deps, opts Options) *Controller {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Controller{deps: deps, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// candidate is an evaluated oracle answer.
type candidate struct {
	tier   oracle.Tier
	answer *oracle.Answer
	url    string
	vendor model.Vendor
	valid  bool
	live   bool
	portal bool
}

func (c *candidate) usable() bool {
	return c != nil && c.valid && c.live && c.portal
}

// Resolve runs the tier state machine for geoid. force skips the cache.
// Oracle errors other than an expensive-tier rate limit abort the run; no
// record is written if ctx ends before a terminal state.
func (c *Controller) Resolve(ctx context.Context, geoid string, force bool) (*Result, error) {
	geoid = strings.TrimSpace(geoid)
	if geoid == "" || strings.ContainsAny(geoid, " /?#") {
		return nil, eris.Wrapf(ErrInvalidJurisdiction, "tiers: %q", geoid)
	}
	j, err := c.deps.Store.GetJurisdiction(ctx, geoid)
	if err != nil {
		return nil, eris.Wrapf(err, "tiers: load jurisdiction %s", geoid)
	}
	log := zap.L().With(zap.String("geoid", geoid))

	if !force {
		if res, err := c.fromCache(ctx, geoid); err != nil || res != nil {
			if res != nil {
				c.deps.Metrics.IncResolution(string(res.Tier))
				log.Debug("tiers: cache hit", zap.String("url", res.PortalURL))
			}
			return res, err
		}
	}

	if res, err := c.offlineCheck(ctx, j, log); err != nil || res != nil {
		return res, err
	}

	cheap, err := c.query(ctx, oracle.Query{Jurisdiction: *j, Tier: oracle.TierCheap})
	if err != nil {
		return nil, err
	}

	reasons := c.escalationReasons(cheap)
	if len(reasons) == 0 {
		return c.accept(ctx, j, cheap, nil)
	}
	for _, r := range reasons {
		c.deps.Metrics.IncEscalation(r)
	}
	log.Info("tiers: escalating", zap.Strings("reasons", reasons), zap.String("url", cheap.url))

	expensive, err := c.escalate(ctx, j, cheap, log)
	if err != nil {
		return nil, err
	}
	if expensive.usable() && expensive.answer.Confidence >= cheapBaseline(cheap) {
		return c.accept(ctx, j, expensive, reasons)
	}
	if cheap.usable() {
		return c.accept(ctx, j, cheap, reasons)
	}
	return c.none(ctx, j, cheap, expensive, reasons)
}

func (c *Controller) fromCache(ctx context.Context, geoid string) (*Result, error) {
	recs, err := c.deps.Store.ListRecords(ctx, geoid)
	if err != nil {
		return nil, eris.Wrapf(err, "tiers: cache lookup %s", geoid)
	}
	var hit *model.JurisdictionRecord
	for i := range recs {
		rec := &recs[i]
		if rec.Invalid || rec.PortalURL == nil {
			continue
		}
		if rec.Verified {
			hit = rec
			break
		}
		if hit == nil {
			hit = rec
		}
	}
	if hit == nil {
		return nil, nil
	}
	return resultFromRecord(geoid, model.ResolvedCache, hit, storedConfidence(hit.Raw), nil), nil
}

// storedConfidence reads the confidence the record was written with from
// its raw payload: the oracle's top-level score or the offline verdict's.
// Records without one report 0.
func storedConfidence(raw []byte) float64 {
	if len(raw) == 0 {
		return 0
	}
	var payload struct {
		Confidence *float64 `json:"confidence"`
		Verdict    *struct {
			Confidence float64 `json:"confidence"`
		} `json:"verdict"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0
	}
	switch {
	case payload.Confidence != nil:
		return *payload.Confidence
	case payload.Verdict != nil:
		return payload.Verdict.Confidence
	}
	return 0
}

// offlineCheck fetches the homepage and runs the offline detector. Fetch
// failures are logged and the run continues with the oracle.
func (c *Controller) offlineCheck(ctx context.Context, j *model.Jurisdiction, log *zap.Logger) (*Result, error) {
	if j.Homepage == "" || c.deps.Fetcher == nil {
		return nil, nil
	}
	resp, err := c.deps.Fetcher.Fetch(ctx, fetcher.Request{Method: http.MethodGet, URL: j.Homepage})
	if err != nil || !resp.OK() || !resp.IsHTML() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "tiers: offline check")
		}
		log.Debug("tiers: homepage unavailable", zap.String("url", j.Homepage), zap.Error(err))
		return nil, nil
	}
	page, err := offline.ExtractPage(string(resp.Body), j.Homepage)
	if err != nil {
		log.Debug("tiers: homepage unparseable", zap.Error(err))
		return nil, nil
	}
	verdict := offline.Detect(page.Text, page.Links)
	if !verdict.Offline {
		return nil, nil
	}

	notes := fmt.Sprintf("offline detector: pdf ratio %.2f, offline phrases %d", verdict.PDFRatio, verdict.OfflineHits)
	c.appendCandidate(ctx, &model.CandidateRecord{
		JurisdictionID: j.GeoID,
		SourceURL:      j.Homepage,
		Tier:           model.SourceOffline,
		Vendor:         model.VendorPDF,
		Confidence:     verdict.Confidence,
		Notes:          notes,
	})
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "tiers: offline check")
	}

	raw, _ := json.Marshal(map[string]any{"tier": model.ResolvedOffline, "verdict": verdict})
	rec, err := c.deps.Records.Upsert(ctx, records.Proposal{
		JurisdictionID:   j.GeoID,
		ManualInfoURL:    j.Homepage,
		Vendor:           model.VendorPDF,
		SubmissionMethod: model.SubmissionOfflineOnly,
		Notes:            notes,
		Raw:              raw,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tiers: persist offline %s", j.GeoID)
	}
	c.deps.Metrics.IncResolution(string(model.ResolvedOffline))
	log.Info("tiers: offline-only jurisdiction", zap.Float64("confidence", verdict.Confidence))
	return resultFromRecord(j.GeoID, model.ResolvedOffline, rec, verdict.Confidence, nil), nil
}

// query asks the oracle, records the answer as a candidate and evaluates it.
func (c *Controller) query(ctx context.Context, q oracle.Query) (*candidate, error) {
	ans, err := c.deps.Oracle.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "tiers: %s query for %s", q.Tier, q.Jurisdiction.GeoID)
	}
	cand := c.evaluate(ctx, q.Tier, ans)
	c.appendCandidate(ctx, &model.CandidateRecord{
		JurisdictionID: q.Jurisdiction.GeoID,
		SourceURL:      cand.url,
		Tier:           q.Tier.SourceTier(),
		Vendor:         cand.vendor,
		Confidence:     ans.Confidence,
		Notes:          ans.Notes,
	})
	return cand, nil
}

// evaluate normalizes, validates and probes an answer. Validation failures
// are negative results, not errors.
func (c *Controller) evaluate(ctx context.Context, tier oracle.Tier, ans *oracle.Answer) *candidate {
	cand := &candidate{tier: tier, answer: ans, url: strings.TrimSpace(ans.URL), vendor: model.VendorUnknown}
	if cand.url == "" {
		return cand
	}
	if normalized, ok := classify.NormalizeVendorRedirect(cand.url); ok {
		cand.url = normalized
	}
	valid, err := classify.Validate(cand.url)
	if err != nil {
		return cand
	}
	cand.url = valid
	cand.valid = true
	cand.vendor = classify.DetectVendor(valid)
	cand.live = c.deps.Prober.Liveness(ctx, valid)
	if cand.live {
		cand.portal = c.deps.Prober.Content(ctx, valid)
	}
	return cand
}

func (c *Controller) escalationReasons(cheap *candidate) []string {
	var reasons []string
	switch {
	case !cheap.valid:
		reasons = append(reasons, ReasonInvalid)
	case !cheap.live || !cheap.portal:
		reasons = append(reasons, ReasonProbeFailed)
	}
	if cheap.answer.Confidence < c.opts.ConfidenceThreshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if classify.HasOAuthMarker(cheap.answer.URL) {
		reasons = append(reasons, ReasonOAuthRedirect)
	}
	return reasons
}

// escalate runs the expensive tier unless the daily cap is spent. A rate
// limit or spent cap returns an empty candidate so the caller falls back.
func (c *Controller) escalate(ctx context.Context, j *model.Jurisdiction, cheap *candidate, log *zap.Logger) (*candidate, error) {
	skipped := &candidate{tier: oracle.TierExpensive, answer: &oracle.Answer{}}
	if c.deps.Usage != nil {
		day := usage.Day(c.now())
		exhausted, err := usage.Exhausted(ctx, c.deps.Usage, day, c.opts.DailyExpensiveCap)
		if err != nil {
			return nil, eris.Wrap(err, "tiers: check daily cap")
		}
		if exhausted {
			c.deps.Metrics.IncExpensiveSkipped()
			log.Info("tiers: daily expensive cap reached, skipping escalation", zap.Int64("cap", c.opts.DailyExpensiveCap))
			return skipped, nil
		}
		if _, err := c.deps.Usage.Incr(ctx, day); err != nil {
			return nil, eris.Wrap(err, "tiers: count expensive call")
		}
	}

	exp, err := c.query(ctx, oracle.Query{Jurisdiction: *j, Tier: oracle.TierExpensive, Previous: cheap.answer})
	if errors.Is(err, oracle.ErrRateLimited) {
		log.Warn("tiers: expensive tier rate limited, falling back to cheap result", zap.Error(err))
		return skipped, nil
	}
	return exp, err
}

func (c *Controller) accept(ctx context.Context, j *model.Jurisdiction, cand *candidate, escalations []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "tiers: accept")
	}
	tier := model.ResolvedCheap
	if cand.tier == oracle.TierExpensive {
		tier = model.ResolvedExpensive
	}
	raw, _ := json.Marshal(map[string]any{
		"tier":        tier,
		"confidence":  cand.answer.Confidence,
		"model":       cand.answer.Model,
		"raw_url":     cand.answer.URL,
		"escalations": escalations,
	})
	rec, err := c.deps.Records.Upsert(ctx, records.Proposal{
		JurisdictionID:   j.GeoID,
		PortalURL:        cand.url,
		Vendor:           cand.vendor,
		SubmissionMethod: model.SubmissionOnline,
		Notes:            cand.answer.Notes,
		Raw:              raw,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tiers: persist %s result for %s", tier, j.GeoID)
	}
	c.deps.Metrics.IncResolution(string(tier))
	zap.L().Info("tiers: resolved",
		zap.String("geoid", j.GeoID),
		zap.String("tier", string(tier)),
		zap.String("url", cand.url),
		zap.String("vendor", string(cand.vendor)),
	)
	return resultFromRecord(j.GeoID, tier, rec, cand.answer.Confidence, escalations), nil
}

func (c *Controller) none(ctx context.Context, j *model.Jurisdiction, cheap, expensive *candidate, escalations []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "tiers: none")
	}
	notes := "no tier produced a valid, live portal URL"
	raw, _ := json.Marshal(map[string]any{
		"tier":          model.ResolvedNone,
		"cheap_url":     cheap.answer.URL,
		"expensive_url": expensive.answer.URL,
		"escalations":   escalations,
	})
	rec, err := c.deps.Records.Upsert(ctx, records.Proposal{
		JurisdictionID:   j.GeoID,
		Vendor:           model.VendorUnknown,
		SubmissionMethod: model.SubmissionUnknown,
		Notes:            notes,
		Raw:              raw,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tiers: persist unresolved %s", j.GeoID)
	}
	c.deps.Metrics.IncResolution(string(model.ResolvedNone))
	zap.L().Info("tiers: unresolved", zap.String("geoid", j.GeoID), zap.Strings("escalations", escalations))
	res := resultFromRecord(j.GeoID, model.ResolvedNone, rec, 0, escalations)
	res.Notes = notes
	return res, nil
}

// appendCandidate writes to the audit log. Candidates are advisory, so a
// failed write is logged and the run continues.
func (c *Controller) appendCandidate(ctx context.Context, cand *model.CandidateRecord) {
	if err := c.deps.Store.InsertCandidate(ctx, cand); err != nil {
		zap.L().Warn("tiers: candidate not recorded",
			zap.String("geoid", cand.JurisdictionID),
			zap.String("tier", string(cand.Tier)),
			zap.Error(err),
		)
	}
}

// cheapBaseline is the confidence the expensive answer must match. A cheap
// answer without a valid URL sets no bar.
func cheapBaseline(cheap *candidate) float64 {
	if !cheap.valid {
		return 0
	}
	return cheap.answer.Confidence
}

func resultFromRecord(geoid string, tier model.ResolutionTier, rec *model.JurisdictionRecord, confidence float64, escalations []string) *Result {
	return &Result{
		GeoID:            geoid,
		Tier:             tier,
		PortalURL:        rec.Portal(),
		ManualInfoURL:    rec.ManualInfo(),
		Vendor:           rec.Vendor,
		SubmissionMethod: rec.SubmissionMethod,
		Confidence:       confidence,
		Notes:            rec.Notes,
		Escalations:      escalations,
		Record:           rec,
	}
}
