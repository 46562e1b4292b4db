package tiers

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portal-resolver/internal/fetcher"
	"github.com/sells-group/portal-resolver/internal/metrics"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/oracle"
	"github.com/sells-group/portal-resolver/internal/records"
	"github.com/sells-group/portal-resolver/internal/store"
	"github.com/sells-group/portal-resolver/internal/usage"
)

const (
	sfGeoID     = "0667000"
	accelaURL   = "https://aca-prod.accela.com/SF/Default.aspx"
	municipal   = "https://sf.gov/permits"
	deadURL     = "https://permits.sf.gov/retired"
	homepageURL = "https://www.smallville.gov"
)

// fakeOracle returns scripted answers per tier.
type fakeOracle struct {
	mu      sync.Mutex
	answers map[oracle.Tier]*oracle.Answer
	errs    map[oracle.Tier]error
	calls   map[oracle.Tier]int
	last    map[oracle.Tier]oracle.Query
	onQuery func(q oracle.Query)
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		answers: map[oracle.Tier]*oracle.Answer{},
		errs:    map[oracle.Tier]error{},
		calls:   map[oracle.Tier]int{},
		last:    map[oracle.Tier]oracle.Query{},
	}
}

func (f *fakeOracle) Query(_ context.Context, q oracle.Query) (*oracle.Answer, error) {
	f.mu.Lock()
	f.calls[q.Tier]++
	f.last[q.Tier] = q
	hook := f.onQuery
	f.mu.Unlock()
	if hook != nil {
		hook(q)
	}
	if err := f.errs[q.Tier]; err != nil {
		return nil, err
	}
	if a, ok := f.answers[q.Tier]; ok {
		cp := *a
		return &cp, nil
	}
	return &oracle.Answer{}, nil
}

func (f *fakeOracle) callCount(t oracle.Tier) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[t]
}

// fakeProber treats every URL as a live portal except the listed ones.
type fakeProber struct {
	dead      map[string]bool
	notPortal map[string]bool
}

func (p *fakeProber) Liveness(_ context.Context, url string) bool { return !p.dead[url] }
func (p *fakeProber) Content(_ context.Context, url string) bool  { return !p.notPortal[url] }

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetcher.Request) (*fetcher.Response, error) {
	body, ok := f.pages[req.URL]
	if !ok {
		return &fetcher.Response{URL: req.URL, Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return &fetcher.Response{
		URL:    req.URL,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(body),
	}, nil
}

type harness struct {
	ctrl    *Controller
	store   *store.SQLiteStore
	oracle  *fakeOracle
	prober  *fakeProber
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tiers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	_, err = st.UpsertJurisdictions(ctx, []model.Jurisdiction{
		{GeoID: sfGeoID, Name: "San Francisco", Level: model.LevelPlace, ParentCounty: "06075"},
		{GeoID: "2070000", Name: "Smallville", Level: model.LevelPlace, Homepage: homepageURL},
	})
	require.NoError(t, err)

	h := &harness{
		store:   st,
		oracle:  newFakeOracle(),
		prober:  &fakeProber{dead: map[string]bool{deadURL: true}, notPortal: map[string]bool{}},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.ctrl = New(Deps{
		Store:  st,
		Oracle: h.oracle,
		Prober: h.prober,
		Fetcher: &fakeFetcher{pages: map[string]string{
			homepageURL: `<html><body><h1>Smallville Building Division</h1>
				<p>Download the permit packet, print it, and mail the return completed forms.</p>
				<a href="/files/residential.pdf">Residential</a>
				<a href="/files/fee-schedule.pdf">Fees</a></body></html>`,
		}},
		Usage:   usage.NewStoreCounter(st),
		Records: records.New(st),
		Metrics: h.metrics,
	}, opts)
	h.ctrl.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }
	return h
}

func (h *harness) records(t *testing.T, geoid string) []model.JurisdictionRecord {
	t.Helper()
	recs, err := h.store.ListRecords(context.Background(), geoid)
	require.NoError(t, err)
	return recs
}

func TestResolve_InvalidInput(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	for _, geoid := range []string{"", "   ", "06/075"} {
		_, err := h.ctrl.Resolve(ctx, geoid, false)
		assert.ErrorIs(t, err, ErrInvalidJurisdiction, geoid)
	}

	_, err := h.ctrl.Resolve(ctx, "99999", false)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, h.oracle.callCount(oracle.TierCheap))
}

func TestResolve_CheapAcceptedWithoutEscalation(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: accelaURL, Confidence: 0.95, Notes: "Accela portal", Model: "haiku"}

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedCheap, res.Tier)
	assert.Equal(t, accelaURL, res.PortalURL)
	assert.Equal(t, model.VendorAccela, res.Vendor)
	assert.Equal(t, model.SubmissionOnline, res.SubmissionMethod)
	assert.Empty(t, res.Escalations)
	assert.Zero(t, h.oracle.callCount(oracle.TierExpensive))

	cands, err := h.store.ListCandidates(context.Background(), sfGeoID)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, model.SourceAIMini, cands[0].Tier)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Resolutions.WithLabelValues("cheap")))
}

func TestResolve_LowConfidenceEscalates(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: municipal, Confidence: 0.65}
	h.oracle.answers[oracle.TierExpensive] = &oracle.Answer{URL: accelaURL, Confidence: 0.9, Notes: "verified vendor portal"}

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedExpensive, res.Tier)
	assert.Equal(t, accelaURL, res.PortalURL)
	assert.Equal(t, []string{ReasonLowConfidence}, res.Escalations)

	prev := h.oracle.last[oracle.TierExpensive].Previous
	require.NotNil(t, prev)
	assert.Equal(t, municipal, prev.URL)

	cands, err := h.store.ListCandidates(context.Background(), sfGeoID)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, model.SourceAIFull, cands[1].Tier)

	n, err := h.store.GetAIUsage(context.Background(), "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestResolve_EscalationTriggers(t *testing.T) {
	tests := []struct {
		name   string
		cheap  oracle.Answer
		reason string
	}{
		{"invalid url", oracle.Answer{URL: "https://www.buildingpermitsnow.com", Confidence: 0.9}, ReasonInvalid},
		{"no url", oracle.Answer{Confidence: 0.9}, ReasonInvalid},
		{"dead portal", oracle.Answer{URL: deadURL, Confidence: 0.9}, ReasonProbeFailed},
		{"oauth redirect", oracle.Answer{
			URL:        "https://identity.tylerportico.com/connect/authorize?redirect_uri=https://sf-energovpub.tylerhost.net/apps/selfservice/callback",
			Confidence: 0.95,
		}, ReasonOAuthRedirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			cheap := tt.cheap
			h.oracle.answers[oracle.TierCheap] = &cheap
			h.oracle.answers[oracle.TierExpensive] = &oracle.Answer{URL: accelaURL, Confidence: 0.92}

			res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
			require.NoError(t, err)
			assert.Contains(t, res.Escalations, tt.reason)
			assert.Equal(t, 1, h.oracle.callCount(oracle.TierExpensive))
		})
	}
}

func TestResolve_OAuthRedirectNormalizedOnFallback(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{
		URL:        "https://identity.tylerportico.com/connect/authorize?redirect_uri=https://sf-energovpub.tylerhost.net/apps/selfservice/callback",
		Confidence: 0.95,
	}
	h.oracle.errs[oracle.TierExpensive] = oracle.ErrRateLimited

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedCheap, res.Tier)
	assert.Equal(t, "https://sf-energovpub.tylerhost.net/apps/selfservice/", res.PortalURL)
	assert.Equal(t, model.VendorEnerGov, res.Vendor)
}

func TestResolve_ExpensiveLowerConfidenceKeepsCheap(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: municipal, Confidence: 0.65}
	h.oracle.answers[oracle.TierExpensive] = &oracle.Answer{URL: accelaURL, Confidence: 0.6}

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedCheap, res.Tier)
	assert.Equal(t, municipal, res.PortalURL)
}

func TestResolve_TieFavorsExpensive(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: municipal, Confidence: 0.65}
	h.oracle.answers[oracle.TierExpensive] = &oracle.Answer{URL: accelaURL, Confidence: 0.65}

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedExpensive, res.Tier)
}

func TestResolve_ExpensiveRateLimitFallsBack(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: municipal, Confidence: 0.5}
	h.oracle.errs[oracle.TierExpensive] = errors.Join(errors.New("429"), oracle.ErrRateLimited)

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedCheap, res.Tier)
	assert.Equal(t, municipal, res.PortalURL)
}

func TestResolve_DailyCapSkipsExpensive(t *testing.T) {
	h := newHarness(t, Options{DailyExpensiveCap: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := h.store.IncrAIUsage(ctx, "2026-10-16")
		require.NoError(t, err)
	}
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: deadURL, Confidence: 0.9}

	res, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedNone, res.Tier)
	assert.Zero(t, h.oracle.callCount(oracle.TierExpensive))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ExpensiveSkipped))

	recs := h.records(t, sfGeoID)
	require.Len(t, recs, 1)
	assert.Equal(t, model.SubmissionUnknown, recs[0].SubmissionMethod)
	assert.Nil(t, recs[0].PortalURL)
}

func TestResolve_NoTierResolves(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: "https://www.example.com", Confidence: 0.9}
	h.oracle.answers[oracle.TierExpensive] = &oracle.Answer{URL: deadURL, Confidence: 0.9}

	res, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedNone, res.Tier)
	assert.Equal(t, model.SubmissionUnknown, res.SubmissionMethod)
	assert.Empty(t, res.PortalURL)
}

func TestResolve_CacheIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: accelaURL, Confidence: 0.95}

	first, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)
	second, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)
	third, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)

	assert.Equal(t, model.ResolvedCache, second.Tier)
	assert.Equal(t, first.PortalURL, second.PortalURL)
	assert.Equal(t, second, third)
	assert.Equal(t, 1, h.oracle.callCount(oracle.TierCheap), "cache hits make no oracle calls")
	assert.Len(t, h.records(t, sfGeoID), 1)
}

func TestResolve_CacheHitReportsStoredConfidence(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: accelaURL, Confidence: 0.82}

	_, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)
	cached, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedCache, cached.Tier)
	assert.InDelta(t, 0.82, cached.Confidence, 1e-9)
}

func TestStoredConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"oracle answer", `{"tier":"cheap","confidence":0.91}`, 0.91},
		{"offline verdict", `{"tier":"offline","verdict":{"offline":true,"confidence":0.6}}`, 0.6},
		{"search hit", `{"tier":"search","confidence":0.6,"provider":"jina"}`, 0.6},
		{"no confidence", `{"tier":"none"}`, 0},
		{"empty", ``, 0},
		{"not json", `reviewer import`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, storedConfidence([]byte(tt.raw)), 1e-9)
		})
	}
}

func TestResolve_ForceBypassesCache(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: accelaURL, Confidence: 0.95}

	_, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.NoError(t, err)
	res, err := h.ctrl.Resolve(ctx, sfGeoID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedCheap, res.Tier)
	assert.Equal(t, 2, h.oracle.callCount(oracle.TierCheap))
}

func TestResolve_OfflineHomepage(t *testing.T) {
	h := newHarness(t, Options{})

	res, err := h.ctrl.Resolve(context.Background(), "2070000", false)
	require.NoError(t, err)
	assert.Equal(t, model.ResolvedOffline, res.Tier)
	assert.Equal(t, model.SubmissionOfflineOnly, res.SubmissionMethod)
	assert.Equal(t, homepageURL, res.ManualInfoURL)
	assert.Empty(t, res.PortalURL)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.Zero(t, h.oracle.callCount(oracle.TierCheap))

	cands, err := h.store.ListCandidates(context.Background(), "2070000")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, model.SourceOffline, cands[0].Tier)
}

func TestResolve_OracleErrorAborts(t *testing.T) {
	h := newHarness(t, Options{})
	h.oracle.errs[oracle.TierCheap] = errors.New("anthropic: 500")

	_, err := h.ctrl.Resolve(context.Background(), sfGeoID, false)
	require.Error(t, err)
	assert.Empty(t, h.records(t, sfGeoID))
}

func TestResolve_CancelledBeforeTerminalStateWritesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.oracle.answers[oracle.TierCheap] = &oracle.Answer{URL: municipal, Confidence: 0.5}
	h.oracle.answers[oracle.TierExpensive] = &oracle.Answer{URL: accelaURL, Confidence: 0.9}
	h.oracle.onQuery = func(q oracle.Query) {
		if q.Tier == oracle.TierExpensive {
			cancel()
		}
	}

	_, err := h.ctrl.Resolve(ctx, sfGeoID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.records(t, sfGeoID))
}
