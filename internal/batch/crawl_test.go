package batch

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portal-resolver/internal/blob"
	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/store"
)

const accelaHTML = `<html><head><title>Citizen Access</title></head><body>
<article><h1>Building Permits</h1>
<p>Building permits are required for new construction, additions and most alterations in San Francisco.</p>
<p>Contractors apply online and pay plan review fees before inspections are scheduled.</p>
</article></body></html>`

func TestCrawlSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	accela := "https://aca-prod.accela.com/SFO/Default.aspx"
	pdf := "https://sf.gov/files/permit-application.pdf"
	missingPDF := "https://sf.gov/files/old-packet.pdf"
	etrakit := "https://etrakit.sf.gov/etrakit"

	h.renderer.pages[accela] = accelaHTML
	h.fetcher.docs[pdf] = doc{http.StatusOK, "application/octet-stream", "%PDF-1.7 application"}
	h.fetcher.docs[missingPDF] = doc{status: http.StatusNotFound, contentType: "text/html"}

	_, err := h.st.InsertEndpoints(ctx, []model.PortalEndpoint{
		{JurisdictionID: "0667000", URL: accela, Vendor: model.VendorAccela},
		{JurisdictionID: "0667000", URL: pdf, Vendor: model.VendorPDF},
		{JurisdictionID: "0667000", URL: missingPDF, Vendor: model.VendorPDF},
		{JurisdictionID: "0667000", URL: etrakit, Vendor: model.VendorETrakit},
	})
	require.NoError(t, err)

	sum, err := h.p.CrawlSweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Kind: "crawl", Processed: 4, Succeeded: 2, Failed: 2}, sum)

	// Vendor pages are rendered, PDFs are fetched raw.
	assert.ElementsMatch(t, []string{accela, etrakit}, h.renderer.calls)
	assert.Equal(t, 1, h.fetcher.calls[pdf])
	// 404 is permanent and not retried.
	assert.Equal(t, 1, h.fetcher.calls[missingPDF])

	snaps, err := h.st.LatestSnapshots(ctx, "0667000", pdf, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "application/pdf", snaps[0].ContentType)
	assert.True(t, snaps[0].IsPDF())
	assert.Equal(t, blob.Hash([]byte("%PDF-1.7 application")), snaps[0].ContentHash)
	data, err := h.blobs.Get(ctx, snaps[0].StorageRef)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 application", string(data))

	snaps, err = h.st.LatestSnapshots(ctx, "0667000", accela, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "text/html", snaps[0].ContentType)

	crawled, err := h.st.ListEndpoints(ctx, model.EndpointCrawled, 10)
	require.NoError(t, err)
	assert.Len(t, crawled, 2)
	failed, err := h.st.ListEndpoints(ctx, model.EndpointError, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, e := range failed {
		assert.NotEmpty(t, e.LastError)
	}
}

func TestCrawlSweep_RetriesTransientStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.p.deps.Renderer = nil

	url := "https://sf.gov/files/busy.pdf"
	h.fetcher.docs[url] = doc{status: http.StatusServiceUnavailable, contentType: "text/html"}
	_, err := h.st.InsertEndpoints(ctx, []model.PortalEndpoint{{JurisdictionID: "0667000", URL: url, Vendor: model.VendorPDF}})
	require.NoError(t, err)

	sum, err := h.p.CrawlSweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, h.fetcher.calls[url])
}

func TestCrawlSweep_RecrawlsStaleAndFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.p.deps.Renderer = nil

	packet := "https://sf.gov/files/permit-application.pdf"
	flaky := "https://sf.gov/files/fee-schedule.pdf"
	h.fetcher.docs[packet] = doc{http.StatusOK, "application/pdf", "%PDF-1.7 rev 1"}
	h.fetcher.docs[flaky] = doc{status: http.StatusNotFound, contentType: "text/html"}
	_, err := h.st.InsertEndpoints(ctx, []model.PortalEndpoint{
		{JurisdictionID: "0667000", URL: packet, Vendor: model.VendorPDF},
		{JurisdictionID: "0667000", URL: flaky, Vendor: model.VendorPDF},
	})
	require.NoError(t, err)

	sum, err := h.p.CrawlSweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Kind: "crawl", Processed: 2, Succeeded: 1, Failed: 1}, sum)

	// The failed endpoint is retried on the next sweep; the fresh one is not.
	h.fetcher.docs[flaky] = doc{http.StatusOK, "application/pdf", "%PDF-1.7 fees"}
	sum, err = h.p.CrawlSweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Kind: "crawl", Processed: 1, Succeeded: 1}, sum)
	assert.Equal(t, 1, h.fetcher.calls[packet])
	assert.Equal(t, 2, h.fetcher.calls[flaky])

	sum, err = h.p.CrawlSweep(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)

	// Past the recrawl interval both endpoints are fetched again.
	h.fetcher.docs[packet] = doc{http.StatusOK, "application/pdf", "%PDF-1.7 rev 2"}
	later := testNow.Add(8 * 24 * time.Hour)
	h.p.now = func() time.Time { return later }
	sum, err = h.p.CrawlSweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Kind: "crawl", Processed: 2, Succeeded: 2}, sum)
	assert.Equal(t, 2, h.fetcher.calls[packet])

	rep, err := h.p.Freshness(ctx, "0667000", packet)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Snapshots)
	assert.True(t, rep.Changed)
	assert.Equal(t, blob.Hash([]byte("%PDF-1.7 rev 2")), rep.LatestHash)
	assert.Equal(t, blob.Hash([]byte("%PDF-1.7 rev 1")), rep.PreviousHash)

	crawled, err := h.st.ListEndpoints(ctx, model.EndpointCrawled, 10)
	require.NoError(t, err)
	require.Len(t, crawled, 2)
	for _, e := range crawled {
		require.NotNil(t, e.CrawledAt)
		assert.True(t, e.CrawledAt.Equal(later), e.URL)
		assert.Empty(t, e.LastError)
	}
}

func TestFreshness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	url := "https://aca-prod.accela.com/SFO/Default.aspx"

	_, err := h.p.Freshness(ctx, "0667000", url)
	assert.ErrorIs(t, err, store.ErrNotFound)

	insertSnap := func(hash string, at time.Time) {
		require.NoError(t, h.st.InsertSnapshot(ctx, &model.PortalSnapshot{
			JurisdictionID: "0667000", URL: url, Vendor: model.VendorAccela,
			ContentHash: hash, StorageRef: hash + ".html", ContentType: "text/html", CreatedAt: at,
		}))
	}

	insertSnap("aaa", testNow.Add(-60*24*time.Hour))
	rep, err := h.p.Freshness(ctx, "0667000", url)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Snapshots)
	assert.False(t, rep.Changed)
	assert.InDelta(t, 60, rep.AgeDays, 0.01)
	assert.InDelta(t, 1.0/3, rep.Score, 0.001)

	insertSnap("bbb", testNow.Add(-9*24*time.Hour))
	rep, err = h.p.Freshness(ctx, "0667000", url)
	require.NoError(t, err)
	assert.True(t, rep.Changed)
	assert.Equal(t, "bbb", rep.LatestHash)
	assert.Equal(t, "aaa", rep.PreviousHash)
	assert.InDelta(t, 0.9, rep.Score, 0.001)

	insertSnap("bbb", testNow)
	rep, err = h.p.Freshness(ctx, "0667000", url)
	require.NoError(t, err)
	assert.False(t, rep.Changed)
	assert.Equal(t, 1.0, rep.Score)

	_, err = h.p.Freshness(ctx, "", url)
	assert.Error(t, err)
}

func TestFreshnessScore(t *testing.T) {
	t.Parallel()
	window := 90 * 24 * time.Hour

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"fresh", 0, 1},
		{"future clock skew", -time.Hour, 1},
		{"half", 45 * 24 * time.Hour, 0.5},
		{"at window", window, 0},
		{"past window", 2 * window, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, FreshnessScore(tt.age, window), 1e-9)
		})
	}
	assert.Zero(t, FreshnessScore(time.Hour, 0))
}

func TestParseSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	put := func(body, ext string) string {
		ref, err := h.blobs.Put(ctx, []byte(body), ext)
		require.NoError(t, err)
		return ref
	}
	snaps := []*model.PortalSnapshot{
		{JurisdictionID: "0667000", URL: "https://aca-prod.accela.com/SFO/Default.aspx", Vendor: model.VendorAccela,
			StorageRef: put(accelaHTML, "html"), ContentType: "text/html", CreatedAt: testNow.Add(-3 * time.Minute)},
		{JurisdictionID: "0667000", URL: "https://sf.gov/files/permit-application.pdf", Vendor: model.VendorPDF,
			StorageRef: put("%PDF-1.7 application", "pdf"), ContentType: "application/pdf", CreatedAt: testNow.Add(-2 * time.Minute)},
		{JurisdictionID: "0667000", URL: "https://sf.gov/files/broken.pdf", Vendor: model.VendorPDF,
			StorageRef: put("BROKEN", "pdf"), ContentType: "application/pdf", CreatedAt: testNow.Add(-time.Minute)},
		{JurisdictionID: "0667000", URL: "https://sf.gov/files/gone.pdf", Vendor: model.VendorPDF,
			StorageRef: "0000.pdf", ContentType: "application/pdf", CreatedAt: testNow},
	}
	for _, s := range snaps {
		s.ContentHash = s.StorageRef
		require.NoError(t, h.st.InsertSnapshot(ctx, s))
	}

	sum, err := h.p.ParseSweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Kind: "parse", Processed: 4, Succeeded: 2, Failed: 2}, sum)

	for _, s := range snaps[:2] {
		counts, err := h.st.CountExtractions(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"forms": 2, "fees": 1}, counts, s.URL)
	}

	left, err := h.st.ListUnparsedSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, s := range left {
		assert.NotEmpty(t, s.ParseError, s.URL)
	}
}

func TestMainText(t *testing.T) {
	t.Parallel()

	text, err := MainText(accelaHTML, "https://aca-prod.accela.com/SFO/Default.aspx")
	require.NoError(t, err)
	assert.Contains(t, text, "Building permits are required")
	assert.Contains(t, text, "plan review fees")

	_, err = MainText("<p>x</p>", "://bad")
	assert.Error(t, err)
}

func TestSetEndpointStatus_ChecksTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.st.InsertEndpoints(ctx, []model.PortalEndpoint{{JurisdictionID: "0667000", URL: "https://sf.gov/a.pdf", Vendor: model.VendorPDF}})
	require.NoError(t, err)
	eps, err := h.st.ListEndpoints(ctx, model.EndpointUnknown, 10)
	require.NoError(t, err)
	require.Len(t, eps, 1)

	assert.Error(t, h.p.setEndpointStatus(ctx, eps[0], model.EndpointUnknown, "", testNow))
	stale := eps[0]
	stale.Status = model.EndpointStatus("archived")
	assert.Error(t, h.p.setEndpointStatus(ctx, stale, model.EndpointCrawled, "", testNow))

	left, err := h.st.ListEndpoints(ctx, model.EndpointUnknown, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)

	require.NoError(t, h.p.setEndpointStatus(ctx, eps[0], model.EndpointCrawled, "", testNow))
	crawled, err := h.st.ListEndpoints(ctx, model.EndpointCrawled, 10)
	require.NoError(t, err)
	assert.Len(t, crawled, 1)
}
