package batch

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/store"
)

// FreshnessReport compares the two newest snapshots of an endpoint.
type FreshnessReport struct {
	JurisdictionID string    `json:"jurisdiction_id"`
	URL            string    `json:"url"`
	Snapshots      int       `json:"snapshots"`
	LatestHash     string    `json:"latest_hash"`
	PreviousHash   string    `json:"previous_hash,omitempty"`
	Changed        bool      `json:"changed"`
	LatestAt       time.Time `json:"latest_at"`
	AgeDays        float64   `json:"age_days"`
	// Score falls linearly from 1 for a fresh snapshot to 0 at the
	// freshness window.
	Score float64 `json:"score"`
}

// Freshness reports whether the endpoint's content changed between the last
// two crawls and how stale the newest crawl is. An endpoint with no
// snapshots yields store.ErrNotFound.
func (p *Pipeline) Freshness(ctx context.Context, jurisdictionID, url string) (*FreshnessReport, error) {
	jurisdictionID, url = strings.TrimSpace(jurisdictionID), strings.TrimSpace(url)
	if jurisdictionID == "" || url == "" {
		return nil, eris.New("batch: freshness needs a jurisdiction and a url")
	}
	snaps, err := p.deps.Store.LatestSnapshots(ctx, jurisdictionID, url, 2)
	if err != nil {
		return nil, eris.Wrap(err, "batch: freshness")
	}
	if len(snaps) == 0 {
		return nil, eris.Wrapf(store.ErrNotFound, "batch: no snapshots for %s", url)
	}

	latest := snaps[0]
	rep := &FreshnessReport{
		JurisdictionID: jurisdictionID,
		URL:            url,
		Snapshots:      len(snaps),
		LatestHash:     latest.ContentHash,
		LatestAt:       latest.CreatedAt,
	}
	if len(snaps) > 1 {
		rep.PreviousHash = snaps[1].ContentHash
		rep.Changed = rep.PreviousHash != rep.LatestHash
	}

	age := p.now().Sub(latest.CreatedAt)
	if age < 0 {
		age = 0
	}
	rep.AgeDays = age.Hours() / 24
	rep.Score = FreshnessScore(age, p.opts.FreshnessWindow)
	return rep, nil
}

// FreshnessScore is 1 at age zero, decreasing linearly to 0 at window.
func FreshnessScore(age, window time.Duration) float64 {
	if window <= 0 || age >= window {
		return 0
	}
	if age <= 0 {
		return 1
	}
	return 1 - float64(age)/float64(window)
}
