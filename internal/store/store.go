// Package store persists jurisdictions, discovery candidates, jurisdiction
// records, batch jobs and snapshots. PostgresStore is the production backend;
// SQLiteStore serves local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/model"
)

// ErrNotFound is returned (wrapped) when a keyed row does not exist.
var ErrNotFound = eris.New("store: not found")

// JurisdictionFilter narrows ListJurisdictions.
type JurisdictionFilter struct {
	Level        model.Level `json:"level,omitempty"`
	ParentCounty string      `json:"parent_county,omitempty"`
	Limit        int         `json:"limit,omitempty"`
	Offset       int         `json:"offset,omitempty"`
}

// VerifyUpdate carries the fields written to the record being verified.
// Nil pointers leave the stored value alone.
type VerifyUpdate struct {
	PortalURL        *string
	ManualInfoURL    *string
	ClearPortal      bool
	Vendor           model.Vendor
	SubmissionMethod model.SubmissionMethod
	Snippet          string
	Notes            string
}

// Store defines the persistence interface for the resolver.
type Store interface {
	// Jurisdictions (reference data)
	GetJurisdiction(ctx context.Context, geoid string) (*model.Jurisdiction, error)
	ListJurisdictions(ctx context.Context, filter JurisdictionFilter) ([]model.Jurisdiction, error)
	UpsertJurisdictions(ctx context.Context, js []model.Jurisdiction) (int64, error)

	// Candidates (append-only)
	InsertCandidate(ctx context.Context, c *model.CandidateRecord) error
	ListCandidates(ctx context.Context, jurisdictionID string) ([]model.CandidateRecord, error)
	ListCountyCandidates(ctx context.Context, countyGeoID string) ([]model.CandidateRecord, error)

	// Jurisdiction records
	GetRecord(ctx context.Context, id string) (*model.JurisdictionRecord, error)
	ListRecords(ctx context.Context, jurisdictionID string) ([]model.JurisdictionRecord, error)
	InsertRecord(ctx context.Context, r *model.JurisdictionRecord) error
	UpdateRecord(ctx context.Context, r *model.JurisdictionRecord) error
	// MarkVerified verifies one record and invalidates every other record of
	// the same jurisdiction in a single write.
	MarkVerified(ctx context.Context, id string, u VerifyUpdate, at time.Time) (*model.JurisdictionRecord, error)
	InvalidateRecord(ctx context.Context, id, reason string, at time.Time) (*model.JurisdictionRecord, error)
	// ListForVerification returns unverified records with a portal URL and
	// verified records last checked before recheckBefore.
	ListForVerification(ctx context.Context, recheckBefore time.Time, limit int) ([]model.JurisdictionRecord, error)
	ListReview(ctx context.Context, limit, offset int) ([]model.JurisdictionRecord, int, error)

	// Discovery jobs
	InsertJobs(ctx context.Context, jobs []model.DiscoveryJob) (int64, error)
	ClaimJobs(ctx context.Context, n, maxAttempts int) ([]model.DiscoveryJob, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, reason string) error
	// RequeueJob resets (or creates) the jurisdiction's job for query to
	// pending with zero attempts.
	RequeueJob(ctx context.Context, jurisdictionID string, level model.Level, query string) (*model.DiscoveryJob, error)
	CountJobs(ctx context.Context, jurisdictionID string, status model.JobStatus) (int, error)

	// Endpoints
	InsertEndpoints(ctx context.Context, eps []model.PortalEndpoint) (int64, error)
	ListEndpoints(ctx context.Context, status model.EndpointStatus, limit int) ([]model.PortalEndpoint, error)
	// ListEndpointsDue returns endpoints awaiting a crawl: never crawled,
	// failed, or last crawled before crawledBefore.
	ListEndpointsDue(ctx context.Context, crawledBefore time.Time, limit int) ([]model.PortalEndpoint, error)
	SetEndpointStatus(ctx context.Context, id string, status model.EndpointStatus, lastErr string, at time.Time) error

	// Snapshots and extractions
	InsertSnapshot(ctx context.Context, s *model.PortalSnapshot) error
	LatestSnapshots(ctx context.Context, jurisdictionID, url string, n int) ([]model.PortalSnapshot, error)
	// ListUnparsedSnapshots returns snapshots awaiting extraction, those
	// without a previous parse error first.
	ListUnparsedSnapshots(ctx context.Context, limit int) ([]model.PortalSnapshot, error)
	MarkSnapshotParsed(ctx context.Context, id string, items []model.Extraction) error
	SetSnapshotParseError(ctx context.Context, id, msg string) error

	// Expensive-tier usage
	IncrAIUsage(ctx context.Context, day string) (int64, error)
	GetAIUsage(ctx context.Context, day string) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func withDefaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
