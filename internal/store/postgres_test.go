package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portal-resolver/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var recordColumns = []string{
	"id", "jurisdiction_id", "portal_url", "manual_info_url", "vendor_type", "submission_method",
	"verified", "verified_at", "invalid", "invalid_at", "notes", "raw", "verify_snippet", "created_at", "updated_at",
}

func recordRow(id, jurisdictionID, portal string, verified, invalid bool, at time.Time) []any {
	var verifiedAt, invalidAt *time.Time
	if verified {
		verifiedAt = &at
	}
	if invalid {
		invalidAt = &at
	}
	return []any{
		id, jurisdictionID, model.StringPtr(portal), (*string)(nil), "EnerGov", "online",
		verified, verifiedAt, invalid, invalidAt, "", []byte(nil), "", at, at,
	}
}

func TestPostgresStore_GetJurisdiction_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT geoid, name, level, parent_county, homepage, codes_url, permits_url FROM jurisdictions WHERE geoid = \$1`).
		WithArgs("9999999").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJurisdiction(context.Background(), "9999999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM jurisdiction_meta WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow("rec-1", "0667000", "https://sf.gov/permits", true, false, now)...))

	r, err := s.GetRecord(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "https://sf.gov/permits", r.Portal())
	assert.Equal(t, model.VendorEnerGov, r.Vendor)
	assert.True(t, r.Authoritative())
	require.NotNil(t, r.VerifiedAt)
	assert.Nil(t, r.Raw)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkVerified(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	portal := "https://x-energovpub.tylerhost.net/apps/selfservice/"

	mock.ExpectExec(`UPDATE jurisdiction_meta AS m SET\s+verified\s+= \(m.id = \$1\)`).
		WithArgs("rec-1", now, false, &portal, (*string)(nil), "EnerGov", "online", "Apply for permits", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectQuery(`FROM jurisdiction_meta WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow("rec-1", "0667000", portal, true, false, now)...))

	r, err := s.MarkVerified(context.Background(), "rec-1", VerifyUpdate{
		PortalURL:        &portal,
		Vendor:           model.VendorEnerGov,
		SubmissionMethod: model.SubmissionOnline,
		Snippet:          "Apply for permits",
	}, now)
	require.NoError(t, err)
	assert.True(t, r.Verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkVerified_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jurisdiction_meta AS m`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.MarkVerified(context.Background(), "missing", VerifyUpdate{}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InvalidateRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE jurisdiction_meta SET invalid = true, verified = false`).
		WithArgs("rec-2", now, "http 500").
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow("rec-2", "0667000", "https://sf.gov", false, true, now)...))

	r, err := s.InvalidateRecord(context.Background(), "rec-2", "http 500", now)
	require.NoError(t, err)
	assert.True(t, r.Invalid)
	assert.False(t, r.Authoritative())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE discovery_jobs SET status = \$1.*WHERE status = \$3 OR \(status = \$4 AND attempts < \$5\).*FOR UPDATE SKIP LOCKED`).
		WithArgs("running", pgxmock.AnyArg(), "pending", "error", 3, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "jurisdiction_id", "level", "query", "status", "attempts", "last_error", "created_at", "updated_at"}).
			AddRow("job-1", "0667000", "place", "San Francisco building permits", "running", 0, "", now, now).
			AddRow("job-2", "0667000", "place", "San Francisco permit portal", "running", 1, "timeout", now, now))

	jobs, err := s.ClaimJobs(context.Background(), 10, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobRunning, jobs[0].Status)
	assert.Equal(t, model.LevelPlace, jobs[1].Level)
	assert.Equal(t, 1, jobs[1].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE discovery_jobs SET status = \$2, attempts = attempts \+ 1`).
		WithArgs("job-1", "error", "search: jina: 503", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE discovery_jobs SET status = \$2, last_error = ''`).
		WithArgs("job-missing", "done", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.FailJob(context.Background(), "job-1", "search: jina: 503"))
	err := s.CompleteJob(context.Background(), "job-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RequeueJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO discovery_jobs .* ON CONFLICT \(jurisdiction_id, query\) DO UPDATE SET\s+status = \$6, attempts = 0`).
		WithArgs(pgxmock.AnyArg(), "0667000", "place", "San Francisco building permit portal", pgxmock.AnyArg(), "pending").
		WillReturnRows(pgxmock.NewRows([]string{"id", "jurisdiction_id", "level", "query", "status", "attempts", "last_error", "created_at", "updated_at"}).
			AddRow("job-9", "0667000", "place", "San Francisco building permit portal", "pending", 0, "", now, now))

	j, err := s.RequeueJob(context.Background(), "0667000", model.LevelPlace, "San Francisco building permit portal")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, j.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_ins_discovery_jobs"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_ins_discovery_jobs"},
		[]string{"id", "jurisdiction_id", "level", "query", "status", "attempts", "last_error", "created_at", "updated_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("jurisdiction_id", "query"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertJobs(context.Background(), []model.DiscoveryJob{
		{JurisdictionID: "0667000", Level: model.LevelPlace, Query: "a"},
		{JurisdictionID: "0667000", Level: model.LevelPlace, Query: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSnapshotParsed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM snapshot_extractions WHERE snapshot_id = \$1`).
		WithArgs("snap-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"snapshot_extractions"}, []string{"snapshot_id", "collection", "item"}).
		WillReturnResult(2)
	mock.ExpectExec(`UPDATE portal_snapshots SET parsed = true`).
		WithArgs("snap-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.MarkSnapshotParsed(context.Background(), "snap-1", []model.Extraction{
		{Collection: "forms", Item: []byte(`{"name":"Application"}`)},
		{Collection: "fees", Item: []byte(`{"name":"Plan review","amount":"$150"}`)},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AIUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO ai_usage \(day, count\) VALUES \(\$1, 1\)`).
		WithArgs("2026-10-16").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(`SELECT count FROM ai_usage WHERE day = \$1`).
		WithArgs("2026-10-17").
		WillReturnError(pgx.ErrNoRows)

	n, err := s.IncrAIUsage(context.Background(), "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = s.GetAIUsage(context.Background(), "2026-10-17")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReview(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT count\(\*\) FROM jurisdiction_meta WHERE NOT verified AND NOT invalid`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(30))
	mock.ExpectQuery(`WHERE NOT verified AND NOT invalid\s+ORDER BY created_at DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(25, 25).
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow("rec-3", "0644000", "https://la.gov", false, false, now)...))

	recs, total, err := s.ListReview(context.Background(), 0, 25)
	require.NoError(t, err)
	assert.Equal(t, 30, total)
	require.Len(t, recs, 1)
	assert.Equal(t, "rec-3", recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListForVerification_SkipsChallengers(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	before := now.Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`AND \(NOT verified OR verified_at < \$1\)\s+AND NOT \(NOT verified AND EXISTS \(\s+SELECT 1 FROM jurisdiction_meta v\s+WHERE v.jurisdiction_id = jurisdiction_meta.jurisdiction_id\s+AND v.verified AND NOT v.invalid\)\)`).
		WithArgs(before, 50).
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow("rec-4", "0644000", "https://la.gov", false, false, now)...))

	recs, err := s.ListForVerification(context.Background(), before, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.SubmissionOnline, recs[0].SubmissionMethod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_BadSubmissionMethod(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	row := recordRow("rec-5", "0667000", "https://sf.gov", false, false, now)
	row[5] = "fax"
	mock.ExpectQuery(`FROM jurisdiction_meta WHERE id = \$1`).
		WithArgs("rec-5").
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(row...))

	_, err := s.GetRecord(context.Background(), "rec-5")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var endpointColumns = []string{"id", "jurisdiction_id", "url", "vendor", "status", "last_error", "crawled_at"}

func TestPostgresStore_ListEndpointsDue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	before := time.Date(2026, 10, 9, 12, 0, 0, 0, time.UTC)
	stale := before.Add(-24 * time.Hour)

	mock.ExpectQuery(`WHERE status = \$1 OR status = \$2 OR \(status = \$3 AND crawled_at < \$4\)`).
		WithArgs("unknown", "error", "crawled", before, 50).
		WillReturnRows(pgxmock.NewRows(endpointColumns).
			AddRow("ep-1", "0667000", "https://sf.gov/new.pdf", "pdf", "unknown", "", (*time.Time)(nil)).
			AddRow("ep-2", "0667000", "https://sf.gov/old.pdf", "pdf", "crawled", "", &stale).
			AddRow("ep-3", "0667000", "https://sf.gov/gone.pdf", "pdf", "error", "http 404", (*time.Time)(nil)))

	eps, err := s.ListEndpointsDue(context.Background(), before, 0)
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.Equal(t, model.EndpointUnknown, eps[0].Status)
	assert.Equal(t, model.EndpointCrawled, eps[1].Status)
	require.NotNil(t, eps[1].CrawledAt)
	assert.True(t, eps[1].CrawledAt.Equal(stale))
	assert.Equal(t, "http 404", eps[2].LastError)

	mock.ExpectQuery(`FROM portal_endpoints WHERE status = \$1`).
		WithArgs("crawled", 50).
		WillReturnRows(pgxmock.NewRows(endpointColumns).
			AddRow("ep-4", "0667000", "https://sf.gov/x.pdf", "pdf", "archived", "", (*time.Time)(nil)))
	_, err = s.ListEndpoints(context.Background(), model.EndpointCrawled, 0)
	assert.ErrorContains(t, err, "unknown endpoint status")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetEndpointStatus_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.SetEndpointStatus(context.Background(), "ep-1", model.EndpointStatus("archived"), "", time.Now())
	assert.ErrorContains(t, err, "invalid status")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimJobs_BadStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE discovery_jobs SET status = \$1`).
		WithArgs("running", pgxmock.AnyArg(), "pending", "error", 3, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "jurisdiction_id", "level", "query", "status", "attempts", "last_error", "created_at", "updated_at"}).
			AddRow("job-1", "0667000", "place", "San Francisco building permits", "paused", 0, "", now, now))

	_, err := s.ClaimJobs(context.Background(), 10, 3)
	assert.ErrorContains(t, err, "unknown job status")
	assert.NoError(t, mock.ExpectationsWereMet())
}
