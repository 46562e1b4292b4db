package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/sells-group/portal-resolver/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; sweeps run concurrent workers against it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck,gosec
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func sqliteNotFound(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", what, key)
	}
	return eris.Wrapf(err, "sqlite: get %s %s", what, key)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

// --- jurisdictions ---

func scanSQLiteJurisdiction(row scannable) (*model.Jurisdiction, error) {
	var j model.Jurisdiction
	if err := row.Scan(&j.GeoID, &j.Name, &j.Level, &j.ParentCounty, &j.Homepage, &j.CodesURL, &j.PermitsURL); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLiteStore) GetJurisdiction(ctx context.Context, geoid string) (*model.Jurisdiction, error) {
	j, err := scanSQLiteJurisdiction(s.db.QueryRowContext(ctx,
		`SELECT `+jurisdictionCols+` FROM jurisdictions WHERE geoid = ?`, geoid))
	if err != nil {
		return nil, sqliteNotFound(err, "jurisdiction", geoid)
	}
	return j, nil
}

func (s *SQLiteStore) ListJurisdictions(ctx context.Context, f JurisdictionFilter) ([]model.Jurisdiction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jurisdictionCols+` FROM jurisdictions
		WHERE (?1 = '' OR level = ?1) AND (?2 = '' OR parent_county = ?2)
		ORDER BY geoid LIMIT ?3 OFFSET ?4`,
		string(f.Level), f.ParentCounty, withDefaultLimit(f.Limit, 1000), f.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jurisdictions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Jurisdiction
	for rows.Next() {
		j, err := scanSQLiteJurisdiction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan jurisdiction")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jurisdictions")
}

func (s *SQLiteStore) UpsertJurisdictions(ctx context.Context, js []model.Jurisdiction) (int64, error) {
	if len(js) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert jurisdictions: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, j := range js {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jurisdictions (`+jurisdictionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (geoid) DO UPDATE SET name = excluded.name, level = excluded.level,
				parent_county = excluded.parent_county, homepage = excluded.homepage,
				codes_url = excluded.codes_url, permits_url = excluded.permits_url`,
			j.GeoID, j.Name, string(j.Level), j.ParentCounty, j.Homepage, j.CodesURL, j.PermitsURL,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert jurisdiction %s", j.GeoID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: upsert jurisdictions: commit tx")
}

// --- candidates ---

func collectSQLiteCandidates(rows *sql.Rows) ([]model.CandidateRecord, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.CandidateRecord
	for rows.Next() {
		var c model.CandidateRecord
		if err := rows.Scan(&c.ID, &c.JurisdictionID, &c.SourceURL, &c.Tier, &c.Query,
			&c.Vendor, &c.Confidence, &c.Notes, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates")
}

func (s *SQLiteStore) InsertCandidate(ctx context.Context, c *model.CandidateRecord) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO candidate_records (`+candidateCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JurisdictionID, c.SourceURL, string(c.Tier), c.Query, string(c.Vendor), c.Confidence, c.Notes, c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert candidate for %s", c.JurisdictionID)
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, jurisdictionID string) ([]model.CandidateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateCols+` FROM candidate_records WHERE jurisdiction_id = ? ORDER BY created_at`,
		jurisdictionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list candidates %s", jurisdictionID)
	}
	return collectSQLiteCandidates(rows)
}

func (s *SQLiteStore) ListCountyCandidates(ctx context.Context, countyGeoID string) ([]model.CandidateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.jurisdiction_id, c.source_url, c.tier, c.query, c.vendor, c.confidence, c.notes, c.created_at
		FROM candidate_records c JOIN jurisdictions j ON j.geoid = c.jurisdiction_id
		WHERE j.geoid = ?1 OR j.parent_county = ?1
		ORDER BY c.created_at`,
		countyGeoID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list county candidates %s", countyGeoID)
	}
	return collectSQLiteCandidates(rows)
}

// --- jurisdiction records ---

func scanSQLiteRecord(row scannable) (*model.JurisdictionRecord, error) {
	var r model.JurisdictionRecord
	var portal, manual, raw sql.NullString
	var method string
	var verifiedAt, invalidAt sql.NullTime
	err := row.Scan(&r.ID, &r.JurisdictionID, &portal, &manual, &r.Vendor, &method,
		&r.Verified, &verifiedAt, &r.Invalid, &invalidAt, &r.Notes, &raw, &r.VerifySnippet,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.SubmissionMethod, err = model.ParseSubmissionMethod(method); err != nil {
		return nil, err
	}
	if portal.Valid {
		r.PortalURL = &portal.String
	}
	if manual.Valid {
		r.ManualInfoURL = &manual.String
	}
	if verifiedAt.Valid {
		r.VerifiedAt = &verifiedAt.Time
	}
	if invalidAt.Valid {
		r.InvalidAt = &invalidAt.Time
	}
	if raw.Valid && raw.String != "" {
		r.Raw = []byte(raw.String)
	}
	return &r, nil
}

func collectSQLiteRecords(rows *sql.Rows) ([]model.JurisdictionRecord, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.JurisdictionRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records")
}

func sqliteRaw(r *model.JurisdictionRecord) any {
	if len(r.Raw) == 0 {
		return nil
	}
	return string(r.Raw)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.JurisdictionRecord, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM jurisdiction_meta WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err, "record", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, jurisdictionID string) ([]model.JurisdictionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordCols+` FROM jurisdiction_meta WHERE jurisdiction_id = ? ORDER BY updated_at DESC, created_at DESC`,
		jurisdictionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records %s", jurisdictionID)
	}
	return collectSQLiteRecords(rows)
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, r *model.JurisdictionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jurisdiction_meta (`+recordCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JurisdictionID, r.PortalURL, r.ManualInfoURL, string(r.Vendor), string(r.SubmissionMethod),
		r.Verified, r.VerifiedAt, r.Invalid, r.InvalidAt, r.Notes, sqliteRaw(r), r.VerifySnippet,
		r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert record for %s", r.JurisdictionID)
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, r *model.JurisdictionRecord) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jurisdiction_meta SET portal_url = ?, manual_info_url = ?, vendor_type = ?,
			submission_method = ?, notes = ?, raw = ?, updated_at = ?
		WHERE id = ?`,
		r.PortalURL, r.ManualInfoURL, string(r.Vendor), string(r.SubmissionMethod), r.Notes, sqliteRaw(r),
		r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", r.ID)
	}
	return checkRowsAffected(res, "record", r.ID)
}

// MarkVerified invalidates the siblings and then verifies the target inside
// one transaction. SQLite checks the partial unique index row by row, so the
// siblings must be cleared first.
func (s *SQLiteStore) MarkVerified(ctx context.Context, id string, u VerifyUpdate, at time.Time) (*model.JurisdictionRecord, error) {
	at = at.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: mark verified: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var jurisdictionID string
	if err := tx.QueryRowContext(ctx, `SELECT jurisdiction_id FROM jurisdiction_meta WHERE id = ?`, id).
		Scan(&jurisdictionID); err != nil {
		return nil, sqliteNotFound(err, "record", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jurisdiction_meta SET verified = 0, invalid = 1,
			invalid_at = COALESCE(invalid_at, ?1), updated_at = ?1
		WHERE jurisdiction_id = ?2 AND id <> ?3`,
		at, jurisdictionID, id,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: invalidate siblings of %s", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jurisdiction_meta SET
			verified = 1, verified_at = ?1, invalid = 0, invalid_at = NULL,
			portal_url = CASE WHEN ?2 THEN NULL ELSE COALESCE(?3, portal_url) END,
			manual_info_url = COALESCE(?4, manual_info_url),
			vendor_type = CASE WHEN ?5 <> '' THEN ?5 ELSE vendor_type END,
			submission_method = CASE WHEN ?6 <> '' THEN ?6 ELSE submission_method END,
			verify_snippet = CASE WHEN ?7 <> '' THEN ?7 ELSE verify_snippet END,
			notes = CASE WHEN ?8 <> '' THEN ?8 ELSE notes END,
			updated_at = ?1
		WHERE id = ?9`,
		at, u.ClearPortal, u.PortalURL, u.ManualInfoURL, string(u.Vendor), string(u.SubmissionMethod),
		u.Snippet, u.Notes, id,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mark verified %s", id)
	}

	r, err := scanSQLiteRecord(tx.QueryRowContext(ctx, `SELECT `+recordCols+` FROM jurisdiction_meta WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reload record %s", id)
	}
	return r, eris.Wrap(tx.Commit(), "sqlite: mark verified: commit tx")
}

func (s *SQLiteStore) InvalidateRecord(ctx context.Context, id, reason string, at time.Time) (*model.JurisdictionRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jurisdiction_meta SET invalid = 1, verified = 0,
			invalid_at = COALESCE(invalid_at, ?2), updated_at = ?2,
			notes = CASE WHEN ?3 = '' THEN notes WHEN notes = '' THEN ?3 ELSE notes || '; ' || ?3 END
		WHERE id = ?1`,
		id, at.UTC(), reason,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: invalidate record %s", id)
	}
	if err := checkRowsAffected(res, "record", id); err != nil {
		return nil, err
	}
	return s.GetRecord(ctx, id)
}

func (s *SQLiteStore) ListForVerification(ctx context.Context, recheckBefore time.Time, limit int) ([]model.JurisdictionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordCols+` FROM jurisdiction_meta
		WHERE invalid = 0 AND portal_url IS NOT NULL
			AND (verified = 0 OR verified_at < ?)
			AND NOT (verified = 0 AND EXISTS (
				SELECT 1 FROM jurisdiction_meta v
				WHERE v.jurisdiction_id = jurisdiction_meta.jurisdiction_id
					AND v.verified = 1 AND v.invalid = 0))
		ORDER BY verified, updated_at
		LIMIT ?`,
		recheckBefore.UTC(), withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list for verification")
	}
	return collectSQLiteRecords(rows)
}

func (s *SQLiteStore) ListReview(ctx context.Context, limit, offset int) ([]model.JurisdictionRecord, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM jurisdiction_meta WHERE verified = 0 AND invalid = 0`,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count review")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordCols+` FROM jurisdiction_meta
		WHERE verified = 0 AND invalid = 0
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		withDefaultLimit(limit, 25), offset,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list review")
	}
	recs, err := collectSQLiteRecords(rows)
	return recs, total, err
}

// --- discovery jobs ---

func scanSQLiteJob(row scannable) (*model.DiscoveryJob, error) {
	var j model.DiscoveryJob
	var status string
	if err := row.Scan(&j.ID, &j.JurisdictionID, &j.Level, &j.Query, &status, &j.Attempts,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := model.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	j.Status = st
	return &j, nil
}

func (s *SQLiteStore) InsertJobs(ctx context.Context, jobs []model.DiscoveryJob) (int64, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert jobs: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, j := range jobs {
		id := j.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO discovery_jobs (`+jobCols+`) VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`,
			id, j.JurisdictionID, string(j.Level), j.Query, string(model.JobPending), now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert job for %s", j.JurisdictionID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: insert jobs: commit tx")
}

// ClaimJobs selects and marks jobs inside one transaction. Timestamps are
// read back with a plain SELECT so the driver sees the declared column types.
func (s *SQLiteStore) ClaimJobs(ctx context.Context, n, maxAttempts int) ([]model.DiscoveryJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM discovery_jobs
		WHERE status = ? OR (status = ? AND attempts < ?)
		ORDER BY attempts, created_at
		LIMIT ?`,
		string(model.JobPending), string(model.JobError), maxAttempts, withDefaultLimit(n, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck,gosec
			return nil, eris.Wrap(err, "sqlite: scan job id")
		}
		ids = append(ids, id)
	}
	rows.Close() //nolint:errcheck,gosec
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs")
	}

	now := time.Now().UTC()
	out := make([]model.DiscoveryJob, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE discovery_jobs SET status = ?, updated_at = ? WHERE id = ?`, string(model.JobRunning), now, id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim job %s", id)
		}
		j, err := scanSQLiteJob(tx.QueryRowContext(ctx, `SELECT `+jobCols+` FROM discovery_jobs WHERE id = ?`, id))
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: reload job %s", id)
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(tx.Commit(), "sqlite: claim jobs: commit tx")
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_jobs SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		string(model.JobDone), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_jobs SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		string(model.JobError), reason, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) RequeueJob(ctx context.Context, jurisdictionID string, level model.Level, query string) (*model.DiscoveryJob, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_jobs (`+jobCols+`) VALUES (?1, ?2, ?3, ?4, ?6, 0, '', ?5, ?5)
		ON CONFLICT (jurisdiction_id, query) DO UPDATE SET
			status = ?6, attempts = 0, last_error = '', updated_at = excluded.updated_at`,
		uuid.New().String(), jurisdictionID, string(level), query, now, string(model.JobPending),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: requeue job for %s", jurisdictionID)
	}
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM discovery_jobs WHERE jurisdiction_id = ? AND query = ?`, jurisdictionID, query))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reload job for %s", jurisdictionID)
	}
	return j, nil
}

func (s *SQLiteStore) CountJobs(ctx context.Context, jurisdictionID string, status model.JobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM discovery_jobs WHERE jurisdiction_id = ?1 AND (?2 = '' OR status = ?2)`,
		jurisdictionID, string(status),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count jobs %s", jurisdictionID)
}

// --- endpoints ---

func (s *SQLiteStore) InsertEndpoints(ctx context.Context, eps []model.PortalEndpoint) (int64, error) {
	if len(eps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert endpoints: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, e := range eps {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO portal_endpoints (`+endpointCols+`) VALUES (?, ?, ?, ?, ?, '', NULL)`,
			id, e.JurisdictionID, e.URL, string(e.Vendor), string(model.EndpointUnknown),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert endpoint %s", e.URL)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: insert endpoints: commit tx")
}

func collectSQLiteEndpoints(rows *sql.Rows) ([]model.PortalEndpoint, error) {
	defer rows.Close() //nolint:errcheck

	var out []model.PortalEndpoint
	for rows.Next() {
		var e model.PortalEndpoint
		var status string
		var crawledAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.JurisdictionID, &e.URL, &e.Vendor, &status, &e.LastError, &crawledAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan endpoint")
		}
		st, err := model.ParseEndpointStatus(status)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: endpoint %s", e.ID)
		}
		e.Status = st
		if crawledAt.Valid {
			e.CrawledAt = &crawledAt.Time
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list endpoints")
}

func (s *SQLiteStore) ListEndpoints(ctx context.Context, status model.EndpointStatus, limit int) ([]model.PortalEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM portal_endpoints WHERE status = ? ORDER BY jurisdiction_id, url LIMIT ?`,
		string(status), withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list endpoints")
	}
	return collectSQLiteEndpoints(rows)
}

func (s *SQLiteStore) ListEndpointsDue(ctx context.Context, crawledBefore time.Time, limit int) ([]model.PortalEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM portal_endpoints
		WHERE status = ?1 OR status = ?2 OR (status = ?3 AND crawled_at < ?4)
		ORDER BY CASE status WHEN ?1 THEN 0 WHEN ?3 THEN 1 ELSE 2 END, crawled_at, jurisdiction_id, url
		LIMIT ?5`,
		string(model.EndpointUnknown), string(model.EndpointError), string(model.EndpointCrawled),
		crawledBefore.UTC(), withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due endpoints")
	}
	return collectSQLiteEndpoints(rows)
}

func (s *SQLiteStore) SetEndpointStatus(ctx context.Context, id string, status model.EndpointStatus, lastErr string, at time.Time) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: set endpoint status %s: invalid status %q", id, status)
	}
	var crawledAt *time.Time
	if status == model.EndpointCrawled {
		t := at.UTC()
		crawledAt = &t
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_endpoints SET status = ?, last_error = ?, crawled_at = COALESCE(?, crawled_at) WHERE id = ?`,
		string(status), lastErr, crawledAt, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set endpoint status %s", id)
	}
	return checkRowsAffected(res, "endpoint", id)
}

// --- snapshots ---

func collectSQLiteSnapshots(rows *sql.Rows) ([]model.PortalSnapshot, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.PortalSnapshot
	for rows.Next() {
		var p model.PortalSnapshot
		if err := rows.Scan(&p.ID, &p.JurisdictionID, &p.URL, &p.Vendor, &p.ContentHash, &p.StorageRef,
			&p.ContentType, &p.Parsed, &p.ParseError, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots")
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, p *model.PortalSnapshot) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_snapshots (`+snapshotCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.JurisdictionID, p.URL, string(p.Vendor), p.ContentHash, p.StorageRef, p.ContentType,
		p.Parsed, p.ParseError, p.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert snapshot %s", p.URL)
}

func (s *SQLiteStore) LatestSnapshots(ctx context.Context, jurisdictionID, url string, n int) ([]model.PortalSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM portal_snapshots
		WHERE jurisdiction_id = ? AND url = ?
		ORDER BY created_at DESC LIMIT ?`,
		jurisdictionID, url, withDefaultLimit(n, 2),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest snapshots %s", url)
	}
	return collectSQLiteSnapshots(rows)
}

func (s *SQLiteStore) ListUnparsedSnapshots(ctx context.Context, limit int) ([]model.PortalSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM portal_snapshots WHERE parsed = 0 ORDER BY parse_error <> '', created_at LIMIT ?`,
		withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unparsed snapshots")
	}
	return collectSQLiteSnapshots(rows)
}

func (s *SQLiteStore) MarkSnapshotParsed(ctx context.Context, id string, items []model.Extraction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark parsed: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_extractions WHERE snapshot_id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: clear extractions %s", id)
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_extractions (snapshot_id, collection, item) VALUES (?, ?, ?)`,
			id, it.Collection, string(it.Item),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert extraction %s", id)
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE portal_snapshots SET parsed = 1, parse_error = '' WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark parsed %s", id)
	}
	if err := checkRowsAffected(res, "snapshot", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: mark parsed: commit tx")
}

func (s *SQLiteStore) SetSnapshotParseError(ctx context.Context, id, msg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE portal_snapshots SET parse_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set parse error %s", id)
	}
	return checkRowsAffected(res, "snapshot", id)
}

// CountExtractions returns the stored extraction rows for a snapshot.
func (s *SQLiteStore) CountExtractions(ctx context.Context, snapshotID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, count(*) FROM snapshot_extractions WHERE snapshot_id = ? GROUP BY collection`, snapshotID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count extractions %s", snapshotID)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]int)
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction count")
		}
		out[c] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count extractions")
}

// --- ai usage ---

func (s *SQLiteStore) IncrAIUsage(ctx context.Context, day string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO ai_usage (day, count) VALUES (?, 1)
		ON CONFLICT (day) DO UPDATE SET count = count + 1
		RETURNING count`, day,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: incr ai usage %s", day)
}

func (s *SQLiteStore) GetAIUsage(ctx context.Context, day string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM ai_usage WHERE day = ?`, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, eris.Wrapf(err, "sqlite: get ai usage %s", day)
}
