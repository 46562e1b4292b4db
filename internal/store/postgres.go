package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portal-resolver/internal/db"
	"github.com/sells-group/portal-resolver/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// notFound maps pgx.ErrNoRows onto ErrNotFound.
func notFound(err error, what, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: %s %s", what, key)
	}
	return eris.Wrapf(err, "postgres: get %s %s", what, key)
}

// --- jurisdictions ---

const jurisdictionCols = `geoid, name, level, parent_county, homepage, codes_url, permits_url`

func scanJurisdiction(row pgx.Row) (*model.Jurisdiction, error) {
	var j model.Jurisdiction
	err := row.Scan(&j.GeoID, &j.Name, &j.Level, &j.ParentCounty, &j.Homepage, &j.CodesURL, &j.PermitsURL)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJurisdiction(ctx context.Context, geoid string) (*model.Jurisdiction, error) {
	j, err := scanJurisdiction(s.pool.QueryRow(ctx,
		`SELECT `+jurisdictionCols+` FROM jurisdictions WHERE geoid = $1`, geoid))
	if err != nil {
		return nil, notFound(err, "jurisdiction", geoid)
	}
	return j, nil
}

func (s *PostgresStore) ListJurisdictions(ctx context.Context, f JurisdictionFilter) ([]model.Jurisdiction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jurisdictionCols+` FROM jurisdictions
		WHERE ($1 = '' OR level = $1) AND ($2 = '' OR parent_county = $2)
		ORDER BY geoid LIMIT $3 OFFSET $4`,
		string(f.Level), f.ParentCounty, withDefaultLimit(f.Limit, 1000), f.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jurisdictions")
	}
	defer rows.Close()

	var out []model.Jurisdiction
	for rows.Next() {
		j, err := scanJurisdiction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan jurisdiction")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jurisdictions")
}

func (s *PostgresStore) UpsertJurisdictions(ctx context.Context, js []model.Jurisdiction) (int64, error) {
	if len(js) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert jurisdictions: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var n int64
	for _, j := range js {
		tag, err := tx.Exec(ctx,
			`INSERT INTO jurisdictions (`+jurisdictionCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (geoid) DO UPDATE SET name = EXCLUDED.name, level = EXCLUDED.level,
				parent_county = EXCLUDED.parent_county, homepage = EXCLUDED.homepage,
				codes_url = EXCLUDED.codes_url, permits_url = EXCLUDED.permits_url`,
			j.GeoID, j.Name, string(j.Level), j.ParentCounty, j.Homepage, j.CodesURL, j.PermitsURL,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert jurisdiction %s", j.GeoID)
		}
		n += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert jurisdictions: commit tx")
	}
	return n, nil
}

// --- candidates ---

const candidateCols = `id, jurisdiction_id, source_url, tier, query, vendor, confidence, notes, created_at`

func scanCandidates(rows pgx.Rows) ([]model.CandidateRecord, error) {
	defer rows.Close()
	var out []model.CandidateRecord
	for rows.Next() {
		var c model.CandidateRecord
		if err := rows.Scan(&c.ID, &c.JurisdictionID, &c.SourceURL, &c.Tier, &c.Query,
			&c.Vendor, &c.Confidence, &c.Notes, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates")
}

func (s *PostgresStore) InsertCandidate(ctx context.Context, c *model.CandidateRecord) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO candidate_records (`+candidateCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.JurisdictionID, c.SourceURL, string(c.Tier), c.Query, string(c.Vendor), c.Confidence, c.Notes, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert candidate for %s", c.JurisdictionID)
}

func (s *PostgresStore) ListCandidates(ctx context.Context, jurisdictionID string) ([]model.CandidateRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateCols+` FROM candidate_records WHERE jurisdiction_id = $1 ORDER BY created_at`,
		jurisdictionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list candidates %s", jurisdictionID)
	}
	return scanCandidates(rows)
}

func (s *PostgresStore) ListCountyCandidates(ctx context.Context, countyGeoID string) ([]model.CandidateRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.jurisdiction_id, c.source_url, c.tier, c.query, c.vendor, c.confidence, c.notes, c.created_at
		FROM candidate_records c JOIN jurisdictions j ON j.geoid = c.jurisdiction_id
		WHERE j.geoid = $1 OR j.parent_county = $1
		ORDER BY c.created_at`,
		countyGeoID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list county candidates %s", countyGeoID)
	}
	return scanCandidates(rows)
}

// --- jurisdiction records ---

const recordCols = `id, jurisdiction_id, portal_url, manual_info_url, vendor_type, submission_method,
	verified, verified_at, invalid, invalid_at, notes, raw, verify_snippet, created_at, updated_at`

func scanRecord(row pgx.Row) (*model.JurisdictionRecord, error) {
	var r model.JurisdictionRecord
	var raw []byte
	var method string
	err := row.Scan(&r.ID, &r.JurisdictionID, &r.PortalURL, &r.ManualInfoURL, &r.Vendor, &method,
		&r.Verified, &r.VerifiedAt, &r.Invalid, &r.InvalidAt, &r.Notes, &raw, &r.VerifySnippet,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.SubmissionMethod, err = model.ParseSubmissionMethod(method); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		r.Raw = raw
	}
	return &r, nil
}

func collectRecords(rows pgx.Rows) ([]model.JurisdictionRecord, error) {
	defer rows.Close()
	var out []model.JurisdictionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records")
}

func rawArg(r *model.JurisdictionRecord) any {
	if len(r.Raw) == 0 {
		return nil
	}
	return []byte(r.Raw)
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.JurisdictionRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordCols+` FROM jurisdiction_meta WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "record", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, jurisdictionID string) ([]model.JurisdictionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+` FROM jurisdiction_meta WHERE jurisdiction_id = $1 ORDER BY updated_at DESC, created_at DESC`,
		jurisdictionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records %s", jurisdictionID)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) InsertRecord(ctx context.Context, r *model.JurisdictionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jurisdiction_meta (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.JurisdictionID, r.PortalURL, r.ManualInfoURL, string(r.Vendor), string(r.SubmissionMethod),
		r.Verified, r.VerifiedAt, r.Invalid, r.InvalidAt, r.Notes, rawArg(r), r.VerifySnippet,
		r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert record for %s", r.JurisdictionID)
}

// UpdateRecord writes the mutable resolution fields. Verification and
// invalidation flags are only changed by MarkVerified and InvalidateRecord.
func (s *PostgresStore) UpdateRecord(ctx context.Context, r *model.JurisdictionRecord) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jurisdiction_meta SET portal_url = $1, manual_info_url = $2, vendor_type = $3,
			submission_method = $4, notes = $5, raw = $6, updated_at = $7
		WHERE id = $8`,
		r.PortalURL, r.ManualInfoURL, string(r.Vendor), string(r.SubmissionMethod), r.Notes, rawArg(r),
		r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: record %s", r.ID)
	}
	return nil
}

// markVerifiedSQL verifies $1 and invalidates its siblings in one statement.
// The exclusion constraint is checked at statement end.
const markVerifiedSQL = `
UPDATE jurisdiction_meta AS m SET
	verified          = (m.id = $1),
	verified_at       = CASE WHEN m.id = $1 THEN $2 ELSE m.verified_at END,
	invalid           = (m.id <> $1),
	invalid_at        = CASE WHEN m.id = $1 THEN NULL WHEN m.invalid THEN m.invalid_at ELSE $2 END,
	portal_url        = CASE WHEN m.id <> $1 THEN m.portal_url WHEN $3::boolean THEN NULL ELSE COALESCE($4::text, m.portal_url) END,
	manual_info_url   = CASE WHEN m.id = $1 THEN COALESCE($5::text, m.manual_info_url) ELSE m.manual_info_url END,
	vendor_type       = CASE WHEN m.id = $1 AND $6::text <> '' THEN $6::text ELSE m.vendor_type END,
	submission_method = CASE WHEN m.id = $1 AND $7::text <> '' THEN $7::text ELSE m.submission_method END,
	verify_snippet    = CASE WHEN m.id = $1 AND $8::text <> '' THEN $8::text ELSE m.verify_snippet END,
	notes             = CASE WHEN m.id = $1 AND $9::text <> '' THEN $9::text ELSE m.notes END,
	updated_at        = $2
WHERE m.jurisdiction_id = (SELECT t.jurisdiction_id FROM jurisdiction_meta t WHERE t.id = $1)`

func (s *PostgresStore) MarkVerified(ctx context.Context, id string, u VerifyUpdate, at time.Time) (*model.JurisdictionRecord, error) {
	tag, err := s.pool.Exec(ctx, markVerifiedSQL,
		id, at.UTC(), u.ClearPortal, u.PortalURL, u.ManualInfoURL,
		string(u.Vendor), string(u.SubmissionMethod), u.Snippet, u.Notes,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: mark verified %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	return s.GetRecord(ctx, id)
}

func (s *PostgresStore) InvalidateRecord(ctx context.Context, id, reason string, at time.Time) (*model.JurisdictionRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE jurisdiction_meta SET invalid = true, verified = false,
			invalid_at = COALESCE(invalid_at, $2), updated_at = $2,
			notes = CASE WHEN $3 = '' THEN notes WHEN notes = '' THEN $3 ELSE notes || '; ' || $3 END
		WHERE id = $1
		RETURNING `+recordCols,
		id, at.UTC(), reason,
	))
	if err != nil {
		return nil, notFound(err, "record", id)
	}
	return r, nil
}

func (s *PostgresStore) ListForVerification(ctx context.Context, recheckBefore time.Time, limit int) ([]model.JurisdictionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+` FROM jurisdiction_meta
		WHERE NOT invalid AND portal_url IS NOT NULL
			AND (NOT verified OR verified_at < $1)
			AND NOT (NOT verified AND EXISTS (
				SELECT 1 FROM jurisdiction_meta v
				WHERE v.jurisdiction_id = jurisdiction_meta.jurisdiction_id
					AND v.verified AND NOT v.invalid))
		ORDER BY verified, updated_at
		LIMIT $2`,
		recheckBefore.UTC(), withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list for verification")
	}
	return collectRecords(rows)
}

func (s *PostgresStore) ListReview(ctx context.Context, limit, offset int) ([]model.JurisdictionRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM jurisdiction_meta WHERE NOT verified AND NOT invalid`,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count review")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+` FROM jurisdiction_meta
		WHERE NOT verified AND NOT invalid
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		withDefaultLimit(limit, 25), offset,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list review")
	}
	recs, err := collectRecords(rows)
	return recs, total, err
}

// --- discovery jobs ---

const jobCols = `id, jurisdiction_id, level, query, status, attempts, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*model.DiscoveryJob, error) {
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

func (s *PostgresStore) InsertJobs(ctx context.Context, jobs []model.DiscoveryJob) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(jobs))
	for _, j := range jobs {
		id := j.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, j.JurisdictionID, string(j.Level), j.Query, string(model.JobPending), 0, "", now, now})
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:        "discovery_jobs",
		Columns:      []string{"id", "jurisdiction_id", "level", "query", "status", "attempts", "last_error", "created_at", "updated_at"},
		ConflictKeys: []string{"jurisdiction_id", "query"},
	}, rows)
	return n, eris.Wrap(err, "postgres: insert jobs")
}

func (s *PostgresStore) ClaimJobs(ctx context.Context, n, maxAttempts int) ([]model.DiscoveryJob, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE discovery_jobs SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM discovery_jobs
			WHERE status = $3 OR (status = $4 AND attempts < $5)
			ORDER BY attempts, created_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobCols,
		string(model.JobRunning), time.Now().UTC(), string(model.JobPending), string(model.JobError),
		maxAttempts, withDefaultLimit(n, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim jobs")
	}
	defer rows.Close()

	var out []model.DiscoveryJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: claim jobs")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	return s.execOne(ctx, "job", id,
		`UPDATE discovery_jobs SET status = $2, last_error = '', updated_at = $3 WHERE id = $1`,
		id, string(model.JobDone), time.Now().UTC())
}

func (s *PostgresStore) FailJob(ctx context.Context, id, reason string) error {
	return s.execOne(ctx, "job", id,
		`UPDATE discovery_jobs SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = $4 WHERE id = $1`,
		id, string(model.JobError), reason, time.Now().UTC())
}

func (s *PostgresStore) RequeueJob(ctx context.Context, jurisdictionID string, level model.Level, query string) (*model.DiscoveryJob, error) {
	now := time.Now().UTC()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO discovery_jobs (`+jobCols+`) VALUES ($1, $2, $3, $4, $6, 0, '', $5, $5)
		ON CONFLICT (jurisdiction_id, query) DO UPDATE SET
			status = $6, attempts = 0, last_error = '', updated_at = EXCLUDED.updated_at
		RETURNING `+jobCols,
		uuid.New().String(), jurisdictionID, string(level), query, now, string(model.JobPending),
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: requeue job for %s", jurisdictionID)
	}
	return j, nil
}

func (s *PostgresStore) CountJobs(ctx context.Context, jurisdictionID string, status model.JobStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM discovery_jobs WHERE jurisdiction_id = $1 AND ($2 = '' OR status = $2)`,
		jurisdictionID, string(status),
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count jobs %s", jurisdictionID)
}

// --- endpoints ---

const endpointCols = `id, jurisdiction_id, url, vendor, status, last_error, crawled_at`

func (s *PostgresStore) InsertEndpoints(ctx context.Context, eps []model.PortalEndpoint) (int64, error) {
	rows := make([][]any, 0, len(eps))
	for _, e := range eps {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, e.JurisdictionID, e.URL, string(e.Vendor), string(model.EndpointUnknown), "", nil})
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:        "portal_endpoints",
		Columns:      []string{"id", "jurisdiction_id", "url", "vendor", "status", "last_error", "crawled_at"},
		ConflictKeys: []string{"jurisdiction_id", "url"},
	}, rows)
	return n, eris.Wrap(err, "postgres: insert endpoints")
}

func collectEndpoints(rows pgx.Rows) ([]model.PortalEndpoint, error) {
	defer rows.Close()

	var out []model.PortalEndpoint
	for rows.Next() {
		var e model.PortalEndpoint
		var status string
		if err := rows.Scan(&e.ID, &e.JurisdictionID, &e.URL, &e.Vendor, &status, &e.LastError, &e.CrawledAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan endpoint")
		}
		st, err := model.ParseEndpointStatus(status)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: endpoint %s", e.ID)
		}
		e.Status = st
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list endpoints")
}

func (s *PostgresStore) ListEndpoints(ctx context.Context, status model.EndpointStatus, limit int) ([]model.PortalEndpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+endpointCols+` FROM portal_endpoints WHERE status = $1 ORDER BY jurisdiction_id, url LIMIT $2`,
		string(status), withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list endpoints")
	}
	return collectEndpoints(rows)
}

func (s *PostgresStore) ListEndpointsDue(ctx context.Context, crawledBefore time.Time, limit int) ([]model.PortalEndpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+endpointCols+` FROM portal_endpoints
		WHERE status = $1 OR status = $2 OR (status = $3 AND crawled_at < $4)
		ORDER BY CASE WHEN status = $1 THEN 0 WHEN status = $3 THEN 1 ELSE 2 END,
			crawled_at NULLS FIRST, jurisdiction_id, url
		LIMIT $5`,
		string(model.EndpointUnknown), string(model.EndpointError), string(model.EndpointCrawled),
		crawledBefore.UTC(), withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due endpoints")
	}
	return collectEndpoints(rows)
}

func (s *PostgresStore) SetEndpointStatus(ctx context.Context, id string, status model.EndpointStatus, lastErr string, at time.Time) error {
	if !status.Valid() {
		return eris.Errorf("postgres: set endpoint status %s: invalid status %q", id, status)
	}
	var crawledAt *time.Time
	if status == model.EndpointCrawled {
		t := at.UTC()
		crawledAt = &t
	}
	return s.execOne(ctx, "endpoint", id,
		`UPDATE portal_endpoints SET status = $2, last_error = $3, crawled_at = COALESCE($4, crawled_at) WHERE id = $1`,
		id, string(status), lastErr, crawledAt)
}

// --- snapshots ---

const snapshotCols = `id, jurisdiction_id, url, vendor, content_hash, storage_ref, content_type, parsed, parse_error, created_at`

func collectSnapshots(rows pgx.Rows) ([]model.PortalSnapshot, error) {
	defer rows.Close()
	var out []model.PortalSnapshot
	for rows.Next() {
		var p model.PortalSnapshot
		if err := rows.Scan(&p.ID, &p.JurisdictionID, &p.URL, &p.Vendor, &p.ContentHash, &p.StorageRef,
			&p.ContentType, &p.Parsed, &p.ParseError, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots")
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, p *model.PortalSnapshot) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portal_snapshots (`+snapshotCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.JurisdictionID, p.URL, string(p.Vendor), p.ContentHash, p.StorageRef, p.ContentType,
		p.Parsed, p.ParseError, p.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert snapshot %s", p.URL)
}

func (s *PostgresStore) LatestSnapshots(ctx context.Context, jurisdictionID, url string, n int) ([]model.PortalSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM portal_snapshots
		WHERE jurisdiction_id = $1 AND url = $2
		ORDER BY created_at DESC LIMIT $3`,
		jurisdictionID, url, withDefaultLimit(n, 2),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest snapshots %s", url)
	}
	return collectSnapshots(rows)
}

func (s *PostgresStore) ListUnparsedSnapshots(ctx context.Context, limit int) ([]model.PortalSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM portal_snapshots WHERE NOT parsed ORDER BY parse_error <> '', created_at LIMIT $1`,
		withDefaultLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unparsed snapshots")
	}
	return collectSnapshots(rows)
}

// MarkSnapshotParsed stores the extracted items and flips parsed in one
// transaction so a crash cannot leave half an extraction behind.
func (s *PostgresStore) MarkSnapshotParsed(ctx context.Context, id string, items []model.Extraction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: mark parsed: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM snapshot_extractions WHERE snapshot_id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: clear extractions %s", id)
	}
	if len(items) > 0 {
		rows := make([][]any, len(items))
		for i, it := range items {
			rows[i] = []any{id, it.Collection, []byte(it.Item)}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"snapshot_extractions"},
			[]string{"snapshot_id", "collection", "item"}, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "postgres: copy extractions %s", id)
		}
	}
	tag, err := tx.Exec(ctx, `UPDATE portal_snapshots SET parsed = true, parse_error = '' WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark parsed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: snapshot %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: mark parsed: commit tx")
}

func (s *PostgresStore) SetSnapshotParseError(ctx context.Context, id, msg string) error {
	return s.execOne(ctx, "snapshot", id,
		`UPDATE portal_snapshots SET parse_error = $2 WHERE id = $1`, id, msg)
}

// --- ai usage ---

func (s *PostgresStore) IncrAIUsage(ctx context.Context, day string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ai_usage (day, count) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET count = ai_usage.count + 1
		RETURNING count`, day,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: incr ai usage %s", day)
}

func (s *PostgresStore) GetAIUsage(ctx context.Context, day string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count FROM ai_usage WHERE day = $1`, day).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, eris.Wrapf(err, "postgres: get ai usage %s", day)
}

func (s *PostgresStore) execOne(ctx context.Context, what, id, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %s", what, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: %s %s", what, id)
	}
	return nil
}
