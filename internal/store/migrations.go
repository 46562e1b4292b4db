package store

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jurisdictions (
	geoid         TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	level         TEXT NOT NULL CHECK (level IN ('state', 'county', 'place')),
	parent_county TEXT NOT NULL DEFAULT '',
	homepage      TEXT NOT NULL DEFAULT '',
	codes_url     TEXT NOT NULL DEFAULT '',
	permits_url   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jurisdictions_parent_county ON jurisdictions(parent_county);

CREATE TABLE IF NOT EXISTS candidate_records (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL REFERENCES jurisdictions(geoid),
	source_url      TEXT NOT NULL,
	tier            TEXT NOT NULL CHECK (tier IN ('cache', 'offline', 'ai-mini', 'ai-full', 'search')),
	query           TEXT NOT NULL DEFAULT '',
	vendor          TEXT NOT NULL DEFAULT 'unknown',
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_candidate_records_jurisdiction ON candidate_records(jurisdiction_id, created_at DESC);

CREATE TABLE IF NOT EXISTS jurisdiction_meta (
	id                TEXT PRIMARY KEY,
	jurisdiction_id   TEXT NOT NULL REFERENCES jurisdictions(geoid),
	portal_url        TEXT,
	manual_info_url   TEXT,
	vendor_type       TEXT NOT NULL DEFAULT 'unknown',
	submission_method TEXT NOT NULL DEFAULT 'unknown' CHECK (submission_method IN ('online', 'offline_only', 'unknown')),
	verified          BOOLEAN NOT NULL DEFAULT false,
	verified_at       TIMESTAMPTZ,
	invalid           BOOLEAN NOT NULL DEFAULT false,
	invalid_at        TIMESTAMPTZ,
	notes             TEXT NOT NULL DEFAULT '',
	raw               JSONB,
	verify_snippet    TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jurisdiction_meta_jurisdiction ON jurisdiction_meta(jurisdiction_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_jurisdiction_meta_review ON jurisdiction_meta(created_at DESC) WHERE NOT verified AND NOT invalid;

-- At most one authoritative record per jurisdiction. Deferrable so the
-- multi-row verify update is checked once at statement end.
DO $$
BEGIN
	ALTER TABLE jurisdiction_meta ADD CONSTRAINT jurisdiction_meta_one_verified
		EXCLUDE USING btree (jurisdiction_id WITH =) WHERE (verified AND NOT invalid)
		DEFERRABLE INITIALLY IMMEDIATE;
EXCEPTION
	WHEN duplicate_object OR duplicate_table THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS discovery_jobs (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL REFERENCES jurisdictions(geoid),
	level           TEXT NOT NULL,
	query           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'running', 'done', 'error')),
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (jurisdiction_id, query)
);

CREATE INDEX IF NOT EXISTS idx_discovery_jobs_status ON discovery_jobs(status, attempts, created_at);

CREATE TABLE IF NOT EXISTS portal_endpoints (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL REFERENCES jurisdictions(geoid),
	url             TEXT NOT NULL,
	vendor          TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'unknown' CHECK (status IN ('unknown', 'crawled', 'error')),
	last_error      TEXT NOT NULL DEFAULT '',
	crawled_at      TIMESTAMPTZ,
	UNIQUE (jurisdiction_id, url)
);

CREATE INDEX IF NOT EXISTS idx_portal_endpoints_status ON portal_endpoints(status);

CREATE TABLE IF NOT EXISTS portal_snapshots (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL REFERENCES jurisdictions(geoid),
	url             TEXT NOT NULL,
	vendor          TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	storage_ref     TEXT NOT NULL,
	content_type    TEXT NOT NULL DEFAULT '',
	parsed          BOOLEAN NOT NULL DEFAULT false,
	parse_error     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_portal_snapshots_url ON portal_snapshots(jurisdiction_id, url, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_portal_snapshots_unparsed ON portal_snapshots(created_at) WHERE NOT parsed;

CREATE TABLE IF NOT EXISTS snapshot_extractions (
	snapshot_id TEXT NOT NULL REFERENCES portal_snapshots(id),
	collection  TEXT NOT NULL,
	item        JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshot_extractions_snapshot ON snapshot_extractions(snapshot_id);

CREATE TABLE IF NOT EXISTS ai_usage (
	day   TEXT PRIMARY KEY,
	count BIGINT NOT NULL DEFAULT 0
);
`

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jurisdictions (
	geoid         TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	level         TEXT NOT NULL,
	parent_county TEXT NOT NULL DEFAULT '',
	homepage      TEXT NOT NULL DEFAULT '',
	codes_url     TEXT NOT NULL DEFAULT '',
	permits_url   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jurisdictions_parent_county ON jurisdictions(parent_county);

CREATE TABLE IF NOT EXISTS candidate_records (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL,
	source_url      TEXT NOT NULL,
	tier            TEXT NOT NULL,
	query           TEXT NOT NULL DEFAULT '',
	vendor          TEXT NOT NULL DEFAULT 'unknown',
	confidence      REAL NOT NULL DEFAULT 0,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_candidate_records_jurisdiction ON candidate_records(jurisdiction_id, created_at);

CREATE TABLE IF NOT EXISTS jurisdiction_meta (
	id                TEXT PRIMARY KEY,
	jurisdiction_id   TEXT NOT NULL,
	portal_url        TEXT,
	manual_info_url   TEXT,
	vendor_type       TEXT NOT NULL DEFAULT 'unknown',
	submission_method TEXT NOT NULL DEFAULT 'unknown',
	verified          INTEGER NOT NULL DEFAULT 0,
	verified_at       DATETIME,
	invalid           INTEGER NOT NULL DEFAULT 0,
	invalid_at        DATETIME,
	notes             TEXT NOT NULL DEFAULT '',
	raw               TEXT,
	verify_snippet    TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jurisdiction_meta_jurisdiction ON jurisdiction_meta(jurisdiction_id, updated_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jurisdiction_meta_one_verified
	ON jurisdiction_meta(jurisdiction_id) WHERE verified = 1 AND invalid = 0;

CREATE TABLE IF NOT EXISTS discovery_jobs (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL,
	level           TEXT NOT NULL,
	query           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (jurisdiction_id, query)
);

CREATE INDEX IF NOT EXISTS idx_discovery_jobs_status ON discovery_jobs(status, attempts, created_at);

CREATE TABLE IF NOT EXISTS portal_endpoints (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL,
	url             TEXT NOT NULL,
	vendor          TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'unknown',
	last_error      TEXT NOT NULL DEFAULT '',
	crawled_at      DATETIME,
	UNIQUE (jurisdiction_id, url)
);

CREATE TABLE IF NOT EXISTS portal_snapshots (
	id              TEXT PRIMARY KEY,
	jurisdiction_id TEXT NOT NULL,
	url             TEXT NOT NULL,
	vendor          TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	storage_ref     TEXT NOT NULL,
	content_type    TEXT NOT NULL DEFAULT '',
	parsed          INTEGER NOT NULL DEFAULT 0,
	parse_error     TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_portal_snapshots_url ON portal_snapshots(jurisdiction_id, url, created_at);

CREATE TABLE IF NOT EXISTS snapshot_extractions (
	snapshot_id TEXT NOT NULL,
	collection  TEXT NOT NULL,
	item        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshot_extractions_snapshot ON snapshot_extractions(snapshot_id);

CREATE TABLE IF NOT EXISTS ai_usage (
	day   TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);
`
