package repository

// Versioned schema shared by the sqlite and postgres backends. Timestamps are
// stored as unix milliseconds so the same statements work on both dialects.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS entities (
    ref                 TEXT PRIMARY KEY,
    name                TEXT NOT NULL DEFAULT '',
    category            TEXT NOT NULL DEFAULT '',
    tier                TEXT NOT NULL DEFAULT 'free',
    monitoring_enabled  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS metric_snapshots (
    id             TEXT PRIMARY KEY,
    entity_ref     TEXT NOT NULL,
    taken_at       BIGINT NOT NULL,
    overall_score  DOUBLE PRECISION NOT NULL,
    subscores      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_snapshots_entity_taken ON metric_snapshots(entity_ref, taken_at DESC);

CREATE TABLE IF NOT EXISTS action_records (
    id           TEXT PRIMARY KEY,
    entity_ref   TEXT NOT NULL,
    kind         TEXT NOT NULL DEFAULT '',
    occurred_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_entity_occurred ON action_records(entity_ref, occurred_at DESC);
`,
	},
	// Migration 2: external signal feeds
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS competitor_snapshots (
    entity_ref     TEXT NOT NULL,
    competitor     TEXT NOT NULL,
    taken_at       BIGINT NOT NULL,
    overall_score  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (entity_ref, competitor, taken_at)
);

CREATE TABLE IF NOT EXISTS industry_benchmarks (
    category       TEXT NOT NULL,
    taken_at       BIGINT NOT NULL,
    average_score  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (category, taken_at)
);
`,
	},
	// Migration 3: milestone ledger
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS milestones (
    entity_ref  TEXT NOT NULL,
    threshold   DOUBLE PRECISION NOT NULL,
    reached_at  BIGINT NOT NULL,
    PRIMARY KEY (entity_ref, threshold)
);
`,
	},
}
