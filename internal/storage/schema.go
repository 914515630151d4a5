package storage

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stage_settings (
		stage_name    TEXT PRIMARY KEY,
		axis_inverted JSONB NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stage_moves (
		id                 UUID PRIMARY KEY,
		stage_name         TEXT NOT NULL,
		kind               TEXT NOT NULL,
		requested          JSONB,
		hardware           JSONB,
		result             JSONB NOT NULL,
		block_cancellation BOOLEAN NOT NULL DEFAULT FALSE,
		error              TEXT NOT NULL DEFAULT '',
		started_at         TIMESTAMPTZ NOT NULL,
		completed_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stage_moves_stage_started_idx
		ON stage_moves (stage_name, started_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stage_settings (
		stage_name    TEXT PRIMARY KEY,
		axis_inverted TEXT NOT NULL,
		updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS stage_moves (
		id                 TEXT PRIMARY KEY,
		stage_name         TEXT NOT NULL,
		kind               TEXT NOT NULL,
		requested          TEXT,
		hardware           TEXT,
		result             TEXT NOT NULL,
		block_cancellation BOOLEAN NOT NULL DEFAULT 0,
		error              TEXT NOT NULL DEFAULT '',
		started_at         TIMESTAMP NOT NULL,
		completed_at       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stage_moves_stage_started_idx
		ON stage_moves (stage_name, started_at DESC)`,
}
