package postgres

import (
	"fmt"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// schema is applied idempotently at startup. Statements must stay safe to
// re-run against an already-migrated database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		credits        INT NOT NULL DEFAULT 0 CHECK (credits >= 0),
		full_name      TEXT NOT NULL DEFAULT '',
		preferred_name TEXT NOT NULL DEFAULT '',
		email          TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL REFERENCES users(id),
		type         TEXT NOT NULL,
		status       TEXT NOT NULL,
		parameters   JSONB NOT NULL,
		results      JSONB,
		error        TEXT NOT NULL DEFAULT '',
		credits_used INT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		logs         JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		content      TEXT NOT NULL DEFAULT '',
		author       TEXT NOT NULL DEFAULT '',
		subreddit    TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		created_utc  TIMESTAMPTZ,
		score        INT NOT NULL DEFAULT 0,
		num_comments INT NOT NULL DEFAULT 0,
		product      TEXT NOT NULL,
		scraped_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_product ON posts (product)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_product_subreddit ON posts (product, subreddit)`,
	`CREATE TABLE IF NOT EXISTS pain_points (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		product             TEXT NOT NULL,
		topic               TEXT NOT NULL,
		description         TEXT NOT NULL DEFAULT '',
		severity            TEXT NOT NULL DEFAULT '',
		potential_solutions TEXT NOT NULL DEFAULT '',
		related_keywords    JSONB NOT NULL DEFAULT '[]',
		engagement_summary  TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pain_points_user_product ON pain_points (user_id, product)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		user_id     TEXT NOT NULL,
		product     TEXT NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		pain_points JSONB NOT NULL DEFAULT '[]',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, product)
	)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
		user_id             TEXT NOT NULL,
		product             TEXT NOT NULL,
		recommendation_type TEXT NOT NULL,
		recommendations     JSONB NOT NULL DEFAULT '[]',
		summary             TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, product, recommendation_type)
	)`,
	// Early deployments keyed recommendations on (user_id, product) only,
	// which made a second recommendation type overwrite the first. The
	// legacy index must go before the triple key can coexist with it.
	`DROP INDEX IF EXISTS idx_recommendations_user_product_unique`,
}

// Migrate applies the embedded schema. All statements are idempotent so the
// call is safe on every startup.
func Migrate(ctx domain.Context, pool PgxPool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.migrate: %w", err)
		}
	}
	return nil
}
