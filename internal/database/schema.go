package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS aleo_blocks (
		network       TEXT        NOT NULL,
		height        BIGINT      NOT NULL,
		hash          TEXT        NOT NULL,
		previous_hash TEXT        NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL,
		tx_count      INTEGER     NOT NULL DEFAULT 0,
		body          JSONB       NOT NULL,
		archived      BOOLEAN     NOT NULL DEFAULT FALSE,
		indexed_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (network, height)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_aleo_blocks_hash ON aleo_blocks (network, hash)`,
	`CREATE INDEX IF NOT EXISTS idx_aleo_blocks_unarchived ON aleo_blocks (network, height) WHERE NOT archived`,
	`CREATE TABLE IF NOT EXISTS aleo_transactions (
		network TEXT   NOT NULL,
		tx_id   TEXT   NOT NULL,
		height  BIGINT NOT NULL,
		type    TEXT   NOT NULL,
		status  TEXT   NOT NULL DEFAULT '',
		PRIMARY KEY (network, tx_id),
		FOREIGN KEY (network, height) REFERENCES aleo_blocks (network, height) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_aleo_transactions_height ON aleo_transactions (network, height)`,
}

// EnsureSchema creates the tables and indexes if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
