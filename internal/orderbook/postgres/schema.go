// Package postgres implements the order-book Store (spec.md §4.E) over
// PostgreSQL, grounded on the retrieved reference file
// other_examples/c40dfeaf_canopy-network-launchpad__internal-services-order_processor_tx.go.go:
// sqlx for typed queries, lib/pq for the driver and deadlock/
// serialization error codes, and the same bounded-retry-with-backoff
// idiom around transactions.
package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Schema is the DDL for every table named in spec.md §4.E. Binary keys
// are fixed-width bytea; numeric columns are stored as numeric (big
// decimal) per spec.md §6 "Persistence layout".
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	uid                  bytea PRIMARY KEY,
	owner                bytea NOT NULL,
	sell_token           bytea NOT NULL,
	buy_token            bytea NOT NULL,
	sell_amount          numeric NOT NULL,
	buy_amount           numeric NOT NULL,
	fee_amount           numeric NOT NULL,
	valid_to             integer NOT NULL,
	app_data             bytea NOT NULL,
	kind                 smallint NOT NULL,
	partially_fillable   boolean NOT NULL,
	sell_token_balance   smallint NOT NULL,
	buy_token_balance    smallint NOT NULL,
	signature            bytea NOT NULL,
	signing_scheme       smallint NOT NULL,
	creation_date        timestamptz NOT NULL,
	cancellation_date    timestamptz
);

CREATE TABLE IF NOT EXISTS trades (
	block_number                  bigint NOT NULL,
	log_index                     bigint NOT NULL,
	order_uid                     bytea NOT NULL,
	sell_amount_including_fee     numeric NOT NULL,
	buy_amount                    numeric NOT NULL,
	fee_amount                    numeric NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS invalidations (
	block_number bigint NOT NULL,
	log_index    bigint NOT NULL,
	order_uid    bytea NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS presignatures (
	block_number bigint NOT NULL,
	log_index    bigint NOT NULL,
	order_uid    bytea NOT NULL,
	signed       boolean NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS settlements (
	block_number bigint NOT NULL,
	log_index    bigint NOT NULL,
	tx_hash      bytea NOT NULL,
	solver       bytea NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS min_fee_measurements (
	sell_token  bytea NOT NULL,
	buy_token   bytea NOT NULL,
	amount      numeric NOT NULL,
	kind        smallint NOT NULL,
	fee_amount  numeric NOT NULL,
	expires_at  timestamptz NOT NULL,
	PRIMARY KEY (sell_token, buy_token, amount, kind)
);

CREATE TABLE IF NOT EXISTS app_data (
	hash bytea PRIMARY KEY,
	doc  bytea NOT NULL
);
`

// Store is the sqlx-backed implementation of orderbook.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and ensures Schema exists, mirroring the
// teacher-adjacent idiom of a single *sqlx.DB handed to every repository.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }
