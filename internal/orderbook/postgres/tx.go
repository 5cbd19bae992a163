package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// maxRetries and retryDelay mirror the canopy-launchpad reference
// (MaxRetries=3, RetryDelay base 100ms, exponential backoff).
const (
	maxRetries = 3
	retryDelay = 100 * time.Millisecond
)

var errMaxRetries = errors.New("orderbook/postgres: max transaction retries exceeded")

// transaction runs fn inside a single sqlx transaction, committing on
// success and rolling back otherwise.
func transaction(db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// transactionWithRetry retries fn on PostgreSQL deadlock (40P01) and
// serialization-failure (40001) errors with exponential backoff, the
// same idiom the canopy-launchpad order processor uses for row-locked
// multi-table updates; the event-replace (spec.md §4.A) and event-insert
// transactions use this, while InsertOrder runs a single statement
// outside it.
func transactionWithRetry(db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay * time.Duration(1<<uint(attempt-1)))
		}
		lastErr = transaction(db, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", errMaxRetries, lastErr)
}

// isRetryableError reports whether err is a PostgreSQL deadlock or
// serialization failure, per the canopy-launchpad reference's
// isRetryableError.
func isRetryableError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return false
}
