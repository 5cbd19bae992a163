package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/orderbook"
)

func (s *Store) SaveFeeMeasurement(ctx context.Context, key orderbook.FeeMeasurementKey, amount string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO min_fee_measurements (sell_token, buy_token, amount, kind, fee_amount, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (sell_token, buy_token, amount, kind) DO UPDATE SET
			fee_amount = EXCLUDED.fee_amount, expires_at = EXCLUDED.expires_at
	`, addrBytes(key.Sell), addrBytes(key.Buy), key.Amount, uint8(key.Kind), amount, expiresAt)
	if err != nil {
		return &apperr.DbError{Cause: err}
	}
	return nil
}

func (s *Store) GetMinFee(ctx context.Context, key orderbook.FeeMeasurementKey, now time.Time) (string, bool, error) {
	var feeAmount string
	err := s.db.GetContext(ctx, &feeAmount, `
		SELECT fee_amount FROM min_fee_measurements
		WHERE sell_token=$1 AND buy_token=$2 AND amount=$3 AND kind=$4 AND expires_at > $5
	`, addrBytes(key.Sell), addrBytes(key.Buy), key.Amount, uint8(key.Kind), now)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &apperr.DbError{Cause: err}
	}
	return feeAmount, true, nil
}

func (s *Store) RemoveExpiredFeeMeasurements(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM min_fee_measurements WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, &apperr.DbError{Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &apperr.DbError{Cause: err}
	}
	return int(n), nil
}
