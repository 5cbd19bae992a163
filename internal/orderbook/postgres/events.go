package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/events"
	"github.com/cowdex/batchcore/internal/order"
)

// Head returns the highest blockNumber absorbed across every event
// table, the cursor spec.md §3 "Event cursor" describes.
func (s *Store) Head(ctx context.Context) (uint64, error) {
	var head sqlNullUint64
	err := s.db.GetContext(ctx, &head, `
		SELECT COALESCE(MAX(block_number), 0) FROM (
			SELECT block_number FROM trades
			UNION ALL SELECT block_number FROM invalidations
			UNION ALL SELECT block_number FROM settlements
			UNION ALL SELECT block_number FROM presignatures
		) all_events
	`)
	if err != nil {
		return 0, &apperr.DbError{Cause: err}
	}
	return head.v, nil
}

type sqlNullUint64 struct{ v uint64 }

func (n *sqlNullUint64) Scan(src interface{}) error {
	switch t := src.(type) {
	case int64:
		n.v = uint64(t)
	case nil:
		n.v = 0
	}
	return nil
}

// ReplaceEvents implements the transactional "delete rows with
// blockNumber >= from, then insert the first chunk" step of spec.md
// §4.A, run inside transactionWithRetry so external readers never
// observe the gap between delete and insert.
func (s *Store) ReplaceEvents(ctx context.Context, from uint64, first []events.Event) error {
	return transactionWithRetry(s.db, func(tx *sqlx.Tx) error {
		for _, table := range []string{"trades", "invalidations", "settlements", "presignatures"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE block_number >= $1", from); err != nil {
				return err
			}
		}
		return insertEventsTx(ctx, tx, first)
	})
}

// InsertEvents appends further pages of the same tick without deleting
// (spec.md §4.A "subsequent chunks insert without delete"); insertion is
// idempotent via ON CONFLICT upsert on (blockNumber, logIndex).
func (s *Store) InsertEvents(ctx context.Context, evts []events.Event) error {
	return transactionWithRetry(s.db, func(tx *sqlx.Tx) error {
		return insertEventsTx(ctx, tx, evts)
	})
}

func insertEventsTx(ctx context.Context, tx *sqlx.Tx, evts []events.Event) error {
	for _, e := range evts {
		switch e.Kind {
		case events.KindTrade:
			t := e.Trade
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO trades (block_number, log_index, order_uid, sell_amount_including_fee, buy_amount, fee_amount)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (block_number, log_index) DO UPDATE SET
					order_uid=EXCLUDED.order_uid,
					sell_amount_including_fee=EXCLUDED.sell_amount_including_fee,
					buy_amount=EXCLUDED.buy_amount,
					fee_amount=EXCLUDED.fee_amount
			`, t.BlockNumber, t.LogIndex, uidBytes(t.UID), amountParam(t.SellAmountIncludingFee), amountParam(t.BuyAmount), amountParam(t.FeeAmount)); err != nil {
				return err
			}
		case events.KindSettlement:
			st := e.Settlement
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settlements (block_number, log_index, tx_hash, solver)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (block_number, log_index) DO UPDATE SET tx_hash=EXCLUDED.tx_hash, solver=EXCLUDED.solver
			`, st.BlockNumber, st.LogIndex, st.TxHash[:], addrBytes(st.Solver)); err != nil {
				return err
			}
		case events.KindPreSignature:
			inv := e.Invalidation
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO presignatures (block_number, log_index, order_uid, signed)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (block_number, log_index) DO UPDATE SET order_uid=EXCLUDED.order_uid, signed=EXCLUDED.signed
			`, inv.BlockNumber, inv.LogIndex, uidBytes(inv.UID), inv.State == events.StatePreSigned); err != nil {
				return err
			}
		case events.KindInvalidation:
			inv := e.Invalidation
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO invalidations (block_number, log_index, order_uid)
				VALUES ($1,$2,$3)
				ON CONFLICT (block_number, log_index) DO UPDATE SET order_uid=EXCLUDED.order_uid
			`, inv.BlockNumber, inv.LogIndex, uidBytes(inv.UID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasPreSignature implements validation.PreSignatureChecker: whether the
// most recent PreSignature event observed for uid left it signed (an
// order can be pre-signed and later un-signed, so the latest row by
// block/log ordering wins, not mere presence of a row).
func (s *Store) HasPreSignature(ctx context.Context, uid order.UID) (bool, error) {
	var signed bool
	err := s.db.GetContext(ctx, &signed, `
		SELECT signed FROM presignatures
		WHERE order_uid = $1
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1
	`, uidBytes(uid))
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &apperr.DbError{Cause: err}
	}
	return signed, nil
}
