package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/events"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/orderbook"
)

type orderRow struct {
	UID               []byte     `db:"uid"`
	Owner             []byte     `db:"owner"`
	SellToken         []byte     `db:"sell_token"`
	BuyToken          []byte     `db:"buy_token"`
	SellAmount        string     `db:"sell_amount"`
	BuyAmount         string     `db:"buy_amount"`
	FeeAmount         string     `db:"fee_amount"`
	ValidTo           uint32     `db:"valid_to"`
	AppData           []byte     `db:"app_data"`
	Kind              uint8      `db:"kind"`
	PartiallyFillable bool       `db:"partially_fillable"`
	SellTokenBalance  uint8      `db:"sell_token_balance"`
	BuyTokenBalance   uint8      `db:"buy_token_balance"`
	Signature         []byte     `db:"signature"`
	SigningScheme     uint8      `db:"signing_scheme"`
	CreationDate      time.Time  `db:"creation_date"`
	CancellationDate  *time.Time `db:"cancellation_date"`

	ExecutedSellAmount sql.NullString `db:"executed_sell_amount"`
	ExecutedBuyAmount  sql.NullString `db:"executed_buy_amount"`
	ExecutedFeeAmount  sql.NullString `db:"executed_fee_amount"`
}

func (r orderRow) toOrder() (order.Order, error) {
	sellAmount, err := amountFromString(r.SellAmount)
	if err != nil {
		return order.Order{}, err
	}
	buyAmount, err := amountFromString(r.BuyAmount)
	if err != nil {
		return order.Order{}, err
	}
	feeAmount, err := amountFromString(r.FeeAmount)
	if err != nil {
		return order.Order{}, err
	}
	o := order.Order{
		UID:               uidFromBytes(r.UID),
		Owner:             addrFromBytes(r.Owner),
		SellToken:         addrFromBytes(r.SellToken),
		BuyToken:          addrFromBytes(r.BuyToken),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		FeeAmount:         feeAmount,
		ValidTo:           r.ValidTo,
		Kind:              order.Kind(r.Kind),
		PartiallyFillable: r.PartiallyFillable,
		SellTokenBalance:  order.BalanceSource(r.SellTokenBalance),
		BuyTokenBalance:   order.BalanceDestination(r.BuyTokenBalance),
		Signature:         r.Signature,
		SigningScheme:     order.SigningScheme(r.SigningScheme),
		CreationDate:      r.CreationDate,
		CancellationDate:  r.CancellationDate,
	}
	copy(o.AppData[:], r.AppData)
	if r.ExecutedSellAmount.Valid {
		o.ExecutedSellAmount, _ = amountFromString(r.ExecutedSellAmount.String)
	}
	if r.ExecutedBuyAmount.Valid {
		o.ExecutedBuyAmount, _ = amountFromString(r.ExecutedBuyAmount.String)
	}
	if r.ExecutedFeeAmount.Valid {
		o.ExecutedFeeAmount, _ = amountFromString(r.ExecutedFeeAmount.String)
	}
	return o, nil
}

// executedAmountsJoin aggregates the trades table for each order, the
// "joined executed amounts" referenced by spec.md §4.E's `orders(filter)`
// view.
const executedAmountsJoin = `
	COALESCE((SELECT SUM(sell_amount_including_fee) FROM trades t WHERE t.order_uid = orders.uid), 0) AS executed_sell_amount,
	COALESCE((SELECT SUM(buy_amount) FROM trades t WHERE t.order_uid = orders.uid), 0) AS executed_buy_amount,
	COALESCE((SELECT SUM(fee_amount) FROM trades t WHERE t.order_uid = orders.uid), 0) AS executed_fee_amount
`

func (s *Store) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (uid, owner, sell_token, buy_token, sell_amount, buy_amount, fee_amount,
			valid_to, app_data, kind, partially_fillable, sell_token_balance, buy_token_balance,
			signature, signing_scheme, creation_date, cancellation_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		uidBytes(o.UID), addrBytes(o.Owner), addrBytes(o.SellToken), addrBytes(o.BuyToken),
		amountParam(o.SellAmount), amountParam(o.BuyAmount), amountParam(o.FeeAmount),
		o.ValidTo, o.AppData[:], uint8(o.Kind), o.PartiallyFillable,
		uint8(o.SellTokenBalance), uint8(o.BuyTokenBalance), o.Signature, uint8(o.SigningScheme),
		o.CreationDate, o.CancellationDate,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return apperr.ErrDuplicatedOrder
		}
		return &apperr.DbError{Cause: err}
	}
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, uid order.UID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET cancellation_date = $1
		WHERE uid = $2 AND cancellation_date IS NULL
	`, now, uidBytes(uid))
	if err != nil {
		return &apperr.DbError{Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &apperr.DbError{Cause: err}
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE uid=$1)`, uidBytes(uid)); err != nil {
			return &apperr.DbError{Cause: err}
		}
		if !exists {
			return apperr.ErrOrderNotFound
		}
		return apperr.ErrAlreadyCancelled
	}
	return nil
}

func (s *Store) OrderByUID(ctx context.Context, uid order.UID) (*order.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `SELECT orders.*, `+executedAmountsJoin+` FROM orders WHERE uid=$1`, uidBytes(uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound
	}
	if err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	o, err := row.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) Orders(ctx context.Context, filter orderbook.OrderFilter) ([]order.Order, error) {
	query := `SELECT orders.*, ` + executedAmountsJoin + ` FROM orders WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return placeholder(len(args))
	}
	if filter.UID != nil {
		query += " AND uid = " + arg(uidBytes(*filter.UID))
	}
	if filter.Owner != nil {
		query += " AND owner = " + arg(addrBytes(*filter.Owner))
	}
	if filter.SellToken != nil {
		query += " AND sell_token = " + arg(addrBytes(*filter.SellToken))
	}
	if filter.BuyToken != nil {
		query += " AND buy_token = " + arg(addrBytes(*filter.BuyToken))
	}
	if filter.ExcludeInvalidated {
		query += " AND cancellation_date IS NULL"
	}
	if filter.MinValidTo != 0 {
		query += " AND valid_to >= " + arg(filter.MinValidTo)
	}
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	return toOrders(rows, filter.ExcludeFullyExecuted)
}

func toOrders(rows []orderRow, excludeFullyExecuted bool) ([]order.Order, error) {
	out := make([]order.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		if excludeFullyExecuted && !o.IsSolvable(time.Now()) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func placeholder(n int) string { return "$" + itoa(n) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (s *Store) OrdersByTx(ctx context.Context, txHash [32]byte) ([]order.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT orders.*, `+executedAmountsJoin+`
		FROM orders
		JOIN trades ON trades.order_uid = orders.uid
		JOIN settlements ON settlements.block_number = trades.block_number
		WHERE settlements.tx_hash = $1
	`, txHash[:])
	if err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	return toOrders(rows, false)
}

func (s *Store) AccountOrders(ctx context.Context, owner order.Address, offset, limit int) ([]order.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT orders.*, `+executedAmountsJoin+`
		FROM orders WHERE owner=$1
		ORDER BY creation_date DESC
		OFFSET $2 LIMIT $3
	`, addrBytes(owner), offset, limit)
	if err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	return toOrders(rows, false)
}

func (s *Store) SolverOrders(ctx context.Context, minValidTo uint32) ([]order.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT orders.*, `+executedAmountsJoin+`
		FROM orders
		WHERE cancellation_date IS NULL
		  AND valid_to >= $1
		  AND NOT EXISTS (SELECT 1 FROM invalidations i WHERE i.order_uid = orders.uid)
	`, minValidTo)
	if err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	return toOrders(rows, true)
}

func (s *Store) Trades(ctx context.Context, filter orderbook.TradeFilter) ([]orderbook.TradeRow, error) {
	query := `
		SELECT trades.block_number, trades.log_index, trades.order_uid,
		       trades.sell_amount_including_fee, trades.buy_amount, trades.fee_amount,
		       orders.owner, orders.sell_token, orders.buy_token
		FROM trades JOIN orders ON orders.uid = trades.order_uid
		WHERE 1=1
	`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return placeholder(len(args))
	}
	if filter.Owner != nil {
		query += " AND orders.owner = " + arg(addrBytes(*filter.Owner))
	}
	if filter.OrderUID != nil {
		query += " AND trades.order_uid = " + arg(uidBytes(*filter.OrderUID))
	}
	type row struct {
		BlockNumber            int64  `db:"block_number"`
		LogIndex               int64  `db:"log_index"`
		OrderUID               []byte `db:"order_uid"`
		SellAmountIncludingFee string `db:"sell_amount_including_fee"`
		BuyAmount              string `db:"buy_amount"`
		FeeAmount              string `db:"fee_amount"`
		Owner                  []byte `db:"owner"`
		SellToken              []byte `db:"sell_token"`
		BuyToken               []byte `db:"buy_token"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &apperr.DbError{Cause: err}
	}
	out := make([]orderbook.TradeRow, 0, len(rows))
	for _, r := range rows {
		sellIncl, err := amountFromString(r.SellAmountIncludingFee)
		if err != nil {
			return nil, err
		}
		buyAmt, err := amountFromString(r.BuyAmount)
		if err != nil {
			return nil, err
		}
		feeAmt, err := amountFromString(r.FeeAmount)
		if err != nil {
			return nil, err
		}
		out = append(out, orderbook.TradeRow{
			Trade: events.Trade{
				Key:                    events.Key{BlockNumber: uint64(r.BlockNumber), LogIndex: uint64(r.LogIndex)},
				UID:                    uidFromBytes(r.OrderUID),
				SellAmountIncludingFee: sellIncl,
				BuyAmount:              buyAmt,
				FeeAmount:              feeAmt,
			},
			Owner:     addrFromBytes(r.Owner),
			SellToken: addrFromBytes(r.SellToken),
			BuyToken:  addrFromBytes(r.BuyToken),
		})
	}
	return out, nil
}
