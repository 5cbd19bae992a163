// Package orderbook implements the order-book store (component E,
// spec.md §4.E): persistence for orders, trades, invalidations,
// settlements and quotes, plus the query views the solver and HTTP API
// read from.
package orderbook

import (
	"context"
	"time"

	"github.com/cowdex/batchcore/internal/events"
	"github.com/cowdex/batchcore/internal/order"
)

// OrderFilter narrows the `orders(filter)` view (spec.md §4.E).
type OrderFilter struct {
	UID                       *order.UID
	Owner                     *order.Address
	SellToken                 *order.Address
	BuyToken                  *order.Address
	ExcludeFullyExecuted      bool
	ExcludeInvalidated        bool
	ExcludeInsufficientBalance bool
	MinValidTo                uint32
}

// TradeFilter narrows the `trades(filter)` view.
type TradeFilter struct {
	Owner    *order.Address
	OrderUID *order.UID
}

// TradeRow is a trade joined with owner/token metadata for API responses.
type TradeRow struct {
	events.Trade
	Owner     order.Address
	SellToken order.Address
	BuyToken  order.Address
}

// Store is the full persistence contract of component E. It embeds the
// narrower events.Store contract the indexer depends on so both
// consumers share one implementation.
type Store interface {
	events.Store

	InsertOrder(ctx context.Context, o *order.Order) error
	CancelOrder(ctx context.Context, uid order.UID, now time.Time) error

	Orders(ctx context.Context, filter OrderFilter) ([]order.Order, error)
	OrderByUID(ctx context.Context, uid order.UID) (*order.Order, error)
	Trades(ctx context.Context, filter TradeFilter) ([]TradeRow, error)
	OrdersByTx(ctx context.Context, txHash [32]byte) ([]order.Order, error)
	AccountOrders(ctx context.Context, owner order.Address, offset, limit int) ([]order.Order, error)

	// SolverOrders returns orders that are not cancelled, not
	// invalidated, not fully executed, and have validTo >= minValidTo
	// (spec.md §4.E, input to component F).
	SolverOrders(ctx context.Context, minValidTo uint32) ([]order.Order, error)

	SaveFeeMeasurement(ctx context.Context, key FeeMeasurementKey, amount string, expiresAt time.Time) error
	GetMinFee(ctx context.Context, key FeeMeasurementKey, now time.Time) (amount string, ok bool, err error)
	RemoveExpiredFeeMeasurements(ctx context.Context, now time.Time) (removed int, err error)
}

// FeeMeasurementKey mirrors the `min_fee_measurements` table's natural
// key (spec.md §4.E schema).
type FeeMeasurementKey struct {
	Sell, Buy order.Address
	Amount    string
	Kind      order.Kind
}

// AppDataStore resolves the opaque order.AppData tag to an off-chain
// metadata document, supplementing spec.md per
// original_source/model/src/app_data.rs and
// original_source/orderbook/src/database/app_data.rs.
type AppDataStore interface {
	Put(ctx context.Context, doc []byte) (order.AppData, error)
	Get(ctx context.Context, hash order.AppData) ([]byte, error)
}
