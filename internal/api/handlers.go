package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/orderbook"
	"github.com/cowdex/batchcore/internal/priceest"
	"github.com/cowdex/batchcore/internal/validation"
)

const defaultRequestTimeout = 10 * time.Second

func registerV1(mux *http.ServeMux, app AppContext) {
	mux.HandleFunc("/orders", ordersHandler(app))
	mux.HandleFunc("/orders/", orderByUIDHandler(app))
	mux.HandleFunc("/fee", feeHandler(app))
	mux.HandleFunc("/feeAndQuote/", feeAndQuoteHandler(app))
	mux.HandleFunc("/quote", quoteHandler(app))
	mux.HandleFunc("/markets/", marketsHandler(app))
	mux.HandleFunc("/solvable_orders", solvableOrdersHandler(app))
	mux.HandleFunc("/trades", tradesHandler(app))
	mux.HandleFunc("/transactions/", transactionOrdersHandler(app))
	mux.HandleFunc("/account/", accountOrdersHandler(app))
}

func registerV2(mux *http.ServeMux, app AppContext) {
	mux.HandleFunc("/solvable_orders", solvableOrdersHandler(app))
	mux.HandleFunc("/solvable_orders/stream", auctionStreamHandler(app))
	mux.HandleFunc("/auction", auctionIntrospectionHandler(app))
}

// ordersHandler dispatches POST (create) vs GET (list) on /orders.
func ordersHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			createOrder(app, w, r)
		case http.MethodGet:
			listOrders(app, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func createOrder(app AppContext, w http.ResponseWriter, r *http.Request) {
	var dto orderDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: err.Error()})
		return
	}
	o, err := fromOrderDTO(dto)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: err.Error()})
		return
	}
	o.CreationDate = time.Now()

	ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
	defer cancel()

	if err := app.Validator.Validate(ctx, o); err != nil {
		writeError(w, err)
		return
	}
	if err := app.Store.InsertOrder(ctx, o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uid": hexEncode(o.UID[:])})
}

func listOrders(app AppContext, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
	defer cancel()
	orders, err := app.Store.Orders(ctx, orderbook.OrderFilter{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func orderByUIDHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uidHex := strings.TrimPrefix(r.URL.Path, "/orders/")
		var uid order.UID
		if err := hexDecodeFixed(uidHex, uid[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "InvalidUID", Description: err.Error()})
			return
		}

		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()

		switch r.Method {
		case http.MethodGet:
			o, err := app.Store.OrderByUID(ctx, uid)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toOrderDTO(o))
		case http.MethodDelete:
			cancelOrder(app, ctx, w, r, uid)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func cancelOrder(app AppContext, ctx context.Context, w http.ResponseWriter, r *http.Request, uid order.UID) {
	o, err := app.Store.OrderByUID(ctx, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	ownerHex := r.Header.Get("X-Owner")
	var owner order.Address
	if ownerHex != "" {
		if err := hexDecodeFixed(ownerHex, owner[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: err.Error()})
			return
		}
		if owner != o.Owner {
			writeError(w, apperr.ErrWrongOwner)
			return
		}
	}
	if o.CancellationDate != nil {
		writeError(w, apperr.ErrAlreadyCancelled)
		return
	}
	if err := app.Store.CancelOrder(ctx, uid, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Cancelled")
}

func feeHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sellToken, buyToken, amount, kind, errResp := parseQuoteQuery(q)
		if errResp != nil {
			writeJSON(w, http.StatusBadRequest, *errResp)
			return
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		quote, err := app.Fees.MinFee(ctx, quoteKeyFor(sellToken, buyToken, amount, kind, order.Address{}))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"amount":         quote.Amount.String(),
			"expirationDate": quote.ExpirationDate,
		})
	}
}

func feeAndQuoteHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/feeAndQuote/"), "/")
		if len(parts) < 2 {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: "expected /feeAndQuote/{sell}/{buy}"})
			return
		}
		var sellToken, buyToken order.Address
		if err := hexDecodeFixed(parts[0], sellToken[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
			return
		}
		if err := hexDecodeFixed(parts[1], buyToken[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
			return
		}
		amount, ok := new(big.Int).SetString(r.URL.Query().Get("sellAmountBeforeFee"), 10)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: "sellAmountBeforeFee is required"})
			return
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		quote, err := app.Fees.MinFee(ctx, quoteKeyFor(sellToken, buyToken, amount, order.KindSell, order.Address{}))
		if err != nil {
			writeError(w, err)
			return
		}
		results := app.Quotes.Estimate(ctx, []priceest.Query{{Sell: sellToken, Buy: buyToken, Amount: amount, Kind: order.KindSell}})
		if results[0].Err != nil {
			writeError(w, results[0].Err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"fee":       quote.Amount.String(),
			"buyAmount": results[0].Estimate.OutAmount.String(),
		})
	}
}

func quoteHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			SellToken string `json:"sellToken"`
			BuyToken  string `json:"buyToken"`
			Amount    string `json:"sellAmountBeforeFee"`
			Kind      string `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: err.Error()})
			return
		}
		var sellToken, buyToken order.Address
		if err := hexDecodeFixed(req.SellToken, sellToken[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: err.Error()})
			return
		}
		if err := hexDecodeFixed(req.BuyToken, buyToken[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: err.Error()})
			return
		}
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedBody", Description: "invalid amount"})
			return
		}
		kind := order.KindSell
		if req.Kind == "buy" {
			kind = order.KindBuy
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		results := app.Quotes.Estimate(ctx, []priceest.Query{{Sell: sellToken, Buy: buyToken, Amount: amount, Kind: kind}})
		if results[0].Err != nil {
			writeError(w, results[0].Err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"amount": results[0].Estimate.OutAmount.String(),
			"source": results[0].Estimate.Source,
		})
	}
}

func marketsHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// path shape: /markets/{base}-{quote}/{kind}/{amount}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/markets/"), "/")
		if len(parts) != 3 {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: "expected /markets/{base}-{quote}/{kind}/{amount}"})
			return
		}
		pair := strings.SplitN(parts[0], "-", 2)
		if len(pair) != 2 {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: "expected base-quote"})
			return
		}
		var base, quote order.Address
		if err := hexDecodeFixed(pair[0], base[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
			return
		}
		if err := hexDecodeFixed(pair[1], quote[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
			return
		}
		kind := order.KindSell
		if parts[1] == "buy" {
			kind = order.KindBuy
		}
		amount, ok := new(big.Int).SetString(parts[2], 10)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: "invalid amount"})
			return
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		results := app.Quotes.Estimate(ctx, []priceest.Query{{Sell: base, Buy: quote, Amount: amount, Kind: kind}})
		if results[0].Err != nil {
			writeError(w, results[0].Err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"amount": results[0].Estimate.OutAmount.String(),
			"token":  hexEncode(quote[:]),
		})
	}
}

func solvableOrdersHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := app.Auction.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderDTOs(a.Orders))
	}
}

// auctionIntrospectionHandler exposes the full last-built auction
// snapshot, including prices, for operational debugging; distinct from
// /solvable_orders which returns only the order list (supplemented
// feature, see SPEC_FULL.md).
func auctionIntrospectionHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := app.Auction.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		prices := make(map[string]string, len(a.Prices))
		for token, price := range a.Prices {
			prices[hexEncode(token[:])] = price.String()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"orders":      toOrderDTOs(a.Orders),
			"prices":      prices,
			"blockNumber": a.BlockNumber,
			"timestamp":   a.Timestamp,
		})
	}
}

func tradesHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter orderbook.TradeFilter
		if ownerHex := q.Get("owner"); ownerHex != "" {
			var owner order.Address
			if err := hexDecodeFixed(ownerHex, owner[:]); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
				return
			}
			filter.Owner = &owner
		}
		if uidHex := q.Get("orderUid"); uidHex != "" {
			var uid order.UID
			if err := hexDecodeFixed(uidHex, uid[:]); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
				return
			}
			filter.OrderUID = &uid
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		trades, err := app.Store.Trades(ctx, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, trades)
	}
}

func transactionOrdersHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/transactions/")
		txHashHex := strings.TrimSuffix(rest, "/orders")
		var txHash [32]byte
		if err := hexDecodeFixed(txHashHex, txHash[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
			return
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		orders, err := app.Store.OrdersByTx(ctx, txHash)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderDTOs(orders))
	}
}

func accountOrdersHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/account/")
		ownerHex := strings.TrimSuffix(rest, "/orders")
		var owner order.Address
		if err := hexDecodeFixed(ownerHex, owner[:]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "MalformedQuery", Description: err.Error()})
			return
		}
		q := r.URL.Query()
		limit := 100
		if l := q.Get("limit"); l != "" {
			parsed, err := strconv.Atoi(l)
			if err != nil || parsed < 1 || parsed > 1000 {
				writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "InvalidLimit", Description: "limit must be in [1,1000]"})
				return
			}
			limit = parsed
		}
		offset := 0
		if o := q.Get("offset"); o != "" {
			parsed, err := strconv.Atoi(o)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{ErrorType: "InvalidOffset", Description: "offset must be >= 0"})
				return
			}
			offset = parsed
		}
		ctx, cancel := ctxWithTimeout(r, defaultRequestTimeout)
		defer cancel()
		orders, err := app.Store.AccountOrders(ctx, owner, offset, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderDTOs(orders))
	}
}

func toOrderDTOs(orders []order.Order) []orderDTO {
	out := make([]orderDTO, len(orders))
	for i := range orders {
		out[i] = toOrderDTO(&orders[i])
	}
	return out
}

func quoteKeyFor(sell, buy order.Address, amount *big.Int, kind order.Kind, user order.Address) validation.QuoteKey {
	return validation.QuoteKey{Sell: sell, Buy: buy, Amount: amount.String(), Kind: kind, User: user}
}

func parseQuoteQuery(q map[string][]string) (sell, buy order.Address, amount *big.Int, kind order.Kind, errResp *errorResponse) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if err := hexDecodeFixed(get("sellToken"), sell[:]); err != nil {
		return sell, buy, nil, kind, &errorResponse{ErrorType: "MalformedQuery", Description: err.Error()}
	}
	if err := hexDecodeFixed(get("buyToken"), buy[:]); err != nil {
		return sell, buy, nil, kind, &errorResponse{ErrorType: "MalformedQuery", Description: err.Error()}
	}
	var ok bool
	amount, ok = new(big.Int).SetString(get("amount"), 10)
	if !ok {
		return sell, buy, nil, kind, &errorResponse{ErrorType: "MalformedQuery", Description: "invalid amount"}
	}
	if get("kind") == "buy" {
		kind = order.KindBuy
	}
	return sell, buy, amount, kind, nil
}
