package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cowdex/batchcore/internal/apperr"
)

// errorResponse is the wire shape spec.md §6 mandates for every failed
// request.
type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

// errEntry binds one sentinel to the HTTP status and wire name it maps
// to (spec.md §7 taxonomy).
type errEntry struct {
	status int
	name   string
}

var errTable = []struct {
	err error
	errEntry
}{
	{apperr.ErrUnsupportedToken, errEntry{http.StatusBadRequest, "UnsupportedToken"}},
	{apperr.ErrZeroAmount, errEntry{http.StatusBadRequest, "ZeroAmount"}},
	{apperr.ErrPastValidTo, errEntry{http.StatusBadRequest, "PastValidTo"}},
	{apperr.ErrInsufficientFunds, errEntry{http.StatusBadRequest, "InsufficientFunds"}},
	{apperr.ErrInvalidSignature, errEntry{http.StatusBadRequest, "InvalidSignature"}},
	{apperr.ErrDuplicatedOrder, errEntry{http.StatusBadRequest, "DuplicatedOrder"}},
	{apperr.ErrWrongOwner, errEntry{http.StatusUnauthorized, "WrongOwner"}},
	{apperr.ErrForbidden, errEntry{http.StatusForbidden, "Forbidden"}},
	{apperr.ErrUnsupportedSignature, errEntry{http.StatusBadRequest, "UnsupportedSignature"}},
	{apperr.ErrOnChainOrder, errEntry{http.StatusBadRequest, "OnChainOrder"}},
	{apperr.ErrMissingData, errEntry{http.StatusBadRequest, "MissingOrderData"}},
	{apperr.ErrInsufficientFee, errEntry{http.StatusBadRequest, "InsufficientFee"}},
	{apperr.ErrNoLiquidity, errEntry{http.StatusNotFound, "NoLiquidity"}},
	{apperr.ErrUnsupportedOrderType, errEntry{http.StatusBadRequest, "UnsupportedOrderType"}},
	{apperr.ErrOrderNotFound, errEntry{http.StatusNotFound, "OrderNotFound"}},
	{apperr.ErrAlreadyCancelled, errEntry{http.StatusBadRequest, "AlreadyCancelled"}},
	{apperr.ErrOrderFullyExecuted, errEntry{http.StatusBadRequest, "OrderFullyExecuted"}},
	{apperr.ErrOrderExpired, errEntry{http.StatusBadRequest, "OrderExpired"}},
	{apperr.ErrDuplicatedRecord, errEntry{http.StatusBadRequest, "DuplicatedOrder"}},
}

// writeError maps err to the spec.md §7 status/body, falling back to a
// logged 500 for persistence and any unrecognized failure (spec.md §7
// "Persistence errors are logged and mapped to 500").
func writeError(w http.ResponseWriter, err error) {
	for _, e := range errTable {
		if errors.Is(err, e.err) {
			writeJSON(w, e.status, errorResponse{ErrorType: e.name, Description: err.Error()})
			return
		}
	}
	var dbErr *apperr.DbError
	if errors.As(err, &dbErr) {
		log.Error("api: persistence error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorType: "InternalServerError", Description: "internal error"})
		return
	}
	log.Error("api: unrecognized error", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorType: "InternalServerError", Description: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("api: encoding response", "err", err)
	}
}
