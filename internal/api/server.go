// Package api implements the HTTP surface (spec.md §6): order
// submission/query/cancellation, fee and market quoting, solver-facing
// introspection. Routing follows the teacher's preference for explicit,
// narrowly-scoped handler structs over a framework, composed on
// net/http.ServeMux with a small middleware chain.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/orderbook"
	"github.com/cowdex/batchcore/internal/priceest"
	"github.com/cowdex/batchcore/internal/validation"
)

const maxBodyBytes = 16 * 1024 // spec.md §6 "max payload 16 KiB"

// AppContext bundles every collaborator a handler needs, passed by
// value into handler constructors rather than reached for via
// singletons (spec.md §9 design notes; teacher idiom of explicit
// dependency structs over package-level state).
type AppContext struct {
	Store     orderbook.Store
	Validator *validation.Validator
	Fees      *validation.FeeCalculator
	Auction   *auction.Cache
	Quotes    priceest.Estimator
	AppData   orderbook.AppDataStore
}

// NewServer builds the v1 and v2 muxes and wraps them with the shared
// middleware chain.
func NewServer(app AppContext) http.Handler {
	v1 := http.NewServeMux()
	registerV1(v1, app)

	v2 := http.NewServeMux()
	registerV2(v2, app)

	root := http.NewServeMux()
	root.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	root.Handle("/api/v2/", http.StripPrefix("/api/v2", v2))

	return withMiddleware(root)
}

func withMiddleware(h http.Handler) http.Handler {
	return requestIDMiddleware(recoverMiddleware(corsMiddleware(bodyLimitMiddleware(requestLogMiddleware(h)))))
}

// requestIDMiddleware assigns every request a unique ID, echoed back in
// the response and threaded through request-scoped log lines so a
// single request's handling can be traced across the store, validator
// and estimator calls it fans out to.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// recoverMiddleware turns a panicking handler into a 500 instead of
// crashing the process (spec.md §9 "no operation blocks... worst-case"
// extends to handler isolation).
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("api: handler panic", "recovered", rec, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorType: "InternalServerError", Description: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows any origin per spec.md §6 "CORS: allow any
// origin, methods {GET, POST, DELETE, OPTIONS, PUT, PATCH}".
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS, PUT, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("api request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// ctxWithTimeout is a small helper so handlers never run unbounded
// relative to the HTTP client's own timeout expectations.
func ctxWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
