package api

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
)

// auctionStreamUpgrader mirrors the permissive CORS policy the rest of
// the API applies (spec.md §6 "CORS: allow any origin"); the HTTP
// upgrade handshake has its own origin check that corsMiddleware can't
// reach.
var auctionStreamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const auctionStreamInterval = 5 * time.Second

// auctionStreamHandler pushes the current auction snapshot to the
// client every auctionStreamInterval, supplementing the polling
// /solvable_orders and /auction endpoints with a push-based view for
// operational dashboards (spec.md §4.E "stream solvable orders").
func auctionStreamHandler(app AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := auctionStreamUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("api: websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(auctionStreamInterval)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			a, err := app.Auction.Current()
			if err == nil {
				if werr := conn.WriteJSON(toOrderDTOs(a.Orders)); werr != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
