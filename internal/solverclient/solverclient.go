// Package solverclient adapts a remote solver process (spec.md §1 "the
// solver's internal optimization algorithms [are] treated as a black
// box") to the driver.Solver capability, the way internal/priceest's
// HTTPSource adapts a remote quote provider: one generic HTTP client,
// not a bespoke SDK per solver.
package solverclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/driver"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/settlement"
)

// Client drives one configured solver endpoint over HTTP, implementing
// driver.Solver. The wire shape is a simplified stand-in for the
// "solve" HTTP API the original solver/driver boundary exposes: POST
// the auction and native prices (the liquidity argument is not sent),
// get back a list of trades and clearing prices, or a 204 response if
// the solver found nothing worth settling. The response carries no
// interactions.
type Client struct {
	name     string
	endpoint string
	http     *http.Client
}

func New(name, endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{name: name, endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

func (c *Client) Name() string { return c.name }

type solveRequest struct {
	Auction      wireAuction         `json:"auction"`
	NativePrices map[string]string   `json:"nativePrices"`
}

type wireAuction struct {
	Orders      []wireOrder `json:"orders"`
	BlockNumber uint64      `json:"blockNumber"`
}

type wireOrder struct {
	UID        string `json:"uid"`
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	Kind       string `json:"kind"`
}

type solveResponse struct {
	Trades []wireTrade `json:"trades"`
	Prices map[string]string `json:"prices"`
}

type wireTrade struct {
	OrderUID           string `json:"orderUid"`
	ExecutedSellAmount string `json:"executedSellAmount"`
	ExecutedBuyAmount  string `json:"executedBuyAmount"`
}

// Solve implements driver.Solver: it honors ctx's deadline (spec.md §5
// "Cancellation ... solvers that miss the deadline yield no result and
// are skipped") by simply letting the HTTP request fail on timeout.
func (c *Client) Solve(ctx context.Context, a *auction.Auction, liquidity interface{}, nativePrices map[order.Address]*big.Int) (*driver.SolverResult, error) {
	byUID := make(map[order.UID]order.Order, len(a.Orders))
	req := solveRequest{
		Auction:      wireAuction{BlockNumber: a.BlockNumber},
		NativePrices: make(map[string]string, len(nativePrices)),
	}
	for _, o := range a.Orders {
		byUID[o.UID] = o
		req.Auction.Orders = append(req.Auction.Orders, wireOrder{
			UID:        fmt.Sprintf("0x%x", o.UID),
			SellToken:  fmt.Sprintf("0x%x", o.SellToken),
			BuyToken:   fmt.Sprintf("0x%x", o.BuyToken),
			SellAmount: o.SellAmount.String(),
			BuyAmount:  o.BuyAmount.String(),
			Kind:       o.Kind.String(),
		})
	}
	for token, price := range nativePrices {
		req.NativePrices[fmt.Sprintf("0x%x", token)] = price.String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("solverclient: encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/solve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("solverclient: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("solverclient: solving via %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solverclient: %s returned status %d", c.name, resp.StatusCode)
	}

	var out solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("solverclient: decoding response from %s: %w", c.name, err)
	}
	if len(out.Trades) == 0 {
		return nil, nil
	}

	result := &driver.SolverResult{
		Prices: make(map[order.Address]*big.Int, len(out.Prices)),
	}
	for tokenHex, priceStr := range out.Prices {
		token, err := parseAddress(tokenHex)
		if err != nil {
			return nil, fmt.Errorf("solverclient: parsing price token from %s: %w", c.name, err)
		}
		price, ok := new(big.Int).SetString(priceStr, 10)
		if !ok {
			return nil, fmt.Errorf("solverclient: %s returned non-numeric price %q", c.name, priceStr)
		}
		result.Prices[token] = price
	}
	for _, t := range out.Trades {
		uid, err := parseUID(t.OrderUID)
		if err != nil {
			return nil, fmt.Errorf("solverclient: parsing trade uid from %s: %w", c.name, err)
		}
		o, ok := byUID[uid]
		if !ok {
			return nil, fmt.Errorf("solverclient: %s proposed trade for unknown order %x", c.name, uid)
		}
		executedSell, ok := new(big.Int).SetString(t.ExecutedSellAmount, 10)
		if !ok {
			return nil, fmt.Errorf("solverclient: %s returned non-numeric executedSellAmount", c.name)
		}
		executedBuy, ok := new(big.Int).SetString(t.ExecutedBuyAmount, 10)
		if !ok {
			return nil, fmt.Errorf("solverclient: %s returned non-numeric executedBuyAmount", c.name)
		}
		result.Trades = append(result.Trades, settlement.Trade{
			OrderUID:           uid,
			Sell:               o.SellToken,
			Buy:                o.BuyToken,
			Kind:               o.Kind,
			ExecutedSellAmount: executedSell,
			ExecutedBuyAmount:  executedBuy,
			LimitSellAmount:    o.SellAmount,
			LimitBuyAmount:     o.BuyAmount,
		})
	}
	return result, nil
}

func parseAddress(hexStr string) (order.Address, error) {
	var a order.Address
	raw, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil || len(raw) != len(a) {
		return a, fmt.Errorf("solverclient: invalid address %q", hexStr)
	}
	copy(a[:], raw)
	return a, nil
}

func parseUID(hexStr string) (order.UID, error) {
	var u order.UID
	raw, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil || len(raw) != len(u) {
		return u, fmt.Errorf("solverclient: invalid uid %q", hexStr)
	}
	copy(u[:], raw)
	return u, nil
}
