// Package chainio adapts the narrow, out-of-scope collaborator
// interfaces each component declares (signature recovery, balance and
// allowance lookups, gas pricing, transaction broadcast) onto a real
// go-ethereum JSON-RPC client. Every component treats these as plain
// interfaces (spec.md §1 "on-chain reads/writes are out of scope");
// this package is where the cmd/ entrypoints actually satisfy them.
package chainio

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/cowdex/batchcore/internal/order"
)

// erc20ABI covers the two read methods the liquidity and balance
// adapters need (balanceOf, allowance) plus approve, which the
// settlement encoder packs for approval interactions; encoding/decoding goes through go-ethereum's abi
// package rather than hand-rolled selector math.
const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// uniswapV2PairABI covers the single read the constant-product liquidity
// fetcher needs.
const uniswapV2PairABIJSON = `[
	{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`

var (
	erc20ABI        abi.ABI
	uniswapV2PairAB abi.ABI
)

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("chainio: parsing erc20 ABI: " + err.Error())
	}
	uniswapV2PairAB, err = abi.JSON(strings.NewReader(uniswapV2PairABIJSON))
	if err != nil {
		panic("chainio: parsing uniswap v2 pair ABI: " + err.Error())
	}
}

func toAddr(a order.Address) common.Address      { return common.Address(a) }
func toOrderAddr(a common.Address) order.Address { return order.Address(a) }

// Client bundles the ethclient connection every chainio adapter shares.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the configured node RPC URL (spec.md §6
// "node_rpc_url"), the one piece of transport every adapter in this
// package needs.
func Dial(ctx context.Context, url string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Client{eth: eth}, nil
}

// Raw exposes the underlying client for adapters that need the full
// ethclient surface (gas pricing, log filtering, tx broadcast).
func (c *Client) Raw() *ethclient.Client { return c.eth }

// CurrentHead reports the chain's current block number, used by the
// indexer, the pool cache and the auction cache alike.
func (c *Client) CurrentHead(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// PendingNonce reports the next nonce the submitter (I) should sign with,
// including transactions still pending in the mempool.
func (c *Client) PendingNonce(ctx context.Context, addr order.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, toAddr(addr))
}
