package chainio

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/pool"
)

// maxUint112 bounds spec.md §3's Pool reserve fields ("reserve0:u112,
// reserve1:u112"). uint256.Int is the overflow-checked bridge between
// the abi package's untyped *big.Int unpacking and that bound, the same
// role it plays validating untrusted numeric RPC input in go-ethereum's
// own state accounting.
var maxUint112 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))

func checkReserveRange(label string, v *big.Int) error {
	var u uint256.Int
	if overflow := u.SetFromBig(v); overflow {
		return fmt.Errorf("chainio: %s overflows uint256", label)
	}
	if v.Sign() < 0 || v.Cmp(maxUint112) > 0 {
		return fmt.Errorf("chainio: %s out of u112 range", label)
	}
	return nil
}

// BalancesAndAllowances serves erc20 balanceOf/allowance reads behind
// auction.BalanceSource and auction.AllowanceSource. Balance reads are
// batched with the same rpc.BatchElem batching simulate.Simulator uses
// for eth_call; each allowance read is a single eth_call.
type BalancesAndAllowances struct {
	client *Client
}

func NewBalancesAndAllowances(c *Client) *BalancesAndAllowances {
	return &BalancesAndAllowances{client: c}
}

// Balances implements auction.BalanceSource. Every query is answered
// with the token's plain ERC-20 balanceOf(owner); the query's Source is
// not distinguished, so no other funding source is consulted.
func (b *BalancesAndAllowances) Balances(ctx context.Context, queries []auction.BalanceQuery) (map[auction.BalanceQuery]*big.Int, error) {
	elems := make([]rpc.BatchElem, len(queries))
	for i, q := range queries {
		data, err := erc20ABI.Pack("balanceOf", toAddr(q.Owner))
		if err != nil {
			return nil, fmt.Errorf("chainio: packing balanceOf: %w", err)
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callMsg(q.Token, data), "latest"},
			Result: new(hexutil.Bytes),
		}
	}
	if err := b.client.eth.Client().BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("chainio: batch balanceOf: %w", err)
	}

	out := make(map[auction.BalanceQuery]*big.Int, len(queries))
	for i, q := range queries {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("chainio: balanceOf(%x): %w", q.Owner, elems[i].Error)
		}
		raw := *elems[i].Result.(*hexutil.Bytes)
		amount := new(big.Int).SetBytes(raw)
		out[q] = amount
	}
	return out, nil
}

// Allowance implements auction.AllowanceSource: the allowance a trading
// owner has granted the vault relayer for token.
func (b *BalancesAndAllowances) Allowance(ctx context.Context, owner, token order.Address) (*big.Int, error) {
	return b.allowance(ctx, token, owner, vaultRelayer)
}

func (b *BalancesAndAllowances) allowance(ctx context.Context, token, owner, spender order.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", toAddr(owner), toAddr(spender))
	if err != nil {
		return nil, fmt.Errorf("chainio: packing allowance: %w", err)
	}
	var result hexutil.Bytes
	if err := b.client.eth.Client().CallContext(ctx, &result, "eth_call", callMsg(token, data), "latest"); err != nil {
		return nil, fmt.Errorf("chainio: allowance eth_call: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// SettlementAllowanceAdapter implements settlement.AllowanceChecker,
// whose interface has no context parameter and reports the allowance
// the settlement contract itself (not a trading owner) has granted a
// spender, the shape the approval-insertion step of the encoder needs
// (spec.md §4.G "Approvals").
type SettlementAllowanceAdapter struct {
	balances       *BalancesAndAllowances
	settlementAddr order.Address
}

func NewSettlementAllowanceAdapter(balances *BalancesAndAllowances, settlementAddr order.Address) *SettlementAllowanceAdapter {
	return &SettlementAllowanceAdapter{balances: balances, settlementAddr: settlementAddr}
}

func (a *SettlementAllowanceAdapter) Allowance(token, spender order.Address) (*big.Int, error) {
	return a.balances.allowance(context.Background(), token, a.settlementAddr, spender)
}

// vaultRelayer is the settlement contract's on-chain allowance spender.
// It is the zero address until SetVaultRelayer is called; both binaries
// set it to the configured settlement contract address at startup.
var vaultRelayer order.Address

// SetVaultRelayer overrides the spender address Allowance checks
// against (spec.md §6, the deployed vault relayer contract).
func SetVaultRelayer(addr order.Address) { vaultRelayer = addr }

func callMsg(to order.Address, data []byte) map[string]interface{} {
	return map[string]interface{}{
		"to":   toAddr(to),
		"data": hexutil.Bytes(data),
	}
}

// ConstantProductPool is the pool shape pool.Cache warms for Uniswap-V2
// style reserves, keyed by pool.TokenPair.
type ConstantProductPool struct {
	Reserve0, Reserve1 *big.Int
	Token0, Token1     order.Address
	ObservedBlock      uint64
}

// PairFetcher implements pool.Fetcher[pool.TokenPair, ConstantProductPool]
// against Uniswap-V2-compatible pair contracts, resolved by a caller-
// supplied address lookup (token pair -> pair contract).
type PairFetcher struct {
	client      *Client
	pairAddress func(pool.TokenPair) (order.Address, bool)
}

func NewPairFetcher(c *Client, pairAddress func(pool.TokenPair) (order.Address, bool)) *PairFetcher {
	return &PairFetcher{client: c, pairAddress: pairAddress}
}

func (f *PairFetcher) Fetch(ctx context.Context, keys []pool.TokenPair, block uint64) (map[pool.TokenPair]ConstantProductPool, error) {
	data, err := uniswapV2PairAB.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("chainio: packing getReserves: %w", err)
	}

	type pending struct {
		key  pool.TokenPair
		pair order.Address
	}
	var elems []rpc.BatchElem
	var pendings []pending
	for _, key := range keys {
		pairAddr, ok := f.pairAddress(key)
		if !ok {
			continue
		}
		elems = append(elems, rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callMsg(pairAddr, data), hexutil.Uint64(block)},
			Result: new(hexutil.Bytes),
		})
		pendings = append(pendings, pending{key: key, pair: pairAddr})
	}
	if len(elems) == 0 {
		return map[pool.TokenPair]ConstantProductPool{}, nil
	}
	if err := f.client.eth.Client().BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("chainio: batch getReserves: %w", err)
	}

	out := make(map[pool.TokenPair]ConstantProductPool, len(pendings))
	for i, p := range pendings {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("chainio: getReserves(%x): %w", p.pair, elems[i].Error)
		}
		raw := *elems[i].Result.(*hexutil.Bytes)
		unpacked, err := uniswapV2PairAB.Unpack("getReserves", raw)
		if err != nil {
			return nil, fmt.Errorf("chainio: unpacking getReserves: %w", err)
		}
		reserve0, reserve1 := unpacked[0].(*big.Int), unpacked[1].(*big.Int)
		if err := checkReserveRange("reserve0", reserve0); err != nil {
			return nil, fmt.Errorf("chainio: getReserves(%x): %w", p.pair, err)
		}
		if err := checkReserveRange("reserve1", reserve1); err != nil {
			return nil, fmt.Errorf("chainio: getReserves(%x): %w", p.pair, err)
		}
		out[p.key] = ConstantProductPool{
			Reserve0:      reserve0,
			Reserve1:      reserve1,
			ObservedBlock: block,
		}
	}
	return out, nil
}

// NativeBuffer implements driver.NativeBufferSource: the wrapped-native
// balance held by the settlement contract, read the same way a caller
// reads any other erc20 balance.
type NativeBuffer struct {
	balances       *BalancesAndAllowances
	wrappedNative  order.Address
	settlementAddr order.Address
}

func NewNativeBuffer(balances *BalancesAndAllowances, wrappedNative, settlementAddr order.Address) *NativeBuffer {
	return &NativeBuffer{balances: balances, wrappedNative: wrappedNative, settlementAddr: settlementAddr}
}

func (n *NativeBuffer) NativeBuffer(ctx context.Context) (*big.Int, error) {
	res, err := n.balances.Balances(ctx, []auction.BalanceQuery{{
		Owner: n.settlementAddr, Token: n.wrappedNative, Source: order.BalanceSourceErc20,
	}})
	if err != nil {
		return nil, err
	}
	return res[auction.BalanceQuery{Owner: n.settlementAddr, Token: n.wrappedNative, Source: order.BalanceSourceErc20}], nil
}
