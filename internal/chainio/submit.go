package chainio

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowdex/batchcore/internal/order"
)

// GasPriceOracle implements both submit.GasPriceSource (tip/fee cap
// suggestions for EIP-1559 transactions) and validation.GasPriceOracle
// (a single legacy gas price used for fee estimation), against the same
// underlying client.
type GasPriceOracle struct {
	client *Client
}

func NewGasPriceOracle(c *Client) *GasPriceOracle { return &GasPriceOracle{client: c} }

func (g *GasPriceOracle) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return g.client.eth.SuggestGasTipCap(ctx)
}

func (g *GasPriceOracle) SuggestGasFeeCap(ctx context.Context) (*big.Int, error) {
	head, err := g.client.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chainio: fetching head for fee cap: %w", err)
	}
	tip, err := g.client.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	if head.BaseFee == nil {
		return g.client.eth.SuggestGasPrice(ctx)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return feeCap, nil
}

func (g *GasPriceOracle) GasPrice(ctx context.Context) (*big.Int, error) {
	return g.client.eth.SuggestGasPrice(ctx)
}

// LocalSigner implements submit.Signer over a single in-memory private
// key, the way dev/test tooling signs transactions without a remote
// keystore. A production deployment would swap this for a KMS- or
// HSM-backed implementation behind the same interface. One LocalSigner
// is constructed per submission attempt, bound to that attempt's
// encoded settlement call (spec.md §4.J step 6 hands the winning
// candidate's (to, data) to the submitter).
type LocalSigner struct {
	key      *ecdsa.PrivateKey
	from     order.Address
	chainID  *big.Int
	to       common.Address
	data     []byte
	gasLimit uint64
}

func NewLocalSigner(key *ecdsa.PrivateKey, chainID *big.Int, to order.Address, data []byte, gasLimit uint64) *LocalSigner {
	return &LocalSigner{
		key:      key,
		from:     toOrderAddr(crypto.PubkeyToAddress(key.PublicKey)),
		chainID:  chainID,
		to:       toAddr(to),
		data:     data,
		gasLimit: gasLimit,
	}
}

func (s *LocalSigner) From() order.Address { return s.from }

// Sign builds and signs a dynamic-fee (EIP-1559) transaction calling
// the settlement contract with this attempt's calldata.
func (s *LocalSigner) Sign(nonce uint64, gasTipCap, gasFeeCap *big.Int) (*types.Transaction, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       s.gasLimit,
		To:        &s.to,
		Value:     big.NewInt(0),
		Data:      s.data,
	})
	signer := types.NewLondonSigner(s.chainID)
	return types.SignTx(tx, signer, s.key)
}

// RPCBroadcaster implements submit.Broadcaster by sending the tx
// through a custom node and polling for its receipt, the simplest of
// the strategies spec.md §6 names ("custom nodes").
type RPCBroadcaster struct {
	client       *Client
	name         string
	pollInterval time.Duration
}

func NewRPCBroadcaster(c *Client, name string) *RPCBroadcaster {
	return &RPCBroadcaster{client: c, name: name, pollInterval: 2 * time.Second}
}

func (b *RPCBroadcaster) Name() string { return b.name }

func (b *RPCBroadcaster) Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := b.client.eth.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("chainio: broadcasting via %s: %w", b.name, err)
	}
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.eth.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PrivateRelayBroadcaster implements submit.Broadcaster by POSTing the
// raw signed transaction to an HTTP bundle-relay endpoint, generalizing
// the provider-specific Archer/Eden/Flashbots submission APIs behind
// spec.md §4.I's "private mempools, bundle relays" strategy, the way
// spec.md §1 treats quote providers: "one generic HTTP [client]
// suffices" for any out-of-scope external provider.
type PrivateRelayBroadcaster struct {
	client       *Client
	endpoint     string
	name         string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewPrivateRelayBroadcaster(c *Client, endpoint, name string) *PrivateRelayBroadcaster {
	return &PrivateRelayBroadcaster{
		client:       c,
		endpoint:     endpoint,
		name:         name,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: 2 * time.Second,
	}
}

func (b *PrivateRelayBroadcaster) Name() string { return b.name }

type relaySendRequest struct {
	RawTransaction hexutil.Bytes `json:"rawTransaction"`
}

// Send submits tx to the relay and then polls the underlying node for
// its receipt the same way RPCBroadcaster does: bundle relays confirm
// out of band, but the mined transaction still lands on-chain and is
// observable through ordinary RPC.
func (b *PrivateRelayBroadcaster) Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("chainio: marshaling tx for relay %s: %w", b.name, err)
	}
	body, err := json.Marshal(relaySendRequest{RawTransaction: raw})
	if err != nil {
		return nil, fmt.Errorf("chainio: encoding relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chainio: building relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chainio: posting to relay %s: %w", b.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chainio: relay %s returned status %d", b.name, resp.StatusCode)
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.eth.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
