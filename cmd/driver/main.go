// driver runs the settlement driver loop (component J, spec.md §4.J):
// once per tick it pulls the current auction, fetches liquidity, prices
// involved tokens, consults every configured solver, encodes and
// simulates the resulting candidates, and submits the best one that
// simulates successfully. Wired the way cmd/orderbook assembles the
// order-book service, out of the same narrow collaborator interfaces.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	prometheuslib "github.com/prometheus/client_golang/prometheus"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/chainio"
	"github.com/cowdex/batchcore/internal/config"
	"github.com/cowdex/batchcore/internal/driver"
	"github.com/cowdex/batchcore/internal/logging"
	"github.com/cowdex/batchcore/internal/metrics"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/orderbook/postgres"
	"github.com/cowdex/batchcore/internal/pool"
	"github.com/cowdex/batchcore/internal/priceest"
	"github.com/cowdex/batchcore/internal/simulate"
	"github.com/cowdex/batchcore/internal/solverclient"
	"github.com/cowdex/batchcore/internal/submit"
	"github.com/cowdex/batchcore/internal/validation/badtoken"
)

var flags = []cli.Flag{
	&cli.StringFlag{Name: "database-url", EnvVars: []string{"BATCHCORE_DATABASE_URL"}},
	&cli.StringFlag{Name: "node-rpc-url", EnvVars: []string{"BATCHCORE_NODE_RPC_URL"}},
	&cli.StringFlag{Name: "metrics-addr", Value: ":9090", EnvVars: []string{"BATCHCORE_METRICS_ADDR"}},
	&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"BATCHCORE_LOG_LEVEL"}},
	&cli.StringFlag{Name: "log-file", EnvVars: []string{"BATCHCORE_LOG_FILE"}},
	&cli.StringFlag{Name: "settlement-address", EnvVars: []string{"BATCHCORE_SETTLEMENT_ADDRESS"}},
	&cli.StringFlag{Name: "wrapped-native-address", EnvVars: []string{"BATCHCORE_WRAPPED_NATIVE_ADDRESS"}},
	&cli.StringFlag{Name: "native-address", EnvVars: []string{"BATCHCORE_NATIVE_ADDRESS"}},
	&cli.StringFlag{Name: "signer-key", EnvVars: []string{"BATCHCORE_SIGNER_KEY"}},
	&cli.StringFlag{Name: "chain-id", EnvVars: []string{"BATCHCORE_CHAIN_ID"}},
	&cli.StringSliceFlag{Name: "pair-addresses", EnvVars: []string{"BATCHCORE_PAIR_ADDRESSES"}},
	&cli.StringSliceFlag{Name: "relay-endpoints", EnvVars: []string{"BATCHCORE_RELAY_ENDPOINTS"}},
	&cli.BoolFlag{Name: "dry-run", EnvVars: []string{"BATCHCORE_DRY_RUN"}},
}

func main() {
	app := &cli.App{
		Name:   "driver",
		Usage:  "batchcore driver loop: liquidity, price estimation, solving, settlement, submission",
		Flags:  flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	v := viper.New()
	bindString(v, c, "database-url", "database_url")
	bindString(v, c, "node-rpc-url", "node_rpc_url")
	bindString(v, c, "log-level", "log_level")
	bindString(v, c, "log-file", "log_file")
	bindString(v, c, "settlement-address", "settlement_address")
	bindString(v, c, "wrapped-native-address", "wrapped_native_address")
	bindString(v, c, "native-address", "native_address")
	bindString(v, c, "signer-key", "signer_key")
	bindString(v, c, "chain-id", "chain_id")
	bindString(v, c, "metrics-addr", "metrics_addr")
	if pairs := c.StringSlice("pair-addresses"); len(pairs) > 0 {
		v.Set("pair_addresses", pairs)
	}
	if relays := c.StringSlice("relay-endpoints"); len(relays) > 0 {
		v.Set("relay_endpoints", relays)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("driver: loading config: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFile)

	ctx := context.Background()

	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("driver: connecting to database: %w", err)
	}

	client, err := chainio.Dial(ctx, cfg.NodeRPCURL)
	if err != nil {
		return fmt.Errorf("driver: dialing node: %w", err)
	}

	settlementAddr := order.Address(cfg.SettlementAddress)
	wrappedNative := order.Address(cfg.WrappedNative)
	nativeAddr := order.Address(cfg.NativeAddress)
	chainio.SetVaultRelayer(settlementAddr)

	balances := chainio.NewBalancesAndAllowances(client)
	allowances := chainio.NewSettlementAllowanceAdapter(balances, settlementAddr)
	nativeBuffer := chainio.NewNativeBuffer(balances, wrappedNative, settlementAddr)

	badTokenCache, err := badtoken.New(badtoken.AllowAll{}, cfg.PoolCacheLRUSize, time.Hour)
	if err != nil {
		return fmt.Errorf("driver: building bad-token cache: %w", err)
	}
	unsupported := make(map[order.Address]struct{}, len(cfg.UnsupportedTokens))
	for _, a := range cfg.UnsupportedTokens {
		unsupported[order.Address(a)] = struct{}{}
	}
	badTokens := badtoken.AllowUnsupportedList{Inner: badTokenCache, Unsupported: unsupported}

	var quoteSources []priceest.NamedEstimator
	for i, url := range cfg.QuoteProviderURLs {
		quoteSources = append(quoteSources, priceest.NamedEstimator{
			Name:      fmt.Sprintf("quote-provider-%d", i),
			Estimator: priceest.NewHTTPSource(url, 10),
		})
	}
	competition := priceest.NewCompetition(quoteSources...)
	buffered := priceest.NewBuffered(competition)
	sanitizer := priceest.NewSanitizer(buffered, badTokens, nativeAddr, wrappedNative)
	nativePrices := priceest.NewNativePrices(sanitizer, nativeAddr, big.NewInt(1e18))

	currentHead := func() uint64 {
		head, err := client.CurrentHead(ctx)
		if err != nil {
			return 0
		}
		return head
	}
	auctionCache := auction.New(store, balances, allowances, badTokens, nativePrices, currentHead, cfg.SolvableOrdersMaxUpdateAge)

	pairLookup, err := pool.ParsePairAddresses(cfg.PairAddresses)
	if err != nil {
		return fmt.Errorf("driver: parsing pair addresses: %w", err)
	}
	pairFetcher := chainio.NewPairFetcher(client, pairLookup)
	poolCache, err := pool.New[pool.TokenPair, chainio.ConstantProductPool](
		pairFetcher,
		func(p chainio.ConstantProductPool) uint64 { return p.ObservedBlock },
		cfg.PoolCacheLRUSize,
		cfg.PoolCacheBlocks,
		currentHead,
		pool.RetryConfig{MaxAttempts: cfg.PoolCacheMaxRetries, Delay: 100 * time.Millisecond},
	)
	if err != nil {
		return fmt.Errorf("driver: building pool cache: %w", err)
	}
	defaultFee := pool.Rational{Num: big.NewInt(3), Den: big.NewInt(1000)}
	liquidity := pool.NewConstantProductLiquidity[chainio.ConstantProductPool](
		poolCache,
		func(p chainio.ConstantProductPool) (*big.Int, *big.Int) { return p.Reserve0, p.Reserve1 },
		defaultFee,
		pool.Recency{Recent: true},
	)

	encoder := chainio.NewSettlementEncoder(settlementAddr, func(uid order.UID) (*order.Order, bool) {
		o, err := store.OrderByUID(ctx, uid)
		if err != nil {
			return nil, false
		}
		return o, true
	})

	var solvers []driver.Solver
	for _, se := range cfg.SolverEndpoints {
		solvers = append(solvers, solverclient.New(se.Name, se.URL, cfg.TargetConfirmTime))
	}

	var signerKey *ecdsa.PrivateKey
	if cfg.SignerKeyHex != "" {
		key, err := crypto.HexToECDSA(trim0x(cfg.SignerKeyHex))
		if err != nil {
			return fmt.Errorf("driver: parsing signer key: %w", err)
		}
		signerKey = key
	}

	gasOracle := chainio.NewGasPriceOracle(client)
	simulator := simulate.New(client.Raw().Client(), encoder, addressFromSigner(signerKey))

	reg := prometheuslib.NewRegistry()
	m := metrics.New(reg)
	go serveMetrics(cfg.MetricsAddr, reg)

	submitFn := buildSubmitFn(cfg, client, gasOracle, signerKey, c.Bool("dry-run"))

	driverCfg := driver.Config{
		SolveBudget:          cfg.TargetConfirmTime,
		MinOrderAge:          cfg.MinOrderAge,
		UnwrapFactor:         new(big.Rat).SetFloat64(cfg.UnwrapFactor),
		NativeReferenceToken: nativeAddr,
		NativeGasPrice: func(ctx context.Context) (*big.Rat, error) {
			price, err := gasOracle.GasPrice(ctx)
			if err != nil {
				return nil, err
			}
			return new(big.Rat).SetInt(price), nil
		},
		GasPriceForSim:  gasOracle.GasPrice,
		SettlementBlock: client.CurrentHead,
	}

	d := driver.New(auctionCache, liquidity, sanitizer, solvers,
		allowances, nativeBuffer, simulator, submitFn, driverCfg)

	ticker := time.NewTicker(cfg.GasRefreshInterval)
	defer ticker.Stop()
	log.Info("driver: starting tick loop", "interval", cfg.GasRefreshInterval)
	for {
		if err := auctionCache.Refresh(ctx); err != nil {
			log.Warn("driver: auction refresh failed", "err", err)
		}
		if err := d.Tick(ctx); err != nil {
			log.Error("driver: tick failed", "err", err)
		}
		m.DriverTicks.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, reg *prometheuslib.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("driver: serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("driver: metrics server stopped", "err", err)
	}
}

// buildSubmitFn adapts the driver's winning-candidate callback onto the
// chain submission path: encode the call, sign with the configured
// local key (or log a dry-run line with none configured), broadcast
// across every configured strategy and wait for the first confirmation.
func buildSubmitFn(cfg *config.Config, client *chainio.Client, gasOracle *chainio.GasPriceOracle, key *ecdsa.PrivateKey, dryRun bool) func(context.Context, driver.Candidate) error {
	encoder := chainio.NewSettlementEncoder(order.Address(cfg.SettlementAddress), nil)
	return func(ctx context.Context, cand driver.Candidate) error {
		to, data, err := encoder.EncodeCall(cand.Settlement)
		if err != nil {
			return fmt.Errorf("driver: encoding winning candidate: %w", err)
		}
		if key == nil || dryRun {
			log.Info("driver: dry-run, not broadcasting", "solver", cand.Solver, "to", to)
			return nil
		}
		signer := chainio.NewLocalSigner(key, cfg.ChainID, order.Address(to), data, cfg.SettlementGas)
		nonce, err := client.PendingNonce(ctx, signer.From())
		if err != nil {
			return fmt.Errorf("driver: fetching nonce: %w", err)
		}
		broadcasters := []submit.Broadcaster{chainio.NewRPCBroadcaster(client, "custom-node")}
		for i, relay := range cfg.RelayEndpoints {
			broadcasters = append(broadcasters, chainio.NewPrivateRelayBroadcaster(client, relay, fmt.Sprintf("relay-%d", i)))
		}
		submitter := submit.New(gasOracle, signer, submit.Config{GasPriceCap: cfg.GasPriceCap}, broadcasters...)
		submitCtx, cancel := context.WithTimeout(ctx, cfg.TargetConfirmTime)
		defer cancel()
		outcome, err := submitter.Submit(submitCtx, nonce)
		if err != nil {
			return fmt.Errorf("driver: submitting settlement: %w", err)
		}
		log.Info("driver: settlement submitted", "solver", cand.Solver, "strategy", outcome.Strategy, "cancelled", outcome.Cancelled)
		return nil
	}
}

func addressFromSigner(key *ecdsa.PrivateKey) common.Address {
	if key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func trim0x(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func bindString(v *viper.Viper, c *cli.Context, flagName, key string) {
	if s := c.String(flagName); s != "" {
		v.Set(key, s)
	}
}

