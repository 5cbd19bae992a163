// orderbook runs the order-book service (components A, D, E, F, K, L of
// spec.md §2): the HTTP API, the event indexer, order validation and the
// solvable-orders cache, wired the way cmd/evm-node assembles the
// teacher's node out of its constituent subsystems.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/cowdex/batchcore/internal/api"
	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/chainio"
	"github.com/cowdex/batchcore/internal/config"
	"github.com/cowdex/batchcore/internal/events"
	"github.com/cowdex/batchcore/internal/logging"
	"github.com/cowdex/batchcore/internal/metrics"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/orderbook/postgres"
	"github.com/cowdex/batchcore/internal/priceest"
	"github.com/cowdex/batchcore/internal/validation"
	"github.com/cowdex/batchcore/internal/validation/badtoken"
	prometheuslib "github.com/prometheus/client_golang/prometheus"
)

var flags = []cli.Flag{
	&cli.StringFlag{Name: "database-url", EnvVars: []string{"BATCHCORE_DATABASE_URL"}},
	&cli.StringFlag{Name: "node-rpc-url", EnvVars: []string{"BATCHCORE_NODE_RPC_URL"}},
	&cli.StringFlag{Name: "listen-addr", Value: ":8080", EnvVars: []string{"BATCHCORE_LISTEN_ADDR"}},
	&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"BATCHCORE_LOG_LEVEL"}},
	&cli.StringFlag{Name: "log-file", EnvVars: []string{"BATCHCORE_LOG_FILE"}},
	&cli.StringFlag{Name: "settlement-address", EnvVars: []string{"BATCHCORE_SETTLEMENT_ADDRESS"}},
	&cli.StringFlag{Name: "wrapped-native-address", EnvVars: []string{"BATCHCORE_WRAPPED_NATIVE_ADDRESS"}},
	&cli.StringFlag{Name: "native-address", EnvVars: []string{"BATCHCORE_NATIVE_ADDRESS"}},
	&cli.StringFlag{Name: "cow-token-address", EnvVars: []string{"BATCHCORE_COW_TOKEN_ADDRESS"}},
	&cli.StringSliceFlag{Name: "quote-provider-urls", EnvVars: []string{"BATCHCORE_QUOTE_PROVIDER_URLS"}},
	&cli.StringSliceFlag{Name: "subsidy-tiers", EnvVars: []string{"BATCHCORE_SUBSIDY_TIERS"}},
}

func main() {
	app := &cli.App{
		Name:  "orderbook",
		Usage: "batchcore order-book service: HTTP API, event indexer, solvable-orders cache",
		Flags: flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	v := viper.New()
	bindStringFlag(v, c, "database-url", "database_url")
	bindStringFlag(v, c, "node-rpc-url", "node_rpc_url")
	bindStringFlag(v, c, "listen-addr", "listen_addr")
	bindStringFlag(v, c, "log-level", "log_level")
	bindStringFlag(v, c, "log-file", "log_file")
	bindStringFlag(v, c, "settlement-address", "settlement_address")
	bindStringFlag(v, c, "wrapped-native-address", "wrapped_native_address")
	bindStringFlag(v, c, "native-address", "native_address")
	bindStringFlag(v, c, "cow-token-address", "cow_token_address")
	if urls := c.StringSlice("quote-provider-urls"); len(urls) > 0 {
		v.Set("quote_provider_urls", urls)
	}
	if tiers := c.StringSlice("subsidy-tiers"); len(tiers) > 0 {
		v.Set("subsidy_tiers", tiers)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("orderbook: loading config: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFile)

	ctx := context.Background()

	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("orderbook: connecting to database: %w", err)
	}
	appData := postgres.NewAppDataStore(store)

	client, err := chainio.Dial(ctx, cfg.NodeRPCURL)
	if err != nil {
		return fmt.Errorf("orderbook: dialing node: %w", err)
	}

	settlementAddr := order.Address(cfg.SettlementAddress)
	wrappedNative := order.Address(cfg.WrappedNative)
	nativeAddr := order.Address(cfg.NativeAddress)

	chainio.SetVaultRelayer(settlementAddr)
	balances := chainio.NewBalancesAndAllowances(client)

	denylist := make(map[order.Address]struct{}, len(cfg.BannedUsers))
	for _, a := range cfg.BannedUsers {
		denylist[order.Address(a)] = struct{}{}
	}
	unsupported := make(map[order.Address]struct{}, len(cfg.UnsupportedTokens))
	for _, a := range cfg.UnsupportedTokens {
		unsupported[order.Address(a)] = struct{}{}
	}

	badTokenCache, err := badtoken.New(badtoken.AllowAll{}, cfg.PoolCacheLRUSize, time.Hour)
	if err != nil {
		return fmt.Errorf("orderbook: building bad-token cache: %w", err)
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

	gasOracle := chainio.NewGasPriceOracle(client)

	var subsidy validation.SubsidyFactorer
	if cfg.CowTokenAddress == (common.Address{}) {
		subsidy = validation.FixedCowSubsidy{Value: 1.0}
	} else {
		tiers, err := parseSubsidyTiers(cfg.SubsidyTiers)
		if err != nil {
			return fmt.Errorf("orderbook: parsing subsidy tiers: %w", err)
		}
		cowBalances := chainio.NewCowBalanceReader(balances, order.Address(cfg.CowTokenAddress))
		subsidy = validation.NewCowSubsidy(cowBalances, tiers)
	}

	nativePricer := priceest.NewNativeTokenPricer(sanitizer, nativeAddr, big.NewInt(1e18))
	fees := validation.NewFeeCalculator(cfg.GasEstimate, gasOracle, nativePricer, subsidy, cfg.FeeFactor)

	quoteEstimator := priceest.NewQuoteEstimator(sanitizer)
	sigVerifier := chainio.SigVerifier{}
	validator := validation.NewValidator(validation.Config{
		MinValidityPeriod: cfg.MinOrderValidityPeriod,
		Denylist:          denylist,
	}, badTokens, fees, sigVerifier, store, quoteEstimator)

	eventSource := chainio.NewEventLogSource(client.Raw(), settlementAddr)
	indexer := events.New(eventSource, store,
		events.WithMaxReorgBlocks(cfg.MaxReorgBlocks))

	allowanceSource := balances
	nativePrices := priceest.NewNativePrices(sanitizer, nativeAddr, big.NewInt(1e18))
	currentHead := func() uint64 {
		head, err := client.CurrentHead(ctx)
		if err != nil {
			return 0
		}
		return head
	}
	auctionCache := auction.New(store, balances, allowanceSource, badTokens, nativePrices, currentHead, cfg.SolvableOrdersMaxUpdateAge)

	reg := prometheuslib.NewRegistry()
	m := metrics.New(reg)

	go runIndexerLoop(ctx, indexer, m, currentHead)
	go runAuctionRefreshLoop(ctx, auctionCache, m)

	srv := api.NewServer(api.AppContext{
		Store:     store,
		Validator: validator,
		Fees:      fees,
		Auction:   auctionCache,
		Quotes:    sanitizer,
		AppData:   appData,
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Info("orderbook: listening", "addr", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}

func bindStringFlag(v *viper.Viper, c *cli.Context, flagName, key string) {
	if s := c.String(flagName); s != "" {
		v.Set(key, s)
	}
}

func parseSubsidyTiers(entries []string) ([]validation.SubsidyTier, error) {
	tiers := make([]validation.SubsidyTier, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("subsidy tier %q must be \"threshold:factor\"", e)
		}
		threshold, ok := new(big.Int).SetString(parts[0], 10)
		if !ok {
			return nil, fmt.Errorf("subsidy tier %q: threshold is not a valid integer", e)
		}
		factor, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("subsidy tier %q: factor is not a valid float: %w", e, err)
		}
		tiers = append(tiers, validation.SubsidyTier{Threshold: threshold, Factor: factor})
	}
	return tiers, nil
}

// runIndexerLoop ticks the event indexer on a fixed cadence, logging
// rather than dying on a single failed tick (spec.md §9 "no single
// component failure should wedge the system").
func runIndexerLoop(ctx context.Context, idx *events.Indexer, m *metrics.Metrics, currentHead func() uint64) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		if err := idx.Tick(ctx); err != nil {
			log.Error("indexer tick failed", "err", err)
		} else if head := currentHead(); head > idx.LastHandled() {
			m.IndexerLagBlocks.Set(float64(head - idx.LastHandled()))
		} else {
			m.IndexerLagBlocks.Set(0)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runAuctionRefreshLoop rebuilds the solvable-orders snapshot on a fixed
// 2-second timer only; nothing here triggers a rebuild on a new block.
func runAuctionRefreshLoop(ctx context.Context, ac *auction.Cache, m *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		if err := ac.Refresh(ctx); err != nil {
			log.Warn("auction refresh failed", "err", err)
		} else if a, err := ac.Current(); err == nil {
			m.AuctionOrderCount.Set(float64(len(a.Orders)))
			m.AuctionAgeSeconds.Set(time.Since(a.Timestamp).Seconds())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
