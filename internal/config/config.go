// Package config defines the typed configuration surface (component K,
// spec.md §6 "Configuration") and binds it to viper, the way the
// teacher binds its CLI flags to environment-overridable values via
// urfave/cli.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// SubmissionStrategy enumerates how the submitter broadcasts
// transactions (spec.md §6 "Submission strategy").
type SubmissionStrategy string

const (
	StrategyCustomNodes  SubmissionStrategy = "CustomNodes"
	StrategyPrivateRelay SubmissionStrategy = "PrivateRelay"
	StrategyDryRun       SubmissionStrategy = "DryRun"
)

// StrategyConfig is one submission strategy's per-strategy knobs
// (spec.md §6).
type StrategyConfig struct {
	Kind     SubmissionStrategy
	Deadline time.Duration
	TipBps   int
}

// Config is the full recognized configuration surface (spec.md §6).
type Config struct {
	MinOrderValidityPeriod time.Duration
	MaxReorgBlocks         uint64

	PoolCacheBlocks      uint64
	PoolCacheLRUSize     int
	PoolCacheMaxRetries  int

	TargetConfirmTime  time.Duration
	GasPriceCap        *big.Int
	GasRefreshInterval time.Duration

	FeeFactor    float64
	UnwrapFactor float64
	MinOrderAge  time.Duration

	SolvableOrdersMaxUpdateAge time.Duration

	BannedUsers       []common.Address
	AllowedTokens     []common.Address
	UnsupportedTokens []common.Address

	Strategies []StrategyConfig

	DatabaseURL string
	ListenAddr  string
	MetricsAddr string
	NodeRPCURL  string
	LogLevel    string
	LogFile     string

	SettlementAddress common.Address
	WrappedNative     common.Address
	NativeAddress     common.Address
	CowTokenAddress   common.Address

	ChainID        *big.Int
	SignerKeyHex   string
	SettlementGas  uint64
	GasEstimate    uint64

	// SubsidyTiers is the cow-subsidy lookup table (spec.md §4.D "Cow
	// subsidy"), each entry "threshold:factor".
	SubsidyTiers []string

	// QuoteProviderURLs names one or more generic HTTP quote provider
	// base URLs (spec.md §1 "one generic HTTP quote client suffices"),
	// each wired as a competing priceest.Competition source.
	QuoteProviderURLs []string

	// SolverEndpoints names the external solver processes the driver
	// loop consults each tick (spec.md §4.J step 4).
	SolverEndpoints []SolverEndpoint

	// RelayEndpoints names the HTTP bundle-relay endpoints used by the
	// PrivateRelay submission strategy (spec.md §4.I).
	RelayEndpoints []string

	// PairAddresses maps known constant-product pool contracts onto the
	// token pairs they trade, each entry "tokenA:tokenB:pairAddress",
	// resolved by the pool cache's liquidity fetcher (spec.md §4.B).
	PairAddresses []string
}

// SolverEndpoint names one externally-run solver process (spec.md §1
// "the solver's internal optimization algorithms [are] a black box").
type SolverEndpoint struct {
	Name string
	URL  string
}

// Load builds Config from environment variables (BATCHCORE_ prefix),
// values already set on v (such as bound flags) and defaults; no config
// file is read. This mirrors the teacher's preference
// for explicit, validated configuration over ambient global state.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("batchcore")
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		MinOrderValidityPeriod:     v.GetDuration("min_order_validity_period"),
		MaxReorgBlocks:             v.GetUint64("max_reorg_blocks"),
		PoolCacheBlocks:            v.GetUint64("pool_cache_blocks"),
		PoolCacheLRUSize:           v.GetInt("pool_cache_lru_size"),
		PoolCacheMaxRetries:        v.GetInt("pool_cache_max_retries"),
		TargetConfirmTime:          v.GetDuration("target_confirm_time"),
		GasRefreshInterval:         v.GetDuration("gas_refresh_interval"),
		FeeFactor:                  v.GetFloat64("fee_factor"),
		UnwrapFactor:               v.GetFloat64("unwrap_factor"),
		MinOrderAge:                v.GetDuration("min_order_age"),
		SolvableOrdersMaxUpdateAge: v.GetDuration("solvable_orders_max_update_age"),
		DatabaseURL:                v.GetString("database_url"),
		ListenAddr:                 v.GetString("listen_addr"),
		MetricsAddr:                v.GetString("metrics_addr"),
		NodeRPCURL:                 v.GetString("node_rpc_url"),
		LogLevel:                   v.GetString("log_level"),
		LogFile:                    v.GetString("log_file"),
		SettlementAddress:          common.HexToAddress(v.GetString("settlement_address")),
		WrappedNative:              common.HexToAddress(v.GetString("wrapped_native_address")),
		NativeAddress:              common.HexToAddress(v.GetString("native_address")),
		QuoteProviderURLs:          v.GetStringSlice("quote_provider_urls"),
		RelayEndpoints:             v.GetStringSlice("relay_endpoints"),
		CowTokenAddress:            common.HexToAddress(v.GetString("cow_token_address")),
		SubsidyTiers:               v.GetStringSlice("subsidy_tiers"),
		PairAddresses:              v.GetStringSlice("pair_addresses"),
		SignerKeyHex:               v.GetString("signer_key"),
		SettlementGas:              v.GetUint64("settlement_gas"),
		GasEstimate:                v.GetUint64("gas_estimate"),
	}

	if s := v.GetString("chain_id"); s != "" {
		id, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("config: chain_id %q is not a valid integer", s)
		}
		cfg.ChainID = id
	}

	for _, name := range v.GetStringSlice("solver_names") {
		url := v.GetString("solver_url_" + name)
		cfg.SolverEndpoints = append(cfg.SolverEndpoints, SolverEndpoint{Name: name, URL: url})
	}

	if s := v.GetString("gas_price_cap"); s != "" {
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("config: gas_price_cap %q is not a valid integer", s)
		}
		cfg.GasPriceCap = b
	}

	for _, s := range v.GetStringSlice("banned_users") {
		cfg.BannedUsers = append(cfg.BannedUsers, common.HexToAddress(s))
	}
	for _, s := range v.GetStringSlice("allowed_tokens") {
		cfg.AllowedTokens = append(cfg.AllowedTokens, common.HexToAddress(s))
	}
	for _, s := range v.GetStringSlice("unsupported_tokens") {
		cfg.UnsupportedTokens = append(cfg.UnsupportedTokens, common.HexToAddress(s))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("min_order_validity_period", time.Minute)
	v.SetDefault("max_reorg_blocks", 25)
	v.SetDefault("pool_cache_blocks", 2)
	v.SetDefault("pool_cache_lru_size", 1000)
	v.SetDefault("pool_cache_max_retries", 3)
	v.SetDefault("target_confirm_time", 30*time.Second)
	v.SetDefault("gas_refresh_interval", 15*time.Second)
	v.SetDefault("fee_factor", 1.0)
	v.SetDefault("unwrap_factor", 1.0)
	v.SetDefault("min_order_age", 0)
	v.SetDefault("solvable_orders_max_update_age", 30*time.Second)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("settlement_gas", 1_000_000)
	v.SetDefault("gas_estimate", 120_000)
}

func (c *Config) validate() error {
	if c.MaxReorgBlocks == 0 {
		return fmt.Errorf("config: max_reorg_blocks must be > 0")
	}
	if c.PoolCacheLRUSize <= 0 {
		return fmt.Errorf("config: pool_cache_lru_size must be > 0")
	}
	if c.FeeFactor <= 0 {
		return fmt.Errorf("config: fee_factor must be > 0")
	}
	if c.UnwrapFactor <= 0 {
		return fmt.Errorf("config: unwrap_factor must be > 0")
	}
	return nil
}
