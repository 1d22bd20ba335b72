package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Pools     PoolsConfig     `yaml:"pools"`
	Engine    EngineConfig    `yaml:"engine"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChainConfig holds RPC connection and multicall settings.
type ChainConfig struct {
	RPCWSURL                string `yaml:"rpc_ws_url"`
	RPCHTTPURL              string `yaml:"rpc_http_url"`
	MulticallAddress        string `yaml:"multicall_address"`
	WBaseAddress            string `yaml:"wbase_address"`
	WSConnectionTimeoutSecs int    `yaml:"ws_connection_timeout_secs"`
	MaxReconnectAttempts    int    `yaml:"max_reconnect_attempts"`
	ReconnectDelaySecs      int    `yaml:"reconnect_delay_secs"`
	HTTPTimeoutSecs         int    `yaml:"http_timeout_secs"`
	ChannelBufferSize       int    `yaml:"channel_buffer_size"`
}

// PoolsConfig holds pool-batching settings and the optional static seed
// list registered with the graph on every startup, alongside whatever
// the bootstrap cache supplies (pool *discovery* is an external collaborator per SPEC_FULL.md §1;
// this is the narrow seam an operator uses to hand the watcher its
// starting pool set).
type PoolsConfig struct {
	MaxPoolsPerBatch int        `yaml:"max_pools_per_batch"`
	Seed             []PoolSeed `yaml:"seed"`
}

// PoolSeed describes one pool to register with the graph at startup.
type PoolSeed struct {
	Address string `yaml:"address"`
	Token0  string `yaml:"token0"`
	Token1  string `yaml:"token1"`
	FeeBps  uint32 `yaml:"fee_bps"`
}

// EngineConfig holds pathfinding and profit-evaluation settings.
type EngineConfig struct {
	MaxHops                   int     `yaml:"max_hops"`
	MaxPrecomputedPaths       int     `yaml:"max_precomputed_paths"`
	MinProfitThresholdWei     string  `yaml:"min_profit_threshold_wei"`
	GasPriceGwei              float64 `yaml:"gas_price_gwei"`
	GasPerTransaction         uint64  `yaml:"gas_per_transaction"`
	EnableParallelCalculation bool    `yaml:"enable_parallel_calculation"`
}

// BootstrapConfig holds the token/pool directory cache settings.
type BootstrapConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds a Config in three layers, each able to override the last:
// built-in defaults, an optional YAML file at path (missing file is not
// an error — ARBWATCH_* env vars alone can fully configure a run), then
// ARBWATCH_* environment overrides. validate() runs last, against the
// fully-layered result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(raw) > 0 {
		// ${VAR}/$VAR substitution happens before YAML parsing so secrets
		// never need to live in the file itself.
		withEnv := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(withEnv), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Chain = ChainConfig{
		MulticallAddress:        "0xcA11bde05977b3631167028862bE2a173976CA11",
		WSConnectionTimeoutSecs: 30,
		MaxReconnectAttempts:    5,
		ReconnectDelaySecs:      2,
		HTTPTimeoutSecs:         10,
		ChannelBufferSize:       100,
	}
	c.Pools = PoolsConfig{
		MaxPoolsPerBatch: 50,
	}
	c.Engine = EngineConfig{
		MaxHops:                   4,
		MaxPrecomputedPaths:       10_000,
		MinProfitThresholdWei:     "10000000000000000", // 0.01 WBASE
		GasPriceGwei:              0.02,
		GasPerTransaction:         700_000,
		EnableParallelCalculation: true,
	}
	c.Bootstrap = BootstrapConfig{
		SQLitePath: "./data/arbwatch.db",
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	// Chain config
	if v := os.Getenv("ARBWATCH_RPC_WS_URL"); v != "" {
		c.Chain.RPCWSURL = v
	}
	if v := os.Getenv("ARBWATCH_RPC_HTTP_URL"); v != "" {
		c.Chain.RPCHTTPURL = v
	}
	if v := os.Getenv("ARBWATCH_MULTICALL_ADDRESS"); v != "" {
		c.Chain.MulticallAddress = v
	}
	if v := os.Getenv("ARBWATCH_WBASE_ADDRESS"); v != "" {
		c.Chain.WBaseAddress = v
	}

	// Pools config
	if v := os.Getenv("ARBWATCH_MAX_POOLS_PER_BATCH"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Pools.MaxPoolsPerBatch = n
		}
	}

	// Engine config
	if v := os.Getenv("ARBWATCH_MAX_HOPS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 2 {
			c.Engine.MaxHops = n
		}
	}
	if v := os.Getenv("ARBWATCH_MIN_PROFIT_THRESHOLD_WEI"); v != "" {
		c.Engine.MinProfitThresholdWei = v
	}
	if v := os.Getenv("ARBWATCH_GAS_PRICE_GWEI"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil && f >= 0 {
			c.Engine.GasPriceGwei = f
		}
	}

	// Metrics config
	if v := os.Getenv("ARBWATCH_METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}

	// Bootstrap config
	if v := os.Getenv("ARBWATCH_SQLITE_PATH"); v != "" {
		c.Bootstrap.SQLitePath = v
	}

	// Logging config
	if v := os.Getenv("ARBWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate checks that all required configuration values are present and
// well-formed. The multicall/WBASE address checks go beyond the teacher's
// URL-only validation (SPEC_FULL.md's "Supplemented features").
func (c *Config) validate() error {
	if c.Chain.RPCWSURL == "" {
		return fmt.Errorf("chain.rpc_ws_url is required (set ARBWATCH_RPC_WS_URL env var)")
	}
	if c.Chain.RPCHTTPURL == "" {
		return fmt.Errorf("chain.rpc_http_url is required (set ARBWATCH_RPC_HTTP_URL env var)")
	}
	if !common.IsHexAddress(c.Chain.MulticallAddress) {
		return fmt.Errorf("chain.multicall_address %q is not a valid address", c.Chain.MulticallAddress)
	}
	if !common.IsHexAddress(c.Chain.WBaseAddress) {
		return fmt.Errorf("chain.wbase_address %q is not a valid address (set ARBWATCH_WBASE_ADDRESS env var)", c.Chain.WBaseAddress)
	}
	if c.Chain.WSConnectionTimeoutSecs <= 0 {
		return fmt.Errorf("chain.ws_connection_timeout_secs must be positive")
	}
	if c.Chain.MaxReconnectAttempts < 0 {
		return fmt.Errorf("chain.max_reconnect_attempts must not be negative")
	}
	if c.Chain.ChannelBufferSize <= 0 {
		return fmt.Errorf("chain.channel_buffer_size must be positive")
	}
	if c.Pools.MaxPoolsPerBatch <= 0 {
		return fmt.Errorf("pools.max_pools_per_batch must be positive")
	}
	for i, seed := range c.Pools.Seed {
		if !common.IsHexAddress(seed.Address) {
			return fmt.Errorf("pools.seed[%d].address %q is not a valid address", i, seed.Address)
		}
		if !common.IsHexAddress(seed.Token0) || !common.IsHexAddress(seed.Token1) {
			return fmt.Errorf("pools.seed[%d] has an invalid token0/token1 address", i)
		}
	}
	if c.Engine.MaxHops < 2 || c.Engine.MaxHops > 5 {
		return fmt.Errorf("engine.max_hops must be between 2 and 5")
	}
	if c.Engine.MaxPrecomputedPaths <= 0 {
		return fmt.Errorf("engine.max_precomputed_paths must be positive")
	}
	if _, ok := new(big.Int).SetString(c.Engine.MinProfitThresholdWei, 10); !ok {
		return fmt.Errorf("engine.min_profit_threshold_wei %q is not a valid integer", c.Engine.MinProfitThresholdWei)
	}
	if c.Engine.GasPriceGwei < 0 {
		return fmt.Errorf("engine.gas_price_gwei must not be negative")
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	return nil
}
