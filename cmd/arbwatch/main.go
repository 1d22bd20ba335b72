package main

import (
	"context"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/aggregator"
	"arbwatch/internal/bootstrap"
	"arbwatch/internal/chainfeed"
	"arbwatch/internal/config"
	"arbwatch/internal/engine"
	"arbwatch/internal/evaluator"
	"arbwatch/internal/marketgraph"
	"arbwatch/internal/metrics"
	"arbwatch/internal/multicall"
	"arbwatch/internal/obslog"
	"arbwatch/internal/pathfinder"
	"arbwatch/internal/token"
	"arbwatch/pkg/rpcclient"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	obslog.Setup(cfg.Logging)
	log.Info().Msg("Starting arbwatch - real-time AMM arbitrage detector")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("arbwatch shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	store, err := bootstrap.NewStore(cfg.Bootstrap.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("path", cfg.Bootstrap.SQLitePath).Msg("Bootstrap directory cache opened")

	rpcClient, err := rpcclient.NewClient(cfg.Chain.RPCHTTPURL)
	if err != nil {
		return err
	}
	defer rpcClient.Close()
	log.Info().Msg("RPC client connected")

	wbase := common.HexToAddress(cfg.Chain.WBaseAddress)

	g := marketgraph.New()
	g.AddToken(token.New(wbase, "WBASE", 18))

	bootstrapStart := time.Now()
	cachedSeeded, err := store.LoadIntoGraph(ctx, g)
	if err != nil {
		log.Warn().Err(err).Msg("bootstrap: failed to load directory cache, continuing with seed config only")
	}
	seedPools(cfg, g)
	m.RecordBootstrapLatency(time.Since(bootstrapStart))

	log.Info().
		Int("nodes", g.NumNodes()).
		Int("edges", g.NumEdges()).
		Int("pools", g.NumPools()).
		Int("from_cache", cachedSeeded).
		Msg("Token graph seeded")

	if !g.ValidateAndLog() {
		log.Warn().Msg("Graph validation failed - continuing but some cycles may be missed")
	}

	if err := store.SaveGraph(ctx, g); err != nil {
		log.Warn().Err(err).Msg("bootstrap: failed to persist directory cache")
	}

	minProfit, ok := new(big.Int).SetString(cfg.Engine.MinProfitThresholdWei, 10)
	if !ok {
		minProfit = big.NewInt(0)
	}

	eng := engine.New(engine.Config{
		Pathfinder: pathfinder.Config{
			WBase:               wbase,
			MaxHops:             cfg.Engine.MaxHops,
			MaxPrecomputedPaths: cfg.Engine.MaxPrecomputedPaths,
		},
		Evaluator: evaluator.Config{
			GasPriceGwei:              cfg.Engine.GasPriceGwei,
			GasPerTransaction:         cfg.Engine.GasPerTransaction,
			EnableParallelCalculation: cfg.Engine.EnableParallelCalculation,
		},
		DedupCapacity: 4096,
		MinProfitWei:  minProfit,
	}, m)

	if err := eng.Initialize(g); err != nil {
		return err
	}

	multicallAddr := common.HexToAddress(cfg.Chain.MulticallAddress)
	reader, err := multicall.NewReader(rpcClient, multicallAddr, cfg.Pools.MaxPoolsPerBatch, m)
	if err != nil {
		return err
	}

	agg := aggregator.New(aggregator.Config{
		MaxPoolsPerBatch:  cfg.Pools.MaxPoolsPerBatch,
		ChannelBufferSize: cfg.Chain.ChannelBufferSize,
		HTTPTimeout:       time.Duration(cfg.Chain.HTTPTimeoutSecs) * time.Second,
	}, reader, m)

	feed := chainfeed.New(chainfeed.Config{
		WSURL:                cfg.Chain.RPCWSURL,
		ConnectionTimeout:    time.Duration(cfg.Chain.WSConnectionTimeoutSecs) * time.Second,
		MaxReconnectAttempts: cfg.Chain.MaxReconnectAttempts,
		ReconnectBaseDelay:   time.Duration(cfg.Chain.ReconnectDelaySecs) * time.Second,
		ChannelBufferSize:    cfg.Chain.ChannelBufferSize,
	}, m)

	grp, gCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info().Msg("Starting chain feed...")
		return feed.Run(gCtx)
	})

	grp.Go(func() error {
		log.Info().Msg("Starting data aggregator...")
		return agg.Run(gCtx, feed.Headers(), g)
	})

	grp.Go(func() error {
		log.Info().Msg("Starting arbitrage engine...")
		return eng.Run(gCtx, agg.Snapshots())
	})

	grp.Go(func() error {
		return logOpportunities(gCtx, eng.Opportunities())
	})

	if err := grp.Wait(); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

// seedPools registers every statically configured pool with the graph.
// Pool *discovery* is an external collaborator per SPEC_FULL.md §1; this
// is the narrow, explicit seam an operator uses to hand the watcher its
// starting pool set when the bootstrap cache is empty or incomplete.
func seedPools(cfg *config.Config, g *marketgraph.Graph) {
	for _, seed := range cfg.Pools.Seed {
		t0Addr := common.HexToAddress(seed.Token0)
		t1Addr := common.HexToAddress(seed.Token1)

		t0, ok := g.Token(t0Addr)
		if !ok {
			t0 = token.New(t0Addr, "", 18)
		}
		t1, ok := g.Token(t1Addr)
		if !ok {
			t1 = token.New(t1Addr, "", 18)
		}

		poolID := token.PoolIDFromAddress(common.HexToAddress(seed.Address))
		pool := token.NewPool(poolID, t0, t1, seed.FeeBps)
		if err := g.AddPool(pool); err != nil {
			log.Warn().Err(err).Str("pool", seed.Address).Msg("config: failed to seed pool")
		}
	}
}

func logOpportunities(ctx context.Context, ch <-chan []engine.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-ch:
			if !ok {
				return nil
			}
			for _, opp := range batch {
				symbols := make([]string, len(opp.Path.Tokens))
				for i, t := range opp.Path.Tokens {
					symbols[i] = t.String()
				}

				log.Info().
					Strs("path", symbols).
					Str("path_hash", opp.PathHash.String()).
					Str("optimal_input_wei", opp.OptimalInputWei.String()).
					Str("gross_profit_wei", opp.GrossProfitWei.String()).
					Str("net_profit_wei", opp.NetProfitWei.String()).
					Str("net_profit_wbase", opp.NetProfitWBase()).
					Uint64("block", opp.BlockNumber).
					Msg("ARBITRAGE OPPORTUNITY DETECTED")
			}
		}
	}
}
