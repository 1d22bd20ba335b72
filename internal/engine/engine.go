// Package engine implements ArbitrageEngine (C10): the two-phase
// orchestrator that precomputes paths once at startup (C4) and then
// evaluates them against every incoming market snapshot (C9), emitting
// deduplicated opportunities (SPEC_FULL.md §4).
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"arbwatch/internal/evaluator"
	"arbwatch/internal/market"
	"arbwatch/internal/marketgraph"
	"arbwatch/internal/metrics"
	"arbwatch/internal/pathfinder"
	"arbwatch/internal/swappath"
)

// Config is the subset of configuration the engine itself needs; most of
// it is forwarded to Pathfinder.Config and evaluator.Config at
// construction time.
type Config struct {
	Pathfinder      pathfinder.Config
	Evaluator       evaluator.Config
	DedupCapacity   int
	MinProfitWei    *big.Int
}

// Opportunity is one profitable, evaluated path at a point in time.
type Opportunity struct {
	Path            *swappath.SwapPath
	PathHash        swappath.SwapPathHash
	BlockNumber     uint64
	OptimalInputWei *big.Int
	GrossProfitWei  *big.Int
	GasCostWei      *big.Int
	NetProfitWei    *big.Int
	DetectedAt      time.Time
}

// NetProfitWBase renders NetProfitWei as a human-readable WBASE amount
// (18 decimals) for logs, matching the teacher's decimal-for-display,
// big.Int-for-math split.
func (o Opportunity) NetProfitWBase() string {
	d := decimal.NewFromBigInt(o.NetProfitWei, 0).Shift(-18)
	return d.StringFixed(6)
}

// Statistics mirrors the original's get_statistics() accessor.
type Statistics struct {
	IsInitialized          bool
	PrecomputedPathCount   int
	MaxHops                int
	MinProfitThresholdWei  *big.Int
	ParallelCalculationOn  bool
}

var (
	// ErrAlreadyInitialized is returned by Initialize on a second call.
	ErrAlreadyInitialized = fmt.Errorf("engine: already initialized")
	// ErrNotInitialized is returned by ProcessSnapshot before Initialize.
	ErrNotInitialized = fmt.Errorf("engine: not initialized, call Initialize first")
	// ErrNoPathsFound is returned by Initialize when precomputation yields nothing.
	ErrNoPathsFound = fmt.Errorf("engine: no arbitrage paths found, check token graph configuration")
)

// Engine owns the precomputed path set, the evaluator, and the
// cross-block dedup set.
type Engine struct {
	cfg     Config
	eval    *evaluator.Evaluator
	paths   *swappath.PathSet
	dedup   *dedupSet
	metrics *metrics.Metrics
	inited  bool

	opportunities chan []Opportunity
}

func New(cfg Config, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:           cfg,
		eval:          evaluator.New(cfg.Evaluator),
		dedup:         newDedupSet(cfg.DedupCapacity, m),
		metrics:       m,
		opportunities: make(chan []Opportunity, 16),
	}
}

// Opportunities returns the channel batches of opportunities are
// delivered on, one batch per processed snapshot.
func (e *Engine) Opportunities() <-chan []Opportunity { return e.opportunities }

// Initialize runs C4's precomputation once against g. Calling it twice
// is a no-op error, matching the original's is_initialized guard.
func (e *Engine) Initialize(g *marketgraph.Graph) error {
	if e.inited {
		log.Warn().Msg("engine: already initialized, skipping duplicate initialization")
		return ErrAlreadyInitialized
	}

	log.Info().Msg("engine: precomputing arbitrage paths")

	paths, err := pathfinder.Precompute(g, e.cfg.Pathfinder)
	if err != nil {
		return fmt.Errorf("engine: precomputing paths: %w", err)
	}
	if paths.Len() == 0 {
		return ErrNoPathsFound
	}

	e.paths = paths
	e.inited = true
	e.metrics.SetPrecomputedPaths(paths.Len())

	log.Info().
		Int("paths", paths.Len()).
		Int("max_hops", e.cfg.Pathfinder.MaxHops).
		Msg("engine: initialization complete")

	return nil
}

// ProcessSnapshot evaluates every precomputed path against snap,
// filtering to profitable, not-recently-seen opportunities, ranked by
// net profit, highest first.
func (e *Engine) ProcessSnapshot(snap *market.Snapshot) ([]Opportunity, error) {
	if !e.inited {
		return nil, ErrNotInitialized
	}

	start := time.Now()

	results := e.eval.EvaluateAll(e.paths.Paths(), snap)
	e.metrics.RecordEvaluationLatency(time.Since(start))

	profitable := evaluator.Filter(results, e.cfg.MinProfitWei)

	opps := make([]Opportunity, 0, len(profitable))
	for _, r := range profitable {
		hash := r.Path.Hash()
		if e.dedup.SeenRecently(hash) {
			continue
		}
		e.dedup.Insert(hash)

		opps = append(opps, Opportunity{
			Path:            r.Path,
			PathHash:        hash,
			BlockNumber:     snap.BlockNumber,
			OptimalInputWei: r.OptimalInput,
			GrossProfitWei:  r.GrossProfit,
			GasCostWei:      r.GasCostWei,
			NetProfitWei:    r.NetProfitWei,
			DetectedAt:      time.Now(),
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitWei.Cmp(opps[j].NetProfitWei) > 0
	})

	e.metrics.RecordOpportunitiesFound(len(opps))

	log.Debug().
		Uint64("block", snap.BlockNumber).
		Int("evaluated", len(results)).
		Int("profitable", len(profitable)).
		Int("after_dedup", len(opps)).
		Dur("elapsed", time.Since(start)).
		Msg("engine: snapshot processed")

	return opps, nil
}

// Run consumes snapshots from snapshots until the channel closes or ctx
// is cancelled, pushing each non-empty opportunity batch downstream.
func (e *Engine) Run(ctx context.Context, snapshots <-chan *market.Snapshot) error {
	defer close(e.opportunities)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}

			pipelineStart := time.Now()
			opps, err := e.ProcessSnapshot(snap)
			e.metrics.RecordPipelineLatency(time.Since(pipelineStart))
			if err != nil {
				log.Error().Err(err).Msg("engine: failed to process snapshot")
				continue
			}
			if len(opps) == 0 {
				continue
			}

			for _, o := range opps {
				log.Info().
					Uint64("block", o.BlockNumber).
					Str("path_hash", o.PathHash.String()).
					Str("net_profit_wbase", o.NetProfitWBase()).
					Msg("engine: arbitrage opportunity detected")
			}

			select {
			case e.opportunities <- opps:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Statistics reports the engine's current state, mirroring the
// original's get_statistics().
func (e *Engine) Statistics() Statistics {
	pathCount := 0
	if e.paths != nil {
		pathCount = e.paths.Len()
	}
	return Statistics{
		IsInitialized:         e.inited,
		PrecomputedPathCount:  pathCount,
		MaxHops:               e.cfg.Pathfinder.MaxHops,
		MinProfitThresholdWei: e.cfg.MinProfitWei,
		ParallelCalculationOn: e.cfg.Evaluator.EnableParallelCalculation,
	}
}

// PrecomputedPaths exposes the path set for debugging/analysis, mirroring
// the original's get_precomputed_paths().
func (e *Engine) PrecomputedPaths() []*swappath.SwapPath {
	if e.paths == nil {
		return nil
	}
	return e.paths.Paths()
}
