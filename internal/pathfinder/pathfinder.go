// Package pathfinder implements CyclePrecomputer (C4): depth-bounded
// enumeration of every valid cycle from WBASE back to WBASE within a hop
// bound, deduplicated and closed under inversion (SPEC_FULL.md §4.3).
package pathfinder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"arbwatch/internal/marketgraph"
	"arbwatch/internal/swappath"
)

// maxIterations is an internal sanity ceiling distinct from
// max_precomputed_paths, guarding against pathological graphs. Grounded
// on original_source/src/graph/path_builder.rs's searched_path_counter
// cap.
const maxIterations = 500_000

// Config controls cycle enumeration.
type Config struct {
	WBase common.Address

	// MaxHops bounds the number of pool hops per cycle (2 <= MaxHops <= ~5).
	MaxHops int

	// MaxPrecomputedPaths stops enumeration once reached; a warning is
	// logged. Immutable after ArbitrageEngine.Initialize per spec §4.8.
	MaxPrecomputedPaths int

	// AllowDuplicateFirst permits a WBASE->T->WBASE cycle to reuse its
	// first pool as its last hop. Defaults to false (SPEC_FULL.md §9).
	AllowDuplicateFirst bool
}

type frame struct {
	node common.Address
	path *swappath.SwapPath
	hops int
}

// Precompute enumerates all cycles starting and ending at cfg.WBase,
// 2 <= hops <= cfg.MaxHops, honoring the no-intermediate-WBASE,
// no-pool-reuse and no-token-revisit policies, and returns the set
// closed under inversion.
func Precompute(g *marketgraph.Graph, cfg Config) (*swappath.PathSet, error) {
	result := swappath.NewPathSet()
	signatures := make(map[string]struct{})

	wbaseToken, ok := g.Token(cfg.WBase)
	if !ok {
		return result, nil
	}

	var stack []frame
	for _, nb := range g.Neighbors(cfg.WBase) {
		for _, edge := range nb.Pools {
			if !edge.IsActive {
				continue
			}
			p := swappath.NewFirst(wbaseToken, nb.To, edge.Pool)
			stack = append(stack, frame{node: nb.To.Address, path: p, hops: 1})
		}
	}

	iterations := 0
	for len(stack) > 0 {
		iterations++
		if iterations > maxIterations {
			log.Error().Int("iterations", iterations).Msg("pathfinder: iteration sanity cap exceeded, aborting enumeration")
			break
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node == cfg.WBase {
			if f.path.Hops() >= 2 {
				sig := f.path.Signature()
				if _, seen := signatures[sig]; !seen {
					signatures[sig] = struct{}{}
					result.Insert(f.path)
					if result.Len() >= cfg.MaxPrecomputedPaths {
						log.Warn().Int("limit", cfg.MaxPrecomputedPaths).Msg("pathfinder: max_precomputed_paths reached, stopping enumeration early")
						return closeUnderInversion(result), nil
					}
				}
			}
			continue
		}

		if f.hops >= cfg.MaxHops {
			continue
		}

		for _, nb := range g.Neighbors(f.node) {
			for id, edge := range nb.Pools {
				if !edge.IsActive {
					continue
				}

				if f.path.ContainsPool(id) {
					if !cfg.AllowDuplicateFirst {
						continue
					}
					first, ok := f.path.FirstPool()
					if !ok || first != id {
						continue
					}
					// Only the first pool may be reused, and only to close
					// the cycle back at WBASE.
					if nb.To.Address != cfg.WBase {
						continue
					}
				}

				// No token revisit, except the final return to WBASE.
				if nb.To.Address != cfg.WBase && containsToken(f.path, nb.To.Address) {
					continue
				}

				next, err := f.path.PushHop(nb.To, edge.Pool)
				if err != nil {
					continue
				}
				stack = append(stack, frame{node: nb.To.Address, path: next, hops: f.hops + 1})
			}
		}
	}

	return closeUnderInversion(result), nil
}

func containsToken(p *swappath.SwapPath, addr common.Address) bool {
	for _, t := range p.Tokens {
		if t.Address == addr {
			return true
		}
	}
	return false
}

// closeUnderInversion adds, for every path p already in the set,
// p.Invert() as well (SPEC_FULL.md §4.3's inversion step / P4).
func closeUnderInversion(set *swappath.PathSet) *swappath.PathSet {
	existing := set.Paths()
	for _, p := range existing {
		set.Insert(p.Invert())
	}
	return set
}
