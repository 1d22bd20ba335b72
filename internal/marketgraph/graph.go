// Package marketgraph implements the undirected token/pool multigraph
// (C2). Edges are keyed by the unordered token-address pair; each edge's
// value is itself a map from PoolID to PoolEdge, so multiple pools between
// the same two tokens coexist on one edge (SPEC_FULL.md §3/§4.1).
package marketgraph

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"arbwatch/internal/token"
)

// PoolEdge is one pool riding an edge between two token nodes.
type PoolEdge struct {
	Pool     *token.Pool
	IsActive bool
}

// pairKey is an unordered pair of token addresses; (a,b) and (b,a) hash
// identically.
type pairKey struct {
	lo, hi common.Address
}

func makePairKey(a, b common.Address) pairKey {
	if string(a.Bytes()) <= string(b.Bytes()) {
		return pairKey{lo: a, hi: b}
	}
	return pairKey{lo: b, hi: a}
}

// ErrTokenMissing is returned by AddPool only when a token referenced by
// the pool could not be created (GraphError::TokenMissing in spec's
// taxonomy).
var ErrTokenMissing = fmt.Errorf("marketgraph: token missing")

// ErrPoolNotInGraph is returned by SetPoolActive for an unknown pool id.
var ErrPoolNotInGraph = fmt.Errorf("marketgraph: pool not in graph")

// Graph is the single-writer, many-reader token/pool multigraph.
type Graph struct {
	mu sync.RWMutex

	tokens map[common.Address]*token.Token
	pools  map[token.PoolID]*token.Pool
	edges  map[pairKey]map[token.PoolID]*PoolEdge
}

func New() *Graph {
	return &Graph{
		tokens: make(map[common.Address]*token.Token),
		pools:  make(map[token.PoolID]*token.Pool),
		edges:  make(map[pairKey]map[token.PoolID]*PoolEdge),
	}
}

// AddToken is idempotent by address.
func (g *Graph) AddToken(t *token.Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addTokenLocked(t)
}

func (g *Graph) addTokenLocked(t *token.Token) {
	if _, ok := g.tokens[t.Address]; !ok {
		g.tokens[t.Address] = t
	}
}

// AddPool is idempotent by pool id. It implicitly adds any missing
// tokens, then for each swap direction the pool advertises, ensures an
// edge between the token pair and inserts the pool into that edge's map.
func (g *Graph) AddPool(p *token.Pool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p.Token0 == nil || p.Token1 == nil {
		return fmt.Errorf("marketgraph: add pool %s: %w", p.ID, ErrTokenMissing)
	}

	g.addTokenLocked(p.Token0)
	g.addTokenLocked(p.Token1)

	key := makePairKey(p.Token0.Address, p.Token1.Address)
	edge, ok := g.edges[key]
	if !ok {
		edge = make(map[token.PoolID]*PoolEdge)
		g.edges[key] = edge
	}

	if existing, ok := edge[p.ID]; ok {
		existing.Pool = p
		g.pools[p.ID] = p
		return nil
	}

	edge[p.ID] = &PoolEdge{Pool: p, IsActive: p.IsActive()}
	g.pools[p.ID] = p
	return nil
}

// SetPoolActive flips the active flag on every edge entry for poolID.
func (g *Graph) SetPoolActive(id token.PoolID, active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pools[id]
	if !ok {
		return fmt.Errorf("marketgraph: %s: %w", id, ErrPoolNotInGraph)
	}
	p.SetActive(active)

	key := makePairKey(p.Token0.Address, p.Token1.Address)
	if edge, ok := g.edges[key]; ok {
		if pe, ok := edge[id]; ok {
			pe.IsActive = active
		}
	}
	return nil
}

// Token returns the token at addr, if present.
func (g *Graph) Token(addr common.Address) (*token.Token, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tokens[addr]
	return t, ok
}

// Pool returns the pool by id, if present.
func (g *Graph) Pool(id token.PoolID) (*token.Pool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.pools[id]
	return p, ok
}

// HasPool reports whether id is registered.
func (g *Graph) HasPool(id token.PoolID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.pools[id]
	return ok
}

// AllPools returns every pool id currently registered.
func (g *Graph) AllPools() []token.PoolID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]token.PoolID, 0, len(g.pools))
	for id := range g.pools {
		out = append(out, id)
	}
	return out
}

// EnabledPools returns every pool id currently marked active. Pools
// deactivated via SetPoolActive are excluded, so the aggregator only
// spends multicall batches on pools the engine will actually consider.
func (g *Graph) EnabledPools() []token.PoolID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]token.PoolID, 0, len(g.pools))
	for id, p := range g.pools {
		if p.IsActive() {
			out = append(out, id)
		}
	}
	return out
}

// NumNodes returns the number of distinct tokens.
func (g *Graph) NumNodes() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tokens)
}

// NumEdges returns the number of distinct token-pair edges (not pools).
func (g *Graph) NumEdges() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// NumPools returns the total number of registered pools.
func (g *Graph) NumPools() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pools)
}

// NeighborEdge pairs a neighboring token with the pool map connecting it
// to the token the caller asked about.
type NeighborEdge struct {
	To    *token.Token
	Pools map[token.PoolID]*PoolEdge
}

// Neighbors returns, for the token at addr, every edge leading away from
// it together with the pool map riding that edge.
func (g *Graph) Neighbors(addr common.Address) []NeighborEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []NeighborEdge
	for key, edge := range g.edges {
		var otherAddr common.Address
		switch addr {
		case key.lo:
			otherAddr = key.hi
		case key.hi:
			otherAddr = key.lo
		default:
			continue
		}
		other, ok := g.tokens[otherAddr]
		if !ok {
			continue
		}
		out = append(out, NeighborEdge{To: other, Pools: edge})
	}
	return out
}

// ValidateAndLog checks P5 (graph consistency): every registered pool's
// tokens are nodes and its id appears in exactly the edge for its pair.
// Returns true if no inconsistency was found.
func (g *Graph) ValidateAndLog() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ok := true
	for id, p := range g.pools {
		if _, present := g.tokens[p.Token0.Address]; !present {
			log.Warn().Str("pool", id.String()).Msg("marketgraph: pool token0 missing from node set")
			ok = false
		}
		if _, present := g.tokens[p.Token1.Address]; !present {
			log.Warn().Str("pool", id.String()).Msg("marketgraph: pool token1 missing from node set")
			ok = false
		}
		key := makePairKey(p.Token0.Address, p.Token1.Address)
		edge, present := g.edges[key]
		if !present {
			log.Warn().Str("pool", id.String()).Msg("marketgraph: pool has no edge entry")
			ok = false
			continue
		}
		if _, present := edge[id]; !present {
			log.Warn().Str("pool", id.String()).Msg("marketgraph: pool missing from its own edge map")
			ok = false
		}
	}
	return ok
}
