// Package swappath implements SwapPath, SwapPathHash and PathSet (C3):
// an ordered token/pool sequence with a stable SHA-256 content hash used
// as the canonical equality and dedup key (SPEC_FULL.md §3/§4.2).
package swappath

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"arbwatch/internal/token"
)

// ErrEmptyPath is returned by PushHop when called on a path with no
// tokens (PathError::Empty in spec's taxonomy).
var ErrEmptyPath = errors.New("swappath: push hop on empty path")

// SwapPathHash is the 32-byte SHA-256 digest over ordered token
// addresses followed by ordered pool addresses.
type SwapPathHash [32]byte

func (h SwapPathHash) String() string {
	return fmt.Sprintf("0x%x", [32]byte(h))
}

// SwapPath is an immutable-once-built ordered sequence of tokens and the
// pools connecting them: len(Tokens) == len(Pools)+1.
type SwapPath struct {
	Tokens []*token.Token
	Pools  []*token.Pool

	poolSet map[token.PoolID]struct{}
	hash    SwapPathHash
	hashSet bool
}

// NewFirst constructs the one-hop prefix from -> to across pool.
func NewFirst(from, to *token.Token, pool *token.Pool) *SwapPath {
	p := &SwapPath{
		Tokens:  []*token.Token{from, to},
		Pools:   []*token.Pool{pool},
		poolSet: map[token.PoolID]struct{}{pool.ID: {}},
	}
	p.recomputeHash()
	return p
}

// PushHop appends a hop to toToken across pool, returning a NEW SwapPath
// (the receiver is left unmodified so callers can branch a DFS search
// without aliasing). Fails with ErrEmptyPath if called on an empty path.
func (p *SwapPath) PushHop(toToken *token.Token, pool *token.Pool) (*SwapPath, error) {
	if len(p.Tokens) == 0 {
		return nil, ErrEmptyPath
	}

	tokens := make([]*token.Token, len(p.Tokens), len(p.Tokens)+1)
	copy(tokens, p.Tokens)
	tokens = append(tokens, toToken)

	pools := make([]*token.Pool, len(p.Pools), len(p.Pools)+1)
	copy(pools, p.Pools)
	pools = append(pools, pool)

	poolSet := make(map[token.PoolID]struct{}, len(p.poolSet)+1)
	for id := range p.poolSet {
		poolSet[id] = struct{}{}
	}
	poolSet[pool.ID] = struct{}{}

	np := &SwapPath{Tokens: tokens, Pools: pools, poolSet: poolSet}
	np.recomputeHash()
	return np, nil
}

// Len returns the number of tokens in the path.
func (p *SwapPath) Len() int { return len(p.Tokens) }

// Hops returns the number of pool hops (Len-1).
func (p *SwapPath) Hops() int { return len(p.Pools) }

// ContainsPool reports, in O(1), whether id appears anywhere in the path.
func (p *SwapPath) ContainsPool(id token.PoolID) bool {
	_, ok := p.poolSet[id]
	return ok
}

// FirstPool returns the path's first pool, or the zero PoolID if empty.
func (p *SwapPath) FirstPool() (token.PoolID, bool) {
	if len(p.Pools) == 0 {
		return token.PoolID{}, false
	}
	return p.Pools[0].ID, true
}

// Hash returns the path's stable content hash.
func (p *SwapPath) Hash() SwapPathHash {
	if !p.hashSet {
		p.recomputeHash()
	}
	return p.hash
}

func (p *SwapPath) recomputeHash() {
	h := sha256.New()
	for _, t := range p.Tokens {
		h.Write(t.Address.Bytes())
	}
	for _, pool := range p.Pools {
		addr := pool.ID.Address()
		h.Write(addr.Bytes())
	}
	var sum SwapPathHash
	copy(sum[:], h.Sum(nil))
	p.hash = sum
	p.hashSet = true
}

// Invert returns a new path with tokens and pools reversed; its hash is
// recomputed fresh, not derived from the original hash's bytes.
func (p *SwapPath) Invert() *SwapPath {
	tokens := make([]*token.Token, len(p.Tokens))
	for i, t := range p.Tokens {
		tokens[len(p.Tokens)-1-i] = t
	}
	pools := make([]*token.Pool, len(p.Pools))
	for i, pool := range p.Pools {
		pools[len(p.Pools)-1-i] = pool
	}

	poolSet := make(map[token.PoolID]struct{}, len(p.poolSet))
	for id := range p.poolSet {
		poolSet[id] = struct{}{}
	}

	np := &SwapPath{Tokens: tokens, Pools: pools, poolSet: poolSet}
	np.recomputeHash()
	return np
}

// Signature is a string uniquely determined by the token and pool
// sequence, used to gate duplicate emission during cycle enumeration
// before a path's final hash is needed.
func (p *SwapPath) Signature() string {
	buf := make([]byte, 0, (len(p.Tokens)+len(p.Pools))*20)
	for _, t := range p.Tokens {
		buf = append(buf, t.Address.Bytes()...)
	}
	for _, pool := range p.Pools {
		addr := pool.ID.Address()
		buf = append(buf, addr.Bytes()...)
	}
	return string(buf)
}

// PathSet is an insertion-order-preserving, hash-deduplicated set of
// SwapPaths.
type PathSet struct {
	order []*SwapPath
	seen  map[SwapPathHash]struct{}
}

func NewPathSet() *PathSet {
	return &PathSet{seen: make(map[SwapPathHash]struct{})}
}

// Insert adds p if its hash has not been seen before; returns true if
// the path was newly added.
func (s *PathSet) Insert(p *SwapPath) bool {
	h := p.Hash()
	if _, ok := s.seen[h]; ok {
		return false
	}
	s.seen[h] = struct{}{}
	s.order = append(s.order, p)
	return true
}

func (s *PathSet) Contains(h SwapPathHash) bool {
	_, ok := s.seen[h]
	return ok
}

func (s *PathSet) Len() int { return len(s.order) }

func (s *PathSet) Paths() []*SwapPath { return s.order }
