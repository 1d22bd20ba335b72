// Package token defines the identity types shared by every other
// component: Token, PoolID and Pool. These are immutable once created and
// shared by reference across the graph, swap paths, snapshots and
// opportunities (SPEC_FULL.md §3).
package token

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token is identified by its 20-byte address. Symbol is an optional
// display string; Decimals defaults to 18 when unknown.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// New constructs a Token, defaulting Decimals to 18 when zero was passed
// and no explicit override is intended by the caller.
func New(addr common.Address, symbol string, decimals uint8) *Token {
	if decimals == 0 {
		decimals = 18
	}
	return &Token{Address: addr, Symbol: symbol, Decimals: decimals}
}

// IsWrapped reports whether this token is the configured base/wrapped
// native token for the chain.
func (t *Token) IsWrapped(wbase common.Address) bool {
	return t.Address == wbase
}

// IsNative reports whether this token is the zero address, the
// conventional placeholder for the chain's native asset.
func (t *Token) IsNative() bool {
	return t.Address == (common.Address{})
}

func (t *Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// PoolID is the primary key for a pool: its on-chain address. It is
// totally ordered by byte comparison, matching the teacher's
// lowercase-hex-string key convention but typed for safety.
type PoolID common.Address

func PoolIDFromAddress(addr common.Address) PoolID { return PoolID(addr) }

func (p PoolID) Address() common.Address { return common.Address(p) }

func (p PoolID) String() string { return common.Address(p).Hex() }

// Less provides a total order over PoolIDs by their lowercase hex form.
func (p PoolID) Less(other PoolID) bool {
	return strings.Compare(
		strings.ToLower(common.Address(p).Hex()),
		strings.ToLower(common.Address(other).Hex()),
	) < 0
}

// Pool is the constant-product pool variant (the only variant fully
// specified; SPEC_FULL.md §3 anticipates other kinds as a tagged-variant
// extension point, not implemented here).
type Pool struct {
	ID       PoolID
	Token0   *Token
	Token1   *Token
	FeeBps   uint32 // basis points, e.g. 30 = 0.3%
	active   bool
	reserve0 *big.Int
	reserve1 *big.Int
}

// NewPool constructs a Pool. token0/token1 must be the pool's own
// declared ordering (not sorted by address) — SwapDirections and the
// evaluator's direction resolution both depend on this being authoritative.
func NewPool(id PoolID, token0, token1 *Token, feeBps uint32) *Pool {
	return &Pool{ID: id, Token0: token0, Token1: token1, FeeBps: feeBps, active: true}
}

func (p *Pool) IsActive() bool { return p.active }

func (p *Pool) SetActive(active bool) { p.active = active }

// SetReserves stores the pool's current reserves, ordered (reserve0,
// reserve1) matching Token0/Token1.
func (p *Pool) SetReserves(reserve0, reserve1 *big.Int) {
	p.reserve0 = new(big.Int).Set(reserve0)
	p.reserve1 = new(big.Int).Set(reserve1)
}

// Reserves returns the stored (reserve0, reserve1), or nil, nil if never set.
func (p *Pool) Reserves() (*big.Int, *big.Int) {
	if p.reserve0 == nil || p.reserve1 == nil {
		return nil, nil
	}
	return p.reserve0, p.reserve1
}

// HasReserves reports whether reserves were observed for this pool.
func (p *Pool) HasReserves() bool {
	return p.reserve0 != nil && p.reserve1 != nil
}

// SwapDirection describes one ordered direction this pool supports.
type SwapDirection struct {
	From *Token
	To   *Token
}

// SwapDirections returns both directions a constant-product pool
// supports (it is symmetric).
func (p *Pool) SwapDirections() []SwapDirection {
	return []SwapDirection{
		{From: p.Token0, To: p.Token1},
		{From: p.Token1, To: p.Token0},
	}
}

// ReserveFor returns (reserveIn, reserveOut) for a swap whose input token
// is "from" across this pool, resolved via the pool's declared Token0/Token1 —
// never by comparing addresses lexicographically (SPEC_FULL.md §9).
func (p *Pool) ReserveFor(from common.Address) (reserveIn, reserveOut *big.Int, ok bool) {
	if !p.HasReserves() {
		return nil, nil, false
	}
	switch from {
	case p.Token0.Address:
		return p.reserve0, p.reserve1, true
	case p.Token1.Address:
		return p.reserve1, p.reserve0, true
	default:
		return nil, nil, false
	}
}

// OtherToken returns the token on the far side of this pool from "from".
func (p *Pool) OtherToken(from common.Address) (*Token, bool) {
	switch from {
	case p.Token0.Address:
		return p.Token1, true
	case p.Token1.Address:
		return p.Token0, true
	default:
		return nil, false
	}
}
