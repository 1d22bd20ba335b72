// Package bootstrap provides a SQLite-backed token/pool directory cache
// so the TokenGraph can be seeded on startup without a full chain
// rescan. It stores identity only (address, symbol, decimals, token
// pair, fee) — never reserves or discovered opportunities, which stay
// out of persistence entirely per SPEC_FULL.md §1's non-goal.
//
// Grounded on the teacher's internal/persistence/sqlite.go (WAL
// pragma, single-writer SetMaxOpenConns(1), upsert-via-ON CONFLICT),
// repurposed from its pool/token/TVL-curation schema to plain identity
// records driven by this repository's token.Token/token.Pool types.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"arbwatch/internal/marketgraph"
	"arbwatch/internal/token"
)

// Store provides SQLite-backed persistence for the token/pool
// directory cache.
type Store struct {
	db *sql.DB
}

// TokenRecord is the cached identity of one token.
type TokenRecord struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// PoolRecord is the cached identity of one pool: its token pair and
// fee, never its reserves.
type PoolRecord struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
	FeeBps  uint32
}

// NewStore opens (creating if necessary) the directory cache at
// dbPath and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("bootstrap: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap: running migrations: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			symbol TEXT NOT NULL DEFAULT '',
			decimals INTEGER NOT NULL DEFAULT 18,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pools (
			address TEXT PRIMARY KEY,
			token0 TEXT NOT NULL,
			token1 TEXT NOT NULL,
			fee_bps INTEGER NOT NULL DEFAULT 30,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (token0) REFERENCES tokens(address),
			FOREIGN KEY (token1) REFERENCES tokens(address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_tokens ON pools(token0, token1)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Debug().Msg("bootstrap: directory cache migrations applied")
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertToken inserts or updates a cached token record.
func (s *Store) UpsertToken(ctx context.Context, t TokenRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tokens (address, symbol, decimals, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET symbol = excluded.symbol, decimals = excluded.decimals, updated_at = excluded.updated_at`,
		t.Address.Hex(), t.Symbol, t.Decimals, time.Now())
	return err
}

// UpsertPool inserts or updates a cached pool record.
func (s *Store) UpsertPool(ctx context.Context, p PoolRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pools (address, token0, token1, fee_bps, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET fee_bps = excluded.fee_bps, updated_at = excluded.updated_at`,
		p.Address.Hex(), p.Token0.Hex(), p.Token1.Hex(), p.FeeBps, time.Now())
	return err
}

// SaveGraph persists every pool currently registered with g, together
// with its two tokens, in one transaction (a token that no pool
// references is not saved), so the next startup can seed from the cache
// instead of rediscovering pool identity from scratch.
func (s *Store) SaveGraph(ctx context.Context, g *marketgraph.Graph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	tokenStmt, err := tx.PrepareContext(ctx, `INSERT INTO tokens (address, symbol, decimals, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET symbol = excluded.symbol, decimals = excluded.decimals, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("bootstrap: preparing token statement: %w", err)
	}
	defer tokenStmt.Close()

	poolStmt, err := tx.PrepareContext(ctx, `INSERT INTO pools (address, token0, token1, fee_bps, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET fee_bps = excluded.fee_bps, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("bootstrap: preparing pool statement: %w", err)
	}
	defer poolStmt.Close()

	now := time.Now()
	for _, id := range g.AllPools() {
		p, ok := g.Pool(id)
		if !ok {
			continue
		}
		if _, err := tokenStmt.ExecContext(ctx, p.Token0.Address.Hex(), p.Token0.Symbol, p.Token0.Decimals, now); err != nil {
			return fmt.Errorf("bootstrap: caching token %s: %w", p.Token0.Address, err)
		}
		if _, err := tokenStmt.ExecContext(ctx, p.Token1.Address.Hex(), p.Token1.Symbol, p.Token1.Decimals, now); err != nil {
			return fmt.Errorf("bootstrap: caching token %s: %w", p.Token1.Address, err)
		}
		if _, err := poolStmt.ExecContext(ctx, id.Address().Hex(), p.Token0.Address.Hex(), p.Token1.Address.Hex(), p.FeeBps, now); err != nil {
			return fmt.Errorf("bootstrap: caching pool %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// LoadIntoGraph reconstructs every cached token and pool into g. Pools
// are registered active; reserves are left unset until the aggregator
// observes them on the next block. Returns the number of pools seeded.
func (s *Store) LoadIntoGraph(ctx context.Context, g *marketgraph.Graph) (int, error) {
	tokens, err := s.allTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("bootstrap: loading cached tokens: %w", err)
	}
	pools, err := s.allPools(ctx)
	if err != nil {
		return 0, fmt.Errorf("bootstrap: loading cached pools: %w", err)
	}

	for _, t := range tokens {
		g.AddToken(token.New(t.Address, t.Symbol, t.Decimals))
	}

	seeded := 0
	for _, p := range pools {
		t0, ok := g.Token(p.Token0)
		if !ok {
			t0 = token.New(p.Token0, "", 18)
		}
		t1, ok := g.Token(p.Token1)
		if !ok {
			t1 = token.New(p.Token1, "", 18)
		}
		pool := token.NewPool(token.PoolIDFromAddress(p.Address), t0, t1, p.FeeBps)
		if err := g.AddPool(pool); err != nil {
			log.Warn().Err(err).Str("pool", p.Address.Hex()).Msg("bootstrap: skipping cached pool, failed to register")
			continue
		}
		seeded++
	}

	return seeded, nil
}

func (s *Store) allTokens(ctx context.Context) ([]TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, symbol, decimals FROM tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TokenRecord
	for rows.Next() {
		var addr, symbol string
		var decimals uint8
		if err := rows.Scan(&addr, &symbol, &decimals); err != nil {
			return nil, err
		}
		out = append(out, TokenRecord{Address: common.HexToAddress(addr), Symbol: symbol, Decimals: decimals})
	}
	return out, rows.Err()
}

func (s *Store) allPools(ctx context.Context) ([]PoolRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, token0, token1, fee_bps FROM pools`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoolRecord
	for rows.Next() {
		var addr, t0, t1 string
		var fee uint32
		if err := rows.Scan(&addr, &t0, &t1, &fee); err != nil {
			return nil, err
		}
		out = append(out, PoolRecord{
			Address: common.HexToAddress(addr),
			Token0:  common.HexToAddress(t0),
			Token1:  common.HexToAddress(t1),
			FeeBps:  fee,
		})
	}
	return out, rows.Err()
}

// PoolCount returns the number of pools currently cached.
func (s *Store) PoolCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pools").Scan(&count)
	return count, err
}
