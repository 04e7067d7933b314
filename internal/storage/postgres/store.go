package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakepool/internal/model"
)

// Store provides Postgres persistence for pool state, lifecycle events,
// randomness correlations, and the watcher scan position.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pools (
			id BIGINT PRIMARY KEY,
			creator TEXT NOT NULL,
			asset TEXT NOT NULL,
			stake NUMERIC NOT NULL,
			deadline BIGINT NOT NULL,
			closed BOOLEAN NOT NULL DEFAULT FALSE,
			winner TEXT NOT NULL DEFAULT '',
			participants TEXT[] NOT NULL DEFAULT '{}',
			settlement_value NUMERIC NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS pool_events (
			id BIGSERIAL PRIMARY KEY,
			event_name TEXT NOT NULL,
			pool_id BIGINT NOT NULL,
			emitted_at TEXT NOT NULL,
			decoded JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS randomness_requests (
			request_id TEXT PRIMARY KEY,
			pool_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS supported_assets (
			asset TEXT PRIMARY KEY,
			oracle TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS service_state (
			name TEXT PRIMARY KEY,
			last_processed_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// UpsertPool inserts or updates one pool snapshot.
func (s *Store) UpsertPool(ctx context.Context, pool model.Pool) error {
	participants := pool.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (
			id, creator, asset, stake, deadline, closed, winner, participants, settlement_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9::numeric, now(), now())
		ON CONFLICT (id)
		DO UPDATE SET
			closed = EXCLUDED.closed,
			winner = EXCLUDED.winner,
			participants = EXCLUDED.participants,
			settlement_value = EXCLUDED.settlement_value,
			updated_at = now()
	`,
		int64(pool.ID),
		pool.Creator,
		pool.Asset,
		pool.Stake,
		pool.Deadline,
		pool.Closed,
		pool.Winner,
		participants,
		pool.SettlementValue,
	)
	return err
}

// LoadPools returns every pool snapshot ordered by id.
func (s *Store) LoadPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, creator, asset, stake::text, deadline, closed, winner, participants, settlement_value::text
		FROM pools ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		var id int64
		if err := rows.Scan(&id, &p.Creator, &p.Asset, &p.Stake, &p.Deadline, &p.Closed, &p.Winner, &p.Participants, &p.SettlementValue); err != nil {
			return nil, err
		}
		p.ID = uint64(id)
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// Put records a lifecycle event. Implements storage.Sink.
func (s *Store) Put(ctx context.Context, event model.Event) error {
	decoded, err := json.Marshal(event.Decoded)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pool_events (event_name, pool_id, emitted_at, decoded)
		VALUES ($1, $2, $3, $4)
	`, event.Name, int64(event.PoolID), event.EmittedAt, decoded)
	return err
}

// SaveRequest records a randomness correlation entry.
func (s *Store) SaveRequest(ctx context.Context, rec model.RequestRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO randomness_requests (request_id, pool_id)
		VALUES ($1, $2)
		ON CONFLICT (request_id) DO NOTHING
	`, rec.RequestID, int64(rec.PoolID))
	return err
}

// DeleteRequest drops a consumed correlation entry.
func (s *Store) DeleteRequest(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM randomness_requests WHERE request_id = $1`, requestID)
	return err
}

// LoadRequests returns outstanding correlation entries.
func (s *Store) LoadRequests(ctx context.Context) ([]model.RequestRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT request_id, pool_id FROM randomness_requests ORDER BY request_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.RequestRecord
	for rows.Next() {
		var rec model.RequestRecord
		var poolID int64
		if err := rows.Scan(&rec.RequestID, &poolID); err != nil {
			return nil, err
		}
		rec.PoolID = uint64(poolID)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertAsset persists one allowlist entry.
func (s *Store) UpsertAsset(ctx context.Context, entry model.AssetEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO supported_assets (asset, oracle)
		VALUES ($1, $2)
		ON CONFLICT (asset) DO UPDATE SET oracle = EXCLUDED.oracle
	`, entry.Asset, entry.Oracle)
	return err
}

// DeleteAsset removes one allowlist entry.
func (s *Store) DeleteAsset(ctx context.Context, asset string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM supported_assets WHERE asset = $1`, asset)
	return err
}

// LoadAssets returns every allowlist entry.
func (s *Store) LoadAssets(ctx context.Context) ([]model.AssetEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT asset, oracle FROM supported_assets ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AssetEntry
	for rows.Next() {
		var entry model.AssetEntry
		if err := rows.Scan(&entry.Asset, &entry.Oracle); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM service_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
