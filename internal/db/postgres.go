// Package db persists the structured audit trail: every solve attempt's
// outcome and every confirmed fill, queryable independently of the
// short-lived redis queue state.
package db

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for the solver audit trail")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *Store) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Solver audit schema initialized")
	return nil
}

// RecordAttempt logs one solve-job outcome: PreconditionFail, Unprofitable,
// or Filled. reason is a terse free-text explanation; for Filled the
// solver engine passes the filler transaction hash.
func (s *Store) RecordAttempt(ctx context.Context, intentHash, protocol string, attempt int, outcome, reason string) error {
	const sql = `
		INSERT INTO solve_attempts (intent_hash, protocol, attempt, outcome, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, sql, intentHash, protocol, attempt, outcome, reason)
	return err
}

// RecordFill logs a confirmed settlement, keyed uniquely by tx hash so a
// retried dispatch that lands the same transaction twice is a no-op.
func (s *Store) RecordFill(ctx context.Context, intentHash, protocol, txHash string, blockNumber uint64, fillAmount, executeAmount *big.Int) error {
	const sql = `
		INSERT INTO fills (intent_hash, protocol, tx_hash, block_number, fill_amount, execute_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, sql, intentHash, protocol, txHash, blockNumber, bigToNumeric(fillAmount), bigToNumeric(executeAmount))
	return err
}

func bigToNumeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// AttemptRecord is one row of the solve_attempts audit trail.
type AttemptRecord struct {
	IntentHash string `json:"intentHash"`
	Protocol   string `json:"protocol"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
}

// RecentAttempts returns the most recent solve attempts for an intent hash,
// newest first. No HTTP route serves it.
func (s *Store) RecentAttempts(ctx context.Context, intentHash string, limit int) ([]AttemptRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const sql = `
		SELECT intent_hash, protocol, attempt, outcome, COALESCE(reason, '')
		FROM solve_attempts
		WHERE intent_hash = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, sql, intentHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var r AttemptRecord
		if err := rows.Scan(&r.IntentHash, &r.Protocol, &r.Attempt, &r.Outcome, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if out == nil {
		out = []AttemptRecord{}
	}
	return out, nil
}

// GetPool exposes the connection pool for callers that need it directly
// (migrations, one-off admin queries).
func (s *Store) GetPool() *pgxpool.Pool {
	return s.pool
}
