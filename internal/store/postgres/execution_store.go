package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgcapital/signalvault/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. The
// unique index on signal_id doubles as a durable executed marker.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, signal_id, asset_in, asset_out, amount_in, amount_out, keeper, executed_at`

// Insert persists a completed execution. A second insert for the same
// signal returns domain.ErrAlreadyExecuted.
func (s *ExecutionStore) Insert(ctx context.Context, exec domain.TradeExecution) error {
	const query = `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signal_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		exec.ID,
		exec.SignalID.Hex(),
		exec.AssetIn.Hex(),
		exec.AssetOut.Hex(),
		exec.AmountIn.String(),
		exec.AmountOut.String(),
		exec.Keeper.Hex(),
		exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: signal %s: %w", exec.SignalID.Hex(), domain.ErrAlreadyExecuted)
	}
	return nil
}

// WasExecuted reports whether an execution row exists for the signal. The
// lookup is a point query on the unique signal_id index.
func (s *ExecutionStore) WasExecuted(ctx context.Context, signalID common.Hash) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM executions WHERE signal_id = $1)`,
		signalID.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: executed check %s: %w", signalID.Hex(), err)
	}
	return exists, nil
}

// ListRecent returns the most recent executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + executionColumns + ` FROM executions ORDER BY executed_at DESC LIMIT $1`
	return s.queryExecutions(ctx, query, limit)
}

// LoadExecutedIDs returns the signal id of every recorded execution.
func (s *ExecutionStore) LoadExecutedIDs(ctx context.Context) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx, `SELECT signal_id FROM executions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load executed ids: %w", err)
	}
	defer rows.Close()

	var ids []common.Hash
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan executed id: %w", err)
		}
		ids = append(ids, common.HexToHash(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: executed ids rows: %w", err)
	}
	return ids, nil
}

// ListBefore returns executions settled before the cutoff, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeExecution, error) {
	const query = `SELECT ` + executionColumns + ` FROM executions WHERE executed_at < $1 ORDER BY executed_at ASC`
	return s.queryExecutions(ctx, query, before)
}

// DeleteBefore removes executions settled before the cutoff. The executed
// markers for deleted rows are gone with them; archiving must precede
// pruning, and the retention window must exceed the signal expiry window.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (s *ExecutionStore) queryExecutions(ctx context.Context, query string, args ...any) ([]domain.TradeExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.TradeExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: executions rows: %w", err)
	}
	return execs, nil
}

func scanExecution(row pgx.Row) (domain.TradeExecution, error) {
	var exec domain.TradeExecution
	var signalID, assetIn, assetOut, amountIn, amountOut, keeper string

	err := row.Scan(&exec.ID, &signalID, &assetIn, &assetOut, &amountIn, &amountOut, &keeper, &exec.ExecutedAt)
	if err != nil {
		return exec, err
	}

	in, ok := new(big.Int).SetString(amountIn, 10)
	if !ok {
		return exec, fmt.Errorf("bad amount_in %q", amountIn)
	}
	out, ok := new(big.Int).SetString(amountOut, 10)
	if !ok {
		return exec, fmt.Errorf("bad amount_out %q", amountOut)
	}
	exec.SignalID = common.HexToHash(signalID)
	exec.AssetIn = common.HexToAddress(assetIn)
	exec.AssetOut = common.HexToAddress(assetOut)
	exec.AmountIn = in
	exec.AmountOut = out
	exec.Keeper = common.HexToAddress(keeper)
	return exec, nil
}
