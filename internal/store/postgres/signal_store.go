package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgcapital/signalvault/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalColumns = `id, base, quote, side, size_bps, price_ref, confidence_bps,
	strategy_version, deadline, nonce, payload_uri, attestation, signer, poster, seq, posted_at`

// Insert persists a validated signal record.
func (s *SignalStore) Insert(ctx context.Context, rec domain.SignalRecord) error {
	const query = `
		INSERT INTO signal_records (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID.Hex(),
		rec.Signal.Base.Hex(),
		rec.Signal.Quote.Hex(),
		int16(rec.Signal.Side),
		int32(rec.Signal.SizeBps),
		rec.Signal.PriceRef.String(),
		int32(rec.Signal.ConfidenceBps),
		int64(rec.Signal.StrategyVersion),
		int64(rec.Signal.Deadline),
		rec.Signal.Nonce.Hex(),
		rec.Signal.PayloadURI,
		rec.Attestation,
		rec.Signer.Hex(),
		rec.Poster.Hex(),
		int64(rec.Seq),
		rec.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", rec.ID.Hex(), err)
	}
	return nil
}

// Get returns the record for id, or domain.ErrNotFound.
func (s *SignalStore) Get(ctx context.Context, id common.Hash) (domain.SignalRecord, error) {
	const query = `SELECT ` + signalColumns + ` FROM signal_records WHERE id = $1`
	rec, err := scanSignal(s.pool.QueryRow(ctx, query, id.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SignalRecord{}, fmt.Errorf("postgres: signal %s: %w", id.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.SignalRecord{}, fmt.Errorf("postgres: get signal %s: %w", id.Hex(), err)
	}
	return rec, nil
}

// LoadAll returns every stored record in posting order. Used to seed the
// oracle's in-memory state at startup.
func (s *SignalStore) LoadAll(ctx context.Context) ([]domain.SignalRecord, error) {
	const query = `SELECT ` + signalColumns + ` FROM signal_records ORDER BY seq ASC`
	return s.querySignals(ctx, query)
}

// ListBefore returns records posted before the cutoff, oldest first.
func (s *SignalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SignalRecord, error) {
	const query = `SELECT ` + signalColumns + ` FROM signal_records WHERE posted_at < $1 ORDER BY seq ASC`
	return s.querySignals(ctx, query, before)
}

// DeleteBefore removes records posted before the cutoff and reports how
// many were deleted. Nonces are stored separately and are untouched.
func (s *SignalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM signal_records WHERE posted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete signals before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (s *SignalStore) querySignals(ctx context.Context, query string, args ...any) ([]domain.SignalRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query signals: %w", err)
	}
	defer rows.Close()

	var recs []domain.SignalRecord
	for rows.Next() {
		rec, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: signals rows: %w", err)
	}
	return recs, nil
}

func scanSignal(row pgx.Row) (domain.SignalRecord, error) {
	var rec domain.SignalRecord
	var id, base, quote, nonce, signer, poster, priceRef string
	var side int16
	var sizeBps, confidenceBps int32
	var strategyVersion, deadline, seq int64
	err := row.Scan(&id, &base, &quote, &side, &sizeBps, &priceRef, &confidenceBps,
		&strategyVersion, &deadline, &nonce, &rec.Signal.PayloadURI,
		&rec.Attestation, &signer, &poster, &seq, &rec.PostedAt)
	if err != nil {
		return rec, err
	}

	price, ok := new(big.Int).SetString(priceRef, 10)
	if !ok {
		return rec, fmt.Errorf("bad price_ref %q", priceRef)
	}
	rec.ID = common.HexToHash(id)
	rec.Signal.Base = common.HexToAddress(base)
	rec.Signal.Quote = common.HexToAddress(quote)
	rec.Signal.Side = domain.Side(side)
	rec.Signal.SizeBps = uint32(sizeBps)
	rec.Signal.PriceRef = price
	rec.Signal.ConfidenceBps = uint32(confidenceBps)
	rec.Signal.StrategyVersion = uint64(strategyVersion)
	rec.Signal.Deadline = uint64(deadline)
	rec.Signal.Nonce = common.HexToHash(nonce)
	rec.Signer = common.HexToAddress(signer)
	rec.Poster = common.HexToAddress(poster)
	rec.Seq = uint64(seq)
	return rec, nil
}

// NonceStore implements domain.NonceStore using PostgreSQL. Rows are
// append-only; nothing ever deletes from used_nonces.
type NonceStore struct {
	pool *pgxpool.Pool
}

func NewNonceStore(pool *pgxpool.Pool) *NonceStore {
	return &NonceStore{pool: pool}
}

// Add marks the nonce as used. Inserting an already-used nonce returns
// domain.ErrNonceUsed.
func (s *NonceStore) Add(ctx context.Context, nonce common.Hash) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO used_nonces (nonce) VALUES ($1) ON CONFLICT (nonce) DO NOTHING`,
		nonce.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: add nonce %s: %w", nonce.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: nonce %s: %w", nonce.Hex(), domain.ErrNonceUsed)
	}
	return nil
}

// LoadAll returns every used nonce.
func (s *NonceStore) LoadAll(ctx context.Context) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx, `SELECT nonce FROM used_nonces`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load nonces: %w", err)
	}
	defer rows.Close()

	var nonces []common.Hash
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("postgres: scan nonce: %w", err)
		}
		nonces = append(nonces, common.HexToHash(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: nonces rows: %w", err)
	}
	return nonces, nil
}
