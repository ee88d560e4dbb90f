package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/retention"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, mint, venue, status, requested, quantity, decimals,
	entry_price::text, cost_basis::text, exit_value::text, realized_pnl::text, fees_paid::text,
	close_reason, stuck, last_error, opened_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                            domain.Position
		mint, venue, status, reason  string
		requested, quantity          int64
		decimals                     int16
		entry, cost, exit, pnl, fees string
	)
	err := row.Scan(
		&p.ID, &mint, &venue, &status, &requested, &quantity, &decimals,
		&entry, &cost, &exit, &pnl, &fees,
		&reason, &p.Stuck, &p.LastError, &p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if p.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
		return domain.Position{}, fmt.Errorf("position %s mint: %w", p.ID, err)
	}
	p.Venue = domain.VenueKind(venue)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.Reason(reason)
	p.Requested = uint64(requested)
	p.Quantity = uint64(quantity)
	p.Decimals = uint8(decimals)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.EntryPrice, entry}, {&p.CostBasis, cost}, {&p.ExitValue, exit},
		{&p.RealizedPnL, pnl}, {&p.FeesPaid, fees},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return domain.Position{}, fmt.Errorf("position %s amount: %w", p.ID, err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert writes the full current state of a position.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, mint, venue, status, requested, quantity, decimals,
			entry_price, cost_basis, exit_value, realized_pnl, fees_paid,
			close_reason, stuck, last_error, opened_at, updated_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			quantity     = EXCLUDED.quantity,
			entry_price  = EXCLUDED.entry_price,
			cost_basis   = EXCLUDED.cost_basis,
			exit_value   = EXCLUDED.exit_value,
			realized_pnl = EXCLUDED.realized_pnl,
			fees_paid    = EXCLUDED.fees_paid,
			close_reason = EXCLUDED.close_reason,
			stuck        = EXCLUDED.stuck,
			last_error   = EXCLUDED.last_error,
			updated_at   = EXCLUDED.updated_at,
			closed_at    = EXCLUDED.closed_at`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Mint.String(), string(p.Venue), string(p.Status),
		int64(p.Requested), int64(p.Quantity), int16(p.Decimals),
		p.EntryPrice.String(), p.CostBasis.String(), p.ExitValue.String(),
		p.RealizedPnL.String(), p.FeesPaid.String(),
		string(p.CloseReason), p.Stuck, p.LastError,
		p.OpenedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetActive returns every position in Opening, Open or Closing.
func (s *PositionStore) GetActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('opening', 'open', 'closing')
		 ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// GetActiveByMint returns the active position for mint.
func (s *PositionStore) GetActiveByMint(ctx context.Context, mint solana.PublicKey) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE mint = $1 AND status IN ('opening', 'open', 'closing')`, mint.String())

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get active position %s: %w", mint, err)
	}
	return p, nil
}

// ListHistory returns positions with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listQuery(`SELECT `+positionSelectCols+` FROM positions WHERE TRUE`, nil, "opened_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// PruneTerminal deletes closed and failed positions, and their submission
// attempts, whose closed_at is before the cutoff. It returns the number of
// positions removed.
func (s *PositionStore) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune positions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const terminal = `status IN ('closed', 'failed') AND closed_at IS NOT NULL AND closed_at < $1`
	if _, err := tx.Exec(ctx, `DELETE FROM submission_attempts WHERE position_id IN (SELECT id FROM positions WHERE `+terminal+`)`, before); err != nil {
		return 0, fmt.Errorf("postgres: prune attempts: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM positions WHERE `+terminal, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune positions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: prune positions: commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ retention.Store      = (*PositionStore)(nil)
)
