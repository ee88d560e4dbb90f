package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Insert records a freshly submitted attempt.
func (s *AttemptStore) Insert(ctx context.Context, a domain.SubmissionAttempt) error {
	quoteJSON, err := json.Marshal(a.Quote)
	if err != nil {
		return fmt.Errorf("postgres: marshal attempt quote: %w", err)
	}

	const query = `
		INSERT INTO submission_attempts (
			id, position_id, side, number, signature, paths_tried, winning_path,
			last_valid_block_height, quote, status, slot, error, submitted_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.PositionID, string(a.Side), a.Number, a.Signature, pathsOrEmpty(a.PathsTried), a.WinningPath,
		int64(a.LastValidBlockHeight), quoteJSON, string(a.Status), int64(a.Slot), a.Error,
		a.SubmittedAt, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt %s: %w", a.ID, err)
	}
	return nil
}

// Resolve stores the terminal confirmation state of an attempt.
func (s *AttemptStore) Resolve(ctx context.Context, a domain.SubmissionAttempt) error {
	const query = `
		UPDATE submission_attempts SET
			status      = $2,
			slot        = $3,
			error       = $4,
			resolved_at = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, a.ID, string(a.Status), int64(a.Slot), a.Error, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: resolve attempt %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByPosition returns a position's attempts in submission order.
func (s *AttemptStore) ListByPosition(ctx context.Context, positionID string) ([]domain.SubmissionAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, side, number, signature, paths_tried, winning_path,
			last_valid_block_height, quote, status, slot, error, submitted_at, resolved_at
		FROM submission_attempts
		WHERE position_id = $1
		ORDER BY submitted_at, number`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts %s: %w", positionID, err)
	}
	defer rows.Close()

	var attempts []domain.SubmissionAttempt
	for rows.Next() {
		var (
			a            domain.SubmissionAttempt
			side, status string
			lvbh, slot   int64
			quoteJSON    []byte
		)
		if err := rows.Scan(
			&a.ID, &a.PositionID, &side, &a.Number, &a.Signature, &a.PathsTried, &a.WinningPath,
			&lvbh, &quoteJSON, &status, &slot, &a.Error, &a.SubmittedAt, &a.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		if err := json.Unmarshal(quoteJSON, &a.Quote); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal attempt quote: %w", err)
		}
		a.Side = domain.Side(side)
		a.Status = domain.AttemptStatus(status)
		a.LastValidBlockHeight = uint64(lvbh)
		a.Slot = uint64(slot)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return attempts, nil
}

func pathsOrEmpty(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
