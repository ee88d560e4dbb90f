package domain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Upsert writes the full current state.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetActive(ctx context.Context) ([]Position, error)
	GetActiveByMint(ctx context.Context, mint solana.PublicKey) (Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// AttemptStore persists submission attempts.
type AttemptStore interface {
	Insert(ctx context.Context, a SubmissionAttempt) error
	Resolve(ctx context.Context, a SubmissionAttempt) error
	ListByPosition(ctx context.Context, positionID string) ([]SubmissionAttempt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
