// Package confirm follows submitted transactions to a terminal status and
// decides whether a transition may try again.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
)

// StatusReader is the chain view the tracker polls.
type StatusReader interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (solrpc.SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// Config tunes polling.
type Config struct {
	PollInterval time.Duration
	// Commitment is the level treated as confirmation: processed,
	// confirmed or finalized.
	Commitment string
}

// Outcome is the terminal status of one attempt.
type Outcome struct {
	Status domain.AttemptStatus
	Slot   uint64
	Err    string
}

// Tracker polls signature status until an attempt is Confirmed, Expired
// or Failed.
type Tracker struct {
	reader StatusReader
	cfg    Config
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(reader StatusReader, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 400 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "finalized"
	}
	return &Tracker{reader: reader, cfg: cfg, logger: logger.With(slog.String("component", "confirm_tracker"))}
}

// Track blocks until sig reaches a terminal status. A transaction that was
// never seen by the time the block height passes lastValidBlockHeight has
// expired. Polling errors are transient; only ctx ends tracking early.
func (t *Tracker) Track(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (Outcome, error) {
	log := t.logger.With(slog.String("signature", sig.String()))
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		out, done := t.poll(ctx, sig, lastValidBlockHeight, log)
		if done {
			log.Debug("attempt resolved", slog.String("status", string(out.Status)), slog.Uint64("slot", out.Slot))
			return out, nil
		}
		select {
		case <-ctx.Done():
			return Outcome{Status: domain.AttemptPending}, fmt.Errorf("confirm: track %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Tracker) poll(ctx context.Context, sig solana.Signature, lastValid uint64, log *slog.Logger) (Outcome, bool) {
	st, err := t.reader.SignatureStatus(ctx, sig)
	if err != nil {
		log.Debug("status poll failed", slog.String("error", err.Error()))
		return Outcome{}, false
	}
	if st.Found {
		if st.Err != "" {
			return Outcome{Status: domain.AttemptFailed, Slot: st.Slot, Err: st.Err}, true
		}
		if commitmentRank(st.Commitment) >= commitmentRank(t.cfg.Commitment) {
			return Outcome{Status: domain.AttemptConfirmed, Slot: st.Slot}, true
		}
		// Included but not yet at the target commitment; it can no longer expire.
		return Outcome{}, false
	}

	height, err := t.reader.BlockHeight(ctx)
	if err != nil {
		log.Debug("block height poll failed", slog.String("error", err.Error()))
		return Outcome{}, false
	}
	if height > lastValid {
		return Outcome{Status: domain.AttemptExpired, Err: fmt.Sprintf("block height %d past %d", height, lastValid)}, true
	}
	return Outcome{}, false
}

func commitmentRank(c string) int {
	switch c {
	case "processed":
		return 1
	case "confirmed":
		return 2
	case "finalized":
		return 3
	}
	return 0
}
