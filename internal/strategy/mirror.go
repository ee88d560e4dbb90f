package strategy

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// MirrorName identifies the mirror policy.
const MirrorName = "mirror"

// PositionReader exposes the engine's current position in a token.
type PositionReader interface {
	Get(mint solana.PublicKey) (domain.Position, bool)
}

// Mirror copies the watched account: when its balance of a token grows it
// buys that token with a fixed SOL amount. With BuysOnly unset it also exits
// when the watched account sells a token we hold.
type Mirror struct {
	cfg       Config
	positions PositionReader
	logger    *slog.Logger
	now       func() time.Time
}

// NewMirror creates a Mirror policy. positions may be nil when BuysOnly is
// set.
func NewMirror(cfg Config, positions PositionReader, logger *slog.Logger) *Mirror {
	return &Mirror{
		cfg:       cfg,
		positions: positions,
		logger:    logger.With(slog.String("strategy", cmp.Or(cfg.Name, MirrorName))),
		now:       time.Now,
	}
}

// Name is MirrorName unless the config names a variant.
func (m *Mirror) Name() string {
	if m.cfg.Name != "" {
		return m.cfg.Name
	}
	return MirrorName
}

func (m *Mirror) Init(_ context.Context) error { return nil }

func (m *Mirror) Close() error { return nil }

// OnNewPool ignores launches; the mirror only follows the watched account.
func (m *Mirror) OnNewPool(_ context.Context, _ domain.NewPool) ([]domain.TradeIntent, error) {
	return nil, nil
}

// OnTransfer emits a buy for the token whose balance grew the most, and
// sells for tokens the watched account reduced while we hold them.
func (m *Mirror) OnTransfer(_ context.Context, ev domain.WatchedTransfer) ([]domain.TradeIntent, error) {
	if ev.Failed {
		return nil, nil
	}

	var (
		best    domain.BalanceChange
		found   bool
		intents []domain.TradeIntent
	)
	for _, c := range ev.Changes {
		if c.Mint.Equals(solana.WrappedSol) || c.Magnitude() < m.minDelta() {
			continue
		}
		if c.Increased() {
			if !found || c.Magnitude() > best.Magnitude() {
				best, found = c, true
			}
			continue
		}
		if sell, ok := m.exit(c.Mint, ev.Signature); ok {
			intents = append(intents, sell)
		}
	}

	if found && m.cfg.BuyLamports > 0 {
		m.logger.Info("mirroring buy",
			slog.String("mint", best.Mint.String()),
			slog.String("signature", ev.Signature),
			slog.Uint64("delta", best.Magnitude()),
		)
		intents = append([]domain.TradeIntent{m.intent(best.Mint, domain.SideBuy, m.cfg.BuyLamports)}, intents...)
	}
	return intents, nil
}

func (m *Mirror) exit(mint solana.PublicKey, sig string) (domain.TradeIntent, bool) {
	if m.cfg.BuysOnly || m.positions == nil {
		return domain.TradeIntent{}, false
	}
	pos, ok := m.positions.Get(mint)
	if !ok || pos.Status != domain.PositionOpen || pos.Quantity == 0 {
		return domain.TradeIntent{}, false
	}
	m.logger.Info("mirroring sell",
		slog.String("mint", mint.String()),
		slog.String("signature", sig),
	)
	return m.intent(mint, domain.SideSell, pos.Quantity), true
}

func (m *Mirror) intent(mint solana.PublicKey, side domain.Side, amount uint64) domain.TradeIntent {
	return domain.TradeIntent{
		ID:        uuid.NewString(),
		Mint:      mint,
		Side:      side,
		Amount:    amount,
		Reason:    domain.ReasonSignal,
		Source:    MirrorName,
		CreatedAt: m.now(),
	}
}

func (m *Mirror) minDelta() uint64 {
	if m.cfg.MinDelta == 0 {
		return 1
	}
	return m.cfg.MinDelta
}
