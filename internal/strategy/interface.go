package strategy

import (
	"context"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Policy turns decoded chain events into trade intents. Exits driven by
// stop-loss and take-profit come from the risk controller, not from here.
type Policy interface {
	Name() string
	Init(ctx context.Context) error
	OnNewPool(ctx context.Context, ev domain.NewPool) ([]domain.TradeIntent, error)
	OnTransfer(ctx context.Context, ev domain.WatchedTransfer) ([]domain.TradeIntent, error)
	Close() error
}

// Config holds policy configuration.
type Config struct {
	Name        string
	BuyLamports uint64
	// MinDelta is the smallest balance movement, in token base units, that
	// is treated as a trade rather than dust.
	MinDelta uint64
	BuysOnly bool
	Params   map[string]any
}
