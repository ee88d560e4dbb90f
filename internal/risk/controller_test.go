package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/notify"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newMint(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

type memPositions struct {
	mu   sync.Mutex
	rows map[string]domain.Position
}

func newMemPositions() *memPositions { return &memPositions{rows: make(map[string]domain.Position)} }

func (m *memPositions) Upsert(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = p
	return nil
}

func (m *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) GetActive(context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.rows {
		if p.Status.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositions) GetActiveByMint(_ context.Context, mint solana.PublicKey) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.Mint == mint && p.Status.Active() {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (m *memPositions) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memAlerts struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (m *memAlerts) Notify(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memAlerts) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.msgs))
	for i, msg := range m.msgs {
		out[i] = msg.Event
	}
	return out
}

type memArchive struct {
	archived []domain.Position
}

func (m *memArchive) ArchivePosition(_ context.Context, p domain.Position, _ []domain.SubmissionAttempt) error {
	m.archived = append(m.archived, p)
	return nil
}

func buyIntent(mint solana.PublicKey, lamports uint64) domain.TradeIntent {
	return domain.TradeIntent{ID: "intent", Mint: mint, Side: domain.SideBuy, Amount: lamports, Reason: domain.ReasonSignal}
}

func newController(maxPositions int) *Controller {
	return NewController(Config{
		MaxPositions: maxPositions,
		StopLoss:     decimal.RequireFromString("0.2"),
		TakeProfit:   decimal.RequireFromString("0.5"),
	}, testLogger())
}

// openAt opens a position whose entry price is price SOL per whole token
// (6 decimals, 1_000 tokens).
func openAt(t *testing.T, c *Controller, mint solana.PublicKey, price string) domain.Position {
	t.Helper()
	cost := domain.Lamports(decimal.RequireFromString(price).Mul(decimal.NewFromInt(1_000)))
	_, err := c.Open(context.Background(), buyIntent(mint, cost), domain.VenuePooled, 6)
	require.NoError(t, err)
	pos, err := c.ConfirmBuy(context.Background(), mint, domain.Fill{
		Signature:  "buy",
		TokenDelta: 1_000_000_000,
		SolDelta:   -int64(cost),
		Fee:        5_000,
	})
	require.NoError(t, err)
	return pos
}

// priceTick builds a pool snapshot whose spot price is price SOL per token.
func priceTick(mint solana.PublicKey, price string, feeBps uint64) domain.PriceUpdate {
	tokens := uint64(1_000_000_000_000) // 1e6 whole tokens at 6 decimals
	sol := domain.Lamports(decimal.RequireFromString(price).Mul(decimal.NewFromInt(1_000_000)))
	return domain.PriceUpdate{
		Mint: mint,
		Snapshot: domain.VenueSnapshot{
			Venue:    domain.VenuePooled,
			Pool:     domain.PoolSnapshot{SolReserve: sol, TokenReserve: tokens},
			FeeBps:   feeBps,
			Decimals: 6,
		},
	}
}

func TestStopLossLevelTriggered(t *testing.T) {
	c := newController(5)
	mint := newMint(t)
	pos := openAt(t, c, mint, "1.0")
	require.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(1)))

	assert.Empty(t, c.OnPrice(priceTick(mint, "0.81", 0)))

	intents := c.OnPrice(priceTick(mint, "0.79", 0))
	require.Len(t, intents, 1)
	assert.Equal(t, domain.SideSell, intents[0].Side)
	assert.Equal(t, domain.ReasonStopLoss, intents[0].Reason)
	assert.Equal(t, pos.Quantity, intents[0].Amount)

	// Still below on the next tick: fires again.
	assert.Len(t, c.OnPrice(priceTick(mint, "0.75", 0)), 1)
}

func TestTakeProfit(t *testing.T) {
	c := newController(5)
	mint := newMint(t)
	openAt(t, c, mint, "1.0")

	assert.Empty(t, c.OnPrice(priceTick(mint, "1.49", 0)))
	intents := c.OnPrice(priceTick(mint, "1.5", 0))
	require.Len(t, intents, 1)
	assert.Equal(t, domain.ReasonTakeProfit, intents[0].Reason)
}

// Thresholds compare the mark net of the venue sell fee, not the raw spot.
func TestThresholdsAreFeeInclusive(t *testing.T) {
	c := newController(5)
	mint := newMint(t)
	openAt(t, c, mint, "1.0")

	// Spot 0.81 is above the 0.8 stop, but 0.81 * (1 - 3%) = 0.7857 is not.
	intents := c.OnPrice(priceTick(mint, "0.81", 300))
	require.Len(t, intents, 1)
	assert.Equal(t, domain.ReasonStopLoss, intents[0].Reason)

	mark, ok := c.Mark(mint)
	require.True(t, ok)
	assert.True(t, mark.Equal(decimal.RequireFromString("0.7857")), mark.String())
}

func TestOnPriceIgnoresNonOpenPositions(t *testing.T) {
	c := newController(5)
	mint := newMint(t)
	_, err := c.Open(context.Background(), buyIntent(mint, 1_000_000), domain.VenuePooled, 6)
	require.NoError(t, err)

	assert.Empty(t, c.OnPrice(priceTick(mint, "0.0001", 0)), "opening positions have no entry yet")
	assert.Empty(t, c.OnPrice(priceTick(newMint(t), "0.0001", 0)), "unknown token")
}

func TestCapacityExceededCreatesNoRecord(t *testing.T) {
	store := newMemPositions()
	alerts := &memAlerts{}
	c := newController(5).WithStores(store, nil, nil).WithAlerter(alerts)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Open(ctx, buyIntent(newMint(t), 10_000_000), domain.VenueLaunchCurve, 6)
		require.NoError(t, err)
	}

	_, err := c.Open(ctx, buyIntent(newMint(t), 10_000_000), domain.VenueLaunchCurve, 6)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Len(t, store.rows, 5)
	assert.Len(t, c.Active(), 5)
	assert.Equal(t, []string{notify.EventCapacityExceeded}, alerts.events())
}

func TestOnePositionPerToken(t *testing.T) {
	c := newController(5)
	mint := newMint(t)
	_, err := c.Open(context.Background(), buyIntent(mint, 1), domain.VenuePooled, 6)
	require.NoError(t, err)

	_, err = c.Open(context.Background(), buyIntent(mint, 1), domain.VenuePooled, 6)
	assert.ErrorIs(t, err, domain.ErrPositionActive)
}

func TestConcurrentOpensRespectInvariants(t *testing.T) {
	const limit = 3
	c := newController(limit)
	mints := []solana.PublicKey{newMint(t), newMint(t), newMint(t), newMint(t), newMint(t)}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Open(context.Background(), buyIntent(mints[i%len(mints)], 1), domain.VenuePooled, 6); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	active := c.Active()
	assert.Equal(t, int32(limit), ok.Load())
	assert.Len(t, active, limit)
	seen := make(map[solana.PublicKey]bool)
	for _, p := range active {
		assert.False(t, seen[p.Mint], "two active positions for %s", p.Mint)
		seen[p.Mint] = true
	}
}

func TestRoundTripPnLIsFeeInclusive(t *testing.T) {
	store := newMemPositions()
	audit := &memAudit{}
	alerts := &memAlerts{}
	archive := &memArchive{}
	c := newController(1).WithStores(store, nil, audit).WithAlerter(alerts).WithArchiver(archive)
	ctx := context.Background()
	mint := newMint(t)

	_, err := c.Open(ctx, buyIntent(mint, 10_000_000), domain.VenueLaunchCurve, 6)
	require.NoError(t, err)
	pos, err := c.ConfirmBuy(ctx, mint, domain.Fill{TokenDelta: 2_000_000, SolDelta: -10_105_000, Fee: 5_000})
	require.NoError(t, err)
	assert.True(t, pos.CostBasis.Equal(decimal.RequireFromString("0.010105")))
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("0.0050525")))

	_, err = c.BeginClose(ctx, mint, domain.ReasonManualClose)
	require.NoError(t, err)
	pos, err = c.ConfirmSell(ctx, mint, domain.Fill{TokenDelta: -2_000_000, SolDelta: 12_000_000, Fee: 5_000})
	require.NoError(t, err)

	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.True(t, pos.RealizedPnL.Equal(decimal.RequireFromString("0.001895")), pos.RealizedPnL.String())
	assert.True(t, pos.FeesPaid.Equal(decimal.RequireFromString("0.00001")))
	require.NotNil(t, pos.ClosedAt)

	assert.Empty(t, c.Active())
	assert.Equal(t, domain.PositionClosed, store.rows[pos.ID].Status)
	assert.Equal(t, []string{"position_opening", "position_open", "position_closing", "position_closed"}, audit.events)
	assert.Equal(t, []string{notify.EventTradeOpened, notify.EventTradeClosed}, alerts.events())
	require.Len(t, archive.archived, 1)

	// The slot is free again.
	_, err = c.Open(ctx, buyIntent(newMint(t), 1), domain.VenuePooled, 6)
	assert.NoError(t, err)
}

func TestFailSellFlagsStuckPosition(t *testing.T) {
	alerts := &memAlerts{}
	c := newController(1).WithAlerter(alerts)
	ctx := context.Background()
	mint := newMint(t)
	openAt(t, c, mint, "1.0")

	_, err := c.BeginClose(ctx, mint, domain.ReasonStopLoss)
	require.NoError(t, err)
	pos, err := c.FailSell(ctx, mint, domain.ErrSubmissionExhausted)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionFailed, pos.Status)
	assert.True(t, pos.Stuck)
	assert.Contains(t, pos.LastError, domain.ErrStuckPosition.Error())
	assert.Contains(t, alerts.events(), notify.EventStuckPosition)
}

func TestFailBuyReleasesSlot(t *testing.T) {
	c := newController(1)
	ctx := context.Background()
	mint := newMint(t)
	_, err := c.Open(ctx, buyIntent(mint, 1), domain.VenuePooled, 6)
	require.NoError(t, err)

	pos, err := c.FailBuy(ctx, mint, errors.New("expired three times"))
	require.NoError(t, err)
	assert.Equal(t, domain.PositionFailed, pos.Status)
	assert.False(t, pos.Stuck)

	_, err = c.Open(ctx, buyIntent(mint, 1), domain.VenuePooled, 6)
	assert.NoError(t, err)
}

func TestInvalidTransitions(t *testing.T) {
	c := newController(2)
	ctx := context.Background()
	mint := newMint(t)

	_, err := c.BeginClose(ctx, mint, domain.ReasonManualClose)
	assert.ErrorIs(t, err, domain.ErrNoPosition)

	_, err = c.Open(ctx, buyIntent(mint, 1), domain.VenuePooled, 6)
	require.NoError(t, err)
	_, err = c.BeginClose(ctx, mint, domain.ReasonManualClose)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = c.ConfirmSell(ctx, mint, domain.Fill{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = c.Open(ctx, domain.TradeIntent{Mint: newMint(t), Side: domain.SideSell}, domain.VenuePooled, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRestore(t *testing.T) {
	store := newMemPositions()
	now := time.Now()
	open := domain.Position{ID: "a", Mint: newMint(t), Status: domain.PositionOpen, Quantity: 1_000_000, Decimals: 6,
		EntryPrice: decimal.NewFromInt(1), OpenedAt: now}
	closing := domain.Position{ID: "b", Mint: newMint(t), Status: domain.PositionClosing, OpenedAt: now.Add(time.Second)}
	done := domain.Position{ID: "c", Mint: newMint(t), Status: domain.PositionClosed}
	for _, p := range []domain.Position{open, closing, done} {
		require.NoError(t, store.Upsert(context.Background(), p))
	}

	c := newController(2).WithStores(store, nil, nil)
	review, err := c.Restore(context.Background())
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "b", review[0].ID)
	assert.Len(t, c.Active(), 2)

	// Both restored positions hold a slot.
	_, err = c.Open(context.Background(), buyIntent(newMint(t), 1), domain.VenuePooled, 6)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// Restored Open positions resume monitoring.
	assert.Len(t, c.OnPrice(priceTick(open.Mint, "0.5", 0)), 1)
}
