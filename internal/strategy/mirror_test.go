package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newMint(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

type positionsMap map[solana.PublicKey]domain.Position

func (p positionsMap) Get(mint solana.PublicKey) (domain.Position, bool) {
	pos, ok := p[mint]
	return pos, ok
}

func TestMirrorBuysLargestIncrease(t *testing.T) {
	small, large := newMint(t), newMint(t)
	m := NewMirror(Config{BuyLamports: 10_000_000, MinDelta: 100, BuysOnly: true}, nil, testLogger())

	intents, err := m.OnTransfer(context.Background(), domain.WatchedTransfer{
		Signature: "sig",
		Changes: []domain.BalanceChange{
			{Mint: solana.WrappedSol, Pre: 0, Post: 5_000_000_000},
			{Mint: small, Pre: 0, Post: 500},
			{Mint: large, Pre: 1_000, Post: 90_000},
		},
	})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, large, intents[0].Mint)
	assert.Equal(t, domain.SideBuy, intents[0].Side)
	assert.Equal(t, uint64(10_000_000), intents[0].Amount)
	assert.Equal(t, domain.ReasonSignal, intents[0].Reason)
	assert.Equal(t, MirrorName, intents[0].Source)
	assert.NotEmpty(t, intents[0].ID)
}

func TestMirrorIgnoresDustAndFailedTransactions(t *testing.T) {
	mint := newMint(t)
	m := NewMirror(Config{BuyLamports: 1, MinDelta: 1_000, BuysOnly: true}, nil, testLogger())

	intents, err := m.OnTransfer(context.Background(), domain.WatchedTransfer{
		Changes: []domain.BalanceChange{{Mint: mint, Pre: 0, Post: 999}},
	})
	require.NoError(t, err)
	assert.Empty(t, intents)

	intents, err = m.OnTransfer(context.Background(), domain.WatchedTransfer{
		Failed:  true,
		Changes: []domain.BalanceChange{{Mint: mint, Pre: 0, Post: 1_000_000}},
	})
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMirrorSellsHeldTokenUnlessBuysOnly(t *testing.T) {
	held, other := newMint(t), newMint(t)
	positions := positionsMap{
		held:  {Mint: held, Status: domain.PositionOpen, Quantity: 42_000},
		other: {Mint: other, Status: domain.PositionOpening},
	}
	ev := domain.WatchedTransfer{Changes: []domain.BalanceChange{
		{Mint: held, Pre: 80_000, Post: 0},
		{Mint: other, Pre: 80_000, Post: 0},
	}}

	m := NewMirror(Config{BuyLamports: 1}, positions, testLogger())
	intents, err := m.OnTransfer(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, held, intents[0].Mint)
	assert.Equal(t, domain.SideSell, intents[0].Side)
	assert.Equal(t, uint64(42_000), intents[0].Amount)

	m = NewMirror(Config{BuyLamports: 1, BuysOnly: true}, positions, testLogger())
	intents, err = m.OnTransfer(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewMirror(Config{}, nil, testLogger())))
	require.NoError(t, r.Register(NewMirror(Config{Name: "mirror-fast"}, nil, testLogger())))
	assert.Equal(t, []string{MirrorName, "mirror-fast"}, r.List())

	err := r.Register(NewMirror(Config{Name: MirrorName}, nil, testLogger()))
	assert.ErrorContains(t, err, "already registered")

	_, err = r.Get("missing")
	assert.ErrorContains(t, err, "not registered")
	p, err := r.Get(MirrorName)
	require.NoError(t, err)
	assert.Equal(t, MirrorName, p.Name())
}
