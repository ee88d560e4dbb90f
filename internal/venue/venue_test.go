package venue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
	"github.com/alanyoungcy/solbot/internal/quote"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testCurve(t *testing.T) *LaunchCurve {
	return NewLaunchCurve(LaunchCurveConfig{
		Program:        newKey(t),
		Global:         newKey(t),
		FeeRecipient:   newKey(t),
		EventAuthority: newKey(t),
		FeeBps:         100,
	})
}

func curveToken(t *testing.T) domain.Token {
	return domain.Token{
		Mint:     newKey(t),
		Decimals: 6,
		Venue:    domain.VenueLaunchCurve,
		Curve:    domain.CurveAccounts{Curve: newKey(t), CurveVault: newKey(t)},
	}
}

func poolToken(t *testing.T, solIsToken0 bool) domain.Token {
	return domain.Token{
		Mint:     newKey(t),
		Decimals: 6,
		Venue:    domain.VenuePooled,
		Pool: domain.PoolAccounts{
			Pool:        newKey(t),
			AmmConfig:   newKey(t),
			Observation: newKey(t),
			Token0Vault: newKey(t),
			Token1Vault: newKey(t),
			SolIsToken0: solIsToken0,
		},
	}
}

func TestMinimumOutputRoundTrip(t *testing.T) {
	owner := newKey(t)
	pooled, err := NewPooled(newKey(t))
	require.NoError(t, err)
	set := NewSet(testCurve(t), pooled, ComputeBudget{UnitLimit: 120_000, UnitPriceMicroLams: 50_000})

	now := time.Now()
	cases := []struct {
		name string
		tok  domain.Token
		snap domain.VenueSnapshot
	}{
		{
			name: "launch curve",
			tok:  curveToken(t),
			snap: domain.VenueSnapshot{
				Venue: domain.VenueLaunchCurve,
				Curve: domain.CurveSnapshot{
					VirtualTokenReserves: 1_073_000_000_000_000,
					VirtualSolReserves:   30_000_000_000,
					RealTokenReserves:    793_100_000_000_000,
					RealSolReserves:      2_000_000_000,
				},
				FeeBps: 100, Decimals: 6, ObservedAt: now,
			},
		},
		{
			name: "pooled",
			tok:  poolToken(t, true),
			snap: domain.VenueSnapshot{
				Venue:  domain.VenuePooled,
				Pool:   domain.PoolSnapshot{SolReserve: 100 * domain.LamportsPerSOL, TokenReserve: 10_000_000_000},
				FeeBps: 25, Decimals: 6, ObservedAt: now,
			},
		},
	}

	for _, tc := range cases {
		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			t.Run(tc.name+"/"+string(side), func(t *testing.T) {
				amount := uint64(10_000_000)
				q, err := quote.Compute(tc.snap, quote.Request{Side: side, Amount: amount, SlippageBps: 500}, quote.Params{}, now)
				require.NoError(t, err)

				ixs, err := set.Build(q, Accounts{Owner: owner, Token: tc.tok})
				require.NoError(t, err)

				limits, err := EncodedLimits(ixs)
				require.NoError(t, err)
				assert.Equal(t, q.MinimumOutput, limits.MinimumOutput)
				assert.Equal(t, q.InputAmount, limits.Input)
			})
		}
	}
}

func TestSetRejectsMismatchedVenue(t *testing.T) {
	pooled, err := NewPooled(newKey(t))
	require.NoError(t, err)
	set := NewSet(testCurve(t), pooled, ComputeBudget{})

	q := domain.Quote{Venue: domain.VenuePooled, Side: domain.SideBuy, InputAmount: 1, MinimumOutput: 1}
	_, err = set.Build(q, Accounts{Owner: newKey(t), Token: curveToken(t)})
	assert.Error(t, err)

	_, err = set.For("orderbook")
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}

func TestLaunchCurveBuyLayout(t *testing.T) {
	curve := testCurve(t)
	owner := newKey(t)
	tok := curveToken(t)

	ixs, err := curve.BuildBuy(domain.Quote{Venue: domain.VenueLaunchCurve, Side: domain.SideBuy, InputAmount: 5, MinimumOutput: 7},
		Accounts{Owner: owner, Token: tok})
	require.NoError(t, err)
	require.Len(t, ixs, 2)

	// Associated token account creation is the idempotent variant.
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[0].ProgramID())
	data, err := ixs[0].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)

	swap := ixs[1]
	assert.Equal(t, curve.cfg.Program, swap.ProgramID())
	accts := swap.Accounts()
	require.Len(t, accts, 12)
	assert.Equal(t, tok.Curve.Curve, accts[3].PublicKey)
	assert.True(t, accts[3].IsWritable)
	assert.Equal(t, owner, accts[6].PublicKey)
	assert.True(t, accts[6].IsSigner)

	_, err = curve.BuildBuy(domain.Quote{Side: domain.SideSell}, Accounts{Owner: owner, Token: tok})
	assert.Error(t, err)
}

func TestPooledBuyWrapsAndUnwrapsSOL(t *testing.T) {
	pooled, err := NewPooled(newKey(t))
	require.NoError(t, err)
	owner := newKey(t)
	tok := poolToken(t, false)

	ixs, err := pooled.BuildBuy(domain.Quote{Venue: domain.VenuePooled, Side: domain.SideBuy, InputAmount: 1_000, MinimumOutput: 9},
		Accounts{Owner: owner, Token: tok})
	require.NoError(t, err)
	require.Len(t, ixs, 6)

	assert.Equal(t, solana.SystemProgramID, ixs[1].ProgramID())
	sync, err := ixs[2].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{tokenIxSyncNative}, sync)
	closeData, err := ixs[5].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{tokenIxCloseAccount}, closeData)

	// SOL is token1 here, so the input vault is token1's.
	swapAccts := ixs[4].Accounts()
	assert.Equal(t, tok.Pool.Token1Vault, swapAccts[6].PublicKey)
	assert.Equal(t, tok.Pool.Token0Vault, swapAccts[7].PublicKey)
	assert.Equal(t, WrappedSOL, swapAccts[10].PublicKey)
	assert.Equal(t, tok.Mint, swapAccts[11].PublicKey)
}

func TestComputeBudgetInstructions(t *testing.T) {
	assert.Empty(t, ComputeBudget{}.Instructions())

	ixs := ComputeBudget{UnitLimit: 200_000, UnitPriceMicroLams: 1}.Instructions()
	require.Len(t, ixs, 2)
	limit, err := ixs[0].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0x40, 0x0d, 0x03, 0x00}, limit)
	price, err := ixs[1].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 1, 0, 0, 0, 0, 0, 0, 0}, price)
}

func TestWrappedSOLInstructions(t *testing.T) {
	acct, owner := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	syncIx := syncNative(acct)
	assert.Equal(t, solana.TokenProgramID, syncIx.ProgramID())
	data, err := syncIx.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{17}, data)

	closeIx := closeAccount(acct, owner, owner)
	data, err = closeIx.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, data)
	metas := closeIx.Accounts()
	require.Len(t, metas, 3)
	assert.True(t, metas[0].IsWritable)
	assert.True(t, metas[2].IsSigner)
}

type fakeReader struct {
	accounts map[solana.PublicKey]*solrpc.Account
	slot     uint64
	err      error
}

func (f *fakeReader) Accounts(_ context.Context, keys ...solana.PublicKey) ([]*solrpc.Account, uint64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	out := make([]*solrpc.Account, len(keys))
	for i, k := range keys {
		out[i] = f.accounts[k]
	}
	return out, f.slot, nil
}

func mintData(decimals uint8) []byte {
	data := make([]byte, 82)
	data[44] = decimals
	return data
}

func tokenAccountData(t *testing.T, mint solana.PublicKey, amount uint64) []byte {
	raw, err := bin.MarshalBorsh(&tokenAccountLayout{Mint: mint, Owner: solana.PublicKey{}, Amount: amount})
	require.NoError(t, err)
	return append(raw, make([]byte, 165-len(raw))...)
}

func TestCatalogDiscoverLaunchCurve(t *testing.T) {
	curve := testCurve(t)
	mint := newKey(t)
	curveAddr, err := curve.CurveAddress(mint)
	require.NoError(t, err)

	data, err := EncodeBondingCurve(domain.CurveSnapshot{VirtualTokenReserves: 10, VirtualSolReserves: 10, RealTokenReserves: 5}, 1_000)
	require.NoError(t, err)

	reader := &fakeReader{slot: 99, accounts: map[solana.PublicKey]*solrpc.Account{
		mint:      {Owner: solana.TokenProgramID, Data: mintData(6)},
		curveAddr: {Owner: curve.cfg.Program, Data: data},
	}}
	cat := NewCatalog(reader, curve, PoolSearch{Program: newKey(t)}, testLogger())

	tok, err := cat.Discover(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueLaunchCurve, tok.Venue)
	assert.Equal(t, uint8(6), tok.Decimals)
	assert.Equal(t, curveAddr, tok.Curve.Curve)

	snap, err := cat.Snapshot(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), snap.Slot)
	assert.Equal(t, uint64(100), snap.FeeBps)
	assert.Equal(t, uint64(10), snap.Curve.VirtualSolReserves)

	// Classification is sticky even if the chain changes afterwards.
	delete(reader.accounts, curveAddr)
	again, err := cat.Discover(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}

func TestCatalogDiscoverCompletedCurveFallsBackToPool(t *testing.T) {
	curve := testCurve(t)
	poolProgram := newKey(t)
	mint := newKey(t)
	pool := newKey(t)
	curveAddr, err := curve.CurveAddress(mint)
	require.NoError(t, err)

	curveData, err := EncodeBondingCurve(domain.CurveSnapshot{Complete: true}, 0)
	require.NoError(t, err)

	layout, accounts := pooledFixture(t, mint, pool, poolProgram)
	accounts[curveAddr] = &solrpc.Account{Owner: curve.cfg.Program, Data: curveData}
	reader := &fakeReader{slot: 7, accounts: accounts}
	cat := NewCatalog(reader, curve, PoolSearch{
		Program: poolProgram,
		Hints:   map[solana.PublicKey]solana.PublicKey{mint: pool},
	}, testLogger())

	tok, err := cat.Discover(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, domain.VenuePooled, tok.Venue)
	assert.True(t, tok.Pool.SolIsToken0)
	assert.Equal(t, layout.Token0Vault, tok.Pool.SolVault())

	snap, err := cat.Snapshot(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(49_000), snap.Pool.SolReserve)
	assert.Equal(t, uint64(8_500), snap.Pool.TokenReserve)
	assert.Equal(t, uint64(25), snap.FeeBps)
	assert.Equal(t, uint64(25), cat.FeeBps(tok))
}

// pooledFixture lays out a SOL/mint pool at pool with its config and
// vaults, plus the mint itself.
func pooledFixture(t *testing.T, mint, pool, poolProgram solana.PublicKey) (cpmmPoolLayout, map[solana.PublicKey]*solrpc.Account) {
	t.Helper()
	layout := cpmmPoolLayout{
		Discriminator:      cpmmPoolDiscriminator,
		AmmConfig:          newKey(t),
		Token0Vault:        newKey(t),
		Token1Vault:        newKey(t),
		Token0Mint:         WrappedSOL,
		Token1Mint:         mint,
		Token0Program:      solana.TokenProgramID,
		Token1Program:      solana.TokenProgramID,
		ObservationKey:     newKey(t),
		ProtocolFeesToken0: 1_000,
		FundFeesToken1:     500,
	}
	poolData, err := bin.MarshalBorsh(&layout)
	require.NoError(t, err)
	cfgData, err := bin.MarshalBorsh(&cpmmConfigLayout{Discriminator: cpmmConfigDiscriminator, TradeFeeRate: 2_500})
	require.NoError(t, err)

	return layout, map[solana.PublicKey]*solrpc.Account{
		mint:               {Owner: solana.TokenProgramID, Data: mintData(9)},
		pool:               {Owner: poolProgram, Data: poolData},
		layout.AmmConfig:   {Owner: poolProgram, Data: cfgData},
		layout.Token0Vault: {Owner: solana.TokenProgramID, Data: tokenAccountData(t, WrappedSOL, 50_000)},
		layout.Token1Vault: {Owner: solana.TokenProgramID, Data: tokenAccountData(t, mint, 9_000)},
	}
}

func TestPoolAddressOrdersMints(t *testing.T) {
	program, cfg, mint := newKey(t), newKey(t), newKey(t)
	ab, err := PoolAddress(program, cfg, mint, WrappedSOL)
	require.NoError(t, err)
	ba, err := PoolAddress(program, cfg, WrappedSOL, mint)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	other, err := PoolAddress(program, newKey(t), mint, WrappedSOL)
	require.NoError(t, err)
	assert.NotEqual(t, ab, other, "each fee tier has its own pool")
}

func TestCatalogDiscoverDerivesPoolWithoutHint(t *testing.T) {
	poolProgram := newKey(t)
	mint := newKey(t)
	emptyTier, liveTier := newKey(t), newKey(t)
	pool, err := PoolAddress(poolProgram, liveTier, mint, WrappedSOL)
	require.NoError(t, err)

	layout, accounts := pooledFixture(t, mint, pool, poolProgram)
	cat := NewCatalog(&fakeReader{accounts: accounts}, testCurve(t), PoolSearch{
		Program:    poolProgram,
		AmmConfigs: []solana.PublicKey{emptyTier, liveTier},
	}, testLogger())

	tok, err := cat.Discover(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, domain.VenuePooled, tok.Venue)
	assert.Equal(t, pool, tok.Pool.Pool)
	assert.Equal(t, layout.Token1Vault, tok.Pool.TokenVault())
	assert.Equal(t, uint8(9), tok.Decimals)
}

func TestCatalogDiscoverSkipsForeignPool(t *testing.T) {
	poolProgram := newKey(t)
	mint := newKey(t)
	tier := newKey(t)
	pool, err := PoolAddress(poolProgram, tier, mint, WrappedSOL)
	require.NoError(t, err)

	_, accounts := pooledFixture(t, mint, pool, poolProgram)
	accounts[pool].Owner = newKey(t)
	cat := NewCatalog(&fakeReader{accounts: accounts}, testCurve(t), PoolSearch{
		Program:    poolProgram,
		AmmConfigs: []solana.PublicKey{tier},
	}, testLogger())

	_, err = cat.Discover(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}

func TestCatalogDiscoverUnknown(t *testing.T) {
	mint := newKey(t)
	reader := &fakeReader{accounts: map[solana.PublicKey]*solrpc.Account{
		mint: {Owner: solana.TokenProgramID, Data: mintData(6)},
	}}
	cat := NewCatalog(reader, testCurve(t), PoolSearch{Program: newKey(t)}, testLogger())

	_, err := cat.Discover(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)

	reader.err = errors.New("rpc down")
	_, err = cat.Discover(context.Background(), newKey(t))
	assert.Error(t, err)
}

func TestDecodeRejectsWrongDiscriminator(t *testing.T) {
	_, err := DecodeBondingCurve(make([]byte, 64))
	assert.ErrorIs(t, err, domain.ErrDecode)
	_, _, err = DecodeTokenAccount(make([]byte, 10))
	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.False(t, IsCreateEvent([]byte{1, 2}))
}

func TestCatalogRegisterLaunch(t *testing.T) {
	curve := testCurve(t)
	mint := newKey(t)
	curveAddr, err := curve.CurveAddress(mint)
	require.NoError(t, err)
	cat := NewCatalog(&fakeReader{}, curve, PoolSearch{Program: newKey(t)}, testLogger())

	tok, err := cat.RegisterLaunch(mint, curveAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueLaunchCurve, tok.Venue)
	assert.Equal(t, uint8(LaunchDecimals), tok.Decimals)
	assert.False(t, tok.DiscoveredAt.IsZero())

	vault, err := AssociatedTokenAddress(curveAddr, mint, solana.TokenProgramID)
	require.NoError(t, err)
	assert.Equal(t, vault, tok.Curve.CurveVault)

	got, ok := cat.Lookup(mint)
	require.True(t, ok)
	assert.Equal(t, tok, got)
}
