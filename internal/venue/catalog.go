package venue

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
)

// AccountReader reads raw accounts at a single slot.
type AccountReader interface {
	Accounts(ctx context.Context, keys ...solana.PublicKey) ([]*solrpc.Account, uint64, error)
}

// PoolSearch tells the catalog where constant-product pools live.
// Candidate pools for a mint are derived from each fee-tier config; Hints
// name pools that derivation cannot find and are tried first.
type PoolSearch struct {
	Program    solana.PublicKey
	AmmConfigs []solana.PublicKey
	Hints      map[solana.PublicKey]solana.PublicKey
}

// Catalog classifies mints onto venues and loads the snapshots quotes are
// computed from. A token's venue is decided once, at discovery.
type Catalog struct {
	reader      AccountReader
	curve       *LaunchCurve
	poolProgram solana.PublicKey
	ammConfigs  []solana.PublicKey
	poolHints   map[solana.PublicKey]solana.PublicKey
	logger      *slog.Logger
	now         func() time.Time

	mu         sync.RWMutex
	tokens     map[solana.PublicKey]domain.Token
	poolFeeBps map[solana.PublicKey]uint64
}

// NewCatalog creates a Catalog.
func NewCatalog(reader AccountReader, curve *LaunchCurve, pools PoolSearch, logger *slog.Logger) *Catalog {
	hints := make(map[solana.PublicKey]solana.PublicKey, len(pools.Hints))
	for k, v := range pools.Hints {
		hints[k] = v
	}
	return &Catalog{
		reader:      reader,
		curve:       curve,
		poolProgram: pools.Program,
		ammConfigs:  append([]solana.PublicKey(nil), pools.AmmConfigs...),
		poolHints:   hints,
		logger:      logger.With(slog.String("component", "venue_catalog")),
		now:         time.Now,
		tokens:      make(map[solana.PublicKey]domain.Token),
		poolFeeBps:  make(map[solana.PublicKey]uint64),
	}
}

// PoolAddress derives the constant-product pool pairing two mints under
// one fee-tier config. The pair is ordered by key bytes.
func PoolAddress(program, ammConfig, mintA, mintB solana.PublicKey) (solana.PublicKey, error) {
	if bytes.Compare(mintA[:], mintB[:]) > 0 {
		mintA, mintB = mintB, mintA
	}
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool"), ammConfig[:], mintA[:], mintB[:]},
		program,
	)
	return addr, err
}

// poolCandidates lists the accounts that may hold mint's SOL pool, the
// configured hint first.
func (c *Catalog) poolCandidates(mint solana.PublicKey) ([]solana.PublicKey, error) {
	var out []solana.PublicKey
	if hint, ok := c.poolHints[mint]; ok {
		out = append(out, hint)
	}
	for _, cfg := range c.ammConfigs {
		addr, err := PoolAddress(c.poolProgram, cfg, mint, WrappedSOL)
		if err != nil {
			return nil, fmt.Errorf("venue: derive pool for %s: %w", mint, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Register records an already classified token.
func (c *Catalog) Register(tok domain.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[tok.Mint]; ok {
		return
	}
	if tok.DiscoveredAt.IsZero() {
		tok.DiscoveredAt = c.now()
	}
	c.tokens[tok.Mint] = tok
}

// LaunchDecimals is the fixed mint precision of launch-curve tokens.
const LaunchDecimals = 6

// RegisterLaunch records a token announced by the launch program's create
// event without reading chain state.
func (c *Catalog) RegisterLaunch(mint, curve solana.PublicKey) (domain.Token, error) {
	vault, err := AssociatedTokenAddress(curve, mint, solana.TokenProgramID)
	if err != nil {
		return domain.Token{}, fmt.Errorf("venue: derive curve vault: %w", err)
	}
	c.Register(domain.Token{
		Mint:     mint,
		Decimals: LaunchDecimals,
		Venue:    domain.VenueLaunchCurve,
		Curve:    domain.CurveAccounts{Curve: curve, CurveVault: vault},
	})
	tok, _ := c.Lookup(mint)
	return tok, nil
}

// Lookup returns a discovered token.
func (c *Catalog) Lookup(mint solana.PublicKey) (domain.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[mint]
	return tok, ok
}

// Discover returns the token for mint, classifying it on first use: a live
// bonding curve owned by the launch program means launch curve, otherwise
// the first candidate pool owned by the pool program that pairs the mint
// with SOL means pooled.
func (c *Catalog) Discover(ctx context.Context, mint solana.PublicKey) (domain.Token, error) {
	if tok, ok := c.Lookup(mint); ok {
		return tok, nil
	}

	curveAddr, err := c.curve.CurveAddress(mint)
	if err != nil {
		return domain.Token{}, fmt.Errorf("venue: derive curve for %s: %w", mint, err)
	}
	pools, err := c.poolCandidates(mint)
	if err != nil {
		return domain.Token{}, err
	}

	keys := append([]solana.PublicKey{mint, curveAddr}, pools...)
	accts, _, err := c.reader.Accounts(ctx, keys...)
	if err != nil {
		return domain.Token{}, fmt.Errorf("venue: discover %s: %w", mint, err)
	}
	if accts[0] == nil {
		return domain.Token{}, fmt.Errorf("venue: mint %s: %w", mint, domain.ErrNotFound)
	}
	decimals, err := mintDecimals(accts[0].Data)
	if err != nil {
		return domain.Token{}, err
	}

	tok := domain.Token{Mint: mint, Decimals: decimals, DiscoveredAt: c.now()}
	switch {
	case accts[1] != nil && accts[1].Owner.Equals(c.curve.cfg.Program) && curveLive(accts[1].Data):
		vault, err := AssociatedTokenAddress(curveAddr, mint, solana.TokenProgramID)
		if err != nil {
			return domain.Token{}, fmt.Errorf("venue: derive curve vault: %w", err)
		}
		tok.Venue = domain.VenueLaunchCurve
		tok.Curve = domain.CurveAccounts{Curve: curveAddr, CurveVault: vault}

	default:
		pa, ok := c.firstPool(mint, pools, accts[2:])
		if !ok {
			return domain.Token{}, fmt.Errorf("venue: classify %s: %w", mint, domain.ErrUnknownVenue)
		}
		tok.Venue = domain.VenuePooled
		tok.Pool = pa
	}

	c.Register(tok)
	c.logger.Info("token discovered",
		slog.String("mint", mint.String()),
		slog.String("venue", string(tok.Venue)),
		slog.Int("decimals", int(decimals)),
	)
	tok, _ = c.Lookup(mint)
	return tok, nil
}

func (c *Catalog) firstPool(mint solana.PublicKey, pools []solana.PublicKey, accts []*solrpc.Account) (domain.PoolAccounts, bool) {
	for i, a := range accts {
		if a == nil || !a.Owner.Equals(c.poolProgram) {
			continue
		}
		l, err := decodePool(a.Data)
		if err == nil {
			var pa domain.PoolAccounts
			if pa, err = poolAccounts(pools[i], mint, l); err == nil {
				return pa, true
			}
		}
		c.logger.Debug("pool candidate rejected",
			slog.String("mint", mint.String()),
			slog.String("pool", pools[i].String()),
			slog.String("error", err.Error()),
		)
	}
	return domain.PoolAccounts{}, false
}

func curveLive(data []byte) bool {
	c, err := DecodeBondingCurve(data)
	return err == nil && !c.Complete
}

func poolAccounts(pool, mint solana.PublicKey, l cpmmPoolLayout) (domain.PoolAccounts, error) {
	pa := domain.PoolAccounts{
		Pool:        pool,
		AmmConfig:   l.AmmConfig,
		Observation: l.ObservationKey,
		Token0Vault: l.Token0Vault,
		Token1Vault: l.Token1Vault,
		Token0Mint:  l.Token0Mint,
		Token1Mint:  l.Token1Mint,
		Token0Prog:  l.Token0Program,
		Token1Prog:  l.Token1Program,
	}
	switch {
	case l.Token0Mint.Equals(WrappedSOL) && l.Token1Mint.Equals(mint):
		pa.SolIsToken0 = true
	case l.Token1Mint.Equals(WrappedSOL) && l.Token0Mint.Equals(mint):
	default:
		return domain.PoolAccounts{}, fmt.Errorf("venue: pool %s does not pair %s with SOL: %w", pool, mint, domain.ErrUnknownVenue)
	}
	return pa, nil
}

// Snapshot reads the current venue state for tok. The result is a value;
// nothing about it is cached or shared.
func (c *Catalog) Snapshot(ctx context.Context, tok domain.Token) (domain.VenueSnapshot, error) {
	switch tok.Venue {
	case domain.VenueLaunchCurve:
		accts, slot, err := c.reader.Accounts(ctx, tok.Curve.Curve)
		if err != nil {
			return domain.VenueSnapshot{}, fmt.Errorf("venue: snapshot %s: %w", tok.Mint, err)
		}
		if accts[0] == nil {
			return domain.VenueSnapshot{}, fmt.Errorf("venue: curve %s: %w", tok.Curve.Curve, domain.ErrNotFound)
		}
		curve, err := DecodeBondingCurve(accts[0].Data)
		if err != nil {
			return domain.VenueSnapshot{}, err
		}
		return domain.VenueSnapshot{
			Venue:      domain.VenueLaunchCurve,
			Curve:      curve,
			FeeBps:     c.curve.FeeBps(),
			Decimals:   tok.Decimals,
			Slot:       slot,
			ObservedAt: c.now(),
		}, nil

	case domain.VenuePooled:
		p := tok.Pool
		accts, slot, err := c.reader.Accounts(ctx, p.Pool, p.AmmConfig, p.Token0Vault, p.Token1Vault)
		if err != nil {
			return domain.VenueSnapshot{}, fmt.Errorf("venue: snapshot %s: %w", tok.Mint, err)
		}
		for i, a := range accts {
			if a == nil {
				return domain.VenueSnapshot{}, fmt.Errorf("venue: pool account %d for %s: %w", i, tok.Mint, domain.ErrNotFound)
			}
		}
		pool, err := decodePool(accts[0].Data)
		if err != nil {
			return domain.VenueSnapshot{}, err
		}
		cfg, err := decodeConfig(accts[1].Data)
		if err != nil {
			return domain.VenueSnapshot{}, err
		}
		_, v0, err := DecodeTokenAccount(accts[2].Data)
		if err != nil {
			return domain.VenueSnapshot{}, err
		}
		_, v1, err := DecodeTokenAccount(accts[3].Data)
		if err != nil {
			return domain.VenueSnapshot{}, err
		}
		r0 := subFloor(v0, pool.ProtocolFeesToken0+pool.FundFeesToken0)
		r1 := subFloor(v1, pool.ProtocolFeesToken1+pool.FundFeesToken1)
		feeBps := cfg.TradeFeeRate * 10_000 / cpmmFeeDenominator

		c.mu.Lock()
		c.poolFeeBps[p.Pool] = feeBps
		c.mu.Unlock()

		snap := domain.VenueSnapshot{
			Venue:      domain.VenuePooled,
			FeeBps:     feeBps,
			Decimals:   tok.Decimals,
			Slot:       slot,
			ObservedAt: c.now(),
		}
		if p.SolIsToken0 {
			snap.Pool = domain.PoolSnapshot{SolReserve: r0, TokenReserve: r1}
		} else {
			snap.Pool = domain.PoolSnapshot{SolReserve: r1, TokenReserve: r0}
		}
		return snap, nil
	}
	return domain.VenueSnapshot{}, fmt.Errorf("venue: snapshot %q: %w", tok.Venue, domain.ErrUnknownVenue)
}

// FeeBps returns the trading fee for tok's venue as last observed.
func (c *Catalog) FeeBps(tok domain.Token) uint64 {
	if tok.Venue == domain.VenueLaunchCurve {
		return c.curve.FeeBps()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.poolFeeBps[tok.Pool.Pool]
}

func subFloor(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
