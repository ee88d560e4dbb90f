package venue

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

var cpmmSwapBaseInputDiscriminator = [8]byte{143, 190, 90, 218, 196, 30, 51, 222}

type cpmmSwapArgs struct {
	Discriminator    [8]byte
	AmountIn         uint64
	MinimumAmountOut uint64
}

// Pooled trades against a constant-product pool, wrapping and unwrapping
// SOL around the swap.
type Pooled struct {
	program   solana.PublicKey
	authority solana.PublicKey
}

// NewPooled creates the pooled venue for the given pool program.
func NewPooled(program solana.PublicKey) (*Pooled, error) {
	auth, _, err := solana.FindProgramAddress([][]byte{[]byte("vault_and_lp_mint_auth_seed")}, program)
	if err != nil {
		return nil, fmt.Errorf("venue: pooled: derive authority: %w", err)
	}
	return &Pooled{program: program, authority: auth}, nil
}

func (v *Pooled) Kind() domain.VenueKind { return domain.VenuePooled }

// BuildBuy swaps the quote's input lamports for at least its minimum
// output.
func (v *Pooled) BuildBuy(q domain.Quote, acct Accounts) ([]solana.Instruction, error) {
	if q.Side != domain.SideBuy {
		return nil, fmt.Errorf("venue: pooled buy given %s quote", q.Side)
	}
	l, err := v.legs(acct)
	if err != nil {
		return nil, err
	}
	swap, err := v.swap(q, acct, l.wsolATA, l.tokenATA, true)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{
		createATAIdempotent(acct.Owner, l.wsolATA, acct.Owner, WrappedSOL, solana.TokenProgramID),
		transfer(acct.Owner, l.wsolATA, q.InputAmount),
		syncNative(l.wsolATA),
		createATAIdempotent(acct.Owner, l.tokenATA, acct.Owner, acct.Token.Mint, l.tokenProgram),
		swap,
		closeAccount(l.wsolATA, acct.Owner, acct.Owner),
	}, nil
}

// BuildSell swaps the quote's input tokens for at least its minimum
// output lamports.
func (v *Pooled) BuildSell(q domain.Quote, acct Accounts) ([]solana.Instruction, error) {
	if q.Side != domain.SideSell {
		return nil, fmt.Errorf("venue: pooled sell given %s quote", q.Side)
	}
	l, err := v.legs(acct)
	if err != nil {
		return nil, err
	}
	swap, err := v.swap(q, acct, l.tokenATA, l.wsolATA, false)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{
		createATAIdempotent(acct.Owner, l.wsolATA, acct.Owner, WrappedSOL, solana.TokenProgramID),
		swap,
		closeAccount(l.wsolATA, acct.Owner, acct.Owner),
	}, nil
}

type poolLegs struct {
	wsolATA      solana.PublicKey
	tokenATA     solana.PublicKey
	tokenProgram solana.PublicKey
}

func (v *Pooled) legs(acct Accounts) (poolLegs, error) {
	p := acct.Token.Pool
	tokenProgram := p.Token0Prog
	if p.SolIsToken0 {
		tokenProgram = p.Token1Prog
	}
	if tokenProgram.IsZero() {
		tokenProgram = solana.TokenProgramID
	}
	wsolATA, err := AssociatedTokenAddress(acct.Owner, WrappedSOL, solana.TokenProgramID)
	if err != nil {
		return poolLegs{}, fmt.Errorf("venue: pooled: derive wsol ata: %w", err)
	}
	tokenATA, err := AssociatedTokenAddress(acct.Owner, acct.Token.Mint, tokenProgram)
	if err != nil {
		return poolLegs{}, fmt.Errorf("venue: pooled: derive token ata: %w", err)
	}
	return poolLegs{wsolATA: wsolATA, tokenATA: tokenATA, tokenProgram: tokenProgram}, nil
}

func (v *Pooled) swap(q domain.Quote, acct Accounts, inATA, outATA solana.PublicKey, solIn bool) (solana.Instruction, error) {
	p := acct.Token.Pool
	data, err := bin.MarshalBorsh(&cpmmSwapArgs{
		Discriminator:    cpmmSwapBaseInputDiscriminator,
		AmountIn:         q.InputAmount,
		MinimumAmountOut: q.MinimumOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("venue: pooled: encode swap: %w", err)
	}

	// Input side follows the trade direction, not the pool's token order.
	inVault, outVault := p.TokenVault(), p.SolVault()
	inMint, outMint := acct.Token.Mint, WrappedSOL
	inProg, outProg := p.Token0Prog, p.Token1Prog
	if p.SolIsToken0 {
		inProg, outProg = p.Token1Prog, p.Token0Prog
	}
	if solIn {
		inVault, outVault = outVault, inVault
		inMint, outMint = outMint, inMint
		inProg, outProg = outProg, inProg
	}

	return solana.NewInstruction(v.program, solana.AccountMetaSlice{
		solana.Meta(acct.Owner).SIGNER(),
		solana.Meta(v.authority),
		solana.Meta(p.AmmConfig),
		solana.Meta(p.Pool).WRITE(),
		solana.Meta(inATA).WRITE(),
		solana.Meta(outATA).WRITE(),
		solana.Meta(inVault).WRITE(),
		solana.Meta(outVault).WRITE(),
		solana.Meta(orTokenProgram(inProg)),
		solana.Meta(orTokenProgram(outProg)),
		solana.Meta(inMint),
		solana.Meta(outMint),
		solana.Meta(p.Observation).WRITE(),
	}, data), nil
}

func orTokenProgram(pk solana.PublicKey) solana.PublicKey {
	if pk.IsZero() {
		return solana.TokenProgramID
	}
	return pk
}
