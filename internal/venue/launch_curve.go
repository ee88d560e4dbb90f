package venue

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

var (
	pumpBuyDiscriminator  = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
	pumpSellDiscriminator = [8]byte{51, 230, 133, 164, 1, 127, 131, 173}
)

// LaunchCurveConfig holds the bonding curve program's fixed accounts.
type LaunchCurveConfig struct {
	Program        solana.PublicKey
	Global         solana.PublicKey
	FeeRecipient   solana.PublicKey
	EventAuthority solana.PublicKey
	FeeBps         uint64
}

// LaunchCurve trades tokens still on their bonding curve.
type LaunchCurve struct {
	cfg LaunchCurveConfig
}

// NewLaunchCurve creates the launch-curve venue.
func NewLaunchCurve(cfg LaunchCurveConfig) *LaunchCurve {
	return &LaunchCurve{cfg: cfg}
}

func (v *LaunchCurve) Kind() domain.VenueKind { return domain.VenueLaunchCurve }

// FeeBps is the curve's trading fee.
func (v *LaunchCurve) FeeBps() uint64 { return v.cfg.FeeBps }

type pumpBuyArgs struct {
	Discriminator [8]byte
	Amount        uint64
	MaxSolCost    uint64
}

type pumpSellArgs struct {
	Discriminator [8]byte
	Amount        uint64
	MinSolOutput  uint64
}

// BuildBuy buys exactly the quote's minimum output, spending at most its
// input.
func (v *LaunchCurve) BuildBuy(q domain.Quote, acct Accounts) ([]solana.Instruction, error) {
	if q.Side != domain.SideBuy {
		return nil, fmt.Errorf("venue: launch curve buy given %s quote", q.Side)
	}
	mint := acct.Token.Mint
	userATA, err := AssociatedTokenAddress(acct.Owner, mint, solana.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("venue: launch curve: derive ata: %w", err)
	}
	data, err := bin.MarshalBorsh(&pumpBuyArgs{
		Discriminator: pumpBuyDiscriminator,
		Amount:        q.MinimumOutput,
		MaxSolCost:    q.InputAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("venue: launch curve: encode buy: %w", err)
	}

	swap := solana.NewInstruction(v.cfg.Program, solana.AccountMetaSlice{
		solana.Meta(v.cfg.Global),
		solana.Meta(v.cfg.FeeRecipient).WRITE(),
		solana.Meta(mint),
		solana.Meta(acct.Token.Curve.Curve).WRITE(),
		solana.Meta(acct.Token.Curve.CurveVault).WRITE(),
		solana.Meta(userATA).WRITE(),
		solana.Meta(acct.Owner).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SysVarRentPubkey),
		solana.Meta(v.cfg.EventAuthority),
		solana.Meta(v.cfg.Program),
	}, data)

	return []solana.Instruction{
		createATAIdempotent(acct.Owner, userATA, acct.Owner, mint, solana.TokenProgramID),
		swap,
	}, nil
}

// BuildSell sells the quote's input for at least its minimum output.
func (v *LaunchCurve) BuildSell(q domain.Quote, acct Accounts) ([]solana.Instruction, error) {
	if q.Side != domain.SideSell {
		return nil, fmt.Errorf("venue: launch curve sell given %s quote", q.Side)
	}
	mint := acct.Token.Mint
	userATA, err := AssociatedTokenAddress(acct.Owner, mint, solana.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("venue: launch curve: derive ata: %w", err)
	}
	data, err := bin.MarshalBorsh(&pumpSellArgs{
		Discriminator: pumpSellDiscriminator,
		Amount:        q.InputAmount,
		MinSolOutput:  q.MinimumOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("venue: launch curve: encode sell: %w", err)
	}

	return []solana.Instruction{
		solana.NewInstruction(v.cfg.Program, solana.AccountMetaSlice{
			solana.Meta(v.cfg.Global),
			solana.Meta(v.cfg.FeeRecipient).WRITE(),
			solana.Meta(mint),
			solana.Meta(acct.Token.Curve.Curve).WRITE(),
			solana.Meta(acct.Token.Curve.CurveVault).WRITE(),
			solana.Meta(userATA).WRITE(),
			solana.Meta(acct.Owner).WRITE().SIGNER(),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(v.cfg.EventAuthority),
			solana.Meta(v.cfg.Program),
		}, data),
	}, nil
}

// CurveAddress derives the bonding curve account for mint.
func (v *LaunchCurve) CurveAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint[:]}, v.cfg.Program)
	return addr, err
}
