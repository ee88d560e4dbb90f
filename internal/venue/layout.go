package venue

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

var (
	bondingCurveDiscriminator = [8]byte{23, 183, 248, 55, 96, 216, 172, 96}
	cpmmPoolDiscriminator     = [8]byte{247, 237, 227, 245, 215, 195, 222, 70}
	cpmmConfigDiscriminator   = [8]byte{218, 244, 33, 104, 203, 203, 43, 111}
	createEventDiscriminator  = [8]byte{27, 114, 169, 77, 222, 235, 99, 118}
)

// cpmmFeeDenominator is the denominator of the pool program's fee rates.
const cpmmFeeDenominator = 1_000_000

type bondingCurveLayout struct {
	Discriminator        [8]byte
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

type cpmmPoolLayout struct {
	Discriminator      [8]byte
	AmmConfig          solana.PublicKey
	PoolCreator        solana.PublicKey
	Token0Vault        solana.PublicKey
	Token1Vault        solana.PublicKey
	LpMint             solana.PublicKey
	Token0Mint         solana.PublicKey
	Token1Mint         solana.PublicKey
	Token0Program      solana.PublicKey
	Token1Program      solana.PublicKey
	ObservationKey     solana.PublicKey
	AuthBump           uint8
	Status             uint8
	LpMintDecimals     uint8
	Mint0Decimals      uint8
	Mint1Decimals      uint8
	LpSupply           uint64
	ProtocolFeesToken0 uint64
	ProtocolFeesToken1 uint64
	FundFeesToken0     uint64
	FundFeesToken1     uint64
	OpenTime           uint64
	RecentEpoch        uint64
}

type cpmmConfigLayout struct {
	Discriminator     [8]byte
	Bump              uint8
	DisableCreatePool bool
	Index             uint16
	TradeFeeRate      uint64
	ProtocolFeeRate   uint64
	FundFeeRate       uint64
	CreatePoolFee     uint64
}

type tokenAccountLayout struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// CreateEvent is the launch program's token creation event.
type CreateEvent struct {
	Discriminator [8]byte
	Name          string
	Symbol        string
	URI           string
	Mint          solana.PublicKey
	BondingCurve  solana.PublicKey
	User          solana.PublicKey
}

func decodeWith(data []byte, disc [8]byte, v any, what string) error {
	if len(data) < 8 || !bytes.Equal(data[:8], disc[:]) {
		return fmt.Errorf("venue: %s: bad discriminator: %w", what, domain.ErrDecode)
	}
	if err := bin.UnmarshalBorsh(v, data); err != nil {
		return fmt.Errorf("venue: %s: %v: %w", what, err, domain.ErrDecode)
	}
	return nil
}

// DecodeBondingCurve decodes a bonding curve account.
func DecodeBondingCurve(data []byte) (domain.CurveSnapshot, error) {
	var l bondingCurveLayout
	if err := decodeWith(data, bondingCurveDiscriminator, &l, "bonding curve"); err != nil {
		return domain.CurveSnapshot{}, err
	}
	return domain.CurveSnapshot{
		VirtualTokenReserves: l.VirtualTokenReserves,
		VirtualSolReserves:   l.VirtualSolReserves,
		RealTokenReserves:    l.RealTokenReserves,
		RealSolReserves:      l.RealSolReserves,
		Complete:             l.Complete,
	}, nil
}

func decodePool(data []byte) (cpmmPoolLayout, error) {
	var l cpmmPoolLayout
	err := decodeWith(data, cpmmPoolDiscriminator, &l, "pool state")
	return l, err
}

func decodeConfig(data []byte) (cpmmConfigLayout, error) {
	var l cpmmConfigLayout
	err := decodeWith(data, cpmmConfigDiscriminator, &l, "amm config")
	return l, err
}

// DecodeTokenAccount returns the mint and amount of an SPL token account.
func DecodeTokenAccount(data []byte) (solana.PublicKey, uint64, error) {
	if len(data) < 72 {
		return solana.PublicKey{}, 0, fmt.Errorf("venue: token account: %d bytes: %w", len(data), domain.ErrDecode)
	}
	var l tokenAccountLayout
	if err := bin.UnmarshalBorsh(&l, data[:72]); err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("venue: token account: %v: %w", err, domain.ErrDecode)
	}
	return l.Mint, l.Amount, nil
}

// mintDecimals reads the decimals byte of an SPL mint account.
func mintDecimals(data []byte) (uint8, error) {
	const offset = 44
	if len(data) <= offset {
		return 0, fmt.Errorf("venue: mint account: %d bytes: %w", len(data), domain.ErrDecode)
	}
	return data[offset], nil
}

// DecodeCreateEvent decodes a launch program CreateEvent from its
// "Program data:" log payload.
func DecodeCreateEvent(data []byte) (CreateEvent, error) {
	var ev CreateEvent
	err := decodeWith(data, createEventDiscriminator, &ev, "create event")
	return ev, err
}

// IsCreateEvent reports whether data carries the CreateEvent discriminator.
func IsCreateEvent(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], createEventDiscriminator[:])
}

// EncodeBondingCurve is the inverse of DecodeBondingCurve.
func EncodeBondingCurve(c domain.CurveSnapshot, supply uint64) ([]byte, error) {
	return bin.MarshalBorsh(&bondingCurveLayout{
		Discriminator:        bondingCurveDiscriminator,
		VirtualTokenReserves: c.VirtualTokenReserves,
		VirtualSolReserves:   c.VirtualSolReserves,
		RealTokenReserves:    c.RealTokenReserves,
		RealSolReserves:      c.RealSolReserves,
		TokenTotalSupply:     supply,
		Complete:             c.Complete,
	})
}
