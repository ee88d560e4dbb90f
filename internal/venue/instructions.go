package venue

import (
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// WrappedSOL is the native mint.
var WrappedSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

const ataIxCreateIdem = 1

// ComputeBudget is prepended to every swap transaction. Zero fields are
// omitted.
type ComputeBudget struct {
	UnitLimit          uint32
	UnitPriceMicroLams uint64
}

// Instructions returns the compute budget instructions.
func (c ComputeBudget) Instructions() []solana.Instruction {
	var out []solana.Instruction
	if c.UnitLimit > 0 {
		out = append(out, computebudget.NewSetComputeUnitLimitInstruction(c.UnitLimit).Build())
	}
	if c.UnitPriceMicroLams > 0 {
		out = append(out, computebudget.NewSetComputeUnitPriceInstruction(c.UnitPriceMicroLams).Build())
	}
	return out
}

// AssociatedTokenAddress derives owner's associated token account for mint
// under the given token program.
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	return addr, err
}

// createATAIdempotent succeeds whether or not the account already exists.
func createATAIdempotent(payer, ata, owner, mint, tokenProgram solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(tokenProgram),
		},
		[]byte{ataIxCreateIdem},
	)
}

func syncNative(account solana.PublicKey) solana.Instruction {
	return token.NewSyncNativeInstruction(account).Build()
}

// closeAccount returns the account's lamports to destination.
func closeAccount(account, destination, owner solana.PublicKey) solana.Instruction {
	return token.NewCloseAccountInstruction(account, destination, owner, nil).Build()
}

func transfer(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}
