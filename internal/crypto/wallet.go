package crypto

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet signs transactions with the trading keypair.
type Wallet struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewWallet wraps key. Use LoadKey or ParsePrivateKey to obtain one.
func NewWallet(key solana.PrivateKey) (*Wallet, error) {
	if err := validate(key); err != nil {
		return nil, err
	}
	return &Wallet{key: key, pub: key.PublicKey()}, nil
}

// PublicKey returns the wallet address.
func (w *Wallet) PublicKey() solana.PublicKey { return w.pub }

// SignTransaction signs tx as fee payer. The wallet must be the only
// required signer.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(w.pub) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("crypto: sign transaction: %w", err)
	}
	return nil
}

// String never prints key material.
func (w *Wallet) String() string { return fmt.Sprintf("Wallet{%s}", w.pub) }
