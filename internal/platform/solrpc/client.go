// Package solrpc wraps the Solana JSON-RPC and PubSub endpoints with the
// narrow surface the engine needs.
package solrpc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// defaultCallTimeout bounds every RPC call that arrives without a deadline.
const defaultCallTimeout = 10 * time.Second

// Account is raw on-chain account state.
type Account struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it can land.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// SignatureStatus is the cluster's view of one transaction signature.
type SignatureStatus struct {
	Found      bool
	Slot       uint64
	Commitment string
	Err        string
}

// Client is a Solana JSON-RPC client bound to one commitment level.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// New creates a Client for endpoint. commitment is one of processed,
// confirmed or finalized.
func New(endpoint, commitment string) *Client {
	return &Client{rpc: rpc.New(endpoint), commitment: rpc.CommitmentType(commitment)}
}

func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultCallTimeout)
}

// Health returns nil when the node reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	status, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("solrpc: health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("solrpc: health: node reports %q", status)
	}
	return nil
}

// Accounts fetches keys in one call. Missing accounts are nil entries. The
// returned slot is the context slot all accounts were read at.
func (c *Client) Accounts(ctx context.Context, keys ...solana.PublicKey) ([]*Account, uint64, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	res, err := c.rpc.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("solrpc: get accounts: %w", err)
	}
	out := make([]*Account, len(keys))
	for i, v := range res.Value {
		if i >= len(out) || v == nil {
			continue
		}
		acct := &Account{Owner: v.Owner, Lamports: v.Lamports}
		if v.Data != nil {
			acct.Data = v.Data.GetBinary()
		}
		out[i] = acct
	}
	return out, res.Context.Slot, nil
}

// LatestBlockhash returns a fresh blockhash and its validity window.
func (c *Client) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Blockhash{}, fmt.Errorf("solrpc: latest blockhash: %w", err)
	}
	return Blockhash{Hash: res.Value.Blockhash, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

// BlockHeight returns the current block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	h, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("solrpc: block height: %w", err)
	}
	return h, nil
}

// SignatureStatus looks up sig, searching history.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return SignatureStatus{}, fmt.Errorf("solrpc: signature status: %w", err)
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return SignatureStatus{}, nil
	}
	v := res.Value[0]
	st := SignatureStatus{Found: true, Slot: v.Slot, Commitment: string(v.ConfirmationStatus)}
	if v.Err != nil {
		st.Err = fmt.Sprint(v.Err)
	}
	return st, nil
}

// Fill reads what a finalized transaction moved for owner in mint. The fee
// payer is always account index zero.
func (c *Client) Fill(ctx context.Context, sig solana.Signature, owner, mint solana.PublicKey) (domain.Fill, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("solrpc: get transaction %s: %w", sig, err)
	}
	if res == nil || res.Meta == nil {
		return domain.Fill{}, fmt.Errorf("solrpc: get transaction %s: %w", sig, domain.ErrNotFound)
	}
	meta := res.Meta
	fill := domain.Fill{Signature: sig.String(), Slot: res.Slot, Fee: meta.Fee}
	if len(meta.PreBalances) > 0 && len(meta.PostBalances) > 0 {
		fill.SolDelta = int64(meta.PostBalances[0]) - int64(meta.PreBalances[0])
	}
	pre := tokenTotal(meta.PreTokenBalances, owner, mint)
	post := tokenTotal(meta.PostTokenBalances, owner, mint)
	fill.TokenDelta = int64(post) - int64(pre)
	return fill, nil
}

func tokenTotal(balances []rpc.TokenBalance, owner, mint solana.PublicKey) uint64 {
	var total uint64
	for _, b := range balances {
		if !b.Mint.Equals(mint) || b.Owner == nil || !b.Owner.Equals(owner) || b.UiTokenAmount == nil {
			continue
		}
		n, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// Send broadcasts tx without preflight and without node-side retries.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return send(ctx, c.rpc, tx)
}

func send(ctx context.Context, cl *rpc.Client, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	retries := uint(0)
	sig, err := cl.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
		MaxRetries:    &retries,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("solrpc: send transaction: %w", err)
	}
	return sig, nil
}

// Relay submits transactions to a block engine or other relay that speaks
// the sendTransaction JSON-RPC method.
type Relay struct {
	rpc *rpc.Client
}

// NewRelay creates a Relay for endpoint.
func NewRelay(endpoint string) *Relay {
	return &Relay{rpc: rpc.New(endpoint)}
}

// Send submits tx to the relay.
func (r *Relay) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return send(ctx, r.rpc, tx)
}
