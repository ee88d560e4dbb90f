package feed

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
	"github.com/alanyoungcy/solbot/internal/venue"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

func createEventLog(t *testing.T, mint, curve, user solana.PublicKey) string {
	t.Helper()
	data, err := bin.MarshalBorsh(&venue.CreateEvent{
		Discriminator: [8]byte{27, 114, 169, 77, 222, 235, 99, 118},
		Name:          "Cat",
		Symbol:        "CAT",
		URI:           "https://example.invalid/cat.json",
		Mint:          mint,
		BondingCurve:  curve,
		User:          user,
	})
	require.NoError(t, err)
	return programDataPrefix + base64.StdEncoding.EncodeToString(data)
}

func logsResultJSON(t *testing.T, sig string, slot uint64, failed bool, logs ...string) json.RawMessage {
	t.Helper()
	var errField any
	if failed {
		errField = map[string]any{"InstructionError": []any{0, "Custom"}}
	}
	raw, err := json.Marshal(map[string]any{
		"context": map[string]any{"slot": slot},
		"value":   map[string]any{"signature": sig, "err": errField, "logs": logs},
	})
	require.NoError(t, err)
	return raw
}

func accountResultJSON(t *testing.T, slot uint64, data []byte) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"context": map[string]any{"slot": slot},
		"value": map[string]any{
			"data":     []string{base64.StdEncoding.EncodeToString(data), "base64"},
			"lamports": 2039280,
		},
	})
	require.NoError(t, err)
	return raw
}

func tokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, 165)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

type balance struct {
	mint, owner solana.PublicKey
	amount      uint64
}

func transactionResultJSON(t *testing.T, sig string, slot uint64, failed bool, pre, post []balance) json.RawMessage {
	t.Helper()
	conv := func(bs []balance) []map[string]any {
		out := make([]map[string]any, 0, len(bs))
		for i, b := range bs {
			out = append(out, map[string]any{
				"accountIndex": i + 1,
				"mint":         b.mint.String(),
				"owner":        b.owner.String(),
				"uiTokenAmount": map[string]any{
					"amount":   fmt.Sprint(b.amount),
					"decimals": 6,
				},
			})
		}
		return out
	}
	var errField any
	if failed {
		errField = map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 6001}}}
	}
	raw, err := json.Marshal(map[string]any{
		"signature": sig,
		"slot":      slot,
		"transaction": map[string]any{
			"transaction": []string{"AQ==", "base64"},
			"meta": map[string]any{
				"err":               errField,
				"preTokenBalances":  conv(pre),
				"postTokenBalances": conv(post),
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestDecodeLogsNewPool(t *testing.T) {
	program, mint, curve, user := newKey(t), newKey(t), newKey(t), newKey(t)
	d := NewDecoder(newKey(t))

	events, err := d.Decode(solrpc.Notification{
		Sub: solrpc.Subscription{Kind: solrpc.SubLogs, Target: program},
		Result: logsResultJSON(t, "5sig", 321, false,
			"Program log: Instruction: Create",
			"Program data: bm90IGFuIGV2ZW50",
			createEventLog(t, mint, curve, user),
		),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev, ok := events[0].(domain.NewPool)
	require.True(t, ok)
	assert.Equal(t, mint, ev.Mint)
	assert.Equal(t, curve, ev.Curve)
	assert.Equal(t, user, ev.Creator)
	assert.Equal(t, "CAT", ev.Symbol)
	assert.Equal(t, domain.DedupKey{Signature: "5sig", Slot: 321}, ev.DedupKey())
}

func TestDecodeLogsSkipsFailedTransactions(t *testing.T) {
	d := NewDecoder(newKey(t))
	events, err := d.Decode(solrpc.Notification{
		Sub:    solrpc.Subscription{Kind: solrpc.SubLogs, Target: newKey(t)},
		Result: logsResultJSON(t, "5sig", 1, true, createEventLog(t, newKey(t), newKey(t), newKey(t))),
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodeCurvePriceUpdate(t *testing.T) {
	mint, curveAcct := newKey(t), newKey(t)
	d := NewDecoder(newKey(t))
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	tok := domain.Token{
		Mint:     mint,
		Decimals: 6,
		Venue:    domain.VenueLaunchCurve,
		Curve:    domain.CurveAccounts{Curve: curveAcct},
	}
	d.Track(tok, 100)

	curve := domain.CurveSnapshot{
		VirtualTokenReserves: 1_000_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    800_000_000_000_000,
		RealSolReserves:      1_000_000_000,
	}
	data, err := venue.EncodeBondingCurve(curve, 1_000_000_000_000_000)
	require.NoError(t, err)

	events, err := d.Decode(solrpc.Notification{
		Sub:    solrpc.Subscription{Kind: solrpc.SubAccount, Target: curveAcct},
		Result: accountResultJSON(t, 900, data),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0].(domain.PriceUpdate)
	assert.Equal(t, mint, ev.Mint)
	assert.Equal(t, uint64(900), ev.Slot)
	assert.Equal(t, curve, ev.Snapshot.Curve)
	assert.Equal(t, uint64(100), ev.Snapshot.FeeBps)
	assert.Equal(t, now, ev.Snapshot.ObservedAt)
	assert.Equal(t, domain.DedupKey{Signature: curveAcct.String(), Slot: 900}, ev.DedupKey())

	d.Untrack(tok)
	events, err = d.Decode(solrpc.Notification{
		Sub:    solrpc.Subscription{Kind: solrpc.SubAccount, Target: curveAcct},
		Result: accountResultJSON(t, 901, data),
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecodePoolNeedsBothVaults(t *testing.T) {
	mint := newKey(t)
	pool := domain.PoolAccounts{
		Pool:        newKey(t),
		Token0Vault: newKey(t),
		Token1Vault: newKey(t),
		Token0Mint:  venue.WrappedSOL,
		Token1Mint:  mint,
		SolIsToken0: true,
	}
	tok := domain.Token{Mint: mint, Decimals: 6, Venue: domain.VenuePooled, Pool: pool}
	d := NewDecoder(newKey(t))
	d.Track(tok, 25)

	events, err := d.Decode(solrpc.Notification{
		Sub:    solrpc.Subscription{Kind: solrpc.SubAccount, Target: pool.Token0Vault},
		Result: accountResultJSON(t, 10, tokenAccountData(venue.WrappedSOL, pool.Pool, 50_000_000_000)),
	})
	require.NoError(t, err)
	assert.Empty(t, events, "one side alone is not a price")

	events, err = d.Decode(solrpc.Notification{
		Sub:    solrpc.Subscription{Kind: solrpc.SubAccount, Target: pool.Token1Vault},
		Result: accountResultJSON(t, 11, tokenAccountData(mint, pool.Pool, 7_000_000_000_000)),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0].(domain.PriceUpdate)
	assert.Equal(t, domain.VenuePooled, ev.Snapshot.Venue)
	assert.Equal(t, domain.PoolSnapshot{SolReserve: 50_000_000_000, TokenReserve: 7_000_000_000_000}, ev.Snapshot.Pool)
	assert.Equal(t, uint64(25), ev.Snapshot.FeeBps)
}

func TestDecodeWatchedTransferFiltersByOwner(t *testing.T) {
	watched, other, mintA, mintB := newKey(t), newKey(t), newKey(t), newKey(t)
	d := NewDecoder(watched)

	events, err := d.Decode(solrpc.Notification{
		Sub: solrpc.Subscription{Kind: solrpc.SubTransaction, Target: watched},
		Result: transactionResultJSON(t, "3tx", 55, false,
			[]balance{{mintA, watched, 0}, {mintA, other, 9_000}, {mintB, watched, 500}},
			[]balance{{mintA, watched, 1_250_000}, {mintA, other, 0}, {mintB, watched, 500}},
		),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0].(domain.WatchedTransfer)
	assert.Equal(t, "3tx", ev.Signature)
	assert.False(t, ev.Failed)
	require.Len(t, ev.Changes, 1, "unchanged balances and foreign owners are ignored")
	assert.Equal(t, mintA, ev.Changes[0].Mint)
	assert.True(t, ev.Changes[0].Increased())
	assert.Equal(t, uint64(1_250_000), ev.Changes[0].Magnitude())
}

func TestDecodeWatchedTransferMarksFailure(t *testing.T) {
	watched, mint := newKey(t), newKey(t)
	d := NewDecoder(watched)

	events, err := d.Decode(solrpc.Notification{
		Sub: solrpc.Subscription{Kind: solrpc.SubTransaction, Target: watched},
		Result: transactionResultJSON(t, "3tx", 55, true,
			[]balance{{mint, watched, 10}},
			[]balance{{mint, watched, 20}},
		),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].(domain.WatchedTransfer).Failed)
}

func TestDecodeErrors(t *testing.T) {
	d := NewDecoder(newKey(t))
	target := newKey(t)

	cases := []solrpc.Notification{
		{Sub: solrpc.Subscription{Kind: solrpc.SubLogs, Target: target}, Result: json.RawMessage(`[`)},
		{Sub: solrpc.Subscription{Kind: solrpc.SubAccount, Target: target}, Result: json.RawMessage(`{"context":{"slot":1},"value":null}`)},
		{Sub: solrpc.Subscription{Kind: solrpc.SubTransaction, Target: target}, Result: json.RawMessage(`{"slot":1}`)},
		{Sub: solrpc.Subscription{Kind: "slot", Target: target}, Result: json.RawMessage(`{}`)},
	}
	for _, n := range cases {
		_, err := d.Decode(n)
		assert.ErrorIs(t, err, domain.ErrDecode, "kind %s", n.Sub.Kind)
	}
}
