package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
)

type fakeSender struct {
	delay time.Duration
	err   error
	block bool
	calls atomic.Int32
	sent  atomic.Pointer[solana.Transaction]
}

func (f *fakeSender) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.calls.Add(1)
	f.sent.Store(tx)
	if f.block {
		<-ctx.Done()
		return solana.Signature{}, ctx.Err()
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return solana.Signature{}, ctx.Err()
	}
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	return tx.Signatures[0], nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// swap signs a one-transfer transaction plus whatever the router appends.
type swap struct {
	key solana.PrivateKey
	to  solana.PublicKey
}

func newSwap(t *testing.T) *swap {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	to, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &swap{key: key, to: to.PublicKey()}
}

func (s *swap) payer() solana.PublicKey { return s.key.PublicKey() }

func (s *swap) build(extra ...solana.Instruction) (*solana.Transaction, error) {
	ixs := append([]solana.Instruction{system.NewTransferInstruction(1, s.payer(), s.to).Build()}, extra...)
	tx, err := solana.NewTransaction(ixs, solana.Hash{1, 2, 3}, solana.TransactionPayer(s.payer()))
	if err != nil {
		return nil, err
	}
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(s.payer()) {
			return &s.key
		}
		return nil
	})
	return tx, err
}

func submit(t *testing.T, rt *Router) (Result, error) {
	t.Helper()
	sw := newSwap(t)
	return rt.Submit(context.Background(), sw.payer(), sw.build)
}

func paysTo(tx *solana.Transaction, acct solana.PublicKey) bool {
	for _, k := range tx.Message.AccountKeys {
		if k.Equals(acct) {
			return true
		}
	}
	return false
}

func relay(name string, s Sender) Relay {
	return Relay{Path: domain.RelayPath{Name: name, Enabled: true}, Sender: s}
}

func TestSubmitEarliestAcceptanceWins(t *testing.T) {
	r1 := &fakeSender{err: errors.New("bundle rejected")}
	r2 := &fakeSender{delay: 10 * time.Millisecond}
	def := &fakeSender{delay: 80 * time.Millisecond}
	rt := New(def, []Relay{relay("relay1", r1), relay("relay2", r2)}, time.Second, testLogger())

	res, err := submit(t, rt)
	require.NoError(t, err)

	assert.Equal(t, "relay2", res.Path)
	assert.Equal(t, res.Signatures["relay2"], res.Signature)
	assert.Equal(t, r2.sent.Load().Signatures[0], res.Signature)
	assert.ElementsMatch(t, []string{"relay1", "relay2", domain.DefaultPath}, res.Tried)
	assert.Len(t, res.Signatures, 3)

	// The slower default path still receives the transaction.
	assert.Eventually(t, func() bool { return def.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), r1.calls.Load())
}

func TestSubmitReturnsBeforeSlowPaths(t *testing.T) {
	fast := &fakeSender{delay: time.Millisecond}
	slow := &fakeSender{delay: 500 * time.Millisecond}
	rt := New(slow, []Relay{relay("fast", fast)}, time.Second, testLogger())

	start := time.Now()
	res, err := submit(t, rt)
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Path)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestSubmitAllPathsFail(t *testing.T) {
	rt := New(
		&fakeSender{err: errors.New("node unhealthy")},
		[]Relay{relay("relay1", &fakeSender{err: errors.New("rejected")})},
		time.Second, testLogger(),
	)
	res, err := submit(t, rt)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmissionExhausted)
	assert.Contains(t, err.Error(), "relay1")
	assert.Len(t, res.Tried, 2)
}

func TestSubmitTimedOutPathIsNonAccepting(t *testing.T) {
	stuck := &fakeSender{block: true}
	def := &fakeSender{delay: 5 * time.Millisecond}
	rt := New(def, []Relay{{
		Path:   domain.RelayPath{Name: "stuck", Enabled: true, Timeout: 20 * time.Millisecond},
		Sender: stuck,
	}}, time.Second, testLogger())

	res, err := submit(t, rt)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPath, res.Path)

	allStuck := New(&fakeSender{block: true}, []Relay{{
		Path:   domain.RelayPath{Name: "stuck", Enabled: true},
		Sender: &fakeSender{block: true},
	}}, 20*time.Millisecond, testLogger())
	_, err = submit(t, allStuck)
	assert.ErrorIs(t, err, domain.ErrSubmissionExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisabledRelayIsSkipped(t *testing.T) {
	off := &fakeSender{}
	rt := New(&fakeSender{}, []Relay{{Path: domain.RelayPath{Name: "off"}, Sender: off}}, time.Second, testLogger())

	res, err := submit(t, rt)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.DefaultPath}, res.Tried)
	assert.Equal(t, []string{domain.DefaultPath}, rt.Paths())
	assert.Zero(t, off.calls.Load())
}

func TestSubmitRequiresSignedTransaction(t *testing.T) {
	def := &fakeSender{}
	rt := New(def, nil, time.Second, testLogger())
	unsigned := func(...solana.Instruction) (*solana.Transaction, error) { return &solana.Transaction{}, nil }
	_, err := rt.Submit(context.Background(), solana.PublicKey{}, unsigned)
	assert.Error(t, err)

	failing := func(...solana.Instruction) (*solana.Transaction, error) { return nil, errors.New("signer locked") }
	_, err = rt.Submit(context.Background(), solana.PublicKey{}, failing)
	assert.ErrorContains(t, err, "signer locked")
	assert.Zero(t, def.calls.Load(), "nothing is sent when a variant cannot be built")
}

func TestVariantTipsRoundRobin(t *testing.T) {
	a, _ := solana.NewRandomPrivateKey()
	b, _ := solana.NewRandomPrivateKey()
	tips := []solana.PublicKey{a.PublicKey(), b.PublicKey()}

	rt := New(&fakeSender{}, []Relay{{
		Path: domain.RelayPath{
			Name: "jito", Enabled: true, TipLamports: 10_000,
			TipAccounts: tips, Selector: domain.TipRoundRobin,
		},
		Sender: &fakeSender{},
	}, {
		Path:   domain.RelayPath{Name: "no-tip", Enabled: true, TipLamports: 5_000},
		Sender: &fakeSender{},
	}}, time.Second, testLogger())
	assert.Equal(t, uint64(10_000), rt.MaxTip())

	sw := newSwap(t)
	var got []solana.PublicKey
	for range 4 {
		vs, err := rt.variants(sw.payer(), sw.build)
		require.NoError(t, err)
		require.Len(t, vs, 3)

		jito, noTip, def := vs[0], vs[1], vs[2]
		require.Equal(t, "jito", jito.path.name)
		require.Len(t, jito.tx.Message.Instructions, 2)
		assert.Equal(t, uint64(10_000), jito.tip)
		assert.Len(t, noTip.tx.Message.Instructions, 1)
		assert.Zero(t, noTip.tip)
		assert.Equal(t, domain.DefaultPath, def.path.name)
		assert.Len(t, def.tx.Message.Instructions, 1)

		switch {
		case paysTo(jito.tx, tips[0]):
			got = append(got, tips[0])
		case paysTo(jito.tx, tips[1]):
			got = append(got, tips[1])
		}
	}
	assert.Equal(t, []solana.PublicKey{tips[0], tips[1], tips[0], tips[1]}, got)
}

func TestDefaultPathCarriesNoTip(t *testing.T) {
	tipAcct := solana.NewWallet().PublicKey()
	relayPath := domain.RelayPath{
		Name: "jito", Enabled: true, TipLamports: 10_000,
		TipAccounts: []solana.PublicKey{tipAcct},
	}

	blocked := &fakeSender{block: true}
	def := &fakeSender{delay: time.Millisecond}
	rt := New(def, []Relay{{Path: relayPath, Sender: blocked}}, 50*time.Millisecond, testLogger())

	res, err := submit(t, rt)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPath, res.Path)
	assert.Zero(t, res.Tip)
	assert.False(t, paysTo(def.sent.Load(), tipAcct), "default path pays no relay tip")
	assert.Eventually(t, func() bool { return blocked.sent.Load() != nil }, time.Second, time.Millisecond)
	assert.True(t, paysTo(blocked.sent.Load(), tipAcct))
	assert.NotEqual(t, res.Signatures["jito"], res.Signatures[domain.DefaultPath])

	fast := &fakeSender{}
	slow := &fakeSender{delay: 200 * time.Millisecond}
	rt = New(slow, []Relay{{Path: relayPath, Sender: fast}}, time.Second, testLogger())
	res, err = submit(t, rt)
	require.NoError(t, err)
	assert.Equal(t, "jito", res.Path)
	assert.Equal(t, uint64(10_000), res.Tip)
}

type denyLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (d *denyLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	return false, nil
}

func TestLimiterSkipsRelay(t *testing.T) {
	limited := &fakeSender{}
	tipAcct := solana.NewWallet().PublicKey()
	def := &fakeSender{delay: 5 * time.Millisecond}
	rt := New(def, []Relay{{
		Path: domain.RelayPath{
			Name: "jito", Enabled: true, TipLamports: 10_000,
			TipAccounts: []solana.PublicKey{tipAcct},
		},
		Sender:        limited,
		RatePerSecond: 1,
	}}, time.Second, testLogger())
	lim := &denyLimiter{}
	rt.SetLimiter(lim)

	res, err := submit(t, rt)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPath, res.Path)
	assert.Zero(t, limited.calls.Load())
	assert.False(t, paysTo(def.sent.Load(), tipAcct), "a skipped relay's tip is never paid")
	lim.mu.Lock()
	assert.Equal(t, []string{"relay:jito"}, lim.keys)
	lim.mu.Unlock()
}
