package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
)

type fakeStream struct {
	mu         sync.Mutex
	subs       []solrpc.Subscription
	unsubs     []solrpc.Subscription
	connectErr error
	runErr     error
	out        chan solrpc.Notification
}

func newFakeStream() *fakeStream { return &fakeStream{out: make(chan solrpc.Notification, 16)} }

func (f *fakeStream) Connect(context.Context) error { return f.connectErr }

func (f *fakeStream) Run(ctx context.Context) error {
	<-ctx.Done()
	close(f.out)
	if f.runErr != nil {
		return f.runErr
	}
	return ctx.Err()
}

func (f *fakeStream) Subscribe(_ context.Context, sub solrpc.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeStream) Unsubscribe(_ context.Context, sub solrpc.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, sub)
	return nil
}

func (f *fakeStream) Notifications() <-chan solrpc.Notification { return f.out }

type memSeen struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memSeen) MarkSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestPipelineStartSubscribesBaseStreams(t *testing.T) {
	watched, program := newKey(t), newKey(t)
	s := newFakeStream()
	p := NewPipeline(s, Config{Watched: watched, LaunchProgram: program}, testLogger())

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, []solrpc.Subscription{
		{Kind: solrpc.SubTransaction, Target: watched},
		{Kind: solrpc.SubLogs, Target: program},
	}, s.subs)
}

func TestPipelineStartFailsWhenConnectFails(t *testing.T) {
	s := newFakeStream()
	s.connectErr = errors.New("dial tcp: connection refused")
	p := NewPipeline(s, Config{Watched: newKey(t)}, testLogger())
	assert.Error(t, p.Start(context.Background()))
}

func TestPipelineDropsRedeliveredTransfers(t *testing.T) {
	watched, mint := newKey(t), newKey(t)
	s := newFakeStream()
	p := NewPipeline(s, Config{Watched: watched}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	note := solrpc.Notification{
		Sub: solrpc.Subscription{Kind: solrpc.SubTransaction, Target: watched},
		Result: transactionResultJSON(t, "4tx", 77, false,
			[]balance{{mint, watched, 0}},
			[]balance{{mint, watched, 10}},
		),
	}
	s.out <- note
	s.out <- solrpc.Notification{Sub: note.Sub, Result: []byte(`{"garbage":`)}
	s.out <- note
	s.out <- solrpc.Notification{
		Sub: note.Sub,
		Result: transactionResultJSON(t, "5tx", 78, false,
			[]balance{{mint, watched, 10}},
			[]balance{{mint, watched, 0}},
		),
	}

	first := receive(t, p.Events()).(domain.WatchedTransfer)
	second := receive(t, p.Events()).(domain.WatchedTransfer)
	assert.Equal(t, "4tx", first.Signature)
	assert.Equal(t, "5tx", second.Signature, "redelivery and undecodable notifications are dropped")

	cancel()
	assert.NoError(t, <-done)
	_, open := <-p.Events()
	assert.False(t, open)
}

func TestPipelineSharedDedup(t *testing.T) {
	watched, mint := newKey(t), newKey(t)
	seen := &memSeen{keys: map[string]bool{"watched_transfer:4tx:77": true}}
	s := newFakeStream()
	p := NewPipeline(s, Config{Watched: watched}, testLogger())
	p.SetSeenSet(seen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	sub := solrpc.Subscription{Kind: solrpc.SubTransaction, Target: watched}
	s.out <- solrpc.Notification{Sub: sub, Result: transactionResultJSON(t, "4tx", 77, false,
		[]balance{{mint, watched, 0}}, []balance{{mint, watched, 10}})}
	s.out <- solrpc.Notification{Sub: sub, Result: transactionResultJSON(t, "6tx", 79, false,
		[]balance{{mint, watched, 0}}, []balance{{mint, watched, 10}})}

	ev := receive(t, p.Events()).(domain.WatchedTransfer)
	assert.Equal(t, "6tx", ev.Signature, "another process already handled 4tx")
}

func TestPipelineRunSurfacesExhaustion(t *testing.T) {
	s := newFakeStream()
	s.runErr = domain.ErrReconnectExhausted
	p := NewPipeline(s, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx), domain.ErrReconnectExhausted)
}

func TestPipelineWatchFollowsVenueAccounts(t *testing.T) {
	s := newFakeStream()
	p := NewPipeline(s, Config{}, testLogger())
	pool := domain.PoolAccounts{
		Pool:        newKey(t),
		Token0Vault: newKey(t),
		Token1Vault: newKey(t),
		SolIsToken0: false,
	}
	tok := domain.Token{Mint: newKey(t), Venue: domain.VenuePooled, Pool: pool}

	require.NoError(t, p.Watch(context.Background(), tok, 25))
	require.NoError(t, p.Unwatch(context.Background(), tok))

	want := []solrpc.Subscription{
		{Kind: solrpc.SubAccount, Target: pool.Token1Vault},
		{Kind: solrpc.SubAccount, Target: pool.Token0Vault},
	}
	assert.Equal(t, want, s.subs)
	assert.Equal(t, want, s.unsubs)
	assert.Empty(t, p.decoder.accounts)
}
