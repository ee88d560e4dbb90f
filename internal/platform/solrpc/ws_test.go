package solrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// pubsubServer is a minimal PubSub endpoint. Each connection answers
// subscribe requests, pushes one notification per subscription and, when
// dropFirst is set, closes the first connection after doing so.
type pubsubServer struct {
	t         *testing.T
	dropFirst bool

	mu      sync.Mutex
	conns   int
	methods []string
}

func (s *pubsubServer) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	connNo := s.conns
	s.mu.Unlock()

	serverID := uint64(connNo * 100)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.methods = append(s.methods, req.Method)
		s.mu.Unlock()

		if !strings.HasSuffix(req.Method, "Subscribe") {
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
			continue
		}
		serverID++
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": serverID})
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  strings.TrimSuffix(req.Method, "Subscribe") + "Notification",
			"params": map[string]any{
				"subscription": serverID,
				"result":       map[string]any{"conn": connNo},
			},
		})
		if s.dropFirst && connNo == 1 {
			return
		}
	}
}

func (s *pubsubServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func testWSLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func nextNote(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("no notification")
		return Notification{}
	}
}

func TestWSClientResubscribesAfterReconnect(t *testing.T) {
	ps := &pubsubServer{t: t, dropFirst: true}
	srv := httptest.NewServer(http.HandlerFunc(ps.handler))
	defer srv.Close()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	sub := Subscription{Kind: SubTransaction, Target: key.PublicKey()}

	c := NewWSClient(WSConfig{
		URL:     wsURL(srv),
		Backoff: Backoff{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond},
	}, testWSLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Subscribe(ctx, sub))
	require.NoError(t, c.Connect(ctx))
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	first := nextNote(t, c.Notifications())
	assert.Equal(t, sub, first.Sub)
	assert.JSONEq(t, `{"conn":1}`, string(first.Result))

	second := nextNote(t, c.Notifications())
	assert.Equal(t, sub, second.Sub)
	assert.JSONEq(t, `{"conn":2}`, string(second.Result), "subscription restored on the new connection")
	assert.Equal(t, []string{"transactionSubscribe", "transactionSubscribe"}, ps.seen())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWSClientRuntimeSubscribeAndUnsubscribe(t *testing.T) {
	ps := &pubsubServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(ps.handler))
	defer srv.Close()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	sub := Subscription{Kind: SubAccount, Target: key.PublicKey()}

	c := NewWSClient(WSConfig{URL: wsURL(srv)}, testWSLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	go c.Run(ctx)

	require.NoError(t, c.Subscribe(ctx, sub))
	n := nextNote(t, c.Notifications())
	assert.Equal(t, sub, n.Sub)

	require.NoError(t, c.Unsubscribe(ctx, sub))
	assert.Eventually(t, func() bool {
		m := ps.seen()
		return len(m) == 2 && m[1] == "accountUnsubscribe"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWSClientGivesUpAfterMaxReconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no upgrade", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWSClient(WSConfig{
		URL:           wsURL(srv),
		Backoff:       Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond},
		MaxReconnects: 3,
	}, testWSLogger())

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrReconnectExhausted)
	_, open := <-c.Notifications()
	assert.False(t, open)
}

func TestSubscriptionParams(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	target := key.PublicKey()

	raw, err := json.Marshal(Subscription{Kind: SubTransaction, Target: target}.params("processed"))
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`[
		{"mentions":[%q]},
		{"commitment":"processed","encoding":"base64","transactionDetails":"full","showRewards":false,"maxSupportedTransactionVersion":0}
	]`, target.String()), string(raw))

	raw, err = json.Marshal(Subscription{Kind: SubAccount, Target: target}.params("confirmed"))
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`[%q,{"encoding":"base64","commitment":"confirmed"}]`, target.String()), string(raw))
}
