package solrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// SubKind is a PubSub subscription method family.
type SubKind string

const (
	SubLogs        SubKind = "logs"
	SubAccount     SubKind = "account"
	SubTransaction SubKind = "transaction"
)

// Subscription identifies one desired PubSub subscription. It is stable
// across reconnects; server-side subscription ids are not.
type Subscription struct {
	Kind   SubKind
	Target solana.PublicKey
}

func (s Subscription) String() string { return string(s.Kind) + ":" + s.Target.String() }

// Notification is one raw notification, tagged with the subscription that
// produced it. Result is the notification's params.result object.
type Notification struct {
	Sub    Subscription
	Result json.RawMessage
}

// WSConfig configures the PubSub client.
type WSConfig struct {
	URL        string
	Commitment string
	Backoff    Backoff
	// MaxReconnects bounds consecutive failed reconnect attempts. Zero
	// means unbounded.
	MaxReconnects int
	Buffer        int
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Result       json.RawMessage `json:"result"`
		Subscription uint64          `json:"subscription"`
	} `json:"params"`
}

// WSClient maintains a Solana PubSub connection. Subscriptions registered
// with Subscribe are restored after every reconnect.
type WSClient struct {
	cfg    WSConfig
	logger *slog.Logger
	out    chan Notification

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	desired map[Subscription]struct{}
	pending map[uint64]pendingReq
	active  map[uint64]Subscription
	ids     map[Subscription]uint64

	writeMu sync.Mutex
}

type pendingReq struct {
	sub         Subscription
	unsubscribe bool
}

// NewWSClient creates a client. Call Connect, then Run.
func NewWSClient(cfg WSConfig, logger *slog.Logger) *WSClient {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "processed"
	}
	return &WSClient{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "solana_ws")),
		out:     make(chan Notification, cfg.Buffer),
		desired: make(map[Subscription]struct{}),
		pending: make(map[uint64]pendingReq),
		active:  make(map[uint64]Subscription),
		ids:     make(map[Subscription]uint64),
	}
}

// Notifications returns the stream of raw notifications. It is never
// closed while Run is active and is closed when Run returns.
func (w *WSClient) Notifications() <-chan Notification { return w.out }

// Connect dials the endpoint and subscribes every desired subscription.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("solrpc/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.pending = make(map[uint64]pendingReq)
	w.active = make(map[uint64]Subscription)
	w.ids = make(map[Subscription]uint64)
	reqs := make([]rpcRequest, 0, len(w.desired))
	for sub := range w.desired {
		reqs = append(reqs, w.subscribeRequestLocked(sub))
	}
	w.mu.Unlock()

	for _, req := range reqs {
		if err := w.write(conn, req); err != nil {
			conn.Close()
			return fmt.Errorf("solrpc/ws: restore subscription: %w", err)
		}
	}
	w.logger.Info("connected", slog.String("url", w.cfg.URL), slog.Int("subscriptions", len(reqs)))
	return nil
}

// Subscribe adds sub to the desired set and subscribes it now when
// connected.
func (w *WSClient) Subscribe(ctx context.Context, sub Subscription) error {
	w.mu.Lock()
	if _, ok := w.desired[sub]; ok {
		w.mu.Unlock()
		return nil
	}
	w.desired[sub] = struct{}{}
	conn := w.conn
	var req rpcRequest
	if conn != nil {
		req = w.subscribeRequestLocked(sub)
	}
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := w.write(conn, req); err != nil {
		return fmt.Errorf("solrpc/ws: subscribe %s: %w", sub, err)
	}
	return nil
}

// Unsubscribe removes sub from the desired set.
func (w *WSClient) Unsubscribe(ctx context.Context, sub Subscription) error {
	w.mu.Lock()
	delete(w.desired, sub)
	serverID, ok := w.ids[sub]
	conn := w.conn
	var req rpcRequest
	if ok {
		delete(w.ids, sub)
		delete(w.active, serverID)
		w.nextID++
		req = rpcRequest{
			JSONRPC: "2.0",
			ID:      w.nextID,
			Method:  string(sub.Kind) + "Unsubscribe",
			Params:  []any{serverID},
		}
		w.pending[w.nextID] = pendingReq{sub: sub, unsubscribe: true}
	}
	w.mu.Unlock()

	if !ok || conn == nil {
		return nil
	}
	if err := w.write(conn, req); err != nil {
		return fmt.Errorf("solrpc/ws: unsubscribe %s: %w", sub, err)
	}
	return nil
}

// Run reads notifications until ctx is cancelled, reconnecting with
// backoff on disconnect. It returns domain.ErrReconnectExhausted when
// MaxReconnects consecutive attempts fail.
func (w *WSClient) Run(ctx context.Context) error {
	defer close(w.out)
	stop := context.AfterFunc(ctx, w.closeConn)
	defer stop()

	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			if err := w.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		err := w.serve(ctx, conn)
		w.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("disconnected, reconnecting", slog.String("error", err.Error()))
		if err := w.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (w *WSClient) reconnect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if w.cfg.MaxReconnects > 0 && attempt > w.cfg.MaxReconnects {
			return fmt.Errorf("solrpc/ws: %d attempts: %w", w.cfg.MaxReconnects, domain.ErrReconnectExhausted)
		}
		delay := w.cfg.Backoff.Next(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err := w.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
}

// serve runs the read loop and keep-alive pings for one connection.
func (w *WSClient) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("solrpc/ws: read: %w", err)
		}
		w.handleMessage(ctx, raw)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *WSClient) handleMessage(ctx context.Context, raw []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Debug("dropping non-json message", slog.String("error", err.Error()))
		return
	}

	if msg.ID != nil {
		w.handleResponse(*msg.ID, msg)
		return
	}
	if msg.Params == nil {
		return
	}

	w.mu.Lock()
	sub, ok := w.active[msg.Params.Subscription]
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("notification for unknown subscription",
			slog.String("method", msg.Method),
			slog.Uint64("subscription", msg.Params.Subscription),
		)
		return
	}

	select {
	case w.out <- Notification{Sub: sub, Result: msg.Params.Result}:
	case <-ctx.Done():
	}
}

func (w *WSClient) handleResponse(id uint64, msg rpcMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.pending[id]
	if !ok {
		return
	}
	delete(w.pending, id)
	if req.unsubscribe {
		return
	}
	if msg.Error != nil {
		w.logger.Error("subscribe rejected",
			slog.String("subscription", req.sub.String()),
			slog.String("error", msg.Error.Message),
		)
		return
	}
	serverID, err := strconv.ParseUint(string(msg.Result), 10, 64)
	if err != nil {
		w.logger.Error("bad subscribe response",
			slog.String("subscription", req.sub.String()),
			slog.String("result", string(msg.Result)),
		)
		return
	}
	if _, still := w.desired[req.sub]; !still {
		return
	}
	w.active[serverID] = req.sub
	w.ids[req.sub] = serverID
}

// subscribeRequestLocked builds and registers a subscribe request. Caller
// must hold w.mu.
func (w *WSClient) subscribeRequestLocked(sub Subscription) rpcRequest {
	w.nextID++
	w.pending[w.nextID] = pendingReq{sub: sub}
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      w.nextID,
		Method:  string(sub.Kind) + "Subscribe",
		Params:  sub.params(w.cfg.Commitment),
	}
}

func (s Subscription) params(commitment string) []any {
	target := s.Target.String()
	switch s.Kind {
	case SubAccount:
		return []any{target, map[string]any{"encoding": "base64", "commitment": commitment}}
	case SubTransaction:
		return []any{
			map[string]any{"mentions": []string{target}},
			map[string]any{
				"commitment":                     commitment,
				"encoding":                       "base64",
				"transactionDetails":             "full",
				"showRewards":                    false,
				"maxSupportedTransactionVersion": 0,
			},
		}
	default:
		return []any{
			map[string]any{"mentions": []string{target}},
			map[string]any{"commitment": commitment},
		}
	}
}

func (w *WSClient) write(conn *websocket.Conn, req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) closeConn() {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return
	}
	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	conn.Close()
}
